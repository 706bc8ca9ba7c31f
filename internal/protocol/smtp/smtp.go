/*
 * MIT License
 *
 * Copyright (c) 2025 Nicolas JUHEL
 *
 * Permission is hereby granted, free of charge, to any person obtaining a copy
 * of this software and associated documentation files (the "Software"), to deal
 * in the Software without restriction, including without limitation the rights
 * to use, copy, modify, merge, publish, distribute, sublicense, and/or sell
 * copies of the Software, and to permit persons to whom the Software is
 * furnished to do so, subject to the following conditions:
 *
 * The above copyright notice and this permission notice shall be included in all
 * copies or substantial portions of the Software.
 *
 * THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
 * IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
 * FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE
 * AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER
 * LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM,
 * OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN THE
 * SOFTWARE.
 */

// Package smtp implements enough of ESMTP to solicit credentials via
// AUTH PLAIN or AUTH LOGIN.
package smtp

import (
	"context"
	"encoding/base64"
	"net"
	"strings"
	"time"

	"github.com/sabouaram/baitline/internal/protocol"
)

const (
	negotiationTimeout = 5 * time.Second
	interactiveTimeout = 15 * time.Second
)

// Handle drives one SMTP connection through AUTH capture.
func Handle(ctx context.Context, conn net.Conn, clientIP string, touch protocol.TouchFunc, capture protocol.CaptureFunc) protocol.Result {
	if _, err := conn.Write([]byte("220 smtp.example ESMTP ready\r\n")); err != nil {
		return protocol.Disconnect
	}

	lr := protocol.NewLineReader(conn, touch)

	for {
		var line string
		var err error

		if err = protocol.WithDeadline(conn, negotiationTimeout, func() error {
			line, err = lr.ReadLine()
			return err
		}); err != nil {
			if err == protocol.ErrLineTooLong {
				return protocol.ProtocolError
			}
			return protocol.Disconnect
		}

		verb, arg := splitCommand(line)

		switch strings.ToUpper(verb) {
		case "EHLO", "HELO":
			_, _ = conn.Write([]byte("250-smtp.example greets you\r\n" +
				"250-PIPELINING\r\n" +
				"250-SIZE 35882577\r\n" +
				"250-AUTH LOGIN PLAIN\r\n" +
				"250 8BITMIME\r\n"))

		case "AUTH":
			result, ok := handleAuth(conn, lr, arg, capture)
			if !ok {
				return protocol.Disconnect
			}
			return result

		case "QUIT":
			_, _ = conn.Write([]byte("221 Goodbye\r\n"))
			return protocol.Disconnect

		default:
			_, _ = conn.Write([]byte("500 Unrecognized command\r\n"))
		}
	}
}

func handleAuth(conn net.Conn, lr *protocol.LineReader, arg string, capture protocol.CaptureFunc) (protocol.Result, bool) {
	mech, rest, _ := strings.Cut(strings.TrimSpace(arg), " ")
	mech = strings.ToUpper(mech)

	switch mech {
	case "PLAIN":
		payload := rest
		if payload == "" {
			if _, err := conn.Write([]byte("334 \r\n")); err != nil {
				return protocol.Disconnect, false
			}
			var err error
			if err = protocol.WithDeadline(conn, interactiveTimeout, func() error {
				payload, err = lr.ReadLine()
				return err
			}); err != nil {
				return protocol.Disconnect, false
			}
		}

		username, password, ok := decodePlain(payload)
		if !ok {
			_, _ = conn.Write([]byte("535 Authentication failed\r\n"))
			return protocol.Disconnect, true
		}

		capture(username, password)
		_, _ = conn.Write([]byte("535 Authentication failed\r\n"))
		return protocol.Captured, true

	case "LOGIN":
		if _, err := conn.Write([]byte("334 VXNlcm5hbWU6\r\n")); err != nil {
			return protocol.Disconnect, false
		}

		var userB64, passB64 string
		var err error

		if err = protocol.WithDeadline(conn, interactiveTimeout, func() error {
			userB64, err = lr.ReadLine()
			return err
		}); err != nil {
			return protocol.Disconnect, false
		}

		if _, err = conn.Write([]byte("334 UGFzc3dvcmQ6\r\n")); err != nil {
			return protocol.Disconnect, false
		}

		if err = protocol.WithDeadline(conn, interactiveTimeout, func() error {
			passB64, err = lr.ReadLine()
			return err
		}); err != nil {
			return protocol.Disconnect, false
		}

		username, uOK := decodeB64(userB64)
		password, pOK := decodeB64(passB64)
		if !uOK || !pOK {
			_, _ = conn.Write([]byte("535 Authentication failed\r\n"))
			return protocol.Disconnect, true
		}

		capture(username, password)
		_, _ = conn.Write([]byte("535 Authentication failed\r\n"))
		return protocol.Captured, true

	default:
		_, _ = conn.Write([]byte("504 Unrecognized authentication type\r\n"))
		return protocol.Disconnect, true
	}
}

// decodePlain decodes an AUTH PLAIN payload shaped "\0username\0password".
func decodePlain(b64 string) (username, password string, ok bool) {
	raw, err := base64.StdEncoding.DecodeString(b64)
	if err != nil {
		return "", "", false
	}

	parts := strings.SplitN(string(raw), "\x00", 3)
	if len(parts) != 3 {
		return "", "", false
	}
	return parts[1], parts[2], true
}

func decodeB64(s string) (string, bool) {
	raw, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return "", false
	}
	return string(raw), true
}

func splitCommand(line string) (verb, arg string) {
	line = strings.TrimSpace(line)
	parts := strings.SplitN(line, " ", 2)
	verb = parts[0]
	if len(parts) > 1 {
		arg = parts[1]
	}
	return verb, arg
}
