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

// Package telnet implements a login/password prompt over the telnet
// option-negotiation protocol, stripping IAC sequences inertly: no
// option offered by a scanning client is ever actually honored.
package telnet

import (
	"bufio"
	"context"
	"net"
	"time"

	"github.com/sabouaram/baitline/internal/protocol"
)

const (
	iac  = 255
	will = 251
	wont = 252
	do   = 253
	dont = 254
	sb   = 250
	se   = 240

	optEcho = 1

	negotiationTimeout = 5 * time.Second
	interactiveTimeout = 15 * time.Second
)

// Handle drives one telnet connection through login/password capture.
func Handle(ctx context.Context, conn net.Conn, clientIP string, touch protocol.TouchFunc, capture protocol.CaptureFunc) protocol.Result {
	negotiate(conn)

	r := bufio.NewReaderSize(conn, protocol.MaxLineLength)

	if err := protocol.WithDeadline(conn, negotiationTimeout, func() error {
		_, err := conn.Write([]byte("login: "))
		return err
	}); err != nil {
		return protocol.Disconnect
	}

	username, ok := readTelnetLine(conn, r, touch, interactiveTimeout)
	if !ok {
		return protocol.Disconnect
	}

	if err := protocol.WithDeadline(conn, negotiationTimeout, func() error {
		_, err := conn.Write([]byte("Password: "))
		return err
	}); err != nil {
		return protocol.Disconnect
	}

	password, ok := readTelnetLine(conn, r, touch, interactiveTimeout)
	if !ok {
		return protocol.Disconnect
	}

	capture(username, password)
	_, _ = conn.Write([]byte("Login incorrect\r\n"))
	return protocol.Captured
}

// negotiate sends the initial option offer. The client's replies are
// never inspected for intent to comply: every subsequent IAC sequence
// is simply stripped from the input stream and answered with a blanket
// refusal, per the option-inertness property.
func negotiate(conn net.Conn) {
	_, _ = conn.Write([]byte{iac, will, optEcho})
	_, _ = conn.Write([]byte{iac, will, 3}) // SUPPRESS_GO_AHEAD
	_, _ = conn.Write([]byte{iac, wont, 34}) // LINEMODE
}

// readTelnetLine reads bytes until CR or LF, stripping IAC option
// negotiation and subnegotiation blocks inline and answering them with
// a uniform refusal, until a full non-empty line of user input remains.
func readTelnetLine(conn net.Conn, r *bufio.Reader, touch protocol.TouchFunc, timeout time.Duration) (string, bool) {
	var line []byte

	for {
		var b byte
		var err error

		if dlErr := protocol.WithDeadline(conn, timeout, func() error {
			b, err = r.ReadByte()
			return err
		}); dlErr != nil {
			return "", false
		}
		if err != nil {
			return "", false
		}

		if touch != nil {
			touch()
		}

		switch b {
		case iac:
			if !handleIAC(conn, r) {
				return "", false
			}
			continue
		case '\r':
			continue
		case '\n':
			return string(line), true
		default:
			line = append(line, b)
			if len(line) > protocol.MaxLineLength {
				return "", false
			}
		}
	}
}

// handleIAC consumes and answers one IAC-introduced sequence, or skips
// an entire SB...IAC SE subnegotiation block.
func handleIAC(conn net.Conn, r *bufio.Reader) bool {
	cmd, err := r.ReadByte()
	if err != nil {
		return false
	}

	switch cmd {
	case do, dont:
		opt, err := r.ReadByte()
		if err != nil {
			return false
		}
		_, _ = conn.Write([]byte{iac, wont, opt})
		return true

	case will, wont:
		opt, err := r.ReadByte()
		if err != nil {
			return false
		}
		_, _ = conn.Write([]byte{iac, dont, opt})
		return true

	case sb:
		for {
			b, err := r.ReadByte()
			if err != nil {
				return false
			}
			if b != iac {
				continue
			}
			next, err := r.ReadByte()
			if err != nil {
				return false
			}
			if next == se {
				return true
			}
		}

	default:
		return true
	}
}
