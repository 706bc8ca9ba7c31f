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

// Package sip answers just enough of SIP to solicit and capture
// credentials over both TCP and UDP, sharing one message processor
// between the two transports.
package sip

import (
	"bufio"
	"context"
	"crypto/md5"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"net"
	"regexp"
	"strings"
	"time"

	"github.com/sabouaram/baitline/internal/protocol"
)

const readTimeout = 10 * time.Second

var (
	reAuthDigest = regexp.MustCompile(`(?is)Authorization:\s*Digest\s+username\s*=\s*"([^"]+)".*?response\s*=\s*"([^"]+)"`)
	reFrom       = regexp.MustCompile(`(?i)From:\s*<?sip:([^@>]+)@`)
	reVia        = regexp.MustCompile(`(?i)Via:\s*(.*?)(?:\r?\n|$)`)
	reTo         = regexp.MustCompile(`(?i)To:\s*(.*?)(?:\r?\n|$)`)
	reCallID     = regexp.MustCompile(`(?i)Call-ID:\s*(.*?)(?:\r?\n|$)`)
	reCSeq       = regexp.MustCompile(`(?i)CSeq:\s*(.*?)(?:\r?\n|$)`)
)

// Handle drives one TCP SIP connection: read a full message up to the
// blank-line terminator, process it, write the response, close.
func Handle(ctx context.Context, conn net.Conn, clientIP string, touch protocol.TouchFunc, capture protocol.CaptureFunc) protocol.Result {
	var message string
	if err := protocol.WithDeadline(conn, readTimeout, func() error {
		var err error
		message, err = readSIPMessage(conn)
		return err
	}); err != nil || message == "" {
		return protocol.Disconnect
	}
	if touch != nil {
		touch()
	}

	response, captured := process(message, capture)
	if response != "" {
		_, _ = conn.Write([]byte(response))
	}
	if captured {
		return protocol.Captured
	}
	return protocol.Disconnect
}

// readSIPMessage reads byte-by-byte until two consecutive line
// terminators are seen, mirroring the reference server's double-newline
// end-of-message detection rather than trusting Content-Length.
func readSIPMessage(conn net.Conn) (string, error) {
	r := bufio.NewReader(conn)
	var buf []byte
	newlineRun := 0

	for {
		b, err := r.ReadByte()
		if err != nil {
			if len(buf) > 0 {
				return string(buf), nil
			}
			return "", err
		}
		buf = append(buf, b)

		switch b {
		case '\n':
			newlineRun++
			if newlineRun == 2 {
				return string(buf), nil
			}
		case '\r':
			// doesn't reset the run; \r\n\r\n counts as two newlines
		default:
			newlineRun = 0
		}

		if len(buf) > protocol.MaxLineLength*4 {
			return string(buf), nil
		}
	}
}

func process(message string, capture protocol.CaptureFunc) (response string, captured bool) {
	firstLine := strings.SplitN(message, "\n", 2)[0]
	firstLine = strings.TrimSpace(firstLine)
	fields := strings.Fields(firstLine)
	if len(fields) == 0 {
		return "", false
	}
	method := strings.ToUpper(fields[0])

	username, password := extractCredentials(message, method)
	if username != "" {
		capture(username, password)
		captured = true
	}

	switch method {
	case "REGISTER", "INVITE":
		response = unauthorized(message)
	case "BYE", "CANCEL":
		response = okResponse(message)
	case "OPTIONS":
		response = optionsResponse(message)
	case "ACK":
		response = ""
	default:
		response = ""
	}

	return response, captured
}

func extractCredentials(message, method string) (username, password string) {
	if m := reAuthDigest.FindStringSubmatch(message); m != nil {
		return m[1], m[2]
	}
	if m := reFrom.FindStringSubmatch(message); m != nil {
		return m[1], "[FROM_HEADER]"
	}
	if method == "REGISTER" || method == "INVITE" {
		uriPattern := regexp.MustCompile(`(?i)` + method + `\s+sip:([^@\s]+)@`)
		if m := uriPattern.FindStringSubmatch(message); m != nil {
			return m[1], "[URI]"
		}
	}
	return "", ""
}

func unauthorized(message string) string {
	return "SIP/2.0 401 Unauthorized\r\n" +
		"Via: " + extractHeader(reVia, message) + "\r\n" +
		"From: " + extractHeader(reFrom2, message) + "\r\n" +
		"To: " + extractHeader(reTo, message) + "\r\n" +
		"Call-ID: " + extractHeader(reCallID, message) + "\r\n" +
		"CSeq: " + extractHeader(reCSeq, message) + "\r\n" +
		"WWW-Authenticate: Digest realm=\"sip.honeypot.com\", nonce=\"" + nonce() + "\", algorithm=MD5\r\n" +
		"Content-Length: 0\r\n\r\n"
}

func okResponse(message string) string {
	return "SIP/2.0 200 OK\r\n" +
		"Via: " + extractHeader(reVia, message) + "\r\n" +
		"From: " + extractHeader(reFrom2, message) + "\r\n" +
		"To: " + extractHeader(reTo, message) + "\r\n" +
		"Call-ID: " + extractHeader(reCallID, message) + "\r\n" +
		"CSeq: " + extractHeader(reCSeq, message) + "\r\n" +
		"Content-Length: 0\r\n\r\n"
}

func optionsResponse(message string) string {
	return "SIP/2.0 200 OK\r\n" +
		"Via: " + extractHeader(reVia, message) + "\r\n" +
		"From: " + extractHeader(reFrom2, message) + "\r\n" +
		"To: " + extractHeader(reTo, message) + "\r\n" +
		"Call-ID: " + extractHeader(reCallID, message) + "\r\n" +
		"CSeq: " + extractHeader(reCSeq, message) + "\r\n" +
		"Allow: INVITE, ACK, CANCEL, BYE, NOTIFY, REFER, MESSAGE, OPTIONS, INFO, SUBSCRIBE, UPDATE\r\n" +
		"Content-Length: 0\r\n\r\n"
}

// reFrom2 captures the whole From header line verbatim for echoing back
// in responses, distinct from reFrom which pulls just the username.
var reFrom2 = regexp.MustCompile(`(?i)From:\s*(.*?)(?:\r?\n|$)`)

func extractHeader(re *regexp.Regexp, message string) string {
	if m := re.FindStringSubmatch(message); m != nil {
		return m[1]
	}
	return ""
}

func nonce() string {
	var b [16]byte
	_, _ = rand.Read(b[:])
	sum := md5.Sum([]byte(fmt.Sprintf("%x%d", b, len(b))))
	return hex.EncodeToString(sum[:])
}
