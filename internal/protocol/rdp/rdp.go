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

// Package rdp implements only the TPKT/X.224 negotiation prefix needed
// to coax a client into echoing credential markers in cleartext or
// UTF-16LE; nothing past Server Security Data is ever emulated. A
// client that switches to TLS/CredSSP before sending anything
// interesting yields no capture, by design: terminating TLS is out of
// scope.
package rdp

import (
	"bytes"
	"context"
	"net"
	"regexp"
	"strings"
	"time"

	"github.com/sabouaram/baitline/internal/protocol"
)

const readTimeout = 5 * time.Second

var (
	connectionRequest = []byte{
		0x03, 0x00, 0x00, 0x13,
		0x0e, 0xd0, 0x00, 0x00, 0x00, 0x00, 0x00,
		0x02, 0x0f, 0x08, 0x00, 0x00, 0x00, 0x00, 0x00,
	}
	negotiationResponse = []byte{
		0x03, 0x00, 0x00, 0x13,
		0x0e, 0xd0, 0x00, 0x00, 0x00, 0x00, 0x00,
		0x02, 0x0f, 0x08, 0x00, 0x00, 0x00, 0x00, 0x00,
	}
	serverSecurityData = []byte{
		0x03, 0x00, 0x00, 0x0c,
		0x02, 0xf0, 0x80, 0x04,
		0x01, 0x00, 0x01, 0x00,
	}
	disconnectRequest = []byte{
		0x03, 0x00, 0x00, 0x09,
		0x02, 0xf0, 0x80, 0x21,
		0x80,
	}
)

var (
	markerUser   = regexp.MustCompile(`(?i)USER(?:NAME)?=`)
	markerCookie = regexp.MustCompile(`(?i)Cookie:\s*mstshash=`)
	markerPass   = regexp.MustCompile(`(?i)P(?:ASS(?:WORD)?|WD)=`)
	allHex       = regexp.MustCompile(`^[0-9a-fA-F]+$`)
)

// Handle drives one RDP connection through the negotiation prefix and
// credential-marker scan.
func Handle(ctx context.Context, conn net.Conn, clientIP string, touch protocol.TouchFunc, capture protocol.CaptureFunc) protocol.Result {
	var all bytes.Buffer

	_ = conn.SetDeadline(time.Now().Add(readTimeout))
	if _, err := conn.Write(connectionRequest); err != nil {
		return protocol.Disconnect
	}

	buf := make([]byte, 8192)
	n, err := conn.Read(buf)
	if err != nil || n == 0 {
		return protocol.Disconnect
	}
	if touch != nil {
		touch()
	}
	all.Write(buf[:n])

	_, _ = conn.Write(negotiationResponse)
	_, _ = conn.Write(serverSecurityData)

	_ = conn.SetDeadline(time.Now().Add(readTimeout))
	if n, err = conn.Read(buf); err == nil && n > 0 {
		if touch != nil {
			touch()
		}
		all.Write(buf[:n])
	}

	username, password, _ := extractCredentials(all.Bytes())

	// A password-only observation (e.g. a lone PASS= marker with no
	// USER= seen) is not a credential event: without a username there is
	// nothing to correlate the password to.
	if username != "" {
		capture(username, password)
	}

	_, _ = conn.Write(disconnectRequest)

	if username != "" {
		return protocol.Captured
	}
	return protocol.Disconnect
}

// extractCredentials scans data (treated both as ASCII and decoded
// UTF-16LE) for USER(NAME)?=, Cookie: mstshash=, PASS(WORD)?=/PWD=
// markers, terminated by NUL, CR, LF, '&', or space, and validates each
// candidate against the length/hex/prefix rules from the reference
// implementation.
func extractCredentials(data []byte) (username, password string, found bool) {
	candidates := []string{string(data), decodeUTF16LE(data)}

	for _, text := range candidates {
		if username == "" {
			if u, ok := extractAfter(text, markerUser); ok && validUser(u) {
				username = u
			} else if u, ok = extractAfter(text, markerCookie); ok && validUser(u) {
				username = u
			}
		}
		if password == "" {
			if p, ok := extractAfter(text, markerPass); ok && validPass(p) {
				password = p
			}
		}
	}

	found = username != "" || password != ""
	return username, password, found
}

func extractAfter(text string, marker *regexp.Regexp) (string, bool) {
	loc := marker.FindStringIndex(text)
	if loc == nil {
		return "", false
	}

	rest := text[loc[1]:]
	end := len(rest)
	for _, term := range []string{"\x00", "\r", "\n", "&", " "} {
		if idx := strings.Index(rest, term); idx >= 0 && idx < end {
			end = idx
		}
	}
	return rest[:end], true
}

func validUser(s string) bool {
	return s != "" && len(s) < 50 && !isHexOrPrefixed(s)
}

func validPass(s string) bool {
	return s != "" && len(s) < 100 && !isHexOrPrefixed(s)
}

func isHexOrPrefixed(s string) bool {
	if strings.HasPrefix(s, "0x") || strings.HasPrefix(s, "\\x") {
		return true
	}
	return allHex.MatchString(s)
}

// decodeUTF16LE best-effort decodes data as UTF-16LE, dropping any
// NUL/surrogate noise rather than failing: scanner payloads frequently
// interleave ASCII and UTF-16LE substrings inside the same blob.
func decodeUTF16LE(data []byte) string {
	var sb strings.Builder
	for i := 0; i+1 < len(data); i += 2 {
		lo, hi := data[i], data[i+1]
		if hi == 0 && lo >= 0x20 && lo < 0x7f {
			sb.WriteByte(lo)
		} else if hi == 0 && lo == 0 {
			sb.WriteByte(0)
		}
	}
	return sb.String()
}
