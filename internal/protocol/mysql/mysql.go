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

// Package mysql speaks just the handshake and initial auth-packet
// exchange of the MySQL client/server protocol, enough to capture a
// username/credential-blob pair and reject it with error 1045.
package mysql

import (
	"bytes"
	"context"
	"encoding/binary"
	"io"
	"net"
	"time"

	"github.com/sabouaram/baitline/internal/protocol"
)

const (
	protocolVersion = 10
	serverVersion   = "8.0.32"
	authPluginName  = "caching_sha2_password"

	readTimeout = 10 * time.Second
)

// Handle drives one MySQL connection through handshake and capture.
func Handle(ctx context.Context, conn net.Conn, clientIP string, touch protocol.TouchFunc, capture protocol.CaptureFunc) protocol.Result {
	_ = conn.SetDeadline(time.Now().Add(readTimeout))

	if err := writePacket(conn, 0, handshakePayload()); err != nil {
		return protocol.Disconnect
	}

	authPacket, err := readPacket(conn)
	if err != nil || authPacket == nil {
		return protocol.Disconnect
	}
	if touch != nil {
		touch()
	}

	username, password := parseInitialAuthPacket(authPacket)
	if username == "" && password == "" {
		return protocol.Disconnect
	}

	capture(username, password)

	_ = writePacket(conn, 1, errorPayload("Access denied for user"))
	return protocol.Captured
}

// handshakePayload builds the protocol-v10 server greeting: version
// byte, NUL-terminated server version, 4-byte connection id, 8-byte
// salt prefix, filler, 12-byte salt suffix, NUL-terminated auth plugin.
func handshakePayload() []byte {
	salt := bytes.Repeat([]byte{0x0a}, 20)

	var buf bytes.Buffer
	buf.WriteByte(protocolVersion)
	buf.WriteString(serverVersion)
	buf.WriteByte(0)
	_ = binary.Write(&buf, binary.LittleEndian, uint32(0)) // connection id
	buf.Write(salt[:8])
	buf.WriteByte(0x00) // filler
	buf.Write(salt[8:])
	buf.WriteString(authPluginName)
	buf.WriteByte(0)

	return buf.Bytes()
}

// parseInitialAuthPacket mirrors the reference parser: skip 4-byte
// capabilities, 5 bytes (4-byte max packet size + 1-byte charset), 23
// reserved bytes, then NUL-terminated username, NUL-terminated auth
// method, and the remaining bytes as the credential blob. A blob equal
// to the server's auth plugin name or to the client's own auth method
// string is normalized to "[Password Null]" since that is what an
// empty-password client sends.
func parseInitialAuthPacket(packet []byte) (username, password string) {
	pos := 0
	if len(packet) < 4+5+23 {
		return "", ""
	}
	pos += 4 // client capabilities
	pos += 5 // max packet size + charset
	pos += 23 // reserved

	var err error
	username, pos, err = readCString(packet, pos)
	if err != nil {
		return "", ""
	}

	authMethod, newPos, err := readCString(packet, pos)
	if err != nil {
		return username, ""
	}
	pos = newPos

	if pos < len(packet) {
		password = string(packet[pos:])
	}

	if password == authPluginName || password == authMethod {
		password = "[Password Null]"
	}

	return username, password
}

func readCString(b []byte, pos int) (string, int, error) {
	start := pos
	for pos < len(b) && b[pos] != 0 {
		pos++
	}
	if pos >= len(b) {
		return string(b[start:pos]), pos, io.ErrUnexpectedEOF
	}
	return string(b[start:pos]), pos + 1, nil
}

// errorPayload builds an ERR packet: 0xFF marker, error code 1045
// little-endian, '#' SQL-state marker, "28000" SQL state, message.
func errorPayload(message string) []byte {
	var buf bytes.Buffer
	buf.WriteByte(0xFF)
	_ = binary.Write(&buf, binary.LittleEndian, uint16(1045))
	buf.WriteByte('#')
	buf.WriteString("28000")
	buf.WriteString(message)
	return buf.Bytes()
}

// writePacket frames payload with a 3-byte little-endian length and a
// 1-byte sequence id.
func writePacket(w io.Writer, seq byte, payload []byte) error {
	length := len(payload)
	header := []byte{byte(length), byte(length >> 8), byte(length >> 16), seq}
	if _, err := w.Write(header); err != nil {
		return err
	}
	_, err := w.Write(payload)
	return err
}

// readPacket reads one framed MySQL packet (header + body).
func readPacket(r io.Reader) ([]byte, error) {
	header := make([]byte, 4)
	if _, err := io.ReadFull(r, header); err != nil {
		return nil, err
	}

	length := int(header[0]) | int(header[1])<<8 | int(header[2])<<16
	if length == 0 {
		return []byte{}, nil
	}
	if length > protocol.MaxLineLength*4 {
		return nil, io.ErrShortBuffer
	}

	body := make([]byte, length)
	if _, err := io.ReadFull(r, body); err != nil {
		return nil, err
	}
	return body, nil
}
