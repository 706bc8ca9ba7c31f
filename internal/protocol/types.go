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

// Package protocol holds the shared capability every per-protocol state
// machine is built on: a typed outcome instead of exception-driven
// control flow, and a handful of small stream utilities (line reader,
// timeout wrapper) in place of a common base-server superclass.
package protocol

import (
	"bufio"
	"context"
	"errors"
	"io"
	"net"
	"time"
)

// Result classifies how a handler run ended.
type Result int

const (
	// Disconnect means the peer closed, or the handler gave up without a
	// capture (e.g. unrecognized exchange, transport error mid-read).
	Disconnect Result = iota
	// Captured means a (username, password) pair was produced and handed
	// to the capture pipeline.
	Captured
	// ProtocolError means the input was malformed beyond what the state
	// machine tolerates (oversize line, garbage framing).
	ProtocolError
)

// MaxLineLength bounds any single line read by a handler; an overlong
// line makes ReadLine fail with ErrLineTooLong rather than being
// buffered without limit.
const MaxLineLength = 4096

// ErrLineTooLong is returned by ReadLine when a peer sends a line
// exceeding MaxLineLength before a terminator.
var ErrLineTooLong = errors.New("protocol: line exceeds maximum length")

// TouchFunc reports a byte of observed activity to the scheduler.
type TouchFunc func()

// CaptureFunc hands a credential pair to the capture pipeline.
type CaptureFunc func(username, password string)

// Handler is the capability every protocol state machine implements: a
// function over a connected duplex stream, the peer's address, a touch
// callback, and a capture callback. There is no shared base type to
// subclass; common behavior lives in the helper functions below.
type Handler func(ctx context.Context, conn net.Conn, clientIP string, touch TouchFunc, capture CaptureFunc) Result

// LineReader wraps a bufio.Reader with a bounded ReadLine that also
// invokes touch on every successful read, so handlers never have to
// remember to call it themselves.
type LineReader struct {
	r     *bufio.Reader
	touch TouchFunc
}

// NewLineReader builds a LineReader over r, reporting activity via touch.
func NewLineReader(r io.Reader, touch TouchFunc) *LineReader {
	return &LineReader{r: bufio.NewReaderSize(r, MaxLineLength), touch: touch}
}

// ReadLine reads up to and including the next '\n', stripping a
// trailing "\r\n" or "\n". Returns ErrLineTooLong if MaxLineLength is
// exceeded before a terminator, and io.EOF / the underlying error
// otherwise unchanged.
func (lr *LineReader) ReadLine() (string, error) {
	raw, err := lr.r.ReadSlice('\n')
	if err == bufio.ErrBufferFull {
		return "", ErrLineTooLong
	}
	if err != nil && len(raw) == 0 {
		return "", err
	}

	if lr.touch != nil {
		lr.touch()
	}

	line := trimCRLF(string(raw))
	return line, err
}

// ReadExact reads exactly n bytes, reporting touch on success.
func (lr *LineReader) ReadExact(n int) ([]byte, error) {
	buf := make([]byte, n)
	if _, err := io.ReadFull(lr.r, buf); err != nil {
		return nil, err
	}
	if lr.touch != nil {
		lr.touch()
	}
	return buf, nil
}

func trimCRLF(s string) string {
	for len(s) > 0 && (s[len(s)-1] == '\n' || s[len(s)-1] == '\r') {
		s = s[:len(s)-1]
	}
	return s
}

// WithDeadline runs fn with conn's read/write deadline set to d from
// now, clearing the deadline again afterward. Handlers use this around
// each blocking read so a silent peer cannot pin a worker slot forever.
func WithDeadline(conn net.Conn, d time.Duration, fn func() error) error {
	if d > 0 {
		_ = conn.SetDeadline(time.Now().Add(d))
		defer conn.SetDeadline(time.Time{})
	}
	return fn()
}
