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

// Package errs provides a minimal error-code-carrying error type, the
// subset of the ecosystem's "errors with a code and a parent" idiom that
// this module needs: a numeric code for coarse classification, an optional
// parent error, and compatibility with errors.Is/errors.As via Unwrap.
package errs

import "fmt"

// Code is a coarse classification for an Error, similar in spirit to an
// HTTP status code: it groups errors by disposition rather than by exact
// cause.
type Code uint16

const (
	CodeNone Code = iota
	CodeConfig
	CodeListener
	CodeScheduler
	CodeProtocol
	CodeGeolocation
	CodeStore
	CodeHub
)

func (c Code) String() string {
	switch c {
	case CodeConfig:
		return "config"
	case CodeListener:
		return "listener"
	case CodeScheduler:
		return "scheduler"
	case CodeProtocol:
		return "protocol"
	case CodeGeolocation:
		return "geolocation"
	case CodeStore:
		return "store"
	case CodeHub:
		return "hub"
	default:
		return "none"
	}
}

// Error is a small wrapper pairing a Code with a message and an optional
// parent error. It is not meant to replace the standard error type for
// general use, only to let callers branch on a coarse Code without string
// matching.
type Error interface {
	error
	Code() Code
	Unwrap() error
}

type wrapped struct {
	code Code
	msg  string
	next error
}

func (e *wrapped) Error() string {
	if e.next == nil {
		return e.msg
	}
	return fmt.Sprintf("%s: %s", e.msg, e.next.Error())
}

func (e *wrapped) Code() Code {
	return e.code
}

func (e *wrapped) Unwrap() error {
	return e.next
}

// New creates an Error with the given code and message and no parent.
func New(code Code, message string) Error {
	return &wrapped{code: code, msg: message}
}

// Newf creates an Error with the given code and a printf-formatted message.
func Newf(code Code, pattern string, args ...any) Error {
	return &wrapped{code: code, msg: fmt.Sprintf(pattern, args...)}
}

// Wrap creates an Error with the given code, message and parent error. If
// err is nil, Wrap returns nil.
func Wrap(code Code, message string, err error) Error {
	if err == nil {
		return nil
	}
	return &wrapped{code: code, msg: message, next: err}
}
