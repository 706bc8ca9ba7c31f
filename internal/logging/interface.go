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

// Package logging provides structured, level-filtered logging with
// pluggable destinations (stdout, rotating file, syslog), built on top of
// logrus. It is deliberately small compared to a general-purpose logging
// library: one global field set, one level gate, and a handful of hooks.
package logging

// Fields carries structured key-value context attached to a log entry.
type Fields map[string]interface{}

// Logger is the logging façade used throughout the module. Protocol
// handlers and core components log through this interface rather than
// importing logrus directly, so the destination set (file/stdout/syslog)
// stays a concern of the logging package alone.
type Logger interface {
	SetLevel(lvl Level)
	GetLevel() Level

	// With returns a derived Logger that always attaches the given fields,
	// without mutating the receiver.
	With(fields Fields) Logger

	Debug(message string, fields Fields)
	Info(message string, fields Fields)
	Warning(message string, fields Fields)
	Error(message string, err error, fields Fields)
	Fatal(message string, err error, fields Fields)

	// Close flushes and closes any file-backed destinations.
	Close() error
}
