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

// Package ftp implements just enough of the FTP control channel to
// solicit a USER/PASS pair.
package ftp

import (
	"context"
	"fmt"
	"io"
	"net"
	"strings"
	"time"

	"github.com/sabouaram/baitline/internal/protocol"
)

const (
	negotiationTimeout = 5 * time.Second
	interactiveTimeout = 15 * time.Second
)

// Handle drives one FTP control connection to capture.
func Handle(ctx context.Context, conn net.Conn, clientIP string, touch protocol.TouchFunc, capture protocol.CaptureFunc) protocol.Result {
	if err := writeLine(conn, "220 Welcome to FTP server\r\n"); err != nil {
		return protocol.Disconnect
	}

	lr := protocol.NewLineReader(conn, touch)
	var username string

	for {
		var line string
		var err error

		timeout := interactiveTimeout
		if username == "" {
			timeout = negotiationTimeout
		}

		if err = protocol.WithDeadline(conn, timeout, func() error {
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
		case "USER":
			username = arg
			_ = writeLine(conn, "331 Please specify the password.\r\n")

		case "PASS":
			// A PASS with no preceding USER has no username to correlate
			// the password to, so it is not a credential event.
			if username == "" {
				_ = writeLine(conn, "530 Login incorrect.\r\n")
				return protocol.Disconnect
			}
			capture(username, arg)
			_ = writeLine(conn, "530 Login incorrect.\r\n")
			return protocol.Captured

		case "QUIT":
			_ = writeLine(conn, "221 Goodbye.\r\n")
			return protocol.Disconnect

		case "SYST":
			_ = writeLine(conn, "215 UNIX Type: L8\r\n")
		case "FEAT":
			_ = writeLine(conn, "211-Features:\r\n211 End\r\n")
		case "PWD":
			_ = writeLine(conn, "257 \"/\" is the current directory\r\n")
		case "TYPE":
			_ = writeLine(conn, "200 Type set to "+arg+".\r\n")
		case "PASV":
			_ = writeLine(conn, "227 Entering Passive Mode (127,0,0,1,200,200)\r\n")
		case "PORT":
			_ = writeLine(conn, "200 PORT command successful.\r\n")

		default:
			_ = writeLine(conn, "500 Unknown command.\r\n")
		}
	}
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

func writeLine(w io.Writer, s string) error {
	_, err := fmt.Fprint(w, s)
	return err
}
