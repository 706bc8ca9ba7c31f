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

package ftp_test

import (
	"bufio"
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sabouaram/baitline/internal/protocol"
	"github.com/sabouaram/baitline/internal/protocol/ftp"
)

func TestHandleCapturesUserPass(t *testing.T) {
	server, client := net.Pipe()
	defer client.Close()

	type capture struct{ user, pass string }
	captured := make(chan capture, 1)
	resultCh := make(chan protocol.Result, 1)

	go func() {
		res := ftp.Handle(context.Background(), server, "203.0.113.10", nil, func(u, p string) {
			captured <- capture{u, p}
		})
		resultCh <- res
	}()

	br := bufio.NewReader(client)

	line, err := br.ReadString('\n')
	require.NoError(t, err)
	assert.Equal(t, "220 Welcome to FTP server\r\n", line)

	_, err = client.Write([]byte("USER bob\r\n"))
	require.NoError(t, err)
	line, err = br.ReadString('\n')
	require.NoError(t, err)
	assert.Equal(t, "331 Please specify the password.\r\n", line)

	_, err = client.Write([]byte("PASS secret\r\n"))
	require.NoError(t, err)
	line, err = br.ReadString('\n')
	require.NoError(t, err)
	assert.Equal(t, "530 Login incorrect.\r\n", line)

	select {
	case c := <-captured:
		assert.Equal(t, "bob", c.user)
		assert.Equal(t, "secret", c.pass)
	case <-time.After(2 * time.Second):
		t.Fatal("capture never invoked")
	}
	assert.Equal(t, protocol.Captured, <-resultCh)
}

func TestHandleQuitDisconnects(t *testing.T) {
	server, client := net.Pipe()
	defer client.Close()

	resultCh := make(chan protocol.Result, 1)
	go func() {
		res := ftp.Handle(context.Background(), server, "203.0.113.11", nil, func(u, p string) {})
		resultCh <- res
	}()

	br := bufio.NewReader(client)
	_, err := br.ReadString('\n') // 220 banner
	require.NoError(t, err)

	_, err = client.Write([]byte("QUIT\r\n"))
	require.NoError(t, err)

	line, err := br.ReadString('\n')
	require.NoError(t, err)
	assert.Equal(t, "221 Goodbye.\r\n", line)
	assert.Equal(t, protocol.Disconnect, <-resultCh)
}

func TestHandleUnknownCommand(t *testing.T) {
	server, client := net.Pipe()
	defer client.Close()

	go func() {
		_ = ftp.Handle(context.Background(), server, "203.0.113.12", nil, func(u, p string) {})
	}()

	br := bufio.NewReader(client)
	_, err := br.ReadString('\n') // 220 banner
	require.NoError(t, err)

	_, err = client.Write([]byte("FROB\r\n"))
	require.NoError(t, err)

	line, err := br.ReadString('\n')
	require.NoError(t, err)
	assert.Equal(t, "500 Unknown command.\r\n", line)

	_, err = client.Write([]byte("QUIT\r\n"))
	require.NoError(t, err)
	_, _ = br.ReadString('\n')
}
