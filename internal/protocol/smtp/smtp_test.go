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

package smtp_test

import (
	"bufio"
	"context"
	"encoding/base64"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sabouaram/baitline/internal/protocol"
	"github.com/sabouaram/baitline/internal/protocol/smtp"
)

func TestHandleAuthPlainInline(t *testing.T) {
	server, client := net.Pipe()
	defer client.Close()

	type capture struct{ user, pass string }
	captured := make(chan capture, 1)
	resultCh := make(chan protocol.Result, 1)

	go func() {
		res := smtp.Handle(context.Background(), server, "203.0.113.20", nil, func(u, p string) {
			captured <- capture{u, p}
		})
		resultCh <- res
	}()

	br := bufio.NewReader(client)
	_, err := br.ReadString('\n') // 220 banner
	require.NoError(t, err)

	_, err = client.Write([]byte("EHLO scanner\r\n"))
	require.NoError(t, err)
	for i := 0; i < 5; i++ {
		_, err = br.ReadString('\n')
		require.NoError(t, err)
	}

	payload := base64.StdEncoding.EncodeToString([]byte("\x00bob\x00hunter2"))
	_, err = client.Write([]byte("AUTH PLAIN " + payload + "\r\n"))
	require.NoError(t, err)

	line, err := br.ReadString('\n')
	require.NoError(t, err)
	assert.Equal(t, "535 Authentication failed\r\n", line)

	select {
	case c := <-captured:
		assert.Equal(t, "bob", c.user)
		assert.Equal(t, "hunter2", c.pass)
	case <-time.After(2 * time.Second):
		t.Fatal("capture never invoked")
	}
	assert.Equal(t, protocol.Captured, <-resultCh)
}

func TestHandleAuthLoginSolicited(t *testing.T) {
	server, client := net.Pipe()
	defer client.Close()

	type capture struct{ user, pass string }
	captured := make(chan capture, 1)
	resultCh := make(chan protocol.Result, 1)

	go func() {
		res := smtp.Handle(context.Background(), server, "203.0.113.21", nil, func(u, p string) {
			captured <- capture{u, p}
		})
		resultCh <- res
	}()

	br := bufio.NewReader(client)
	_, err := br.ReadString('\n')
	require.NoError(t, err)

	_, err = client.Write([]byte("HELO scanner\r\n"))
	require.NoError(t, err)
	for i := 0; i < 5; i++ {
		_, err = br.ReadString('\n')
		require.NoError(t, err)
	}

	_, err = client.Write([]byte("AUTH LOGIN\r\n"))
	require.NoError(t, err)

	line, err := br.ReadString('\n')
	require.NoError(t, err)
	assert.Equal(t, "334 VXNlcm5hbWU6\r\n", line)

	_, err = client.Write([]byte(base64.StdEncoding.EncodeToString([]byte("alice")) + "\r\n"))
	require.NoError(t, err)

	line, err = br.ReadString('\n')
	require.NoError(t, err)
	assert.Equal(t, "334 UGFzc3dvcmQ6\r\n", line)

	_, err = client.Write([]byte(base64.StdEncoding.EncodeToString([]byte("s3cret")) + "\r\n"))
	require.NoError(t, err)

	line, err = br.ReadString('\n')
	require.NoError(t, err)
	assert.Equal(t, "535 Authentication failed\r\n", line)

	select {
	case c := <-captured:
		assert.Equal(t, "alice", c.user)
		assert.Equal(t, "s3cret", c.pass)
	case <-time.After(2 * time.Second):
		t.Fatal("capture never invoked")
	}
	assert.Equal(t, protocol.Captured, <-resultCh)
}

func TestHandleUnrecognizedAuthMechanism(t *testing.T) {
	server, client := net.Pipe()
	defer client.Close()

	resultCh := make(chan protocol.Result, 1)
	go func() {
		res := smtp.Handle(context.Background(), server, "203.0.113.22", nil, func(u, p string) {})
		resultCh <- res
	}()

	br := bufio.NewReader(client)
	_, err := br.ReadString('\n')
	require.NoError(t, err)

	_, err = client.Write([]byte("AUTH CRAM-MD5\r\n"))
	require.NoError(t, err)

	line, err := br.ReadString('\n')
	require.NoError(t, err)
	assert.Equal(t, "504 Unrecognized authentication type\r\n", line)
	assert.Equal(t, protocol.Disconnect, <-resultCh)
}
