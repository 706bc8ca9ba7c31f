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

package ssh_test

import (
	"context"
	"net"
	"testing"
	"time"

	cryptossh "golang.org/x/crypto/ssh"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sabouaram/baitline/internal/protocol"
	sshproto "github.com/sabouaram/baitline/internal/protocol/ssh"
)

func TestHandleCapturesFirstPasswordAttempt(t *testing.T) {
	hostKey, err := sshproto.HostKey()
	require.NoError(t, err)

	server, client := net.Pipe()

	type capture struct{ user, pass string }
	captured := make(chan capture, 1)
	resultCh := make(chan protocol.Result, 1)

	handler := sshproto.NewHandler(hostKey)
	go func() {
		res := handler(context.Background(), server, "203.0.113.60", nil, func(u, p string) {
			captured <- capture{u, p}
		})
		resultCh <- res
	}()

	clientConfig := &cryptossh.ClientConfig{
		User:            "root",
		Auth:            []cryptossh.AuthMethod{cryptossh.Password("toor")},
		HostKeyCallback: cryptossh.InsecureIgnoreHostKey(),
		Timeout:         2 * time.Second,
	}

	_, _, _, err = cryptossh.NewClientConn(client, "pipe", clientConfig)
	assert.Error(t, err, "the honeypot must always report password auth as failed")

	select {
	case c := <-captured:
		assert.Equal(t, "root", c.user)
		assert.Equal(t, "toor", c.pass)
	case <-time.After(2 * time.Second):
		t.Fatal("capture never invoked")
	}

	assert.Equal(t, protocol.Captured, <-resultCh)
}
