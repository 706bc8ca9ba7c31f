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

package rdp_test

import (
	"context"
	"io"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sabouaram/baitline/internal/protocol"
	"github.com/sabouaram/baitline/internal/protocol/rdp"
)

func TestHandleExtractsCredentialMarkers(t *testing.T) {
	server, client := net.Pipe()

	type capture struct{ user, pass string }
	captured := make(chan capture, 1)
	resultCh := make(chan protocol.Result, 1)

	go func() {
		res := rdp.Handle(context.Background(), server, "203.0.113.40", nil, func(u, p string) {
			captured <- capture{u, p}
		})
		resultCh <- res
	}()

	req := make([]byte, 19)
	_, err := io.ReadFull(client, req)
	require.NoError(t, err)

	_, err = client.Write([]byte("USER=attacker\r\nPASS=hunter2\r\n"))
	require.NoError(t, err)

	resp := make([]byte, 19+12)
	_, err = io.ReadFull(client, resp)
	require.NoError(t, err)

	require.NoError(t, client.Close())

	select {
	case c := <-captured:
		assert.Equal(t, "attacker", c.user)
		assert.Equal(t, "hunter2", c.pass)
	case <-time.After(2 * time.Second):
		t.Fatal("capture never invoked")
	}
	assert.Equal(t, protocol.Captured, <-resultCh)
}

func TestHandleNoMarkersDisconnects(t *testing.T) {
	server, client := net.Pipe()

	resultCh := make(chan protocol.Result, 1)
	go func() {
		res := rdp.Handle(context.Background(), server, "203.0.113.41", nil, func(u, p string) {})
		resultCh <- res
	}()

	req := make([]byte, 19)
	_, err := io.ReadFull(client, req)
	require.NoError(t, err)

	_, err = client.Write([]byte{0x01, 0x02, 0x03})
	require.NoError(t, err)

	resp := make([]byte, 19+12)
	_, err = io.ReadFull(client, resp)
	require.NoError(t, err)

	require.NoError(t, client.Close())

	assert.Equal(t, protocol.Disconnect, <-resultCh)
}
