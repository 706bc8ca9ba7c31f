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

package listener_test

import (
	"bufio"
	"context"
	"net"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sabouaram/baitline/internal/listener"
	"github.com/sabouaram/baitline/internal/logging"
	"github.com/sabouaram/baitline/internal/model"
	"github.com/sabouaram/baitline/internal/protocol"
	"github.com/sabouaram/baitline/internal/scheduler"
)

func newTestLogger() logging.Logger {
	return logging.New(logging.Options{Level: "ERROR"})
}

type fakeAdmitter struct {
	mu      sync.Mutex
	allow   bool
	invoked int
}

func (f *fakeAdmitter) Admit(ctx context.Context, clientIP string, fn scheduler.HandlerFunc) bool {
	f.mu.Lock()
	allow := f.allow
	f.mu.Unlock()
	if !allow {
		return false
	}
	f.mu.Lock()
	f.invoked++
	f.mu.Unlock()
	fn(ctx, func() {})
	return true
}

func echoHandler(greeting string) protocol.Handler {
	return func(ctx context.Context, conn net.Conn, clientIP string, touch protocol.TouchFunc, capture protocol.CaptureFunc) protocol.Result {
		_, _ = conn.Write([]byte(greeting))
		capture("probe", "probe")
		return protocol.Captured
	}
}

func freePort(t *testing.T) int {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer l.Close()
	return l.Addr().(*net.TCPAddr).Port
}

func TestServeAcceptsAndRunsHandler(t *testing.T) {
	admitter := &fakeAdmitter{allow: true}
	var capturedUser string

	l := listener.New(listener.Descriptor{
		Name:    model.ProtocolFTP,
		Handler: echoHandler("hello\n"),
	}, admitter, func(p model.Protocol, ip, user, pass string) {
		capturedUser = user
	}, nil, newTestLogger(), nil)

	port := freePort(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	errCh := make(chan error, 1)
	go func() { errCh <- l.Serve(ctx, "127.0.0.1", port, 0) }()

	var conn net.Conn
	var err error
	require.Eventually(t, func() bool {
		conn, err = net.Dial("tcp", "127.0.0.1:"+strconv.Itoa(port))
		return err == nil
	}, 2*time.Second, 20*time.Millisecond)
	defer conn.Close()

	line, err := bufio.NewReader(conn).ReadString('\n')
	require.NoError(t, err)
	assert.Equal(t, "hello\n", line)

	require.Eventually(t, func() bool { return capturedUser == "probe" }, time.Second, 10*time.Millisecond)
	assert.Equal(t, 1, admitter.invoked)
}

func TestServeClosesConnectionWhenRefused(t *testing.T) {
	admitter := &fakeAdmitter{allow: false}

	l := listener.New(listener.Descriptor{
		Name:    model.ProtocolTelnet,
		Handler: echoHandler("hi\n"),
	}, admitter, func(p model.Protocol, ip, user, pass string) {}, nil, newTestLogger(), nil)

	port := freePort(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() { _ = l.Serve(ctx, "127.0.0.1", port, 0) }()

	var conn net.Conn
	var err error
	require.Eventually(t, func() bool {
		conn, err = net.Dial("tcp", "127.0.0.1:"+strconv.Itoa(port))
		return err == nil
	}, 2*time.Second, 20*time.Millisecond)
	defer conn.Close()

	buf := make([]byte, 1)
	_, err = conn.Read(buf)
	assert.Error(t, err, "a refused connection must be closed with no data written")
}

