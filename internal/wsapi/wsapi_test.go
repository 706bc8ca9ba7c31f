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

package wsapi_test

import (
	"context"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sabouaram/baitline/internal/hub"
	"github.com/sabouaram/baitline/internal/logging"
	"github.com/sabouaram/baitline/internal/model"
	"github.com/sabouaram/baitline/internal/wsapi"
)

func newTestLogger() logging.Logger {
	return logging.New(logging.Options{Level: "ERROR"})
}

type fakeHub struct {
	mu          sync.Mutex
	transport   hub.Transport
	backfills   int
	resends     int
	lastBatches []int
}

func (f *fakeHub) Subscribe(t hub.Transport) hub.Handle {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.transport = t
	return hub.Handle(1)
}
func (f *fakeHub) Send(handle hub.Handle, frame hub.Frame) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.transport != nil && f.transport.WriteJSON(frame) == nil
}
func (f *fakeHub) Unsubscribe(handle hub.Handle)        {}
func (f *fakeHub) ExternalID(handle hub.Handle) string  { return "sub-1" }
func (f *fakeHub) SendBackfill(handle hub.Handle, items []interface{}) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.backfills++
}
func (f *fakeHub) ResendMissingBatches(handle hub.Handle, items []interface{}, batchNumbers []int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.resends++
	f.lastBatches = batchNumbers
}
func (f *fakeHub) RecordReceived(handle hub.Handle) {}

func (f *fakeHub) counts() (int, int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.backfills, f.resends
}

type fakeStore struct{}

func (fakeStore) QueryAll(ctx context.Context) ([]model.CredentialAttempt, error) {
	return []model.CredentialAttempt{{Username: "a"}, {Username: "b"}}, nil
}

func dialTestServer(t *testing.T, h *wsapi.Handler) (*websocket.Conn, func()) {
	t.Helper()
	srv := httptest.NewServer(h)
	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http")

	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)

	return conn, func() {
		_ = conn.Close()
		srv.Close()
	}
}

func TestServeHTTPSendsConnectedFrame(t *testing.T) {
	h := wsapi.New(&fakeHub{}, fakeStore{}, newTestLogger())
	conn, cleanup := dialTestServer(t, h)
	defer cleanup()

	var frame hub.Frame
	require.NoError(t, conn.ReadJSON(&frame))
	assert.Equal(t, "connected", frame.Type)
}

func TestPingReceivesPong(t *testing.T) {
	h := wsapi.New(&fakeHub{}, fakeStore{}, newTestLogger())
	conn, cleanup := dialTestServer(t, h)
	defer cleanup()

	var connected hub.Frame
	require.NoError(t, conn.ReadJSON(&connected))

	require.NoError(t, conn.WriteJSON(map[string]string{"type": "ping"}))

	var reply hub.Frame
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	require.NoError(t, conn.ReadJSON(&reply))
	assert.Equal(t, "pong", reply.Type)
}

func TestHeartbeatReceivesResponse(t *testing.T) {
	h := wsapi.New(&fakeHub{}, fakeStore{}, newTestLogger())
	conn, cleanup := dialTestServer(t, h)
	defer cleanup()

	var connected hub.Frame
	require.NoError(t, conn.ReadJSON(&connected))

	require.NoError(t, conn.WriteJSON(map[string]string{"type": "heartbeat"}))

	var reply hub.Frame
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	require.NoError(t, conn.ReadJSON(&reply))
	assert.Equal(t, "heartbeat_response", reply.Type)
}

func TestRequestAttemptsTriggersBackfill(t *testing.T) {
	fh := &fakeHub{}
	h := wsapi.New(fh, fakeStore{}, newTestLogger())
	conn, cleanup := dialTestServer(t, h)
	defer cleanup()

	var connected hub.Frame
	require.NoError(t, conn.ReadJSON(&connected))

	require.NoError(t, conn.WriteJSON(map[string]string{"type": "request_attempts"}))

	require.Eventually(t, func() bool {
		backfills, _ := fh.counts()
		return backfills == 1
	}, 2*time.Second, 10*time.Millisecond)
}

func TestRequestMissingBatchesTriggersResend(t *testing.T) {
	fh := &fakeHub{}
	h := wsapi.New(fh, fakeStore{}, newTestLogger())
	conn, cleanup := dialTestServer(t, h)
	defer cleanup()

	var connected hub.Frame
	require.NoError(t, conn.ReadJSON(&connected))

	require.NoError(t, conn.WriteJSON(map[string]interface{}{
		"type": "request_missing_batches",
		"data": map[string]interface{}{"batch_numbers": []int{2, 3}},
	}))

	require.Eventually(t, func() bool {
		_, resends := fh.counts()
		return resends == 1
	}, 2*time.Second, 10*time.Millisecond)

	assert.Equal(t, []int{2, 3}, fh.lastBatches)
}
