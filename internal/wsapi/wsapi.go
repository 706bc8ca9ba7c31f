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

// Package wsapi exposes the subscriber-facing websocket endpoint: it
// upgrades the HTTP connection, registers it with the hub, and runs the
// read loop that dispatches each client frame per the subscriber
// protocol (request_attempts, request_data_batches, batch_ack,
// request_missing_batches, heartbeat, ping).
package wsapi

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/gorilla/websocket"

	"github.com/sabouaram/baitline/internal/hub"
	"github.com/sabouaram/baitline/internal/logging"
	"github.com/sabouaram/baitline/internal/model"
)

// EventStore is the subset of *store.Store the websocket API depends on
// for backfill requests.
type EventStore interface {
	QueryAll(ctx context.Context) ([]model.CredentialAttempt, error)
}

// Hub is the subset of *hub.Hub the websocket API depends on.
type Hub interface {
	Subscribe(t hub.Transport) hub.Handle
	Unsubscribe(handle hub.Handle)
	ExternalID(handle hub.Handle) string
	Send(handle hub.Handle, frame hub.Frame) bool
	SendBackfill(handle hub.Handle, items []interface{})
	ResendMissingBatches(handle hub.Handle, items []interface{}, batchNumbers []int)
	RecordReceived(handle hub.Handle)
}

// Handler upgrades and drives subscriber connections.
type Handler struct {
	hub      Hub
	store    EventStore
	log      logging.Logger
	upgrader websocket.Upgrader
}

// New builds a Handler. Origin checking is deliberately permissive: this
// endpoint is read-mostly telemetry, not an authenticated API, matching
// the dashboard's own out-of-scope status.
func New(h Hub, store EventStore, log logging.Logger) *Handler {
	return &Handler{
		hub:   h,
		store: store,
		log:   log,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warning("wsapi: upgrade failed", logging.Fields{"error": err.Error()})
		return
	}

	transport := hub.NewWebSocketTransport(conn)
	handle := h.hub.Subscribe(transport)
	defer h.hub.Unsubscribe(handle)

	h.hub.Send(handle, hub.Frame{Type: "connected", Data: map[string]string{
		"subscriber_id": h.hub.ExternalID(handle),
	}})

	h.readLoop(r.Context(), conn, handle)
}

type clientFrame struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

func (h *Handler) readLoop(ctx context.Context, conn *websocket.Conn, handle hub.Handle) {
	for {
		var msg clientFrame
		if err := conn.ReadJSON(&msg); err != nil {
			return
		}
		h.hub.RecordReceived(handle)
		h.dispatch(ctx, handle, msg)
	}
}

func (h *Handler) dispatch(ctx context.Context, handle hub.Handle, msg clientFrame) {
	switch msg.Type {
	case "request_attempts", "request_data_batches":
		items := h.snapshot(ctx)
		h.hub.SendBackfill(handle, items)

	case "request_missing_batches":
		var body struct {
			BatchNumbers []int `json:"batch_numbers"`
		}
		if err := json.Unmarshal(msg.Data, &body); err != nil {
			return
		}
		items := h.snapshot(ctx)
		h.hub.ResendMissingBatches(handle, items, body.BatchNumbers)

	case "batch_ack":
		// acknowledgement only moves liveness counters, already recorded
		// by RecordReceived above.

	case "heartbeat":
		h.hub.Send(handle, hub.Frame{Type: "heartbeat_response", Data: nil})

	case "ping":
		h.hub.Send(handle, hub.Frame{Type: "pong", Data: nil})
	}
}

func (h *Handler) snapshot(ctx context.Context) []interface{} {
	rows, err := h.store.QueryAll(ctx)
	if err != nil {
		h.log.Error("wsapi: backfill query failed", err, nil)
		return nil
	}
	items := make([]interface{}, len(rows))
	for i, row := range rows {
		items[i] = row
	}
	return items
}
