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

// Package hub fans credential-capture events out to connected observer
// dashboards: live broadcast, chunked backfill of historical rows, and
// liveness tracking of each subscriber's transport.
package hub

import (
	"encoding/json"
	"time"

	"github.com/gorilla/websocket"
)

// Frame is one message of the subscriber protocol: a tagged envelope
// carrying arbitrary payload data.
type Frame struct {
	Type string      `json:"type"`
	Data interface{} `json:"data"`
}

// Transport is the minimal surface a subscriber connection must offer.
// The hub never depends on gorilla/websocket's concrete type directly,
// so tests can swap in an in-memory double.
type Transport interface {
	WriteJSON(v interface{}) error
	ReadJSON(v interface{}) error
	SetWriteDeadline(t time.Time) error
	SetReadDeadline(t time.Time) error
	Close() error
}

// wsTransport adapts a *websocket.Conn to Transport.
type wsTransport struct {
	conn *websocket.Conn
}

// NewWebSocketTransport wraps an established websocket connection for
// use as a hub subscriber's transport.
func NewWebSocketTransport(conn *websocket.Conn) Transport {
	return &wsTransport{conn: conn}
}

func (w *wsTransport) WriteJSON(v interface{}) error {
	return w.conn.WriteJSON(v)
}

func (w *wsTransport) ReadJSON(v interface{}) error {
	return w.conn.ReadJSON(v)
}

func (w *wsTransport) SetWriteDeadline(t time.Time) error {
	return w.conn.SetWriteDeadline(t)
}

func (w *wsTransport) SetReadDeadline(t time.Time) error {
	return w.conn.SetReadDeadline(t)
}

func (w *wsTransport) Close() error {
	return w.conn.Close()
}

// clientRequest is the client->server envelope shape, used only to pick
// a type discriminant before decoding data further.
type clientRequest struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}
