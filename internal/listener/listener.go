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

// Package listener binds one socket per protocol and hands accepted
// connections to the scheduler. Descriptors are collected explicitly by
// the caller (cmd/baitline) rather than registered via import-time side
// effects: there is no init()-based registry here.
package listener

import (
	"context"
	"fmt"
	"net"
	"time"

	"golang.org/x/net/netutil"

	"github.com/sabouaram/baitline/internal/logging"
	"github.com/sabouaram/baitline/internal/metrics"
	"github.com/sabouaram/baitline/internal/model"
	"github.com/sabouaram/baitline/internal/protocol"
	"github.com/sabouaram/baitline/internal/scheduler"
)

// backlog is the minimum TCP listen backlog the listeners rely on. It is
// not passed to the socket: Listen uses the platform's default backlog.
const backlog = 100

// Admitter is the subset of *scheduler.Scheduler a listener depends on.
type Admitter interface {
	Admit(ctx context.Context, clientIP string, fn scheduler.HandlerFunc) bool
}

// Descriptor names one protocol's listener: its identity, default port,
// and the handler function driving each accepted connection.
type Descriptor struct {
	Name        model.Protocol
	DefaultPort int
	Handler     protocol.Handler
	Network     string // "tcp" or "udp"; empty means "tcp"
}

// Listener owns one bound socket and feeds accepted connections into a
// Scheduler, tagging captures with this descriptor's protocol.
type Listener struct {
	desc      Descriptor
	scheduler Admitter
	capture   func(protocol model.Protocol, clientIP, username, password string)
	prefetch  func(clientIP string)
	log       logging.Logger
	metrics   *metrics.Metrics
}

// New builds a Listener for desc. m may be nil. prefetch, if non-nil, is
// called with the client IP as soon as a connection is accepted, before
// admission is decided, so the geolocation cache is warm by the time the
// capture pipeline's own synchronous lookup runs; nil disables prefetch
// (e.g. in tests with no geo resolver wired up).
func New(desc Descriptor, scheduler Admitter, capture func(model.Protocol, string, string, string), prefetch func(string), log logging.Logger, m *metrics.Metrics) *Listener {
	return &Listener{desc: desc, scheduler: scheduler, capture: capture, prefetch: prefetch, log: log, metrics: m}
}

// Serve binds host:port and accepts connections until ctx is canceled
// or the listener fails to accept. maxConns bounds concurrently-open
// accepted sockets at the OS level, independent of the scheduler's own
// per-IP/global caps (defense in depth against an accept-storm outrunning
// admission checks).
func (l *Listener) Serve(ctx context.Context, host string, port int, maxConns int) error {
	network := l.desc.Network
	if network == "" {
		network = "tcp"
	}

	addr := fmt.Sprintf("%s:%d", host, port)

	switch network {
	case "udp":
		return l.serveUDP(ctx, addr)
	default:
		return l.serveTCP(ctx, addr, maxConns)
	}
}

func (l *Listener) serveTCP(ctx context.Context, addr string, maxConns int) error {
	lc := net.ListenConfig{Control: setReuseAddr}

	raw, err := lc.Listen(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("listener[%s]: bind %s: %w", l.desc.Name, addr, err)
	}

	ln := raw
	if maxConns > 0 {
		ln = netutil.LimitListener(raw, maxConns)
	}

	go func() {
		<-ctx.Done()
		_ = ln.Close()
	}()

	l.log.Info("listener: accepting connections", logging.Fields{
		"protocol": string(l.desc.Name),
		"address":  addr,
	})

	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("listener[%s]: accept: %w", l.desc.Name, err)
		}

		l.handleTCP(ctx, conn)
	}
}

func (l *Listener) handleTCP(ctx context.Context, conn net.Conn) {
	clientIP := hostOf(conn.RemoteAddr())

	if l.prefetch != nil {
		l.prefetch(clientIP)
	}

	admitted := l.scheduler.Admit(ctx, clientIP, func(hctx context.Context, touch func()) {
		defer conn.Close()

		start := time.Now()
		l.metrics.ConnectionAccepted(string(l.desc.Name))

		result := l.desc.Handler(hctx, conn, clientIP, touch, func(username, password string) {
			l.capture(l.desc.Name, clientIP, username, password)
		})

		l.metrics.ConnectionFinished(string(l.desc.Name), time.Since(start).Seconds())

		if result == protocol.ProtocolError {
			l.log.Warning("listener: protocol error", logging.Fields{
				"protocol":  string(l.desc.Name),
				"client_ip": clientIP,
			})
		}
	})

	if !admitted {
		l.metrics.ConnectionRefused(string(l.desc.Name))
		_ = conn.Close()
	}
}

func hostOf(addr net.Addr) string {
	host, _, err := net.SplitHostPort(addr.String())
	if err != nil {
		return addr.String()
	}
	return host
}
