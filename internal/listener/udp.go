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

package listener

import (
	"context"
	"fmt"
	"net"
	"time"

	"github.com/sabouaram/baitline/internal/logging"
)

// datagramMaxSize is generous for a SIP REGISTER/INVITE over UDP; larger
// datagrams are simply truncated by ReadFromUDP, which is acceptable
// here since the handler only inspects the first few headers.
const datagramMaxSize = 8192

// udpConn adapts one UDP datagram exchange to look enough like a
// net.Conn for protocol.Handler: a single Read returns the datagram
// already received, a single Write replies to the originating address,
// and Close is a no-op (the underlying socket stays open for the next
// datagram).
type udpConn struct {
	pc   net.PacketConn
	addr net.Addr
	buf  []byte
	read bool
}

func newUDPDatagramConn(pc net.PacketConn, addr net.Addr, datagram []byte) *udpConn {
	return &udpConn{pc: pc, addr: addr, buf: datagram}
}

func (c *udpConn) Read(p []byte) (int, error) {
	if c.read {
		return 0, fmt.Errorf("listener: udp datagram already consumed")
	}
	c.read = true
	n := copy(p, c.buf)
	return n, nil
}

func (c *udpConn) Write(p []byte) (int, error) {
	return c.pc.WriteTo(p, c.addr)
}

func (c *udpConn) Close() error         { return nil }
func (c *udpConn) LocalAddr() net.Addr  { return c.pc.LocalAddr() }
func (c *udpConn) RemoteAddr() net.Addr { return c.addr }

func (c *udpConn) SetDeadline(t time.Time) error      { return nil }
func (c *udpConn) SetReadDeadline(t time.Time) error  { return nil }
func (c *udpConn) SetWriteDeadline(t time.Time) error { return nil }

func (l *Listener) serveUDP(ctx context.Context, addr string) error {
	lc := net.ListenConfig{Control: setReuseAddr}
	pc, err := lc.ListenPacket(ctx, "udp", addr)
	if err != nil {
		return fmt.Errorf("listener[%s]: bind udp %s: %w", l.desc.Name, addr, err)
	}

	go func() {
		<-ctx.Done()
		_ = pc.Close()
	}()

	l.log.Info("listener: accepting datagrams", logging.Fields{
		"protocol": string(l.desc.Name),
		"address":  addr,
	})

	buf := make([]byte, datagramMaxSize)
	for {
		n, peer, err := pc.ReadFrom(buf)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("listener[%s]: udp read: %w", l.desc.Name, err)
		}

		datagram := make([]byte, n)
		copy(datagram, buf[:n])

		l.handleUDP(ctx, pc, peer, datagram)
	}
}

func (l *Listener) handleUDP(ctx context.Context, pc net.PacketConn, peer net.Addr, datagram []byte) {
	clientIP := hostOf(peer)

	if l.prefetch != nil {
		l.prefetch(clientIP)
	}

	conn := newUDPDatagramConn(pc, peer, datagram)

	admitted := l.scheduler.Admit(ctx, clientIP, func(hctx context.Context, touch func()) {
		start := time.Now()
		l.metrics.ConnectionAccepted(string(l.desc.Name))

		l.desc.Handler(hctx, conn, clientIP, touch, func(username, password string) {
			l.capture(l.desc.Name, clientIP, username, password)
		})

		l.metrics.ConnectionFinished(string(l.desc.Name), time.Since(start).Seconds())
	})

	if !admitted {
		l.metrics.ConnectionRefused(string(l.desc.Name))
		l.log.Warning("listener: udp datagram dropped, admission refused", logging.Fields{
			"protocol":  string(l.desc.Name),
			"client_ip": clientIP,
		})
	}
}
