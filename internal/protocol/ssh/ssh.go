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

// Package ssh emulates an SSH server that completes the key exchange
// and accepts only password authentication, capturing the first
// attempt and always reporting it as failed. No session, channel, or
// post-auth request is ever serviced.
package ssh

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"errors"
	"net"
	"time"

	"golang.org/x/crypto/ssh"

	"github.com/sabouaram/baitline/internal/protocol"
)

const (
	banner           = "SSH-2.0-OpenSSH_8.9"
	handshakeTimeout = 10 * time.Second
)

// HostKey generates an ephemeral Ed25519 host key for one process
// lifetime; the honeypot never needs a stable identity across restarts.
func HostKey() (ssh.Signer, error) {
	_, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, err
	}
	return ssh.NewSignerFromKey(priv)
}

// NewHandler builds a protocol.Handler bound to one host key. Every
// connection gets its own ssh.ServerConn handshake; only password auth
// is offered, and the first attempt observed is captured and rejected.
func NewHandler(hostKey ssh.Signer) protocol.Handler {
	return func(ctx context.Context, conn net.Conn, clientIP string, touch protocol.TouchFunc, capture protocol.CaptureFunc) protocol.Result {
		captured := false

		config := &ssh.ServerConfig{
			ServerVersion: banner,
			PasswordCallback: func(meta ssh.ConnMetadata, password []byte) (*ssh.Permissions, error) {
				if touch != nil {
					touch()
				}
				if !captured {
					captured = true
					capture(meta.User(), string(password))
					// Terminate after the first attempt: closing here makes
					// the in-progress handshake fail instead of offering the
					// client a retry.
					_ = conn.Close()
				}
				return nil, errAuthFailed
			},
		}
		config.AddHostKey(hostKey)

		_ = conn.SetDeadline(time.Now().Add(handshakeTimeout))

		sconn, chans, reqs, err := ssh.NewServerConn(conn, config)
		if err != nil {
			if captured {
				return protocol.Captured
			}
			return protocol.Disconnect
		}

		// A client that never attempts auth but still completes the
		// handshake (unusual) gets no session and no global requests.
		defer sconn.Close()
		go ssh.DiscardRequests(reqs)
		for ch := range chans {
			_ = ch.Reject(ssh.Prohibited, "no sessions available")
		}

		return protocol.Disconnect
	}
}

var errAuthFailed = errors.New("authentication failed")
