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

// Package capture is the pipeline every protocol handler funnels a
// captured credential pair through: normalize, enrich with geolocation,
// persist, broadcast. Each stage's failure is independent of the
// others' success, per the error-handling disposition table: a
// geolocation miss still persists and broadcasts; a persistence failure
// still broadcasts the in-memory event.
package capture

import (
	"context"
	"time"

	libval "github.com/go-playground/validator/v10"

	"github.com/sabouaram/baitline/internal/hub"
	"github.com/sabouaram/baitline/internal/logging"
	"github.com/sabouaram/baitline/internal/metrics"
	"github.com/sabouaram/baitline/internal/model"
)

// validate is stateless and safe for concurrent use; one instance is
// shared across every Pipeline the process builds.
var validate = libval.New()

// Geolocator is the subset of *geo.Resolver the pipeline depends on.
type Geolocator interface {
	Lookup(ctx context.Context, ip string) model.Location
}

// EventStore is the subset of *store.Store the pipeline depends on.
type EventStore interface {
	Append(ctx context.Context, attempt model.CredentialAttempt) error
}

// Broadcaster is the subset of *hub.Hub the pipeline depends on.
type Broadcaster interface {
	Broadcast(frame hub.Frame)
}

// Pipeline wires the three enrichment/persistence/fan-out stages.
type Pipeline struct {
	geo     Geolocator
	store   EventStore
	hub     Broadcaster
	log     logging.Logger
	metrics *metrics.Metrics
}

// New constructs a Pipeline. Any of geo/store/hub may wrap a nil-safe
// stub in tests that only exercise a subset of stages. m may be nil;
// every Metrics method guards against that.
func New(geo Geolocator, store EventStore, hub Broadcaster, log logging.Logger, m *metrics.Metrics) *Pipeline {
	return &Pipeline{geo: geo, store: store, hub: hub, log: log, metrics: m}
}

// Record is what a protocol handler hands the pipeline after producing
// a credential pair.
type Record struct {
	Protocol model.Protocol
	Username string
	Password string
	ClientIP string
}

// Capture enriches, persists, and broadcasts one credential attempt.
// Every stage is best-effort relative to the others: a geolocation
// failure still yields a persisted and broadcast row with no location;
// a persistence failure still broadcasts the in-memory event.
func (p *Pipeline) Capture(ctx context.Context, rec Record) {
	attempt := model.CredentialAttempt{
		Protocol:  rec.Protocol,
		Username:  truncate(rec.Username, 256),
		Password:  truncate(rec.Password, 1024),
		ClientIP:  rec.ClientIP,
		Timestamp: time.Now().UTC(),
	}

	if err := validate.Struct(attempt); err != nil {
		p.log.Warning("capture: dropping malformed credential attempt", logging.Fields{
			"protocol": string(rec.Protocol),
			"error":    err.Error(),
		})
		return
	}

	loc := p.geo.Lookup(ctx, rec.ClientIP)
	attempt = attempt.WithLocation(loc)

	if err := p.store.Append(ctx, attempt); err != nil {
		p.log.Error("capture: persistence failed, broadcasting in-memory event only", err, logging.Fields{
			"protocol":  string(rec.Protocol),
			"client_ip": rec.ClientIP,
		})
	}

	p.hub.Broadcast(hub.Frame{Type: "login_attempt", Data: attempt})
	p.metrics.CaptureRecorded(string(rec.Protocol))

	p.log.Info("capture: credential attempt recorded", logging.Fields{
		"protocol":  string(rec.Protocol),
		"client_ip": rec.ClientIP,
	})
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max]
}
