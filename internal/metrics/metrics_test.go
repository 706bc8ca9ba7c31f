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

package metrics_test

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sabouaram/baitline/internal/metrics"
)

func TestNilMetricsMethodsAreNoOps(t *testing.T) {
	var m *metrics.Metrics

	assert.NotPanics(t, func() {
		m.ConnectionAccepted("ssh")
		m.ConnectionFinished("ssh", 1.5)
		m.ConnectionRefused("ssh")
		m.CaptureRecorded("ssh")
		m.SubscriberConnected()
		m.SubscriberDisconnected()
		m.BroadcastFailed()
		m.GeoCacheHit()
		m.GeoCacheMiss()
		m.GeoLookupFailed()
	})

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	m.Handler().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHandlerServesRegisteredCollectors(t *testing.T) {
	m := metrics.New()
	m.ConnectionAccepted("ssh")
	m.CaptureRecorded("ssh")

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	m.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.True(t, strings.Contains(body, "baitline_connections_total"))
	assert.True(t, strings.Contains(body, "baitline_captures_total"))
}

func TestTwoInstancesDoNotCollideOnRegistration(t *testing.T) {
	assert.NotPanics(t, func() {
		_ = metrics.New()
		_ = metrics.New()
	})
}
