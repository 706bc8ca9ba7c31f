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

package geo_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sabouaram/baitline/internal/geo"
	"github.com/sabouaram/baitline/internal/logging"
)

func newTestLogger() logging.Logger {
	return logging.New(logging.Options{Level: "ERROR"})
}

func TestLookupPrivateIPNeverCallsUpstream(t *testing.T) {
	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
	}))
	defer srv.Close()

	r := geo.New(geo.Options{BaseURL: srv.URL}, newTestLogger(), nil)
	defer r.Shutdown()

	for _, ip := range []string{"127.0.0.1", "10.0.0.5", "192.168.1.1", "::1"} {
		loc := r.Lookup(context.Background(), ip)
		assert.False(t, loc.Resolved())
	}
	assert.EqualValues(t, 0, hits)
}

func TestLookupCachesSuccessfulFetch(t *testing.T) {
	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"status":"success","lat":48.85,"lon":2.35,"country":"France","city":"Paris","regionName":"Ile-de-France"}`))
	}))
	defer srv.Close()

	r := geo.New(geo.Options{BaseURL: srv.URL}, newTestLogger(), nil)
	defer r.Shutdown()

	loc := r.Lookup(context.Background(), "8.8.8.8")
	require.True(t, loc.Resolved())
	assert.Equal(t, "France", loc.Country)
	assert.Equal(t, "Paris", loc.City)

	loc2 := r.Lookup(context.Background(), "8.8.8.8")
	assert.Equal(t, loc, loc2)
	assert.EqualValues(t, 1, hits, "second lookup for the same IP must be served from cache")
}

func TestLookupUpstreamFailureReturnsZeroValue(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	r := geo.New(geo.Options{BaseURL: srv.URL}, newTestLogger(), nil)
	defer r.Shutdown()

	loc := r.Lookup(context.Background(), "9.9.9.9")
	assert.False(t, loc.Resolved())
}

func TestCachePersistsAcrossRestart(t *testing.T) {
	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		_, _ = w.Write([]byte(`{"status":"success","lat":1,"lon":2,"country":"X","city":"Y","regionName":"Z"}`))
	}))
	defer srv.Close()

	cachePath := filepath.Join(t.TempDir(), "cache.json")

	r1 := geo.New(geo.Options{BaseURL: srv.URL, CachePath: cachePath, SaveEvery: 10 * time.Millisecond}, newTestLogger(), nil)
	_ = r1.Lookup(context.Background(), "7.7.7.7")
	r1.Shutdown() // flushes to disk

	r2 := geo.New(geo.Options{BaseURL: srv.URL, CachePath: cachePath}, newTestLogger(), nil)
	defer r2.Shutdown()

	loc := r2.Lookup(context.Background(), "7.7.7.7")
	assert.True(t, loc.Resolved())
	assert.EqualValues(t, 1, hits, "the second resolver must serve from the persisted cache, not refetch")
}
