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

// Package geo resolves client IPs to a coarse geolocation: cache-first,
// rate-limited against the upstream, with the cache persisted to disk on
// a debounced schedule. Private and loopback IPs never leave the
// process: they resolve synchronously to "unlocatable".
package geo

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/hashicorp/go-retryablehttp"
	"golang.org/x/time/rate"

	"github.com/sabouaram/baitline/internal/logging"
	"github.com/sabouaram/baitline/internal/metrics"
	"github.com/sabouaram/baitline/internal/model"
)

// Options configures a Resolver.
type Options struct {
	CachePath  string
	BaseURL    string // e.g. "http://ip-api.com"; overridable for tests
	SaveEvery  time.Duration
	QueueDepth int
}

// Resolver is the IP->Location cache plus upstream client.
type Resolver struct {
	log     logging.Logger
	metrics *metrics.Metrics
	opt     Options

	mu    sync.RWMutex
	cache map[string]model.Location
	dirty bool

	limiter *rate.Limiter
	client  *retryablehttp.Client

	queue  chan string
	stopCh chan struct{}
	doneCh chan struct{}
}

// ip-api.com's free tier allows 45 requests/minute; we pace ourselves at
// one request every rateInterval/rateLimit (about 1.33 s), with no burst.
const (
	rateLimit     = 45
	rateInterval  = time.Minute
	defaultSave   = 5 * time.Minute
	defaultQueue  = 64
)

type apiResponse struct {
	Status     string  `json:"status"`
	Message    string  `json:"message"`
	Lat        float64 `json:"lat"`
	Lon        float64 `json:"lon"`
	Country    string  `json:"country"`
	City       string  `json:"city"`
	RegionName string  `json:"regionName"`
}

// New constructs a Resolver, loading any existing on-disk cache. m may
// be nil.
func New(opt Options, log logging.Logger, m *metrics.Metrics) *Resolver {
	if opt.BaseURL == "" {
		opt.BaseURL = "http://ip-api.com"
	}
	if opt.SaveEvery <= 0 {
		opt.SaveEvery = defaultSave
	}
	if opt.QueueDepth <= 0 {
		opt.QueueDepth = defaultQueue
	}

	client := retryablehttp.NewClient()
	client.RetryMax = 2
	client.Logger = nil
	client.HTTPClient.Timeout = 5 * time.Second

	r := &Resolver{
		log:     log,
		metrics: m,
		opt:     opt,
		cache:   make(map[string]model.Location),
		limiter: rate.NewLimiter(rate.Every(rateInterval/rateLimit), 1),
		client:  client,
		queue:   make(chan string, opt.QueueDepth),
		stopCh:  make(chan struct{}),
		doneCh:  make(chan struct{}),
	}

	r.loadCache()
	go r.worker()

	return r
}

func isPrivate(ip string) bool {
	parsed := net.ParseIP(ip)
	if parsed == nil {
		return true
	}
	if parsed.IsLoopback() || parsed.IsPrivate() || parsed.IsLinkLocalUnicast() {
		return true
	}
	return false
}

// Lookup returns the location for ip, using the cache when available
// and otherwise fetching synchronously (rate-limited) from upstream.
// Private/loopback IPs return a zero Location without any network I/O.
func (r *Resolver) Lookup(ctx context.Context, ip string) model.Location {
	if isPrivate(ip) {
		return model.Location{}
	}

	if loc, ok := r.cached(ip); ok {
		r.metrics.GeoCacheHit()
		return loc
	}
	r.metrics.GeoCacheMiss()

	loc, err := r.fetch(ctx, ip)
	if err != nil {
		r.metrics.GeoLookupFailed()
		r.log.Warning("geo: lookup failed", logging.Fields{"ip": ip, "error": err.Error()})
		return model.Location{}
	}
	return loc
}

// Prefetch queues an asynchronous lookup for ip without blocking the
// caller; results only populate the cache, there is no callback path.
func (r *Resolver) Prefetch(ip string) {
	if isPrivate(ip) {
		return
	}
	if _, ok := r.cached(ip); ok {
		return
	}

	select {
	case r.queue <- ip:
	default:
		r.log.Warning("geo: prefetch queue full, dropping request", logging.Fields{"ip": ip})
	}
}

func (r *Resolver) cached(ip string) (model.Location, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	loc, ok := r.cache[ip]
	return loc, ok
}

func (r *Resolver) store(ip string, loc model.Location) {
	r.mu.Lock()
	r.cache[ip] = loc
	r.dirty = true
	r.mu.Unlock()
}

func (r *Resolver) fetch(ctx context.Context, ip string) (model.Location, error) {
	if err := r.limiter.Wait(ctx); err != nil {
		return model.Location{}, err
	}

	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodGet,
		fmt.Sprintf("%s/json/%s", r.opt.BaseURL, ip), nil)
	if err != nil {
		return model.Location{}, err
	}

	resp, err := r.client.Do(req)
	if err != nil {
		return model.Location{}, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return model.Location{}, fmt.Errorf("geo: upstream status %d", resp.StatusCode)
	}

	var data apiResponse
	if err = json.NewDecoder(resp.Body).Decode(&data); err != nil {
		return model.Location{}, err
	}

	if data.Status != "success" {
		return model.Location{}, fmt.Errorf("geo: upstream error: %s", data.Message)
	}

	loc := model.Location{
		Latitude:  data.Lat,
		Longitude: data.Lon,
		Country:   data.Country,
		City:      data.City,
		Region:    data.RegionName,
	}
	r.store(ip, loc)
	return loc, nil
}

func (r *Resolver) worker() {
	defer close(r.doneCh)

	ticker := time.NewTicker(r.opt.SaveEvery)
	defer ticker.Stop()

	ctx := context.Background()

	for {
		select {
		case <-r.stopCh:
			r.saveCache()
			return
		case ip := <-r.queue:
			if _, err := r.fetch(ctx, ip); err != nil {
				r.log.Warning("geo: prefetch failed", logging.Fields{"ip": ip, "error": err.Error()})
			}
		case <-ticker.C:
			r.saveCache()
		}
	}
}

func (r *Resolver) loadCache() {
	if r.opt.CachePath == "" {
		return
	}

	data, err := os.ReadFile(r.opt.CachePath)
	if err != nil {
		if !os.IsNotExist(err) {
			r.log.Error("geo: cannot read cache file", err, logging.Fields{"path": r.opt.CachePath})
		}
		return
	}

	var loaded map[string]model.Location
	if err = json.Unmarshal(data, &loaded); err != nil {
		r.log.Error("geo: cannot decode cache file", err, logging.Fields{"path": r.opt.CachePath})
		return
	}

	r.mu.Lock()
	r.cache = loaded
	r.mu.Unlock()

	r.log.Info("geo: loaded cached locations", logging.Fields{"count": len(loaded)})
}

func (r *Resolver) saveCache() {
	if r.opt.CachePath == "" {
		return
	}

	r.mu.Lock()
	if !r.dirty {
		r.mu.Unlock()
		return
	}
	snapshot := make(map[string]model.Location, len(r.cache))
	for k, v := range r.cache {
		snapshot[k] = v
	}
	r.dirty = false
	r.mu.Unlock()

	data, err := json.Marshal(snapshot)
	if err != nil {
		r.log.Error("geo: cannot encode cache", err, nil)
		return
	}

	if err = os.MkdirAll(filepath.Dir(r.opt.CachePath), 0o755); err != nil && !os.IsExist(err) {
		r.log.Error("geo: cannot create cache directory", err, nil)
		return
	}

	if err = os.WriteFile(r.opt.CachePath, data, 0o644); err != nil {
		r.log.Error("geo: cannot write cache file", err, logging.Fields{"path": r.opt.CachePath})
	}
}

// Shutdown flushes the cache to disk and stops the background worker.
func (r *Resolver) Shutdown() {
	close(r.stopCh)
	<-r.doneCh
}
