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

// Package scheduler owns the bounded worker pool that every listener
// hands connections to. It enforces a global concurrency ceiling, a
// per-IP cap, and an idle-timeout sweep, and gives handlers a single
// cooperative "touch" call to report liveness.
package scheduler

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/sabouaram/baitline/internal/logging"
	"github.com/sabouaram/baitline/internal/registry"
)

// Options configures a Scheduler. Each field has exactly one observable
// effect, matching the admission/eviction algorithm described for this
// component. There is no separate queue-capacity knob here: bounding
// how many pending connections an accept loop will hold belongs to the
// listener's netutil.LimitListener, not to admission into the worker
// pool (see MAX_QUEUED_CONNECTIONS in cmd/baitline).
type Options struct {
	MaxWorkers  int
	MaxPerIP    int
	IdleTimeout time.Duration
}

// HandlerFunc is the work a listener submits for one accepted
// connection. touch must be safe to call from the handler's own
// goroutine at any point before it returns.
type HandlerFunc func(ctx context.Context, touch func())

// record is the in-memory connection record. state guards the
// eviction/completion race: both the idle monitor and the handler's own
// completion path try to transition it, and only the first wins.
type record struct {
	clientIP   string
	startedAt  time.Time
	lastActive atomic.Int64 // unix nanos
	cancel     context.CancelFunc
	state      atomic.Int32 // 0=live 1=settled
}

const (
	stateLive    int32 = 0
	stateSettled int32 = 1
)

func (r *record) touch() {
	r.lastActive.Store(time.Now().UnixNano())
}

func (r *record) idleFor(now time.Time) time.Duration {
	return now.Sub(time.Unix(0, r.lastActive.Load()))
}

// settle attempts the live->settled transition exactly once; only the
// caller that wins may run its cleanup.
func (r *record) settle() bool {
	return r.state.CompareAndSwap(stateLive, stateSettled)
}

// Scheduler is the connection admission and lifecycle authority.
type Scheduler struct {
	log logging.Logger
	opt Options

	sem *semaphore.Weighted

	mu       sync.Mutex
	perIP    map[string]int
	records  *registry.Registry[uint64, *record]
	nextID   atomic.Uint64
	inflight sync.WaitGroup

	closed atomic.Bool
	stopCh chan struct{}
	doneCh chan struct{}
}

// New constructs a Scheduler and starts its idle-timeout monitor.
func New(opt Options, log logging.Logger) *Scheduler {
	if opt.MaxWorkers <= 0 {
		opt.MaxWorkers = 50
	}
	if opt.MaxPerIP <= 0 {
		opt.MaxPerIP = 5
	}
	if opt.IdleTimeout <= 0 {
		opt.IdleTimeout = 15 * time.Second
	}

	s := &Scheduler{
		log:     log,
		opt:     opt,
		sem:     semaphore.NewWeighted(int64(opt.MaxWorkers)),
		perIP:   make(map[string]int),
		records: registry.New[uint64, *record](),
		stopCh:  make(chan struct{}),
		doneCh:  make(chan struct{}),
	}

	go s.monitor()
	return s
}

// Admit attempts to enqueue fn for clientIP. It returns false
// immediately (without blocking) if the per-IP cap is already met or
// the pool has no free capacity; the caller must close the underlying
// transport in that case. On true, fn is guaranteed to run exactly
// once, with the connection record and per-IP counter cleaned up on
// every exit path.
func (s *Scheduler) Admit(ctx context.Context, clientIP string, fn HandlerFunc) bool {
	if s.closed.Load() {
		return false
	}

	s.mu.Lock()
	if s.perIP[clientIP] >= s.opt.MaxPerIP {
		s.mu.Unlock()
		return false
	}
	s.perIP[clientIP]++
	s.mu.Unlock()

	if !s.sem.TryAcquire(1) {
		s.decrementIP(clientIP)
		return false
	}

	hctx, cancel := context.WithCancel(ctx)
	rec := &record{clientIP: clientIP, startedAt: time.Now(), cancel: cancel}
	rec.touch()

	id := s.nextID.Add(1)
	s.records.Store(id, rec)
	s.inflight.Add(1)

	go s.run(id, rec, hctx, fn)
	return true
}

func (s *Scheduler) run(id uint64, rec *record, ctx context.Context, fn HandlerFunc) {
	defer s.inflight.Done()
	defer s.sem.Release(1)
	defer func() {
		if rec.settle() {
			s.cleanup(id, rec)
		}
		if r := recover(); r != nil {
			s.log.Error("scheduler: handler panicked", nil, logging.Fields{
				"client_ip": rec.clientIP,
				"panic":     r,
			})
		}
	}()

	fn(ctx, rec.touch)
}

func (s *Scheduler) cleanup(id uint64, rec *record) {
	rec.cancel()
	s.records.Delete(id)
	s.decrementIP(rec.clientIP)
}

func (s *Scheduler) decrementIP(clientIP string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if n := s.perIP[clientIP]; n <= 1 {
		delete(s.perIP, clientIP)
	} else {
		s.perIP[clientIP] = n - 1
	}
}

// Touch updates last-activity for every live record belonging to
// clientIP. Cheap, non-blocking, idempotent; safe to call from any
// handler goroutine on every observed inbound byte.
func (s *Scheduler) Touch(clientIP string) {
	s.records.Walk(func(_ uint64, rec *record) bool {
		if rec.clientIP == clientIP && rec.state.Load() == stateLive {
			rec.touch()
		}
		return true
	})
}

// LiveCount returns the number of currently live connection records,
// total and for one IP — used by tests and metrics, not production logic.
func (s *Scheduler) LiveCount() int {
	return s.records.Len()
}

func (s *Scheduler) PerIPCount(clientIP string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.perIP[clientIP]
}

// monitor wakes once per second, evicts connections idle longer than
// IdleTimeout, and exits when Shutdown closes stopCh.
func (s *Scheduler) monitor() {
	defer close(s.doneCh)

	ticker := time.NewTicker(1 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopCh:
			return
		case <-ticker.C:
			s.sweep()
		}
	}
}

func (s *Scheduler) sweep() {
	defer func() {
		if r := recover(); r != nil {
			s.log.Error("scheduler: idle monitor recovered from panic", nil, logging.Fields{"panic": r})
		}
	}()

	now := time.Now()
	for _, id := range s.records.Snapshot() {
		rec, ok := s.records.Load(id)
		if !ok {
			continue
		}
		if rec.idleFor(now) <= s.opt.IdleTimeout {
			continue
		}
		if rec.settle() {
			s.cleanup(id, rec)
		}
	}
}

// Shutdown stops the monitor, refuses new admissions, cancels every
// live record, and waits (bounded by the given timeout) for in-flight
// handlers to drain.
func (s *Scheduler) Shutdown(timeout time.Duration) {
	if !s.closed.CompareAndSwap(false, true) {
		return
	}

	close(s.stopCh)
	<-s.doneCh

	for _, id := range s.records.Snapshot() {
		if rec, ok := s.records.Load(id); ok {
			rec.cancel()
		}
	}

	done := make(chan struct{})
	go func() {
		s.inflight.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(timeout):
		s.log.Warning("scheduler: shutdown timed out waiting for handlers to drain", nil)
	}
}
