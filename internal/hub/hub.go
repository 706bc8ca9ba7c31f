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

package hub

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/sabouaram/baitline/internal/logging"
	"github.com/sabouaram/baitline/internal/metrics"
	"github.com/sabouaram/baitline/internal/registry"
)

const (
	probeInterval   = 60 * time.Second
	probeAfterIdle  = 2 * time.Minute
	deadAfterIdle   = 10 * time.Minute
	deadAfterPress  = 5 * time.Minute
	probeAfterPress = 1 * time.Minute
)

// Subscriber is one connected observer dashboard.
type Subscriber struct {
	id          uint64
	externalID  string
	transport   Transport
	connectedAt time.Time
	lastActive  atomic.Int64 // unix nanos
	failedProbe atomic.Int32
	sent        atomic.Uint64
	received    atomic.Uint64
	closed      atomic.Bool

	// outbox is this subscriber's single send queue: exactly one
	// goroutine (writeLoop) ever calls transport.WriteJSON, so frames
	// queued here are written in the order they were enqueued and never
	// race with one another on the underlying connection. mu guards
	// enqueueing against a concurrent removal closing stopCh, so no job
	// is ever buffered after the subscriber is gone.
	mu     sync.Mutex
	outbox chan writeJob
	stopCh chan struct{}
}

// writeJob is one queued send for a subscriber's writeLoop. attempts is
// the maximum number of tries (with backoff between them); result, if
// non-nil, receives the final success/failure so a synchronous caller
// (backfill, probe) can act on it; onExhausted, if non-nil, runs on the
// writeLoop goroutine itself when every attempt fails and nobody is
// waiting on result (the fire-and-forget broadcast path).
type writeJob struct {
	frame       Frame
	attempts    int
	backoff     time.Duration
	result      chan bool
	onExhausted func()
}

const outboxDepth = 256

func (s *Subscriber) touch() {
	s.lastActive.Store(time.Now().UnixNano())
}

func (s *Subscriber) idleFor(now time.Time) time.Duration {
	return now.Sub(time.Unix(0, s.lastActive.Load()))
}

// Handle identifies a subscribed Subscriber to later hub calls.
type Handle uint64

// Hub is the live subscriber registry and fan-out/backfill authority.
type Hub struct {
	log     logging.Logger
	metrics *metrics.Metrics
	subs    *registry.Registry[uint64, *Subscriber]
	next    atomic.Uint64

	underPressure atomic.Bool

	stopCh chan struct{}
	doneCh chan struct{}
	once   sync.Once
}

// New constructs a Hub and starts its liveness/cleanup loop. m may be nil.
func New(log logging.Logger, m *metrics.Metrics) *Hub {
	h := &Hub{
		log:     log,
		metrics: m,
		subs:    registry.New[uint64, *Subscriber](),
		stopCh:  make(chan struct{}),
		doneCh:  make(chan struct{}),
	}
	go h.livenessLoop()
	return h
}

// Subscribe registers a new subscriber and returns its Handle. The
// subscriber also gets an opaque external id (a UUID, unrelated to the
// sequential internal Handle so a client can never infer how many
// subscribers came before it) sent back via ExternalID.
func (h *Hub) Subscribe(t Transport) Handle {
	id := h.next.Add(1)
	sub := &Subscriber{
		id:          id,
		externalID:  uuid.NewString(),
		transport:   t,
		connectedAt: time.Now(),
		outbox:      make(chan writeJob, outboxDepth),
		stopCh:      make(chan struct{}),
	}
	sub.touch()
	h.subs.Store(id, sub)
	go h.writeLoop(sub)
	h.metrics.SubscriberConnected()
	return Handle(id)
}

// ExternalID returns the opaque UUID assigned to handle's subscriber,
// suitable for exposing to the client itself (e.g. in a "connected"
// acknowledgement frame).
func (h *Hub) ExternalID(handle Handle) string {
	if sub, ok := h.subs.Load(uint64(handle)); ok {
		return sub.externalID
	}
	return ""
}

// Unsubscribe removes and closes the transport for handle, if present.
func (h *Hub) Unsubscribe(handle Handle) {
	if sub, ok := h.subs.Load(uint64(handle)); ok {
		h.remove(uint64(handle), sub)
	}
}

func (h *Hub) remove(id uint64, sub *Subscriber) {
	sub.mu.Lock()
	if !sub.closed.CompareAndSwap(false, true) {
		sub.mu.Unlock()
		return
	}
	close(sub.stopCh)
	sub.mu.Unlock()

	h.subs.Delete(id)
	_ = sub.transport.Close()
	h.metrics.SubscriberDisconnected()
}

// Count returns the number of currently registered subscribers.
func (h *Hub) Count() int {
	return h.subs.Len()
}

// Broadcast delivers frame to every currently-registered subscriber.
// Delivery is queued onto each subscriber's own outbox in the order
// Broadcast is invoked, so a slow or dead subscriber never blocks
// delivery to the others and never reorders relative to earlier
// broadcasts to the same subscriber. Per-subscriber send is
// best-effort and at-most-once per call: a first failure schedules one
// retry after a short delay, still on the subscriber's single writer
// goroutine; a second failure removes the subscriber.
func (h *Hub) Broadcast(frame Frame) {
	h.subs.Walk(func(id uint64, sub *Subscriber) bool {
		h.enqueue(sub, writeJob{
			frame:    frame,
			attempts: 2,
			backoff:  200 * time.Millisecond,
			onExhausted: func() {
				h.log.Warning("hub: subscriber send failed twice, removing", logging.Fields{"subscriber_id": id})
				h.metrics.BroadcastFailed()
				h.remove(id, sub)
			},
		})
		return true
	})
}

// Send delivers one frame to handle's subscriber through the same
// single-writer queue broadcast and backfill use, so callers (the
// websocket API's own "connected"/"heartbeat_response"/"pong" replies
// included) never write directly to the transport. Returns false if the
// subscriber is unknown or the send ultimately failed.
func (h *Hub) Send(handle Handle, frame Frame) bool {
	sub, ok := h.subs.Load(uint64(handle))
	if !ok {
		return false
	}
	return h.sendSync(sub, frame, 1, 0)
}

// writeLoop is the single goroutine permitted to write to sub's
// transport. It drains sub.outbox strictly in enqueue order, so two
// frames queued back-to-back (e.g. two successive Broadcast calls) are
// always written in that order and never concurrently.
func (h *Hub) writeLoop(sub *Subscriber) {
	for {
		select {
		case job := <-sub.outbox:
			h.runJob(sub, job)
		case <-sub.stopCh:
			h.drainOutbox(sub)
			return
		}
	}
}

// drainOutbox fails out any job that was already buffered before the
// subscriber closed, so a sendSync caller blocked on its result channel
// is never left waiting forever once writeLoop has stopped.
func (h *Hub) drainOutbox(sub *Subscriber) {
	for {
		select {
		case job := <-sub.outbox:
			if job.result != nil {
				job.result <- false
			}
		default:
			return
		}
	}
}

func (h *Hub) runJob(sub *Subscriber, job writeJob) {
	ok := false
	for attempt := 0; attempt < job.attempts; attempt++ {
		if attempt > 0 {
			time.Sleep(job.backoff)
		}
		if h.send(sub, job.frame) {
			ok = true
			break
		}
	}
	if job.result != nil {
		job.result <- ok
		return
	}
	if !ok && job.onExhausted != nil {
		job.onExhausted()
	}
}

// enqueue queues job on sub's outbox without blocking the caller. It
// returns false (dropping the job) if the subscriber already
// disconnected or its outbox is backed up. Holding sub.mu across the
// closed check and the buffered send makes this atomic with remove's
// closed-and-stopCh-close section, so no job is ever buffered after
// writeLoop has committed to exiting via stopCh.
func (h *Hub) enqueue(sub *Subscriber, job writeJob) bool {
	sub.mu.Lock()
	defer sub.mu.Unlock()

	if sub.closed.Load() {
		return false
	}
	select {
	case sub.outbox <- job:
		return true
	default:
		return false
	}
}

// sendSync enqueues frame and blocks for the outcome, used by call
// sites (backfill, probe, direct replies) that need to know whether the
// send succeeded before deciding their own next step.
func (h *Hub) sendSync(sub *Subscriber, frame Frame, attempts int, backoff time.Duration) bool {
	result := make(chan bool, 1)
	if !h.enqueue(sub, writeJob{frame: frame, attempts: attempts, backoff: backoff, result: result}) {
		return false
	}
	return <-result
}

// send performs exactly one write attempt. Only writeLoop may call
// this: it is the sole writer for sub's transport.
func (h *Hub) send(sub *Subscriber, frame Frame) bool {
	_ = sub.transport.SetWriteDeadline(time.Now().Add(5 * time.Second))
	if err := sub.transport.WriteJSON(frame); err != nil {
		return false
	}
	sub.sent.Add(1)
	sub.touch()
	return true
}

// batchSize returns the per-batch item count and inter-batch delay for
// a backfill of n total items.
func batchSize(n int) (size int, delay time.Duration) {
	switch {
	case n <= 100:
		return n, 50 * time.Millisecond
	case n <= 1000:
		return 100, 50 * time.Millisecond
	case n <= 10000:
		return 500, 50 * time.Millisecond
	case n <= 30000:
		return 1000, 100 * time.Millisecond
	default:
		return 500, 200 * time.Millisecond
	}
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}

// SendBackfill sends items to handle's subscriber in numbered batches,
// sized per the policy table, framed as batch_start -> N*batch_data ->
// batch_complete. Each batch is retried up to 3 times with 500 ms
// backoff; exhausting retries aborts the whole backfill (the subscriber
// is presumed gone) without sending batch_complete.
func (h *Hub) SendBackfill(handle Handle, items []interface{}) {
	sub, ok := h.subs.Load(uint64(handle))
	if !ok {
		return
	}

	total := len(items)
	size, delay := batchSize(total)
	totalBatches := 0
	if total > 0 {
		totalBatches = (total + size - 1) / size
	} else {
		totalBatches = 1
		size = 0
	}

	if !h.sendSync(sub, Frame{Type: "batch_start", Data: map[string]interface{}{
		"total_items":   total,
		"total_batches": totalBatches,
	}}, 1, 0) {
		h.remove(uint64(handle), sub)
		return
	}

	for batch := 1; batch <= totalBatches; batch++ {
		if batch > 1 {
			time.Sleep(delay)
		}

		start := (batch - 1) * size
		end := start + size
		if end > total || size == 0 {
			end = total
		}

		frame := Frame{Type: "batch_data", Data: map[string]interface{}{
			"batch_number":  batch,
			"total_batches": totalBatches,
			"items":         items[start:end],
		}}

		if !h.sendSync(sub, frame, batchRetries, batchBackoff) {
			h.log.Error("hub: backfill aborted, batch send exhausted retries", nil, logging.Fields{
				"subscriber_id": uint64(handle),
				"batch_number":  batch,
			})
			h.remove(uint64(handle), sub)
			return
		}
	}

	h.sendSync(sub, Frame{Type: "batch_complete", Data: map[string]interface{}{
		"total_items":   total,
		"total_batches": totalBatches,
	}}, 1, 0)
}

// ResendMissingBatches re-sends a specific set of batch numbers from
// items individually, applying the same batch-size policy as the
// original backfill so batch boundaries line up.
func (h *Hub) ResendMissingBatches(handle Handle, items []interface{}, batchNumbers []int) {
	sub, ok := h.subs.Load(uint64(handle))
	if !ok {
		return
	}

	total := len(items)
	size, _ := batchSize(total)
	totalBatches := 1
	if total > 0 {
		totalBatches = (total + size - 1) / size
	}

	for _, batch := range batchNumbers {
		if batch < 1 || batch > totalBatches {
			continue
		}
		start := (batch - 1) * size
		end := start + size
		if end > total || size == 0 {
			end = total
		}

		frame := Frame{Type: "batch_data", Data: map[string]interface{}{
			"batch_number":  batch,
			"total_batches": totalBatches,
			"items":         items[start:end],
		}}
		h.sendSync(sub, frame, batchRetries, batchBackoff)
	}
}

const (
	batchRetries = 3
	batchBackoff = 500 * time.Millisecond
)

// livenessLoop probes idle subscribers and removes unresponsive ones.
func (h *Hub) livenessLoop() {
	defer close(h.doneCh)

	ticker := time.NewTicker(probeInterval)
	defer ticker.Stop()

	for {
		select {
		case <-h.stopCh:
			return
		case <-ticker.C:
			h.sweep()
		}
	}
}

func (h *Hub) sweep() {
	probeAfter, deadAfter := probeAfterIdle, deadAfterIdle
	if h.underPressure.Load() {
		probeAfter, deadAfter = probeAfterPress, deadAfterPress
	}

	now := time.Now()
	var sentCount, failedCount int

	for _, id := range h.subs.Snapshot() {
		sub, ok := h.subs.Load(id)
		if !ok {
			continue
		}

		idle := sub.idleFor(now)
		if idle < probeAfter {
			continue
		}

		if idle >= deadAfter {
			h.remove(id, sub)
			continue
		}

		if h.RequestProbe(Handle(id)) {
			sentCount++
		} else {
			failedCount++
			h.remove(id, sub)
		}
	}

	h.log.Info("hub: liveness sweep complete", logging.Fields{
		"subscribers": h.subs.Len(),
		"probed":      sentCount,
		"failed":      failedCount,
	})
}

// RequestProbe pings one subscriber, updating last_active on success or
// incrementing its failed-probe counter on failure.
func (h *Hub) RequestProbe(handle Handle) bool {
	sub, ok := h.subs.Load(uint64(handle))
	if !ok {
		return false
	}

	if h.sendSync(sub, Frame{Type: "server_heartbeat", Data: nil}, 1, 0) {
		sub.failedProbe.Store(0)
		return true
	}

	sub.failedProbe.Add(1)
	return false
}

// SetUnderPressure toggles the accelerated liveness schedule used when
// the process is under memory pressure.
func (h *Hub) SetUnderPressure(v bool) {
	h.underPressure.Store(v)
}

// RecordReceived marks one inbound client message against handle's
// subscriber counters (request_attempts, batch_ack, ping, ...).
func (h *Hub) RecordReceived(handle Handle) {
	if sub, ok := h.subs.Load(uint64(handle)); ok {
		sub.received.Add(1)
		sub.touch()
	}
}

// Shutdown stops the liveness loop and closes every subscriber transport.
func (h *Hub) Shutdown() {
	h.once.Do(func() {
		close(h.stopCh)
		<-h.doneCh
	})

	for _, id := range h.subs.Snapshot() {
		if sub, ok := h.subs.Load(id); ok {
			h.remove(id, sub)
		}
	}
}
