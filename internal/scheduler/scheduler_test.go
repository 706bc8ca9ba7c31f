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

package scheduler_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sabouaram/baitline/internal/logging"
	"github.com/sabouaram/baitline/internal/scheduler"
)

func newTestLogger() logging.Logger {
	return logging.New(logging.Options{Level: "ERROR"})
}

func TestAdmitRunsHandlerExactlyOnce(t *testing.T) {
	s := scheduler.New(scheduler.Options{MaxWorkers: 4, MaxPerIP: 4}, newTestLogger())
	defer s.Shutdown(time.Second)

	var calls int32
	var wg sync.WaitGroup
	wg.Add(1)

	ok := s.Admit(context.Background(), "1.1.1.1", func(ctx context.Context, touch func()) {
		defer wg.Done()
		calls++
	})
	require.True(t, ok)
	wg.Wait()

	assert.EqualValues(t, 1, calls)
}

func TestPerIPCapRefusesExtra(t *testing.T) {
	s := scheduler.New(scheduler.Options{MaxWorkers: 10, MaxPerIP: 2}, newTestLogger())
	defer s.Shutdown(time.Second)

	block := make(chan struct{})
	var admitted int

	for i := 0; i < 3; i++ {
		ok := s.Admit(context.Background(), "2.2.2.2", func(ctx context.Context, touch func()) {
			<-block
		})
		if ok {
			admitted++
		}
	}

	assert.Equal(t, 2, admitted, "third connection from the same IP must be refused")
	close(block)
}

func TestGlobalCapRefusesBeyondCapacity(t *testing.T) {
	s := scheduler.New(scheduler.Options{MaxWorkers: 1, MaxPerIP: 10}, newTestLogger())
	defer s.Shutdown(time.Second)

	block := make(chan struct{})
	ok1 := s.Admit(context.Background(), "3.3.3.1", func(ctx context.Context, touch func()) { <-block })
	ok2 := s.Admit(context.Background(), "3.3.3.2", func(ctx context.Context, touch func()) {})

	assert.True(t, ok1)
	assert.False(t, ok2, "second connection must be refused once the global pool is saturated")
	close(block)
}

func TestAdmitRefusesAfterShutdown(t *testing.T) {
	s := scheduler.New(scheduler.Options{MaxWorkers: 4, MaxPerIP: 4}, newTestLogger())
	s.Shutdown(time.Second)

	ok := s.Admit(context.Background(), "4.4.4.4", func(ctx context.Context, touch func()) {})
	assert.False(t, ok)
}

func TestTouchUpdatesLiveRecordsForIP(t *testing.T) {
	s := scheduler.New(scheduler.Options{MaxWorkers: 4, MaxPerIP: 4, IdleTimeout: 50 * time.Millisecond}, newTestLogger())
	defer s.Shutdown(time.Second)

	started := make(chan struct{})
	stop := make(chan struct{})

	go func() {
		s.Admit(context.Background(), "5.5.5.5", func(ctx context.Context, touch func()) {
			close(started)
			for {
				select {
				case <-stop:
					return
				case <-time.After(10 * time.Millisecond):
					s.Touch("5.5.5.5")
				}
			}
		})
	}()

	<-started
	time.Sleep(200 * time.Millisecond)
	assert.Equal(t, 1, s.LiveCount(), "repeated Touch calls must keep the record alive past IdleTimeout")
	close(stop)
}

func TestIdleConnectionIsEvicted(t *testing.T) {
	s := scheduler.New(scheduler.Options{MaxWorkers: 4, MaxPerIP: 4, IdleTimeout: 30 * time.Millisecond}, newTestLogger())
	defer s.Shutdown(time.Second)

	done := make(chan struct{})
	s.Admit(context.Background(), "6.6.6.6", func(ctx context.Context, touch func()) {
		<-ctx.Done()
		close(done)
	})

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("idle connection was never evicted")
	}

	assert.Equal(t, 0, s.PerIPCount("6.6.6.6"))
}
