// Copyright 2017 Intel Corporation
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package fetch

import (
	"context"
	"os"
	"sync"
	"time"

	"github.com/pkg/errors"
)

const maxBackoff = 30 * time.Second

// Result summarizes a completed parallel batch.
type Result struct {
	Succeeded int
	Failed    int
}

// Handle schedules a bounded-concurrency batch of downloads, grounded on
// swupd/delta.go's channel+sync.WaitGroup worker-pool idiom, generalized
// with hysteresis scheduling, retry-with-backoff and partial resume (spec
// §4.3's parallel_begin/parallel_enqueue/parallel_end).
type Handle struct {
	opts       Options
	maxRetries int

	mu       sync.Mutex
	cond     *sync.Cond
	maxXfer  int
	inFlight int
	seen     map[string]bool
	wg       sync.WaitGroup

	succeeded       int
	failed          int
	consecutiveFull int // consecutive enqueues that exhausted all retries
}

// ParallelBegin creates a Handle that allows at most maxXfer concurrent
// transfers.
func ParallelBegin(maxXfer int, maxRetries int, opts Options) *Handle {
	if maxXfer < 1 {
		maxXfer = 1
	}
	h := &Handle{
		opts:       opts,
		maxRetries: maxRetries,
		maxXfer:    maxXfer,
		seen:       make(map[string]bool),
	}
	h.cond = sync.NewCond(&h.mu)
	return h
}

// Enqueue schedules url to be downloaded to dest. If hashKey is non-empty,
// a second Enqueue with the same hashKey is a no-op (spec: "same hash_key
// is enqueued at most once"). successCB/errorCB, if non-nil, are invoked
// exactly once per accepted enqueue, from a background goroutine, when the
// transfer finishes.
func (h *Handle) Enqueue(ctx context.Context, url, dest, hashKey string, userdata interface{}, successCB func(interface{}), errorCB func(error, interface{})) {
	h.mu.Lock()
	if hashKey != "" {
		if h.seen[hashKey] {
			h.mu.Unlock()
			return
		}
		h.seen[hashKey] = true
	}
	// Hysteresis: block while full, until we've drained to half capacity,
	// not merely until one slot frees up.
	for h.inFlight >= h.maxXfer {
		h.cond.Wait()
	}
	h.inFlight++
	h.mu.Unlock()

	h.wg.Add(1)
	go func() {
		defer h.wg.Done()
		err := h.fetchWithRetry(ctx, url, dest)

		h.mu.Lock()
		h.inFlight--
		if err != nil {
			h.failed++
			h.consecutiveFull++
			if h.consecutiveFull >= 3 && h.maxXfer > 1 {
				// Widespread failure: fall back to serial transfers for
				// the remainder of this batch.
				h.maxXfer = 1
			}
		} else {
			h.succeeded++
			h.consecutiveFull = 0
		}
		if h.inFlight <= h.maxXfer/2 {
			h.cond.Broadcast()
		}
		h.mu.Unlock()

		if err != nil {
			if errorCB != nil {
				errorCB(err, userdata)
			}
			return
		}
		if successCB != nil {
			successCB(userdata)
		}
	}()
}

// fetchWithRetry retries a single transfer up to h.maxRetries times with
// exponential backoff, attempting partial resume via Range unless the
// server has answered 416 for this destination before.
func (h *Handle) fetchWithRetry(ctx context.Context, url, dest string) error {
	delay := time.Second
	var resumeFrom int64
	resumeDisabled := false

	var lastErr error
	for attempt := 0; attempt <= h.maxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}
			delay *= 2
			if delay > maxBackoff {
				delay = maxBackoff
			}
		}

		var from int64
		if !resumeDisabled {
			from = resumeFrom
		}

		_, err := FetchToFile(ctx, url, dest, h.opts, from)
		if err == nil {
			return nil
		}
		lastErr = err

		if errors.Cause(err) == ErrWriteError {
			// Local-disk errors are never transient; stop immediately.
			return err
		}

		if se, ok := err.(*HTTPStatusError); ok && se.Status == 416 {
			resumeDisabled = true
			_ = os.Remove(dest + ".download")
			continue
		}

		if fi, statErr := os.Stat(dest + ".download"); statErr == nil && !resumeDisabled {
			resumeFrom = fi.Size()
		}
	}
	return lastErr
}

// End waits for every enqueued transfer to finish and returns the batch's
// outcome plus the total number of transfers it attempted.
func (h *Handle) End() (Result, int) {
	h.wg.Wait()
	h.mu.Lock()
	defer h.mu.Unlock()
	return Result{Succeeded: h.succeeded, Failed: h.failed}, h.succeeded + h.failed
}
