/*
Copyright 2025 The Scalehub Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

// Package worker provides the cooperative cancellation primitive shared by
// every experiment body and polling loop. Cancellation is best effort: an
// external call already in flight is never interrupted, only subsequent
// waiting is.
package worker

import (
	"sync"
	"time"

	"go.uber.org/atomic"
)

// Worker wraps a unit of work with a cooperative cancellation flag.
// The zero value is not usable, use NewWorker.
type Worker struct {
	mu        sync.Mutex
	wg        sync.WaitGroup
	active    bool
	cancelled *atomic.Bool
}

func NewWorker() *Worker {
	return &Worker{
		cancelled: atomic.NewBool(false),
	}
}

// Start begins executing target on a new goroutine and returns immediately.
// Starting an already active worker is a no-op.
func (w *Worker) Start(target func()) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.active {
		return
	}
	w.active = true
	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		target()
	}()
}

// Stop sets the cancellation flag and blocks until the worker goroutine has
// exited. Calling Stop when no worker is active only sets the flag.
func (w *Worker) Stop() {
	w.cancelled.Store(true)
	w.mu.Lock()
	active := w.active
	w.mu.Unlock()
	if active {
		w.wg.Wait()
	}
}

// Join blocks until the worker goroutine has exited, without requesting
// cancellation.
func (w *Worker) Join() {
	w.mu.Lock()
	active := w.active
	w.mu.Unlock()
	if active {
		w.wg.Wait()
	}
}

// Cancelled reports whether cancellation has been requested.
func (w *Worker) Cancelled() bool {
	return w.cancelled.Load()
}

// Sleep suspends the calling goroutine for the given number of seconds,
// decomposed into 1-second ticks with the cancellation flag checked at each
// tick. It returns true the moment cancellation is observed, false after
// the full duration. This is the single suspension primitive reused by the
// polling and backoff loops of the system.
func (w *Worker) Sleep(seconds int) bool {
	for i := 0; i < seconds; i++ {
		if w.cancelled.Load() {
			return true
		}
		time.Sleep(time.Second)
	}
	return w.cancelled.Load()
}
