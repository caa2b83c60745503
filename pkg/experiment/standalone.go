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

package experiment

import (
	"context"

	"github.com/scalehub/scalehub/pkg/shared/logging"
	"github.com/scalehub/scalehub/pkg/worker"
)

// Standalone covers externally driven jobs: the controller only tracks the
// lifecycle while something else does the scaling. The body blocks until a
// stop arrives.
type Standalone struct {
	w *worker.Worker
}

func newStandalone() *Standalone {
	return &Standalone{w: worker.NewWorker()}
}

func (e *Standalone) Worker() *worker.Worker {
	return e.w
}

func (e *Standalone) Starting(ctx context.Context) error {
	logging.FromContext(ctx).Info("Starting standalone experiment")
	e.w.Start(func() {
		for !e.w.Sleep(1) {
		}
	})
	return nil
}

func (e *Standalone) Running(ctx context.Context) {
	logging.FromContext(ctx).Info("Standalone experiment running until stopped")
	e.w.Join()
}

func (e *Standalone) Finishing(ctx context.Context) {
	logging.FromContext(ctx).Info("Finishing standalone experiment")
}

func (e *Standalone) Cleaning(ctx context.Context) {
	logging.FromContext(ctx).Info("Cleaning standalone experiment")
}
