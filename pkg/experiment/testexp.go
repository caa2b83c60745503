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

// Test exercises the full lifecycle without touching the cluster. Its body
// idles for up to a minute, leaving early when stopped.
type Test struct {
	w *worker.Worker
}

func newTest() *Test {
	return &Test{w: worker.NewWorker()}
}

func (e *Test) Worker() *worker.Worker {
	return e.w
}

func (e *Test) Starting(ctx context.Context) error {
	log := logging.FromContext(ctx)
	log.Info("Starting test experiment")
	e.w.Start(func() {
		e.w.Sleep(60)
		log.Info("Test experiment body finished")
	})
	return nil
}

func (e *Test) Running(ctx context.Context) {
	logging.FromContext(ctx).Info("Test experiment running")
	e.w.Join()
}

func (e *Test) Finishing(ctx context.Context) {
	logging.FromContext(ctx).Info("Finishing test experiment")
}

func (e *Test) Cleaning(ctx context.Context) {
	logging.FromContext(ctx).Info("Cleaning test experiment")
}
