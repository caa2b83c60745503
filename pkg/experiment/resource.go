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
	"errors"
	"time"

	"github.com/scalehub/scalehub/pkg/config"
	"github.com/scalehub/scalehub/pkg/metrics"
	"github.com/scalehub/scalehub/pkg/scaling"
	"github.com/scalehub/scalehub/pkg/shared/logging"
	"github.com/scalehub/scalehub/pkg/worker"
)

// ResourceSweep repeats the whole multi-run cycle once per swept worker
// type, substituting the type into every descriptor of the plan. Records of
// all sweep passes are archived together.
type ResourceSweep struct {
	cfg  *config.ExperimentConfig
	deps Deps
	w    *worker.Worker

	records []RunRecord
}

func newResourceSweep(cfg *config.ExperimentConfig, deps Deps) *ResourceSweep {
	return &ResourceSweep{
		cfg:  cfg,
		deps: deps,
		w:    worker.NewWorker(),
	}
}

func (e *ResourceSweep) Worker() *worker.Worker {
	return e.w
}

func (e *ResourceSweep) Starting(ctx context.Context) error {
	if len(e.cfg.SweepWorkerTypes) == 0 {
		return &config.ConfigurationError{Reason: "resource experiment without sweep worker types"}
	}
	logging.FromContext(ctx).Infow("Starting resource sweep experiment", "types", e.cfg.SweepWorkerTypes)
	e.w.Start(func() {
		e.runLoop(ctx)
	})
	return nil
}

func (e *ResourceSweep) Running(ctx context.Context) {
	logging.FromContext(ctx).Info("Resource sweep running, waiting for completion")
	e.w.Join()
}

// sweepConfig derives the per-type config: same plan, every worker
// descriptor re-pointed at the swept type.
func sweepConfig(cfg *config.ExperimentConfig, workerType string) *config.ExperimentConfig {
	derived := *cfg
	derived.Plan = make([]config.ScalingStep, len(cfg.Plan))
	for i, step := range cfg.Plan {
		derived.Plan[i] = step
		derived.Plan[i].Workers = make([]config.WorkerDescriptor, len(step.Workers))
		copy(derived.Plan[i].Workers, step.Workers)
		for j := range derived.Plan[i].Workers {
			derived.Plan[i].Workers[j].Type = workerType
		}
	}
	return &derived
}

func (e *ResourceSweep) runLoop(ctx context.Context) {
	log := logging.FromContext(ctx)
	for _, workerType := range e.cfg.SweepWorkerTypes {
		cfg := sweepConfig(e.cfg, workerType)
		log.Infow("Sweeping worker type", "workerType", workerType)
		for run := 0; run < cfg.Runs; run++ {
			log.Infow("Starting run", "workerType", workerType, "run", run+1, "runs", cfg.Runs)
			startTS := time.Now().Unix()
			if err := e.singleRun(ctx, cfg); err != nil {
				if errors.Is(err, scaling.ErrCancelled) {
					log.Infow("Run cancelled", "workerType", workerType, "run", run+1)
				} else {
					log.Errorw("Run failed, aborting sweep", "workerType", workerType, "run", run+1, "err", err)
					metrics.ExperimentFailuresTotal.WithLabelValues(e.cfg.Type, "run_error").Inc()
				}
				return
			}
			e.records = append(e.records, RunRecord{StartTS: startTS, EndTS: time.Now().Unix()})
			metrics.ExperimentRunsTotal.WithLabelValues(e.cfg.Type).Inc()
			if run+1 < cfg.Runs && e.w.Sleep(interRunPauseSeconds) {
				return
			}
		}
	}
}

func (e *ResourceSweep) singleRun(ctx context.Context, cfg *config.ExperimentConfig) error {
	if err := e.deps.Resources.CreateGenerators(ctx, cfg.Generators); err != nil {
		return err
	}
	sc := scaling.NewController(e.deps.Resources, e.deps.NewJobRuntime(cfg.Job), e.w, cfg,
		scaling.WithPoolReadyTimeout(e.deps.Settings.Cluster.PoolReadyTimeout),
		scaling.WithRunningPoll(e.deps.Settings.JobRuntime.RunningMaxAttempts, e.deps.Settings.JobRuntime.RunningInterval))
	if err := sc.Run(ctx); err != nil {
		return err
	}
	e.Cleaning(ctx)
	return nil
}

func (e *ResourceSweep) Finishing(ctx context.Context) {
	finishRuns(ctx, e.deps, e.cfg, e.records)
}

func (e *ResourceSweep) Cleaning(ctx context.Context) {
	cleanCluster(ctx, e.deps, e.cfg)
}
