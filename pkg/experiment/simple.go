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

// Simple runs the configured scaling plan a fixed number of times, cleaning
// the cluster between runs and archiving one record per completed run.
type Simple struct {
	cfg  *config.ExperimentConfig
	deps Deps
	w    *worker.Worker

	records []RunRecord
}

func newSimple(cfg *config.ExperimentConfig, deps Deps) *Simple {
	return &Simple{
		cfg:  cfg,
		deps: deps,
		w:    worker.NewWorker(),
	}
}

func (e *Simple) Worker() *worker.Worker {
	return e.w
}

func (e *Simple) Starting(ctx context.Context) error {
	logging.FromContext(ctx).Info("Starting simple experiment")
	e.w.Start(func() {
		e.runLoop(ctx)
	})
	return nil
}

func (e *Simple) Running(ctx context.Context) {
	logging.FromContext(ctx).Info("Simple experiment running, waiting for completion")
	e.w.Join()
}

func (e *Simple) runLoop(ctx context.Context) {
	log := logging.FromContext(ctx)
	for run := 0; run < e.cfg.Runs; run++ {
		log.Infow("Starting run", "run", run+1, "runs", e.cfg.Runs)
		startTS := time.Now().Unix()
		if err := e.singleRun(ctx, e.cfg); err != nil {
			if errors.Is(err, scaling.ErrCancelled) {
				log.Infow("Run cancelled", "run", run+1)
			} else {
				log.Errorw("Run failed, aborting remaining runs", "run", run+1, "err", err)
				metrics.ExperimentFailuresTotal.WithLabelValues(e.cfg.Type, "run_error").Inc()
			}
			return
		}
		e.records = append(e.records, RunRecord{StartTS: startTS, EndTS: time.Now().Unix()})
		metrics.ExperimentRunsTotal.WithLabelValues(e.cfg.Type).Inc()
		log.Infow("Run completed", "run", run+1)
		if run+1 < e.cfg.Runs && e.w.Sleep(interRunPauseSeconds) {
			return
		}
	}
}

// singleRun deploys the load generators, walks the scaling plan once and
// cleans the cluster afterwards so the next run starts fresh.
func (e *Simple) singleRun(ctx context.Context, cfg *config.ExperimentConfig) error {
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

func (e *Simple) Finishing(ctx context.Context) {
	finishRuns(ctx, e.deps, e.cfg, e.records)
}

func (e *Simple) Cleaning(ctx context.Context) {
	cleanCluster(ctx, e.deps, e.cfg)
}

// finishRuns archives the run records and the controller's own logs. All
// failures are logged, none are fatal.
func finishRuns(ctx context.Context, deps Deps, cfg *config.ExperimentConfig, records []RunRecord) {
	log := logging.FromContext(ctx)
	if len(records) == 0 {
		log.Warn("No completed runs, skipping archive")
		return
	}
	dir, err := archiveRuns(deps.Settings.ArchiveBasePath, cfg, records)
	if err != nil {
		log.Errorw("Failed to archive run records", "err", err)
		return
	}
	sinceSeconds := time.Now().Unix() - records[0].StartTS
	logs, err := deps.Resources.PodLogsSince(ctx, monitorSelector, sinceSeconds)
	if err != nil {
		log.Errorw("Failed to collect monitor logs", "err", err)
		return
	}
	if err := archiveMonitorLogs(dir, logs); err != nil {
		log.Errorw("Failed to archive monitor logs", "err", err)
		return
	}
	log.Infow("Archived experiment results", "dir", dir, "runs", len(records))
}

// cleanCluster restores the cluster to its pre-experiment shape: labels
// reset, pools drained, job manager restarted, generators removed. Each
// action is attempted regardless of earlier failures.
func cleanCluster(ctx context.Context, deps Deps, cfg *config.ExperimentConfig) {
	log := logging.FromContext(ctx)
	if err := deps.Resources.ResetScalingLabels(ctx); err != nil {
		log.Errorw("Failed to reset scaling labels", "err", err)
	}
	if err := deps.Resources.ResetStateLabels(ctx); err != nil {
		log.Errorw("Failed to reset state labels", "err", err)
	}
	if err := deps.Resources.ResetWorkerPools(ctx, deps.Settings.Cluster.PoolReadyTimeout); err != nil {
		log.Errorw("Failed to reset worker pools", "err", err)
	}
	if err := deps.Resources.DeletePodsByLabel(ctx, jobManagerSelector); err != nil {
		log.Errorw("Failed to restart job manager pods", "err", err)
	}
	if err := deps.Resources.DeleteGenerators(ctx, cfg.Generators); err != nil {
		log.Errorw("Failed to delete load generators", "err", err)
	}
}
