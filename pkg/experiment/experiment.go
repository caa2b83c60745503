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

// Package experiment holds the lifecycle bodies executed by the controller
// state machine. Each variant implements the same four phases; the heavy
// lifting happens on a cancellable worker goroutine spawned in Starting and
// joined in Running.
package experiment

import (
	"context"
	"time"

	"github.com/scalehub/scalehub/pkg/config"
	"github.com/scalehub/scalehub/pkg/scaling"
	"github.com/scalehub/scalehub/pkg/worker"
)

const (
	// monitorSelector locates this process's own pods for log archiving.
	monitorSelector = "app=experiment-monitor"
	// jobManagerSelector locates the job manager pods restarted on clean.
	jobManagerSelector = "app=flink,component=jobmanager"
	// interRunPauseSeconds separates consecutive runs of one experiment.
	interRunPauseSeconds = 15
)

// Experiment is one lifecycle's worth of behavior. Starting spawns the
// body, Running joins it, Finishing persists results, Cleaning restores the
// cluster. Only Starting can reject; the later phases degrade by logging.
type Experiment interface {
	Starting(ctx context.Context) error
	Running(ctx context.Context)
	Finishing(ctx context.Context)
	Cleaning(ctx context.Context)
	// Worker exposes the cancellation handle used by the stop path.
	Worker() *worker.Worker
}

// ResourceOps is the cluster surface experiments consume, the scaling
// executor's slice plus generator, pod and pool lifecycle.
type ResourceOps interface {
	scaling.ClusterOps
	CreateGenerators(ctx context.Context, specs []config.GeneratorSpec) error
	DeleteGenerators(ctx context.Context, specs []config.GeneratorSpec) error
	ResetWorkerPools(ctx context.Context, timeout time.Duration) error
	DeletePodsByLabel(ctx context.Context, labelSelector string) error
	PodLogsSince(ctx context.Context, labelSelector string, sinceSeconds int64) (string, error)
}

// Deps carries the collaborators shared by all variants.
type Deps struct {
	Resources ResourceOps
	// NewJobRuntime builds the job runtime collaborator for one job
	// descriptor; called once per experiment.
	NewJobRuntime func(job config.JobDescriptor) scaling.JobOps
	Settings      *config.Settings
}

// New builds the variant declared by the config's type field.
func New(cfg *config.ExperimentConfig, deps Deps) (Experiment, error) {
	switch cfg.Type {
	case "simple":
		return newSimple(cfg, deps), nil
	case "resource":
		return newResourceSweep(cfg, deps), nil
	case "test":
		return newTest(), nil
	case "standalone":
		return newStandalone(), nil
	default:
		return nil, &config.ConfigurationError{Reason: "unknown experiment type " + cfg.Type}
	}
}
