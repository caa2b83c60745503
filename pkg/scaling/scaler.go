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

// Package scaling executes an ordered scaling plan against the cluster and
// the running job, one increment at a time, observing cooperative
// cancellation between increments.
package scaling

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/scalehub/scalehub/pkg/config"
	"github.com/scalehub/scalehub/pkg/jobruntime"
	"github.com/scalehub/scalehub/pkg/metrics"
	"github.com/scalehub/scalehub/pkg/shared/logging"
	"github.com/scalehub/scalehub/pkg/worker"
)

// ErrCancelled indicates the plan was interrupted by a stop request rather
// than a failure. Applied increments are never rolled back.
var ErrCancelled = errors.New("scaling cancelled")

// ClusterOps is the slice of the resource lifecycle manager the plan
// executor needs.
type ClusterOps interface {
	ScaleWorkerPool(ctx context.Context, workerType string, replicas int) error
	WorkerPoolReplicas(ctx context.Context, workerType string) (int, error)
	ReadyWorkerPoolReplicas(ctx context.Context, workerType string) (int, error)
	NextNode(ctx context.Context, nodeType, variant string) (string, error)
	MarkNodeSchedulable(ctx context.Context, nodeName string) error
	MarkNodeFull(ctx context.Context, nodeName string) error
	ResetScalingLabels(ctx context.Context) error
	ResetStateLabels(ctx context.Context) error
}

// JobOps is the slice of the job runtime manager the plan executor needs.
type JobOps interface {
	Submit(ctx context.Context, startParallelism int) (*jobruntime.JobHandle, error)
	FetchOperatorMap(ctx context.Context, handle *jobruntime.JobHandle) error
	Rescale(ctx context.Context, handle *jobruntime.JobHandle, newParallelism int) error
	WaitUntilRunning(ctx context.Context, handle *jobruntime.JobHandle, maxAttempts int, interval time.Duration) error
	ReconcileSingleJob(ctx context.Context, handle *jobruntime.JobHandle) error
}

type options struct {
	poolReadyTimeout   time.Duration
	runningMaxAttempts int
	runningInterval    time.Duration
	// stepPauseSeconds separates a finished step from the next node claim.
	stepPauseSeconds int
}

func defaultOptions() *options {
	return &options{
		poolReadyTimeout:   10 * time.Minute,
		runningMaxAttempts: 15,
		runningInterval:    5 * time.Second,
		stepPauseSeconds:   5,
	}
}

type Option func(*options)

// WithPoolReadyTimeout bounds the replica-readiness poll after a worker
// pool scale-up.
func WithPoolReadyTimeout(d time.Duration) Option {
	return func(o *options) {
		o.poolReadyTimeout = d
	}
}

// WithRunningPoll bounds the job-RUNNING poll after a submit or rescale.
func WithRunningPoll(maxAttempts int, interval time.Duration) Option {
	return func(o *options) {
		o.runningMaxAttempts = maxAttempts
		o.runningInterval = interval
	}
}

// Controller walks the scaling plan of one experiment run. It is built per
// run and not reused.
type Controller struct {
	cluster ClusterOps
	jobs    JobOps
	w       *worker.Worker
	cfg     *config.ExperimentConfig
	opts    *options

	handle *jobruntime.JobHandle
}

func NewController(cluster ClusterOps, jobs JobOps, w *worker.Worker, cfg *config.ExperimentConfig, opts ...Option) *Controller {
	o := defaultOptions()
	for _, opt := range opts {
		opt(o)
	}
	return &Controller{
		cluster: cluster,
		jobs:    jobs,
		w:       w,
		cfg:     cfg,
		opts:    o,
	}
}

// Handle returns the job handle of the current run, nil before bootstrap.
func (c *Controller) Handle() *jobruntime.JobHandle {
	return c.handle
}

func scopeOf(d config.WorkerDescriptor) config.ScalingScope {
	if d.Scope == "" {
		return config.ScopeWorkerPool
	}
	return d.Scope
}

// bootstrap prepares the cluster for a fresh run: labels are reset, the
// plan's first node is made schedulable, the first worker pool is scaled to
// its starting size and the job is submitted on it.
func (c *Controller) bootstrap(ctx context.Context) (string, error) {
	log := logging.FromContext(ctx)
	if err := c.cluster.ResetScalingLabels(ctx); err != nil {
		return "", err
	}
	if err := c.cluster.ResetStateLabels(ctx); err != nil {
		return "", err
	}

	firstStep := c.cfg.Plan[0]
	firstNode, err := c.cluster.NextNode(ctx, firstStep.Node.Type, firstStep.Node.Variant)
	if err != nil {
		return "", err
	}
	log.Infow("Bootstrapping scaling plan", "firstNode", firstNode)
	if err := c.cluster.MarkNodeSchedulable(ctx, firstNode); err != nil {
		return "", err
	}

	first := firstStep.Workers[0]
	startParallelism := c.cfg.Job.StartParallelism
	poolReplicas := 1
	if first.Method == config.MethodBlock && scopeOf(first) == config.ScopeWorkerPool {
		// A block-grown first pool comes up at full size before the job
		// starts, so the job can start at matching parallelism.
		poolReplicas = first.Count
		startParallelism = first.Count
	}
	if err := c.cluster.ScaleWorkerPool(ctx, first.Type, poolReplicas); err != nil {
		return "", err
	}
	if err := c.waitPoolReady(ctx, first.Type, poolReplicas); err != nil {
		return "", err
	}

	handle, err := c.jobs.Submit(ctx, startParallelism)
	if err != nil {
		return "", err
	}
	c.handle = handle
	if err := c.jobs.FetchOperatorMap(ctx, handle); err != nil {
		return "", err
	}
	if err := c.jobs.ReconcileSingleJob(ctx, handle); err != nil {
		return "", err
	}
	return firstNode, nil
}

// waitPoolReady polls the pool's ready replica count at one-second
// granularity until target replicas are observed, bounded by the configured
// timeout. A stop request surfaces within the next tick.
func (c *Controller) waitPoolReady(ctx context.Context, workerType string, target int) error {
	deadline := time.Now().Add(c.opts.poolReadyTimeout)
	for {
		ready, err := c.cluster.ReadyWorkerPoolReplicas(ctx, workerType)
		if err != nil {
			return err
		}
		if ready >= target {
			return nil
		}
		if time.Now().After(deadline) {
			return fmt.Errorf("worker pool %q not ready after %v, %d/%d replicas", workerType, c.opts.poolReadyTimeout, ready, target)
		}
		if c.w.Sleep(1) {
			return ErrCancelled
		}
	}
}

// applyWorkerPoolIncrement grows the pool by inc replicas, waits until they
// report ready, then redeploys the job at a parallelism equal to the pool's
// new replica count and verifies it is the single healthy job. The redeploy
// parallelism tracks this one pool's size, not the cluster-wide slot total.
func (c *Controller) applyWorkerPoolIncrement(ctx context.Context, workerType string, inc int) error {
	log := logging.FromContext(ctx)
	current, err := c.cluster.WorkerPoolReplicas(ctx, workerType)
	if err != nil {
		return err
	}
	target := current + inc
	log.Infow("Growing worker pool", "workerType", workerType, "replicas", target)
	if err := c.cluster.ScaleWorkerPool(ctx, workerType, target); err != nil {
		return err
	}
	if err := c.waitPoolReady(ctx, workerType, target); err != nil {
		return err
	}
	if err := c.jobs.Rescale(ctx, c.handle, target); err != nil {
		return err
	}
	if err := c.jobs.FetchOperatorMap(ctx, c.handle); err != nil {
		return err
	}
	if err := c.jobs.ReconcileSingleJob(ctx, c.handle); err != nil {
		return err
	}
	return c.jobs.WaitUntilRunning(ctx, c.handle, c.opts.runningMaxAttempts, c.opts.runningInterval)
}

// applyParallelismIncrement raises the monitored operator's parallelism by
// inc through the checkpoint, redeploy, poll cycle. Any sub-step failure
// aborts the plan.
func (c *Controller) applyParallelismIncrement(ctx context.Context, inc int) error {
	log := logging.FromContext(ctx)
	target := c.handle.MonitoredParallelism + inc
	log.Infow("Raising job parallelism", "parallelism", target)
	if err := c.jobs.Rescale(ctx, c.handle, target); err != nil {
		return err
	}
	return c.jobs.WaitUntilRunning(ctx, c.handle, c.opts.runningMaxAttempts, c.opts.runningInterval)
}

func (c *Controller) applyDescriptor(ctx context.Context, d config.WorkerDescriptor) error {
	scope := scopeOf(d)
	for _, inc := range SequenceFor(d.Method, d.Count) {
		if c.w.Cancelled() {
			return ErrCancelled
		}
		var err error
		switch scope {
		case config.ScopeJobParallelism:
			err = c.applyParallelismIncrement(ctx, inc)
		default:
			err = c.applyWorkerPoolIncrement(ctx, d.Type, inc)
		}
		if err != nil {
			return err
		}
		metrics.ScaleStepsTotal.WithLabelValues(d.Type, string(scope)).Inc()
		if c.w.Sleep(c.cfg.ScalingIntervalSeconds) {
			return ErrCancelled
		}
	}
	return nil
}

// stepWorkers applies the first-step bootstrap adjustment: the plan's first
// pool unit is already placed during bootstrap, so a worker-pool first
// descriptor either shrinks by one unit or drops out entirely. Parallelism
// descriptors are untouched, bootstrap never raises parallelism.
func stepWorkers(stepIndex int, workers []config.WorkerDescriptor) []config.WorkerDescriptor {
	if stepIndex != 0 || len(workers) == 0 {
		return workers
	}
	first := workers[0]
	if scopeOf(first) != config.ScopeWorkerPool {
		return workers
	}
	if first.Count == 1 || first.Method == config.MethodBlock {
		return workers[1:]
	}
	adjusted := make([]config.WorkerDescriptor, len(workers))
	copy(adjusted, workers)
	adjusted[0].Count--
	return adjusted
}

// Run executes the whole plan: bootstrap, an initial monitoring interval,
// then every step in order. Each step is bound to one node, which is marked
// FULL once its workers are placed. The plan aborts on the first failure;
// nothing already applied is rolled back.
func (c *Controller) Run(ctx context.Context) error {
	log := logging.FromContext(ctx)
	nodeName, err := c.bootstrap(ctx)
	if err != nil {
		return fmt.Errorf("failed to bootstrap scaling plan, %w", err)
	}

	log.Info("Bootstrap complete, waiting one monitoring interval")
	if c.w.Sleep(c.cfg.ScalingIntervalSeconds) {
		return ErrCancelled
	}

	for i, step := range c.cfg.Plan {
		if i > 0 {
			nodeName, err = c.cluster.NextNode(ctx, step.Node.Type, step.Node.Variant)
			if err != nil {
				return err
			}
			if err := c.cluster.MarkNodeSchedulable(ctx, nodeName); err != nil {
				return err
			}
		}
		log.Infow("Scaling step", "step", i, "node", nodeName)

		workers := stepWorkers(i, step.Workers)
		for _, d := range workers {
			if err := c.applyDescriptor(ctx, d); err != nil {
				return err
			}
		}

		if err := c.cluster.MarkNodeFull(ctx, nodeName); err != nil {
			return err
		}
		log.Infow("Scaling step finished", "step", i, "node", nodeName)
		if c.w.Sleep(c.opts.stepPauseSeconds) {
			return ErrCancelled
		}
	}
	log.Info("Scaling plan finished")
	return nil
}
