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

package scaling

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scalehub/scalehub/pkg/config"
	"github.com/scalehub/scalehub/pkg/jobruntime"
	"github.com/scalehub/scalehub/pkg/worker"
)

// fakeCluster keeps pool replica counts and node allocation in memory and
// reports every pool immediately ready.
type fakeCluster struct {
	replicas   map[string]int
	nodes      []string
	nextIdx    int
	fullNodes  []string
	scaleCalls []string
}

func newFakeCluster(nodes ...string) *fakeCluster {
	return &fakeCluster{replicas: map[string]int{}, nodes: nodes}
}

func (f *fakeCluster) ScaleWorkerPool(ctx context.Context, workerType string, replicas int) error {
	f.replicas[workerType] = replicas
	f.scaleCalls = append(f.scaleCalls, fmt.Sprintf("%s=%d", workerType, replicas))
	return nil
}

func (f *fakeCluster) WorkerPoolReplicas(ctx context.Context, workerType string) (int, error) {
	return f.replicas[workerType], nil
}

func (f *fakeCluster) ReadyWorkerPoolReplicas(ctx context.Context, workerType string) (int, error) {
	return f.replicas[workerType], nil
}

func (f *fakeCluster) NextNode(ctx context.Context, nodeType, variant string) (string, error) {
	if f.nextIdx >= len(f.nodes) {
		return "", fmt.Errorf("node type %q: no nodes available", nodeType)
	}
	node := f.nodes[f.nextIdx]
	f.nextIdx++
	return node, nil
}

func (f *fakeCluster) MarkNodeSchedulable(ctx context.Context, nodeName string) error { return nil }

func (f *fakeCluster) MarkNodeFull(ctx context.Context, nodeName string) error {
	f.fullNodes = append(f.fullNodes, nodeName)
	return nil
}

func (f *fakeCluster) ResetScalingLabels(ctx context.Context) error { return nil }
func (f *fakeCluster) ResetStateLabels(ctx context.Context) error   { return nil }

// fakeJobs records rescale targets and never fails.
type fakeJobs struct {
	startParallelism int
	rescaleTargets   []int
	submits          int
}

func (f *fakeJobs) Submit(ctx context.Context, startParallelism int) (*jobruntime.JobHandle, error) {
	f.submits++
	return &jobruntime.JobHandle{ID: "job-1", MonitoredParallelism: startParallelism}, nil
}

func (f *fakeJobs) FetchOperatorMap(ctx context.Context, handle *jobruntime.JobHandle) error {
	if handle.Operators == nil {
		handle.Operators = map[string]int{"monitored_op": f.startParallelism}
		handle.MonitoredParallelism = f.startParallelism
	}
	return nil
}

func (f *fakeJobs) Rescale(ctx context.Context, handle *jobruntime.JobHandle, newParallelism int) error {
	f.rescaleTargets = append(f.rescaleTargets, newParallelism)
	handle.MonitoredParallelism = newParallelism
	return nil
}

func (f *fakeJobs) WaitUntilRunning(ctx context.Context, handle *jobruntime.JobHandle, maxAttempts int, interval time.Duration) error {
	return nil
}

func (f *fakeJobs) ReconcileSingleJob(ctx context.Context, handle *jobruntime.JobHandle) error {
	return nil
}

func newTestController(cluster *fakeCluster, jobs *fakeJobs, cfg *config.ExperimentConfig) *Controller {
	c := NewController(cluster, jobs, worker.NewWorker(), cfg,
		WithPoolReadyTimeout(time.Second),
		WithRunningPoll(3, time.Millisecond))
	// Keep the inter-step pauses out of test wall time; the interval is
	// already zero in the test configs.
	c.opts.stepPauseSeconds = 0
	return c
}

func TestRunWorkerPoolScopeRedeploysAtPoolSize(t *testing.T) {
	cfg := &config.ExperimentConfig{
		Type: "simple",
		Job:  config.JobDescriptor{Artifact: "pipeline.jar", MonitoredOperator: "monitored_op"},
		Plan: []config.ScalingStep{{
			Node: config.NodeSelector{Type: "gros"},
			Workers: []config.WorkerDescriptor{
				{Type: "medium", Count: 3, Method: config.MethodLinear, Scope: config.ScopeWorkerPool},
			},
		}},
	}
	cluster := newFakeCluster("node-1")
	jobs := &fakeJobs{startParallelism: 2}
	c := newTestController(cluster, jobs, cfg)

	require.NoError(t, c.Run(context.Background()))
	// The bootstrap scales the pool to 1 and the first unit of the plan is
	// absorbed by it, so two increments remain.
	assert.Equal(t, []string{"medium=1", "medium=2", "medium=3"}, cluster.scaleCalls)
	// Every increment redeploys the job at the pool's new replica count.
	assert.Equal(t, []int{2, 3}, jobs.rescaleTargets)
	assert.Equal(t, 1, jobs.submits)
	assert.Equal(t, []string{"node-1"}, cluster.fullNodes)
}

func TestRunJobParallelismScope(t *testing.T) {
	cfg := &config.ExperimentConfig{
		Type: "simple",
		Job:  config.JobDescriptor{Artifact: "pipeline.jar", MonitoredOperator: "monitored_op", StartParallelism: 2},
		Plan: []config.ScalingStep{{
			Node: config.NodeSelector{Type: "gros"},
			Workers: []config.WorkerDescriptor{
				{Type: "medium", Count: 3, Method: config.MethodLinear, Scope: config.ScopeJobParallelism},
			},
		}},
	}
	cluster := newFakeCluster("node-1")
	jobs := &fakeJobs{startParallelism: 2}
	c := newTestController(cluster, jobs, cfg)

	require.NoError(t, c.Run(context.Background()))
	// Three single-unit increments on top of the starting parallelism.
	assert.Equal(t, []int{3, 4, 5}, jobs.rescaleTargets)
	// The pool only sees its bootstrap sizing.
	assert.Equal(t, []string{"medium=1"}, cluster.scaleCalls)
}

func TestRunBlockFirstDescriptorSkipped(t *testing.T) {
	cfg := &config.ExperimentConfig{
		Type: "simple",
		Job:  config.JobDescriptor{Artifact: "pipeline.jar", MonitoredOperator: "monitored_op"},
		Plan: []config.ScalingStep{{
			Node: config.NodeSelector{Type: "gros"},
			Workers: []config.WorkerDescriptor{
				{Type: "medium", Count: 4, Method: config.MethodBlock, Scope: config.ScopeWorkerPool},
			},
		}},
	}
	cluster := newFakeCluster("node-1")
	jobs := &fakeJobs{startParallelism: 4}
	c := newTestController(cluster, jobs, cfg)

	require.NoError(t, c.Run(context.Background()))
	// The block pool is fully sized during bootstrap and its descriptor is
	// consumed there; no further scaling happens.
	assert.Equal(t, []string{"medium=4"}, cluster.scaleCalls)
	assert.Empty(t, jobs.rescaleTargets)
	assert.Equal(t, []string{"node-1"}, cluster.fullNodes)
}

func TestRunMultiStepAdvancesNodes(t *testing.T) {
	cfg := &config.ExperimentConfig{
		Type: "simple",
		Job:  config.JobDescriptor{Artifact: "pipeline.jar", MonitoredOperator: "monitored_op"},
		Plan: []config.ScalingStep{
			{
				Node:    config.NodeSelector{Type: "gros"},
				Workers: []config.WorkerDescriptor{{Type: "medium", Count: 2, Method: config.MethodLinear}},
			},
			{
				Node:    config.NodeSelector{Type: "gros"},
				Workers: []config.WorkerDescriptor{{Type: "medium", Count: 2, Method: config.MethodExponential}},
			},
		},
	}
	cluster := newFakeCluster("node-1", "node-2")
	jobs := &fakeJobs{startParallelism: 1}
	c := newTestController(cluster, jobs, cfg)

	require.NoError(t, c.Run(context.Background()))
	// Step 0: bootstrap to 1, one remaining unit. Step 1: 1+1 on a fresh
	// node.
	assert.Equal(t, []string{"medium=1", "medium=2", "medium=3", "medium=4"}, cluster.scaleCalls)
	assert.Equal(t, []int{2, 3, 4}, jobs.rescaleTargets)
	assert.Equal(t, []string{"node-1", "node-2"}, cluster.fullNodes)
}

func TestRunCancelledBeforeIncrement(t *testing.T) {
	cfg := &config.ExperimentConfig{
		Type: "simple",
		Job:  config.JobDescriptor{Artifact: "pipeline.jar", MonitoredOperator: "monitored_op"},
		Plan: []config.ScalingStep{{
			Node: config.NodeSelector{Type: "gros"},
			Workers: []config.WorkerDescriptor{
				{Type: "medium", Count: 5, Method: config.MethodLinear},
			},
		}},
	}
	cluster := newFakeCluster("node-1")
	jobs := &fakeJobs{startParallelism: 1}
	w := worker.NewWorker()
	c := NewController(cluster, jobs, w, cfg, WithPoolReadyTimeout(time.Second))
	c.opts.stepPauseSeconds = 0

	w.Stop()
	err := c.Run(context.Background())
	require.ErrorIs(t, err, ErrCancelled)
	// Only the bootstrap sizing happened; no increment was applied and the
	// node was never marked FULL.
	assert.Equal(t, []string{"medium=1"}, cluster.scaleCalls)
	assert.Empty(t, cluster.fullNodes)
}

func TestStepWorkersBootstrapAdjustment(t *testing.T) {
	linear3 := config.WorkerDescriptor{Type: "medium", Count: 3, Method: config.MethodLinear}
	single := config.WorkerDescriptor{Type: "medium", Count: 1, Method: config.MethodLinear}
	block := config.WorkerDescriptor{Type: "medium", Count: 4, Method: config.MethodBlock}

	// First descriptor shrinks by the unit already placed during bootstrap.
	adjusted := stepWorkers(0, []config.WorkerDescriptor{linear3})
	require.Len(t, adjusted, 1)
	assert.Equal(t, 2, adjusted[0].Count)

	// A single-unit or block first descriptor is consumed entirely.
	assert.Empty(t, stepWorkers(0, []config.WorkerDescriptor{single}))
	adjusted = stepWorkers(0, []config.WorkerDescriptor{block, linear3})
	require.Len(t, adjusted, 1)
	assert.Equal(t, 3, adjusted[0].Count)

	// Later steps are untouched.
	assert.Equal(t, []config.WorkerDescriptor{linear3}, stepWorkers(1, []config.WorkerDescriptor{linear3}))

	// The caller's plan is never mutated.
	workers := []config.WorkerDescriptor{linear3}
	stepWorkers(0, workers)
	assert.Equal(t, 3, workers[0].Count)
}
