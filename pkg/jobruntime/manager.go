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

// Package jobruntime drives the stream-processing job through its
// submit, checkpoint, redeploy and poll protocol. It reaches the job
// runtime two ways: shell commands executed inside the job manager
// workload, and the runtime's REST endpoint for structured queries.
package jobruntime

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/scalehub/scalehub/pkg/config"
	"github.com/scalehub/scalehub/pkg/metrics"
	"github.com/scalehub/scalehub/pkg/shared/logging"
)

const (
	jobArtifactDir = "/tmp/jobs"

	stopMaxAttempts  = 10
	stopInitialDelay = 3 * time.Second
	submitAttempts   = 3
)

// PodExecutor executes a command inside a workload selected by label and
// captures its output. Satisfied by resource.Manager.
type PodExecutor interface {
	ExecOnPod(ctx context.Context, labelSelector, command string) (string, error)
}

// SubmissionError indicates a submission response without a job identifier.
type SubmissionError struct {
	Output string
}

func (e *SubmissionError) Error() string {
	return "no job id found in submission response"
}

// CheckpointError indicates a checkpointed stop that could not complete.
type CheckpointError struct {
	Attempts int
	Reason   string
}

func (e *CheckpointError) Error() string {
	if e.Reason != "" {
		return "checkpoint failed: " + e.Reason
	}
	return fmt.Sprintf("checkpoint failed after %d attempts", e.Attempts)
}

// JobHandle tracks one submitted job. It is mutated in place on every
// rescale and discarded when the job stops.
type JobHandle struct {
	ID string
	// Operators maps normalized operator names to their parallelism; the
	// stable key space used across every rescale.
	Operators map[string]int
	// LastCheckpoint is the most recent known-good checkpoint locator.
	LastCheckpoint string
	// MonitoredParallelism is the current parallelism of the monitored
	// operator.
	MonitoredParallelism int
}

// Manager implements the job runtime protocol for one job descriptor.
type Manager struct {
	exec       PodExecutor
	httpClient restHttpClient
	opts       config.JobRuntimeOptions
	job        config.JobDescriptor
	stopDelay  time.Duration
}

func NewManager(exec PodExecutor, opts config.JobRuntimeOptions, job config.JobDescriptor) *Manager {
	return &Manager{
		exec:       exec,
		httpClient: &http.Client{Timeout: 30 * time.Second},
		opts:       opts,
		job:        job,
		stopDelay:  stopInitialDelay,
	}
}

func (m *Manager) execJobManager(ctx context.Context, command string) (string, error) {
	return m.exec.ExecOnPod(ctx, m.opts.JobManagerSelector, command)
}

// Submit submits the job artifact and parses the job identifier out of the
// submission response. A zero startParallelism leaves the artifact's
// default in place.
func (m *Manager) Submit(ctx context.Context, startParallelism int) (*JobHandle, error) {
	log := logging.FromContext(ctx)
	command := fmt.Sprintf("flink run -d -j %s/%s", jobArtifactDir, m.job.Artifact)
	if startParallelism > 0 {
		command = fmt.Sprintf("%s --start_par %d", command, startParallelism)
	}
	var out string
	for attempt := 0; attempt < submitAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(5 * time.Second):
			}
		}
		var err error
		out, err = m.execJobManager(ctx, command)
		if err != nil {
			log.Warnw("Job submission attempt failed", "attempt", attempt+1, "err", err)
			continue
		}
		if id := ParseJobID(out); id != "" {
			log.Infow("Submitted job", "jobID", id)
			return &JobHandle{ID: id, MonitoredParallelism: startParallelism}, nil
		}
	}
	return nil, &SubmissionError{Output: out}
}

// FetchOperatorMap derives the normalized operator-name to parallelism
// mapping from the job's execution plan and refreshes the handle with it.
func (m *Manager) FetchOperatorMap(ctx context.Context, handle *JobHandle) error {
	r := &planResponse{}
	if err := m.getJSON(ctx, "/jobs/"+handle.ID+"/plan", r); err != nil {
		return err
	}
	operators := make(map[string]int, len(r.Plan.Nodes))
	for _, node := range r.Plan.Nodes {
		operators[NormalizeOperatorName(node.Description)] = node.Parallelism
	}
	handle.Operators = operators
	for name, parallelism := range operators {
		if strings.Contains(name, m.job.MonitoredOperator) {
			handle.MonitoredParallelism = parallelism
			return nil
		}
	}
	return fmt.Errorf("monitored operator %q not found in execution plan", m.job.MonitoredOperator)
}

// CheckpointAndStop requests a checkpointed stop of the job and returns the
// checkpoint locator. It retries with increasing linear backoff while the
// job is not in a terminal failed state; a CheckpointError tells the caller
// to fall back to the last known-good checkpoint or abort if none exists.
func (m *Manager) CheckpointAndStop(ctx context.Context, handle *JobHandle) (string, error) {
	log := logging.FromContext(ctx)
	delay := m.stopDelay
	for attempt := 0; attempt < stopMaxAttempts; attempt++ {
		state, err := m.jobState(ctx, handle.ID)
		if err != nil {
			log.Warnw("Failed to read job state before stop", "err", err)
		} else if state == "FAILED" {
			return "", &CheckpointError{Reason: "job is in FAILED state"}
		}
		out, err := m.execJobManager(ctx, "flink stop -p -d "+handle.ID)
		if err != nil {
			log.Warnw("Checkpoint-stop attempt failed", "attempt", attempt+1, "err", err)
		} else if path := ParseSavepointPath(out); path != "" {
			handle.LastCheckpoint = path
			log.Infow("Checkpointed and stopped job", "jobID", handle.ID, "checkpoint", path)
			return path, nil
		}
		metrics.CheckpointRetriesTotal.Inc()
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-time.After(delay):
		}
		// Each retry waits one second longer than the previous one.
		delay += time.Second
	}
	return "", &CheckpointError{Attempts: stopMaxAttempts}
}

// Rescale redeploys the job from a checkpoint with the monitored operator's
// parallelism overridden to newParallelism; every other operator keeps its
// current entry. On success the handle carries the new job id.
func (m *Manager) Rescale(ctx context.Context, handle *JobHandle, newParallelism int) error {
	log := logging.FromContext(ctx)
	checkpoint, err := m.CheckpointAndStop(ctx, handle)
	if err != nil {
		if handle.LastCheckpoint == "" {
			return err
		}
		log.Warnw("Checkpoint-stop failed, falling back to last known checkpoint", "checkpoint", handle.LastCheckpoint, "err", err)
		checkpoint = handle.LastCheckpoint
	}
	parMap := FormatParallelismMap(handle.Operators, m.job.MonitoredOperator, newParallelism)
	command := fmt.Sprintf("flink run -d -s %s -j %s/%s --parmap '%s'", checkpoint, jobArtifactDir, m.job.Artifact, parMap)
	out, err := m.execJobManager(ctx, command)
	if err != nil {
		return fmt.Errorf("failed to redeploy job from checkpoint, %w", err)
	}
	id := ParseJobID(out)
	if id == "" {
		return &SubmissionError{Output: out}
	}
	handle.ID = id
	handle.MonitoredParallelism = newParallelism
	for name := range handle.Operators {
		if strings.Contains(name, m.job.MonitoredOperator) {
			handle.Operators[name] = newParallelism
		}
	}
	metrics.RescalesTotal.Inc()
	log.Infow("Rescaled job", "jobID", id, "parallelism", newParallelism)
	return nil
}

// WaitUntilRunning polls the job status until RUNNING is observed, failing
// after maxAttempts polls.
func (m *Manager) WaitUntilRunning(ctx context.Context, handle *JobHandle, maxAttempts int, interval time.Duration) error {
	log := logging.FromContext(ctx)
	for attempt := 0; attempt < maxAttempts; attempt++ {
		state, err := m.jobState(ctx, handle.ID)
		if err != nil {
			log.Warnw("Failed to read job state", "err", err)
		} else if state == "RUNNING" {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(interval):
		}
	}
	return fmt.Errorf("job %q not RUNNING after %d attempts", handle.ID, maxAttempts)
}

// ReconcileSingleJob cancels every live job other than the handle's,
// guaranteeing at most one monitored job is ever concurrently live.
func (m *Manager) ReconcileSingleJob(ctx context.Context, handle *JobHandle) error {
	log := logging.FromContext(ctx)
	r := &jobsResponse{}
	if err := m.getJSON(ctx, "/jobs", r); err != nil {
		return err
	}
	for _, job := range r.Jobs {
		if job.ID == handle.ID {
			continue
		}
		switch job.Status {
		case "CANCELED", "FINISHED", "FAILED":
			continue
		}
		log.Warnw("Cancelling stray job", "jobID", job.ID, "status", job.Status)
		if _, err := m.execJobManager(ctx, "flink cancel "+job.ID); err != nil {
			return fmt.Errorf("failed to cancel stray job %q, %w", job.ID, err)
		}
	}
	return nil
}

// Overview returns the total task slots and worker counts the job runtime
// currently sees.
func (m *Manager) Overview(ctx context.Context) (slots, taskManagers int, err error) {
	r := &overviewResponse{}
	if err := m.getJSON(ctx, "/overview", r); err != nil {
		return 0, 0, err
	}
	return r.SlotsTotal, r.TaskManagers, nil
}
