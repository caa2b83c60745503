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

package config

import (
	"encoding/json"
	"fmt"
)

// GrowthMethod determines how a worker count is decomposed into increments.
type GrowthMethod string

const (
	MethodLinear      GrowthMethod = "linear"
	MethodExponential GrowthMethod = "exponential"
	MethodBlock       GrowthMethod = "block"
)

// ScalingScope determines what a scaling increment is applied to.
type ScalingScope string

const (
	// ScopeWorkerPool scales the replica count of a worker pool.
	ScopeWorkerPool ScalingScope = "worker-pool"
	// ScopeJobParallelism rescales the monitored operator of the running job.
	ScopeJobParallelism ScalingScope = "job-parallelism"
)

// NodeSelector identifies the class of cluster node a scaling step runs on.
type NodeSelector struct {
	Type    string `json:"type"`
	Variant string `json:"variant,omitempty"`
}

// WorkerDescriptor describes one batch of worker units to add within a step.
type WorkerDescriptor struct {
	Type   string       `json:"type"`
	Count  int          `json:"count"`
	Method GrowthMethod `json:"method"`
	Scope  ScalingScope `json:"scope,omitempty"`
}

// ScalingStep is one entry of the ordered scaling plan, bound to one node.
type ScalingStep struct {
	Node    NodeSelector       `json:"node"`
	Workers []WorkerDescriptor `json:"workers"`
}

// JobDescriptor references the job artifact and the operator whose
// parallelism is the controlled variable.
type JobDescriptor struct {
	Artifact          string `json:"artifact"`
	MonitoredOperator string `json:"monitored_operator"`
	StartParallelism  int    `json:"start_parallelism,omitempty"`
}

// GeneratorSpec describes one workload generator deployment.
type GeneratorSpec struct {
	Name       string `json:"name"`
	Topic      string `json:"topic"`
	NumSensors int    `json:"num_sensors"`
	IntervalMs int    `json:"interval_ms"`
	Replicas   int    `json:"replicas"`
	Value      int    `json:"value"`
}

// ExperimentConfig is the immutable description of one experiment. It is
// decoded once from a command payload and passed through the call chain,
// never mutated.
type ExperimentConfig struct {
	Type string `json:"type"`
	Runs int    `json:"runs,omitempty"`
	// ScalingIntervalSeconds is the monitoring interval between increments.
	ScalingIntervalSeconds int             `json:"interval_scaling_s,omitempty"`
	Job                    JobDescriptor   `json:"job"`
	Plan                   []ScalingStep   `json:"steps"`
	Generators             []GeneratorSpec `json:"generators,omitempty"`
	// SweepWorkerTypes is only consumed by the resource experiment; each
	// listed worker type gets its own multi-run pass.
	SweepWorkerTypes []string `json:"sweep_worker_types,omitempty"`
}

// ConfigurationError indicates a config that cannot be turned into a
// runnable experiment, e.g. an unknown experiment type.
type ConfigurationError struct {
	Reason string
}

func (e *ConfigurationError) Error() string {
	return "configuration error: " + e.Reason
}

// Decode parses an experiment config from a command payload.
func Decode(data []byte) (*ExperimentConfig, error) {
	c := &ExperimentConfig{}
	if err := json.Unmarshal(data, c); err != nil {
		return nil, fmt.Errorf("failed to unmarshal experiment config, %w", err)
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}

// DecodeList parses a batch of experiment configs from a command payload.
func DecodeList(data []byte) ([]*ExperimentConfig, error) {
	var raw []json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("failed to unmarshal experiment config list, %w", err)
	}
	configs := make([]*ExperimentConfig, 0, len(raw))
	for _, r := range raw {
		c, err := Decode(r)
		if err != nil {
			return nil, err
		}
		configs = append(configs, c)
	}
	return configs, nil
}

// Validate checks the config for fields without which no experiment can
// run, and fills defaults for the optional ones.
func (c *ExperimentConfig) Validate() error {
	if c.Type == "" {
		return &ConfigurationError{Reason: "experiment type not specified"}
	}
	if c.Runs <= 0 {
		c.Runs = 1
	}
	if c.ScalingIntervalSeconds <= 0 {
		c.ScalingIntervalSeconds = 60
	}
	if c.Type == "standalone" || c.Type == "test" {
		return nil
	}
	if c.Job.Artifact == "" {
		return &ConfigurationError{Reason: "job artifact not specified"}
	}
	if c.Job.MonitoredOperator == "" {
		return &ConfigurationError{Reason: "monitored operator not specified"}
	}
	if len(c.Plan) == 0 {
		return &ConfigurationError{Reason: "scaling plan is empty"}
	}
	for i, step := range c.Plan {
		if len(step.Workers) == 0 {
			return &ConfigurationError{Reason: fmt.Sprintf("scaling step %d has no workers", i)}
		}
		for _, w := range step.Workers {
			if w.Count <= 0 {
				return &ConfigurationError{Reason: fmt.Sprintf("scaling step %d has a non-positive worker count", i)}
			}
		}
	}
	return nil
}
