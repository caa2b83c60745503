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

package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	LabelExperimentType = "experiment_type"
	LabelWorkerType     = "worker_type"
	LabelScope          = "scope"
	LabelReason         = "reason"
)

var (
	// FSMState exposes the controller state as a one-hot gauge so the last
	// lifecycle phase survives a scrape gap.
	FSMState = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Subsystem: "monitor",
		Name:      "fsm_state",
		Help:      "Current state of the experiment lifecycle state machine",
	}, []string{"state"})

	ExperimentRunsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Subsystem: "monitor",
		Name:      "experiment_runs_total",
		Help:      "Total number of completed experiment runs",
	}, []string{LabelExperimentType})

	ExperimentFailuresTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Subsystem: "monitor",
		Name:      "experiment_failures_total",
		Help:      "Total number of experiment runs that aborted early",
	}, []string{LabelExperimentType, LabelReason})

	ScaleStepsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Subsystem: "scaling",
		Name:      "steps_total",
		Help:      "Total number of applied scaling increments",
	}, []string{LabelWorkerType, LabelScope})

	RescalesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Subsystem: "jobruntime",
		Name:      "rescales_total",
		Help:      "Total number of checkpoint-based job redeploys",
	})

	CheckpointRetriesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Subsystem: "jobruntime",
		Name:      "checkpoint_retries_total",
		Help:      "Total number of retried checkpoint-stop requests",
	})

	CommandsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Subsystem: "control",
		Name:      "commands_total",
		Help:      "Total number of control channel commands received",
	}, []string{"command"})
)
