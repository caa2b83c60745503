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

// Package controller owns the experiment lifecycle state machine. States
// and transitions are explicit data; the phase bodies run outside the
// transition lock and chain into the next transition automatically, so one
// START carries an experiment all the way back to Idle.
package controller

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/scalehub/scalehub/pkg/config"
	"github.com/scalehub/scalehub/pkg/experiment"
	"github.com/scalehub/scalehub/pkg/metrics"
	"github.com/scalehub/scalehub/pkg/shared/logging"
)

// State is one lifecycle phase of the machine.
type State string

const (
	StateIdle      State = "Idle"
	StateStarting  State = "Starting"
	StateRunning   State = "Running"
	StateFinishing State = "Finishing"
)

var allStates = []State{StateIdle, StateStarting, StateRunning, StateFinishing}

type trigger string

const (
	triggerStart  trigger = "start"
	triggerRun    trigger = "run"
	triggerFinish trigger = "finish"
	triggerClean  trigger = "clean"
)

// transitions is the complete legal transition relation. clean is the
// escape hatch reachable from every state.
var transitions = map[trigger]map[State]State{
	triggerStart:  {StateIdle: StateStarting},
	triggerRun:    {StateStarting: StateRunning},
	triggerFinish: {StateRunning: StateFinishing},
	triggerClean: {
		StateIdle:      StateIdle,
		StateStarting:  StateIdle,
		StateRunning:   StateIdle,
		StateFinishing: StateIdle,
	},
}

// Factory builds the experiment variant for a popped config.
type Factory func(cfg *config.ExperimentConfig) (experiment.Experiment, error)

// driverPollInterval paces the idle-queue check of the driver loop.
const driverPollInterval = 10 * time.Second

// Controller serializes lifecycle transitions and drains the config queue.
type Controller struct {
	mu      sync.Mutex
	state   State
	queue   []*config.ExperimentConfig
	current experiment.Experiment

	build   Factory
	stateCb func(State)
	kick    chan struct{}
}

func NewController(build Factory) *Controller {
	c := &Controller{
		state: StateIdle,
		build: build,
		kick:  make(chan struct{}, 1),
	}
	c.publishState(StateIdle)
	return c
}

// OnStateChange registers the callback invoked after every transition,
// outside the transition lock.
func (c *Controller) OnStateChange(cb func(State)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stateCb = cb
}

func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *Controller) publishState(s State) {
	for _, state := range allStates {
		v := 0.0
		if state == s {
			v = 1.0
		}
		metrics.FSMState.WithLabelValues(string(state)).Set(v)
	}
}

// EnqueueConfig appends one experiment config to the queue. The driver
// starts it once the machine is idle.
func (c *Controller) EnqueueConfig(cfg *config.ExperimentConfig) {
	c.mu.Lock()
	c.queue = append(c.queue, cfg)
	c.mu.Unlock()
	select {
	case c.kick <- struct{}{}:
	default:
	}
}

func (c *Controller) EnqueueConfigs(cfgs []*config.ExperimentConfig) {
	for _, cfg := range cfgs {
		c.EnqueueConfig(cfg)
	}
}

// QueueLength reports the number of configs waiting to run.
func (c *Controller) QueueLength() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.queue)
}

// fire applies one trigger: the transition is validated and committed under
// the lock, the phase body runs outside it, and any follow-up trigger is
// chained in the same goroutine.
func (c *Controller) fire(ctx context.Context, t trigger) error {
	log := logging.FromContext(ctx)
	c.mu.Lock()
	next, ok := transitions[t][c.state]
	if !ok {
		from := c.state
		c.mu.Unlock()
		return fmt.Errorf("trigger %q not valid in state %q", t, from)
	}
	c.state = next
	cb := c.stateCb
	c.mu.Unlock()
	c.publishState(next)
	log.Infow("Lifecycle transition", "trigger", t, "state", next)
	if cb != nil {
		cb(next)
	}

	var followup trigger
	switch t {
	case triggerStart:
		followup = c.enterStarting(ctx)
	case triggerRun:
		followup = c.enterRunning(ctx)
	case triggerFinish:
		followup = c.enterFinishing(ctx)
	case triggerClean:
		c.enterIdle(ctx)
	}
	if followup != "" {
		return c.fire(ctx, followup)
	}
	return nil
}

// enterStarting pops the next config, builds its experiment and launches
// the body. Any failure funnels straight to clean.
func (c *Controller) enterStarting(ctx context.Context) trigger {
	log := logging.FromContext(ctx)
	c.mu.Lock()
	if len(c.queue) == 0 {
		c.mu.Unlock()
		log.Warn("Start triggered with an empty queue")
		return triggerClean
	}
	cfg := c.queue[0]
	c.queue = c.queue[1:]
	c.mu.Unlock()

	e, err := c.build(cfg)
	if err != nil {
		log.Errorw("Failed to build experiment", "type", cfg.Type, "err", err)
		metrics.ExperimentFailuresTotal.WithLabelValues(cfg.Type, "build_error").Inc()
		return triggerClean
	}
	c.mu.Lock()
	c.current = e
	c.mu.Unlock()
	if err := e.Starting(ctx); err != nil {
		log.Errorw("Experiment failed to start", "type", cfg.Type, "err", err)
		metrics.ExperimentFailuresTotal.WithLabelValues(cfg.Type, "start_error").Inc()
		return triggerClean
	}
	return triggerRun
}

func (c *Controller) currentExperiment() experiment.Experiment {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.current
}

// enterRunning blocks on the experiment body; a stop request unblocks it
// through the worker and the chain proceeds to finish.
func (c *Controller) enterRunning(ctx context.Context) trigger {
	if e := c.currentExperiment(); e != nil {
		e.Running(ctx)
	}
	return triggerFinish
}

func (c *Controller) enterFinishing(ctx context.Context) trigger {
	if e := c.currentExperiment(); e != nil {
		e.Finishing(ctx)
	}
	return triggerClean
}

func (c *Controller) enterIdle(ctx context.Context) {
	e := c.currentExperiment()
	if e != nil {
		e.Cleaning(ctx)
	}
	c.mu.Lock()
	c.current = nil
	c.mu.Unlock()
}

// Stop requests cancellation of the running experiment. The body observes
// the flag within a second and the chain carries the machine through
// Finishing back to Idle on its own.
func (c *Controller) Stop(ctx context.Context) error {
	c.mu.Lock()
	state := c.state
	e := c.current
	c.mu.Unlock()
	if state != StateRunning || e == nil {
		return fmt.Errorf("no running experiment to stop, state %q", state)
	}
	logging.FromContext(ctx).Info("Stopping running experiment")
	e.Worker().Stop()
	return nil
}

// Clean forces the machine back to Idle from any state, running the
// current experiment's cleanup if one exists.
func (c *Controller) Clean(ctx context.Context) error {
	return c.fire(ctx, triggerClean)
}

// Run is the driver loop: whenever the machine is idle and configs are
// queued, the next one is started. The full lifecycle chain runs on this
// goroutine; Run returns when ctx is done.
func (c *Controller) Run(ctx context.Context) {
	log := logging.FromContext(ctx)
	log.Info("Lifecycle driver started")
	ticker := time.NewTicker(driverPollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			log.Info("Lifecycle driver stopped")
			return
		case <-ticker.C:
		case <-c.kick:
		}
		c.mu.Lock()
		ready := c.state == StateIdle && len(c.queue) > 0
		c.mu.Unlock()
		if !ready {
			continue
		}
		if err := c.fire(ctx, triggerStart); err != nil {
			log.Errorw("Lifecycle chain aborted", "err", err)
		}
	}
}
