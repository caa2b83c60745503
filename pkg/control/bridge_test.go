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

package control

import (
	"context"
	"testing"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scalehub/scalehub/pkg/config"
	"github.com/scalehub/scalehub/pkg/controller"
	"github.com/scalehub/scalehub/pkg/experiment"
	"github.com/scalehub/scalehub/pkg/worker"
)

type fakeToken struct{}

func (fakeToken) Wait() bool                     { return true }
func (fakeToken) WaitTimeout(time.Duration) bool { return true }
func (fakeToken) Done() <-chan struct{} {
	ch := make(chan struct{})
	close(ch)
	return ch
}
func (fakeToken) Error() error { return nil }

type publishCall struct {
	topic    string
	retained bool
	payload  string
}

type fakeBroker struct {
	publishes  []publishCall
	subscribed []string
	handler    mqtt.MessageHandler
}

func (f *fakeBroker) Connect() mqtt.Token { return fakeToken{} }

func (f *fakeBroker) Subscribe(topic string, qos byte, callback mqtt.MessageHandler) mqtt.Token {
	f.subscribed = append(f.subscribed, topic)
	f.handler = callback
	return fakeToken{}
}

func (f *fakeBroker) Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token {
	f.publishes = append(f.publishes, publishCall{topic: topic, retained: retained, payload: string(payload.([]byte))})
	return fakeToken{}
}

func (f *fakeBroker) Disconnect(quiesce uint) {}

func (f *fakeBroker) lastOn(topic string) (publishCall, bool) {
	for i := len(f.publishes) - 1; i >= 0; i-- {
		if f.publishes[i].topic == topic {
			return f.publishes[i], true
		}
	}
	return publishCall{}, false
}

type idleExperiment struct {
	w *worker.Worker
}

func (e *idleExperiment) Starting(ctx context.Context) error { return nil }
func (e *idleExperiment) Running(ctx context.Context)        { e.w.Join() }
func (e *idleExperiment) Finishing(ctx context.Context)      {}
func (e *idleExperiment) Cleaning(ctx context.Context)       {}
func (e *idleExperiment) Worker() *worker.Worker             { return e.w }

func newTestBridge() (*Bridge, *fakeBroker, *controller.Controller) {
	broker := &fakeBroker{}
	ctrl := controller.NewController(func(cfg *config.ExperimentConfig) (experiment.Experiment, error) {
		return &idleExperiment{w: worker.NewWorker()}, nil
	})
	return &Bridge{client: broker, ctrl: ctrl}, broker, ctrl
}

func TestStartConnectsAndPublishesState(t *testing.T) {
	b, broker, _ := newTestBridge()
	require.NoError(t, b.Start(context.Background()))
	assert.Equal(t, []string{commandTopic}, broker.subscribed)
	state, ok := broker.lastOn(stateTopic)
	require.True(t, ok)
	assert.Equal(t, "Idle", state.payload)
	assert.True(t, state.retained)
}

func TestStartCommandEnqueuesConfig(t *testing.T) {
	b, broker, ctrl := newTestBridge()
	payload := []byte(`{"command":"START","config":{"type":"test"}}`)
	b.handleCommand(context.Background(), payload)

	assert.Equal(t, 1, ctrl.QueueLength())
	ack, ok := broker.lastOn(ackTopic)
	require.True(t, ok)
	assert.Equal(t, ackStart, ack.payload)
	assert.True(t, ack.retained)
	// The retained command is cleared so restarts do not replay it.
	cleared, ok := broker.lastOn(commandTopic)
	require.True(t, ok)
	assert.Equal(t, "", cleared.payload)
	assert.True(t, cleared.retained)
}

func TestStartCommandWithConfigBatch(t *testing.T) {
	b, broker, ctrl := newTestBridge()
	payload := []byte(`{"command":"START","configs":[{"type":"test"},{"type":"standalone"}]}`)
	b.handleCommand(context.Background(), payload)

	assert.Equal(t, 2, ctrl.QueueLength())
	ack, _ := broker.lastOn(ackTopic)
	assert.Equal(t, ackStart, ack.payload)
}

func TestStartCommandWithoutConfigIsInvalid(t *testing.T) {
	b, broker, ctrl := newTestBridge()
	b.handleCommand(context.Background(), []byte(`{"command":"START"}`))

	assert.Equal(t, 0, ctrl.QueueLength())
	ack, _ := broker.lastOn(ackTopic)
	assert.Equal(t, ackInvalid, ack.payload)
}

func TestStartCommandWithBadConfigIsInvalid(t *testing.T) {
	b, broker, _ := newTestBridge()
	// A config without a type fails validation.
	b.handleCommand(context.Background(), []byte(`{"command":"START","config":{"runs":2}}`))
	ack, _ := broker.lastOn(ackTopic)
	assert.Equal(t, ackInvalid, ack.payload)
}

func TestStopWhenIdleIsInvalid(t *testing.T) {
	b, broker, _ := newTestBridge()
	b.handleCommand(context.Background(), []byte(`{"command":"STOP"}`))
	ack, _ := broker.lastOn(ackTopic)
	assert.Equal(t, ackInvalid, ack.payload)
	// The rejected trigger is a no-op that restates the current state.
	state, ok := broker.lastOn(stateTopic)
	require.True(t, ok)
	assert.Equal(t, "Idle", state.payload)
	assert.True(t, state.retained)
}

func TestCleanCommand(t *testing.T) {
	b, broker, _ := newTestBridge()
	b.handleCommand(context.Background(), []byte(`{"command":"CLEAN"}`))
	ack, _ := broker.lastOn(ackTopic)
	assert.Equal(t, ackClean, ack.payload)
	state, ok := broker.lastOn(stateTopic)
	require.True(t, ok)
	assert.Equal(t, "Idle", state.payload)
}

func TestUnknownCommandIsInvalid(t *testing.T) {
	b, broker, _ := newTestBridge()
	b.handleCommand(context.Background(), []byte(`{"command":"RESTART"}`))
	ack, _ := broker.lastOn(ackTopic)
	assert.Equal(t, ackInvalid, ack.payload)
}

func TestEmptyAndMalformedPayloadsIgnored(t *testing.T) {
	b, broker, _ := newTestBridge()
	// The empty payload is the echo of a retained clear.
	b.handleCommand(context.Background(), nil)
	b.handleCommand(context.Background(), []byte("not json"))
	assert.Empty(t, broker.publishes)
}

func TestStateChangesRepublished(t *testing.T) {
	b, broker, ctrl := newTestBridge()
	require.NoError(t, b.Start(context.Background()))
	require.NoError(t, ctrl.Clean(context.Background()))
	state, ok := broker.lastOn(stateTopic)
	require.True(t, ok)
	assert.Equal(t, "Idle", state.payload)
}
