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

// Package control bridges the MQTT control channel onto the lifecycle
// controller. Commands arrive as retained JSON messages; every handled
// command clears the retained payload and answers with a retained ack, so
// late subscribers always see the latest outcome. Redelivered commands are
// tolerated, acks are idempotent.
package control

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"

	"github.com/scalehub/scalehub/pkg/config"
	"github.com/scalehub/scalehub/pkg/controller"
	"github.com/scalehub/scalehub/pkg/metrics"
	"github.com/scalehub/scalehub/pkg/shared/logging"
)

const (
	commandTopic = "experiment/command"
	ackTopic     = "experiment/ack"
	stateTopic   = "experiment/state"

	// Commands ride QoS 2; the handler still tolerates redelivery.
	commandQoS byte = 2

	ackStart       = "ACK_START"
	ackStop        = "ACK_STOP"
	ackClean       = "ACK_CLEAN"
	ackInvalid     = "INVALID_COMMAND"
	connectTimeout = 10 * time.Second
)

// commandMessage is the wire form of one control command. Config carries a
// single experiment, Configs a batch; at most one of the two is set.
type commandMessage struct {
	Command string          `json:"command"`
	Config  json.RawMessage `json:"config,omitempty"`
	Configs json.RawMessage `json:"configs,omitempty"`
}

// brokerClient is the slice of the paho client the bridge uses, narrowed
// for testability.
type brokerClient interface {
	Connect() mqtt.Token
	Subscribe(topic string, qos byte, callback mqtt.MessageHandler) mqtt.Token
	Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token
	Disconnect(quiesce uint)
}

// Bridge subscribes to the command topic and drives the controller.
type Bridge struct {
	client brokerClient
	ctrl   *controller.Controller
}

// NewBridge builds a bridge backed by a real paho client.
func NewBridge(settings config.BrokerSettings, ctrl *controller.Controller) *Bridge {
	opts := mqtt.NewClientOptions().
		AddBroker(fmt.Sprintf("tcp://%s:%d", settings.Host, settings.Port)).
		SetClientID("scalehub-monitor-" + uuid.NewString()[:8]).
		SetAutoReconnect(true).
		SetConnectTimeout(connectTimeout)
	if settings.Username != "" {
		opts = opts.SetUsername(settings.Username).SetPassword(settings.Password)
	}
	return &Bridge{
		client: mqtt.NewClient(opts),
		ctrl:   ctrl,
	}
}

// Start connects, announces the current state and subscribes to commands.
// The controller's state changes are re-published for the lifetime of the
// connection.
func (b *Bridge) Start(ctx context.Context) error {
	log := logging.FromContext(ctx)
	if token := b.client.Connect(); token.Wait() && token.Error() != nil {
		return fmt.Errorf("failed to connect to broker, %w", token.Error())
	}
	b.ctrl.OnStateChange(func(s controller.State) {
		b.publishState(ctx, s)
	})
	b.publishState(ctx, b.ctrl.State())
	handler := func(_ mqtt.Client, msg mqtt.Message) {
		b.handleCommand(ctx, msg.Payload())
	}
	if token := b.client.Subscribe(commandTopic, commandQoS, handler); token.Wait() && token.Error() != nil {
		return fmt.Errorf("failed to subscribe to %q, %w", commandTopic, token.Error())
	}
	log.Infow("Control bridge connected", "topic", commandTopic)
	return nil
}

// Stop disconnects from the broker, letting in-flight publishes drain.
func (b *Bridge) Stop() {
	b.client.Disconnect(250)
}

// handleCommand processes one command payload. Empty payloads are the echo
// of a retained-message clear and are skipped silently; malformed JSON is
// logged and dropped without an ack.
func (b *Bridge) handleCommand(ctx context.Context, payload []byte) {
	log := logging.FromContext(ctx)
	if len(payload) == 0 {
		return
	}
	msg := &commandMessage{}
	if err := json.Unmarshal(payload, msg); err != nil {
		log.Warnw("Ignoring malformed control message", "err", err)
		return
	}
	log.Infow("Control command received", "command", msg.Command)
	metrics.CommandsTotal.WithLabelValues(msg.Command).Inc()

	ack := ackInvalid
	switch msg.Command {
	case "START":
		if b.enqueue(ctx, msg) {
			ack = ackStart
		}
	case "STOP":
		if err := b.ctrl.Stop(ctx); err != nil {
			log.Warnw("Stop rejected", "err", err)
		} else {
			ack = ackStop
		}
	case "CLEAN":
		if err := b.ctrl.Clean(ctx); err != nil {
			log.Warnw("Clean rejected", "err", err)
		} else {
			ack = ackClean
		}
	default:
		log.Warnw("Unknown control command", "command", msg.Command)
	}

	// Clear the retained command so a restarting subscriber does not
	// re-execute it, then answer. The current state is restated after every
	// command, so a rejected trigger still leaves a fresh retained state.
	b.client.Publish(commandTopic, commandQoS, true, []byte{})
	b.client.Publish(ackTopic, commandQoS, true, []byte(ack))
	b.publishState(ctx, b.ctrl.State())
}

// enqueue decodes the command's config (or config batch) into the
// controller queue. A command without a decodable config is invalid.
func (b *Bridge) enqueue(ctx context.Context, msg *commandMessage) bool {
	log := logging.FromContext(ctx)
	switch {
	case len(msg.Configs) > 0:
		cfgs, err := config.DecodeList(msg.Configs)
		if err != nil {
			log.Warnw("Rejecting start with invalid config batch", "err", err)
			return false
		}
		b.ctrl.EnqueueConfigs(cfgs)
		return true
	case len(msg.Config) > 0:
		cfg, err := config.Decode(msg.Config)
		if err != nil {
			log.Warnw("Rejecting start with invalid config", "err", err)
			return false
		}
		b.ctrl.EnqueueConfig(cfg)
		return true
	default:
		log.Warn("Rejecting start without a config")
		return false
	}
}

func (b *Bridge) publishState(ctx context.Context, s controller.State) {
	b.client.Publish(stateTopic, commandQoS, true, []byte(s))
}
