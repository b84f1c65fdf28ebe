package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/forgewatch/forgewatch/pkg/types"
	"github.com/forgewatch/forgewatch/server/internal/config"
	"github.com/forgewatch/forgewatch/server/internal/normalize"
)

const (
	mqttQoS            = 1
	mqttConnectTimeout = 10 * time.Second
)

// MQTT subscribes to per-machine reading topics.
type MQTT struct {
	cfg      config.MQTTConfig
	ingester Ingester
	wildcard int
	client   mqtt.Client
}

// NewMQTT validates the topic filter in cfg. The filter must contain exactly
// one "+" segment, which names the machine.
func NewMQTT(cfg config.MQTTConfig, ing Ingester) (*MQTT, error) {
	idx, err := wildcardIndex(cfg.Topic)
	if err != nil {
		return nil, fmt.Errorf("ingest: mqtt topic %q: %w", cfg.Topic, err)
	}
	return &MQTT{cfg: cfg, ingester: ing, wildcard: idx}, nil
}

// Run connects, subscribes and blocks until ctx is cancelled. The client
// reconnects and resubscribes on its own after a lost connection.
func (m *MQTT) Run(ctx context.Context) error {
	opts := m.clientOptions()
	m.client = mqtt.NewClient(opts)
	tok := m.client.Connect()
	if !tok.WaitTimeout(mqttConnectTimeout) {
		return errors.New("ingest: mqtt connect timed out")
	}
	if err := tok.Error(); err != nil {
		return fmt.Errorf("ingest: mqtt connect: %w", err)
	}

	<-ctx.Done()
	m.client.Disconnect(250)
	slog.Info("ingest: mqtt disconnected", "broker", m.cfg.Broker)
	return nil
}

// clientOptions keeps paho's ordered delivery: handle runs on one goroutine,
// so readings of a machine reach the engine in arrival order.
func (m *MQTT) clientOptions() *mqtt.ClientOptions {
	opts := mqtt.NewClientOptions().
		AddBroker(m.cfg.Broker).
		SetClientID(m.cfg.ClientID).
		SetAutoReconnect(true).
		SetCleanSession(false).
		SetOrderMatters(true).
		SetConnectTimeout(mqttConnectTimeout).
		SetOnConnectHandler(func(c mqtt.Client) {
			tok := c.Subscribe(m.cfg.Topic, mqttQoS, m.handle)
			if tok.WaitTimeout(mqttConnectTimeout) && tok.Error() != nil {
				slog.Error("ingest: mqtt subscribe", "topic", m.cfg.Topic, "err", tok.Error())
				return
			}
			slog.Info("ingest: mqtt subscribed", "broker", m.cfg.Broker, "topic", m.cfg.Topic)
		}).
		SetConnectionLostHandler(func(_ mqtt.Client, err error) {
			slog.Warn("ingest: mqtt connection lost", "broker", m.cfg.Broker, "err", err)
		})
	if m.cfg.Username != "" {
		opts.SetUsername(m.cfg.Username).SetPassword(m.cfg.Password())
	}
	return opts
}

// handle is the subscription callback.
func (m *MQTT) handle(_ mqtt.Client, msg mqtt.Message) {
	id, ok := machineFromTopic(msg.Topic(), m.wildcard)
	if !ok {
		slog.Warn("ingest: mqtt topic without machine id", "topic", msg.Topic())
		return
	}
	r, err := normalize.Decode(msg.Payload(), now())
	if err != nil {
		slog.Warn("ingest: mqtt payload rejected", "machine", id, "err", err)
		return
	}
	apply(m.ingester, "mqtt", types.Batch{id: r})
}

func wildcardIndex(filter string) (int, error) {
	idx := -1
	for i, seg := range strings.Split(filter, "/") {
		switch seg {
		case "+":
			if idx >= 0 {
				return 0, errors.New("more than one + wildcard")
			}
			idx = i
		case "#":
			return 0, errors.New("# wildcard cannot name a machine")
		}
	}
	if idx < 0 {
		return 0, errors.New("no + wildcard for the machine id")
	}
	return idx, nil
}

func machineFromTopic(topic string, idx int) (string, bool) {
	segs := strings.Split(topic, "/")
	if idx >= len(segs) || segs[idx] == "" {
		return "", false
	}
	return segs[idx], true
}
