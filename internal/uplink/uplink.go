// Package uplink forwards gateway events to an MQTT broker as JSON.
package uplink

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/chaz8081/blegateway/internal/config"
	"github.com/chaz8081/blegateway/internal/reading"
)

// ErrTimeout is returned when the broker does not acknowledge in time.
var ErrTimeout = errors.New("uplink: broker did not respond in time")

// Publisher sends one message to a topic.
type Publisher interface {
	Publish(topic string, payload []byte) error
}

// Nop discards every message. It stands in for a disabled uplink.
type Nop struct{}

func (Nop) Publish(string, []byte) error { return nil }

// MQTTPublisher publishes through a paho MQTT client.
type MQTTPublisher struct {
	client  mqtt.Client
	qos     byte
	timeout time.Duration
}

// NewMQTTPublisher wraps an already connected client.
func NewMQTTPublisher(client mqtt.Client, cfg config.UplinkConfig) *MQTTPublisher {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &MQTTPublisher{client: client, qos: cfg.QoS, timeout: timeout}
}

// Dial connects to cfg.Broker.
func Dial(cfg config.UplinkConfig) (*MQTTPublisher, error) {
	opts := mqtt.NewClientOptions().
		AddBroker(cfg.Broker).
		SetClientID(cfg.ClientID).
		SetAutoReconnect(true).
		SetConnectTimeout(cfg.Timeout)
	opts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		slog.Warn("[UPLINK] connection lost", "broker", cfg.Broker, "error", err)
	})

	client := mqtt.NewClient(opts)
	p := NewMQTTPublisher(client, cfg)
	if err := p.wait(client.Connect()); err != nil {
		return nil, fmt.Errorf("uplink: connect to %s: %w", cfg.Broker, err)
	}
	slog.Info("[UPLINK] connected", "broker", cfg.Broker, "client_id", cfg.ClientID)
	return p, nil
}

func (p *MQTTPublisher) wait(token mqtt.Token) error {
	if !token.WaitTimeout(p.timeout) {
		return ErrTimeout
	}
	return token.Error()
}

func (p *MQTTPublisher) Publish(topic string, payload []byte) error {
	if err := p.wait(p.client.Publish(topic, p.qos, false, payload)); err != nil {
		return fmt.Errorf("uplink: publish to %s: %w", topic, err)
	}
	return nil
}

// Close disconnects, giving in-flight messages a short grace period.
func (p *MQTTPublisher) Close() {
	p.client.Disconnect(250)
}

// Topic joins a prefix and sub-topic segments with '/'.
func Topic(prefix string, parts ...string) string {
	segs := append([]string{strings.TrimSuffix(prefix, "/")}, parts...)
	return strings.Join(segs, "/")
}

// ButtonEvent is published when the peripheral's button is pressed.
type ButtonEvent struct {
	Address reading.MAC `json:"mac_address"`
	Node    int         `json:"node"`
	State   string      `json:"state"`
	Time    time.Time   `json:"time"`
}

// ReadingBatch is one aggregated reading as archived.
type ReadingBatch struct {
	Timestamp time.Time              `json:"timestamp"`
	Records   []reading.SensorRecord `json:"records"`
}

// PublishJSON marshals v and publishes it to topic.
func PublishJSON(pub Publisher, topic string, v any) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("uplink: marshal %T: %w", v, err)
	}
	return pub.Publish(topic, payload)
}
