// Package emitter publishes scheduler statistics to an MQTT broker so the
// upsampling daemon can be watched from the same telemetry plane as the
// rest of the pipeline.
package emitter

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/visiona/framesynth/internal/sched"
)

// Config describes the broker connection.
type Config struct {
	// Broker is the host:port of the MQTT broker.
	Broker string

	// ClientID identifies this daemon instance to the broker.
	ClientID string

	// Topic is the stats topic.
	Topic string

	// QoS for stats publishes. Stats are periodic snapshots; QoS 0 is the
	// usual choice.
	QoS byte
}

// StatsEmitter publishes producer stats snapshots as JSON.
type StatsEmitter struct {
	cfg    Config
	client mqtt.Client

	mu        sync.RWMutex
	connected bool
	published uint64
	errors    uint64
}

// statsPayload is the wire form of one snapshot.
type statsPayload struct {
	Timestamp string      `json:"timestamp"`
	Progress  float64     `json:"progress"`
	Stats     sched.Stats `json:"stats"`
}

// New creates an emitter. Call Connect before Publish.
func New(cfg Config) *StatsEmitter {
	return &StatsEmitter{cfg: cfg}
}

// Connect establishes the broker connection with auto-reconnect.
func (e *StatsEmitter) Connect() error {
	opts := mqtt.NewClientOptions()
	opts.AddBroker(fmt.Sprintf("tcp://%s", e.cfg.Broker))
	opts.SetClientID(e.cfg.ClientID)
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectRetryInterval(2 * time.Second)
	opts.SetMaxReconnectInterval(30 * time.Second)

	opts.OnConnect = func(c mqtt.Client) {
		e.mu.Lock()
		e.connected = true
		e.mu.Unlock()
		slog.Info("mqtt connection established",
			"broker", e.cfg.Broker,
			"client_id", e.cfg.ClientID,
		)
	}
	opts.OnConnectionLost = func(c mqtt.Client, err error) {
		e.mu.Lock()
		e.connected = false
		e.mu.Unlock()
		slog.Warn("mqtt connection lost, will auto-reconnect",
			"error", err,
			"broker", e.cfg.Broker,
		)
	}

	e.client = mqtt.NewClient(opts)

	token := e.client.Connect()
	if !token.WaitTimeout(5 * time.Second) {
		return fmt.Errorf("mqtt connection timeout")
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("mqtt connection failed: %w", err)
	}
	return nil
}

// Publish sends one stats snapshot. progress is the fraction of output
// frames emitted so far, in [0, 1].
func (e *StatsEmitter) Publish(stats sched.Stats, progress float64) error {
	e.mu.RLock()
	connected := e.connected
	e.mu.RUnlock()
	if !connected {
		e.mu.Lock()
		e.errors++
		e.mu.Unlock()
		return fmt.Errorf("mqtt not connected")
	}

	payload, err := json.Marshal(statsPayload{
		Timestamp: time.Now().Format(time.RFC3339Nano),
		Progress:  progress,
		Stats:     stats,
	})
	if err != nil {
		return fmt.Errorf("failed to marshal stats payload: %w", err)
	}

	token := e.client.Publish(e.cfg.Topic, e.cfg.QoS, false, payload)
	if !token.WaitTimeout(2 * time.Second) {
		e.mu.Lock()
		e.errors++
		e.mu.Unlock()
		return fmt.Errorf("mqtt publish timeout")
	}
	if err := token.Error(); err != nil {
		e.mu.Lock()
		e.errors++
		e.mu.Unlock()
		return fmt.Errorf("mqtt publish failed: %w", err)
	}

	e.mu.Lock()
	e.published++
	e.mu.Unlock()
	return nil
}

// Close disconnects from the broker.
func (e *StatsEmitter) Close() {
	if e.client != nil && e.client.IsConnected() {
		e.client.Disconnect(250)
	}
}
