package stitch

import (
	"encoding/json"
	"fmt"
	"log"
	"sync/atomic"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

// ProgressCounter is an atomic counter local to one Aligner run, used
// only for logging cadence. It replaces the process-wide
// mutable counter the original implementation used: every run owns its
// own instance and no state survives across pipeline runs.
type ProgressCounter struct {
	done int64
}

// NewProgressCounter returns a zeroed counter.
func NewProgressCounter() *ProgressCounter {
	return &ProgressCounter{}
}

// Increment atomically advances the counter and returns the new value.
func (p *ProgressCounter) Increment() int64 {
	return atomic.AddInt64(&p.done, 1)
}

// Value returns the counter's current value.
func (p *ProgressCounter) Value() int64 {
	return atomic.LoadInt64(&p.done)
}

// TelemetryOptions configures the optional MQTT mirroring of pipeline
// progress and solver events. When Broker is empty, telemetry is
// disabled and NewTelemetryPublisher returns nil without error.
type TelemetryOptions struct {
	Broker   string
	ClientID string
	RunID    string
}

// TelemetryPublisher mirrors Aligner progress and Solver eviction events
// to MQTT as retained messages. It is strictly observational: the
// pipeline never blocks on, subscribes to, or reads from the broker.
type TelemetryPublisher struct {
	client mqtt.Client
	prefix string
}

// NewTelemetryPublisher connects to the configured broker and returns a
// publisher, or (nil, nil) if no broker is configured.
func NewTelemetryPublisher(opts TelemetryOptions) (*TelemetryPublisher, error) {
	if opts.Broker == "" {
		return nil, nil
	}

	clientOpts := mqtt.NewClientOptions()
	clientOpts.AddBroker(opts.Broker)
	clientID := opts.ClientID
	if clientID == "" {
		clientID = "tilestitch"
	}
	clientOpts.SetClientID(clientID)
	clientOpts.SetAutoReconnect(true)
	clientOpts.SetConnectRetry(true)
	clientOpts.SetConnectRetryInterval(5 * time.Second)
	clientOpts.SetKeepAlive(60 * time.Second)

	client := mqtt.NewClient(clientOpts)
	token := client.Connect()
	if token.WaitTimeout(10*time.Second) && token.Error() != nil {
		return nil, fmt.Errorf("connecting to MQTT broker %s: %w", opts.Broker, token.Error())
	}

	runID := opts.RunID
	if runID == "" {
		runID = "run"
	}
	return &TelemetryPublisher{client: client, prefix: fmt.Sprintf("tilestitch/%s", runID)}, nil
}

type progressMessage struct {
	Done  int64  `json:"done"`
	Total int    `json:"total"`
	Pair  [2]int `json:"pair"`
	Score float64 `json:"score"`
}

// PublishProgress publishes one Aligner pair-completion event.
func (t *TelemetryPublisher) PublishProgress(done int64, total int, obs PairObservation) {
	if t == nil || t.client == nil || !t.client.IsConnected() {
		return
	}
	msg := progressMessage{Done: done, Total: total, Pair: [2]int{obs.I, obs.J}, Score: obs.Weight}
	payload, err := json.Marshal(msg)
	if err != nil {
		log.Printf("[ALIGN] marshal progress telemetry: %v", err)
		return
	}
	topic := t.prefix + "/progress"
	token := t.client.Publish(topic, 0, true, payload)
	if token.WaitTimeout(2*time.Second) && token.Error() != nil {
		log.Printf("[ALIGN] publish progress telemetry: %v", token.Error())
	}
}

type solverEventMessage struct {
	Component int     `json:"component"`
	EvictedI  int     `json:"evictedI"`
	EvictedJ  int     `json:"evictedJ"`
	MeanError float64 `json:"meanError"`
	MaxError  float64 `json:"maxError"`
}

// PublishEviction publishes one Solver outlier-eviction decision.
func (t *TelemetryPublisher) PublishEviction(component int, evicted PairObservation, meanErr, maxErr float64) {
	if t == nil || t.client == nil || !t.client.IsConnected() {
		return
	}
	msg := solverEventMessage{Component: component, EvictedI: evicted.I, EvictedJ: evicted.J, MeanError: meanErr, MaxError: maxErr}
	payload, err := json.Marshal(msg)
	if err != nil {
		log.Printf("[SOLVE] marshal eviction telemetry: %v", err)
		return
	}
	topic := t.prefix + "/solver"
	token := t.client.Publish(topic, 0, true, payload)
	if token.WaitTimeout(2*time.Second) && token.Error() != nil {
		log.Printf("[SOLVE] publish eviction telemetry: %v", token.Error())
	}
}

// Close disconnects the underlying MQTT client, if any.
func (t *TelemetryPublisher) Close() {
	if t == nil || t.client == nil {
		return
	}
	if t.client.IsConnected() {
		t.client.Disconnect(250)
	}
}
