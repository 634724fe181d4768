// publisher.go: periodic delivery telemetry publishing over MQTT.
package mqtt

import (
	"context"
	"encoding/json"
	"time"

	"github.com/chipstream-io/chipstream/internal/render"
)

// telemetryMessage is the JSON payload published for each snapshot.
type telemetryMessage struct {
	Adapter   string          `json:"adapter"`
	Timestamp time.Time       `json:"timestamp"`
	Delivery  render.Snapshot `json:"delivery"`
}

// Publisher forwards telemetry snapshots to an MQTT topic. It drops
// snapshots while the broker is unreachable rather than buffering; the
// snapshots are cumulative so the next successful publish carries the
// full picture anyway.
type Publisher struct {
	client Client
	topic  string
}

// NewPublisher wraps an MQTT client for telemetry publishing.
func NewPublisher(client Client, topic string) *Publisher {
	return &Publisher{client: client, topic: topic}
}

// Run consumes snapshots for one adapter until the channel closes or the
// context is done. Run it on its own goroutine.
func (p *Publisher) Run(ctx context.Context, adapter string, snapshots <-chan render.Snapshot) {
	for {
		select {
		case <-ctx.Done():
			return
		case snap, ok := <-snapshots:
			if !ok {
				return
			}
			p.publish(ctx, adapter, snap)
		}
	}
}

func (p *Publisher) publish(ctx context.Context, adapter string, snap render.Snapshot) {
	if !p.client.IsConnected() {
		return
	}

	msg := telemetryMessage{
		Adapter:   adapter,
		Timestamp: time.Now(),
		Delivery:  snap,
	}
	payload, err := json.Marshal(msg)
	if err != nil {
		mqttLogger.Error("Failed to marshal telemetry snapshot", "error", err)
		return
	}

	if err := p.client.Publish(ctx, p.topic, string(payload)); err != nil {
		mqttLogger.Warn("Failed to publish telemetry snapshot", "topic", p.topic, "error", err)
	}
}
