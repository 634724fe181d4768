package mqtt

import (
	"context"
	"encoding/json"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chipstream-io/chipstream/internal/render"
)

// mockClient records published payloads.
type mockClient struct {
	mu        sync.Mutex
	connected bool
	published []string
	topics    []string
}

func (m *mockClient) Connect(_ context.Context) error { return nil }

func (m *mockClient) Publish(_ context.Context, topic, payload string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.topics = append(m.topics, topic)
	m.published = append(m.published, payload)
	return nil
}

func (m *mockClient) IsConnected() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.connected
}

func (m *mockClient) Disconnect() {}

func TestPublisherForwardsSnapshots(t *testing.T) {
	t.Parallel()

	client := &mockClient{connected: true}
	pub := NewPublisher(client, "chipstream/telemetry")

	snapshots := make(chan render.Snapshot, 2)
	snapshots <- render.Snapshot{FramesConsumed: 256, Underruns: 1, SilentFrames: 128}
	close(snapshots)

	pub.Run(context.Background(), "malgo", snapshots)

	require.Len(t, client.published, 1)
	assert.Equal(t, "chipstream/telemetry", client.topics[0])

	var msg telemetryMessage
	require.NoError(t, json.Unmarshal([]byte(client.published[0]), &msg))
	assert.Equal(t, "malgo", msg.Adapter)
	assert.Equal(t, uint64(256), msg.Delivery.FramesConsumed)
	assert.Equal(t, uint64(1), msg.Delivery.Underruns)
	assert.Equal(t, uint64(128), msg.Delivery.SilentFrames)
}

func TestPublisherDropsWhileDisconnected(t *testing.T) {
	t.Parallel()

	client := &mockClient{connected: false}
	pub := NewPublisher(client, "chipstream/telemetry")

	snapshots := make(chan render.Snapshot, 1)
	snapshots <- render.Snapshot{FramesConsumed: 256}
	close(snapshots)

	pub.Run(context.Background(), "malgo", snapshots)
	assert.Empty(t, client.published)
}

func TestPublisherStopsOnContextCancel(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	pub := NewPublisher(&mockClient{connected: true}, "t")
	done := make(chan struct{})
	go func() {
		pub.Run(ctx, "malgo", make(chan render.Snapshot))
		close(done)
	}()
	<-done
}
