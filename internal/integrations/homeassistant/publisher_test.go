package homeassistant

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"ppe-sentinel/internal/core/debounce"
	"ppe-sentinel/internal/core/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type published struct {
	topic   string
	payload interface{}
	retain  bool
}

type fakeBroker struct {
	mu       sync.Mutex
	messages []published
	err      error
}

func (b *fakeBroker) PublishMessage(topic string, payload interface{}, retain bool) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.err != nil {
		return b.err
	}
	b.messages = append(b.messages, published{topic, payload, retain})
	return nil
}

func (b *fakeBroker) snapshot() []published {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]published(nil), b.messages...)
}

func (b *fakeBroker) topics() []string {
	var topics []string
	for _, m := range b.snapshot() {
		topics = append(topics, m.topic)
	}
	return topics
}

func runPublisher(t *testing.T, p *Publisher) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = p.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
}

func TestPublisherPublishesStateAndEvidence(t *testing.T) {
	broker := &fakeBroker{}
	topics := Topics{Prefix: "ppe-sentinel"}
	p := NewPublisher(broker, topics, nil, 8)
	runPublisher(t, p)

	p.StateChanged("gate", debounce.Event{State: debounce.Pending, Previous: debounce.Idle})
	p.StateChanged("gate", debounce.Event{State: debounce.Fired, Previous: debounce.Pending})
	p.EvidenceCaptured(models.Evidence{
		ID:            7,
		Camera:        "gate",
		ViolationType: "NO-Hardhat",
		Timestamp:     "2024-05-01 12:00:05",
		Image:         []byte{1, 2, 3},
	})

	require.Eventually(t, func() bool { return len(broker.snapshot()) == 3 }, time.Second, 5*time.Millisecond)

	msgs := broker.snapshot()
	assert.Equal(t, published{"ppe-sentinel/cameras/gate/state", "pending", true}, msgs[0])
	assert.Equal(t, published{"ppe-sentinel/cameras/gate/state", "fired", true}, msgs[1])
	assert.Equal(t, "ppe-sentinel/cameras/gate/evidence", msgs[2].topic)

	ev, ok := msgs[2].payload.(EvidenceEvent)
	require.True(t, ok)
	assert.Equal(t, uint(7), ev.ID)
	assert.Equal(t, "NO-Hardhat", ev.ViolationType)
	assert.Equal(t, "/api/evidence/7/image", ev.ImageURL)
	assert.Equal(t, 3, ev.ImageSize)
}

func TestPublisherDropsWhenQueueIsFull(t *testing.T) {
	p := NewPublisher(&fakeBroker{}, Topics{Prefix: "x"}, nil, 1)

	p.StateChanged("gate", debounce.Event{State: debounce.Pending})
	p.StateChanged("gate", debounce.Event{State: debounce.Idle})

	assert.Equal(t, uint64(1), p.Dropped())
}

func TestPublisherRegistersCamerasOnce(t *testing.T) {
	broker := &fakeBroker{}
	topics := Topics{Prefix: "ppe-sentinel"}
	p := NewPublisher(broker, topics, NewDiscoveryManager(broker, topics, "ppe-sentinel/availability"), 8)
	runPublisher(t, p)

	p.StateChanged("Gate 1", debounce.Event{State: debounce.Pending})
	p.StateChanged("Gate 1", debounce.Event{State: debounce.Idle})

	require.Eventually(t, func() bool { return len(broker.snapshot()) == 4 }, time.Second, 5*time.Millisecond)
	assert.ElementsMatch(t, []string{
		"homeassistant/sensor/ppe_sentinel/gate_1_state/config",
		"homeassistant/sensor/ppe_sentinel/gate_1_violation/config",
		"ppe-sentinel/cameras/Gate 1/state",
		"ppe-sentinel/cameras/Gate 1/state",
	}, broker.topics())
}

func TestDiscoveryRetriesAfterFailure(t *testing.T) {
	broker := &fakeBroker{err: errors.New("not connected")}
	dm := NewDiscoveryManager(broker, Topics{Prefix: "p"}, "p/availability")

	assert.Error(t, dm.RegisterCamera("gate"))

	broker.err = nil
	require.NoError(t, dm.RegisterCamera("gate"))
	require.NoError(t, dm.RegisterCamera("gate"))

	msgs := broker.snapshot()
	require.Len(t, msgs, 2)
	sensor, ok := msgs[0].payload.(SensorConfig)
	require.True(t, ok)
	assert.Equal(t, "p/availability", sensor.AvailabilityTopic)
	assert.Equal(t, "online", sensor.PayloadAvailable)
	assert.True(t, msgs[0].retain)
}
