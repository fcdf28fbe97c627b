package homeassistant

import (
	"context"
	"fmt"
	"sync/atomic"

	"ppe-sentinel/internal/core/debounce"
	"ppe-sentinel/internal/core/models"
	"ppe-sentinel/internal/core/processor"
	"ppe-sentinel/internal/integrations/mqtt"

	log "github.com/sirupsen/logrus"
)

// Topics builds the alert topics below a prefix
type Topics struct {
	Prefix string
}

// State is the retained idle|pending|fired topic of camera
func (t Topics) State(camera string) string {
	return fmt.Sprintf("%s/cameras/%s/state", t.Prefix, camera)
}

// Evidence is the retained topic carrying the last stored record of camera
func (t Topics) Evidence(camera string) string {
	return fmt.Sprintf("%s/cameras/%s/evidence", t.Prefix, camera)
}

// EvidenceEvent is published for every stored record
type EvidenceEvent struct {
	ID            uint   `json:"id"`
	Camera        string `json:"camera"`
	ViolationType string `json:"violation_type"`
	Timestamp     string `json:"timestamp"`
	EpisodeID     string `json:"episode_id"`
	ImageURL      string `json:"image_url"`
	ImageSize     int    `json:"image_size"`
}

type alert struct {
	camera  string
	topic   string
	payload interface{}
}

// Publisher forwards engine notifications to MQTT. Notifications are queued
// and published from Run, so stream goroutines never wait for the broker;
// when the queue is full the notification is dropped.
type Publisher struct {
	client    mqtt.Publisher
	topics    Topics
	discovery *DiscoveryManager
	queue     chan alert
	dropped   atomic.Uint64
}

var _ processor.Listener = (*Publisher)(nil)

// NewPublisher creates an alert publisher. discovery may be nil.
func NewPublisher(client mqtt.Publisher, topics Topics, discovery *DiscoveryManager, queueSize int) *Publisher {
	if queueSize <= 0 {
		queueSize = 64
	}
	return &Publisher{
		client:    client,
		topics:    topics,
		discovery: discovery,
		queue:     make(chan alert, queueSize),
	}
}

// StateChanged queues the new state of camera
func (p *Publisher) StateChanged(camera string, ev debounce.Event) {
	p.enqueue(alert{camera: camera, topic: p.topics.State(camera), payload: ev.State.String()})
}

// EvidenceCaptured queues the metadata of a stored record
func (p *Publisher) EvidenceCaptured(rec models.Evidence) {
	p.enqueue(alert{
		camera: rec.Camera,
		topic:  p.topics.Evidence(rec.Camera),
		payload: EvidenceEvent{
			ID:            rec.ID,
			Camera:        rec.Camera,
			ViolationType: rec.ViolationType,
			Timestamp:     rec.Timestamp,
			EpisodeID:     rec.EpisodeID,
			ImageURL:      fmt.Sprintf("/api/evidence/%d/image", rec.ID),
			ImageSize:     len(rec.Image),
		},
	})
}

func (p *Publisher) enqueue(a alert) {
	select {
	case p.queue <- a:
	default:
		p.dropped.Add(1)
		log.Warnf("Alert queue full, dropping alert for topic %s", a.topic)
	}
}

// Dropped returns the number of alerts dropped because the queue was full
func (p *Publisher) Dropped() uint64 {
	return p.dropped.Load()
}

// Run publishes queued alerts until ctx is done
func (p *Publisher) Run(ctx context.Context) error {
	log.Info("MQTT alert publisher started")
	for {
		select {
		case <-ctx.Done():
			log.Info("MQTT alert publisher stopped")
			return nil
		case a := <-p.queue:
			p.publish(a)
		}
	}
}

func (p *Publisher) publish(a alert) {
	if p.discovery != nil {
		if err := p.discovery.RegisterCamera(a.camera); err != nil {
			log.Warnf("Home Assistant discovery for camera %s failed: %v", a.camera, err)
		}
	}
	if err := p.client.PublishMessage(a.topic, a.payload, true); err != nil {
		log.Errorf("Failed to publish alert to %s: %v", a.topic, err)
	}
}
