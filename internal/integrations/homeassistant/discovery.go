package homeassistant

import (
	"fmt"
	"strings"
	"sync"

	"ppe-sentinel/internal/integrations/mqtt"

	log "github.com/sirupsen/logrus"
)

// Constants for Home Assistant MQTT discovery
const (
	DiscoveryPrefix = "homeassistant"
	ComponentSensor = "sensor"
	NodeID          = "ppe_sentinel"
)

// SensorConfig is the discovery payload of one sensor
type SensorConfig struct {
	Name                string  `json:"name"`
	UniqueID            string  `json:"unique_id"`
	StateTopic          string  `json:"state_topic"`
	Icon                string  `json:"icon,omitempty"`
	JSONAttributesTopic string  `json:"json_attributes_topic,omitempty"`
	ValueTemplate       string  `json:"value_template,omitempty"`
	AvailabilityTopic   string  `json:"availability_topic,omitempty"`
	PayloadAvailable    string  `json:"payload_available,omitempty"`
	PayloadNotAvailable string  `json:"payload_not_available,omitempty"`
	Device              *Device `json:"device,omitempty"`
}

// Device groups the sensors in Home Assistant
type Device struct {
	Identifiers  []string `json:"identifiers"`
	Name         string   `json:"name"`
	Manufacturer string   `json:"manufacturer"`
	Model        string   `json:"model"`
}

// DiscoveryManager registers two sensors per camera: the debounce state and
// the last stored violation
type DiscoveryManager struct {
	client       mqtt.Publisher
	topics       Topics
	availability string

	mu         sync.Mutex
	registered map[string]bool
}

// NewDiscoveryManager creates a discovery manager
func NewDiscoveryManager(client mqtt.Publisher, topics Topics, availabilityTopic string) *DiscoveryManager {
	return &DiscoveryManager{
		client:       client,
		topics:       topics,
		availability: availabilityTopic,
		registered:   make(map[string]bool),
	}
}

var device = &Device{
	Identifiers:  []string{"ppe_sentinel"},
	Name:         "PPE Sentinel",
	Manufacturer: "PPE Sentinel",
	Model:        "Evidence capture engine",
}

// RegisterCamera publishes the discovery configs of camera once
func (dm *DiscoveryManager) RegisterCamera(camera string) error {
	dm.mu.Lock()
	if dm.registered[camera] {
		dm.mu.Unlock()
		return nil
	}
	dm.registered[camera] = true
	dm.mu.Unlock()

	id := normalize(camera)

	sensors := map[string]SensorConfig{
		id + "_state": {
			Name:       fmt.Sprintf("PPE %s state", camera),
			UniqueID:   fmt.Sprintf("ppe_sentinel_%s_state", id),
			StateTopic: dm.topics.State(camera),
			Icon:       "mdi:hard-hat",
		},
		id + "_violation": {
			Name:                fmt.Sprintf("PPE %s last violation", camera),
			UniqueID:            fmt.Sprintf("ppe_sentinel_%s_violation", id),
			StateTopic:          dm.topics.Evidence(camera),
			JSONAttributesTopic: dm.topics.Evidence(camera),
			ValueTemplate:       "{{ value_json.violation_type }}",
			Icon:                "mdi:alert-octagon",
		},
	}

	for objectID, sensor := range sensors {
		sensor.AvailabilityTopic = dm.availability
		sensor.PayloadAvailable = "online"
		sensor.PayloadNotAvailable = "offline"
		sensor.Device = device

		topic := fmt.Sprintf("%s/%s/%s/%s/config", DiscoveryPrefix, ComponentSensor, NodeID, objectID)
		if err := dm.client.PublishMessage(topic, sensor, true); err != nil {
			dm.mu.Lock()
			delete(dm.registered, camera)
			dm.mu.Unlock()
			return fmt.Errorf("failed to publish discovery configuration: %w", err)
		}
	}

	log.Infof("Registered Home Assistant sensors for camera %s", camera)
	return nil
}

// normalize makes a camera id usable as a Home Assistant object id
func normalize(camera string) string {
	return strings.ToLower(strings.NewReplacer(" ", "_", "-", "_", "/", "_", ".", "_").Replace(camera))
}
