package mqtt

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"ppe-sentinel/config"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	log "github.com/sirupsen/logrus"
)

// ErrNotConnected is returned when publishing without a broker connection
var ErrNotConnected = errors.New("MQTT client is not connected")

const publishTimeout = 5 * time.Second

// Client is the MQTT client used for detection ingestion and alert publishing
type Client struct {
	config config.MQTTConfig
	client mqtt.Client

	mu       sync.RWMutex
	handlers []MessageHandler
}

// MessageHandler processes messages of the detections topic.
// Handlers run on the client's message goroutine in arrival order.
type MessageHandler interface {
	HandleMessage(topic string, payload []byte)
}

// Publisher publishes a payload to a topic
type Publisher interface {
	PublishMessage(topic string, payload interface{}, retain bool) error
}

var _ Publisher = (*Client)(nil)

// NewClient creates a new MQTT client
func NewClient(cfg config.MQTTConfig) *Client {
	return &Client{
		config: cfg,
	}
}

// RegisterHandler registers a handler for the detections topic
func (c *Client) RegisterHandler(handler MessageHandler) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.handlers = append(c.handlers, handler)
	log.Debug("Registered new MQTT message handler")
}

// Start connects to the broker; subscriptions are renewed on every reconnect
func (c *Client) Start() error {
	if !c.config.Enabled {
		log.Info("MQTT client is disabled in configuration")
		return nil
	}

	opts := mqtt.NewClientOptions()

	brokerURL := fmt.Sprintf("tcp://%s:%d", c.config.Broker, c.config.Port)
	opts.AddBroker(brokerURL)
	opts.SetClientID(c.config.ClientID)

	if c.config.Username != "" {
		opts.SetUsername(c.config.Username)
		opts.SetPassword(c.config.Password)
	}

	opts.SetOnConnectHandler(c.onConnectHandler)
	opts.SetConnectionLostHandler(c.connectionLostHandler)

	opts.SetAutoReconnect(true)
	opts.SetMaxReconnectInterval(1 * time.Minute)
	// frames of a stream must reach the engine in order
	opts.SetOrderMatters(true)

	if c.config.TopicPrefix != "" {
		opts.SetWill(c.AvailabilityTopic(), "offline", 1, true)
	}

	c.client = mqtt.NewClient(opts)

	log.Infof("Connecting to MQTT broker at %s", brokerURL)
	if token := c.client.Connect(); token.Wait() && token.Error() != nil {
		log.Errorf("Failed to connect to MQTT broker: %v", token.Error())
		return token.Error()
	}

	log.Info("MQTT client connected successfully")
	return nil
}

// Stop disconnects from the broker
func (c *Client) Stop() {
	if c.client != nil && c.client.IsConnected() {
		log.Info("Disconnecting MQTT client...")
		if c.config.TopicPrefix != "" {
			if err := c.PublishMessage(c.AvailabilityTopic(), "offline", true); err != nil {
				log.Warnf("Failed to publish availability: %v", err)
			}
		}
		c.client.Disconnect(250)
		log.Info("MQTT client disconnected")
	}
}

// IsConnected reports whether the client has a broker connection
func (c *Client) IsConnected() bool {
	return c.client != nil && c.client.IsConnected()
}

// AvailabilityTopic is the retained online/offline topic of the service
func (c *Client) AvailabilityTopic() string {
	return c.config.TopicPrefix + "/availability"
}

func (c *Client) onConnectHandler(client mqtt.Client) {
	log.Infof("Connected to MQTT broker at %s:%d", c.config.Broker, c.config.Port)

	if c.config.TopicPrefix != "" {
		client.Publish(c.AvailabilityTopic(), 1, true, "online")
	}

	topic := c.config.DetectionsTopic
	if topic == "" {
		return
	}

	log.Infof("Subscribing to MQTT topic: %s", topic)
	if token := client.Subscribe(topic, 1, c.messageHandler); token.Wait() && token.Error() != nil {
		log.Errorf("Failed to subscribe to topic %s: %v", topic, token.Error())
	} else {
		log.Infof("Successfully subscribed to topic: %s", topic)
	}
}

func (c *Client) connectionLostHandler(_ mqtt.Client, err error) {
	log.Errorf("MQTT connection lost: %v", err)
}

func (c *Client) messageHandler(_ mqtt.Client, msg mqtt.Message) {
	log.Debugf("Received MQTT message on topic: %s", msg.Topic())
	c.dispatch(msg.Topic(), msg.Payload())
}

// dispatch runs every handler synchronously so per-stream frame order is kept
func (c *Client) dispatch(topic string, payload []byte) {
	c.mu.RLock()
	handlers := c.handlers
	c.mu.RUnlock()

	for _, handler := range handlers {
		handler.HandleMessage(topic, payload)
	}
}

// PublishMessage publishes payload to topic. Strings and byte slices are sent
// as is, scalars formatted, everything else marshalled to JSON.
func (c *Client) PublishMessage(topic string, payload interface{}, retain bool) error {
	if !c.IsConnected() {
		return ErrNotConnected
	}

	payloadBytes, err := encodePayload(payload)
	if err != nil {
		return err
	}

	token := c.client.Publish(topic, 1, retain, payloadBytes)
	if !token.WaitTimeout(publishTimeout) {
		return fmt.Errorf("timed out publishing to topic %s", topic)
	}
	if token.Error() != nil {
		return fmt.Errorf("failed to publish message to topic %s: %w", topic, token.Error())
	}

	log.Debugf("Published message to topic: %s", topic)
	return nil
}

func encodePayload(payload interface{}) ([]byte, error) {
	switch p := payload.(type) {
	case string:
		return []byte(p), nil
	case []byte:
		return p, nil
	case int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64, float32, float64, bool:
		return []byte(fmt.Sprintf("%v", p)), nil
	default:
		b, err := json.Marshal(p)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal payload to JSON: %w", err)
		}
		return b, nil
	}
}

// PublishRetain publishes with the retain flag set
func (c *Client) PublishRetain(topic string, payload interface{}) error {
	return c.PublishMessage(topic, payload, true)
}

// Publish publishes without the retain flag
func (c *Client) Publish(topic string, payload interface{}) error {
	return c.PublishMessage(topic, payload, false)
}
