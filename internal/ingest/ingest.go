// Package ingest turns detector messages from MQTT or HTTP into engine frames.
package ingest

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"image"
	"strings"
	"time"

	"ppe-sentinel/config"
	"ppe-sentinel/internal/core/detection"
	"ppe-sentinel/internal/core/processor"

	log "github.com/sirupsen/logrus"
)

// ErrInvalidMessage is returned for detector messages that cannot be turned into a frame
var ErrInvalidMessage = errors.New("invalid detector message")

// Detection is one region as sent by the detector
type Detection struct {
	Label      string  `json:"label"`
	Confidence float64 `json:"confidence"`
	// Box is [x1, y1, x2, y2] in pixels
	Box   []int  `json:"box"`
	Model string `json:"model,omitempty"`
}

// Message is the detector payload of one frame
type Message struct {
	Camera string `json:"camera,omitempty"`
	// Timestamp is the detector's clock; informational only
	Timestamp string `json:"timestamp,omitempty"`
	// Frame is the base64 encoded JPEG or PNG, optional
	Frame      string      `json:"frame,omitempty"`
	Detections []Detection `json:"detections"`
}

// ParseMessage decodes a JSON detector message
func ParseMessage(payload []byte) (*Message, error) {
	var msg Message
	if err := json.Unmarshal(payload, &msg); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidMessage, err)
	}
	return &msg, nil
}

// Regions converts the detections, rejecting malformed boxes
func (m *Message) Regions() ([]detection.Region, error) {
	regions := make([]detection.Region, 0, len(m.Detections))
	for i, d := range m.Detections {
		if d.Label == "" {
			return nil, fmt.Errorf("%w: detection %d has no label", ErrInvalidMessage, i)
		}
		r := detection.Region{
			Label:      d.Label,
			Confidence: d.Confidence,
			Model:      d.Model,
		}
		switch len(d.Box) {
		case 0:
		case 4:
			r.Box = detection.Box{X1: d.Box[0], Y1: d.Box[1], X2: d.Box[2], Y2: d.Box[3]}
		default:
			return nil, fmt.Errorf("%w: detection %d box has %d values, want 4", ErrInvalidMessage, i, len(d.Box))
		}
		regions = append(regions, r)
	}
	return regions, nil
}

// FrameBytes returns the decoded base64 frame, nil when absent
func (m *Message) FrameBytes() ([]byte, error) {
	if m.Frame == "" {
		return nil, nil
	}
	data, err := base64.StdEncoding.DecodeString(m.Frame)
	if err != nil {
		return nil, fmt.Errorf("%w: frame is not base64: %w", ErrInvalidMessage, err)
	}
	return data, nil
}

// Decoder turns an encoded frame into an image
type Decoder interface {
	Decode(data []byte) (image.Image, error)
}

// Submitter queues frames on their stream. TrySubmit must not block.
type Submitter interface {
	Submit(ctx context.Context, frame processor.Frame) error
	TrySubmit(frame processor.Frame) error
}

// Ingestor applies the detector-side confidence filter and submits frames
type Ingestor struct {
	submitter     Submitter
	decoder       Decoder
	thresholds    map[string]float64
	defaultModel  string
	submitTimeout time.Duration
	topicPattern  string
}

// NewIngestor creates an ingestor. decoder may be nil when frames carry no images.
func NewIngestor(submitter Submitter, decoder Decoder, cfg *config.Config) *Ingestor {
	return &Ingestor{
		submitter:     submitter,
		decoder:       decoder,
		thresholds:    cfg.Detector.Thresholds,
		defaultModel:  cfg.Detector.DefaultModel,
		submitTimeout: cfg.Engine.SubmitTimeout,
		topicPattern:  cfg.MQTT.DetectionsTopic,
	}
}

// Ingest submits one frame of camera, waiting up to the submit timeout for
// room in the stream queue. The arrival time is taken here.
func (i *Ingestor) Ingest(ctx context.Context, camera string, msg *Message, frameData []byte) error {
	frame, err := i.frame(camera, msg, frameData)
	if err != nil {
		return err
	}

	if i.submitTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, i.submitTimeout)
		defer cancel()
	}

	return i.submitter.Submit(ctx, frame)
}

// Offer is Ingest without waiting: a frame for a full stream queue is dropped.
func (i *Ingestor) Offer(camera string, msg *Message, frameData []byte) error {
	frame, err := i.frame(camera, msg, frameData)
	if err != nil {
		return err
	}
	return i.submitter.TrySubmit(frame)
}

func (i *Ingestor) frame(camera string, msg *Message, frameData []byte) (processor.Frame, error) {
	arrivedAt := time.Now()

	if camera == "" {
		return processor.Frame{}, fmt.Errorf("%w: no camera", ErrInvalidMessage)
	}

	regions, err := msg.Regions()
	if err != nil {
		return processor.Frame{}, err
	}

	frame := processor.Frame{
		Camera:    camera,
		ArrivedAt: arrivedAt,
		Regions:   detection.FilterByConfidence(regions, i.thresholds, i.defaultModel),
	}

	if len(frameData) > 0 && i.decoder != nil {
		img, err := i.decoder.Decode(frameData)
		if err != nil {
			return processor.Frame{}, fmt.Errorf("%w: %w", ErrInvalidMessage, err)
		}
		frame.Image = img
	}
	return frame, nil
}

// HandleMessage ingests a message of the MQTT detections topic. The MQTT
// client delivers every camera on one goroutine, so frames are offered and
// never wait for queue space.
func (i *Ingestor) HandleMessage(topic string, payload []byte) {
	logger := log.WithField("topic", topic)

	msg, err := ParseMessage(payload)
	if err != nil {
		logger.Warnf("Dropping detector message: %v", err)
		return
	}

	camera := msg.Camera
	if camera == "" {
		camera = CameraFromTopic(i.topicPattern, topic)
	}

	frameData, err := msg.FrameBytes()
	if err != nil {
		logger.Warnf("Dropping detector message: %v", err)
		return
	}

	if err := i.Offer(camera, msg, frameData); err != nil {
		logger.WithField("camera", camera).Warnf("Frame not ingested: %v", err)
	}
}

// CameraFromTopic returns the topic segment matched by the pattern's first
// single-level wildcard, or "" when the topic does not fit the pattern
func CameraFromTopic(pattern, topic string) string {
	patternParts := strings.Split(pattern, "/")
	topicParts := strings.Split(topic, "/")
	if len(patternParts) != len(topicParts) {
		return ""
	}

	camera := ""
	for idx, p := range patternParts {
		switch {
		case p == "+":
			if camera == "" {
				camera = topicParts[idx]
			}
		case p != topicParts[idx]:
			return ""
		}
	}
	return camera
}
