package processor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"image"
	"time"

	"ppe-sentinel/internal/core/debounce"
	"ppe-sentinel/internal/core/detection"
	"ppe-sentinel/internal/core/models"
	"ppe-sentinel/internal/db/repository"
	"ppe-sentinel/internal/metrics"
	"ppe-sentinel/internal/util/timezone"

	log "github.com/sirupsen/logrus"
	"gorm.io/datatypes"
)

// Errors reported in an Outcome when a triggered episode is not stored
var (
	ErrNoImage = errors.New("frame carries no image")
	ErrEncode  = errors.New("evidence encoding failed")
	ErrInsert  = errors.New("evidence insert failed")
)

// Frame is one detector result for one stream
type Frame struct {
	Camera string
	// ArrivedAt must be sampled with time.Now() on arrival
	ArrivedAt time.Time
	// Image is the raw frame; nil when the detector sent labels only
	Image   image.Image
	Regions []detection.Region
}

// Overlay is the advisory text drawn onto the annotated frame
type Overlay struct {
	Text  string
	Alert bool
}

// Renderer draws detections and the overlay onto a frame
type Renderer interface {
	Render(img image.Image, regions []detection.Region, overlay Overlay) (image.Image, error)
}

// Encoder produces the stored evidence image
type Encoder interface {
	Encode(img image.Image) ([]byte, error)
}

// OverlayTexts provides the localized overlay messages
type OverlayTexts interface {
	Countdown(remaining time.Duration) string
	Recorded() string
	AlreadyRecorded() string
}

// Listener is notified from the stream goroutine; implementations must not block
type Listener interface {
	StateChanged(camera string, ev debounce.Event)
	EvidenceCaptured(rec models.Evidence)
}

// Dependencies are shared by every stream processor
type Dependencies struct {
	Classifier    *detection.Classifier
	Store         repository.EvidenceStore
	Renderer      Renderer
	Encoder       Encoder
	Texts         OverlayTexts
	Listeners     []Listener
	Metrics       *metrics.Engine
	Sustain       time.Duration
	InsertTimeout time.Duration
}

// Outcome is the result of processing one frame
type Outcome struct {
	Event     debounce.Event
	Result    detection.Result
	Overlay   Overlay
	Annotated image.Image
	// RecordID is set when this frame produced a stored record
	RecordID uint
	// Err is set when a trigger could not be stored
	Err error
}

// Processor runs classify → debounce → capture for a single stream.
// It owns the stream's timer and must only be used from one goroutine.
type Processor struct {
	camera string
	deps   Dependencies
	timer  *debounce.Timer
}

// NewProcessor creates the processor of one stream
func NewProcessor(camera string, deps Dependencies) *Processor {
	if deps.InsertTimeout <= 0 {
		deps.InsertTimeout = 10 * time.Second
	}
	return &Processor{
		camera: camera,
		deps:   deps,
		timer:  debounce.NewTimer(deps.Sustain),
	}
}

// Camera returns the stream id
func (p *Processor) Camera() string {
	return p.camera
}

// State returns a copy of the stream's episode state
func (p *Processor) State() debounce.StreamState {
	return p.timer.State()
}

// Process handles one frame. Capture failures are logged and reported in the
// Outcome; they never stop the stream and are never retried.
func (p *Processor) Process(ctx context.Context, frame Frame) Outcome {
	res := p.deps.Classifier.Classify(frame.Regions)
	ev := p.timer.Observe(frame.ArrivedAt, res)

	out := Outcome{
		Event:   ev,
		Result:  res,
		Overlay: p.overlay(ev),
	}

	logger := log.WithFields(log.Fields{
		"camera":  p.camera,
		"episode": ev.EpisodeID,
	})

	if ev.Transitioned() {
		if ev.Previous == debounce.Idle {
			p.deps.Metrics.EpisodeStarted(p.camera)
			logger.WithField("violation", ev.Label).Debug("Violation episode started")
		} else if ev.State == debounce.Idle {
			logger.WithField("previous", ev.Previous).Debug("Violation episode ended")
		}
		for _, l := range p.deps.Listeners {
			l.StateChanged(p.camera, ev)
		}
	}

	if frame.Image != nil && p.deps.Renderer != nil {
		annotated, err := p.deps.Renderer.Render(frame.Image, frame.Regions, out.Overlay)
		if err != nil {
			logger.WithError(err).Warn("Failed to annotate frame")
		} else {
			out.Annotated = annotated
		}
	}

	if ev.Kind != debounce.Trigger {
		return out
	}

	p.deps.Metrics.Triggered(p.camera, ev.Label)
	logger.WithField("violation", ev.Label).Info("Violation sustained, capturing evidence")

	rec, err := p.capture(ctx, frame, ev, out.Annotated)
	if err != nil {
		out.Err = err
		logger.WithError(err).Error("Evidence capture failed; episode stays consumed")
		return out
	}

	p.timer.MarkCaptured()
	out.RecordID = rec.ID
	logger.WithFields(log.Fields{
		"record_id": rec.ID,
		"violation": rec.ViolationType,
	}).Info("Evidence stored")

	for _, l := range p.deps.Listeners {
		l.EvidenceCaptured(*rec)
	}
	return out
}

func (p *Processor) capture(ctx context.Context, frame Frame, ev debounce.Event, annotated image.Image) (*models.Evidence, error) {
	img := annotated
	if img == nil {
		img = frame.Image
	}
	if img == nil {
		p.deps.Metrics.CaptureFailed(p.camera, metrics.ReasonNoImage)
		return nil, ErrNoImage
	}
	if p.deps.Encoder == nil {
		p.deps.Metrics.CaptureFailed(p.camera, metrics.ReasonEncode)
		return nil, fmt.Errorf("%w: no encoder configured", ErrEncode)
	}

	data, err := p.deps.Encoder.Encode(img)
	if err != nil {
		p.deps.Metrics.CaptureFailed(p.camera, metrics.ReasonEncode)
		return nil, fmt.Errorf("%w: %w", ErrEncode, err)
	}

	regions, err := json.Marshal(frame.Regions)
	if err != nil {
		regions = nil
	}

	rec := &models.Evidence{
		Timestamp:     timezone.RecordTimestamp(frame.ArrivedAt),
		ViolationType: ev.Label,
		Image:         data,
		Camera:        p.camera,
		EpisodeID:     ev.EpisodeID,
		Detections:    datatypes.JSON(regions),
	}

	// Stopping the stream must not abort an insert that already started.
	insertCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), p.deps.InsertTimeout)
	defer cancel()

	start := time.Now()
	if _, err := p.deps.Store.Insert(insertCtx, rec); err != nil {
		p.deps.Metrics.CaptureFailed(p.camera, metrics.ReasonInsert)
		return nil, fmt.Errorf("%w: %w", ErrInsert, err)
	}
	p.deps.Metrics.Captured(p.camera, rec.ViolationType, time.Since(start).Seconds())
	return rec, nil
}

func (p *Processor) overlay(ev debounce.Event) Overlay {
	if p.deps.Texts == nil {
		return Overlay{}
	}
	switch ev.Kind {
	case debounce.Countdown:
		return Overlay{Text: p.deps.Texts.Countdown(ev.Remaining)}
	case debounce.Trigger:
		return Overlay{Text: p.deps.Texts.Recorded(), Alert: true}
	case debounce.Suppressed:
		return Overlay{Text: p.deps.Texts.AlreadyRecorded(), Alert: true}
	default:
		return Overlay{}
	}
}
