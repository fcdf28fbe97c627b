package processor

import (
	"context"
	"errors"
	"fmt"
	"image"
	"sync"
	"time"

	"ppe-sentinel/internal/core/debounce"
	"ppe-sentinel/internal/core/detection"
	"ppe-sentinel/internal/core/models"
)

var errStoreDown = errors.New("database is locked")

type memoryStore struct {
	mu      sync.Mutex
	records []models.Evidence
	nextID  uint
	calls   int
	err     error
}

func (s *memoryStore) Insert(_ context.Context, rec *models.Evidence) (uint, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if s.err != nil {
		return 0, s.err
	}
	s.nextID++
	rec.ID = s.nextID
	s.records = append(s.records, *rec)
	return rec.ID, nil
}

func (s *memoryStore) ListAll(context.Context) ([]models.Evidence, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]models.Evidence, 0, len(s.records))
	for i := len(s.records) - 1; i >= 0; i-- {
		out = append(out, s.records[i])
	}
	return out, nil
}

func (s *memoryStore) DeleteByID(_ context.Context, id uint) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, r := range s.records {
		if r.ID == id {
			s.records = append(s.records[:i], s.records[i+1:]...)
			return true, nil
		}
	}
	return false, nil
}

func (s *memoryStore) DeleteAll(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records = nil
	s.nextID = 0
	return nil
}

func (s *memoryStore) insertCalls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

type fakeEncoder struct {
	err error
}

func (e fakeEncoder) Encode(img image.Image) ([]byte, error) {
	if e.err != nil {
		return nil, e.err
	}
	b := img.Bounds()
	return []byte(fmt.Sprintf("jpeg:%dx%d", b.Dx(), b.Dy())), nil
}

// fakeRenderer returns a fresh image so tests can tell annotated from raw frames
type fakeRenderer struct {
	err      error
	block    chan struct{}
	overlays []Overlay
	mu       sync.Mutex
}

func (r *fakeRenderer) Render(img image.Image, _ []detection.Region, overlay Overlay) (image.Image, error) {
	if r.block != nil {
		<-r.block
	}
	r.mu.Lock()
	r.overlays = append(r.overlays, overlay)
	r.mu.Unlock()
	if r.err != nil {
		return nil, r.err
	}
	b := img.Bounds()
	return image.NewRGBA(image.Rect(0, 0, b.Dx()*2, b.Dy()*2)), nil
}

type plainTexts struct{}

func (plainTexts) Countdown(remaining time.Duration) string {
	return fmt.Sprintf("VIOLATION DETECTED: %d", int(remaining.Seconds())+1)
}
func (plainTexts) Recorded() string        { return "RECORDED!" }
func (plainTexts) AlreadyRecorded() string { return "ALREADY RECORDED!" }

type recordingListener struct {
	mu          sync.Mutex
	transitions []string
	captured    []models.Evidence
}

func (l *recordingListener) StateChanged(camera string, ev debounce.Event) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.transitions = append(l.transitions, fmt.Sprintf("%s:%s->%s", camera, ev.Previous, ev.State))
}

func (l *recordingListener) EvidenceCaptured(rec models.Evidence) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.captured = append(l.captured, rec)
}

func testImage() image.Image {
	return image.NewRGBA(image.Rect(0, 0, 4, 3))
}

var origin = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

func at(s float64) time.Time {
	return origin.Add(time.Duration(s * float64(time.Second)))
}

func violatingFrame(camera string, s float64, label string) Frame {
	return Frame{
		Camera:    camera,
		ArrivedAt: at(s),
		Image:     testImage(),
		Regions: []detection.Region{
			{Label: "Person", Confidence: 0.91, Box: detection.Box{X1: 1, Y1: 1, X2: 3, Y2: 3}},
			{Label: label, Confidence: 0.77, Box: detection.Box{X1: 1, Y1: 1, X2: 2, Y2: 2}},
		},
	}
}

func clearFrame(camera string, s float64) Frame {
	return Frame{
		Camera:    camera,
		ArrivedAt: at(s),
		Image:     testImage(),
		Regions:   []detection.Region{{Label: "Hardhat", Confidence: 0.88}},
	}
}
