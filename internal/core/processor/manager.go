package processor

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"ppe-sentinel/internal/core/debounce"

	log "github.com/sirupsen/logrus"
)

var (
	// ErrStreamStopped is returned when a frame is submitted to a stream being stopped
	ErrStreamStopped = errors.New("stream stopped")
	// ErrManagerClosed is returned after Shutdown
	ErrManagerClosed = errors.New("stream manager closed")
	// ErrNoCamera is returned for frames without a stream id
	ErrNoCamera = errors.New("frame has no camera id")
	// ErrQueueFull is returned when a stream queue has no room for the frame
	ErrQueueFull = errors.New("stream queue full")
)

// StreamStats is a snapshot of one stream
type StreamStats struct {
	Camera       string    `json:"camera"`
	State        string    `json:"state"`
	EpisodeID    string    `json:"episode_id,omitempty"`
	EpisodeLabel string    `json:"episode_label,omitempty"`
	EpisodeStart time.Time `json:"episode_start,omitempty"`
	Captured     bool      `json:"captured"`
	Processed    uint64    `json:"frames_processed"`
	Queued       int       `json:"frames_queued"`
	StartedAt    time.Time `json:"started_at"`
}

// stream is one worker goroutine with its ordered frame queue
type stream struct {
	camera   string
	frames   chan Frame
	stopping chan struct{}
	stopOnce sync.Once
	// drain is closed once no sender can reach frames anymore
	drain chan struct{}
	done  chan struct{}

	// senders hold mu for reading while they send; stopped is set under
	// the write lock so nothing is queued after the final drain
	mu      sync.RWMutex
	stopped bool

	processor *Processor
	processed atomic.Uint64
	state     atomic.Pointer[debounce.StreamState]
	startedAt time.Time
}

// stop releases blocked senders, waits for in-flight sends and lets the
// worker drain what is queued. It does not wait for the worker.
func (s *stream) stop() {
	s.stopOnce.Do(func() {
		close(s.stopping)
		s.mu.Lock()
		s.stopped = true
		s.mu.Unlock()
		close(s.drain)
	})
}

// send queues frame unless the stream is stopping. With wait unset a full
// queue fails at once.
func (s *stream) send(ctx context.Context, frame Frame, wait bool) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.stopped {
		return ErrStreamStopped
	}
	select {
	case <-s.stopping:
		return ErrStreamStopped
	default:
	}

	select {
	case s.frames <- frame:
		return nil
	default:
	}
	if !wait {
		return ErrQueueFull
	}

	select {
	case s.frames <- frame:
		return nil
	case <-s.stopping:
		return ErrStreamStopped
	case <-ctx.Done():
		return fmt.Errorf("%w: %w", ErrQueueFull, ctx.Err())
	}
}

// Manager runs one processor goroutine per stream. Streams are created on
// their first frame and never share state; each processes its frames in
// submission order.
type Manager struct {
	ctx       context.Context
	deps      Dependencies
	queueSize int
	onOutcome func(camera string, out Outcome)

	mu      sync.Mutex
	streams map[string]*stream
	closed  bool
	wg      sync.WaitGroup
}

// NewManager creates a stream manager. ctx is passed to every processor.
func NewManager(ctx context.Context, deps Dependencies, queueSize int) *Manager {
	if queueSize <= 0 {
		queueSize = 1
	}
	return &Manager{
		ctx:       ctx,
		deps:      deps,
		queueSize: queueSize,
		streams:   make(map[string]*stream),
	}
}

// OnOutcome registers a callback invoked from the stream goroutine after each frame.
// It must be set before the first Submit.
func (m *Manager) OnOutcome(fn func(camera string, out Outcome)) {
	m.onOutcome = fn
}

// Submit queues frame on its stream, starting the stream if needed.
// It blocks while the queue is full until ctx is done.
func (m *Manager) Submit(ctx context.Context, frame Frame) error {
	return m.submit(ctx, frame, true)
}

// TrySubmit is Submit without waiting: a full queue drops the frame with
// ErrQueueFull. Callers that serve several streams from one goroutine use it
// so a slow stream cannot hold up the others.
func (m *Manager) TrySubmit(frame Frame) error {
	return m.submit(context.Background(), frame, false)
}

func (m *Manager) submit(ctx context.Context, frame Frame, wait bool) error {
	if frame.Camera == "" {
		return ErrNoCamera
	}
	if frame.ArrivedAt.IsZero() {
		frame.ArrivedAt = time.Now()
	}

	s, err := m.stream(frame.Camera)
	if err != nil {
		return err
	}

	if err := s.send(ctx, frame, wait); err != nil {
		m.deps.Metrics.FrameDropped(frame.Camera)
		return err
	}
	return nil
}

func (m *Manager) stream(camera string) (*stream, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return nil, ErrManagerClosed
	}
	if s, ok := m.streams[camera]; ok {
		return s, nil
	}

	s := &stream{
		camera:    camera,
		frames:    make(chan Frame, m.queueSize),
		stopping:  make(chan struct{}),
		drain:     make(chan struct{}),
		done:      make(chan struct{}),
		processor: NewProcessor(camera, m.deps),
		startedAt: time.Now(),
	}
	idle := debounce.StreamState{}
	s.state.Store(&idle)
	m.streams[camera] = s

	m.wg.Add(1)
	go m.run(s)

	m.deps.Metrics.StreamStarted()
	log.WithField("camera", camera).Info("Stream started")
	return s, nil
}

func (m *Manager) run(s *stream) {
	defer m.wg.Done()
	defer close(s.done)
	defer m.deps.Metrics.StreamStopped(s.camera)

	for {
		select {
		case frame := <-s.frames:
			m.process(s, frame)
		case <-s.drain:
			// frames accepted before the stop are still processed
			for {
				select {
				case frame := <-s.frames:
					m.process(s, frame)
				default:
					log.WithField("camera", s.camera).Info("Stream stopped")
					return
				}
			}
		}
	}
}

func (m *Manager) process(s *stream, frame Frame) {
	out := s.processor.Process(m.ctx, frame)

	state := s.processor.State()
	s.state.Store(&state)
	s.processed.Add(1)
	m.deps.Metrics.FrameProcessed(s.camera, len(s.frames))

	if m.onOutcome != nil {
		m.onOutcome(s.camera, out)
	}
}

// Stop stops a stream and waits for its queued frames to finish.
// It reports whether the stream existed. Until the stream is gone, frames
// for the camera are rejected with ErrStreamStopped rather than starting a
// second stream.
func (m *Manager) Stop(camera string) bool {
	m.mu.Lock()
	s, ok := m.streams[camera]
	m.mu.Unlock()

	if !ok {
		return false
	}
	s.stop()
	<-s.done

	m.mu.Lock()
	if m.streams[camera] == s {
		delete(m.streams, camera)
	}
	m.mu.Unlock()
	return true
}

// Shutdown stops every stream and waits for the workers to exit
func (m *Manager) Shutdown() {
	m.mu.Lock()
	m.closed = true
	streams := m.streams
	m.streams = make(map[string]*stream)
	m.mu.Unlock()

	for _, s := range streams {
		s.stop()
	}
	m.wg.Wait()
	log.Info("Stream manager shut down")
}

// Streams returns a snapshot of the running streams sorted by camera
func (m *Manager) Streams() []StreamStats {
	m.mu.Lock()
	streams := make([]*stream, 0, len(m.streams))
	for _, s := range m.streams {
		streams = append(streams, s)
	}
	m.mu.Unlock()

	stats := make([]StreamStats, 0, len(streams))
	for _, s := range streams {
		st := s.state.Load()
		stats = append(stats, StreamStats{
			Camera:       s.camera,
			State:        st.State.String(),
			EpisodeID:    st.EpisodeID,
			EpisodeLabel: st.EpisodeLabel,
			EpisodeStart: st.EpisodeStart,
			Captured:     st.Captured,
			Processed:    s.processed.Load(),
			Queued:       len(s.frames),
			StartedAt:    s.startedAt,
		})
	}
	sort.Slice(stats, func(i, j int) bool { return stats[i].Camera < stats[j].Camera })
	return stats
}

// StreamCount returns the number of running streams
func (m *Manager) StreamCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.streams)
}
