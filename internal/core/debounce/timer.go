// Package debounce turns a flickering per-frame violation signal into at most
// one capture trigger per uninterrupted episode.
package debounce

import (
	"time"

	"ppe-sentinel/internal/core/detection"

	"github.com/google/uuid"
)

// State of a stream's episode
type State int

const (
	// Idle means no episode is active
	Idle State = iota
	// Pending means an episode started but has not lasted the sustain duration yet
	Pending
	// Fired means the episode reached the sustain duration and was consumed
	Fired
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Pending:
		return "pending"
	case Fired:
		return "fired"
	default:
		return "unknown"
	}
}

// EventKind describes what an observation produced
type EventKind int

const (
	// None is emitted while idle
	None EventKind = iota
	// Countdown is emitted while pending; advisory only
	Countdown
	// Trigger is emitted once per episode, at the transition to Fired
	Trigger
	// Suppressed is emitted for violating frames of an already fired episode
	Suppressed
)

func (k EventKind) String() string {
	switch k {
	case None:
		return "none"
	case Countdown:
		return "countdown"
	case Trigger:
		return "trigger"
	case Suppressed:
		return "suppressed"
	default:
		return "unknown"
	}
}

// Event is the outcome of one observation
type Event struct {
	Kind      EventKind
	State     State
	Previous  State
	EpisodeID string
	// Label recorded at episode start
	Label        string
	EpisodeStart time.Time
	// Remaining is set for Countdown events
	Remaining time.Duration
}

// Transitioned reports whether the observation changed the state
func (e Event) Transitioned() bool {
	return e.State != e.Previous
}

// StreamState is the mutable episode state of one stream.
// Captured implies HasEpisode; !HasEpisode implies !Captured.
type StreamState struct {
	State        State
	EpisodeID    string
	EpisodeStart time.Time
	EpisodeLabel string
	Captured     bool
}

// HasEpisode reports whether an episode is active
func (s StreamState) HasEpisode() bool {
	return s.State != Idle
}

// Timer is the per-stream debounce state machine. It is not safe for
// concurrent use; each stream owns exactly one Timer.
type Timer struct {
	sustain time.Duration
	state   StreamState
	newID   func() string
}

// NewTimer creates an idle timer requiring the condition to hold for sustain
func NewTimer(sustain time.Duration) *Timer {
	if sustain < 0 {
		sustain = 0
	}
	return &Timer{
		sustain: sustain,
		newID:   uuid.NewString,
	}
}

// Sustain returns the configured sustain duration
func (t *Timer) Sustain() time.Duration {
	return t.sustain
}

// State returns a copy of the current stream state
func (t *Timer) State() StreamState {
	return t.state
}

// Observe feeds one frame's classification taken at now.
// now must come from the same clock for every call; time.Now() values carry a
// monotonic reading, so wall clock jumps do not affect the elapsed time.
func (t *Timer) Observe(now time.Time, res detection.Result) Event {
	prev := t.state.State

	if !res.Violating {
		t.state = StreamState{}
		return Event{Kind: None, State: Idle, Previous: prev}
	}

	if t.state.State == Idle {
		t.state = StreamState{
			State:        Pending,
			EpisodeID:    t.newID(),
			EpisodeStart: now,
			EpisodeLabel: res.Label,
		}
	}

	ev := Event{
		Previous:     prev,
		EpisodeID:    t.state.EpisodeID,
		Label:        t.state.EpisodeLabel,
		EpisodeStart: t.state.EpisodeStart,
	}

	switch t.state.State {
	case Fired:
		ev.Kind = Suppressed
	case Pending:
		elapsed := now.Sub(t.state.EpisodeStart)
		if elapsed < t.sustain {
			ev.Kind = Countdown
			ev.Remaining = t.sustain - elapsed
		} else {
			t.state.State = Fired
			ev.Kind = Trigger
		}
	}

	ev.State = t.state.State
	return ev
}

// MarkCaptured records that the current episode produced a stored record.
// It has no effect unless the episode has fired.
func (t *Timer) MarkCaptured() {
	if t.state.State == Fired {
		t.state.Captured = true
	}
}

// Reset forces the timer back to Idle
func (t *Timer) Reset() {
	t.state = StreamState{}
}
