// Package bargein decides when user speech or a backend control signal must
// cut off in-flight agent audio, and records each interruption for metrics.
//
// An interruption chain is the run of signals belonging to one logical
// barge-in: a partial transcript is often followed within milliseconds by an
// authoritative cancel control for the same utterance. The controller folds
// such runs into a single event so one barge-in is never counted twice.
package bargein

import (
	"sync"
	"time"
)

// Playback is the slice of the playback engine the controller needs.
// *playback.Engine satisfies it.
type Playback interface {
	Playing() bool
	Clear()
}

// Trigger identifies what kind of signal started or continued an
// interruption chain.
type Trigger string

const (
	// TriggerPartialTranscript is a non-final user transcript arriving while
	// agent audio is still playing.
	TriggerPartialTranscript Trigger = "partial_transcript"
	// TriggerControl is an explicit cancellation control from the backend.
	TriggerControl Trigger = "control"
)

// Meta carries the wire-level context of an interruption signal.
type Meta struct {
	Reason   string
	Signal   string
	Stage    string
	Sequence int
}

// Event is one recorded barge-in. ClearIssued reports whether this event
// actually wiped the playback queue (a follow-up signal in the same chain
// may find the queue already cleared).
type Event struct {
	Trigger     Trigger
	Meta        Meta
	At          time.Time
	ClearIssued bool

	finalized bool
}

// Finalized reports whether the event has entered the metrics timeline.
func (e *Event) Finalized() bool { return e.finalized }

// Controller tracks the pending interruption chain for one session. Safe for
// concurrent use, though signals normally arrive on the dispatch goroutine.
type Controller struct {
	playback Playback

	mu sync.Mutex
	// pending is the open interruption chain, nil when no chain is active.
	pending *Event
	// clearConfirmed is true once a clear has been issued for the current
	// chain; it resets when the next agent utterance starts.
	clearConfirmed bool
	events         []Event

	onFinalize func(*Event)
	now        func() time.Time
}

// Option configures a [Controller] during construction.
type Option func(*Controller)

// WithClock overrides the time source. Used in tests.
func WithClock(now func() time.Time) Option {
	return func(c *Controller) { c.now = now }
}

// WithOnFinalize registers a callback invoked as each event enters the
// metrics timeline.
func WithOnFinalize(fn func(*Event)) Option {
	return func(c *Controller) { c.onFinalize = fn }
}

// NewController creates a controller cutting off the given playback engine.
func NewController(pb Playback, opts ...Option) *Controller {
	c := &Controller{
		playback: pb,
		now:      time.Now,
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Record registers an interruption signal. If agent audio is playing, or no
// clear has been confirmed yet for the current chain, the playback queue is
// wiped immediately. A signal arriving while a chain is already open joins
// that chain instead of opening a second one; a control signal upgrades the
// chain's trigger.
func (c *Controller) Record(trigger Trigger, meta Meta) *Event {
	c.mu.Lock()
	defer c.mu.Unlock()

	cleared := false
	if c.playback.Playing() || !c.clearConfirmed {
		c.playback.Clear()
		c.clearConfirmed = true
		cleared = true
	}

	if c.pending != nil {
		if trigger == TriggerControl {
			c.pending.Trigger = trigger
			c.pending.Meta = meta
		}
		if cleared {
			c.pending.ClearIssued = true
		}
		return c.pending
	}

	c.pending = &Event{
		Trigger:     trigger,
		Meta:        meta,
		At:          c.now(),
		ClearIssued: cleared,
	}
	return c.pending
}

// Interrupt handles an authoritative backend cancellation: it records a
// control-triggered event and finalizes it in one step.
func (c *Controller) Interrupt(meta Meta) *Event {
	ev := c.Record(TriggerControl, meta)
	c.Finalize(ev, false)
	return ev
}

// Finalize moves the event into the metrics timeline once its causal effect
// is confirmed (next assistant stream delta or an explicit audio-stop
// control). With keepPending the chain stays open so a second, authoritative
// signal for the same utterance folds into this event rather than counting
// as a new one. Finalizing twice is a no-op.
func (c *Controller) Finalize(ev *Event, keepPending bool) {
	if ev == nil {
		return
	}
	c.mu.Lock()
	if ev.finalized {
		c.mu.Unlock()
		return
	}
	ev.finalized = true
	c.events = append(c.events, *ev)
	if !keepPending && c.pending == ev {
		c.pending = nil
	}
	onFinalize := c.onFinalize
	c.mu.Unlock()

	if onFinalize != nil {
		onFinalize(ev)
	}
}

// FinalizePending finalizes the open chain, if any, and reports whether one
// existed.
func (c *Controller) FinalizePending() bool {
	c.mu.Lock()
	ev := c.pending
	c.mu.Unlock()
	if ev == nil {
		return false
	}
	c.Finalize(ev, false)
	return true
}

// NotifyAudioStart marks the start of a new agent utterance: the current
// interruption chain, if any, is over, and the next signal must issue a
// fresh clear.
func (c *Controller) NotifyAudioStart() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.clearConfirmed = false
	c.pending = nil
}

// Pending returns the open chain's event, or nil.
func (c *Controller) Pending() *Event {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.pending
}

// Count returns the number of finalized barge-in events.
func (c *Controller) Count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.events)
}

// Events returns a copy of the finalized event timeline.
func (c *Controller) Events() []Event {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Event, len(c.events))
	copy(out, c.events)
	return out
}
