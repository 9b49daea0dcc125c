// Package turns tracks per-turn latency for a voice session: time to first
// token, final-text time, audio start/end, and total latency.
//
// A Turn is one user-utterance/agent-response cycle. Several turns can be
// open at once for a short window (a new turn can arrive before the previous
// one's audio finished); the tracker resolves the most relevant open turn
// by preferring the explicitly tracked awaiting-audio turn over a reverse
// scan of open turns.
package turns

import (
	"math"
	"sort"
	"sync"
	"time"
)

// Turn is one latency-tracked user/assistant cycle. Timestamps are zero
// until stamped; derived latencies are computed as their inputs arrive.
type Turn struct {
	ID       int
	UserText string
	Speaker  string

	UserAt       time.Time
	FirstTokenAt time.Time
	FinalTextAt  time.Time
	AudioStartAt time.Time
	AudioEndAt   time.Time

	FirstTokenLatency time.Duration // user to first streamed token
	FinalLatency      time.Duration // user to final text
	FinalToAudio      time.Duration // final text to audio start
	PlaybackDuration  time.Duration // audio start to audio end
	TotalLatency      time.Duration // user to audio end

	// Synthesized marks a turn created implicitly because assistant output
	// arrived without a registered user turn.
	Synthesized bool

	done bool
}

// Done reports whether the turn reached its terminal state.
func (t *Turn) Done() bool { return t.done }

// noAwaiting is the awaitingAudio sentinel for "no turn is waiting".
const noAwaiting = -1

// Tracker records turns for one session at a time. All exported methods are
// safe for concurrent use, though in practice only the dispatch goroutine
// mutates it.
type Tracker struct {
	mu        sync.Mutex
	sessionID string
	turns     []*Turn
	nextID    int

	// awaitingAudio is the id of the turn registered by the most recent user
	// utterance, preferred when resolving inbound audio frames.
	awaitingAudio int

	// onClose, when set, is invoked with each turn as it completes.
	onClose func(*Turn)

	now func() time.Time
}

// Option configures a [Tracker] during construction.
type Option func(*Tracker)

// WithClock overrides the time source. Used in tests.
func WithClock(now func() time.Time) Option {
	return func(t *Tracker) { t.now = now }
}

// WithOnClose registers a callback invoked whenever a turn completes.
// The callback runs on the registering goroutine's dispatch path and must
// not call back into the tracker.
func WithOnClose(fn func(*Turn)) Option {
	return func(t *Tracker) { t.onClose = fn }
}

// NewTracker creates an empty tracker.
func NewTracker(opts ...Option) *Tracker {
	t := &Tracker{
		awaitingAudio: noAwaiting,
		nextID:        1,
		now:           time.Now,
	}
	for _, o := range opts {
		o(t)
	}
	return t
}

// ResetForSession discards all turn state and binds the tracker to a new
// session id. Open turns are abandoned: a session reset is their terminal
// state.
func (t *Tracker) ResetForSession(id string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.sessionID = id
	t.turns = nil
	t.nextID = 1
	t.awaitingAudio = noAwaiting
}

// RegisterUserTurn opens a new turn for the given user utterance and marks it
// as the one currently awaiting audio.
func (t *Tracker) RegisterUserTurn(text string) *Turn {
	t.mu.Lock()
	defer t.mu.Unlock()

	turn := &Turn{
		ID:       t.nextID,
		UserText: text,
		UserAt:   t.now(),
	}
	t.nextID++
	t.turns = append(t.turns, turn)
	t.awaitingAudio = turn.ID
	return turn
}

// RegisterAssistantStreaming stamps the first-token time on the most recent
// turn that does not have one. If no such turn exists (out-of-order or
// missing user-turn registration) a turn is synthesized so the rest of the
// timeline still lands somewhere.
func (t *Tracker) RegisterAssistantStreaming(speaker string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.now()
	turn := t.lastWhereLocked(func(tn *Turn) bool { return tn.FirstTokenAt.IsZero() })
	if turn == nil {
		turn = t.synthesizeLocked(now)
	}
	turn.Speaker = speaker
	turn.FirstTokenAt = now
	turn.FirstTokenLatency = now.Sub(turn.UserAt)
}

// RegisterAssistantFinal stamps the final-text time on the most recent turn
// lacking one. If that turn's audio already started, the final-to-audio delta
// is computed here.
func (t *Tracker) RegisterAssistantFinal(speaker string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.now()
	turn := t.lastWhereLocked(func(tn *Turn) bool { return tn.FinalTextAt.IsZero() })
	if turn == nil {
		turn = t.synthesizeLocked(now)
	}
	if turn.Speaker == "" {
		turn.Speaker = speaker
	}
	turn.FinalTextAt = now
	turn.FinalLatency = now.Sub(turn.UserAt)
	if !turn.AudioStartAt.IsZero() {
		turn.FinalToAudio = turn.AudioStartAt.Sub(now)
	}
}

// RegisterAudioFrame records an inbound audio frame against the awaiting-audio
// turn, falling back to the most recent turn without an audio-end stamp.
// Frame 0 stamps audio start (never overwritten); finality stamps audio end,
// playback duration, and total latency, and clears the awaiting pointer.
func (t *Tracker) RegisterAudioFrame(frameIndex int, final bool) {
	t.mu.Lock()

	turn := t.byIDLocked(t.awaitingAudio)
	if turn == nil {
		turn = t.lastWhereLocked(func(tn *Turn) bool { return tn.AudioEndAt.IsZero() })
	}
	if turn == nil {
		t.mu.Unlock()
		return
	}

	now := t.now()
	if frameIndex == 0 && turn.AudioStartAt.IsZero() {
		turn.AudioStartAt = now
		if !turn.FinalTextAt.IsZero() {
			turn.FinalToAudio = now.Sub(turn.FinalTextAt)
		}
	}

	var closed *Turn
	if final && turn.AudioEndAt.IsZero() {
		turn.AudioEndAt = now
		if !turn.AudioStartAt.IsZero() {
			turn.PlaybackDuration = now.Sub(turn.AudioStartAt)
		}
		turn.TotalLatency = now.Sub(turn.UserAt)
		turn.done = true
		if t.awaitingAudio == turn.ID {
			t.awaitingAudio = noAwaiting
		}
		closed = turn
	}
	onClose := t.onClose
	t.mu.Unlock()

	if closed != nil && onClose != nil {
		onClose(closed)
	}
}

// byIDLocked returns the turn with the given id, or nil.
func (t *Tracker) byIDLocked(id int) *Turn {
	if id == noAwaiting {
		return nil
	}
	for i := len(t.turns) - 1; i >= 0; i-- {
		if t.turns[i].ID == id {
			return t.turns[i]
		}
	}
	return nil
}

// lastWhereLocked reverse-scans for the most recent turn matching pred.
func (t *Tracker) lastWhereLocked(pred func(*Turn) bool) *Turn {
	for i := len(t.turns) - 1; i >= 0; i-- {
		if pred(t.turns[i]) {
			return t.turns[i]
		}
	}
	return nil
}

// synthesizeLocked opens a turn stamped at now for assistant output that
// arrived without a user turn.
func (t *Tracker) synthesizeLocked(now time.Time) *Turn {
	turn := &Turn{
		ID:          t.nextID,
		UserAt:      now,
		Synthesized: true,
	}
	t.nextID++
	t.turns = append(t.turns, turn)
	return turn
}

// LatencyPercentiles holds p50 and p95 values for one latency series.
type LatencyPercentiles struct {
	P50 time.Duration
	P95 time.Duration
}

// Snapshot is a point-in-time view of the session's turn history.
type Snapshot struct {
	SessionID  string
	Turns      []Turn
	Completed  int
	FirstToken LatencyPercentiles
	Total      LatencyPercentiles
}

// Snapshot returns a copy of all recorded turns plus latency percentiles over
// the completed ones.
func (t *Tracker) Snapshot() Snapshot {
	t.mu.Lock()
	defer t.mu.Unlock()

	snap := Snapshot{
		SessionID: t.sessionID,
		Turns:     make([]Turn, len(t.turns)),
	}
	var ttft, total []time.Duration
	for i, tn := range t.turns {
		snap.Turns[i] = *tn
		if tn.done {
			snap.Completed++
			ttft = append(ttft, tn.FirstTokenLatency)
			total = append(total, tn.TotalLatency)
		}
	}
	snap.FirstToken = percentiles(ttft)
	snap.Total = percentiles(total)
	return snap
}

// percentiles computes p50/p95 by nearest rank over an unsorted sample set.
func percentiles(samples []time.Duration) LatencyPercentiles {
	if len(samples) == 0 {
		return LatencyPercentiles{}
	}
	sorted := make([]time.Duration, len(samples))
	copy(sorted, samples)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })
	return LatencyPercentiles{
		P50: percentile(sorted, 0.50),
		P95: percentile(sorted, 0.95),
	}
}

// percentile returns the nearest-rank value at p (0.0–1.0) from sorted.
func percentile(sorted []time.Duration, p float64) time.Duration {
	idx := int(math.Ceil(p*float64(len(sorted)))) - 1
	if idx < 0 {
		idx = 0
	}
	if idx >= len(sorted) {
		idx = len(sorted) - 1
	}
	return sorted[idx]
}
