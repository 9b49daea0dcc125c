// Package playback renders synthesized speech continuously and gaplessly.
//
// The engine owns a FIFO of decoded PCM chunks. The output device invokes the
// render callback at its own cadence; the callback drains the FIFO
// sample-by-sample into the output buffer and emits silence once the FIFO is
// exhausted. It never blocks and never allocates. Clear is the interruption
// primitive: it wipes the FIFO atomically so the very next render cycle is
// silent.
package playback

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/voxwire/voxwire/pkg/audio"
)

// OutputDevice abstracts the platform audio output. Start installs the render
// callback the device will invoke at a fixed cadence to pull samples;
// implementations wrap platform audio APIs, tests use [mock.Device].
//
// Stop must be idempotent and safe to call even if Start never succeeded.
type OutputDevice interface {
	Start(render func(out []int16)) error
	Stop() error
	SampleRate() int
}

// Engine is the audio playback engine. All exported methods are safe for
// concurrent use; the render path and the enqueue/clear path hand off through
// a single queue owned by the engine.
type Engine struct {
	device OutputDevice

	mu      sync.Mutex
	inited  bool
	queue   [][]int16
	offset  int // read position within queue[0]
	queued  int // total unread samples across the queue
	running bool
}

// New creates a playback engine over the given output device.
func New(device OutputDevice) *Engine {
	return &Engine{device: device}
}

// Init acquires the output device and installs the render callback.
// Idempotent: acquiring while already acquired is a no-op. A device failure
// leaves the engine in a state where a later Init can succeed; playback
// activation is best-effort and retryable, never fatal.
func (e *Engine) Init() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.inited {
		return nil
	}
	if err := e.device.Start(e.render); err != nil {
		return fmt.Errorf("playback: output device: %w", err)
	}
	e.inited = true
	return nil
}

// Enqueue schedules a chunk of mono PCM for sequential playback, resampling
// from sourceRate to the device rate when they differ. final marks the
// terminal chunk of the current utterance; a chunk arriving after a final one
// implicitly starts a new utterance.
func (e *Engine) Enqueue(samples []int16, sourceRate int, final bool) {
	if len(samples) == 0 && !final {
		return
	}

	deviceRate := e.device.SampleRate()
	buf := audio.Resample(samples, sourceRate, deviceRate)
	if sourceRate <= 0 || deviceRate <= 0 || sourceRate == deviceRate {
		// Resample returned the caller's slice; queue entries must be owned.
		buf = append([]int16(nil), samples...)
	}

	e.mu.Lock()
	if len(buf) > 0 {
		e.queue = append(e.queue, buf)
		e.queued += len(buf)
	}
	e.running = !final
	e.mu.Unlock()
}

// Clear wipes the FIFO and resets the read cursor. The next render cycle
// produces silence regardless of what was queued. Clearing an empty queue is
// a no-op.
func (e *Engine) Clear() {
	e.mu.Lock()
	e.queue = nil
	e.offset = 0
	e.queued = 0
	e.running = false
	e.mu.Unlock()
}

// Playing reports whether audio is audible or further frames of the current
// utterance are still expected. Barge-in decisions key off this.
func (e *Engine) Playing() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.queued > 0 || e.running
}

// Buffered returns the number of unread samples in the FIFO.
func (e *Engine) Buffered() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.queued
}

// Close releases the output device. Idempotent; safe during teardown even if
// Init never completed.
func (e *Engine) Close() error {
	e.mu.Lock()
	inited := e.inited
	e.inited = false
	e.queue = nil
	e.offset = 0
	e.queued = 0
	e.running = false
	e.mu.Unlock()

	if !inited {
		return nil
	}
	if err := e.device.Stop(); err != nil {
		slog.Warn("playback: device stop", "err", err)
		return fmt.Errorf("playback: device stop: %w", err)
	}
	return nil
}

// render fills out from the FIFO in arrival order and zero-fills the
// remainder once the FIFO is exhausted. Invoked by the output device on its
// audio clock; must stay branch-light and allocation-free.
func (e *Engine) render(out []int16) {
	e.mu.Lock()
	i := 0
	for i < len(out) && len(e.queue) > 0 {
		head := e.queue[0]
		n := copy(out[i:], head[e.offset:])
		i += n
		e.offset += n
		e.queued -= n
		if e.offset >= len(head) {
			e.queue = e.queue[1:]
			e.offset = 0
		}
	}
	e.mu.Unlock()

	for ; i < len(out); i++ {
		out[i] = 0
	}
}
