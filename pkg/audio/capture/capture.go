// Package capture acquires the microphone, frames samples into fixed-size
// blocks, computes an input level estimate, encodes to 16-bit PCM, and hands
// frames to the transport.
//
// Capture is strictly real-time: a block that cannot be sent (no open socket,
// write failure) is dropped and never retransmitted.
package capture

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"sync/atomic"

	"github.com/voxwire/voxwire/pkg/audio"
)

// InputDevice abstracts the platform microphone. Start acquires the device
// and returns a channel of fixed-size float32 sample blocks driven by the
// platform's audio clock; the channel closes when the device stops.
//
// Stop must be idempotent and safe to call even if Start never succeeded.
type InputDevice interface {
	Start(ctx context.Context, blockSize int) (<-chan []float32, error)
	Stop() error
	SampleRate() int
}

// Sender is the transport surface the engine pushes encoded frames into.
// *transport.Client satisfies it.
type Sender interface {
	Send(ctx context.Context, data []byte) error
	Connected() bool
}

const (
	defaultBlockSize = 2048
	defaultLevelRef  = 0.1
)

// Option configures an [Engine] during construction.
type Option func(*Engine)

// WithBlockSize sets the number of samples per capture block.
func WithBlockSize(n int) Option {
	return func(e *Engine) { e.blockSize = n }
}

// WithLevelReference sets the RMS amplitude mapped to a full-scale level
// estimate.
func WithLevelReference(ref float64) Option {
	return func(e *Engine) { e.levelRef = ref }
}

// WithOnDrop registers a callback invoked once per dropped block. Must not
// block; it runs on the capture goroutine.
func WithOnDrop(fn func()) Option {
	return func(e *Engine) { e.onDrop = fn }
}

// Engine is the audio capture engine. All exported methods are safe for
// concurrent use.
type Engine struct {
	device    InputDevice
	sender    Sender
	blockSize int
	levelRef  float64
	onDrop    func()

	level   atomic.Uint64 // float64 bits, [0,1]
	dropped atomic.Int64

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	done    chan struct{}
}

// New creates a capture engine reading from device and sending through
// sender.
func New(device InputDevice, sender Sender, opts ...Option) *Engine {
	e := &Engine{
		device:    device,
		sender:    sender,
		blockSize: defaultBlockSize,
		levelRef:  defaultLevelRef,
	}
	for _, o := range opts {
		o(e)
	}
	return e
}

// Start acquires the microphone and begins streaming blocks. Acquiring while
// already running is a no-op. A device failure is returned to the caller as a
// recoverable error: the engine stays stopped and a later Start may succeed.
func (e *Engine) Start(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.running {
		return nil
	}

	runCtx, cancel := context.WithCancel(ctx)
	blocks, err := e.device.Start(runCtx, e.blockSize)
	if err != nil {
		cancel()
		// Best-effort release in case acquisition partially completed.
		_ = e.device.Stop()
		return fmt.Errorf("capture: input device: %w", err)
	}

	e.running = true
	e.cancel = cancel
	e.done = make(chan struct{})
	go e.loop(runCtx, blocks, e.done)
	return nil
}

// Stop releases the microphone. Idempotent and safe during teardown even if
// acquisition never completed.
func (e *Engine) Stop() {
	e.mu.Lock()
	if !e.running {
		e.mu.Unlock()
		_ = e.device.Stop()
		return
	}
	e.running = false
	cancel := e.cancel
	done := e.done
	e.cancel = nil
	e.done = nil
	e.mu.Unlock()

	cancel()
	<-done
}

// Level returns the most recent input level estimate in [0, 1].
func (e *Engine) Level() float64 {
	return math.Float64frombits(e.level.Load())
}

// Dropped returns the number of blocks discarded because no socket was open
// or a send failed.
func (e *Engine) Dropped() int64 {
	return e.dropped.Load()
}

// loop processes capture blocks until the device channel closes or the
// context is cancelled. The device is released on every exit path.
func (e *Engine) loop(ctx context.Context, blocks <-chan []float32, done chan struct{}) {
	defer close(done)
	defer func() {
		if err := e.device.Stop(); err != nil {
			slog.Warn("capture: device stop", "err", err)
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case block, ok := <-blocks:
			if !ok {
				return
			}
			e.process(ctx, block)
		}
	}
}

// process handles one capture block: level update, PCM16 encode, and a
// non-blocking send attempt. Must complete well under one block period.
func (e *Engine) process(ctx context.Context, block []float32) {
	e.level.Store(math.Float64bits(audio.Level(block, e.levelRef)))

	if !e.sender.Connected() {
		e.drop()
		return
	}
	if err := e.sender.Send(ctx, audio.EncodeFloat32(block)); err != nil {
		e.drop()
	}
}

func (e *Engine) drop() {
	e.dropped.Add(1)
	if e.onDrop != nil {
		e.onDrop()
	}
}
