// Package device implements stream-backed audio devices: an input that reads
// raw little-endian int16 PCM from an io.Reader and an output that writes the
// same format to an io.Writer, both paced by a wall-clock ticker at their
// sample rate.
//
// This makes the client usable headless in a pipeline, e.g.
//
//	arecord -f S16_LE -r 16000 -c 1 | voxwire | aplay -f S16_LE -r 24000 -c 1
//
// where stdin carries microphone PCM and stdout carries synthesized speech.
package device

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/voxwire/voxwire/pkg/audio"
)

// Input reads capture blocks from an underlying reader at real-time pace.
// It satisfies the capture engine's input device contract.
type Input struct {
	r    io.Reader
	rate int

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// NewInput creates an input device reading int16 PCM at rate Hz from r.
func NewInput(r io.Reader, rate int) *Input {
	return &Input{r: r, rate: rate}
}

// SampleRate returns the configured capture rate in Hz.
func (in *Input) SampleRate() int { return in.rate }

// Start begins reading blockSize-sample blocks from the reader, emitting one
// per block period. The returned channel closes on EOF, read error, or Stop.
func (in *Input) Start(ctx context.Context, blockSize int) (<-chan []float32, error) {
	if blockSize <= 0 {
		return nil, fmt.Errorf("device: block size %d", blockSize)
	}

	in.mu.Lock()
	defer in.mu.Unlock()
	if in.cancel != nil {
		return nil, errors.New("device: input already started")
	}

	runCtx, cancel := context.WithCancel(ctx)
	in.cancel = cancel
	in.done = make(chan struct{})

	out := make(chan []float32, 4)
	go in.loop(runCtx, blockSize, out, in.done)
	return out, nil
}

// Stop halts the read loop. Idempotent; safe before Start.
func (in *Input) Stop() error {
	in.mu.Lock()
	cancel := in.cancel
	done := in.done
	in.cancel = nil
	in.done = nil
	in.mu.Unlock()

	if cancel != nil {
		cancel()
		<-done
	}
	return nil
}

func (in *Input) loop(ctx context.Context, blockSize int, out chan<- []float32, done chan struct{}) {
	defer close(done)
	defer close(out)

	period := time.Duration(blockSize) * time.Second / time.Duration(in.rate)
	ticker := time.NewTicker(period)
	defer ticker.Stop()

	raw := make([]byte, blockSize*2)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		n, err := io.ReadFull(in.r, raw)
		if n == 0 {
			return
		}
		block := toFloat32(audio.BytesToInt16(raw[:n]))
		select {
		case out <- block:
		case <-ctx.Done():
			return
		default:
			// Consumer is behind real time; this block is lost.
		}
		if err != nil {
			return
		}
	}
}

// Output pulls rendered samples at real-time pace and writes them to an
// underlying writer. It satisfies the playback engine's output device
// contract.
type Output struct {
	w         io.Writer
	rate      int
	blockSize int

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

const defaultOutputBlock = 1024

// NewOutput creates an output device writing int16 PCM at rate Hz to w.
func NewOutput(w io.Writer, rate int) *Output {
	return &Output{w: w, rate: rate, blockSize: defaultOutputBlock}
}

// SampleRate returns the configured playback rate in Hz.
func (o *Output) SampleRate() int { return o.rate }

// Start installs the render callback and begins the write loop. The callback
// is invoked once per block period with a buffer to fill.
func (o *Output) Start(render func(out []int16)) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.cancel != nil {
		return errors.New("device: output already started")
	}

	ctx, cancel := context.WithCancel(context.Background())
	o.cancel = cancel
	o.done = make(chan struct{})
	go o.loop(ctx, render, o.done)
	return nil
}

// Stop halts the write loop. Idempotent; safe before Start.
func (o *Output) Stop() error {
	o.mu.Lock()
	cancel := o.cancel
	done := o.done
	o.cancel = nil
	o.done = nil
	o.mu.Unlock()

	if cancel != nil {
		cancel()
		<-done
	}
	return nil
}

func (o *Output) loop(ctx context.Context, render func(out []int16), done chan struct{}) {
	defer close(done)

	period := time.Duration(o.blockSize) * time.Second / time.Duration(o.rate)
	ticker := time.NewTicker(period)
	defer ticker.Stop()

	buf := make([]int16, o.blockSize)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		render(buf)
		if _, err := o.w.Write(audio.Int16ToBytes(buf)); err != nil {
			return
		}
	}
}

// toFloat32 rescales int16 samples into [-1, 1).
func toFloat32(samples []int16) []float32 {
	out := make([]float32, len(samples))
	for i, s := range samples {
		out[i] = float32(s) / 32768
	}
	return out
}
