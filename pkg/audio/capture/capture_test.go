package capture_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/voxwire/voxwire/pkg/audio/capture"
	"github.com/voxwire/voxwire/pkg/audio/capture/mock"
)

// fakeSender records sent frames and simulates socket availability.
type fakeSender struct {
	mu        sync.Mutex
	connected bool
	failSend  bool
	frames    [][]byte
}

func (s *fakeSender) Send(_ context.Context, data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failSend {
		return errors.New("write failed")
	}
	s.frames = append(s.frames, data)
	return nil
}

func (s *fakeSender) Connected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.connected
}

func (s *fakeSender) setConnected(v bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.connected = v
}

func (s *fakeSender) frameCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.frames)
}

func (s *fakeSender) lastFrame() []byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.frames) == 0 {
		return nil
	}
	return s.frames[len(s.frames)-1]
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatal("condition not met within deadline")
}

func TestEngine_SendsEncodedBlocks(t *testing.T) {
	dev := mock.NewDevice(16000)
	sender := &fakeSender{connected: true}
	e := capture.New(dev, sender)
	if err := e.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer e.Stop()

	dev.Push([]float32{0, 0.5, -0.5, 1})
	waitFor(t, func() bool { return sender.frameCount() == 1 })

	frame := sender.lastFrame()
	if len(frame) != 8 {
		t.Fatalf("frame size: got %d bytes, want 8", len(frame))
	}
	// 0.5 * 32767 = 16383.5 rounds away from zero to 16384 = 0x4000 LE.
	if frame[2] != 0x00 || frame[3] != 0x40 {
		t.Errorf("encoded sample: got %#x %#x, want 0x00 0x40", frame[2], frame[3])
	}
}

func TestEngine_DropsWhenDisconnected(t *testing.T) {
	dev := mock.NewDevice(16000)
	sender := &fakeSender{connected: false}
	e := capture.New(dev, sender)
	if err := e.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer e.Stop()

	dev.Push([]float32{0.1, 0.1})
	waitFor(t, func() bool { return e.Dropped() == 1 })
	if sender.frameCount() != 0 {
		t.Fatalf("frames sent while disconnected: %d", sender.frameCount())
	}

	// Once the socket is back, new blocks flow again; the dropped one is
	// never retransmitted.
	sender.setConnected(true)
	dev.Push([]float32{0.2, 0.2})
	waitFor(t, func() bool { return sender.frameCount() == 1 })
}

func TestEngine_CountsFailedSends(t *testing.T) {
	dev := mock.NewDevice(16000)
	sender := &fakeSender{connected: true, failSend: true}
	e := capture.New(dev, sender)
	if err := e.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer e.Stop()

	dev.Push([]float32{0.1})
	waitFor(t, func() bool { return e.Dropped() == 1 })
}

func TestEngine_OnDropCallback(t *testing.T) {
	dev := mock.NewDevice(16000)
	sender := &fakeSender{connected: false}
	var drops atomic.Int64
	e := capture.New(dev, sender, capture.WithOnDrop(func() { drops.Add(1) }))
	if err := e.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer e.Stop()

	dev.Push([]float32{0.1})
	dev.Push([]float32{0.2})
	waitFor(t, func() bool { return drops.Load() == 2 })
}

func TestEngine_LevelEstimate(t *testing.T) {
	dev := mock.NewDevice(16000)
	sender := &fakeSender{connected: true}
	e := capture.New(dev, sender, capture.WithLevelReference(0.1))
	if err := e.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer e.Stop()

	block := make([]float32, 64)
	for i := range block {
		block[i] = 0.05
	}
	dev.Push(block)
	waitFor(t, func() bool {
		l := e.Level()
		return l > 0.49 && l < 0.51
	})
}

func TestEngine_StartIdempotent(t *testing.T) {
	dev := mock.NewDevice(16000)
	e := capture.New(dev, &fakeSender{})
	if err := e.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := e.Start(context.Background()); err != nil {
		t.Fatalf("second start: %v", err)
	}
	e.Stop()
}

func TestEngine_StopReleasesDevice(t *testing.T) {
	dev := mock.NewDevice(16000)
	e := capture.New(dev, &fakeSender{connected: true})
	if err := e.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	e.Stop()
	if dev.Started() {
		t.Fatal("device still acquired after Stop")
	}
	// Stop again: idempotent.
	e.Stop()
}

func TestEngine_StartRetryableAfterDeviceFailure(t *testing.T) {
	dev := mock.NewDevice(16000)
	dev.FailNow = true
	e := capture.New(dev, &fakeSender{})

	if err := e.Start(context.Background()); err == nil {
		t.Fatal("expected device failure")
	}

	dev.FailNow = false
	if err := e.Start(context.Background()); err != nil {
		t.Fatalf("retry after device failure: %v", err)
	}
	e.Stop()
}
