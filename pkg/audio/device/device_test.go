package device_test

import (
	"bytes"
	"context"
	"sync"
	"testing"
	"time"

	"github.com/voxwire/voxwire/pkg/audio"
	"github.com/voxwire/voxwire/pkg/audio/device"
)

func TestInput_ReadsBlocksUntilEOF(t *testing.T) {
	samples := make([]int16, 64)
	for i := range samples {
		samples[i] = int16(i * 100)
	}
	in := device.NewInput(bytes.NewReader(audio.Int16ToBytes(samples)), 16000)

	blocks, err := in.Start(context.Background(), 16)
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer in.Stop()

	var got []float32
	for block := range blocks {
		got = append(got, block...)
	}
	if len(got) != 64 {
		t.Fatalf("read %d samples, want 64", len(got))
	}
	if got[1] != 100.0/32768 {
		t.Errorf("sample 1 = %v, want %v", got[1], 100.0/32768)
	}
}

func TestInput_StartTwiceFails(t *testing.T) {
	in := device.NewInput(bytes.NewReader(nil), 16000)
	if _, err := in.Start(context.Background(), 16); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer in.Stop()

	if _, err := in.Start(context.Background(), 16); err == nil {
		t.Error("second Start succeeded, want error")
	}
}

func TestInput_StopBeforeStart(t *testing.T) {
	in := device.NewInput(bytes.NewReader(nil), 16000)
	if err := in.Stop(); err != nil {
		t.Fatalf("Stop: %v", err)
	}
}

type safeBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *safeBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *safeBuffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Len()
}

func (b *safeBuffer) Bytes() []byte {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]byte(nil), b.buf.Bytes()...)
}

func TestOutput_WritesRenderedSamples(t *testing.T) {
	var sink safeBuffer
	out := device.NewOutput(&sink, 48000)

	var n int16
	err := out.Start(func(buf []int16) {
		for i := range buf {
			buf[i] = n
			n++
		}
	})
	if err != nil {
		t.Fatalf("Start: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for sink.Len() < 2048 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if err := out.Stop(); err != nil {
		t.Fatalf("Stop: %v", err)
	}

	got := audio.BytesToInt16(sink.Bytes())
	if len(got) < 1024 {
		t.Fatalf("wrote %d samples, want at least 1024", len(got))
	}
	for i := 0; i < 1024; i++ {
		if got[i] != int16(i) {
			t.Fatalf("sample %d = %d, want %d", i, got[i], i)
		}
	}
}

func TestOutput_StopIdempotent(t *testing.T) {
	out := device.NewOutput(&safeBuffer{}, 48000)
	if err := out.Stop(); err != nil {
		t.Fatalf("Stop before Start: %v", err)
	}
	if err := out.Start(func(buf []int16) {}); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := out.Stop(); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if err := out.Stop(); err != nil {
		t.Fatalf("second Stop: %v", err)
	}
}
