// Package mock provides an in-memory [capture.InputDevice] for tests.
// Blocks are pushed manually instead of arriving on a platform audio clock.
package mock

import (
	"context"
	"errors"
	"sync"
)

// Device is a manually-driven input device.
type Device struct {
	Rate    int
	FailNow bool // when true, Start fails until cleared

	mu      sync.Mutex
	blocks  chan []float32
	started bool
	stops   int
}

// NewDevice returns a mock device at the given sample rate.
func NewDevice(rate int) *Device {
	return &Device{Rate: rate}
}

// Start acquires the device and returns the block channel.
func (d *Device) Start(_ context.Context, _ int) (<-chan []float32, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.FailNow {
		return nil, errors.New("mock device unavailable")
	}
	d.blocks = make(chan []float32, 16)
	d.started = true
	return d.blocks, nil
}

// Stop releases the device and closes the block channel. Idempotent.
func (d *Device) Stop() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.stops++
	if d.started {
		close(d.blocks)
		d.started = false
	}
	return nil
}

// SampleRate returns the device capture rate.
func (d *Device) SampleRate() int { return d.Rate }

// Push delivers one capture block to the engine. Returns false if the device
// is stopped.
func (d *Device) Push(block []float32) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.started {
		return false
	}
	d.blocks <- block
	return true
}

// Started reports whether the device is currently acquired.
func (d *Device) Started() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.started
}

// Stops returns how many times Stop has been called.
func (d *Device) Stops() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.stops
}
