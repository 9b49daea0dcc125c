// Package mock provides an in-memory [playback.OutputDevice] for tests.
// The render callback is driven manually via Render instead of by a platform
// audio clock.
package mock

import (
	"errors"
	"sync"
)

// Device is a manually-clocked output device.
type Device struct {
	Rate    int
	FailNow bool // when true, Start fails until cleared

	mu      sync.Mutex
	render  func(out []int16)
	started bool
}

// NewDevice returns a mock device at the given sample rate.
func NewDevice(rate int) *Device {
	return &Device{Rate: rate}
}

// Start installs the render callback. Fails while FailNow is set, so tests
// can exercise retryable device acquisition.
func (d *Device) Start(render func(out []int16)) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.FailNow {
		return errors.New("mock device unavailable")
	}
	d.render = render
	d.started = true
	return nil
}

// Stop releases the device. Idempotent.
func (d *Device) Stop() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.render = nil
	d.started = false
	return nil
}

// SampleRate returns the device output rate.
func (d *Device) SampleRate() int { return d.Rate }

// Started reports whether the device is currently acquired.
func (d *Device) Started() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.started
}

// Render invokes one render cycle for n samples and returns the buffer the
// callback produced. Returns silence if the device is not started.
func (d *Device) Render(n int) []int16 {
	d.mu.Lock()
	render := d.render
	d.mu.Unlock()

	out := make([]int16, n)
	if render != nil {
		render(out)
	}
	return out
}
