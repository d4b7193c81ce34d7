//go:build !rtlsdr

// Package rtlsdr provides stub implementations when RTL-SDR support is not
// compiled in. The stub generates a continuous test tone so the stream
// source works end to end without hardware.
package rtlsdr

import (
	"context"
	"fmt"
	"math"
	"time"
)

// Device represents a stub RTL-SDR device (no actual hardware access).
// Instead of capturing RF it synthesizes a complex tone at a fixed offset
// from the "tuned" center frequency, paced at the configured sample rate.
type Device struct {
	frequency  uint32  // stored frequency setting
	sampleRate uint32  // stored sample rate setting
	gain       float64 // stored gain setting in dB

	toneHz    float64 // synthetic tone offset from center
	amplitude float64
	phase     float64
}

// NewDevice creates a stub device generating a 1 kHz test tone.
func NewDevice(deviceIndex int) (*Device, error) {
	return &Device{
		frequency:  433920000,
		sampleRate: 2048000,
		gain:       20.7,
		toneHz:     1000.0,
		amplitude:  0.5,
	}, nil
}

// SetTone adjusts the synthetic tone offset and amplitude. Stub only.
func (d *Device) SetTone(offsetHz, amplitude float64) {
	d.toneHz = offsetHz
	d.amplitude = amplitude
}

// SetFrequency stores the frequency setting.
func (d *Device) SetFrequency(freq uint32) error {
	d.frequency = freq
	return nil
}

// Frequency returns the stored center frequency in Hz.
func (d *Device) Frequency() uint32 { return d.frequency }

// SetSampleRate stores the sample rate setting.
func (d *Device) SetSampleRate(rate uint32) error {
	if rate == 0 {
		return fmt.Errorf("invalid sample rate: 0")
	}
	d.sampleRate = rate
	return nil
}

// SampleRate returns the stored sample rate in Hz.
func (d *Device) SampleRate() uint32 { return d.sampleRate }

// SetGain stores the gain setting.
func (d *Device) SetGain(gain float64) error {
	d.gain = gain
	return nil
}

// Info returns a formatted description of the stub device.
func (d *Device) Info() string {
	return fmt.Sprintf("RTL-SDR stub, %.0f Hz test tone (freq: %d Hz, rate: %d Hz, gain: %.1f dB)",
		d.toneHz, d.frequency, d.sampleRate, d.gain)
}

// Stream synthesizes tone chunks paced to the configured sample rate and
// hands them to emit, until the context is cancelled or emit fails.
func (d *Device) Stream(ctx context.Context, chunkSamples int, emit func([]complex64) error) error {
	out := make([]complex64, chunkSamples)
	step := 2 * math.Pi * d.toneHz / float64(d.sampleRate)
	chunkPeriod := time.Duration(float64(chunkSamples) / float64(d.sampleRate) * float64(time.Second))

	ticker := time.NewTicker(chunkPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}

		for i := range out {
			out[i] = complex(
				float32(d.amplitude*math.Cos(d.phase)),
				float32(d.amplitude*math.Sin(d.phase)),
			)
			d.phase += step
			if d.phase > 2*math.Pi {
				d.phase -= 2 * math.Pi
			}
		}
		if err := emit(out); err != nil {
			return err
		}
	}
}

// Close releases nothing; the stub holds no resources.
func (d *Device) Close() error { return nil }
