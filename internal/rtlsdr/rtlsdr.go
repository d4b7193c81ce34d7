//go:build rtlsdr

// Package rtlsdr provides the RTL-SDR capture device that feeds the stream
// source server. This file is only compiled when the "rtlsdr" build tag is
// specified; without it a synthetic test-tone stub is used instead.
package rtlsdr

import (
	"context"
	"fmt"

	"github.com/jpoirier/gortlsdr"
)

// Device represents an RTL-SDR device and its configuration.
type Device struct {
	dev        *rtlsdr.Context
	frequency  uint32 // current tuned frequency in Hz
	sampleRate uint32 // current sample rate in Hz
	gain       int    // current gain in tenths of dB
}

// NewDevice opens the RTL-SDR device at the given 0-based index.
func NewDevice(deviceIndex int) (*Device, error) {
	count := rtlsdr.GetDeviceCount()
	if count == 0 {
		return nil, fmt.Errorf("no RTL-SDR devices found")
	}
	if deviceIndex >= count {
		return nil, fmt.Errorf("device index %d out of range (found %d devices)", deviceIndex, count)
	}

	dev, err := rtlsdr.Open(deviceIndex)
	if err != nil {
		return nil, fmt.Errorf("failed to open RTL-SDR device: %w", err)
	}
	return &Device{dev: dev}, nil
}

// SetFrequency tunes the device center frequency in Hz.
func (d *Device) SetFrequency(freq uint32) error {
	if err := d.dev.SetCenterFreq(int(freq)); err != nil {
		return fmt.Errorf("failed to set frequency to %d Hz: %w", freq, err)
	}
	d.frequency = freq
	return nil
}

// Frequency returns the currently tuned center frequency in Hz.
func (d *Device) Frequency() uint32 { return d.frequency }

// SetSampleRate sets the device sample rate in Hz.
func (d *Device) SetSampleRate(rate uint32) error {
	if err := d.dev.SetSampleRate(int(rate)); err != nil {
		return fmt.Errorf("failed to set sample rate to %d Hz: %w", rate, err)
	}
	d.sampleRate = rate
	return nil
}

// SampleRate returns the configured sample rate in Hz.
func (d *Device) SampleRate() uint32 { return d.sampleRate }

// SetGain sets the tuner gain in dB.
func (d *Device) SetGain(gain float64) error {
	// The RTL-SDR API takes tenths of dB.
	gainTenths := int(gain * 10)
	if err := d.dev.SetTunerGain(gainTenths); err != nil {
		return fmt.Errorf("failed to set gain to %.1f dB: %w", gain, err)
	}
	d.gain = gainTenths
	return nil
}

// Info returns a formatted device description with current settings.
func (d *Device) Info() string {
	name, _, _, err := rtlsdr.GetDeviceUsbStrings(0)
	if err != nil {
		name = "RTL-SDR"
	}
	return fmt.Sprintf("%s (freq: %d Hz, rate: %d Hz, gain: %.1f dB)",
		name, d.frequency, d.sampleRate, float64(d.gain)/10)
}

// Stream reads I/Q continuously and hands each converted chunk to emit as
// normalized complex64 samples. It returns when the context is cancelled or
// a read fails. RTL-SDR delivers unsigned 8-bit interleaved I/Q pairs.
func (d *Device) Stream(ctx context.Context, chunkSamples int, emit func([]complex64) error) error {
	if err := d.dev.ResetBuffer(); err != nil {
		return fmt.Errorf("failed to reset buffer: %w", err)
	}

	raw := make([]uint8, chunkSamples*2)
	out := make([]complex64, chunkSamples)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		nRead, err := d.dev.ReadSync(raw, len(raw))
		if err != nil {
			return fmt.Errorf("failed to read samples: %w", err)
		}
		if nRead == 0 {
			continue
		}

		pairs := nRead / 2
		for i := 0; i < pairs; i++ {
			re := (float32(raw[i*2]) - 127.5) / 127.5
			im := (float32(raw[i*2+1]) - 127.5) / 127.5
			out[i] = complex(re, im)
		}
		if err := emit(out[:pairs]); err != nil {
			return err
		}
	}
}

// Close releases the device.
func (d *Device) Close() error {
	if d.dev != nil {
		return d.dev.Close()
	}
	return nil
}
