//go:build !rtlsdr

package rtlsdr

import (
	"context"
	"math"
	"testing"
)

func TestStubDeviceSettings(t *testing.T) {
	d, err := NewDevice(0)
	if err != nil {
		t.Fatalf("NewDevice failed: %v", err)
	}
	defer d.Close()

	if err := d.SetFrequency(146520000); err != nil {
		t.Fatalf("SetFrequency failed: %v", err)
	}
	if d.Frequency() != 146520000 {
		t.Errorf("frequency = %d, want 146520000", d.Frequency())
	}
	if err := d.SetSampleRate(2448000); err != nil {
		t.Fatalf("SetSampleRate failed: %v", err)
	}
	if d.SampleRate() != 2448000 {
		t.Errorf("sample rate = %d, want 2448000", d.SampleRate())
	}
	if err := d.SetSampleRate(0); err == nil {
		t.Error("expected error for zero sample rate")
	}
	if err := d.SetGain(30.0); err != nil {
		t.Fatalf("SetGain failed: %v", err)
	}
	if d.Info() == "" {
		t.Error("Info must describe the device")
	}
}

func TestStubStreamsTone(t *testing.T) {
	d, err := NewDevice(0)
	if err != nil {
		t.Fatalf("NewDevice failed: %v", err)
	}
	defer d.Close()

	d.SetSampleRate(12000)
	d.SetTone(1000, 0.5)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var got []complex64
	err = d.Stream(ctx, 512, func(chunk []complex64) error {
		got = append(got, chunk...)
		if len(got) >= 1024 {
			cancel()
		}
		return nil
	})
	if err != context.Canceled {
		t.Fatalf("Stream returned %v, want context.Canceled", err)
	}
	if len(got) < 1024 {
		t.Fatalf("got %d samples, want at least 1024", len(got))
	}

	// Constant envelope at the configured amplitude.
	for i, s := range got[:1024] {
		mag := math.Sqrt(float64(real(s))*float64(real(s)) + float64(imag(s))*float64(imag(s)))
		if math.Abs(mag-0.5) > 1e-3 {
			t.Fatalf("sample %d magnitude = %v, want 0.5", i, mag)
		}
	}
}
