package dsp

import (
	"math"
	"testing"
)

func TestDecimatorPassThrough(t *testing.T) {
	d := NewDecimator(1, 12000)
	for _, x := range []float64{0, 1, -0.5, 0.25} {
		y, ok := d.Process(x)
		if !ok {
			t.Fatal("factor 1 must produce on every input")
		}
		if y != x {
			t.Errorf("pass-through changed %v to %v", x, y)
		}
	}
}

func TestDecimatorClampsFactor(t *testing.T) {
	d := NewDecimator(0, 12000)
	if d.Factor() != 1 {
		t.Errorf("factor = %d, want 1", d.Factor())
	}
	if d.OutputRate() != 12000 {
		t.Errorf("output rate = %v, want 12000", d.OutputRate())
	}
}

func TestDecimatorOutputRate(t *testing.T) {
	d := NewDecimator(204, 2448000)
	if d.OutputRate() != 12000 {
		t.Errorf("output rate = %v, want 12000", d.OutputRate())
	}
}

func TestDecimatorOutputCount(t *testing.T) {
	const factor = 4
	d := NewDecimator(factor, 48000)

	outputs := 0
	for i := 0; i < 400; i++ {
		if _, ok := d.Process(1.0); ok {
			outputs++
		}
	}
	if outputs != 400/factor {
		t.Errorf("got %d outputs from 400 inputs, want %d", outputs, 400/factor)
	}
}

func TestDecimatorPreservesDC(t *testing.T) {
	d := NewDecimator(8, 96000)
	for i := 0; i < 800; i++ {
		y, ok := d.Process(0.75)
		if ok && math.Abs(y-0.75) > 1e-12 {
			t.Fatalf("DC changed: got %v, want 0.75", y)
		}
	}
}

// A tone at the decimated Nyquist rate must land in the filter's null. With
// the two-block average the new Nyquist is exactly the first zero, so the
// steady-state output is numerically zero.
func TestDecimatorNyquistNull(t *testing.T) {
	const (
		factor    = 4
		inputRate = 48000.0
	)
	d := NewDecimator(factor, inputRate)
	nyquist := d.OutputRate() / 2

	var sumSq float64
	outputs := 0
	for n := 0; n < 4800; n++ {
		x := math.Cos(2 * math.Pi * nyquist * float64(n) / inputRate)
		y, ok := d.Process(x)
		if !ok {
			continue
		}
		outputs++
		if outputs == 1 {
			continue // first output is a single unpaired block
		}
		sumSq += y * y
	}
	if outputs < 100 {
		t.Fatalf("only %d outputs produced", outputs)
	}
	rms := math.Sqrt(sumSq / float64(outputs-1))
	if rms > 1e-9 {
		t.Errorf("Nyquist tone leaked through: rms = %v", rms)
	}
}

// A tone above the new Nyquist rate must come through materially weaker than
// an unfiltered every-Nth pick, which would alias it into the retained band
// at full level.
func TestDecimatorAttenuatesAboveNyquist(t *testing.T) {
	const (
		factor    = 4
		inputRate = 48000.0
	)
	d := NewDecimator(factor, inputRate)
	toneHz := 1.5 * d.OutputRate() / 2 // 9 kHz, aliases to 3 kHz when picked raw

	var filtSumSq, pickSumSq float64
	filtered, picked := 0, 0
	for n := 0; n < 48000; n++ {
		x := math.Cos(2 * math.Pi * toneHz * float64(n) / inputRate)
		if y, ok := d.Process(x); ok {
			filtered++
			if filtered > 1 { // first output is a single unpaired block
				filtSumSq += y * y
			}
		}
		if n%factor == factor-1 {
			pickSumSq += x * x
			picked++
		}
	}

	filtRMS := math.Sqrt(filtSumSq / float64(filtered-1))
	pickRMS := math.Sqrt(pickSumSq / float64(picked))
	// The aliased pick keeps the full tone level (rms ~ 0.707).
	if pickRMS < 0.6 {
		t.Fatalf("unfiltered pick rms = %v, expected a full-level alias", pickRMS)
	}
	if filtRMS > pickRMS/3 {
		t.Errorf("stopband tone insufficiently attenuated: filtered rms = %v, picked rms = %v", filtRMS, pickRMS)
	}
}

// A tone well inside the retained band must pass with little loss.
func TestDecimatorPassband(t *testing.T) {
	const (
		factor    = 4
		inputRate = 48000.0
		toneHz    = 300.0
	)
	d := NewDecimator(factor, inputRate)

	var sumSq float64
	outputs := 0
	for n := 0; n < 48000; n++ {
		x := math.Cos(2 * math.Pi * toneHz * float64(n) / inputRate)
		y, ok := d.Process(x)
		if !ok {
			continue
		}
		outputs++
		sumSq += y * y
	}
	rms := math.Sqrt(sumSq / float64(outputs))
	// A full-scale cosine has rms 1/sqrt(2) ~ 0.707.
	if rms < 0.69 {
		t.Errorf("passband tone attenuated: rms = %v", rms)
	}
}

func TestDecimatorReset(t *testing.T) {
	d := NewDecimator(4, 48000)
	for i := 0; i < 10; i++ {
		d.Process(1.0)
	}
	d.Reset()

	// After a reset the first output is the plain first-block average.
	var first float64
	got := false
	for i := 0; i < 4; i++ {
		if y, ok := d.Process(0.5); ok {
			first, got = y, true
		}
	}
	if !got {
		t.Fatal("no output after reset")
	}
	if math.Abs(first-0.5) > 1e-12 {
		t.Errorf("first output after reset = %v, want 0.5", first)
	}
}

func TestIQDecimatorLockStep(t *testing.T) {
	d := NewIQDecimator(4, 48000)

	ready := 0
	for n := 0; n < 64; n++ {
		oi, oq, ok, err := d.Process(1.0, -1.0)
		if err != nil {
			t.Fatalf("Process failed: %v", err)
		}
		if !ok {
			continue
		}
		ready++
		if math.Abs(oi-1.0) > 1e-12 || math.Abs(oq+1.0) > 1e-12 {
			t.Errorf("output pair = (%v, %v), want (1, -1)", oi, oq)
		}
	}
	if ready != 16 {
		t.Errorf("got %d output pairs from 64 inputs, want 16", ready)
	}
}
