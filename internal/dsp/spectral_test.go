package dsp

import (
	"math"
	"testing"
)

func ingestTone(e *SpectralEngine, freqHz float64, n int) {
	for i := 0; i < n; i++ {
		phase := 2 * math.Pi * freqHz * float64(i) / DisplaySampleRate
		e.Ingest(float32(math.Cos(phase)), float32(math.Sin(phase)))
	}
}

func argmax(mags []float64) int {
	best := 0
	for i, m := range mags {
		if m > mags[best] {
			best = i
		}
	}
	return best
}

func TestSpectralEngineConstants(t *testing.T) {
	e := NewSpectralEngine(FFTSize, DisplaySampleRate, ZoomMaxHz)
	if e.WindowLen() != 2048 {
		t.Errorf("window length = %d, want 2048", e.WindowLen())
	}
	want := float64(DisplaySampleRate) / float64(FFTSize)
	if math.Abs(e.HzPerBin()-want) > 1e-12 {
		t.Errorf("HzPerBin = %v, want %v", e.HzPerBin(), want)
	}
}

func TestShouldAnalyzeOverlap(t *testing.T) {
	e := NewSpectralEngine(FFTSize, DisplaySampleRate, ZoomMaxHz)
	if e.ShouldAnalyze() {
		t.Fatal("fresh engine must not be ready")
	}
	for i := 0; i < FFTSize/2-1; i++ {
		e.Ingest(0, 0)
	}
	if e.ShouldAnalyze() {
		t.Fatal("ready one sample early")
	}
	e.Ingest(0, 0)
	if !e.ShouldAnalyze() {
		t.Fatal("not ready at half a window of new samples")
	}

	e.Analyze(1024)
	if e.ShouldAnalyze() {
		t.Error("Analyze must reset the new-sample counter")
	}
}

func TestAnalyzePositiveTonePeak(t *testing.T) {
	const width = 1024
	e := NewSpectralEngine(FFTSize, DisplaySampleRate, ZoomMaxHz)
	ingestTone(e, 1000, FFTSize)

	mags := e.Analyze(width)
	if len(mags) != width {
		t.Fatalf("got %d columns, want %d", len(mags), width)
	}

	// Column x covers freq (x/width - 0.5) * 2 * zoom; 1000 Hz lands at
	// 0.6 * width = 614.
	peak := argmax(mags)
	if peak < 608 || peak > 620 {
		t.Errorf("peak at column %d, want near 614", peak)
	}
	if mags[peak] < 0.05 {
		t.Errorf("peak magnitude %v implausibly small for a full-scale tone", mags[peak])
	}
}

func TestAnalyzeNegativeTonePeak(t *testing.T) {
	const width = 1024
	e := NewSpectralEngine(FFTSize, DisplaySampleRate, ZoomMaxHz)
	ingestTone(e, -2500, FFTSize)

	// -2500 Hz lands at 0.25 * width = 256 via the wrapped upper bins.
	peak := argmax(e.Analyze(width))
	if peak < 250 || peak > 262 {
		t.Errorf("peak at column %d, want near 256", peak)
	}
}

func TestAnalyzeDCPeakAtCenter(t *testing.T) {
	const width = 1024
	e := NewSpectralEngine(FFTSize, DisplaySampleRate, ZoomMaxHz)
	for i := 0; i < FFTSize; i++ {
		e.Ingest(1, 0)
	}

	peak := argmax(e.Analyze(width))
	if peak < 510 || peak > 514 {
		t.Errorf("DC peak at column %d, want center 512", peak)
	}
}

func TestAnalyzeSilenceIsFlat(t *testing.T) {
	e := NewSpectralEngine(FFTSize, DisplaySampleRate, ZoomMaxHz)
	for i := 0; i < FFTSize; i++ {
		e.Ingest(0, 0)
	}
	for x, m := range e.Analyze(512) {
		if m != 0 {
			t.Fatalf("column %d = %v, want 0 for silence", x, m)
		}
	}
}

func TestResetClearsBufferedTone(t *testing.T) {
	const width = 1024
	e := NewSpectralEngine(FFTSize, DisplaySampleRate, ZoomMaxHz)
	ingestTone(e, 1000, FFTSize)
	e.Reset()
	if e.ShouldAnalyze() {
		t.Error("Reset must clear the new-sample counter")
	}

	for i := 0; i < FFTSize; i++ {
		e.Ingest(0, 0)
	}
	for x, m := range e.Analyze(width) {
		if m != 0 {
			t.Fatalf("column %d = %v after Reset, want 0", x, m)
		}
	}
}

func TestBlackmanHarrisWindowShape(t *testing.T) {
	w := blackmanHarris(FFTSize)
	if len(w) != FFTSize {
		t.Fatalf("window length = %d, want %d", len(w), FFTSize)
	}
	// Endpoint near the canonical -92 dB sidelobe floor, center near unity.
	if w[0] > 1e-4 {
		t.Errorf("w[0] = %v, want near zero", w[0])
	}
	if math.Abs(w[FFTSize/2]-1.0) > 1e-3 {
		t.Errorf("w[N/2] = %v, want near 1", w[FFTSize/2])
	}
	for i, v := range w {
		if v < 0 || v > 1.0001 {
			t.Fatalf("w[%d] = %v outside [0, 1]", i, v)
		}
	}
}
