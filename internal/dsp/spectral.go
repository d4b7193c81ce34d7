package dsp

import (
	"math"

	"gonum.org/v1/gonum/dsp/fourier"
)

// Display pipeline constants. The analysis window is fixed; the spectral
// engine always operates at the display rate, after any decimation.
const (
	// DisplaySampleRate is the rate the spectral engine expects, in Hz.
	DisplaySampleRate = 12000
	// FFTSize is the analysis window length in samples.
	FFTSize = 2048
	// Overlap is the number of new samples required before the next
	// analysis: half the window, trading update latency for smoothness.
	Overlap = FFTSize / 2
	// ZoomMaxHz is the displayed frequency half-span: columns map linearly
	// from -ZoomMaxHz to +ZoomMaxHz.
	ZoomMaxHz = 5000.0
)

// SpectralEngine accumulates I/Q samples in a circular buffer sized to the
// analysis window and produces per-column magnitude frames: window, forward
// complex FFT, then FFT bins mapped onto display columns with frequency zoom.
// Single-owner: only the processing loop may call it.
type SpectralEngine struct {
	windowLen   int
	displayRate float64
	zoomMaxHz   float64

	buf        []complex128 // circular sample buffer, writeIdx is the oldest slot
	writeIdx   int
	newSamples int

	window []float64
	fft    *fourier.CmplxFFT
	in     []complex128
	out    []complex128
	mags   []float64 // per-column scratch, sized on Analyze
}

// NewSpectralEngine builds an engine for the given window length, display
// sample rate and zoom half-span.
func NewSpectralEngine(windowLen int, displayRate, zoomMaxHz float64) *SpectralEngine {
	return &SpectralEngine{
		windowLen:   windowLen,
		displayRate: displayRate,
		zoomMaxHz:   zoomMaxHz,
		buf:         make([]complex128, windowLen),
		window:      blackmanHarris(windowLen),
		fft:         fourier.NewCmplxFFT(windowLen),
		in:          make([]complex128, windowLen),
		out:         make([]complex128, windowLen),
	}
}

// blackmanHarris generates the 4-term Blackman-Harris analysis window.
func blackmanHarris(size int) []float64 {
	const a0, a1, a2, a3 = 0.35875, 0.48829, 0.14128, 0.01168
	w := make([]float64, size)
	for i := range w {
		n := float64(i) / float64(size)
		w[i] = a0 - a1*math.Cos(2*math.Pi*n) + a2*math.Cos(4*math.Pi*n) - a3*math.Cos(6*math.Pi*n)
	}
	return w
}

// WindowLen returns the analysis window length.
func (e *SpectralEngine) WindowLen() int { return e.windowLen }

// HzPerBin returns the FFT bin spacing in Hz.
func (e *SpectralEngine) HzPerBin() float64 { return e.displayRate / float64(e.windowLen) }

// Ingest appends one display-rate I/Q sample at the write cursor and
// advances it modulo the window length.
func (e *SpectralEngine) Ingest(i, q float32) {
	e.buf[e.writeIdx] = complex(float64(i), float64(q))
	e.writeIdx = (e.writeIdx + 1) % e.windowLen
	e.newSamples++
}

// ShouldAnalyze reports whether enough new samples have accumulated since
// the last analysis (50% overlap).
func (e *SpectralEngine) ShouldAnalyze() bool {
	return e.newSamples >= e.windowLen/2
}

// Reset discards buffered samples. Called when a new session negotiates a
// different stream so stale samples never leak across connections.
func (e *SpectralEngine) Reset() {
	for i := range e.buf {
		e.buf[i] = 0
	}
	e.writeIdx = 0
	e.newSamples = 0
}

// Analyze windows the most recent windowLen samples in buffer order, runs a
// forward complex FFT, and maps the bins onto width display columns spanning
// -zoomMaxHz..+zoomMaxHz. The returned slice holds linear magnitudes
// (|X[k]|/N) and is valid until the next Analyze call. The new-sample
// counter is reset.
func (e *SpectralEngine) Analyze(width int) []float64 {
	e.newSamples = 0

	// writeIdx is the oldest sample: walk oldest to newest.
	for i := 0; i < e.windowLen; i++ {
		s := e.buf[(e.writeIdx+i)%e.windowLen]
		e.in[i] = complex(real(s)*e.window[i], imag(s)*e.window[i])
	}
	e.fft.Coefficients(e.out, e.in)

	if cap(e.mags) < width {
		e.mags = make([]float64, width)
	}
	mags := e.mags[:width]

	binHz := e.HzPerBin()
	n := e.windowLen
	for i := 0; i < width; i++ {
		freq := (float64(i)/float64(width) - 0.5) * 2 * e.zoomMaxHz
		var bin int
		if freq >= 0 {
			bin = int(freq/binHz + 0.5)
		} else {
			// Negative frequencies wrap into the upper half of the
			// spectrum.
			bin = n + int(freq/binHz-0.5)
		}
		if bin < 0 {
			bin = 0
		} else if bin >= n {
			bin = n - 1
		}
		re := real(e.out[bin])
		im := imag(e.out[bin])
		mags[i] = math.Sqrt(re*re+im*im) / float64(n)
	}
	return mags
}
