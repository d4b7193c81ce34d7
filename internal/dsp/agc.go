package dsp

import "math"

// Gain tracker tuning. Attack responds quickly to louder signals; decay
// falls back slowly to avoid visual flicker.
const (
	AGCAttack = 0.05
	AGCDecay  = 0.002

	// agcEpsilon keeps log10 defined for zero magnitudes.
	agcEpsilon = 1e-10
)

// GainTracker maintains smoothed peak and floor decibel estimates across
// spectral frames with asymmetric attack/decay smoothing. State lives for
// the process lifetime and is deliberately preserved across reconnects.
type GainTracker struct {
	peakDB  float64
	floorDB float64
	attack  float64
	decay   float64
}

// NewGainTracker returns a tracker seeded with the display defaults.
func NewGainTracker() *GainTracker {
	return &GainTracker{
		peakDB:  -40.0,
		floorDB: -80.0,
		attack:  AGCAttack,
		decay:   AGCDecay,
	}
}

// Peak returns the smoothed peak estimate in dB.
func (g *GainTracker) Peak() float64 { return g.peakDB }

// Floor returns the smoothed floor estimate in dB.
func (g *GainTracker) Floor() float64 { return g.floorDB }

// Update folds one frame of linear magnitudes into the smoothed estimates
// and returns the updated (peak, floor) pair. When the instantaneous extreme
// is more extreme than the smoothed value it is tracked at the attack rate,
// otherwise at the decay rate.
func (g *GainTracker) Update(mags []float64) (peakDB, floorDB float64) {
	if len(mags) == 0 {
		return g.peakDB, g.floorDB
	}

	frameMax, frameMin := -200.0, 200.0
	for _, m := range mags {
		db := 20 * math.Log10(m+agcEpsilon)
		if db > frameMax {
			frameMax = db
		}
		if db < frameMin {
			frameMin = db
		}
	}

	rate := g.decay
	if frameMax > g.peakDB {
		rate = g.attack
	}
	g.peakDB += rate * (frameMax - g.peakDB)

	rate = g.decay
	if frameMin < g.floorDB {
		rate = g.attack
	}
	g.floorDB += rate * (frameMin - g.floorDB)

	return g.peakDB, g.floorDB
}

// MagnitudeDB converts one linear magnitude to decibels with the tracker's
// epsilon guard.
func MagnitudeDB(mag float64) float64 {
	return 20 * math.Log10(mag+agcEpsilon)
}
