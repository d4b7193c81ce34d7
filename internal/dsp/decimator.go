// Package dsp contains the display pipeline's signal processing stages:
// rate decimation, windowed spectral analysis, and adaptive gain tracking.
package dsp

import (
	"errors"
	"fmt"
)

// Decimator reduces the sample rate of one channel by an integer factor with
// anti-alias filtering. The filter is two overlapped length-N block averages
// (equivalent to a length-2N boxcar FIR evaluated at every Nth input), which
// places a null at the new Nyquist rate and attenuates everything above it.
type Decimator struct {
	factor    int
	inputRate float64

	acc    float64 // running sum of the current block
	count  int     // samples accumulated in the current block
	prev   float64 // previous block average
	primed bool    // prev holds a valid block average
}

// NewDecimator returns a decimator for the given integer factor and input
// sample rate. A factor below 1 is clamped to 1 (pass-through).
func NewDecimator(factor int, inputRate float64) *Decimator {
	if factor < 1 {
		factor = 1
	}
	return &Decimator{factor: factor, inputRate: inputRate}
}

// Factor returns the configured decimation factor.
func (d *Decimator) Factor() int { return d.factor }

// OutputRate returns the decimated sample rate.
func (d *Decimator) OutputRate() float64 { return d.inputRate / float64(d.factor) }

// Reset clears all accumulator state. Both channels of a pair must be reset
// together whenever the negotiated input rate changes.
func (d *Decimator) Reset() {
	d.acc = 0
	d.count = 0
	d.prev = 0
	d.primed = false
}

// Process consumes one input sample and produces one output sample every
// factor inputs. ok is false on the inputs in between.
func (d *Decimator) Process(x float64) (y float64, ok bool) {
	if d.factor == 1 {
		return x, true
	}
	d.acc += x
	d.count++
	if d.count < d.factor {
		return 0, false
	}

	cur := d.acc / float64(d.factor)
	d.acc = 0
	d.count = 0

	if !d.primed {
		d.prev = cur
		d.primed = true
		return cur, true
	}
	y = (d.prev + cur) / 2
	d.prev = cur
	return y, true
}

// ErrChannelDesync indicates the I and Q decimators stopped producing
// outputs on the same input index. This cannot occur while both channels
// consume inputs in lock-step, so it is a fatal internal error.
var ErrChannelDesync = errors.New("decimator channels desynchronized")

// IQDecimator pairs two per-channel decimators and keeps them in lock-step:
// an output pair is ready only when both channels produce on the same input.
type IQDecimator struct {
	i *Decimator
	q *Decimator
}

// NewIQDecimator builds a lock-step I/Q decimator pair.
func NewIQDecimator(factor int, inputRate float64) *IQDecimator {
	return &IQDecimator{
		i: NewDecimator(factor, inputRate),
		q: NewDecimator(factor, inputRate),
	}
}

// Factor returns the configured decimation factor.
func (d *IQDecimator) Factor() int { return d.i.Factor() }

// OutputRate returns the decimated sample rate.
func (d *IQDecimator) OutputRate() float64 { return d.i.OutputRate() }

// Reset clears both channels together.
func (d *IQDecimator) Reset() {
	d.i.Reset()
	d.q.Reset()
}

// Process consumes one I/Q input pair. ok is true when a decimated output
// pair is ready. A one-sided output means the channels have desynchronized,
// which is reported as a fatal internal error.
func (d *IQDecimator) Process(i, q float64) (oi, oq float64, ok bool, err error) {
	oi, iReady := d.i.Process(i)
	oq, qReady := d.q.Process(q)
	if iReady != qReady {
		return 0, 0, false, fmt.Errorf("%w: i=%v q=%v", ErrChannelDesync, iReady, qReady)
	}
	return oi, oq, iReady, nil
}
