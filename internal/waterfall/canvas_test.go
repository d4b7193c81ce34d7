package waterfall

import (
	"math"
	"testing"
)

func TestNewCanvasClampsMinimums(t *testing.T) {
	c := NewCanvas(10, 10)
	if c.Width() != MinWidth || c.Height() != MinHeight {
		t.Errorf("canvas = %dx%d, want clamped to %dx%d", c.Width(), c.Height(), MinWidth, MinHeight)
	}
	if len(c.Pixels()) != MinWidth*MinHeight*3 {
		t.Errorf("pixel buffer = %d bytes, want %d", len(c.Pixels()), MinWidth*MinHeight*3)
	}
}

func TestResizeIdempotent(t *testing.T) {
	c := NewCanvas(DefaultWidth, DefaultHeight)
	c.Pixels()[0] = 0xAA

	c.Resize(DefaultWidth, DefaultHeight)
	if c.Pixels()[0] != 0xAA {
		t.Error("resize to the same size must keep contents")
	}

	c.Resize(800, 480)
	if c.Width() != 800 || c.Height() != 480 {
		t.Errorf("canvas = %dx%d, want 800x480", c.Width(), c.Height())
	}
	if c.Pixels()[0] != 0 {
		t.Error("resize to a new size must clear contents")
	}
}

func TestPushRowScrolls(t *testing.T) {
	c := NewCanvas(MinWidth, MinHeight)
	stride := c.RowStride()

	rowA := make([]byte, stride)
	rowB := make([]byte, stride)
	for i := range rowA {
		rowA[i] = 1
		rowB[i] = 2
	}

	c.PushRow(rowA)
	c.PushRow(rowB)

	px := c.Pixels()
	if px[0] != 2 {
		t.Errorf("row 0 byte = %d, want newest row (2)", px[0])
	}
	if px[stride] != 1 {
		t.Errorf("row 1 byte = %d, want previous row (1)", px[stride])
	}
	if px[2*stride] != 0 {
		t.Errorf("row 2 byte = %d, want untouched (0)", px[2*stride])
	}
}

func TestPushRowRejectsWrongStride(t *testing.T) {
	c := NewCanvas(MinWidth, MinHeight)
	c.PushRow(make([]byte, c.RowStride()-3))
	for i, b := range c.Pixels()[:c.RowStride()] {
		if b != 0 {
			t.Fatalf("byte %d = %d, want canvas untouched", i, b)
		}
	}
}

func TestRowEvictionAtHeight(t *testing.T) {
	c := NewCanvas(MinWidth, MinHeight)
	stride := c.RowStride()

	// Push height+1 distinct rows; the first must scroll off the bottom.
	row := make([]byte, stride)
	for n := 0; n <= MinHeight; n++ {
		for i := range row {
			row[i] = byte(n + 1)
		}
		c.PushRow(row)
	}

	px := c.Pixels()
	newest := MinHeight + 1
	if px[0] != byte(newest) {
		t.Errorf("row 0 = %d, want newest (%d)", px[0], newest)
	}
	bottom := px[(MinHeight-1)*stride]
	if bottom != 2 {
		t.Errorf("bottom row = %d, want 2 (row 1 evicted)", bottom)
	}
}

func TestPushMagnitudesWidthMismatch(t *testing.T) {
	c := NewCanvas(MinWidth, MinHeight)
	c.PushMagnitudes(make([]float64, MinWidth-1), -40, -80, 0)
	for i, b := range c.Pixels()[:c.RowStride()] {
		if b != 0 {
			t.Fatalf("byte %d = %d, want canvas untouched on width mismatch", i, b)
		}
	}
}

func TestMagnitudeToColorEndpoints(t *testing.T) {
	// At the floor the gradient starts black; at or above the peak it is
	// pure red.
	atFloor := math.Pow(10, -80.0/20)
	r, g, b := MagnitudeToColor(atFloor, -40, -80, 0)
	if r != 0 || g != 0 || b > 1 {
		t.Errorf("floor color = (%d,%d,%d), want near black", r, g, b)
	}

	atPeak := math.Pow(10, -40.0/20)
	r, g, b = MagnitudeToColor(atPeak, -40, -80, 0)
	if r != 255 || g != 0 || b != 0 {
		t.Errorf("peak color = (%d,%d,%d), want pure red", r, g, b)
	}

	// Overdrive clamps rather than wrapping.
	r, g, b = MagnitudeToColor(1.0, -40, -80, 0)
	if r != 255 || g != 0 || b != 0 {
		t.Errorf("overdriven color = (%d,%d,%d), want pure red", r, g, b)
	}
}

func TestMagnitudeToColorMidpoint(t *testing.T) {
	// Halfway between floor -80 and peak -40 is -60 dB: cyan.
	mid := math.Pow(10, -60.0/20)
	r, g, b := MagnitudeToColor(mid, -40, -80, 0)
	if r != 0 || g < 250 || b < 250 {
		t.Errorf("midpoint color = (%d,%d,%d), want cyan", r, g, b)
	}
}

func TestMagnitudeToColorGainOffset(t *testing.T) {
	quiet := math.Pow(10, -80.0/20)

	r0, g0, b0 := MagnitudeToColor(quiet, -40, -80, 0)
	r1, g1, b1 := MagnitudeToColor(quiet, -40, -80, 40)
	if r0 == r1 && g0 == g1 && b0 == b1 {
		t.Error("gain offset must shift the rendered color")
	}
	// +40 dB lifts the floor value to the peak: pure red.
	if r1 != 255 || g1 != 0 || b1 != 0 {
		t.Errorf("offset color = (%d,%d,%d), want pure red", r1, g1, b1)
	}
}

func TestMagnitudeToColorMinimumRange(t *testing.T) {
	// With peak and floor converged the range is held at 20 dB, so a value
	// 10 dB above the shared level sits mid-gradient rather than saturating.
	mag := math.Pow(10, -40.0/20)
	r, g, b := MagnitudeToColor(mag, -50, -50, 0)
	if r == 255 && g == 0 && b == 0 {
		t.Error("converged range must not saturate a +10 dB signal")
	}
	if r == 0 && g == 0 && b == 0 {
		t.Error("converged range must not blank a +10 dB signal")
	}
}
