// Package waterfall implements the scrolling RGB pixel buffer the spectral
// pipeline draws into: one row per spectral frame, newest at the top.
package waterfall

import "phoenix-waterfall/internal/dsp"

// Canvas size limits. Resize clamps to these so interactive window resizing
// can never produce a degenerate buffer.
const (
	MinWidth  = 400
	MinHeight = 300

	// DefaultWidth and DefaultHeight match the initial window size.
	DefaultWidth  = 1024
	DefaultHeight = 600

	bytesPerPixel = 3 // RGB
)

// Canvas is a width*height*3 RGB scroll buffer. Row 0 is the newest row;
// pushing a row shifts all existing rows down by one. Single-owner within
// the processing loop.
type Canvas struct {
	width  int
	height int
	pixels []byte
}

// NewCanvas allocates a canvas, clamping dimensions to the minimums.
func NewCanvas(width, height int) *Canvas {
	c := &Canvas{}
	c.Resize(width, height)
	return c
}

// Width returns the current canvas width in pixels.
func (c *Canvas) Width() int { return c.width }

// Height returns the current canvas height in pixels.
func (c *Canvas) Height() int { return c.height }

// Pixels returns the backing RGB buffer, row 0 first. The slice is
// invalidated by Resize.
func (c *Canvas) Pixels() []byte { return c.pixels }

// RowStride returns the byte length of one row.
func (c *Canvas) RowStride() int { return c.width * bytesPerPixel }

// Resize reallocates the pixel buffer for new dimensions. Idempotent: a
// resize to the current size keeps the existing contents. Safe to call every
// frame during an interactive window resize; prior rows are discarded when
// the size actually changes.
func (c *Canvas) Resize(width, height int) {
	if width < MinWidth {
		width = MinWidth
	}
	if height < MinHeight {
		height = MinHeight
	}
	if width == c.width && height == c.height && c.pixels != nil {
		return
	}
	c.width = width
	c.height = height
	c.pixels = make([]byte, width*height*bytesPerPixel)
}

// PushRow scrolls the canvas down one row and writes row into row 0. row
// must be exactly one RowStride long; other lengths are ignored rather than
// corrupting the buffer.
func (c *Canvas) PushRow(row []byte) {
	stride := c.RowStride()
	if len(row) != stride {
		return
	}
	copy(c.pixels[stride:], c.pixels[:len(c.pixels)-stride])
	copy(c.pixels[:stride], row)
}

// PushMagnitudes converts one spectral frame to colors and pushes it as the
// newest row. mags must have one value per column (canvas width); the AGC
// peak/floor estimates and the user gain offset set the color range.
func (c *Canvas) PushMagnitudes(mags []float64, peakDB, floorDB, gainOffsetDB float64) {
	if len(mags) != c.width {
		return
	}
	stride := c.RowStride()
	copy(c.pixels[stride:], c.pixels[:len(c.pixels)-stride])
	for x, m := range mags {
		r, g, b := MagnitudeToColor(m, peakDB, floorDB, gainOffsetDB)
		c.pixels[x*bytesPerPixel] = r
		c.pixels[x*bytesPerPixel+1] = g
		c.pixels[x*bytesPerPixel+2] = b
	}
}

// MagnitudeToColor maps one linear magnitude to an RGB color on the fixed
// blue→cyan→green→yellow→red gradient. The normalized position is
// (db − floor) / max(peak − floor, 20): the 20 dB minimum range keeps the
// display stable when peak and floor converge.
func MagnitudeToColor(mag, peakDB, floorDB, gainOffsetDB float64) (r, g, b byte) {
	db := dsp.MagnitudeDB(mag) + gainOffsetDB
	rng := peakDB - floorDB
	if rng < 20.0 {
		rng = 20.0
	}
	norm := (db - floorDB) / rng
	if norm < 0 {
		norm = 0
	} else if norm > 1 {
		norm = 1
	}

	switch {
	case norm < 0.25:
		return 0, 0, byte(norm * 4 * 255)
	case norm < 0.5:
		return 0, byte((norm - 0.25) * 4 * 255), 255
	case norm < 0.75:
		return byte((norm - 0.5) * 4 * 255), 255, byte((0.75 - norm) * 4 * 255)
	default:
		return 255, byte((1 - norm) * 4 * 255), 0
	}
}
