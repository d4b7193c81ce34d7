// Package protocol implements the PHXI/PHXD stream protocols used by the
// waterfall display: sample format conversion, wire frame parsing, and the
// connection state machine that drives a single streaming session.
package protocol

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
)

// SampleFormat identifies the on-wire encoding of one I or Q component.
type SampleFormat uint32

const (
	// FormatS16 is little-endian signed 16-bit fixed point, full scale 32768.
	FormatS16 SampleFormat = 1
	// FormatF32 is little-endian IEEE 754 float32, passed through unscaled.
	FormatF32 SampleFormat = 2
	// FormatU8 is offset-binary unsigned 8-bit, mid-scale at 128.
	FormatU8 SampleFormat = 3
)

// ErrUnsupportedFormat is returned when a stream declares a sample format
// code outside the three known encodings. The caller must drop the frame.
var ErrUnsupportedFormat = errors.New("unsupported sample format")

// String returns the conventional short name for the format.
func (f SampleFormat) String() string {
	switch f {
	case FormatS16:
		return "S16"
	case FormatF32:
		return "F32"
	case FormatU8:
		return "U8"
	default:
		return fmt.Sprintf("Unknown(%d)", uint32(f))
	}
}

// BytesPerComponent returns the wire size of a single I or Q value, or an
// error for unknown format codes.
func (f SampleFormat) BytesPerComponent() (int, error) {
	switch f {
	case FormatS16:
		return 2, nil
	case FormatF32:
		return 4, nil
	case FormatU8:
		return 1, nil
	default:
		return 0, fmt.Errorf("%w: code %d", ErrUnsupportedFormat, uint32(f))
	}
}

// PayloadSize returns the number of payload bytes carried by a data frame
// holding count interleaved I/Q pairs in the given format.
func (f SampleFormat) PayloadSize(count int) (int, error) {
	per, err := f.BytesPerComponent()
	if err != nil {
		return 0, err
	}
	return count * 2 * per, nil
}

// DecodeSamples converts count interleaved I/Q pairs from raw wire bytes into
// normalized float32 pairs written to out. Full-scale fixed-point input maps
// to ±1.0. out must hold at least count*2 values; raw must hold the full
// payload for count pairs.
func DecodeSamples(format SampleFormat, raw []byte, count int, out []float32) error {
	need, err := format.PayloadSize(count)
	if err != nil {
		return err
	}
	if len(raw) < need {
		return fmt.Errorf("short sample payload: have %d bytes, need %d", len(raw), need)
	}
	if len(out) < count*2 {
		return fmt.Errorf("output buffer too small: have %d floats, need %d", len(out), count*2)
	}

	n := count * 2
	switch format {
	case FormatS16:
		for i := 0; i < n; i++ {
			v := int16(binary.LittleEndian.Uint16(raw[i*2:]))
			out[i] = float32(v) / 32768.0
		}
	case FormatU8:
		for i := 0; i < n; i++ {
			out[i] = (float32(raw[i]) - 128.0) / 128.0
		}
	case FormatF32:
		for i := 0; i < n; i++ {
			out[i] = math.Float32frombits(binary.LittleEndian.Uint32(raw[i*4:]))
		}
	}
	return nil
}

// EncodeSamples is the inverse of DecodeSamples: it packs count interleaved
// float32 I/Q pairs into wire bytes in the given format. Used by the stream
// source and by tests. Values outside ±1.0 saturate in fixed-point formats.
func EncodeSamples(format SampleFormat, samples []float32, count int, out []byte) error {
	need, err := format.PayloadSize(count)
	if err != nil {
		return err
	}
	if len(samples) < count*2 {
		return fmt.Errorf("sample buffer too small: have %d floats, need %d", len(samples), count*2)
	}
	if len(out) < need {
		return fmt.Errorf("output buffer too small: have %d bytes, need %d", len(out), need)
	}

	n := count * 2
	switch format {
	case FormatS16:
		for i := 0; i < n; i++ {
			v := samples[i] * 32768.0
			if v > 32767 {
				v = 32767
			} else if v < -32768 {
				v = -32768
			}
			binary.LittleEndian.PutUint16(out[i*2:], uint16(int16(v)))
		}
	case FormatU8:
		for i := 0; i < n; i++ {
			v := samples[i]*128.0 + 128.0
			if v > 255 {
				v = 255
			} else if v < 0 {
				v = 0
			}
			out[i] = uint8(v)
		}
	case FormatF32:
		for i := 0; i < n; i++ {
			binary.LittleEndian.PutUint32(out[i*4:], math.Float32bits(samples[i]))
		}
	}
	return nil
}
