package protocol

import (
	"encoding/binary"
	"fmt"
	"io"
)

// Wire magic constants. All multi-byte fields are little-endian.
const (
	// MagicPHXI opens a Variant A stream header: raw high-rate I/Q.
	MagicPHXI = 0x50485849 // "PHXI"
	// MagicPHXD opens a Variant B stream header: float32 I/Q already at
	// the display rate, no decimation required.
	MagicPHXD = 0x50485844 // "PHXD"
	// MagicIQDQ leads every data frame in both variants.
	MagicIQDQ = 0x49514451 // "IQDQ"
	// MagicMETA leads a Variant A metadata update frame.
	MagicMETA = 0x4D455441 // "META"
)

const (
	// FrameHeaderSize is the fixed size of the leading fields shared by
	// data and metadata frames.
	FrameHeaderSize = 16
	// HeaderSizeA is the Variant A stream header size including magic.
	HeaderSizeA = 32
	// HeaderSizeB is the Variant B stream header size including magic.
	HeaderSizeB = 16
	// MetadataFrameSize is the total Variant A metadata frame size.
	MetadataFrameSize = 32
)

// StreamParams holds the negotiated parameters of one stream session.
type StreamParams struct {
	SampleRate    uint32       // source samples per second
	Format        SampleFormat // wire encoding of each I/Q component
	CenterFreq    uint64       // tuner center frequency in Hz (Variant A)
	GainReduction int32        // gain reduction in tenths of dB (Variant A)
	LNAEnabled    bool         // LNA state (Variant A)
}

// FrameKind classifies an incoming frame by its leading magic.
type FrameKind int

const (
	// FrameUnknown is a magic value outside the protocol's known set.
	// Unknown frames have no known length, so they cannot be skipped;
	// the session logs and continues, which is only safe as long as a
	// conforming peer never sends one.
	FrameUnknown FrameKind = iota
	// FrameData carries interleaved I/Q sample pairs.
	FrameData
	// FrameMetadata carries updated tuner parameters (Variant A only).
	FrameMetadata
)

// FrameHeader is the 16-byte leading structure shared by data and metadata
// frames: magic(4) + sequence(4) + count(4) + aux(4). For data frames Count
// is the number of I/Q pairs and Aux is a flags/reserved word; for metadata
// frames Count and Aux hold the low and high halves of the center frequency.
type FrameHeader struct {
	Magic    uint32
	Sequence uint32
	Count    uint32
	Aux      uint32
}

// ParseFrameHeader decodes a frame header from its wire representation.
func ParseFrameHeader(buf []byte) (FrameHeader, error) {
	if len(buf) < FrameHeaderSize {
		return FrameHeader{}, fmt.Errorf("short frame header: %d bytes", len(buf))
	}
	return FrameHeader{
		Magic:    binary.LittleEndian.Uint32(buf[0:]),
		Sequence: binary.LittleEndian.Uint32(buf[4:]),
		Count:    binary.LittleEndian.Uint32(buf[8:]),
		Aux:      binary.LittleEndian.Uint32(buf[12:]),
	}, nil
}

// AppendFrameHeader encodes hdr and appends it to buf. Used by the stream
// source side.
func AppendFrameHeader(buf []byte, hdr FrameHeader) []byte {
	var b [FrameHeaderSize]byte
	binary.LittleEndian.PutUint32(b[0:], hdr.Magic)
	binary.LittleEndian.PutUint32(b[4:], hdr.Sequence)
	binary.LittleEndian.PutUint32(b[8:], hdr.Count)
	binary.LittleEndian.PutUint32(b[12:], hdr.Aux)
	return append(buf, b[:]...)
}

// MetadataUpdate is the decoded body of a Variant A metadata frame.
type MetadataUpdate struct {
	Sequence      uint32
	CenterFreq    uint64
	GainReduction int32 // tenths of dB
	LNAEnabled    bool
}

// ParseMetadata combines an already-read frame header with the trailing 16
// bytes of a metadata frame. The header's Count/Aux words carry the center
// frequency halves; the trailing bytes carry gain, LNA state and 8 reserved.
func ParseMetadata(hdr FrameHeader, rest []byte) (MetadataUpdate, error) {
	if len(rest) < MetadataFrameSize-FrameHeaderSize {
		return MetadataUpdate{}, fmt.Errorf("short metadata frame: %d trailing bytes", len(rest))
	}
	return MetadataUpdate{
		Sequence:      hdr.Sequence,
		CenterFreq:    uint64(hdr.Aux)<<32 | uint64(hdr.Count),
		GainReduction: int32(binary.LittleEndian.Uint32(rest[0:])),
		LNAEnabled:    binary.LittleEndian.Uint32(rest[4:]) != 0,
	}, nil
}

// SourceProtocol abstracts the two stream variants behind one capability:
// parse the stream header that follows the 4-byte magic, and classify frame
// magics seen while streaming. The variant is selected at connect time by
// which header magic the peer sends.
type SourceProtocol interface {
	// Name identifies the variant in logs.
	Name() string
	// Negotiate reads and validates the remainder of the stream header
	// (everything after the magic) and returns the stream parameters.
	Negotiate(r io.Reader) (StreamParams, error)
	// Classify maps a frame magic to its kind.
	Classify(magic uint32) FrameKind
	// NeedsDecimation reports whether the stream arrives above the display
	// rate and must pass through the decimation filter.
	NeedsDecimation() bool
}

// ProtocolForMagic returns the protocol implementation selected by a stream
// header magic, or nil if the magic belongs to neither variant.
func ProtocolForMagic(magic uint32) SourceProtocol {
	switch magic {
	case MagicPHXI:
		return variantA{}
	case MagicPHXD:
		return variantB{}
	default:
		return nil
	}
}

// variantA is the raw high-rate source: 32-byte header with sample format,
// center frequency and tuner state, data frames in any of the three sample
// formats, plus metadata update frames.
type variantA struct{}

func (variantA) Name() string          { return "PHXI" }
func (variantA) NeedsDecimation() bool { return true }

func (variantA) Negotiate(r io.Reader) (StreamParams, error) {
	var buf [HeaderSizeA - 4]byte
	if _, err := io.ReadFull(r, buf[:]); err != nil {
		return StreamParams{}, fmt.Errorf("stream header read: %w", err)
	}
	version := binary.LittleEndian.Uint32(buf[0:])
	if version != 1 {
		return StreamParams{}, fmt.Errorf("unsupported PHXI protocol version %d", version)
	}
	params := StreamParams{
		SampleRate: binary.LittleEndian.Uint32(buf[4:]),
		Format:     SampleFormat(binary.LittleEndian.Uint32(buf[8:])),
		CenterFreq: uint64(binary.LittleEndian.Uint32(buf[16:]))<<32 |
			uint64(binary.LittleEndian.Uint32(buf[12:])),
		GainReduction: int32(binary.LittleEndian.Uint32(buf[20:])),
		LNAEnabled:    binary.LittleEndian.Uint32(buf[24:]) != 0,
	}
	if _, err := params.Format.BytesPerComponent(); err != nil {
		return StreamParams{}, err
	}
	if params.SampleRate == 0 {
		return StreamParams{}, fmt.Errorf("stream header declares zero sample rate")
	}
	return params, nil
}

func (variantA) Classify(magic uint32) FrameKind {
	switch magic {
	case MagicIQDQ:
		return FrameData
	case MagicMETA:
		return FrameMetadata
	default:
		return FrameUnknown
	}
}

// variantB is the pre-processed display-rate source: 16-byte header carrying
// only the sample rate, data frames always float32, never metadata.
type variantB struct{}

func (variantB) Name() string          { return "PHXD" }
func (variantB) NeedsDecimation() bool { return false }

func (variantB) Negotiate(r io.Reader) (StreamParams, error) {
	var buf [HeaderSizeB - 4]byte
	if _, err := io.ReadFull(r, buf[:]); err != nil {
		return StreamParams{}, fmt.Errorf("stream header read: %w", err)
	}
	rate := binary.LittleEndian.Uint32(buf[0:])
	if rate == 0 {
		return StreamParams{}, fmt.Errorf("stream header declares zero sample rate")
	}
	// Remaining 8 bytes are reserved.
	return StreamParams{SampleRate: rate, Format: FormatF32}, nil
}

func (variantB) Classify(magic uint32) FrameKind {
	if magic == MagicIQDQ {
		return FrameData
	}
	return FrameUnknown
}

// EncodeHeaderA builds a Variant A stream header for params.
func EncodeHeaderA(params StreamParams) []byte {
	buf := make([]byte, HeaderSizeA)
	binary.LittleEndian.PutUint32(buf[0:], MagicPHXI)
	binary.LittleEndian.PutUint32(buf[4:], 1)
	binary.LittleEndian.PutUint32(buf[8:], params.SampleRate)
	binary.LittleEndian.PutUint32(buf[12:], uint32(params.Format))
	binary.LittleEndian.PutUint32(buf[16:], uint32(params.CenterFreq))
	binary.LittleEndian.PutUint32(buf[20:], uint32(params.CenterFreq>>32))
	binary.LittleEndian.PutUint32(buf[24:], uint32(params.GainReduction))
	var lna uint32
	if params.LNAEnabled {
		lna = 1
	}
	binary.LittleEndian.PutUint32(buf[28:], lna)
	return buf
}

// EncodeHeaderB builds a Variant B stream header for the given rate.
func EncodeHeaderB(sampleRate uint32) []byte {
	buf := make([]byte, HeaderSizeB)
	binary.LittleEndian.PutUint32(buf[0:], MagicPHXD)
	binary.LittleEndian.PutUint32(buf[4:], sampleRate)
	return buf
}

// EncodeMetadata builds a full Variant A metadata frame.
func EncodeMetadata(m MetadataUpdate) []byte {
	buf := make([]byte, MetadataFrameSize)
	binary.LittleEndian.PutUint32(buf[0:], MagicMETA)
	binary.LittleEndian.PutUint32(buf[4:], m.Sequence)
	binary.LittleEndian.PutUint32(buf[8:], uint32(m.CenterFreq))
	binary.LittleEndian.PutUint32(buf[12:], uint32(m.CenterFreq>>32))
	binary.LittleEndian.PutUint32(buf[16:], uint32(m.GainReduction))
	var lna uint32
	if m.LNAEnabled {
		lna = 1
	}
	binary.LittleEndian.PutUint32(buf[20:], lna)
	return buf
}
