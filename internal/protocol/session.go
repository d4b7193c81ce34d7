package protocol

import (
	"errors"
	"fmt"
	"io"
	"log"
	"net"
	"time"
)

// State is the connection state of a stream session.
type State int

const (
	// Disconnected means no transport is held. Entered at startup and
	// after any failure.
	Disconnected State = iota
	// Connecting means a transport connect is in progress.
	Connecting
	// AwaitingHeader means the transport is up and exactly one stream
	// header is expected.
	AwaitingHeader
	// Streaming means the header was accepted and data frames flow.
	Streaming
)

// String returns a display name for the state.
func (s State) String() string {
	switch s {
	case Disconnected:
		return "DISCONNECTED"
	case Connecting:
		return "CONNECTING"
	case AwaitingHeader:
		return "AWAITING HEADER"
	case Streaming:
		return "STREAMING"
	default:
		return "UNKNOWN"
	}
}

const (
	// DefaultConnectTimeout bounds the dial and the header read.
	DefaultConnectTimeout = 5 * time.Second
	// DefaultPollTimeout is the short read deadline used while streaming
	// so one loop iteration never blocks for long.
	DefaultPollTimeout = 100 * time.Millisecond
	// DefaultRetryInterval gates reconnect attempts after a failure.
	DefaultRetryInterval = 5 * time.Second
	// MaxFrameSamples bounds the per-frame sample count a peer may
	// declare. Larger counts are treated as a protocol error.
	MaxFrameSamples = 1 << 20
)

// SessionConfig carries the session timing knobs. Zero values fall back to
// the defaults above.
type SessionConfig struct {
	ConnectTimeout time.Duration
	PollTimeout    time.Duration
	RetryInterval  time.Duration
}

func (c SessionConfig) withDefaults() SessionConfig {
	if c.ConnectTimeout <= 0 {
		c.ConnectTimeout = DefaultConnectTimeout
	}
	if c.PollTimeout <= 0 {
		c.PollTimeout = DefaultPollTimeout
	}
	if c.RetryInterval <= 0 {
		c.RetryInterval = DefaultRetryInterval
	}
	return c
}

// Session owns one transport connection to a stream source and drives the
// Disconnected → Connecting → AwaitingHeader → Streaming state machine.
// It is not safe for concurrent use; the processing loop is its only caller.
//
// Known limitation: a frame with an unrecognized magic has no known length,
// so the session cannot skip its body. It logs and keeps parsing at the next
// byte, which is only safe while conforming peers send only known frames.
type Session struct {
	cfg    SessionConfig
	conn   net.Conn
	state  State
	proto  SourceProtocol
	params StreamParams

	lastSeq uint32
	haveSeq bool

	lastFailure  time.Time
	lastActivity time.Time

	// Monotonic tallies, read by the pipeline for metrics.
	gapEvents    uint64
	framesLost   uint64
	framesOK     uint64
	metaFrames   uint64
	unknownMagic uint64
	bytesRead    uint64

	hdr    [FrameHeaderSize]byte
	raw    []byte    // reusable payload buffer, grown as needed
	floats []float32 // reusable decoded-sample buffer
}

// NewSession returns a disconnected session.
func NewSession(cfg SessionConfig) *Session {
	return &Session{cfg: cfg.withDefaults(), state: Disconnected}
}

// State returns the current connection state.
func (s *Session) State() State { return s.state }

// Params returns the negotiated stream parameters. Valid while Streaming.
func (s *Session) Params() StreamParams { return s.params }

// Protocol returns the negotiated protocol variant, or nil when disconnected.
func (s *Session) Protocol() SourceProtocol { return s.proto }

// GapEvents returns the number of sequence discontinuities observed.
func (s *Session) GapEvents() uint64 { return s.gapEvents }

// FramesLost returns the total frames missing across all gaps.
func (s *Session) FramesLost() uint64 { return s.framesLost }

// FramesReceived returns the number of data frames fully received.
func (s *Session) FramesReceived() uint64 { return s.framesOK }

// BytesRead returns the total payload and header bytes consumed.
func (s *Session) BytesRead() uint64 { return s.bytesRead }

// CanRetry reports whether the retry interval has elapsed since the last
// failure. The interval gate prevents busy-looping while disconnected.
func (s *Session) CanRetry(now time.Time) bool {
	if s.state != Disconnected {
		return false
	}
	return now.Sub(s.lastFailure) >= s.cfg.RetryInterval
}

// Connect dials the source, negotiates the stream header, and moves the
// session to Streaming. Any failure tears the transport down, records the
// failure time for the retry gate, and returns the error.
func (s *Session) Connect(host string, port int) error {
	if s.state == Streaming {
		return nil
	}

	addr := net.JoinHostPort(host, fmt.Sprintf("%d", port))
	s.state = Connecting
	conn, err := net.DialTimeout("tcp", addr, s.cfg.ConnectTimeout)
	if err != nil {
		s.fail()
		return fmt.Errorf("connect %s: %w", addr, err)
	}
	s.conn = conn
	s.state = AwaitingHeader

	// The header must arrive within the connect-phase timeout.
	if err := conn.SetReadDeadline(time.Now().Add(s.cfg.ConnectTimeout)); err != nil {
		s.fail()
		return fmt.Errorf("set header deadline: %w", err)
	}

	var magicBuf [4]byte
	if _, err := io.ReadFull(conn, magicBuf[:]); err != nil {
		s.fail()
		return fmt.Errorf("stream header read: %w", err)
	}
	magic := uint32(magicBuf[0]) | uint32(magicBuf[1])<<8 |
		uint32(magicBuf[2])<<16 | uint32(magicBuf[3])<<24

	proto := ProtocolForMagic(magic)
	if proto == nil {
		s.fail()
		return fmt.Errorf("invalid stream header magic 0x%08X", magic)
	}

	params, err := proto.Negotiate(conn)
	if err != nil {
		s.fail()
		return fmt.Errorf("%s negotiate: %w", proto.Name(), err)
	}

	s.proto = proto
	s.params = params
	s.haveSeq = false
	s.lastActivity = time.Now()
	s.state = Streaming
	log.Printf("connected %s: %d Hz %s I/Q stream", proto.Name(), params.SampleRate, params.Format)
	return nil
}

// ErrNotStreaming is returned by Poll when the session is not connected.
var ErrNotStreaming = errors.New("session is not streaming")

// Poll reads at most one frame from the transport. It returns:
//   - (samples, nil): one data frame of interleaved normalized I/Q floats,
//     valid only until the next Poll call;
//   - (nil, nil): idle timeout, metadata frame, unknown magic, or a frame
//     whose payload was dropped — processing continues;
//   - (nil, err): the connection was torn down and the session is now
//     Disconnected.
func (s *Session) Poll() ([]float32, error) {
	if s.state != Streaming {
		return nil, ErrNotStreaming
	}

	hdr, idle, err := s.readFrameHeader()
	if idle {
		return nil, nil
	}
	if err != nil {
		s.teardown(err)
		return nil, err
	}

	switch s.proto.Classify(hdr.Magic) {
	case FrameData:
		return s.readDataFrame(hdr)
	case FrameMetadata:
		return nil, s.readMetadataFrame(hdr)
	default:
		s.unknownMagic++
		log.Printf("unknown frame magic 0x%08X, continuing", hdr.Magic)
		return nil, nil
	}
}

// readFrameHeader reads one 16-byte frame header under the poll deadline.
// A deadline expiry with zero bytes read is the normal idle case. A partial
// header followed by an error would desynchronize the stream, so it is
// treated as a connection error.
func (s *Session) readFrameHeader() (FrameHeader, bool, error) {
	if err := s.conn.SetReadDeadline(time.Now().Add(s.cfg.PollTimeout)); err != nil {
		return FrameHeader{}, false, fmt.Errorf("set poll deadline: %w", err)
	}
	n, err := io.ReadFull(s.conn, s.hdr[:])
	if err != nil {
		var nerr net.Error
		if n == 0 && errors.As(err, &nerr) && nerr.Timeout() {
			return FrameHeader{}, true, nil
		}
		return FrameHeader{}, false, fmt.Errorf("frame header read: %w", err)
	}
	s.bytesRead += FrameHeaderSize
	s.lastActivity = time.Now()
	hdr, err := ParseFrameHeader(s.hdr[:])
	return hdr, false, err
}

// readDataFrame consumes and decodes one data frame payload. Once the header
// has been accepted the payload is read in full or the connection is torn
// down; a partial frame must never be left in the transport buffer.
func (s *Session) readDataFrame(hdr FrameHeader) ([]float32, error) {
	if hdr.Count > MaxFrameSamples {
		err := fmt.Errorf("data frame declares %d samples (max %d)", hdr.Count, MaxFrameSamples)
		s.teardown(err)
		return nil, err
	}
	count := int(hdr.Count)

	s.trackSequence(hdr.Sequence)

	payloadLen, ferr := s.params.Format.PayloadSize(count)
	if ferr != nil {
		// The negotiated format was validated at connect time, so this
		// cannot normally happen; drop defensively without a teardown.
		log.Printf("dropping data frame: %v", ferr)
		return nil, nil
	}

	if cap(s.raw) < payloadLen {
		s.raw = make([]byte, payloadLen)
	}
	raw := s.raw[:payloadLen]

	if err := s.readPayload(raw); err != nil {
		err = fmt.Errorf("data frame payload read: %w", err)
		s.teardown(err)
		return nil, err
	}

	if cap(s.floats) < count*2 {
		s.floats = make([]float32, count*2)
	}
	out := s.floats[:count*2]
	if err := DecodeSamples(s.params.Format, raw, count, out); err != nil {
		log.Printf("dropping data frame: %v", err)
		return nil, nil
	}

	s.framesOK++
	return out, nil
}

// readMetadataFrame consumes the trailing bytes of a Variant A metadata
// frame. The update is informational only: parameter changes are logged but
// no resynchronization is performed.
func (s *Session) readMetadataFrame(hdr FrameHeader) error {
	rest := make([]byte, MetadataFrameSize-FrameHeaderSize)
	if err := s.readPayload(rest); err != nil {
		err = fmt.Errorf("metadata frame read: %w", err)
		s.teardown(err)
		return err
	}
	meta, err := ParseMetadata(hdr, rest)
	if err != nil {
		log.Printf("dropping metadata frame: %v", err)
		return nil
	}
	s.metaFrames++
	log.Printf("metadata update: seq=%d center=%d Hz gain=%.1f dB lna=%v",
		meta.Sequence, meta.CenterFreq, float64(meta.GainReduction)/10, meta.LNAEnabled)
	return nil
}

// readPayload reads exactly len(buf) bytes under the connect-phase timeout.
// The frame header has already been consumed, so a short or failed read here
// is always a connection error for the caller.
func (s *Session) readPayload(buf []byte) error {
	if err := s.conn.SetReadDeadline(time.Now().Add(s.cfg.ConnectTimeout)); err != nil {
		return err
	}
	if _, err := io.ReadFull(s.conn, buf); err != nil {
		return err
	}
	s.bytesRead += uint64(len(buf))
	s.lastActivity = time.Now()
	return nil
}

// trackSequence records a data frame sequence number and reports gaps.
// Gaps are observational only; lost samples are simply absent from the
// display.
func (s *Session) trackSequence(seq uint32) {
	if s.haveSeq && seq != s.lastSeq+1 {
		lost := seq - s.lastSeq - 1
		s.gapEvents++
		s.framesLost += uint64(lost)
		log.Printf("warning: dropped %d frame(s) (seq %d -> %d)", lost, s.lastSeq, seq)
	}
	s.lastSeq = seq
	s.haveSeq = true
}

// Close tears down the transport without recording a failure time, so an
// immediate reconnect is allowed. Used on explicit disconnect and shutdown.
func (s *Session) Close() {
	if s.conn != nil {
		s.conn.Close()
		s.conn = nil
	}
	s.proto = nil
	s.state = Disconnected
}

func (s *Session) fail() {
	if s.conn != nil {
		s.conn.Close()
		s.conn = nil
	}
	s.proto = nil
	s.state = Disconnected
	s.lastFailure = time.Now()
}

func (s *Session) teardown(err error) {
	log.Printf("connection lost: %v", err)
	s.fail()
}
