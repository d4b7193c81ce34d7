// Package source implements the serving side of the stream protocols: a TCP
// server that sends a stream header to each client and then paces I/Q data
// frames at it. It backs the waterfall-source and waterfall-replay tools and
// the pipeline's end-to-end tests.
package source

import (
	"context"
	"errors"
	"fmt"
	"log"
	"math"
	"net"
	"time"

	"phoenix-waterfall/internal/protocol"
)

// Config describes the stream a Server offers.
type Config struct {
	// VariantA selects the raw PHXI protocol; false serves display-rate
	// PHXD with float32 payloads.
	VariantA bool

	SampleRate    uint32
	Format        protocol.SampleFormat // Variant A payload encoding
	CenterFreq    uint64
	GainReduction int32 // tenths of dB
	LNAEnabled    bool

	// ChunkSamples is the number of I/Q pairs per data frame.
	ChunkSamples int

	// MetadataEvery sends a META frame after every N data frames on
	// Variant A streams. Zero disables metadata frames.
	MetadataEvery int

	// DropEvery skips transmission of every Nth data frame while still
	// advancing the sequence number, simulating loss. Zero disables.
	DropEvery int
}

func (c Config) withDefaults() Config {
	if c.ChunkSamples <= 0 {
		c.ChunkSamples = 2048
	}
	if c.Format == 0 {
		c.Format = protocol.FormatF32
	}
	if !c.VariantA {
		c.Format = protocol.FormatF32
	}
	return c
}

// StreamFunc produces I/Q sample chunks and hands them to emit until the
// context is cancelled or emit fails. rtlsdr.Device.Stream satisfies this.
type StreamFunc func(ctx context.Context, chunkSamples int, emit func([]complex64) error) error

// Server streams I/Q to one client at a time over TCP.
type Server struct {
	cfg Config
	ln  net.Listener
}

// Listen binds the server. addr uses net.Listen syntax, e.g. ":4536".
func Listen(addr string, cfg Config) (*Server, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("source listen %s: %w", addr, err)
	}
	return &Server{cfg: cfg.withDefaults(), ln: ln}, nil
}

// Addr returns the bound listen address.
func (s *Server) Addr() net.Addr { return s.ln.Addr() }

// Close stops the listener; an in-progress Serve returns shortly after.
func (s *Server) Close() error { return s.ln.Close() }

// Serve accepts clients sequentially and streams to each until it drops or
// the context is cancelled. This is a single-session display protocol, so
// there is deliberately no fan-out.
func (s *Server) Serve(ctx context.Context, stream StreamFunc) error {
	for {
		conn, err := s.ln.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				return ctx.Err()
			default:
			}
			return fmt.Errorf("source accept: %w", err)
		}

		log.Printf("client connected: %s", conn.RemoteAddr())
		if err := s.serveClient(ctx, conn, stream); err != nil && !errors.Is(err, context.Canceled) {
			log.Printf("client %s: %v", conn.RemoteAddr(), err)
		}
		conn.Close()

		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
	}
}

func (s *Server) serveClient(ctx context.Context, conn net.Conn, stream StreamFunc) error {
	var header []byte
	if s.cfg.VariantA {
		header = protocol.EncodeHeaderA(protocol.StreamParams{
			SampleRate:    s.cfg.SampleRate,
			Format:        s.cfg.Format,
			CenterFreq:    s.cfg.CenterFreq,
			GainReduction: s.cfg.GainReduction,
			LNAEnabled:    s.cfg.LNAEnabled,
		})
	} else {
		header = protocol.EncodeHeaderB(s.cfg.SampleRate)
	}
	if _, err := conn.Write(header); err != nil {
		return fmt.Errorf("write stream header: %w", err)
	}

	w := &frameWriter{cfg: s.cfg, conn: conn}
	return stream(ctx, s.cfg.ChunkSamples, w.emit)
}

// frameWriter packs sample chunks into data frames, interleaving metadata
// frames and simulated drops per the config.
type frameWriter struct {
	cfg       Config
	conn      net.Conn
	seq       uint32
	sinceMeta int

	floats []float32
	buf    []byte
}

func (w *frameWriter) emit(samples []complex64) error {
	count := len(samples)
	if count == 0 {
		return nil
	}

	if cap(w.floats) < count*2 {
		w.floats = make([]float32, count*2)
	}
	floats := w.floats[:count*2]
	for i, s := range samples {
		floats[i*2] = real(s)
		floats[i*2+1] = imag(s)
	}

	payloadLen, err := w.cfg.Format.PayloadSize(count)
	if err != nil {
		return err
	}
	need := protocol.FrameHeaderSize + payloadLen
	if cap(w.buf) < need {
		w.buf = make([]byte, 0, need)
	}

	w.seq++
	buf := protocol.AppendFrameHeader(w.buf[:0], protocol.FrameHeader{
		Magic:    protocol.MagicIQDQ,
		Sequence: w.seq,
		Count:    uint32(count),
	})
	buf = buf[:need]
	if err := protocol.EncodeSamples(w.cfg.Format, floats, count, buf[protocol.FrameHeaderSize:]); err != nil {
		return err
	}

	if w.cfg.DropEvery > 0 && w.seq%uint32(w.cfg.DropEvery) == 0 {
		return nil // simulated loss: sequence advanced, frame withheld
	}

	if _, err := w.conn.Write(buf); err != nil {
		return fmt.Errorf("write data frame: %w", err)
	}

	if w.cfg.VariantA && w.cfg.MetadataEvery > 0 {
		w.sinceMeta++
		if w.sinceMeta >= w.cfg.MetadataEvery {
			w.sinceMeta = 0
			meta := protocol.EncodeMetadata(protocol.MetadataUpdate{
				Sequence:      w.seq,
				CenterFreq:    w.cfg.CenterFreq,
				GainReduction: w.cfg.GainReduction,
				LNAEnabled:    w.cfg.LNAEnabled,
			})
			if _, err := w.conn.Write(meta); err != nil {
				return fmt.Errorf("write metadata frame: %w", err)
			}
		}
	}
	return nil
}

// Tone returns a StreamFunc that synthesizes a complex tone at freqHz with
// the given amplitude. When paced, chunks are emitted in real time for the
// sample rate; unpaced emission is used by tests.
func Tone(sampleRate uint32, freqHz, amplitude float64, paced bool) StreamFunc {
	return func(ctx context.Context, chunkSamples int, emit func([]complex64) error) error {
		out := make([]complex64, chunkSamples)
		step := 2 * math.Pi * freqHz / float64(sampleRate)
		var phase float64

		var ticker *time.Ticker
		if paced {
			period := time.Duration(float64(chunkSamples) / float64(sampleRate) * float64(time.Second))
			ticker = time.NewTicker(period)
			defer ticker.Stop()
		}

		for {
			if ticker != nil {
				select {
				case <-ctx.Done():
					return ctx.Err()
				case <-ticker.C:
				}
			} else {
				select {
				case <-ctx.Done():
					return ctx.Err()
				default:
				}
			}

			for i := range out {
				out[i] = complex(float32(amplitude*math.Cos(phase)), float32(amplitude*math.Sin(phase)))
				phase += step
				if phase > 2*math.Pi {
					phase -= 2 * math.Pi
				}
			}
			if err := emit(out); err != nil {
				return err
			}
		}
	}
}

// Replay returns a StreamFunc that emits recorded samples, paced for the
// sample rate, and stops at the end of the recording.
func Replay(samples []complex64, sampleRate uint32, paced bool) StreamFunc {
	return func(ctx context.Context, chunkSamples int, emit func([]complex64) error) error {
		var ticker *time.Ticker
		if paced {
			period := time.Duration(float64(chunkSamples) / float64(sampleRate) * float64(time.Second))
			ticker = time.NewTicker(period)
			defer ticker.Stop()
		}

		for off := 0; off < len(samples); off += chunkSamples {
			if ticker != nil {
				select {
				case <-ctx.Done():
					return ctx.Err()
				case <-ticker.C:
				}
			} else {
				select {
				case <-ctx.Done():
					return ctx.Err()
				default:
				}
			}

			end := off + chunkSamples
			if end > len(samples) {
				end = len(samples)
			}
			if err := emit(samples[off:end]); err != nil {
				return err
			}
		}
		return nil
	}
}
