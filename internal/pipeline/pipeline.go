// Package pipeline connects the stream session to the waterfall canvas: it
// owns the reconnect loop, sample decoding and decimation, spectral analysis,
// gain tracking and row rendering, and publishes rendered rows to optional
// sinks (recorder, websocket feed, metrics).
package pipeline

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"phoenix-waterfall/internal/dsp"
	"phoenix-waterfall/internal/protocol"
	"phoenix-waterfall/internal/recorder"
	"phoenix-waterfall/internal/waterfall"
)

// Target identifies a stream server to connect to.
type Target struct {
	Host string
	Port int
}

// Config carries the pipeline's construction parameters.
type Config struct {
	Width        int
	Height       int
	GainOffsetDB float64

	Session protocol.SessionConfig
}

// Pipeline drives the processing loop. All DSP state is touched only by Run's
// goroutine; the mutex guards the canvas, control inputs and the snapshot.
type Pipeline struct {
	session *protocol.Session
	engine  *dsp.SpectralEngine
	agc     *dsp.GainTracker
	dec     *dsp.IQDecimator

	feed *Feed
	met  *Metrics
	rec  *recorder.Writer

	// retarget carries at most one pending connection target; a newer
	// target replaces an unconsumed one.
	retarget chan Target

	mu         sync.Mutex
	canvas     *waterfall.Canvas
	gainOffset float64
	pendingW   int
	pendingH   int
	target     Target
	haveTarget bool
	connected  bool
	sampleRate uint32
	rowSample  []complex64 // decimated samples awaiting the recorder
}

// New builds a pipeline with a canvas of the configured size.
func New(cfg Config) *Pipeline {
	return &Pipeline{
		session:    protocol.NewSession(cfg.Session),
		engine:     dsp.NewSpectralEngine(dsp.FFTSize, dsp.DisplaySampleRate, dsp.ZoomMaxHz),
		agc:        dsp.NewGainTracker(),
		canvas:     waterfall.NewCanvas(cfg.Width, cfg.Height),
		gainOffset: cfg.GainOffsetDB,
		retarget:   make(chan Target, 1),
	}
}

// SetFeed attaches a websocket row feed. Must be called before Run.
func (p *Pipeline) SetFeed(f *Feed) { p.feed = f }

// SetMetrics attaches Prometheus collectors. Must be called before Run.
func (p *Pipeline) SetMetrics(m *Metrics) { p.met = m }

// SetRecorder attaches an I/Q capture writer that receives the display-rate
// samples. Must be called before Run; the pipeline closes it on exit.
func (p *Pipeline) SetRecorder(w *recorder.Writer) { p.rec = w }

// SetTarget queues a stream server for the loop to connect to, replacing any
// target not yet consumed. Safe to call from any goroutine, including
// discovery callbacks.
func (p *Pipeline) SetTarget(host string, port int) {
	t := Target{Host: host, Port: port}
	for {
		select {
		case p.retarget <- t:
			return
		default:
			// Evict the stale pending target and retry.
			select {
			case <-p.retarget:
			default:
			}
		}
	}
}

// SetGainOffset adjusts the manual display gain offset in dB.
func (p *Pipeline) SetGainOffset(db float64) {
	p.mu.Lock()
	p.gainOffset = db
	p.mu.Unlock()
}

// GainOffset returns the current manual display gain offset in dB.
func (p *Pipeline) GainOffset() float64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.gainOffset
}

// RequestResize asks the loop to resize the canvas before the next rendered
// row. Safe to call from any goroutine.
func (p *Pipeline) RequestResize(width, height int) {
	p.mu.Lock()
	p.pendingW = width
	p.pendingH = height
	p.mu.Unlock()
}

// Snapshot copies the current canvas into buf (grown as needed) and returns
// it with the canvas dimensions and the session state observed at the last
// loop iteration.
func (p *Pipeline) Snapshot(buf []byte) (pixels []byte, width, height int, connected bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	src := p.canvas.Pixels()
	if cap(buf) < len(src) {
		buf = make([]byte, len(src))
	}
	buf = buf[:len(src)]
	copy(buf, src)
	return buf, p.canvas.Width(), p.canvas.Height(), p.connected
}

// Run executes the processing loop until the context is cancelled. It never
// returns an error for transport failures; those feed the reconnect cycle.
func (p *Pipeline) Run(ctx context.Context) error {
	defer p.session.Close()
	defer func() {
		// ingest may have already shut the recorder down on a write error.
		if p.rec != nil {
			if err := p.rec.Close(); err != nil {
				log.Printf("close capture: %v", err)
			}
		}
	}()

	connects := 0
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case t := <-p.retarget:
			p.mu.Lock()
			p.target = t
			p.haveTarget = true
			p.mu.Unlock()
			// A new target supersedes the current stream.
			p.session.Close()
		default:
		}

		p.applyResize()

		if p.session.State() != protocol.Streaming {
			p.setConnected(false)
			if !p.tryConnect(&connects) {
				// Disconnected with nothing to do: idle briefly so the
				// loop does not spin.
				select {
				case <-ctx.Done():
					return ctx.Err()
				case <-time.After(100 * time.Millisecond):
				}
				continue
			}
		}
		p.setConnected(true)

		samples, err := p.session.Poll()
		if p.met != nil {
			p.met.sync(p.session)
		}
		if err != nil {
			// Poll already tore the session down; the next iteration
			// starts the retry cycle.
			continue
		}
		if samples == nil {
			continue
		}

		if err := p.ingest(samples); err != nil {
			// Decimator desync is an internal invariant violation; drop
			// the stream and resynchronize from a fresh connection.
			log.Printf("ingest: %v", err)
			p.session.Close()
			p.dec.Reset()
			p.engine.Reset()
		}
	}
}

// tryConnect attempts one gated connection to the current target and prepares
// the DSP chain for the negotiated stream. Returns true when streaming.
func (p *Pipeline) tryConnect(connects *int) bool {
	p.mu.Lock()
	target, ok := p.target, p.haveTarget
	p.mu.Unlock()
	if !ok || !p.session.CanRetry(time.Now()) {
		return false
	}

	if err := p.session.Connect(target.Host, target.Port); err != nil {
		log.Printf("connect failed: %v (retrying)", err)
		return false
	}

	if err := p.configureStream(); err != nil {
		log.Printf("stream rejected: %v", err)
		p.session.Close()
		return false
	}

	*connects++
	if p.met != nil && *connects > 1 {
		p.met.Reconnects.Inc()
	}
	return true
}

// configureStream sizes the decimator for the negotiated sample rate and
// clears DSP state so nothing leaks across connections. The gain tracker is
// deliberately left alone; its estimates remain useful across reconnects.
func (p *Pipeline) configureStream() error {
	params := p.session.Params()
	factor := 1
	if p.session.Protocol().NeedsDecimation() {
		// Floor division: a 2 MHz source decimates by 166 to 12048 Hz. The
		// resulting small display-rate error is tolerated rather than
		// rejecting rates that are not exact multiples.
		factor = int(params.SampleRate) / dsp.DisplaySampleRate
		if factor < 1 {
			factor = 1
		}
	} else if params.SampleRate != dsp.DisplaySampleRate {
		return fmt.Errorf("display-rate stream at %d Hz, expected %d Hz", params.SampleRate, dsp.DisplaySampleRate)
	}

	p.dec = dsp.NewIQDecimator(factor, float64(params.SampleRate))
	p.engine.Reset()

	p.mu.Lock()
	p.sampleRate = params.SampleRate
	p.mu.Unlock()
	return nil
}

// Status returns the connection state and the negotiated source sample rate
// of the current (or most recent) stream. Safe to call from any goroutine.
func (p *Pipeline) Status() (connected bool, sampleRate uint32) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.connected, p.sampleRate
}

// ingest runs one decoded frame of interleaved I/Q floats through decimation,
// the spectral engine, and row rendering.
func (p *Pipeline) ingest(samples []float32) error {
	for n := 0; n+1 < len(samples); n += 2 {
		i, q, ok, err := p.dec.Process(float64(samples[n]), float64(samples[n+1]))
		if err != nil {
			return err
		}
		if !ok {
			continue
		}
		p.engine.Ingest(float32(i), float32(q))
		if p.rec != nil {
			p.rowSample = append(p.rowSample, complex(float32(i), float32(q)))
		}

		if p.engine.ShouldAnalyze() {
			p.renderRow()
		}
	}

	if p.rec != nil && len(p.rowSample) > 0 {
		if err := p.rec.WriteSamples(p.rowSample); err != nil {
			log.Printf("capture write failed, recording stopped: %v", err)
			p.rec.Close()
			p.rec = nil
		}
		p.rowSample = p.rowSample[:0]
	}
	return nil
}

// renderRow produces one spectral frame and pushes it onto the canvas.
func (p *Pipeline) renderRow() {
	p.mu.Lock()
	width := p.canvas.Width()
	offset := p.gainOffset
	p.mu.Unlock()

	mags := p.engine.Analyze(width)
	peak, floor := p.agc.Update(mags)

	p.mu.Lock()
	p.canvas.PushMagnitudes(mags, peak, floor, offset)
	var row []byte
	if p.feed != nil {
		row = p.canvas.Pixels()[:p.canvas.RowStride()]
	}
	p.mu.Unlock()

	if p.met != nil {
		p.met.RowsRendered.Inc()
	}
	if p.feed != nil {
		p.feed.Publish(row)
	}
}

// applyResize resizes the canvas if a resize request is pending.
func (p *Pipeline) applyResize() {
	p.mu.Lock()
	if p.pendingW != 0 || p.pendingH != 0 {
		p.canvas.Resize(p.pendingW, p.pendingH)
		p.pendingW, p.pendingH = 0, 0
	}
	p.mu.Unlock()
}

func (p *Pipeline) setConnected(v bool) {
	p.mu.Lock()
	p.connected = v
	p.mu.Unlock()
}
