package pipeline

import (
	"context"
	"math"
	"net"
	"strconv"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"phoenix-waterfall/internal/dsp"
	"phoenix-waterfall/internal/protocol"
	"phoenix-waterfall/internal/source"
)

// toneSamples synthesizes a display-rate complex tone.
func toneSamples(freqHz float64, n int) []complex64 {
	out := make([]complex64, n)
	for i := range out {
		phase := 2 * math.Pi * freqHz * float64(i) / dsp.DisplaySampleRate
		out[i] = complex(float32(math.Cos(phase)), float32(math.Sin(phase)))
	}
	return out
}

func startReplayServer(t *testing.T, samples []complex64) (string, int) {
	t.Helper()
	srv, err := source.Listen("127.0.0.1:0", source.Config{
		SampleRate:   dsp.DisplaySampleRate,
		ChunkSamples: 2048,
	})
	if err != nil {
		t.Fatalf("Listen failed: %v", err)
	}
	t.Cleanup(func() { srv.Close() })

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go srv.Serve(ctx, source.Replay(samples, dsp.DisplaySampleRate, false))

	host, portStr, _ := net.SplitHostPort(srv.Addr().String())
	port, _ := strconv.Atoi(portStr)
	return host, port
}

func testPipeline() *Pipeline {
	return New(Config{
		Width:  400,
		Height: 300,
		Session: protocol.SessionConfig{
			ConnectTimeout: 2 * time.Second,
			PollTimeout:    50 * time.Millisecond,
			RetryInterval:  50 * time.Millisecond,
		},
	})
}

// brightestColumn returns the column of the given row with the largest
// summed RGB value.
func brightestColumn(pixels []byte, width, row int) int {
	best, bestVal := 0, -1
	off := row * width * 3
	for x := 0; x < width; x++ {
		v := int(pixels[off+x*3]) + int(pixels[off+x*3+1]) + int(pixels[off+x*3+2])
		if v > bestVal {
			best, bestVal = x, v
		}
	}
	return best
}

func TestPipelineRendersToneRow(t *testing.T) {
	// Six analysis windows' worth of a 1000 Hz tone.
	host, port := startReplayServer(t, toneSamples(1000, 6*dsp.Overlap))

	p := testPipeline()
	p.SetMetrics(NewMetrics(prometheus.NewRegistry()))
	p.SetTarget(host, port)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	done := make(chan struct{})
	go func() {
		p.Run(ctx)
		close(done)
	}()

	// Wait for a rendered row to appear in the snapshot.
	var pixels []byte
	var width int
	deadline := time.Now().Add(8 * time.Second)
	for {
		var h int
		pixels, width, h, _ = p.Snapshot(pixels)
		if width > 0 && h > 0 && rowLit(pixels, width) {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("no rendered row before deadline")
		}
		time.Sleep(20 * time.Millisecond)
	}
	if _, rate := p.Status(); rate != dsp.DisplaySampleRate {
		t.Errorf("negotiated rate = %d, want %d", rate, dsp.DisplaySampleRate)
	}
	cancel()
	<-done

	// 1000 Hz maps to column (1000/10000 + 0.5) * 400 = 240.
	col := brightestColumn(pixels, width, 0)
	if col < 236 || col > 244 {
		t.Errorf("tone rendered at column %d, want near 240", col)
	}
}

func TestPipelineAcceptsRawTwoMHzStream(t *testing.T) {
	// 2,000,000 Hz is not an exact multiple of the display rate; the
	// decimation factor is floor(2000000/12000) = 166 and the resulting
	// 12048 Hz display rate is tolerated.
	srv, err := source.Listen("127.0.0.1:0", source.Config{
		VariantA:   true,
		SampleRate: 2000000,
	})
	if err != nil {
		t.Fatalf("Listen failed: %v", err)
	}
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	go srv.Serve(ctx, source.Tone(2000000, 1000, 0.8, false))

	host, portStr, _ := net.SplitHostPort(srv.Addr().String())
	port, _ := strconv.Atoi(portStr)

	p := testPipeline()
	p.SetTarget(host, port)

	done := make(chan struct{})
	go func() {
		p.Run(ctx)
		close(done)
	}()

	var pixels []byte
	var width int
	deadline := time.Now().Add(8 * time.Second)
	for {
		var h int
		pixels, width, h, _ = p.Snapshot(pixels)
		if width > 0 && h > 0 && rowLit(pixels, width) {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("2 MHz raw stream produced no rendered row before deadline")
		}
		time.Sleep(20 * time.Millisecond)
	}
	if connected, rate := p.Status(); !connected || rate != 2000000 {
		t.Errorf("status = (%v, %d), want connected at 2000000 Hz", connected, rate)
	}
	cancel()
	<-done

	// The 1000 Hz tone still lands near column 240; the 0.4% rate error
	// shifts it by under one column.
	col := brightestColumn(pixels, width, 0)
	if col < 236 || col > 244 {
		t.Errorf("tone rendered at column %d, want near 240", col)
	}
}

// rowLit reports whether row 0 contains any non-black pixel.
func rowLit(pixels []byte, width int) bool {
	for i := 0; i < width*3; i++ {
		if pixels[i] != 0 {
			return true
		}
	}
	return false
}

func TestPipelineSnapshotDimensions(t *testing.T) {
	p := testPipeline()
	pixels, w, h, connected := p.Snapshot(nil)
	if w != 400 || h != 300 {
		t.Errorf("snapshot = %dx%d, want 400x300", w, h)
	}
	if len(pixels) != 400*300*3 {
		t.Errorf("snapshot buffer = %d bytes, want %d", len(pixels), 400*300*3)
	}
	if connected {
		t.Error("fresh pipeline must not report connected")
	}
}

func TestPipelineGainOffset(t *testing.T) {
	p := testPipeline()
	if p.GainOffset() != 0 {
		t.Errorf("initial gain offset = %v, want 0", p.GainOffset())
	}
	p.SetGainOffset(12.5)
	if p.GainOffset() != 12.5 {
		t.Errorf("gain offset = %v, want 12.5", p.GainOffset())
	}
}

func TestPipelineResize(t *testing.T) {
	p := testPipeline()
	p.RequestResize(800, 480)
	p.applyResize()

	_, w, h, _ := p.Snapshot(nil)
	if w != 800 || h != 480 {
		t.Errorf("canvas = %dx%d after resize, want 800x480", w, h)
	}

	// Below-minimum requests clamp instead of failing.
	p.RequestResize(10, 10)
	p.applyResize()
	_, w, h, _ = p.Snapshot(nil)
	if w != 400 || h != 300 {
		t.Errorf("canvas = %dx%d after tiny resize, want clamped 400x300", w, h)
	}
}

func TestPipelineRejectsOffRateVariantB(t *testing.T) {
	// A display-rate stream at the wrong rate must be refused, not rendered
	// at the wrong scale.
	srv, err := source.Listen("127.0.0.1:0", source.Config{
		SampleRate:   8000,
		ChunkSamples: 64,
	})
	if err != nil {
		t.Fatalf("Listen failed: %v", err)
	}
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go srv.Serve(ctx, source.Replay(make([]complex64, 256), 8000, false))

	host, portStr, _ := net.SplitHostPort(srv.Addr().String())
	port, _ := strconv.Atoi(portStr)

	p := testPipeline()
	p.SetTarget(host, port)

	runCtx, runCancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
	defer runCancel()
	p.Run(runCtx)

	pixels, width, _, _ := p.Snapshot(nil)
	if rowLit(pixels, width) {
		t.Error("off-rate stream must not render rows")
	}
}
