package pipeline

import (
	"github.com/prometheus/client_golang/prometheus"

	"phoenix-waterfall/internal/protocol"
)

// Metrics exposes pipeline and session health as Prometheus collectors. The
// session keeps plain monotonic tallies (it is single-owner and hot), so the
// pipeline syncs deltas into the counters once per poll.
type Metrics struct {
	FramesReceived prometheus.Counter
	FramesLost     prometheus.Counter
	GapEvents      prometheus.Counter
	BytesRead      prometheus.Counter
	Reconnects     prometheus.Counter
	RowsRendered   prometheus.Counter
	SessionState   prometheus.Gauge

	lastFrames uint64
	lastLost   uint64
	lastGaps   uint64
	lastBytes  uint64
}

// NewMetrics builds the collectors and registers them with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		FramesReceived: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "waterfall_frames_received_total",
			Help: "Data frames fully received and decoded.",
		}),
		FramesLost: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "waterfall_frames_lost_total",
			Help: "Frames missing across all sequence gaps.",
		}),
		GapEvents: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "waterfall_gap_events_total",
			Help: "Sequence discontinuities observed.",
		}),
		BytesRead: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "waterfall_stream_bytes_total",
			Help: "Stream bytes consumed, headers included.",
		}),
		Reconnects: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "waterfall_reconnects_total",
			Help: "Successful stream connections after the first.",
		}),
		RowsRendered: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "waterfall_rows_rendered_total",
			Help: "Spectral rows pushed to the canvas.",
		}),
		SessionState: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "waterfall_session_state",
			Help: "Session state: 0 disconnected, 1 connecting, 2 awaiting header, 3 streaming.",
		}),
	}
	if reg != nil {
		reg.MustRegister(m.FramesReceived, m.FramesLost, m.GapEvents,
			m.BytesRead, m.Reconnects, m.RowsRendered, m.SessionState)
	}
	return m
}

// sync folds the session's tallies into the counters as deltas. Tallies only
// grow, so the subtraction is safe across reconnects.
func (m *Metrics) sync(s *protocol.Session) {
	if m == nil {
		return
	}
	if v := s.FramesReceived(); v > m.lastFrames {
		m.FramesReceived.Add(float64(v - m.lastFrames))
		m.lastFrames = v
	}
	if v := s.FramesLost(); v > m.lastLost {
		m.FramesLost.Add(float64(v - m.lastLost))
		m.lastLost = v
	}
	if v := s.GapEvents(); v > m.lastGaps {
		m.GapEvents.Add(float64(v - m.lastGaps))
		m.lastGaps = v
	}
	if v := s.BytesRead(); v > m.lastBytes {
		m.BytesRead.Add(float64(v - m.lastBytes))
		m.lastBytes = v
	}
	m.SessionState.Set(float64(s.State()))
}
