package pipeline

import (
	"context"
	"errors"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// feedClientBuffer is how many rows a slow websocket client may fall behind
// before it is dropped.
const feedClientBuffer = 16

// Feed serves rendered waterfall rows over a websocket at /feed and the
// Prometheus registry at /metrics. Each websocket message is one binary RGB
// row, newest first, so a remote viewer can rebuild the scroll locally.
type Feed struct {
	srv      *http.Server
	upgrader websocket.Upgrader

	mu      sync.Mutex
	clients map[*feedClient]struct{}
}

type feedClient struct {
	conn *websocket.Conn
	rows chan []byte
}

// NewFeed builds the feed server for the given listen address and metrics
// registry.
func NewFeed(listen string, reg *prometheus.Registry) *Feed {
	f := &Feed{
		clients: make(map[*feedClient]struct{}),
		upgrader: websocket.Upgrader{
			// The feed is LAN-local and read-only.
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/feed", f.handleFeed)
	if reg != nil {
		mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	}
	f.srv = &http.Server{Addr: listen, Handler: mux}
	return f
}

// Start runs the HTTP server until Close.
func (f *Feed) Start() {
	go func() {
		if err := f.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Printf("feed server: %v", err)
		}
	}()
}

// Close shuts the server down and disconnects all clients.
func (f *Feed) Close() {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	f.srv.Shutdown(ctx)

	f.mu.Lock()
	for c := range f.clients {
		close(c.rows)
		delete(f.clients, c)
	}
	f.mu.Unlock()
}

// Publish hands one rendered row to every connected client. The row is copied
// once; clients that cannot keep up are dropped rather than stalling the
// pipeline.
func (f *Feed) Publish(row []byte) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.clients) == 0 {
		return
	}

	buf := make([]byte, len(row))
	copy(buf, row)
	for c := range f.clients {
		select {
		case c.rows <- buf:
		default:
			close(c.rows)
			delete(f.clients, c)
		}
	}
}

func (f *Feed) handleFeed(w http.ResponseWriter, r *http.Request) {
	conn, err := f.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("feed upgrade: %v", err)
		return
	}

	c := &feedClient{conn: conn, rows: make(chan []byte, feedClientBuffer)}
	f.mu.Lock()
	f.clients[c] = struct{}{}
	f.mu.Unlock()
	log.Printf("feed client connected: %s", conn.RemoteAddr())

	// Drain and discard client messages so pings are answered.
	go func() {
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				f.drop(c)
				return
			}
		}
	}()

	for row := range c.rows {
		if err := conn.WriteMessage(websocket.BinaryMessage, row); err != nil {
			f.drop(c)
			break
		}
	}
	conn.Close()
}

func (f *Feed) drop(c *feedClient) {
	f.mu.Lock()
	if _, ok := f.clients[c]; ok {
		close(c.rows)
		delete(f.clients, c)
	}
	f.mu.Unlock()
}
