// Package discovery implements LAN peer discovery for stream sources and
// displays: periodic multicast announcements, a listener that maintains a
// registry of live services, and an asynchronous callback for arrivals and
// departures.
package discovery

import (
	"encoding/json"
	"fmt"
	"net"
	"sync"
	"time"
)

// Well-known service names.
const (
	ServiceSDRServer = "sdr-server"
	ServiceWaterfall = "waterfall"
)

const (
	// Port is the UDP multicast port shared by all peers.
	Port = 4535
	// group is the administratively scoped multicast group for announcements.
	group = "239.192.0.101"
	// announceInterval is how often a peer re-announces its presence.
	announceInterval = 2 * time.Second
	// staleAfter removes registry entries that stopped announcing.
	staleAfter = 3 * announceInterval
)

// announcement is the JSON datagram sent by every peer.
type announcement struct {
	ID       string `json:"id"`
	Service  string `json:"service"`
	DataPort int    `json:"data_port"`
	Bye      bool   `json:"bye,omitempty"`
}

// Endpoint is a discovered service location.
type Endpoint struct {
	ID      string
	Service string
	IP      string
	Port    int
}

// Callback is invoked asynchronously from the listener goroutine for every
// arrival and departure. Implementations must not block and must hand any
// state to the main loop through their own single-writer mechanism.
type Callback func(ep Endpoint, departed bool)

type registryEntry struct {
	ep   Endpoint
	seen time.Time
}

// Discovery announces this node and tracks announcements from peers.
type Discovery struct {
	nodeID   string
	service  string
	dataPort int

	recv     *net.UDPConn
	send     *net.UDPConn
	callback Callback

	mu       sync.Mutex
	registry map[string]registryEntry // keyed by service+id

	stop chan struct{}
	wg   sync.WaitGroup
}

// New joins the discovery group and starts the listener and announcer.
// dataPort is the port peers should connect to, or 0 for services that only
// consume (such as a display). Multicast group membership lets several peers
// share the port on one host, which plain port binding would not.
func New(nodeID, service string, dataPort int, cb Callback) (*Discovery, error) {
	gaddr := &net.UDPAddr{IP: net.ParseIP(group), Port: Port}

	recv, err := net.ListenMulticastUDP("udp4", nil, gaddr)
	if err != nil {
		return nil, fmt.Errorf("discovery join %s: %w", gaddr, err)
	}
	send, err := net.DialUDP("udp4", nil, gaddr)
	if err != nil {
		recv.Close()
		return nil, fmt.Errorf("discovery sender: %w", err)
	}

	d := &Discovery{
		nodeID:   nodeID,
		service:  service,
		dataPort: dataPort,
		recv:     recv,
		send:     send,
		callback: cb,
		registry: make(map[string]registryEntry),
		stop:     make(chan struct{}),
	}

	d.wg.Add(2)
	go d.listenLoop()
	go d.announceLoop()
	return d, nil
}

// FindExisting returns the most recently seen live endpoint for a service.
func (d *Discovery) FindExisting(service string) (Endpoint, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()

	var best Endpoint
	var bestSeen time.Time
	found := false
	now := time.Now()
	for _, e := range d.registry {
		if e.ep.Service != service || now.Sub(e.seen) > staleAfter {
			continue
		}
		if !found || e.seen.After(bestSeen) {
			best, bestSeen, found = e.ep, e.seen, true
		}
	}
	return best, found
}

// Stop announces a departure, closes the sockets and joins the goroutines.
func (d *Discovery) Stop() {
	close(d.stop)
	d.announce(announcement{ID: d.nodeID, Service: d.service, DataPort: d.dataPort, Bye: true})
	d.send.Close()
	d.recv.Close()
	d.wg.Wait()
}

func (d *Discovery) announceLoop() {
	defer d.wg.Done()

	msg := announcement{ID: d.nodeID, Service: d.service, DataPort: d.dataPort}
	d.announce(msg)

	ticker := time.NewTicker(announceInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			d.announce(msg)
		case <-d.stop:
			return
		}
	}
}

func (d *Discovery) announce(msg announcement) {
	payload, err := json.Marshal(msg)
	if err != nil {
		return
	}
	// Delivery is best effort; a lost announcement is repaired by the next
	// tick.
	d.send.Write(payload)
}

func (d *Discovery) listenLoop() {
	defer d.wg.Done()

	buf := make([]byte, 1024)
	for {
		n, src, err := d.recv.ReadFromUDP(buf)
		if err != nil {
			// Socket closed by Stop, or unrecoverable.
			return
		}

		var msg announcement
		if err := json.Unmarshal(buf[:n], &msg); err != nil || msg.Service == "" {
			continue
		}
		// Ignore our own announcements.
		if msg.ID == d.nodeID && msg.Service == d.service {
			continue
		}

		ep := Endpoint{ID: msg.ID, Service: msg.Service, IP: src.IP.String(), Port: msg.DataPort}
		key := msg.Service + "/" + msg.ID

		d.mu.Lock()
		_, known := d.registry[key]
		if msg.Bye {
			delete(d.registry, key)
		} else {
			d.registry[key] = registryEntry{ep: ep, seen: time.Now()}
		}
		d.mu.Unlock()

		if d.callback != nil {
			if msg.Bye {
				if known {
					d.callback(ep, true)
				}
			} else if !known {
				d.callback(ep, false)
			}
		}
	}
}
