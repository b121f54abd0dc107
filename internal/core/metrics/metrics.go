// Package metrics keeps lock-free counters describing server activity.
//
// A nil *Collector is a valid no-op receiver so that components can be
// constructed without one.
package metrics

import (
	"encoding/json"
	"sync/atomic"
	"time"
)

// Collector tracks runtime counters for the server.
type Collector struct {
	startTime time.Time

	connectionsActive   atomic.Int64
	connectionsTotal    atomic.Int64
	connectionsRejected atomic.Int64

	framesIn  atomic.Int64
	framesOut atomic.Int64
	bytesIn   atomic.Int64
	bytesOut  atomic.Int64

	requestErrors atomic.Int64
	loginsOK      atomic.Int64
	loginsFailed  atomic.Int64
	handshakes    atomic.Int64
}

func New() *Collector {
	return &Collector{startTime: time.Now()}
}

// ConnectionOpened increments both the active and total counters.
func (c *Collector) ConnectionOpened() {
	if c == nil {
		return
	}
	c.connectionsActive.Add(1)
	c.connectionsTotal.Add(1)
}

func (c *Collector) ConnectionClosed() {
	if c == nil {
		return
	}
	c.connectionsActive.Add(-1)
}

// ConnectionRejected counts a connection closed at accept time.
func (c *Collector) ConnectionRejected() {
	if c == nil {
		return
	}
	c.connectionsRejected.Add(1)
}

func (c *Collector) ActiveConnections() int64 {
	if c == nil {
		return 0
	}
	return c.connectionsActive.Load()
}

// FrameReceived records one inbound frame of n bytes, header included.
func (c *Collector) FrameReceived(n int) {
	if c == nil {
		return
	}
	c.framesIn.Add(1)
	c.bytesIn.Add(int64(n))
}

// FrameSent records one outbound frame of n bytes, header included.
func (c *Collector) FrameSent(n int) {
	if c == nil {
		return
	}
	c.framesOut.Add(1)
	c.bytesOut.Add(int64(n))
}

// RequestError counts a frame that was rejected without closing the connection.
func (c *Collector) RequestError() {
	if c == nil {
		return
	}
	c.requestErrors.Add(1)
}

func (c *Collector) Login(ok bool) {
	if c == nil {
		return
	}
	if ok {
		c.loginsOK.Add(1)
	} else {
		c.loginsFailed.Add(1)
	}
}

func (c *Collector) HandshakeCompleted() {
	if c == nil {
		return
	}
	c.handshakes.Add(1)
}

// Snapshot is a point-in-time view of all counters.
type Snapshot struct {
	Uptime              string `json:"uptime"`
	ConnectionsActive   int64  `json:"connections_active"`
	ConnectionsTotal    int64  `json:"connections_total"`
	ConnectionsRejected int64  `json:"connections_rejected"`
	FramesIn            int64  `json:"frames_in"`
	FramesOut           int64  `json:"frames_out"`
	BytesIn             int64  `json:"bytes_in"`
	BytesOut            int64  `json:"bytes_out"`
	RequestErrors       int64  `json:"request_errors"`
	LoginsSucceeded     int64  `json:"logins_succeeded"`
	LoginsFailed        int64  `json:"logins_failed"`
	Handshakes          int64  `json:"handshakes"`
}

func (c *Collector) Snapshot() Snapshot {
	if c == nil {
		return Snapshot{}
	}
	return Snapshot{
		Uptime:              time.Since(c.startTime).Truncate(time.Second).String(),
		ConnectionsActive:   c.connectionsActive.Load(),
		ConnectionsTotal:    c.connectionsTotal.Load(),
		ConnectionsRejected: c.connectionsRejected.Load(),
		FramesIn:            c.framesIn.Load(),
		FramesOut:           c.framesOut.Load(),
		BytesIn:             c.bytesIn.Load(),
		BytesOut:            c.bytesOut.Load(),
		RequestErrors:       c.requestErrors.Load(),
		LoginsSucceeded:     c.loginsOK.Load(),
		LoginsFailed:        c.loginsFailed.Load(),
		Handshakes:          c.handshakes.Load(),
	}
}

// JSON returns the snapshot as indented JSON.
func (c *Collector) JSON() []byte {
	data, _ := json.MarshalIndent(c.Snapshot(), "", "  ")
	return data
}
