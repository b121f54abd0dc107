package client

import (
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/dcrodman/gatehouse/internal/core/frame"
)

// Client represents one connected peer. The Client pointer doubles as the
// handle sessions are keyed by, so it lives exactly as long as the connection.
type Client struct {
	connection net.Conn
	ipAddr     string
	port       string

	writeMu   sync.Mutex
	closeOnce sync.Once
	closeErr  error

	// Debug marks the client's traffic for frame dumps.
	Debug bool
	// OnSend, if set, is invoked with every frame before it is written.
	OnSend func(c *Client, f *frame.Frame)
}

func NewClient(connection net.Conn) *Client {
	c := &Client{connection: connection}

	host, port, err := net.SplitHostPort(connection.RemoteAddr().String())
	if err != nil {
		// Not a host:port pair (e.g. a pipe); use the address as-is.
		host = connection.RemoteAddr().String()
	}
	c.ipAddr, c.port = host, port

	return c
}

func (c *Client) IPAddr() string { return c.ipAddr }
func (c *Client) Port() string   { return c.port }

// Read consumes the available bytes directly from the client's connection.
func (c *Client) Read(b []byte) (int, error) {
	return c.connection.Read(b)
}

// Write directly sends data to the client over its connection.
func (c *Client) Write(b []byte) (int, error) {
	return c.connection.Write(b)
}

// SetReadDeadline bounds how long the next Read may block. A zero duration
// clears the deadline.
func (c *Client) SetReadDeadline(d time.Duration) error {
	if d <= 0 {
		return c.connection.SetReadDeadline(time.Time{})
	}
	return c.connection.SetReadDeadline(time.Now().Add(d))
}

// Close the connection. Safe to call more than once; later calls return the
// result of the first.
func (c *Client) Close() error {
	c.closeOnce.Do(func() {
		c.closeErr = c.connection.Close()
	})
	return c.closeErr
}

// Send frames payload with the given kind and writes it to the client.
// Concurrent calls are serialized so frames never interleave on the wire.
func (c *Client) Send(kind frame.Kind, payload []byte) error {
	f := &frame.Frame{Kind: kind, Payload: payload}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if c.OnSend != nil {
		c.OnSend(c, f)
	}
	return c.transmit(f.Bytes())
}

// transmit writes the contents of data to the connection until every byte
// has been sent.
func (c *Client) transmit(data []byte) error {
	bytesSent := 0

	for bytesSent < len(data) {
		n, err := c.Write(data[bytesSent:])
		if err != nil {
			return fmt.Errorf("failed to send to client %v: %w", c.IPAddr(), err)
		}
		bytesSent += n
	}

	return nil
}
