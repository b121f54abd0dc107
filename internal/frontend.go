package internal

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"runtime/debug"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/dcrodman/gatehouse/internal/core"
	"github.com/dcrodman/gatehouse/internal/core/client"
	gatedebug "github.com/dcrodman/gatehouse/internal/core/debug"
	"github.com/dcrodman/gatehouse/internal/core/filter"
	"github.com/dcrodman/gatehouse/internal/core/frame"
	"github.com/dcrodman/gatehouse/internal/core/metrics"
	"github.com/dcrodman/gatehouse/internal/core/session"
	"github.com/dcrodman/gatehouse/internal/dispatch"
)

var errTooManyConnections = fmt.Errorf("%w: connection limit reached", filter.ErrAdmissionRejected)

// frontend implements the concurrent client connection logic.
//
// Frames are read from any connected clients and passed to the Dispatcher,
// abstracting the lower level connection details away from the handlers.
type frontend struct {
	Address    string
	Config     *core.Config
	Logger     *logrus.Logger
	Filter     *filter.Filter
	Sessions   *session.Store
	Dispatcher *dispatch.Dispatcher
	Metrics    *metrics.Collector

	// Frame dumps are written here when packet logging is enabled. Defaults to stdout.
	FrameLog io.Writer

	socket *net.TCPListener

	mu      sync.Mutex
	clients map[*client.Client]struct{}
}

// Start opens a TCP socket for the server. A blocking loop for accepting client
// connections is spun off in its own goroutine and added to the WaitGroup.
// Context cancellations will stop the server.
func (f *frontend) Start(ctx context.Context, wg *sync.WaitGroup) error {
	socket, err := f.createSocket()
	if err != nil {
		return fmt.Errorf("error creating socket on %s: %w", f.Address, err)
	}
	f.socket = socket
	f.clients = make(map[*client.Client]struct{})

	wg.Add(1)
	go f.startBlockingLoop(ctx, socket, wg)

	return nil
}

// Addr is the address the server is listening on. Only valid after Start.
func (f *frontend) Addr() net.Addr {
	return f.socket.Addr()
}

// createSocket opens a TCP socket to listen for client connections on the Address
// provided to the frontend.
func (f *frontend) createSocket() (*net.TCPListener, error) {
	hostAddr, err := net.ResolveTCPAddr("tcp", f.Address)
	if err != nil {
		return nil, fmt.Errorf("error resolving address: %w", err)
	}

	socket, err := net.ListenTCP("tcp", hostAddr)
	if err != nil {
		return nil, fmt.Errorf("error listening on socket: %w", err)
	}

	return socket, nil
}

// startBlockingLoop implements a connection handling loop that's purely responsible for
// accepting new connections and spinning off goroutines to handle them.
func (f *frontend) startBlockingLoop(ctx context.Context, socket *net.TCPListener, wg *sync.WaitGroup) {
	defer wg.Done()

	f.Logger.Infof("waiting for connections on %v", socket.Addr())

	connections := make(chan *net.TCPConn)
	go func() {
		for {
			connection, err := socket.AcceptTCP()
			if err != nil {
				if errors.Is(err, net.ErrClosed) {
					return
				}
				f.Logger.Warnf("failed to accept connection: %v", err)
				continue
			}

			select {
			case connections <- connection:
			case <-ctx.Done():
				_ = connection.Close()
				return
			}
		}
	}()

	clientWg := &sync.WaitGroup{}
handleLoop:
	for {
		select {
		case <-ctx.Done():
			break handleLoop
		case connection := <-connections:
			c := client.NewClient(connection)
			if err := f.admit(c); err != nil {
				f.Metrics.ConnectionRejected()
				f.Logger.WithField("client", c.IPAddr()).Warnf("rejected connection: %v", err)
				_ = c.Close()
				continue
			}

			clientWg.Add(1)
			go f.acceptClient(ctx, c, clientWg)
		}
	}

	f.Logger.Info("shutting down (waiting for connections to close)")
	if err := socket.Close(); err != nil {
		f.Logger.Warnf("error closing listener: %v", err)
	}
	// Handlers blocked in a read won't notice the cancellation on their own.
	f.closeAllClients()
	clientWg.Wait()
	f.Logger.Info("exited")
}

// admit applies the admission policy and starts tracking accepted clients.
func (f *frontend) admit(c *client.Client) error {
	if err := f.Filter.Admit(c.IPAddr()); err != nil {
		return err
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.Config.MaxConnections > 0 && len(f.clients) >= f.Config.MaxConnections {
		return errTooManyConnections
	}
	f.clients[c] = struct{}{}
	return nil
}

func (f *frontend) untrack(c *client.Client) {
	f.mu.Lock()
	delete(f.clients, c)
	f.mu.Unlock()
}

func (f *frontend) closeAllClients() {
	f.mu.Lock()
	defer f.mu.Unlock()
	for c := range f.clients {
		_ = c.Close()
	}
}

// acceptClient sets up the Client and moves into the frame processing loop.
func (f *frontend) acceptClient(ctx context.Context, c *client.Client, wg *sync.WaitGroup) {
	defer wg.Done()

	c.Debug = f.Config.Debugging.PacketLoggingEnabled
	c.OnSend = f.onSend

	f.Metrics.ConnectionOpened()
	f.Logger.WithField("client", c.IPAddr()).Info("accepted connection")

	f.processFrames(ctx, c)
}

func (f *frontend) onSend(c *client.Client, fr *frame.Frame) {
	f.Metrics.FrameSent(frame.HeaderSize + len(fr.Payload))
	if c.Debug {
		f.printFrame(c, fr, false)
	}
}

func (f *frontend) printFrame(c *client.Client, fr *frame.Frame, fromClient bool) {
	w := f.FrameLog
	if w == nil {
		w = os.Stdout
	}
	gatedebug.PrintFrame(gatedebug.PrintFrameParams{
		Writer:            w,
		Client:            c.IPAddr(),
		ClientFrame:       fromClient,
		Frame:             fr,
		TruncateThreshold: 256,
	})
}

// processFrames starts a blocking loop dedicated to reading frames sent from
// a client and only returns once the connection has closed or can no longer
// be served.
func (f *frontend) processFrames(ctx context.Context, c *client.Client) {
	defer f.closeConnectionAndRecover(ctx, c)

	reader := frame.NewReader(c, f.Config.Protocol.MaxPayloadSize)

	for {
		if ctx.Err() != nil {
			// Allow the deferred function to close the connection.
			return
		}

		if err := c.SetReadDeadline(f.Config.Protocol.ReadTimeout); err != nil {
			f.Logger.WithField("client", c.IPAddr()).Warnf("error setting read deadline: %v", err)
			return
		}

		if err := reader.Next(); err != nil {
			f.logReadError(c, err)
			return
		}

		// The session exists as soon as a frame starts arriving, so a
		// connection that drops mid-header is still created and removed once.
		sess := f.Sessions.Resolve(ctx, c)

		header, err := reader.ReadHeader()
		if err != nil {
			f.logReadError(c, err)
			return
		}

		fr, err := reader.ReadPayload(header)
		if err != nil {
			f.logReadError(c, err)
			return
		}
		f.Metrics.FrameReceived(frame.HeaderSize + len(fr.Payload))

		if c.Debug {
			f.printFrame(c, fr, true)
		}

		if err := f.Dispatcher.Dispatch(ctx, c, sess, fr); err != nil && !dispatch.IsRecoverable(err) {
			f.Logger.WithFields(logrus.Fields{
				"client":     c.IPAddr(),
				"session_id": sess.ID(),
			}).Warnf("error in client communication: %v", err)
			return
		}
	}
}

func (f *frontend) logReadError(c *client.Client, err error) {
	logger := f.Logger.WithField("client", c.IPAddr())

	var netErr net.Error
	switch {
	case errors.Is(err, io.EOF):
		logger.Debug("client closed connection")
	case errors.Is(err, net.ErrClosed):
		logger.Debug("connection closed by server")
	case errors.As(err, &netErr) && netErr.Timeout():
		logger.Info("closing idle connection")
	default:
		logger.Warnf("error reading from client: %v", err)
	}
}

// closeConnectionAndRecover is the failsafe that catches any panics, disconnects the
// client, and removes its session regardless of the state of the connection.
func (f *frontend) closeConnectionAndRecover(ctx context.Context, c *client.Client) {
	if err := recover(); err != nil {
		f.Logger.Errorf("error in client communication with %s: error=%v, trace: %s",
			c.IPAddr(), err, debug.Stack())
	}

	// Removal must complete even if ctx is already cancelled.
	f.Sessions.Remove(context.WithoutCancel(ctx), c)

	if err := c.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
		f.Logger.Warnf("failed to close client connection: %v", err)
	}

	f.untrack(c)
	f.Metrics.ConnectionClosed()

	f.Logger.WithField("client", c.IPAddr()).Info("disconnected client")
}
