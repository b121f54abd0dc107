// Package dispatch routes decoded frames to the handler registered for
// their kind and turns handler failures into error replies.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/sirupsen/logrus"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/dcrodman/gatehouse/internal/core/frame"
	"github.com/dcrodman/gatehouse/internal/core/metrics"
	"github.com/dcrodman/gatehouse/internal/core/session"
)

var (
	ErrUnknownKind          = errors.New("unknown packet kind")
	ErrMalformedRequest     = errors.New("malformed request")
	ErrAuthenticationFailed = errors.New("authentication failed")
	ErrAlreadyLoggedIn      = errors.New("session is already logged in")
	ErrUnauthorized         = errors.New("login required")
	ErrHandshakeFailed      = errors.New("handshake failed")
	ErrHandshakeRepeated    = fmt.Errorf("%w: handshake already completed", ErrHandshakeFailed)
	ErrModuleNotFound       = errors.New("module not found")
)

// Status is the first byte of every reply payload.
type Status byte

const (
	StatusOK Status = iota
	StatusAuthenticationFailed
	StatusAccountBanned
	StatusUnauthorized
	StatusHandshakeFailed
	StatusUnknownKind
	StatusMalformedRequest
	StatusNotFound
	StatusInternalError
)

var statusNames = [...]string{
	"OK",
	"AuthenticationFailed",
	"AccountBanned",
	"Unauthorized",
	"HandshakeFailed",
	"UnknownKind",
	"MalformedRequest",
	"NotFound",
	"InternalError",
}

func (s Status) String() string {
	if int(s) < len(statusNames) {
		return statusNames[s]
	}
	return fmt.Sprintf("Status(%d)", byte(s))
}

// RequestError is a failure scoped to a single frame. The connection stays
// open and the client is sent a reply carrying Status.
type RequestError struct {
	Kind   frame.Kind
	Status Status
	Err    error
	// Detail is appended verbatim to the reply text, e.g. a module name.
	Detail string
}

func (e *RequestError) Error() string {
	return fmt.Sprintf("%v request rejected (%v): %v", e.Kind, e.Status, e.Err)
}

func (e *RequestError) Unwrap() error { return e.Err }

// IsRecoverable reports whether err only affected one request, meaning the
// connection can keep being served.
func IsRecoverable(err error) bool {
	var reqErr *RequestError
	return errors.As(err, &reqErr)
}

// Conn is the connection a frame arrived on.
type Conn interface {
	IPAddr() string
	Send(kind frame.Kind, payload []byte) error
}

// HandlerFunc processes the payload of one frame. Returning a *RequestError
// rejects the request; any other error is fatal to the connection.
type HandlerFunc func(ctx context.Context, c Conn, sess *session.Session, payload []byte) error

// replyKinds maps request kinds to the kind of their reply.
var replyKinds = map[frame.Kind]frame.Kind{
	frame.KindHandshake:    frame.KindHandshakeReply,
	frame.KindLoginRequest: frame.KindLoginReply,
	frame.KindFetchModule:  frame.KindModuleReply,
}

// ReplyKind returns the kind used to answer a request of the given kind.
func ReplyKind(kind frame.Kind) frame.Kind {
	if k, ok := replyKinds[kind]; ok {
		return k
	}
	return frame.KindErrorReply
}

// Reply builds a reply payload: the status byte followed by body.
func Reply(status Status, body []byte) []byte {
	payload := make([]byte, 1+len(body))
	payload[0] = byte(status)
	copy(payload[1:], body)
	return payload
}

// Dispatcher holds the handler table. Handlers must be registered before
// the first call to Dispatch.
type Dispatcher struct {
	Logger  *logrus.Logger
	Metrics *metrics.Collector

	handlers map[frame.Kind]HandlerFunc
}

func New(logger *logrus.Logger, m *metrics.Collector) *Dispatcher {
	return &Dispatcher{
		Logger:   logger,
		Metrics:  m,
		handlers: make(map[frame.Kind]HandlerFunc),
	}
}

// Register installs h as the handler for kind, replacing any existing one.
func (d *Dispatcher) Register(kind frame.Kind, h HandlerFunc) {
	d.handlers[kind] = h
}

// Kinds returns the registered kinds in ascending order.
func (d *Dispatcher) Kinds() []frame.Kind {
	kinds := make([]frame.Kind, 0, len(d.handlers))
	for k := range d.handlers {
		kinds = append(kinds, k)
	}
	sort.Slice(kinds, func(i, j int) bool { return kinds[i] < kinds[j] })
	return kinds
}

// Dispatch runs the handler for f.Kind. A rejected request is answered with
// an error reply and returned as a *RequestError; the caller should keep
// serving the connection. Any other returned error means the connection
// must be closed.
func (d *Dispatcher) Dispatch(ctx context.Context, c Conn, sess *session.Session, f *frame.Frame) error {
	var err error
	if h, ok := d.handlers[f.Kind]; ok {
		err = h(ctx, c, sess, f.Payload)
	} else {
		err = &RequestError{
			Kind:   f.Kind,
			Status: StatusUnknownKind,
			Err:    ErrUnknownKind,
			Detail: fmt.Sprintf("%d", uint32(f.Kind)),
		}
	}

	var reqErr *RequestError
	if !errors.As(err, &reqErr) {
		return err
	}

	d.Metrics.RequestError()
	d.Logger.WithFields(logrus.Fields{
		"session_id": sess.ID(),
		"client":     c.IPAddr(),
		"kind":       f.Kind,
	}).Warn(reqErr.Error())

	if sendErr := c.Send(ReplyKind(f.Kind), Reply(reqErr.Status, []byte(userMessage(reqErr)))); sendErr != nil {
		return fmt.Errorf("error sending %v reply: %w", reqErr.Status, sendErr)
	}
	return reqErr
}

// replyErrors are the errors whose text may be shown to a client, most
// specific first.
var replyErrors = []error{
	ErrHandshakeRepeated,
	ErrAlreadyLoggedIn,
	ErrUnknownKind,
	ErrMalformedRequest,
	ErrAuthenticationFailed,
	ErrUnauthorized,
	ErrHandshakeFailed,
	ErrModuleNotFound,
}

// userMessage is the text sent back to the client alongside an error
// status. Internal causes are never exposed, and only the server's own
// wording is title cased.
func userMessage(e *RequestError) string {
	if e.Status == StatusInternalError {
		return cases.Title(language.English).String("an unexpected error occurred")
	}

	msg := e.Status.String()
	for _, target := range replyErrors {
		if errors.Is(e.Err, target) {
			msg = cases.Title(language.English).String(target.Error())
			break
		}
	}
	if e.Detail != "" {
		msg += ": " + e.Detail
	}
	return msg
}
