package dispatch

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/sirupsen/logrus"
	logtest "github.com/sirupsen/logrus/hooks/test"

	"github.com/dcrodman/gatehouse/internal/core/frame"
	"github.com/dcrodman/gatehouse/internal/core/metrics"
	"github.com/dcrodman/gatehouse/internal/core/session"
)

// fakeConn records every frame sent to it.
type fakeConn struct {
	addr    string
	sendErr error

	mu   sync.Mutex
	sent []*frame.Frame
}

func (c *fakeConn) IPAddr() string { return c.addr }

func (c *fakeConn) Send(kind frame.Kind, payload []byte) error {
	if c.sendErr != nil {
		return c.sendErr
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sent = append(c.sent, &frame.Frame{Kind: kind, Payload: append([]byte(nil), payload...)})
	return nil
}

func (c *fakeConn) last(t *testing.T) *frame.Frame {
	t.Helper()
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.sent) == 0 {
		t.Fatal("expected a frame to have been sent")
	}
	return c.sent[len(c.sent)-1]
}

func newTestSession(t *testing.T) (*session.Store, *session.Session, *fakeConn) {
	t.Helper()
	logger, _ := logtest.NewNullLogger()
	store := session.NewStore(nil, logger, 1)
	conn := &fakeConn{addr: "10.0.0.1"}
	return store, store.Resolve(context.Background(), conn), conn
}

func newTestDispatcher() (*Dispatcher, *logtest.Hook) {
	logger, hook := logtest.NewNullLogger()
	return New(logger, metrics.New()), hook
}

func TestDispatcher_UnknownKind(t *testing.T) {
	d, hook := newTestDispatcher()
	_, sess, conn := newTestSession(t)

	err := d.Dispatch(context.Background(), conn, sess, &frame.Frame{Kind: 0x42, Payload: []byte("?")})
	if !errors.Is(err, ErrUnknownKind) {
		t.Fatalf("expected ErrUnknownKind, got %v", err)
	}
	if !IsRecoverable(err) {
		t.Error("expected an unknown kind to be recoverable")
	}

	reply := conn.last(t)
	if reply.Kind != frame.KindErrorReply {
		t.Errorf("expected an ErrorReply, got %v", reply.Kind)
	}
	if Status(reply.Payload[0]) != StatusUnknownKind {
		t.Errorf("expected status %v, got %v", StatusUnknownKind, Status(reply.Payload[0]))
	}
	if hook.LastEntry() == nil || hook.LastEntry().Level != logrus.WarnLevel {
		t.Error("expected the unknown kind to be logged as a warning")
	}
	if d.Metrics.Snapshot().RequestErrors != 1 {
		t.Error("expected the rejected request to be counted")
	}
}

func TestDispatcher_RoutesByKind(t *testing.T) {
	d, _ := newTestDispatcher()
	_, sess, conn := newTestSession(t)

	var got []frame.Kind
	for _, k := range []frame.Kind{frame.KindHandshake, frame.KindLoginRequest, frame.KindFetchModule} {
		k := k
		d.Register(k, func(_ context.Context, _ Conn, _ *session.Session, _ []byte) error {
			got = append(got, k)
			return nil
		})
	}

	for _, k := range []frame.Kind{frame.KindFetchModule, frame.KindHandshake, frame.KindLoginRequest} {
		if err := d.Dispatch(context.Background(), conn, sess, &frame.Frame{Kind: k}); err != nil {
			t.Fatalf("Dispatch(%v) returned an unexpected error: %v", k, err)
		}
	}

	want := []frame.Kind{frame.KindFetchModule, frame.KindHandshake, frame.KindLoginRequest}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("handlers invoked in the wrong order; diff:\n%s", diff)
	}
	if diff := cmp.Diff([]frame.Kind{frame.KindHandshake, frame.KindLoginRequest, frame.KindFetchModule}, d.Kinds()); diff != "" {
		t.Errorf("Kinds() mismatch; diff:\n%s", diff)
	}
}

func TestDispatcher_FatalErrors(t *testing.T) {
	d, _ := newTestDispatcher()
	_, sess, conn := newTestSession(t)

	fatal := errors.New("write: broken pipe")
	d.Register(frame.KindHandshake, func(context.Context, Conn, *session.Session, []byte) error { return fatal })

	err := d.Dispatch(context.Background(), conn, sess, &frame.Frame{Kind: frame.KindHandshake})
	if !errors.Is(err, fatal) || IsRecoverable(err) {
		t.Errorf("expected the handler's fatal error to be returned as-is, got %v", err)
	}

	// A rejected request whose error reply can't be written is fatal too.
	conn.sendErr = errors.New("connection reset")
	err = d.Dispatch(context.Background(), conn, sess, &frame.Frame{Kind: 0x99})
	if err == nil || IsRecoverable(err) {
		t.Errorf("expected a fatal error when the reply can't be sent, got %v", err)
	}
}

func TestDispatcher_UnknownKindReplyText(t *testing.T) {
	d, _ := newTestDispatcher()
	_, sess, conn := newTestSession(t)

	_ = d.Dispatch(context.Background(), conn, sess, &frame.Frame{Kind: 0x42})
	if got, want := string(conn.last(t).Payload[1:]), "Unknown Packet Kind: 66"; got != want {
		t.Errorf("reply text = %q, want %q", got, want)
	}
}

func TestReplyKind(t *testing.T) {
	tests := map[frame.Kind]frame.Kind{
		frame.KindHandshake:    frame.KindHandshakeReply,
		frame.KindLoginRequest: frame.KindLoginReply,
		frame.KindFetchModule:  frame.KindModuleReply,
		frame.Kind(0x10):       frame.KindErrorReply,
	}
	for in, want := range tests {
		if got := ReplyKind(in); got != want {
			t.Errorf("ReplyKind(%v) = %v, want %v", in, got, want)
		}
	}
}

func TestUserMessage(t *testing.T) {
	tests := map[string]struct {
		err  *RequestError
		want string
	}{
		"internal_errors_are_hidden": {
			err:  &RequestError{Status: StatusInternalError, Err: errors.New("pq: connection refused")},
			want: "An Unexpected Error Occurred",
		},
		"unknown_kind": {
			err:  &RequestError{Kind: 0x2A, Status: StatusUnknownKind, Err: ErrUnknownKind, Detail: "42"},
			want: "Unknown Packet Kind: 42",
		},
		"module_name_keeps_case": {
			err: &RequestError{
				Status: StatusNotFound,
				Err:    fmt.Errorf("%w: %s", ErrModuleNotFound, "myModule_v2"),
				Detail: "myModule_v2",
			},
			want: "Module Not Found: myModule_v2",
		},
		"login_hint_keeps_case": {
			err: &RequestError{
				Status: StatusMalformedRequest,
				Err:    fmt.Errorf("%w: expected username:password", ErrMalformedRequest),
				Detail: "expected username:password",
			},
			want: "Malformed Request: expected username:password",
		},
		"most_specific_error_wins": {
			err:  &RequestError{Status: StatusHandshakeFailed, Err: ErrHandshakeRepeated},
			want: "Handshake Failed: Handshake Already Completed",
		},
		"status_without_known_error": {
			err:  &RequestError{Status: StatusNotFound, Err: errors.New("gone")},
			want: "NotFound",
		},
		"unauthorized": {
			err:  &RequestError{Status: StatusUnauthorized, Err: ErrUnauthorized},
			want: "Login Required",
		},
	}
	for name, tt := range tests {
		t.Run(name, func(t *testing.T) {
			if got := userMessage(tt.err); got != tt.want {
				t.Errorf("userMessage() = %q, want %q", got, tt.want)
			}
		})
	}
}
