package dispatch

import (
	"context"
	"fmt"

	"github.com/dcrodman/gatehouse/internal/core/crypto"
	"github.com/dcrodman/gatehouse/internal/core/frame"
	"github.com/dcrodman/gatehouse/internal/core/metrics"
	"github.com/dcrodman/gatehouse/internal/core/session"
)

// HandshakeHandler negotiates the session key. The session is only marked
// as handshaken once Exchange has produced a key.
type HandshakeHandler struct {
	Exchange crypto.KeyExchange
	Metrics  *metrics.Collector
}

func (h *HandshakeHandler) Handle(_ context.Context, c Conn, sess *session.Session, payload []byte) error {
	if sess.HandshakeCompleted() {
		return h.reject(ErrHandshakeRepeated, "")
	}
	if h.Exchange == nil {
		const reason = "no key exchange configured"
		return h.reject(fmt.Errorf("%w: %s", ErrHandshakeFailed, reason), reason)
	}

	reply, key, err := h.Exchange.Negotiate(payload)
	if err != nil {
		return h.reject(fmt.Errorf("%w: %v", ErrHandshakeFailed, err), err.Error())
	}
	if !sess.CompleteHandshake(key) {
		return h.reject(ErrHandshakeRepeated, "")
	}
	h.Metrics.HandshakeCompleted()

	return c.Send(frame.KindHandshakeReply, Reply(StatusOK, reply))
}

func (h *HandshakeHandler) reject(err error, detail string) error {
	return &RequestError{Kind: frame.KindHandshake, Status: StatusHandshakeFailed, Err: err, Detail: detail}
}
