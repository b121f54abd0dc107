package dispatch

import (
	"bytes"
	"context"
	"errors"
	"fmt"

	"github.com/dcrodman/gatehouse/internal/core/crypto"
	"github.com/dcrodman/gatehouse/internal/core/data"
	"github.com/dcrodman/gatehouse/internal/core/frame"
	"github.com/dcrodman/gatehouse/internal/core/module"
	"github.com/dcrodman/gatehouse/internal/core/session"
)

// Flag byte leading the body of a ModuleReply.
const (
	ModulePlain  byte = 0
	ModuleSealed byte = 1
)

// ModuleFinder looks modules up by name.
type ModuleFinder interface {
	Find(ctx context.Context, name string) (*data.Module, error)
}

// ModuleHandler serves FetchModule requests from logged in sessions. If the
// session completed a handshake the content is sealed with its key, using
// the module name as associated data.
type ModuleHandler struct {
	Modules ModuleFinder
}

func (h *ModuleHandler) Handle(ctx context.Context, c Conn, sess *session.Session, payload []byte) error {
	if !sess.IsLoggedIn() {
		return h.reject(StatusUnauthorized, ErrUnauthorized, "")
	}

	name := string(bytes.TrimSpace(payload))
	if name == "" {
		const hint = "module name is required"
		return h.reject(StatusMalformedRequest, fmt.Errorf("%w: %s", ErrMalformedRequest, hint), hint)
	}

	m, err := h.Modules.Find(ctx, name)
	if errors.Is(err, module.ErrNotFound) {
		return h.reject(StatusNotFound, fmt.Errorf("%w: %s", ErrModuleNotFound, name), name)
	} else if err != nil {
		return h.reject(StatusInternalError, err, "")
	}

	body := append([]byte{ModulePlain}, m.Content...)
	if sess.HandshakeCompleted() {
		sealed, err := crypto.Seal(sess.EncryptionKey(), m.Content, []byte(name))
		if err != nil {
			return h.reject(StatusInternalError, err, "")
		}
		body = append([]byte{ModuleSealed}, sealed...)
	}

	return c.Send(frame.KindModuleReply, Reply(StatusOK, body))
}

func (h *ModuleHandler) reject(status Status, err error, detail string) error {
	return &RequestError{Kind: frame.KindFetchModule, Status: status, Err: err, Detail: detail}
}
