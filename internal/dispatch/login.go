package dispatch

import (
	"bytes"
	"context"
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/dcrodman/gatehouse/internal/core/auth"
	"github.com/dcrodman/gatehouse/internal/core/data"
	"github.com/dcrodman/gatehouse/internal/core/frame"
	"github.com/dcrodman/gatehouse/internal/core/metrics"
	"github.com/dcrodman/gatehouse/internal/core/session"
)

// Authenticator checks a username and password.
type Authenticator interface {
	Authenticate(ctx context.Context, username, password, ipAddr string) (*data.Account, error)
}

// LoginHandler authenticates a session. The payload is "username:password",
// split at the first colon so that passwords may contain colons.
type LoginHandler struct {
	Auth     Authenticator
	Sessions *session.Store
	Logger   *logrus.Logger
	Metrics  *metrics.Collector
}

func (h *LoginHandler) Handle(ctx context.Context, c Conn, sess *session.Session, payload []byte) error {
	if sess.IsLoggedIn() {
		return h.reject(StatusMalformedRequest, ErrAlreadyLoggedIn, "")
	}

	username, password, ok := bytes.Cut(payload, []byte(":"))
	if !ok {
		const hint = "expected username:password"
		return h.reject(StatusMalformedRequest, fmt.Errorf("%w: %s", ErrMalformedRequest, hint), hint)
	}

	account, err := h.Auth.Authenticate(ctx, string(username), string(password), c.IPAddr())
	if err != nil {
		h.Metrics.Login(false)
		switch {
		case errors.Is(err, auth.ErrInvalidCredentials):
			return h.reject(StatusAuthenticationFailed, fmt.Errorf("%w: %w", ErrAuthenticationFailed, err), auth.ErrInvalidCredentials.Error())
		case errors.Is(err, auth.ErrAccountBanned):
			return h.reject(StatusAccountBanned, fmt.Errorf("%w: %w", ErrAuthenticationFailed, err), auth.ErrAccountBanned.Error())
		default:
			return h.reject(StatusInternalError, fmt.Errorf("%w: %w", ErrAuthenticationFailed, err), "")
		}
	}
	h.Metrics.Login(true)

	if err := h.Sessions.AttachAccount(ctx, sess, account.ID, account.Username); err != nil {
		h.Logger.WithField("session_id", sess.ID()).Warnf("logged in without updating session record: %v", err)
	}
	h.Logger.WithFields(logrus.Fields{
		"session_id": sess.ID(),
		"client":     c.IPAddr(),
		"account":    account.Username,
	}).Info("login succeeded")

	return c.Send(frame.KindLoginReply, Reply(StatusOK, []byte(account.Username)))
}

func (h *LoginHandler) reject(status Status, err error, detail string) error {
	return &RequestError{Kind: frame.KindLoginRequest, Status: status, Err: err, Detail: detail}
}
