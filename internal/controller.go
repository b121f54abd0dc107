package internal

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"github.com/dcrodman/gatehouse/internal/core"
	"github.com/dcrodman/gatehouse/internal/core/auth"
	"github.com/dcrodman/gatehouse/internal/core/crypto"
	"github.com/dcrodman/gatehouse/internal/core/data"
	"github.com/dcrodman/gatehouse/internal/core/debug"
	"github.com/dcrodman/gatehouse/internal/core/filter"
	"github.com/dcrodman/gatehouse/internal/core/frame"
	"github.com/dcrodman/gatehouse/internal/core/metrics"
	"github.com/dcrodman/gatehouse/internal/core/module"
	"github.com/dcrodman/gatehouse/internal/core/session"
	"github.com/dcrodman/gatehouse/internal/dispatch"
)

// Controller is the main entrypoint for the server. It's responsible for initializing
// any shared resources (such as database and logging), wiring the session
// machinery together, and launching everything.
type Controller struct {
	Config *core.Config

	logger  *logrus.Logger
	wg      sync.WaitGroup
	db      *gorm.DB
	metrics *metrics.Collector

	mu     sync.Mutex
	filter *filter.Filter
}

var errNotStarted = errors.New("controller has not been started")

// Start initializes everything and blocks until ctx is cancelled and every
// connection has been closed.
func (c *Controller) Start(ctx context.Context) error {
	defer c.Shutdown()

	var err error
	// Set up the logger, which will be used by every component.
	c.logger, err = core.NewLogger(c.Config)
	if err != nil {
		return fmt.Errorf("error initializing logger: %w", err)
	}

	c.db, err = data.Initialize(
		c.Config.Database.Engine,
		c.Config.DatabaseURL(),
		c.logger,
		c.Config.Debugging.DatabaseLoggingEnabled,
	)
	if err != nil {
		return err
	}
	// Nothing can be connected yet, so any session still marked active was
	// left behind by a previous run.
	if n, err := data.DeactivateStaleSessions(c.db); err != nil {
		c.logger.Warnf("error deactivating stale sessions: %v", err)
	} else if n > 0 {
		c.logger.Infof("deactivated %d stale session records", n)
	}

	server, err := c.declareServer()
	if err != nil {
		return err
	}

	// Start any debug utilities if we're configured to do so.
	if c.Config.Debugging.Enabled {
		debugServer := &debug.Server{
			Port:     c.Config.Debugging.PprofPort,
			Logger:   c.logger,
			Metrics:  c.metrics,
			Sessions: server.Sessions,
		}
		if err := debugServer.Start(ctx); err != nil {
			c.logger.Warnf("debug server not started: %v", err)
		}
	}

	if err := server.Start(ctx, &c.wg); err != nil {
		return fmt.Errorf("error starting server: %w", err)
	}

	c.wg.Wait()
	return nil
}

// declareServer builds the frontend and everything it depends on.
func (c *Controller) declareServer() (*frontend, error) {
	f, err := filter.New(
		c.Config.Filter.AllowListFile,
		c.Config.Filter.DenyListFile,
		c.Config.Filter.AllowListOnly,
	)
	if err != nil {
		return nil, fmt.Errorf("error loading address lists: %w", err)
	}
	allowed, denied := f.Sizes()
	c.logger.Infof("loaded %d allowed and %d denied addresses", allowed, denied)

	exchange := &crypto.ECDHExchange{}
	if c.Config.Keys.PrivateKeyFile != "" {
		keyring, err := crypto.LoadKeyring(c.Config.Keys.PrivateKeyFile, c.Config.Keys.PublicKeyFile)
		if err != nil {
			return nil, err
		}
		exchange.Keyring = keyring
	} else {
		c.logger.Warn("no private key configured; handshakes will not be signed")
	}

	c.metrics = metrics.New()
	sessions := session.NewStore(&session.DatabaseRecorder{DB: c.db}, c.logger, c.Config.Session.GameID)

	server := &frontend{
		Address:  c.Config.ListenAddress(),
		Config:   c.Config,
		Logger:   c.logger,
		Filter:   f,
		Sessions: sessions,
		Metrics:  c.metrics,
		Dispatcher: newDispatcher(dispatcherParams{
			Logger:   c.logger,
			Metrics:  c.metrics,
			Exchange: exchange,
			Auth:     &auth.Verifier{DB: c.db, Logger: c.logger},
			Sessions: sessions,
			Modules:  module.NewRepository(c.db, c.Config.ModuleCacheTTL),
		}),
	}

	c.mu.Lock()
	c.filter = f
	c.mu.Unlock()

	return server, nil
}

type dispatcherParams struct {
	Logger   *logrus.Logger
	Metrics  *metrics.Collector
	Exchange crypto.KeyExchange
	Auth     dispatch.Authenticator
	Sessions *session.Store
	Modules  dispatch.ModuleFinder
}

func newDispatcher(p dispatcherParams) *dispatch.Dispatcher {
	d := dispatch.New(p.Logger, p.Metrics)

	handshake := &dispatch.HandshakeHandler{Exchange: p.Exchange, Metrics: p.Metrics}
	login := &dispatch.LoginHandler{Auth: p.Auth, Sessions: p.Sessions, Logger: p.Logger, Metrics: p.Metrics}
	modules := &dispatch.ModuleHandler{Modules: p.Modules}

	d.Register(frame.KindHandshake, handshake.Handle)
	d.Register(frame.KindLoginRequest, login.Handle)
	d.Register(frame.KindFetchModule, modules.Handle)
	return d
}

// ReloadFilters re-reads the allow and deny lists. Connections that are
// already established are not affected.
func (c *Controller) ReloadFilters() error {
	c.mu.Lock()
	f := c.filter
	c.mu.Unlock()

	if f == nil {
		return errNotStarted
	}
	if err := f.Refresh(); err != nil {
		c.logger.Errorf("error reloading address lists: %v", err)
		return err
	}
	allowed, denied := f.Sizes()
	c.logger.Infof("reloaded %d allowed and %d denied addresses", allowed, denied)
	return nil
}

// Shutdown waits for the server to stop and releases shared resources.
func (c *Controller) Shutdown() {
	c.wg.Wait()
	if c.db != nil {
		if err := data.Shutdown(c.db); err != nil && c.logger != nil {
			c.logger.Warnf("error closing database: %v", err)
		}
	}
}
