// Package debug holds the tooling enabled by the debugging config section:
// a local HTTP server exposing pprof, counters and live sessions, plus
// human readable frame dumps.
package debug

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/http/pprof"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/dcrodman/gatehouse/internal/core/metrics"
	"github.com/dcrodman/gatehouse/internal/core/session"
)

// Server is the debug HTTP server. It only ever listens on localhost.
type Server struct {
	Port     int
	Logger   *logrus.Logger
	Metrics  *metrics.Collector
	Sessions *session.Store
}

// Handler returns the routes served by the debug server.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/debug/pprof/", pprof.Index)
	mux.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
	mux.HandleFunc("/debug/pprof/profile", pprof.Profile)
	mux.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
	mux.HandleFunc("/debug/pprof/trace", pprof.Trace)

	mux.HandleFunc("/debug/metrics", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, s.Metrics.Snapshot())
	})
	mux.HandleFunc("/debug/sessions", func(w http.ResponseWriter, r *http.Request) {
		records := []session.Record{}
		if s.Sessions != nil {
			records = s.Sessions.Snapshot()
		}
		writeJSON(w, records)
	})
	return mux
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	_ = enc.Encode(v)
}

// Start listens on localhost:Port and serves until ctx is cancelled.
func (s *Server) Start(ctx context.Context) error {
	listenerAddr := fmt.Sprintf("localhost:%d", s.Port)
	listener, err := net.Listen("tcp", listenerAddr)
	if err != nil {
		return fmt.Errorf("error starting debug server: %w", err)
	}

	srv := &http.Server{Handler: s.Handler(), ReadHeaderTimeout: 10 * time.Second}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	s.Logger.Infof("starting debug server on %s", listener.Addr())
	go func() {
		if err := srv.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.Logger.Errorf("debug server exited: %v", err)
		}
	}()
	return nil
}
