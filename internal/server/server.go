// Package server implements the admin HTTP endpoint: session status and
// basic control (enable/disable, logout, sequence reset) over plain HTTP
// with text responses. The engine is fully correct without it.
package server

import (
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/tradewire/gofix/internal/engine"
	"github.com/tradewire/gofix/internal/fix"
	appversion "github.com/tradewire/gofix/internal/version"
)

// AdminServer exposes the engine's sessions over HTTP.
type AdminServer struct {
	engine *engine.Engine
	logger *slog.Logger
}

// New creates the admin handler.
func New(e *engine.Engine, logger *slog.Logger) http.Handler {
	s := &AdminServer{
		engine: e,
		logger: logger.With(slog.String("component", "admin")),
	}

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Get("/", s.handleIndex)
	r.Get("/sessions", s.handleSessions)
	r.Route("/sessions/{id}", func(r chi.Router) {
		r.Get("/", s.handleSession)
		r.Post("/enable", s.handleEnable)
		r.Post("/disable", s.handleDisable)
		r.Post("/logout", s.handleLogout)
		r.Post("/reset", s.handleReset)
	})
	return r
}

// handleIndex reports the daemon identity and session count.
func (s *AdminServer) handleIndex(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	fmt.Fprintf(w, "gofixd %s\nsessions: %d\n",
		appversion.Version, len(s.engine.SessionIDs()))
}

// handleSessions lists every session with its status and sequence numbers.
func (s *AdminServer) handleSessions(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	for _, sess := range s.engine.Sessions() {
		sender, target := sess.SeqNums()
		fmt.Fprintf(w, "%s\tstatus=%s\tenabled=%v\tnext_sender=%d\tnext_target=%d\n",
			sess.ID(), sess.Status(), sess.IsEnabled(), sender, target)
	}
}

// lookup resolves the {id} path segment against the registered sessions.
func (s *AdminServer) lookup(w http.ResponseWriter, r *http.Request) *fix.Session {
	want := chi.URLParam(r, "id")
	for _, sess := range s.engine.Sessions() {
		if sess.ID().String() == want {
			return sess
		}
	}
	http.Error(w, "session not found: "+want, http.StatusNotFound)
	return nil
}

// handleSession reports one session's detail.
func (s *AdminServer) handleSession(w http.ResponseWriter, r *http.Request) {
	sess := s.lookup(w, r)
	if sess == nil {
		return
	}
	sender, target := sess.SeqNums()
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	fmt.Fprintf(w, "session: %s\nstatus: %s\nenabled: %v\ninitiator: %v\nnext_sender: %d\nnext_target: %d\n",
		sess.ID(), sess.Status(), sess.IsEnabled(), sess.IsInitiator(), sender, target)
}

// handleEnable re-enables logons for the session.
func (s *AdminServer) handleEnable(w http.ResponseWriter, r *http.Request) {
	sess := s.lookup(w, r)
	if sess == nil {
		return
	}
	sess.Enable()
	s.logger.Info("session enabled via admin", slog.String("session", sess.ID().String()))
	fmt.Fprintln(w, "enabled")
}

// handleDisable blocks logons and logs out an active connection.
func (s *AdminServer) handleDisable(w http.ResponseWriter, r *http.Request) {
	sess := s.lookup(w, r)
	if sess == nil {
		return
	}
	sess.Disable()
	s.logger.Info("session disabled via admin", slog.String("session", sess.ID().String()))
	fmt.Fprintln(w, "disabled")
}

// handleLogout initiates a graceful logout.
func (s *AdminServer) handleLogout(w http.ResponseWriter, r *http.Request) {
	sess := s.lookup(w, r)
	if sess == nil {
		return
	}
	sess.Logout()
	fmt.Fprintln(w, "logout initiated")
}

// handleReset resets the session's durable state to sequence number 1.
func (s *AdminServer) handleReset(w http.ResponseWriter, r *http.Request) {
	sess := s.lookup(w, r)
	if sess == nil {
		return
	}
	if err := sess.ResetSeqNums(); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	s.logger.Info("sequence numbers reset via admin", slog.String("session", sess.ID().String()))
	fmt.Fprintln(w, "sequence numbers reset")
}

// NewHTTPServer wraps the handler in an http.Server with sane timeouts.
func NewHTTPServer(addr string, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}
}
