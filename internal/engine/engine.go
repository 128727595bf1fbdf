// Package engine owns the process-level FIX state: the session registry,
// the dictionary provider, and the session factory. There are no package
// globals; everything hangs off an explicit Engine handle.
package engine

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/tradewire/gofix/internal/fix"
	"github.com/tradewire/gofix/internal/settings"
)

// -------------------------------------------------------------------------
// Engine Errors
// -------------------------------------------------------------------------

var (
	// ErrSessionNotFound indicates no session is registered for the ID.
	ErrSessionNotFound = errors.New("session not found")

	// ErrDuplicateSession indicates two settings sections resolved to the
	// same SessionID.
	ErrDuplicateSession = errors.New("duplicate session")
)

// -------------------------------------------------------------------------
// Engine
// -------------------------------------------------------------------------

// Engine holds the session registry. Mutations are locked; lookups copy the
// entry reference out under the read lock and then operate lock-free on the
// session's own synchronization.
type Engine struct {
	mu       sync.RWMutex
	sessions map[fix.SessionID]*fix.Session
	order    []fix.SessionID

	dictionaries *fix.DictionaryProvider
	stores       fix.MessageStoreFactory
	app          fix.Application
	metrics      fix.MetricsReporter
	logger       *slog.Logger
}

// New creates an engine and one session per settings section.
func New(
	ss *settings.SessionSettings,
	app fix.Application,
	stores fix.MessageStoreFactory,
	logger *slog.Logger,
	metrics fix.MetricsReporter,
) (*Engine, error) {
	e := &Engine{
		sessions:     make(map[fix.SessionID]*fix.Session),
		dictionaries: fix.NewDictionaryProvider(),
		stores:       stores,
		app:          app,
		metrics:      metrics,
		logger:       logger.With(slog.String("component", "engine")),
	}

	for _, id := range ss.SessionIDs() {
		dict, _ := ss.Get(id)
		sess, err := e.createSession(id, dict)
		if err != nil {
			return nil, fmt.Errorf("create session %s: %w", id, err)
		}
		if _, dup := e.sessions[id]; dup {
			return nil, fmt.Errorf("session %s: %w", id, ErrDuplicateSession)
		}
		e.sessions[id] = sess
		e.order = append(e.order, id)
		e.logger.Info("session created",
			slog.String("session", id.String()),
			slog.Bool("initiator", sess.IsInitiator()),
		)
	}
	return e, nil
}

// Lookup returns the session registered for the ID.
func (e *Engine) Lookup(id fix.SessionID) (*fix.Session, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	s, ok := e.sessions[id]
	return s, ok
}

// LookupByCompIDs resolves an inbound logon: the counterparty's
// (SenderCompID, TargetCompID) pair reversed against our registered
// sessions with a matching BeginString.
func (e *Engine) LookupByCompIDs(beginString, senderCompID, targetCompID string) (*fix.Session, bool) {
	id := fix.NewSessionID(beginString, targetCompID, senderCompID)
	return e.Lookup(id)
}

// SessionIDs returns the registered IDs in settings order.
func (e *Engine) SessionIDs() []fix.SessionID {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make([]fix.SessionID, len(e.order))
	copy(out, e.order)
	return out
}

// Sessions snapshots the registered sessions.
func (e *Engine) Sessions() []*fix.Session {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make([]*fix.Session, 0, len(e.order))
	for _, id := range e.order {
		out = append(out, e.sessions[id])
	}
	return out
}

// SendToTarget queues an application message on the identified session.
func (e *Engine) SendToTarget(msg *fix.Message, id fix.SessionID) error {
	sess, ok := e.Lookup(id)
	if !ok {
		return fmt.Errorf("send to %s: %w", id, ErrSessionNotFound)
	}
	return sess.Send(msg)
}

// Close releases every session's store.
func (e *Engine) Close() {
	e.mu.Lock()
	defer e.mu.Unlock()
	for id, sess := range e.sessions {
		if err := sess.Close(); err != nil {
			e.logger.Warn("session close failed",
				slog.String("session", id.String()),
				slog.String("error", err.Error()),
			)
		}
	}
}
