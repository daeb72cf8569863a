package server

import (
	"context"
	"sync"
	"time"

	"github.com/MarcoPoloResearchLab/notes-mvi/internal/metrics"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// screenMachine is the presentation-facing surface shared by the list and details screens.
type screenMachine interface {
	screen() string
	dispatch(request intentPayload) (string, error)
	confirmDelete(noteID string) error
	view(ctx context.Context, page int) (any, error)
	effects(ctx context.Context) <-chan eventPayload
	states(ctx context.Context) <-chan eventPayload
	close()
}

type screenSession struct {
	id        string
	machine   screenMachine
	createdAt time.Time

	// lastActive and streams are guarded by the registry mutex.
	lastActive time.Time
	streams    int
}

// DefaultSessionIdleTimeout applies when SessionConfig leaves IdleTimeout unset.
const DefaultSessionIdleTimeout = 5 * time.Minute

// SessionConfig describes a SessionRegistry.
type SessionConfig struct {
	IdleTimeout time.Duration
	Clock       func() time.Time
	Logger      *zap.Logger
}

// SessionRegistry tracks open screen sessions by identifier. Sessions without an
// attached stream expire once idle for longer than the idle timeout.
type SessionRegistry struct {
	mu          sync.Mutex
	sessions    map[string]*screenSession
	newID       func() string
	clock       func() time.Time
	idleTimeout time.Duration
	logger      *zap.Logger
}

// NewSessionRegistry returns an empty registry issuing UUIDv7 session identifiers.
func NewSessionRegistry(cfg SessionConfig) *SessionRegistry {
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	idleTimeout := cfg.IdleTimeout
	if idleTimeout <= 0 {
		idleTimeout = DefaultSessionIdleTimeout
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SessionRegistry{
		sessions:    make(map[string]*screenSession),
		newID:       newSessionID,
		clock:       clock,
		idleTimeout: idleTimeout,
		logger:      logger,
	}
}

func newSessionID() string {
	identifier, err := uuid.NewV7()
	if err != nil {
		return uuid.NewString()
	}
	return identifier.String()
}

func (r *SessionRegistry) open(machine screenMachine) *screenSession {
	now := r.clock().UTC()
	session := &screenSession{
		id:         r.newID(),
		machine:    machine,
		createdAt:  now,
		lastActive: now,
	}
	r.mu.Lock()
	r.sessions[session.id] = session
	r.mu.Unlock()
	metrics.ActiveScreens.WithLabelValues(machine.screen()).Inc()
	return session
}

// get looks a session up and counts the lookup as activity.
func (r *SessionRegistry) get(sessionID string) (*screenSession, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	session, ok := r.sessions[sessionID]
	if ok {
		session.lastActive = r.clock().UTC()
	}
	return session, ok
}

// attachStream keeps the session alive while a client streams from it. The returned
// function detaches the stream.
func (r *SessionRegistry) attachStream(session *screenSession) func() {
	r.mu.Lock()
	session.streams++
	session.lastActive = r.clock().UTC()
	r.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			r.mu.Lock()
			session.streams--
			session.lastActive = r.clock().UTC()
			r.mu.Unlock()
		})
	}
}

// Close tears down one session. It reports whether the session existed.
func (r *SessionRegistry) Close(sessionID string) bool {
	r.mu.Lock()
	session, ok := r.sessions[sessionID]
	if ok {
		delete(r.sessions, sessionID)
	}
	r.mu.Unlock()
	if !ok {
		return false
	}
	r.release(session, "closed")
	return true
}

// CloseAll tears down every open session.
func (r *SessionRegistry) CloseAll() {
	r.mu.Lock()
	sessions := make([]*screenSession, 0, len(r.sessions))
	for _, session := range r.sessions {
		sessions = append(sessions, session)
	}
	r.sessions = make(map[string]*screenSession)
	r.mu.Unlock()

	for _, session := range sessions {
		r.release(session, "shutdown")
	}
}

// Sweep closes every session that has no attached stream and has been idle for longer
// than the idle timeout. It returns the number of sessions closed.
func (r *SessionRegistry) Sweep() int {
	now := r.clock().UTC()
	r.mu.Lock()
	var expired []*screenSession
	for id, session := range r.sessions {
		if session.streams > 0 || now.Sub(session.lastActive) < r.idleTimeout {
			continue
		}
		delete(r.sessions, id)
		expired = append(expired, session)
	}
	r.mu.Unlock()

	for _, session := range expired {
		metrics.ExpiredScreensTotal.WithLabelValues(session.machine.screen()).Inc()
		r.release(session, "expired")
	}
	return len(expired)
}

// Run sweeps idle sessions every interval until ctx ends.
func (r *SessionRegistry) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = r.idleTimeout / 4
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.Sweep()
		}
	}
}

// Count returns the number of open sessions.
func (r *SessionRegistry) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

func (r *SessionRegistry) release(session *screenSession, reason string) {
	session.machine.close()
	metrics.ActiveScreens.WithLabelValues(session.machine.screen()).Dec()
	r.logger.Debug("screen session ended",
		zap.String("session_id", session.id),
		zap.String("screen", session.machine.screen()),
		zap.String("reason", reason),
		zap.Duration("lifetime", r.clock().UTC().Sub(session.createdAt)),
	)
}
