package api

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/mbs-selection-server/internal/domain"
	"github.com/mbs-selection-server/internal/service"
	"github.com/mbs-selection-server/pkg/analysis"
)

// Session is one selection workspace: its own engine and request dispatcher,
// sharing the process-wide analysis client, preset store and history store.
type Session struct {
	ID         string
	Engine     *service.SelectionEngine
	Dispatcher *analysis.Dispatcher

	mu       sync.Mutex
	lastUsed time.Time
}

func (s *Session) touch() {
	s.mu.Lock()
	s.lastUsed = time.Now()
	s.mu.Unlock()
}

func (s *Session) idleSince() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastUsed
}

// SessionManager owns the live sessions. Sessions are in-memory only; a
// restart drops them, which matches the ephemeral nature of a selection
// workspace. Presets exist for durable selections.
type SessionManager struct {
	mu       sync.RWMutex
	sessions map[string]*Session

	engineCfg service.EngineConfig
	client    analysis.Analyzer
	history   service.HistoryRecorder
	logger    *logrus.Logger
}

// NewSessionManager creates an empty session manager.
func NewSessionManager(engineCfg service.EngineConfig, client analysis.Analyzer, history service.HistoryRecorder, logger *logrus.Logger) *SessionManager {
	if logger == nil {
		logger = logrus.New()
	}
	return &SessionManager{
		sessions:  make(map[string]*Session),
		engineCfg: engineCfg,
		client:    client,
		history:   history,
		logger:    logger,
	}
}

// Create starts a new session with an empty engine.
func (m *SessionManager) Create() *Session {
	s := &Session{
		ID:         uuid.New().String(),
		Engine:     service.NewSelectionEngine(m.engineCfg, m.history, m.logger),
		Dispatcher: analysis.NewDispatcher(m.client, m.logger),
		lastUsed:   time.Now(),
	}

	m.mu.Lock()
	m.sessions[s.ID] = s
	m.mu.Unlock()

	m.logger.WithField("session_id", s.ID).Info("Session created")
	return s
}

// Get returns the session or domain.ErrNotFound.
func (m *SessionManager) Get(id string) (*Session, error) {
	m.mu.RLock()
	s, ok := m.sessions[id]
	m.mu.RUnlock()
	if !ok {
		return nil, domain.ErrNotFound
	}
	s.touch()
	return s, nil
}

// Delete removes the session, abandoning any in-flight analysis.
func (m *SessionManager) Delete(id string) error {
	m.mu.Lock()
	s, ok := m.sessions[id]
	if ok {
		delete(m.sessions, id)
	}
	m.mu.Unlock()
	if !ok {
		return domain.ErrNotFound
	}

	s.Dispatcher.Abandon()
	m.logger.WithField("session_id", id).Info("Session deleted")
	return nil
}

// Len returns the number of live sessions.
func (m *SessionManager) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

// Sweep removes sessions idle longer than ttl and returns how many it
// removed.
func (m *SessionManager) Sweep(ttl time.Duration) int {
	cutoff := time.Now().Add(-ttl)

	m.mu.Lock()
	var expired []*Session
	for id, s := range m.sessions {
		if s.idleSince().Before(cutoff) {
			expired = append(expired, s)
			delete(m.sessions, id)
		}
	}
	m.mu.Unlock()

	for _, s := range expired {
		s.Dispatcher.Abandon()
		m.logger.WithField("session_id", s.ID).Debug("Session expired")
	}
	return len(expired)
}
