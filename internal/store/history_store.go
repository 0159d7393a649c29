package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/mbs-selection-server/internal/domain"
)

// HistoryStore keeps the append-only audit of selection-changing actions,
// newest first. A caller-supplied capacity bound evicts the oldest entries
// first on overflow; zero means unbounded. The full list is rewritten to the
// KV backend after every mutation, and a failed write never fails the
// mutation.
type HistoryStore struct {
	mu     sync.Mutex
	kv     KV
	logger *logrus.Logger
	limit  int

	entries []domain.HistoryEntry
}

// NewHistoryStore creates a history store, loading the persisted log
// wholesale from the KV backend. If the persisted log exceeds the limit, the
// oldest entries are dropped on load.
func NewHistoryStore(ctx context.Context, kv KV, limit int, logger *logrus.Logger) (*HistoryStore, error) {
	if logger == nil {
		logger = logrus.New()
	}
	s := &HistoryStore{kv: kv, logger: logger, limit: limit}

	data, err := kv.Get(ctx, HistoryKey)
	switch {
	case errors.Is(err, domain.ErrNotFound):
		// First run, nothing persisted yet.
	case err != nil:
		return nil, fmt.Errorf("failed to load history: %w", err)
	default:
		if err := json.Unmarshal(data, &s.entries); err != nil {
			return nil, fmt.Errorf("failed to decode history: %w", err)
		}
		if s.limit > 0 && len(s.entries) > s.limit {
			s.entries = s.entries[:s.limit]
		}
	}

	logger.WithField("entries", len(s.entries)).Debug("History store loaded")
	return s, nil
}

// Add prepends the entry and evicts the oldest entries past the capacity
// bound.
func (s *HistoryStore) Add(entry domain.HistoryEntry) {
	s.mu.Lock()
	s.entries = append([]domain.HistoryEntry{entry}, s.entries...)
	if s.limit > 0 && len(s.entries) > s.limit {
		s.entries = s.entries[:s.limit]
	}
	s.persistLocked()
	s.mu.Unlock()
}

// Clear empties the history log.
func (s *HistoryStore) Clear() {
	s.mu.Lock()
	s.entries = nil
	s.persistLocked()
	s.mu.Unlock()
}

// List returns all entries, newest first.
func (s *HistoryStore) List() []domain.HistoryEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.HistoryEntry, len(s.entries))
	copy(out, s.entries)
	return out
}

// Len returns the number of entries.
func (s *HistoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

// ByDate returns entries whose timestamp falls in the inclusive range,
// newest first.
func (s *HistoryStore) ByDate(start, end time.Time) []domain.HistoryEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.HistoryEntry
	for _, e := range s.entries {
		if !e.Timestamp.Before(start) && !e.Timestamp.After(end) {
			out = append(out, e)
		}
	}
	return out
}

// ByAction returns entries exactly matching the action, newest first.
func (s *HistoryStore) ByAction(action domain.HistoryAction) []domain.HistoryEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.HistoryEntry
	for _, e := range s.entries {
		if e.Action == action {
			out = append(out, e)
		}
	}
	return out
}

// persistLocked rewrites the whole log. The in-memory state stays
// authoritative if the durable write fails.
func (s *HistoryStore) persistLocked() {
	data, err := json.Marshal(s.entries)
	if err != nil {
		s.logger.WithError(err).Warn("Failed to encode history for persistence")
		return
	}
	if err := s.kv.Set(context.Background(), HistoryKey, data); err != nil {
		s.logger.WithError(err).Warn("Failed to persist history, in-memory state retained")
	}
}
