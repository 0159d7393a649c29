package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/mbs-selection-server/internal/domain"
)

// PresetStore manages named selection snapshots. The in-memory list is the
// source of truth; the full list is rewritten to the KV backend after every
// mutation, and a failed write is logged as a warning without failing the
// mutation.
type PresetStore struct {
	mu     sync.Mutex
	kv     KV
	logger *logrus.Logger

	presets []domain.Preset
}

// PresetDraft is the caller-supplied part of a new preset.
type PresetDraft struct {
	Name          string   `json:"name"`
	Description   string   `json:"description,omitempty"`
	SelectedCodes []string `json:"selected_codes"`
}

// PresetUpdate carries the fields of an explicit update. Nil fields are left
// unchanged.
type PresetUpdate struct {
	Name          *string   `json:"name,omitempty"`
	Description   *string   `json:"description,omitempty"`
	SelectedCodes *[]string `json:"selected_codes,omitempty"`
}

// NewPresetStore creates a preset store, loading the persisted list
// wholesale from the KV backend.
func NewPresetStore(ctx context.Context, kv KV, logger *logrus.Logger) (*PresetStore, error) {
	if logger == nil {
		logger = logrus.New()
	}
	s := &PresetStore{kv: kv, logger: logger}

	data, err := kv.Get(ctx, PresetsKey)
	switch {
	case errors.Is(err, domain.ErrNotFound):
		// First run, nothing persisted yet.
	case err != nil:
		return nil, fmt.Errorf("failed to load presets: %w", err)
	default:
		if err := json.Unmarshal(data, &s.presets); err != nil {
			return nil, fmt.Errorf("failed to decode presets: %w", err)
		}
	}

	logger.WithField("presets", len(s.presets)).Debug("Preset store loaded")
	return s, nil
}

// Save creates a new preset from the draft, assigning its ID and timestamps.
func (s *PresetStore) Save(draft PresetDraft) (domain.Preset, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.saveLocked(draft)
}

func (s *PresetStore) saveLocked(draft PresetDraft) (domain.Preset, error) {
	if draft.Name == "" {
		return domain.Preset{}, domain.NewValidationError("name", "preset name is required", draft.Name)
	}

	now := time.Now().UTC()
	preset := domain.Preset{
		ID:            uuid.New().String(),
		Name:          draft.Name,
		Description:   draft.Description,
		SelectedCodes: append([]string(nil), draft.SelectedCodes...),
		CreatedAt:     now,
		ModifiedAt:    now,
	}
	s.presets = append(s.presets, preset)
	s.persist()
	return preset, nil
}

// Get returns the preset with the given ID, or domain.ErrNotFound.
func (s *PresetStore) Get(id string) (domain.Preset, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.getLocked(id)
}

func (s *PresetStore) getLocked(id string) (domain.Preset, error) {
	for i := range s.presets {
		if s.presets[i].ID == id {
			return clonePreset(&s.presets[i]), nil
		}
	}
	return domain.Preset{}, fmt.Errorf("preset %q: %w", id, domain.ErrNotFound)
}

// List returns all presets in creation order.
func (s *PresetStore) List() []domain.Preset {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.Preset, len(s.presets))
	for i := range s.presets {
		out[i] = clonePreset(&s.presets[i])
	}
	return out
}

// Update applies an explicit partial update, bumping ModifiedAt but never
// CreatedAt.
func (s *PresetStore) Update(id string, update PresetUpdate) (domain.Preset, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.presets {
		if s.presets[i].ID != id {
			continue
		}
		p := &s.presets[i]
		if update.Name != nil {
			if *update.Name == "" {
				return domain.Preset{}, domain.NewValidationError("name", "preset name is required", *update.Name)
			}
			p.Name = *update.Name
		}
		if update.Description != nil {
			p.Description = *update.Description
		}
		if update.SelectedCodes != nil {
			p.SelectedCodes = append([]string(nil), (*update.SelectedCodes)...)
		}
		p.ModifiedAt = time.Now().UTC()
		s.persist()
		return clonePreset(p), nil
	}
	return domain.Preset{}, fmt.Errorf("preset %q: %w", id, domain.ErrNotFound)
}

// Delete removes the preset with the given ID.
func (s *PresetStore) Delete(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.presets {
		if s.presets[i].ID == id {
			s.presets = append(s.presets[:i], s.presets[i+1:]...)
			s.persist()
			return nil
		}
	}
	return fmt.Errorf("preset %q: %w", id, domain.ErrNotFound)
}

// Duplicate copies an existing preset's code list under a new ID and name.
func (s *PresetStore) Duplicate(id, newName string) (domain.Preset, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	src, err := s.getLocked(id)
	if err != nil {
		return domain.Preset{}, err
	}
	if newName == "" {
		newName = src.Name + " (copy)"
	}
	return s.saveLocked(PresetDraft{
		Name:          newName,
		Description:   src.Description,
		SelectedCodes: src.SelectedCodes,
	})
}

// persist rewrites the whole preset list. The in-memory state stays
// authoritative if the durable write fails.
func (s *PresetStore) persist() {
	data, err := json.Marshal(s.presets)
	if err != nil {
		s.logger.WithError(err).Warn("Failed to encode presets for persistence")
		return
	}
	if err := s.kv.Set(context.Background(), PresetsKey, data); err != nil {
		s.logger.WithError(err).Warn("Failed to persist presets, in-memory state retained")
	}
}

func clonePreset(p *domain.Preset) domain.Preset {
	out := *p
	out.SelectedCodes = append([]string(nil), p.SelectedCodes...)
	return out
}
