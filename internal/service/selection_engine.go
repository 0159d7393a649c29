package service

import (
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/mbs-selection-server/internal/domain"
)

// HistoryRecorder receives one entry per selection-changing action. Persist
// failures are the recorder's concern and must never surface as engine
// errors.
type HistoryRecorder interface {
	Add(entry domain.HistoryEntry)
}

// EngineConfig tunes one selection engine instance.
type EngineConfig struct {
	// MaxCodes caps the selection size. Zero means unlimited.
	MaxCodes int
}

// SelectionEngine owns the set of currently chosen codes for one selection
// session. It validates every proposed addition against the conflict rules of
// the current recommendation set, computes derived totals and notifies
// subscribers on every change.
//
// All operations are safe for concurrent use. Subscriber callbacks run
// outside the engine lock and must not call back into the engine.
type SelectionEngine struct {
	mu sync.Mutex

	cfg     EngineConfig
	logger  *logrus.Logger
	history HistoryRecorder

	recs  []domain.Recommendation
	index recommendationIndex

	selected    []string
	selectedSet map[string]struct{}

	subMu        sync.Mutex
	nextSubID    int
	changeSubs   map[int]func(domain.SelectionSummary)
	conflictSubs map[int]func(domain.ValidationResult)
}

// NewSelectionEngine creates an engine with an empty selection and no
// recommendations loaded. history may be nil.
func NewSelectionEngine(cfg EngineConfig, history HistoryRecorder, logger *logrus.Logger) *SelectionEngine {
	if logger == nil {
		logger = logrus.New()
	}
	return &SelectionEngine{
		cfg:          cfg,
		logger:       logger,
		history:      history,
		index:        recommendationIndex{},
		selectedSet:  map[string]struct{}{},
		changeSubs:   map[int]func(domain.SelectionSummary){},
		conflictSubs: map[int]func(domain.ValidationResult){},
	}
}

// SetRecommendations replaces the current recommendation set. The previous
// selection is discarded: recommendations are immutable per analysis result,
// so a new result invalidates every prior pick. Subscribers see one zeroed
// summary.
func (e *SelectionEngine) SetRecommendations(recs []domain.Recommendation) {
	e.mu.Lock()
	e.recs = make([]domain.Recommendation, len(recs))
	copy(e.recs, recs)
	e.index = buildIndex(e.recs)
	e.selected = nil
	e.selectedSet = map[string]struct{}{}
	summary := e.summaryLocked()
	e.mu.Unlock()

	e.logger.WithField("recommendations", len(recs)).Debug("Recommendation set replaced")
	e.notifyChange(summary)
}

// Recommendations returns a copy of the current recommendation set in its
// original order.
func (e *SelectionEngine) Recommendations() []domain.Recommendation {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]domain.Recommendation, len(e.recs))
	copy(out, e.recs)
	return out
}

// CanSelect checks whether the code could join the current selection without
// mutating anything. A code missing from the recommendation set is a
// reported, non-fatal failure, never an error.
func (e *SelectionEngine) CanSelect(code string) domain.ValidationResult {
	e.mu.Lock()
	defer e.mu.Unlock()
	res, _ := e.validateLocked(code)
	return res
}

// validateLocked runs the full validation for adding code to the current
// selection. The second return value counts warning-severity conflict rules
// specifically, excluding capacity and not-found warnings, for display-state
// classification.
func (e *SelectionEngine) validateLocked(code string) (domain.ValidationResult, int) {
	res := domain.ValidationResult{
		CanSelect: true,
		Conflicts: []domain.ConflictRule{},
		Warnings:  []string{},
	}

	rec, ok := e.index[code]
	if !ok {
		res.CanSelect = false
		res.Warnings = append(res.Warnings,
			fmt.Sprintf("code %s not found in current recommendations", code))
		return res, 0
	}

	union := asSet(e.selected)
	union[code] = struct{}{}
	warningRules := 0

	appendRule := func(rule *domain.ConflictRule) {
		if rule.Severity == domain.SeverityBlocking {
			if !containsRule(res.Conflicts, rule) {
				res.CanSelect = false
				res.Conflicts = append(res.Conflicts, *rule)
			}
			return
		}
		warningRules++
		if !containsString(res.Warnings, rule.Message) {
			res.Warnings = append(res.Warnings, rule.Message)
		}
	}

	for i := range rec.ConflictRules {
		rule := &rec.ConflictRules[i]
		if ruleApplies(rule, union) {
			appendRule(rule)
		}
	}

	// The backend is expected to mirror every rule on both codes of a pair
	// but that is not guaranteed, so scan the selected records too.
	for _, sel := range e.selected {
		srec, ok := e.index[sel]
		if !ok {
			continue
		}
		for i := range srec.ConflictRules {
			rule := &srec.ConflictRules[i]
			if ruleNames(rule, code) && ruleApplies(rule, union) {
				appendRule(rule)
			}
		}
	}

	// Capacity check is independent of conflict checks; both can fire in the
	// same result.
	if e.cfg.MaxCodes > 0 && len(e.selected)+1 > e.cfg.MaxCodes {
		res.CanSelect = false
		res.Warnings = append(res.Warnings,
			fmt.Sprintf("Maximum %d codes allowed", e.cfg.MaxCodes))
	}

	return res, warningRules
}

// Select adds the code to the selection if validation passes. On failure the
// state is untouched and conflict subscribers receive the failing result so
// callers can show why. On success with warnings the conflict subscribers are
// notified as well.
func (e *SelectionEngine) Select(code string) domain.ValidationResult {
	e.mu.Lock()
	if _, already := e.selectedSet[code]; already {
		res := domain.ValidationResult{CanSelect: true, Conflicts: []domain.ConflictRule{}, Warnings: []string{}}
		e.mu.Unlock()
		return res
	}

	res, _ := e.validateLocked(code)
	var summary domain.SelectionSummary
	var entry *domain.HistoryEntry
	if res.CanSelect {
		e.selected = append(e.selected, code)
		e.selectedSet[code] = struct{}{}
		summary = e.summaryLocked()
		entry = e.historyEntryLocked(domain.ActionSelect, code)
	}
	e.mu.Unlock()

	if res.CanSelect {
		e.record(entry)
		e.notifyChange(summary)
		if len(res.Conflicts) > 0 || len(res.Warnings) > 0 {
			e.notifyConflict(res)
		}
	} else {
		e.logger.WithFields(logrus.Fields{
			"code":      code,
			"conflicts": len(res.Conflicts),
			"warnings":  len(res.Warnings),
		}).Debug("Selection rejected")
		e.notifyConflict(res)
	}
	return res
}

// Deselect removes the code unconditionally if present. Removing a code can
// never violate an invariant, so there is nothing to validate.
func (e *SelectionEngine) Deselect(code string) {
	e.mu.Lock()
	if _, ok := e.selectedSet[code]; !ok {
		e.mu.Unlock()
		return
	}
	e.removeLocked(code)
	summary := e.summaryLocked()
	entry := e.historyEntryLocked(domain.ActionDeselect, code)
	e.mu.Unlock()

	e.record(entry)
	e.notifyChange(summary)
}

// Toggle deselects the code if selected, otherwise behaves as Select.
// Toggling off always succeeds.
func (e *SelectionEngine) Toggle(code string) domain.ValidationResult {
	e.mu.Lock()
	_, selected := e.selectedSet[code]
	e.mu.Unlock()

	if selected {
		e.Deselect(code)
		return domain.ValidationResult{CanSelect: true, Conflicts: []domain.ConflictRule{}, Warnings: []string{}}
	}
	return e.Select(code)
}

// Clear empties the selection and records a single clear action.
func (e *SelectionEngine) Clear() {
	e.mu.Lock()
	e.selected = nil
	e.selectedSet = map[string]struct{}{}
	summary := e.summaryLocked()
	entry := e.historyEntryLocked(domain.ActionClear, "")
	e.mu.Unlock()

	e.record(entry)
	e.notifyChange(summary)
}

// CodeState classifies one code for display. First match wins: selected,
// blocked (a blocking rule would fire), conflict (only warning-severity rules
// would fire), compatible (listed in a selected code's compatibility list),
// available.
func (e *SelectionEngine) CodeState(code string) domain.CodeSelectionState {
	e.mu.Lock()
	defer e.mu.Unlock()

	if _, ok := e.selectedSet[code]; ok {
		return domain.StateSelected
	}
	res, warningRules := e.validateLocked(code)
	if len(res.Conflicts) > 0 {
		return domain.StateBlocked
	}
	if warningRules > 0 {
		return domain.StateConflict
	}
	for _, sel := range e.selected {
		if rec, ok := e.index[sel]; ok && containsString(rec.CompatibleWith, code) {
			return domain.StateCompatible
		}
	}
	return domain.StateAvailable
}

// CodeStates classifies every code in the current recommendation set.
func (e *SelectionEngine) CodeStates() map[string]domain.CodeSelectionState {
	states := make(map[string]domain.CodeSelectionState)
	for _, rec := range e.Recommendations() {
		states[rec.Code] = e.CodeState(rec.Code)
	}
	return states
}

// Summary returns the derived selection summary, recomputed from live state.
func (e *SelectionEngine) Summary() domain.SelectionSummary {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.summaryLocked()
}

// Validation re-checks the whole current selection. Under normal operation no
// selected pair can hold an active blocking rule; this catches
// externally-forced state such as a loaded preset.
func (e *SelectionEngine) Validation() domain.SelectionValidation {
	e.mu.Lock()
	defer e.mu.Unlock()

	v := domain.SelectionValidation{IsValid: true, BlockingConflicts: []domain.ConflictRule{}}
	set := asSet(e.selected)
	for _, code := range e.selected {
		rec, ok := e.index[code]
		if !ok {
			continue
		}
		for i := range rec.ConflictRules {
			rule := &rec.ConflictRules[i]
			if rule.Severity != domain.SeverityBlocking || !ruleApplies(rule, set) {
				continue
			}
			if !containsRule(v.BlockingConflicts, rule) {
				v.IsValid = false
				v.BlockingConflicts = append(v.BlockingConflicts, *rule)
			}
		}
	}
	return v
}

// Snapshot returns the serializable view of the current selection, including
// every active conflict, for exporters and presets.
func (e *SelectionEngine) Snapshot() domain.SelectionSnapshot {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.snapshotLocked()
}

// SelectedCodes returns the selected codes in insertion order.
func (e *SelectionEngine) SelectedCodes() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]string, len(e.selected))
	copy(out, e.selected)
	return out
}

// ReplaceSelection swaps the whole selection for the given codes, bypassing
// per-code validation, and records the given action. Used by preset loading,
// which replaces the live selection wholesale rather than merging.
func (e *SelectionEngine) ReplaceSelection(codes []string, action domain.HistoryAction) {
	e.mu.Lock()
	e.selected = nil
	e.selectedSet = map[string]struct{}{}
	for _, c := range codes {
		if _, dup := e.selectedSet[c]; dup {
			continue
		}
		e.selected = append(e.selected, c)
		e.selectedSet[c] = struct{}{}
	}
	summary := e.summaryLocked()
	entry := e.historyEntryLocked(action, "")
	e.mu.Unlock()

	e.record(entry)
	e.notifyChange(summary)
}

// Subscribe registers a selection-change callback and returns its
// unsubscribe function.
func (e *SelectionEngine) Subscribe(fn func(domain.SelectionSummary)) func() {
	e.subMu.Lock()
	id := e.nextSubID
	e.nextSubID++
	e.changeSubs[id] = fn
	e.subMu.Unlock()

	return func() {
		e.subMu.Lock()
		delete(e.changeSubs, id)
		e.subMu.Unlock()
	}
}

// SubscribeConflicts registers a conflict-detected callback and returns its
// unsubscribe function.
func (e *SelectionEngine) SubscribeConflicts(fn func(domain.ValidationResult)) func() {
	e.subMu.Lock()
	id := e.nextSubID
	e.nextSubID++
	e.conflictSubs[id] = fn
	e.subMu.Unlock()

	return func() {
		e.subMu.Lock()
		delete(e.conflictSubs, id)
		e.subMu.Unlock()
	}
}

// Internal helpers. All *Locked methods require e.mu held.

func (e *SelectionEngine) summaryLocked() domain.SelectionSummary {
	codes := make([]string, len(e.selected))
	copy(codes, e.selected)
	return domain.SelectionSummary{
		SelectedCount: len(codes),
		TotalFee:      e.totalFeeLocked(),
		SelectedCodes: codes,
	}
}

// totalFeeLocked recomputes the fee sum from scratch on every call. There is
// deliberately no cached running total to drift.
func (e *SelectionEngine) totalFeeLocked() float64 {
	var total float64
	for _, code := range e.selected {
		if rec, ok := e.index[code]; ok {
			total += rec.ScheduleFee
		}
	}
	return roundFee(total)
}

func (e *SelectionEngine) snapshotLocked() domain.SelectionSnapshot {
	codes := make([]string, len(e.selected))
	copy(codes, e.selected)
	return domain.SelectionSnapshot{
		SelectedCodes: codes,
		TotalFee:      e.totalFeeLocked(),
		Conflicts:     activeConflicts(e.index, e.selected),
	}
}

func (e *SelectionEngine) historyEntryLocked(action domain.HistoryAction, code string) *domain.HistoryEntry {
	return &domain.HistoryEntry{
		ID:        uuid.New().String(),
		Timestamp: time.Now().UTC(),
		Action:    action,
		Code:      code,
		Resulting: domain.SelectionSnapshot{
			SelectedCodes: append([]string(nil), e.selected...),
			TotalFee:      e.totalFeeLocked(),
		},
	}
}

func (e *SelectionEngine) record(entry *domain.HistoryEntry) {
	if e.history == nil || entry == nil {
		return
	}
	e.history.Add(*entry)
}

func (e *SelectionEngine) indexLocked(code string) int {
	for i, c := range e.selected {
		if c == code {
			return i
		}
	}
	return -1
}

func (e *SelectionEngine) insertLocked(code string, i int) {
	if i < 0 || i > len(e.selected) {
		i = len(e.selected)
	}
	e.selected = append(e.selected, "")
	copy(e.selected[i+1:], e.selected[i:])
	e.selected[i] = code
	e.selectedSet[code] = struct{}{}
}

func (e *SelectionEngine) removeLocked(code string) {
	delete(e.selectedSet, code)
	for i, c := range e.selected {
		if c == code {
			e.selected = append(e.selected[:i], e.selected[i+1:]...)
			return
		}
	}
}

func (e *SelectionEngine) notifyChange(summary domain.SelectionSummary) {
	e.subMu.Lock()
	subs := make([]func(domain.SelectionSummary), 0, len(e.changeSubs))
	for _, fn := range e.changeSubs {
		subs = append(subs, fn)
	}
	e.subMu.Unlock()

	for _, fn := range subs {
		fn(summary)
	}
}

func (e *SelectionEngine) notifyConflict(res domain.ValidationResult) {
	e.subMu.Lock()
	subs := make([]func(domain.ValidationResult), 0, len(e.conflictSubs))
	for _, fn := range e.conflictSubs {
		subs = append(subs, fn)
	}
	e.subMu.Unlock()

	for _, fn := range subs {
		fn(res)
	}
}

// roundFee normalises a fee sum to two-decimal currency units.
func roundFee(v float64) float64 {
	return math.Round(v*100) / 100
}
