package service

import (
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/mbs-selection-server/internal/domain"
)

// BulkResult reports what one batch mutation did. Skipped codes failed
// validation against the selection as it stood when they were processed.
type BulkResult struct {
	Added   []string `json:"added"`
	Removed []string `json:"removed"`
	Skipped []string `json:"skipped"`
}

// Bulk operations process recommendations strictly in input order,
// first-come-first-served: a code that conflicts with an earlier pick in the
// same batch is skipped, never retried. The resulting selection is the
// maximal non-conflicting prefix achievable in that order. This greedy,
// order-dependent policy is the authoritative behaviour; it is not an
// approximation of an optimal-subset algorithm.
//
// Every batch records exactly one aggregated history entry and emits exactly
// one selection-change notification.

// SelectAll attempts to select every recommendation in list order.
func (e *SelectionEngine) SelectAll() BulkResult {
	return e.bulkSelect(domain.ActionBulkSelectAll, func(rec *domain.Recommendation) bool {
		return true
	})
}

// SelectByTier selects every recommendation whose confidence falls in the
// named tier, using the same greedy conflict-aware pass as SelectAll.
func (e *SelectionEngine) SelectByTier(tier domain.ConfidenceTier) (BulkResult, error) {
	if !tier.IsValid() {
		return BulkResult{}, fmt.Errorf("%w: %q", domain.ErrInvalidTier, tier)
	}
	return e.bulkSelect(domain.ActionBulkSelectTier, func(rec *domain.Recommendation) bool {
		return tier.Contains(rec.Confidence)
	}), nil
}

// SelectCompatibleSubset greedily adds, in list order, every code listed in a
// currently-selected code's compatibility list that also independently passes
// validation. The selected set grows as codes are added, so later candidates
// see earlier additions.
func (e *SelectionEngine) SelectCompatibleSubset() BulkResult {
	e.mu.Lock()
	result := BulkResult{}
	for i := range e.recs {
		code := e.recs[i].Code
		if _, ok := e.selectedSet[code]; ok {
			continue
		}
		if !e.compatibleWithSelectionLocked(code) {
			continue
		}
		if res, _ := e.validateLocked(code); res.CanSelect {
			e.selected = append(e.selected, code)
			e.selectedSet[code] = struct{}{}
			result.Added = append(result.Added, code)
		} else {
			result.Skipped = append(result.Skipped, code)
		}
	}
	summary, entry := e.finishBulkLocked(domain.ActionBulkCompatible)
	e.mu.Unlock()

	e.completeBulk(domain.ActionBulkCompatible, result, summary, entry)
	return result
}

// InvertSelection deselects every selected recommendation and attempts to
// select every unselected one, in list order.
func (e *SelectionEngine) InvertSelection() BulkResult {
	e.mu.Lock()
	result := BulkResult{}
	for i := range e.recs {
		code := e.recs[i].Code
		if _, ok := e.selectedSet[code]; ok {
			e.removeLocked(code)
			result.Removed = append(result.Removed, code)
			continue
		}
		if res, _ := e.validateLocked(code); res.CanSelect {
			e.selected = append(e.selected, code)
			e.selectedSet[code] = struct{}{}
			result.Added = append(result.Added, code)
		} else {
			result.Skipped = append(result.Skipped, code)
		}
	}
	summary, entry := e.finishBulkLocked(domain.ActionBulkInvert)
	e.mu.Unlock()

	e.completeBulk(domain.ActionBulkInvert, result, summary, entry)
	return result
}

// ClearAll empties the selection. Equivalent to Clear.
func (e *SelectionEngine) ClearAll() {
	e.Clear()
}

// bulkSelect runs the shared greedy pass over recommendations matching the
// filter.
func (e *SelectionEngine) bulkSelect(action domain.HistoryAction, match func(*domain.Recommendation) bool) BulkResult {
	e.mu.Lock()
	result := BulkResult{}
	for i := range e.recs {
		rec := &e.recs[i]
		if !match(rec) {
			continue
		}
		if _, ok := e.selectedSet[rec.Code]; ok {
			continue
		}
		if res, _ := e.validateLocked(rec.Code); res.CanSelect {
			e.selected = append(e.selected, rec.Code)
			e.selectedSet[rec.Code] = struct{}{}
			result.Added = append(result.Added, rec.Code)
		} else {
			result.Skipped = append(result.Skipped, rec.Code)
		}
	}
	summary, entry := e.finishBulkLocked(action)
	e.mu.Unlock()

	e.completeBulk(action, result, summary, entry)
	return result
}

func (e *SelectionEngine) compatibleWithSelectionLocked(code string) bool {
	for _, sel := range e.selected {
		if rec, ok := e.index[sel]; ok && containsString(rec.CompatibleWith, code) {
			return true
		}
	}
	return false
}

func (e *SelectionEngine) finishBulkLocked(action domain.HistoryAction) (domain.SelectionSummary, *domain.HistoryEntry) {
	return e.summaryLocked(), e.historyEntryLocked(action, "")
}

func (e *SelectionEngine) completeBulk(action domain.HistoryAction, result BulkResult, summary domain.SelectionSummary, entry *domain.HistoryEntry) {
	e.logger.WithFields(logrus.Fields{
		"action":  string(action),
		"added":   len(result.Added),
		"removed": len(result.Removed),
		"skipped": len(result.Skipped),
	}).Debug("Bulk operation completed")
	e.record(entry)
	e.notifyChange(summary)
}
