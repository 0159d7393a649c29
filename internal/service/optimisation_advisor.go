package service

import (
	"fmt"
	"sort"

	"github.com/sirupsen/logrus"

	"github.com/mbs-selection-server/internal/domain"
)

// CodeGrouper decides which recommendations belong to the same service
// grouping for upgrade proposals. The MBS data does not always carry an
// explicit group field, so the rule is pluggable; the default groups by the
// backend-supplied category.
type CodeGrouper func(*domain.Recommendation) string

// CategoryGrouper groups recommendations by their category field.
func CategoryGrouper(rec *domain.Recommendation) string {
	return rec.Category
}

// Advisor computes read-only optimisation suggestions over a selection. It
// never mutates the engine; applying a suggestion is a separate,
// engine-mediated operation.
type Advisor struct {
	grouper CodeGrouper
	logger  *logrus.Logger
}

// NewAdvisor creates an advisor. A nil grouper falls back to CategoryGrouper.
func NewAdvisor(grouper CodeGrouper, logger *logrus.Logger) *Advisor {
	if grouper == nil {
		grouper = CategoryGrouper
	}
	if logger == nil {
		logger = logrus.New()
	}
	return &Advisor{grouper: grouper, logger: logger}
}

// Advise produces one suggestion of the given type for the engine's current
// selection and recommendation set.
func (a *Advisor) Advise(e *SelectionEngine, t domain.SuggestionType) (*domain.OptimisationSuggestion, error) {
	if !t.IsValid() {
		return nil, fmt.Errorf("%w: %q", domain.ErrInvalidSuggestion, t)
	}

	recs := e.Recommendations()
	selected := e.SelectedCodes()
	index := buildIndex(recs)

	var s *domain.OptimisationSuggestion
	switch t {
	case domain.SuggestMaximizeFee:
		s = a.maximizeFee(index, recs, selected)
	case domain.SuggestUpgradeCodes:
		s = a.upgradeCodes(index, recs, selected)
	case domain.SuggestAddCompatible:
		s = a.addCompatible(index, recs, selected)
	case domain.SuggestMinimizeConflicts:
		s = a.minimizeConflicts(index, recs, selected)
	}

	a.logger.WithFields(logrus.Fields{
		"type":        t.String(),
		"changes":     len(s.Changes),
		"improvement": s.Improvement,
	}).Debug("Computed optimisation suggestion")
	return s, nil
}

// maximizeFee greedily adds the highest-fee unselected codes that introduce
// no blocking conflict, highest fee first, list order on ties.
func (a *Advisor) maximizeFee(index recommendationIndex, recs []domain.Recommendation, selected []string) *domain.OptimisationSuggestion {
	currentFee := totalFee(index, selected)
	s := newSuggestion(domain.SuggestMaximizeFee, currentFee)

	selSet := asSet(selected)
	candidates := make([]*domain.Recommendation, 0, len(recs))
	for i := range recs {
		if _, ok := selSet[recs[i].Code]; !ok {
			candidates = append(candidates, &recs[i])
		}
	}
	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].ScheduleFee > candidates[j].ScheduleFee
	})

	simulated := append([]string(nil), selected...)
	var confidences []float64
	for _, cand := range candidates {
		if blocksSelection(index, simulated, cand.Code) {
			continue
		}
		simulated = append(simulated, cand.Code)
		confidences = append(confidences, cand.Confidence)
		s.Changes = append(s.Changes, domain.SuggestionChange{
			Action:      domain.ChangeAdd,
			Code:        cand.Code,
			Description: cand.Description,
			Reason:      fmt.Sprintf("adds %.2f in schedule fees without a blocking conflict", cand.ScheduleFee),
		})
	}

	s.SuggestedFee = totalFee(index, simulated)
	s.Improvement = roundFee(s.SuggestedFee - s.CurrentFee)
	s.Confidence = meanConfidence(confidences)
	return s
}

// upgradeCodes proposes replacing each selected code with the highest-fee
// code in the same grouping that would not introduce a blocking conflict.
func (a *Advisor) upgradeCodes(index recommendationIndex, recs []domain.Recommendation, selected []string) *domain.OptimisationSuggestion {
	currentFee := totalFee(index, selected)
	s := newSuggestion(domain.SuggestUpgradeCodes, currentFee)

	simulated := append([]string(nil), selected...)
	var confidences []float64
	for _, code := range selected {
		current, ok := index[code]
		if !ok {
			continue
		}
		var upgrade *domain.Recommendation
		for i := range recs {
			cand := &recs[i]
			if cand.Code == code || containsString(simulated, cand.Code) {
				continue
			}
			if a.grouper(cand) != a.grouper(current) {
				continue
			}
			if cand.ScheduleFee <= current.ScheduleFee {
				continue
			}
			if upgrade != nil && cand.ScheduleFee <= upgrade.ScheduleFee {
				continue
			}
			without := removeCode(simulated, code)
			if blocksSelection(index, without, cand.Code) {
				continue
			}
			upgrade = cand
		}
		if upgrade == nil {
			continue
		}
		simulated = append(removeCode(simulated, code), upgrade.Code)
		confidences = append(confidences, upgrade.Confidence)
		s.Changes = append(s.Changes, domain.SuggestionChange{
			Action:         domain.ChangeReplace,
			Code:           upgrade.Code,
			ReplacementFor: code,
			Description:    upgrade.Description,
			Reason: fmt.Sprintf("same %s grouping, %.2f higher schedule fee",
				a.grouper(current), upgrade.ScheduleFee-current.ScheduleFee),
		})
	}

	s.SuggestedFee = totalFee(index, simulated)
	s.Improvement = roundFee(s.SuggestedFee - s.CurrentFee)
	s.Confidence = meanConfidence(confidences)
	return s
}

// addCompatible proposes adding every code in a selected code's compatibility
// list that is not selected and passes the blocking check.
func (a *Advisor) addCompatible(index recommendationIndex, recs []domain.Recommendation, selected []string) *domain.OptimisationSuggestion {
	currentFee := totalFee(index, selected)
	s := newSuggestion(domain.SuggestAddCompatible, currentFee)

	compat := make(map[string]string) // candidate -> selected code listing it
	for _, sel := range selected {
		rec, ok := index[sel]
		if !ok {
			continue
		}
		for _, c := range rec.CompatibleWith {
			if _, seen := compat[c]; !seen {
				compat[c] = sel
			}
		}
	}

	simulated := append([]string(nil), selected...)
	var confidences []float64
	for i := range recs {
		cand := &recs[i]
		listedBy, ok := compat[cand.Code]
		if !ok || containsString(simulated, cand.Code) {
			continue
		}
		if blocksSelection(index, simulated, cand.Code) {
			continue
		}
		simulated = append(simulated, cand.Code)
		confidences = append(confidences, cand.Confidence)
		s.Changes = append(s.Changes, domain.SuggestionChange{
			Action:      domain.ChangeAdd,
			Code:        cand.Code,
			Description: cand.Description,
			Reason:      fmt.Sprintf("listed as compatible with selected code %s", listedBy),
		})
	}

	s.SuggestedFee = totalFee(index, simulated)
	s.Improvement = roundFee(s.SuggestedFee - s.CurrentFee)
	s.Confidence = meanConfidence(confidences)
	return s
}

// minimizeConflicts proposes removing the losing member of each actively
// conflicting pair: lower confidence loses, then lower fee, then the code
// later in the recommendation list.
func (a *Advisor) minimizeConflicts(index recommendationIndex, recs []domain.Recommendation, selected []string) *domain.OptimisationSuggestion {
	currentFee := totalFee(index, selected)
	s := newSuggestion(domain.SuggestMinimizeConflicts, currentFee)

	listPos := make(map[string]int, len(recs))
	for i := range recs {
		listPos[recs[i].Code] = i
	}

	totalPairs := conflictPairCount(index, selected)
	if totalPairs == 0 {
		s.SuggestedFee = currentFee
		return s
	}

	set := asSet(selected)
	removed := map[string]struct{}{}
	seenPairs := map[string]struct{}{}
	for _, code := range selected {
		rec, ok := index[code]
		if !ok {
			continue
		}
		for i := range rec.ConflictRules {
			rule := &rec.ConflictRules[i]
			if !ruleApplies(rule, set) {
				continue
			}
			for _, other := range rule.ConflictingCodes {
				if other == code {
					continue
				}
				key := pairKey(code, other)
				if _, done := seenPairs[key]; done {
					continue
				}
				seenPairs[key] = struct{}{}
				if _, gone := removed[code]; gone {
					continue
				}
				if _, gone := removed[other]; gone {
					continue
				}
				loser := pickLoser(index, listPos, code, other)
				removed[loser] = struct{}{}
				s.Changes = append(s.Changes, domain.SuggestionChange{
					Action:      domain.ChangeRemove,
					Code:        loser,
					Description: describeCode(index, loser),
					Reason:      fmt.Sprintf("conflicts with %s: %s", otherOf(loser, code, other), rule.Message),
				})
			}
		}
	}

	remaining := make([]string, 0, len(selected))
	for _, code := range selected {
		if _, gone := removed[code]; !gone {
			remaining = append(remaining, code)
		}
	}
	s.SuggestedFee = totalFee(index, remaining)
	s.Improvement = roundFee(s.SuggestedFee - s.CurrentFee)
	resolved := totalPairs - conflictPairCount(index, remaining)
	s.Confidence = float64(resolved) / float64(totalPairs)
	return s
}

// pickLoser returns the member of a conflicting pair to remove.
func pickLoser(index recommendationIndex, listPos map[string]int, a, b string) string {
	ra, okA := index[a]
	rb, okB := index[b]
	switch {
	case !okA:
		return a
	case !okB:
		return b
	case ra.Confidence != rb.Confidence:
		if ra.Confidence < rb.Confidence {
			return a
		}
		return b
	case ra.ScheduleFee != rb.ScheduleFee:
		if ra.ScheduleFee < rb.ScheduleFee {
			return a
		}
		return b
	case listPos[a] > listPos[b]:
		return a
	default:
		return b
	}
}

func otherOf(loser, a, b string) string {
	if loser == a {
		return b
	}
	return a
}

func describeCode(index recommendationIndex, code string) string {
	if rec, ok := index[code]; ok {
		return rec.Description
	}
	return ""
}

func newSuggestion(t domain.SuggestionType, currentFee float64) *domain.OptimisationSuggestion {
	return &domain.OptimisationSuggestion{
		Type:       t,
		CurrentFee: currentFee,
		Changes:    []domain.SuggestionChange{},
	}
}

func totalFee(index recommendationIndex, codes []string) float64 {
	var total float64
	for _, code := range codes {
		if rec, ok := index[code]; ok {
			total += rec.ScheduleFee
		}
	}
	return roundFee(total)
}

func meanConfidence(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	var sum float64
	for _, v := range values {
		sum += v
	}
	return sum / float64(len(values))
}

func removeCode(codes []string, code string) []string {
	out := make([]string, 0, len(codes))
	for _, c := range codes {
		if c != code {
			out = append(out, c)
		}
	}
	return out
}

// ApplyResult reports the outcome of replaying a suggestion through the
// normal selection path.
type ApplyResult struct {
	Applied []domain.SuggestionChange `json:"applied"`
	Failed  []FailedChange            `json:"failed"`
}

// FailedChange is one suggestion change that did not re-validate at apply
// time.
type FailedChange struct {
	Change domain.SuggestionChange `json:"change"`
	Result domain.ValidationResult `json:"result"`
}

// ApplyOptimisation replays a suggestion's changes through the engine's
// validation path. A suggestion computed against a stale selection may
// legitimately fail in part; failed changes are reported, not fatal, and
// never abort the remainder. The batch records one history entry and emits
// one change notification.
func (e *SelectionEngine) ApplyOptimisation(s *domain.OptimisationSuggestion) ApplyResult {
	result := ApplyResult{}

	e.mu.Lock()
	for _, change := range s.Changes {
		switch change.Action {
		case domain.ChangeRemove:
			if _, ok := e.selectedSet[change.Code]; !ok {
				result.Failed = append(result.Failed, FailedChange{
					Change: change,
					Result: domain.ValidationResult{
						CanSelect: false,
						Conflicts: []domain.ConflictRule{},
						Warnings:  []string{fmt.Sprintf("code %s is not selected", change.Code)},
					},
				})
				continue
			}
			e.removeLocked(change.Code)
			result.Applied = append(result.Applied, change)

		case domain.ChangeReplace:
			origIdx := -1
			if _, ok := e.selectedSet[change.ReplacementFor]; ok {
				origIdx = e.indexLocked(change.ReplacementFor)
				e.removeLocked(change.ReplacementFor)
			}
			if res, _ := e.validateLocked(change.Code); res.CanSelect {
				e.selected = append(e.selected, change.Code)
				e.selectedSet[change.Code] = struct{}{}
				result.Applied = append(result.Applied, change)
			} else {
				// Put the original back so a rejected replacement does not
				// shrink the selection.
				if origIdx >= 0 {
					e.insertLocked(change.ReplacementFor, origIdx)
				}
				result.Failed = append(result.Failed, FailedChange{Change: change, Result: res})
			}

		case domain.ChangeAdd:
			if _, ok := e.selectedSet[change.Code]; ok {
				continue
			}
			if res, _ := e.validateLocked(change.Code); res.CanSelect {
				e.selected = append(e.selected, change.Code)
				e.selectedSet[change.Code] = struct{}{}
				result.Applied = append(result.Applied, change)
			} else {
				result.Failed = append(result.Failed, FailedChange{Change: change, Result: res})
			}
		}
	}
	summary, entry := e.finishBulkLocked(domain.ActionOptimisationApply)
	e.mu.Unlock()

	e.logger.WithFields(logrus.Fields{
		"type":    s.Type.String(),
		"applied": len(result.Applied),
		"failed":  len(result.Failed),
	}).Info("Applied optimisation suggestion")
	e.record(entry)
	e.notifyChange(summary)
	return result
}
