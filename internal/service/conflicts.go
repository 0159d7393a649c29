// Package service implements the MBS code selection engine and its satellite
// modules: bulk operations, the optimisation advisor and selection comparison.
package service

import (
	"github.com/mbs-selection-server/internal/domain"
)

// recommendationIndex maps codes to their records for the current analysis
// result.
type recommendationIndex map[string]*domain.Recommendation

func buildIndex(recs []domain.Recommendation) recommendationIndex {
	index := make(recommendationIndex, len(recs))
	for i := range recs {
		index[recs[i].Code] = &recs[i]
	}
	return index
}

// ruleApplies reports whether every code the rule names is present in the
// given code set. Rules with no conflicting codes are malformed and never
// apply.
func ruleApplies(rule *domain.ConflictRule, codes map[string]struct{}) bool {
	if len(rule.ConflictingCodes) == 0 {
		return false
	}
	for _, c := range rule.ConflictingCodes {
		if _, ok := codes[c]; !ok {
			return false
		}
	}
	return true
}

// ruleNames reports whether the rule lists the given code as conflicting.
func ruleNames(rule *domain.ConflictRule, code string) bool {
	for _, c := range rule.ConflictingCodes {
		if c == code {
			return true
		}
	}
	return false
}

// sameRule treats two rules as duplicates when the two-direction scan
// surfaces the mirrored copy of a pair.
func sameRule(a, b *domain.ConflictRule) bool {
	return a.Severity == b.Severity && a.Reason == b.Reason && a.Message == b.Message
}

func containsRule(rules []domain.ConflictRule, rule *domain.ConflictRule) bool {
	for i := range rules {
		if sameRule(&rules[i], rule) {
			return true
		}
	}
	return false
}

func containsString(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

func asSet(codes []string) map[string]struct{} {
	set := make(map[string]struct{}, len(codes))
	for _, c := range codes {
		set[c] = struct{}{}
	}
	return set
}

// blocksSelection reports whether adding candidate to the selected codes
// would activate any blocking rule, scanning both the candidate's record and
// every selected record, so an unmirrored rule still blocks.
func blocksSelection(index recommendationIndex, selected []string, candidate string) bool {
	union := asSet(selected)
	union[candidate] = struct{}{}

	if rec, ok := index[candidate]; ok {
		for i := range rec.ConflictRules {
			rule := &rec.ConflictRules[i]
			if rule.Severity == domain.SeverityBlocking && ruleApplies(rule, union) {
				return true
			}
		}
	}
	for _, sel := range selected {
		rec, ok := index[sel]
		if !ok {
			continue
		}
		for i := range rec.ConflictRules {
			rule := &rec.ConflictRules[i]
			if rule.Severity != domain.SeverityBlocking {
				continue
			}
			if ruleNames(rule, candidate) && ruleApplies(rule, union) {
				return true
			}
		}
	}
	return false
}

// activeConflicts returns every rule currently triggered by the given codes,
// one entry per owning record. The mirrored copy of a symmetric pair shows up
// under each owner.
func activeConflicts(index recommendationIndex, codes []string) []domain.ActiveConflict {
	set := asSet(codes)
	var active []domain.ActiveConflict
	for _, code := range codes {
		rec, ok := index[code]
		if !ok {
			continue
		}
		for i := range rec.ConflictRules {
			rule := &rec.ConflictRules[i]
			if ruleApplies(rule, set) {
				active = append(active, domain.ActiveConflict{Code: code, Rule: *rule})
			}
		}
	}
	return active
}

// conflictPairCount counts unique unordered conflicting pairs among the given
// codes, blocking and warning alike. Mirrored rules count once.
func conflictPairCount(index recommendationIndex, codes []string) int {
	set := asSet(codes)
	seen := make(map[string]struct{})
	for _, code := range codes {
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
				seen[key] = struct{}{}
			}
		}
	}
	return len(seen)
}

func pairKey(a, b string) string {
	if a < b {
		return a + "\x00" + b
	}
	return b + "\x00" + a
}
