// Package domain contains core business entities and types for Medicare
// Benefits Schedule (MBS) billing-code recommendation and selection.
//
// Recommendations are produced by an external analysis backend; everything in
// this package is the in-memory model the selection engine operates on.
package domain

import (
	"time"
)

// Core Enums and Types

// ConflictSeverity represents how a conflict between two codes is enforced.
type ConflictSeverity string

const (
	SeverityBlocking ConflictSeverity = "blocking"
	SeverityWarning  ConflictSeverity = "warning"
)

// ConflictReason represents why two codes conflict under MBS billing rules.
type ConflictReason string

const (
	ReasonMutuallyExclusive ConflictReason = "mutually_exclusive"
	ReasonFrequencyLimit    ConflictReason = "frequency_limit"
	ReasonBundledService    ConflictReason = "bundled_service"
	ReasonContextMismatch   ConflictReason = "context_mismatch"
)

// ClinicalContext represents the clinical setting of a consultation note.
type ClinicalContext string

const (
	ContextGeneralPractice     ClinicalContext = "general_practice"
	ContextEmergencyDepartment ClinicalContext = "emergency_department"
	ContextSpecialist          ClinicalContext = "specialist"
	ContextMentalHealth        ClinicalContext = "mental_health"
	ContextTelehealth          ClinicalContext = "telehealth"
	ContextOther               ClinicalContext = "other"
)

// ConfidenceTier represents a named confidence band used to filter bulk
// selection.
type ConfidenceTier string

const (
	TierHigh   ConfidenceTier = "high"
	TierMedium ConfidenceTier = "medium"
	TierLow    ConfidenceTier = "low"
)

// Confidence thresholds for the named tiers.
const (
	HighConfidenceThreshold   = 0.8
	MediumConfidenceThreshold = 0.6
)

// CodeSelectionState represents the display state of one code relative to the
// current selection.
type CodeSelectionState string

const (
	StateSelected   CodeSelectionState = "selected"
	StateBlocked    CodeSelectionState = "blocked"
	StateConflict   CodeSelectionState = "conflict"
	StateCompatible CodeSelectionState = "compatible"
	StateAvailable  CodeSelectionState = "available"
)

// HistoryAction represents the kind of selection-changing action recorded in
// the audit history.
type HistoryAction string

const (
	ActionSelect            HistoryAction = "select"
	ActionDeselect          HistoryAction = "deselect"
	ActionClear             HistoryAction = "clear"
	ActionBulkSelectAll     HistoryAction = "bulk_select_all"
	ActionBulkSelectTier    HistoryAction = "bulk_select_tier"
	ActionBulkCompatible    HistoryAction = "bulk_compatible"
	ActionBulkInvert        HistoryAction = "bulk_invert"
	ActionPresetLoad        HistoryAction = "preset_load"
	ActionOptimisationApply HistoryAction = "optimisation_apply"
)

// SuggestionType represents an optimisation strategy.
type SuggestionType string

const (
	SuggestMaximizeFee       SuggestionType = "maximize_fee"
	SuggestMinimizeConflicts SuggestionType = "minimize_conflicts"
	SuggestUpgradeCodes      SuggestionType = "upgrade_codes"
	SuggestAddCompatible     SuggestionType = "add_compatible"
)

// ChangeAction represents one mutation proposed by an optimisation suggestion.
type ChangeAction string

const (
	ChangeAdd     ChangeAction = "add"
	ChangeRemove  ChangeAction = "remove"
	ChangeReplace ChangeAction = "replace"
)

// Core Data Models

// ConflictRule describes a pairwise billing conflict carried on one
// recommendation. Rules are expected to be mirrored on both codes of a pair
// but the engine never assumes the backend enforces that.
type ConflictRule struct {
	ConflictingCodes []string         `json:"conflicting_codes"`
	Reason           ConflictReason   `json:"reason"`
	Severity         ConflictSeverity `json:"severity"`
	Message          string           `json:"message"`
}

// EvidenceSpan marks a region of the consultation note supporting a
// recommendation.
type EvidenceSpan struct {
	Start     int     `json:"start"`
	End       int     `json:"end"`
	Text      string  `json:"text"`
	Relevance float64 `json:"relevance"`
}

// Recommendation represents one candidate MBS billing code returned by the
// analysis backend. Immutable for the lifetime of one analysis result.
type Recommendation struct {
	Code           string         `json:"code"`
	Description    string         `json:"description"`
	Category       string         `json:"category"`
	ScheduleFee    float64        `json:"schedule_fee"`
	Confidence     float64        `json:"confidence"`
	Reasoning      string         `json:"reasoning,omitempty"`
	ConflictRules  []ConflictRule `json:"conflict_rules,omitempty"`
	CompatibleWith []string       `json:"compatible_with,omitempty"`
	EvidenceSpans  []EvidenceSpan `json:"evidence_spans,omitempty"`
}

// Tier returns the named confidence band this recommendation falls in.
func (r *Recommendation) Tier() ConfidenceTier {
	switch {
	case r.Confidence >= HighConfidenceThreshold:
		return TierHigh
	case r.Confidence >= MediumConfidenceThreshold:
		return TierMedium
	default:
		return TierLow
	}
}

// ActiveConflict pairs a triggered rule with the selected code whose record
// carries it.
type ActiveConflict struct {
	Code string       `json:"code"`
	Rule ConflictRule `json:"rule"`
}

// ValidationResult is the outcome of checking whether a code can join the
// current selection. Warnings never flip CanSelect on their own.
type ValidationResult struct {
	CanSelect bool           `json:"can_select"`
	Conflicts []ConflictRule `json:"conflicts"`
	Warnings  []string       `json:"warnings"`
}

// SelectionSummary is the derived, read-only view of the current selection.
// It is recomputed from live state on every read, never cached.
type SelectionSummary struct {
	SelectedCount int      `json:"selected_count"`
	TotalFee      float64  `json:"total_fee"`
	SelectedCodes []string `json:"selected_codes"`
}

// SelectionValidation is the whole-selection re-check: it reports false only
// if externally-forced state produced a selected pair with an active blocking
// rule.
type SelectionValidation struct {
	IsValid           bool           `json:"is_valid"`
	BlockingConflicts []ConflictRule `json:"blocking_conflicts"`
}

// SelectionSnapshot is the serializable view handed to exporters and recorded
// in history entries.
type SelectionSnapshot struct {
	SelectedCodes []string         `json:"selected_codes"`
	TotalFee      float64          `json:"total_fee"`
	Conflicts     []ActiveConflict `json:"conflicts,omitempty"`
}

// Preset is a named, durable snapshot of a code selection.
type Preset struct {
	ID            string    `json:"id"`
	Name          string    `json:"name"`
	Description   string    `json:"description,omitempty"`
	SelectedCodes []string  `json:"selected_codes"`
	CreatedAt     time.Time `json:"created_at"`
	ModifiedAt    time.Time `json:"modified_at"`
}

// HistoryEntry is one record in the append-only audit of selection-changing
// actions. Code is empty for clear and bulk actions.
type HistoryEntry struct {
	ID        string            `json:"id"`
	Timestamp time.Time         `json:"timestamp"`
	Action    HistoryAction     `json:"action"`
	Code      string            `json:"code,omitempty"`
	Resulting SelectionSnapshot `json:"resulting_selection"`
}

// SuggestionChange is one mutation proposed by the optimisation advisor.
type SuggestionChange struct {
	Action         ChangeAction `json:"action"`
	Code           string       `json:"code"`
	ReplacementFor string       `json:"replacement_for,omitempty"`
	Description    string       `json:"description"`
	Reason         string       `json:"reason"`
}

// OptimisationSuggestion is a transient, read-only proposal. Applying one is
// a separate engine-mediated operation that re-validates every change.
type OptimisationSuggestion struct {
	Type         SuggestionType     `json:"type"`
	CurrentFee   float64            `json:"current_fee"`
	SuggestedFee float64            `json:"suggested_fee"`
	Improvement  float64            `json:"improvement"`
	Changes      []SuggestionChange `json:"changes"`
	Confidence   float64            `json:"confidence"`
}

// ComparisonSide summarises one selection inside a comparison result.
type ComparisonSide struct {
	Label         string   `json:"label"`
	SelectedCodes []string `json:"selected_codes"`
	TotalFee      float64  `json:"total_fee"`
	ConflictCount int      `json:"conflict_count"`
}

// ComparisonResult is the delta between two selections. Each side's conflict
// count is evaluated against that side's codes alone.
type ComparisonResult struct {
	Selection1         ComparisonSide `json:"selection1"`
	Selection2         ComparisonSide `json:"selection2"`
	FeeDifference      float64        `json:"fee_difference"`
	UniqueToSelection1 []string       `json:"unique_to_selection1"`
	UniqueToSelection2 []string       `json:"unique_to_selection2"`
	CommonCodes        []string       `json:"common_codes"`
}
