package domain

// IsValid validates the conflict severity.
func (s ConflictSeverity) IsValid() bool {
	switch s {
	case SeverityBlocking, SeverityWarning:
		return true
	default:
		return false
	}
}

// String returns the string representation of the severity.
func (s ConflictSeverity) String() string {
	return string(s)
}

// IsValid validates the conflict reason.
func (r ConflictReason) IsValid() bool {
	switch r {
	case ReasonMutuallyExclusive, ReasonFrequencyLimit, ReasonBundledService, ReasonContextMismatch:
		return true
	default:
		return false
	}
}

// IsValid validates the clinical context against the backend contract.
func (c ClinicalContext) IsValid() bool {
	switch c {
	case ContextGeneralPractice, ContextEmergencyDepartment, ContextSpecialist,
		ContextMentalHealth, ContextTelehealth, ContextOther:
		return true
	default:
		return false
	}
}

// String returns the string representation of the clinical context.
func (c ClinicalContext) String() string {
	return string(c)
}

// IsValid validates the confidence tier name.
func (t ConfidenceTier) IsValid() bool {
	switch t {
	case TierHigh, TierMedium, TierLow:
		return true
	default:
		return false
	}
}

// Contains reports whether a confidence value falls in this tier's band.
func (t ConfidenceTier) Contains(confidence float64) bool {
	switch t {
	case TierHigh:
		return confidence >= HighConfidenceThreshold
	case TierMedium:
		return confidence >= MediumConfidenceThreshold && confidence < HighConfidenceThreshold
	case TierLow:
		return confidence < MediumConfidenceThreshold
	default:
		return false
	}
}

// IsValid validates the history action.
func (a HistoryAction) IsValid() bool {
	switch a {
	case ActionSelect, ActionDeselect, ActionClear,
		ActionBulkSelectAll, ActionBulkSelectTier, ActionBulkCompatible, ActionBulkInvert,
		ActionPresetLoad, ActionOptimisationApply:
		return true
	default:
		return false
	}
}

// IsValid validates the suggestion type.
func (s SuggestionType) IsValid() bool {
	switch s {
	case SuggestMaximizeFee, SuggestMinimizeConflicts, SuggestUpgradeCodes, SuggestAddCompatible:
		return true
	default:
		return false
	}
}

// String returns the string representation of the suggestion type.
func (s SuggestionType) String() string {
	return string(s)
}
