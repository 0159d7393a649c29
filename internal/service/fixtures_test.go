package service

import (
	"io"

	"github.com/sirupsen/logrus"

	"github.com/mbs-selection-server/internal/domain"
)

// testRecommendations returns the standard consultation fixture: two mutually
// exclusive attendance items (36 and 44), a compatible add-on (177), and a
// frequency-limited pair (721 and 723).
func testRecommendations() []domain.Recommendation {
	return []domain.Recommendation{
		{
			Code:        "36",
			Description: "Level C consultation",
			Category:    "attendance",
			ScheduleFee: 75.05,
			Confidence:  0.92,
			ConflictRules: []domain.ConflictRule{
				{
					ConflictingCodes: []string{"36", "44"},
					Reason:           domain.ReasonMutuallyExclusive,
					Severity:         domain.SeverityBlocking,
					Message:          "Items 36 and 44 cannot be billed for the same attendance",
				},
			},
			CompatibleWith: []string{"177"},
		},
		{
			Code:        "44",
			Description: "Level D consultation",
			Category:    "attendance",
			ScheduleFee: 105.55,
			Confidence:  0.71,
			ConflictRules: []domain.ConflictRule{
				{
					ConflictingCodes: []string{"36", "44"},
					Reason:           domain.ReasonMutuallyExclusive,
					Severity:         domain.SeverityBlocking,
					Message:          "Items 36 and 44 cannot be billed for the same attendance",
				},
			},
			CompatibleWith: []string{"177"},
		},
		{
			Code:           "177",
			Description:    "Therapeutic procedure",
			Category:       "procedure",
			ScheduleFee:    45.05,
			Confidence:     0.85,
			CompatibleWith: []string{"36", "44", "721"},
		},
		{
			Code:        "721",
			Description: "GP management plan",
			Category:    "chronic_disease",
			ScheduleFee: 85.40,
			Confidence:  0.65,
			ConflictRules: []domain.ConflictRule{
				{
					ConflictingCodes: []string{"721", "723"},
					Reason:           domain.ReasonFrequencyLimit,
					Severity:         domain.SeverityWarning,
					Message:          "Items 721 and 723 are subject to combined frequency limits",
				},
			},
		},
		{
			Code:        "723",
			Description: "Team care arrangement",
			Category:    "chronic_disease",
			ScheduleFee: 45.20,
			Confidence:  0.55,
			ConflictRules: []domain.ConflictRule{
				{
					ConflictingCodes: []string{"721", "723"},
					Reason:           domain.ReasonFrequencyLimit,
					Severity:         domain.SeverityWarning,
					Message:          "Items 721 and 723 are subject to combined frequency limits",
				},
			},
		},
	}
}

// recordingHistory captures entries for assertions.
type recordingHistory struct {
	entries []domain.HistoryEntry
}

func (h *recordingHistory) Add(entry domain.HistoryEntry) {
	h.entries = append(h.entries, entry)
}

func testLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

func newTestEngine(cfg EngineConfig, history HistoryRecorder) *SelectionEngine {
	e := NewSelectionEngine(cfg, history, testLogger())
	e.SetRecommendations(testRecommendations())
	return e
}
