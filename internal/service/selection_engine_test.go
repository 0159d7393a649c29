package service

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mbs-selection-server/internal/domain"
)

func TestSelectionEngine_Select(t *testing.T) {
	e := newTestEngine(EngineConfig{}, nil)

	res := e.Select("36")

	require.True(t, res.CanSelect)
	assert.Empty(t, res.Conflicts)
	assert.Empty(t, res.Warnings)

	summary := e.Summary()
	assert.Equal(t, 1, summary.SelectedCount)
	assert.InDelta(t, 75.05, summary.TotalFee, 0.001)
	assert.Equal(t, []string{"36"}, summary.SelectedCodes)
}

func TestSelectionEngine_Select_BlockingConflict(t *testing.T) {
	e := newTestEngine(EngineConfig{}, nil)

	require.True(t, e.Select("36").CanSelect)

	res := e.Select("44")

	assert.False(t, res.CanSelect)
	require.Len(t, res.Conflicts, 1)
	assert.Equal(t, domain.SeverityBlocking, res.Conflicts[0].Severity)
	assert.Equal(t, domain.ReasonMutuallyExclusive, res.Conflicts[0].Reason)

	// Failed selection leaves state untouched.
	summary := e.Summary()
	assert.Equal(t, 1, summary.SelectedCount)
	assert.InDelta(t, 75.05, summary.TotalFee, 0.001)
}

func TestSelectionEngine_Select_CompatiblePair(t *testing.T) {
	e := newTestEngine(EngineConfig{}, nil)

	require.True(t, e.Select("36").CanSelect)
	require.True(t, e.Select("177").CanSelect)

	summary := e.Summary()
	assert.Equal(t, 2, summary.SelectedCount)
	assert.InDelta(t, 120.10, summary.TotalFee, 0.001)
}

func TestSelectionEngine_Select_WarningPair(t *testing.T) {
	e := newTestEngine(EngineConfig{}, nil)

	require.True(t, e.Select("721").CanSelect)

	res := e.Select("723")

	assert.True(t, res.CanSelect, "warning conflicts must not block selection")
	assert.Empty(t, res.Conflicts)
	require.Len(t, res.Warnings, 1)
	assert.Contains(t, res.Warnings[0], "frequency limits")

	assert.Equal(t, 2, e.Summary().SelectedCount)
}

func TestSelectionEngine_Select_UnknownCode(t *testing.T) {
	e := newTestEngine(EngineConfig{}, nil)

	res := e.Select("99999")

	assert.False(t, res.CanSelect)
	assert.Empty(t, res.Conflicts)
	require.Len(t, res.Warnings, 1)
	assert.Contains(t, res.Warnings[0], "not found")
	assert.Equal(t, 0, e.Summary().SelectedCount)
}

func TestSelectionEngine_Select_AlreadySelected(t *testing.T) {
	history := &recordingHistory{}
	e := newTestEngine(EngineConfig{}, history)

	require.True(t, e.Select("36").CanSelect)
	entries := len(history.entries)

	res := e.Select("36")

	assert.True(t, res.CanSelect)
	assert.Equal(t, 1, e.Summary().SelectedCount)
	assert.Len(t, history.entries, entries, "re-selecting must not record history")
}

func TestSelectionEngine_Select_MaxCodes(t *testing.T) {
	e := newTestEngine(EngineConfig{MaxCodes: 1}, nil)

	require.True(t, e.Select("36").CanSelect)

	res := e.Select("177")

	assert.False(t, res.CanSelect)
	assert.Empty(t, res.Conflicts)
	require.Len(t, res.Warnings, 1)
	assert.Contains(t, res.Warnings[0], "Maximum 1 codes")
	assert.Equal(t, 1, e.Summary().SelectedCount)
}

func TestSelectionEngine_Deselect(t *testing.T) {
	e := newTestEngine(EngineConfig{}, nil)

	require.True(t, e.Select("36").CanSelect)
	require.True(t, e.Select("177").CanSelect)

	e.Deselect("36")

	summary := e.Summary()
	assert.Equal(t, []string{"177"}, summary.SelectedCodes)
	assert.InDelta(t, 45.05, summary.TotalFee, 0.001)
}

func TestSelectionEngine_Deselect_NotSelected(t *testing.T) {
	history := &recordingHistory{}
	e := newTestEngine(EngineConfig{}, history)

	e.Deselect("36")

	assert.Equal(t, 0, e.Summary().SelectedCount)
	assert.Empty(t, history.entries, "no-op deselect must not record history")
}

func TestSelectionEngine_Toggle(t *testing.T) {
	e := newTestEngine(EngineConfig{}, nil)

	res := e.Toggle("36")
	require.True(t, res.CanSelect)
	assert.Equal(t, 1, e.Summary().SelectedCount)

	res = e.Toggle("36")
	assert.True(t, res.CanSelect, "toggling off always succeeds")
	assert.Equal(t, 0, e.Summary().SelectedCount)
}

func TestSelectionEngine_Clear(t *testing.T) {
	history := &recordingHistory{}
	e := newTestEngine(EngineConfig{}, history)

	require.True(t, e.Select("36").CanSelect)
	require.True(t, e.Select("177").CanSelect)

	e.Clear()

	summary := e.Summary()
	assert.Equal(t, 0, summary.SelectedCount)
	assert.Zero(t, summary.TotalFee)

	last := history.entries[len(history.entries)-1]
	assert.Equal(t, domain.ActionClear, last.Action)
	assert.Empty(t, last.Code)
}

func TestSelectionEngine_CanSelect_DoesNotMutate(t *testing.T) {
	history := &recordingHistory{}
	e := newTestEngine(EngineConfig{}, history)

	res := e.CanSelect("36")

	assert.True(t, res.CanSelect)
	assert.Equal(t, 0, e.Summary().SelectedCount)
	assert.Empty(t, history.entries)
}

func TestSelectionEngine_AsymmetricRuleStillBlocks(t *testing.T) {
	// Rule carried only on code A naming B; the backend failed to mirror it.
	recs := []domain.Recommendation{
		{
			Code:        "A",
			ScheduleFee: 50,
			Confidence:  0.9,
			ConflictRules: []domain.ConflictRule{
				{
					ConflictingCodes: []string{"A", "B"},
					Reason:           domain.ReasonMutuallyExclusive,
					Severity:         domain.SeverityBlocking,
					Message:          "A and B cannot be combined",
				},
			},
		},
		{Code: "B", ScheduleFee: 60, Confidence: 0.8},
	}
	e := NewSelectionEngine(EngineConfig{}, nil, testLogger())
	e.SetRecommendations(recs)

	require.True(t, e.Select("A").CanSelect)

	res := e.Select("B")
	assert.False(t, res.CanSelect, "unmirrored rule must still block in both directions")
	require.Len(t, res.Conflicts, 1)
}

func TestSelectionEngine_CodeState(t *testing.T) {
	e := newTestEngine(EngineConfig{}, nil)

	require.True(t, e.Select("36").CanSelect)
	require.True(t, e.Select("721").CanSelect)

	assert.Equal(t, domain.StateSelected, e.CodeState("36"))
	assert.Equal(t, domain.StateBlocked, e.CodeState("44"))
	assert.Equal(t, domain.StateConflict, e.CodeState("723"))
	assert.Equal(t, domain.StateCompatible, e.CodeState("177"))
	assert.Equal(t, domain.StateAvailable, e.CodeState("99999"))
}

func TestSelectionEngine_CodeState_CapacityDoesNotMeanConflict(t *testing.T) {
	e := newTestEngine(EngineConfig{MaxCodes: 1}, nil)

	require.True(t, e.Select("36").CanSelect)

	// 177 cannot be added only because of the capacity limit; that is not a
	// conflict state.
	assert.Equal(t, domain.StateCompatible, e.CodeState("177"))
	assert.Equal(t, domain.StateAvailable, e.CodeState("723"))
}

func TestSelectionEngine_CodeStates(t *testing.T) {
	e := newTestEngine(EngineConfig{}, nil)
	require.True(t, e.Select("36").CanSelect)

	states := e.CodeStates()

	assert.Len(t, states, 5)
	assert.Equal(t, domain.StateSelected, states["36"])
	assert.Equal(t, domain.StateBlocked, states["44"])
}

func TestSelectionEngine_SetRecommendations_ClearsSelection(t *testing.T) {
	history := &recordingHistory{}
	e := newTestEngine(EngineConfig{}, history)

	require.True(t, e.Select("36").CanSelect)
	entries := len(history.entries)

	e.SetRecommendations(testRecommendations())

	summary := e.Summary()
	assert.Equal(t, 0, summary.SelectedCount)
	assert.Zero(t, summary.TotalFee)
	assert.Len(t, history.entries, entries, "replacing recommendations is not a user action")
}

func TestSelectionEngine_Validation(t *testing.T) {
	e := newTestEngine(EngineConfig{}, nil)

	require.True(t, e.Select("36").CanSelect)
	require.True(t, e.Select("721").CanSelect)
	require.True(t, e.Select("723").CanSelect)

	v := e.Validation()
	assert.True(t, v.IsValid, "warning pairs do not invalidate the selection")
	assert.Empty(t, v.BlockingConflicts)
}

func TestSelectionEngine_Validation_ForcedState(t *testing.T) {
	e := newTestEngine(EngineConfig{}, nil)

	// Force an invalid pair past validation, as a preset load can.
	e.ReplaceSelection([]string{"36", "44"}, domain.ActionPresetLoad)

	v := e.Validation()
	assert.False(t, v.IsValid)
	require.Len(t, v.BlockingConflicts, 1)
	assert.Equal(t, domain.SeverityBlocking, v.BlockingConflicts[0].Severity)
}

func TestSelectionEngine_Snapshot(t *testing.T) {
	e := newTestEngine(EngineConfig{}, nil)

	require.True(t, e.Select("721").CanSelect)
	require.True(t, e.Select("723").CanSelect)

	snap := e.Snapshot()
	assert.Equal(t, []string{"721", "723"}, snap.SelectedCodes)
	assert.InDelta(t, 130.60, snap.TotalFee, 0.001)
	assert.NotEmpty(t, snap.Conflicts, "active warning pair should appear in the snapshot")
}

func TestSelectionEngine_ReplaceSelection_Deduplicates(t *testing.T) {
	e := newTestEngine(EngineConfig{}, nil)

	e.ReplaceSelection([]string{"36", "177", "36"}, domain.ActionPresetLoad)

	assert.Equal(t, []string{"36", "177"}, e.SelectedCodes())
}

func TestSelectionEngine_History(t *testing.T) {
	history := &recordingHistory{}
	e := newTestEngine(EngineConfig{}, history)

	require.True(t, e.Select("36").CanSelect)
	require.True(t, e.Select("177").CanSelect)
	e.Deselect("36")

	require.Len(t, history.entries, 3)
	assert.Equal(t, domain.ActionSelect, history.entries[0].Action)
	assert.Equal(t, "36", history.entries[0].Code)
	assert.Equal(t, domain.ActionDeselect, history.entries[2].Action)

	// Each entry snapshots the selection after the action.
	assert.Equal(t, []string{"36", "177"}, history.entries[1].Resulting.SelectedCodes)
	assert.Equal(t, []string{"177"}, history.entries[2].Resulting.SelectedCodes)
	assert.NotEmpty(t, history.entries[0].ID)
	assert.False(t, history.entries[0].Timestamp.IsZero())
}

func TestSelectionEngine_History_RejectedSelectNotRecorded(t *testing.T) {
	history := &recordingHistory{}
	e := newTestEngine(EngineConfig{}, history)

	require.True(t, e.Select("36").CanSelect)
	require.False(t, e.Select("44").CanSelect)

	assert.Len(t, history.entries, 1)
}

func TestSelectionEngine_Subscribe(t *testing.T) {
	e := newTestEngine(EngineConfig{}, nil)

	var summaries []domain.SelectionSummary
	unsub := e.Subscribe(func(s domain.SelectionSummary) {
		summaries = append(summaries, s)
	})

	e.Select("36")
	require.Len(t, summaries, 1)
	assert.Equal(t, []string{"36"}, summaries[0].SelectedCodes)

	unsub()
	e.Select("177")
	assert.Len(t, summaries, 1, "unsubscribed callback must not fire")
}

func TestSelectionEngine_SubscribeConflicts(t *testing.T) {
	e := newTestEngine(EngineConfig{}, nil)

	var results []domain.ValidationResult
	unsub := e.SubscribeConflicts(func(r domain.ValidationResult) {
		results = append(results, r)
	})
	defer unsub()

	require.True(t, e.Select("36").CanSelect)
	assert.Empty(t, results, "clean selection emits no conflict event")

	require.False(t, e.Select("44").CanSelect)
	require.Len(t, results, 1)
	assert.False(t, results[0].CanSelect)

	require.True(t, e.Select("721").CanSelect)
	require.True(t, e.Select("723").CanSelect)
	require.Len(t, results, 2, "warning on success also notifies")
	assert.True(t, results[1].CanSelect)
}

func TestSelectionEngine_FeeRounding(t *testing.T) {
	e := newTestEngine(EngineConfig{}, nil)

	require.True(t, e.Select("36").CanSelect)
	require.True(t, e.Select("177").CanSelect)

	// 75.05 + 45.05 must come out as exactly 120.10 after rounding.
	assert.Equal(t, 120.10, e.Summary().TotalFee)
}
