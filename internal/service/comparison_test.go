package service

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCompare(t *testing.T) {
	recs := testRecommendations()

	result := Compare([]string{"36", "177"}, []string{"44", "177", "721"}, recs, "current", "proposed")

	assert.Equal(t, "current", result.Selection1.Label)
	assert.Equal(t, "proposed", result.Selection2.Label)
	assert.InDelta(t, 120.10, result.Selection1.TotalFee, 0.001)
	assert.InDelta(t, 236.00, result.Selection2.TotalFee, 0.001)
	assert.InDelta(t, 115.90, result.FeeDifference, 0.001)

	assert.Equal(t, []string{"36"}, result.UniqueToSelection1)
	assert.Equal(t, []string{"44", "721"}, result.UniqueToSelection2)
	assert.Equal(t, []string{"177"}, result.CommonCodes)
}

func TestCompare_ConflictCountPerSide(t *testing.T) {
	recs := testRecommendations()

	result := Compare([]string{"721", "723"}, []string{"36", "177"}, recs, "a", "b")

	assert.Equal(t, 1, result.Selection1.ConflictCount)
	assert.Equal(t, 0, result.Selection2.ConflictCount)
}

func TestCompare_InvalidSideStillCounts(t *testing.T) {
	recs := testRecommendations()

	// A forced selection holding a blocking pair still compares; Compare
	// never validates.
	result := Compare([]string{"36", "44"}, nil, recs, "forced", "empty")

	assert.Equal(t, 1, result.Selection1.ConflictCount)
	assert.InDelta(t, 180.60, result.Selection1.TotalFee, 0.001)
	assert.Empty(t, result.CommonCodes)
	assert.InDelta(t, -180.60, result.FeeDifference, 0.001)
}

func TestCompare_OrderFollowsRecommendationList(t *testing.T) {
	recs := testRecommendations()

	// Input order is scrambled; output follows the recommendation list.
	result := Compare([]string{"723", "36", "177"}, []string{"177"}, recs, "", "")

	assert.Equal(t, []string{"36", "723"}, result.UniqueToSelection1)
	assert.Equal(t, []string{"177"}, result.CommonCodes)
}

func TestCompare_UnknownCodesKeepInputOrder(t *testing.T) {
	recs := testRecommendations()

	result := Compare([]string{"Z9", "36", "X1"}, nil, recs, "", "")

	// Unknown codes trail the known ones in their input order and carry no
	// fee.
	assert.Equal(t, []string{"36", "Z9", "X1"}, result.UniqueToSelection1)
	assert.InDelta(t, 75.05, result.Selection1.TotalFee, 0.001)
}

func TestCompare_EmptySelections(t *testing.T) {
	result := Compare(nil, nil, testRecommendations(), "", "")

	assert.Zero(t, result.FeeDifference)
	assert.Empty(t, result.CommonCodes)
	assert.Empty(t, result.UniqueToSelection1)
	assert.Empty(t, result.UniqueToSelection2)
}
