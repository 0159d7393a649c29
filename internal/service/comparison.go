package service

import (
	"github.com/mbs-selection-server/internal/domain"
)

// Compare computes the delta between two selections against one
// recommendation set. It is a pure function: neither selection is mutated and
// no engine state is involved. Unique and common codes follow the original
// recommendation list order; codes absent from the recommendation set keep
// their relative input order after the known ones. Each side's conflict count
// is evaluated against that side's codes alone.
func Compare(selection1, selection2 []string, recs []domain.Recommendation, label1, label2 string) domain.ComparisonResult {
	index := buildIndex(recs)

	set1 := asSet(selection1)
	set2 := asSet(selection2)

	side1 := domain.ComparisonSide{
		Label:         label1,
		SelectedCodes: append([]string(nil), selection1...),
		TotalFee:      totalFee(index, selection1),
		ConflictCount: conflictPairCount(index, selection1),
	}
	side2 := domain.ComparisonSide{
		Label:         label2,
		SelectedCodes: append([]string(nil), selection2...),
		TotalFee:      totalFee(index, selection2),
		ConflictCount: conflictPairCount(index, selection2),
	}

	result := domain.ComparisonResult{
		Selection1:         side1,
		Selection2:         side2,
		FeeDifference:      roundFee(side2.TotalFee - side1.TotalFee),
		UniqueToSelection1: []string{},
		UniqueToSelection2: []string{},
		CommonCodes:        []string{},
	}

	for _, code := range orderByRecommendations(selection1, recs) {
		if _, common := set2[code]; common {
			result.CommonCodes = append(result.CommonCodes, code)
		} else {
			result.UniqueToSelection1 = append(result.UniqueToSelection1, code)
		}
	}
	for _, code := range orderByRecommendations(selection2, recs) {
		if _, common := set1[code]; !common {
			result.UniqueToSelection2 = append(result.UniqueToSelection2, code)
		}
	}
	return result
}

// orderByRecommendations reorders codes to follow the recommendation list;
// unknown codes are appended afterwards in their input order.
func orderByRecommendations(codes []string, recs []domain.Recommendation) []string {
	set := asSet(codes)
	out := make([]string, 0, len(codes))
	for i := range recs {
		if _, ok := set[recs[i].Code]; ok {
			out = append(out, recs[i].Code)
			delete(set, recs[i].Code)
		}
	}
	for _, code := range codes {
		if _, left := set[code]; left {
			out = append(out, code)
			delete(set, code)
		}
	}
	return out
}
