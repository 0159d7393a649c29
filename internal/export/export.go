// Package export renders a selection snapshot for claim submission, as JSON
// or CSV.
package export

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/mbs-selection-server/internal/domain"
)

const exportVersion = "1.0"

// Row is one selected code resolved against its recommendation record.
type Row struct {
	Code        string  `json:"code"`
	Description string  `json:"description"`
	Category    string  `json:"category"`
	ScheduleFee float64 `json:"schedule_fee"`
	Confidence  float64 `json:"confidence"`
}

// SelectionExport is the JSON export format.
type SelectionExport struct {
	Version    string                     `json:"version"`
	ExportedAt time.Time                  `json:"exported_at"`
	Codes      []Row                      `json:"codes"`
	TotalFee   float64                    `json:"total_fee"`
	Conflicts  []domain.ActiveConflict    `json:"conflicts,omitempty"`
	Validation domain.SelectionValidation `json:"validation"`
}

// Build resolves a snapshot against the recommendation list. Selected codes
// missing from the list export with an empty description and a zero fee
// rather than being dropped.
func Build(snap domain.SelectionSnapshot, recs []domain.Recommendation, validation domain.SelectionValidation) SelectionExport {
	byCode := make(map[string]*domain.Recommendation, len(recs))
	for i := range recs {
		byCode[recs[i].Code] = &recs[i]
	}

	rows := make([]Row, 0, len(snap.SelectedCodes))
	for _, code := range snap.SelectedCodes {
		row := Row{Code: code}
		if rec, ok := byCode[code]; ok {
			row.Description = rec.Description
			row.Category = rec.Category
			row.ScheduleFee = rec.ScheduleFee
			row.Confidence = rec.Confidence
		}
		rows = append(rows, row)
	}

	return SelectionExport{
		Version:    exportVersion,
		ExportedAt: time.Now().UTC(),
		Codes:      rows,
		TotalFee:   snap.TotalFee,
		Conflicts:  snap.Conflicts,
		Validation: validation,
	}
}

// WriteJSON writes the export as indented JSON.
func WriteJSON(w io.Writer, export SelectionExport) error {
	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(export); err != nil {
		return fmt.Errorf("failed to encode export: %w", err)
	}
	return nil
}

// WriteCSV writes the selected codes as CSV with a header row and a trailing
// total row.
func WriteCSV(w io.Writer, export SelectionExport) error {
	cw := csv.NewWriter(w)

	header := []string{"code", "description", "category", "schedule_fee", "confidence"}
	if err := cw.Write(header); err != nil {
		return fmt.Errorf("failed to write CSV header: %w", err)
	}

	for _, row := range export.Codes {
		record := []string{
			row.Code,
			row.Description,
			row.Category,
			fmt.Sprintf("%.2f", row.ScheduleFee),
			fmt.Sprintf("%.2f", row.Confidence),
		}
		if err := cw.Write(record); err != nil {
			return fmt.Errorf("failed to write CSV row: %w", err)
		}
	}

	total := []string{"total", "", "", fmt.Sprintf("%.2f", export.TotalFee), ""}
	if err := cw.Write(total); err != nil {
		return fmt.Errorf("failed to write CSV total: %w", err)
	}

	cw.Flush()
	return cw.Error()
}
