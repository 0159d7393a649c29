package domain

import "time"

// Analysis backend wire contract. The endpoint path uses the US spelling
// "analyze"; that is a frozen contract detail.

// Consultation note length bounds enforced before the request leaves the
// client.
const (
	MinNoteLength = 10
	MaxNoteLength = 10000
)

// AnalyzeOptions tunes one analysis request.
type AnalyzeOptions struct {
	MaxCodes         int     `json:"max_codes,omitempty"`      // 1-10, default 5
	MinConfidence    float64 `json:"min_confidence,omitempty"` // 0-1, default 0.6
	IncludeReasoning *bool   `json:"include_reasoning,omitempty"`
}

// AnalyzeRequest is the body of POST /api/v1/analyze.
type AnalyzeRequest struct {
	ConsultationNote string          `json:"consultation_note"`
	Context          ClinicalContext `json:"context"`
	Options          *AnalyzeOptions `json:"options,omitempty"`
}

// Validate enforces the backend contract bounds client-side.
func (r *AnalyzeRequest) Validate() error {
	if len(r.ConsultationNote) < MinNoteLength || len(r.ConsultationNote) > MaxNoteLength {
		return NewValidationError("consultation_note",
			"must be between 10 and 10000 characters", len(r.ConsultationNote))
	}
	if !r.Context.IsValid() {
		return NewValidationError("context", "unknown clinical context", string(r.Context))
	}
	if r.Options != nil {
		if r.Options.MaxCodes != 0 && (r.Options.MaxCodes < 1 || r.Options.MaxCodes > 10) {
			return NewValidationError("options.max_codes", "must be between 1 and 10", r.Options.MaxCodes)
		}
		if r.Options.MinConfidence < 0 || r.Options.MinConfidence > 1 {
			return NewValidationError("options.min_confidence", "must be between 0 and 1", r.Options.MinConfidence)
		}
	}
	return nil
}

// AnalyzeMetadata describes how the backend produced a result.
type AnalyzeMetadata struct {
	ProcessingTimeMS int64                  `json:"processing_time_ms"`
	PipelineStages   map[string]interface{} `json:"pipeline_stages,omitempty"`
	ModelUsed        string                 `json:"model_used,omitempty"`
	Timestamp        time.Time              `json:"timestamp"`
	Categorization   map[string]interface{} `json:"categorization,omitempty"`
}

// AnalyzeResponse is the success body of POST /api/v1/analyze.
type AnalyzeResponse struct {
	Status          string           `json:"status"`
	Recommendations []Recommendation `json:"recommendations"`
	Metadata        AnalyzeMetadata  `json:"metadata"`
}

// AnalyzeErrorResponse is the server-side failure body.
type AnalyzeErrorResponse struct {
	Status  string `json:"status"`
	Message string `json:"message"`
	Detail  string `json:"detail,omitempty"`
}

// AnalyzeValidationResponse is the 422 body.
type AnalyzeValidationResponse struct {
	Detail []FieldError `json:"detail"`
}
