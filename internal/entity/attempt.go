package entity

import (
	"time"

	"github.com/joseph-ayodele/cutlist-extractor/constants"
)

// ExtractionAttempt is the outcome of one strategy invocation. Treat as immutable.
type ExtractionAttempt struct {
	Strategy   constants.Strategy
	Method     string
	Text       string
	Pages      []PageText
	PageCount  int
	Parts      []ExtractedPart
	Confidence float64
	StartedAt  time.Time
	Duration   time.Duration
	Success    bool
	Skipped    bool // never started (unhealthy dependency, not configured)
	Err        error
}

// TextLength is the trimmed length of the extracted text.
func (a ExtractionAttempt) TextLength() int {
	n := 0
	for _, r := range a.Text {
		if r != ' ' && r != '\n' && r != '\t' && r != '\r' && r != '\f' {
			n++
		}
	}
	return n
}

// Audit returns the retained diagnostics for this attempt.
func (a ExtractionAttempt) Audit() AttemptAudit {
	out := AttemptAudit{
		Strategy:   a.Strategy,
		Method:     a.Method,
		Success:    a.Success,
		Skipped:    a.Skipped,
		StartedAt:  a.StartedAt,
		DurationMs: a.Duration.Milliseconds(),
		TextLength: a.TextLength(),
		Confidence: a.Confidence,
		Parts:      len(a.Parts),
	}
	if a.Err != nil {
		out.Error = a.Err.Error()
	}
	return out
}

// AttemptAudit is the serialisable diagnostic record of an attempt.
type AttemptAudit struct {
	Strategy   constants.Strategy `json:"strategy"`
	Method     string             `json:"method,omitempty"`
	Success    bool               `json:"success"`
	Skipped    bool               `json:"skipped,omitempty"`
	StartedAt  time.Time          `json:"started_at"`
	DurationMs int64              `json:"duration_ms"`
	TextLength int                `json:"text_length"`
	Confidence float64            `json:"confidence"`
	Parts      int                `json:"parts"`
	Error      string             `json:"error,omitempty"`
}

// ExtractionAudit is the per-file diagnostic row written after extraction.
type ExtractionAudit struct {
	ID         string             `json:"id"`
	RequestID  string             `json:"request_id"`
	OrgID      string             `json:"org_id"`
	FileID     string             `json:"file_id"`
	Filename   string             `json:"filename"`
	Strategy   constants.Strategy `json:"strategy,omitempty"`
	Outcome    string             `json:"outcome"` // "ok" or an error code
	PartCount  int                `json:"part_count"`
	Confidence float64            `json:"confidence"`
	Attempts   []AttemptAudit     `json:"attempts"`
	DurationMs int64              `json:"duration_ms"`
	CreatedAt  time.Time          `json:"created_at"`
}
