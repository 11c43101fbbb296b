package entity

import (
	"github.com/joseph-ayodele/cutlist-extractor/constants"
)

// ParseMetadata is document-level information read alongside the parts.
type ParseMetadata struct {
	ProjectCode string `json:"project_code,omitempty"`
	PageNumber  int    `json:"page_number,omitempty"`
	TotalPages  int    `json:"total_pages,omitempty"`
	TemplateID  string `json:"template_id,omitempty"`
}

// DocumentCandidate is the winning extraction for one file.
type DocumentCandidate struct {
	FileID           string              `json:"file_id"`
	Filename         string              `json:"filename"`
	FileClass        constants.FileClass `json:"file_class"`
	Strategy         constants.Strategy  `json:"strategy"`
	Parts            []ExtractedPart     `json:"parts"`
	Confidence       float64             `json:"confidence"`
	PageCount        int                 `json:"page_count"`
	Metrics          *TextMetrics        `json:"metrics,omitempty"`
	Metadata         ParseMetadata       `json:"metadata"`
	Template         *TemplateMatch      `json:"template,omitempty"`
	Escalated        bool                `json:"escalated"`
	Truncated        bool                `json:"truncated,omitempty"`
	Warnings         []string            `json:"warnings,omitempty"`
	Attempts         []AttemptAudit      `json:"attempts"`
	ProcessingTimeMs int64               `json:"processing_time_ms"`
}

// PartConfidence is the mean part confidence, or the candidate confidence when
// there are no parts.
func (c *DocumentCandidate) PartConfidence() float64 {
	if len(c.Parts) == 0 {
		return c.Confidence
	}
	var sum float64
	for _, p := range c.Parts {
		sum += p.Confidence
	}
	return sum / float64(len(c.Parts))
}
