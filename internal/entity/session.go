package entity

import (
	"sort"
	"time"

	"github.com/joseph-ayodele/cutlist-extractor/constants"
)

// PageParse is one physical page's parse result as handed to the session merger.
type PageParse struct {
	ProjectCode string             `json:"project_code,omitempty"`
	PageNumber  int                `json:"page_number"`
	TotalPages  int                `json:"total_pages,omitempty"`
	Parts       []ExtractedPart    `json:"parts"`
	Confidence  float64            `json:"confidence"`
	Strategy    constants.Strategy `json:"strategy,omitempty"`
	Warnings    []string           `json:"warnings,omitempty"`
}

// PageRegistration is a page keyed into a session.
type PageRegistration struct {
	PageNumber       int       `json:"page_number"`
	FileID           string    `json:"file_id"`
	UserID           string    `json:"user_id,omitempty"`
	TemplateID       string    `json:"template_id,omitempty"`
	Result           PageParse `json:"result"`
	ProcessingTimeMs int64     `json:"processing_time_ms"`
	RegisteredAt     time.Time `json:"registered_at"`
}

// MergeResult is the merged view of a session.
type MergeResult struct {
	SessionID         string          `json:"session_id"`
	ProjectCode       string          `json:"project_code"`
	Parts             []ExtractedPart `json:"parts"`
	PageCount         int             `json:"page_count"`
	MissingPages      []int           `json:"missing_pages,omitempty"`
	AverageConfidence float64         `json:"average_confidence"`
	AutoAccept        bool            `json:"auto_accept"`
	ReviewReasons     []string        `json:"review_reasons,omitempty"`
	Warnings          []string        `json:"warnings,omitempty"`
	MergedAt          time.Time       `json:"merged_at"`
}

// ParseSession accumulates the pages of one logical document.
type ParseSession struct {
	ID            string                  `json:"id"`
	OrgID         string                  `json:"org_id"`
	ProjectCode   string                  `json:"project_code"`
	TemplateID    string                  `json:"template_id,omitempty"`
	Pages         []PageRegistration      `json:"pages"`
	ExpectedPages int                     `json:"expected_pages,omitempty"` // 0 = unknown
	Status        constants.SessionStatus `json:"status"`
	Merged        *MergeResult            `json:"merged,omitempty"`
	CreatedAt     time.Time               `json:"created_at"`
	UpdatedAt     time.Time               `json:"updated_at"`
}

// UpsertPage inserts or replaces the page with the same number, keeping pages ordered.
func (s *ParseSession) UpsertPage(p PageRegistration) (replaced bool) {
	for i := range s.Pages {
		if s.Pages[i].PageNumber == p.PageNumber {
			s.Pages[i] = p
			return true
		}
	}
	s.Pages = append(s.Pages, p)
	sort.Slice(s.Pages, func(i, j int) bool { return s.Pages[i].PageNumber < s.Pages[j].PageNumber })
	return false
}

// ReadyToMerge is true only when the expected page count is known and reached.
func (s *ParseSession) ReadyToMerge() bool {
	return s.ExpectedPages > 0 && len(s.Pages) >= s.ExpectedPages
}

// Clone returns a deep enough copy for store round-trips.
func (s *ParseSession) Clone() *ParseSession {
	if s == nil {
		return nil
	}
	out := *s
	out.Pages = append([]PageRegistration(nil), s.Pages...)
	if s.Merged != nil {
		m := *s.Merged
		m.Parts = append([]ExtractedPart(nil), s.Merged.Parts...)
		m.MissingPages = append([]int(nil), s.Merged.MissingPages...)
		m.ReviewReasons = append([]string(nil), s.Merged.ReviewReasons...)
		m.Warnings = append([]string(nil), s.Merged.Warnings...)
		out.Merged = &m
	}
	return &out
}
