package entity

import (
	"github.com/joseph-ayodele/cutlist-extractor/constants"
)

// ColumnSpec describes one column of a templated cutlist.
type ColumnSpec struct {
	// Key is one of label, length, width, thickness, quantity, material, operations, notes.
	Key    string `json:"key" yaml:"key"`
	Header string `json:"header" yaml:"header"`
	Unit   string `json:"unit,omitempty" yaml:"unit,omitempty"`
}

// Shortcode is one organization-defined operation abbreviation.
type Shortcode struct {
	Code    string                  `json:"code" yaml:"code"`
	Kind    constants.OperationKind `json:"kind" yaml:"kind"`
	Meaning string                  `json:"meaning" yaml:"meaning"`
}

// TemplateDescriptor is read-only layout configuration for one template version.
type TemplateDescriptor struct {
	ID         string       `json:"id" yaml:"id"`
	OrgID      string       `json:"org_id" yaml:"org_id"`
	Version    int          `json:"version" yaml:"version"`
	Name       string       `json:"name,omitempty" yaml:"name,omitempty"`
	Columns    []ColumnSpec `json:"columns" yaml:"columns"`
	Shortcodes []Shortcode  `json:"shortcodes,omitempty" yaml:"shortcodes,omitempty"`
}

// TemplateStatus is the outcome of template detection.
type TemplateStatus string

const (
	TemplateNone         TemplateStatus = "none"
	TemplateUnconfigured TemplateStatus = "recognized_unconfigured"
	TemplateRecognized   TemplateStatus = "recognized"
)

// TemplateMatch is what the detector found for one file.
type TemplateMatch struct {
	Status     TemplateStatus `json:"status"`
	TemplateID string         `json:"template_id,omitempty"`
	Version    int            `json:"version,omitempty"`
	// Source is qr, text_marker or filename.
	Source  string `json:"source,omitempty"`
	Payload string `json:"-"`
}
