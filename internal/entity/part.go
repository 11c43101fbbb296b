package entity

import (
	"github.com/joseph-ayodele/cutlist-extractor/constants"
)

// Operation is one manufacturing operation attached to a part.
type Operation struct {
	Kind   constants.OperationKind `json:"kind"`
	Code   string                  `json:"code,omitempty"` // raw shortcode as printed, e.g. "2L2W"
	Detail string                  `json:"detail,omitempty"`
}

// Provenance records where a part came from.
type Provenance struct {
	Strategy constants.Strategy `json:"strategy"`
	Page     int                `json:"page,omitempty"`
	Chunk    int                `json:"chunk,omitempty"`
}

// ExtractedPart represents one physical piece to be cut.
// Dimensions are millimetres; zero means "not read".
type ExtractedPart struct {
	Label       string      `json:"label"`
	Length      float64     `json:"length"`
	Width       float64     `json:"width"`
	Thickness   float64     `json:"thickness,omitempty"`
	Quantity    int         `json:"quantity"`
	MaterialRef string      `json:"material_ref,omitempty"`
	Operations  []Operation `json:"operations,omitempty"`
	Notes       string      `json:"notes,omitempty"`
	Confidence  float64     `json:"confidence"`
	Provenance  Provenance  `json:"provenance"`
}

// MissingRequired lists the required fields this part lacks.
func (p ExtractedPart) MissingRequired() []string {
	var missing []string
	if p.Length <= 0 {
		missing = append(missing, "length")
	}
	if p.Width <= 0 {
		missing = append(missing, "width")
	}
	if p.Quantity <= 0 {
		missing = append(missing, "quantity")
	}
	return missing
}
