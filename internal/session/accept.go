package session

import (
	"fmt"
	"strings"

	"github.com/joseph-ayodele/cutlist-extractor/internal/entity"
)

// Policy decides whether extracted parts may skip human review.
type Policy struct {
	Threshold float64 // average confidence required, default 0.95
	PartFloor float64 // no single part may fall below this, default 0.7
}

func (p Policy) withDefaults() Policy {
	if p.Threshold <= 0 {
		p.Threshold = 0.95
	}
	if p.PartFloor <= 0 {
		p.PartFloor = 0.7
	}
	return p
}

// Decide returns the auto-accept verdict and, when rejected, the reasons.
// A single part missing a required field or below the floor blocks
// acceptance whatever the average.
func (p Policy) Decide(parts []entity.ExtractedPart, averageConfidence float64) (bool, []string) {
	p = p.withDefaults()
	var reasons []string
	if len(parts) == 0 {
		reasons = append(reasons, "no parts extracted")
	}
	if averageConfidence < p.Threshold {
		reasons = append(reasons, fmt.Sprintf("average confidence %.2f is below %.2f", averageConfidence, p.Threshold))
	}
	for i, part := range parts {
		if missing := part.MissingRequired(); len(missing) > 0 {
			reasons = append(reasons, fmt.Sprintf("part %d (%s) is missing %s", i+1, part.Label, strings.Join(missing, ", ")))
		}
		if part.Confidence < p.PartFloor {
			reasons = append(reasons, fmt.Sprintf("part %d (%s) confidence %.2f is below %.2f", i+1, part.Label, part.Confidence, p.PartFloor))
		}
	}
	return len(reasons) == 0, reasons
}
