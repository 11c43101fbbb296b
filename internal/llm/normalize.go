package llm

import (
	"fmt"
	"strings"

	"github.com/joseph-ayodele/cutlist-extractor/constants"
	"github.com/joseph-ayodele/cutlist-extractor/internal/entity"
)

// defaultConfidence is used when the model reports none.
const defaultConfidence = 0.6

// ToParts converts a decoded document into parts: operation kinds
// canonicalized (template shortcodes first, then synonyms), defaults applied,
// and confidences clamped. It returns the parts and the document confidence.
func ToParts(doc CutlistDoc, opts ParseOptions) ([]entity.ExtractedPart, float64) {
	docConf := -1.0
	if doc.Confidence != nil {
		docConf = clampUnit(*doc.Confidence)
	}
	if docConf < 0 {
		var sum float64
		n := 0
		for _, p := range doc.Parts {
			if p.Confidence != nil {
				sum += clampUnit(*p.Confidence)
				n++
			}
		}
		if n > 0 {
			docConf = sum / float64(n)
		} else {
			docConf = defaultConfidence
		}
	}

	shortcodes := map[string]entity.Shortcode{}
	if opts.TemplateConfig != nil {
		for _, sc := range opts.TemplateConfig.Shortcodes {
			shortcodes[strings.ToUpper(strings.TrimSpace(sc.Code))] = sc
		}
	}

	parts := make([]entity.ExtractedPart, 0, len(doc.Parts))
	for i, p := range doc.Parts {
		part := entity.ExtractedPart{
			Label:       strings.TrimSpace(p.Label),
			Length:      p.Length,
			Width:       p.Width,
			Thickness:   p.Thickness,
			Quantity:    p.Quantity,
			MaterialRef: strings.TrimSpace(p.Material),
			Notes:       strings.TrimSpace(p.Notes),
			Confidence:  docConf,
			Provenance:  entity.Provenance{Page: opts.Page, Chunk: opts.Chunk},
		}
		if part.Label == "" {
			part.Label = fmt.Sprintf("Part %d", i+1)
		}
		if p.Confidence != nil {
			part.Confidence = clampUnit(*p.Confidence)
		}
		if part.MaterialRef == "" {
			part.MaterialRef = opts.DefaultMaterialID
		}
		if part.Thickness <= 0 && opts.DefaultThicknessMm > 0 {
			part.Thickness = opts.DefaultThicknessMm
		}
		for _, op := range p.Operations {
			part.Operations = append(part.Operations, toOperation(op, shortcodes))
		}
		parts = append(parts, part)
	}
	return parts, docConf
}

func toOperation(op OperationDoc, shortcodes map[string]entity.Shortcode) entity.Operation {
	out := entity.Operation{Code: strings.TrimSpace(op.Code), Detail: strings.TrimSpace(op.Detail)}
	for _, candidate := range []string{op.Code, op.Type} {
		if sc, ok := shortcodes[strings.ToUpper(strings.TrimSpace(candidate))]; ok {
			out.Kind = sc.Kind
			if out.Code == "" {
				out.Code = strings.TrimSpace(candidate)
			}
			if out.Detail == "" {
				out.Detail = sc.Meaning
			}
			return out
		}
	}
	if kind, ok := constants.CanonicalizeOperation(op.Type); ok {
		out.Kind = kind
		return out
	}
	out.Kind = constants.OpOther
	if out.Detail == "" {
		out.Detail = strings.TrimSpace(op.Type)
	}
	return out
}

func clampUnit(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
