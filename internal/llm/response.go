package llm

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
)

// Variant tags which shape a model reply was read as.
type Variant string

// Shapes are tried in this order; Unparseable is never silent, it carries the reason.
const (
	VariantStrict      Variant = "strict"
	VariantSanitized   Variant = "sanitized"
	VariantWrapped     Variant = "wrapped"
	VariantBareArray   Variant = "bare_array"
	VariantSinglePart  Variant = "single_part"
	VariantEmbedded    Variant = "embedded"
	VariantUnparseable Variant = "unparseable"
)

// CutlistDoc is the decoded model output.
type CutlistDoc struct {
	Parts      []PartDoc    `json:"parts"`
	Confidence *float64     `json:"confidence,omitempty"`
	Metadata   *MetadataDoc `json:"metadata,omitempty"`
}

type PartDoc struct {
	Label      string         `json:"label"`
	Length     float64        `json:"length"`
	Width      float64        `json:"width"`
	Thickness  float64        `json:"thickness,omitempty"`
	Quantity   int            `json:"quantity"`
	Material   string         `json:"material,omitempty"`
	Operations []OperationDoc `json:"operations,omitempty"`
	Notes      string         `json:"notes,omitempty"`
	Confidence *float64       `json:"confidence,omitempty"`
}

type OperationDoc struct {
	Type   string `json:"type"`
	Code   string `json:"code,omitempty"`
	Detail string `json:"detail,omitempty"`
}

type MetadataDoc struct {
	ProjectCode string `json:"project_code,omitempty"`
	PageNumber  int    `json:"page_number,omitempty"`
	TotalPages  int    `json:"total_pages,omitempty"`
	TemplateID  string `json:"template_id,omitempty"`
}

// Response is the tagged result of ParseResponse.
type Response struct {
	Variant Variant
	Doc     CutlistDoc
	Dropped []string
	Err     error // set only for VariantUnparseable
}

// ParseResponse reads a model reply. The strict schema is tried first, then the
// known alternate shapes in fixed order (sanitized object, wrapped array, bare
// array, single part object), then the same shapes on JSON embedded in prose.
func ParseResponse(raw []byte, logger *slog.Logger) Response {
	if logger == nil {
		logger = slog.Default()
	}
	body := stripFences(raw)
	if len(body) == 0 {
		return Response{Variant: VariantUnparseable, Err: fmt.Errorf("%w: empty reply", ErrUnparseableResponse)}
	}

	r, err := parseShapes(body, logger)
	if err == nil {
		return r
	}
	if inner, ok := extractEmbedded(body); ok && !bytes.Equal(inner, body) {
		if r, innerErr := parseShapes(inner, logger); innerErr == nil {
			r.Variant = VariantEmbedded
			return r
		}
	}
	return Response{Variant: VariantUnparseable, Err: fmt.Errorf("%w: %v", ErrUnparseableResponse, err)}
}

func parseShapes(body []byte, logger *slog.Logger) (Response, error) {
	schema, err := compiledCutlistSchema()
	if err != nil {
		return Response{}, err
	}
	var v any
	if err := json.Unmarshal(body, &v); err != nil {
		return Response{}, fmt.Errorf("decode: %w", err)
	}
	strictErr := schema.Validate(v)
	if strictErr == nil {
		var doc CutlistDoc
		decodeErr := json.Unmarshal(body, &doc)
		if decodeErr == nil {
			return Response{Variant: VariantStrict, Doc: doc}, nil
		}
		// e.g. "quantity": 2.0 passes the schema but not an int field
		strictErr = fmt.Errorf("decode strict: %w", decodeErr)
	}

	try := func(variant Variant, m map[string]any) (Response, error) {
		clean, dropped := SanitizeCutlistDoc(m, logger)
		b, err := json.Marshal(clean)
		if err != nil {
			return Response{}, err
		}
		if err := validateBytes(schema, b); err != nil {
			return Response{}, err
		}
		var doc CutlistDoc
		if err := json.Unmarshal(b, &doc); err != nil {
			return Response{}, err
		}
		return Response{Variant: variant, Doc: doc, Dropped: dropped}, nil
	}

	var errs []error
	switch t := v.(type) {
	case map[string]any:
		if _, ok := t["parts"].([]any); ok {
			r, err := try(VariantSanitized, t)
			if err == nil {
				return r, nil
			}
			errs = append(errs, err)
		}
		if arr, container, ok := findWrapped(t); ok {
			m := map[string]any{"parts": arr}
			for _, k := range append([]string{"confidence", "metadata"}, metadataKeys...) {
				if val, ok := container[k]; ok {
					m[k] = val
				} else if val, ok := t[k]; ok {
					m[k] = val
				}
			}
			r, err := try(VariantWrapped, m)
			if err == nil {
				return r, nil
			}
			errs = append(errs, err)
		}
		if looksLikePart(t) {
			r, err := try(VariantSinglePart, map[string]any{"parts": []any{t}})
			if err == nil {
				return r, nil
			}
			errs = append(errs, err)
		}
	case []any:
		r, err := try(VariantBareArray, map[string]any{"parts": t})
		if err == nil {
			return r, nil
		}
		errs = append(errs, err)
	}
	errs = append(errs, strictErr)
	return Response{}, errors.Join(errs...)
}

// findWrapped looks for the parts array under an alternate key, at the top
// level or one level down (e.g. {"data": {"items": [...]}}).
func findWrapped(m map[string]any) ([]any, map[string]any, bool) {
	for _, k := range wrapperKeys {
		if arr, ok := m[k].([]any); ok {
			return arr, m, true
		}
	}
	for _, k := range []string{"data", "result", "cutlist", "document"} {
		inner, ok := m[k].(map[string]any)
		if !ok {
			continue
		}
		if arr, ok := inner["parts"].([]any); ok {
			return arr, inner, true
		}
		for _, wk := range wrapperKeys {
			if arr, ok := inner[wk].([]any); ok {
				return arr, inner, true
			}
		}
	}
	return nil, nil, false
}

func looksLikePart(m map[string]any) bool {
	hits := 0
	for k := range m {
		switch partKeySynonyms[k] {
		case "length", "width", "quantity":
			hits++
		}
	}
	return hits >= 2
}

func stripFences(raw []byte) []byte {
	b := bytes.TrimSpace(raw)
	if !bytes.HasPrefix(b, []byte("```")) {
		return b
	}
	b = b[3:]
	if nl := bytes.IndexByte(b, '\n'); nl >= 0 {
		b = b[nl+1:]
	}
	if end := bytes.LastIndex(b, []byte("```")); end >= 0 {
		b = b[:end]
	}
	return bytes.TrimSpace(b)
}

// extractEmbedded returns the outermost JSON value found in prose.
func extractEmbedded(b []byte) ([]byte, bool) {
	start := bytes.IndexAny(b, "{[")
	if start < 0 {
		return nil, false
	}
	closer := byte('}')
	if b[start] == '[' {
		closer = ']'
	}
	end := bytes.LastIndexByte(b, closer)
	if end <= start {
		return nil, false
	}
	return b[start : end+1], true
}

// RepairTruncated cuts a truncated JSON reply after its last complete array
// element and closes the open brackets, so rows read before the cut survive.
func RepairTruncated(raw []byte) ([]byte, bool) {
	b := stripFences(raw)
	start := bytes.IndexAny(b, "{[")
	if start < 0 {
		return nil, false
	}
	var stack, saved []byte
	cut := -1
	inString, escaped := false, false
	for i := start; i < len(b); i++ {
		c := b[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '{', '[':
			stack = append(stack, c)
		case '}', ']':
			if len(stack) == 0 {
				return nil, false
			}
			stack = stack[:len(stack)-1]
			if len(stack) > 0 && stack[len(stack)-1] == '[' {
				cut = i + 1
				saved = append(saved[:0], stack...)
			}
		}
	}
	if cut < 0 {
		return nil, false
	}
	out := append([]byte{}, b[start:cut]...)
	for i := len(saved) - 1; i >= 0; i-- {
		if saved[i] == '{' {
			out = append(out, '}')
		} else {
			out = append(out, ']')
		}
	}
	return out, true
}
