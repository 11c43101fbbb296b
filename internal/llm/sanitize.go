package llm

import (
	"fmt"
	"log/slog"
	"sort"
	"strings"
)

var partKeySynonyms = map[string]string{
	"label":         "label",
	"name":          "label",
	"part":          "label",
	"part_name":     "label",
	"description":   "label",
	"length":        "length",
	"len":           "length",
	"l":             "length",
	"length_mm":     "length",
	"height":        "length",
	"width":         "width",
	"w":             "width",
	"width_mm":      "width",
	"thickness":     "thickness",
	"thk":           "thickness",
	"t":             "thickness",
	"thickness_mm":  "thickness",
	"quantity":      "quantity",
	"qty":           "quantity",
	"count":         "quantity",
	"pcs":           "quantity",
	"material":      "material",
	"material_id":   "material",
	"material_ref":  "material",
	"board":         "material",
	"operations":    "operations",
	"ops":           "operations",
	"notes":         "notes",
	"note":          "notes",
	"comments":      "notes",
	"confidence":    "confidence",
	"edging":        "edging",
	"edge":          "edging",
	"edge_banding":  "edging",
	"grooving":      "grooving",
	"groove":        "grooving",
	"drilling":      "drilling",
	"drill":         "drilling",
	"cnc":           "cnc",
	"cnc_operation": "cnc",
}

var metadataKeys = []string{"project_code", "page_number", "total_pages", "template_id"}

// wrapperKeys are alternate names models use for the parts array, in priority order.
var wrapperKeys = []string{"items", "rows", "cutlist", "cut_list", "pieces", "panels"}

// SanitizeCutlistDoc normalizes a decoded object toward the cutlist schema:
// synonyms renamed, dimension strings coerced, inline operation columns folded
// into operations, nulls and unknown keys dropped. It returns the list of
// dropped or rewritten fields.
func SanitizeCutlistDoc(m map[string]any, logger *slog.Logger) (map[string]any, []string) {
	if logger == nil {
		logger = slog.Default()
	}
	dropped := make([]string, 0, 8)
	out := map[string]any{}

	meta := map[string]any{}
	if mm, ok := m["metadata"].(map[string]any); ok {
		for k, v := range mm {
			meta[k] = v
		}
	}
	for _, k := range metadataKeys {
		if v, ok := m[k]; ok {
			if _, exists := meta[k]; !exists {
				meta[k] = v
			}
		}
	}
	if md := sanitizeMetadata(meta, &dropped); len(md) > 0 {
		out["metadata"] = md
	}

	if v, ok := m["confidence"]; ok {
		if c, ok := coerceConfidence(v); ok {
			out["confidence"] = c
		} else {
			dropped = append(dropped, "confidence(invalid)")
		}
	}

	rawParts, _ := m["parts"].([]any)
	parts := make([]any, 0, len(rawParts))
	for i, rp := range rawParts {
		pm, ok := rp.(map[string]any)
		if !ok {
			dropped = append(dropped, fmt.Sprintf("parts[%d](type)", i))
			continue
		}
		parts = append(parts, sanitizePart(pm, i, &dropped))
	}
	out["parts"] = parts

	for k := range m {
		switch k {
		case "parts", "confidence", "metadata":
		default:
			if !isMetadataKey(k) {
				dropped = append(dropped, k+"(unknown)")
			}
		}
	}

	if len(dropped) > 0 {
		sort.Strings(dropped)
		logger.Warn("llm.parse.normalize_sanitize", "dropped", dropped)
	}
	return out, dropped
}

func sanitizeMetadata(meta map[string]any, dropped *[]string) map[string]any {
	out := map[string]any{}
	for k, v := range meta {
		switch k {
		case "project_code", "template_id":
			if s, ok := coerceString(v); ok {
				out[k] = s
			}
		case "page_number", "total_pages":
			if n, ok := coerceQuantity(v); ok && n > 0 {
				out[k] = n
			}
		default:
			*dropped = append(*dropped, "metadata."+k+"(unknown)")
		}
	}
	return out
}

func sanitizePart(pm map[string]any, idx int, dropped *[]string) map[string]any {
	out := map[string]any{}
	var ops []any
	if existing, ok := pm["operations"].([]any); ok {
		ops = append(ops, normalizeOperations(existing)...)
	} else if existing, ok := pm["ops"].([]any); ok {
		ops = append(ops, normalizeOperations(existing)...)
	}

	keys := make([]string, 0, len(pm))
	for k := range pm {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, rawKey := range keys {
		v := pm[rawKey]
		key, known := partKeySynonyms[strings.ToLower(strings.TrimSpace(rawKey))]
		if !known {
			*dropped = append(*dropped, fmt.Sprintf("parts[%d].%s(unknown)", idx, rawKey))
			continue
		}
		if v == nil {
			continue
		}
		if _, taken := out[key]; taken {
			continue
		}
		switch key {
		case "label", "material", "notes":
			if s, ok := coerceString(v); ok {
				out[key] = s
			}
		case "length", "width", "thickness":
			if f, ok := coerceNumber(v); ok && f >= 0 {
				out[key] = f
			} else {
				*dropped = append(*dropped, fmt.Sprintf("parts[%d].%s(invalid)", idx, rawKey))
			}
		case "quantity":
			if n, ok := coerceQuantity(v); ok {
				out[key] = n
			} else {
				*dropped = append(*dropped, fmt.Sprintf("parts[%d].%s(invalid)", idx, rawKey))
			}
		case "confidence":
			if c, ok := coerceConfidence(v); ok {
				out[key] = c
			}
		case "operations":
			if s, ok := v.(string); ok && strings.TrimSpace(s) != "" {
				ops = append(ops, map[string]any{"type": strings.TrimSpace(s)})
			}
		case "edging", "grooving", "drilling", "cnc":
			if op := inlineOperation(key, v); op != nil {
				ops = append(ops, op)
			}
		}
	}
	if len(ops) > 0 {
		out["operations"] = ops
	}
	return out
}

// normalizeOperations accepts ["EB 2L", ...] or [{"kind":..., "code":...}, ...].
func normalizeOperations(in []any) []any {
	out := make([]any, 0, len(in))
	for _, o := range in {
		switch t := o.(type) {
		case string:
			if s := strings.TrimSpace(t); s != "" {
				out = append(out, map[string]any{"type": s})
			}
		case map[string]any:
			op := map[string]any{}
			for _, k := range []string{"type", "kind", "operation", "name"} {
				if s, ok := coerceString(t[k]); ok {
					op["type"] = s
					break
				}
			}
			if s, ok := coerceString(t["code"]); ok {
				op["code"] = s
			}
			for _, k := range []string{"detail", "details", "description"} {
				if s, ok := coerceString(t[k]); ok {
					op["detail"] = s
					break
				}
			}
			if _, ok := op["type"]; !ok {
				if c, ok := op["code"]; ok {
					op["type"] = c
				} else {
					continue
				}
			}
			out = append(out, op)
		}
	}
	return out
}

// inlineOperation turns a column like "edging": "2L2W" into an operation.
func inlineOperation(kind string, v any) map[string]any {
	switch t := v.(type) {
	case bool:
		if t {
			return map[string]any{"type": kind}
		}
	case string:
		s := strings.TrimSpace(t)
		switch strings.ToLower(s) {
		case "", "no", "none", "n", "-", "false", "0", "null":
			return nil
		case "yes", "y", "true", "x":
			return map[string]any{"type": kind}
		}
		return map[string]any{"type": kind, "code": s}
	case float64:
		if t > 0 {
			return map[string]any{"type": kind, "code": coerceFloatCode(t)}
		}
	}
	return nil
}

func coerceFloatCode(f float64) string {
	s, _ := coerceString(f)
	return s
}

func isMetadataKey(k string) bool {
	for _, m := range metadataKeys {
		if k == m {
			return true
		}
	}
	return false
}
