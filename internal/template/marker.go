package template

import (
	"encoding/json"
	"net/url"
	"regexp"
	"strconv"
	"strings"
)

// reMarker matches template ids printed on a sheet or embedded in a name:
// "TPL-ACME01", "tpl_acme01 v2", "TPL-ACME01-V3".
var reMarker = regexp.MustCompile(`(?i)\bTPL[-_]?([A-Z0-9]{3,16})(?:[-_ ]?V(\d{1,3}))?\b`)

// Ref identifies one template version; Version 0 means latest.
type Ref struct {
	ID      string
	Version int
}

// FindMarker returns the first template marker in s.
func FindMarker(s string) (Ref, bool) {
	m := reMarker.FindStringSubmatch(s)
	if m == nil {
		return Ref{}, false
	}
	ref := Ref{ID: "TPL-" + strings.ToUpper(m[1])}
	if m[2] != "" {
		ref.Version, _ = strconv.Atoi(m[2])
	}
	return ref, true
}

// ParsePayload reads a QR payload: JSON {"template_id", "version"}, a URL
// carrying tpl/template and v/version query parameters, or a bare marker.
func ParsePayload(payload string) (Ref, bool) {
	payload = strings.TrimSpace(payload)
	if payload == "" {
		return Ref{}, false
	}
	if strings.HasPrefix(payload, "{") {
		var doc struct {
			TemplateID string `json:"template_id"`
			Template   string `json:"template"`
			Version    any    `json:"version"`
		}
		if err := json.Unmarshal([]byte(payload), &doc); err == nil {
			id := doc.TemplateID
			if id == "" {
				id = doc.Template
			}
			if ref, ok := FindMarker(id); ok {
				if v := versionOf(doc.Version); v > 0 {
					ref.Version = v
				}
				return ref, true
			}
		}
	}
	if u, err := url.Parse(payload); err == nil && u.Scheme != "" {
		q := u.Query()
		for _, k := range []string{"tpl", "template", "template_id"} {
			if ref, ok := FindMarker(q.Get(k)); ok {
				for _, vk := range []string{"v", "version"} {
					if v, err := strconv.Atoi(q.Get(vk)); err == nil && v > 0 {
						ref.Version = v
					}
				}
				return ref, true
			}
		}
	}
	return FindMarker(payload)
}

func versionOf(v any) int {
	switch t := v.(type) {
	case float64:
		return int(t)
	case string:
		n, _ := strconv.Atoi(strings.TrimPrefix(strings.ToLower(strings.TrimSpace(t)), "v"))
		return n
	}
	return 0
}
