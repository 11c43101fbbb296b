package llm

import (
	"regexp"
	"strconv"
	"strings"
)

var (
	reNumberToken = regexp.MustCompile(`-?\d+(?:[.,]\d+)*`)
	reThousands   = regexp.MustCompile(`^\d{1,3}(,\d{3})+$`)
)

// coerceNumber reads dimensions the way models write them: 720, "720",
// "720mm", "720,5", "1,200", "720.5 mm". ok is false for empty or unreadable values.
func coerceNumber(v any) (float64, bool) {
	switch t := v.(type) {
	case float64:
		return t, true
	case int:
		return float64(t), true
	case string:
		s := strings.TrimSpace(t)
		if s == "" || strings.EqualFold(s, "null") || s == "-" {
			return 0, false
		}
		tok := reNumberToken.FindString(s)
		if tok == "" {
			return 0, false
		}
		switch {
		case reThousands.MatchString(tok):
			tok = strings.ReplaceAll(tok, ",", "")
		case strings.Count(tok, ",") == 1 && !strings.Contains(tok, "."):
			tok = strings.Replace(tok, ",", ".", 1)
		default:
			tok = strings.ReplaceAll(tok, ",", "")
		}
		f, err := strconv.ParseFloat(tok, 64)
		if err != nil {
			return 0, false
		}
		return f, true
	}
	return 0, false
}

// coerceQuantity reads "2", 2, "2x", "x2", "2 pcs".
func coerceQuantity(v any) (int, bool) {
	f, ok := coerceNumber(v)
	if !ok || f < 0 {
		return 0, false
	}
	return int(f + 0.5), true
}

// coerceConfidence accepts 0..1 or a 0..100 percentage.
func coerceConfidence(v any) (float64, bool) {
	f, ok := coerceNumber(v)
	if !ok {
		return 0, false
	}
	if f > 1 && f <= 100 {
		f /= 100
	}
	if f < 0 || f > 1 {
		return 0, false
	}
	return f, true
}

func coerceString(v any) (string, bool) {
	switch t := v.(type) {
	case string:
		s := strings.TrimSpace(t)
		return s, s != "" && !strings.EqualFold(s, "null")
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64), true
	}
	return "", false
}
