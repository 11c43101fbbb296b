package ratelimit

import (
	"strings"
)

// DetectTruncation reports whether a model response stopped mid-structure,
// either by the provider's stop reason or by an unterminated string or
// bracket in the JSON payload.
func DetectTruncation(payload, stopReason string) (bool, string) {
	switch strings.ToLower(strings.TrimSpace(stopReason)) {
	case "length", "max_tokens":
		return true, "stop_reason=" + stopReason
	}

	start := strings.IndexAny(payload, "{[")
	if start < 0 {
		return false, ""
	}
	var stack []byte
	inString, escaped := false, false
	for i := start; i < len(payload); i++ {
		c := payload[i]
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
				continue
			}
			stack = stack[:len(stack)-1]
		}
	}
	if inString {
		return true, "unterminated string"
	}
	if len(stack) > 0 {
		return true, "unterminated " + string(stack[len(stack)-1])
	}
	return false, ""
}
