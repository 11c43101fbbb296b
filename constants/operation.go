package constants

import (
	"strings"
)

type OperationKind string

const (
	OpEdging   OperationKind = "edging"
	OpGrooving OperationKind = "grooving"
	OpDrilling OperationKind = "drilling"
	OpCNC      OperationKind = "cnc"
	OpOther    OperationKind = "other"
)

var allOperations = []OperationKind{
	OpEdging,
	OpGrooving,
	OpDrilling,
	OpCNC,
}

func OperationKinds() []string {
	result := make([]string, len(allOperations))
	for i, op := range allOperations {
		result[i] = string(op)
	}
	return result
}

// CanonicalizeOperation maps a free-form operation label to a kind.
func CanonicalizeOperation(input string) (OperationKind, bool) {
	if input == "" {
		return OpOther, false
	}

	normalized := strings.ToLower(strings.TrimSpace(input))

	synonyms := map[string]OperationKind{
		"edge":         OpEdging,
		"edges":        OpEdging,
		"edge banding": OpEdging,
		"edgebanding":  OpEdging,
		"banding":      OpEdging,
		"eb":           OpEdging,
		"groove":       OpGrooving,
		"grooves":      OpGrooving,
		"dado":         OpGrooving,
		"rebate":       OpGrooving,
		"rabbet":       OpGrooving,
		"gr":           OpGrooving,
		"drill":        OpDrilling,
		"drill holes":  OpDrilling,
		"boring":       OpDrilling,
		"hinge holes":  OpDrilling,
		"dr":           OpDrilling,
		"router":       OpCNC,
		"routing":      OpCNC,
		"milling":      OpCNC,
		"machining":    OpCNC,
	}

	if op, ok := synonyms[normalized]; ok {
		return op, true
	}

	for _, op := range allOperations {
		if normalized == string(op) {
			return op, true
		}
	}

	return OpOther, false
}
