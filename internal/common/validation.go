package common

import (
	"fmt"
	"regexp"
	"strings"
)

// ValidationError is one failed rule on one field.
type ValidationError struct {
	Field   string
	Value   any
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s %s (got %v)", e.Field, e.Message, e.Value)
}

// ValidationRule checks a single field value and returns nil when it passes.
type ValidationRule func(field string, value any) *ValidationError

// Validator collects every failure so callers can report them in one response.
type Validator struct {
	failures []ValidationError
}

func NewValidator() *Validator {
	return &Validator{}
}

// Field runs rules in order against value. All rules run; a missing value
// may therefore report both "is required" and a format failure.
func (v *Validator) Field(field string, value any, rules ...ValidationRule) *Validator {
	for _, rule := range rules {
		if f := rule(field, value); f != nil {
			v.failures = append(v.failures, *f)
		}
	}
	return v
}

func (v *Validator) HasErrors() bool { return len(v.failures) > 0 }

// Failures returns the collected failures in the order they were found.
func (v *Validator) Failures() []ValidationError { return v.failures }

func (v *Validator) message() string {
	msgs := make([]string, len(v.failures))
	for i, f := range v.failures {
		msgs[i] = f.Error()
	}
	return strings.Join(msgs, "; ")
}

// ValidateAndReturnError turns collected failures into a VALIDATION_ERROR AppError.
func ValidateAndReturnError(v *Validator) error {
	if !v.HasErrors() {
		return nil
	}
	return NewAppError(CodeValidation, v.message(), ErrValidation)
}

// Fail builds a rule that always fails with msg; used after a custom check.
func Fail(msg string) ValidationRule {
	return func(field string, value any) *ValidationError {
		return &ValidationError{Field: field, Value: value, Message: msg}
	}
}

// Required rejects nil, blank strings and nil string pointers.
func Required(field string, value any) *ValidationError {
	switch s := value.(type) {
	case nil:
	case string:
		if strings.TrimSpace(s) != "" {
			return nil
		}
	case *string:
		if s != nil && strings.TrimSpace(*s) != "" {
			return nil
		}
	default:
		return nil
	}
	return &ValidationError{Field: field, Value: value, Message: "is required"}
}

var identifierRe = regexp.MustCompile(`^[A-Za-z0-9._:\-]{1,128}$`)

// Identifier accepts short opaque ids such as org ids, project codes and
// file ids. Empty values pass; combine with Required when needed.
func Identifier(field string, value any) *ValidationError {
	s, ok := value.(string)
	switch {
	case !ok:
		return &ValidationError{Field: field, Value: value, Message: "must be a string"}
	case s == "" || identifierRe.MatchString(s):
		return nil
	}
	return &ValidationError{Field: field, Value: value, Message: "may only contain letters, digits, '-', '_', '.' and ':'"}
}

// NonNegative accepts ints and floats at or above zero, e.g. page numbers
// where 0 means unknown.
func NonNegative(field string, value any) *ValidationError {
	return signRule(field, value, false)
}

// Positive accepts ints and floats strictly above zero, e.g. template
// versions and panel thickness.
func Positive(field string, value any) *ValidationError {
	return signRule(field, value, true)
}

func signRule(field string, value any, strict bool) *ValidationError {
	var f float64
	switch n := value.(type) {
	case int:
		f = float64(n)
	case float64:
		f = n
	default:
		return &ValidationError{Field: field, Value: value, Message: "must be a number"}
	}
	if strict && f <= 0 {
		return &ValidationError{Field: field, Value: value, Message: "must be positive"}
	}
	if f < 0 {
		return &ValidationError{Field: field, Value: value, Message: "must not be negative"}
	}
	return nil
}
