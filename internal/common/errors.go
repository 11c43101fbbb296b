package common

import (
	"errors"
	"fmt"
	"net/http"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// Error codes surfaced to callers.
const (
	CodeInputTooLarge     = "INPUT_TOO_LARGE"
	CodeInputEmpty        = "INPUT_EMPTY"
	CodeUnsupportedType   = "UNSUPPORTED_TYPE"
	CodeSpreadsheetRouted = "SPREADSHEET_ROUTED"
	CodeNotConfigured     = "NOT_CONFIGURED"
	CodeProviderFailed    = "PROVIDER_FAILED"
	CodeUnreadableImage   = "UNREADABLE_IMAGE"
	CodeBlankTemplate     = "BLANK_TEMPLATE"
	CodeNoText            = "NO_TEXT"
	CodeNoParts           = "NO_PARTS"
	CodeNotFound          = "NOT_FOUND"
	CodeConfig            = "CONFIG_ERROR"
	CodeValidation        = "VALIDATION_ERROR"
)

// AppError represents application-specific errors
type AppError struct {
	Code    string
	Message string
	Cause   error
	// Remediation lists concrete steps a user can take (content errors only).
	Remediation []string
}

func (e *AppError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *AppError) Unwrap() error {
	return e.Cause
}

// Common application errors
var (
	ErrNotFound      = errors.New("resource not found")
	ErrInvalidInput  = errors.New("invalid input")
	ErrUnauthorized  = errors.New("unauthorized")
	ErrNotConfigured = errors.New("provider not configured")
	ErrContent       = errors.New("content not extractable")
	ErrInternal      = errors.New("internal error")
	ErrDatabase      = errors.New("database error")
	ErrValidation    = errors.New("validation failed")
)

// Error constructors
func NewAppError(code, message string, cause error) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
		Cause:   cause,
	}
}

// NewContentError builds a user-actionable content error.
func NewContentError(code, message string, remediation ...string) *AppError {
	return &AppError{
		Code:        code,
		Message:     message,
		Cause:       ErrContent,
		Remediation: remediation,
	}
}

func WrapError(err error, message string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", message, err)
}

// AsAppError extracts the first AppError in the chain.
func AsAppError(err error) (*AppError, bool) {
	var ae *AppError
	if errors.As(err, &ae) {
		return ae, true
	}
	return nil, false
}

// ErrorCode returns the AppError code in err's chain, or "" if none.
func ErrorCode(err error) string {
	if ae, ok := AsAppError(err); ok {
		return ae.Code
	}
	return ""
}

// GRPCCode maps an error to the closest gRPC status code.
func GRPCCode(err error) codes.Code {
	if err == nil {
		return codes.OK
	}
	if s, ok := status.FromError(err); ok && s.Code() != codes.Unknown {
		return s.Code()
	}
	switch ErrorCode(err) {
	case CodeInputTooLarge:
		return codes.ResourceExhausted
	case CodeInputEmpty, CodeValidation:
		return codes.InvalidArgument
	case CodeUnsupportedType, CodeSpreadsheetRouted:
		return codes.InvalidArgument
	case CodeNotConfigured:
		return codes.FailedPrecondition
	case CodeUnreadableImage, CodeBlankTemplate, CodeNoText, CodeNoParts:
		return codes.FailedPrecondition
	case CodeProviderFailed:
		return codes.Unavailable
	case CodeNotFound:
		return codes.NotFound
	case CodeConfig:
		return codes.Internal
	}
	switch {
	case errors.Is(err, ErrNotFound):
		return codes.NotFound
	case errors.Is(err, ErrInvalidInput), errors.Is(err, ErrValidation):
		return codes.InvalidArgument
	case errors.Is(err, ErrUnauthorized):
		return codes.Unauthenticated
	case errors.Is(err, ErrNotConfigured):
		return codes.FailedPrecondition
	}
	return codes.Internal
}

// HTTPStatus maps an error to an HTTP status via its gRPC code.
func HTTPStatus(err error) int {
	switch GRPCCode(err) {
	case codes.OK:
		return http.StatusOK
	case codes.InvalidArgument:
		if ErrorCode(err) == CodeUnsupportedType || ErrorCode(err) == CodeSpreadsheetRouted {
			return http.StatusUnsupportedMediaType
		}
		return http.StatusBadRequest
	case codes.ResourceExhausted:
		return http.StatusRequestEntityTooLarge
	case codes.NotFound:
		return http.StatusNotFound
	case codes.FailedPrecondition:
		if ErrorCode(err) == CodeNotConfigured {
			return http.StatusServiceUnavailable
		}
		return http.StatusUnprocessableEntity
	case codes.Unauthenticated:
		return http.StatusUnauthorized
	case codes.Unavailable:
		return http.StatusBadGateway
	case codes.DeadlineExceeded:
		return http.StatusGatewayTimeout
	}
	return http.StatusInternalServerError
}

// gRPC error helpers
func InvalidArgumentError(message string) error {
	return status.Error(codes.InvalidArgument, message)
}

func NotFoundError(message string) error {
	return status.Error(codes.NotFound, message)
}

func InternalError(message string) error {
	return status.Error(codes.Internal, message)
}

func InvalidArgumentErrorf(format string, args ...interface{}) error {
	return InvalidArgumentError(fmt.Sprintf(format, args...))
}
