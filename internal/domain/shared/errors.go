package shared

import (
	"errors"

	"github.com/samber/oops"
)

// Domain error codes
const (
	ErrCodeInvalidInput = 1001
	ErrCodeNotFound     = 1002
	ErrCodeInvalidState = 1004
	ErrCodeStoreFailure = 1005
	ErrCodeUnknown      = 1999

	// Sensor errors (2000-2999)
	ErrCodeSensorPermissionDenied = 2001
	ErrCodeSensorTimeout          = 2002
	ErrCodeSensorUnavailable      = 2003

	// Channel errors (3000-3999)
	ErrCodeChannelSubscription = 3001
	ErrCodeChannelLocked       = 3002

	// Send errors (4000-4999)
	ErrCodeSendRejectedModeration = 4001
	ErrCodeSendRejectedEmpty      = 4002
	ErrCodeSendFailedTransient    = 4003
	ErrCodeSendQueueFull          = 4004
)

// domainError carries the numeric code next to the oops error so callers
// can classify failures without parsing messages
type domainError struct {
	code int
	err  error
}

func (e *domainError) Error() string {
	return e.err.Error()
}

func (e *domainError) Unwrap() error {
	return e.err
}

// NewDomainError creates a new domain error using oops
func NewDomainError(code int, message string) error {
	return &domainError{
		code: code,
		err: oops.
			Code(codeToString(code)).
			In("domain").
			With("error_code", code).
			Errorf("%s", message),
	}
}

// NewDomainErrorf creates a new domain error with formatted message
func NewDomainErrorf(code int, format string, args ...interface{}) error {
	return &domainError{
		code: code,
		err: oops.
			Code(codeToString(code)).
			In("domain").
			With("error_code", code).
			Errorf(format, args...),
	}
}

// WrapDomainError wraps an existing error with domain context
func WrapDomainError(err error, code int, message string) error {
	if err == nil {
		return nil
	}
	return &domainError{
		code: code,
		err: oops.
			Code(codeToString(code)).
			In("domain").
			With("error_code", code).
			Wrapf(err, "%s", message),
	}
}

// CodeOf returns the domain error code carried by err, or ErrCodeUnknown
func CodeOf(err error) int {
	var de *domainError
	if errors.As(err, &de) {
		return de.code
	}
	return ErrCodeUnknown
}

// IsCode reports whether err carries the given domain error code
func IsCode(err error, code int) bool {
	return err != nil && CodeOf(err) == code
}

// CodeString returns the string form of the code carried by err
func CodeString(err error) string {
	return codeToString(CodeOf(err))
}

// codeToString converts int error code to string
func codeToString(code int) string {
	switch code {
	case ErrCodeInvalidInput:
		return "INVALID_INPUT"
	case ErrCodeNotFound:
		return "NOT_FOUND"
	case ErrCodeInvalidState:
		return "INVALID_STATE"
	case ErrCodeStoreFailure:
		return "STORE_FAILURE"
	case ErrCodeSensorPermissionDenied:
		return "SENSOR_PERMISSION_DENIED"
	case ErrCodeSensorTimeout:
		return "SENSOR_TIMEOUT"
	case ErrCodeSensorUnavailable:
		return "SENSOR_UNAVAILABLE"
	case ErrCodeChannelSubscription:
		return "CHANNEL_SUBSCRIPTION_ERROR"
	case ErrCodeChannelLocked:
		return "CHANNEL_LOCKED"
	case ErrCodeSendRejectedModeration:
		return "SEND_REJECTED_MODERATION"
	case ErrCodeSendRejectedEmpty:
		return "SEND_REJECTED_EMPTY"
	case ErrCodeSendFailedTransient:
		return "SEND_FAILED_TRANSIENT"
	case ErrCodeSendQueueFull:
		return "SEND_QUEUE_FULL"
	default:
		return "UNKNOWN_ERROR"
	}
}

// Common domain error builders
func ErrInvalidInput(msg string) error {
	return NewDomainError(ErrCodeInvalidInput, msg)
}

func ErrNotFound(resource string) error {
	return NewDomainErrorf(ErrCodeNotFound, "%s not found", resource)
}

func ErrInvalidState(format string, args ...interface{}) error {
	return NewDomainErrorf(ErrCodeInvalidState, format, args...)
}
