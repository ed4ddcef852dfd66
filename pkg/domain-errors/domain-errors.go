package domainerrors

import "errors"

// Code is a transport-independent failure category. The HTTP layer owns the
// translation of a Code into a status and a wire-level error code.
type Code string

const (
	CodeNotFound     Code = "not_found"
	CodeBadRequest   Code = "bad_request"
	CodeInvalidInput Code = "invalid_input"
	CodeValidation   Code = "validation_failed"
	CodeInternal     Code = "internal_error"
	CodeConflict     Code = "conflict"
	CodeUnauthorized Code = "unauthorized"
	CodeForbidden    Code = "forbidden"
	CodeTimeout      Code = "timeout"
	CodeRateLimited  Code = "rate_limited"

	// Connected apps gateway
	CodeUnknownApp             Code = "unknown_app"
	CodeInstanceNotFound       Code = "instance_not_found"
	CodeDuplicateInstance      Code = "duplicate_instance"
	CodeCapabilityNotSupported Code = "unknown_handler"
	CodeUnknownAppHandler      Code = "app_handler_misconfigured"
	CodeInvalidOrExpiredState  Code = "invalid_or_expired_state"
	CodeConcurrentModification Code = "concurrent_modification"
	CodeHandlerTimeout         Code = "handler_timeout"
)

// Error carries a stable Code alongside a human readable message and an
// optional cause. Stores, services and handlers all speak it.
type Error struct {
	Code    Code
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Message != "" {
		return e.Message
	}
	return string(e.Code)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is makes errors.Is match two domain errors with the same Code.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Code == t.Code
}

// New creates a domain error.
func New(code Code, msg string) error {
	return &Error{Code: code, Message: msg}
}

// Wrap attaches a code and message to err. A domain error keeps its original
// code so that the first classification wins.
func Wrap(err error, code Code, msg string) error {
	if existing := CodeOf(err); existing != "" {
		code = existing
	}
	return &Error{Code: code, Message: msg, Err: err}
}

// CodeOf returns the code of the outermost domain error in err's chain, or ""
// when err carries none.
func CodeOf(err error) Code {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}

// HasCode reports whether err is a domain error with the given code.
func HasCode(err error, code Code) bool {
	return err != nil && CodeOf(err) == code
}
