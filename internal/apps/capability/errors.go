package capability

import (
	"fmt"
	"net/http"
)

// AppRequestError is a failure a handler declares on purpose. It reaches the
// caller with its own status, code and data.
type AppRequestError struct {
	Code    string
	Status  int
	Message string
	Data    any
	Err     error
}

// NewAppRequestError builds an AppRequestError. A zero status means 400.
func NewAppRequestError(status int, code, message string) *AppRequestError {
	if status == 0 {
		status = http.StatusBadRequest
	}
	return &AppRequestError{Code: code, Status: status, Message: message}
}

// WithData attaches a payload returned alongside the error envelope.
func (e *AppRequestError) WithData(data any) *AppRequestError {
	e.Data = data
	return e
}

func (e *AppRequestError) Error() string {
	if e.Message != "" {
		return e.Message
	}
	return fmt.Sprintf("app request failed: %s", e.Code)
}

func (e *AppRequestError) Unwrap() error { return e.Err }

func (e *AppRequestError) HTTPStatus() int { return e.Status }

func (e *AppRequestError) ErrorCode() string { return e.Code }

func (e *AppRequestError) ErrorData() any { return e.Data }
