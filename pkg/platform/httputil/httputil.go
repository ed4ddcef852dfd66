package httputil

import (
	"encoding/json"
	"errors"
	"net/http"

	dErrors "tempo/pkg/domain-errors"
)

// ErrorEnvelope is the JSON body written for every failed API call.
type ErrorEnvelope struct {
	Success bool   `json:"success"`
	Error   string `json:"error"`
	Code    string `json:"code"`
	Data    any    `json:"data,omitempty"`
}

// StatusError is implemented by errors that carry their own HTTP status and
// wire code, such as errors declared by third-party app handlers.
type StatusError interface {
	error
	HTTPStatus() int
	ErrorCode() string
	ErrorData() any
}

func WriteJSON(w http.ResponseWriter, status int, response any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	// Headers are already sent, an encoding failure cannot change the status.
	_ = json.NewEncoder(w).Encode(response)
}

// WriteSuccess writes {"success":true}.
func WriteSuccess(w http.ResponseWriter) {
	WriteJSON(w, http.StatusOK, map[string]bool{"success": true})
}

// WriteError translates err into the {success:false,error,code} envelope.
func WriteError(w http.ResponseWriter, err error) {
	status, env := ErrorResponse(err)
	WriteJSON(w, status, env)
}

// ErrorResponse computes the status and envelope for err without writing it,
// for callers that render failures in another format.
func ErrorResponse(err error) (int, ErrorEnvelope) {
	var statusErr StatusError
	if errors.As(err, &statusErr) {
		status := statusErr.HTTPStatus()
		if status < 400 || status > 599 {
			status = http.StatusBadRequest
		}
		return status, ErrorEnvelope{
			Error: statusErr.Error(),
			Code:  statusErr.ErrorCode(),
			Data:  statusErr.ErrorData(),
		}
	}

	var domainErr *dErrors.Error
	if errors.As(err, &domainErr) {
		status := DomainCodeToHTTPStatus(domainErr.Code)
		msg := domainErr.Message
		if msg == "" || status == http.StatusInternalServerError && domainErr.Code == dErrors.CodeInternal {
			msg = http.StatusText(status)
		}
		return status, ErrorEnvelope{Error: msg, Code: DomainCodeToHTTPCode(domainErr.Code)}
	}

	return http.StatusInternalServerError, ErrorEnvelope{
		Error: http.StatusText(http.StatusInternalServerError),
		Code:  DomainCodeToHTTPCode(dErrors.CodeInternal),
	}
}

// DomainCodeToHTTPStatus translates domain error codes to HTTP status codes.
// Unrecognised codes are operation-specific failure codes and map to 500.
func DomainCodeToHTTPStatus(code dErrors.Code) int {
	switch code {
	case dErrors.CodeNotFound, dErrors.CodeInstanceNotFound, dErrors.CodeUnknownApp,
		dErrors.CodeCapabilityNotSupported:
		return http.StatusNotFound
	case dErrors.CodeBadRequest, dErrors.CodeValidation, dErrors.CodeInvalidInput,
		dErrors.CodeInvalidOrExpiredState:
		return http.StatusBadRequest
	case dErrors.CodeConflict, dErrors.CodeDuplicateInstance, dErrors.CodeConcurrentModification:
		return http.StatusConflict
	case dErrors.CodeUnauthorized:
		return http.StatusUnauthorized
	case dErrors.CodeForbidden:
		return http.StatusForbidden
	case dErrors.CodeTimeout, dErrors.CodeHandlerTimeout:
		return http.StatusGatewayTimeout
	case dErrors.CodeRateLimited:
		return http.StatusTooManyRequests
	default:
		return http.StatusInternalServerError
	}
}

// DomainCodeToHTTPCode translates domain error codes to the code string of the
// JSON envelope.
func DomainCodeToHTTPCode(code dErrors.Code) string {
	switch code {
	case dErrors.CodeBadRequest, dErrors.CodeInvalidInput:
		return "bad_request"
	case dErrors.CodeInstanceNotFound, dErrors.CodeUnknownApp:
		return string(dErrors.CodeNotFound)
	case dErrors.CodeValidation:
		return "validation_error"
	case "":
		return string(dErrors.CodeInternal)
	default:
		return string(code)
	}
}
