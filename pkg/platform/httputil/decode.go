package httputil

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"net/http"

	dErrors "tempo/pkg/domain-errors"
)

// Validatable is implemented by request types that check themselves.
type Validatable interface {
	Validate() error
}

// Normalizable is implemented by request types that trim or split raw input
// before validation.
type Normalizable interface {
	Normalize()
}

// PrepareRequest normalizes then validates req. Plain errors from Validate
// become validation_error so the envelope never reports them as internal.
func PrepareRequest(req any) error {
	if n, ok := req.(Normalizable); ok {
		n.Normalize()
	}
	v, ok := req.(Validatable)
	if !ok {
		return nil
	}
	err := v.Validate()
	if err == nil {
		return nil
	}
	var de *dErrors.Error
	if errors.As(err, &de) {
		return err
	}
	return dErrors.New(dErrors.CodeValidation, err.Error())
}

// ReadBody reads the whole body. A body cut off by http.MaxBytesReader is a
// bad_request, not an internal error.
func ReadBody(r *http.Request) ([]byte, error) {
	if r.Body == nil {
		return nil, nil
	}
	body, err := io.ReadAll(r.Body)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return nil, dErrors.New(dErrors.CodeBadRequest, "request body too large")
		}
		return nil, dErrors.Wrap(err, dErrors.CodeBadRequest, "failed to read request body")
	}
	return body, nil
}

// ReadRawJSON reads the body as an opaque JSON document for app handlers to
// interpret. An empty body reads as {}.
func ReadRawJSON(r *http.Request) (json.RawMessage, error) {
	body, err := ReadBody(r)
	if err != nil {
		return nil, err
	}
	body = bytes.TrimSpace(body)
	if len(body) == 0 {
		return json.RawMessage("{}"), nil
	}
	if !json.Valid(body) {
		return nil, dErrors.New(dErrors.CodeBadRequest, "invalid request body")
	}
	return json.RawMessage(body), nil
}
