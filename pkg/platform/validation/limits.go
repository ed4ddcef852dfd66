// Package validation holds input limits enforced at the HTTP boundary.
package validation

import (
	"fmt"

	dErrors "tempo/pkg/domain-errors"
)

// HTTP body limits
const (
	// MaxBodySize is the default request body cap for JSON and webhook bodies.
	MaxBodySize = 1 << 20

	// MaxFormMemory is how much of a multipart form is held in memory before
	// spilling to temporary files.
	MaxFormMemory = 8 << 20
)

// Slice element count limits
const (
	// MaxScopes is the maximum number of scopes in one list-by-scope query.
	MaxScopes = 10

	// MaxSubPathSegments is the maximum depth of an app call sub-path.
	MaxSubPathSegments = 16
)

// String element length limits
const (
	// MaxAppNameLength matches the catalog key limit.
	MaxAppNameLength = 64

	// MaxStateLength is the maximum length of an OAuth state parameter.
	MaxStateLength = 2048

	// MaxSubPathLength is the maximum length of an app call sub-path.
	MaxSubPathLength = 1024
)

// CheckSliceCount validates that a slice does not exceed the maximum count.
func CheckSliceCount(fieldName string, count, max int) error {
	if count > max {
		return dErrors.New(dErrors.CodeValidation, fmt.Sprintf("too many %s: max %d allowed", fieldName, max))
	}
	return nil
}

// CheckStringLength validates that a string does not exceed the maximum length.
func CheckStringLength(fieldName, value string, max int) error {
	if len(value) > max {
		return dErrors.New(dErrors.CodeValidation, fmt.Sprintf("%s exceeds max length of %d", fieldName, max))
	}
	return nil
}
