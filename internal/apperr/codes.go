// Package apperr defines the closed error taxonomy shared by every command
// handler, and the single conversion from arbitrary failures into it.
package apperr

// Code is a machine-readable error code. The string values are the wire
// representation seen by the UI.
type Code string

const (
	// Network errors. The only retryable class.
	CodeNetworkError   Code = "NETWORK_ERROR"
	CodeNetworkTimeout Code = "NETWORK_TIMEOUT"

	// LLM errors
	CodeModelNotFound   Code = "LLM_MODEL_NOT_FOUND"
	CodeRateLimited     Code = "LLM_RATE_LIMIT"
	CodeInvalidResponse Code = "LLM_INVALID_RESPONSE"

	// Validation errors
	CodeValidation     Code = "VALIDATION_ERROR"
	CodeInvalidModelID Code = "INVALID_MODEL_ID"
	CodeTextTooLong    Code = "TEXT_TOO_LONG"

	// Storage errors
	CodeStorage              Code = "STORAGE_ERROR"
	CodeStorageQuotaExceeded Code = "STORAGE_QUOTA_EXCEEDED"

	CodeUnknown Code = "UNKNOWN_ERROR"
)

// Codes lists every code in the taxonomy.
var Codes = []Code{
	CodeNetworkError,
	CodeNetworkTimeout,
	CodeModelNotFound,
	CodeRateLimited,
	CodeInvalidResponse,
	CodeValidation,
	CodeInvalidModelID,
	CodeTextTooLong,
	CodeStorage,
	CodeStorageQuotaExceeded,
	CodeUnknown,
}

// Retryable reports whether a failure with this code may be re-attempted
// automatically.
func (c Code) Retryable() bool {
	switch c {
	case CodeNetworkError, CodeNetworkTimeout:
		return true
	default:
		return false
	}
}

// Valid reports whether c belongs to the taxonomy.
func (c Code) Valid() bool {
	for _, known := range Codes {
		if c == known {
			return true
		}
	}
	return false
}
