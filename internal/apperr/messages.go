package apperr

import "fmt"

// MaxTextLength is the default cap on text submitted for formatting.
const MaxTextLength = 20000

// Humanize replaces the message of LLM and validation errors with the
// user-facing wording for that code. Other codes are returned unchanged.
func Humanize(e *Error) *Error {
	if e == nil {
		return nil
	}

	var msg string
	switch e.Code {
	case CodeModelNotFound:
		msg = "The selected model was not found. Check the model list."
	case CodeRateLimited:
		msg = "Rate limit reached. Wait a moment and try again."
	case CodeInvalidResponse:
		msg = "The model returned an invalid response."
	case CodeInvalidModelID:
		msg = "Invalid model ID."
	case CodeTextTooLong:
		max := MaxTextLength
		if d, ok := e.Details.(map[string]any); ok {
			if v, ok := d["maxLength"].(int); ok && v > 0 {
				max = v
			}
		}
		msg = fmt.Sprintf("Text is too long (maximum %d characters).", max)
	case CodeValidation:
		if e.Message != "" {
			return e
		}
		msg = "Validation failed."
	case CodeNetworkError:
		if e.Message != "" {
			return e
		}
		msg = "A network error occurred. Check your connection."
	default:
		return e
	}

	out := *e
	out.Message = msg
	return &out
}
