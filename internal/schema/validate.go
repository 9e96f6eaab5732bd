// Package schema declares the request shape of every command and checks
// raw payloads against it before any handler runs.
package schema

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/kalambet/tfmt/internal/apperr"
)

// Schema is the request contract of one command.
type Schema struct {
	body   Object
	decode func(raw json.RawMessage) (any, []Issue)
}

func define[T any](body Object, refine func(*T) []Issue) Schema {
	return Schema{
		body: body,
		decode: func(raw json.RawMessage) (any, []Issue) {
			var req T
			if err := json.Unmarshal(raw, &req); err != nil {
				return nil, []Issue{{Message: err.Error()}}
			}
			if refine != nil {
				if issues := refine(&req); len(issues) > 0 {
					return nil, issues
				}
			}
			return req, nil
		},
	}
}

// PayloadOptional reports whether the command accepts an absent payload.
func (s Schema) PayloadOptional() bool {
	for _, f := range s.body.Fields {
		if f.Required {
			return false
		}
	}
	return true
}

// Lookup returns the schema of a catalog command.
func Lookup(command string) (Schema, bool) {
	s, ok := schemas[command]
	return s, ok
}

// Validate checks raw against the command's schema and returns the typed
// request value (one of the *Request types, by value). It is pure: the
// same input always produces the same result. Rejections are
// VALIDATION_ERROR, or TEXT_TOO_LONG when every issue is an exceeded
// text length cap.
func Validate(command string, raw json.RawMessage) (any, *apperr.Error) {
	s, ok := schemas[command]
	if !ok {
		return nil, apperr.Validation(fmt.Sprintf("Unknown command %q", command), map[string]any{"command": command})
	}
	return s.Validate(raw)
}

// Validate checks raw against s.
func (s Schema) Validate(raw json.RawMessage) (any, *apperr.Error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		if !s.PayloadOptional() {
			return nil, reject([]Issue{{Message: "payload is required"}})
		}
		trimmed = []byte("{}")
	}

	dec := json.NewDecoder(bytes.NewReader(trimmed))
	dec.UseNumber()
	var doc any
	if err := dec.Decode(&doc); err != nil {
		return nil, reject([]Issue{{Message: "malformed JSON: " + err.Error()}})
	}
	if dec.More() {
		return nil, reject([]Issue{{Message: "malformed JSON: trailing data"}})
	}

	var issues []Issue
	s.body.check("", doc, &issues)
	if len(issues) > 0 {
		return nil, reject(issues)
	}

	req, issues := s.decode(trimmed)
	if len(issues) > 0 {
		return nil, reject(issues)
	}
	return req, nil
}

func reject(issues []Issue) *apperr.Error {
	allTooLong := true
	maxLen := 0
	for _, is := range issues {
		if !is.tooLong {
			allTooLong = false
			break
		}
		maxLen = is.max
	}
	if allTooLong {
		return apperr.WithDetails(apperr.CodeTextTooLong,
			fmt.Sprintf("Text is too long (maximum %d characters).", maxLen),
			map[string]any{"maxLength": maxLen, "issues": issues})
	}

	parts := make([]string, len(issues))
	for i, is := range issues {
		if is.Path == "" {
			parts[i] = is.Message
		} else {
			parts[i] = is.Path + ": " + is.Message
		}
	}
	return apperr.Validation("Invalid request: "+strings.Join(parts, "; "), map[string]any{"issues": issues})
}
