package schema

import (
	"encoding/json"
	"fmt"
	"net/url"
	"slices"
	"strconv"
	"strings"
	"unicode/utf8"
)

// Issue is one constraint violation, addressed by a dotted path into the
// payload ("item.options.customInstruction", "models[2].id").
type Issue struct {
	Path    string `json:"path"`
	Message string `json:"message"`

	// tooLong marks violations of a length cap that surfaces as TEXT_TOO_LONG.
	tooLong bool
	max     int
}

// Rule checks a decoded JSON value (strings, bools, json.Number,
// map[string]any, []any) and appends any issues found.
type Rule interface {
	check(path string, v any, issues *[]Issue)
}

// Field is one named member of an Object.
type Field struct {
	Name     string
	Required bool
	// Nullable allows an explicit JSON null in place of the value.
	Nullable bool
	Rule     Rule
}

// Object requires a JSON object. Members not listed in Fields are ignored.
type Object struct {
	Fields []Field
}

func (o Object) check(path string, v any, issues *[]Issue) {
	m, ok := v.(map[string]any)
	if !ok {
		addIssue(issues, path, "expected object, got %s", kindOf(v))
		return
	}
	for _, f := range o.Fields {
		fp := join(path, f.Name)
		val, present := m[f.Name]
		switch {
		case !present:
			if f.Required {
				addIssue(issues, fp, "required")
			}
		case val == nil:
			if !f.Nullable {
				addIssue(issues, fp, "must not be null")
			}
		case f.Rule != nil:
			f.Rule.check(fp, val, issues)
		}
	}
}

// String constrains a JSON string. Lengths count characters, not bytes.
type String struct {
	Min, Max int
	// TooLong reports a Max violation as TEXT_TOO_LONG.
	TooLong bool
	URL     bool
	Enum    []string
}

func (s String) check(path string, v any, issues *[]Issue) {
	str, ok := v.(string)
	if !ok {
		addIssue(issues, path, "expected string, got %s", kindOf(v))
		return
	}
	n := utf8.RuneCountInString(str)
	if n < s.Min {
		if s.Min == 1 {
			addIssue(issues, path, "must not be empty")
		} else {
			addIssue(issues, path, "must be at least %d characters", s.Min)
		}
	}
	if s.Max > 0 && n > s.Max {
		*issues = append(*issues, Issue{
			Path:    path,
			Message: fmt.Sprintf("must be at most %d characters", s.Max),
			tooLong: s.TooLong,
			max:     s.Max,
		})
	}
	if s.URL {
		if u, err := url.Parse(str); err != nil || u.Scheme == "" || u.Host == "" {
			addIssue(issues, path, "must be a valid URL")
		}
	}
	if len(s.Enum) > 0 && !slices.Contains(s.Enum, str) {
		addIssue(issues, path, "must be one of %s", strings.Join(s.Enum, ", "))
	}
}

// Bool requires a JSON boolean.
type Bool struct{}

func (Bool) check(path string, v any, issues *[]Issue) {
	if _, ok := v.(bool); !ok {
		addIssue(issues, path, "expected boolean, got %s", kindOf(v))
	}
}

// Int requires an integral JSON number within optional bounds.
type Int struct {
	Min, Max *int64
}

func (r Int) check(path string, v any, issues *[]Issue) {
	num, ok := v.(json.Number)
	if !ok {
		addIssue(issues, path, "expected integer, got %s", kindOf(v))
		return
	}
	n, err := strconv.ParseInt(num.String(), 10, 64)
	if err != nil {
		addIssue(issues, path, "expected integer, got %s", num)
		return
	}
	if r.Min != nil && n < *r.Min {
		addIssue(issues, path, "must be >= %d", *r.Min)
	}
	if r.Max != nil && n > *r.Max {
		addIssue(issues, path, "must be <= %d", *r.Max)
	}
}

// Array requires a JSON array whose elements all satisfy Elem.
type Array struct {
	Elem Rule
}

func (a Array) check(path string, v any, issues *[]Issue) {
	items, ok := v.([]any)
	if !ok {
		addIssue(issues, path, "expected array, got %s", kindOf(v))
		return
	}
	for i, it := range items {
		a.Elem.check(fmt.Sprintf("%s[%d]", path, i), it, issues)
	}
}

// Any accepts every value, including null.
type Any struct{}

func (Any) check(string, any, *[]Issue) {}

func bound(n int64) *int64 { return &n }

func addIssue(issues *[]Issue, path, format string, args ...any) {
	*issues = append(*issues, Issue{Path: path, Message: fmt.Sprintf(format, args...)})
}

func join(path, name string) string {
	if path == "" {
		return name
	}
	return path + "." + name
}

func kindOf(v any) string {
	switch v.(type) {
	case nil:
		return "null"
	case string:
		return "string"
	case bool:
		return "boolean"
	case json.Number:
		return "number"
	case map[string]any:
		return "object"
	case []any:
		return "array"
	default:
		return fmt.Sprintf("%T", v)
	}
}
