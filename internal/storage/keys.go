package storage

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/url"
	"unicode/utf8"
)

// Key names one entry of the store schema.
type Key string

const (
	KeySelectedModel        Key = "selectedModel"
	KeyDefaultModel         Key = "defaultModel"
	KeyMaxHistoryItems      Key = "maxHistoryItems"
	KeyFormatOptions        Key = "formatOptions"
	KeyLLMBaseURL           Key = "llmBaseUrl"
	KeyLLMAPIKey            Key = "llmApiKey"
	KeyLLMProvider          Key = "llmProvider"
	KeyHistory              Key = "history"
	KeyCustomModels         Key = "customModels"
	KeyWindowBounds         Key = "windowBounds"
	KeyCustomPromptTemplate Key = "customPromptTemplate"
	KeySchemaVersion        Key = "schemaVersion"
)

const (
	DefaultModel           = "llama3:8b-instruct"
	DefaultMaxHistoryItems = 20
	DefaultLLMBaseURL      = "http://localhost:11434"

	maxCustomInstruction = 500
)

// State is the full typed content of the store.
type State struct {
	SelectedModel        *string
	DefaultModel         string
	MaxHistoryItems      int
	FormatOptions        FormatOptions
	LLMBaseURL           string
	LLMAPIKey            *string
	LLMProvider          Provider
	History              []HistoryItem
	CustomModels         []ModelInfo
	WindowBounds         *WindowBounds
	CustomPromptTemplate *string
	SchemaVersion        int
}

// defaultState is the state of a never-written store. LLM settings are
// seeded separately, once, from the environment.
func defaultState() State {
	return State{
		DefaultModel:    DefaultModel,
		MaxHistoryItems: DefaultMaxHistoryItems,
		LLMBaseURL:      DefaultLLMBaseURL,
		LLMProvider:     ProviderAuto,
		History:         []HistoryItem{},
		CustomModels:    []ModelInfo{},
	}
}

// keySpec binds a key to its static value type. decode parses the wire
// form, apply stores an already-typed value, extract returns a copy.
type keySpec struct {
	key     Key
	exposed bool
	decode  func(raw json.RawMessage) (any, error)
	apply   func(st *State, v any) error
	extract func(st *State) any
}

var specs = []keySpec{
	optional(KeySelectedModel, true, func(s *State) **string { return &s.SelectedModel }, nil),
	required(KeyDefaultModel, true, func(s *State) *string { return &s.DefaultModel }, nonEmpty, nil),
	required(KeyMaxHistoryItems, true, func(s *State) *int { return &s.MaxHistoryItems }, nonNegative, nil),
	required(KeyFormatOptions, true, func(s *State) *FormatOptions { return &s.FormatOptions }, checkFormatOptions, FormatOptions.clone),
	required(KeyLLMBaseURL, true, func(s *State) *string { return &s.LLMBaseURL }, checkBaseURL, nil),
	optional(KeyLLMAPIKey, true, func(s *State) **string { return &s.LLMAPIKey }, nil),
	required(KeyLLMProvider, true, func(s *State) *Provider { return &s.LLMProvider }, checkLLMProvider, nil),
	required(KeyHistory, false, func(s *State) *[]HistoryItem { return &s.History }, checkHistory, cloneHistory),
	required(KeyCustomModels, false, func(s *State) *[]ModelInfo { return &s.CustomModels }, checkModels, cloneModels),
	optional(KeyWindowBounds, true, func(s *State) **WindowBounds { return &s.WindowBounds }, checkBounds),
	optional(KeyCustomPromptTemplate, true, func(s *State) **string { return &s.CustomPromptTemplate }, nil),
	required(KeySchemaVersion, false, func(s *State) *int { return &s.SchemaVersion }, nonNegative, nil),
}

var specsByKey = func() map[Key]keySpec {
	m := make(map[Key]keySpec, len(specs))
	for _, s := range specs {
		m[s.key] = s
	}
	return m
}()

// Keys returns every key of the store schema in declaration order.
func Keys() []Key {
	keys := make([]Key, len(specs))
	for i, s := range specs {
		keys[i] = s.key
	}
	return keys
}

// ExposedKeys returns the keys reachable through generic get/set.
// History, custom models and the schema version have dedicated operations.
func ExposedKeys() []Key {
	var keys []Key
	for _, s := range specs {
		if s.exposed {
			keys = append(keys, s.key)
		}
	}
	return keys
}

// IsExposed reports whether key may be read and written generically.
func IsExposed(key Key) bool {
	s, ok := specsByKey[key]
	return ok && s.exposed
}

// DecodeValue parses raw as the declared type of key and checks its
// constraints. The result can be passed to Store.Set.
func DecodeValue(key Key, raw json.RawMessage) (any, error) {
	s, ok := specsByKey[key]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownKey, key)
	}
	return s.decode(raw)
}

func required[T any](key Key, exposed bool, field func(*State) *T, check func(T) error, cp func(T) T) keySpec {
	copyOf := func(v T) T {
		if cp != nil {
			return cp(v)
		}
		return v
	}
	return keySpec{
		key:     key,
		exposed: exposed,
		decode: func(raw json.RawMessage) (any, error) {
			if isNull(raw) {
				return nil, fmt.Errorf("%w: %s must not be null", ErrTypeMismatch, key)
			}
			var v T
			if err := strictUnmarshal(raw, &v); err != nil {
				return nil, fmt.Errorf("%w: %s: %v", ErrTypeMismatch, key, err)
			}
			if check != nil {
				if err := check(v); err != nil {
					return nil, fmt.Errorf("%w: %s: %v", ErrInvalidValue, key, err)
				}
			}
			return v, nil
		},
		apply: func(st *State, v any) error {
			tv, ok := v.(T)
			if !ok {
				var want T
				return fmt.Errorf("%w: %s wants %T, got %T", ErrTypeMismatch, key, want, v)
			}
			if check != nil {
				if err := check(tv); err != nil {
					return fmt.Errorf("%w: %s: %v", ErrInvalidValue, key, err)
				}
			}
			*field(st) = copyOf(tv)
			return nil
		},
		extract: func(st *State) any {
			return copyOf(*field(st))
		},
	}
}

// optional keys hold either a value or nothing (JSON null).
func optional[T any](key Key, exposed bool, field func(*State) **T, check func(T) error) keySpec {
	return keySpec{
		key:     key,
		exposed: exposed,
		decode: func(raw json.RawMessage) (any, error) {
			if isNull(raw) {
				return (*T)(nil), nil
			}
			var v T
			if err := strictUnmarshal(raw, &v); err != nil {
				return nil, fmt.Errorf("%w: %s: %v", ErrTypeMismatch, key, err)
			}
			if check != nil {
				if err := check(v); err != nil {
					return nil, fmt.Errorf("%w: %s: %v", ErrInvalidValue, key, err)
				}
			}
			return &v, nil
		},
		apply: func(st *State, v any) error {
			var next *T
			switch tv := v.(type) {
			case nil:
			case *T:
				next = clonePtr(tv)
			case T:
				next = &tv
			default:
				var want *T
				return fmt.Errorf("%w: %s wants %T, got %T", ErrTypeMismatch, key, want, v)
			}
			if next != nil && check != nil {
				if err := check(*next); err != nil {
					return fmt.Errorf("%w: %s: %v", ErrInvalidValue, key, err)
				}
			}
			*field(st) = next
			return nil
		},
		extract: func(st *State) any {
			return clonePtr(*field(st))
		},
	}
}

func isNull(raw json.RawMessage) bool {
	trimmed := bytes.TrimSpace(raw)
	return len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null"))
}

func strictUnmarshal(raw json.RawMessage, v any) error {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return err
	}
	if dec.More() {
		return fmt.Errorf("trailing data after value")
	}
	return nil
}

func nonEmpty(s string) error {
	if s == "" {
		return fmt.Errorf("must not be empty")
	}
	return nil
}

func nonNegative(n int) error {
	if n < 0 {
		return fmt.Errorf("must be >= 0, got %d", n)
	}
	return nil
}

func checkFormatOptions(o FormatOptions) error {
	if o.CustomInstruction != nil && utf8.RuneCountInString(*o.CustomInstruction) > maxCustomInstruction {
		return fmt.Errorf("customInstruction must be at most %d characters", maxCustomInstruction)
	}
	return nil
}

func checkBaseURL(s string) error {
	u, err := url.Parse(s)
	if err != nil {
		return err
	}
	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("must be an absolute http(s) URL, got %q", s)
	}
	return nil
}

func checkLLMProvider(p Provider) error {
	if p == ProviderAuto || ValidModelProvider(p) {
		return nil
	}
	return fmt.Errorf("unknown provider %q", p)
}

func checkBounds(b WindowBounds) error {
	if b.Width < 0 || b.Height < 0 {
		return fmt.Errorf("width and height must be >= 0")
	}
	return nil
}

func checkHistory(items []HistoryItem) error {
	seen := make(map[string]struct{}, len(items))
	for _, it := range items {
		if it.ID == "" {
			return fmt.Errorf("history item without id")
		}
		if _, dup := seen[it.ID]; dup {
			return fmt.Errorf("%w: history item %q", ErrDuplicateID, it.ID)
		}
		seen[it.ID] = struct{}{}
	}
	return nil
}

func checkModels(models []ModelInfo) error {
	seen := make(map[string]struct{}, len(models))
	for _, m := range models {
		if m.ID == "" || m.Name == "" {
			return fmt.Errorf("model without id or name")
		}
		if !ValidModelProvider(m.Provider) {
			return fmt.Errorf("model %q: unknown provider %q", m.ID, m.Provider)
		}
		if m.ContextWindow != nil && *m.ContextWindow <= 0 {
			return fmt.Errorf("model %q: contextWindow must be positive", m.ID)
		}
		if m.BaseURL != "" {
			if err := checkBaseURL(m.BaseURL); err != nil {
				return fmt.Errorf("model %q: %v", m.ID, err)
			}
		}
		if _, dup := seen[m.ID]; dup {
			return fmt.Errorf("%w: model %q", ErrDuplicateID, m.ID)
		}
		seen[m.ID] = struct{}{}
	}
	return nil
}
