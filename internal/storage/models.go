package storage

import "errors"

var (
	// ErrUnknownKey is returned for keys outside the store schema.
	ErrUnknownKey = errors.New("unknown store key")
	// ErrTypeMismatch is returned when a value does not match its key's declared type.
	ErrTypeMismatch = errors.New("value does not match the key's type")
	// ErrInvalidValue is returned when a value has the right type but violates a constraint.
	ErrInvalidValue = errors.New("invalid value")
	// ErrDuplicateID is returned when adding a record whose id already exists.
	ErrDuplicateID = errors.New("duplicate id")
	// ErrFutureSchema is returned when the persisted schema version is newer than this build.
	ErrFutureSchema = errors.New("store schema version is newer than supported")
	// ErrClosed is returned by operations on a closed store.
	ErrClosed = errors.New("store is closed")
)

// Provider identifies a local inference server flavour.
type Provider string

const (
	ProviderOllama   Provider = "ollama"
	ProviderLMStudio Provider = "lmstudio"
	ProviderLlamaCpp Provider = "llamacpp"
	// ProviderAuto is only valid for the llmProvider setting.
	ProviderAuto Provider = "auto"
)

// ModelProviders lists the providers a ModelInfo may name.
var ModelProviders = []Provider{ProviderOllama, ProviderLMStudio, ProviderLlamaCpp}

// ValidModelProvider reports whether p may appear on a ModelInfo.
func ValidModelProvider(p Provider) bool {
	for _, known := range ModelProviders {
		if p == known {
			return true
		}
	}
	return false
}

// FormatOptions tunes how a transcription is formatted.
type FormatOptions struct {
	RemoveFillers     *bool   `json:"removeFillers,omitempty"`
	InferParagraphs   *bool   `json:"inferParagraphs,omitempty"`
	MakeBulletPoints  *bool   `json:"makeBulletPoints,omitempty"`
	CustomInstruction *string `json:"customInstruction,omitempty"`
}

func (o FormatOptions) clone() FormatOptions {
	return FormatOptions{
		RemoveFillers:     clonePtr(o.RemoveFillers),
		InferParagraphs:   clonePtr(o.InferParagraphs),
		MakeBulletPoints:  clonePtr(o.MakeBulletPoints),
		CustomInstruction: clonePtr(o.CustomInstruction),
	}
}

// HistoryItem is one saved formatting result. Immutable once stored.
type HistoryItem struct {
	ID            string         `json:"id"`
	OriginalText  string         `json:"originalText"`
	FormattedText string         `json:"formattedText"`
	ModelUsed     string         `json:"modelUsed"`
	Timestamp     int64          `json:"timestamp"`
	Options       *FormatOptions `json:"options,omitempty"`
}

func (h HistoryItem) clone() HistoryItem {
	if h.Options != nil {
		o := h.Options.clone()
		h.Options = &o
	}
	return h
}

// ModelInfo describes a model the UI can select.
type ModelInfo struct {
	ID            string   `json:"id"`
	Name          string   `json:"name"`
	Provider      Provider `json:"provider"`
	ContextWindow *int     `json:"contextWindow,omitempty"`
	BaseURL       string   `json:"baseUrl,omitempty"`
}

func (m ModelInfo) clone() ModelInfo {
	m.ContextWindow = clonePtr(m.ContextWindow)
	return m
}

// WindowBounds is the last saved main window rectangle.
type WindowBounds struct {
	X      int `json:"x"`
	Y      int `json:"y"`
	Width  int `json:"width"`
	Height int `json:"height"`
}

func clonePtr[T any](p *T) *T {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}

func cloneHistory(items []HistoryItem) []HistoryItem {
	out := make([]HistoryItem, len(items))
	for i, it := range items {
		out[i] = it.clone()
	}
	return out
}

func cloneModels(models []ModelInfo) []ModelInfo {
	out := make([]ModelInfo, len(models))
	for i, m := range models {
		out[i] = m.clone()
	}
	return out
}
