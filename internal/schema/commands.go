package schema

import (
	"encoding/json"

	"github.com/kalambet/tfmt/internal/apperr"
	"github.com/kalambet/tfmt/internal/storage"
)

// Command names of the closed catalog.
const (
	ModelsList         = "models:list"
	ModelsAdd          = "models:add"
	ModelsRemove       = "models:remove"
	LLMFormat          = "llm:format"
	ClipboardCopy      = "clipboard:copy"
	StoreGet           = "store:get"
	StoreSet           = "store:set"
	StoreGetHistory    = "store:getHistory"
	StoreSaveHistory   = "store:saveHistory"
	StoreClearHistory  = "store:clearHistory"
	StoreRemoveHistory = "store:removeHistory"
	AppGetVersion      = "app:getVersion"
)

// Empty is the request of commands that take no payload.
type Empty struct{}

type ModelsListRequest struct {
	Refresh bool `json:"refresh"`
}

type ModelsAddRequest struct {
	ID            string           `json:"id"`
	Name          string           `json:"name"`
	Provider      storage.Provider `json:"provider"`
	BaseURL       string           `json:"baseUrl,omitempty"`
	ContextWindow *int             `json:"contextWindow,omitempty"`
}

type ModelsRemoveRequest struct {
	ID string `json:"id"`
}

type FormatRequest struct {
	Text    string                 `json:"text"`
	ModelID string                 `json:"modelId"`
	Options *storage.FormatOptions `json:"options,omitempty"`
}

type ClipboardCopyRequest struct {
	Text string `json:"text"`
}

type StoreGetRequest struct {
	Key storage.Key `json:"key"`
}

// StoreSetRequest carries the raw value and, after validation, the value
// decoded to the key's declared type.
type StoreSetRequest struct {
	Key     storage.Key     `json:"key"`
	Value   json.RawMessage `json:"value"`
	Decoded any             `json:"-"`
}

type SaveHistoryRequest struct {
	Item storage.HistoryItem `json:"item"`
}

type RemoveHistoryRequest struct {
	ID string `json:"id"`
}

var (
	nonEmpty = String{Min: 1}

	modelProvider = String{Enum: providerNames()}

	formatOptions = Object{Fields: []Field{
		{Name: "removeFillers", Rule: Bool{}},
		{Name: "inferParagraphs", Rule: Bool{}},
		{Name: "makeBulletPoints", Rule: Bool{}},
		{Name: "customInstruction", Rule: String{Max: 500}},
	}}

	historyItem = Object{Fields: []Field{
		{Name: "id", Required: true, Rule: nonEmpty},
		{Name: "originalText", Required: true, Rule: String{}},
		{Name: "formattedText", Required: true, Rule: String{}},
		{Name: "modelUsed", Required: true, Rule: String{}},
		{Name: "timestamp", Required: true, Rule: Int{Min: bound(0)}},
		{Name: "options", Rule: formatOptions},
	}}

	storeKey = String{Enum: exposedKeyNames()}
)

var schemas = map[string]Schema{
	ModelsList: define[ModelsListRequest](Object{Fields: []Field{
		{Name: "refresh", Rule: Bool{}},
	}}, nil),

	ModelsAdd: define[ModelsAddRequest](Object{Fields: []Field{
		{Name: "id", Required: true, Rule: nonEmpty},
		{Name: "name", Required: true, Rule: nonEmpty},
		{Name: "provider", Required: true, Rule: modelProvider},
		{Name: "baseUrl", Rule: String{URL: true}},
		{Name: "contextWindow", Rule: Int{Min: bound(1)}},
	}}, nil),

	ModelsRemove: define[ModelsRemoveRequest](Object{Fields: []Field{
		{Name: "id", Required: true, Rule: nonEmpty},
	}}, nil),

	LLMFormat: define[FormatRequest](Object{Fields: []Field{
		{Name: "text", Required: true, Rule: String{Min: 1, Max: apperr.MaxTextLength, TooLong: true}},
		{Name: "modelId", Required: true, Rule: nonEmpty},
		{Name: "options", Rule: formatOptions},
	}}, nil),

	ClipboardCopy: define[ClipboardCopyRequest](Object{Fields: []Field{
		{Name: "text", Required: true, Rule: nonEmpty},
	}}, nil),

	StoreGet: define[StoreGetRequest](Object{Fields: []Field{
		{Name: "key", Required: true, Rule: storeKey},
	}}, nil),

	StoreSet: define(Object{Fields: []Field{
		{Name: "key", Required: true, Rule: storeKey},
		{Name: "value", Required: true, Nullable: true, Rule: Any{}},
	}}, decodeStoreValue),

	StoreGetHistory:   define[Empty](Object{}, nil),
	StoreClearHistory: define[Empty](Object{}, nil),
	AppGetVersion:     define[Empty](Object{}, nil),

	StoreSaveHistory: define[SaveHistoryRequest](Object{Fields: []Field{
		{Name: "item", Required: true, Rule: historyItem},
	}}, nil),

	StoreRemoveHistory: define[RemoveHistoryRequest](Object{Fields: []Field{
		{Name: "id", Required: true, Rule: nonEmpty},
	}}, nil),
}

// catalog is the command order used for listings.
var catalog = []string{
	ModelsList, ModelsAdd, ModelsRemove,
	LLMFormat,
	ClipboardCopy,
	StoreGet, StoreSet, StoreGetHistory, StoreSaveHistory, StoreClearHistory, StoreRemoveHistory,
	AppGetVersion,
}

// Commands returns the closed command catalog.
func Commands() []string {
	return append([]string(nil), catalog...)
}

// Known reports whether name is in the catalog.
func Known(name string) bool {
	_, ok := schemas[name]
	return ok
}

func decodeStoreValue(req *StoreSetRequest) []Issue {
	v, err := storage.DecodeValue(req.Key, req.Value)
	if err != nil {
		return []Issue{{Path: "value", Message: err.Error()}}
	}
	req.Decoded = v
	return nil
}

func providerNames() []string {
	out := make([]string, len(storage.ModelProviders))
	for i, p := range storage.ModelProviders {
		out[i] = string(p)
	}
	return out
}

func exposedKeyNames() []string {
	keys := storage.ExposedKeys()
	out := make([]string, len(keys))
	for i, k := range keys {
		out[i] = string(k)
	}
	return out
}
