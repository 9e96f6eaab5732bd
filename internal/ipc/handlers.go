package ipc

import (
	"context"
	"log/slog"
	"runtime"

	"golang.org/x/sync/singleflight"

	"github.com/kalambet/tfmt/internal/apperr"
	"github.com/kalambet/tfmt/internal/clipboard"
	"github.com/kalambet/tfmt/internal/errlog"
	"github.com/kalambet/tfmt/internal/ollama"
	"github.com/kalambet/tfmt/internal/retry"
	"github.com/kalambet/tfmt/internal/schema"
	"github.com/kalambet/tfmt/internal/storage"
)

// ModelLister lists the models installed on a local inference server.
type ModelLister interface {
	ListModels(ctx context.Context) ([]ollama.Model, error)
}

// Services are the collaborators the catalog handlers need.
type Services struct {
	Store     *storage.Store
	Clipboard clipboard.Writer
	// Discover returns a lister for the server at baseURL. Defaults to the
	// Ollama client.
	Discover func(baseURL, apiKey string) ModelLister
	Retry    retry.Options
	// Lifecycle is cancelled only at shutdown. External calls and their
	// retry sleeps run under it rather than under the request context.
	Lifecycle context.Context
	Version   string
	Logger    *slog.Logger
	// ErrorLog receives every failed attempt of a retried call. Defaults
	// to the dispatcher's error log.
	ErrorLog *errlog.Logger
}

type ModelsListResponse struct {
	Models       []storage.ModelInfo `json:"models"`
	DefaultModel string              `json:"defaultModel,omitempty"`
}

type RemovedResponse struct {
	Removed bool `json:"removed"`
}

type CopiedResponse struct {
	Copied bool `json:"copied"`
}

type SavedResponse struct {
	Saved bool `json:"saved"`
}

type HistoryResponse struct {
	Items []storage.HistoryItem `json:"items"`
	Total int                   `json:"total"`
}

type SaveHistoryResponse struct {
	Saved      bool `json:"saved"`
	TotalItems int  `json:"totalItems"`
}

type ClearedResponse struct {
	Cleared bool `json:"cleared"`
}

type RemoveHistoryResponse struct {
	Removed    bool `json:"removed"`
	TotalItems int  `json:"totalItems"`
}

type VersionResponse struct {
	Version            string `json:"version"`
	HostRuntimeVersion string `json:"hostRuntimeVersion"`
}

type handlers struct {
	svc   Services
	group singleflight.Group
}

// RegisterCatalog registers a handler for every catalog command.
func RegisterCatalog(d *Dispatcher, svc Services) error {
	if svc.Discover == nil {
		svc.Discover = func(baseURL, apiKey string) ModelLister { return ollama.New(baseURL, apiKey) }
	}
	if svc.Lifecycle == nil {
		svc.Lifecycle = context.Background()
	}
	if svc.Logger == nil {
		svc.Logger = slog.Default()
	}
	if svc.ErrorLog == nil {
		svc.ErrorLog = d.errs
	}
	h := &handlers{svc: svc}

	table := map[string]Handler{
		schema.ModelsList:         Handle(h.listModels),
		schema.ModelsAdd:          Handle(h.addModel),
		schema.ModelsRemove:       Handle(h.removeModel),
		schema.LLMFormat:          Handle(h.format),
		schema.ClipboardCopy:      Handle(h.copyText),
		schema.StoreGet:           Handle(h.get),
		schema.StoreSet:           Handle(h.set),
		schema.StoreGetHistory:    Handle(h.history),
		schema.StoreSaveHistory:   Handle(h.saveHistory),
		schema.StoreClearHistory:  Handle(h.clearHistory),
		schema.StoreRemoveHistory: Handle(h.removeHistory),
		schema.AppGetVersion:      Handle(h.version),
	}
	for _, name := range schema.Commands() {
		if err := d.Register(name, table[name]); err != nil {
			return err
		}
	}
	return nil
}

func (h *handlers) listModels(_ context.Context, req schema.ModelsListRequest) (any, error) {
	models := h.svc.Store.CustomModels()
	if req.Refresh {
		discovered, err := h.discover(schema.ModelsList)
		if err != nil {
			return nil, err
		}
		models = mergeModels(models, discovered)
	}
	return ModelsListResponse{Models: models, DefaultModel: h.svc.Store.DefaultModel()}, nil
}

// discover queries the inference server through the retry engine.
// Concurrent refreshes share one round of calls.
func (h *handlers) discover(command string) ([]storage.ModelInfo, error) {
	st := h.svc.Store.Snapshot()
	if st.LLMProvider != storage.ProviderAuto && st.LLMProvider != storage.ProviderOllama {
		h.svc.Logger.Debug("model discovery skipped", "provider", st.LLMProvider)
		return nil, nil
	}
	apiKey := ""
	if st.LLMAPIKey != nil {
		apiKey = *st.LLMAPIKey
	}

	v, err, shared := h.group.Do(st.LLMBaseURL, func() (any, error) {
		lister := h.svc.Discover(st.LLMBaseURL, apiKey)
		return retry.Do(h.svc.Lifecycle, h.retryOptions(command), lister.ListModels)
	})
	if err != nil {
		return nil, err
	}
	if shared {
		h.svc.Logger.Debug("model discovery shared with concurrent refresh")
	}

	found := v.([]ollama.Model)
	out := make([]storage.ModelInfo, len(found))
	for i, m := range found {
		out[i] = storage.ModelInfo{ID: m.Name, Name: m.Name, Provider: storage.ProviderOllama}
	}
	return out, nil
}

// retryOptions chains the error log onto any failure hook the caller set.
func (h *handlers) retryOptions(command string) retry.Options {
	opts := h.svc.Retry
	prev := opts.OnFailure
	opts.OnFailure = func(e *apperr.Error, attempt int) {
		h.svc.ErrorLog.LogAttempt(command, e, attempt)
		if prev != nil {
			prev(e, attempt)
		}
	}
	return opts
}

// mergeModels appends discovered models whose id no custom model claims.
func mergeModels(custom, discovered []storage.ModelInfo) []storage.ModelInfo {
	seen := make(map[string]struct{}, len(custom))
	out := make([]storage.ModelInfo, 0, len(custom)+len(discovered))
	for _, m := range custom {
		seen[m.ID] = struct{}{}
		out = append(out, m)
	}
	for _, m := range discovered {
		if _, dup := seen[m.ID]; dup {
			continue
		}
		seen[m.ID] = struct{}{}
		out = append(out, m)
	}
	return out
}

func (h *handlers) addModel(_ context.Context, req schema.ModelsAddRequest) (any, error) {
	m := storage.ModelInfo{
		ID:            req.ID,
		Name:          req.Name,
		Provider:      req.Provider,
		ContextWindow: req.ContextWindow,
		BaseURL:       req.BaseURL,
	}
	if err := h.svc.Store.AddCustomModel(m); err != nil {
		return nil, err
	}
	return m, nil
}

func (h *handlers) removeModel(_ context.Context, req schema.ModelsRemoveRequest) (any, error) {
	removed, err := h.svc.Store.RemoveCustomModel(req.ID)
	if err != nil {
		return nil, err
	}
	return RemovedResponse{Removed: removed}, nil
}

func (h *handlers) format(context.Context, schema.FormatRequest) (any, error) {
	return nil, apperr.New(apperr.CodeUnknown, "LLM formatting is not implemented")
}

func (h *handlers) copyText(ctx context.Context, req schema.ClipboardCopyRequest) (any, error) {
	if err := h.svc.Clipboard.WriteText(ctx, req.Text); err != nil {
		return nil, err
	}
	return CopiedResponse{Copied: true}, nil
}

func (h *handlers) get(_ context.Context, req schema.StoreGetRequest) (any, error) {
	return h.svc.Store.Get(req.Key)
}

func (h *handlers) set(_ context.Context, req schema.StoreSetRequest) (any, error) {
	if err := h.svc.Store.Set(req.Key, req.Decoded); err != nil {
		return nil, err
	}
	return SavedResponse{Saved: true}, nil
}

func (h *handlers) history(context.Context, schema.Empty) (any, error) {
	items := h.svc.Store.History()
	return HistoryResponse{Items: items, Total: len(items)}, nil
}

func (h *handlers) saveHistory(_ context.Context, req schema.SaveHistoryRequest) (any, error) {
	total, err := h.svc.Store.AddHistory(req.Item)
	if err != nil {
		return nil, err
	}
	return SaveHistoryResponse{Saved: true, TotalItems: total}, nil
}

func (h *handlers) clearHistory(context.Context, schema.Empty) (any, error) {
	if err := h.svc.Store.ClearHistory(); err != nil {
		return nil, err
	}
	return ClearedResponse{Cleared: true}, nil
}

func (h *handlers) removeHistory(_ context.Context, req schema.RemoveHistoryRequest) (any, error) {
	removed, total, err := h.svc.Store.RemoveHistory(req.ID)
	if err != nil {
		return nil, err
	}
	return RemoveHistoryResponse{Removed: removed, TotalItems: total}, nil
}

func (h *handlers) version(context.Context, schema.Empty) (any, error) {
	return VersionResponse{Version: h.svc.Version, HostRuntimeVersion: runtime.Version()}, nil
}
