package storage

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"syscall"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kalambet/tfmt/internal/apperr"
)

func openTestStore(t *testing.T, backend string) *Store {
	t.Helper()
	s, err := Open(Options{DataDir: t.TempDir(), Backend: backend})
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func ptr[T any](v T) *T { return &v }

var backends = []string{BackendJSON, BackendSQLite}

func TestOpen_Defaults(t *testing.T) {
	for _, backend := range backends {
		t.Run(backend, func(t *testing.T) {
			s := openTestStore(t, backend)

			st := s.Snapshot()
			assert.Nil(t, st.SelectedModel)
			assert.Equal(t, DefaultModel, st.DefaultModel)
			assert.Equal(t, DefaultMaxHistoryItems, st.MaxHistoryItems)
			assert.Equal(t, FormatOptions{}, st.FormatOptions)
			assert.Equal(t, DefaultLLMBaseURL, st.LLMBaseURL)
			assert.Nil(t, st.LLMAPIKey)
			assert.Equal(t, ProviderAuto, st.LLMProvider)
			assert.Empty(t, st.History)
			assert.Empty(t, st.CustomModels)
			assert.Nil(t, st.WindowBounds)
			assert.Equal(t, 0, st.SchemaVersion)
		})
	}
}

func TestOpen_SeedAppliesOnFirstInitOnly(t *testing.T) {
	dir := t.TempDir()
	s, err := Open(Options{DataDir: dir, Seed: Seed{LLMBaseURL: "http://10.0.0.2:1234", LLMAPIKey: "sk-1"}})
	require.NoError(t, err)
	assert.Equal(t, "http://10.0.0.2:1234", s.LLMBaseURL())
	key, err := s.Get(KeyLLMAPIKey)
	require.NoError(t, err)
	assert.Equal(t, ptr("sk-1"), key)
	require.NoError(t, s.Close())

	s, err = Open(Options{DataDir: dir, Seed: Seed{LLMBaseURL: "http://other:1"}})
	require.NoError(t, err)
	defer s.Close()
	assert.Equal(t, "http://10.0.0.2:1234", s.LLMBaseURL())
}

func TestOpen_UnknownBackend(t *testing.T) {
	_, err := Open(Options{DataDir: t.TempDir(), Backend: "etcd"})
	assert.Error(t, err)
}

func TestSetGet_RoundTripEveryKey(t *testing.T) {
	values := map[Key]any{
		KeySelectedModel:        ptr("mistral:7b"),
		KeyDefaultModel:         "phi3:mini",
		KeyMaxHistoryItems:      5,
		KeyFormatOptions:        FormatOptions{RemoveFillers: ptr(true), CustomInstruction: ptr("be brief")},
		KeyLLMBaseURL:           "http://127.0.0.1:8080",
		KeyLLMAPIKey:            ptr("secret"),
		KeyLLMProvider:          ProviderLMStudio,
		KeyWindowBounds:         ptr(WindowBounds{X: 10, Y: 20, Width: 800, Height: 600}),
		KeyCustomPromptTemplate: ptr("Format: {{text}}"),
		KeyHistory: []HistoryItem{
			{ID: "h2", OriginalText: "um hi", FormattedText: "Hi.", ModelUsed: "phi3:mini", Timestamp: 1700000000002},
			{ID: "h1", OriginalText: "so yeah", FormattedText: "Yes.", ModelUsed: "phi3:mini", Timestamp: 1700000000001,
				Options: &FormatOptions{RemoveFillers: ptr(false)}},
		},
		KeyCustomModels: []ModelInfo{
			{ID: "qwen2:7b", Name: "Qwen 2", Provider: ProviderOllama, ContextWindow: ptr(32768)},
			{ID: "local", Name: "Local", Provider: ProviderLlamaCpp, BaseURL: "http://127.0.0.1:8081"},
		},
		KeySchemaVersion: LatestSchemaVersion,
	}
	require.ElementsMatch(t, Keys(), keysOf(values))

	for _, backend := range backends {
		t.Run(backend, func(t *testing.T) {
			dir := t.TempDir()
			s, err := Open(Options{DataDir: dir, Backend: backend})
			require.NoError(t, err)

			for key, v := range values {
				require.NoError(t, s.Set(key, v), "set %s", key)
				got, err := s.Get(key)
				require.NoError(t, err)
				assert.Equal(t, v, got, "get %s", key)
			}
			require.NoError(t, s.Close())

			reopened, err := Open(Options{DataDir: dir, Backend: backend})
			require.NoError(t, err)
			defer reopened.Close()
			for key, v := range values {
				got, err := reopened.Get(key)
				require.NoError(t, err)
				assert.Equal(t, v, got, "after reopen %s", key)
			}
		})
	}
}

func keysOf(m map[Key]any) []Key {
	out := make([]Key, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	return out
}

func TestSet_OptionalKeyAcceptsNil(t *testing.T) {
	s := openTestStore(t, BackendJSON)
	require.NoError(t, s.Set(KeySelectedModel, "llama3"))
	require.NoError(t, s.Set(KeySelectedModel, nil))
	got, err := s.Get(KeySelectedModel)
	require.NoError(t, err)
	assert.Nil(t, got.(*string))
}

func TestSet_RejectsWrongType(t *testing.T) {
	s := openTestStore(t, BackendJSON)

	err := s.Set(KeyMaxHistoryItems, "twenty")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrTypeMismatch)
	assert.Equal(t, apperr.CodeValidation, apperr.Classify(err).Code)

	err = s.Set(KeyMaxHistoryItems, -1)
	assert.ErrorIs(t, err, ErrInvalidValue)

	err = s.Set("theme", "dark")
	assert.ErrorIs(t, err, ErrUnknownKey)

	_, err = s.Get("theme")
	assert.ErrorIs(t, err, ErrUnknownKey)

	assert.Equal(t, DefaultMaxHistoryItems, s.Snapshot().MaxHistoryItems)
}

func TestGet_ReturnsCopies(t *testing.T) {
	s := openTestStore(t, BackendJSON)
	require.NoError(t, s.Set(KeyFormatOptions, FormatOptions{CustomInstruction: ptr("a")}))

	got, err := s.Get(KeyFormatOptions)
	require.NoError(t, err)
	opts := got.(FormatOptions)
	*opts.CustomInstruction = "mutated"

	again, _ := s.Get(KeyFormatOptions)
	assert.Equal(t, "a", *again.(FormatOptions).CustomInstruction)
}

func TestDecodeValue(t *testing.T) {
	tests := []struct {
		name    string
		key     Key
		raw     string
		want    any
		wantErr error
	}{
		{"string", KeyDefaultModel, `"phi3"`, "phi3", nil},
		{"null optional", KeySelectedModel, `null`, (*string)(nil), nil},
		{"null required", KeyDefaultModel, `null`, nil, ErrTypeMismatch},
		{"wrong type", KeyMaxHistoryItems, `"5"`, nil, ErrTypeMismatch},
		{"fractional int", KeyMaxHistoryItems, `2.5`, nil, ErrTypeMismatch},
		{"unknown field", KeyFormatOptions, `{"bold":true}`, nil, ErrTypeMismatch},
		{"instruction too long", KeyFormatOptions, `{"customInstruction":"`+strings.Repeat("é", 501)+`"}`, nil, ErrInvalidValue},
		{"bad url", KeyLLMBaseURL, `"not a url"`, nil, ErrInvalidValue},
		{"bad provider", KeyLLMProvider, `"openai"`, nil, ErrInvalidValue},
		{"auto provider", KeyLLMProvider, `"auto"`, ProviderAuto, nil},
		{"unknown key", Key("theme"), `"dark"`, nil, ErrUnknownKey},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := DecodeValue(tt.key, json.RawMessage(tt.raw))
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestOpen_InvalidPersistedValueFallsBackToDefault(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, DefaultName+".json")
	require.NoError(t, os.WriteFile(path, []byte(`{"maxHistoryItems":"lots","defaultModel":"phi3"}`), 0o600))

	s, err := Open(Options{DataDir: dir})
	require.NoError(t, err)
	defer s.Close()
	assert.Equal(t, DefaultMaxHistoryItems, s.Snapshot().MaxHistoryItems)
	assert.Equal(t, "phi3", s.DefaultModel())
}

type failingBackend struct {
	err error
}

func (f *failingBackend) Load() (map[Key]json.RawMessage, error) {
	return map[Key]json.RawMessage{KeySchemaVersion: json.RawMessage(`0`)}, nil
}
func (f *failingBackend) Put(Key, json.RawMessage) error { return f.err }
func (f *failingBackend) Close() error                   { return nil }

func TestSet_BackendFailureLeavesStateUnchanged(t *testing.T) {
	s, err := OpenBackend(&failingBackend{err: errors.New("disk on fire")}, Seed{}, nil)
	require.NoError(t, err)

	err = s.Set(KeyDefaultModel, "phi3")
	assert.Equal(t, apperr.CodeStorage, apperr.Classify(err).Code)
	assert.Equal(t, DefaultModel, s.DefaultModel())

	_, err = s.AddHistory(HistoryItem{ID: "a"})
	assert.Equal(t, apperr.CodeStorage, apperr.Classify(err).Code)
	assert.Empty(t, s.History())
}

func TestSet_DiskFullIsQuotaExceeded(t *testing.T) {
	full := fmt.Errorf("write: %w", syscall.ENOSPC)
	s, err := OpenBackend(&failingBackend{err: full}, Seed{}, nil)
	require.NoError(t, err)

	err = s.Set(KeyDefaultModel, "phi3")
	assert.Equal(t, apperr.CodeStorageQuotaExceeded, apperr.Classify(err).Code)
}

func TestClose_RejectsWrites(t *testing.T) {
	s, err := Open(Options{DataDir: t.TempDir()})
	require.NoError(t, err)
	require.NoError(t, s.Close())
	assert.ErrorIs(t, s.Set(KeyDefaultModel, "x"), ErrClosed)
	assert.NoError(t, s.Close())
}

func TestSQLiteInMemory(t *testing.T) {
	s, err := Open(Options{DataDir: ":memory:", Backend: BackendSQLite})
	require.NoError(t, err)
	defer s.Close()
	require.NoError(t, s.Set(KeyLLMProvider, ProviderOllama))
	got, err := s.Get(KeyLLMProvider)
	require.NoError(t, err)
	assert.Equal(t, ProviderOllama, got)
}

func TestConcurrentWriters(t *testing.T) {
	s := openTestStore(t, BackendJSON)
	require.NoError(t, s.Set(KeyMaxHistoryItems, 1000))

	var wg sync.WaitGroup
	for i := range 20 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := s.AddHistory(HistoryItem{ID: fmt.Sprintf("h%d", i)})
			assert.NoError(t, err)
			_ = s.Snapshot()
		}()
	}
	wg.Wait()
	assert.Len(t, s.History(), 20)
}
