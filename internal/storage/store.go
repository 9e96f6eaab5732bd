// Package storage is the versioned, persisted key-value store behind the
// command boundary: a closed table of typed keys, a history ledger with
// bounded size, and forward-only schema migration.
package storage

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"syscall"

	"github.com/kalambet/tfmt/internal/apperr"
)

// DefaultName is the base file name of the store under the data directory.
const DefaultName = "transcription-formatter"

// Options configures Open.
type Options struct {
	DataDir string
	// Backend is BackendJSON (default) or BackendSQLite.
	Backend string
	// Name defaults to DefaultName.
	Name string
	// Seed is applied only when the store has never been written.
	Seed   Seed
	Logger *slog.Logger
}

// Seed carries first-initialization defaults taken from the environment.
type Seed struct {
	LLMBaseURL string
	LLMAPIKey  string
}

// Store is the in-memory state plus the backend it persists to. All
// mutation is serialized by mu; readers receive deep copies.
type Store struct {
	mu     sync.RWMutex
	b      Backend
	st     State
	log    *slog.Logger
	closed bool
}

// Open opens the store under opts.DataDir with the configured backend.
func Open(opts Options) (*Store, error) {
	name := opts.Name
	if name == "" {
		name = DefaultName
	}

	var (
		b   Backend
		err error
	)
	switch opts.Backend {
	case "", BackendJSON:
		b, err = openFileBackend(filepath.Join(opts.DataDir, name+".json"))
	case BackendSQLite:
		path := ":memory:"
		if opts.DataDir != ":memory:" {
			path = filepath.Join(opts.DataDir, name+".db")
		}
		b, err = openSQLiteBackend(path)
	default:
		return nil, fmt.Errorf("unknown storage backend %q", opts.Backend)
	}
	if err != nil {
		return nil, err
	}

	s, err := OpenBackend(b, opts.Seed, opts.Logger)
	if err != nil {
		b.Close()
		return nil, err
	}
	return s, nil
}

// OpenBackend builds a Store over an already-open backend.
func OpenBackend(b Backend, seed Seed, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}

	raw, err := b.Load()
	if err != nil {
		return nil, fmt.Errorf("loading store: %w", err)
	}

	s := &Store{b: b, st: defaultState(), log: logger}
	for key, value := range raw {
		spec, ok := specsByKey[key]
		if !ok {
			logger.Warn("ignoring unknown store key", "key", key)
			continue
		}
		v, err := spec.decode(value)
		if err == nil {
			err = spec.apply(&s.st, v)
		}
		if err != nil {
			logger.Warn("persisted value invalid, using default", "key", key, "error", err)
		}
	}

	if len(raw) == 0 {
		if err := s.seed(seed); err != nil {
			return nil, err
		}
	}
	return s, nil
}

// seed writes environment-derived LLM settings into a fresh store so later
// starts keep them even if the environment changes.
func (s *Store) seed(seed Seed) error {
	next := s.st
	keys := []Key{KeyLLMBaseURL}
	if seed.LLMBaseURL != "" {
		if err := checkBaseURL(seed.LLMBaseURL); err != nil {
			s.log.Warn("ignoring LLM_BASE_URL", "error", err)
		} else {
			next.LLMBaseURL = seed.LLMBaseURL
		}
	}
	if seed.LLMAPIKey != "" {
		key := seed.LLMAPIKey
		next.LLMAPIKey = &key
		keys = append(keys, KeyLLMAPIKey)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	return s.commitLocked(next, keys...)
}

// Close releases the backend. Further writes fail with ErrClosed.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	return s.b.Close()
}

// Get returns a copy of key's current value, or its default if never set.
// Optional keys that are unset yield a typed nil pointer.
func (s *Store) Get(key Key) (any, error) {
	spec, ok := specsByKey[key]
	if !ok {
		return nil, invalid(fmt.Errorf("%w: %q", ErrUnknownKey, key))
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return spec.extract(&s.st), nil
}

// Set stores value under key after checking it against the key's declared
// type and constraints, and persists it before returning.
func (s *Store) Set(key Key, value any) error {
	spec, ok := specsByKey[key]
	if !ok {
		return invalid(fmt.Errorf("%w: %q", ErrUnknownKey, key))
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	next := s.st
	if err := spec.apply(&next, value); err != nil {
		return invalid(err)
	}
	return s.commitLocked(next, key)
}

// Snapshot returns a deep copy of the whole state.
func (s *Store) Snapshot() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.st.clone()
}

// DefaultModel returns the configured default model id.
func (s *Store) DefaultModel() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.st.DefaultModel
}

// LLMBaseURL returns the base URL of the local inference server.
func (s *Store) LLMBaseURL() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.st.LLMBaseURL
}

// SchemaVersion returns the persisted schema version.
func (s *Store) SchemaVersion() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.st.SchemaVersion
}

// commitLocked persists keys from next and, only if every write succeeds,
// makes next the current state. Callers hold mu.
func (s *Store) commitLocked(next State, keys ...Key) error {
	if s.closed {
		return apperr.Wrap(apperr.CodeStorage, "store is closed", ErrClosed)
	}
	for _, key := range keys {
		raw, err := json.Marshal(specsByKey[key].extract(&next))
		if err != nil {
			return storageFailure(fmt.Errorf("encoding %s: %w", key, err))
		}
		if err := s.b.Put(key, raw); err != nil {
			s.log.Error("store write failed", "key", key, "error", err)
			return storageFailure(err)
		}
	}
	s.st = next
	return nil
}

func (st State) clone() State {
	out := st
	out.SelectedModel = clonePtr(st.SelectedModel)
	out.FormatOptions = st.FormatOptions.clone()
	out.LLMAPIKey = clonePtr(st.LLMAPIKey)
	out.History = cloneHistory(st.History)
	out.CustomModels = cloneModels(st.CustomModels)
	out.WindowBounds = clonePtr(st.WindowBounds)
	out.CustomPromptTemplate = clonePtr(st.CustomPromptTemplate)
	return out
}

func invalid(err error) *apperr.Error {
	return apperr.Wrap(apperr.CodeValidation, err.Error(), err)
}

func storageFailure(err error) *apperr.Error {
	if errors.Is(err, syscall.ENOSPC) {
		return apperr.Wrap(apperr.CodeStorageQuotaExceeded, "Storage is full. Free some disk space and try again.", err)
	}
	return apperr.Wrap(apperr.CodeStorage, "Failed to save data: "+err.Error(), err)
}
