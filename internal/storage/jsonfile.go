package storage

import (
	"encoding/json"
	"fmt"
	"maps"
	"os"
	"path/filepath"
)

// fileBackend keeps the store as one flat JSON object. Every Put rewrites
// the whole file through a temp file and rename, so a crash leaves either
// the old or the new content on disk.
type fileBackend struct {
	path string
	data map[Key]json.RawMessage
}

func openFileBackend(path string) (*fileBackend, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("creating data directory: %w", err)
	}
	b := &fileBackend{path: path, data: make(map[Key]json.RawMessage)}
	content, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return b, nil
		}
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}
	if len(content) == 0 {
		return b, nil
	}
	if err := json.Unmarshal(content, &b.data); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}
	return b, nil
}

func (b *fileBackend) Load() (map[Key]json.RawMessage, error) {
	return maps.Clone(b.data), nil
}

func (b *fileBackend) Put(key Key, raw json.RawMessage) error {
	next := maps.Clone(b.data)
	next[key] = raw
	content, err := json.MarshalIndent(next, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding store: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(b.path), filepath.Base(b.path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("creating temp file: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(content); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("writing temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("syncing temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("closing temp file: %w", err)
	}
	if err := os.Chmod(tmpName, 0o600); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("setting permissions: %w", err)
	}
	if err := os.Rename(tmpName, b.path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("replacing %s: %w", b.path, err)
	}

	b.data = next
	return nil
}

func (b *fileBackend) Close() error {
	return nil
}
