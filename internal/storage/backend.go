package storage

import "encoding/json"

// Backend persists the store's keys. Values are the JSON encoding of each
// key's declared type; a backend never interprets them.
type Backend interface {
	// Load returns every persisted key. A never-written store returns an
	// empty map.
	Load() (map[Key]json.RawMessage, error)
	// Put durably replaces the value of one key.
	Put(key Key, raw json.RawMessage) error
	Close() error
}

const (
	BackendJSON   = "json"
	BackendSQLite = "sqlite"
)
