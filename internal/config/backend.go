package config

// ConfigBackend is where persisted settings live. Keys are the dotted names
// from the key table (server.port, storage.backend, retry.max_delay, ...);
// durations and floats travel as strings and are parsed by the table.
//
// On macOS the keys sit flat in the com.tfmt.app defaults domain, so
// `defaults read com.tfmt.app server.port` shows what tfmt reads. Elsewhere
// they nest as TOML tables in $XDG_CONFIG_HOME/tfmt/config.toml.
type ConfigBackend interface {
	GetString(key string) (val string, ok bool, err error)
	GetInt(key string) (val int, ok bool, err error)
	SetString(key, val string) error
	SetInt(key string, val int) error
	// Delete removes key. Removing an absent key is not an error.
	Delete(key string) error
}
