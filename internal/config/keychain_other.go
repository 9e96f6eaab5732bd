//go:build !darwin

package config

import (
	"os"
	"path/filepath"
)

// NewKeychain returns a 0600 JSON secrets file under $XDG_DATA_HOME/tfmt.
func NewKeychain() Keychain { return fileKeychain{path: secretsFilePath()} }

func secretsFilePath() string {
	dir := os.Getenv("XDG_DATA_HOME")
	if dir == "" {
		if home, err := os.UserHomeDir(); err == nil {
			dir = filepath.Join(home, ".local", "share")
		} else {
			dir = "."
		}
	}
	return filepath.Join(dir, appName, "secrets.json")
}
