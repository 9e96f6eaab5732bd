//go:build darwin

package config

import (
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
)

// defaultsDomain holds every tfmt setting under its dotted key name.
const defaultsDomain = "com.tfmt.app"

// defaultDataDir keeps the store, PID file and error logs together.
func defaultDataDir() string {
	if homeDir, err := os.UserHomeDir(); err == nil {
		return filepath.Join(homeDir, "Library", "Application Support", appName)
	}
	return appName + "-data"
}

// darwinBackend shells out to defaults(1). Integers are written with -int
// so the Preferences plist keeps their type; everything else is a string.
type darwinBackend struct {
	domain string
}

func newPlatformBackend() ConfigBackend {
	return &darwinBackend{domain: defaultsDomain}
}

// run executes defaults with args. missing reports the exit status 1 that
// defaults uses for an absent domain or key.
func (b *darwinBackend) run(args ...string) (out string, missing bool, err error) {
	raw, err := exec.Command("defaults", args...).CombinedOutput()
	out = strings.TrimSpace(string(raw))
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) && exitErr.ExitCode() == 1 {
			return out, true, nil
		}
		return out, false, fmt.Errorf("defaults %s %s: %w: %s", args[0], b.domain, err, out)
	}
	return out, false, nil
}

func (b *darwinBackend) read(key string) (string, bool, error) {
	s, missing, err := b.run("read", b.domain, key)
	if err != nil || missing {
		return "", false, err
	}
	return s, true, nil
}

func (b *darwinBackend) GetString(key string) (string, bool, error) {
	return b.read(key)
}

func (b *darwinBackend) GetInt(key string) (int, bool, error) {
	s, ok, err := b.read(key)
	if !ok || err != nil {
		return 0, ok, err
	}
	i, err := strconv.Atoi(s)
	if err != nil {
		return 0, true, fmt.Errorf("invalid integer for %s: %w", key, err)
	}
	return i, true, nil
}

func (b *darwinBackend) SetString(key, val string) error {
	return b.write(key, "-string", val)
}

func (b *darwinBackend) SetInt(key string, val int) error {
	return b.write(key, "-int", strconv.Itoa(val))
}

func (b *darwinBackend) write(key, typ, val string) error {
	_, missing, err := b.run("write", b.domain, key, typ, val)
	if err == nil && missing {
		err = fmt.Errorf("defaults write %s %s failed", b.domain, key)
	}
	return err
}

func (b *darwinBackend) Delete(key string) error {
	_, _, err := b.run("delete", b.domain, key)
	return err
}
