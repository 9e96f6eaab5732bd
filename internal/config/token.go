package config

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/google/uuid"
)

const (
	keychainService = appName
	tokenAccount    = "api_token"
	tokenEnv        = "TFMT_API_TOKEN"
)

// Keychain stores secrets in the platform secret store.
type Keychain interface {
	Get(service, account string) (string, error)
	Set(service, account, value string) error
}

// GetAPIToken returns the bearer token guarding the HTTP transport:
// TFMT_API_TOKEN if set, else the keychain entry, else a freshly generated
// token that is written back to the keychain.
func GetAPIToken(kc Keychain) (string, error) {
	if tok := os.Getenv(tokenEnv); tok != "" {
		return tok, nil
	}
	if tok, err := kc.Get(keychainService, tokenAccount); err == nil && tok != "" {
		return tok, nil
	}

	tok := uuid.NewString()
	if err := kc.Set(keychainService, tokenAccount, tok); err != nil {
		return "", fmt.Errorf("storing generated API token: %w", err)
	}
	slog.Info("generated API token", "service", keychainService, "account", tokenAccount)
	return tok, nil
}
