package config

import (
	"fmt"

	"github.com/caarlos0/env/v11"
)

// LLMEnv carries the inference server settings that seed a fresh store.
// They are read once and persisted; later changes to the environment do not
// affect an existing store.
type LLMEnv struct {
	BaseURL string `env:"LLM_BASE_URL"`
	APIKey  string `env:"LLM_API_KEY"`
}

// LoadLLMEnv parses LLM_BASE_URL and LLM_API_KEY from the process
// environment.
func LoadLLMEnv() (LLMEnv, error) {
	var e LLMEnv
	if err := env.Parse(&e); err != nil {
		return LLMEnv{}, fmt.Errorf("parsing LLM environment: %w", err)
	}
	return e, nil
}
