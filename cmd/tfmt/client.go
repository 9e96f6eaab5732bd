package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/kalambet/tfmt/internal/config"
	"github.com/kalambet/tfmt/internal/ipc"
)

type apiClient struct {
	baseURL    string
	token      string
	httpClient *http.Client
}

var newAPIClient = func() (*apiClient, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}

	token, err := config.GetAPIToken(config.NewKeychain())
	if err != nil {
		return nil, fmt.Errorf("getting API token: %w", err)
	}

	return &apiClient{
		baseURL:    fmt.Sprintf("http://127.0.0.1:%d", cfg.Server.Port),
		token:      token,
		httpClient: &http.Client{Timeout: 60 * time.Second},
	}, nil
}

// call dispatches command on the running server. A failed command is not a
// Go error: it comes back as an envelope with Success false.
func (c *apiClient) call(ctx context.Context, command string, payload any) (ipc.Envelope, error) {
	var body []byte
	switch p := payload.(type) {
	case nil:
	case json.RawMessage:
		body = p
	default:
		data, err := json.Marshal(p)
		if err != nil {
			return ipc.Envelope{}, fmt.Errorf("marshalling request: %w", err)
		}
		body = data
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/ipc/"+url.PathEscape(command), bytes.NewReader(body))
	if err != nil {
		return ipc.Envelope{}, err
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return ipc.Envelope{}, fmt.Errorf("server not reachable, is tfmt serve running? (%w)", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return ipc.Envelope{}, fmt.Errorf("server returned %d: %s", resp.StatusCode, bytes.TrimSpace(b))
	}

	var env ipc.Envelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		return ipc.Envelope{}, fmt.Errorf("decoding response: %w", err)
	}
	return env, nil
}

// callInto dispatches command and decodes a successful result into out.
func (c *apiClient) callInto(ctx context.Context, command string, payload, out any) error {
	env, err := c.call(ctx, command, payload)
	if err != nil {
		return err
	}
	if !env.Success {
		return envelopeError(env)
	}
	if out == nil {
		return nil
	}
	raw, _ := env.Data.(json.RawMessage)
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("decoding %s result: %w", command, err)
	}
	return nil
}

func envelopeError(env ipc.Envelope) error {
	if env.Error == nil {
		return fmt.Errorf("command failed")
	}
	return fmt.Errorf("%s: %s", env.Error.Code, env.Error.Message)
}
