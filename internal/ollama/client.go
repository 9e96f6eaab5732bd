// Package ollama discovers the models a local Ollama server has installed.
package ollama

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/kalambet/tfmt/internal/apperr"
)

// Client talks to a local Ollama instance over HTTP.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

// New creates a Client targeting baseURL. A non-empty apiKey is sent as a
// bearer token, for servers placed behind an authenticating proxy.
func New(baseURL, apiKey string) *Client {
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		apiKey:     apiKey,
		httpClient: &http.Client{},
	}
}

// Model is one installed model as reported by GET /api/tags.
type Model struct {
	Name       string    `json:"name"`
	Model      string    `json:"model"`
	Size       int64     `json:"size"`
	ModifiedAt time.Time `json:"modified_at"`
	Details    struct {
		Family            string `json:"family"`
		ParameterSize     string `json:"parameter_size"`
		QuantizationLevel string `json:"quantization_level"`
	} `json:"details"`
}

type tagsResponse struct {
	Models []Model `json:"models"`
}

// IsRunning reports whether the server answers GET /api/tags with 200.
func (c *Client) IsRunning(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	resp, err := c.get(ctx, "/api/tags")
	if err != nil {
		return false
	}
	resp.Body.Close()
	return resp.StatusCode == http.StatusOK
}

// ListModels returns every installed model. Transport failures are returned
// unwrapped for classification; HTTP and decoding failures are already
// application errors.
func (c *Client) ListModels(ctx context.Context) ([]Model, error) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	resp, err := c.get(ctx, "/api/tags")
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if err := statusError(resp); err != nil {
		return nil, err
	}

	var tags tagsResponse
	if err := json.NewDecoder(resp.Body).Decode(&tags); err != nil {
		return nil, apperr.Wrap(apperr.CodeInvalidResponse, "decoding model list: "+err.Error(), err)
	}
	return tags.Models, nil
}

func (c *Client) get(ctx context.Context, path string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}
	return c.httpClient.Do(req)
}

// statusError maps a non-200 response onto the error taxonomy. Server-side
// failures are network errors so the retry engine tries again.
func statusError(resp *http.Response) error {
	if resp.StatusCode == http.StatusOK {
		return nil
	}
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
	details := map[string]any{"status": resp.StatusCode, "body": strings.TrimSpace(string(body))}

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return apperr.WithDetails(apperr.CodeRateLimited, "rate limited by model server", details)
	case resp.StatusCode == http.StatusNotFound:
		return apperr.WithDetails(apperr.CodeModelNotFound, "model server endpoint not found", details)
	case resp.StatusCode >= 500:
		return apperr.WithDetails(apperr.CodeNetworkError, fmt.Sprintf("model server returned %d", resp.StatusCode), details)
	default:
		return apperr.WithDetails(apperr.CodeInvalidResponse, fmt.Sprintf("unexpected status %d", resp.StatusCode), details)
	}
}
