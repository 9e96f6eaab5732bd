package ollama

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kalambet/tfmt/internal/apperr"
)

// tagsJSON builds a /api/tags response with the given model names.
func tagsJSON(names ...string) []byte {
	r := tagsResponse{}
	for _, n := range names {
		r.Models = append(r.Models, Model{Name: n, Model: n})
	}
	b, _ := json.Marshal(r)
	return b
}

func TestIsRunning_Up(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write(tagsJSON("phi3.5:latest"))
	}))
	defer srv.Close()

	assert.True(t, New(srv.URL, "").IsRunning(context.Background()))
}

func TestIsRunning_Down(t *testing.T) {
	// A closed server simulates connection refused.
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	srv.Close()

	assert.False(t, New(srv.URL, "").IsRunning(context.Background()))
}

func TestListModels(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/tags", r.URL.Path)
		w.Write(tagsJSON("llama3:8b-instruct", "mistral-nemo:latest"))
	}))
	defer srv.Close()

	models, err := New(srv.URL+"/", "").ListModels(context.Background())
	require.NoError(t, err)
	require.Len(t, models, 2)
	assert.Equal(t, "llama3:8b-instruct", models[0].Name)
	assert.Equal(t, "mistral-nemo:latest", models[1].Name)
}

func TestListModels_SendsAPIKey(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer sk-local", r.Header.Get("Authorization"))
		w.Write(tagsJSON())
	}))
	defer srv.Close()

	models, err := New(srv.URL, "sk-local").ListModels(context.Background())
	require.NoError(t, err)
	assert.Empty(t, models)
}

func TestListModels_StatusMapping(t *testing.T) {
	tests := []struct {
		status int
		want   apperr.Code
	}{
		{http.StatusTooManyRequests, apperr.CodeRateLimited},
		{http.StatusNotFound, apperr.CodeModelNotFound},
		{http.StatusBadGateway, apperr.CodeNetworkError},
		{http.StatusTeapot, apperr.CodeInvalidResponse},
	}
	for _, tt := range tests {
		t.Run(http.StatusText(tt.status), func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				http.Error(w, "nope", tt.status)
			}))
			defer srv.Close()

			_, err := New(srv.URL, "").ListModels(context.Background())
			assert.Equal(t, tt.want, apperr.Classify(err).Code)
		})
	}
}

func TestListModels_BadJSON(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("<html>"))
	}))
	defer srv.Close()

	_, err := New(srv.URL, "").ListModels(context.Background())
	assert.Equal(t, apperr.CodeInvalidResponse, apperr.Classify(err).Code)
}

func TestListModels_ConnectionRefusedIsNetworkError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	srv.Close()

	_, err := New(srv.URL, "").ListModels(context.Background())
	require.Error(t, err)
	assert.True(t, apperr.Classify(err).Retryable())
}
