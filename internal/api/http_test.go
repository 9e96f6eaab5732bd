package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kalambet/tfmt/internal/apperr"
	"github.com/kalambet/tfmt/internal/ipc"
	"github.com/kalambet/tfmt/internal/schema"
)

func authReq(method, path, body string) *http.Request {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Authorization", "Bearer "+testToken)
	req.Header.Set("Content-Type", "application/json")
	return req
}

func serve(h http.Handler, req *http.Request) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func decodeEnvelope(t *testing.T, w *httptest.ResponseRecorder) ipc.Envelope {
	t.Helper()
	var env ipc.Envelope
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &env), w.Body.String())
	return env
}

func TestHealth_NoAuth(t *testing.T) {
	d, _ := newTestDispatcher(t)
	w := serve(NewHandler(d, testToken), httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"status":"ok"}`, w.Body.String())
}

func TestBearerAuth(t *testing.T) {
	d, _ := newTestDispatcher(t)
	h := NewHandler(d, testToken)

	tests := []struct {
		name   string
		header string
	}{
		{"missing", ""},
		{"wrong token", "Bearer nope"},
		{"wrong scheme", "Basic " + testToken},
		{"scheme only", "Bearer"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/ipc/app:getVersion", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			w := serve(h, req)
			assert.Equal(t, http.StatusUnauthorized, w.Code)
			assert.Equal(t, `Bearer realm="tfmt"`, w.Header().Get("WWW-Authenticate"))
		})
	}
}

func TestBearerAuth_SchemeIsCaseInsensitive(t *testing.T) {
	d, _ := newTestDispatcher(t)
	req := httptest.NewRequest(http.MethodGet, "/commands", nil)
	req.Header.Set("Authorization", "bearer "+testToken)
	w := serve(NewHandler(d, testToken), req)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestBearerAuth_EmptyTokenRejectsEverything(t *testing.T) {
	d, _ := newTestDispatcher(t)
	req := httptest.NewRequest(http.MethodGet, "/commands", nil)
	req.Header.Set("Authorization", "Bearer ")
	w := serve(NewHandler(d, ""), req)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestCommands(t *testing.T) {
	d, _ := newTestDispatcher(t)
	w := serve(NewHandler(d, testToken), authReq(http.MethodGet, "/commands", ""))
	require.Equal(t, http.StatusOK, w.Code)

	var body struct {
		Commands []string `json:"commands"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.ElementsMatch(t, schema.Commands(), body.Commands)
}

func TestDispatch_Success(t *testing.T) {
	d, st := newTestDispatcher(t)
	h := NewHandler(d, testToken)

	w := serve(h, authReq(http.MethodPost, "/ipc/store:set", `{"key":"defaultModel","value":"mistral"}`))
	require.Equal(t, http.StatusOK, w.Code)
	assert.True(t, decodeEnvelope(t, w).Success)
	assert.Equal(t, "mistral", st.DefaultModel())

	w = serve(h, authReq(http.MethodPost, "/ipc/store:get", `{"key":"defaultModel"}`))
	env := decodeEnvelope(t, w)
	require.True(t, env.Success)
	assert.JSONEq(t, `"mistral"`, string(env.Data.(json.RawMessage)))
}

func TestDispatch_EmptyBodyForPayloadlessCommand(t *testing.T) {
	d, _ := newTestDispatcher(t)
	w := serve(NewHandler(d, testToken), authReq(http.MethodPost, "/ipc/store:getHistory", ""))
	env := decodeEnvelope(t, w)
	require.True(t, env.Success, w.Body.String())
	assert.JSONEq(t, `{"items":[],"total":0}`, string(env.Data.(json.RawMessage)))
}

func TestDispatch_FailureIsStill200(t *testing.T) {
	d, _ := newTestDispatcher(t)
	h := NewHandler(d, testToken)

	w := serve(h, authReq(http.MethodPost, "/ipc/clipboard:copy", `{"text":""}`))
	assert.Equal(t, http.StatusOK, w.Code)
	env := decodeEnvelope(t, w)
	assert.False(t, env.Success)
	require.NotNil(t, env.Error)
	assert.Equal(t, apperr.CodeValidation, env.Error.Code)

	w = serve(h, authReq(http.MethodPost, "/ipc/no:such", `{}`))
	assert.Equal(t, http.StatusOK, w.Code)
	env = decodeEnvelope(t, w)
	assert.False(t, env.Success)
	assert.Equal(t, apperr.CodeValidation, env.Error.Code)
}

func TestDispatch_BodyTooLarge(t *testing.T) {
	d, _ := newTestDispatcher(t)
	big := `{"text":"` + strings.Repeat("a", maxRequestBodySize) + `"}`
	w := serve(NewHandler(d, testToken), authReq(http.MethodPost, "/ipc/clipboard:copy", big))
	assert.Equal(t, http.StatusRequestEntityTooLarge, w.Code)
}

func TestListen_LoopbackWithLimit(t *testing.T) {
	ln, err := Listen(0, 2)
	require.NoError(t, err)
	defer ln.Close()
	assert.True(t, strings.HasPrefix(ln.Addr().String(), "127.0.0.1:"))
}
