package llm

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/finsight-ai/finsight/internal/core"
)

func newTestClient(handler http.HandlerFunc) (*Client, *httptest.Server) {
	srv := httptest.NewServer(handler)
	client := NewClient(ClientConfig{
		BaseURL:  srv.URL,
		APIKey:   "test-key",
		Referer:  "https://example.com",
		AppTitle: "finsight-test",
	})
	return client, srv
}

func TestChatCompletionSuccess(t *testing.T) {
	var gotAuth, gotReferer, gotPath string
	var gotReq chatRequest

	client, srv := newTestClient(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		gotReferer = r.Header.Get("HTTP-Referer")
		gotPath = r.URL.Path
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotReq))

		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"choices": []map[string]interface{}{
				{"message": map[string]string{"content": "the analysis"}},
			},
		})
	})
	defer srv.Close()

	content, err := client.ChatCompletion(context.Background(), "model-a", []Message{
		{Role: "system", Content: "sys"},
		{Role: "user", Content: "prompt"},
	})
	require.NoError(t, err)
	assert.Equal(t, "the analysis", content)
	assert.Equal(t, "Bearer test-key", gotAuth)
	assert.Equal(t, "https://example.com", gotReferer)
	assert.Equal(t, "/chat/completions", gotPath)
	assert.Equal(t, "model-a", gotReq.Model)
	require.Len(t, gotReq.Messages, 2)
}

func TestChatCompletionAuthError(t *testing.T) {
	client, srv := newTestClient(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"error": map[string]interface{}{"message": "invalid api key", "code": 401},
		})
	})
	defer srv.Close()

	_, err := client.ChatCompletion(context.Background(), "model-a", nil)
	require.Error(t, err)
	assert.True(t, core.IsCategory(err, core.ErrCatAuth))
	assert.False(t, core.IsRetryable(err))
}

func TestChatCompletionAuthErrorByType(t *testing.T) {
	// Some providers report auth failures with a 200-family error body.
	client, srv := newTestClient(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"error": map[string]interface{}{
				"type":    "authentication_error",
				"message": "key disabled",
			},
		})
	})
	defer srv.Close()

	_, err := client.ChatCompletion(context.Background(), "model-a", nil)
	require.Error(t, err)
	assert.True(t, core.IsCategory(err, core.ErrCatAuth))
}

func TestChatCompletionProviderErrorRetryable(t *testing.T) {
	client, srv := newTestClient(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"error": map[string]interface{}{"message": "rate limit exceeded", "code": "rate_limited"},
		})
	})
	defer srv.Close()

	_, err := client.ChatCompletion(context.Background(), "model-a", nil)
	require.Error(t, err)
	assert.True(t, core.IsCategory(err, core.ErrCatProvider))
	assert.True(t, core.IsRetryable(err))
}

func TestChatCompletionMalformedBody(t *testing.T) {
	client, srv := newTestClient(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("<html>gateway error</html>"))
	})
	defer srv.Close()

	_, err := client.ChatCompletion(context.Background(), "model-a", nil)
	require.Error(t, err)
	assert.True(t, core.IsCategory(err, core.ErrCatParse))
}

func TestChatCompletionTimeout(t *testing.T) {
	client, srv := newTestClient(func(w http.ResponseWriter, r *http.Request) {
		// Drain the body so the server detects the client disconnect and
		// cancels the request context (required on Go < 1.23).
		_, _ = io.Copy(io.Discard, r.Body)
		<-r.Context().Done()
	})
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := client.ChatCompletion(ctx, "model-a", nil)
	require.Error(t, err)
	assert.True(t, core.IsCategory(err, core.ErrCatTimeout))
}

func TestChatCompletionNoChoices(t *testing.T) {
	client, srv := newTestClient(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]interface{}{"choices": []interface{}{}})
	})
	defer srv.Close()

	_, err := client.ChatCompletion(context.Background(), "model-a", nil)
	require.Error(t, err)
	assert.True(t, core.IsCategory(err, core.ErrCatProvider))
}

func TestProviderErrorCodeString(t *testing.T) {
	pe := &providerError{Code: json.RawMessage(`"auth_required"`)}
	assert.Equal(t, "auth_required", pe.codeString())

	pe = &providerError{Code: json.RawMessage(`429`)}
	assert.Equal(t, "429", pe.codeString())

	pe = &providerError{}
	assert.Equal(t, "", pe.codeString())
}
