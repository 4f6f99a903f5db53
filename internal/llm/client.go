// Package llm issues chat-completion requests against an
// OpenRouter-compatible provider, with process-wide rate limiting and
// a retry-then-fallback resilience loop around each logical call.
package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/finsight-ai/finsight/internal/core"
)

// DefaultBaseURL is the OpenRouter chat-completions endpoint.
const DefaultBaseURL = "https://openrouter.ai/api/v1"

// Message is one chat turn sent to the provider.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ClientConfig configures the provider HTTP client.
type ClientConfig struct {
	BaseURL  string
	APIKey   string
	Referer  string
	AppTitle string
}

// Client is a thin chat-completions HTTP client. It performs exactly
// one request per call; retry and fallback live in Caller.
type Client struct {
	baseURL  string
	apiKey   string
	referer  string
	appTitle string
	httpc    *http.Client
}

// NewClient creates a provider client.
func NewClient(cfg ClientConfig) *Client {
	baseURL := strings.TrimSuffix(cfg.BaseURL, "/")
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	return &Client{
		baseURL:  baseURL,
		apiKey:   cfg.APIKey,
		referer:  cfg.Referer,
		appTitle: cfg.AppTitle,
		// Per-call deadlines come from the caller's context.
		httpc: &http.Client{},
	}
}

type chatRequest struct {
	Model    string    `json:"model"`
	Messages []Message `json:"messages"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Error *providerError `json:"error"`
}

type providerError struct {
	Type    string          `json:"type"`
	Code    json.RawMessage `json:"code"` // providers send strings or numbers
	Message string          `json:"message"`
}

func (e *providerError) codeString() string {
	if len(e.Code) == 0 {
		return ""
	}
	return strings.Trim(string(e.Code), `"`)
}

// ChatCompletion issues one request and returns the first choice's
// content. Errors are classified into the domain taxonomy:
// network, parse, auth, or transient provider.
func (c *Client) ChatCompletion(ctx context.Context, model string, messages []Message) (string, error) {
	payload, err := json.Marshal(chatRequest{Model: model, Messages: messages})
	if err != nil {
		return "", core.ErrParse("encoding request").WithCause(err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(payload))
	if err != nil {
		return "", core.ErrNetwork("building request").WithCause(err)
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Content-Type", "application/json")
	if c.referer != "" {
		req.Header.Set("HTTP-Referer", c.referer)
	}
	if c.appTitle != "" {
		req.Header.Set("X-Title", c.appTitle)
	}

	resp, err := c.httpc.Do(req)
	if err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			return "", core.ErrTimeout(fmt.Sprintf("model %s request timed out", model)).WithCause(err)
		}
		return "", core.ErrNetwork("request failed").WithCause(err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return "", core.ErrNetwork("reading response").WithCause(err)
	}

	var decoded chatResponse
	if err := json.Unmarshal(body, &decoded); err != nil {
		return "", core.ErrParse(fmt.Sprintf("undecodable response (status %d)", resp.StatusCode)).WithCause(err)
	}

	if resp.StatusCode == http.StatusOK && len(decoded.Choices) > 0 {
		return decoded.Choices[0].Message.Content, nil
	}

	if decoded.Error != nil {
		return "", classifyProviderError(resp.StatusCode, decoded.Error)
	}
	return "", core.ErrProvider("", fmt.Sprintf("status %d with no choices", resp.StatusCode))
}

// classifyProviderError separates terminal auth failures from
// transient provider faults.
func classifyProviderError(status int, pe *providerError) error {
	code := pe.codeString()
	msg := pe.Message
	if msg == "" {
		msg = fmt.Sprintf("provider error (status %d)", status)
	}

	if isAuthError(status, pe.Type, code, msg) {
		return core.ErrAuth(fmt.Sprintf("provider rejected credentials: %s", msg))
	}
	return core.ErrProvider(code, msg)
}

func isAuthError(status int, errType, code, message string) bool {
	if status == http.StatusUnauthorized || status == http.StatusForbidden {
		return true
	}
	if errType == "authentication_error" || code == "auth_required" || code == "401" {
		return true
	}
	return strings.Contains(strings.ToLower(message), "auth")
}

// elapsedSeconds is a small helper for call metrics.
func elapsedSeconds(start time.Time) float64 {
	return time.Since(start).Seconds()
}
