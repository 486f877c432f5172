// Package llm calls OpenAI-compatible chat completion endpoints (Groq, OpenAI
// and Ollama's /v1 API).
package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/lucasnoah/agentgist/internal/config"
	"github.com/lucasnoah/agentgist/internal/errs"
)

// maxErrorBody caps how much of an error response is kept in the error message.
const maxErrorBody = 2048

// Client issues chat completion requests. Deadlines come from the caller's
// context, so the underlying http.Client has no timeout of its own.
type Client struct {
	http *http.Client
}

// New returns a Client using hc, or http.DefaultClient when hc is nil.
func New(hc *http.Client) *Client {
	if hc == nil {
		hc = http.DefaultClient
	}
	return &Client{http: hc}
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float64       `json:"temperature"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatResponse struct {
	Model   string `json:"model"`
	Choices []struct {
		Message      chatMessage `json:"message"`
		FinishReason string      `json:"finish_reason"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
	} `json:"usage"`
}

type errorResponse struct {
	Error struct {
		Message string `json:"message"`
	} `json:"error"`
}

// Infer sends prompt as a single user message to backend b and returns the
// first choice's content. Transport and status failures come back as
// *errs.InferenceError; an expired context deadline as *errs.InferenceTimeoutError.
func (c *Client) Infer(ctx context.Context, b config.Backend, prompt string, maxTokens int) (string, error) {
	body, err := json.Marshal(chatRequest{
		Model:       b.Model,
		Messages:    []chatMessage{{Role: "user", Content: prompt}},
		Temperature: b.Temperature,
		MaxTokens:   maxTokens,
	})
	if err != nil {
		return "", fmt.Errorf("marshal chat request: %w", err)
	}

	url := strings.TrimRight(b.Endpoint, "/") + "/chat/completions"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return "", &errs.InferenceError{Backend: b.ID, Op: "infer", Err: err}
	}
	req.Header.Set("Content-Type", "application/json")
	if b.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+b.APIKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return "", transportError(ctx, b.ID, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", &errs.InferenceError{
			Backend:    b.ID,
			Op:         "infer",
			StatusCode: resp.StatusCode,
			Message:    errorMessage(resp.Body),
		}
	}

	var out chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		if ctx.Err() != nil {
			return "", transportError(ctx, b.ID, err)
		}
		return "", &errs.InferenceError{Backend: b.ID, Op: "infer", Message: "malformed response", Err: err}
	}
	if len(out.Choices) == 0 {
		return "", &errs.InferenceError{Backend: b.ID, Op: "infer", Message: "response has no choices"}
	}

	log.Debug().
		Str("backend", b.ID).
		Str("model", out.Model).
		Int("prompt_tokens", out.Usage.PromptTokens).
		Int("completion_tokens", out.Usage.CompletionTokens).
		Str("finish_reason", out.Choices[0].FinishReason).
		Msg("inference complete")

	return out.Choices[0].Message.Content, nil
}

// transportError classifies a failed round trip. A caller cancellation is
// returned as-is so retry loops stop.
func transportError(ctx context.Context, backend string, err error) error {
	switch {
	case errors.Is(ctx.Err(), context.DeadlineExceeded):
		return &errs.InferenceTimeoutError{Backend: backend, Op: "infer"}
	case ctx.Err() != nil:
		return ctx.Err()
	}
	return &errs.InferenceError{Backend: backend, Op: "infer", Err: err}
}

func errorMessage(r io.Reader) string {
	raw, _ := io.ReadAll(io.LimitReader(r, maxErrorBody))
	var er errorResponse
	if json.Unmarshal(raw, &er) == nil && er.Error.Message != "" {
		return er.Error.Message
	}
	msg := strings.TrimSpace(string(raw))
	if msg == "" {
		msg = "empty response body"
	}
	return msg
}
