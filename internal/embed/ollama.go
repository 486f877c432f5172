// Package embed computes text embeddings for the retrieval filter.
package embed

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"

	"github.com/lucasnoah/agentgist/internal/config"
	"github.com/lucasnoah/agentgist/internal/errs"
)

// Embedder turns text into a fixed-length vector.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float64, error)
}

// DefaultCacheSize is the number of embeddings an Ollama embedder remembers.
const DefaultCacheSize = 1024

// Ollama calls the /api/embeddings endpoint of an Ollama server. Results are
// cached by text so repeated runs over the same posts do not re-embed them.
type Ollama struct {
	host   string
	model  string
	client *http.Client

	mu    sync.Mutex
	cache map[string][]float64
	order []string
	max   int
}

// NewOllama builds an embedder from cfg. hc may be nil.
func NewOllama(cfg config.Embedding, hc *http.Client) *Ollama {
	if hc == nil {
		hc = http.DefaultClient
	}
	return &Ollama{
		host:   strings.TrimRight(cfg.Host, "/"),
		model:  cfg.Model,
		client: hc,
		cache:  make(map[string][]float64),
		max:    DefaultCacheSize,
	}
}

type embeddingRequest struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
}

type embeddingResponse struct {
	Embedding []float64 `json:"embedding"`
}

// Embed returns the embedding of text.
func (o *Ollama) Embed(ctx context.Context, text string) ([]float64, error) {
	key := cacheKey(o.model, text)
	if v, ok := o.lookup(key); ok {
		return v, nil
	}

	body, err := json.Marshal(embeddingRequest{Model: o.model, Prompt: text})
	if err != nil {
		return nil, fmt.Errorf("marshal embedding request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, o.host+"/api/embeddings", bytes.NewReader(body))
	if err != nil {
		return nil, o.fail(err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := o.client.Do(req)
	if err != nil {
		switch {
		case errors.Is(ctx.Err(), context.DeadlineExceeded):
			return nil, &errs.InferenceTimeoutError{Backend: o.backend(), Op: "embed"}
		case ctx.Err() != nil:
			return nil, ctx.Err()
		}
		return nil, o.fail(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return nil, &errs.InferenceError{
			Backend:    o.backend(),
			Op:         "embed",
			StatusCode: resp.StatusCode,
			Message:    strings.TrimSpace(string(raw)),
		}
	}

	var out embeddingResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, &errs.InferenceError{Backend: o.backend(), Op: "embed", Message: "malformed response", Err: err}
	}
	if len(out.Embedding) == 0 {
		return nil, &errs.InferenceError{Backend: o.backend(), Op: "embed", Message: "empty embedding"}
	}

	o.store(key, out.Embedding)
	return out.Embedding, nil
}

func (o *Ollama) backend() string {
	return "ollama/" + o.model
}

func (o *Ollama) fail(err error) error {
	return &errs.InferenceError{Backend: o.backend(), Op: "embed", Err: err}
}

func cacheKey(model, text string) string {
	sum := sha256.Sum256([]byte(model + "\x00" + text))
	return hex.EncodeToString(sum[:])
}

func (o *Ollama) lookup(key string) ([]float64, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	v, ok := o.cache[key]
	return v, ok
}

// store inserts v, evicting the oldest entry once the cache is full.
func (o *Ollama) store(key string, v []float64) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if _, ok := o.cache[key]; ok {
		return
	}
	if len(o.order) >= o.max {
		oldest := o.order[0]
		o.order = o.order[1:]
		delete(o.cache, oldest)
	}
	o.cache[key] = v
	o.order = append(o.order, key)
}
