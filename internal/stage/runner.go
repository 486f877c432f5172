// Package stage executes the individual pipeline stages (fetch, filter,
// analyze, report) against the external collaborators. It holds no run state;
// the orchestrator passes everything a stage needs in its request.
package stage

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/lucasnoah/agentgist/internal/config"
	"github.com/lucasnoah/agentgist/internal/db"
	"github.com/lucasnoah/agentgist/internal/embed"
	"github.com/lucasnoah/agentgist/internal/prompt"
	"github.com/lucasnoah/agentgist/internal/reddit"
	"github.com/lucasnoah/agentgist/internal/retrieval"
	"github.com/lucasnoah/agentgist/internal/router"
	"github.com/lucasnoah/agentgist/internal/runstate"
)

// Inferer is the inference backend.
type Inferer interface {
	Infer(ctx context.Context, b config.Backend, prompt string, maxTokens int) (string, error)
}

// CallRecorder persists one row per logical inference call.
type CallRecorder interface {
	LogInferenceCall(c db.InferenceCall) error
}

// PromptSaver keeps a copy of every rendered prompt next to the run.
type PromptSaver interface {
	SavePrompt(id, stage, name, prompt string) error
}

// Deps are the collaborators a Runner is built from. Calls and Saver may be nil.
type Deps struct {
	Config   *config.Config
	Router   *router.Router
	Fetcher  reddit.Fetcher
	Embedder embed.Embedder
	LLM      Inferer
	Prompts  *prompt.Set
	Calls    CallRecorder
	Saver    PromptSaver
}

// Runner executes stages. It is safe for concurrent use.
type Runner struct {
	cfg      *config.Config
	dur      config.Durations
	router   *router.Router
	fetcher  reddit.Fetcher
	embedder embed.Embedder
	llm      Inferer
	prompts  *prompt.Set
	calls    CallRecorder
	saver    PromptSaver
	progress io.Writer // live progress output; nil = silent
}

// New creates a Runner.
func New(d Deps) (*Runner, error) {
	if d.Config == nil || d.Router == nil || d.Fetcher == nil || d.Embedder == nil || d.LLM == nil {
		return nil, fmt.Errorf("stage runner: config, router, fetcher, embedder and llm are required")
	}
	dur, err := d.Config.Durations()
	if err != nil {
		return nil, fmt.Errorf("stage runner: %w", err)
	}
	prompts := d.Prompts
	if prompts == nil {
		prompts = prompt.NewSet(d.Config.PromptDir)
	}
	return &Runner{
		cfg:      d.Config,
		dur:      dur,
		router:   d.Router,
		fetcher:  d.Fetcher,
		embedder: d.Embedder,
		llm:      d.LLM,
		prompts:  prompts,
		calls:    d.Calls,
		saver:    d.Saver,
	}, nil
}

// SetProgress sets a writer for live progress output (e.g. os.Stderr).
func (r *Runner) SetProgress(w io.Writer) {
	r.progress = w
}

// logf prints a progress line if a progress writer is configured.
func (r *Runner) logf(format string, args ...interface{}) {
	if r.progress != nil {
		fmt.Fprintf(r.progress, "  → "+format+"\n", args...)
	}
}

// FetchRequest asks for the newest posts of a subreddit.
type FetchRequest struct {
	RunID     string
	Subreddit string
	Limit     int
}

// Fetch retrieves posts, retrying transient source failures.
func (r *Runner) Fetch(ctx context.Context, req FetchRequest) ([]runstate.Post, error) {
	r.logf("fetching up to %d posts from r/%s", req.Limit, req.Subreddit)
	posts, attempts, err := retry(ctx, r.policy(r.dur.FetchTimeout), "fetch", func(ctx context.Context) ([]runstate.Post, error) {
		return r.fetcher.Fetch(ctx, req.Subreddit, req.Limit)
	})
	if err != nil {
		log.Warn().Err(err).Str("run", req.RunID).Int("attempts", attempts).Msg("fetch failed")
		return nil, err
	}
	r.logf("fetched %d posts", len(posts))
	return posts, nil
}

// FilterRequest asks for the candidates to show the human.
type FilterRequest struct {
	RunID string
	Query string
	Posts []runstate.Post
}

// FilterResult is the candidate list for an interrupt. Ranked is false when
// the embedding backend failed and candidates fell back to fetch order.
type FilterResult struct {
	Candidates []runstate.Candidate
	Ranked     bool
}

// Filter ranks posts against the query. When embeddings stay unavailable
// after retries it falls back to fetch order instead of failing the run.
func (r *Runner) Filter(ctx context.Context, req FilterRequest) (FilterResult, error) {
	opts := retrieval.Options{
		Threshold:     r.cfg.SimilarityThreshold,
		MaxCandidates: r.cfg.MaxCandidates,
		MaxChars:      r.cfg.Embedding.MaxChars,
	}
	e := &retryingEmbedder{base: r.embedder, policy: r.policy(r.dur.EmbeddingTimeout)}

	candidates, err := retrieval.Filter(ctx, e, req.Query, req.Posts, opts)
	if err != nil {
		if ctx.Err() != nil {
			return FilterResult{}, ctx.Err()
		}
		log.Warn().Err(err).Str("run", req.RunID).Msg("embedding unavailable, offering posts in fetch order")
		r.logf("embedding unavailable, candidates in fetch order")
		return FilterResult{Candidates: retrieval.Unranked(req.Posts, r.cfg.MaxCandidates)}, nil
	}
	r.logf("%d of %d posts at or above similarity %.2f", len(candidates), len(req.Posts), opts.Threshold)
	return FilterResult{Candidates: candidates, Ranked: true}, nil
}

// retryingEmbedder retries each embedding call on its own so one slow post
// does not restart the others.
type retryingEmbedder struct {
	base   embed.Embedder
	policy retryPolicy
}

func (e *retryingEmbedder) Embed(ctx context.Context, text string) ([]float64, error) {
	v, _, err := retry(ctx, e.policy, "embed", func(ctx context.Context) ([]float64, error) {
		return e.base.Embed(ctx, text)
	})
	return v, err
}

func (r *Runner) policy(timeout time.Duration) retryPolicy {
	return retryPolicy{
		attempts: r.cfg.MaxRetries + 1,
		backoff:  r.dur.RetryBackoff,
		timeout:  timeout,
	}
}

func (r *Runner) savePrompt(runID, stage, name, text string) {
	if r.saver == nil || runID == "" {
		return
	}
	if err := r.saver.SavePrompt(runID, stage, name, text); err != nil {
		log.Warn().Err(err).Str("run", runID).Str("stage", stage).Msg("saving prompt failed")
	}
}

func (r *Runner) recordCall(c db.InferenceCall) {
	if r.calls == nil {
		return
	}
	if err := r.calls.LogInferenceCall(c); err != nil {
		log.Warn().Err(err).Str("run", c.RunID).Msg("recording inference call failed")
	}
}
