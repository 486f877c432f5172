package stage

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/lucasnoah/agentgist/internal/db"
	"github.com/lucasnoah/agentgist/internal/metrics"
	"github.com/lucasnoah/agentgist/internal/router"
	"github.com/lucasnoah/agentgist/internal/tokens"
)

// call describes one logical inference call: which task it serves, the
// conversation to send and where to record it.
type call struct {
	runID  string
	stage  string
	postID string
	task   router.Task
	budget int
	msgs   []tokens.Message
}

// infer routes c to its backend, optimizes the prompt under the budget and
// runs it with retries. decode validates each attempt's output; a decode
// error is retried like a transport failure when it is retryable.
func (r *Runner) infer(ctx context.Context, c call, decode func(string) error) error {
	complexity := router.ComplexityFor(c.task)
	backend, err := r.router.SelectFor(c.task)
	if err != nil {
		return err
	}

	msgs, stats, err := tokens.Optimize(c.msgs, tokens.Budget{
		MaxTokens:  c.budget,
		Simplify:   r.cfg.EnablePhraseSimplification,
		Truncate:   r.cfg.EnableTruncation,
		Preprocess: r.cfg.EnablePreprocessing,
	})
	if err != nil {
		return err
	}
	text := tokens.Render(msgs)
	metrics.TokensSaved.WithLabelValues(c.stage).Add(float64(stats.Saved()))

	name := c.stage
	if c.postID != "" {
		name = c.postID
	}
	r.savePrompt(c.runID, c.stage, name, text)

	start := time.Now()
	_, attempts, err := retry(ctx, r.policy(r.dur.InferenceTimeout), "infer", func(ctx context.Context) (struct{}, error) {
		out, err := r.llm.Infer(ctx, backend, text, backend.MaxTokens)
		if err != nil {
			return struct{}{}, err
		}
		return struct{}{}, decode(out)
	})
	elapsed := time.Since(start)

	outcome := db.OutcomeOK
	errMsg := ""
	if err != nil {
		outcome = db.OutcomeFailed
		errMsg = err.Error()
	}
	metrics.ObserveInference(backend.ID, c.stage, outcome, elapsed)
	if ctx.Err() == nil {
		r.recordCall(db.InferenceCall{
			RunID:        c.runID,
			Stage:        c.stage,
			PostID:       c.postID,
			Backend:      backend.ID,
			Model:        backend.Model,
			Complexity:   string(complexity),
			PromptTokens: stats.TokensAfter,
			TokensSaved:  stats.Saved(),
			Attempts:     attempts,
			Outcome:      outcome,
			DurationMs:   elapsed.Milliseconds(),
			Error:        errMsg,
		})
	}

	log.Debug().
		Str("run", c.runID).
		Str("stage", c.stage).
		Str("post", c.postID).
		Str("backend", backend.ID).
		Int("tokens", stats.TokensAfter).
		Int("saved", stats.Saved()).
		Int("dropped", stats.Dropped).
		Int("attempts", attempts).
		Err(err).
		Msg("inference call")

	if err != nil {
		return fmt.Errorf("%s inference: %w", c.stage, err)
	}
	return nil
}
