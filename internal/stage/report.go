package stage

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/lucasnoah/agentgist/internal/errs"
	"github.com/lucasnoah/agentgist/internal/prompt"
	"github.com/lucasnoah/agentgist/internal/router"
	"github.com/lucasnoah/agentgist/internal/runstate"
	"github.com/lucasnoah/agentgist/internal/tokens"
)

// ReportEntry pairs a successful analysis with the post it came from.
type ReportEntry struct {
	Post     runstate.Post
	Analysis runstate.Analysis
}

// ReportRequest asks for the final digest. Entries are in selection order.
type ReportRequest struct {
	RunID     string
	Subreddit string
	Query     string
	Entries   []ReportEntry
	Failed    []runstate.FailedPost
}

type reportOutput struct {
	Title     string   `json:"title"`
	Summary   string   `json:"summary"`
	Takeaways []string `json:"takeaways"`
}

// Report synthesizes the analyses into the run's report through the
// complex-task backend.
func (r *Runner) Report(ctx context.Context, req ReportRequest) (*runstate.Report, error) {
	if len(req.Entries) == 0 {
		return nil, &errs.InputValidationError{Field: "entries", Message: "report needs at least one analysis"}
	}
	msgs, err := r.reportMessages(req)
	if err != nil {
		return nil, err
	}

	var out reportOutput
	err = r.infer(ctx, call{
		runID:  req.RunID,
		stage:  runstate.StageReport,
		task:   router.TaskReport,
		budget: r.cfg.TokenBudgetReport,
		msgs:   msgs,
	}, func(raw string) error {
		var o reportOutput
		if err := decodeJSON(raw, &o); err != nil {
			return &errs.InferenceError{Op: "report", Message: "malformed report JSON", Err: err}
		}
		if strings.TrimSpace(o.Summary) == "" {
			return &errs.InferenceError{Op: "report", Message: "report has no summary"}
		}
		out = o
		return nil
	})
	if err != nil {
		return nil, err
	}

	rep := &runstate.Report{
		Title:     strings.TrimSpace(out.Title),
		Summary:   strings.TrimSpace(out.Summary),
		Takeaways: nonEmpty(out.Takeaways),
		Failed:    req.Failed,
		CreatedAt: time.Now().UTC().Format(time.RFC3339),
	}
	if rep.Title == "" {
		rep.Title = fmt.Sprintf("r/%s: %s", req.Subreddit, req.Query)
	}
	base := strings.TrimRight(r.cfg.Reddit.BaseURL, "/")
	for _, e := range req.Entries {
		rep.Analyses = append(rep.Analyses, e.Analysis)
		rep.References = append(rep.References, runstate.Reference{
			PostID: e.Post.ID,
			Title:  e.Post.Title,
			URL:    base + e.Post.Permalink,
		})
	}
	r.logf("report written: %q", rep.Title)
	return rep, nil
}

// reportMessages lays out the system instructions, one message per analysis
// and the pinned task.
func (r *Runner) reportMessages(req ReportRequest) ([]tokens.Message, error) {
	system, err := r.prompts.Render(prompt.ReportSystem, prompt.Vars{})
	if err != nil {
		return nil, err
	}
	failed := ""
	if len(req.Failed) > 0 {
		failed = strconv.Itoa(len(req.Failed))
	}
	task, err := r.prompts.Render(prompt.ReportTask, prompt.Vars{
		"query":          req.Query,
		"subreddit":      req.Subreddit,
		"analysis_count": strconv.Itoa(len(req.Entries)),
		"failed_count":   failed,
	})
	if err != nil {
		return nil, err
	}

	msgs := []tokens.Message{{Role: tokens.RoleSystem, Content: system}}
	for i, e := range req.Entries {
		msgs = append(msgs, tokens.Message{Role: tokens.RoleUser, Content: formatAnalysis(i+1, e)})
	}
	msgs = append(msgs, tokens.Message{Role: tokens.RoleUser, Content: task, Pinned: true})
	return msgs, nil
}

func formatAnalysis(n int, e ReportEntry) string {
	var b strings.Builder
	fmt.Fprintf(&b, "ANALYSIS %d: %s (score %d, %d comments)\n", n, e.Post.Title, e.Post.Score, e.Post.NumComments)
	fmt.Fprintf(&b, "Summary: %s\n", e.Analysis.Summary)
	if len(e.Analysis.KeyTakeaways) > 0 {
		b.WriteString("Key takeaways:\n")
		for _, t := range e.Analysis.KeyTakeaways {
			fmt.Fprintf(&b, "- %s\n", t)
		}
	}
	if len(e.Analysis.Topics) > 0 {
		fmt.Fprintf(&b, "Topics: %s\n", strings.Join(e.Analysis.Topics, ", "))
	}
	if len(e.Analysis.Controversies) > 0 {
		fmt.Fprintf(&b, "Controversies: %s\n", strings.Join(e.Analysis.Controversies, "; "))
	}
	fmt.Fprintf(&b, "Sentiment: %s (confidence %.2f)", e.Analysis.Sentiment, e.Analysis.Confidence)
	return b.String()
}
