package orchestrator

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/lucasnoah/agentgist/internal/errs"
	"github.com/lucasnoah/agentgist/internal/metrics"
	"github.com/lucasnoah/agentgist/internal/notify"
	"github.com/lucasnoah/agentgist/internal/runstate"
	"github.com/lucasnoah/agentgist/internal/stage"
)

func (o *Orchestrator) stepAnalyze(ctx context.Context, rs *runstate.RunState, res *AdvanceResult) (*AdvanceResult, error) {
	res.Stage = runstate.StageAnalyze
	start := o.now()

	outcomes, err := o.analyzeSelection(ctx, rs)
	if err != nil {
		if ctx.Err() != nil {
			return nil, err
		}
		return o.fail(ctx, rs, res, "analysis aborted: "+err.Error(), err), nil
	}

	ok := 0
	for _, oc := range outcomes {
		if !oc.Failed {
			ok++
		}
	}
	if ok == 0 {
		return o.fail(ctx, rs, res, fmt.Sprintf("none of the %d selected posts could be analyzed", len(outcomes)), nil), nil
	}

	o.complete(rs, runstate.StageResult{Stage: runstate.StageAnalyze, Analyses: outcomes}, start)
	rs.State = runstate.StateReporting
	res.State = rs.State
	res.Action = ActionRanStage
	res.Message = fmt.Sprintf("analyzed %d of %d posts", ok, len(outcomes))
	return res, nil
}

// analyzeSelection analyzes the selected posts concurrently, bounded by
// max_concurrent_analyses. Outcomes are in selection order. A post that fails
// gets a failure marker; only configuration errors and cancellation abort the
// whole stage.
func (o *Orchestrator) analyzeSelection(ctx context.Context, rs *runstate.RunState) ([]runstate.AnalysisOutcome, error) {
	outcomes := make([]runstate.AnalysisOutcome, len(rs.Selection))

	limit := o.cfg.MaxConcurrentAnalyses
	if limit < 1 {
		limit = 1
	}
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(limit)

	for i, id := range rs.Selection {
		i, id := i, id
		post, found := rs.Post(id)
		g.Go(func() error {
			if !found {
				outcomes[i] = runstate.AnalysisOutcome{PostID: id, Failed: true, Error: "post not found in fetched posts"}
				return nil
			}
			a, err := o.runner.Analyze(gctx, stage.AnalyzeRequest{
				RunID:     rs.ID,
				Subreddit: rs.Subreddit,
				Query:     rs.Query,
				Post:      post,
			})
			if err != nil {
				if errs.IsFatal(err) || ctx.Err() != nil {
					return err
				}
				o.log.Warn().Err(err).Str("run_id", rs.ID).Str("post", id).Msg("post analysis failed")
				outcomes[i] = runstate.AnalysisOutcome{PostID: id, Failed: true, Error: err.Error()}
				return nil
			}
			outcomes[i] = runstate.AnalysisOutcome{PostID: id, Analysis: a}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return outcomes, nil
}

func (o *Orchestrator) stepReport(ctx context.Context, rs *runstate.RunState, res *AdvanceResult) (*AdvanceResult, error) {
	res.Stage = runstate.StageReport
	start := o.now()

	req := stage.ReportRequest{RunID: rs.ID, Subreddit: rs.Subreddit, Query: rs.Query}
	for _, oc := range rs.Analyses() {
		post, _ := rs.Post(oc.PostID)
		if oc.Failed || oc.Analysis == nil {
			req.Failed = append(req.Failed, runstate.FailedPost{PostID: oc.PostID, Title: post.Title, Reason: oc.Error})
			continue
		}
		req.Entries = append(req.Entries, stage.ReportEntry{Post: post, Analysis: *oc.Analysis})
	}

	report, err := o.runner.Report(ctx, req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, err
		}
		return o.fail(ctx, rs, res, "report failed: "+err.Error(), err), nil
	}

	o.complete(rs, runstate.StageResult{Stage: runstate.StageReport, Report: report}, start)
	rs.State = runstate.StateDone
	res.State = rs.State
	res.Action = ActionCompleted
	res.Report = report
	res.Message = fmt.Sprintf("report ready: %s", report.Title)

	metrics.RunsFinished.WithLabelValues(string(runstate.StateDone)).Inc()
	o.event(rs, "completed", runstate.StageReport, "", 0)
	o.notify(ctx, rs, notify.EventCompleted, 0, report.Title)
	o.log.Info().Str("run_id", rs.ID).Int("analyses", len(report.Analyses)).Int("failed", len(report.Failed)).Msg("run completed")
	return res, nil
}
