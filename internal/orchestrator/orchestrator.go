// Package orchestrator drives digest runs through their states: fetch, filter,
// wait for a human selection, analyze and report. Every operation loads the
// run from the store, performs at most one transition and persists it, so a
// run suspended for a human survives process restarts.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/lucasnoah/agentgist/internal/config"
	"github.com/lucasnoah/agentgist/internal/db"
	"github.com/lucasnoah/agentgist/internal/errs"
	"github.com/lucasnoah/agentgist/internal/metrics"
	"github.com/lucasnoah/agentgist/internal/notify"
	"github.com/lucasnoah/agentgist/internal/runstate"
	"github.com/lucasnoah/agentgist/internal/stage"
)

// StageRunner executes the individual stages.
type StageRunner interface {
	Fetch(ctx context.Context, req stage.FetchRequest) ([]runstate.Post, error)
	Filter(ctx context.Context, req stage.FilterRequest) (stage.FilterResult, error)
	Analyze(ctx context.Context, req stage.AnalyzeRequest) (*runstate.Analysis, error)
	Report(ctx context.Context, req stage.ReportRequest) (*runstate.Report, error)
}

// EventLog records run lifecycle events.
type EventLog interface {
	LogRunEvent(e db.RunEvent) error
}

// eventPurger is implemented by event logs that can forget a run.
type eventPurger interface {
	DeleteRun(runID string) error
}

// errNoChange aborts a store update that would not modify the run.
var errNoChange = errors.New("no change")

// Orchestrator composes run lifecycle operations.
type Orchestrator struct {
	store    *runstate.Store
	runner   StageRunner
	events   EventLog
	notifier notify.Notifier
	cfg      *config.Config
	log      zerolog.Logger
	now      func() time.Time
}

// New creates an Orchestrator. events and notifier may be nil.
func New(
	store *runstate.Store,
	runner StageRunner,
	events EventLog,
	notifier notify.Notifier,
	cfg *config.Config,
	log zerolog.Logger,
) *Orchestrator {
	return &Orchestrator{
		store:    store,
		runner:   runner,
		events:   events,
		notifier: notifier,
		cfg:      cfg,
		log:      log,
		now:      time.Now,
	}
}

// Advance actions.
const (
	ActionRanStage      = "ran_stage"
	ActionAwaitingHuman = "awaiting_human"
	ActionResumed       = "resumed"
	ActionCompleted     = "completed"
	ActionFailed        = "failed"
	ActionNoop          = "noop"
)

// AdvanceResult describes what an operation did to a run.
type AdvanceResult struct {
	RunID     string              `json:"run_id"`
	Action    string              `json:"action"`
	State     runstate.State      `json:"state"`
	PrevState runstate.State      `json:"prev_state"`
	Stage     string              `json:"stage,omitempty"`
	Message   string              `json:"message,omitempty"`
	Interrupt *runstate.Interrupt `json:"interrupt,omitempty"`
	Report    *runstate.Report    `json:"report,omitempty"`
	// Err is the stage error that failed the run, if any.
	Err error `json:"-"`
}

// StartOpts holds options for starting a run.
type StartOpts struct {
	Subreddit  string
	Query      string
	FetchLimit int
}

// Start validates opts and creates a run in FETCHING. Nothing is fetched
// until the first Advance.
func (o *Orchestrator) Start(ctx context.Context, opts StartOpts) (*runstate.RunState, error) {
	query := strings.TrimSpace(opts.Query)
	if query == "" {
		return nil, &errs.InputValidationError{Field: "query", Message: "must not be empty"}
	}
	if opts.FetchLimit <= 0 {
		return nil, &errs.InputValidationError{Field: "fetch_limit", Message: fmt.Sprintf("must be positive, got %d", opts.FetchLimit)}
	}
	sub, err := runstate.NormalizeSubreddit(opts.Subreddit)
	if err != nil {
		return nil, err
	}

	rs := runstate.New(sub, query, opts.FetchLimit, o.now())
	if err := o.store.Create(rs); err != nil {
		return nil, fmt.Errorf("create run: %w", err)
	}
	metrics.RunsStarted.Inc()
	o.event(rs, "created", "", fmt.Sprintf("r/%s limit=%d", sub, opts.FetchLimit), 0)
	o.log.Info().Str("run_id", rs.ID).Str("subreddit", sub).Str("query", query).Msg("run created")
	return rs, nil
}

// Advance runs the run's current stage and persists the transition.
func (o *Orchestrator) Advance(ctx context.Context, runID string) (*AdvanceResult, error) {
	unlock, err := o.store.Lock(runID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	rs, err := o.store.Get(runID)
	if err != nil {
		return nil, fmt.Errorf("get run: %w", err)
	}
	res, err := o.Step(ctx, rs)
	if err != nil {
		return nil, err
	}
	if res.State != res.PrevState {
		if err := o.store.Save(rs); err != nil {
			return nil, fmt.Errorf("save run: %w", err)
		}
	}
	return res, nil
}

// RunUntilPause advances runID until it waits for a human or terminates.
func (o *Orchestrator) RunUntilPause(ctx context.Context, runID string) (*AdvanceResult, error) {
	var res *AdvanceResult
	for {
		var err error
		res, err = o.Advance(ctx, runID)
		if err != nil {
			return nil, err
		}
		if res.State == runstate.StateAwaitingHuman || res.State.Terminal() {
			return res, nil
		}
	}
}

// Step performs one transition on rs in memory. It never blocks on a human:
// reaching FILTERING's end suspends the run with an Interrupt and returns.
// When ctx is cancelled mid-stage it returns the error and leaves rs as it was.
func (o *Orchestrator) Step(ctx context.Context, rs *runstate.RunState) (*AdvanceResult, error) {
	res := &AdvanceResult{RunID: rs.ID, PrevState: rs.State, State: rs.State}

	switch rs.State {
	case runstate.StateFetching:
		return o.stepFetch(ctx, rs, res)
	case runstate.StateFiltering:
		return o.stepFilter(ctx, rs, res)
	case runstate.StateAwaitingHuman:
		res.Action = ActionAwaitingHuman
		res.Stage = runstate.StageFilter
		res.Interrupt = rs.Interrupt
		res.Message = "waiting for a human selection"
		return res, nil
	case runstate.StateAnalyzing:
		return o.stepAnalyze(ctx, rs, res)
	case runstate.StateReporting:
		return o.stepReport(ctx, rs, res)
	case runstate.StateDone:
		res.Action = ActionNoop
		res.Report = rs.Report()
		res.Message = "run already completed"
		return res, nil
	case runstate.StateFailed:
		res.Action = ActionNoop
		res.Message = "run failed: " + rs.Failure
		return res, nil
	default:
		return nil, fmt.Errorf("run %s has unknown state %q", rs.ID, rs.State)
	}
}

func (o *Orchestrator) stepFetch(ctx context.Context, rs *runstate.RunState, res *AdvanceResult) (*AdvanceResult, error) {
	res.Stage = runstate.StageFetch
	start := o.now()
	posts, err := o.runner.Fetch(ctx, stage.FetchRequest{RunID: rs.ID, Subreddit: rs.Subreddit, Limit: rs.FetchLimit})
	if err != nil {
		if ctx.Err() != nil {
			return nil, err
		}
		return o.fail(ctx, rs, res, "fetch failed: "+err.Error(), err), nil
	}
	if len(posts) == 0 {
		return o.fail(ctx, rs, res, fmt.Sprintf("no posts fetched from r/%s", rs.Subreddit), nil), nil
	}

	o.complete(rs, runstate.StageResult{Stage: runstate.StageFetch, Posts: posts}, start)
	rs.State = runstate.StateFiltering
	res.State = rs.State
	res.Action = ActionRanStage
	res.Message = fmt.Sprintf("fetched %d posts", len(posts))
	return res, nil
}

func (o *Orchestrator) stepFilter(ctx context.Context, rs *runstate.RunState, res *AdvanceResult) (*AdvanceResult, error) {
	res.Stage = runstate.StageFilter
	fr, err := o.runner.Filter(ctx, stage.FilterRequest{RunID: rs.ID, Query: rs.Query, Posts: rs.Posts()})
	if err != nil {
		if ctx.Err() != nil {
			return nil, err
		}
		return o.fail(ctx, rs, res, "filter failed: "+err.Error(), err), nil
	}

	in := &runstate.Interrupt{
		ID:         runstate.NewID(),
		Prompt:     interruptPrompt(rs, fr),
		Candidates: fr.Candidates,
		Ranked:     fr.Ranked,
		CreatedAt:  o.now().UTC().Format(time.RFC3339),
	}
	if in.Candidates == nil {
		in.Candidates = []runstate.Candidate{}
	}
	rs.Interrupt = in
	rs.State = runstate.StateAwaitingHuman
	res.State = rs.State
	res.Action = ActionAwaitingHuman
	res.Interrupt = in
	res.Message = fmt.Sprintf("%d candidates await selection", len(in.Candidates))

	o.event(rs, "interrupt", runstate.StageFilter, fmt.Sprintf("candidates=%d ranked=%t", len(in.Candidates), in.Ranked), 0)
	o.notify(ctx, rs, notify.EventInterrupt, len(in.Candidates), "")
	o.log.Info().Str("run_id", rs.ID).Int("candidates", len(in.Candidates)).Bool("ranked", in.Ranked).Msg("run awaiting human selection")
	return res, nil
}

func interruptPrompt(rs *runstate.RunState, fr stage.FilterResult) string {
	if len(fr.Candidates) == 0 {
		return fmt.Sprintf("No posts from r/%s matched %q closely enough. Cancel this run or start a new one with a lower similarity threshold.", rs.Subreddit, rs.Query)
	}
	order := "ranked by similarity to the query"
	if !fr.Ranked {
		order = "in fetch order (similarity ranking unavailable)"
	}
	return fmt.Sprintf("Select the posts from r/%s to analyze for %q. %d candidates, %s.", rs.Subreddit, rs.Query, len(fr.Candidates), order)
}

// ResumeOpts holds options for resuming a suspended run.
type ResumeOpts struct {
	RunID     string
	Selection []string
}

// Resume applies a human selection to a suspended run and persists it.
func (o *Orchestrator) Resume(ctx context.Context, opts ResumeOpts) (*AdvanceResult, error) {
	unlock, err := o.store.Lock(opts.RunID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	rs, err := o.store.Get(opts.RunID)
	if err != nil {
		return nil, fmt.Errorf("get run: %w", err)
	}
	res, err := o.ResumeState(rs, opts.Selection)
	if err != nil {
		return nil, err
	}
	if res.State != res.PrevState {
		if err := o.store.Save(rs); err != nil {
			return nil, fmt.Errorf("save run: %w", err)
		}
	}
	return res, nil
}

// ResumeState consumes rs's Interrupt with selection and moves the run to
// ANALYZING. An invalid selection returns an InvalidSelectionError and leaves
// rs untouched. A run already past AWAITING_HUMAN is returned unchanged.
func (o *Orchestrator) ResumeState(rs *runstate.RunState, selection []string) (*AdvanceResult, error) {
	res := &AdvanceResult{RunID: rs.ID, PrevState: rs.State, State: rs.State, Stage: runstate.StageFilter}

	switch {
	case rs.State.After(runstate.StateAwaitingHuman):
		res.Action = ActionNoop
		res.Report = rs.Report()
		res.Message = fmt.Sprintf("selection already applied (state %s)", rs.State)
		return res, nil
	case rs.State != runstate.StateAwaitingHuman:
		return nil, &errs.InputValidationError{Field: "state", Message: fmt.Sprintf("run %s has no pending selection (state %s)", rs.ID, rs.State)}
	}

	if err := validateSelection(selection, rs.Interrupt); err != nil {
		return nil, err
	}

	sel := append([]string(nil), selection...)
	rs.Results = append(rs.Results, runstate.StageResult{
		Stage:       runstate.StageFilter,
		CompletedAt: o.now().UTC().Format(time.RFC3339),
		Candidates:  rs.Interrupt.Candidates,
		Selection:   sel,
	})
	rs.Selection = sel
	rs.Interrupt = nil
	rs.State = runstate.StateAnalyzing

	res.State = rs.State
	res.Action = ActionResumed
	res.Message = fmt.Sprintf("%d posts selected for analysis", len(sel))
	o.event(rs, "resumed", runstate.StageFilter, "selected="+strings.Join(sel, ","), 0)
	o.log.Info().Str("run_id", rs.ID).Strs("selection", sel).Msg("run resumed")
	return res, nil
}

// validateSelection requires a non-empty, duplicate-free subset of the
// interrupt's candidates.
func validateSelection(selection []string, in *runstate.Interrupt) error {
	if len(selection) == 0 {
		return &errs.InvalidSelectionError{Reason: "selection is empty; cancel the run to decline"}
	}
	candidates := make(map[string]bool, len(in.Candidates))
	for _, id := range in.CandidateIDs() {
		candidates[id] = true
	}

	seen := make(map[string]bool, len(selection))
	var unknown, dupes []string
	for _, id := range selection {
		if seen[id] {
			dupes = append(dupes, id)
			continue
		}
		seen[id] = true
		if !candidates[id] {
			unknown = append(unknown, id)
		}
	}
	if len(unknown) > 0 {
		return &errs.InvalidSelectionError{IDs: unknown, Reason: "not among the candidates"}
	}
	if len(dupes) > 0 {
		return &errs.InvalidSelectionError{IDs: dupes, Reason: "selected more than once"}
	}
	return nil
}

// Cancel moves a non-terminal run to FAILED with reason "cancelled". This is
// the explicit decline signal for a pending selection.
func (o *Orchestrator) Cancel(ctx context.Context, runID, reason string) (*AdvanceResult, error) {
	unlock, err := o.store.Lock(runID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	res := &AdvanceResult{RunID: runID}
	rs, err := o.store.Update(runID, func(rs *runstate.RunState) error {
		res.PrevState, res.State = rs.State, rs.State
		if rs.State.Terminal() {
			return errNoChange
		}
		rs.FailedIn = rs.State
		rs.State = runstate.StateFailed
		rs.Failure = "cancelled"
		rs.Interrupt = nil
		return nil
	})
	if errors.Is(err, errNoChange) {
		res.Action = ActionNoop
		res.Message = fmt.Sprintf("run already %s", res.State)
		return res, nil
	}
	if err != nil {
		return nil, fmt.Errorf("cancel run: %w", err)
	}

	res.State = rs.State
	res.Action = ActionFailed
	res.Message = "run cancelled"
	metrics.RunsFinished.WithLabelValues(string(runstate.StateFailed)).Inc()
	o.event(rs, "cancelled", "", reason, 0)
	o.notify(ctx, rs, notify.EventCancelled, 0, reason)
	o.log.Info().Str("run_id", rs.ID).Str("reason", reason).Msg("run cancelled")
	return res, nil
}

// Remove deletes a run with its saved prompts and logged events. Runs that
// have not reached DONE or FAILED are kept unless force is set.
func (o *Orchestrator) Remove(runID string, force bool) error {
	unlock, err := o.store.Lock(runID)
	if err != nil {
		return err
	}
	defer unlock()

	rs, err := o.store.Get(runID)
	if err != nil {
		return fmt.Errorf("get run: %w", err)
	}
	if !rs.State.Terminal() && !force {
		return &errs.InputValidationError{Field: "run_id", Message: fmt.Sprintf("run %s is still %s; cancel it first or force removal", rs.ID, rs.State)}
	}
	if err := o.store.Delete(rs.ID); err != nil {
		return fmt.Errorf("delete run: %w", err)
	}
	if p, ok := o.events.(eventPurger); ok {
		if err := p.DeleteRun(rs.ID); err != nil {
			o.log.Warn().Err(err).Str("run_id", rs.ID).Msg("purge run events failed")
		}
	}
	o.log.Info().Str("run_id", rs.ID).Str("state", string(rs.State)).Msg("run removed")
	return nil
}

// Serialize returns the persisted form of rs.
func (o *Orchestrator) Serialize(rs *runstate.RunState) ([]byte, error) {
	return runstate.Marshal(rs)
}

// Deserialize rebuilds a RunState from Serialize output.
func (o *Orchestrator) Deserialize(data []byte) (*runstate.RunState, error) {
	return runstate.Unmarshal(data)
}

// Import stores a serialized run under its own id so it can be advanced or
// resumed by this process.
func (o *Orchestrator) Import(data []byte) (*runstate.RunState, error) {
	rs, err := o.Deserialize(data)
	if err != nil {
		return nil, err
	}
	if err := o.store.Create(rs); err != nil {
		return nil, fmt.Errorf("import run: %w", err)
	}
	o.event(rs, "imported", "", "", 0)
	return rs, nil
}

// CheckInResult summarizes a CheckIn pass.
type CheckInResult struct {
	Advanced int      `json:"advanced"`
	Awaiting int      `json:"awaiting"`
	Skipped  int      `json:"skipped"`
	Errors   []string `json:"errors,omitempty"`
}

// CheckIn advances every unattended non-terminal run until it pauses. Runs
// locked by another process are skipped.
func (o *Orchestrator) CheckIn(ctx context.Context) (*CheckInResult, error) {
	runs, err := o.store.List("")
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}

	out := &CheckInResult{}
	for _, rs := range runs {
		if rs.State.Terminal() {
			continue
		}
		if rs.State == runstate.StateAwaitingHuman {
			out.Awaiting++
			continue
		}
		res, err := o.RunUntilPause(ctx, rs.ID)
		switch {
		case errors.Is(err, runstate.ErrLocked):
			out.Skipped++
		case err != nil:
			if ctx.Err() != nil {
				return out, ctx.Err()
			}
			out.Errors = append(out.Errors, fmt.Sprintf("%s: %v", rs.ID, err))
		default:
			out.Advanced++
			if res.State == runstate.StateAwaitingHuman {
				out.Awaiting++
			}
		}
	}
	metrics.AwaitingHuman.Set(float64(out.Awaiting))
	return out, nil
}

// --- Helpers ---

// complete appends a finished stage result and records its duration.
func (o *Orchestrator) complete(rs *runstate.RunState, sr runstate.StageResult, start time.Time) {
	end := o.now()
	d := end.Sub(start)
	sr.CompletedAt = end.UTC().Format(time.RFC3339)
	sr.Duration = d.String()
	rs.Results = append(rs.Results, sr)
	metrics.ObserveStage(sr.Stage, d)
	o.event(rs, "stage_completed", sr.Stage, "", d.Milliseconds())
}

// fail moves rs to FAILED. cause may be nil when the failure is not an error
// from a collaborator, such as an empty fetch.
func (o *Orchestrator) fail(ctx context.Context, rs *runstate.RunState, res *AdvanceResult, reason string, cause error) *AdvanceResult {
	rs.FailedIn = rs.State
	rs.State = runstate.StateFailed
	rs.Failure = reason
	rs.Interrupt = nil

	res.State = rs.State
	res.Action = ActionFailed
	res.Message = reason
	res.Err = cause
	if res.Err == nil {
		res.Err = errors.New(reason)
	}

	metrics.RunsFinished.WithLabelValues(string(runstate.StateFailed)).Inc()
	o.event(rs, "failed", res.Stage, reason, 0)
	o.notify(ctx, rs, notify.EventFailed, 0, reason)
	o.log.Warn().Str("run_id", rs.ID).Str("failed_in", string(rs.FailedIn)).Str("reason", reason).Msg("run failed")
	return res
}

func (o *Orchestrator) event(rs *runstate.RunState, name, stageName, detail string, durationMs int64) {
	if o.events == nil {
		return
	}
	if err := o.events.LogRunEvent(db.RunEvent{
		RunID:      rs.ID,
		Event:      name,
		State:      string(rs.State),
		Stage:      stageName,
		Detail:     detail,
		DurationMs: durationMs,
	}); err != nil {
		o.log.Warn().Err(err).Str("run_id", rs.ID).Str("event", name).Msg("logging run event failed")
	}
}

func (o *Orchestrator) notify(ctx context.Context, rs *runstate.RunState, kind string, candidates int, detail string) {
	if o.notifier == nil {
		return
	}
	err := o.notifier.Notify(context.WithoutCancel(ctx), notify.Event{
		RunID:      rs.ID,
		Kind:       kind,
		State:      string(rs.State),
		Subreddit:  rs.Subreddit,
		Query:      rs.Query,
		Candidates: candidates,
		Detail:     detail,
		Time:       o.now(),
	})
	if err != nil {
		o.log.Warn().Err(err).Str("run_id", rs.ID).Str("kind", kind).Msg("notification failed")
	}
}
