// Package runstate holds the persisted state of digest runs and the
// file-backed store that keeps it across suspend and resume.
package runstate

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/lucasnoah/agentgist/internal/errs"
)

// CurrentVersion is the serialization version written by this build.
const CurrentVersion = 1

// NewID returns a fresh run identifier.
func NewID() string {
	return uuid.NewString()
}

// New returns a run in FETCHING with a fresh identifier.
func New(subreddit, query string, fetchLimit int, now time.Time) *RunState {
	ts := now.UTC().Format(time.RFC3339)
	return &RunState{
		Version:    CurrentVersion,
		ID:         NewID(),
		Subreddit:  subreddit,
		Query:      query,
		FetchLimit: fetchLimit,
		State:      StateFetching,
		Results:    []StageResult{},
		CreatedAt:  ts,
		UpdatedAt:  ts,
	}
}

var subredditName = regexp.MustCompile(`^[A-Za-z0-9_]{2,21}$`)

// NormalizeSubreddit accepts "golang", "r/golang" or "/r/golang/" and returns
// the bare name.
func NormalizeSubreddit(s string) (string, error) {
	name := strings.TrimSpace(s)
	name = strings.Trim(name, "/")
	name = strings.TrimPrefix(name, "r/")
	if !subredditName.MatchString(name) {
		return "", &errs.InputValidationError{Field: "subreddit", Message: fmt.Sprintf("invalid subreddit name %q", s)}
	}
	return name, nil
}

// Result returns the most recent result recorded for stage, or nil.
func (rs *RunState) Result(stage string) *StageResult {
	for i := len(rs.Results) - 1; i >= 0; i-- {
		if rs.Results[i].Stage == stage {
			return &rs.Results[i]
		}
	}
	return nil
}

// Posts returns the fetched posts, or nil before the fetch stage completed.
func (rs *RunState) Posts() []Post {
	if r := rs.Result(StageFetch); r != nil {
		return r.Posts
	}
	return nil
}

// Post looks up a fetched post by id.
func (rs *RunState) Post(id string) (Post, bool) {
	for _, p := range rs.Posts() {
		if p.ID == id {
			return p, true
		}
	}
	return Post{}, false
}

// Analyses returns the per-post outcomes, in selection order.
func (rs *RunState) Analyses() []AnalysisOutcome {
	if r := rs.Result(StageAnalyze); r != nil {
		return r.Analyses
	}
	return nil
}

// Report returns the final report, or nil when the run has not finished.
func (rs *RunState) Report() *Report {
	if r := rs.Result(StageReport); r != nil {
		return r.Report
	}
	return nil
}
