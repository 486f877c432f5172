package web

import (
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/lucasnoah/agentgist/internal/errs"
	"github.com/lucasnoah/agentgist/internal/orchestrator"
	"github.com/lucasnoah/agentgist/internal/runstate"
)

// ErrorBody is the error object of every failed request.
type ErrorBody struct {
	Code    string      `json:"code"`
	Message string      `json:"message"`
	Details interface{} `json:"details,omitempty"`
}

// ErrorResponse wraps ErrorBody.
type ErrorResponse struct {
	Error ErrorBody `json:"error"`
}

func respondError(c *gin.Context, status int, code, message string, details interface{}) {
	c.AbortWithStatusJSON(status, ErrorResponse{Error: ErrorBody{Code: code, Message: message, Details: details}})
}

// respondErr maps an orchestrator or store error to a status code.
func respondErr(c *gin.Context, err error) {
	var sel *errs.InvalidSelectionError
	var input *errs.InputValidationError
	switch {
	case errors.As(err, &sel):
		respondError(c, http.StatusUnprocessableEntity, "invalid_selection", err.Error(), sel.IDs)
	case errors.As(err, &input):
		respondError(c, http.StatusBadRequest, "invalid_input", err.Error(), nil)
	case errors.Is(err, runstate.ErrNotFound):
		respondError(c, http.StatusNotFound, "not_found", err.Error(), nil)
	case errors.Is(err, runstate.ErrLocked):
		respondError(c, http.StatusConflict, "locked", err.Error(), nil)
	case errors.Is(err, c.Request.Context().Err()):
		respondError(c, 499, "cancelled", "request cancelled", nil)
	default:
		respondError(c, http.StatusInternalServerError, "internal", err.Error(), nil)
	}
}

// runView is the summary of a run returned by the API. The full state,
// including fetched posts, is available from the export route.
type runView struct {
	ID         string              `json:"id"`
	Subreddit  string              `json:"subreddit"`
	Query      string              `json:"query"`
	FetchLimit int                 `json:"fetch_limit"`
	State      runstate.State      `json:"state"`
	Stages     []string            `json:"completed_stages"`
	Posts      int                 `json:"posts"`
	Selection  []string            `json:"selection,omitempty"`
	Interrupt  *runstate.Interrupt `json:"interrupt,omitempty"`
	Failure    string              `json:"failure,omitempty"`
	FailedIn   runstate.State      `json:"failed_in,omitempty"`
	CreatedAt  string              `json:"created_at"`
	UpdatedAt  string              `json:"updated_at"`
}

func newRunView(rs *runstate.RunState) runView {
	v := runView{
		ID:         rs.ID,
		Subreddit:  rs.Subreddit,
		Query:      rs.Query,
		FetchLimit: rs.FetchLimit,
		State:      rs.State,
		Stages:     []string{},
		Posts:      len(rs.Posts()),
		Selection:  rs.Selection,
		Interrupt:  rs.Interrupt,
		Failure:    rs.Failure,
		FailedIn:   rs.FailedIn,
		CreatedAt:  rs.CreatedAt,
		UpdatedAt:  rs.UpdatedAt,
	}
	for _, r := range rs.Results {
		v.Stages = append(v.Stages, r.Stage)
	}
	return v
}

// loadRun resolves the :id parameter, which may be a unique prefix.
func (s *Server) loadRun(c *gin.Context) (*runstate.RunState, bool) {
	id, err := s.store.Resolve(c.Param("id"))
	if err != nil {
		respondErr(c, err)
		return nil, false
	}
	rs, err := s.store.Get(id)
	if err != nil {
		respondErr(c, err)
		return nil, false
	}
	return rs, true
}

func (s *Server) resolveID(c *gin.Context) (string, bool) {
	id, err := s.store.Resolve(c.Param("id"))
	if err != nil {
		respondErr(c, err)
		return "", false
	}
	return id, true
}

func (s *Server) listRuns(c *gin.Context) {
	filter := runstate.State(c.Query("state"))
	if filter != "" && !filter.Valid() {
		respondError(c, http.StatusBadRequest, "invalid_input", "unknown state "+string(filter), nil)
		return
	}
	runs, err := s.store.List(filter)
	if err != nil {
		respondErr(c, err)
		return
	}
	out := make([]runView, 0, len(runs))
	for i := range runs {
		out = append(out, newRunView(&runs[i]))
	}
	c.JSON(http.StatusOK, gin.H{"runs": out})
}

type startRequest struct {
	Subreddit  string `json:"subreddit"`
	Query      string `json:"query"`
	FetchLimit int    `json:"fetch_limit"`
	// Advance runs the new run until it waits for a selection.
	Advance bool `json:"advance"`
}

func (s *Server) startRun(c *gin.Context) {
	var req startRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, http.StatusBadRequest, "invalid_input", "invalid JSON body: "+err.Error(), nil)
		return
	}
	rs, err := s.runs.Start(c.Request.Context(), orchestrator.StartOpts{
		Subreddit:  req.Subreddit,
		Query:      req.Query,
		FetchLimit: req.FetchLimit,
	})
	if err != nil {
		respondErr(c, err)
		return
	}
	if !req.Advance {
		c.JSON(http.StatusCreated, gin.H{"run": newRunView(rs)})
		return
	}

	res, err := s.runs.RunUntilPause(c.Request.Context(), rs.ID)
	if err != nil {
		respondErr(c, err)
		return
	}
	if rs, err = s.store.Get(rs.ID); err != nil {
		respondErr(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"run": newRunView(rs), "result": res})
}

func (s *Server) getRun(c *gin.Context) {
	rs, ok := s.loadRun(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, gin.H{"run": newRunView(rs)})
}

func (s *Server) advanceRun(c *gin.Context) {
	id, ok := s.resolveID(c)
	if !ok {
		return
	}
	var (
		res *orchestrator.AdvanceResult
		err error
	)
	if c.Query("until") == "pause" {
		res, err = s.runs.RunUntilPause(c.Request.Context(), id)
	} else {
		res, err = s.runs.Advance(c.Request.Context(), id)
	}
	if err != nil {
		respondErr(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"result": res})
}

func (s *Server) getInterrupt(c *gin.Context) {
	rs, ok := s.loadRun(c)
	if !ok {
		return
	}
	if rs.Interrupt == nil {
		respondError(c, http.StatusNotFound, "not_found", "run "+rs.ID+" has no pending selection (state "+string(rs.State)+")", nil)
		return
	}
	c.JSON(http.StatusOK, gin.H{"interrupt": rs.Interrupt})
}

type resumeRequest struct {
	Selection []string `json:"selection"`
}

func (s *Server) resumeRun(c *gin.Context) {
	id, ok := s.resolveID(c)
	if !ok {
		return
	}
	var req resumeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, http.StatusBadRequest, "invalid_input", "invalid JSON body: "+err.Error(), nil)
		return
	}
	res, err := s.runs.Resume(c.Request.Context(), orchestrator.ResumeOpts{RunID: id, Selection: req.Selection})
	if err != nil {
		respondErr(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"result": res})
}

type cancelRequest struct {
	Reason string `json:"reason"`
}

func (s *Server) cancelRun(c *gin.Context) {
	id, ok := s.resolveID(c)
	if !ok {
		return
	}
	var req cancelRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			respondError(c, http.StatusBadRequest, "invalid_input", "invalid JSON body: "+err.Error(), nil)
			return
		}
	}
	res, err := s.runs.Cancel(c.Request.Context(), id, req.Reason)
	if err != nil {
		respondErr(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"result": res})
}

func (s *Server) deleteRun(c *gin.Context) {
	id, ok := s.resolveID(c)
	if !ok {
		return
	}
	if err := s.runs.Remove(id, c.Query("force") == "true"); err != nil {
		respondErr(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"deleted": id})
}

// getPrompt returns a prompt the run sent to a model, e.g.
// /runs/:id/prompts/analyze/<post-id>.
func (s *Server) getPrompt(c *gin.Context) {
	id, ok := s.resolveID(c)
	if !ok {
		return
	}
	text, err := s.store.GetPrompt(id, c.Param("stage"), c.Param("name"))
	if err != nil {
		respondErr(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"prompt": text})
}

func (s *Server) getReport(c *gin.Context) {
	rs, ok := s.loadRun(c)
	if !ok {
		return
	}
	rep := rs.Report()
	if rep == nil {
		respondError(c, http.StatusNotFound, "not_found", "run "+rs.ID+" has no report (state "+string(rs.State)+")", nil)
		return
	}
	c.JSON(http.StatusOK, gin.H{"report": rep})
}

func (s *Server) runEvents(c *gin.Context) {
	id, ok := s.resolveID(c)
	if !ok {
		return
	}
	if s.events == nil {
		c.JSON(http.StatusOK, gin.H{"events": []interface{}{}})
		return
	}
	events, err := s.events.GetRunEvents(id)
	if err != nil {
		respondErr(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"events": events})
}

func (s *Server) recentEvents(c *gin.Context) {
	limit := 50
	if v := c.Query("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			respondError(c, http.StatusBadRequest, "invalid_input", "limit must be a positive integer", nil)
			return
		}
		limit = n
	}
	if s.events == nil {
		c.JSON(http.StatusOK, gin.H{"events": []interface{}{}})
		return
	}
	events, err := s.events.RecentRunEvents(limit)
	if err != nil {
		respondErr(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"events": events})
}

func (s *Server) exportRun(c *gin.Context) {
	rs, ok := s.loadRun(c)
	if !ok {
		return
	}
	data, err := s.runs.Serialize(rs)
	if err != nil {
		respondErr(c, err)
		return
	}
	c.Header("Content-Disposition", `attachment; filename="`+rs.ID+`.json"`)
	c.Data(http.StatusOK, "application/json", data)
}

func (s *Server) importRun(c *gin.Context) {
	data, err := io.ReadAll(io.LimitReader(c.Request.Body, 64<<20))
	if err != nil {
		respondError(c, http.StatusBadRequest, "invalid_input", "read body: "+err.Error(), nil)
		return
	}
	rs, err := s.runs.Import(data)
	if err != nil {
		respondError(c, http.StatusBadRequest, "invalid_input", err.Error(), nil)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"run": newRunView(rs)})
}
