// Package web serves the HTTP API for runs: starting and advancing them,
// answering a pending selection from a browser or script, streaming state
// changes and exposing Prometheus metrics.
package web

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/lucasnoah/agentgist/internal/db"
	"github.com/lucasnoah/agentgist/internal/orchestrator"
	"github.com/lucasnoah/agentgist/internal/runstate"
)

// Runs is the orchestrator surface the API drives.
type Runs interface {
	Start(ctx context.Context, opts orchestrator.StartOpts) (*runstate.RunState, error)
	Advance(ctx context.Context, runID string) (*orchestrator.AdvanceResult, error)
	RunUntilPause(ctx context.Context, runID string) (*orchestrator.AdvanceResult, error)
	Resume(ctx context.Context, opts orchestrator.ResumeOpts) (*orchestrator.AdvanceResult, error)
	Cancel(ctx context.Context, runID, reason string) (*orchestrator.AdvanceResult, error)
	Remove(runID string, force bool) error
	Serialize(rs *runstate.RunState) ([]byte, error)
	Import(data []byte) (*runstate.RunState, error)
}

// EventSource reads the run event log. It may be nil.
type EventSource interface {
	GetRunEvents(runID string) ([]db.RunEvent, error)
	RecentRunEvents(limit int) ([]db.RunEvent, error)
}

// Server is the HTTP API server.
type Server struct {
	store  *runstate.Store
	runs   Runs
	events EventSource
	log    zerolog.Logger
	addr   string

	// pollInterval is how often stream handlers re-read a run.
	pollInterval time.Duration
}

// NewServer creates a Server listening on addr.
func NewServer(store *runstate.Store, runs Runs, events EventSource, log zerolog.Logger, addr string) *Server {
	return &Server{
		store:        store,
		runs:         runs,
		events:       events,
		log:          log,
		addr:         addr,
		pollInterval: 2 * time.Second,
	}
}

// Handler builds the gin engine with middleware and routes registered.
func (s *Server) Handler() http.Handler {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(requestID(), s.logging(), s.recovery())

	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	api := r.Group("/api/v1")
	api.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"ok": true})
	})
	api.GET("/runs", s.listRuns)
	api.POST("/runs", s.startRun)
	api.POST("/runs/import", s.importRun)
	api.GET("/runs/:id", s.getRun)
	api.DELETE("/runs/:id", s.deleteRun)
	api.POST("/runs/:id/advance", s.advanceRun)
	api.GET("/runs/:id/interrupt", s.getInterrupt)
	api.POST("/runs/:id/resume", s.resumeRun)
	api.POST("/runs/:id/cancel", s.cancelRun)
	api.GET("/runs/:id/report", s.getReport)
	api.GET("/runs/:id/prompts/:stage/:name", s.getPrompt)
	api.GET("/runs/:id/events", s.runEvents)
	api.GET("/runs/:id/export", s.exportRun)
	api.GET("/runs/:id/stream", s.streamRun)
	api.GET("/events", s.recentEvents)
	return r
}

// Start serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Start(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.log.Info().Str("addr", s.addr).Msg("gist API listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	return <-errCh
}
