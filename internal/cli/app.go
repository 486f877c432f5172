package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/lucasnoah/agentgist/internal/config"
	"github.com/lucasnoah/agentgist/internal/db"
	"github.com/lucasnoah/agentgist/internal/embed"
	"github.com/lucasnoah/agentgist/internal/llm"
	"github.com/lucasnoah/agentgist/internal/logging"
	"github.com/lucasnoah/agentgist/internal/notify"
	"github.com/lucasnoah/agentgist/internal/orchestrator"
	"github.com/lucasnoah/agentgist/internal/prompt"
	"github.com/lucasnoah/agentgist/internal/reddit"
	"github.com/lucasnoah/agentgist/internal/router"
	"github.com/lucasnoah/agentgist/internal/runstate"
	"github.com/lucasnoah/agentgist/internal/stage"
)

// app holds the components a command works with.
type app struct {
	cfg      *config.Config
	log      zerolog.Logger
	store    *runstate.Store
	db       *db.DB
	notifier *notify.Redis
	runner   *stage.Runner
	orch     *orchestrator.Orchestrator
}

// loadConfig loads --config, or the first config found in the default
// locations, and applies --log-level.
func loadConfig() (*config.Config, error) {
	var (
		cfg *config.Config
		err error
	)
	if configPath != "" {
		cfg, err = config.Load(configPath)
	} else {
		cfg, _, err = config.LoadDefault()
	}
	if err != nil {
		return nil, err
	}
	if logLevel != "" {
		cfg.LogLevel = logLevel
	}
	return cfg, nil
}

func openStore(cfg *config.Config) (*runstate.Store, error) {
	dir := stateDir
	if dir == "" {
		dir = cfg.StateDir
	}
	if dir == "" {
		return runstate.DefaultStore()
	}
	return runstate.NewStore(dir), nil
}

func openDB(cfg *config.Config) (*db.DB, error) {
	dsn := dbURL
	if dsn == "" {
		dsn = cfg.DatabaseURL
	}
	if dsn == "" {
		var err error
		if dsn, err = db.DefaultDBPath(); err != nil {
			return nil, fmt.Errorf("db path: %w", err)
		}
	}
	d, err := db.Open(dsn)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	if err := d.Migrate(); err != nil {
		d.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return d, nil
}

// newApp wires the full stack: config, logging, run store, event log,
// notifications, stage runner and orchestrator. The returned func releases
// everything.
func newApp(cmd *cobra.Command) (*app, func(), error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, nil, err
	}
	if verrs := config.Validate(cfg); len(verrs) > 0 {
		msgs := make([]string, len(verrs))
		for i, e := range verrs {
			msgs[i] = e.Error()
		}
		return nil, nil, fmt.Errorf("invalid configuration:\n  - %s", strings.Join(msgs, "\n  - "))
	}

	logFile := cfg.LogFile
	if logFile == "" {
		logFile, _ = logging.DefaultLogFile()
	}
	logger, closeLog, err := logging.New(logging.Options{Level: cfg.LogLevel, File: logFile, Console: cmd.ErrOrStderr()})
	if err != nil {
		return nil, nil, err
	}

	a := &app{cfg: cfg, log: logger}
	closers := []func() error{closeLog}
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			_ = closers[i]()
		}
	}

	if a.store, err = openStore(cfg); err != nil {
		cleanup()
		return nil, nil, err
	}
	if a.db, err = openDB(cfg); err != nil {
		cleanup()
		return nil, nil, err
	}
	closers = append(closers, a.db.Close)

	var notifier notify.Notifier
	if cfg.Redis.Addr != "" {
		r, err := notify.NewRedis(cfg.Redis)
		if err != nil {
			logger.Warn().Err(err).Str("addr", cfg.Redis.Addr).Msg("notifications disabled")
		} else {
			a.notifier = r
			notifier = r
			closers = append(closers, r.Close)
		}
	}

	hc := &http.Client{}
	a.runner, err = stage.New(stage.Deps{
		Config:   cfg,
		Router:   router.New(cfg),
		Fetcher:  reddit.New(cfg.Reddit, hc),
		Embedder: embed.NewOllama(cfg.Embedding, hc),
		LLM:      llm.New(hc),
		Prompts:  prompt.NewSet(cfg.PromptDir),
		Calls:    a.db,
		Saver:    a.store,
	})
	if err != nil {
		cleanup()
		return nil, nil, err
	}
	a.orch = orchestrator.New(a.store, a.runner, a.db, notifier, cfg, logger)
	return a, cleanup, nil
}

// resolveRun expands a run id prefix.
func (a *app) resolveRun(arg string) (string, error) {
	return a.store.Resolve(arg)
}

func writeJSON(w io.Writer, v interface{}) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal json: %w", err)
	}
	_, err = fmt.Fprintln(w, string(data))
	return err
}

func isJSON(cmd *cobra.Command) bool {
	format, _ := cmd.Flags().GetString("format")
	return format == "json"
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
