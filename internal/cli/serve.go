package cli

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/lucasnoah/agentgist/internal/scheduler"
	"github.com/lucasnoah/agentgist/internal/web"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the HTTP API and check in on runs periodically",
	Long: `Start the JSON API (see /api/v1) with Prometheus metrics on /metrics.

Unattended runs are advanced on server.check_in_schedule (a cron expression or
a descriptor like "@every 1m"); pass --no-check-in to only serve requests.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, cleanup, err := newApp(cmd)
		if err != nil {
			return err
		}
		defer cleanup()

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		addr, _ := cmd.Flags().GetString("addr")
		if addr == "" {
			addr = a.cfg.Server.Addr
		}

		noCheckIn, _ := cmd.Flags().GetBool("no-check-in")
		if !noCheckIn && a.cfg.Server.CheckInSchedule != "" {
			sched, err := scheduler.New(a.cfg.Server.CheckInSchedule, a.orch, a.log)
			if err != nil {
				return err
			}
			sched.Start()
			defer sched.Stop()
			a.log.Info().Str("schedule", a.cfg.Server.CheckInSchedule).Msg("check-in scheduler started")
		}

		return web.NewServer(a.store, a.orch, a.db, a.log, addr).Start(ctx)
	},
}

func init() {
	serveCmd.Flags().String("addr", "", "listen address (default server.addr)")
	serveCmd.Flags().Bool("no-check-in", false, "do not advance runs on a schedule")
}
