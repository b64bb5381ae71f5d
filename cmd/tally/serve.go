package main

import (
	"context"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/bamsammich/tally/internal/config"
	"github.com/bamsammich/tally/internal/engine"
	"github.com/bamsammich/tally/internal/filter"
	"github.com/bamsammich/tally/internal/progress"
	"github.com/bamsammich/tally/internal/server"
	"github.com/bamsammich/tally/internal/stats"
)

const defaultListen = "127.0.0.1:9877"

func newServeCmd(stderr io.Writer) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the task manager behind an HTTP API",
		Long: `Run a long-lived task manager and expose it over HTTP.

Endpoints:
  POST   /api/tasks                     create a scan task {"root": "/abs/path", "priority": "high"}
  GET    /api/tasks                     list tasks
  GET    /api/tasks/{id}                show one task
  POST   /api/tasks/{id}/pause|resume|cancel
  DELETE /api/tasks                     forget finished tasks
  GET    /api/stats                     task counts and aggregated progress
  GET    /api/progress                  WebSocket stream of aggregated progress

The bound address is written to $XDG_RUNTIME_DIR/tally/server.toml so that
"tally status" can find the server.`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd, stderr)
		},
	}
	cmd.Flags().String("listen", defaultListen, "listen address (host:port)")
	cmd.Flags().Int("tasks", engine.DefaultMaxConcurrentTasks, "tasks scanned at the same time")
	cmd.Flags().Int("workers", 0, "default concurrent I/O operations per scan")
	cmd.Flags().BoolP("verbose", "v", false, "log debug output")
	cmd.Flags().String("config", "", "config file (default: $XDG_CONFIG_HOME/tally/config.toml)")
	return cmd
}

func runServe(cmd *cobra.Command, stderr io.Writer) error {
	listen, _ := cmd.Flags().GetString("listen")     //nolint:errcheck // flag name is hardcoded
	tasks, _ := cmd.Flags().GetInt("tasks")          //nolint:errcheck // flag name is hardcoded
	workers, _ := cmd.Flags().GetInt("workers")      //nolint:errcheck // flag name is hardcoded
	verbose, _ := cmd.Flags().GetBool("verbose")     //nolint:errcheck // flag name is hardcoded
	configFile, _ := cmd.Flags().GetString("config") //nolint:errcheck // flag name is hardcoded

	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	cfg, err := loadConfig(configFile)
	if err != nil {
		return err
	}
	opts := options{tasks: tasks, workers: workers}
	applyConfigDefaults(cmd, cfg.Defaults, &opts)
	rules, err := cfg.FilterRules()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	prog := progress.NewManager(progress.Config{Logger: logger})
	mgr := engine.NewManager(engine.ManagerConfig{
		Logger:             logger,
		Rules:              rules,
		FilterOptions:      cfg.Defaults.FilterOptions(filter.DefaultOptions()),
		MaxConcurrentTasks: opts.tasks,
		ScanObserver: func(id string) engine.Observer {
			return engine.ObserverFuncs{Progress: func(s stats.Snapshot) { prog.Track(id, s) }}
		},
	})
	if err := mgr.Start(ctx); err != nil {
		return err
	}
	defer mgr.Stop()
	prog.StartTracking(ctx)
	defer prog.StopTracking()

	srv := server.New(server.Config{
		Manager:  mgr,
		Progress: prog,
		Logger:   logger,
		Defaults: opts.scanConfig(),
	})
	defer config.RemoveServerDiscovery()
	return srv.ListenAndServe(ctx, listen, func(addr string) {
		if err := config.WriteServerDiscovery(config.ServerDiscovery{
			Addr:      addr,
			PID:       os.Getpid(),
			StartedAt: time.Now(),
		}); err != nil {
			slog.Warn("failed to write server discovery file", "error", err)
		}
	})
}
