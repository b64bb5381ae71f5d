package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/bamsammich/tally/internal/config"
	"github.com/bamsammich/tally/internal/engine"
	"github.com/bamsammich/tally/internal/event"
	"github.com/bamsammich/tally/internal/filter"
	"github.com/bamsammich/tally/internal/progress"
	"github.com/bamsammich/tally/internal/stats"
	"github.com/bamsammich/tally/internal/ui"
)

var version = "dev"

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

// options holds the root command's flag values.
type options struct {
	rules            ruleFlag
	priority         string
	rulesFile        string
	logFile          string
	configFile       string
	excludes         []string
	exts             []string
	progressInterval time.Duration
	workers          int
	tasks            int
	maxDepth         int
	hidden           bool
	follow           bool
	skipZero         bool
	skipSymlinks     bool
	noDedup          bool
	verbose          bool
	quiet            bool
	noProgress       bool
	showVersion      bool
}

type exitError struct {
	code int
}

func (e *exitError) Error() string {
	return fmt.Sprintf("exit code %d", e.code)
}

func run(args []string, stdout, stderr io.Writer) int {
	root := newRootCmd(stdout, stderr)
	if args == nil {
		args = []string{} // nil makes cobra fall back to os.Args
	}
	root.SetArgs(args)
	if err := root.Execute(); err != nil {
		var exitErr *exitError
		if errors.As(err, &exitErr) {
			return exitErr.code
		}
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 2
	}
	return 0
}

func newRootCmd(stdout, stderr io.Writer) *cobra.Command {
	var opts options

	rootCmd := &cobra.Command{
		Use:   "tally [flags] <path>...",
		Short: "Fast, concurrent directory scanner with filtering and live progress",
		Args: func(cmd *cobra.Command, args []string) error {
			if opts.showVersion {
				return nil
			}
			return cobra.MinimumNArgs(1)(cmd, args)
		},
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if opts.showVersion {
				fmt.Fprintf(stdout, "tally %s\n", version)
				return nil
			}
			return runScan(cmd, &opts, args, stdout, stderr)
		},
	}
	rootCmd.SetOut(stdout)
	rootCmd.SetErr(stderr)

	fl := rootCmd.Flags()
	fl.BoolVar(&opts.showVersion, "version", false, "print version and exit")
	fl.IntVarP(&opts.workers, "workers", "n", 0, "concurrent I/O operations per scan (default: min(NumCPU, 8))")
	fl.IntVar(&opts.tasks, "tasks", engine.DefaultMaxConcurrentTasks, "paths scanned at the same time")
	fl.StringVar(&opts.priority, "priority", "normal", "task priority: low, normal, high or urgent")
	fl.BoolVar(&opts.hidden, "hidden", false, "include hidden files and directories")
	fl.BoolVarP(&opts.follow, "follow", "L", false, "follow symbolic links")
	fl.IntVar(&opts.maxDepth, "max-depth", 0, "maximum directory depth below each path (0 = unlimited)")
	fl.StringArrayVar(&opts.excludes, "exclude", nil, "skip PATH entirely (repeatable)")
	fl.StringArrayVar(&opts.exts, "ext", nil, "only count files with extension EXT (repeatable)")
	fl.Var(&opts.rules, "rule", `filter rule "[+|-]type pattern[ @prio]" (repeatable, ordered)`)
	fl.StringVar(&opts.rulesFile, "rules", "", "read filter rules from FILE")
	fl.BoolVar(&opts.skipZero, "skip-zero", false, "skip zero-byte files")
	fl.BoolVar(&opts.skipSymlinks, "skip-symlinks", false, "skip symbolic links")
	fl.BoolVar(&opts.noDedup, "no-dedup", false, "count every hard link separately")
	fl.DurationVar(&opts.progressInterval, "progress-interval", 0, "minimum time between progress callbacks per scan")
	fl.BoolVarP(&opts.verbose, "verbose", "v", false, "list discovered files and log debug output")
	fl.BoolVarP(&opts.quiet, "quiet", "q", false, "suppress all output except errors")
	fl.BoolVar(&opts.noProgress, "no-progress", false, "disable the live progress display")
	fl.StringVar(&opts.logFile, "log", "", "write structured JSON log to FILE")
	fl.StringVar(&opts.configFile, "config", "", "config file (default: $XDG_CONFIG_HOME/tally/config.toml)")

	rootCmd.AddCommand(newServeCmd(stderr))
	rootCmd.AddCommand(newStatusCmd(stdout))
	rootCmd.AddCommand(newDocsCmd())
	return rootCmd
}

func loadConfig(path string) (config.Config, error) {
	if path != "" {
		return config.LoadFile(path)
	}
	return config.Load()
}

// applyConfigDefaults applies config file defaults for flags not explicitly set on the CLI.
func applyConfigDefaults(cmd *cobra.Command, d config.DefaultsConfig, opts *options) {
	changed := cmd.Flags().Changed
	setInt := func(name string, dst *int, v *int) {
		if !changed(name) && v != nil {
			*dst = *v
		}
	}
	setBool := func(name string, dst *bool, v *bool) {
		if !changed(name) && v != nil {
			*dst = *v
		}
	}
	setInt("workers", &opts.workers, d.Workers)
	setInt("tasks", &opts.tasks, d.Tasks)
	setInt("max-depth", &opts.maxDepth, d.MaxDepth)
	setBool("hidden", &opts.hidden, d.Hidden)
	setBool("follow", &opts.follow, d.FollowSymlinks)
	setBool("skip-zero", &opts.skipZero, d.SkipZeroSize)
	setBool("skip-symlinks", &opts.skipSymlinks, d.SkipSymlinks)
	if !changed("no-dedup") && d.DedupHardLinks != nil {
		opts.noDedup = !*d.DedupHardLinks
	}
	if !changed("progress-interval") && d.ProgressInterval != nil {
		opts.progressInterval = d.ProgressInterval.Duration
	}
	if !changed("exclude") && len(d.Exclude) > 0 {
		opts.excludes = d.Exclude
	}
	if !changed("ext") && len(d.Extensions) > 0 {
		opts.exts = d.Extensions
	}
}

func (o *options) scanConfig() engine.ScanConfig {
	cfg := engine.DefaultScanConfig()
	if o.workers > 0 {
		cfg.MaxConcurrency = o.workers
	}
	cfg.MaxDepth = o.maxDepth
	cfg.IncludeHidden = o.hidden
	cfg.FollowSymlinks = o.follow
	cfg.ExcludePaths = o.excludes
	cfg.Extensions = o.exts
	cfg.ProgressInterval = o.progressInterval
	return cfg
}

// buildFilter assembles the shared filter: config-file rules first, then the
// rules file, then --rule flags.
func (o *options) buildFilter(cfg config.Config) (*filter.Filter, error) {
	f := filter.New(filter.Options{
		SkipZeroSize:   o.skipZero,
		SkipSymlinks:   o.skipSymlinks,
		DedupHardLinks: !o.noDedup,
	})
	rules, err := cfg.FilterRules()
	if err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	for _, r := range rules {
		f.AddRule(r)
	}
	if o.rulesFile != "" {
		if err := f.LoadFile(o.rulesFile); err != nil {
			return nil, err
		}
	}
	for _, r := range o.rules.rules {
		f.AddRule(r)
	}
	return f, nil
}

// setupLogging configures the default logger. The returned event logger
// writes only to the --log file and is nil without one.
func setupLogging(stderr io.Writer, opts *options) (*slog.Logger, func(), error) {
	level := slog.LevelWarn
	if opts.verbose {
		level = slog.LevelDebug
	} else if !opts.quiet {
		level = slog.LevelInfo
	}
	textHandler := slog.NewTextHandler(stderr, &slog.HandlerOptions{Level: level})
	if opts.logFile == "" {
		slog.SetDefault(slog.New(textHandler))
		return nil, func() {}, nil
	}

	lf, err := os.Create(opts.logFile)
	if err != nil {
		return nil, nil, fmt.Errorf("open log file: %w", err)
	}
	jsonHandler := slog.NewJSONHandler(lf, &slog.HandlerOptions{Level: slog.LevelDebug})
	slog.SetDefault(slog.New(ui.NewMultiHandler(textHandler, jsonHandler)))
	return slog.New(jsonHandler), func() { lf.Close() }, nil
}

// teeEvents writes a structured record for every event before forwarding it.
func teeEvents(log *slog.Logger, in <-chan event.Event) <-chan event.Event {
	out := make(chan event.Event, cap(in))
	go func() {
		defer close(out)
		for ev := range in {
			attrs := []slog.Attr{
				slog.String("type", ev.Type.String()),
				slog.String("task", ev.TaskID),
			}
			if ev.Path != "" {
				attrs = append(attrs, slog.String("path", ev.Path))
			}
			switch ev.Type {
			case event.FileDiscovered:
				attrs = append(attrs, slog.Int64("size", ev.Size), slog.Bool("dir", ev.IsDir))
			case event.ScanProgress:
				attrs = append(attrs, slog.Int64("files", ev.Files), slog.Int64("bytes", ev.Size))
			case event.StateChanged, event.TaskCompleted, event.TaskFailed, event.TaskProgress:
				attrs = append(attrs, slog.String("state", ev.State), slog.Float64("progress", ev.Fraction))
			}
			if ev.Error != nil {
				attrs = append(attrs, slog.String("error", ev.Error.Error()))
			}
			log.LogAttrs(context.Background(), slog.LevelInfo, "tally.event", attrs...)
			out <- ev
		}
	}()
	return out
}

//nolint:revive // cyclomatic: CLI entry point wires every component
func runScan(cmd *cobra.Command, opts *options, args []string, stdout, stderr io.Writer) error {
	cfg, err := loadConfig(opts.configFile)
	if err != nil {
		return err
	}
	applyConfigDefaults(cmd, cfg.Defaults, opts)

	priority, err := engine.ParsePriority(opts.priority)
	if err != nil {
		return err
	}
	f, err := opts.buildFilter(cfg)
	if err != nil {
		return err
	}
	roots := make([]string, len(args))
	for i, a := range args {
		abs, err := filepath.Abs(a)
		if err != nil {
			return fmt.Errorf("path %s: %w", a, err)
		}
		roots[i] = abs
	}

	eventLog, closeLog, err := setupLogging(stderr, opts)
	if err != nil {
		return err
	}
	defer closeLog()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	prog := progress.NewManager(progress.Config{Logger: slog.Default()})

	events := make(chan event.Event, 256)
	presenterEvents := (<-chan event.Event)(events)
	if eventLog != nil {
		presenterEvents = teeEvents(eventLog, events)
	}

	mgr := engine.NewManager(engine.ManagerConfig{
		Filter:             f,
		Observer:           engine.NewTaskEventObserver(events),
		Logger:             slog.Default(),
		MaxConcurrentTasks: opts.tasks,
		ScanObserver: func(id string) engine.Observer {
			return engine.MultiObserver{
				engine.NewEventObserver(events, id),
				engine.ObserverFuncs{Progress: func(s stats.Snapshot) { prog.Track(id, s) }},
			}
		},
	})

	isTTY := false
	color := false
	if fd, ok := stderr.(*os.File); ok {
		isTTY = ui.IsTTY(fd.Fd())
		color = ui.ColorEnabled(fd)
	}
	displayRoot := ""
	if len(roots) == 1 {
		displayRoot = roots[0]
	}
	presenter := ui.NewPresenter(ui.Config{
		Writer:     stdout,
		ErrWriter:  stderr,
		Stats:      prog,
		Root:       displayRoot,
		IsTTY:      isTTY,
		Color:      color,
		Quiet:      opts.quiet,
		Verbose:    opts.verbose,
		NoProgress: opts.noProgress,
	})

	display := runPresenter(presenter, presenterEvents)

	slog.Debug("starting scan",
		"roots", roots,
		"workers", opts.workers,
		"tasks", opts.tasks,
		"priority", priority.String(),
		"rules", len(f.Rules()),
	)

	// shutdown stops every producer before closing events, then joins the
	// presenter.
	shutdown := func() {
		mgr.Stop()
		prog.StopTracking()
		close(events)
		if err := display.wait(); err != nil {
			fmt.Fprintf(stderr, "presenter: %v\n", err)
		}
	}

	prog.StartTracking(ctx)
	if err := startTasks(ctx, mgr, roots, priority, opts.scanConfig()); err != nil {
		shutdown()
		return err
	}
	waitErr := mgr.Wait(ctx)
	shutdown()

	if !opts.quiet {
		if summary := presenter.Summary(); summary != "" {
			fmt.Fprintln(stderr, summary)
		}
	}

	if waitErr != nil {
		slog.Warn("scan interrupted", "error", waitErr)
		return &exitError{code: 1}
	}
	ms := mgr.Stats()
	if ms.Failed > 0 || ms.Cancelled > 0 || prog.Current().Stats.ErrorCount > 0 {
		return &exitError{code: 1}
	}
	return nil
}

// presenterRun drives a presenter on its own goroutine until its event
// channel is closed.
type presenterRun struct {
	done chan struct{}
	err  error
}

func runPresenter(p ui.Presenter, events <-chan event.Event) *presenterRun {
	r := &presenterRun{done: make(chan struct{})}
	go func() {
		defer close(r.done)
		r.err = p.Run(events)
	}()
	return r
}

// wait blocks until the presenter has returned.
func (r *presenterRun) wait() error {
	<-r.done
	return r.err
}

func startTasks(ctx context.Context, mgr *engine.Manager, roots []string, priority engine.Priority, cfg engine.ScanConfig) error {
	for _, root := range roots {
		if _, err := mgr.CreateTask(root, priority, cfg); err != nil {
			return err
		}
	}
	return mgr.Start(ctx)
}
