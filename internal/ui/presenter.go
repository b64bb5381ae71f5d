package ui

import (
	"io"

	"github.com/bamsammich/tally/internal/progress"
)

// Presenter consumes events and displays progress.
type Presenter interface {
	// Run consumes events until the channel closes. Blocks until done.
	Run(events <-chan Event) error
	// Summary returns the final summary line.
	Summary() string
}

// StatsSource supplies aggregated statistics. *progress.Manager satisfies it.
type StatsSource interface {
	Current() progress.Statistics
	History() []progress.Statistics
}

// Config configures a Presenter.
type Config struct {
	Writer     io.Writer
	ErrWriter  io.Writer
	Stats      StatsSource
	Root       string // stripped from displayed paths
	IsTTY      bool
	Color      bool
	Quiet      bool
	Verbose    bool
	NoProgress bool
}

// NewPresenter creates the appropriate presenter based on configuration.
//
//nolint:ireturn // factory function returns interface by design
func NewPresenter(cfg Config) Presenter {
	if cfg.Quiet {
		return &quietPresenter{stats: cfg.Stats}
	}
	if !cfg.IsTTY || cfg.NoProgress {
		return &plainPresenter{
			w:        cfg.Writer,
			errW:     cfg.ErrWriter,
			stats:    cfg.Stats,
			root:     cfg.Root,
			verbose:  cfg.Verbose,
			progress: !cfg.NoProgress,
		}
	}
	return &hudPresenter{
		w:       cfg.ErrWriter, // HUD renders to stderr (the TTY)
		out:     cfg.Writer,
		stats:   cfg.Stats,
		root:    cfg.Root,
		verbose: cfg.Verbose,
		color:   cfg.Color,
	}
}

// Outcome counts task results and scan errors seen on the event stream.
type Outcome struct {
	Completed  int
	Failed     int
	ScanErrors int64
}

func (o *Outcome) observe(ev Event) {
	switch ev.Type {
	case TaskCompleted:
		o.Completed++
	case TaskFailed:
		o.Failed++
	case ScanError:
		o.ScanErrors++
	}
}

// OK reports whether every task completed without recorded errors.
func (o Outcome) OK() bool {
	return o.Failed == 0 && o.ScanErrors == 0
}

func errText(ev Event) string {
	if ev.Error != nil {
		return ev.Error.Error()
	}
	return "error"
}
