package ui

import (
	"fmt"
	"io"
	"time"
)

const plainProgressInterval = 5 * time.Second

// plainPresenter writes discovered files to stdout when verbose, errors and
// task results to stderr, and a periodic progress line when not a TTY.
type plainPresenter struct {
	w        io.Writer
	errW     io.Writer
	stats    StatsSource
	root     string
	outcome  Outcome
	verbose  bool
	progress bool
}

func (p *plainPresenter) Run(events <-chan Event) error {
	ticker := time.NewTicker(plainProgressInterval)
	defer ticker.Stop()

	for {
		select {
		case ev, ok := <-events:
			if !ok {
				return nil
			}
			p.handleEvent(ev)
		case <-ticker.C:
			if p.progress {
				p.printProgress()
			}
		}
	}
}

func (p *plainPresenter) handleEvent(ev Event) {
	p.outcome.observe(ev)
	switch ev.Type {
	case FileDiscovered:
		if !p.verbose {
			return
		}
		path := StripRoot(p.root, ev.Path)
		if ev.IsDir {
			fmt.Fprintf(p.w, "%s/\n", path)
		} else {
			fmt.Fprintf(p.w, "%s  %s\n", path, FormatBytes(ev.Size))
		}
	case ScanError:
		fmt.Fprintf(p.errW, "error: %s\n", errText(ev))
	case TaskFailed:
		fmt.Fprintf(p.errW, "task %s failed: %s\n", ev.TaskID, errText(ev))
	case TaskCompleted:
		if p.verbose {
			fmt.Fprintf(p.errW, "task %s completed: %s\n", ev.TaskID, ev.Path)
		}
	}
}

func (p *plainPresenter) printProgress() {
	if p.stats == nil {
		return
	}
	st := p.stats.Current()
	if st.EstimatedTotal > 0 {
		fmt.Fprintf(p.errW, "progress: %s %s files %s dirs %s %s eta %s\n",
			FormatPercent(st.Percentage),
			FormatCount(st.Stats.FilesScanned),
			FormatCount(st.Stats.DirectoriesScanned),
			FormatBytes(st.Stats.BytesScanned),
			FormatItemRate(st.ItemsPerSecond),
			FormatETA(st.ETA),
		)
		return
	}
	fmt.Fprintf(p.errW, "progress: %s files %s dirs %s\n",
		FormatCount(st.Stats.FilesScanned),
		FormatCount(st.Stats.DirectoriesScanned),
		FormatBytes(st.Stats.BytesScanned),
	)
}

func (p *plainPresenter) Summary() string {
	return completionSummary(current(p.stats), p.outcome, false)
}
