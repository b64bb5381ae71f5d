package ui

import (
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"time"
)

const (
	sparklineWidth   = 20
	progressBarWidth = 20
	hudRedraw        = 100 * time.Millisecond
	hudMinInterval   = 50 * time.Millisecond // don't redraw faster than this
)

// hudPresenter keeps a one-line status at the bottom of the terminal and
// prints errors (and, when verbose, discovered files) above it.
type hudPresenter struct {
	w       io.Writer // the TTY
	out     io.Writer // verbose file listing
	stats   StatsSource
	root    string
	outcome Outcome
	verbose bool
	color   bool

	hudDrawn    bool
	lastHUDDraw time.Time
}

func (p *hudPresenter) Run(events <-chan Event) error {
	ticker := time.NewTicker(hudRedraw)
	defer ticker.Stop()

	for {
		select {
		case ev, ok := <-events:
			if !ok {
				p.clearHUD()
				return nil
			}
			p.handleEvent(ev)
			p.maybeDrawHUD()
		case <-ticker.C:
			p.drawHUD()
		}
	}
}

func (p *hudPresenter) handleEvent(ev Event) {
	p.outcome.observe(ev)
	switch ev.Type {
	case FileDiscovered:
		if p.verbose && !ev.IsDir {
			p.above(func() {
				fmt.Fprintf(p.out, "%s  %s\n", p.styledPath(ev.Path), FormatBytes(ev.Size))
			})
		}
	case ScanError:
		p.above(func() {
			fmt.Fprintf(p.w, "%s  %s\n", p.mark("✗", false), errText(ev))
		})
	case TaskFailed:
		p.above(func() {
			fmt.Fprintf(p.w, "%s  task %s failed: %s\n", p.mark("✗", false), ev.TaskID, errText(ev))
		})
	case TaskCompleted:
		p.above(func() {
			fmt.Fprintf(p.w, "%s  %s\n", p.mark("✓", true), ev.Path)
		})
	}
}

// above clears the status line, runs print, and lets the next tick redraw.
func (p *hudPresenter) above(print func()) {
	p.clearHUD()
	print()
}

func (p *hudPresenter) mark(s string, ok bool) string {
	if !p.color {
		return s
	}
	if ok {
		return okStyle.Render(s)
	}
	return failStyle.Render(s)
}

// maybeDrawHUD redraws the HUD if enough time has passed since the last draw.
func (p *hudPresenter) maybeDrawHUD() {
	if time.Since(p.lastHUDDraw) < hudMinInterval {
		return
	}
	p.drawHUD()
}

func (p *hudPresenter) drawHUD() {
	if p.stats == nil {
		return
	}
	p.clearHUD()
	fmt.Fprint(p.w, p.statusLine())
	p.hudDrawn = true
	p.lastHUDDraw = time.Now()
}

func (p *hudPresenter) statusLine() string {
	st := p.stats.Current()
	var rates []float64
	for _, h := range p.stats.History() {
		rates = append(rates, h.ItemsPerSecond)
	}

	var b strings.Builder
	if st.EstimatedTotal > 0 {
		fmt.Fprintf(&b, "%s %s  ", FormatPercent(st.Percentage), ProgressBar(st.Percentage, progressBarWidth))
	}
	fmt.Fprintf(&b, "%s  %s files  %s dirs  %s  %s",
		Sparkline(rates, sparklineWidth),
		FormatCount(st.Stats.FilesScanned),
		FormatCount(st.Stats.DirectoriesScanned),
		FormatBytes(st.Stats.BytesScanned),
		FormatItemRate(st.ItemsPerSecond),
	)
	if st.ETA > 0 {
		fmt.Fprintf(&b, "  eta %s", FormatETA(st.ETA))
	}
	return b.String()
}

func (p *hudPresenter) clearHUD() {
	if !p.hudDrawn {
		return
	}
	fmt.Fprint(p.w, "\r\033[K")
	p.hudDrawn = false
}

func (p *hudPresenter) Summary() string {
	return completionSummary(current(p.stats), p.outcome, p.color)
}

// styledPath returns the path relative to the scan root with the directory
// portion dimmed, making the actual filename stand out.
func (p *hudPresenter) styledPath(path string) string {
	path = StripRoot(p.root, path)
	dir := filepath.Dir(path)
	base := filepath.Base(path)
	if dir == "." || dir == "" {
		return base
	}
	if !p.color {
		return dir + "/" + base
	}
	return labelStyle.Render(dir+"/") + base
}

// StripRoot removes a root prefix from a path, returning a clean relative path.
func StripRoot(root, path string) string {
	if root == "" {
		return path
	}
	if !strings.HasSuffix(root, string(filepath.Separator)) {
		root += string(filepath.Separator)
	}
	if strings.HasPrefix(path, root) {
		return path[len(root):]
	}
	return path
}
