package engine

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/bamsammich/tally/internal/filter"
	"github.com/bamsammich/tally/internal/fsys"
	"github.com/bamsammich/tally/internal/stats"
)

// pausePoll is how often a paused worker rechecks the pause flag.
const pausePoll = 100 * time.Millisecond

// ScannerConfig wires a Scanner to its collaborators. Nil fields fall back to
// the local filesystem, a private dedup-only filter, a no-op observer and
// slog.Default.
type ScannerConfig struct {
	FS       fsys.Provider
	Filter   *filter.Filter
	Observer Observer
	Logger   *slog.Logger
	Scan     ScanConfig
}

// Scanner walks one directory tree at a time on a bounded pool of
// goroutines. It may be restarted once a walk has finished.
type Scanner struct {
	fs       fsys.Provider
	filter   *filter.Filter
	observer Observer
	logger   *slog.Logger
	plan     scanPlan
	stats    *stats.Collector
	sem      chan struct{}
	paused   atomic.Bool

	// ownsFilter is set when the scanner built its filter and may reset it
	// between runs.
	ownsFilter bool

	mu       sync.Mutex
	starting bool
	state    ScanState
	root     string
	errs     errorLog
	cancel   context.CancelFunc
	done     chan struct{}
	pump     *progressPump

	visitedMu sync.Mutex
	visited   map[dirKey]struct{}
}

type dirKey struct {
	dev, ino uint64
}

// NewScanner creates an idle scanner.
func NewScanner(cfg ScannerConfig) *Scanner {
	s := &Scanner{
		fs:       cfg.FS,
		filter:   cfg.Filter,
		observer: cfg.Observer,
		logger:   cfg.Logger,
		plan:     cfg.Scan.normalize(),
		stats:    stats.NewCollector(),
		done:     make(chan struct{}),
	}
	if s.fs == nil {
		s.fs = fsys.NewLocal()
	}
	if s.filter == nil {
		s.filter = filter.New(filter.DefaultOptions())
		s.ownsFilter = true
	}
	if s.observer == nil {
		s.observer = nopObserver{}
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	s.sem = make(chan struct{}, s.plan.MaxConcurrency)
	s.errs.reset(s.plan.MaxErrors)
	close(s.done)
	return s
}

// Config returns the normalised scan configuration.
func (s *Scanner) Config() ScanConfig {
	return s.plan.ScanConfig
}

// StartScan validates root and begins walking it in the background. It
// returns ErrInvalidState unless the scanner is idle, completed or errored.
// A missing or unusable root moves the scanner to StateError and the
// recorded ScanError is returned. Cancelling ctx cancels the scan.
func (s *Scanner) StartScan(ctx context.Context, root string) error {
	s.mu.Lock()
	if !s.state.canStart() || s.starting {
		st := s.state
		s.mu.Unlock()
		return fmt.Errorf("start scan while %s: %w", st, ErrInvalidState)
	}
	s.starting = true
	s.errs.reset(s.plan.MaxErrors)
	s.mu.Unlock()

	s.stats.Reset(time.Now())
	s.paused.Store(false)
	if s.ownsFilter {
		s.filter.Reset()
	}
	s.visitedMu.Lock()
	s.visited = make(map[dirKey]struct{})
	s.visitedMu.Unlock()

	abs, err := s.validateRoot(root)
	if err != nil {
		se := newScanError(root, err)
		s.stats.AddError()
		s.stats.Finish(time.Now())

		s.mu.Lock()
		s.starting = false
		s.root = abs
		s.errs.add(se)
		s.state = StateError
		s.done = make(chan struct{})
		close(s.done)
		s.mu.Unlock()

		s.logger.Warn("scan root rejected", "path", root, "error", err)
		s.observer.OnError(se)
		s.observer.OnStateChange(StateError)
		return se
	}

	runCtx, cancel := context.WithCancel(ctx)
	pump := newProgressPump(s.observer, s.plan.ProgressInterval)
	done := make(chan struct{})

	s.mu.Lock()
	s.starting = false
	s.root = abs
	s.cancel = cancel
	s.done = done
	s.pump = pump
	s.state = StateScanning
	s.mu.Unlock()

	s.logger.Debug("scan started", "root", abs, "workers", s.plan.MaxConcurrency)
	s.observer.OnStateChange(StateScanning)

	go s.run(runCtx, cancel, abs, pump, done)
	return nil
}

func (s *Scanner) validateRoot(root string) (string, error) {
	if root == "" {
		return "", fmt.Errorf("empty root: %w", ErrInvalidPath)
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return root, fmt.Errorf("resolve %s: %w", root, ErrInvalidPath)
	}
	if !s.fs.Exists(abs) {
		return abs, fmt.Errorf("root %s: %w", abs, fs.ErrNotExist)
	}
	return abs, nil
}

func (s *Scanner) run(
	ctx context.Context,
	cancel context.CancelFunc,
	root string,
	pump *progressPump,
	done chan struct{},
) {
	defer close(done)
	defer cancel()

	final := StateCompleted
	if !s.acquire(ctx) {
		final = StateCancelled
	} else if !s.visitRoot(ctx, root, pump) {
		final = StateError
	}

	// A paused scan stays paused until it is resumed or cancelled, even
	// when no work is left.
	s.holdWhilePaused(ctx)
	if ctx.Err() != nil {
		final = StateCancelled
	}

	snap, seq := s.stats.Finish(time.Now())
	pump.publish(snap, seq)

	s.state = final
	s.cancel = nil
	s.paused.Store(false)
	s.mu.Unlock()

	s.logger.Debug("scan finished", "root", root, "state", final.String(), "stats", snap.String())
	pump.close(final)
}

// visitRoot walks root and reports whether its metadata could be read.
// The caller holds a semaphore slot.
func (s *Scanner) visitRoot(ctx context.Context, root string, pump *progressPump) bool {
	attrs, err := s.fs.Stat(root)
	if err != nil {
		s.release()
		s.recordError(root, err, pump)
		return false
	}
	s.markVisited(attrs)
	s.visitResolved(ctx, root, attrs, 0, false, pump, s.releaseOnce())
	return true
}

// visit handles one directory entry. The caller holds a semaphore slot;
// it is released once this entry's own I/O is done.
func (s *Scanner) visit(ctx context.Context, path string, depth int, pump *progressPump) {
	release := s.releaseOnce()
	defer release()

	if !s.checkpoint(ctx) {
		return
	}

	attrs, err := s.fs.Lstat(path)
	if err != nil {
		s.recordError(path, err, pump)
		return
	}

	viaLink := false
	if attrs.IsSymlink {
		if !s.plan.FollowSymlinks {
			s.skip(pump)
			return
		}
		resolved, err := s.fs.Stat(path)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				s.logger.Debug("dangling symlink", "path", path)
				s.skip(pump)
				return
			}
			s.recordError(path, err, pump)
			return
		}
		if resolved.IsDir && !s.markVisited(resolved) {
			s.logger.Debug("symlink cycle", "path", path)
			return
		}
		attrs = resolved
		viaLink = true
	} else if attrs.IsDir && s.plan.FollowSymlinks {
		s.markVisited(attrs)
	}

	s.visitResolved(ctx, path, attrs, depth, viaLink, pump, release)
}

func (s *Scanner) visitResolved(
	ctx context.Context,
	path string,
	attrs fsys.Attributes,
	depth int,
	viaLink bool,
	pump *progressPump,
	release func(),
) {
	if attrs.IsDir {
		s.walkDir(ctx, path, attrs, depth, pump, release)
		return
	}
	release()
	s.visitFile(path, attrs, depth, viaLink, pump)
}

func (s *Scanner) visitFile(path string, attrs fsys.Attributes, depth int, viaLink bool, pump *progressPump) {
	res := s.filter.Filter(path, filterAttributes(attrs, viaLink))
	if !res.Include {
		s.logger.Debug("file filtered", "path", path, "reason", res.Reason)
		s.skip(pump)
		return
	}
	if !s.plan.allowsExtension(attrs.Name) {
		s.skip(pump)
		return
	}

	s.observer.OnFileDiscovered(newFileNode(path, attrs, depth))
	pump.publish(s.stats.AddFile(attrs.Size))
}

// walkDir emits a directory, lists it, and joins every dispatched child
// before counting the directory as completed.
func (s *Scanner) walkDir(
	ctx context.Context,
	path string,
	attrs fsys.Attributes,
	depth int,
	pump *progressPump,
	release func(),
) {
	s.observer.OnFileDiscovered(newFileNode(path, attrs, depth))
	pump.publish(s.stats.AddDirectory())

	if !s.plan.descend(depth) {
		release()
		pump.publish(s.stats.CompleteDirectory())
		return
	}

	names, err := s.fs.ListDirectory(path)
	release()
	if err != nil {
		s.recordError(path, err, pump)
		pump.publish(s.stats.CompleteDirectory())
		return
	}

	var wg sync.WaitGroup
	for _, name := range names {
		if !s.checkpoint(ctx) {
			break
		}
		if !s.plan.IncludeHidden && filter.IsHidden(name) {
			continue
		}
		child := filepath.Join(path, name)
		if s.plan.excluded(child) {
			continue
		}
		if !s.acquire(ctx) {
			break
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.visit(ctx, child, depth+1, pump)
		}()
	}
	wg.Wait()

	if ctx.Err() == nil {
		pump.publish(s.stats.CompleteDirectory())
	}
}

// checkpoint blocks while the scan is paused and reports whether the walk
// should continue.
func (s *Scanner) checkpoint(ctx context.Context) bool {
	for s.paused.Load() {
		select {
		case <-ctx.Done():
			return false
		case <-time.After(pausePoll):
		}
	}
	return ctx.Err() == nil
}

// holdWhilePaused returns with s.mu held once the scan is neither paused
// nor resumable, so PauseScan cannot slip in before the terminal state is
// recorded.
func (s *Scanner) holdWhilePaused(ctx context.Context) {
	for {
		s.checkpoint(ctx)
		s.mu.Lock()
		if s.state != StatePaused || ctx.Err() != nil {
			return
		}
		s.mu.Unlock()
	}
}

func (s *Scanner) acquire(ctx context.Context) bool {
	select {
	case s.sem <- struct{}{}:
		return true
	case <-ctx.Done():
		return false
	}
}

func (s *Scanner) release() {
	<-s.sem
}

func (s *Scanner) releaseOnce() func() {
	var once sync.Once
	return func() { once.Do(s.release) }
}

// markVisited records a directory inode and reports whether it was new.
// Entries without inode data are always treated as new.
func (s *Scanner) markVisited(a fsys.Attributes) bool {
	if !a.IsDir || !a.HasInode {
		return true
	}
	key := dirKey{dev: a.Dev, ino: a.Inode}
	s.visitedMu.Lock()
	defer s.visitedMu.Unlock()
	if _, ok := s.visited[key]; ok {
		return false
	}
	s.visited[key] = struct{}{}
	return true
}

func (s *Scanner) skip(pump *progressPump) {
	pump.publish(s.stats.AddSkipped())
}

func (s *Scanner) recordError(path string, err error, pump *progressPump) {
	se := newScanError(path, err)
	s.mu.Lock()
	s.errs.add(se)
	s.mu.Unlock()

	s.logger.Warn("scan error", "path", path, "category", se.Category.String(), "error", err)
	s.observer.OnError(se)
	pump.publish(s.stats.AddError())
}

func filterAttributes(a fsys.Attributes, viaLink bool) filter.Attributes {
	return filter.Attributes{
		Name:      a.Name,
		Size:      a.Size,
		Dev:       a.Dev,
		Inode:     a.Inode,
		Nlink:     a.Nlink,
		HasInode:  a.HasInode,
		IsDir:     a.IsDir,
		IsSymlink: a.IsSymlink || viaLink,
		Hidden:    filter.IsHidden(a.Name),
		ReadOnly:  a.ReadOnly(),
	}
}

// PauseScan suspends a running scan. In-flight entries finish; no new work
// starts until ResumeScan. It reports whether the call took effect.
func (s *Scanner) PauseScan() bool {
	s.mu.Lock()
	if s.state != StateScanning {
		s.mu.Unlock()
		return false
	}
	s.state = StatePaused
	s.paused.Store(true)
	pump := s.pump
	s.mu.Unlock()

	s.logger.Debug("scan paused", "root", s.Root())
	pump.state(StatePaused)
	return true
}

// ResumeScan continues a paused scan. It reports whether the call took effect.
func (s *Scanner) ResumeScan() bool {
	s.mu.Lock()
	if s.state != StatePaused {
		s.mu.Unlock()
		return false
	}
	s.state = StateScanning
	s.paused.Store(false)
	pump := s.pump
	s.mu.Unlock()

	s.logger.Debug("scan resumed", "root", s.Root())
	pump.state(StateScanning)
	return true
}

// CancelScan stops a running or paused scan. The scanner reaches
// StateCancelled once every worker has returned. It reports whether the
// call took effect.
func (s *Scanner) CancelScan() bool {
	s.mu.Lock()
	if !s.state.Active() || s.cancel == nil {
		s.mu.Unlock()
		return false
	}
	cancel := s.cancel
	s.mu.Unlock()

	cancel()
	return true
}

// State returns the current lifecycle state.
func (s *Scanner) State() ScanState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Root returns the absolute root of the current or last scan.
func (s *Scanner) Root() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.root
}

// Statistics returns a copy of the current counters.
func (s *Scanner) Statistics() stats.Snapshot {
	return s.stats.Snapshot()
}

// Errors returns a copy of the error log, oldest first.
func (s *Scanner) Errors() []ScanError {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.errs.snapshot()
}

// Done returns a channel closed when the current scan, including its final
// notifications, has finished. For a scanner that never started it is
// already closed.
func (s *Scanner) Done() <-chan struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.done
}

// Wait blocks until the current scan finishes or ctx is done.
func (s *Scanner) Wait(ctx context.Context) error {
	select {
	case <-s.Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Progress estimates completion as completed directories over discovered
// directories. A completed scan reports 1.
func (s *Scanner) Progress() float64 {
	if s.State() == StateCompleted {
		return 1
	}
	snap := s.stats.Snapshot()
	if snap.DirectoriesScanned == 0 {
		return 0
	}
	return min(1, float64(snap.DirectoriesCompleted)/float64(snap.DirectoriesScanned))
}
