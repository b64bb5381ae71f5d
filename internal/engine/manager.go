package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/bamsammich/tally/internal/filter"
	"github.com/bamsammich/tally/internal/fsys"
	"github.com/bamsammich/tally/internal/stats"
)

const (
	DefaultMaxConcurrentTasks = 3
	DefaultTickInterval       = 500 * time.Millisecond
)

// TaskObserver receives task-level notifications from a Manager. Calls are
// made without any manager lock held.
type TaskObserver interface {
	OnTaskCompleted(Task)
	OnTaskFailed(Task, error)
	OnTaskProgress(Task, float64)
}

// TaskObserverFuncs adapts plain functions to TaskObserver. Nil fields are
// ignored.
type TaskObserverFuncs struct {
	Completed func(Task)
	Failed    func(Task, error)
	Progress  func(Task, float64)
}

func (o TaskObserverFuncs) OnTaskCompleted(t Task) {
	if o.Completed != nil {
		o.Completed(t)
	}
}

func (o TaskObserverFuncs) OnTaskFailed(t Task, err error) {
	if o.Failed != nil {
		o.Failed(t, err)
	}
}

func (o TaskObserverFuncs) OnTaskProgress(t Task, p float64) {
	if o.Progress != nil {
		o.Progress(t, p)
	}
}

// ManagerConfig configures a Manager.
type ManagerConfig struct {
	FS fsys.Provider
	// Filter, when set, is shared by every task so hard links are
	// deduplicated across scans. Otherwise each task gets its own filter
	// built from FilterOptions and Rules.
	Filter        *filter.Filter
	Observer      TaskObserver
	ScanObserver  func(taskID string) Observer
	Logger        *slog.Logger
	Rules         []filter.Rule
	FilterOptions filter.Options

	MaxConcurrentTasks int
	TickInterval       time.Duration
}

type taskEntry struct {
	scanner *Scanner
	cancel  context.CancelFunc
	task    Task

	// ctl serialises pause and resume requests with the scanner start.
	ctl sync.Mutex
	// started is set once StartScan has returned. A pause requested
	// earlier is applied right after the start.
	started bool
}

// Manager schedules scan tasks by priority under a global concurrency
// budget. Paused tasks keep their slot.
type Manager struct {
	cfg    ManagerConfig
	logger *slog.Logger
	kick   chan struct{}

	mu       sync.Mutex
	tasks    map[string]*taskEntry
	order    []*taskEntry
	queues   priorityQueues
	active   map[string]*taskEntry
	metrics  taskMetrics
	changed  chan struct{}
	ctx      context.Context
	cancel   context.CancelFunc
	loopDone chan struct{}
	started  bool
	stopped  bool
}

// NewManager creates a stopped manager. Tasks may be created before Start;
// none is admitted until the manager runs.
func NewManager(cfg ManagerConfig) *Manager {
	if cfg.MaxConcurrentTasks <= 0 {
		cfg.MaxConcurrentTasks = DefaultMaxConcurrentTasks
	}
	if cfg.TickInterval <= 0 {
		cfg.TickInterval = DefaultTickInterval
	}
	if cfg.FS == nil {
		cfg.FS = fsys.NewLocal()
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		cfg:     cfg,
		logger:  logger,
		kick:    make(chan struct{}, 1),
		tasks:   make(map[string]*taskEntry),
		active:  make(map[string]*taskEntry),
		changed: make(chan struct{}),
	}
}

// Start runs the scheduler until ctx is done or Stop is called.
func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.stopped {
		return ErrManagerStopped
	}
	if m.started {
		return nil
	}
	m.started = true
	m.ctx, m.cancel = context.WithCancel(ctx)
	m.loopDone = make(chan struct{})
	go m.loop(m.ctx, m.loopDone)
	return nil
}

// Stop cancels every pending and active task and waits for active scanners
// to finish.
func (m *Manager) Stop() {
	m.mu.Lock()
	if m.stopped {
		m.mu.Unlock()
		return
	}
	m.stopped = true
	now := time.Now()
	for e := m.queues.pop(); e != nil; e = m.queues.pop() {
		e.task.Status = TaskCancelled
		e.task.FinishedAt = now
	}
	active := make([]*taskEntry, 0, len(m.active))
	for _, e := range m.active {
		active = append(active, e)
	}
	cancel, loopDone := m.cancel, m.loopDone
	m.broadcastLocked()
	m.mu.Unlock()

	for _, e := range active {
		if e.cancel != nil {
			e.cancel()
		}
	}
	if cancel != nil {
		cancel()
	}
	if loopDone != nil {
		<-loopDone
	}
	for _, e := range active {
		_ = e.scanner.Wait(context.Background())
	}
	m.logger.Debug("task manager stopped")
}

// CreateTask registers a pending scan of root and returns its ID.
func (m *Manager) CreateTask(root string, priority Priority, cfg ScanConfig) (string, error) {
	if !priority.valid() {
		return "", fmt.Errorf("create task: unknown priority %d", priority)
	}

	id := uuid.NewString()
	obs := &taskScanObserver{m: m, id: id, next: nopObserver{}}
	if m.cfg.ScanObserver != nil {
		if next := m.cfg.ScanObserver(id); next != nil {
			obs.next = next
		}
	}
	sc := NewScanner(ScannerConfig{
		FS:       m.cfg.FS,
		Filter:   m.filterFor(),
		Observer: obs,
		Logger:   m.logger.With("task", id),
		Scan:     cfg,
	})
	obs.scanner = sc

	e := &taskEntry{
		scanner: sc,
		task: Task{
			ID:        id,
			Root:      root,
			Priority:  priority,
			Config:    sc.Config(),
			Status:    TaskPending,
			CreatedAt: time.Now(),
		},
	}

	m.mu.Lock()
	if m.stopped {
		m.mu.Unlock()
		return "", fmt.Errorf("create task: %w", ErrManagerStopped)
	}
	m.tasks[id] = e
	m.order = append(m.order, e)
	m.queues.push(e)
	m.broadcastLocked()
	m.mu.Unlock()

	m.logger.Debug("task created", "task", id, "root", root, "priority", priority.String())
	m.signal()
	return id, nil
}

func (m *Manager) filterFor() *filter.Filter {
	if m.cfg.Filter != nil {
		return m.cfg.Filter
	}
	f := filter.New(m.cfg.FilterOptions)
	for _, r := range m.cfg.Rules {
		f.AddRule(r)
	}
	return f
}

func (m *Manager) loop(ctx context.Context, done chan struct{}) {
	defer close(done)
	ticker := time.NewTicker(m.cfg.TickInterval)
	defer ticker.Stop()

	m.schedule(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-m.kick:
			m.schedule(ctx)
		case <-ticker.C:
			m.schedule(ctx)
			m.reportProgress()
		}
	}
}

func (m *Manager) signal() {
	select {
	case m.kick <- struct{}{}:
	default:
	}
}

// schedule admits pending tasks while slots are free. Scanners are started
// after the lock is released.
func (m *Manager) schedule(ctx context.Context) {
	m.mu.Lock()
	if m.stopped {
		m.mu.Unlock()
		return
	}
	type start struct {
		ctx context.Context
		e   *taskEntry
	}
	var starts []start
	for len(m.active) < m.cfg.MaxConcurrentTasks {
		e := m.queues.pop()
		if e == nil {
			break
		}
		now := time.Now()
		e.task.Status = TaskRunning
		e.task.StartedAt = now
		m.metrics.started(now.Sub(e.task.CreatedAt))
		taskCtx, cancel := context.WithCancel(ctx)
		e.cancel = cancel
		m.active[e.task.ID] = e
		starts = append(starts, start{ctx: taskCtx, e: e})
	}
	if len(starts) > 0 {
		m.broadcastLocked()
	}
	m.mu.Unlock()

	for _, st := range starts {
		m.start(st.ctx, st.e)
	}
}

// start runs the scanner of an admitted task and applies a pause that
// arrived before the scanner was running.
func (m *Manager) start(ctx context.Context, e *taskEntry) {
	id := e.task.ID
	m.logger.Debug("task started", "task", id, "root", e.task.Root)
	err := e.scanner.StartScan(ctx, e.task.Root)

	e.ctl.Lock()
	m.mu.Lock()
	e.started = true
	paused := e.task.Status == TaskPaused
	m.mu.Unlock()
	undo := paused && (err != nil || !e.scanner.PauseScan())
	if undo {
		m.undoPause(e)
	}
	e.ctl.Unlock()

	if err != nil {
		m.finish(id, TaskFailed, err)
		return
	}
	if undo {
		m.settle(e)
	}
}

// reportProgress notifies the task observer about every admitted task.
func (m *Manager) reportProgress() {
	if m.cfg.Observer == nil {
		return
	}
	m.mu.Lock()
	active := make([]*taskEntry, 0, len(m.active))
	for _, e := range m.active {
		active = append(active, e)
	}
	m.mu.Unlock()

	for _, e := range active {
		t := m.snapshot(e)
		m.cfg.Observer.OnTaskProgress(t, t.Progress)
	}
}

// finish moves a task to a terminal status. Repeated calls are ignored.
// The slot is released after the task observer has been told, so Wait
// returns only once every callback for the task has run.
func (m *Manager) finish(id string, status TaskStatus, err error) {
	m.mu.Lock()
	e, ok := m.tasks[id]
	m.mu.Unlock()
	if !ok {
		return
	}
	snap := e.scanner.Statistics()
	errs := e.scanner.Errors()
	progress := e.scanner.Progress()

	m.mu.Lock()
	if !e.task.Status.canTransition(status) {
		m.mu.Unlock()
		return
	}
	now := time.Now()
	e.task.Status = status
	e.task.FinishedAt = now
	e.task.Err = err
	e.task.Stats = snap
	e.task.Errors = errs
	e.task.Progress = progress
	m.metrics.finished(e.task.ExecutionTime(), status == TaskCompleted, now)
	task := e.task
	task.Errors = slices.Clone(errs)
	cancel := e.cancel
	m.mu.Unlock()

	if cancel != nil {
		cancel()
	}

	switch status {
	case TaskCompleted:
		m.logger.Debug("task completed", "task", id, "stats", snap.String())
		if m.cfg.Observer != nil {
			m.cfg.Observer.OnTaskCompleted(task)
		}
	case TaskFailed:
		m.logger.Warn("task failed", "task", id, "root", task.Root, "error", err)
		if m.cfg.Observer != nil {
			m.cfg.Observer.OnTaskFailed(task, err)
		}
	default:
		m.logger.Debug("task cancelled", "task", id)
	}

	m.mu.Lock()
	delete(m.active, id)
	m.broadcastLocked()
	m.mu.Unlock()
	m.signal()
}

// Pause suspends a running task. It keeps its slot.
func (m *Manager) Pause(id string) error {
	e, started, err := m.control(id, "pause", TaskRunning, TaskPaused)
	if err != nil {
		return err
	}
	ok := !started || e.scanner.PauseScan()
	if !ok {
		m.undoPause(e)
	}
	e.ctl.Unlock()
	if !ok {
		m.settle(e)
		return fmt.Errorf("pause task %s: %w", id, ErrInvalidState)
	}
	return nil
}

// Resume continues a paused task.
func (m *Manager) Resume(id string) error {
	e, started, err := m.control(id, "resume", TaskPaused, TaskRunning)
	if err != nil {
		return err
	}
	ok := !started || e.scanner.ResumeScan()
	e.ctl.Unlock()
	if !ok {
		m.settle(e)
		return fmt.Errorf("resume task %s: %w", id, ErrInvalidState)
	}
	return nil
}

// Cancel stops a task. A pending task is removed from its queue without
// ever starting.
func (m *Manager) Cancel(id string) error {
	m.mu.Lock()
	e, ok := m.tasks[id]
	if !ok {
		m.mu.Unlock()
		return fmt.Errorf("cancel %s: %w", id, ErrTaskNotFound)
	}
	switch e.task.Status {
	case TaskPending:
		m.queues.remove(e)
		e.task.Status = TaskCancelled
		e.task.FinishedAt = time.Now()
		m.broadcastLocked()
		m.mu.Unlock()
		m.logger.Debug("pending task cancelled", "task", id)
		return nil
	case TaskRunning, TaskPaused:
		cancel := e.cancel
		m.mu.Unlock()
		if cancel != nil {
			cancel()
		}
		e.scanner.CancelScan()
		return nil
	default:
		st := e.task.Status
		m.mu.Unlock()
		return fmt.Errorf("cancel task %s while %s: %w", id, st, ErrInvalidState)
	}
}

// control moves a task from want to to and reports whether its scanner is
// running. On success e.ctl is still held so the caller can drive the
// scanner before another request interleaves.
func (m *Manager) control(id, op string, want, to TaskStatus) (*taskEntry, bool, error) {
	m.mu.Lock()
	e, ok := m.tasks[id]
	m.mu.Unlock()
	if !ok {
		return nil, false, fmt.Errorf("%s %s: %w", op, id, ErrTaskNotFound)
	}

	e.ctl.Lock()
	m.mu.Lock()
	defer m.mu.Unlock()
	if e.task.Status != want {
		e.ctl.Unlock()
		return nil, false, fmt.Errorf("%s task %s while %s: %w", op, id, e.task.Status, ErrInvalidState)
	}
	e.task.Status = to
	m.broadcastLocked()
	return e, e.started, nil
}

// undoPause returns a task to running when its scanner refused the pause.
func (m *Manager) undoPause(e *taskEntry) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if e.task.Status == TaskPaused {
		e.task.Status = TaskRunning
		m.broadcastLocked()
	}
}

// settle finishes a task whose scanner already stopped. A terminal report
// that arrived while the task was marked paused was refused by finish and
// is applied here instead.
func (m *Manager) settle(e *taskEntry) {
	m.finishScan(e.task.ID, e.scanner, e.scanner.State())
}

// broadcastLocked wakes every Wait call. m.mu must be held.
func (m *Manager) broadcastLocked() {
	close(m.changed)
	m.changed = make(chan struct{})
}

// Task returns a copy of the task with live statistics.
func (m *Manager) Task(id string) (Task, error) {
	m.mu.Lock()
	e, ok := m.tasks[id]
	m.mu.Unlock()
	if !ok {
		return Task{}, fmt.Errorf("task %s: %w", id, ErrTaskNotFound)
	}
	return m.snapshot(e), nil
}

// Tasks returns every known task in creation order.
func (m *Manager) Tasks() []Task {
	m.mu.Lock()
	entries := slices.Clone(m.order)
	m.mu.Unlock()

	out := make([]Task, len(entries))
	for i, e := range entries {
		out[i] = m.snapshot(e)
	}
	return out
}

func (m *Manager) snapshot(e *taskEntry) Task {
	m.mu.Lock()
	t := e.task
	m.mu.Unlock()

	if t.Status == TaskRunning || t.Status == TaskPaused {
		t.Stats = e.scanner.Statistics()
		t.Progress = e.scanner.Progress()
		t.Errors = e.scanner.Errors()
	} else {
		t.Errors = slices.Clone(t.Errors)
	}
	return t
}

// Stats returns per-status counts and timing metrics.
func (m *Manager) Stats() ManagerStats {
	m.mu.Lock()
	defer m.mu.Unlock()

	var s ManagerStats
	for _, e := range m.tasks {
		switch e.task.Status {
		case TaskPending:
			s.Pending++
		case TaskRunning:
			s.Running++
		case TaskPaused:
			s.Paused++
		case TaskCompleted:
			s.Completed++
		case TaskCancelled:
			s.Cancelled++
		case TaskFailed:
			s.Failed++
		}
	}
	m.metrics.fill(&s, time.Now())
	return s
}

// Cleanup forgets every terminal task and returns how many were removed.
func (m *Manager) Cleanup() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	kept := m.order[:0]
	removed := 0
	for _, e := range m.order {
		if e.task.Status.Terminal() {
			delete(m.tasks, e.task.ID)
			removed++
			continue
		}
		kept = append(kept, e)
	}
	clear(m.order[len(kept):])
	m.order = kept
	if removed > 0 {
		m.broadcastLocked()
	}
	return removed
}

// Wait blocks until no task is pending or admitted, or ctx is done.
func (m *Manager) Wait(ctx context.Context) error {
	for {
		m.mu.Lock()
		idle := m.queues.len() == 0 && len(m.active) == 0
		changed := m.changed
		m.mu.Unlock()
		if idle {
			return nil
		}
		select {
		case <-changed:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// taskScanObserver forwards scanner notifications and reports terminal
// states back to the manager.
type taskScanObserver struct {
	m       *Manager
	next    Observer
	scanner *Scanner
	id      string
}

func (o *taskScanObserver) OnFileDiscovered(n FileNode) { o.next.OnFileDiscovered(n) }
func (o *taskScanObserver) OnProgress(s stats.Snapshot) { o.next.OnProgress(s) }
func (o *taskScanObserver) OnError(e ScanError)         { o.next.OnError(e) }

func (o *taskScanObserver) OnStateChange(s ScanState) {
	o.next.OnStateChange(s)
	o.m.finishScan(o.id, o.scanner, s)
}

// finishScan ends the task when s is a terminal scanner state.
func (m *Manager) finishScan(id string, sc *Scanner, s ScanState) {
	switch s {
	case StateCompleted:
		m.finish(id, TaskCompleted, nil)
	case StateCancelled:
		m.finish(id, TaskCancelled, nil)
	case StateError:
		m.finish(id, TaskFailed, scanFailure(sc))
	}
}

func scanFailure(sc *Scanner) error {
	if errs := sc.Errors(); len(errs) > 0 {
		return errs[0]
	}
	return errors.New("scan failed")
}
