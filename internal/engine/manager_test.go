package engine

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bamsammich/tally/internal/event"
	"github.com/bamsammich/tally/internal/filter"
	"github.com/bamsammich/tally/internal/fsys"
	"github.com/bamsammich/tally/internal/stats"
)

// startLog records the order in which tasks begin scanning and how many run
// at once.
type startLog struct {
	mu      sync.Mutex
	order   []string
	running int
	peak    int
}

func (l *startLog) observer(id string) Observer {
	return ObserverFuncs{StateChange: func(s ScanState) {
		l.mu.Lock()
		defer l.mu.Unlock()
		switch {
		case s == StateScanning:
			if !contains(l.order, id) {
				l.order = append(l.order, id)
				l.running++
				l.peak = max(l.peak, l.running)
			}
		case s.Terminal():
			if contains(l.order, id) {
				l.running--
			}
		}
	}}
}

func (l *startLog) snapshot() ([]string, int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.order...), l.peak
}

func contains(list []string, s string) bool {
	for _, x := range list {
		if x == s {
			return true
		}
	}
	return false
}

func waitIdle(t *testing.T, m *Manager) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	require.NoError(t, m.Wait(ctx))
}

func TestManager_PriorityOrder(t *testing.T) {
	t.Parallel()
	root := t.TempDir()
	createTestTree(t, root)

	log := &startLog{}
	m := NewManager(ManagerConfig{MaxConcurrentTasks: 1, ScanObserver: log.observer})
	defer m.Stop()

	a, err := m.CreateTask(root, PriorityLow, ScanConfig{})
	require.NoError(t, err)
	b, err := m.CreateTask(root, PriorityUrgent, ScanConfig{})
	require.NoError(t, err)
	c, err := m.CreateTask(root, PriorityNormal, ScanConfig{})
	require.NoError(t, err)

	require.NoError(t, m.Start(context.Background()))
	waitIdle(t, m)

	order, peak := log.snapshot()
	assert.Equal(t, []string{b, c, a}, order)
	assert.Equal(t, 1, peak)

	for _, id := range []string{a, b, c} {
		task, err := m.Task(id)
		require.NoError(t, err)
		assert.Equal(t, TaskCompleted, task.Status)
		assert.Equal(t, int64(6), task.Stats.FilesScanned)
		assert.InDelta(t, 1.0, task.Progress, 0.0001)
	}
}

func TestManager_ConcurrencyBound(t *testing.T) {
	t.Parallel()
	root := t.TempDir()
	createTestTree(t, root)

	log := &startLog{}
	m := NewManager(ManagerConfig{
		MaxConcurrentTasks: 2,
		FS:                 slowFS{Provider: fsys.NewLocal(), delay: 2 * time.Millisecond},
		ScanObserver:       log.observer,
	})
	defer m.Stop()
	require.NoError(t, m.Start(context.Background()))

	for range 6 {
		_, err := m.CreateTask(root, PriorityNormal, ScanConfig{})
		require.NoError(t, err)
	}
	waitIdle(t, m)

	order, peak := log.snapshot()
	assert.Len(t, order, 6)
	assert.LessOrEqual(t, peak, 2)
	assert.Equal(t, 6, m.Stats().Completed)
}

func TestManager_CancelPendingNeverStarts(t *testing.T) {
	t.Parallel()
	root := t.TempDir()
	createTestTree(t, root)

	log := &startLog{}
	m := NewManager(ManagerConfig{MaxConcurrentTasks: 1, ScanObserver: log.observer})
	defer m.Stop()

	id, err := m.CreateTask(root, PriorityHigh, ScanConfig{})
	require.NoError(t, err)
	keep, err := m.CreateTask(root, PriorityLow, ScanConfig{})
	require.NoError(t, err)

	require.NoError(t, m.Cancel(id))
	task, err := m.Task(id)
	require.NoError(t, err)
	assert.Equal(t, TaskCancelled, task.Status)
	assert.True(t, task.StartedAt.IsZero())

	require.NoError(t, m.Start(context.Background()))
	waitIdle(t, m)

	order, _ := log.snapshot()
	assert.Equal(t, []string{keep}, order)
	assert.ErrorIs(t, m.Cancel(id), ErrInvalidState)
}

func TestManager_UnknownTask(t *testing.T) {
	t.Parallel()
	m := NewManager(ManagerConfig{})
	defer m.Stop()

	_, err := m.Task("nope")
	assert.ErrorIs(t, err, ErrTaskNotFound)
	assert.ErrorIs(t, m.Pause("nope"), ErrTaskNotFound)
	assert.ErrorIs(t, m.Resume("nope"), ErrTaskNotFound)
	assert.ErrorIs(t, m.Cancel("nope"), ErrTaskNotFound)
}

func TestManager_InvalidPriority(t *testing.T) {
	t.Parallel()
	m := NewManager(ManagerConfig{})
	_, err := m.CreateTask(t.TempDir(), Priority(9), ScanConfig{})
	assert.Error(t, err)
}

func TestManager_FailedTaskDoesNotBlockOthers(t *testing.T) {
	t.Parallel()
	root := t.TempDir()
	createTestTree(t, root)

	var mu sync.Mutex
	var failed []string
	var failErr error
	var completed []string
	m := NewManager(ManagerConfig{
		MaxConcurrentTasks: 1,
		Observer: TaskObserverFuncs{
			Completed: func(task Task) {
				mu.Lock()
				defer mu.Unlock()
				completed = append(completed, task.ID)
			},
			Failed: func(task Task, err error) {
				mu.Lock()
				defer mu.Unlock()
				failed = append(failed, task.ID)
				failErr = err
			},
		},
	})
	defer m.Stop()

	bad, err := m.CreateTask(filepath.Join(root, "missing"), PriorityUrgent, ScanConfig{})
	require.NoError(t, err)
	good, err := m.CreateTask(root, PriorityLow, ScanConfig{})
	require.NoError(t, err)

	require.NoError(t, m.Start(context.Background()))
	waitIdle(t, m)

	mu.Lock()
	assert.Equal(t, []string{bad}, failed)
	assert.Equal(t, []string{good}, completed)
	var se ScanError
	require.ErrorAs(t, failErr, &se)
	assert.Equal(t, CategoryFileNotFound, se.Category)
	mu.Unlock()

	task, err := m.Task(bad)
	require.NoError(t, err)
	assert.Equal(t, TaskFailed, task.Status)
	require.Error(t, task.Err)
	assert.Len(t, task.Errors, 1)

	s := m.Stats()
	assert.Equal(t, 1, s.Failed)
	assert.Equal(t, 1, s.Completed)
}

func TestManager_PauseResume(t *testing.T) {
	t.Parallel()
	root := t.TempDir()
	for i := range 40 {
		writeFile(t, filepath.Join(root, fmt.Sprintf("d%d", i%4), fmt.Sprintf("f%02d", i)), 1)
	}

	m := NewManager(ManagerConfig{
		MaxConcurrentTasks: 1,
		FS:                 slowFS{Provider: fsys.NewLocal(), delay: 5 * time.Millisecond},
	})
	defer m.Stop()

	id, err := m.CreateTask(root, PriorityNormal, ScanConfig{MaxConcurrency: 2})
	require.NoError(t, err)
	other, err := m.CreateTask(root, PriorityNormal, ScanConfig{})
	require.NoError(t, err)
	assert.ErrorIs(t, m.Pause(id), ErrInvalidState, "pending tasks cannot be paused")

	require.NoError(t, m.Start(context.Background()))
	require.Eventually(t, func() bool {
		task, _ := m.Task(id)
		return task.Status == TaskRunning && task.Stats.DirectoriesScanned > 0
	}, 5*time.Second, time.Millisecond)

	require.NoError(t, m.Pause(id))
	task, err := m.Task(id)
	require.NoError(t, err)
	assert.Equal(t, TaskPaused, task.Status)
	assert.ErrorIs(t, m.Resume(other), ErrInvalidState)

	// A paused task keeps its slot.
	time.Sleep(100 * time.Millisecond)
	otherTask, err := m.Task(other)
	require.NoError(t, err)
	assert.Equal(t, TaskPending, otherTask.Status)

	require.NoError(t, m.Resume(id))
	waitIdle(t, m)

	task, err = m.Task(id)
	require.NoError(t, err)
	assert.Equal(t, TaskCompleted, task.Status)
	assert.Equal(t, int64(40), task.Stats.FilesScanned)
}

func TestManager_CancelRunning(t *testing.T) {
	t.Parallel()
	root := t.TempDir()
	createTestTree(t, root)

	m := NewManager(ManagerConfig{FS: slowFS{Provider: fsys.NewLocal(), delay: 20 * time.Millisecond}})
	defer m.Stop()
	require.NoError(t, m.Start(context.Background()))

	id, err := m.CreateTask(root, PriorityNormal, ScanConfig{MaxConcurrency: 1})
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		task, _ := m.Task(id)
		return task.Status == TaskRunning
	}, 5*time.Second, time.Millisecond)

	require.NoError(t, m.Cancel(id))
	waitIdle(t, m)

	task, err := m.Task(id)
	require.NoError(t, err)
	assert.Equal(t, TaskCancelled, task.Status)
	assert.Less(t, task.Stats.FilesScanned, int64(6))
}

func TestManager_ProgressTicks(t *testing.T) {
	t.Parallel()
	root := t.TempDir()
	createTestTree(t, root)

	var mu sync.Mutex
	var fractions []float64
	m := NewManager(ManagerConfig{
		TickInterval: 5 * time.Millisecond,
		FS:           slowFS{Provider: fsys.NewLocal(), delay: 10 * time.Millisecond},
		Observer: TaskObserverFuncs{Progress: func(_ Task, f float64) {
			mu.Lock()
			defer mu.Unlock()
			fractions = append(fractions, f)
		}},
	})
	defer m.Stop()
	require.NoError(t, m.Start(context.Background()))

	_, err := m.CreateTask(root, PriorityNormal, ScanConfig{MaxConcurrency: 1})
	require.NoError(t, err)
	waitIdle(t, m)

	mu.Lock()
	defer mu.Unlock()
	require.NotEmpty(t, fractions)
	for _, f := range fractions {
		assert.GreaterOrEqual(t, f, 0.0)
		assert.LessOrEqual(t, f, 1.0)
	}
}

func TestManager_SharedFilterDedupsAcrossTasks(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	first := filepath.Join(dir, "first")
	second := filepath.Join(dir, "second")
	writeFile(t, filepath.Join(first, "data"), 10)
	require.NoError(t, os.MkdirAll(second, 0o755))
	require.NoError(t, os.Link(filepath.Join(first, "data"), filepath.Join(second, "data")))

	m := NewManager(ManagerConfig{MaxConcurrentTasks: 1, Filter: filter.New(filter.DefaultOptions())})
	defer m.Stop()
	require.NoError(t, m.Start(context.Background()))

	a, err := m.CreateTask(first, PriorityNormal, ScanConfig{})
	require.NoError(t, err)
	b, err := m.CreateTask(second, PriorityNormal, ScanConfig{})
	require.NoError(t, err)
	waitIdle(t, m)

	ta, _ := m.Task(a)
	tb, _ := m.Task(b)
	assert.Equal(t, int64(1), ta.Stats.FilesScanned+tb.Stats.FilesScanned)
}

func TestManager_PerTaskRules(t *testing.T) {
	t.Parallel()
	root := t.TempDir()
	createTestTree(t, root)

	m := NewManager(ManagerConfig{
		Rules: []filter.Rule{{ID: "no-logs", Type: filter.RuleExtension, Operation: filter.Exclude, Pattern: "log", Enabled: true}},
	})
	defer m.Stop()
	require.NoError(t, m.Start(context.Background()))

	id, err := m.CreateTask(root, PriorityNormal, ScanConfig{})
	require.NoError(t, err)
	waitIdle(t, m)

	task, _ := m.Task(id)
	assert.Equal(t, int64(5), task.Stats.FilesScanned)
	assert.Equal(t, int64(1), task.Stats.SkippedFiles)
}

func TestManager_StatsAndCleanup(t *testing.T) {
	t.Parallel()
	root := t.TempDir()
	createTestTree(t, root)

	m := NewManager(ManagerConfig{})
	defer m.Stop()
	require.NoError(t, m.Start(context.Background()))

	for range 2 {
		_, err := m.CreateTask(root, PriorityNormal, ScanConfig{})
		require.NoError(t, err)
	}
	waitIdle(t, m)

	s := m.Stats()
	assert.Equal(t, 2, s.Completed)
	assert.Equal(t, 2, s.Total())
	assert.InDelta(t, 2.0, s.CompletionsPerHour, 0.001)
	assert.GreaterOrEqual(t, s.AvgWaitTime, time.Duration(0))
	assert.Positive(t, s.AvgExecutionTime)

	assert.Len(t, m.Tasks(), 2)
	assert.Equal(t, 2, m.Cleanup())
	assert.Empty(t, m.Tasks())
	assert.Zero(t, m.Cleanup())

	s = m.Stats()
	assert.Zero(t, s.Total())
	assert.InDelta(t, 2.0, s.CompletionsPerHour, 0.001, "rolling metrics survive cleanup")
}

func TestManager_Stop(t *testing.T) {
	t.Parallel()
	root := t.TempDir()
	createTestTree(t, root)

	m := NewManager(ManagerConfig{
		MaxConcurrentTasks: 1,
		FS:                 slowFS{Provider: fsys.NewLocal(), delay: 20 * time.Millisecond},
	})
	require.NoError(t, m.Start(context.Background()))

	running, err := m.CreateTask(root, PriorityNormal, ScanConfig{})
	require.NoError(t, err)
	queued, err := m.CreateTask(root, PriorityNormal, ScanConfig{})
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		task, _ := m.Task(running)
		return task.Status == TaskRunning
	}, 5*time.Second, time.Millisecond)

	m.Stop()
	m.Stop()

	for _, id := range []string{running, queued} {
		task, err := m.Task(id)
		require.NoError(t, err)
		assert.Equal(t, TaskCancelled, task.Status, id)
	}
	_, err = m.CreateTask(root, PriorityNormal, ScanConfig{})
	assert.ErrorIs(t, err, ErrManagerStopped)
	assert.ErrorIs(t, m.Start(context.Background()), ErrManagerStopped)
	waitIdle(t, m)
}

func TestManager_ForwardsScanEvents(t *testing.T) {
	t.Parallel()
	root := t.TempDir()
	createTestTree(t, root)

	var mu sync.Mutex
	files := map[string]int{}
	var last stats.Snapshot
	m := NewManager(ManagerConfig{
		ScanObserver: func(id string) Observer {
			return ObserverFuncs{
				FileDiscovered: func(n FileNode) {
					mu.Lock()
					defer mu.Unlock()
					if !n.IsDir {
						files[id]++
					}
				},
				Progress: func(s stats.Snapshot) {
					mu.Lock()
					defer mu.Unlock()
					last = s
				},
			}
		},
	})
	defer m.Stop()
	require.NoError(t, m.Start(context.Background()))

	id, err := m.CreateTask(root, PriorityNormal, ScanConfig{})
	require.NoError(t, err)
	waitIdle(t, m)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 6, files[id])
	assert.Equal(t, int64(6), last.FilesScanned)
}

func TestManager_EventObservers(t *testing.T) {
	t.Parallel()
	root := t.TempDir()
	createTestTree(t, root)

	events := make(chan event.Event, 1024)
	m := NewManager(ManagerConfig{
		Observer:     NewTaskEventObserver(events),
		ScanObserver: func(id string) Observer { return NewEventObserver(events, id) },
	})
	defer m.Stop()
	require.NoError(t, m.Start(context.Background()))

	id, err := m.CreateTask(root, PriorityNormal, ScanConfig{})
	require.NoError(t, err)
	waitIdle(t, m)
	m.Stop() // no more progress ticks
	close(events)

	var (
		files     int
		states    []string
		completed []event.Event
	)
	for ev := range events {
		assert.Equal(t, id, ev.TaskID)
		switch ev.Type {
		case event.FileDiscovered:
			if !ev.IsDir {
				files++
			}
		case event.StateChanged:
			states = append(states, ev.State)
		case event.TaskCompleted:
			completed = append(completed, ev)
		}
	}
	assert.Equal(t, 6, files)
	assert.Equal(t, []string{"scanning", "completed"}, states)
	require.Len(t, completed, 1)
	assert.Equal(t, root, completed[0].Path)
	assert.Equal(t, "completed", completed[0].State)
	assert.Equal(t, int64(6), completed[0].Files)
	assert.Equal(t, int64(testTreeBytes), completed[0].Size)
	assert.InDelta(t, 1.0, completed[0].Fraction, 1e-9)
}

func TestTaskEventObserverFailedAndProgress(t *testing.T) {
	t.Parallel()
	events := make(chan event.Event, 1)
	o := NewTaskEventObserver(events)
	task := Task{ID: "t1", Root: "/r", Status: TaskRunning}

	o.OnTaskProgress(task, 0.25)
	o.OnTaskProgress(task, 0.5) // channel full: dropped
	ev := <-events
	assert.Equal(t, event.TaskProgress, ev.Type)
	assert.InDelta(t, 0.25, ev.Fraction, 1e-9)

	task.Status = TaskFailed
	o.OnTaskFailed(task, assert.AnError)
	ev = <-events
	assert.Equal(t, event.TaskFailed, ev.Type)
	assert.Equal(t, "failed", ev.State)
	assert.ErrorIs(t, ev.Error, assert.AnError)
}

func TestManager_PausedTaskWaitsForResume(t *testing.T) {
	t.Parallel()
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "only.txt"), 4)

	gate := newGateFS("lstat")
	m := NewManager(ManagerConfig{FS: gate})
	defer m.Stop()
	require.NoError(t, m.Start(context.Background()))

	id, err := m.CreateTask(root, PriorityNormal, ScanConfig{})
	require.NoError(t, err)
	gate.waitEntered(t)

	require.NoError(t, m.Pause(id))
	gate.release()

	assert.Never(t, func() bool {
		task, _ := m.Task(id)
		return task.Status != TaskPaused
	}, 300*time.Millisecond, 10*time.Millisecond, "a paused task only leaves paused through resume or cancel")

	require.NoError(t, m.Resume(id))
	waitIdle(t, m)
	task, err := m.Task(id)
	require.NoError(t, err)
	assert.Equal(t, TaskCompleted, task.Status)
	assert.Equal(t, int64(1), task.Stats.FilesScanned)
}

func TestManager_PauseBeforeScannerStarts(t *testing.T) {
	t.Parallel()
	root := t.TempDir()
	createTestTree(t, root)

	gate := newGateFS("exists")
	m := NewManager(ManagerConfig{FS: gate})
	defer m.Stop()
	require.NoError(t, m.Start(context.Background()))

	id, err := m.CreateTask(root, PriorityNormal, ScanConfig{})
	require.NoError(t, err)
	gate.waitEntered(t)

	task, err := m.Task(id)
	require.NoError(t, err)
	require.Equal(t, TaskRunning, task.Status)
	require.NoError(t, m.Pause(id))

	gate.release()
	m.mu.Lock()
	sc := m.tasks[id].scanner
	m.mu.Unlock()
	require.Eventually(t, func() bool { return sc.State() == StatePaused }, 5*time.Second, time.Millisecond)

	task, err = m.Task(id)
	require.NoError(t, err)
	assert.Equal(t, TaskPaused, task.Status)

	require.NoError(t, m.Resume(id))
	waitIdle(t, m)
	task, err = m.Task(id)
	require.NoError(t, err)
	assert.Equal(t, TaskCompleted, task.Status)
}

func TestManager_ResumeBeforeScannerStarts(t *testing.T) {
	t.Parallel()
	root := t.TempDir()
	createTestTree(t, root)

	gate := newGateFS("exists")
	m := NewManager(ManagerConfig{FS: gate})
	defer m.Stop()
	require.NoError(t, m.Start(context.Background()))

	id, err := m.CreateTask(root, PriorityNormal, ScanConfig{})
	require.NoError(t, err)
	gate.waitEntered(t)

	require.NoError(t, m.Pause(id))
	require.NoError(t, m.Resume(id))
	gate.release()
	waitIdle(t, m)

	task, err := m.Task(id)
	require.NoError(t, err)
	assert.Equal(t, TaskCompleted, task.Status)
}

func TestManager_PauseBeforeStartOfMissingRoot(t *testing.T) {
	t.Parallel()
	gate := newGateFS("exists")
	m := NewManager(ManagerConfig{FS: gate})
	defer m.Stop()
	require.NoError(t, m.Start(context.Background()))

	id, err := m.CreateTask(filepath.Join(t.TempDir(), "missing"), PriorityNormal, ScanConfig{})
	require.NoError(t, err)
	gate.waitEntered(t)

	require.NoError(t, m.Pause(id))
	gate.release()
	waitIdle(t, m)

	task, err := m.Task(id)
	require.NoError(t, err)
	assert.Equal(t, TaskFailed, task.Status)
	assert.Error(t, task.Err)
}
