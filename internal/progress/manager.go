// Package progress aggregates per-task scan samples into periodic
// statistics: rates, percentage complete, and ETA.
package progress

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/bamsammich/tally/internal/stats"
)

const (
	DefaultInterval    = 100 * time.Millisecond
	DefaultBufferSize  = 1000
	DefaultHistorySize = 1000

	updatesBuffer = 16
)

// Config tunes a Manager. Zero values take the defaults.
type Config struct {
	// OnUpdate, if set, is called synchronously after each computed tick.
	OnUpdate    func(Statistics)
	Logger      *slog.Logger
	Interval    time.Duration
	BufferSize  int
	HistorySize int
}

// Manager buffers raw samples and turns them into Statistics on a fixed
// tick. AddEvent never blocks; when the buffer is full the oldest sample is
// overwritten.
type Manager struct {
	cfg Config
	log *slog.Logger

	bufMu   sync.Mutex
	buf     *ring[Event]
	dropped uint64

	mu      sync.Mutex
	latest  map[string]Event
	history *ring[Statistics]
	current Statistics
	origin  time.Time
	cancel  context.CancelFunc
	done    chan struct{}

	updates chan Statistics
}

func NewManager(cfg Config) *Manager {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultInterval
	}
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = DefaultBufferSize
	}
	if cfg.HistorySize <= 0 {
		cfg.HistorySize = DefaultHistorySize
	}
	log := cfg.Logger
	if log == nil {
		log = slog.Default()
	}
	return &Manager{
		cfg:     cfg,
		log:     log,
		buf:     newRing[Event](cfg.BufferSize),
		latest:  make(map[string]Event),
		history: newRing[Statistics](cfg.HistorySize),
		updates: make(chan Statistics, updatesBuffer),
	}
}

// AddEvent queues a sample for the next tick.
func (m *Manager) AddEvent(e Event) {
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now()
	}
	m.bufMu.Lock()
	if m.buf.push(e) {
		m.dropped++
	}
	m.bufMu.Unlock()
}

// Track records a task's cumulative counters. The total is extrapolated
// from the share of discovered directories already completed; a finished
// snapshot counts as complete.
func (m *Manager) Track(taskID string, s stats.Snapshot) {
	var fraction float64
	switch {
	case !s.EndTime.IsZero():
		fraction = 1
	case s.DirectoriesScanned > 0:
		fraction = float64(s.DirectoriesCompleted) / float64(s.DirectoriesScanned)
	}
	m.AddEvent(Event{
		TaskID:         taskID,
		Stats:          s,
		EstimatedTotal: EstimateTotal(s.Items(), fraction),
	})
}

// Dropped reports how many samples were overwritten before a tick consumed
// them.
func (m *Manager) Dropped() uint64 {
	m.bufMu.Lock()
	defer m.bufMu.Unlock()
	return m.dropped
}

// Updates delivers computed statistics. Slow readers lose the oldest values.
func (m *Manager) Updates() <-chan Statistics {
	return m.updates
}

// StartTracking resets the elapsed-time origin, discards history and unread
// updates, then starts the ticker. It is a no-op while already tracking.
func (m *Manager) StartTracking(ctx context.Context) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.cancel != nil {
		return
	}
	m.origin = time.Now()
	m.history.reset()
	clear(m.latest)
	m.current = Statistics{}
	for len(m.updates) > 0 {
		select {
		case <-m.updates:
		default:
		}
	}

	ctx, cancel := context.WithCancel(ctx)
	m.cancel = cancel
	m.done = make(chan struct{})
	go m.run(ctx, m.done)
	m.log.Debug("progress tracking started", "interval", m.cfg.Interval)
}

// StopTracking halts the ticker after computing one last tick. Calling it
// when not tracking does nothing.
func (m *Manager) StopTracking() {
	m.mu.Lock()
	cancel, done := m.cancel, m.done
	m.cancel, m.done = nil, nil
	m.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	<-done
	m.Flush()
	m.log.Debug("progress tracking stopped")
}

func (m *Manager) run(ctx context.Context, done chan struct{}) {
	defer close(done)
	ticker := time.NewTicker(m.cfg.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.Flush()
		}
	}
}

// Flush computes statistics from everything buffered so far and returns
// them. Before any sample has arrived the result is zeroed.
func (m *Manager) Flush() Statistics {
	m.bufMu.Lock()
	events := m.buf.drain()
	m.bufMu.Unlock()

	now := time.Now()
	m.mu.Lock()
	for _, e := range events {
		if prev, ok := m.latest[e.TaskID]; ok {
			e.Stats = prev.Stats.Max(e.Stats)
		}
		m.latest[e.TaskID] = e
	}
	if len(m.latest) == 0 {
		m.mu.Unlock()
		return Statistics{}
	}

	sum, total := m.sumLocked()
	if m.origin.IsZero() {
		m.origin = now
	}
	st := derive(sum, total, now.Sub(m.origin), len(m.latest), now)
	m.current = st
	m.history.push(st)
	m.mu.Unlock()

	m.publish(st)
	if m.cfg.OnUpdate != nil {
		m.cfg.OnUpdate(st)
	}
	return st
}

func (m *Manager) publish(st Statistics) {
	for {
		select {
		case m.updates <- st:
			return
		default:
		}
		select {
		case <-m.updates:
		default:
		}
	}
}

// sumLocked adds up the latest sample of every task. The estimated total is
// known only when every task has reported one.
func (m *Manager) sumLocked() (stats.Snapshot, int64) {
	var (
		sum   stats.Snapshot
		total int64
		known = true
	)
	for _, e := range m.latest {
		sum = sum.Add(e.Stats)
		if e.EstimatedTotal <= 0 {
			known = false
			continue
		}
		total += max(e.EstimatedTotal, e.Stats.Items())
	}
	if !known {
		total = 0
	}
	return sum, total
}

// Current returns the most recently computed statistics.
func (m *Manager) Current() Statistics {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.current
}

// History returns computed statistics oldest first, capped at HistorySize.
func (m *Manager) History() []Statistics {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.history.items()
}
