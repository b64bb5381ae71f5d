package engine

import "time"

// completionWindow is the span used for the completions-per-hour rate.
const completionWindow = time.Hour

// ManagerStats summarises the task manager.
type ManagerStats struct {
	Pending            int           `json:"pending"`
	Running            int           `json:"running"`
	Paused             int           `json:"paused"`
	Completed          int           `json:"completed"`
	Cancelled          int           `json:"cancelled"`
	Failed             int           `json:"failed"`
	AvgExecutionTime   time.Duration `json:"avg_execution_time"`
	AvgWaitTime        time.Duration `json:"avg_wait_time"`
	CompletionsPerHour float64       `json:"completions_per_hour"`
}

// Total is the number of tasks currently known to the manager.
func (s ManagerStats) Total() int {
	return s.Pending + s.Running + s.Paused + s.Completed + s.Cancelled + s.Failed
}

// taskMetrics accumulates timings so they survive Cleanup.
type taskMetrics struct {
	completions []time.Time
	execTotal   time.Duration
	execCount   int
	waitTotal   time.Duration
	waitCount   int
}

func (m *taskMetrics) started(wait time.Duration) {
	m.waitTotal += wait
	m.waitCount++
}

func (m *taskMetrics) finished(exec time.Duration, completed bool, now time.Time) {
	m.execTotal += exec
	m.execCount++
	if completed {
		m.completions = append(m.completions, now)
	}
	m.prune(now)
}

func (m *taskMetrics) prune(now time.Time) {
	cutoff := now.Add(-completionWindow)
	i := 0
	for i < len(m.completions) && !m.completions[i].After(cutoff) {
		i++
	}
	m.completions = m.completions[i:]
}

func (m *taskMetrics) fill(s *ManagerStats, now time.Time) {
	m.prune(now)
	if m.execCount > 0 {
		s.AvgExecutionTime = m.execTotal / time.Duration(m.execCount)
	}
	if m.waitCount > 0 {
		s.AvgWaitTime = m.waitTotal / time.Duration(m.waitCount)
	}
	s.CompletionsPerHour = float64(len(m.completions)) * float64(time.Hour) / float64(completionWindow)
}
