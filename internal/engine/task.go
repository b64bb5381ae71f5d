package engine

import (
	"fmt"
	"strings"
	"time"

	"github.com/bamsammich/tally/internal/stats"
)

// Priority orders pending tasks. Higher values are admitted first.
type Priority int

const (
	PriorityLow Priority = iota
	PriorityNormal
	PriorityHigh
	PriorityUrgent

	numPriorities = int(PriorityUrgent) + 1
)

var priorityNames = [...]string{
	PriorityLow:    "low",
	PriorityNormal: "normal",
	PriorityHigh:   "high",
	PriorityUrgent: "urgent",
}

func (p Priority) String() string {
	if p.valid() {
		return priorityNames[p]
	}
	return "unknown"
}

// MarshalText encodes the priority by name.
func (p Priority) MarshalText() ([]byte, error) {
	return []byte(p.String()), nil
}

// UnmarshalText decodes a priority name.
func (p *Priority) UnmarshalText(text []byte) error {
	v, err := ParsePriority(string(text))
	if err != nil {
		return err
	}
	*p = v
	return nil
}

func (p Priority) valid() bool {
	return p >= PriorityLow && p <= PriorityUrgent
}

// ParsePriority accepts the names printed by Priority.String.
func ParsePriority(s string) (Priority, error) {
	for i, name := range priorityNames {
		if strings.EqualFold(s, name) {
			return Priority(i), nil
		}
	}
	return 0, fmt.Errorf("unknown priority %q (want low, normal, high or urgent)", s)
}

// TaskStatus is the lifecycle status of a Task.
type TaskStatus int

const (
	TaskPending TaskStatus = iota
	TaskRunning
	TaskPaused
	TaskCompleted
	TaskCancelled
	TaskFailed
)

var statusNames = [...]string{
	TaskPending:   "pending",
	TaskRunning:   "running",
	TaskPaused:    "paused",
	TaskCompleted: "completed",
	TaskCancelled: "cancelled",
	TaskFailed:    "failed",
}

func (s TaskStatus) String() string {
	if s >= TaskPending && s <= TaskFailed {
		return statusNames[s]
	}
	return "unknown"
}

func (s TaskStatus) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

func (s *TaskStatus) UnmarshalText(text []byte) error {
	for i, name := range statusNames {
		if string(text) == name {
			*s = TaskStatus(i)
			return nil
		}
	}
	return fmt.Errorf("unknown task status %q", text)
}

// Terminal reports whether the status is final.
func (s TaskStatus) Terminal() bool {
	return s == TaskCompleted || s == TaskCancelled || s == TaskFailed
}

// canTransition enforces pending→running→{paused,completed,cancelled,failed},
// paused→{running,cancelled}, and lets a pending task be cancelled or failed.
func (s TaskStatus) canTransition(to TaskStatus) bool {
	switch s {
	case TaskPending:
		return to == TaskRunning || to == TaskCancelled || to == TaskFailed
	case TaskRunning:
		return to == TaskPaused || to.Terminal()
	case TaskPaused:
		return to == TaskRunning || to == TaskCancelled
	default:
		return false
	}
}

// Task is a point-in-time copy of one scheduled scan.
type Task struct {
	CreatedAt  time.Time      `json:"created_at"`
	StartedAt  time.Time      `json:"started_at,omitzero"`
	FinishedAt time.Time      `json:"finished_at,omitzero"`
	Err        error          `json:"-"`
	ID         string         `json:"id"`
	Root       string         `json:"root"`
	Errors     []ScanError    `json:"errors,omitempty"`
	Config     ScanConfig     `json:"-"`
	Stats      stats.Snapshot `json:"stats"`
	Progress   float64        `json:"progress"`
	Priority   Priority       `json:"priority"`
	Status     TaskStatus     `json:"status"`
}

// WaitTime is how long the task sat in its queue.
func (t Task) WaitTime() time.Duration {
	if t.StartedAt.IsZero() {
		return 0
	}
	return t.StartedAt.Sub(t.CreatedAt)
}

// ExecutionTime is how long the task has been (or was) admitted.
func (t Task) ExecutionTime() time.Duration {
	switch {
	case t.StartedAt.IsZero():
		return 0
	case t.FinishedAt.IsZero():
		return time.Since(t.StartedAt)
	default:
		return t.FinishedAt.Sub(t.StartedAt)
	}
}
