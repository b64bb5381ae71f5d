package ui

import "github.com/bamsammich/tally/internal/event"

// Event is the notification type presenters consume.
type Event = event.Event

// Re-export event types for convenience.
const (
	FileDiscovered = event.FileDiscovered
	ScanProgress   = event.ScanProgress
	ScanError      = event.ScanError
	StateChanged   = event.StateChanged
	TaskCompleted  = event.TaskCompleted
	TaskFailed     = event.TaskFailed
	TaskProgress   = event.TaskProgress
)
