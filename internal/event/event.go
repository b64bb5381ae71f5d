package event

import "time"

// Type identifies the kind of event.
type Type int

const (
	FileDiscovered Type = iota + 1
	ScanProgress
	ScanError
	StateChanged
	TaskCompleted
	TaskFailed
	TaskProgress
)

var typeNames = [...]string{
	FileDiscovered: "FileDiscovered",
	ScanProgress:   "ScanProgress",
	ScanError:      "ScanError",
	StateChanged:   "StateChanged",
	TaskCompleted:  "TaskCompleted",
	TaskFailed:     "TaskFailed",
	TaskProgress:   "TaskProgress",
}

func (t Type) String() string {
	if t > 0 && int(t) < len(typeNames) {
		return typeNames[t]
	}
	return "Unknown"
}

// Event is a single notification from a scanner or the task manager.
type Event struct {
	Timestamp time.Time
	Error     error
	Type      Type
	TaskID    string
	Path      string // absolute path (FileDiscovered, ScanError)
	State     string // new scanner state or task status
	Size      int64  // file size, or bytes scanned so far (ScanProgress)
	Files     int64  // files scanned so far (ScanProgress)
	Fraction  float64
	IsDir     bool
}
