package engine

// ScanState is the lifecycle state of a Scanner.
type ScanState int

const (
	StateIdle ScanState = iota
	StateScanning
	StatePaused
	StateCompleted
	StateCancelled
	StateError
)

var stateNames = [...]string{
	StateIdle:      "idle",
	StateScanning:  "scanning",
	StatePaused:    "paused",
	StateCompleted: "completed",
	StateCancelled: "cancelled",
	StateError:     "error",
}

func (s ScanState) String() string {
	if s >= 0 && int(s) < len(stateNames) {
		return stateNames[s]
	}
	return "unknown"
}

// Terminal reports whether no further transition follows without a new StartScan.
func (s ScanState) Terminal() bool {
	return s == StateCompleted || s == StateCancelled || s == StateError
}

// Active reports whether a walk is in progress.
func (s ScanState) Active() bool {
	return s == StateScanning || s == StatePaused
}

func (s ScanState) canStart() bool {
	return s == StateIdle || s == StateCompleted || s == StateError
}
