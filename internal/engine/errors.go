package engine

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"time"
)

var (
	ErrInvalidState   = errors.New("invalid state")
	ErrTaskNotFound   = errors.New("task not found")
	ErrManagerStopped = errors.New("manager stopped")
	ErrScanCancelled  = errors.New("scan cancelled")
	ErrInvalidPath    = errors.New("invalid path")
)

// ErrorCategory classifies a ScanError.
type ErrorCategory int

const (
	CategoryUnknown ErrorCategory = iota
	CategoryPermissionDenied
	CategoryFileNotFound
	CategoryInvalidPath
	CategoryScanCancelled
)

var categoryNames = [...]string{
	CategoryUnknown:          "unknown",
	CategoryPermissionDenied: "permission denied",
	CategoryFileNotFound:     "file not found",
	CategoryInvalidPath:      "invalid path",
	CategoryScanCancelled:    "scan cancelled",
}

func (c ErrorCategory) String() string {
	if c >= 0 && int(c) < len(categoryNames) {
		return categoryNames[c]
	}
	return "unknown"
}

func (c ErrorCategory) MarshalText() ([]byte, error) {
	return []byte(c.String()), nil
}

// ScanError is one recorded failure of a scan.
type ScanError struct {
	Timestamp time.Time     `json:"timestamp"`
	Err       error         `json:"-"`
	Path      string        `json:"path"`
	Message   string        `json:"message"`
	Category  ErrorCategory `json:"category"`
}

func (e ScanError) Error() string {
	if e.Path == "" {
		return fmt.Sprintf("%s: %s", e.Category, e.Message)
	}
	return fmt.Sprintf("%s: %s: %s", e.Category, e.Path, e.Message)
}

func (e ScanError) Unwrap() error { return e.Err }

func newScanError(path string, err error) ScanError {
	return ScanError{
		Path:      path,
		Category:  classify(err),
		Message:   err.Error(),
		Err:       err,
		Timestamp: time.Now(),
	}
}

func classify(err error) ErrorCategory {
	switch {
	case errors.Is(err, fs.ErrPermission):
		return CategoryPermissionDenied
	case errors.Is(err, fs.ErrNotExist):
		return CategoryFileNotFound
	case errors.Is(err, ErrInvalidPath), errors.Is(err, fs.ErrInvalid):
		return CategoryInvalidPath
	case errors.Is(err, ErrScanCancelled), errors.Is(err, context.Canceled):
		return CategoryScanCancelled
	default:
		return CategoryUnknown
	}
}

// errorLog keeps the most recent max errors.
type errorLog struct {
	entries []ScanError
	max     int
	dropped int
}

func (l *errorLog) add(e ScanError) {
	if len(l.entries) >= l.max {
		n := copy(l.entries, l.entries[1:])
		l.entries = l.entries[:n]
		l.dropped++
	}
	l.entries = append(l.entries, e)
}

func (l *errorLog) reset(max int) {
	l.entries = nil
	l.max = max
	l.dropped = 0
}

func (l *errorLog) snapshot() []ScanError {
	return append([]ScanError(nil), l.entries...)
}
