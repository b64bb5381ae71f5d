package stats

import (
	"fmt"
	"sync"
	"time"
)

// Collector tracks the counters of a single scan. Every mutation happens
// under one mutex so a Snapshot is always internally consistent.
type Collector struct {
	mu       sync.Mutex
	snap     Snapshot
	sequence uint64
}

// Snapshot is a point-in-time copy of all scan counters.
type Snapshot struct {
	StartTime            time.Time `json:"start_time"`
	EndTime              time.Time `json:"end_time,omitzero"`
	FilesScanned         int64     `json:"files_scanned"`
	DirectoriesScanned   int64     `json:"directories_scanned"`
	DirectoriesCompleted int64     `json:"directories_completed"`
	BytesScanned         int64     `json:"bytes_scanned"`
	SkippedFiles         int64     `json:"skipped_files"`
	ErrorCount           int64     `json:"error_count"`
}

// NewCollector creates a Collector with StartTime set to now.
func NewCollector() *Collector {
	c := &Collector{}
	c.snap.StartTime = time.Now()
	return c
}

// Reset zeroes all counters and sets a new start time. Called once at scan start.
func (c *Collector) Reset(start time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.snap = Snapshot{StartTime: start}
	c.sequence = 0
}

// AddFile counts one accepted file of the given size.
func (c *Collector) AddFile(size int64) (Snapshot, uint64) {
	return c.update(func(s *Snapshot) {
		s.FilesScanned++
		s.BytesScanned += size
	})
}

// AddDirectory counts one discovered directory.
func (c *Collector) AddDirectory() (Snapshot, uint64) {
	return c.update(func(s *Snapshot) { s.DirectoriesScanned++ })
}

// CompleteDirectory marks one directory's subtree as fully walked.
func (c *Collector) CompleteDirectory() (Snapshot, uint64) {
	return c.update(func(s *Snapshot) { s.DirectoriesCompleted++ })
}

// AddSkipped counts one entry that was filtered out.
func (c *Collector) AddSkipped() (Snapshot, uint64) {
	return c.update(func(s *Snapshot) { s.SkippedFiles++ })
}

// AddError counts one recorded scan error.
func (c *Collector) AddError() (Snapshot, uint64) {
	return c.update(func(s *Snapshot) { s.ErrorCount++ })
}

// Finish stamps the end time.
func (c *Collector) Finish(end time.Time) (Snapshot, uint64) {
	return c.update(func(s *Snapshot) { s.EndTime = end })
}

// update applies fn under the lock and returns the resulting snapshot along
// with a sequence number that increases with every mutation.
func (c *Collector) update(fn func(*Snapshot)) (Snapshot, uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	fn(&c.snap)
	c.sequence++
	return c.snap, c.sequence
}

// Snapshot returns a consistent point-in-time read of all counters.
func (c *Collector) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snap
}

// Items is the number of entries processed so far (files + directories).
func (s Snapshot) Items() int64 {
	return s.FilesScanned + s.DirectoriesScanned
}

// Elapsed returns the scan duration; for a running scan it is measured
// against now.
func (s Snapshot) Elapsed() time.Duration {
	if s.StartTime.IsZero() {
		return 0
	}
	if s.EndTime.IsZero() {
		return time.Since(s.StartTime)
	}
	return s.EndTime.Sub(s.StartTime)
}

// Add returns the element-wise sum of two snapshots. The earliest non-zero
// start time and the latest end time win.
func (s Snapshot) Add(o Snapshot) Snapshot {
	sum := Snapshot{
		FilesScanned:         s.FilesScanned + o.FilesScanned,
		DirectoriesScanned:   s.DirectoriesScanned + o.DirectoriesScanned,
		DirectoriesCompleted: s.DirectoriesCompleted + o.DirectoriesCompleted,
		BytesScanned:         s.BytesScanned + o.BytesScanned,
		SkippedFiles:         s.SkippedFiles + o.SkippedFiles,
		ErrorCount:           s.ErrorCount + o.ErrorCount,
		StartTime:            s.StartTime,
		EndTime:              s.EndTime,
	}
	if sum.StartTime.IsZero() || (!o.StartTime.IsZero() && o.StartTime.Before(sum.StartTime)) {
		sum.StartTime = o.StartTime
	}
	if o.EndTime.After(sum.EndTime) {
		sum.EndTime = o.EndTime
	}
	return sum
}

// Max returns a snapshot whose counters are the element-wise maximum of s and
// o. Used to keep reported counters from regressing.
func (s Snapshot) Max(o Snapshot) Snapshot {
	m := o
	m.FilesScanned = max(s.FilesScanned, o.FilesScanned)
	m.DirectoriesScanned = max(s.DirectoriesScanned, o.DirectoriesScanned)
	m.DirectoriesCompleted = max(s.DirectoriesCompleted, o.DirectoriesCompleted)
	m.BytesScanned = max(s.BytesScanned, o.BytesScanned)
	m.SkippedFiles = max(s.SkippedFiles, o.SkippedFiles)
	m.ErrorCount = max(s.ErrorCount, o.ErrorCount)
	if m.StartTime.IsZero() {
		m.StartTime = s.StartTime
	}
	return m
}

func (s Snapshot) String() string {
	return fmt.Sprintf(
		"files=%d dirs=%d bytes=%d skipped=%d errors=%d",
		s.FilesScanned, s.DirectoriesScanned, s.BytesScanned, s.SkippedFiles, s.ErrorCount,
	)
}
