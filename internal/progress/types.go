package progress

import (
	"time"

	"github.com/bamsammich/tally/internal/stats"
)

// Event is a raw progress sample for one task. Counters are cumulative.
type Event struct {
	Timestamp time.Time
	TaskID    string
	Stats     stats.Snapshot
	// EstimatedTotal is the expected number of items for the task, or 0 when
	// unknown.
	EstimatedTotal int64
}

// Statistics is the derived view computed once per tick across all tasks.
type Statistics struct {
	Timestamp       time.Time      `json:"timestamp"`
	Stats           stats.Snapshot `json:"stats"`
	Elapsed         time.Duration  `json:"elapsed"`
	ETA             time.Duration  `json:"eta"`
	Processed       int64          `json:"processed"`
	EstimatedTotal  int64          `json:"estimated_total"`
	Percentage      float64        `json:"percentage"`
	ItemsPerSecond  float64        `json:"items_per_second"`
	BytesPerSecond  float64        `json:"bytes_per_second"`
	AverageItemSize float64        `json:"average_item_size"`
	Tasks           int            `json:"tasks"`
}

// EstimateTotal extrapolates a total item count from the items seen so far
// and a completion fraction in (0,1]. It returns 0 when no estimate is
// possible.
func EstimateTotal(items int64, fraction float64) int64 {
	if items <= 0 || fraction <= 0 {
		return 0
	}
	if fraction >= 1 {
		return items
	}
	return int64(float64(items) / fraction)
}

// derive computes the rates and estimates for a summed snapshot.
func derive(sum stats.Snapshot, total int64, elapsed time.Duration, tasks int, now time.Time) Statistics {
	st := Statistics{
		Timestamp:      now,
		Stats:          sum,
		Elapsed:        elapsed,
		Processed:      sum.Items(),
		EstimatedTotal: total,
		Tasks:          tasks,
	}
	if total > 0 {
		st.Percentage = min(1, max(0, float64(st.Processed)/float64(total)))
	}
	if secs := elapsed.Seconds(); secs > 0 {
		st.ItemsPerSecond = float64(st.Processed) / secs
		st.BytesPerSecond = float64(sum.BytesScanned) / secs
	}
	if st.ItemsPerSecond > 0 && total > st.Processed {
		remaining := float64(total - st.Processed)
		st.ETA = time.Duration(remaining / st.ItemsPerSecond * float64(time.Second))
	}
	if st.Processed > 0 {
		st.AverageItemSize = float64(sum.BytesScanned) / float64(st.Processed)
	}
	return st
}
