package engine

import (
	"time"

	"github.com/bamsammich/tally/internal/event"
	"github.com/bamsammich/tally/internal/stats"
)

// Observer receives scanner notifications. OnFileDiscovered and OnError are
// called from worker goroutines and may run concurrently. OnProgress and
// OnStateChange are delivered one at a time from a single goroutine per scan.
type Observer interface {
	OnFileDiscovered(FileNode)
	OnProgress(stats.Snapshot)
	OnError(ScanError)
	OnStateChange(ScanState)
}

// ObserverFuncs adapts plain functions to Observer. Nil fields are ignored.
type ObserverFuncs struct {
	FileDiscovered func(FileNode)
	Progress       func(stats.Snapshot)
	Error          func(ScanError)
	StateChange    func(ScanState)
}

func (o ObserverFuncs) OnFileDiscovered(n FileNode) {
	if o.FileDiscovered != nil {
		o.FileDiscovered(n)
	}
}

func (o ObserverFuncs) OnProgress(s stats.Snapshot) {
	if o.Progress != nil {
		o.Progress(s)
	}
}

func (o ObserverFuncs) OnError(e ScanError) {
	if o.Error != nil {
		o.Error(e)
	}
}

func (o ObserverFuncs) OnStateChange(s ScanState) {
	if o.StateChange != nil {
		o.StateChange(s)
	}
}

// MultiObserver fans every notification out to each member in order.
type MultiObserver []Observer

func (m MultiObserver) OnFileDiscovered(n FileNode) {
	for _, o := range m {
		o.OnFileDiscovered(n)
	}
}

func (m MultiObserver) OnProgress(s stats.Snapshot) {
	for _, o := range m {
		o.OnProgress(s)
	}
}

func (m MultiObserver) OnError(e ScanError) {
	for _, o := range m {
		o.OnError(e)
	}
}

func (m MultiObserver) OnStateChange(s ScanState) {
	for _, o := range m {
		o.OnStateChange(s)
	}
}

type nopObserver struct{}

func (nopObserver) OnFileDiscovered(FileNode) {}
func (nopObserver) OnProgress(stats.Snapshot) {}
func (nopObserver) OnError(ScanError)         {}
func (nopObserver) OnStateChange(ScanState)   {}

// eventObserver forwards notifications into an event channel.
type eventObserver struct {
	ch     chan<- event.Event
	taskID string
}

// NewEventObserver returns an Observer that converts notifications into
// events on ch. Progress events are dropped when ch is full; all others
// block until the consumer catches up.
func NewEventObserver(ch chan<- event.Event, taskID string) Observer {
	return &eventObserver{ch: ch, taskID: taskID}
}

func (o *eventObserver) OnFileDiscovered(n FileNode) {
	o.ch <- event.Event{
		Type:      event.FileDiscovered,
		Timestamp: time.Now(),
		TaskID:    o.taskID,
		Path:      n.Path,
		Size:      n.Size,
		IsDir:     n.IsDir,
	}
}

func (o *eventObserver) OnProgress(s stats.Snapshot) {
	select {
	case o.ch <- event.Event{
		Type:      event.ScanProgress,
		Timestamp: time.Now(),
		TaskID:    o.taskID,
		Size:      s.BytesScanned,
		Files:     s.FilesScanned,
	}:
	default:
	}
}

func (o *eventObserver) OnError(e ScanError) {
	o.ch <- event.Event{
		Type:      event.ScanError,
		Timestamp: e.Timestamp,
		TaskID:    o.taskID,
		Path:      e.Path,
		Error:     e,
	}
}

func (o *eventObserver) OnStateChange(s ScanState) {
	o.ch <- event.Event{
		Type:      event.StateChanged,
		Timestamp: time.Now(),
		TaskID:    o.taskID,
		State:     s.String(),
	}
}

// taskEventObserver forwards task notifications into an event channel.
type taskEventObserver struct {
	ch chan<- event.Event
}

// NewTaskEventObserver returns a TaskObserver that converts task
// notifications into events on ch. Progress events are dropped when ch is
// full.
func NewTaskEventObserver(ch chan<- event.Event) TaskObserver {
	return taskEventObserver{ch: ch}
}

func (o taskEventObserver) OnTaskCompleted(t Task) {
	o.ch <- taskEvent(event.TaskCompleted, t)
}

func (o taskEventObserver) OnTaskFailed(t Task, err error) {
	ev := taskEvent(event.TaskFailed, t)
	ev.Error = err
	o.ch <- ev
}

func (o taskEventObserver) OnTaskProgress(t Task, fraction float64) {
	ev := taskEvent(event.TaskProgress, t)
	ev.Fraction = fraction
	select {
	case o.ch <- ev:
	default:
	}
}

func taskEvent(typ event.Type, t Task) event.Event {
	return event.Event{
		Type:      typ,
		Timestamp: time.Now(),
		TaskID:    t.ID,
		Path:      t.Root,
		State:     t.Status.String(),
		Size:      t.Stats.BytesScanned,
		Files:     t.Stats.FilesScanned,
		Fraction:  t.Progress,
	}
}
