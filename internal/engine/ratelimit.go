package engine

import (
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/bamsammich/tally/internal/stats"
)

// newProgressLimiter returns a limiter allowing one delivery per interval,
// or nil when every update should be delivered.
func newProgressLimiter(interval time.Duration) *rate.Limiter {
	if interval <= 0 {
		return nil
	}
	return rate.NewLimiter(rate.Every(interval), 1)
}

// progressPump serialises progress and state notifications for one scan.
// Producers drop snapshots into a one-slot mailbox that keeps only the
// newest sequence number, so they never block and the observer never sees
// counters go backwards.
type progressPump struct {
	observer Observer
	limiter  *rate.Limiter
	wake     chan struct{}
	stop     chan struct{}
	done     chan struct{}

	mu         sync.Mutex
	pending    stats.Snapshot
	pendingSeq uint64
	lastSeq    uint64
	states     []ScanState
	final      ScanState
}

func newProgressPump(o Observer, interval time.Duration) *progressPump {
	p := &progressPump{
		observer: o,
		limiter:  newProgressLimiter(interval),
		wake:     make(chan struct{}, 1),
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
	go p.run()
	return p
}

// publish offers a snapshot; older sequence numbers are discarded.
func (p *progressPump) publish(snap stats.Snapshot, seq uint64) {
	p.mu.Lock()
	if seq > p.pendingSeq {
		p.pending = snap
		p.pendingSeq = seq
	}
	p.mu.Unlock()
	p.signal()
}

// state queues a non-terminal state change.
func (p *progressPump) state(s ScanState) {
	p.mu.Lock()
	p.states = append(p.states, s)
	p.mu.Unlock()
	p.signal()
}

// close delivers the last snapshot and then the terminal state, and waits
// for the pump goroutine to exit.
func (p *progressPump) close(final ScanState) {
	p.mu.Lock()
	p.final = final
	p.mu.Unlock()
	close(p.stop)
	<-p.done
}

func (p *progressPump) signal() {
	select {
	case p.wake <- struct{}{}:
	default:
	}
}

func (p *progressPump) run() {
	defer close(p.done)
	for {
		select {
		case <-p.wake:
		case <-p.stop:
			p.deliverStates()
			p.deliverProgress()
			p.mu.Lock()
			final := p.final
			p.mu.Unlock()
			p.observer.OnStateChange(final)
			return
		}

		p.deliverStates()
		if p.limiter != nil && p.hasProgress() {
			if d := p.limiter.Reserve().Delay(); d > 0 {
				t := time.NewTimer(d)
				select {
				case <-t.C:
				case <-p.stop:
					t.Stop()
				}
			}
		}
		p.deliverProgress()
	}
}

func (p *progressPump) hasProgress() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.pendingSeq > p.lastSeq
}

func (p *progressPump) deliverProgress() {
	p.mu.Lock()
	if p.pendingSeq <= p.lastSeq {
		p.mu.Unlock()
		return
	}
	snap := p.pending
	p.lastSeq = p.pendingSeq
	p.mu.Unlock()
	p.observer.OnProgress(snap)
}

func (p *progressPump) deliverStates() {
	p.mu.Lock()
	states := p.states
	p.states = nil
	p.mu.Unlock()
	for _, s := range states {
		p.observer.OnStateChange(s)
	}
}
