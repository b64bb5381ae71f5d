package filter

import (
	"sort"
	"sync"
)

// Attributes is the metadata the filter needs to decide on one item.
type Attributes struct {
	Name      string
	Size      int64
	Dev       uint64
	Inode     uint64
	Nlink     uint64
	HasInode  bool
	IsDir     bool
	IsSymlink bool
	Hidden    bool
	ReadOnly  bool
}

// Result is the outcome of filtering one item.
type Result struct {
	Reason       string
	MatchedRules []string
	Include      bool
}

// Options toggles the built-in checks that run before user rules.
type Options struct {
	SkipZeroSize   bool
	SkipSymlinks   bool
	DedupHardLinks bool
}

// DefaultOptions enables hard-link dedup and nothing else.
func DefaultOptions() Options {
	return Options{DedupHardLinks: true}
}

// Counters summarises the decisions a Filter has made.
type Counters struct {
	Evaluated    int64
	Included     int64
	ZeroSize     int64
	Symlinks     int64
	HardLinks    int64
	RuleExcluded int64
}

// Excluded is the total number of items the filter rejected.
func (c Counters) Excluded() int64 {
	return c.Evaluated - c.Included
}

// devIno uniquely identifies an inode for hard-link detection.
type devIno struct {
	dev uint64
	ino uint64
}

// Filter decides whether an item is included and deduplicates hard links.
// It is safe for concurrent use. Counters and the inode set are guarded by
// separate locks so dedup and counting never serialize against each other.
type Filter struct {
	opts Options

	rulesMu sync.RWMutex
	rules   []compiledRule
	nextSeq int

	countMu  sync.Mutex
	counters Counters

	inodeMu sync.Mutex
	seen    map[devIno]struct{}
}

// New creates a Filter with no user rules.
func New(opts Options) *Filter {
	return &Filter{
		opts: opts,
		seen: make(map[devIno]struct{}),
	}
}

// Options returns the built-in checks this filter runs.
func (f *Filter) Options() Options {
	return f.opts
}

// AddRule adds a rule, replacing any existing rule with the same ID.
func (f *Filter) AddRule(r Rule) {
	f.rulesMu.Lock()
	defer f.rulesMu.Unlock()

	if r.ID != "" {
		f.removeLocked(r.ID)
	}
	f.rules = append(f.rules, compileRule(r, f.nextSeq))
	f.nextSeq++
	sort.SliceStable(f.rules, func(i, j int) bool {
		if f.rules[i].rule.Priority != f.rules[j].rule.Priority {
			return f.rules[i].rule.Priority > f.rules[j].rule.Priority
		}
		return f.rules[i].seq < f.rules[j].seq
	})
}

// RemoveRule deletes the rule with the given ID and reports whether it existed.
func (f *Filter) RemoveRule(id string) bool {
	f.rulesMu.Lock()
	defer f.rulesMu.Unlock()
	return f.removeLocked(id)
}

func (f *Filter) removeLocked(id string) bool {
	for i, cr := range f.rules {
		if cr.rule.ID == id {
			f.rules = append(f.rules[:i], f.rules[i+1:]...)
			return true
		}
	}
	return false
}

// SetEnabled toggles the rule with the given ID and reports whether it exists.
func (f *Filter) SetEnabled(id string, enabled bool) bool {
	f.rulesMu.Lock()
	defer f.rulesMu.Unlock()
	for i := range f.rules {
		if f.rules[i].rule.ID == id {
			f.rules[i].rule.Enabled = enabled
			return true
		}
	}
	return false
}

// Rules returns the rules in evaluation order.
func (f *Filter) Rules() []Rule {
	f.rulesMu.RLock()
	defer f.rulesMu.RUnlock()
	out := make([]Rule, len(f.rules))
	for i, cr := range f.rules {
		out[i] = cr.rule
	}
	return out
}

// Filter evaluates path against the built-in checks and the user rules.
//
// Order: zero-byte exclusion, symlink exclusion, hard-link dedup, then user
// rules by descending priority. An exclude match stops evaluation. When
// enabled include rules exist, at least one of them must match.
func (f *Filter) Filter(path string, attrs Attributes) Result {
	res := f.evaluate(path, attrs)

	f.countMu.Lock()
	f.counters.Evaluated++
	if res.Include {
		f.counters.Included++
	}
	f.countMu.Unlock()

	return res
}

func (f *Filter) evaluate(path string, attrs Attributes) Result {
	if f.opts.SkipZeroSize && !attrs.IsDir && attrs.Size == 0 {
		f.bump(func(c *Counters) { c.ZeroSize++ })
		return Result{Reason: "zero-byte file"}
	}

	if f.opts.SkipSymlinks && attrs.IsSymlink {
		f.bump(func(c *Counters) { c.Symlinks++ })
		return Result{Reason: "symbolic link"}
	}

	if f.opts.DedupHardLinks && !attrs.IsDir && f.seenBefore(attrs) {
		f.bump(func(c *Counters) { c.HardLinks++ })
		return Result{Reason: "hard link already counted"}
	}

	f.rulesMu.RLock()
	defer f.rulesMu.RUnlock()

	var matched []string
	haveInclude := false
	included := false
	for _, cr := range f.rules {
		if !cr.rule.Enabled {
			continue
		}
		if cr.rule.Operation == Include {
			haveInclude = true
		}
		if !cr.match(path, attrs) {
			continue
		}
		matched = append(matched, ruleLabel(cr.rule))
		if cr.rule.Operation == Exclude {
			f.bump(func(c *Counters) { c.RuleExcluded++ })
			return Result{
				MatchedRules: matched,
				Reason:       "excluded by rule " + ruleLabel(cr.rule),
			}
		}
		included = true
	}

	if haveInclude && !included {
		f.bump(func(c *Counters) { c.RuleExcluded++ })
		return Result{Reason: "no include rule matched"}
	}
	return Result{Include: true, MatchedRules: matched}
}

// seenBefore records the item's inode and reports whether it was already
// recorded. Items with a link count of exactly one cannot have duplicates
// and are not tracked.
func (f *Filter) seenBefore(attrs Attributes) bool {
	if !attrs.HasInode || attrs.Nlink == 1 {
		return false
	}
	key := devIno{dev: attrs.Dev, ino: attrs.Inode}

	f.inodeMu.Lock()
	defer f.inodeMu.Unlock()
	if _, ok := f.seen[key]; ok {
		return true
	}
	f.seen[key] = struct{}{}
	return false
}

func (f *Filter) bump(fn func(*Counters)) {
	f.countMu.Lock()
	fn(&f.counters)
	f.countMu.Unlock()
}

// Counters returns a copy of the decision counters.
func (f *Filter) Counters() Counters {
	f.countMu.Lock()
	defer f.countMu.Unlock()
	return f.counters
}

// SeenInodes returns the number of distinct inodes recorded for dedup.
func (f *Filter) SeenInodes() int {
	f.inodeMu.Lock()
	defer f.inodeMu.Unlock()
	return len(f.seen)
}

// ResetCounters zeroes the decision counters.
func (f *Filter) ResetCounters() {
	f.countMu.Lock()
	f.counters = Counters{}
	f.countMu.Unlock()
}

// ResetInodes forgets every recorded inode. Call between passes.
func (f *Filter) ResetInodes() {
	f.inodeMu.Lock()
	f.seen = make(map[devIno]struct{})
	f.inodeMu.Unlock()
}

// Reset clears counters and the inode set.
func (f *Filter) Reset() {
	f.ResetCounters()
	f.ResetInodes()
}

func ruleLabel(r Rule) string {
	if r.ID != "" {
		return r.ID
	}
	return r.Type.String() + ":" + r.Pattern
}
