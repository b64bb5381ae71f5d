package engine

import (
	"bytes"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/bamsammich/tally/internal/fsys"
	"github.com/bamsammich/tally/internal/stats"
)

// writeFile creates path (and its parents) holding size bytes.
func writeFile(t *testing.T, path string, size int) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, bytes.Repeat([]byte("x"), size), 0o644))
}

// createTestTree populates root with:
//
//	a.txt                    (3 bytes)
//	b.bin                    (100 bytes)
//	sub/c.txt                (5 bytes)
//	sub/deep/d.txt           (7 bytes)
//	sub/deep/deeper/e.log    (11 bytes)
//	other/f.txt              (13 bytes)
func createTestTree(t *testing.T, root string) {
	t.Helper()
	writeFile(t, filepath.Join(root, "a.txt"), 3)
	writeFile(t, filepath.Join(root, "b.bin"), 100)
	writeFile(t, filepath.Join(root, "sub", "c.txt"), 5)
	writeFile(t, filepath.Join(root, "sub", "deep", "d.txt"), 7)
	writeFile(t, filepath.Join(root, "sub", "deep", "deeper", "e.log"), 11)
	writeFile(t, filepath.Join(root, "other", "f.txt"), 13)
}

const testTreeBytes = 3 + 100 + 5 + 7 + 11 + 13

// recorder is an Observer that keeps everything it is told.
type recorder struct {
	mu               sync.Mutex
	nodes            []FileNode
	progress         []stats.Snapshot
	errs             []ScanError
	states           []ScanState
	afterCancelNodes int
	cancelled        bool
	onFile           func(FileNode)
}

func (r *recorder) OnFileDiscovered(n FileNode) {
	r.mu.Lock()
	r.nodes = append(r.nodes, n)
	if r.cancelled {
		r.afterCancelNodes++
	}
	hook := r.onFile
	r.mu.Unlock()
	if hook != nil {
		hook(n)
	}
}

func (r *recorder) OnProgress(s stats.Snapshot) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.progress = append(r.progress, s)
}

func (r *recorder) OnError(e ScanError) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.errs = append(r.errs, e)
}

func (r *recorder) OnStateChange(s ScanState) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.states = append(r.states, s)
	if s == StateCancelled {
		r.cancelled = true
	}
}

func (r *recorder) paths() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.nodes))
	for i, n := range r.nodes {
		out[i] = n.Path
	}
	sort.Strings(out)
	return out
}

func (r *recorder) fileBytes() int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	var total int64
	for _, n := range r.nodes {
		if !n.IsDir {
			total += n.Size
		}
	}
	return total
}

func (r *recorder) stateLog() []ScanState {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]ScanState(nil), r.states...)
}

func (r *recorder) errorLog() []ScanError {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]ScanError(nil), r.errs...)
}

func (r *recorder) progressLog() []stats.Snapshot {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]stats.Snapshot(nil), r.progress...)
}

// slowFS delays every listing and lstat so tests can act mid-scan.
type slowFS struct {
	fsys.Provider
	delay time.Duration
}

func (s slowFS) ListDirectory(path string) ([]string, error) {
	time.Sleep(s.delay)
	return s.Provider.ListDirectory(path)
}

func (s slowFS) Lstat(path string) (fsys.Attributes, error) {
	time.Sleep(s.delay)
	return s.Provider.Lstat(path)
}

// gateFS blocks Exists or Lstat (selected by op) until release is called,
// and closes entered the first time a call is held.
type gateFS struct {
	fsys.Provider
	op      string
	entered chan struct{}
	open    chan struct{}
	once    sync.Once
}

func newGateFS(op string) *gateFS {
	return &gateFS{
		Provider: fsys.NewLocal(),
		op:       op,
		entered:  make(chan struct{}),
		open:     make(chan struct{}),
	}
}

func (g *gateFS) hold(op string) {
	if op != g.op {
		return
	}
	g.once.Do(func() { close(g.entered) })
	<-g.open
}

func (g *gateFS) release() { close(g.open) }

func (g *gateFS) waitEntered(t *testing.T) {
	t.Helper()
	select {
	case <-g.entered:
	case <-time.After(5 * time.Second):
		t.Fatalf("%s was never called", g.op)
	}
}

func (g *gateFS) Exists(path string) bool {
	g.hold("exists")
	return g.Provider.Exists(path)
}

func (g *gateFS) Lstat(path string) (fsys.Attributes, error) {
	g.hold("lstat")
	return g.Provider.Lstat(path)
}
