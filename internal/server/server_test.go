package server

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bamsammich/tally/internal/engine"
	"github.com/bamsammich/tally/internal/progress"
	"github.com/bamsammich/tally/internal/stats"
)

type fixture struct {
	ts   *httptest.Server
	mgr  *engine.Manager
	prog *progress.Manager
	srv  *Server
}

func newFixture(t *testing.T, start bool) *fixture {
	t.Helper()
	prog := progress.NewManager(progress.Config{})
	mgr := engine.NewManager(engine.ManagerConfig{
		MaxConcurrentTasks: 2,
		TickInterval:       20 * time.Millisecond,
		ScanObserver: func(id string) engine.Observer {
			return engine.ObserverFuncs{Progress: func(s stats.Snapshot) { prog.Track(id, s) }}
		},
	})
	if start {
		require.NoError(t, mgr.Start(context.Background()))
	}
	t.Cleanup(mgr.Stop)

	srv := New(Config{Manager: mgr, Progress: prog, Defaults: engine.DefaultScanConfig()})
	ts := httptest.NewServer(srv)
	t.Cleanup(ts.Close)

	ctx, cancel := context.WithCancel(context.Background())
	go srv.Run(ctx)
	t.Cleanup(cancel)

	return &fixture{ts: ts, mgr: mgr, prog: prog, srv: srv}
}

func makeTree(t *testing.T) string {
	t.Helper()
	root := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(root, "sub"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(root, "a.txt"), []byte("hello"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(root, "sub", "b.txt"), []byte("world!"), 0o644))
	return root
}

func (f *fixture) do(t *testing.T, method, path string, body any) *http.Response {
	t.Helper()
	var rd *bytes.Reader
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(t, err)
		rd = bytes.NewReader(b)
	} else {
		rd = bytes.NewReader(nil)
	}
	req, err := http.NewRequest(method, f.ts.URL+path, rd)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func decode[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	var v T
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&v))
	return v
}

// taskView mirrors the JSON encoding of engine.Task.
type taskView struct {
	ID       string            `json:"id"`
	Root     string            `json:"root"`
	Status   engine.TaskStatus `json:"status"`
	Priority engine.Priority   `json:"priority"`
	Stats    stats.Snapshot    `json:"stats"`
	Progress float64           `json:"progress"`
}

func TestCreateTaskRunsToCompletion(t *testing.T) {
	f := newFixture(t, true)
	root := makeTree(t)

	resp := f.do(t, http.MethodPost, "/api/tasks", map[string]any{
		"root":     root,
		"priority": "high",
		"config":   map[string]any{"max_concurrency": 2},
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	created := decode[taskView](t, resp)
	assert.Equal(t, root, created.Root)
	assert.Equal(t, engine.PriorityHigh, created.Priority)
	assert.Equal(t, "/api/tasks/"+created.ID, resp.Header.Get("Location"))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, f.mgr.Wait(ctx))

	got := decode[taskView](t, f.do(t, http.MethodGet, "/api/tasks/"+created.ID, nil))
	assert.Equal(t, engine.TaskCompleted, got.Status)
	assert.Equal(t, int64(2), got.Stats.FilesScanned)
	assert.Equal(t, int64(11), got.Stats.BytesScanned)
	assert.InDelta(t, 1.0, got.Progress, 1e-9)

	list := decode[[]taskView](t, f.do(t, http.MethodGet, "/api/tasks", nil))
	require.Len(t, list, 1)
	assert.Equal(t, created.ID, list[0].ID)
}

func TestCreateTaskRejectsBadRequests(t *testing.T) {
	f := newFixture(t, false)
	tests := []struct {
		name string
		body any
	}{
		{"relative root", map[string]any{"root": "some/dir"}},
		{"missing root", map[string]any{}},
		{"bad priority", map[string]any{"root": "/tmp", "priority": "asap"}},
		{"unknown field", map[string]any{"root": "/tmp", "colour": "red"}},
		{"bad interval", map[string]any{"root": "/tmp", "config": map[string]any{"progress_interval": "often"}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := f.do(t, http.MethodPost, "/api/tasks", tt.body)
			assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
			body := decode[map[string]string](t, resp)
			assert.NotEmpty(t, body["error"])
		})
	}

	resp, err := http.Post(f.ts.URL+"/api/tasks", "application/json", strings.NewReader("{"))
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Empty(t, f.mgr.Tasks())
}

func TestTaskActions(t *testing.T) {
	// Not started: tasks stay pending.
	f := newFixture(t, false)
	root := makeTree(t)

	created := decode[taskView](t, f.do(t, http.MethodPost, "/api/tasks", map[string]any{"root": root}))
	assert.Equal(t, engine.TaskPending, created.Status)
	assert.Equal(t, engine.PriorityNormal, created.Priority)

	resp := f.do(t, http.MethodPost, "/api/tasks/"+created.ID+"/pause", nil)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)

	resp = f.do(t, http.MethodPost, "/api/tasks/"+created.ID+"/cancel", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, engine.TaskCancelled, decode[taskView](t, resp).Status)

	resp = f.do(t, http.MethodPost, "/api/tasks/"+created.ID+"/resume", nil)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)

	resp = f.do(t, http.MethodPost, "/api/tasks/nope/cancel", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp = f.do(t, http.MethodPost, "/api/tasks/"+created.ID+"/explode", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp = f.do(t, http.MethodGet, "/api/tasks/"+created.ID+"/cancel", nil)
	assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
	assert.Equal(t, "method not allowed", decode[map[string]string](t, resp)["error"])
}

func TestRoutingErrors(t *testing.T) {
	f := newFixture(t, false)
	tests := []struct {
		method, path string
		status       int
	}{
		{http.MethodPut, "/api/tasks", http.StatusMethodNotAllowed},
		{http.MethodDelete, "/api/tasks/abc", http.StatusMethodNotAllowed},
		{http.MethodPost, "/api/stats", http.StatusMethodNotAllowed},
		{http.MethodGet, "/api/nothing", http.StatusNotFound},
		{http.MethodGet, "/tasks", http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.method+" "+tt.path, func(t *testing.T) {
			resp := f.do(t, tt.method, tt.path, nil)
			assert.Equal(t, tt.status, resp.StatusCode)
			assert.Equal(t, "application/json", resp.Header.Get("Content-Type"))
			assert.NotEmpty(t, decode[map[string]string](t, resp)["error"])
		})
	}
}

func TestGetUnknownTask(t *testing.T) {
	f := newFixture(t, false)
	resp := f.do(t, http.MethodGet, "/api/tasks/does-not-exist", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestCleanupAndStats(t *testing.T) {
	f := newFixture(t, true)
	root := makeTree(t)
	for range 3 {
		resp := f.do(t, http.MethodPost, "/api/tasks", map[string]any{"root": root})
		require.Equal(t, http.StatusCreated, resp.StatusCode)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, f.mgr.Wait(ctx))
	f.prog.Flush()

	st := decode[statsResponse](t, f.do(t, http.MethodGet, "/api/stats", nil))
	assert.Equal(t, 3, st.Tasks.Completed)
	require.NotNil(t, st.Progress)
	assert.Equal(t, 3, st.Progress.Tasks)
	assert.Equal(t, int64(6), st.Progress.Stats.FilesScanned)

	removed := decode[map[string]int](t, f.do(t, http.MethodDelete, "/api/tasks", nil))
	assert.Equal(t, 3, removed["removed"])
	assert.Empty(t, decode[[]taskView](t, f.do(t, http.MethodGet, "/api/tasks", nil)))
}

func TestCreateAfterStop(t *testing.T) {
	f := newFixture(t, true)
	f.mgr.Stop()
	resp := f.do(t, http.MethodPost, "/api/tasks", map[string]any{"root": "/tmp"})
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
}

func TestProgressStream(t *testing.T) {
	f := newFixture(t, false)
	f.prog.Track("seed", stats.Snapshot{FilesScanned: 1})
	f.prog.Flush()

	url := "ws" + strings.TrimPrefix(f.ts.URL, "http") + "/api/progress"
	conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()
	assert.Equal(t, http.StatusSwitchingProtocols, resp.StatusCode)

	var first progress.Statistics
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	require.NoError(t, conn.ReadJSON(&first))
	assert.Equal(t, int64(1), first.Stats.FilesScanned, "current statistics are sent on connect")

	require.Eventually(t, func() bool { return f.srv.hub.len() == 1 }, 2*time.Second, 5*time.Millisecond)
	f.prog.Track("seed", stats.Snapshot{FilesScanned: 9})
	f.prog.Flush()

	for {
		var st progress.Statistics
		require.NoError(t, conn.ReadJSON(&st))
		if st.Stats.FilesScanned == 9 {
			break
		}
	}
}

func TestProgressStreamWithoutTracking(t *testing.T) {
	mgr := engine.NewManager(engine.ManagerConfig{})
	t.Cleanup(mgr.Stop)
	ts := httptest.NewServer(New(Config{Manager: mgr}))
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/api/progress")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)

	stResp, err := http.Get(ts.URL + "/api/stats")
	require.NoError(t, err)
	defer stResp.Body.Close()
	body := decode[map[string]any](t, stResp)
	assert.NotContains(t, body, "progress")
}

func TestListenAndServe(t *testing.T) {
	mgr := engine.NewManager(engine.ManagerConfig{})
	t.Cleanup(mgr.Stop)
	srv := New(Config{Manager: mgr})

	ctx, cancel := context.WithCancel(context.Background())
	addrc := make(chan string, 1)
	errc := make(chan error, 1)
	go func() { errc <- srv.ListenAndServe(ctx, "127.0.0.1:0", func(a string) { addrc <- a }) }()

	addr := <-addrc
	resp, err := http.Get("http://" + addr + "/api/tasks")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	cancel()
	select {
	case err := <-errc:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not shut down")
	}
}
