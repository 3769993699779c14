package watcher

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"devguard/internal/registry"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// fakeRunner returns a compliance summary that grows with every run
type fakeRunner struct {
	mu   sync.Mutex
	runs map[string]int
	fail string
}

func (f *fakeRunner) Run(_ context.Context, id, path string, opts registry.Options) (*registry.Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.runs == nil {
		f.runs = make(map[string]int)
	}
	f.runs[id+":"+filepath.Base(path)]++
	if id == f.fail {
		return nil, errors.New("lookup failed")
	}
	text := "- G001 (Line 1): bad name"
	if f.runs[id+":"+filepath.Base(path)] > 1 {
		text += "\n- G003 (Line 1): missing docstring"
	}
	return &registry.Result{ToolID: id, Text: text}, nil
}

func (f *fakeRunner) count(key string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.runs[key]
}

func TestQueue_DropsOldest(t *testing.T) {
	q := NewQueue(2)
	q.Push(FileEvent{Path: "a.py"})
	q.Push(FileEvent{Path: "b.py"})
	q.Push(FileEvent{Path: "c.py"})

	assert.Equal(t, 2, q.Len())
	assert.Equal(t, 1, q.Dropped())
	events := q.Drain()
	require.Len(t, events, 2)
	assert.Equal(t, "b.py", events[0].Path)
	assert.Equal(t, "c.py", events[1].Path)
	assert.Empty(t, q.Drain())

	select {
	case <-q.Ready():
	default:
		t.Fatal("push should signal readiness")
	}
}

func TestLineDiff(t *testing.T) {
	diff := LineDiff("a\nb\nc", "a\nc\nd")
	assert.Equal(t, "- b\n+ d\n", diff)
	assert.Empty(t, LineDiff("same", "same"))
}

func TestNew_InvalidRoot(t *testing.T) {
	_, err := New(filepath.Join(t.TempDir(), "missing"), &fakeRunner{}, nil, 0, 10)
	assert.Error(t, err)
}

func TestCheck_DiffsComplianceSummary(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "app.py")
	require.NoError(t, os.WriteFile(path, []byte("x = 1\n"), 0644))

	runner := &fakeRunner{fail: "library_license_checker"}
	w, err := New(dir, runner, []string{"library_license_checker", ComplianceTool}, 0, 10)
	require.NoError(t, err)

	first := w.Check(context.Background(), path, "modify")
	assert.Equal(t, "app.py", first.Path)
	assert.Empty(t, first.Diff, "no diff on the first run")
	assert.Equal(t, "lookup failed", first.Errors["library_license_checker"])
	require.Contains(t, first.Results, ComplianceTool)

	second := w.Check(context.Background(), path, "modify")
	assert.Equal(t, "+ - G003 (Line 1): missing docstring\n", second.Diff)
	assert.NotEqual(t, first.ID, second.ID)

	third := w.Check(context.Background(), path, "modify")
	assert.Empty(t, third.Diff, "unchanged summary")

	stats := w.Stats()
	assert.Equal(t, 3, stats.Processed)
	assert.Equal(t, 3, stats.Errors)
}

func TestWatcher_EndToEnd(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "venv"), 0755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".gitignore"), []byte("scratch/\n"), 0644))

	runner := &fakeRunner{}
	w, err := New(dir, runner, []string{ComplianceTool}, 50*time.Millisecond, 10)
	require.NoError(t, err)

	var mu sync.Mutex
	var seen []string
	w.OnEvent = func(ev FileEvent) {
		mu.Lock()
		seen = append(seen, ev.Path)
		mu.Unlock()
	}

	ctx := context.Background()
	require.NoError(t, w.Start(ctx))
	require.NoError(t, w.Start(ctx), "second start is a no-op")
	assert.True(t, w.IsRunning())

	// rapid writes collapse into one check
	target := filepath.Join(dir, "app.py")
	for i := 0; i < 5; i++ {
		require.NoError(t, os.WriteFile(target, []byte("x = "+string(rune('0'+i))+"\n"), 0644))
	}
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("ignored"), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "venv", "lib.py"), []byte("ignored"), 0644))

	// files in new directories are picked up
	sub := filepath.Join(dir, "pkg")
	require.NoError(t, os.MkdirAll(sub, 0755))
	require.Eventually(t, func() bool { return w.Stats().WatchedDirs >= 2 }, 2*time.Second, 20*time.Millisecond)
	require.NoError(t, os.WriteFile(filepath.Join(sub, "Main.java"), []byte("class Main {}"), 0644))

	require.NoError(t, os.MkdirAll(filepath.Join(dir, "scratch"), 0755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "scratch", "tmp.py"), []byte("x"), 0644))

	require.Eventually(t, func() bool { return w.Queue().Len() >= 2 }, 3*time.Second, 20*time.Millisecond)
	time.Sleep(200 * time.Millisecond)
	w.Stop()
	w.Stop()
	assert.False(t, w.IsRunning())

	events := w.Queue().Drain()
	paths := make([]string, 0, len(events))
	for _, ev := range events {
		paths = append(paths, ev.Path)
	}
	assert.ElementsMatch(t, []string{"app.py", "pkg/Main.java"}, paths)
	assert.Equal(t, 1, runner.count(ComplianceTool+":app.py"))
	assert.Zero(t, runner.count(ComplianceTool+":lib.py"))
	assert.Zero(t, runner.count(ComplianceTool+":tmp.py"))

	mu.Lock()
	assert.ElementsMatch(t, paths, seen)
	mu.Unlock()
}

func TestWatcher_StopsOnContextCancel(t *testing.T) {
	w, err := New(t.TempDir(), &fakeRunner{}, nil, 0, 10)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, w.Start(ctx))
	require.True(t, w.IsRunning())
	cancel()

	require.Eventually(t, func() bool { return !w.IsRunning() }, 2*time.Second, 10*time.Millisecond)
	assert.Zero(t, w.Stats().WatchedDirs)
	w.Stop()

	require.NoError(t, w.Start(context.Background()))
	assert.True(t, w.IsRunning(), "a watcher whose context ended can be started again")
	assert.Equal(t, 1, w.Stats().WatchedDirs)
	w.Stop()
	assert.False(t, w.IsRunning())
}
