// Package watcher re-runs file checks when supported files change under the
// allowed directory and hands the results to consumers through a bounded queue.
package watcher

import (
	"context"
	"fmt"
	"io/fs"
	"log"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/google/uuid"
	"github.com/sergi/go-diff/diffmatchpatch"

	"devguard/internal/registry"
	"devguard/internal/utils"
)

// ComplianceTool is the tool whose summary is diffed between runs
const ComplianceTool = "internal_guideline_compliance_checker"

// Runner runs a registered tool; *registry.Registry satisfies it
type Runner interface {
	Run(ctx context.Context, id, path string, opts registry.Options) (*registry.Result, error)
}

// Stats tracks watcher activity
type Stats struct {
	Events        int       `json:"events"`
	Processed     int       `json:"processed"`
	Errors        int       `json:"errors"`
	Dropped       int       `json:"dropped"`
	WatchedDirs   int       `json:"watched_dirs"`
	LastEventTime time.Time `json:"last_event_time"`
	LastEventPath string    `json:"last_event_path"`
}

// Watcher watches a directory tree for changes to supported files
type Watcher struct {
	mu          sync.RWMutex
	root        string
	rules       *utils.IgnoreRules
	runner      Runner
	tools       []string
	queue       *Queue
	fsw         *fsnotify.Watcher
	debounceMap map[string]pending
	debounceDur time.Duration
	summaries   map[string]string
	stopCh      chan struct{}
	doneCh      chan struct{}
	running     bool
	stats       Stats

	// OnEvent, when set, is called from the watcher goroutine after each push
	OnEvent func(FileEvent)
}

type pending struct {
	at time.Time
	op string
}

// New creates a watcher for root. tools are run in order for every settled file.
func New(root string, runner Runner, tools []string, debounce time.Duration, queueSize int) (*Watcher, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("invalid watch root: %w", err)
	}
	if info, err := os.Stat(abs); err != nil || !info.IsDir() {
		return nil, fmt.Errorf("watch root %s is not a directory", root)
	}
	if debounce <= 0 {
		debounce = 500 * time.Millisecond
	}
	return &Watcher{
		root:        abs,
		rules:       utils.LoadIgnoreRules(abs),
		runner:      runner,
		tools:       tools,
		queue:       NewQueue(queueSize),
		debounceMap: make(map[string]pending),
		debounceDur: debounce,
		summaries:   make(map[string]string),
	}, nil
}

// Queue returns the event queue
func (w *Watcher) Queue() *Queue {
	return w.queue
}

// Start begins watching. Calling Start on a running watcher is a no-op.
func (w *Watcher) Start(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.running {
		log.Printf("🔁 Watcher already running.")
		return nil
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	w.fsw = fsw
	if err := w.addTree(w.root); err != nil {
		fsw.Close()
		return err
	}

	w.stopCh = make(chan struct{})
	w.doneCh = make(chan struct{})
	w.running = true
	go w.run(ctx, fsw, w.stopCh, w.doneCh)

	log.Printf("👀 Watching for changes in: %s", w.root)
	return nil
}

// Stop stops the watcher and waits for its goroutine to exit. Stopping a
// watcher whose context was already cancelled is a no-op.
func (w *Watcher) Stop() {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return
	}
	w.running = false
	stopCh, doneCh, fsw := w.stopCh, w.doneCh, w.fsw
	w.mu.Unlock()

	close(stopCh)
	<-doneCh
	if err := fsw.Close(); err != nil {
		log.Printf("⚠️  Watcher: error closing: %v", err)
	}
	log.Printf("🛑 Watcher stopped")
}

// IsRunning reports whether the watcher loop is active
func (w *Watcher) IsRunning() bool {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.running
}

// Stats returns a snapshot of the watcher counters
func (w *Watcher) Stats() Stats {
	w.mu.RLock()
	defer w.mu.RUnlock()
	s := w.stats
	s.Dropped = w.queue.Dropped()
	if w.fsw != nil && w.running {
		s.WatchedDirs = len(w.fsw.WatchList())
	}
	return s
}

// addTree watches dir and every non-ignored directory below it. Callers hold mu.
func (w *Watcher) addTree(dir string) error {
	return filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if path == dir {
				return err
			}
			return nil
		}
		if !d.IsDir() {
			return nil
		}
		if path != w.root && w.rules.Ignored(path, true) {
			return filepath.SkipDir
		}
		if err := w.fsw.Add(path); err != nil {
			log.Printf("⚠️  Watcher: cannot watch %s: %v", path, err)
		}
		return nil
	})
}

func (w *Watcher) run(ctx context.Context, fsw *fsnotify.Watcher, stopCh, doneCh chan struct{}) {
	defer close(doneCh)
	defer w.exited(fsw)

	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-stopCh:
			return
		case event, ok := <-fsw.Events:
			if !ok {
				return
			}
			w.handleEvent(event)
		case err, ok := <-fsw.Errors:
			if !ok {
				return
			}
			log.Printf("❌ Watcher error: %v", err)
			w.mu.Lock()
			w.stats.Errors++
			w.mu.Unlock()
		case <-ticker.C:
			w.processSettled(ctx)
		}
	}
}

// exited marks the watcher stopped when its loop ends without Stop, e.g. on
// context cancellation. Stop cleans up after itself.
func (w *Watcher) exited(fsw *fsnotify.Watcher) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if !w.running || w.fsw != fsw {
		return
	}
	w.running = false
	if err := fsw.Close(); err != nil {
		log.Printf("⚠️  Watcher: error closing: %v", err)
	}
	log.Printf("🛑 Watcher stopped")
}

func (w *Watcher) handleEvent(event fsnotify.Event) {
	var op string
	switch {
	case event.Has(fsnotify.Create):
		op = "create"
	case event.Has(fsnotify.Write):
		op = "modify"
	default:
		return
	}

	if op == "create" {
		if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
			w.mu.Lock()
			if !w.rules.Ignored(event.Name, true) {
				if err := w.addTree(event.Name); err != nil {
					log.Printf("⚠️  Watcher: cannot watch new directory %s: %v", event.Name, err)
				}
			}
			w.mu.Unlock()
			return
		}
	}

	if !utils.IsSupportedFile(event.Name) || w.rules.Ignored(event.Name, false) {
		return
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	w.stats.Events++
	w.stats.LastEventTime = time.Now()
	w.stats.LastEventPath = event.Name
	// a create followed by writes stays a create
	if prev, ok := w.debounceMap[event.Name]; ok && prev.op == "create" {
		op = prev.op
	}
	w.debounceMap[event.Name] = pending{at: time.Now(), op: op}
}

// processSettled runs the checks for paths quiet for the debounce window
func (w *Watcher) processSettled(ctx context.Context) {
	w.mu.Lock()
	now := time.Now()
	var settled []string
	ops := make(map[string]string)
	for path, p := range w.debounceMap {
		if now.Sub(p.at) >= w.debounceDur {
			settled = append(settled, path)
			ops[path] = p.op
			delete(w.debounceMap, path)
		}
	}
	w.mu.Unlock()

	sort.Strings(settled)
	for _, path := range settled {
		if ctx.Err() != nil {
			return
		}
		if !utils.FileExists(path) {
			continue
		}
		ev := w.Check(ctx, path, ops[path])
		w.queue.Push(ev)
		if w.OnEvent != nil {
			w.OnEvent(ev)
		}
	}
}

// Check runs every configured tool on path and builds the event. The
// compliance summary is diffed against the previous check of the same path.
func (w *Watcher) Check(ctx context.Context, path, op string) FileEvent {
	rel := path
	if r, err := filepath.Rel(w.root, path); err == nil && !strings.HasPrefix(r, "..") {
		rel = filepath.ToSlash(r)
	}
	log.Printf("🚨 File changed: %s", rel)

	ev := FileEvent{
		ID:      uuid.NewString(),
		Path:    rel,
		Op:      op,
		Time:    time.Now(),
		Results: make(map[string]*registry.Result),
	}
	for _, tool := range w.tools {
		res, err := w.runner.Run(ctx, tool, path, registry.Options{Format: "summary"})
		if err != nil {
			if ev.Errors == nil {
				ev.Errors = make(map[string]string)
			}
			ev.Errors[tool] = err.Error()
			continue
		}
		ev.Results[tool] = res
		if tool == ComplianceTool {
			ev.Diff = w.diffSummary(path, res.Text)
		}
	}

	w.mu.Lock()
	w.stats.Processed++
	if len(ev.Errors) > 0 {
		w.stats.Errors++
	}
	w.mu.Unlock()
	return ev
}

func (w *Watcher) diffSummary(path, current string) string {
	w.mu.Lock()
	prev, seen := w.summaries[path]
	w.summaries[path] = current
	w.mu.Unlock()

	if !seen || prev == current {
		return ""
	}
	return LineDiff(prev, current)
}

// LineDiff renders a line-level diff with "- " and "+ " prefixes
func LineDiff(before, after string) string {
	before, after = withNewline(before), withNewline(after)
	dmp := diffmatchpatch.New()
	a, b, lines := dmp.DiffLinesToChars(before, after)
	diffs := dmp.DiffCharsToLines(dmp.DiffMain(a, b, false), lines)

	var sb strings.Builder
	for _, d := range diffs {
		var prefix string
		switch d.Type {
		case diffmatchpatch.DiffInsert:
			prefix = "+ "
		case diffmatchpatch.DiffDelete:
			prefix = "- "
		default:
			continue
		}
		for _, line := range strings.Split(strings.TrimSuffix(d.Text, "\n"), "\n") {
			sb.WriteString(prefix + line + "\n")
		}
	}
	return sb.String()
}

func withNewline(s string) string {
	if s != "" && !strings.HasSuffix(s, "\n") {
		return s + "\n"
	}
	return s
}
