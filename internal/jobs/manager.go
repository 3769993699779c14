// Package jobs runs long tool invocations (research reports, code reviews of
// whole trees) in the background on a fixed pool of workers.
package jobs

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"devguard/internal/registry"
)

// State represents the state of a job
type State string

const (
	StateQueued    State = "queued"
	StateRunning   State = "running"
	StateComplete  State = "complete"
	StateError     State = "error"
	StateCancelled State = "cancelled"
)

var (
	ErrNotFound  = errors.New("job not found")
	ErrFinished  = errors.New("job already finished")
	ErrQueueFull = errors.New("job queue is full")
	ErrDuplicate = errors.New("an identical job is already queued or running")
)

// Job is one background tool run
type Job struct {
	ID          string           `json:"id"`
	ToolID      string           `json:"tool_id"`
	Target      string           `json:"target"`
	State       State            `json:"state"`
	Message     string           `json:"message"`
	CreatedAt   time.Time        `json:"created_at"`
	StartedAt   *time.Time       `json:"started_at,omitempty"`
	CompletedAt *time.Time       `json:"completed_at,omitempty"`
	Error       string           `json:"error,omitempty"`
	Result      *registry.Result `json:"result,omitempty"`

	path   string
	opts   registry.Options
	cancel context.CancelFunc
}

func (j *Job) finished() bool {
	return j.State == StateComplete || j.State == StateError || j.State == StateCancelled
}

func (j *Job) key() string {
	return j.ToolID + "\x00" + j.Target
}

// Runner runs a registered tool; *registry.Registry satisfies it
type Runner interface {
	Run(ctx context.Context, id, path string, opts registry.Options) (*registry.Result, error)
}

// Stats summarizes the manager
type Stats struct {
	Queued    int `json:"queued"`
	Running   int `json:"running"`
	Total     int `json:"total"`
	Workers   int `json:"workers"`
	Processed int `json:"processed"`
}

// Manager queues jobs and runs them on its workers
type Manager struct {
	runner    Runner
	jobs      map[string]*Job
	mu        sync.RWMutex
	queue     chan *Job
	workers   int
	processed int
	ctx       context.Context
	cancel    context.CancelFunc
	wg        sync.WaitGroup

	// OnUpdate is called with a snapshot after every state change
	OnUpdate func(Job)
	// OnResult is called for every completed run
	OnResult func(*registry.Result)
}

// NewManager starts workers goroutines draining a queue of queueSize jobs
func NewManager(runner Runner, workers, queueSize int) *Manager {
	if workers < 1 {
		workers = 1
	}
	if queueSize < 1 {
		queueSize = 1
	}
	ctx, cancel := context.WithCancel(context.Background())
	m := &Manager{
		runner:  runner,
		jobs:    make(map[string]*Job),
		queue:   make(chan *Job, queueSize),
		workers: workers,
		ctx:     ctx,
		cancel:  cancel,
	}
	for i := 0; i < workers; i++ {
		m.wg.Add(1)
		go m.work()
	}
	log.Printf("✅ Job manager initialized with %d workers", workers)
	return m
}

// Submit queues a run of toolID. target names the job for listings and
// duplicate detection: the display path for file tools, the topic otherwise.
func (m *Manager) Submit(toolID, path, target string, opts registry.Options) (Job, error) {
	job := &Job{
		ID:        uuid.NewString(),
		ToolID:    toolID,
		Target:    target,
		State:     StateQueued,
		Message:   "Job created and queued",
		CreatedAt: time.Now(),
		path:      path,
		opts:      opts,
	}

	m.mu.Lock()
	for _, other := range m.jobs {
		if !other.finished() && other.key() == job.key() {
			m.mu.Unlock()
			return Job{}, fmt.Errorf("%w: %s", ErrDuplicate, other.ID)
		}
	}
	select {
	case m.queue <- job:
	default:
		m.mu.Unlock()
		return Job{}, ErrQueueFull
	}
	m.jobs[job.ID] = job
	snapshot := *job
	m.mu.Unlock()

	log.Printf("📋 Queued job %s: %s on %q", job.ID, toolID, target)
	m.notify(snapshot)
	return snapshot, nil
}

// Get returns a snapshot of one job
func (m *Manager) Get(id string) (Job, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	job, ok := m.jobs[id]
	if !ok {
		return Job{}, ErrNotFound
	}
	return *job, nil
}

// List returns snapshots of every job, newest first
func (m *Manager) List() []Job {
	m.mu.RLock()
	out := make([]Job, 0, len(m.jobs))
	for _, job := range m.jobs {
		out = append(out, *job)
	}
	m.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out
}

// Cancel stops a queued or running job
func (m *Manager) Cancel(id string) error {
	m.mu.Lock()
	job, ok := m.jobs[id]
	if !ok {
		m.mu.Unlock()
		return ErrNotFound
	}
	if job.finished() {
		m.mu.Unlock()
		return ErrFinished
	}
	if job.cancel != nil {
		job.cancel()
	}
	now := time.Now()
	job.State = StateCancelled
	job.CompletedAt = &now
	job.Message = "Job cancelled by user"
	snapshot := *job
	m.mu.Unlock()

	log.Printf("🛑 Job %s cancelled", id)
	m.notify(snapshot)
	return nil
}

// Cleanup removes finished jobs created more than maxAge ago
func (m *Manager) Cleanup(maxAge time.Duration) int {
	m.mu.Lock()
	defer m.mu.Unlock()

	cutoff := time.Now().Add(-maxAge)
	cleaned := 0
	for id, job := range m.jobs {
		if job.finished() && job.CreatedAt.Before(cutoff) {
			delete(m.jobs, id)
			cleaned++
		}
	}
	if cleaned > 0 {
		log.Printf("🧹 Cleaned up %d old jobs", cleaned)
	}
	return cleaned
}

// Stats returns queue and worker counters
func (m *Manager) Stats() Stats {
	m.mu.RLock()
	defer m.mu.RUnlock()
	st := Stats{Total: len(m.jobs), Workers: m.workers, Processed: m.processed}
	for _, job := range m.jobs {
		switch job.State {
		case StateQueued:
			st.Queued++
		case StateRunning:
			st.Running++
		}
	}
	return st
}

// Stop cancels running jobs and waits up to timeout for the workers
func (m *Manager) Stop(timeout time.Duration) error {
	m.cancel()
	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		log.Println("✅ Job manager stopped")
		return nil
	case <-time.After(timeout):
		return fmt.Errorf("job manager stop timed out after %s", timeout)
	}
}

func (m *Manager) work() {
	defer m.wg.Done()
	for {
		select {
		case <-m.ctx.Done():
			return
		case job := <-m.queue:
			m.process(job)
		}
	}
}

func (m *Manager) process(job *Job) {
	m.mu.Lock()
	if job.State != StateQueued {
		m.mu.Unlock()
		return
	}
	ctx, cancel := context.WithCancel(m.ctx)
	defer cancel()
	now := time.Now()
	job.State = StateRunning
	job.StartedAt = &now
	job.Message = "Running " + job.ToolID
	job.cancel = cancel
	snapshot := *job
	m.mu.Unlock()
	m.notify(snapshot)

	res, err := m.runner.Run(ctx, job.ToolID, job.path, job.opts)

	m.mu.Lock()
	m.processed++
	job.cancel = nil
	if job.State == StateCancelled {
		m.mu.Unlock()
		return
	}
	done := time.Now()
	job.CompletedAt = &done
	if err != nil {
		job.State = StateError
		job.Error = err.Error()
		job.Message = fmt.Sprintf("Job failed: %v", err)
	} else {
		if job.Target != "" && job.opts.Topic == "" {
			res.File = job.Target
		}
		job.State = StateComplete
		job.Result = res
		job.Message = fmt.Sprintf("Completed in %s", done.Sub(now).Round(time.Millisecond))
	}
	snapshot = *job
	m.mu.Unlock()

	if err != nil {
		log.Printf("❌ Job %s failed: %v", job.ID, err)
	} else {
		log.Printf("✅ Job %s completed", job.ID)
		if m.OnResult != nil {
			m.OnResult(res)
		}
	}
	m.notify(snapshot)
}

func (m *Manager) notify(job Job) {
	if m.OnUpdate != nil {
		m.OnUpdate(job)
	}
}
