package jobs

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"devguard/internal/registry"
)

// blockingRunner blocks "slow" runs until released or cancelled
type blockingRunner struct {
	release chan struct{}
}

func (b *blockingRunner) Run(ctx context.Context, id, path string, opts registry.Options) (*registry.Result, error) {
	switch id {
	case "slow":
		select {
		case <-b.release:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	case "broken":
		return nil, errors.New("tool failed")
	}
	return &registry.Result{ToolID: id, File: path, Text: "done " + opts.Topic}, nil
}

func waitState(t *testing.T, m *Manager, id string, want State) Job {
	t.Helper()
	var job Job
	require.Eventually(t, func() bool {
		var err error
		job, err = m.Get(id)
		return err == nil && job.State == want
	}, 2*time.Second, 5*time.Millisecond)
	return job
}

func TestManager_RunsJobs(t *testing.T) {
	defer goleak.VerifyNone(t)

	m := NewManager(&blockingRunner{release: make(chan struct{})}, 2, 10)
	defer m.Stop(time.Second)

	var mu sync.Mutex
	var results []*registry.Result
	m.OnResult = func(res *registry.Result) {
		mu.Lock()
		results = append(results, res)
		mu.Unlock()
	}

	job, err := m.Submit("fast", "/tmp/x/app.py", "app.py", registry.Options{})
	require.NoError(t, err)
	assert.Equal(t, StateQueued, job.State)

	done := waitState(t, m, job.ID, StateComplete)
	require.NotNil(t, done.Result)
	assert.Equal(t, "app.py", done.Result.File, "results carry the display path")
	assert.NotNil(t, done.StartedAt)
	assert.NotNil(t, done.CompletedAt)

	topic, err := m.Submit("research", "", "go generics", registry.Options{Topic: "go generics"})
	require.NoError(t, err)
	done = waitState(t, m, topic.ID, StateComplete)
	assert.Equal(t, "done go generics", done.Result.Text)
	assert.Empty(t, done.Result.File)

	failed, err := m.Submit("broken", "", "x", registry.Options{})
	require.NoError(t, err)
	done = waitState(t, m, failed.ID, StateError)
	assert.Equal(t, "tool failed", done.Error)

	mu.Lock()
	assert.Len(t, results, 2)
	mu.Unlock()

	list := m.List()
	require.Len(t, list, 3)
	assert.Equal(t, failed.ID, list[0].ID)
	assert.Equal(t, 3, m.Stats().Processed)
}

func TestManager_CancelAndDuplicates(t *testing.T) {
	defer goleak.VerifyNone(t)

	runner := &blockingRunner{release: make(chan struct{})}
	m := NewManager(runner, 1, 1)
	defer m.Stop(time.Second)

	running, err := m.Submit("slow", "", "a", registry.Options{})
	require.NoError(t, err)
	waitState(t, m, running.ID, StateRunning)

	_, err = m.Submit("slow", "", "a", registry.Options{})
	assert.ErrorIs(t, err, ErrDuplicate)

	queued, err := m.Submit("slow", "", "b", registry.Options{})
	require.NoError(t, err)
	_, err = m.Submit("slow", "", "c", registry.Options{})
	assert.ErrorIs(t, err, ErrQueueFull)

	require.NoError(t, m.Cancel(running.ID))
	assert.Equal(t, StateCancelled, waitState(t, m, running.ID, StateCancelled).State)
	assert.ErrorIs(t, m.Cancel(running.ID), ErrFinished)
	assert.ErrorIs(t, m.Cancel("missing"), ErrNotFound)

	waitState(t, m, queued.ID, StateRunning)
	close(runner.release)
	waitState(t, m, queued.ID, StateComplete)

	assert.Zero(t, m.Cleanup(time.Hour))
	assert.Equal(t, 2, m.Cleanup(0))
	assert.Empty(t, m.List())
}

func TestManager_StopCancelsRunning(t *testing.T) {
	defer goleak.VerifyNone(t)

	m := NewManager(&blockingRunner{release: make(chan struct{})}, 1, 1)
	_, err := m.Submit("slow", "", "a", registry.Options{})
	require.NoError(t, err)
	require.Eventually(t, func() bool { return m.Stats().Running == 1 }, time.Second, 5*time.Millisecond)
	require.NoError(t, m.Stop(time.Second))
}
