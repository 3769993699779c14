package events

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"devguard/internal/registry"
	"devguard/internal/watcher"
)

type fakeWriter struct {
	mu     sync.Mutex
	msgs   []kafka.Message
	err    error
	closed bool
}

func (f *fakeWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.msgs = append(f.msgs, msgs...)
	return nil
}

func (f *fakeWriter) Close() error {
	f.closed = true
	return nil
}

func header(msg kafka.Message, key string) string {
	for _, h := range msg.Headers {
		if h.Key == key {
			return string(h.Value)
		}
	}
	return ""
}

func TestNewProducer_Defaults(t *testing.T) {
	p := NewProducer(Config{})
	assert.Equal(t, []string{"localhost:9092"}, p.config.Brokers)
	assert.Equal(t, "devguard-events", p.config.Topic)
	assert.Equal(t, 100, p.config.BatchSize)
	assert.Equal(t, time.Second, p.config.BatchTimeout)
}

func TestProducer_ConnectAndProduce(t *testing.T) {
	w := &fakeWriter{}
	p := NewProducer(Config{})
	require.NoError(t, p.connectWith(context.Background(), w))
	assert.True(t, p.IsConnected())

	res := &registry.Result{ID: "r1", ToolID: "library_license_checker", File: "app.py", Format: "table", Text: "ok", CreatedAt: time.Now()}
	require.NoError(t, p.ProduceToolRun(context.Background(), res, "sess-1"))
	require.NoError(t, p.ProduceFileEvent(context.Background(), watcher.FileEvent{
		ID:      "e1",
		Path:    "app.py",
		Op:      "modify",
		Results: map[string]*registry.Result{"internal_guideline_compliance_checker": {}},
	}))

	require.Len(t, w.msgs, 3)
	assert.Equal(t, "system", header(w.msgs[0], "type"))

	run := w.msgs[1]
	assert.Equal(t, "tool_run", string(run.Key))
	assert.Equal(t, "tool", header(run, "source"))
	var ev Event
	require.NoError(t, json.Unmarshal(run.Value, &ev))
	assert.Equal(t, "sess-1", ev.SessionID)
	assert.Equal(t, "library_license_checker", ev.Data["tool_id"])

	file := w.msgs[2]
	assert.Equal(t, "watcher", header(file, "source"))
	assert.False(t, file.Time.IsZero(), "missing timestamps are filled in")

	require.NoError(t, p.Close())
	assert.True(t, w.closed)
	assert.False(t, p.IsConnected())
	assert.Error(t, p.Produce(context.Background(), Event{Type: SystemEvent}))
}

func TestProducer_ConnectFailure(t *testing.T) {
	w := &fakeWriter{err: errors.New("no brokers")}
	p := NewProducer(Config{})
	err := p.connectWith(context.Background(), w)
	assert.ErrorContains(t, err, "failed to connect to Kafka")
	assert.False(t, p.IsConnected())
	assert.True(t, w.closed)
}

func TestProducer_NilIsNoop(t *testing.T) {
	var p *Producer
	assert.NoError(t, p.Produce(context.Background(), Event{}))
	assert.NoError(t, p.ProduceToolRun(context.Background(), &registry.Result{}, ""))
	assert.NoError(t, p.ProduceFileEvent(context.Background(), watcher.FileEvent{}))
	assert.NoError(t, p.Close())
	assert.False(t, p.IsConnected())
}
