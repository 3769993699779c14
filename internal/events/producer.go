// Package events streams tool runs and file events to Kafka.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/segmentio/kafka-go"

	"devguard/internal/registry"
	"devguard/internal/watcher"
)

// EventType represents the kind of event produced
type EventType string

const (
	ToolRunEvent   EventType = "tool_run"
	FileEventType  EventType = "file_event"
	ChatEventType  EventType = "chat_message"
	SystemEvent    EventType = "system"
	ErrorEventType EventType = "error"
)

// Event is the JSON payload written to Kafka
type Event struct {
	Type      EventType              `json:"type"`
	Timestamp time.Time              `json:"timestamp"`
	Source    string                 `json:"source"`
	Data      map[string]interface{} `json:"data"`
	SessionID string                 `json:"session_id,omitempty"`
}

// messageWriter is the subset of *kafka.Writer the producer uses
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Config contains configuration for the producer
type Config struct {
	Brokers      []string
	Topic        string
	ClientID     string
	BatchSize    int
	BatchTimeout time.Duration
	Async        bool
}

// Producer writes events to a Kafka topic. A nil *Producer drops every event,
// so callers don't need to check whether streaming is enabled.
type Producer struct {
	mu        sync.RWMutex
	writer    messageWriter
	config    Config
	connected bool
}

// NewProducer creates a producer; call Connect before producing
func NewProducer(config Config) *Producer {
	if len(config.Brokers) == 0 {
		config.Brokers = []string{"localhost:9092"}
	}
	if config.Topic == "" {
		config.Topic = "devguard-events"
	}
	if config.ClientID == "" {
		config.ClientID = "devguard"
	}
	if config.BatchSize == 0 {
		config.BatchSize = 100
	}
	if config.BatchTimeout == 0 {
		config.BatchTimeout = time.Second
	}
	return &Producer{config: config}
}

// Connect creates the writer and verifies the brokers with a ping event
func (p *Producer) Connect(ctx context.Context) error {
	w := &kafka.Writer{
		Addr:                   kafka.TCP(p.config.Brokers...),
		Topic:                  p.config.Topic,
		Balancer:               &kafka.LeastBytes{},
		BatchSize:              p.config.BatchSize,
		BatchTimeout:           p.config.BatchTimeout,
		Async:                  p.config.Async,
		RequiredAcks:           kafka.RequireOne,
		AllowAutoTopicCreation: true,
		Transport:              &kafka.Transport{ClientID: p.config.ClientID},
	}
	return p.connectWith(ctx, w)
}

func (p *Producer) connectWith(ctx context.Context, w messageWriter) error {
	p.mu.Lock()
	p.writer = w
	p.mu.Unlock()

	ping := Event{Type: SystemEvent, Source: "event_producer", Data: map[string]interface{}{"message": "ping"}}
	if err := p.Produce(ctx, ping); err != nil {
		p.mu.Lock()
		p.writer = nil
		p.mu.Unlock()
		w.Close()
		return fmt.Errorf("failed to connect to Kafka: %w", err)
	}

	p.mu.Lock()
	p.connected = true
	p.mu.Unlock()
	log.Printf("✅ Kafka producer connected to %v (topic %s)", p.config.Brokers, p.config.Topic)
	return nil
}

// Produce sends an event keyed by its type
func (p *Producer) Produce(ctx context.Context, event Event) error {
	if p == nil {
		return nil
	}
	p.mu.RLock()
	w := p.writer
	p.mu.RUnlock()
	if w == nil {
		return fmt.Errorf("event producer not connected")
	}

	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}
	value, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	msg := kafka.Message{
		Key:   []byte(event.Type),
		Value: value,
		Time:  event.Timestamp,
		Headers: []kafka.Header{
			{Key: "source", Value: []byte(event.Source)},
			{Key: "type", Value: []byte(event.Type)},
		},
	}
	if err := w.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("failed to write message to Kafka: %w", err)
	}
	return nil
}

// ProduceToolRun records a finished tool run
func (p *Producer) ProduceToolRun(ctx context.Context, res *registry.Result, sessionID string) error {
	if p == nil || res == nil {
		return nil
	}
	return p.Produce(ctx, Event{
		Type:      ToolRunEvent,
		Timestamp: res.CreatedAt,
		Source:    "tool",
		SessionID: sessionID,
		Data: map[string]interface{}{
			"id":      res.ID,
			"tool_id": res.ToolID,
			"file":    res.File,
			"format":  res.Format,
			"text":    res.Text,
		},
	})
}

// ProduceFileEvent records a watcher event
func (p *Producer) ProduceFileEvent(ctx context.Context, ev watcher.FileEvent) error {
	if p == nil {
		return nil
	}
	tools := make([]string, 0, len(ev.Results))
	for id := range ev.Results {
		tools = append(tools, id)
	}
	return p.Produce(ctx, Event{
		Type:      FileEventType,
		Timestamp: ev.Time,
		Source:    "watcher",
		Data: map[string]interface{}{
			"id":     ev.ID,
			"path":   ev.Path,
			"op":     ev.Op,
			"tools":  tools,
			"errors": ev.Errors,
			"diff":   ev.Diff,
		},
	})
}

// Close flushes and closes the writer
func (p *Producer) Close() error {
	if p == nil {
		return nil
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.writer == nil {
		return nil
	}
	err := p.writer.Close()
	p.writer = nil
	p.connected = false
	return err
}

// IsConnected returns whether the producer is connected to Kafka
func (p *Producer) IsConnected() bool {
	if p == nil {
		return false
	}
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.connected
}
