// Package store keeps the history of tool reports in a chromem-go collection
// so they can be listed, exported and searched semantically.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	chromem "github.com/philippgille/chromem-go"

	"devguard/internal/registry"
)

// CollectionName is the chromem collection holding reports
const CollectionName = "reports"

// ErrNotFound is returned for unknown report ids
var ErrNotFound = errors.New("report not found")

// Summary is the listing view of a stored report
type Summary struct {
	ID          string    `json:"id"`
	ToolID      string    `json:"tool_id"`
	DisplayName string    `json:"display_name"`
	File        string    `json:"file,omitempty"`
	Format      string    `json:"format"`
	CreatedAt   time.Time `json:"created_at"`
}

// Hit is one semantic search match
type Hit struct {
	Summary
	Similarity float32 `json:"similarity"`
	Snippet    string  `json:"snippet"`
}

// Store persists reports. Documents live in chromem; an in-memory index of
// summaries mirrors them for listing.
type Store struct {
	mu         sync.RWMutex
	db         *chromem.DB
	collection *chromem.Collection
	index      map[string]Summary
	dbPath     string
}

// Open opens (or creates) the persistent store under dir. An empty dir gives
// an in-memory store.
func Open(ctx context.Context, dir string, ef chromem.EmbeddingFunc) (*Store, error) {
	var db *chromem.DB
	if dir == "" {
		db = chromem.NewDB()
	} else {
		if err := os.MkdirAll(dir, 0700); err != nil {
			return nil, fmt.Errorf("failed to create store directory %s: %w", dir, err)
		}
		var err error
		db, err = chromem.NewPersistentDB(dir, false)
		if err != nil {
			return nil, fmt.Errorf("failed to open report store: %w", err)
		}
	}

	coll, err := db.GetOrCreateCollection(CollectionName, nil, ef)
	if err != nil {
		return nil, fmt.Errorf("failed to get/create %s collection: %w", CollectionName, err)
	}

	s := &Store{
		db:         db,
		collection: coll,
		index:      make(map[string]Summary),
		dbPath:     dir,
	}
	if err := s.loadIndex(ctx); err != nil {
		return nil, err
	}
	log.Printf("✅ Report store ready (%d reports)", len(s.index))
	return s, nil
}

// loadIndex rebuilds the summaries from the persisted documents. chromem has
// no listing call, so every document is fetched with one query.
func (s *Store) loadIndex(ctx context.Context) error {
	n := s.collection.Count()
	if n == 0 {
		return nil
	}
	results, err := s.collection.Query(ctx, "report", n, nil, nil)
	if err != nil {
		return fmt.Errorf("failed to load report index: %w", err)
	}
	for _, r := range results {
		s.index[r.ID] = summaryFromMetadata(r.ID, r.Metadata)
	}
	return nil
}

// Save stores res, assigning an id and timestamp when missing
func (s *Store) Save(ctx context.Context, res *registry.Result) error {
	if res == nil {
		return fmt.Errorf("nil report")
	}
	if res.ID == "" {
		res.ID = uuid.NewString()
	}
	if res.CreatedAt.IsZero() {
		res.CreatedAt = time.Now()
	}

	payload, err := json.Marshal(res)
	if err != nil {
		return fmt.Errorf("failed to marshal report: %w", err)
	}
	content := res.Text
	if strings.TrimSpace(content) == "" {
		content = strings.TrimSpace(res.DisplayName + " " + res.File)
	}
	if content == "" {
		content = res.ToolID
	}

	doc := chromem.Document{
		ID:      res.ID,
		Content: content,
		Metadata: map[string]string{
			"tool_id":      res.ToolID,
			"display_name": res.DisplayName,
			"file":         res.File,
			"format":       res.Format,
			"created_at":   res.CreatedAt.Format(time.RFC3339Nano),
			"report_data":  string(payload),
		},
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.collection.AddDocument(ctx, doc); err != nil {
		return fmt.Errorf("failed to store report %s: %w", res.ID, err)
	}
	s.index[res.ID] = summaryFromMetadata(res.ID, doc.Metadata)
	return nil
}

// Get returns the full report
func (s *Store) Get(ctx context.Context, id string) (*registry.Result, error) {
	s.mu.RLock()
	_, ok := s.index[id]
	s.mu.RUnlock()
	if !ok {
		return nil, ErrNotFound
	}

	doc, err := s.collection.GetByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to read report %s: %w", id, err)
	}
	var res registry.Result
	if err := json.Unmarshal([]byte(doc.Metadata["report_data"]), &res); err != nil {
		return nil, fmt.Errorf("failed to decode report %s: %w", id, err)
	}
	return &res, nil
}

// List returns up to limit summaries, newest first. limit <= 0 lists everything.
func (s *Store) List(limit int) []Summary {
	s.mu.RLock()
	out := make([]Summary, 0, len(s.index))
	for _, sum := range s.index {
		out = append(out, sum)
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

// Search returns the n reports most similar to query. n is clamped to the
// number of stored reports.
func (s *Store) Search(ctx context.Context, query string, n int) ([]Hit, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, fmt.Errorf("search query is empty")
	}
	count := s.collection.Count()
	if count == 0 {
		return []Hit{}, nil
	}
	if n <= 0 {
		n = 5
	}
	n = min(n, count)

	results, err := s.collection.Query(ctx, query, n, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("report search failed: %w", err)
	}
	hits := make([]Hit, 0, len(results))
	for _, r := range results {
		hits = append(hits, Hit{
			Summary:    summaryFromMetadata(r.ID, r.Metadata),
			Similarity: r.Similarity,
			Snippet:    snippet(r.Content, 200),
		})
	}
	return hits, nil
}

// Count returns the number of stored reports
func (s *Store) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.index)
}

// Path returns the persistence directory ("" for in-memory stores)
func (s *Store) Path() string {
	return s.dbPath
}

func summaryFromMetadata(id string, md map[string]string) Summary {
	created, _ := time.Parse(time.RFC3339Nano, md["created_at"])
	return Summary{
		ID:          id,
		ToolID:      md["tool_id"],
		DisplayName: md["display_name"],
		File:        md["file"],
		Format:      md["format"],
		CreatedAt:   created,
	}
}

func snippet(s string, n int) string {
	s = strings.Join(strings.Fields(s), " ")
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "…"
}

// DefaultPath returns the chromem directory under dataDir
func DefaultPath(dataDir string) string {
	return filepath.Join(dataDir, "chromem")
}
