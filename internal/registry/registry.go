// Package registry loads tool metadata and dispatches requests to the bound handlers.
package registry

import (
	"bytes"
	"context"
	"embed"
	"encoding/json"
	"fmt"
	"io/fs"
	"log"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/santhosh-tekuri/jsonschema/v6"
	orderedmap "github.com/wk8/go-ordered-map/v2"

	apperrors "devguard/internal/errors"
)

//go:embed tool_metadata/*.json
var defaultMetadata embed.FS

// Input kinds a tool accepts
const (
	InputFile  = "file"
	InputTopic = "topic"
)

// Result formats
const (
	FormatText     = "text"
	FormatMarkdown = "markdown"
	FormatJSON     = "json"
	FormatTable    = "table"
)

// Function describes a callable exposed by a tool
type Function struct {
	Name        string `json:"name"`
	Description string `json:"description"`
}

// Metadata is the JSON description of a tool
type Metadata struct {
	Name        string     `json:"name"`
	DisplayName string     `json:"display_name"`
	Description string     `json:"description"`
	EntryPoint  string     `json:"entry_point"`
	Keywords    []string   `json:"keywords,omitempty"`
	Input       string     `json:"input,omitempty"`
	Functions   []Function `json:"functions"`
}

// TakesTopic reports whether the tool consumes free text instead of a file
func (m Metadata) TakesTopic() bool {
	return m.Input == InputTopic
}

// Options carries per-run knobs shared by all tools
type Options struct {
	Format   string `json:"format,omitempty"`
	Topic    string `json:"topic,omitempty"`
	Export   string `json:"export,omitempty"`
	Language string `json:"language,omitempty"`
}

// Result is the output of one tool run
type Result struct {
	ID          string              `json:"id"`
	ToolID      string              `json:"tool_id"`
	DisplayName string              `json:"display_name"`
	File        string              `json:"file,omitempty"`
	Format      string              `json:"format"`
	Text        string              `json:"text"`
	Data        interface{}         `json:"data,omitempty"`
	Columns     []string            `json:"columns,omitempty"`
	Rows        []map[string]string `json:"rows,omitempty"`
	CreatedAt   time.Time           `json:"created_at"`
}

// Handler runs a tool against a path (or topic, carried in opts)
type Handler func(ctx context.Context, path string, opts Options) (*Result, error)

// Tool is metadata bound to its handler
type Tool struct {
	Metadata
	Handler Handler `json:"-"`
}

// Registry keeps dispatchable tools in load order
type Registry struct {
	mu    sync.RWMutex
	tools *orderedmap.OrderedMap[string, *Tool]
}

// New creates an empty registry
func New() *Registry {
	return &Registry{tools: orderedmap.New[string, *Tool]()}
}

const metadataSchema = `{
  "type": "object",
  "required": ["name", "display_name", "description", "entry_point", "functions"],
  "properties": {
    "name": {"type": "string", "pattern": "^[a-z][a-z0-9_-]*$"},
    "display_name": {"type": "string", "minLength": 1},
    "description": {"type": "string", "minLength": 1},
    "entry_point": {"type": "string", "minLength": 1},
    "keywords": {"type": "array", "items": {"type": "string"}},
    "input": {"enum": ["file", "topic"]},
    "functions": {
      "type": "array",
      "minItems": 1,
      "items": {
        "type": "object",
        "required": ["name"],
        "properties": {"name": {"type": "string", "minLength": 1}}
      }
    }
  }
}`

var (
	schemaOnce     sync.Once
	compiledSchema *jsonschema.Schema
	schemaErr      error
)

func metadataValidator() (*jsonschema.Schema, error) {
	schemaOnce.Do(func() {
		var schemaObj any
		if err := json.Unmarshal([]byte(metadataSchema), &schemaObj); err != nil {
			schemaErr = err
			return
		}
		c := jsonschema.NewCompiler()
		if err := c.AddResource("tool_metadata.json", schemaObj); err != nil {
			schemaErr = err
			return
		}
		compiledSchema, schemaErr = c.Compile("tool_metadata.json")
	})
	return compiledSchema, schemaErr
}

// ParseMetadata validates and decodes one metadata document
func ParseMetadata(data []byte) (*Metadata, error) {
	sch, err := metadataValidator()
	if err != nil {
		return nil, fmt.Errorf("metadata schema: %w", err)
	}

	var doc any
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("invalid JSON: %w", err)
	}
	if err := sch.Validate(doc); err != nil {
		return nil, fmt.Errorf("schema validation failed: %w", err)
	}

	var meta Metadata
	if err := json.NewDecoder(bytes.NewReader(data)).Decode(&meta); err != nil {
		return nil, err
	}
	if meta.Input == "" {
		meta.Input = InputFile
	}
	return &meta, nil
}

// LoadMetadata reads every *.json in dir, keyed by tool name. An empty or
// missing dir falls back to the embedded defaults. Bad files are skipped.
func LoadMetadata(dir string) ([]*Metadata, error) {
	var fsys fs.FS
	root := "."
	if dir == "" {
		fsys, root = defaultMetadata, "tool_metadata"
	} else if info, err := os.Stat(dir); err != nil || !info.IsDir() {
		log.Printf("⚠️  Tool metadata dir %q not usable, using built-in metadata", dir)
		fsys, root = defaultMetadata, "tool_metadata"
	} else {
		fsys = os.DirFS(dir)
	}

	entries, err := fs.ReadDir(fsys, root)
	if err != nil {
		return nil, fmt.Errorf("failed to read tool metadata: %w", err)
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name() < entries[j].Name() })

	seen := make(map[string]bool)
	var out []*Metadata
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}
		data, err := fs.ReadFile(fsys, filepath.ToSlash(filepath.Join(root, entry.Name())))
		if err != nil {
			log.Printf("[WARN] Skipping %s: %v", entry.Name(), err)
			continue
		}
		meta, err := ParseMetadata(data)
		if err != nil {
			log.Printf("[WARN] Skipping %s: %v", entry.Name(), err)
			continue
		}
		if seen[meta.Name] {
			log.Printf("[WARN] Skipping %s: duplicate tool name %q", entry.Name(), meta.Name)
			continue
		}
		seen[meta.Name] = true
		out = append(out, meta)
	}
	return out, nil
}

// Bind resolves each tool's first function in handlers. Tools without a
// handler are skipped with a warning.
func Bind(metadata []*Metadata, handlers map[string]Handler) *Registry {
	r := New()
	for _, meta := range metadata {
		fn := meta.Functions[0].Name
		h, ok := handlers[fn]
		if !ok {
			log.Printf("[WARN] Skipping tool %s: function %q is not registered", meta.Name, fn)
			continue
		}
		r.Register(&Tool{Metadata: *meta, Handler: h})
	}
	return r
}

// Register adds or replaces a tool
func (r *Registry) Register(tool *Tool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tools.Set(tool.Name, tool)
}

// Get returns a tool by id
func (r *Registry) Get(id string) (*Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.tools.Get(id)
}

// Has reports whether id is dispatchable
func (r *Registry) Has(id string) bool {
	_, ok := r.Get(id)
	return ok
}

// Lookup matches id case-insensitively
func (r *Registry) Lookup(id string) (*Tool, bool) {
	if t, ok := r.Get(id); ok {
		return t, true
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	for pair := r.tools.Oldest(); pair != nil; pair = pair.Next() {
		if strings.EqualFold(pair.Key, id) {
			return pair.Value, true
		}
	}
	return nil, false
}

// List returns the tools in load order
func (r *Registry) List() []*Tool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Tool, 0, r.tools.Len())
	for pair := r.tools.Oldest(); pair != nil; pair = pair.Next() {
		out = append(out, pair.Value)
	}
	return out
}

// Len returns the number of dispatchable tools
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.tools.Len()
}

// Run dispatches to the tool's handler and stamps the result
func (r *Registry) Run(ctx context.Context, id, path string, opts Options) (*Result, error) {
	tool, ok := r.Get(id)
	if !ok {
		return nil, apperrors.NewNotFoundError(fmt.Sprintf("tool %q", id))
	}

	res, err := tool.Handler(ctx, path, opts)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", tool.DisplayName, err)
	}
	if res == nil {
		res = &Result{Format: FormatText}
	}
	if res.ID == "" {
		res.ID = uuid.NewString()
	}
	res.ToolID = tool.Name
	res.DisplayName = tool.DisplayName
	if res.File == "" && !tool.TakesTopic() {
		res.File = path
	}
	if res.Format == "" {
		res.Format = FormatText
	}
	if res.CreatedAt.IsZero() {
		res.CreatedAt = time.Now()
	}
	return res, nil
}
