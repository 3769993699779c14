// Package chat implements the assistant conversation: a message is routed to
// a tool, run against a named project file (or an upload), and the exchange is
// kept in a per-browser session.
package chat

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"path/filepath"
	"strings"
	"sync"
	"time"

	apperrors "devguard/internal/errors"
	"devguard/internal/registry"
	"devguard/internal/router"
	"devguard/internal/utils"
)

// Message roles
const (
	RoleUser = "user"
	RoleAI   = "ai"
)

// ErrNoToolSelected is returned for uploads before a message selected a tool
var ErrNoToolSelected = errors.New("no tool selected, send a message first")

// Message is one chat entry. AI messages may carry a tool result.
type Message struct {
	Role    string           `json:"role"`
	Content string           `json:"content"`
	Result  *registry.Result `json:"result,omitempty"`
	Time    time.Time        `json:"time"`
}

// Session is the per-browser conversation state
type Session struct {
	ID           string           `json:"id"`
	History      []Message        `json:"history"`
	SelectedTool string           `json:"selected_tool,omitempty"`
	LastTool     string           `json:"last_tool,omitempty"`
	LastFile     string           `json:"last_file,omitempty"`
	LastResult   *registry.Result `json:"last_result,omitempty"`
	UpdatedAt    time.Time        `json:"updated_at"`
}

// Upload is a file posted to the assistant
type Upload struct {
	Name    string
	Content io.Reader
}

// UploadResult is the outcome for one uploaded file
type UploadResult struct {
	File   string           `json:"file"`
	Result *registry.Result `json:"result"`
	Error  string           `json:"error,omitempty"`
}

// Router picks a tool id for a request; *router.Router satisfies it
type Router interface {
	Route(ctx context.Context, prompt string) (router.Decision, error)
}

// Assistant answers chat messages and uploads
type Assistant struct {
	registry   *registry.Registry
	router     Router
	allowedDir string
	sessions   *Sessions

	// OnResult is called for every successful tool run
	OnResult func(sessionID string, res *registry.Result)
}

// New creates an assistant serving files under allowedDir
func New(reg *registry.Registry, rt Router, allowedDir string, sessions *Sessions) *Assistant {
	if sessions == nil {
		sessions = NewSessions(0)
	}
	return &Assistant{registry: reg, router: rt, allowedDir: allowedDir, sessions: sessions}
}

// Sessions returns the session store
func (a *Assistant) Sessions() *Sessions {
	return a.sessions
}

// HandleMessage routes input to a tool and, when a project file is named and
// present, runs it. The updated session is returned.
func (a *Assistant) HandleMessage(ctx context.Context, sessionID, input string) (*Session, error) {
	input = strings.TrimSpace(input)
	if input == "" {
		return nil, apperrors.NewValidationError("message is required", nil)
	}

	unlock := a.sessions.lock(sessionID)
	defer unlock()
	s := a.sessions.get(sessionID)
	s.add(RoleUser, input, nil)

	decision, err := a.router.Route(ctx, input)
	if err != nil {
		if errors.Is(err, router.ErrNoRoute) {
			s.add(RoleAI, fmt.Sprintf("❌ Sorry, I couldn't find a matching tool for: `%s`", router.CleanPrompt(input)), nil)
		} else {
			log.Printf("❌ Routing failed: %v", err)
			s.add(RoleAI, fmt.Sprintf("⚠️ Could not route the request: %v", err), nil)
		}
		return s.snapshot(), nil
	}

	tool, ok := a.registry.Get(decision.ToolID)
	if !decision.Known || !ok {
		s.add(RoleAI, fmt.Sprintf("❌ Sorry, I couldn't find a matching tool for: `%s`", decision.ToolID), nil)
		return s.snapshot(), nil
	}

	if tool.TakesTopic() {
		topic := router.CleanPrompt(input)
		s.add(RoleAI, fmt.Sprintf("🔍 Matched tool: `%s`\n🧠 Topic: `%s`\n\nRunning analysis...", tool.Name, topic), nil)
		res, err := a.registry.Run(ctx, tool.Name, "", registry.Options{Topic: topic})
		a.record(s, tool.Name, "", res, err)
		return s.snapshot(), nil
	}

	filename := router.ExtractFilename(input)
	if filename == "" {
		s.add(RoleAI, fmt.Sprintf("🔍 Matched tool: `%s`\n\n📎 Please upload your file below to continue.", tool.Name), nil)
		s.SelectedTool = tool.Name
		return s.snapshot(), nil
	}

	path, err := utils.ResolveInDir(a.allowedDir, filename)
	if err != nil || !utils.FileExists(path) {
		s.add(RoleAI, fmt.Sprintf("⚠️ File `%s` not found in `%s`. Please upload it below.", filename, a.allowedDir), nil)
		s.SelectedTool = tool.Name
		return s.snapshot(), nil
	}

	s.add(RoleAI, fmt.Sprintf("🔍 Matched tool: `%s`\n📄 Detected file: `%s`\n\nRunning analysis...", tool.Name, filename), nil)
	res, err := a.registry.Run(ctx, tool.Name, path, registry.Options{})
	if res != nil {
		res.File = filename
	}
	a.record(s, tool.Name, filename, res, err)
	return s.snapshot(), nil
}

// record appends the outcome of a direct run and updates the last-run fields
func (a *Assistant) record(s *Session, toolID, file string, res *registry.Result, err error) {
	if err != nil {
		log.Printf("❌ %s failed: %v", toolID, err)
		if file != "" {
			s.add(RoleAI, fmt.Sprintf("⚠️ Error running tool on file `%s`: %v", file, err), nil)
		} else {
			s.add(RoleAI, fmt.Sprintf("⚠️ Error running tool: %v", err), nil)
		}
		return
	}

	header := fmt.Sprintf("✅ Here's the result:\n\n🔧 Tool used: `%s`", toolID)
	if file != "" {
		header += fmt.Sprintf("\n📄 File: `%s`", file)
	}
	s.add(RoleAI, header, res)
	s.LastTool = toolID
	s.LastFile = file
	s.LastResult = res
	if a.OnResult != nil {
		a.OnResult(s.ID, res)
	}
}

// HandleUploads runs the selected tool on every upload. Each file goes through
// a temporary copy that keeps its extension. The selection is cleared after.
func (a *Assistant) HandleUploads(ctx context.Context, sessionID string, files []Upload) ([]UploadResult, *Session, error) {
	unlock := a.sessions.lock(sessionID)
	defer unlock()
	s := a.sessions.get(sessionID)

	toolID := s.SelectedTool
	if toolID == "" {
		return nil, s.snapshot(), apperrors.NewValidationError(ErrNoToolSelected.Error(), nil)
	}
	if len(files) == 0 {
		return nil, s.snapshot(), apperrors.NewValidationError("no files uploaded", nil)
	}

	log.Printf("📂 Running %s on %d uploaded file(s)", toolID, len(files))
	results := make([]UploadResult, 0, len(files))
	for _, f := range files {
		name := filepath.Base(f.Name)
		res, err := a.runUpload(ctx, toolID, name, f.Content)
		ur := UploadResult{File: name, Result: res}
		if err != nil {
			ur.Error = err.Error()
			ur.Result = &registry.Result{
				ToolID:    toolID,
				File:      name,
				Format:    registry.FormatText,
				Text:      fmt.Sprintf("⚠️ Error running tool on file `%s`: %v", name, err),
				CreatedAt: time.Now(),
			}
		} else if a.OnResult != nil {
			a.OnResult(s.ID, res)
		}
		s.add(RoleAI, fmt.Sprintf("### 📂 Results for `%s`:", name), ur.Result)
		results = append(results, ur)
	}

	last := results[len(results)-1]
	s.LastResult = last.Result
	s.LastTool = toolID
	s.LastFile = last.File
	s.SelectedTool = ""
	return results, s.snapshot(), nil
}

func (a *Assistant) runUpload(ctx context.Context, toolID, name string, content io.Reader) (*registry.Result, error) {
	if !utils.IsSupportedFile(name) {
		return nil, fmt.Errorf("%w %q", utils.ErrUnsupportedFile, filepath.Ext(name))
	}

	path, cleanup, err := utils.SaveUpload(name, content)
	if err != nil {
		return nil, err
	}
	defer cleanup()

	res, err := a.registry.Run(ctx, toolID, path, registry.Options{})
	if err != nil {
		return nil, err
	}
	res.File = name
	return res, nil
}

// Sessions holds chat sessions in memory. Idle sessions are evicted lazily.
type Sessions struct {
	mu       sync.Mutex
	sessions map[string]*Session
	locks    map[string]*sync.Mutex
	ttl      time.Duration
}

// NewSessions creates a session store; ttl <= 0 defaults to 24h
func NewSessions(ttl time.Duration) *Sessions {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &Sessions{
		sessions: make(map[string]*Session),
		locks:    make(map[string]*sync.Mutex),
		ttl:      ttl,
	}
}

// Get returns a copy of the session, creating it when missing
func (ss *Sessions) Get(id string) *Session {
	unlock := ss.lock(id)
	defer unlock()
	return ss.get(id).snapshot()
}

// Reset clears the conversation for id
func (ss *Sessions) Reset(id string) {
	ss.mu.Lock()
	defer ss.mu.Unlock()
	delete(ss.sessions, id)
}

// Len returns the number of live sessions
func (ss *Sessions) Len() int {
	ss.mu.Lock()
	defer ss.mu.Unlock()
	return len(ss.sessions)
}

// lock serializes work on one session so concurrent requests from the same
// browser don't interleave their history
func (ss *Sessions) lock(id string) func() {
	ss.mu.Lock()
	l, ok := ss.locks[id]
	if !ok {
		l = &sync.Mutex{}
		ss.locks[id] = l
	}
	ss.mu.Unlock()
	l.Lock()
	return l.Unlock
}

func (ss *Sessions) get(id string) *Session {
	ss.mu.Lock()
	defer ss.mu.Unlock()

	now := time.Now()
	for sid, s := range ss.sessions {
		if sid != id && now.Sub(s.UpdatedAt) > ss.ttl {
			delete(ss.sessions, sid)
			delete(ss.locks, sid)
		}
	}

	s, ok := ss.sessions[id]
	if !ok {
		s = &Session{ID: id, UpdatedAt: now}
		ss.sessions[id] = s
	}
	return s
}

func (s *Session) add(role, content string, res *registry.Result) {
	now := time.Now()
	s.History = append(s.History, Message{Role: role, Content: content, Result: res, Time: now})
	s.UpdatedAt = now
}

func (s *Session) snapshot() *Session {
	cp := *s
	cp.History = append([]Message(nil), s.History...)
	return &cp
}
