package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/gorilla/mux"

	"devguard/dashboard"
	"devguard/internal/auth"
	"devguard/internal/chat"
	"devguard/internal/config"
	apperrors "devguard/internal/errors"
	"devguard/internal/events"
	"devguard/internal/jobs"
	"devguard/internal/registry"
	"devguard/internal/store"
	"devguard/internal/tools/license"
	"devguard/internal/utils"
	"devguard/internal/watcher"
	"devguard/internal/websocket"
)

// maxUploadBytes bounds request bodies, uploads included
const maxUploadBytes = 32 << 20

// Deps are the components the server exposes. Store, Watcher, Jobs and
// Events may be nil.
type Deps struct {
	Config    *config.Config
	Settings  *config.SettingsManager
	Registry  *registry.Registry
	Assistant *chat.Assistant
	Store     *store.Store
	Watcher   *watcher.Watcher
	Jobs      *jobs.Manager
	Events    *events.Producer
	WS        *websocket.Manager
	Auth      *auth.Service
	Version   string
}

// Server represents the HTTP server
type Server struct {
	deps    Deps
	router  *mux.Router
	limiter *apperrors.RateLimiter
	started time.Time
}

// New creates the server and wires its routes
func New(deps Deps) *Server {
	if deps.WS == nil {
		deps.WS = websocket.NewManager()
	}
	if deps.Auth == nil {
		deps.Auth = auth.NewService(deps.Config.Auth)
	}
	if deps.Settings == nil {
		deps.Settings = config.NewSettingsManager(deps.Config)
	}

	s := &Server{
		deps:    deps,
		router:  mux.NewRouter(),
		limiter: apperrors.NewRateLimiter(time.Minute, 300),
		started: time.Now(),
	}
	if deps.Assistant != nil {
		deps.Assistant.OnResult = func(sessionID string, res *registry.Result) {
			s.recordResult(context.Background(), sessionID, res)
		}
	}
	if deps.Jobs != nil {
		deps.Jobs.OnResult = func(res *registry.Result) {
			s.recordResult(context.Background(), "", res)
		}
		deps.Jobs.OnUpdate = func(job jobs.Job) {
			s.deps.WS.Broadcast(websocket.TypeJobUpdate, job)
		}
	}
	s.setupRoutes()
	return s
}

// Handler returns the root handler
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start serves until ctx is cancelled, then shuts down gracefully
func (s *Server) Start(ctx context.Context) error {
	port := s.deps.Config.ServerPort
	httpServer := &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           s.router,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      10 * time.Minute, // research reports take a while
		IdleTimeout:       60 * time.Second,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go s.consumeWatcherEvents(ctx)

	errCh := make(chan error, 1)
	go func() {
		log.Printf("🌐 Starting DevGuard server on port %d...", port)
		log.Printf("📊 API endpoints available on http://localhost:%d/api/v1/", port)
		log.Printf("🔗 WebSocket available on ws://localhost:%d/ws", port)
		errCh <- httpServer.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		s.limiter.Close()
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	log.Printf("🛑 Shutting down server...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	s.deps.WS.Close()
	s.limiter.Close()
	return httpServer.Shutdown(shutdownCtx)
}

// setupRoutes configures all the HTTP routes
func (s *Server) setupRoutes() {
	r := s.router
	r.Use(requestLogger)
	r.Use(apperrors.CORSMiddleware)
	r.Use(apperrors.SecurityHeadersMiddleware)
	r.Use(apperrors.RateLimitMiddleware(s.limiter))
	r.Use(apperrors.ValidationMiddleware(maxUploadBytes))

	r.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	r.HandleFunc("/ws", s.deps.WS.HandleConnection)

	api := r.PathPrefix("/api/v1").Subrouter()
	api.Use(s.deps.Auth.Middleware)

	api.HandleFunc("/tools", s.handleListTools).Methods(http.MethodGet)
	api.HandleFunc("/tools/{id}/run", s.handleRunTool).Methods(http.MethodPost)
	api.HandleFunc("/files", s.handleListFiles).Methods(http.MethodGet)

	api.HandleFunc("/chat", s.handleGetChat).Methods(http.MethodGet)
	api.HandleFunc("/chat", s.handleChat).Methods(http.MethodPost)
	api.HandleFunc("/chat", s.handleResetChat).Methods(http.MethodDelete)
	api.HandleFunc("/chat/upload", s.handleChatUpload).Methods(http.MethodPost)

	api.HandleFunc("/jobs", s.handleListJobs).Methods(http.MethodGet)
	api.HandleFunc("/jobs", s.handleSubmitJob).Methods(http.MethodPost)
	api.HandleFunc("/jobs/{id}", s.handleGetJob).Methods(http.MethodGet)
	api.HandleFunc("/jobs/{id}", s.handleCancelJob).Methods(http.MethodDelete)

	api.HandleFunc("/reports", s.handleListReports).Methods(http.MethodGet)
	api.HandleFunc("/reports/{id}", s.handleGetReport).Methods(http.MethodGet)
	api.HandleFunc("/reports/{id}/export.xlsx", s.handleExportReport).Methods(http.MethodGet)
	api.HandleFunc("/search", s.handleSearch).Methods(http.MethodGet)

	api.HandleFunc("/events", s.handleEvents).Methods(http.MethodGet)
	api.HandleFunc("/metrics", s.handleMetrics).Methods(http.MethodGet)
	api.HandleFunc("/settings", s.handleGetSettings).Methods(http.MethodGet)
	api.HandleFunc("/settings", s.handleUpdateSettings).Methods(http.MethodPost)

	// Serve the embedded dashboard files as the fallback
	r.PathPrefix("/").Handler(http.FileServer(http.FS(dashboard.Dist)))
}

// handleHealth returns health check status
func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	apperrors.SendSuccess(w, map[string]interface{}{
		"status":    "healthy",
		"timestamp": time.Now().Format(time.RFC3339),
		"version":   s.deps.Version,
		"tools":     s.deps.Registry.Len(),
	})
}

type toolInfo struct {
	ID          string   `json:"id"`
	DisplayName string   `json:"display_name"`
	Description string   `json:"description"`
	Input       string   `json:"input"`
	Keywords    []string `json:"keywords,omitempty"`
}

func (s *Server) handleListTools(w http.ResponseWriter, _ *http.Request) {
	tools := s.deps.Registry.List()
	out := make([]toolInfo, 0, len(tools))
	for _, t := range tools {
		input := t.Input
		if input == "" {
			input = registry.InputFile
		}
		out = append(out, toolInfo{
			ID:          t.Name,
			DisplayName: t.DisplayName,
			Description: t.Description,
			Input:       input,
			Keywords:    t.Keywords,
		})
	}
	apperrors.SendSuccess(w, map[string]interface{}{"tools": out, "total": len(out)})
}

func (s *Server) handleListFiles(w http.ResponseWriter, _ *http.Request) {
	dir := s.deps.Config.AllowedFileDir
	files, err := utils.ListProjectFiles(dir)
	if err != nil {
		apperrors.SendError(w, apperrors.NewInternalError("Error reading directory", err))
		return
	}
	if files == nil {
		files = []string{}
	}
	apperrors.SendSuccess(w, map[string]interface{}{"dir": dir, "files": files, "total": len(files)})
}

type runRequest struct {
	Path     string `json:"path"`
	Topic    string `json:"topic"`
	Format   string `json:"format"`
	Language string `json:"language"`
}

// handleRunTool runs a tool on an uploaded file, a project path or a topic
func (s *Server) handleRunTool(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	tool, ok := s.deps.Registry.Lookup(id)
	if !ok {
		apperrors.SendError(w, apperrors.NewNotFoundError(fmt.Sprintf("tool %q", id)))
		return
	}

	var (
		req     runRequest
		path    string
		display string
	)
	if strings.HasPrefix(r.Header.Get("Content-Type"), "multipart/form-data") {
		file, header, err := r.FormFile("file")
		if err != nil {
			apperrors.SendError(w, apperrors.NewValidationError("multipart field \"file\" is required", nil))
			return
		}
		defer file.Close()
		req.Format = r.FormValue("format")
		req.Language = r.FormValue("language")

		tmp, cleanup, err := utils.SaveUpload(header.Filename, file)
		if err != nil {
			apperrors.SendError(w, apperrors.NewInternalError("failed to save upload", err))
			return
		}
		defer cleanup()
		path, display = tmp, filepath.Base(tmp)
	} else {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
			apperrors.SendError(w, apperrors.NewValidationError("invalid JSON body", map[string]interface{}{"error": err.Error()}))
			return
		}
		var appErr *apperrors.AppError
		if path, display, appErr = s.resolveTarget(tool, req); appErr != nil {
			apperrors.SendError(w, appErr)
			return
		}
	}

	res, err := s.deps.Registry.Run(r.Context(), tool.Name, path, registry.Options{
		Format:   req.Format,
		Topic:    req.Topic,
		Language: req.Language,
	})
	if err != nil {
		log.Printf("❌ %s failed: %v", tool.Name, err)
		apperrors.SendError(w, toolError(err))
		return
	}
	if display != "" {
		res.File = display
	}
	s.recordResult(r.Context(), "", res)
	apperrors.SendSuccess(w, res)
}

// toolError reports input files no tool can read as 415
func toolError(err error) *apperrors.AppError {
	switch {
	case errors.Is(err, license.ErrUnsupported),
		errors.Is(err, license.ErrGradleNotImplemented),
		errors.Is(err, utils.ErrUnsupportedFile):
		return apperrors.NewUnsupportedError(err.Error(), err)
	}
	return apperrors.AsAppError(err)
}

// resolveTarget checks a JSON run request: file tools need a path inside the
// allowed dir, topic tools a topic
func (s *Server) resolveTarget(tool *registry.Tool, req runRequest) (path, display string, appErr *apperrors.AppError) {
	if tool.TakesTopic() {
		if strings.TrimSpace(req.Topic) == "" {
			return "", "", apperrors.NewValidationError("topic is required", nil)
		}
		return "", "", nil
	}
	if req.Path == "" {
		return "", "", apperrors.NewValidationError("path is required", nil)
	}
	resolved, err := utils.ResolveInDir(s.deps.Config.AllowedFileDir, req.Path)
	if err != nil {
		return "", "", apperrors.NewValidationError(err.Error(), nil)
	}
	if _, err := os.Stat(resolved); err != nil {
		return "", "", apperrors.NewNotFoundError(fmt.Sprintf("file %q", req.Path))
	}
	return resolved, req.Path, nil
}

func (s *Server) sessionID(w http.ResponseWriter, r *http.Request) (string, bool) {
	id, err := s.deps.Auth.SessionID(w, r)
	if err != nil {
		apperrors.SendError(w, apperrors.NewInternalError("session unavailable", err))
		return "", false
	}
	return id, true
}

func (s *Server) handleGetChat(w http.ResponseWriter, r *http.Request) {
	id, ok := s.sessionID(w, r)
	if !ok {
		return
	}
	apperrors.SendSuccess(w, s.deps.Assistant.Sessions().Get(id))
}

func (s *Server) handleResetChat(w http.ResponseWriter, r *http.Request) {
	id, ok := s.sessionID(w, r)
	if !ok {
		return
	}
	s.deps.Assistant.Sessions().Reset(id)
	apperrors.SendSuccess(w, map[string]bool{"reset": true})
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Message string `json:"message"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		apperrors.SendError(w, apperrors.NewValidationError("invalid JSON body", nil))
		return
	}
	id, ok := s.sessionID(w, r)
	if !ok {
		return
	}

	session, err := s.deps.Assistant.HandleMessage(r.Context(), id, req.Message)
	if err != nil {
		apperrors.SendError(w, apperrors.AsAppError(err))
		return
	}
	s.deps.Events.Produce(r.Context(), events.Event{
		Type:      events.ChatEventType,
		Source:    "chat",
		SessionID: id,
		Data:      map[string]interface{}{"message": req.Message, "selected_tool": session.SelectedTool},
	})
	apperrors.SendSuccess(w, session)
}

func (s *Server) handleChatUpload(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		apperrors.SendError(w, apperrors.NewValidationError("invalid multipart form", map[string]interface{}{"error": err.Error()}))
		return
	}
	id, ok := s.sessionID(w, r)
	if !ok {
		return
	}

	headers := r.MultipartForm.File["files"]
	uploads := make([]chat.Upload, 0, len(headers))
	for _, h := range headers {
		f, err := h.Open()
		if err != nil {
			apperrors.SendError(w, apperrors.NewValidationError(fmt.Sprintf("cannot read %s", h.Filename), nil))
			return
		}
		defer f.Close()
		uploads = append(uploads, chat.Upload{Name: h.Filename, Content: f})
	}

	results, session, err := s.deps.Assistant.HandleUploads(r.Context(), id, uploads)
	if err != nil {
		apperrors.SendError(w, apperrors.AsAppError(err))
		return
	}
	apperrors.SendSuccess(w, map[string]interface{}{"results": results, "session": session})
}

// recordResult stores, streams and broadcasts a finished tool run
func (s *Server) recordResult(ctx context.Context, sessionID string, res *registry.Result) {
	if res == nil {
		return
	}
	if s.deps.Store != nil {
		if err := s.deps.Store.Save(ctx, res); err != nil {
			log.Printf("⚠️  Failed to store report %s: %v", res.ID, err)
		}
	}
	if err := s.deps.Events.ProduceToolRun(ctx, res, sessionID); err != nil {
		log.Printf("⚠️  Failed to produce tool run event: %v", err)
	}
	s.deps.WS.Broadcast(websocket.TypeToolResult, res)
}
