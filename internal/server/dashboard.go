package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/mux"
	"github.com/shirou/gopsutil/v4/cpu"
	"github.com/shirou/gopsutil/v4/disk"
	"github.com/shirou/gopsutil/v4/mem"
	"github.com/shirou/gopsutil/v4/net"
	"github.com/shirou/gopsutil/v4/process"
	"github.com/xuri/excelize/v2"

	"devguard/internal/config"
	apperrors "devguard/internal/errors"
	"devguard/internal/registry"
	"devguard/internal/store"
	"devguard/internal/watcher"
	"devguard/internal/websocket"
)

func (s *Server) requireStore(w http.ResponseWriter) bool {
	if s.deps.Store == nil {
		apperrors.SendError(w, apperrors.NewAppError(apperrors.ErrorTypeNotFound, "STORE_DISABLED", "Report history is not enabled", nil))
		return false
	}
	return true
}

func (s *Server) handleListReports(w http.ResponseWriter, r *http.Request) {
	if !s.requireStore(w) {
		return
	}
	limit, offset := getPaginationParams(r)
	all := s.deps.Store.List(0)
	if tool := r.URL.Query().Get("tool"); tool != "" {
		filtered := all[:0:0]
		for _, sum := range all {
			if sum.ToolID == tool {
				filtered = append(filtered, sum)
			}
		}
		all = filtered
	}

	page := []store.Summary{}
	if offset < len(all) {
		page = all[offset:min(offset+limit, len(all))]
	}
	apperrors.SendSuccess(w, map[string]interface{}{
		"reports": page,
		"total":   len(all),
		"limit":   limit,
		"offset":  offset,
	})
}

func (s *Server) report(w http.ResponseWriter, r *http.Request) (*registry.Result, bool) {
	if !s.requireStore(w) {
		return nil, false
	}
	id := mux.Vars(r)["id"]
	res, err := s.deps.Store.Get(r.Context(), id)
	if errors.Is(err, store.ErrNotFound) {
		apperrors.SendError(w, apperrors.NewNotFoundError(fmt.Sprintf("report %q", id)))
		return nil, false
	}
	if err != nil {
		apperrors.SendError(w, apperrors.NewInternalError("failed to load report", err))
		return nil, false
	}
	return res, true
}

func (s *Server) handleGetReport(w http.ResponseWriter, r *http.Request) {
	if res, ok := s.report(w, r); ok {
		apperrors.SendSuccess(w, res)
	}
}

func (s *Server) handleExportReport(w http.ResponseWriter, r *http.Request) {
	res, ok := s.report(w, r)
	if !ok {
		return
	}
	f, err := reportWorkbook(res)
	if err != nil {
		apperrors.SendError(w, apperrors.NewInternalError("failed to build workbook", err))
		return
	}
	defer f.Close()

	name := fmt.Sprintf("%s_%s.xlsx", res.ToolID, res.CreatedAt.Format("20060102_150405"))
	w.Header().Set("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", name))
	if err := f.Write(w); err != nil {
		log.Printf("❌ Failed to write workbook: %v", err)
	}
}

// reportWorkbook lays out tabular reports as rows and anything else as one
// line of text per row
func reportWorkbook(res *registry.Result) (*excelize.File, error) {
	columns := res.Columns
	rows := res.Rows
	if len(columns) == 0 || len(rows) == 0 {
		columns = []string{"Report"}
		rows = nil
		for _, line := range strings.Split(res.Text, "\n") {
			rows = append(rows, map[string]string{"Report": line})
		}
	}

	const sheet = "Report"
	f := excelize.NewFile()
	if err := f.SetSheetName("Sheet1", sheet); err != nil {
		f.Close()
		return nil, err
	}
	header := make([]interface{}, len(columns))
	for i, c := range columns {
		header[i] = c
	}
	if err := f.SetSheetRow(sheet, "A1", &header); err != nil {
		f.Close()
		return nil, err
	}
	for i, row := range rows {
		cell, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			f.Close()
			return nil, err
		}
		values := make([]interface{}, len(columns))
		for j, c := range columns {
			values[j] = row[c]
		}
		if err := f.SetSheetRow(sheet, cell, &values); err != nil {
			f.Close()
			return nil, err
		}
	}
	return f, nil
}

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	if !s.requireStore(w) {
		return
	}
	q := strings.TrimSpace(r.URL.Query().Get("q"))
	if q == "" {
		apperrors.SendError(w, apperrors.NewValidationError("query parameter q is required", nil))
		return
	}
	n, _ := strconv.Atoi(r.URL.Query().Get("n"))
	hits, err := s.deps.Store.Search(r.Context(), q, n)
	if err != nil {
		apperrors.SendError(w, apperrors.NewInternalError("search failed", err))
		return
	}
	apperrors.SendSuccess(w, map[string]interface{}{"query": q, "results": hits, "total": len(hits)})
}

// handleEvents drains pending watcher events for polling clients
func (s *Server) handleEvents(w http.ResponseWriter, _ *http.Request) {
	evs := []watcher.FileEvent{}
	var stats *watcher.Stats
	if s.deps.Watcher != nil {
		evs = append(evs, s.deps.Watcher.Queue().Drain()...)
		st := s.deps.Watcher.Stats()
		stats = &st
	}
	apperrors.SendSuccess(w, map[string]interface{}{
		"events":  evs,
		"total":   len(evs),
		"watcher": stats,
	})
}

func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	metrics, err := collectSystemMetrics(ctx, s.deps.Config.AllowedFileDir)
	if err != nil {
		apperrors.SendError(w, apperrors.NewInternalError("failed to collect metrics", err))
		return
	}
	app := map[string]interface{}{
		"uptime_seconds":   int(time.Since(s.started).Seconds()),
		"goroutines":       runtime.NumGoroutine(),
		"tools":            s.deps.Registry.Len(),
		"ws_clients":       s.deps.WS.ConnectionCount(),
		"kafka_connected":  s.deps.Events.IsConnected(),
		"watcher_running":  false,
		"stored_reports":   0,
		"active_sessions":  0,
		"watcher":          nil,
		"watch_queue_size": 0,
	}
	if s.deps.Store != nil {
		app["stored_reports"] = s.deps.Store.Count()
	}
	if s.deps.Assistant != nil {
		app["active_sessions"] = s.deps.Assistant.Sessions().Len()
	}
	if s.deps.Jobs != nil {
		app["jobs"] = s.deps.Jobs.Stats()
	}
	if s.deps.Watcher != nil {
		app["watcher_running"] = s.deps.Watcher.IsRunning()
		app["watcher"] = s.deps.Watcher.Stats()
		app["watch_queue_size"] = s.deps.Watcher.Queue().Len()
	}
	metrics["app"] = app
	apperrors.SendSuccess(w, metrics)
}

// collectSystemMetrics collects host metrics using gopsutil
func collectSystemMetrics(ctx context.Context, diskPath string) (map[string]interface{}, error) {
	metrics := make(map[string]interface{})

	cpuPercent, err := cpu.PercentWithContext(ctx, 0, false)
	if err != nil {
		return nil, fmt.Errorf("failed to get CPU metrics: %w", err)
	}
	if len(cpuPercent) > 0 {
		metrics["cpu"] = cpuPercent[0]
	} else {
		metrics["cpu"] = 0.0
	}

	memInfo, err := mem.VirtualMemoryWithContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get memory metrics: %w", err)
	}
	metrics["memory"] = memInfo.UsedPercent

	if abs, err := filepath.Abs(diskPath); err == nil {
		diskPath = abs
	}
	if diskInfo, err := disk.UsageWithContext(ctx, diskPath); err == nil {
		metrics["disk"] = diskInfo.UsedPercent
	} else {
		metrics["disk"] = 0.0
	}

	netIn, netOut := uint64(0), uint64(0)
	if netInfo, err := net.IOCountersWithContext(ctx, false); err == nil && len(netInfo) > 0 {
		netIn, netOut = netInfo[0].BytesRecv, netInfo[0].BytesSent
	}
	metrics["network"] = map[string]interface{}{"in": netIn, "out": netOut}

	if proc, err := process.NewProcessWithContext(ctx, int32(os.Getpid())); err == nil {
		if memStat, err := proc.MemoryInfoWithContext(ctx); err == nil {
			metrics["process_rss"] = memStat.RSS
		}
	}

	metrics["timestamp"] = time.Now()
	return metrics, nil
}

func (s *Server) handleGetSettings(w http.ResponseWriter, _ *http.Request) {
	apperrors.SendSuccess(w, s.deps.Settings.GetSettings().Redacted())
}

// handleUpdateSettings applies a (possibly partial) settings document on top
// of the current settings
func (s *Server) handleUpdateSettings(w http.ResponseWriter, r *http.Request) {
	current := s.deps.Settings.GetSettings()
	next := s.deps.Settings.GetSettings()
	if err := json.NewDecoder(r.Body).Decode(next); err != nil {
		apperrors.SendError(w, apperrors.NewValidationError("invalid settings document", map[string]interface{}{"error": err.Error()}))
		return
	}
	next.RestoreMasked(current)

	if err := s.deps.Settings.UpdateSettings(next); err != nil {
		apperrors.SendError(w, apperrors.NewValidationError(err.Error(), nil))
		return
	}
	if next.DataDir != "" {
		path := filepath.Join(next.DataDir, config.SettingsFileName)
		if err := os.MkdirAll(next.DataDir, 0700); err == nil {
			if err := s.deps.Settings.SaveToFile(path); err != nil {
				log.Printf("⚠️  Failed to persist settings: %v", err)
			}
		}
	}
	log.Printf("⚙️  Settings updated")
	apperrors.SendSuccess(w, next.Redacted())
}

// consumeWatcherEvents pushes settled file events to dashboard clients. With
// no client connected events stay queued for GET /api/v1/events.
func (s *Server) consumeWatcherEvents(ctx context.Context) {
	if s.deps.Watcher == nil {
		return
	}
	q := s.deps.Watcher.Queue()
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-q.Ready():
		case <-ticker.C:
		}
		if s.deps.WS.ConnectionCount() == 0 {
			continue
		}
		for _, ev := range q.Drain() {
			s.deps.WS.Broadcast(websocket.TypeFileEvent, ev)
		}
	}
}

// getPaginationParams extracts pagination parameters from request
func getPaginationParams(r *http.Request) (limit, offset int) {
	limit = 50
	offset = 0

	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		if parsedLimit, err := strconv.Atoi(limitStr); err == nil && parsedLimit > 0 && parsedLimit <= 1000 {
			limit = parsedLimit
		}
	}
	if offsetStr := r.URL.Query().Get("offset"); offsetStr != "" {
		if parsedOffset, err := strconv.Atoi(offsetStr); err == nil && parsedOffset >= 0 {
			offset = parsedOffset
		}
	}
	return limit, offset
}
