package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/hyperjump/shiori/internal/storage"
	"github.com/hyperjump/shiori/internal/wiki"
)

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	st, err := s.runner.Status(s.repo)
	if err != nil {
		s.logger.Error("status failed", zap.Error(err))
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	resp := map[string]interface{}{
		"repo":       st.Repo,
		"output_dir": st.OutputDir,
		"stale":      st.Stale,
		"missing":    st.Missing,
	}
	if st.Index != nil {
		resp["index"] = map[string]interface{}{
			"indexed_at":      st.Index.IndexedAt,
			"total_files":     st.Index.TotalFiles,
			"total_units":     st.Index.TotalUnits,
			"language_counts": st.Index.LanguageCounts,
		}
	}
	if st.Generation != nil {
		resp["generation"] = map[string]interface{}{
			"generated_at": st.Generation.GeneratedAt,
			"total_pages":  st.Generation.TotalPages,
		}
	}
	if s.cache != nil {
		resp["cache"] = s.cache.Stats(r.Context())
	}
	if s.config != nil {
		diskBytes, err := storage.DiskUsageBytes(
			s.config.Storage.DatabasePath,
			s.config.Storage.BleveIndexPath,
			s.config.Storage.CacheDatabasePath,
			st.OutputDir,
		)
		if err == nil {
			resp["disk_usage_bytes"] = diskBytes
		}
	}
	s.respondJSON(w, http.StatusOK, resp)
}

func (s *Server) handlePagesList(w http.ResponseWriter, r *http.Request) {
	paths, err := s.runner.PagePaths(s.repo)
	if err != nil {
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if paths == nil {
		paths = []string{}
	}
	s.respondJSON(w, http.StatusOK, map[string]interface{}{"pages": paths})
}

func (s *Server) handlePage(w http.ResponseWriter, r *http.Request) {
	path := chi.URLParam(r, "*")
	if path == "" {
		s.respondError(w, http.StatusBadRequest, "page path is required")
		return
	}
	text, err := s.runner.ReadPage(s.repo, path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			s.respondError(w, http.StatusNotFound, "page not found")
			return
		}
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	w.Header().Set("Content-Type", "text/markdown; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(text))
}

type runRequest struct {
	ForceIndex    bool `json:"force_index"`
	ForceGenerate bool `json:"force_generate"`
}

// handleRun starts a run in the background, or runs it inline with ?wait=true.
func (s *Server) handleRun(w http.ResponseWriter, r *http.Request) {
	var req runRequest
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			s.respondError(w, http.StatusBadRequest, "invalid request body")
			return
		}
	}
	opts := wiki.RunOptions{ForceIndex: req.ForceIndex, ForceGenerate: req.ForceGenerate}
	s.logger.Debug("run request", zap.Bool("force_index", opts.ForceIndex), zap.Bool("force_generate", opts.ForceGenerate))

	if strings.EqualFold(r.URL.Query().Get("wait"), "true") {
		s.runMu.Lock()
		if s.running {
			s.runMu.Unlock()
			s.respondError(w, http.StatusConflict, "a run is already in progress")
			return
		}
		s.running = true
		s.runMu.Unlock()
		rep, err := s.execute(r.Context(), opts)
		if err != nil {
			s.respondError(w, http.StatusInternalServerError, err.Error())
			return
		}
		s.respondJSON(w, http.StatusOK, rep)
		return
	}
	if !s.TriggerRun(opts) {
		s.respondError(w, http.StatusConflict, "a run is already in progress")
		return
	}
	s.respondJSON(w, http.StatusAccepted, map[string]string{"status": "started"})
}

func (s *Server) handleRunStatus(w http.ResponseWriter, r *http.Request) {
	s.runMu.Lock()
	resp := map[string]interface{}{
		"running": s.running,
		"report":  s.lastReport,
	}
	if !s.lastRunAt.IsZero() {
		resp["finished_at"] = s.lastRunAt.UTC().Format(time.RFC3339)
	}
	if s.lastError != "" {
		resp["error"] = s.lastError
	}
	s.runMu.Unlock()
	s.respondJSON(w, http.StatusOK, resp)
}

func (s *Server) handleCacheStats(w http.ResponseWriter, r *http.Request) {
	if s.cache == nil {
		s.respondError(w, http.StatusNotImplemented, "cache not enabled")
		return
	}
	s.respondJSON(w, http.StatusOK, s.cache.Stats(r.Context()))
}

func (s *Server) handleCacheEvict(w http.ResponseWriter, r *http.Request) {
	if s.cache == nil {
		s.respondError(w, http.StatusNotImplemented, "cache not enabled")
		return
	}
	n, err := s.cache.Evict(r.Context())
	if err != nil {
		s.logger.Error("cache evict failed", zap.Error(err))
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]int{"evicted": n})
}

func (s *Server) handleCacheClear(w http.ResponseWriter, r *http.Request) {
	if s.cache == nil {
		s.respondError(w, http.StatusNotImplemented, "cache not enabled")
		return
	}
	if err := s.cache.Clear(r.Context()); err != nil {
		s.logger.Error("cache clear failed", zap.Error(err))
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]string{"status": "cleared"})
}

func (s *Server) respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func (s *Server) respondError(w http.ResponseWriter, status int, message string) {
	s.respondJSON(w, status, map[string]string{"error": message})
}
