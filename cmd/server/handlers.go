package main

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/brunobiangulo/lexgraph"
	"github.com/brunobiangulo/lexgraph/source"
	"github.com/brunobiangulo/lexgraph/store"
)

type handler struct {
	engine lexgraph.Engine
}

func newHandler(e lexgraph.Engine) *handler {
	return &handler{engine: e}
}

func (h *handler) routes() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /build", h.handleBuild)
	mux.HandleFunc("POST /link", h.handleLink)
	mux.HandleFunc("POST /index", h.handleIndex)
	mux.HandleFunc("POST /query", h.handleQuery)
	mux.HandleFunc("GET /stats", h.handleStats)
	mux.HandleFunc("GET /queries", h.handleQueries)
	mux.HandleFunc("GET /health", h.handleHealth)
	return mux
}

// POST /build
// Accepts JSON with a manifest path (CSV or XLSX), a source directory to
// scan, or an explicit list of acts.
func (h *handler) handleBuild(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Hour)
	defer cancel()

	var req struct {
		Manifest string                 `json:"manifest,omitempty"`
		Dir      string                 `json:"dir,omitempty"`
		Acts     []source.ManifestEntry `json:"acts,omitempty"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}

	acts := req.Acts
	switch {
	case req.Manifest != "":
		path, ok := existingPath(req.Manifest, false)
		if !ok {
			writeError(w, http.StatusBadRequest, "manifest must be an existing file")
			return
		}
		entries, err := source.LoadManifest(path)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid manifest")
			slog.Error("manifest error", "path", path, "error", err)
			return
		}
		acts = entries
	case req.Dir != "":
		path, ok := existingPath(req.Dir, true)
		if !ok {
			writeError(w, http.StatusBadRequest, "dir must be an existing directory")
			return
		}
		entries, err := source.ScanActs(path)
		if err != nil {
			writeError(w, http.StatusBadRequest, "scanning source directory failed")
			slog.Error("scan error", "dir", path, "error", err)
			return
		}
		acts = entries
	}
	if len(acts) == 0 {
		writeError(w, http.StatusBadRequest, "manifest, dir or acts is required")
		return
	}

	report, err := h.engine.Build(ctx, acts)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "build failed")
		slog.Error("build error", "error", err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

// existingPath resolves p and checks it is a file, or a directory when dir
// is set.
func existingPath(p string, dir bool) (string, bool) {
	abs, err := filepath.Abs(p)
	if err != nil {
		return "", false
	}
	info, err := os.Stat(abs)
	if err != nil || info.IsDir() != dir {
		return "", false
	}
	return abs, true
}

// POST /link
func (h *handler) handleLink(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 30*time.Minute)
	defer cancel()

	stats, err := h.engine.Link(ctx)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "link failed")
		slog.Error("link error", "error", err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

// POST /index
func (h *handler) handleIndex(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), time.Hour)
	defer cancel()

	stats, err := h.engine.Index(ctx)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "index failed")
		slog.Error("index error", "error", err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

// POST /query
func (h *handler) handleQuery(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Minute)
	defer cancel()

	var req struct {
		Query string `json:"query"`
		Trace bool   `json:"trace,omitempty"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if strings.TrimSpace(req.Query) == "" {
		writeError(w, http.StatusBadRequest, "query is required")
		return
	}

	ev, err := h.engine.Query(ctx, req.Query)
	if err != nil {
		if errors.Is(err, lexgraph.ErrInvalidConfig) {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		writeError(w, http.StatusInternalServerError, "query failed")
		slog.Error("query error", "query", req.Query, "error", err)
		return
	}
	if !req.Trace {
		ev.Trace = nil
	}
	writeJSON(w, http.StatusOK, ev)
}

// GET /stats
func (h *handler) handleStats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.engine.Stats(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to read stats")
		slog.Error("stats error", "error", err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

// GET /queries?limit=N
func (h *handler) handleQueries(w http.ResponseWriter, r *http.Request) {
	limit := 20
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 || n > 1000 {
			writeError(w, http.StatusBadRequest, "limit must be between 1 and 1000")
			return
		}
		limit = n
	}
	entries, err := h.engine.RecentQueries(r.Context(), limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to read query log")
		slog.Error("query log error", "error", err)
		return
	}
	if entries == nil {
		entries = []store.QueryLog{}
	}
	writeJSON(w, http.StatusOK, entries)
}

// GET /health
func (h *handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status": "ok",
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
