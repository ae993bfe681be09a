package web

import (
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/bytedance/sonic"

	"github.com/lucasnoah/writefactory/internal/archive"
	"github.com/lucasnoah/writefactory/internal/orchestrator"
	"github.com/lucasnoah/writefactory/internal/progress"
	"github.com/lucasnoah/writefactory/internal/render"
)

const maxBodyBytes = 64 << 10

type errorBody struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	data, err := sonic.Marshal(v)
	if err != nil {
		http.Error(w, "encode response", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	w.Write(data)
	w.Write([]byte("\n"))
}

func writeError(w http.ResponseWriter, err error) {
	writeJSON(w, statusFor(err), errorBody{Error: err.Error()})
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, orchestrator.ErrInvalidInput):
		return http.StatusBadRequest
	case errors.Is(err, orchestrator.ErrNotFound), errors.Is(err, archive.ErrNotFound), errors.Is(err, progress.ErrUnknownRun):
		return http.StatusNotFound
	case errors.Is(err, orchestrator.ErrAlreadyTerminal):
		return http.StatusConflict
	case errors.Is(err, orchestrator.ErrShuttingDown):
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

type generateResponse struct {
	RunID     string `json:"run_id"`
	StepCount int    `json:"step_count"`
	StreamURL string `json:"stream_url"`
}

func (s *Server) handleGenerate(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		writeJSON(w, http.StatusRequestEntityTooLarge, errorBody{Error: "request body too large"})
		return
	}
	var req orchestrator.StartRequest
	if err := sonic.Unmarshal(body, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "invalid JSON body"})
		return
	}
	rec, err := s.svc.Start(r.Context(), req)
	if err != nil {
		writeError(w, err)
		return
	}
	w.Header().Set("Location", "/api/generate/"+rec.ID)
	writeJSON(w, http.StatusAccepted, generateResponse{
		RunID:     rec.ID,
		StepCount: rec.StepCount,
		StreamURL: "/api/generate/" + rec.ID + "/stream",
	})
}

func (s *Server) handleRuns(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.svc.List())
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	rec, err := s.svc.Status(r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := s.svc.Cancel(id); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"run_id": id, "status": "cancelling"})
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			writeJSON(w, http.StatusBadRequest, errorBody{Error: "limit must be a positive integer"})
			return
		}
		limit = n
	}
	items, err := s.history.List(r.Context(), limit)
	if err != nil {
		writeError(w, err)
		return
	}
	if items == nil {
		items = []archive.Summary{}
	}
	writeJSON(w, http.StatusOK, items)
}

// handleHistoryItem returns a stored generation as JSON, or rendered with
// ?format=markdown or ?format=html.
func (s *Server) handleHistoryItem(w http.ResponseWriter, r *http.Request) {
	snap, err := s.history.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}
	switch r.URL.Query().Get("format") {
	case "", "json":
		writeJSON(w, http.StatusOK, snap)
	case "markdown", "md":
		w.Header().Set("Content-Type", "text/markdown; charset=utf-8")
		io.WriteString(w, render.Markdown(*snap))
	case "html":
		page, err := render.HTML(*snap)
		if err != nil {
			writeError(w, err)
			return
		}
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		io.WriteString(w, page)
	default:
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "format must be json, markdown or html"})
	}
}

func (s *Server) handleProviders(w http.ResponseWriter, r *http.Request) {
	if s.pool == nil {
		writeJSON(w, http.StatusOK, []any{})
		return
	}
	writeJSON(w, http.StatusOK, s.pool.Snapshot())
}

type cacheStatsBody struct {
	Entries   int     `json:"entries"`
	Capacity  int     `json:"capacity"`
	Hits      int64   `json:"hits"`
	Misses    int64   `json:"misses"`
	Shared    int64   `json:"shared"`
	Evictions int64   `json:"evictions"`
	HitRate   float64 `json:"hit_rate"`
}

func (s *Server) handleCacheStats(w http.ResponseWriter, r *http.Request) {
	if s.cache == nil {
		writeJSON(w, http.StatusNotFound, errorBody{Error: "cache disabled"})
		return
	}
	st := s.cache.Stats()
	writeJSON(w, http.StatusOK, cacheStatsBody{
		Entries: st.Entries, Capacity: st.Capacity, Hits: st.Hits, Misses: st.Misses,
		Shared: st.Shared, Evictions: st.Evictions, HitRate: st.HitRate(),
	})
}

func (s *Server) handleCachePurge(w http.ResponseWriter, r *http.Request) {
	if s.cache == nil {
		writeJSON(w, http.StatusNotFound, errorBody{Error: "cache disabled"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"purged": s.cache.Purge(r.Context())})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "version": s.version})
}
