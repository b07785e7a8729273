package http

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	apperrors "github.com/smoosense/smoosense/internal/errors"
	"github.com/smoosense/smoosense/internal/service"
)

// maxBodyBytes bounds request bodies.
const maxBodyBytes = 1 << 20

// Handler serves the API operations of a Service.
type Handler struct {
	svc     *service.Service
	version string
}

// NewHandler creates a Handler.
func NewHandler(svc *service.Service, version string) *Handler {
	return &Handler{svc: svc, version: version}
}

// CreateSession handles POST /api/sessions.
func (h *Handler) CreateSession(w http.ResponseWriter, r *http.Request) {
	info, err := h.svc.CreateSession()
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, info)
}

// GetSession handles GET /api/sessions/{token}.
func (h *Handler) GetSession(w http.ResponseWriter, r *http.Request) {
	info, err := h.svc.Session(chi.URLParam(r, "token"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, info)
}

// DeleteSession handles DELETE /api/sessions/{token}.
func (h *Handler) DeleteSession(w http.ResponseWriter, r *http.Request) {
	if err := h.svc.DestroySession(chi.URLParam(r, "token")); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// CancelQuery handles POST /api/sessions/{token}/cancel.
func (h *Handler) CancelQuery(w http.ResponseWriter, r *http.Request) {
	cancelled, err := h.svc.CancelQuery(chi.URLParam(r, "token"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"cancelled": cancelled})
}

// Query handles POST /api/query.
func (h *Handler) Query(w http.ResponseWriter, r *http.Request) {
	var req service.QueryRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	if req.SQL == "" {
		writeError(w, r, apperrors.NewValidationError("sql is required"))
		return
	}

	resp, err := h.svc.Query(r.Context(), req)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// Schema handles GET /api/schema?path=&format=.
func (h *Handler) Schema(w http.ResponseWriter, r *http.Request) {
	resp, err := h.svc.Schema(r.Context(), datasetRef(r))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// Browse handles GET /api/ls?path=.
func (h *Handler) Browse(w http.ResponseWriter, r *http.Request) {
	listing, err := h.svc.Browse(r.Context(), r.URL.Query().Get("path"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, listing)
}

// Datasets handles GET /api/datasets?path=.
func (h *Handler) Datasets(w http.ResponseWriter, r *http.Request) {
	path := r.URL.Query().Get("path")
	if path == "" {
		writeError(w, r, apperrors.NewValidationError("path is required"))
		return
	}
	candidates, err := h.svc.Candidates(r.Context(), path)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"datasets": candidates})
}

// Info handles GET /api/info?path=&format=.
func (h *Handler) Info(w http.ResponseWriter, r *http.Request) {
	md, err := h.svc.Info(r.Context(), datasetRef(r))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, md)
}

// Preview handles GET /api/preview?path=&format=&session=&page_size=.
func (h *Handler) Preview(w http.ResponseWriter, r *http.Request) {
	pageSize, err := intParam(r, "page_size", 0)
	if err != nil {
		writeError(w, r, err)
		return
	}
	resp, err := h.svc.Preview(r.Context(), r.URL.Query().Get("session"), datasetRef(r), pageSize)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// File handles GET /api/file?path=&base=, streaming a file below the root
// with range support.
func (h *Handler) File(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	if q.Get("path") == "" {
		writeError(w, r, apperrors.NewValidationError("path is required"))
		return
	}
	f, entry, err := h.svc.OpenFile(q.Get("path"), q.Get("base"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	defer f.Close()

	w.Header().Set("Cache-Control", "private, max-age=300")
	http.ServeContent(w, r, entry.Name, entry.ModTime, f)
}

// History handles GET /api/history?limit=&session=.
func (h *Handler) History(w http.ResponseWriter, r *http.Request) {
	limit, err := intParam(r, "limit", 50)
	if err != nil {
		writeError(w, r, err)
		return
	}
	entries, err := h.svc.History(r.Context(), limit, r.URL.Query().Get("session"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"queries": entries})
}

// Stats handles GET /api/stats?top=.
func (h *Handler) Stats(w http.ResponseWriter, r *http.Request) {
	top, err := intParam(r, "top", 10)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, h.svc.Stats(top))
}

// Health handles GET /health.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	body := map[string]string{"status": "healthy", "service": "smoosense", "version": h.version}
	if err := h.svc.Ping(r.Context()); err != nil {
		body["status"] = "unhealthy"
		body["error"] = err.Error()
		writeJSON(w, http.StatusServiceUnavailable, body)
		return
	}
	writeJSON(w, http.StatusOK, body)
}

func datasetRef(r *http.Request) service.DatasetRef {
	q := r.URL.Query()
	return service.DatasetRef{Path: q.Get("path"), Format: q.Get("format"), As: q.Get("as")}
}

func decodeBody(w http.ResponseWriter, r *http.Request, v interface{}) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(v); err != nil {
		var tooLarge *http.MaxBytesError
		switch {
		case errors.As(err, &tooLarge):
			return apperrors.NewValidationError(fmt.Sprintf("request body exceeds %d bytes", tooLarge.Limit))
		case errors.Is(err, io.EOF):
			return apperrors.NewValidationError("request body is empty")
		}
		return apperrors.NewValidationError("invalid request body: " + err.Error())
	}
	return nil
}

func intParam(r *http.Request, name string, def int) (int, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0, apperrors.NewValidationError(fmt.Sprintf("%s must be a non-negative integer, got %q", name, raw))
	}
	return n, nil
}
