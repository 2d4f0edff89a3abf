package ingestion

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"path/filepath"
	"strings"

	"quarry/internal/knowledge"
	"quarry/internal/middleware"
)

type Handler struct {
	service       *Coordinator
	maxUploadSize int64
}

func NewHandler(service *Coordinator, maxUploadMB int) *Handler {
	if maxUploadMB < 1 {
		maxUploadMB = 50
	}
	return &Handler{service: service, maxUploadSize: int64(maxUploadMB) << 20}
}

// Submit accepts an ingestion request and returns 202 before any work runs.
// JSON bodies carry a url only; multipart bodies may carry a url field and a
// document file.
func (h *Handler) Submit(w http.ResponseWriter, r *http.Request) {
	req := &Request{TenantID: r.PathValue("tenantID")}

	contentType := r.Header.Get("Content-Type")
	if strings.HasPrefix(contentType, "multipart/form-data") {
		r.Body = http.MaxBytesReader(w, r.Body, h.maxUploadSize)
		if err := r.ParseMultipartForm(h.maxUploadSize); err != nil {
			h.writeError(r.Context(), w, "BAD_REQUEST", "Request too large", http.StatusBadRequest)
			return
		}
		req.URL = r.FormValue("url")

		file, header, err := r.FormFile("document")
		if err == nil {
			defer file.Close()
			if filepath.Ext(header.Filename) != ".pdf" {
				h.writeError(r.Context(), w, "BAD_REQUEST", "Unsupported file type", http.StatusBadRequest)
				return
			}
			data, err := io.ReadAll(file)
			if err != nil {
				h.writeError(r.Context(), w, "INTERNAL_ERROR", "Unable to read document", http.StatusInternalServerError)
				return
			}
			req.Document = data
			req.DocumentName = filepath.Base(header.Filename)
		} else if !errors.Is(err, http.ErrMissingFile) {
			h.writeError(r.Context(), w, "BAD_REQUEST", "Unable to retrieve document", http.StatusBadRequest)
			return
		}
	} else {
		var body struct {
			URL string `json:"url"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			h.writeError(r.Context(), w, "VALIDATION_ERROR", err.Error(), http.StatusBadRequest)
			return
		}
		req.URL = body.URL
	}

	if err := h.service.Submit(r.Context(), req); err != nil {
		if errors.Is(err, ErrNoSource) {
			h.writeError(r.Context(), w, "VALIDATION_ERROR", err.Error(), http.StatusBadRequest)
			return
		}
		slog.ErrorContext(r.Context(), "submit failed", "error", err, "tenant_id", req.TenantID)
		h.writeError(r.Context(), w, "INTERNAL_ERROR", "Internal Server Error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusAccepted)
	if err := json.NewEncoder(w).Encode(map[string]interface{}{
		"data": map[string]string{"tenant_id": req.TenantID, "status": "accepted"},
	}); err != nil {
		slog.Error("failed to encode response", "error", err)
	}
}

func (h *Handler) GetStatus(w http.ResponseWriter, r *http.Request) {
	tenantID := r.PathValue("tenantID")

	status, err := h.service.GetStatus(r.Context(), tenantID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			h.writeError(r.Context(), w, "NOT_FOUND", "No ingestion for tenant", http.StatusNotFound)
			return
		}
		h.writeError(r.Context(), w, "INTERNAL_ERROR", err.Error(), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(map[string]interface{}{"data": status}); err != nil {
		slog.Error("failed to encode response", "error", err)
	}
}

func (h *Handler) Query(w http.ResponseWriter, r *http.Request) {
	tenantID := r.PathValue("tenantID")

	var body struct {
		Query string `json:"query"`
		Limit int    `json:"limit"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		h.writeError(r.Context(), w, "VALIDATION_ERROR", err.Error(), http.StatusBadRequest)
		return
	}
	if strings.TrimSpace(body.Query) == "" {
		h.writeError(r.Context(), w, "VALIDATION_ERROR", "query is required", http.StatusBadRequest)
		return
	}

	results, err := h.service.Query(r.Context(), tenantID, body.Query, body.Limit)
	if err != nil {
		slog.ErrorContext(r.Context(), "query failed", "error", err, "tenant_id", tenantID)
		h.writeError(r.Context(), w, "INTERNAL_ERROR", "Internal Server Error", http.StatusInternalServerError)
		return
	}
	if results == nil {
		results = []knowledge.QueryResult{}
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(map[string]interface{}{
		"data": results,
		"meta": map[string]int{"count": len(results)},
	}); err != nil {
		slog.Error("failed to encode response", "error", err)
	}
}

func (h *Handler) DeleteKnowledge(w http.ResponseWriter, r *http.Request) {
	tenantID := r.PathValue("tenantID")
	if err := h.service.DeleteKnowledge(r.Context(), tenantID); err != nil {
		h.writeError(r.Context(), w, "INTERNAL_ERROR", err.Error(), http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusOK)
}

func (h *Handler) GetStats(w http.ResponseWriter, r *http.Request) {
	tenantID := r.PathValue("tenantID")
	stats, err := h.service.Stats(r.Context(), tenantID)
	if err != nil {
		h.writeError(r.Context(), w, "INTERNAL_ERROR", err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(map[string]interface{}{"data": stats}); err != nil {
		slog.Error("failed to encode response", "error", err)
	}
}

func (h *Handler) writeError(ctx context.Context, w http.ResponseWriter, code, message string, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	resp := map[string]interface{}{
		"error": map[string]string{
			"code":    code,
			"message": message,
		},
		"correlationId": middleware.GetCorrelationID(ctx),
	}

	if err := json.NewEncoder(w).Encode(resp); err != nil {
		slog.Error("failed to encode error response", "error", err)
	}
}
