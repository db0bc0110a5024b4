package handlers

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/BradenHooton/trustgate/internal/models"
	pkghttp "github.com/BradenHooton/trustgate/pkg/http"
)

// DataExportServiceInterface defines the export operations used by handlers
type DataExportServiceInterface interface {
	Request(ctx context.Context, userID, sessionID string) (*models.DataExportRequest, error)
	Get(ctx context.Context, userID, id string) (*models.DataExportRequest, error)
}

// ExportHandler serves personal data exports
type ExportHandler struct {
	service DataExportServiceInterface
}

// NewExportHandler creates a new ExportHandler
func NewExportHandler(service DataExportServiceInterface) *ExportHandler {
	return &ExportHandler{service: service}
}

// Request queues a new export
// @Success 202 {object} models.DataExportRequest
// @Router /account/export [post]
func (h *ExportHandler) Request(w http.ResponseWriter, r *http.Request) {
	claims, ok := caller(w, r)
	if !ok {
		return
	}

	req, err := h.service.Request(r.Context(), claims.UserID, claims.SessionID)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	pkghttp.WriteJSON(w, http.StatusAccepted, req)
}

// Get returns an export's status and, once completed, its download link
// @Router /account/export/{id} [get]
func (h *ExportHandler) Get(w http.ResponseWriter, r *http.Request) {
	claims, ok := caller(w, r)
	if !ok {
		return
	}

	id := chi.URLParam(r, "id")
	if _, err := uuid.Parse(id); err != nil {
		pkghttp.WriteNotFound(w, "Export not found")
		return
	}

	req, err := h.service.Get(r.Context(), claims.UserID, id)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	pkghttp.WriteJSON(w, http.StatusOK, req)
}
