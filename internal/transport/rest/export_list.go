package rest

import (
	"context"
	"errors"
	"net/http"

	"dunning-service/internal/service"
	"dunning-service/internal/transport/auth"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
)

type ExportListService interface {
	GetExports(ctx context.Context, userID int64, exportType string) ([]service.ExportView, error)
	GetExport(ctx context.Context, exportID string, userID int64) (service.ExportView, error)
}

// GET /export?type=reminders
func (h *Handler) listExports(w http.ResponseWriter, r *http.Request) {
	userID, err := auth.GetUserID(r.Context())
	if err != nil {
		ErrorUnauthorized(w, "Unauthorized")
		return
	}

	exports, err := h.exportList.GetExports(r.Context(), userID, r.URL.Query().Get("type"))
	if err != nil {
		h.log.Error("list exports failed", zap.Int64("user_id", userID), zap.Error(err))
		ErrorInternal(w, "failed to get exports")
		return
	}

	Success(w, "", exports)
}

func (h *Handler) getExport(w http.ResponseWriter, r *http.Request) {
	userID, err := auth.GetUserID(r.Context())
	if err != nil {
		ErrorUnauthorized(w, "Unauthorized")
		return
	}

	exportID := chi.URLParam(r, "export_id")
	export, err := h.exportList.GetExport(r.Context(), exportID, userID)
	switch {
	case errors.Is(err, service.ErrExportNotFound):
		ErrorNotFound(w, "export not found")
	case err != nil:
		h.log.Error("get export failed", zap.String("export_id", exportID), zap.Error(err))
		ErrorInternal(w, "failed to get export")
	default:
		Success(w, "", export)
	}
}
