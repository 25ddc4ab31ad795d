package rest

import (
	"net/http"
	"strings"

	"dunning-service/internal/transport/auth"

	"go.uber.org/zap"
)

func (h *Handler) exportReminders(w http.ResponseWriter, r *http.Request) {
	if h.reminders == nil {
		ErrorInternal(w, "reminders export not configured")
		return
	}

	userID, err := auth.GetUserID(r.Context())
	if err != nil {
		ErrorUnauthorized(w, "Unauthorized")
		return
	}
	orgID, err := auth.GetOrganizationID(r.Context())
	if err != nil {
		ErrorUnauthorized(w, "Unauthorized")
		return
	}

	req, err := ValidateRemindersExportRequest(r, orgID)
	if err != nil {
		if _, ok := err.(*ValidationError); ok {
			ErrorBadRequest(w, err.Error())
			return
		}
		ErrorBadRequest(w, "invalid JSON")
		return
	}

	exportID, err := h.reminders.StartRemindersExport(r.Context(), req.Fields, req.Filter, userID)
	if err != nil {
		h.log.Error("start reminders export failed", zap.Int64("user_id", userID), zap.Error(err))
		ErrorInternal(w, "failed to start reminders export")
		return
	}

	SuccessAccepted(w, "Export der Mahnungen wurde gestartet", map[string]interface{}{
		"export_id": strings.TrimPrefix(exportID, "exports:"),
	})
}
