package rest

import (
	"encoding/json"
	"errors"
	"math"
	"net/http"
	"strconv"
	"time"

	"dunning-service/internal/clients"
	"dunning-service/internal/domain"
	"dunning-service/internal/service"
	"dunning-service/internal/transport/auth"

	"go.uber.org/zap"
)

type reminderLogView struct {
	ID            string       `json:"id"`
	InvoiceID     string       `json:"invoiceId"`
	InvoiceNumber string       `json:"invoiceNumber"`
	ReminderLevel domain.Level `json:"reminderLevel"`
	Recipient     string       `json:"recipient"`
	Subject       string       `json:"subject"`
	Status        string       `json:"status"`
	SentDate      time.Time    `json:"sentDate"`
	Manual        bool         `json:"manual"`
	Forced        bool         `json:"forced,omitempty"`
	FeeAmount     string       `json:"feeAmount"`
	Interest      string       `json:"interestAmount"`
	MessageID     *string      `json:"messageId,omitempty"`
	ErrorMessage  *string      `json:"errorMessage,omitempty"`
}

func toReminderLogView(l domain.ReminderLog) reminderLogView {
	return reminderLogView{
		ID:            l.ID,
		InvoiceID:     l.InvoiceID,
		InvoiceNumber: l.InvoiceNumber,
		ReminderLevel: l.ReminderLevel,
		Recipient:     l.Recipient,
		Subject:       l.Subject,
		Status:        string(l.Status),
		SentDate:      l.SentDate,
		Manual:        l.Manual,
		Forced:        l.Forced,
		FeeAmount:     l.FeeAmount.StringFixed(2),
		Interest:      l.InterestAmount.StringFixed(2),
		MessageID:     l.MessageID,
		ErrorMessage:  l.ErrorMessage,
	}
}

// sendErrorStatus maps dispatcher errors onto HTTP statuses.
func sendErrorStatus(err error) int {
	var (
		tooSoon *domain.ResendTooSoonError
		tplErr  *domain.TemplateError
	)
	switch {
	case errors.Is(err, domain.ErrUnknownLevel),
		errors.Is(err, domain.ErrLevelNotConfigured),
		errors.Is(err, domain.ErrInvalidInvoiceState):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrInvoiceNotFound),
		errors.Is(err, domain.ErrCustomerNotFound):
		return http.StatusNotFound
	case errors.As(err, &tooSoon):
		return http.StatusTooManyRequests
	case errors.Is(err, clients.ErrLockBusy):
		return http.StatusConflict
	case errors.As(err, &tplErr), errors.Is(err, domain.ErrInvalidPolicy):
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

func (h *Handler) sendManual(w http.ResponseWriter, r *http.Request) {
	userID, err := auth.GetUserID(r.Context())
	if err != nil {
		writeError(w, http.StatusUnauthorized, "Unauthorized")
		return
	}
	orgID, err := auth.GetOrganizationID(r.Context())
	if err != nil {
		writeError(w, http.StatusUnauthorized, "Unauthorized")
		return
	}

	req, err := ValidateSendManualRequest(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	entry, err := h.sender.SendManual(r.Context(), service.ManualRequest{
		OrganizationID: orgID,
		InvoiceID:      req.InvoiceID,
		Level:          req.ReminderLevel,
		Force:          req.Force,
		OperatorID:     userID,
	})
	if err != nil {
		status := sendErrorStatus(err)
		if status == http.StatusTooManyRequests {
			var tooSoon *domain.ResendTooSoonError
			if errors.As(err, &tooSoon) {
				w.Header().Set("Retry-After", strconv.Itoa(int(math.Ceil(tooSoon.Remaining.Seconds()))))
			}
		}
		if status >= http.StatusInternalServerError {
			h.log.Error("manual reminder failed", zap.String("invoice_id", req.InvoiceID), zap.Error(err))
		}
		writeError(w, status, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success":     true,
		"reminderLog": toReminderLogView(entry),
	})
}

func (h *Handler) cronReminders(w http.ResponseWriter, r *http.Request) {
	if !h.cronAuthorized(r) {
		writeError(w, http.StatusUnauthorized, "Unauthorized")
		return
	}

	sum, err := h.runner.RunAutomatic(r.Context())
	if err != nil {
		h.log.Error("automatic reminder run failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, sum)
}

func (h *Handler) listReminderLogs(w http.ResponseWriter, r *http.Request) {
	orgID, err := auth.GetOrganizationID(r.Context())
	if err != nil {
		ErrorUnauthorized(w, "Unauthorized")
		return
	}

	filter, err := ParseReminderLogsQuery(r.URL.Query(), orgID)
	if err != nil {
		ErrorBadRequest(w, err.Error())
		return
	}

	logs, err := h.queries.Logs(r.Context(), filter)
	if err != nil {
		h.log.Error("list reminder logs failed", zap.Error(err))
		ErrorInternal(w, "failed to list reminder logs")
		return
	}

	views := make([]reminderLogView, 0, len(logs))
	for _, l := range logs {
		views = append(views, toReminderLogView(l))
	}
	SuccessList(w, views, len(views), filter.Limit)
}

func (h *Handler) reminderStatistics(w http.ResponseWriter, r *http.Request) {
	orgID, err := auth.GetOrganizationID(r.Context())
	if err != nil {
		ErrorUnauthorized(w, "Unauthorized")
		return
	}

	filter, err := ParseReminderLogsQuery(r.URL.Query(), orgID)
	if err != nil {
		ErrorBadRequest(w, err.Error())
		return
	}
	filter.Limit = 0

	st, err := h.queries.Statistics(r.Context(), filter)
	if err != nil {
		h.log.Error("reminder statistics failed", zap.Error(err))
		ErrorInternal(w, "failed to load statistics")
		return
	}
	Success(w, "", st)
}

func (h *Handler) upcomingReminders(w http.ResponseWriter, r *http.Request) {
	orgID, err := auth.GetOrganizationID(r.Context())
	if err != nil {
		ErrorUnauthorized(w, "Unauthorized")
		return
	}

	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			ErrorBadRequest(w, "limit must be a positive integer")
			return
		}
		limit = n
	}

	upcoming, err := h.queries.Upcoming(r.Context(), orgID, time.Now(), limit)
	if err != nil {
		h.log.Error("upcoming reminders failed", zap.Error(err))
		ErrorInternal(w, "failed to load upcoming reminders")
		return
	}
	SuccessList(w, upcoming, len(upcoming), limit)
}

func (h *Handler) getReminderSettings(w http.ResponseWriter, r *http.Request) {
	orgID, err := auth.GetOrganizationID(r.Context())
	if err != nil {
		ErrorUnauthorized(w, "Unauthorized")
		return
	}

	s, err := h.settings.LoadReminderSettings(r.Context(), orgID)
	if err != nil {
		if errors.Is(err, domain.ErrInvalidPolicy) {
			ErrorUnprocessable(w, err.Error())
			return
		}
		h.log.Error("load reminder settings failed", zap.Error(err))
		ErrorInternal(w, "failed to load reminder settings")
		return
	}
	Success(w, "", s)
}

func (h *Handler) putReminderSettings(w http.ResponseWriter, r *http.Request) {
	orgID, err := auth.GetOrganizationID(r.Context())
	if err != nil {
		ErrorUnauthorized(w, "Unauthorized")
		return
	}

	var in domain.ReminderSettings
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		ErrorBadRequest(w, "invalid JSON")
		return
	}

	saved, err := h.settings.SaveReminderSettings(r.Context(), orgID, in)
	if err != nil {
		if errors.Is(err, domain.ErrInvalidPolicy) {
			ErrorUnprocessable(w, err.Error())
			return
		}
		h.log.Error("save reminder settings failed", zap.Error(err))
		ErrorInternal(w, "failed to save reminder settings")
		return
	}
	Success(w, "Einstellungen gespeichert", saved)
}
