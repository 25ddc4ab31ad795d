package rest

import (
	"context"
	"net/http"
	"time"

	"dunning-service/internal/domain"
	"dunning-service/internal/repository"
	"dunning-service/internal/service"
	"dunning-service/internal/transport/auth"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"
)

type ManualSender interface {
	SendManual(ctx context.Context, req service.ManualRequest) (domain.ReminderLog, error)
}

type AutomaticRunner interface {
	RunAutomatic(ctx context.Context) (service.Summary, error)
}

type ReminderQueries interface {
	Logs(ctx context.Context, f repository.ReminderLogsFilter) ([]domain.ReminderLog, error)
	Statistics(ctx context.Context, f repository.ReminderLogsFilter) (service.Statistics, error)
	Upcoming(ctx context.Context, organizationID string, now time.Time, limit int) ([]service.UpcomingReminder, error)
}

type SettingsStore interface {
	LoadReminderSettings(ctx context.Context, organizationID string) (domain.ReminderSettings, error)
	SaveReminderSettings(ctx context.Context, organizationID string, s domain.ReminderSettings) (domain.ReminderSettings, error)
}

type ReminderExporter interface {
	StartRemindersExport(
		ctx context.Context,
		selected []string,
		filter repository.ReminderLogsFilter,
		userID int64,
	) (string, error)
}

type Handler struct {
	sender     ManualSender
	runner     AutomaticRunner
	queries    ReminderQueries
	settings   SettingsStore
	reminders  ReminderExporter
	exportList ExportListService
	cronSecret string
	log        *zap.Logger
}

func NewHandler(
	sender ManualSender,
	runner AutomaticRunner,
	queries ReminderQueries,
	settings SettingsStore,
	reminders ReminderExporter,
	exportList ExportListService,
	cronSecret string,
) *Handler {
	return &Handler{
		sender:     sender,
		runner:     runner,
		queries:    queries,
		settings:   settings,
		reminders:  reminders,
		exportList: exportList,
		cronSecret: cronSecret,
		log:        zap.L().Named("http"),
	}
}

// InitRouterWithAuth registers the public routes and puts every other route behind authMiddleware.
func (h *Handler) InitRouterWithAuth(authMiddleware func(http.Handler) http.Handler) *chi.Mux {
	r := chi.NewRouter()

	r.Use(
		middleware.RequestID,
		middleware.RealIP,
		requestLogger(h.log),
		middleware.Recoverer,
	)

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	// the automatic run may take longer than any API request
	r.Get("/cron/reminders", h.cronReminders)

	r.Group(func(r chi.Router) {
		r.Use(middleware.Timeout(60 * time.Second))
		if authMiddleware != nil {
			r.Use(authMiddleware)
		}

		r.Route("/reminders", func(r chi.Router) {
			r.With(auth.RequireAbility(domain.AbilityRemindersSend)).Post("/send-manual", h.sendManual)
			r.Get("/logs", h.listReminderLogs)
			r.Get("/statistics", h.reminderStatistics)
			r.Get("/upcoming", h.upcomingReminders)
			r.Get("/settings", h.getReminderSettings)
			r.With(auth.RequireAbility(domain.AbilitySettingsWrite)).Put("/settings", h.putReminderSettings)
		})

		r.Route("/export", func(r chi.Router) {
			r.Get("/", h.listExports)
			r.Get("/{export_id}", h.getExport)
			r.Post("/reminders", h.exportReminders)
		})
	})

	return r
}

func requestLogger(log *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			started := time.Now()
			next.ServeHTTP(ww, r)

			log.Info("request",
				zap.String("request_id", middleware.GetReqID(r.Context())),
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.Status()),
				zap.Int("bytes", ww.BytesWritten()),
				zap.Duration("duration", time.Since(started)),
			)
		})
	}
}
