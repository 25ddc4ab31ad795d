package rest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"dunning-service/internal/clients"
	"dunning-service/internal/domain"
	"dunning-service/internal/repository"
	"dunning-service/internal/service"
	"dunning-service/internal/transport/auth"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubSender struct {
	got service.ManualRequest
	err error
}

func (s *stubSender) SendManual(_ context.Context, req service.ManualRequest) (domain.ReminderLog, error) {
	s.got = req
	if s.err != nil {
		return domain.ReminderLog{}, s.err
	}
	return domain.ReminderLog{
		ID:            "log_1",
		InvoiceID:     req.InvoiceID,
		ReminderLevel: domain.Level(req.Level),
		Recipient:     "max@example.com",
		Subject:       "1. Mahnung - Rechnung RE-1",
		Status:        domain.ReminderStatusSent,
		SentDate:      time.Date(2024, 1, 10, 9, 0, 0, 0, time.UTC),
		Manual:        true,
		FeeAmount:     decimal.NewFromInt(5),
	}, nil
}

type stubRunner struct {
	calls int
}

func (s *stubRunner) RunAutomatic(context.Context) (service.Summary, error) {
	s.calls++
	return service.Summary{Processed: 3, Sent: 1, Failed: 1, Skipped: 1}, nil
}

type stubQueries struct {
	filter repository.ReminderLogsFilter
}

func (s *stubQueries) Logs(_ context.Context, f repository.ReminderLogsFilter) ([]domain.ReminderLog, error) {
	s.filter = f
	return []domain.ReminderLog{{ID: "log_1", InvoiceID: "inv_1", ReminderLevel: domain.LevelReminder, Status: domain.ReminderStatusSent}}, nil
}

func (s *stubQueries) Statistics(_ context.Context, f repository.ReminderLogsFilter) (service.Statistics, error) {
	s.filter = f
	return service.Statistics{Total: 2, Sent: 1, Failed: 1, ByLevel: map[string]int64{"reminder": 2}}, nil
}

func (s *stubQueries) Upcoming(_ context.Context, organizationID string, _ time.Time, limit int) ([]service.UpcomingReminder, error) {
	return []service.UpcomingReminder{{InvoiceID: "inv_1", Level: domain.LevelDunning1, DaysUntil: limit}}, nil
}

type stubSettings struct {
	saved *domain.ReminderSettings
}

func (s *stubSettings) LoadReminderSettings(context.Context, string) (domain.ReminderSettings, error) {
	return domain.ReminderSettings{Enabled: true, MinResendIntervalHours: 24}, nil
}

func (s *stubSettings) SaveReminderSettings(_ context.Context, _ string, in domain.ReminderSettings) (domain.ReminderSettings, error) {
	if len(in.Levels) == 0 {
		return domain.ReminderSettings{}, fmt.Errorf("%w: at least one level is required", domain.ErrInvalidPolicy)
	}
	s.saved = &in
	return in, nil
}

type stubExporter struct {
	fields []string
	filter repository.ReminderLogsFilter
}

func (s *stubExporter) StartRemindersExport(_ context.Context, selected []string, filter repository.ReminderLogsFilter, _ int64) (string, error) {
	s.fields, s.filter = selected, filter
	return "exports:abc", nil
}

type stubExportList struct {
	lastType string
}

func (s *stubExportList) GetExports(_ context.Context, _ int64, exportType string) ([]service.ExportView, error) {
	s.lastType = exportType
	return []service.ExportView{{ID: "abc", Type: "reminders"}}, nil
}

func (s *stubExportList) GetExport(_ context.Context, exportID string, _ int64) (service.ExportView, error) {
	switch exportID {
	case "abc":
		return service.ExportView{ID: exportID, Type: "reminders", Progress: 40}, nil
	case "broken":
		return service.ExportView{}, errors.New("redis down")
	}
	return service.ExportView{}, service.ErrExportNotFound
}

type testServer struct {
	sender   *stubSender
	runner   *stubRunner
	queries  *stubQueries
	settings *stubSettings
	exporter *stubExporter
	exports  *stubExportList
	router   http.Handler
}

func fakeAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		abilities := []string{domain.AbilityAll}
		switch r.Header.Get("Authorization") {
		case "":
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		case "Bearer readonly":
			abilities = []string{"reminders:read"}
		}
		next.ServeHTTP(w, r.WithContext(auth.WithUser(r.Context(), 7, "org_1", abilities...)))
	})
}

func newTestServer(cronSecret string) *testServer {
	s := &testServer{
		sender:   &stubSender{},
		runner:   &stubRunner{},
		queries:  &stubQueries{},
		settings: &stubSettings{},
		exporter: &stubExporter{},
		exports:  &stubExportList{},
	}
	h := NewHandler(s.sender, s.runner, s.queries, s.settings, s.exporter, s.exports, cronSecret)
	s.router = h.InitRouterWithAuth(fakeAuth)
	return s
}

func (s *testServer) do(method, target, body string, authed bool) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	if authed {
		req.Header.Set("Authorization", "Bearer 1|token")
	}
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	return rec
}

func TestSendManual_Success(t *testing.T) {
	s := newTestServer("")

	rec := s.do(http.MethodPost, "/reminders/send-manual", `{"invoiceId":"inv_1","reminderLevel":"dunning1"}`, true)
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Success     bool                   `json:"success"`
		ReminderLog map[string]interface{} `json:"reminderLog"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.True(t, body.Success)
	assert.Equal(t, "log_1", body.ReminderLog["id"])
	assert.Equal(t, "dunning1", body.ReminderLog["reminderLevel"])
	assert.Equal(t, "sent", body.ReminderLog["status"])
	assert.Equal(t, "5.00", body.ReminderLog["feeAmount"])

	assert.Equal(t, "org_1", s.sender.got.OrganizationID)
	assert.Equal(t, int64(7), s.sender.got.OperatorID)
}

func TestSendManual_Validation(t *testing.T) {
	s := newTestServer("")

	for _, body := range []string{
		`{"reminderLevel":"reminder"}`,
		`{"invoiceId":"","reminderLevel":"reminder"}`,
		`{"invoiceId":"inv_1","reminderLevel":"mahnung"}`,
		`{"invoiceId":"inv_1","reminderLevel":42}`,
		`not json`,
	} {
		rec := s.do(http.MethodPost, "/reminders/send-manual", body, true)
		assert.Equal(t, http.StatusBadRequest, rec.Code, body)
		assert.Contains(t, rec.Body.String(), `"error"`)
	}
}

func TestSendManual_DefaultsToReminderLevel(t *testing.T) {
	for _, body := range []string{
		`{"invoiceId":"inv_1"}`,
		`{"invoiceId":"inv_1","reminderLevel":""}`,
		`{"invoiceId":"inv_1","reminderLevel":null}`,
	} {
		s := newTestServer("")
		rec := s.do(http.MethodPost, "/reminders/send-manual", body, true)
		require.Equal(t, http.StatusOK, rec.Code, body)
		assert.Equal(t, string(domain.LevelReminder), s.sender.got.Level, body)
	}
}

func TestSendManual_RetryAfterRoundsUp(t *testing.T) {
	s := newTestServer("")
	s.sender.err = &domain.ResendTooSoonError{InvoiceID: "inv_1", Remaining: 600 * time.Millisecond}

	rec := s.do(http.MethodPost, "/reminders/send-manual", `{"invoiceId":"inv_1"}`, true)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "1", rec.Header().Get("Retry-After"))
}

func TestSendManual_ErrorMapping(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{fmt.Errorf("%w: invoice inv_1 is PAID", domain.ErrInvalidInvoiceState), http.StatusBadRequest},
		{fmt.Errorf("%w: final", domain.ErrLevelNotConfigured), http.StatusBadRequest},
		{domain.ErrInvoiceNotFound, http.StatusNotFound},
		{domain.ErrCustomerNotFound, http.StatusNotFound},
		{&domain.ResendTooSoonError{InvoiceID: "inv_1", Remaining: time.Hour}, http.StatusTooManyRequests},
		{&domain.TemplateError{Placeholder: "iban", Reason: "no value available"}, http.StatusUnprocessableEntity},
		{fmt.Errorf("lock invoice inv_1: %w", clients.ErrLockBusy), http.StatusConflict},
		{&domain.MailTransportError{Recipient: "max@example.com", Err: errors.New("timeout")}, http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.err.Error(), func(t *testing.T) {
			s := newTestServer("")
			s.sender.err = tt.err

			rec := s.do(http.MethodPost, "/reminders/send-manual", `{"invoiceId":"inv_1","reminderLevel":"reminder"}`, true)
			assert.Equal(t, tt.want, rec.Code)

			var body errorBody
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
			assert.Equal(t, tt.err.Error(), body.Error)
			if tt.want == http.StatusTooManyRequests {
				assert.Equal(t, "3600", rec.Header().Get("Retry-After"))
			}
		})
	}
}

func TestSendManual_RequiresAuth(t *testing.T) {
	s := newTestServer("")
	rec := s.do(http.MethodPost, "/reminders/send-manual", `{"invoiceId":"inv_1","reminderLevel":"reminder"}`, false)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestCronReminders(t *testing.T) {
	s := newTestServer("")
	rec := s.do(http.MethodGet, "/cron/reminders", "", false)
	require.Equal(t, http.StatusOK, rec.Code)

	var sum service.Summary
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &sum))
	assert.Equal(t, service.Summary{Processed: 3, Sent: 1, Failed: 1, Skipped: 1}, sum)
}

func TestCronReminders_Secret(t *testing.T) {
	s := newTestServer("s3cret")

	rec := s.do(http.MethodGet, "/cron/reminders", "", false)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Zero(t, s.runner.calls)

	req := httptest.NewRequest(http.MethodGet, "/cron/reminders", nil)
	req.Header.Set(cronSecretHeader, "s3cret")
	rec = httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 1, s.runner.calls)
}

func TestListReminderLogs(t *testing.T) {
	s := newTestServer("")

	rec := s.do(http.MethodGet, "/reminders/logs?invoice_id=inv_1&status=failed&level=final&from=2024-01-01&to=2024-01-31&limit=5000", "", true)
	require.Equal(t, http.StatusOK, rec.Code)

	f := s.queries.filter
	require.NotNil(t, f.OrganizationID)
	assert.Equal(t, "org_1", *f.OrganizationID)
	assert.Equal(t, "inv_1", *f.InvoiceID)
	assert.Equal(t, domain.ReminderStatusFailed, *f.Status)
	assert.Equal(t, domain.LevelFinal, *f.Level)
	assert.Equal(t, maxLogsLimit, f.Limit)
	assert.Equal(t, 31, f.SentTo.Day())
	assert.Equal(t, 23, f.SentTo.Hour())

	var resp APIResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "success", resp.Status)
	require.NotNil(t, resp.Meta)
	assert.Equal(t, maxLogsLimit, resp.Meta.Limit)

	rec = s.do(http.MethodGet, "/reminders/logs?status=pending", "", true)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	rec = s.do(http.MethodGet, "/reminders/logs?from=01.01.2024", "", true)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestStatisticsAndUpcoming(t *testing.T) {
	s := newTestServer("")

	rec := s.do(http.MethodGet, "/reminders/statistics", "", true)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"byLevel":{"reminder":2}`)
	assert.Zero(t, s.queries.filter.Limit)

	rec = s.do(http.MethodGet, "/reminders/upcoming?limit=3", "", true)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"daysUntil":3`)

	rec = s.do(http.MethodGet, "/reminders/upcoming?limit=x", "", true)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestReminderSettingsEndpoints(t *testing.T) {
	s := newTestServer("")

	rec := s.do(http.MethodGet, "/reminders/settings", "", true)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"min_resend_interval_hours":24`)

	rec = s.do(http.MethodPut, "/reminders/settings", `{"enabled":true,"levels":[]}`, true)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)

	body := `{"enabled":true,"min_resend_interval_hours":48,"levels":[{"level":"reminder","days_after_due":3,"fee_amount":"0","interest_rate_percent":"0","subject_template":"Erinnerung {invoiceNumber}","body_template":"{customerName}"}]}`
	rec = s.do(http.MethodPut, "/reminders/settings", body, true)
	require.Equal(t, http.StatusOK, rec.Code)
	require.NotNil(t, s.settings.saved)
	assert.Equal(t, 48, s.settings.saved.MinResendIntervalHours)

	partial := `{"levels":[{"level":"reminder","days_after_due":0,"fee_amount":"0","interest_rate_percent":"0","subject_template":"Erinnerung {invoiceNumber}","body_template":"{customerName}"}]}`
	rec = s.do(http.MethodPut, "/reminders/settings", partial, true)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, s.settings.saved.Enabled)
	assert.Equal(t, domain.DefaultMinResendIntervalHours, s.settings.saved.MinResendIntervalHours)

	rec = s.do(http.MethodPut, "/reminders/settings", `{`, true)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestExportEndpoints(t *testing.T) {
	s := newTestServer("")

	rec := s.do(http.MethodPost, "/export/reminders", `{"fields":["invoice_number","status"],"status":"sent","from":"2024-01-01"}`, true)
	require.Equal(t, http.StatusAccepted, rec.Code)
	assert.Contains(t, rec.Body.String(), `"export_id":"abc"`)
	assert.Equal(t, []string{"invoice_number", "status"}, s.exporter.fields)
	assert.Equal(t, "org_1", *s.exporter.filter.OrganizationID)
	assert.Zero(t, s.exporter.filter.Limit)

	rec = s.do(http.MethodPost, "/export/reminders", `{"fields":[]}`, true)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = s.do(http.MethodGet, "/export/?type=reminders", "", true)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "reminders", s.exports.lastType)
	assert.Contains(t, rec.Body.String(), `"id":"abc"`)

	rec = s.do(http.MethodGet, "/export/abc", "", true)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"progress":40`)

	rec = s.do(http.MethodGet, "/export/missing", "", true)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = s.do(http.MethodGet, "/export/broken", "", true)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestWriteRoutesRequireAbility(t *testing.T) {
	s := newTestServer("")

	for _, tc := range []struct{ method, target, body string }{
		{http.MethodPost, "/reminders/send-manual", `{"invoiceId":"inv_1","reminderLevel":"dunning1"}`},
		{http.MethodPut, "/reminders/settings", `{}`},
	} {
		req := httptest.NewRequest(tc.method, tc.target, strings.NewReader(tc.body))
		req.Header.Set("Authorization", "Bearer readonly")
		rec := httptest.NewRecorder()
		s.router.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusForbidden, rec.Code, tc.target)
	}
	assert.Empty(t, s.sender.got.InvoiceID)

	req := httptest.NewRequest(http.MethodGet, "/reminders/logs", nil)
	req.Header.Set("Authorization", "Bearer readonly")
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestHealth(t *testing.T) {
	s := newTestServer("")
	rec := s.do(http.MethodGet, "/health", "", false)
	assert.Equal(t, http.StatusOK, rec.Code)
}
