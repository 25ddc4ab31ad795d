package service

import (
	"context"
	"sort"
	"time"

	"dunning-service/internal/domain"
	"dunning-service/internal/dunning"
	"dunning-service/internal/repository"
)

type Statistics struct {
	Total   int64            `json:"total"`
	Sent    int64            `json:"sent"`
	Failed  int64            `json:"failed"`
	ByLevel map[string]int64 `json:"byLevel"`
}

type UpcomingReminder struct {
	InvoiceID     string       `json:"invoiceId"`
	InvoiceNumber string       `json:"invoiceNumber"`
	CustomerID    string       `json:"customerId"`
	Level         domain.Level `json:"reminderLevel"`
	DueOn         string       `json:"dueOn"`
	DaysUntil     int          `json:"daysUntil"`

	due time.Time
}

type ReminderQueryService struct {
	invoices InvoiceRepository
	logs     ReminderLogStore
	settings *SettingsService
	location *time.Location
}

func NewReminderQueryService(invoices InvoiceRepository, logs ReminderLogStore, settings *SettingsService, location *time.Location) *ReminderQueryService {
	if location == nil {
		location = time.UTC
	}
	return &ReminderQueryService{
		invoices: invoices,
		logs:     logs,
		settings: settings,
		location: location,
	}
}

func (s *ReminderQueryService) Logs(ctx context.Context, f repository.ReminderLogsFilter) ([]domain.ReminderLog, error) {
	return s.logs.List(ctx, f)
}

func (s *ReminderQueryService) Statistics(ctx context.Context, f repository.ReminderLogsFilter) (Statistics, error) {
	byStatus, byLevel, err := s.logs.CountByStatus(ctx, f)
	if err != nil {
		return Statistics{}, err
	}

	st := Statistics{
		Sent:    byStatus[domain.ReminderStatusSent],
		Failed:  byStatus[domain.ReminderStatusFailed],
		ByLevel: make(map[string]int64, len(byLevel)),
	}
	for _, n := range byStatus {
		st.Total += n
	}
	for _, lc := range byLevel {
		st.ByLevel[string(lc.Level)] = lc.Count
	}
	return st, nil
}

// Upcoming lists the next level that will fire for every open invoice, earliest first.
// Entries already due today or earlier have DaysUntil <= 0.
func (s *ReminderQueryService) Upcoming(ctx context.Context, organizationID string, now time.Time, limit int) ([]UpcomingReminder, error) {
	settings, err := s.settings.LoadReminderSettings(ctx, organizationID)
	if err != nil {
		return nil, err
	}
	invoices, err := s.invoices.ListOpen(ctx, organizationID)
	if err != nil {
		return nil, err
	}

	today := now.In(s.location)
	out := make([]UpcomingReminder, 0, len(invoices))
	for _, inv := range invoices {
		highest, _, err := s.logs.HighestSentLevel(ctx, inv.ID)
		if err != nil {
			return nil, err
		}
		next, due, ok := dunning.Upcoming(inv, settings, highest, today)
		if !ok {
			continue
		}
		out = append(out, UpcomingReminder{
			InvoiceID:     inv.ID,
			InvoiceNumber: inv.InvoiceNumber,
			CustomerID:    inv.CustomerID,
			Level:         next.Level,
			DueOn:         due.Format("2006-01-02"),
			DaysUntil:     dunning.DaysBetween(today, due),
			due:           due,
		})
	}

	sort.SliceStable(out, func(i, j int) bool {
		return out[i].due.Before(out[j].due)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}
