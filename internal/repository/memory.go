package repository

import (
	"context"
	"sort"
	"sync"

	"dunning-service/internal/domain"
)

// MemoryReminderLogStore keeps the reminder log in process. Used for development and tests.
type MemoryReminderLogStore struct {
	mu   sync.RWMutex
	logs []domain.ReminderLog
}

func NewMemoryReminderLogStore() *MemoryReminderLogStore {
	return &MemoryReminderLogStore{}
}

func (s *MemoryReminderLogStore) Append(_ context.Context, l domain.ReminderLog) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.logs = append(s.logs, l)
	return nil
}

func (s *MemoryReminderLogStore) LastSent(_ context.Context, invoiceID string) (*domain.ReminderLog, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var last *domain.ReminderLog
	for i := range s.logs {
		l := s.logs[i]
		if l.InvoiceID != invoiceID || l.Status != domain.ReminderStatusSent {
			continue
		}
		if last == nil || l.SentDate.After(last.SentDate) {
			cp := l
			last = &cp
		}
	}
	return last, nil
}

func (s *MemoryReminderLogStore) HighestSentLevel(_ context.Context, invoiceID string) (domain.Level, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var (
		highest domain.Level
		found   bool
	)
	for _, l := range s.logs {
		if l.InvoiceID != invoiceID || l.Status != domain.ReminderStatusSent {
			continue
		}
		if !found || l.ReminderLevel.Rank() > highest.Rank() {
			highest, found = l.ReminderLevel, true
		}
	}
	return highest, found, nil
}

func (s *MemoryReminderLogStore) ListByInvoice(ctx context.Context, invoiceID string) ([]domain.ReminderLog, error) {
	return s.List(ctx, ReminderLogsFilter{InvoiceID: &invoiceID})
}

func (s *MemoryReminderLogStore) List(_ context.Context, f ReminderLogsFilter) ([]domain.ReminderLog, error) {
	s.mu.RLock()
	var out []domain.ReminderLog
	for _, l := range s.logs {
		if f.Matches(l) {
			out = append(out, l)
		}
	}
	s.mu.RUnlock()

	sort.SliceStable(out, func(i, j int) bool {
		return out[i].SentDate.After(out[j].SentDate)
	})
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, nil
}

func (s *MemoryReminderLogStore) HasMoreThan(ctx context.Context, limit int64, f ReminderLogsFilter) (bool, error) {
	f.Limit = 0
	logs, err := s.List(ctx, f)
	if err != nil {
		return false, err
	}
	return int64(len(logs)) > limit, nil
}

func (s *MemoryReminderLogStore) CountByStatus(ctx context.Context, f ReminderLogsFilter) (map[domain.ReminderStatus]int64, []LevelCount, error) {
	f.Limit = 0
	logs, err := s.List(ctx, f)
	if err != nil {
		return nil, nil, err
	}

	byStatus := map[domain.ReminderStatus]int64{}
	byLevel := map[domain.Level]int64{}
	for _, l := range logs {
		byStatus[l.Status]++
		byLevel[l.ReminderLevel]++
	}
	return byStatus, sortLevelCounts(byLevel), nil
}
