package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"dunning-service/internal/clients"
)

var ErrExportNotFound = errors.New("export not found")

type ExportStatus struct {
	Key      string    `json:"key"`
	Type     string    `json:"type"`
	UserID   int64     `json:"user_id"`
	Filters  any       `json:"filters"`
	Progress float64   `json:"progress"`
	FileURL  *string   `json:"file_url"`
	Error    *string   `json:"error,omitempty"`
	Created  time.Time `json:"created_at"`
}

const (
	exportSetKey = "export_ids"
	exportTTL    = 20 * time.Minute
	exportPrefix = "exports:"
)

// ExportStore keeps export statuses next to a set index of their keys.
type ExportStore interface {
	Set(ctx context.Context, key string, value any, ttl time.Duration) error
	Get(ctx context.Context, key string) (string, error)
	SAdd(ctx context.Context, key string, members ...any) error
	SMembers(ctx context.Context, key string) ([]string, error)
	SRem(ctx context.Context, key string, members ...any) error
}

type ExportService struct {
	redis ExportStore
}

func NewExportService(redis ExportStore) *ExportService {
	return &ExportService{
		redis: redis,
	}
}

func (s *ExportService) saveStatus(ctx context.Context, st *ExportStatus) error {
	if s.redis == nil {
		return nil
	}

	data, err := json.Marshal(st)
	if err != nil {
		return err
	}
	if err := s.redis.Set(ctx, st.Key, string(data), exportTTL); err != nil {
		return err
	}
	return s.redis.SAdd(ctx, exportSetKey, st.Key)
}

// ExportView is what the API shows for one export.
type ExportView struct {
	ID       string  `json:"id"`
	Type     string  `json:"type"`
	UserID   int64   `json:"user_id"`
	Progress float64 `json:"progress"`
	Done     bool    `json:"done"`
	FileURL  *string `json:"file_url"`
	Error    *string `json:"error"`
	Filters  any     `json:"filters"`
	Created  string  `json:"created_at"`
}

// GetExports lists the user's exports, newest first. An empty exportType lists all.
func (s *ExportService) GetExports(ctx context.Context, userID int64, exportType string) ([]ExportView, error) {
	if s.redis == nil {
		return nil, errors.New("redis client not configured")
	}

	keys, err := s.redis.SMembers(ctx, exportSetKey)
	if err != nil {
		return nil, fmt.Errorf("failed to get export keys: %w", err)
	}

	var (
		statuses []ExportStatus
		expired  []any
	)
	for _, key := range keys {
		status, err := s.load(ctx, key)
		if errors.Is(err, ErrExportNotFound) {
			expired = append(expired, key)
			continue
		}
		if err != nil {
			continue
		}
		if status.UserID != userID {
			continue
		}
		if exportType != "" && status.Type != exportType {
			continue
		}
		statuses = append(statuses, status)
	}
	if len(expired) > 0 {
		_ = s.redis.SRem(ctx, exportSetKey, expired...)
	}

	sort.Slice(statuses, func(i, j int) bool {
		return statuses[i].Created.After(statuses[j].Created)
	})

	now := time.Now()
	views := make([]ExportView, 0, len(statuses))
	for _, status := range statuses {
		views = append(views, newExportView(status, now))
	}
	return views, nil
}

// GetExport accepts the id with or without the storage prefix.
func (s *ExportService) GetExport(ctx context.Context, exportID string, userID int64) (ExportView, error) {
	if s.redis == nil {
		return ExportView{}, errors.New("redis client not configured")
	}
	if !strings.HasPrefix(exportID, exportPrefix) {
		exportID = exportPrefix + exportID
	}

	status, err := s.load(ctx, exportID)
	if err != nil {
		return ExportView{}, err
	}
	if status.UserID != userID {
		return ExportView{}, ErrExportNotFound
	}
	return newExportView(status, time.Now()), nil
}

func (s *ExportService) load(ctx context.Context, key string) (ExportStatus, error) {
	data, err := s.redis.Get(ctx, key)
	if errors.Is(err, clients.ErrCacheMiss) {
		return ExportStatus{}, ErrExportNotFound
	}
	if err != nil {
		return ExportStatus{}, err
	}

	var status ExportStatus
	if err := json.Unmarshal([]byte(data), &status); err != nil {
		return ExportStatus{}, fmt.Errorf("parse export status %s: %w", key, err)
	}
	return status, nil
}

func newExportView(status ExportStatus, now time.Time) ExportView {
	return ExportView{
		ID:       strings.TrimPrefix(status.Key, exportPrefix),
		Type:     status.Type,
		UserID:   status.UserID,
		Progress: status.Progress,
		Done:     status.FileURL != nil || status.Error != nil,
		FileURL:  status.FileURL,
		Error:    status.Error,
		Filters:  status.Filters,
		Created:  humanizeDeAgo(status.Created, now),
	}
}

func humanizeDeAgo(t, now time.Time) string {
	if t.After(now) {
		return "gerade eben"
	}

	minutes := int(now.Sub(t).Minutes())
	if minutes < 1 {
		return "gerade eben"
	}
	if minutes < 60 {
		return fmt.Sprintf("vor %d %s", minutes, dePlural(minutes, "Minute", "Minuten"))
	}
	hours := minutes / 60
	if hours < 24 {
		return fmt.Sprintf("vor %d %s", hours, dePlural(hours, "Stunde", "Stunden"))
	}
	days := hours / 24
	if days < 30 {
		return fmt.Sprintf("vor %d %s", days, dePlural(days, "Tag", "Tagen"))
	}
	return t.Format("02.01.2006 15:04")
}

func dePlural(n int, one, many string) string {
	if n == 1 {
		return one
	}
	return many
}
