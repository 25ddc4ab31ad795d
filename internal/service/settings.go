package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"dunning-service/internal/clients"
	"dunning-service/internal/domain"
	"dunning-service/internal/dunning"

	"go.uber.org/zap"
)

type SettingsRepository interface {
	ReminderSettings(ctx context.Context, organizationID string) (*domain.ReminderSettings, error)
	SaveReminderSettings(ctx context.Context, organizationID string, s domain.ReminderSettings) error
	CompanySettings(ctx context.Context, organizationID string) (*domain.CompanySettings, error)
	OrganizationIDs(ctx context.Context) ([]string, error)
}

type Cache interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key string, value any, ttl time.Duration) error
	Del(ctx context.Context, keys ...string) error
}

const settingsCacheTTL = 10 * time.Minute

type SettingsService struct {
	repo  SettingsRepository
	cache Cache
	log   *zap.Logger
}

// NewSettingsService works without a cache; pass nil to always read the repository.
func NewSettingsService(repo SettingsRepository, cache Cache) *SettingsService {
	return &SettingsService{
		repo:  repo,
		cache: cache,
		log:   zap.L().Named("settings"),
	}
}

func settingsCacheKey(organizationID string) string {
	return "reminder_settings:" + organizationID
}

// LoadReminderSettings returns the stored policy of an organization or the defaults when none is stored.
// A stored policy that fails validation is reported as domain.ErrInvalidPolicy.
func (s *SettingsService) LoadReminderSettings(ctx context.Context, organizationID string) (domain.ReminderSettings, error) {
	if cached, ok := s.cached(ctx, organizationID); ok {
		return cached, nil
	}

	stored, err := s.repo.ReminderSettings(ctx, organizationID)
	if err != nil {
		return domain.ReminderSettings{}, fmt.Errorf("load reminder settings: %w", err)
	}

	var settings domain.ReminderSettings
	if stored == nil {
		settings = dunning.DefaultReminderSettings()
	} else {
		settings, err = domain.NewReminderSettings(
			stored.Levels,
			stored.MinResendIntervalHours,
			stored.Enabled,
			stored.AllowManualOverride,
		)
		if err != nil {
			return domain.ReminderSettings{}, fmt.Errorf("organization %s: %w", organizationID, err)
		}
	}

	s.store(ctx, organizationID, settings)
	return settings, nil
}

// SaveReminderSettings validates before persisting; an invalid policy is never stored.
func (s *SettingsService) SaveReminderSettings(ctx context.Context, organizationID string, in domain.ReminderSettings) (domain.ReminderSettings, error) {
	settings, err := domain.NewReminderSettings(in.Levels, in.MinResendIntervalHours, in.Enabled, in.AllowManualOverride)
	if err != nil {
		return domain.ReminderSettings{}, err
	}
	if err := s.repo.SaveReminderSettings(ctx, organizationID, settings); err != nil {
		return domain.ReminderSettings{}, fmt.Errorf("save reminder settings: %w", err)
	}

	if s.cache != nil {
		if err := s.cache.Del(ctx, settingsCacheKey(organizationID)); err != nil {
			s.log.Warn("settings cache invalidation failed", zap.String("organization_id", organizationID), zap.Error(err))
		}
	}
	return settings, nil
}

func (s *SettingsService) LoadCompanySettings(ctx context.Context, organizationID string) (domain.CompanySettings, error) {
	c, err := s.repo.CompanySettings(ctx, organizationID)
	if err != nil {
		return domain.CompanySettings{}, fmt.Errorf("load company settings: %w", err)
	}
	if c == nil {
		return domain.CompanySettings{OrganizationID: organizationID}, nil
	}
	return *c, nil
}

func (s *SettingsService) OrganizationIDs(ctx context.Context) ([]string, error) {
	return s.repo.OrganizationIDs(ctx)
}

func (s *SettingsService) cached(ctx context.Context, organizationID string) (domain.ReminderSettings, bool) {
	if s.cache == nil {
		return domain.ReminderSettings{}, false
	}
	raw, err := s.cache.Get(ctx, settingsCacheKey(organizationID))
	if err != nil {
		if !errors.Is(err, clients.ErrCacheMiss) {
			s.log.Warn("settings cache read failed", zap.String("organization_id", organizationID), zap.Error(err))
		}
		return domain.ReminderSettings{}, false
	}

	var settings domain.ReminderSettings
	if err := json.Unmarshal([]byte(raw), &settings); err != nil {
		return domain.ReminderSettings{}, false
	}
	if settings.Validate() != nil {
		return domain.ReminderSettings{}, false
	}
	return settings, true
}

func (s *SettingsService) store(ctx context.Context, organizationID string, settings domain.ReminderSettings) {
	if s.cache == nil {
		return
	}
	raw, err := json.Marshal(settings)
	if err != nil {
		return
	}
	if err := s.cache.Set(ctx, settingsCacheKey(organizationID), string(raw), settingsCacheTTL); err != nil {
		s.log.Warn("settings cache write failed", zap.String("organization_id", organizationID), zap.Error(err))
	}
}
