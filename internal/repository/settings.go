package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"dunning-service/internal/domain"
)

type SettingsRepository struct {
	db *sql.DB
}

func NewSettingsRepository(db *sql.DB) *SettingsRepository {
	return &SettingsRepository{db: db}
}

// ReminderSettings returns nil when the organization never stored a policy.
func (r *SettingsRepository) ReminderSettings(ctx context.Context, organizationID string) (*domain.ReminderSettings, error) {
	var raw []byte
	err := r.db.QueryRowContext(ctx,
		`SELECT settings FROM reminder_settings WHERE organization_id = $1`,
		organizationID,
	).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var s domain.ReminderSettings
	if err := json.Unmarshal(raw, &s); err != nil {
		return nil, fmt.Errorf("decode reminder settings of %s: %w", organizationID, err)
	}
	return &s, nil
}

func (r *SettingsRepository) SaveReminderSettings(ctx context.Context, organizationID string, s domain.ReminderSettings) error {
	raw, err := json.Marshal(s)
	if err != nil {
		return err
	}
	_, err = r.db.ExecContext(ctx, `
		INSERT INTO reminder_settings (organization_id, settings, updated_at)
		VALUES ($1, $2, now())
		ON CONFLICT (organization_id) DO UPDATE
		SET settings = EXCLUDED.settings, updated_at = now()`,
		organizationID, raw,
	)
	return err
}

func (r *SettingsRepository) CompanySettings(ctx context.Context, organizationID string) (*domain.CompanySettings, error) {
	c := domain.CompanySettings{OrganizationID: organizationID}
	err := r.db.QueryRowContext(ctx, `
		SELECT COALESCE(company_name, ''), COALESCE(iban, ''), COALESCE(payment_base_url, '')
		FROM company_settings
		WHERE organization_id = $1`,
		organizationID,
	).Scan(&c.Name, &c.IBAN, &c.PaymentBaseURL)
	if errors.Is(err, sql.ErrNoRows) {
		return &c, nil
	}
	if err != nil {
		return nil, err
	}
	return &c, nil
}

// OrganizationIDs lists every organization that owns at least one open invoice.
func (r *SettingsRepository) OrganizationIDs(ctx context.Context) ([]string, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT DISTINCT organization_id
		FROM invoices
		WHERE status IN ('SENT', 'OVERDUE')
		ORDER BY organization_id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}
