package repository

import (
	"context"
	"database/sql"
	"errors"
	"strconv"
	"strings"
	"time"

	"dunning-service/internal/domain"

	"github.com/shopspring/decimal"
)

type ReminderLogsFilter struct {
	OrganizationID *string
	InvoiceID      *string
	Status         *domain.ReminderStatus
	Level          *domain.Level
	SentFrom       *time.Time
	SentTo         *time.Time
	Limit          int
}

// Matches reports whether a log entry passes every set field of the filter.
func (f ReminderLogsFilter) Matches(l domain.ReminderLog) bool {
	if f.OrganizationID != nil && l.OrganizationID != *f.OrganizationID {
		return false
	}
	if f.InvoiceID != nil && l.InvoiceID != *f.InvoiceID {
		return false
	}
	if f.Status != nil && l.Status != *f.Status {
		return false
	}
	if f.Level != nil && l.ReminderLevel != *f.Level {
		return false
	}
	if f.SentFrom != nil && l.SentDate.Before(*f.SentFrom) {
		return false
	}
	if f.SentTo != nil && l.SentDate.After(*f.SentTo) {
		return false
	}
	return true
}

type ReminderLogRepository struct {
	db *sql.DB
}

func NewReminderLogRepository(db *sql.DB) *ReminderLogRepository {
	return &ReminderLogRepository{db: db}
}

func buildReminderLogsWhere(f ReminderLogsFilter, startIndex int, args []any) (string, []any) {
	where := []string{"1 = 1"}
	i := startIndex

	if f.OrganizationID != nil {
		where = append(where, "rl.organization_id = $"+strconv.Itoa(i))
		args = append(args, *f.OrganizationID)
		i++
	}
	if f.InvoiceID != nil {
		where = append(where, "rl.invoice_id = $"+strconv.Itoa(i))
		args = append(args, *f.InvoiceID)
		i++
	}
	if f.Status != nil {
		where = append(where, "rl.status = $"+strconv.Itoa(i))
		args = append(args, string(*f.Status))
		i++
	}
	if f.Level != nil {
		where = append(where, "rl.reminder_level = $"+strconv.Itoa(i))
		args = append(args, string(*f.Level))
		i++
	}
	if f.SentFrom != nil {
		where = append(where, "rl.sent_date >= $"+strconv.Itoa(i))
		args = append(args, *f.SentFrom)
		i++
	}
	if f.SentTo != nil {
		where = append(where, "rl.sent_date <= $"+strconv.Itoa(i))
		args = append(args, *f.SentTo)
		i++
	}

	return strings.Join(where, " AND "), args
}

const reminderLogColumns = `
	rl.id,
	rl.organization_id,
	rl.invoice_id,
	rl.invoice_number,
	rl.customer_id,
	rl.reminder_level,
	rl.recipient,
	rl.subject,
	rl.sent_date,
	rl.status,
	rl.manual,
	rl.forced,
	rl.fee_amount,
	rl.interest_amount,
	rl.message_id,
	rl.error_message
`

func scanReminderLog(row interface{ Scan(...any) error }) (domain.ReminderLog, error) {
	var (
		l        domain.ReminderLog
		level    string
		status   string
		fee      string
		interest string
	)
	if err := row.Scan(
		&l.ID,
		&l.OrganizationID,
		&l.InvoiceID,
		&l.InvoiceNumber,
		&l.CustomerID,
		&level,
		&l.Recipient,
		&l.Subject,
		&l.SentDate,
		&status,
		&l.Manual,
		&l.Forced,
		&fee,
		&interest,
		&l.MessageID,
		&l.ErrorMessage,
	); err != nil {
		return domain.ReminderLog{}, err
	}

	l.ReminderLevel = domain.Level(level)
	l.Status = domain.ReminderStatus(status)

	var err error
	if l.FeeAmount, err = decimal.NewFromString(fee); err != nil {
		return domain.ReminderLog{}, err
	}
	if l.InterestAmount, err = decimal.NewFromString(interest); err != nil {
		return domain.ReminderLog{}, err
	}
	return l, nil
}

func (r *ReminderLogRepository) Append(ctx context.Context, l domain.ReminderLog) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO reminder_logs (
			id, organization_id, invoice_id, invoice_number, customer_id,
			reminder_level, recipient, subject, sent_date, status,
			manual, forced, fee_amount, interest_amount, message_id, error_message
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)`,
		l.ID,
		l.OrganizationID,
		l.InvoiceID,
		l.InvoiceNumber,
		l.CustomerID,
		string(l.ReminderLevel),
		l.Recipient,
		l.Subject,
		l.SentDate,
		string(l.Status),
		l.Manual,
		l.Forced,
		l.FeeAmount.StringFixed(2),
		l.InterestAmount.StringFixed(2),
		l.MessageID,
		l.ErrorMessage,
	)
	return err
}

// LastSent returns nil without error when the invoice has no successful reminder yet.
func (r *ReminderLogRepository) LastSent(ctx context.Context, invoiceID string) (*domain.ReminderLog, error) {
	query := `SELECT ` + reminderLogColumns + `
		FROM reminder_logs rl
		WHERE rl.invoice_id = $1 AND rl.status = 'sent'
		ORDER BY rl.sent_date DESC
		LIMIT 1`

	l, err := scanReminderLog(r.db.QueryRowContext(ctx, query, invoiceID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &l, nil
}

// HighestSentLevel returns the most escalated level that was successfully sent for the invoice.
func (r *ReminderLogRepository) HighestSentLevel(ctx context.Context, invoiceID string) (domain.Level, bool, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT DISTINCT reminder_level FROM reminder_logs WHERE invoice_id = $1 AND status = 'sent'`,
		invoiceID,
	)
	if err != nil {
		return "", false, err
	}
	defer rows.Close()

	var (
		highest domain.Level
		found   bool
	)
	for rows.Next() {
		var level string
		if err := rows.Scan(&level); err != nil {
			return "", false, err
		}
		l := domain.Level(level)
		if !found || l.Rank() > highest.Rank() {
			highest, found = l, true
		}
	}
	return highest, found, rows.Err()
}

func (r *ReminderLogRepository) ListByInvoice(ctx context.Context, invoiceID string) ([]domain.ReminderLog, error) {
	return r.List(ctx, ReminderLogsFilter{InvoiceID: &invoiceID})
}

// List returns matching entries, newest first.
func (r *ReminderLogRepository) List(ctx context.Context, f ReminderLogsFilter) ([]domain.ReminderLog, error) {
	whereClause, args := buildReminderLogsWhere(f, 1, []any{})
	query := `SELECT ` + reminderLogColumns + `
		FROM reminder_logs rl
		WHERE ` + whereClause + `
		ORDER BY rl.sent_date DESC, rl.id DESC`
	if f.Limit > 0 {
		query += " LIMIT " + strconv.Itoa(f.Limit)
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []domain.ReminderLog
	for rows.Next() {
		l, err := scanReminderLog(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, l)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

func (r *ReminderLogRepository) HasMoreThan(ctx context.Context, limit int64, f ReminderLogsFilter) (bool, error) {
	whereClause, args := buildReminderLogsWhere(f, 2, []any{limit})
	query := `SELECT COUNT(*) > $1 FROM reminder_logs rl WHERE ` + whereClause

	var tooMany bool
	if err := r.db.QueryRowContext(ctx, query, args...).Scan(&tooMany); err != nil {
		return false, err
	}
	return tooMany, nil
}

type LevelCount struct {
	Level domain.Level
	Count int64
}

// CountByStatus aggregates entries matching the filter into per-status and per-level totals.
func (r *ReminderLogRepository) CountByStatus(ctx context.Context, f ReminderLogsFilter) (map[domain.ReminderStatus]int64, []LevelCount, error) {
	whereClause, args := buildReminderLogsWhere(f, 1, []any{})
	query := `SELECT rl.status, rl.reminder_level, COUNT(*)
		FROM reminder_logs rl
		WHERE ` + whereClause + `
		GROUP BY rl.status, rl.reminder_level`

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, nil, err
	}
	defer rows.Close()

	byStatus := map[domain.ReminderStatus]int64{}
	byLevel := map[domain.Level]int64{}
	for rows.Next() {
		var (
			status, level string
			n             int64
		)
		if err := rows.Scan(&status, &level, &n); err != nil {
			return nil, nil, err
		}
		byStatus[domain.ReminderStatus(status)] += n
		byLevel[domain.Level(level)] += n
	}
	if err := rows.Err(); err != nil {
		return nil, nil, err
	}
	return byStatus, sortLevelCounts(byLevel), nil
}

func sortLevelCounts(m map[domain.Level]int64) []LevelCount {
	out := make([]LevelCount, 0, len(m))
	for _, l := range []domain.Level{domain.LevelReminder, domain.LevelDunning1, domain.LevelDunning2, domain.LevelFinal} {
		if n, ok := m[l]; ok {
			out = append(out, LevelCount{Level: l, Count: n})
		}
	}
	return out
}
