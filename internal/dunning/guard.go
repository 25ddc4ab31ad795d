package dunning

import (
	"context"
	"fmt"
	"time"

	"dunning-service/internal/domain"
)

// LastSentFinder returns the most recent successful log entry for an invoice, or nil.
type LastSentFinder interface {
	LastSent(ctx context.Context, invoiceID string) (*domain.ReminderLog, error)
}

// ResendAllowed applies the interval rule to a single timestamp.
// It returns the remaining wait when the send is refused.
func ResendAllowed(lastSent time.Time, interval time.Duration, now time.Time) (bool, time.Duration) {
	elapsed := now.Sub(lastSent)
	if elapsed >= interval {
		return true, 0
	}
	return false, interval - elapsed
}

// CanSend reports whether a new reminder may go out for invoiceID at now.
// Failed attempts are not considered so an operator can retry a broken delivery.
func CanSend(ctx context.Context, logs LastSentFinder, invoiceID string, interval time.Duration, now time.Time) (bool, *domain.ReminderLog, error) {
	last, err := logs.LastSent(ctx, invoiceID)
	if err != nil {
		return false, nil, fmt.Errorf("load last reminder for invoice %s: %w", invoiceID, err)
	}
	if last == nil {
		return true, nil, nil
	}
	ok, _ := ResendAllowed(last.SentDate, interval, now)
	return ok, last, nil
}

// CheckResend is CanSend returning a *domain.ResendTooSoonError on refusal.
func CheckResend(ctx context.Context, logs LastSentFinder, invoiceID string, interval time.Duration, now time.Time) error {
	ok, last, err := CanSend(ctx, logs, invoiceID, interval, now)
	if err != nil {
		return err
	}
	if ok {
		return nil
	}
	_, remaining := ResendAllowed(last.SentDate, interval, now)
	return &domain.ResendTooSoonError{
		InvoiceID: invoiceID,
		LastSent:  last.SentDate,
		Remaining: remaining,
	}
}
