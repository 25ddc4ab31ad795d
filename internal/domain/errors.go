package domain

import (
	"errors"
	"fmt"
	"time"
)

var (
	ErrInvoiceNotFound     = errors.New("invoice not found")
	ErrCustomerNotFound    = errors.New("customer not found")
	ErrInvalidInvoiceState = errors.New("reminder not applicable to paid or cancelled invoice")
	ErrResendTooSoon       = errors.New("reminder already sent within resend interval")
	ErrInvalidPolicy       = errors.New("invalid reminder policy")
	ErrUnknownLevel        = errors.New("unknown reminder level")
	ErrLevelNotConfigured  = errors.New("reminder level not configured")
)

// ResendTooSoonError carries the time left until the next send is allowed.
type ResendTooSoonError struct {
	InvoiceID string
	LastSent  time.Time
	Remaining time.Duration
}

func (e *ResendTooSoonError) Error() string {
	return fmt.Sprintf("invoice %s: last reminder sent at %s, next allowed in %s",
		e.InvoiceID, e.LastSent.Format(time.RFC3339), e.Remaining.Round(time.Minute))
}

func (e *ResendTooSoonError) Unwrap() error {
	return ErrResendTooSoon
}

// TemplateError marks a placeholder that cannot be resolved. It is a configuration defect.
type TemplateError struct {
	Placeholder string
	Reason      string
}

func (e *TemplateError) Error() string {
	return fmt.Sprintf("template placeholder {%s}: %s", e.Placeholder, e.Reason)
}

// MailTransportError wraps a failed hand-off to the mail transport.
type MailTransportError struct {
	Recipient string
	Err       error
}

func (e *MailTransportError) Error() string {
	return fmt.Sprintf("send reminder to %s: %v", e.Recipient, e.Err)
}

func (e *MailTransportError) Unwrap() error {
	return e.Err
}
