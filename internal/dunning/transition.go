package dunning

import "dunning-service/internal/domain"

type transitionKey struct {
	level domain.Level
	from  domain.InvoiceStatus
}

// statusTransitions lists every (level, status) pair that changes the invoice.
// All other pairs are no-ops: a friendly reminder never escalates, OVERDUE stays
// OVERDUE, and DRAFT/PAID/CANCELLED invoices are not touched by this service.
var statusTransitions = map[transitionKey]domain.InvoiceStatus{
	{domain.LevelDunning1, domain.InvoiceStatusSent}: domain.InvoiceStatusOverdue,
	{domain.LevelDunning2, domain.InvoiceStatusSent}: domain.InvoiceStatusOverdue,
	{domain.LevelFinal, domain.InvoiceStatusSent}:    domain.InvoiceStatusOverdue,
}

// NextStatus returns the status an invoice moves to after a successful send at level.
// The boolean is false when the status stays as it is.
func NextStatus(level domain.Level, from domain.InvoiceStatus) (domain.InvoiceStatus, bool) {
	to, ok := statusTransitions[transitionKey{level: level, from: from}]
	return to, ok
}
