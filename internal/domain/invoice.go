package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

type InvoiceStatus string

const (
	InvoiceStatusDraft     InvoiceStatus = "DRAFT"
	InvoiceStatusSent      InvoiceStatus = "SENT"
	InvoiceStatusPaid      InvoiceStatus = "PAID"
	InvoiceStatusOverdue   InvoiceStatus = "OVERDUE"
	InvoiceStatusCancelled InvoiceStatus = "CANCELLED"
)

// Terminal reports whether no reminder can ever apply to an invoice in this status.
func (s InvoiceStatus) Terminal() bool {
	return s == InvoiceStatusPaid || s == InvoiceStatusCancelled
}

type Invoice struct {
	ID             string
	OrganizationID string
	InvoiceNumber  string

	IssueDate time.Time
	DueDate   time.Time

	TotalGross decimal.Decimal
	PaidAmount decimal.Decimal
	Currency   string

	Status     InvoiceStatus
	CustomerID string
}

// OpenAmount is the part of the gross total that is still unpaid.
func (i Invoice) OpenAmount() decimal.Decimal {
	return i.TotalGross.Sub(i.PaidAmount)
}

type Customer struct {
	ID       string
	Name     string
	Company  *string
	Email    string
	Language string
}

// DisplayCompany falls back to the customer name for private customers.
func (c Customer) DisplayCompany() string {
	if c.Company != nil && *c.Company != "" {
		return *c.Company
	}
	return c.Name
}

type CompanySettings struct {
	OrganizationID string
	Name           string
	IBAN           string
	PaymentBaseURL string
}
