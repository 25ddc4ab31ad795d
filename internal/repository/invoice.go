package repository

import (
	"context"
	"database/sql"
	"errors"

	"dunning-service/internal/domain"

	"github.com/shopspring/decimal"
)

type InvoiceRepository struct {
	db *sql.DB
}

func NewInvoiceRepository(db *sql.DB) *InvoiceRepository {
	return &InvoiceRepository{db: db}
}

const invoiceColumns = `
	i.id,
	i.organization_id,
	i.invoice_number,
	i.issue_date,
	i.due_date,
	i.total_gross,
	i.paid_amount,
	i.currency,
	i.status,
	i.customer_id
`

func scanInvoice(row interface{ Scan(...any) error }) (domain.Invoice, error) {
	var (
		inv        domain.Invoice
		totalGross string
		paidAmount string
		status     string
	)
	if err := row.Scan(
		&inv.ID,
		&inv.OrganizationID,
		&inv.InvoiceNumber,
		&inv.IssueDate,
		&inv.DueDate,
		&totalGross,
		&paidAmount,
		&inv.Currency,
		&status,
		&inv.CustomerID,
	); err != nil {
		return domain.Invoice{}, err
	}

	var err error
	if inv.TotalGross, err = decimal.NewFromString(totalGross); err != nil {
		return domain.Invoice{}, err
	}
	if inv.PaidAmount, err = decimal.NewFromString(paidAmount); err != nil {
		return domain.Invoice{}, err
	}
	inv.Status = domain.InvoiceStatus(status)
	return inv, nil
}

// FindByID returns domain.ErrInvoiceNotFound when the invoice does not exist in the organization.
func (r *InvoiceRepository) FindByID(ctx context.Context, organizationID, id string) (*domain.Invoice, error) {
	query := `SELECT ` + invoiceColumns + `
		FROM invoices i
		WHERE i.id = $1 AND i.organization_id = $2`

	inv, err := scanInvoice(r.db.QueryRowContext(ctx, query, id, organizationID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrInvoiceNotFound
	}
	if err != nil {
		return nil, err
	}
	return &inv, nil
}

// ListOpen returns SENT and OVERDUE invoices with an outstanding amount, oldest due date first.
func (r *InvoiceRepository) ListOpen(ctx context.Context, organizationID string) ([]domain.Invoice, error) {
	query := `SELECT ` + invoiceColumns + `
		FROM invoices i
		WHERE i.organization_id = $1
		  AND i.status IN ('SENT', 'OVERDUE')
		  AND i.total_gross > i.paid_amount
		ORDER BY i.due_date ASC, i.id ASC`

	rows, err := r.db.QueryContext(ctx, query, organizationID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.Invoice
	for rows.Next() {
		inv, err := scanInvoice(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, inv)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

// UpdateStatus only moves the invoice when it is still in the expected status.
func (r *InvoiceRepository) UpdateStatus(ctx context.Context, id string, from, to domain.InvoiceStatus) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE invoices SET status = $1, updated_at = now() WHERE id = $2 AND status = $3`,
		string(to), id, string(from),
	)
	return err
}

type CustomerRepository struct {
	db *sql.DB
}

func NewCustomerRepository(db *sql.DB) *CustomerRepository {
	return &CustomerRepository{db: db}
}

func (r *CustomerRepository) FindByID(ctx context.Context, organizationID, id string) (*domain.Customer, error) {
	var c domain.Customer
	err := r.db.QueryRowContext(ctx, `
		SELECT id, name, company, COALESCE(email, ''), COALESCE(language, 'de')
		FROM customers
		WHERE id = $1 AND organization_id = $2`,
		id, organizationID,
	).Scan(&c.ID, &c.Name, &c.Company, &c.Email, &c.Language)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrCustomerNotFound
	}
	if err != nil {
		return nil, err
	}
	return &c, nil
}
