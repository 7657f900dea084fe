package billing

import (
	"context"

	"github.com/golang-sql/civil"
	"github.com/google/uuid"
)

// LineFilter narrows an invoice line listing.
type LineFilter struct {
	ServiceType   string
	IncludeVoided bool
}

type Repository interface {
	CreateInvoice(ctx context.Context, inv *Invoice) error
	GetInvoice(ctx context.Context, id uuid.UUID) (*Invoice, error)
	// GetInvoiceForUpdate locks the invoice row for the rest of the transaction.
	GetInvoiceForUpdate(ctx context.Context, id uuid.UUID) (*Invoice, error)
	// FindActiveByAdmission locks and returns the admission's non-cancelled
	// invoice, or nil when it has none.
	FindActiveByAdmission(ctx context.Context, admissionID uuid.UUID) (*Invoice, error)
	// LatestByAdmission returns the admission's most recent invoice in any
	// status, or nil.
	LatestByAdmission(ctx context.Context, admissionID uuid.UUID) (*Invoice, error)
	UpdateInvoice(ctx context.Context, inv *Invoice) error

	// FindLine returns the line with key, or nil. Admission-scoped keys match
	// across the admission's invoices; other keys are scoped to invoiceID.
	FindLine(ctx context.Context, invoiceID uuid.UUID, key LineKey) (*InvoiceLine, error)
	InsertLine(ctx context.Context, l *InvoiceLine) error
	UpdateLine(ctx context.Context, l *InvoiceLine) error
	// DeleteRoomLinesAfter removes the admission's room lines dated after
	// cutoff, or all of them when cutoff is nil.
	DeleteRoomLinesAfter(ctx context.Context, invoiceID, admissionID uuid.UUID, cutoff *civil.Date) (int, error)
	ListAllLines(ctx context.Context, invoiceID uuid.UUID) ([]*InvoiceLine, error)
	ListLines(ctx context.Context, invoiceID uuid.UUID, f LineFilter, limit, offset int) ([]*InvoiceLine, int, error)
}
