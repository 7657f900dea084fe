package billing

import (
	"context"

	"github.com/google/uuid"
)

// TxManager runs a unit of work in one database transaction.
type TxManager interface {
	InTx(ctx context.Context, fn func(ctx context.Context) error) error
}

// Service is the invoice read side plus the service-line hook used by other
// departments.
type Service struct {
	repo Repository
	sync *Synchronizer
	tx   TxManager
}

func NewService(repo Repository, sync *Synchronizer, tx TxManager) *Service {
	return &Service{repo: repo, sync: sync, tx: tx}
}

func (s *Service) GetInvoice(ctx context.Context, id uuid.UUID) (*Invoice, error) {
	return s.repo.GetInvoice(ctx, id)
}

func (s *Service) ListLines(ctx context.Context, invoiceID uuid.UUID, f LineFilter, limit, offset int) ([]*InvoiceLine, int, error) {
	if _, err := s.repo.GetInvoice(ctx, invoiceID); err != nil {
		return nil, 0, err
	}
	return s.repo.ListLines(ctx, invoiceID, f, limit, offset)
}

// AddServiceLine books a one-shot charge on the invoice under its row lock.
func (s *Service) AddServiceLine(ctx context.Context, invoiceID uuid.UUID, sc ServiceCharge) (*InvoiceLine, bool, error) {
	var (
		line    *InvoiceLine
		created bool
	)
	err := s.tx.InTx(ctx, func(ctx context.Context) error {
		inv, err := s.repo.GetInvoiceForUpdate(ctx, invoiceID)
		if err != nil {
			return err
		}
		line, created, err = s.sync.EnsureServiceLine(ctx, inv, sc)
		return err
	})
	if err != nil {
		return nil, false, err
	}
	return line, created, nil
}
