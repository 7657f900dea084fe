package billing

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/golang-sql/civil"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/hms/hms/internal/platform/apperr"
)

// LockChecker reports whether an admission's billing has been locked by a
// discharge or special-status close-out.
type LockChecker interface {
	IsBillingLocked(ctx context.Context, admissionID uuid.UUID) (bool, error)
}

// Outcome of a single line upsert.
type Outcome int

const (
	Unchanged Outcome = iota
	Inserted
	Updated
)

// SyncRequest is one batch of room charges for an admission's invoice.
type SyncRequest struct {
	Invoice     *Invoice
	AdmissionID uuid.UUID
	Charges     []DayCharge
	// Cutoff, when set, prunes room lines dated after it.
	Cutoff *civil.Date
}

type SyncResult struct {
	Inserted  int `json:"inserted"`
	Updated   int `json:"updated"`
	Unchanged int `json:"unchanged"`
	Pruned    int `json:"pruned"`
}

// Synchronizer reconciles computed room charges into invoice lines. Lines
// are found by key before any write, so re-running a sync converges on the
// same set of lines without leaning on unique indexes.
//
// None of its methods open a transaction; callers run them inside one and
// hold the invoice row lock.
type Synchronizer struct {
	repo    Repository
	locks   LockChecker
	taxRate decimal.Decimal
	now     func() time.Time
}

func NewSynchronizer(repo Repository, locks LockChecker, defaultTaxRate decimal.Decimal) *Synchronizer {
	return &Synchronizer{repo: repo, locks: locks, taxRate: defaultTaxRate, now: time.Now}
}

func invoiceLocked(inv *Invoice) *apperr.Error {
	return apperr.Conflict("invoice is %s", inv.Status).With("invoice_id", inv.ID.String())
}

func roomDescription(ch DayCharge) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Room charge %s: %s", ch.Day, ch.RoomType)
	if ch.BedLabel != "" {
		fmt.Fprintf(&b, ", bed %s", ch.BedLabel)
	}
	return b.String()
}

// UpsertDay writes the room line for ch.Day on inv: inserted when absent,
// updated in place when any billed attribute moved, left alone otherwise.
func (s *Synchronizer) UpsertDay(ctx context.Context, inv *Invoice, ch DayCharge) (Outcome, error) {
	if !inv.Mutable() {
		return Unchanged, invoiceLocked(inv).With("day", ch.Day.String())
	}
	if inv.AdmissionID == nil {
		return Unchanged, apperr.Validation("invoice is not linked to an admission").With("invoice_id", inv.ID.String())
	}
	admissionID := *inv.AdmissionID
	key := RoomKey(admissionID, ch.Day)

	existing, err := s.repo.FindLine(ctx, inv.ID, key)
	if err != nil {
		return Unchanged, fmt.Errorf("find room line %s: %w", key, err)
	}

	roomType := ch.RoomType
	bedID := ch.BedID
	day := ch.Day
	desc := roomDescription(ch)
	unit := ch.UnitPrice.Round(2)

	if existing == nil {
		line := &InvoiceLine{
			InvoiceID:   inv.ID,
			AdmissionID: &admissionID,
			ServiceType: ServiceRoom,
			NaturalKey:  key.NaturalKey,
			Description: desc,
			RoomType:    &roomType,
			BedID:       &bedID,
			ServiceDate: &day,
			Qty:         decimal.NewFromInt(1),
			UnitPrice:   unit,
			TaxRate:     s.taxRate,
			RateMissing: ch.RateMissing,
		}
		line.reprice()
		if err := s.repo.InsertLine(ctx, line); err != nil {
			return Unchanged, fmt.Errorf("insert room line %s: %w", key, err)
		}
		return Inserted, nil
	}

	if existing.UnitPrice.Equal(unit) &&
		existing.TaxRate.Equal(s.taxRate) &&
		existing.RateMissing == ch.RateMissing &&
		existing.Description == desc &&
		!existing.IsVoided &&
		existing.RoomType != nil && *existing.RoomType == roomType &&
		existing.BedID != nil && *existing.BedID == bedID {
		return Unchanged, nil
	}

	existing.UnitPrice = unit
	existing.TaxRate = s.taxRate
	existing.RateMissing = ch.RateMissing
	existing.Description = desc
	existing.RoomType = &roomType
	existing.BedID = &bedID
	existing.ServiceDate = &day
	existing.IsVoided = false
	existing.reprice()
	if err := s.repo.UpdateLine(ctx, existing); err != nil {
		return Unchanged, fmt.Errorf("update room line %s: %w", key, err)
	}
	return Updated, nil
}

// PruneAfter deletes the admission's room lines dated after cutoff. A nil
// cutoff removes every room line (cancelled admissions).
func (s *Synchronizer) PruneAfter(ctx context.Context, inv *Invoice, admissionID uuid.UUID, cutoff *civil.Date) (int, error) {
	if !inv.Mutable() {
		return 0, invoiceLocked(inv)
	}
	n, err := s.repo.DeleteRoomLinesAfter(ctx, inv.ID, admissionID, cutoff)
	if err != nil {
		return 0, fmt.Errorf("prune room lines: %w", err)
	}
	return n, nil
}

// RecomputeTotals rebuilds the invoice header from its lines and persists it.
func (s *Synchronizer) RecomputeTotals(ctx context.Context, inv *Invoice) error {
	lines, err := s.repo.ListAllLines(ctx, inv.ID)
	if err != nil {
		return fmt.Errorf("load lines of invoice %s: %w", inv.ID, err)
	}
	t := ComputeTotals(lines, inv.AmountPaid)
	inv.GrossTotal, inv.TaxTotal, inv.NetTotal, inv.BalanceDue = t.Gross, t.Tax, t.Net, t.BalanceDue
	if err := s.repo.UpdateInvoice(ctx, inv); err != nil {
		return fmt.Errorf("update invoice %s totals: %w", inv.ID, err)
	}
	return nil
}

// SyncRoomCharges upserts every charge, prunes past the cutoff and refreshes
// the totals. A locked invoice or admission is refused before anything is
// written.
func (s *Synchronizer) SyncRoomCharges(ctx context.Context, req SyncRequest) (SyncResult, error) {
	var res SyncResult
	inv := req.Invoice
	if inv == nil {
		return res, apperr.Validation("invoice is required").With("admission_id", req.AdmissionID.String())
	}
	if !inv.Mutable() {
		return res, invoiceLocked(inv).With("admission_id", req.AdmissionID.String())
	}
	if inv.AdmissionID == nil || *inv.AdmissionID != req.AdmissionID {
		return res, apperr.Validation("invoice does not belong to admission").
			With("invoice_id", inv.ID.String()).
			With("admission_id", req.AdmissionID.String())
	}
	if s.locks != nil {
		locked, err := s.locks.IsBillingLocked(ctx, req.AdmissionID)
		if err != nil {
			return res, fmt.Errorf("check billing lock: %w", err)
		}
		if locked {
			return res, apperr.Conflict("admission billing is locked").With("admission_id", req.AdmissionID.String())
		}
	}

	for _, ch := range req.Charges {
		out, err := s.UpsertDay(ctx, inv, ch)
		if err != nil {
			return res, err
		}
		switch out {
		case Inserted:
			res.Inserted++
		case Updated:
			res.Updated++
		default:
			res.Unchanged++
		}
	}

	if req.Cutoff != nil {
		n, err := s.PruneAfter(ctx, inv, req.AdmissionID, req.Cutoff)
		if err != nil {
			return res, err
		}
		res.Pruned = n
	}

	if err := s.RecomputeTotals(ctx, inv); err != nil {
		return res, err
	}
	return res, nil
}

// EnsureInvoice returns the admission's current invoice, creating a draft
// when it has none. The returned invoice is row-locked.
func (s *Synchronizer) EnsureInvoice(ctx context.Context, patientID, admissionID uuid.UUID) (*Invoice, bool, error) {
	inv, err := s.repo.FindActiveByAdmission(ctx, admissionID)
	if err != nil {
		return nil, false, fmt.Errorf("find invoice for admission %s: %w", admissionID, err)
	}
	if inv != nil {
		return inv, false, nil
	}
	aid := admissionID
	inv = &Invoice{PatientID: patientID, AdmissionID: &aid, Status: InvoiceDraft}
	if err := s.repo.CreateInvoice(ctx, inv); err != nil {
		return nil, false, fmt.Errorf("create invoice for admission %s: %w", admissionID, err)
	}
	return inv, true, nil
}

// EnsureServiceLine books a one-shot charge. The first call creates the line;
// later calls with the same natural reference return it untouched.
func (s *Synchronizer) EnsureServiceLine(ctx context.Context, inv *Invoice, sc ServiceCharge) (*InvoiceLine, bool, error) {
	sc.ServiceType = strings.ToUpper(strings.TrimSpace(sc.ServiceType))
	sc.NaturalRef = strings.TrimSpace(sc.NaturalRef)
	switch {
	case sc.ServiceType == "":
		return nil, false, apperr.Validation("service_type is required").With("invoice_id", inv.ID.String())
	case sc.ServiceType == ServiceRoom:
		return nil, false, apperr.Validation("room charges are derived from bed assignments").With("invoice_id", inv.ID.String())
	case sc.NaturalRef == "":
		return nil, false, apperr.Validation("natural_ref is required").With("service_type", sc.ServiceType)
	case sc.UnitPrice.IsNegative():
		return nil, false, apperr.Validation("unit_price must not be negative").With("natural_ref", sc.NaturalRef)
	case sc.Qty.IsNegative():
		return nil, false, apperr.Validation("qty must not be negative").With("natural_ref", sc.NaturalRef)
	case sc.TaxRate != nil && sc.TaxRate.IsNegative():
		return nil, false, apperr.Validation("tax_rate must not be negative").With("natural_ref", sc.NaturalRef)
	}

	key := LineKey{ServiceType: sc.ServiceType, NaturalKey: sc.NaturalRef}
	if inv.AdmissionID != nil {
		key.AdmissionID = *inv.AdmissionID
	}
	existing, err := s.repo.FindLine(ctx, inv.ID, key)
	if err != nil {
		return nil, false, fmt.Errorf("find service line %s: %w", key, err)
	}
	if existing != nil {
		return existing, false, nil
	}
	if !inv.Mutable() {
		return nil, false, invoiceLocked(inv).With("natural_ref", sc.NaturalRef)
	}
	if inv.AdmissionID != nil && s.locks != nil {
		locked, err := s.locks.IsBillingLocked(ctx, *inv.AdmissionID)
		if err != nil {
			return nil, false, fmt.Errorf("check billing lock: %w", err)
		}
		if locked {
			return nil, false, apperr.Conflict("admission billing is locked").
				With("admission_id", inv.AdmissionID.String()).
				With("natural_ref", sc.NaturalRef)
		}
	}

	qty := sc.Qty
	if qty.IsZero() {
		qty = decimal.NewFromInt(1)
	}
	taxRate := s.taxRate
	if sc.TaxRate != nil {
		taxRate = *sc.TaxRate
	}
	line := &InvoiceLine{
		InvoiceID:   inv.ID,
		AdmissionID: inv.AdmissionID,
		ServiceType: sc.ServiceType,
		NaturalKey:  sc.NaturalRef,
		Description: sc.Description,
		ServiceDate: sc.ServiceDate,
		Qty:         qty,
		UnitPrice:   sc.UnitPrice.Round(2),
		TaxRate:     taxRate,
	}
	line.reprice()
	if err := s.repo.InsertLine(ctx, line); err != nil {
		return nil, false, fmt.Errorf("insert service line %s: %w", key, err)
	}
	if err := s.RecomputeTotals(ctx, inv); err != nil {
		return nil, false, err
	}
	return line, true, nil
}

// FinalizeInvoice moves a draft invoice to finalized. Finalizing twice is a
// no-op.
func (s *Synchronizer) FinalizeInvoice(ctx context.Context, inv *Invoice) error {
	switch inv.Status {
	case InvoiceFinalized:
		return nil
	case InvoiceCancelled:
		return invoiceLocked(inv)
	}
	at := s.now().UTC()
	inv.Status = InvoiceFinalized
	inv.FinalizedAt = &at
	return s.repo.UpdateInvoice(ctx, inv)
}

// CancelIfEmpty cancels a draft invoice that has no active lines left and
// reports whether it did.
func (s *Synchronizer) CancelIfEmpty(ctx context.Context, inv *Invoice) (bool, error) {
	if !inv.Mutable() {
		return false, nil
	}
	lines, err := s.repo.ListAllLines(ctx, inv.ID)
	if err != nil {
		return false, err
	}
	for _, l := range lines {
		if !l.IsVoided {
			return false, nil
		}
	}
	inv.Status = InvoiceCancelled
	return true, s.repo.UpdateInvoice(ctx, inv)
}
