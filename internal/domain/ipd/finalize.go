package ipd

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/hms/hms/internal/domain/billing"
	"github.com/hms/hms/internal/platform/apperr"
)

// closeOut is the billing side of ending a stay, run under the admission
// row lock.
type closeOut struct {
	status   string
	at       time.Time
	explicit *bool
	lockedBy string
}

type closeOutReport struct {
	result *FinalizeResult
	sync   billing.SyncResult
	billed []billing.DayCharge
}

// Finalize discharges the admission at req.StopTS: the bed is released, the
// room charges are synced up to the discharge day, the invoice is optionally
// finalized and billing is locked, all in one transaction. Calling it again
// on a locked admission returns the stored snapshot.
func (s *Service) Finalize(ctx context.Context, admissionID uuid.UUID, req FinalizeRequest) (*FinalizeResult, error) {
	co := closeOut{
		status:   StatusDischarged,
		at:       s.stamp(req.StopTS),
		explicit: req.FinalizeInvoice,
		lockedBy: req.LockedBy,
	}
	return s.runCloseOut(ctx, "finalize", admissionID, co)
}

// MarkStatus ends the stay as LAMA, DAMA, disappeared or cancelled. It bills
// up to the status day, except cancelled which drops every room line and
// cancels an invoice left empty.
func (s *Service) MarkStatus(ctx context.Context, admissionID uuid.UUID, req StatusRequest) (*FinalizeResult, error) {
	if !specialStatuses[req.Status] {
		return nil, apperr.Validation("invalid close-out status: %s", req.Status).With("admission_id", admissionID.String())
	}
	co := closeOut{
		status:   req.Status,
		at:       s.stamp(req.At),
		explicit: req.FinalizeInvoice,
		lockedBy: req.LockedBy,
	}
	return s.runCloseOut(ctx, "mark_"+req.Status, admissionID, co)
}

func (s *Service) runCloseOut(ctx context.Context, op string, admissionID uuid.UUID, co closeOut) (*FinalizeResult, error) {
	start := time.Now()
	var (
		rep    *closeOutReport
		replay bool
	)
	err := s.tx.InTx(ctx, func(ctx context.Context) error {
		adm, err := s.admissions.GetForUpdate(ctx, admissionID)
		if err != nil {
			return err
		}
		if adm.BillingLocked {
			if adm.Status != co.status {
				return terminalConflict(adm)
			}
			res, err := s.snapshot(ctx, adm)
			if err != nil {
				return err
			}
			rep, replay = &closeOutReport{result: res}, true
			return nil
		}
		if adm.Terminal() {
			return terminalConflict(adm)
		}
		rep, err = s.closeOut(ctx, adm, co)
		return err
	})
	s.metrics.ObserveOperation(op, start, err)
	if err != nil {
		return nil, err
	}

	ev := s.logger.Info().
		Str("admission_id", admissionID.String()).
		Str("status", co.status).
		Str("invoice_status", rep.result.InvoiceStatus)
	if replay {
		ev.Msg("admission already closed out; returning stored snapshot")
		return rep.result, nil
	}
	s.warnMissing(admissionID, rep.billed)
	s.metrics.RecordSync(rep.sync.Inserted, rep.sync.Updated, rep.sync.Unchanged, rep.sync.Pruned)
	s.metrics.RecordCloseOut(co.status, rep.result.InvoiceStatus)
	ev.Str("net_total", rep.result.NetTotal.String()).Int("pruned", rep.sync.Pruned).Msg("admission closed out")
	return rep.result, nil
}

func (s *Service) closeOut(ctx context.Context, adm *Admission, co closeOut) (*closeOutReport, error) {
	if co.at.Before(adm.AdmittedAt) {
		return nil, apperr.Validation("close-out time is before admission").
			With("admission_id", adm.ID.String()).
			With("at", co.at.Format(time.RFC3339))
	}
	rep := &closeOutReport{}

	// 1. Release the bed.
	closed, err := s.timeline.Close(ctx, adm.ID, co.at)
	if err != nil {
		return nil, err
	}
	if closed != nil {
		if err := s.beds.SetState(ctx, closed.BedID, BedVacant); err != nil {
			return nil, fmt.Errorf("vacate bed %s: %w", closed.BedID, err)
		}
	}

	// 2. Find or create the invoice.
	inv, _, err := s.sync.EnsureInvoice(ctx, adm.PatientID, adm.ID)
	if err != nil {
		return nil, err
	}

	// 3-4. Sync room days up to the stop day and refresh totals.
	missing := 0
	if co.status == StatusCancelled {
		n, err := s.sync.PruneAfter(ctx, inv, adm.ID, nil)
		if err != nil {
			return nil, err
		}
		rep.sync.Pruned = n
		if err := s.sync.RecomputeTotals(ctx, inv); err != nil {
			return nil, err
		}
		if _, err := s.sync.CancelIfEmpty(ctx, inv); err != nil {
			return nil, fmt.Errorf("cancel empty invoice %s: %w", inv.ID, err)
		}
	} else {
		from, stop := s.dayOf(adm.AdmittedAt), s.dayOf(co.at)
		history, err := s.timeline.History(ctx, adm.ID)
		if err != nil {
			return nil, fmt.Errorf("load bed history: %w", err)
		}
		var charges []billing.DayCharge
		charges, missing, err = s.charges(ctx, history, from, stop)
		if err != nil {
			return nil, err
		}
		rep.sync, err = s.sync.SyncRoomCharges(ctx, billing.SyncRequest{
			Invoice:     inv,
			AdmissionID: adm.ID,
			Charges:     charges,
			Cutoff:      &stop,
		})
		if err != nil {
			return nil, err
		}
		rep.billed = charges
	}

	// 5. Finalize when asked to, or when the policy says so.
	if inv.Status == billing.InvoiceDraft && s.cfg.AutoFinalize.decide(co.explicit, co.status == StatusDischarged, missing) {
		if err := s.sync.FinalizeInvoice(ctx, inv); err != nil {
			return nil, fmt.Errorf("finalize invoice %s: %w", inv.ID, err)
		}
	}

	// 6. Lock billing and end the stay.
	lockedAt := s.stamp(time.Time{})
	at := co.at
	adm.Status = co.status
	adm.DischargeAt = &at
	adm.CurrentBedID = nil
	adm.BillingLocked = true
	adm.BillingLockedAt = &lockedAt
	if co.lockedBy != "" {
		by := co.lockedBy
		adm.BillingLockedBy = &by
	}
	if err := s.admissions.Update(ctx, adm); err != nil {
		return nil, fmt.Errorf("lock admission %s: %w", adm.ID, err)
	}

	rep.result = result(adm, inv)
	return rep, nil
}

// snapshot rebuilds the result of an earlier close-out from stored state.
func (s *Service) snapshot(ctx context.Context, adm *Admission) (*FinalizeResult, error) {
	inv, err := s.invoices.LatestByAdmission(ctx, adm.ID)
	if err != nil {
		return nil, fmt.Errorf("find invoice for admission %s: %w", adm.ID, err)
	}
	return result(adm, inv), nil
}

func result(adm *Admission, inv *billing.Invoice) *FinalizeResult {
	r := &FinalizeResult{
		AdmissionID:   adm.ID,
		Status:        adm.Status,
		BillingLocked: adm.BillingLocked,
	}
	if adm.DischargeAt != nil {
		t := adm.DischargeAt.UTC()
		r.DischargeAt = &t
	}
	if inv != nil {
		id := inv.ID
		r.InvoiceID = &id
		r.InvoiceStatus = inv.Status
		r.NetTotal = inv.NetTotal
		r.BalanceDue = inv.BalanceDue
	}
	return r
}
