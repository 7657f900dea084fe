package ipd

import (
	"bytes"
	"context"
	"fmt"
	"time"

	"github.com/golang-sql/civil"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/hms/hms/internal/domain/billing"
	"github.com/hms/hms/internal/domain/tariff"
	"github.com/hms/hms/internal/platform/apperr"
	"github.com/hms/hms/internal/platform/telemetry"
)

type TxManager interface {
	InTx(ctx context.Context, fn func(ctx context.Context) error) error
}

// Service runs admissions through the ward: admit, transfer, corrections,
// room charge preview and sync, and the close-outs that lock billing.
type Service struct {
	admissions AdmissionRepository
	beds       BedRepository
	timeline   *Timeline
	rates      *tariff.Resolver
	invoices   billing.Repository
	sync       *billing.Synchronizer
	tx         TxManager
	cfg        Config
	metrics    *telemetry.Metrics
	logger     zerolog.Logger
	now        func() time.Time
}

func NewService(
	admissions AdmissionRepository,
	assignments AssignmentRepository,
	beds BedRepository,
	rates *tariff.Resolver,
	invoices billing.Repository,
	tx TxManager,
	cfg Config,
	logger zerolog.Logger,
) *Service {
	if cfg.AutoFinalize == "" {
		cfg.AutoFinalize = FinalizeManual
	}
	s := &Service{
		admissions: admissions,
		beds:       beds,
		timeline:   NewTimeline(assignments),
		rates:      rates,
		invoices:   invoices,
		tx:         tx,
		cfg:        cfg,
		logger:     logger.With().Str("component", "ipd").Logger(),
		now:        time.Now,
	}
	s.sync = billing.NewSynchronizer(invoices, billingLocks{admissions}, cfg.DefaultTaxRate)
	return s
}

// SetMetrics attaches optional instrumentation.
func (s *Service) SetMetrics(m *telemetry.Metrics) {
	s.metrics = m
}

// Synchronizer is shared with the invoice service so both use the same
// tax rate and lock check.
func (s *Service) Synchronizer() *billing.Synchronizer {
	return s.sync
}

type billingLocks struct{ repo AdmissionRepository }

func (b billingLocks) IsBillingLocked(ctx context.Context, admissionID uuid.UUID) (bool, error) {
	a, err := b.repo.GetByID(ctx, admissionID)
	if err != nil {
		return false, err
	}
	return a.BillingLocked, nil
}

func (s *Service) loc() *time.Location { return s.cfg.location() }

func (s *Service) dayOf(t time.Time) civil.Date {
	return civil.DateOf(t.In(s.loc()))
}

func (s *Service) stamp(t time.Time) time.Time {
	if t.IsZero() {
		t = s.now()
	}
	return t.UTC().Truncate(time.Microsecond)
}

func terminalConflict(a *Admission) error {
	return apperr.Conflict("admission is %s", a.Status).With("admission_id", a.ID.String())
}

func lockedConflict(a *Admission) error {
	return apperr.Conflict("admission billing is locked").With("admission_id", a.ID.String())
}

// =========== Admissions ===========

func (s *Service) GetAdmission(ctx context.Context, id uuid.UUID) (*Admission, error) {
	return s.admissions.GetByID(ctx, id)
}

func (s *Service) ListAdmissions(ctx context.Context, f AdmissionFilter, limit, offset int) ([]*Admission, int, error) {
	if f.Status != "" && f.Status != StatusAdmitted && f.Status != StatusDischarged && !specialStatuses[f.Status] {
		return nil, 0, apperr.Validation("invalid status: %s", f.Status)
	}
	return s.admissions.List(ctx, f, limit, offset)
}

func (s *Service) ListAssignments(ctx context.Context, admissionID uuid.UUID) ([]*BedAssignment, error) {
	if _, err := s.admissions.GetByID(ctx, admissionID); err != nil {
		return nil, err
	}
	return s.timeline.History(ctx, admissionID)
}

// Admit places a patient in a bed and opens the stay.
func (s *Service) Admit(ctx context.Context, req AdmitRequest) (*Admission, error) {
	if req.PatientID == uuid.Nil {
		return nil, apperr.Validation("patient_id is required")
	}
	if req.BedID == uuid.Nil {
		return nil, apperr.Validation("bed_id is required")
	}
	at := s.stamp(req.AdmittedAt)
	reason := req.Reason
	if reason == "" {
		reason = "admission"
	}

	var adm *Admission
	err := s.tx.InTx(ctx, func(ctx context.Context) error {
		bed, err := s.beds.GetBedForUpdate(ctx, req.BedID)
		if err != nil {
			return err
		}
		if !bed.Assignable() {
			return apperr.Conflict("bed %s is %s", bed.Code, bed.State).With("bed_id", bed.ID.String())
		}

		bedID := bed.ID
		adm = &Admission{
			PatientID:    req.PatientID,
			AdmittedAt:   at,
			Status:       StatusAdmitted,
			CurrentBedID: &bedID,
		}
		if err := s.admissions.Create(ctx, adm); err != nil {
			return fmt.Errorf("create admission: %w", err)
		}
		if _, err := s.timeline.Open(ctx, adm.ID, bed.ID, reason, at); err != nil {
			return err
		}
		if err := s.beds.SetState(ctx, bed.ID, BedOccupied); err != nil {
			return fmt.Errorf("occupy bed %s: %w", bed.Code, err)
		}
		if s.cfg.AutoCreateInvoice {
			if _, _, err := s.sync.EnsureInvoice(ctx, adm.PatientID, adm.ID); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.logger.Info().Str("admission_id", adm.ID.String()).Str("bed_id", req.BedID.String()).Msg("patient admitted")
	return adm, nil
}

// Transfer moves an admitted patient to another bed at req.At.
func (s *Service) Transfer(ctx context.Context, admissionID uuid.UUID, req TransferRequest) (*BedAssignment, error) {
	if req.BedID == uuid.Nil {
		return nil, apperr.Validation("bed_id is required")
	}
	at := s.stamp(req.At)
	reason := req.Reason
	if reason == "" {
		reason = "transfer"
	}

	var opened *BedAssignment
	err := s.tx.InTx(ctx, func(ctx context.Context) error {
		adm, err := s.admissions.GetForUpdate(ctx, admissionID)
		if err != nil {
			return err
		}
		if adm.Terminal() {
			return terminalConflict(adm)
		}
		if adm.BillingLocked {
			return lockedConflict(adm)
		}
		if adm.CurrentBedID != nil && *adm.CurrentBedID == req.BedID {
			return apperr.Validation("patient is already in this bed").With("bed_id", req.BedID.String())
		}

		// Lock beds in id order so two crossing transfers cannot deadlock.
		ids := []uuid.UUID{req.BedID}
		if adm.CurrentBedID != nil {
			ids = append(ids, *adm.CurrentBedID)
			if bytes.Compare(ids[0][:], ids[1][:]) > 0 {
				ids[0], ids[1] = ids[1], ids[0]
			}
		}
		var target *BedInfo
		for _, id := range ids {
			b, err := s.beds.GetBedForUpdate(ctx, id)
			if err != nil {
				return err
			}
			if id == req.BedID {
				target = b
			}
		}
		if !target.Assignable() {
			return apperr.Conflict("bed %s is %s", target.Code, target.State).With("bed_id", target.ID.String())
		}

		closed, err := s.timeline.Close(ctx, adm.ID, at)
		if err != nil {
			return err
		}
		if closed != nil {
			if err := s.beds.SetState(ctx, closed.BedID, BedVacant); err != nil {
				return fmt.Errorf("vacate bed %s: %w", closed.BedID, err)
			}
		}
		opened, err = s.timeline.Open(ctx, adm.ID, target.ID, reason, at)
		if err != nil {
			return err
		}
		opened.RoomType, opened.BedCode = target.RoomType, target.Code
		if err := s.beds.SetState(ctx, target.ID, BedOccupied); err != nil {
			return fmt.Errorf("occupy bed %s: %w", target.Code, err)
		}
		bedID := target.ID
		adm.CurrentBedID = &bedID
		return s.admissions.Update(ctx, adm)
	})
	if err != nil {
		return nil, err
	}
	s.logger.Info().Str("admission_id", admissionID.String()).Str("bed_id", req.BedID.String()).Msg("patient transferred")
	return opened, nil
}

// RecordCorrection back-fills a closed interval in the bed history.
func (s *Service) RecordCorrection(ctx context.Context, admissionID uuid.UUID, req CorrectionRequest) (*BedAssignment, error) {
	if req.BedID == uuid.Nil {
		return nil, apperr.Validation("bed_id is required")
	}
	if req.From.IsZero() || req.To.IsZero() {
		return nil, apperr.Validation("from_ts and to_ts are required").With("bed_id", req.BedID.String())
	}
	from, to := s.stamp(req.From), s.stamp(req.To)
	reason := req.Reason
	if reason == "" {
		reason = "correction"
	}

	var rec *BedAssignment
	err := s.tx.InTx(ctx, func(ctx context.Context) error {
		adm, err := s.admissions.GetForUpdate(ctx, admissionID)
		if err != nil {
			return err
		}
		if adm.BillingLocked {
			return lockedConflict(adm)
		}
		if from.Before(adm.AdmittedAt) {
			return apperr.Validation("correction starts before admission").
				With("admission_id", adm.ID.String()).
				With("from_ts", from.Format(time.RFC3339))
		}
		bed, err := s.beds.GetBed(ctx, req.BedID)
		if err != nil {
			return err
		}
		rec, err = s.timeline.RecordCorrection(ctx, adm.ID, bed.ID, from, to, reason)
		if err != nil {
			return err
		}
		rec.RoomType, rec.BedCode = bed.RoomType, bed.Code
		return nil
	})
	if err != nil {
		return nil, err
	}
	return rec, nil
}

// =========== Room charges ===========

// charges buckets the history over [from, to] and prices each day.
func (s *Service) charges(ctx context.Context, history []*BedAssignment, from, to civil.Date) ([]billing.DayCharge, int, error) {
	session := s.rates.Session()
	buckets := BucketDays(history, from, to, s.loc())
	out := make([]billing.DayCharge, 0, len(buckets))
	missing := 0
	for _, b := range buckets {
		res, err := session.Resolve(ctx, b.RoomType, b.Day)
		if err != nil {
			return nil, 0, fmt.Errorf("resolve rate for %s on %s: %w", b.RoomType, b.Day, err)
		}
		if res.Missing() {
			missing++
		}
		out = append(out, billing.DayCharge{
			Day:          b.Day,
			AssignmentID: b.AssignmentID,
			BedID:        b.BedID,
			RoomType:     res.RoomType,
			BedLabel:     b.BedCode,
			UnitPrice:    res.Amount(),
			RateMissing:  res.Missing(),
		})
	}
	return out, missing, nil
}

func (s *Service) warnMissing(admissionID uuid.UUID, charges []billing.DayCharge) {
	for _, ch := range charges {
		if !ch.RateMissing {
			continue
		}
		s.metrics.RecordMissingRate(ch.RoomType)
		s.logger.Warn().
			Str("admission_id", admissionID.String()).
			Str("day", ch.Day.String()).
			Str("room_type", ch.RoomType).
			Str("bed_id", ch.BedID.String()).
			Msg("no bed rate configured; day billed at zero")
	}
}

// maxPreviewDays bounds the range a single preview may price.
const maxPreviewDays = 731

// Preview prices the stay over [from, to] without writing anything. from
// defaults to the admission day and to to the discharge day, or today. The
// range is clipped to the stay.
func (s *Service) Preview(ctx context.Context, admissionID uuid.UUID, from, to *civil.Date) (*Preview, error) {
	adm, err := s.admissions.GetByID(ctx, admissionID)
	if err != nil {
		return nil, err
	}
	admitDay := s.dayOf(adm.AdmittedAt)
	start := admitDay
	if from != nil {
		start = *from
	}
	end := s.dayOf(s.now())
	if adm.DischargeAt != nil {
		end = s.dayOf(*adm.DischargeAt)
	}
	if to != nil {
		end = *to
	}
	if end.Before(start) {
		return nil, apperr.Validation("to date is before from date").
			With("from", start.String()).
			With("to", end.String())
	}

	if start.Before(admitDay) {
		start = admitDay
	}
	if adm.DischargeAt != nil {
		if last := s.dayOf(*adm.DischargeAt); end.After(last) {
			end = last
		}
	}
	if end.Before(start) {
		return nil, apperr.Validation("range does not overlap the stay").
			With("admission_id", admissionID.String()).
			With("to", end.String())
	}
	if end.DaysSince(start) >= maxPreviewDays {
		return nil, apperr.Validation("preview range exceeds %d days", maxPreviewDays).
			With("from", start.String()).
			With("to", end.String())
	}

	history, err := s.timeline.History(ctx, admissionID)
	if err != nil {
		return nil, fmt.Errorf("load bed history: %w", err)
	}
	charges, missing, err := s.charges(ctx, history, start, end)
	if err != nil {
		return nil, err
	}

	p := &Preview{
		AdmissionID:     admissionID,
		From:            start,
		To:              end,
		Days:            make([]PreviewDay, 0, len(charges)),
		TotalAmount:     decimal.Zero,
		MissingRateDays: missing,
	}
	for _, ch := range charges {
		p.Days = append(p.Days, PreviewDay{
			Date:         ch.Day,
			BedID:        ch.BedID,
			BedCode:      ch.BedLabel,
			RoomType:     ch.RoomType,
			Rate:         ch.UnitPrice,
			RateMissing:  ch.RateMissing,
			AssignmentID: ch.AssignmentID,
		})
		p.TotalAmount = p.TotalAmount.Add(ch.UnitPrice)
	}
	p.TotalAmount = p.TotalAmount.Round(2)
	return p, nil
}

// SyncRoomCharges brings the draft invoice up to date for the stay so far,
// from the admission day through today.
func (s *Service) SyncRoomCharges(ctx context.Context, admissionID uuid.UUID) (*SyncOutcome, error) {
	start := time.Now()
	var (
		out    *SyncOutcome
		billed []billing.DayCharge
	)
	err := s.tx.InTx(ctx, func(ctx context.Context) error {
		adm, err := s.admissions.GetForUpdate(ctx, admissionID)
		if err != nil {
			return err
		}
		if adm.BillingLocked {
			return lockedConflict(adm)
		}
		from := s.dayOf(adm.AdmittedAt)
		to := s.dayOf(s.now())
		if adm.DischargeAt != nil {
			to = s.dayOf(*adm.DischargeAt)
		}
		if to.Before(from) {
			to = from
		}

		inv, _, err := s.sync.EnsureInvoice(ctx, adm.PatientID, adm.ID)
		if err != nil {
			return err
		}
		history, err := s.timeline.History(ctx, adm.ID)
		if err != nil {
			return fmt.Errorf("load bed history: %w", err)
		}
		charges, missing, err := s.charges(ctx, history, from, to)
		if err != nil {
			return err
		}
		res, err := s.sync.SyncRoomCharges(ctx, billing.SyncRequest{
			Invoice:     inv,
			AdmissionID: adm.ID,
			Charges:     charges,
			Cutoff:      &to,
		})
		if err != nil {
			return err
		}
		billed = charges
		out = &SyncOutcome{
			AdmissionID:     adm.ID,
			InvoiceID:       inv.ID,
			From:            from,
			To:              to,
			Inserted:        res.Inserted,
			Updated:         res.Updated,
			Unchanged:       res.Unchanged,
			Pruned:          res.Pruned,
			MissingRateDays: missing,
			NetTotal:        inv.NetTotal,
		}
		return nil
	})
	s.metrics.ObserveOperation("sync", start, err)
	if err != nil {
		return nil, err
	}
	s.warnMissing(admissionID, billed)
	s.metrics.RecordSync(out.Inserted, out.Updated, out.Unchanged, out.Pruned)
	s.logger.Info().
		Str("admission_id", admissionID.String()).
		Int("inserted", out.Inserted).
		Int("updated", out.Updated).
		Int("pruned", out.Pruned).
		Int("missing_rate_days", out.MissingRateDays).
		Msg("room charges synced")
	return out, nil
}
