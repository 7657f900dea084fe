package ipd

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/hms/hms/internal/platform/apperr"
)

// Timeline is the append-only bed history of admissions. It never touches
// bed state; callers flip beds in the same transaction.
type Timeline struct {
	repo  AssignmentRepository
	newID func() (uuid.UUID, error)
}

func NewTimeline(repo AssignmentRepository) *Timeline {
	return &Timeline{repo: repo, newID: uuid.NewV7}
}

// Open starts a new assignment at at. An admission may hold only one open
// assignment; close it first.
func (t *Timeline) Open(ctx context.Context, admissionID, bedID uuid.UUID, reason string, at time.Time) (*BedAssignment, error) {
	cur, err := t.repo.GetOpen(ctx, admissionID)
	if err != nil {
		return nil, fmt.Errorf("load open assignment: %w", err)
	}
	if cur != nil {
		return nil, apperr.Conflict("admission already has an open bed assignment").
			With("admission_id", admissionID.String()).
			With("assignment_id", cur.ID.String()).
			With("bed_id", cur.BedID.String())
	}
	return t.insert(ctx, admissionID, bedID, reason, at, nil)
}

// Close ends the open assignment at at and returns it, or nil when nothing
// is open.
func (t *Timeline) Close(ctx context.Context, admissionID uuid.UUID, at time.Time) (*BedAssignment, error) {
	cur, err := t.repo.GetOpen(ctx, admissionID)
	if err != nil {
		return nil, fmt.Errorf("load open assignment: %w", err)
	}
	if cur == nil {
		return nil, nil
	}
	if at.Before(cur.FromTS) {
		return nil, apperr.Validation("assignment cannot end before it started").
			With("assignment_id", cur.ID.String()).
			With("bed_id", cur.BedID.String()).
			With("from_ts", cur.FromTS.UTC().Format(time.RFC3339)).
			With("at", at.UTC().Format(time.RFC3339))
	}
	if err := t.repo.SetEnd(ctx, cur.ID, at); err != nil {
		return nil, fmt.Errorf("close assignment %s: %w", cur.ID, err)
	}
	cur.ToTS = &at
	return cur, nil
}

// RecordCorrection appends a closed, back-dated interval. Earlier rows are
// left alone; overlaps are settled when days are bucketed.
func (t *Timeline) RecordCorrection(ctx context.Context, admissionID, bedID uuid.UUID, from, to time.Time, reason string) (*BedAssignment, error) {
	if to.Before(from) {
		return nil, apperr.Validation("correction ends before it starts").
			With("bed_id", bedID.String()).
			With("from_ts", from.UTC().Format(time.RFC3339)).
			With("to_ts", to.UTC().Format(time.RFC3339))
	}
	return t.insert(ctx, admissionID, bedID, reason, from, &to)
}

func (t *Timeline) History(ctx context.Context, admissionID uuid.UUID) ([]*BedAssignment, error) {
	return t.repo.ListByAdmission(ctx, admissionID)
}

func (t *Timeline) insert(ctx context.Context, admissionID, bedID uuid.UUID, reason string, from time.Time, to *time.Time) (*BedAssignment, error) {
	id, err := t.newID()
	if err != nil {
		return nil, fmt.Errorf("generate assignment id: %w", err)
	}
	a := &BedAssignment{
		ID:          id,
		AdmissionID: admissionID,
		BedID:       bedID,
		FromTS:      from,
		ToTS:        to,
		Reason:      reason,
	}
	if err := t.repo.Insert(ctx, a); err != nil {
		return nil, fmt.Errorf("insert assignment: %w", err)
	}
	return a, nil
}
