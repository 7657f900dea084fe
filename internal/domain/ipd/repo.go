package ipd

import (
	"context"
	"time"

	"github.com/google/uuid"
)

type AdmissionFilter struct {
	PatientID *uuid.UUID
	Status    string
}

type AdmissionRepository interface {
	Create(ctx context.Context, a *Admission) error
	GetByID(ctx context.Context, id uuid.UUID) (*Admission, error)
	// GetForUpdate locks the admission row for the rest of the transaction.
	GetForUpdate(ctx context.Context, id uuid.UUID) (*Admission, error)
	Update(ctx context.Context, a *Admission) error
	List(ctx context.Context, f AdmissionFilter, limit, offset int) ([]*Admission, int, error)
}

type AssignmentRepository interface {
	Insert(ctx context.Context, a *BedAssignment) error
	// GetOpen returns the admission's open assignment, row-locked, or nil.
	GetOpen(ctx context.Context, admissionID uuid.UUID) (*BedAssignment, error)
	SetEnd(ctx context.Context, id uuid.UUID, at time.Time) error
	// ListByAdmission returns every assignment with its room type and bed
	// code, ordered by from_ts then id.
	ListByAdmission(ctx context.Context, admissionID uuid.UUID) ([]*BedAssignment, error)
}

type BedRepository interface {
	GetBed(ctx context.Context, id uuid.UUID) (*BedInfo, error)
	GetBedForUpdate(ctx context.Context, id uuid.UUID) (*BedInfo, error)
	SetState(ctx context.Context, id uuid.UUID, state string) error
}
