package ipd

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/hms/hms/internal/platform/apperr"
	"github.com/hms/hms/internal/platform/db"
)

type repoPG struct{ pool *pgxpool.Pool }

func NewAdmissionRepoPG(pool *pgxpool.Pool) AdmissionRepository   { return &repoPG{pool: pool} }
func NewAssignmentRepoPG(pool *pgxpool.Pool) AssignmentRepository { return &repoPG{pool: pool} }
func NewBedRepoPG(pool *pgxpool.Pool) BedRepository               { return &repoPG{pool: pool} }

func (r *repoPG) conn(ctx context.Context) db.Querier {
	return db.Pick(ctx, r.pool)
}

// =========== Admissions ===========

const admCols = `id, patient_id, admitted_at, discharge_at, status, current_bed_id,
	billing_locked, billing_locked_at, billing_locked_by, created_at, updated_at`

func scanAdmission(row pgx.Row) (*Admission, error) {
	var a Admission
	err := row.Scan(&a.ID, &a.PatientID, &a.AdmittedAt, &a.DischargeAt, &a.Status, &a.CurrentBedID,
		&a.BillingLocked, &a.BillingLockedAt, &a.BillingLockedBy, &a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &a, nil
}

func (r *repoPG) Create(ctx context.Context, a *Admission) error {
	a.ID = uuid.New()
	if a.Status == "" {
		a.Status = StatusAdmitted
	}
	return r.conn(ctx).QueryRow(ctx, `
		INSERT INTO admission (id, patient_id, admitted_at, status, current_bed_id)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING created_at, updated_at`,
		a.ID, a.PatientID, a.AdmittedAt, a.Status, a.CurrentBedID,
	).Scan(&a.CreatedAt, &a.UpdatedAt)
}

func (r *repoPG) getAdmission(ctx context.Context, id uuid.UUID, lock string) (*Admission, error) {
	a, err := scanAdmission(r.conn(ctx).QueryRow(ctx, `SELECT `+admCols+` FROM admission WHERE id = $1`+lock, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperr.NotFound("admission", id.String())
	}
	return a, err
}

func (r *repoPG) GetByID(ctx context.Context, id uuid.UUID) (*Admission, error) {
	return r.getAdmission(ctx, id, "")
}

func (r *repoPG) GetForUpdate(ctx context.Context, id uuid.UUID) (*Admission, error) {
	return r.getAdmission(ctx, id, " FOR UPDATE")
}

func (r *repoPG) Update(ctx context.Context, a *Admission) error {
	return r.conn(ctx).QueryRow(ctx, `
		UPDATE admission SET discharge_at=$2, status=$3, current_bed_id=$4,
			billing_locked=$5, billing_locked_at=$6, billing_locked_by=$7, updated_at=NOW()
		WHERE id = $1
		RETURNING updated_at`,
		a.ID, a.DischargeAt, a.Status, a.CurrentBedID,
		a.BillingLocked, a.BillingLockedAt, a.BillingLockedBy,
	).Scan(&a.UpdatedAt)
}

func (r *repoPG) List(ctx context.Context, f AdmissionFilter, limit, offset int) ([]*Admission, int, error) {
	var (
		where []string
		args  []interface{}
	)
	if f.PatientID != nil {
		args = append(args, *f.PatientID)
		where = append(where, fmt.Sprintf("patient_id = $%d", len(args)))
	}
	if f.Status != "" {
		args = append(args, f.Status)
		where = append(where, fmt.Sprintf("status = $%d", len(args)))
	}
	clause := ""
	if len(where) > 0 {
		clause = " WHERE " + strings.Join(where, " AND ")
	}

	var total int
	if err := r.conn(ctx).QueryRow(ctx, `SELECT COUNT(*) FROM admission`+clause, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	args = append(args, limit, offset)
	rows, err := r.conn(ctx).Query(ctx, fmt.Sprintf(`SELECT `+admCols+` FROM admission`+clause+
		` ORDER BY admitted_at DESC, id LIMIT $%d OFFSET $%d`, len(args)-1, len(args)), args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var out []*Admission
	for rows.Next() {
		a, err := scanAdmission(rows)
		if err != nil {
			return nil, 0, err
		}
		out = append(out, a)
	}
	return out, total, rows.Err()
}

// =========== Bed assignments ===========

const asgCols = `a.id, a.admission_id, a.bed_id, a.from_ts, a.to_ts, COALESCE(a.reason, ''), a.created_at,
	COALESCE(rm.room_type, ''), COALESCE(b.code, '')`

const asgFrom = ` FROM bed_assignment a
	LEFT JOIN bed b ON b.id = a.bed_id
	LEFT JOIN room rm ON rm.id = b.room_id`

func scanAssignment(row pgx.Row) (*BedAssignment, error) {
	var a BedAssignment
	err := row.Scan(&a.ID, &a.AdmissionID, &a.BedID, &a.FromTS, &a.ToTS, &a.Reason, &a.CreatedAt,
		&a.RoomType, &a.BedCode)
	if err != nil {
		return nil, err
	}
	return &a, nil
}

func (r *repoPG) Insert(ctx context.Context, a *BedAssignment) error {
	return r.conn(ctx).QueryRow(ctx, `
		INSERT INTO bed_assignment (id, admission_id, bed_id, from_ts, to_ts, reason)
		VALUES ($1, $2, $3, $4, $5, NULLIF($6, ''))
		RETURNING created_at`,
		a.ID, a.AdmissionID, a.BedID, a.FromTS, a.ToTS, a.Reason,
	).Scan(&a.CreatedAt)
}

func (r *repoPG) GetOpen(ctx context.Context, admissionID uuid.UUID) (*BedAssignment, error) {
	a, err := scanAssignment(r.conn(ctx).QueryRow(ctx, `SELECT `+asgCols+asgFrom+`
		WHERE a.admission_id = $1 AND a.to_ts IS NULL
		FOR UPDATE OF a`, admissionID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	return a, err
}

func (r *repoPG) SetEnd(ctx context.Context, id uuid.UUID, at time.Time) error {
	tag, err := r.conn(ctx).Exec(ctx, `UPDATE bed_assignment SET to_ts = $2 WHERE id = $1`, id, at)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return apperr.NotFound("bed assignment", id.String())
	}
	return nil
}

func (r *repoPG) ListByAdmission(ctx context.Context, admissionID uuid.UUID) ([]*BedAssignment, error) {
	rows, err := r.conn(ctx).Query(ctx, `SELECT `+asgCols+asgFrom+`
		WHERE a.admission_id = $1
		ORDER BY a.from_ts, a.id`, admissionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*BedAssignment
	for rows.Next() {
		a, err := scanAssignment(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// =========== Beds ===========

const bedQuery = `SELECT b.id, b.code, b.state, rm.room_type, w.name
	FROM bed b
	JOIN room rm ON rm.id = b.room_id
	JOIN ward w ON w.id = rm.ward_id
	WHERE b.id = $1`

func (r *repoPG) getBed(ctx context.Context, id uuid.UUID, lock string) (*BedInfo, error) {
	var b BedInfo
	err := r.conn(ctx).QueryRow(ctx, bedQuery+lock, id).Scan(&b.ID, &b.Code, &b.State, &b.RoomType, &b.WardName)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperr.NotFound("bed", id.String())
	}
	if err != nil {
		return nil, err
	}
	return &b, nil
}

func (r *repoPG) GetBed(ctx context.Context, id uuid.UUID) (*BedInfo, error) {
	return r.getBed(ctx, id, "")
}

func (r *repoPG) GetBedForUpdate(ctx context.Context, id uuid.UUID) (*BedInfo, error) {
	return r.getBed(ctx, id, " FOR UPDATE OF b")
}

func (r *repoPG) SetState(ctx context.Context, id uuid.UUID, state string) error {
	tag, err := r.conn(ctx).Exec(ctx, `UPDATE bed SET state = $2, updated_at = NOW() WHERE id = $1`, id, state)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return apperr.NotFound("bed", id.String())
	}
	return nil
}
