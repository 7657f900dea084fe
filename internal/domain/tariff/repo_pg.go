package tariff

import (
	"context"
	"errors"
	"time"

	"github.com/golang-sql/civil"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/hms/hms/internal/platform/apperr"
	"github.com/hms/hms/internal/platform/db"
)

type rateRepoPG struct{ pool *pgxpool.Pool }

func NewRepoPG(pool *pgxpool.Pool) Repository { return &rateRepoPG{pool: pool} }

func (r *rateRepoPG) conn(ctx context.Context) db.Querier {
	return db.Pick(ctx, r.pool)
}

const rateCols = `id, room_type, daily_rate, effective_from, effective_to, is_active, created_at, updated_at`

func scanRate(row pgx.Row) (*BedRate, error) {
	var (
		b    BedRate
		from time.Time
		to   *time.Time
	)
	if err := row.Scan(&b.ID, &b.RoomType, &b.DailyRate, &from, &to, &b.IsActive, &b.CreatedAt, &b.UpdatedAt); err != nil {
		return nil, err
	}
	b.EffectiveFrom = civil.DateOf(from)
	if to != nil {
		d := civil.DateOf(*to)
		b.EffectiveTo = &d
	}
	return &b, nil
}

func dateArg(d *civil.Date) *time.Time {
	if d == nil {
		return nil
	}
	t := d.In(time.UTC)
	return &t
}

func (r *rateRepoPG) Create(ctx context.Context, b *BedRate) error {
	if b.ID == uuid.Nil {
		b.ID = uuid.New()
	}
	return r.conn(ctx).QueryRow(ctx, `
		INSERT INTO bed_rate (id, room_type, daily_rate, effective_from, effective_to, is_active)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING created_at, updated_at`,
		b.ID, b.RoomType, b.DailyRate, b.EffectiveFrom.In(time.UTC), dateArg(b.EffectiveTo), b.IsActive,
	).Scan(&b.CreatedAt, &b.UpdatedAt)
}

func (r *rateRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*BedRate, error) {
	b, err := scanRate(r.conn(ctx).QueryRow(ctx, `SELECT `+rateCols+` FROM bed_rate WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperr.NotFound("bed_rate", id.String())
	}
	return b, err
}

func (r *rateRepoPG) Update(ctx context.Context, b *BedRate) error {
	tag, err := r.conn(ctx).Exec(ctx, `
		UPDATE bed_rate SET room_type=$2, daily_rate=$3, effective_from=$4, effective_to=$5,
			is_active=$6, updated_at=NOW()
		WHERE id = $1`,
		b.ID, b.RoomType, b.DailyRate, b.EffectiveFrom.In(time.UTC), dateArg(b.EffectiveTo), b.IsActive)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return apperr.NotFound("bed_rate", b.ID.String())
	}
	return nil
}

func (r *rateRepoPG) ListActiveByRoomType(ctx context.Context, roomType string) ([]*BedRate, error) {
	rows, err := r.conn(ctx).Query(ctx, `SELECT `+rateCols+` FROM bed_rate
		WHERE room_type = $1 AND is_active
		ORDER BY effective_from DESC, created_at DESC, id DESC`, roomType)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []*BedRate
	for rows.Next() {
		b, err := scanRate(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, b)
	}
	return items, rows.Err()
}

func (r *rateRepoPG) List(ctx context.Context, f ListFilter, limit, offset int) ([]*BedRate, int, error) {
	where := ` WHERE ($1 = '' OR room_type = $1) AND (NOT $2 OR is_active)`
	var total int
	if err := r.conn(ctx).QueryRow(ctx, `SELECT COUNT(*) FROM bed_rate`+where, f.RoomType, f.ActiveOnly).Scan(&total); err != nil {
		return nil, 0, err
	}
	rows, err := r.conn(ctx).Query(ctx, `SELECT `+rateCols+` FROM bed_rate`+where+`
		ORDER BY room_type, effective_from DESC LIMIT $3 OFFSET $4`, f.RoomType, f.ActiveOnly, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	var items []*BedRate
	for rows.Next() {
		b, err := scanRate(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, b)
	}
	return items, total, rows.Err()
}
