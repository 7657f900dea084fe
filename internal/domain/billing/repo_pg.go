package billing

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

type repoPG struct{ pool *pgxpool.Pool }

func NewRepoPG(pool *pgxpool.Pool) Repository { return &repoPG{pool: pool} }

func (r *repoPG) conn(ctx context.Context) db.Querier {
	return db.Pick(ctx, r.pool)
}

// =========== Invoices ===========

const invCols = `id, patient_id, admission_id, status, gross_total, tax_total, net_total,
	amount_paid, balance_due, finalized_at, created_at, updated_at`

func scanInvoice(row pgx.Row) (*Invoice, error) {
	var inv Invoice
	err := row.Scan(&inv.ID, &inv.PatientID, &inv.AdmissionID, &inv.Status,
		&inv.GrossTotal, &inv.TaxTotal, &inv.NetTotal, &inv.AmountPaid, &inv.BalanceDue,
		&inv.FinalizedAt, &inv.CreatedAt, &inv.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &inv, nil
}

func (r *repoPG) CreateInvoice(ctx context.Context, inv *Invoice) error {
	inv.ID = uuid.New()
	if inv.Status == "" {
		inv.Status = InvoiceDraft
	}
	return r.conn(ctx).QueryRow(ctx, `
		INSERT INTO invoice (id, patient_id, admission_id, status, gross_total, tax_total, net_total, amount_paid, balance_due)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING created_at, updated_at`,
		inv.ID, inv.PatientID, inv.AdmissionID, inv.Status,
		inv.GrossTotal, inv.TaxTotal, inv.NetTotal, inv.AmountPaid, inv.BalanceDue,
	).Scan(&inv.CreatedAt, &inv.UpdatedAt)
}

func (r *repoPG) getInvoice(ctx context.Context, id uuid.UUID, lock string) (*Invoice, error) {
	inv, err := scanInvoice(r.conn(ctx).QueryRow(ctx, `SELECT `+invCols+` FROM invoice WHERE id = $1`+lock, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperr.NotFound("invoice", id.String())
	}
	return inv, err
}

func (r *repoPG) GetInvoice(ctx context.Context, id uuid.UUID) (*Invoice, error) {
	return r.getInvoice(ctx, id, "")
}

func (r *repoPG) GetInvoiceForUpdate(ctx context.Context, id uuid.UUID) (*Invoice, error) {
	return r.getInvoice(ctx, id, " FOR UPDATE")
}

func (r *repoPG) FindActiveByAdmission(ctx context.Context, admissionID uuid.UUID) (*Invoice, error) {
	inv, err := scanInvoice(r.conn(ctx).QueryRow(ctx, `SELECT `+invCols+` FROM invoice
		WHERE admission_id = $1 AND status <> 'cancelled'
		ORDER BY created_at DESC LIMIT 1 FOR UPDATE`, admissionID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	return inv, err
}

func (r *repoPG) LatestByAdmission(ctx context.Context, admissionID uuid.UUID) (*Invoice, error) {
	inv, err := scanInvoice(r.conn(ctx).QueryRow(ctx, `SELECT `+invCols+` FROM invoice
		WHERE admission_id = $1
		ORDER BY created_at DESC, id DESC LIMIT 1`, admissionID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	return inv, err
}

func (r *repoPG) UpdateInvoice(ctx context.Context, inv *Invoice) error {
	return r.conn(ctx).QueryRow(ctx, `
		UPDATE invoice SET status=$2, gross_total=$3, tax_total=$4, net_total=$5,
			amount_paid=$6, balance_due=$7, finalized_at=$8, updated_at=NOW()
		WHERE id = $1
		RETURNING updated_at`,
		inv.ID, inv.Status, inv.GrossTotal, inv.TaxTotal, inv.NetTotal,
		inv.AmountPaid, inv.BalanceDue, inv.FinalizedAt,
	).Scan(&inv.UpdatedAt)
}

// =========== Lines ===========

const lineCols = `id, invoice_id, admission_id, service_type, natural_key, description,
	room_type, bed_id, service_date, qty, unit_price, tax_rate, tax_amount, line_total,
	rate_missing, is_voided, created_at, updated_at`

func scanLine(row pgx.Row) (*InvoiceLine, error) {
	var (
		l       InvoiceLine
		svcDate *time.Time
	)
	err := row.Scan(&l.ID, &l.InvoiceID, &l.AdmissionID, &l.ServiceType, &l.NaturalKey, &l.Description,
		&l.RoomType, &l.BedID, &svcDate, &l.Qty, &l.UnitPrice, &l.TaxRate, &l.TaxAmount, &l.LineTotal,
		&l.RateMissing, &l.IsVoided, &l.CreatedAt, &l.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if svcDate != nil {
		d := civil.DateOf(*svcDate)
		l.ServiceDate = &d
	}
	return &l, nil
}

func dateArg(d *civil.Date) *time.Time {
	if d == nil {
		return nil
	}
	t := d.In(time.UTC)
	return &t
}

// FindLine looks admission-scoped keys up across invoices: the unique index
// spans every invoice of the admission, so a day is billed once per stay.
// Cancelling an invoice removes its room lines first.
func (r *repoPG) FindLine(ctx context.Context, invoiceID uuid.UUID, key LineKey) (*InvoiceLine, error) {
	var row pgx.Row
	if key.AdmissionID != uuid.Nil {
		row = r.conn(ctx).QueryRow(ctx, `SELECT `+lineCols+` FROM invoice_line
			WHERE admission_id = $1 AND service_type = $2 AND natural_key = $3`,
			key.AdmissionID, key.ServiceType, key.NaturalKey)
	} else {
		row = r.conn(ctx).QueryRow(ctx, `SELECT `+lineCols+` FROM invoice_line
			WHERE invoice_id = $1 AND admission_id IS NULL AND service_type = $2 AND natural_key = $3`,
			invoiceID, key.ServiceType, key.NaturalKey)
	}
	l, err := scanLine(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	return l, err
}

func (r *repoPG) InsertLine(ctx context.Context, l *InvoiceLine) error {
	l.ID = uuid.New()
	return r.conn(ctx).QueryRow(ctx, `
		INSERT INTO invoice_line (id, invoice_id, admission_id, service_type, natural_key, description,
			room_type, bed_id, service_date, qty, unit_price, tax_rate, tax_amount, line_total,
			rate_missing, is_voided)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16)
		RETURNING created_at, updated_at`,
		l.ID, l.InvoiceID, l.AdmissionID, l.ServiceType, l.NaturalKey, l.Description,
		l.RoomType, l.BedID, dateArg(l.ServiceDate), l.Qty, l.UnitPrice, l.TaxRate, l.TaxAmount, l.LineTotal,
		l.RateMissing, l.IsVoided,
	).Scan(&l.CreatedAt, &l.UpdatedAt)
}

func (r *repoPG) UpdateLine(ctx context.Context, l *InvoiceLine) error {
	return r.conn(ctx).QueryRow(ctx, `
		UPDATE invoice_line SET description=$2, room_type=$3, bed_id=$4, service_date=$5,
			qty=$6, unit_price=$7, tax_rate=$8, tax_amount=$9, line_total=$10,
			rate_missing=$11, is_voided=$12, updated_at=NOW()
		WHERE id = $1
		RETURNING updated_at`,
		l.ID, l.Description, l.RoomType, l.BedID, dateArg(l.ServiceDate),
		l.Qty, l.UnitPrice, l.TaxRate, l.TaxAmount, l.LineTotal,
		l.RateMissing, l.IsVoided,
	).Scan(&l.UpdatedAt)
}

func (r *repoPG) DeleteRoomLinesAfter(ctx context.Context, invoiceID, admissionID uuid.UUID, cutoff *civil.Date) (int, error) {
	tag, err := r.conn(ctx).Exec(ctx, `
		DELETE FROM invoice_line
		WHERE invoice_id = $1 AND admission_id = $2 AND service_type = $3
			AND ($4::date IS NULL OR service_date > $4::date)`,
		invoiceID, admissionID, ServiceRoom, dateArg(cutoff))
	if err != nil {
		return 0, err
	}
	return int(tag.RowsAffected()), nil
}

func (r *repoPG) collectLines(rows pgx.Rows) ([]*InvoiceLine, error) {
	defer rows.Close()
	var items []*InvoiceLine
	for rows.Next() {
		l, err := scanLine(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, l)
	}
	return items, rows.Err()
}

func (r *repoPG) ListAllLines(ctx context.Context, invoiceID uuid.UUID) ([]*InvoiceLine, error) {
	rows, err := r.conn(ctx).Query(ctx, `SELECT `+lineCols+` FROM invoice_line
		WHERE invoice_id = $1 ORDER BY service_type, natural_key`, invoiceID)
	if err != nil {
		return nil, err
	}
	return r.collectLines(rows)
}

func (r *repoPG) ListLines(ctx context.Context, invoiceID uuid.UUID, f LineFilter, limit, offset int) ([]*InvoiceLine, int, error) {
	where := ` WHERE invoice_id = $1 AND ($2 = '' OR service_type = $2) AND ($3 OR NOT is_voided)`
	var total int
	if err := r.conn(ctx).QueryRow(ctx, `SELECT COUNT(*) FROM invoice_line`+where,
		invoiceID, f.ServiceType, f.IncludeVoided).Scan(&total); err != nil {
		return nil, 0, err
	}
	rows, err := r.conn(ctx).Query(ctx, `SELECT `+lineCols+` FROM invoice_line`+where+`
		ORDER BY service_date NULLS LAST, service_type, natural_key LIMIT $4 OFFSET $5`,
		invoiceID, f.ServiceType, f.IncludeVoided, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	items, err := r.collectLines(rows)
	return items, total, err
}
