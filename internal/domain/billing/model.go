package billing

import (
	"time"

	"github.com/golang-sql/civil"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

const (
	InvoiceDraft     = "draft"
	InvoiceFinalized = "finalized"
	InvoiceCancelled = "cancelled"
)

// ServiceRoom is the service type of the per-day bed charge lines owned by
// the synchronizer.
const ServiceRoom = "ROOM"

type Invoice struct {
	ID          uuid.UUID       `json:"id"`
	PatientID   uuid.UUID       `json:"patient_id"`
	AdmissionID *uuid.UUID      `json:"admission_id,omitempty"`
	Status      string          `json:"status"`
	GrossTotal  decimal.Decimal `json:"gross_total"`
	TaxTotal    decimal.Decimal `json:"tax_total"`
	NetTotal    decimal.Decimal `json:"net_total"`
	AmountPaid  decimal.Decimal `json:"amount_paid"`
	BalanceDue  decimal.Decimal `json:"balance_due"`
	FinalizedAt *time.Time      `json:"finalized_at,omitempty"`
	CreatedAt   time.Time       `json:"created_at"`
	UpdatedAt   time.Time       `json:"updated_at"`
}

// Mutable reports whether lines may still be added or changed.
func (i *Invoice) Mutable() bool {
	return i.Status == InvoiceDraft
}

type InvoiceLine struct {
	ID          uuid.UUID       `json:"id"`
	InvoiceID   uuid.UUID       `json:"invoice_id"`
	AdmissionID *uuid.UUID      `json:"admission_id,omitempty"`
	ServiceType string          `json:"service_type"`
	NaturalKey  string          `json:"natural_key"`
	Description string          `json:"description"`
	RoomType    *string         `json:"room_type,omitempty"`
	BedID       *uuid.UUID      `json:"bed_id,omitempty"`
	ServiceDate *civil.Date     `json:"service_date,omitempty"`
	Qty         decimal.Decimal `json:"qty"`
	UnitPrice   decimal.Decimal `json:"unit_price"`
	TaxRate     decimal.Decimal `json:"tax_rate"`
	TaxAmount   decimal.Decimal `json:"tax_amount"`
	LineTotal   decimal.Decimal `json:"line_total"`
	RateMissing bool            `json:"rate_missing"`
	IsVoided    bool            `json:"is_voided"`
	CreatedAt   time.Time       `json:"created_at"`
	UpdatedAt   time.Time       `json:"updated_at"`
}

// LineKey is the idempotency key of an invoice line. Admission-scoped lines
// are unique per (admission, service type, natural key); lines on an invoice
// with no admission use a nil AdmissionID and are unique per invoice.
type LineKey struct {
	AdmissionID uuid.UUID
	ServiceType string
	NaturalKey  string
}

func (k LineKey) String() string {
	return k.AdmissionID.String() + "/" + k.ServiceType + "/" + k.NaturalKey
}

// RoomKey is the key of the room line for one admission day.
func RoomKey(admissionID uuid.UUID, day civil.Date) LineKey {
	return LineKey{AdmissionID: admissionID, ServiceType: ServiceRoom, NaturalKey: day.String()}
}

// Key returns the line's idempotency key.
func (l *InvoiceLine) Key() LineKey {
	k := LineKey{ServiceType: l.ServiceType, NaturalKey: l.NaturalKey}
	if l.AdmissionID != nil {
		k.AdmissionID = *l.AdmissionID
	}
	return k
}

var hundred = decimal.NewFromInt(100)

// Price returns the tax and line total for qty units at unit with a
// percentage tax rate, both rounded half away from zero to two places.
func Price(unit, qty, taxRate decimal.Decimal) (tax, total decimal.Decimal) {
	base := unit.Mul(qty)
	tax = base.Mul(taxRate).Div(hundred).Round(2)
	total = base.Add(tax).Round(2)
	return tax, total
}

func (l *InvoiceLine) reprice() {
	l.TaxAmount, l.LineTotal = Price(l.UnitPrice, l.Qty, l.TaxRate)
}

// Totals are the invoice header amounts derived from its lines.
type Totals struct {
	Gross      decimal.Decimal
	Tax        decimal.Decimal
	Net        decimal.Decimal
	BalanceDue decimal.Decimal
}

// ComputeTotals sums the non-voided lines: gross is unit·qty, net is gross
// plus tax, and the balance is net less what has been paid.
func ComputeTotals(lines []*InvoiceLine, paid decimal.Decimal) Totals {
	var t Totals
	for _, l := range lines {
		if l.IsVoided {
			continue
		}
		t.Gross = t.Gross.Add(l.UnitPrice.Mul(l.Qty))
		t.Tax = t.Tax.Add(l.TaxAmount)
	}
	t.Gross = t.Gross.Round(2)
	t.Tax = t.Tax.Round(2)
	t.Net = t.Gross.Add(t.Tax)
	t.BalanceDue = t.Net.Sub(paid).Round(2)
	return t
}

// DayCharge is one billable bed-day produced from the assignment timeline
// and the tariff master.
type DayCharge struct {
	Day          civil.Date
	AssignmentID uuid.UUID
	BedID        uuid.UUID
	RoomType     string
	BedLabel     string
	UnitPrice    decimal.Decimal
	RateMissing  bool
}

// ServiceCharge is a one-shot charge from another department, e.g. a lab
// order or an OT procedure, identified by its natural reference.
type ServiceCharge struct {
	ServiceType string           `json:"service_type"`
	NaturalRef  string           `json:"natural_ref"`
	Description string           `json:"description"`
	ServiceDate *civil.Date      `json:"service_date,omitempty"`
	Qty         decimal.Decimal  `json:"qty"`
	UnitPrice   decimal.Decimal  `json:"unit_price"`
	TaxRate     *decimal.Decimal `json:"tax_rate,omitempty"`
}
