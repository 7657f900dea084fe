package billing

import (
	"context"
	"sort"
	"time"

	"github.com/golang-sql/civil"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/hms/hms/internal/platform/apperr"
)

type mockRepo struct {
	invoices map[uuid.UUID]*Invoice
	lines    map[uuid.UUID]*InvoiceLine
	writes   int
}

func newMockRepo() *mockRepo {
	return &mockRepo{
		invoices: make(map[uuid.UUID]*Invoice),
		lines:    make(map[uuid.UUID]*InvoiceLine),
	}
}

func (m *mockRepo) CreateInvoice(_ context.Context, inv *Invoice) error {
	inv.ID = uuid.New()
	if inv.Status == "" {
		inv.Status = InvoiceDraft
	}
	inv.CreatedAt = time.Now()
	inv.UpdatedAt = inv.CreatedAt
	cp := *inv
	m.invoices[inv.ID] = &cp
	return nil
}

func (m *mockRepo) GetInvoice(_ context.Context, id uuid.UUID) (*Invoice, error) {
	inv, ok := m.invoices[id]
	if !ok {
		return nil, apperr.NotFound("invoice", id.String())
	}
	cp := *inv
	return &cp, nil
}

func (m *mockRepo) GetInvoiceForUpdate(ctx context.Context, id uuid.UUID) (*Invoice, error) {
	return m.GetInvoice(ctx, id)
}

func (m *mockRepo) FindActiveByAdmission(_ context.Context, admissionID uuid.UUID) (*Invoice, error) {
	for _, inv := range m.invoices {
		if inv.AdmissionID != nil && *inv.AdmissionID == admissionID && inv.Status != InvoiceCancelled {
			cp := *inv
			return &cp, nil
		}
	}
	return nil, nil
}

func (m *mockRepo) LatestByAdmission(_ context.Context, admissionID uuid.UUID) (*Invoice, error) {
	var latest *Invoice
	for _, inv := range m.invoices {
		if inv.AdmissionID == nil || *inv.AdmissionID != admissionID {
			continue
		}
		if latest == nil || inv.CreatedAt.After(latest.CreatedAt) {
			latest = inv
		}
	}
	if latest == nil {
		return nil, nil
	}
	cp := *latest
	return &cp, nil
}

func (m *mockRepo) UpdateInvoice(_ context.Context, inv *Invoice) error {
	if _, ok := m.invoices[inv.ID]; !ok {
		return apperr.NotFound("invoice", inv.ID.String())
	}
	inv.UpdatedAt = time.Now()
	cp := *inv
	m.invoices[inv.ID] = &cp
	return nil
}

func (m *mockRepo) FindLine(_ context.Context, invoiceID uuid.UUID, key LineKey) (*InvoiceLine, error) {
	for _, l := range m.lines {
		if key.AdmissionID == uuid.Nil && l.InvoiceID != invoiceID {
			continue
		}
		if l.Key() == key {
			cp := *l
			return &cp, nil
		}
	}
	return nil, nil
}

func (m *mockRepo) InsertLine(_ context.Context, l *InvoiceLine) error {
	m.writes++
	l.ID = uuid.New()
	l.CreatedAt = time.Now()
	l.UpdatedAt = l.CreatedAt
	cp := *l
	m.lines[l.ID] = &cp
	return nil
}

func (m *mockRepo) UpdateLine(_ context.Context, l *InvoiceLine) error {
	m.writes++
	l.UpdatedAt = time.Now()
	cp := *l
	m.lines[l.ID] = &cp
	return nil
}

func (m *mockRepo) DeleteRoomLinesAfter(_ context.Context, invoiceID, admissionID uuid.UUID, cutoff *civil.Date) (int, error) {
	n := 0
	for id, l := range m.lines {
		if l.InvoiceID != invoiceID || l.ServiceType != ServiceRoom || l.AdmissionID == nil || *l.AdmissionID != admissionID {
			continue
		}
		if cutoff == nil || (l.ServiceDate != nil && l.ServiceDate.After(*cutoff)) {
			delete(m.lines, id)
			n++
		}
	}
	return n, nil
}

func (m *mockRepo) ListAllLines(_ context.Context, invoiceID uuid.UUID) ([]*InvoiceLine, error) {
	var out []*InvoiceLine
	for _, l := range m.lines {
		if l.InvoiceID == invoiceID {
			cp := *l
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].NaturalKey < out[j].NaturalKey })
	return out, nil
}

func (m *mockRepo) ListLines(ctx context.Context, invoiceID uuid.UUID, f LineFilter, limit, offset int) ([]*InvoiceLine, int, error) {
	all, _ := m.ListAllLines(ctx, invoiceID)
	var out []*InvoiceLine
	for _, l := range all {
		if f.ServiceType != "" && l.ServiceType != f.ServiceType {
			continue
		}
		if !f.IncludeVoided && l.IsVoided {
			continue
		}
		out = append(out, l)
	}
	total := len(out)
	if offset >= total {
		return nil, total, nil
	}
	end := offset + limit
	if end > total {
		end = total
	}
	return out[offset:end], total, nil
}

func (m *mockRepo) roomLines() []*InvoiceLine {
	var out []*InvoiceLine
	for _, l := range m.lines {
		if l.ServiceType == ServiceRoom {
			out = append(out, l)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].NaturalKey < out[j].NaturalKey })
	return out
}

type staticLocks map[uuid.UUID]bool

func (s staticLocks) IsBillingLocked(_ context.Context, id uuid.UUID) (bool, error) {
	return s[id], nil
}

type passthroughTx struct{}

func (passthroughTx) InTx(ctx context.Context, fn func(ctx context.Context) error) error {
	return fn(ctx)
}

func day(s string) civil.Date {
	d, err := civil.ParseDate(s)
	if err != nil {
		panic(err)
	}
	return d
}

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func decPtr(s string) *decimal.Decimal {
	d := dec(s)
	return &d
}

// charges builds one charge per day from start for n days at price.
func charges(start string, n int, roomType, price string) []DayCharge {
	bed := uuid.New()
	asg := uuid.New()
	out := make([]DayCharge, 0, n)
	d := day(start)
	for i := 0; i < n; i++ {
		out = append(out, DayCharge{
			Day:          d.AddDays(i),
			AssignmentID: asg,
			BedID:        bed,
			RoomType:     roomType,
			BedLabel:     "B-101",
			UnitPrice:    dec(price),
		})
	}
	return out
}

func newDraft(t interface{ Fatalf(string, ...interface{}) }, repo *mockRepo) (*Invoice, uuid.UUID) {
	admissionID := uuid.New()
	aid := admissionID
	inv := &Invoice{PatientID: uuid.New(), AdmissionID: &aid, Status: InvoiceDraft}
	if err := repo.CreateInvoice(context.Background(), inv); err != nil {
		t.Fatalf("create invoice: %v", err)
	}
	return inv, admissionID
}
