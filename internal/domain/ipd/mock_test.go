package ipd

import (
	"bytes"
	"context"
	"sort"
	"time"

	"github.com/golang-sql/civil"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/hms/hms/internal/domain/billing"
	"github.com/hms/hms/internal/domain/tariff"
	"github.com/hms/hms/internal/platform/apperr"
)

// -- Admissions --

type mockAdmissions struct {
	items map[uuid.UUID]*Admission
}

func newMockAdmissions() *mockAdmissions {
	return &mockAdmissions{items: make(map[uuid.UUID]*Admission)}
}

func (m *mockAdmissions) Create(_ context.Context, a *Admission) error {
	a.ID = uuid.New()
	a.CreatedAt = time.Now()
	a.UpdatedAt = a.CreatedAt
	cp := *a
	m.items[a.ID] = &cp
	return nil
}

func (m *mockAdmissions) GetByID(_ context.Context, id uuid.UUID) (*Admission, error) {
	a, ok := m.items[id]
	if !ok {
		return nil, apperr.NotFound("admission", id.String())
	}
	cp := *a
	return &cp, nil
}

func (m *mockAdmissions) GetForUpdate(ctx context.Context, id uuid.UUID) (*Admission, error) {
	return m.GetByID(ctx, id)
}

func (m *mockAdmissions) Update(_ context.Context, a *Admission) error {
	if _, ok := m.items[a.ID]; !ok {
		return apperr.NotFound("admission", a.ID.String())
	}
	a.UpdatedAt = time.Now()
	cp := *a
	m.items[a.ID] = &cp
	return nil
}

func (m *mockAdmissions) List(_ context.Context, f AdmissionFilter, limit, offset int) ([]*Admission, int, error) {
	var out []*Admission
	for _, a := range m.items {
		if f.PatientID != nil && a.PatientID != *f.PatientID {
			continue
		}
		if f.Status != "" && a.Status != f.Status {
			continue
		}
		cp := *a
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].AdmittedAt.After(out[j].AdmittedAt) })
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

// -- Beds --

type mockBeds struct {
	items map[uuid.UUID]*BedInfo
}

func newMockBeds() *mockBeds {
	return &mockBeds{items: make(map[uuid.UUID]*BedInfo)}
}

func (m *mockBeds) add(code, roomType string) uuid.UUID {
	id := uuid.New()
	m.items[id] = &BedInfo{ID: id, Code: code, State: BedVacant, RoomType: roomType, WardName: "Ward 1"}
	return id
}

func (m *mockBeds) GetBed(_ context.Context, id uuid.UUID) (*BedInfo, error) {
	b, ok := m.items[id]
	if !ok {
		return nil, apperr.NotFound("bed", id.String())
	}
	cp := *b
	return &cp, nil
}

func (m *mockBeds) GetBedForUpdate(ctx context.Context, id uuid.UUID) (*BedInfo, error) {
	return m.GetBed(ctx, id)
}

func (m *mockBeds) SetState(_ context.Context, id uuid.UUID, state string) error {
	b, ok := m.items[id]
	if !ok {
		return apperr.NotFound("bed", id.String())
	}
	b.State = state
	return nil
}

// -- Assignments --

type mockAssignments struct {
	items map[uuid.UUID]*BedAssignment
	beds  *mockBeds
}

func newMockAssignments(beds *mockBeds) *mockAssignments {
	return &mockAssignments{items: make(map[uuid.UUID]*BedAssignment), beds: beds}
}

func (m *mockAssignments) Insert(_ context.Context, a *BedAssignment) error {
	a.CreatedAt = time.Now()
	cp := *a
	m.items[a.ID] = &cp
	return nil
}

func (m *mockAssignments) GetOpen(_ context.Context, admissionID uuid.UUID) (*BedAssignment, error) {
	for _, a := range m.items {
		if a.AdmissionID == admissionID && a.ToTS == nil {
			cp := *a
			return &cp, nil
		}
	}
	return nil, nil
}

func (m *mockAssignments) SetEnd(_ context.Context, id uuid.UUID, at time.Time) error {
	a, ok := m.items[id]
	if !ok {
		return apperr.NotFound("bed assignment", id.String())
	}
	a.ToTS = &at
	return nil
}

func (m *mockAssignments) ListByAdmission(_ context.Context, admissionID uuid.UUID) ([]*BedAssignment, error) {
	var out []*BedAssignment
	for _, a := range m.items {
		if a.AdmissionID != admissionID {
			continue
		}
		cp := *a
		if b, ok := m.beds.items[a.BedID]; ok {
			cp.RoomType, cp.BedCode = b.RoomType, b.Code
		}
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].FromTS.Equal(out[j].FromTS) {
			return out[i].FromTS.Before(out[j].FromTS)
		}
		return bytes.Compare(out[i].ID[:], out[j].ID[:]) < 0
	})
	return out, nil
}

// -- Tariffs --

type mockRates struct {
	items map[uuid.UUID]*tariff.BedRate
}

func newMockRates() *mockRates {
	return &mockRates{items: make(map[uuid.UUID]*tariff.BedRate)}
}

func (m *mockRates) add(roomType, price, from string) *tariff.BedRate {
	r := &tariff.BedRate{
		ID:            uuid.New(),
		RoomType:      roomType,
		DailyRate:     dec(price),
		EffectiveFrom: day(from),
		IsActive:      true,
		CreatedAt:     time.Now(),
	}
	m.items[r.ID] = r
	return r
}

func (m *mockRates) Create(_ context.Context, r *tariff.BedRate) error {
	r.ID = uuid.New()
	r.CreatedAt = time.Now()
	cp := *r
	m.items[r.ID] = &cp
	return nil
}

func (m *mockRates) GetByID(_ context.Context, id uuid.UUID) (*tariff.BedRate, error) {
	r, ok := m.items[id]
	if !ok {
		return nil, apperr.NotFound("bed rate", id.String())
	}
	cp := *r
	return &cp, nil
}

func (m *mockRates) Update(_ context.Context, r *tariff.BedRate) error {
	cp := *r
	m.items[r.ID] = &cp
	return nil
}

func (m *mockRates) ListActiveByRoomType(_ context.Context, roomType string) ([]*tariff.BedRate, error) {
	var out []*tariff.BedRate
	for _, r := range m.items {
		if r.IsActive && r.RoomType == roomType {
			cp := *r
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (m *mockRates) List(ctx context.Context, f tariff.ListFilter, _, _ int) ([]*tariff.BedRate, int, error) {
	out, _ := m.ListActiveByRoomType(ctx, f.RoomType)
	return out, len(out), nil
}

// -- Invoices --

type mockInvoices struct {
	invoices map[uuid.UUID]*billing.Invoice
	lines    map[uuid.UUID]*billing.InvoiceLine
}

func newMockInvoices() *mockInvoices {
	return &mockInvoices{
		invoices: make(map[uuid.UUID]*billing.Invoice),
		lines:    make(map[uuid.UUID]*billing.InvoiceLine),
	}
}

func (m *mockInvoices) CreateInvoice(_ context.Context, inv *billing.Invoice) error {
	inv.ID = uuid.New()
	inv.CreatedAt = time.Now()
	cp := *inv
	m.invoices[inv.ID] = &cp
	return nil
}

func (m *mockInvoices) GetInvoice(_ context.Context, id uuid.UUID) (*billing.Invoice, error) {
	inv, ok := m.invoices[id]
	if !ok {
		return nil, apperr.NotFound("invoice", id.String())
	}
	cp := *inv
	return &cp, nil
}

func (m *mockInvoices) GetInvoiceForUpdate(ctx context.Context, id uuid.UUID) (*billing.Invoice, error) {
	return m.GetInvoice(ctx, id)
}

func (m *mockInvoices) FindActiveByAdmission(_ context.Context, admissionID uuid.UUID) (*billing.Invoice, error) {
	for _, inv := range m.invoices {
		if inv.AdmissionID != nil && *inv.AdmissionID == admissionID && inv.Status != billing.InvoiceCancelled {
			cp := *inv
			return &cp, nil
		}
	}
	return nil, nil
}

func (m *mockInvoices) LatestByAdmission(_ context.Context, admissionID uuid.UUID) (*billing.Invoice, error) {
	for _, inv := range m.invoices {
		if inv.AdmissionID != nil && *inv.AdmissionID == admissionID {
			cp := *inv
			return &cp, nil
		}
	}
	return nil, nil
}

func (m *mockInvoices) UpdateInvoice(_ context.Context, inv *billing.Invoice) error {
	cp := *inv
	m.invoices[inv.ID] = &cp
	return nil
}

func (m *mockInvoices) FindLine(_ context.Context, invoiceID uuid.UUID, key billing.LineKey) (*billing.InvoiceLine, error) {
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

func (m *mockInvoices) InsertLine(_ context.Context, l *billing.InvoiceLine) error {
	l.ID = uuid.New()
	cp := *l
	m.lines[l.ID] = &cp
	return nil
}

func (m *mockInvoices) UpdateLine(_ context.Context, l *billing.InvoiceLine) error {
	cp := *l
	m.lines[l.ID] = &cp
	return nil
}

func (m *mockInvoices) DeleteRoomLinesAfter(_ context.Context, invoiceID, admissionID uuid.UUID, cutoff *civil.Date) (int, error) {
	n := 0
	for id, l := range m.lines {
		if l.InvoiceID != invoiceID || l.ServiceType != billing.ServiceRoom || l.AdmissionID == nil || *l.AdmissionID != admissionID {
			continue
		}
		if cutoff == nil || (l.ServiceDate != nil && l.ServiceDate.After(*cutoff)) {
			delete(m.lines, id)
			n++
		}
	}
	return n, nil
}

func (m *mockInvoices) ListAllLines(_ context.Context, invoiceID uuid.UUID) ([]*billing.InvoiceLine, error) {
	var out []*billing.InvoiceLine
	for _, l := range m.lines {
		if l.InvoiceID == invoiceID {
			cp := *l
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].NaturalKey < out[j].NaturalKey })
	return out, nil
}

func (m *mockInvoices) ListLines(ctx context.Context, invoiceID uuid.UUID, _ billing.LineFilter, _, _ int) ([]*billing.InvoiceLine, int, error) {
	out, _ := m.ListAllLines(ctx, invoiceID)
	return out, len(out), nil
}

func (m *mockInvoices) roomLines() []*billing.InvoiceLine {
	var out []*billing.InvoiceLine
	for _, l := range m.lines {
		if l.ServiceType == billing.ServiceRoom {
			out = append(out, l)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].NaturalKey < out[j].NaturalKey })
	return out
}

type passthroughTx struct{}

func (passthroughTx) InTx(ctx context.Context, fn func(ctx context.Context) error) error {
	return fn(ctx)
}

// -- Fixture --

type fixture struct {
	svc         *Service
	admissions  *mockAdmissions
	assignments *mockAssignments
	beds        *mockBeds
	rates       *mockRates
	invoices    *mockInvoices
	clock       time.Time
}

func newFixture(cfg Config) *fixture {
	fx := &fixture{
		admissions: newMockAdmissions(),
		beds:       newMockBeds(),
		rates:      newMockRates(),
		invoices:   newMockInvoices(),
		clock:      ts("2024-01-01T08:00:00Z"),
	}
	fx.assignments = newMockAssignments(fx.beds)
	resolver := tariff.NewResolver(fx.rates, nil)
	fx.svc = NewService(fx.admissions, fx.assignments, fx.beds, resolver, fx.invoices, passthroughTx{}, cfg, zerolog.Nop())
	fx.svc.now = func() time.Time { return fx.clock }
	return fx
}

func (fx *fixture) admit(bedID uuid.UUID, at string) *Admission {
	adm, err := fx.svc.Admit(context.Background(), AdmitRequest{PatientID: uuid.New(), BedID: bedID, AdmittedAt: ts(at)})
	if err != nil {
		panic(err)
	}
	return adm
}

func (fx *fixture) invoiceFor(admissionID uuid.UUID) *billing.Invoice {
	inv, _ := fx.invoices.LatestByAdmission(context.Background(), admissionID)
	return inv
}

func ts(s string) time.Time {
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		panic(err)
	}
	return t
}

func day(s string) civil.Date {
	d, err := civil.ParseDate(s)
	if err != nil {
		panic(err)
	}
	return d
}

func ptrDay(s string) *civil.Date {
	d := day(s)
	return &d
}

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func boolPtr(b bool) *bool { return &b }
