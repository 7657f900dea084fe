package tariff

import (
	"context"
	"sort"
	"time"

	"github.com/golang-sql/civil"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/hms/hms/internal/platform/apperr"
)

type mockRateRepo struct {
	store map[uuid.UUID]*BedRate
	lists int
}

func newMockRateRepo() *mockRateRepo {
	return &mockRateRepo{store: make(map[uuid.UUID]*BedRate)}
}

func (m *mockRateRepo) Create(_ context.Context, r *BedRate) error {
	if r.ID == uuid.Nil {
		r.ID = uuid.New()
	}
	if r.CreatedAt.IsZero() {
		r.CreatedAt = time.Now()
	}
	r.UpdatedAt = r.CreatedAt
	cp := *r
	m.store[r.ID] = &cp
	return nil
}

func (m *mockRateRepo) GetByID(_ context.Context, id uuid.UUID) (*BedRate, error) {
	r, ok := m.store[id]
	if !ok {
		return nil, apperr.NotFound("bed_rate", id.String())
	}
	cp := *r
	return &cp, nil
}

func (m *mockRateRepo) Update(_ context.Context, r *BedRate) error {
	old, ok := m.store[r.ID]
	if !ok {
		return apperr.NotFound("bed_rate", r.ID.String())
	}
	cp := *r
	cp.CreatedAt = old.CreatedAt
	cp.UpdatedAt = time.Now()
	m.store[r.ID] = &cp
	return nil
}

func (m *mockRateRepo) ListActiveByRoomType(_ context.Context, roomType string) ([]*BedRate, error) {
	m.lists++
	var out []*BedRate
	for _, r := range m.store {
		if r.RoomType == roomType && r.IsActive {
			cp := *r
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (m *mockRateRepo) List(_ context.Context, f ListFilter, limit, offset int) ([]*BedRate, int, error) {
	var out []*BedRate
	for _, r := range m.store {
		if f.RoomType != "" && r.RoomType != f.RoomType {
			continue
		}
		if f.ActiveOnly && !r.IsActive {
			continue
		}
		cp := *r
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].RoomType < out[j].RoomType })
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

func date(s string) civil.Date {
	d, err := civil.ParseDate(s)
	if err != nil {
		panic(err)
	}
	return d
}

func datePtr(s string) *civil.Date {
	d := date(s)
	return &d
}

func seedRate(m *mockRateRepo, roomType, amount, from string, to *civil.Date) *BedRate {
	r := &BedRate{
		RoomType:      roomType,
		DailyRate:     decimal.RequireFromString(amount),
		EffectiveFrom: date(from),
		EffectiveTo:   to,
		IsActive:      true,
	}
	_ = m.Create(context.Background(), r)
	return r
}
