package tariff

import (
	"context"

	"github.com/google/uuid"

	"github.com/hms/hms/internal/platform/apperr"
)

// Service maintains the tariff master. Corrections made here are picked up
// by the next room-charge sync of any open admission.
type Service struct {
	rates Repository
	norm  *Normalizer
}

func NewService(rates Repository, norm *Normalizer) *Service {
	if norm == nil {
		norm = NewNormalizer(nil)
	}
	return &Service{rates: rates, norm: norm}
}

func (s *Service) validate(r *BedRate) error {
	r.RoomType = s.norm.Normalize(r.RoomType)
	if r.RoomType == "" {
		return apperr.Validation("room_type is required")
	}
	if r.DailyRate.IsNegative() {
		return apperr.Validation("daily_rate must not be negative").With("room_type", r.RoomType)
	}
	if !r.EffectiveFrom.IsValid() {
		return apperr.Validation("effective_from is required").With("room_type", r.RoomType)
	}
	if r.EffectiveTo != nil && r.EffectiveTo.Before(r.EffectiveFrom) {
		return apperr.Validation("effective_to %s is before effective_from %s", r.EffectiveTo, r.EffectiveFrom).
			With("room_type", r.RoomType)
	}
	r.DailyRate = r.DailyRate.Round(2)
	return nil
}

func (s *Service) CreateRate(ctx context.Context, r *BedRate) error {
	if err := s.validate(r); err != nil {
		return err
	}
	return s.rates.Create(ctx, r)
}

func (s *Service) GetRate(ctx context.Context, id uuid.UUID) (*BedRate, error) {
	return s.rates.GetByID(ctx, id)
}

// UpdateRate replaces the mutable fields of an existing rate row.
func (s *Service) UpdateRate(ctx context.Context, r *BedRate) error {
	if _, err := s.rates.GetByID(ctx, r.ID); err != nil {
		return err
	}
	if err := s.validate(r); err != nil {
		return err
	}
	return s.rates.Update(ctx, r)
}

func (s *Service) ListRates(ctx context.Context, f ListFilter, limit, offset int) ([]*BedRate, int, error) {
	if f.RoomType != "" {
		f.RoomType = s.norm.Normalize(f.RoomType)
	}
	return s.rates.List(ctx, f, limit, offset)
}
