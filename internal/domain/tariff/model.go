package tariff

import (
	"time"

	"github.com/golang-sql/civil"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// BedRate is one row of the bed tariff master: the daily charge for a room
// type over an inclusive effective window.
type BedRate struct {
	ID            uuid.UUID       `json:"id"`
	RoomType      string          `json:"room_type"`
	DailyRate     decimal.Decimal `json:"daily_rate"`
	EffectiveFrom civil.Date      `json:"effective_from"`
	EffectiveTo   *civil.Date     `json:"effective_to,omitempty"`
	IsActive      bool            `json:"is_active"`
	CreatedAt     time.Time       `json:"created_at"`
	UpdatedAt     time.Time       `json:"updated_at"`
}

// Covers reports whether day falls inside the rate's effective window.
func (r *BedRate) Covers(day civil.Date) bool {
	if day.Before(r.EffectiveFrom) {
		return false
	}
	return r.EffectiveTo == nil || !day.After(*r.EffectiveTo)
}

// Resolution is the outcome of resolving a room type on a day. A nil Rate
// means no tariff is configured; that is billed as zero and flagged.
type Resolution struct {
	RoomType string           `json:"room_type"`
	Rate     *decimal.Decimal `json:"rate"`
	RateID   *uuid.UUID       `json:"rate_id,omitempty"`
}

func (r Resolution) Missing() bool { return r.Rate == nil }

// Amount is the rate, or zero when missing.
func (r Resolution) Amount() decimal.Decimal {
	if r.Rate == nil {
		return decimal.Zero
	}
	return *r.Rate
}
