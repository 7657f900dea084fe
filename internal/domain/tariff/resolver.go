package tariff

import (
	"bytes"
	"context"
	"fmt"

	"github.com/golang-sql/civil"
)

// SelectEffective picks the rate that applies on day: among active rows whose
// window covers day, the latest effective_from wins, then the most recently
// created row, then the highest id. Returns nil when nothing covers day.
func SelectEffective(rates []*BedRate, day civil.Date) *BedRate {
	var best *BedRate
	for _, r := range rates {
		if r == nil || !r.IsActive || !r.Covers(day) {
			continue
		}
		if best == nil || preferRate(r, best) {
			best = r
		}
	}
	return best
}

func preferRate(a, b *BedRate) bool {
	if a.EffectiveFrom != b.EffectiveFrom {
		return a.EffectiveFrom.After(b.EffectiveFrom)
	}
	if !a.CreatedAt.Equal(b.CreatedAt) {
		return a.CreatedAt.After(b.CreatedAt)
	}
	return bytes.Compare(a.ID[:], b.ID[:]) > 0
}

// Resolver answers "what does a day in room type X cost".
type Resolver struct {
	repo Repository
	norm *Normalizer
}

func NewResolver(repo Repository, norm *Normalizer) *Resolver {
	if norm == nil {
		norm = NewNormalizer(nil)
	}
	return &Resolver{repo: repo, norm: norm}
}

// Normalize exposes the resolver's room-type normalization.
func (r *Resolver) Normalize(roomType string) string {
	return r.norm.Normalize(roomType)
}

// Resolve returns the effective rate for roomType on day. A missing tariff
// is reported through a nil Rate, never as an error.
func (r *Resolver) Resolve(ctx context.Context, roomType string, day civil.Date) (Resolution, error) {
	return r.resolve(ctx, roomType, day, nil)
}

func (r *Resolver) resolve(ctx context.Context, roomType string, day civil.Date, cache map[string][]*BedRate) (Resolution, error) {
	res := Resolution{RoomType: r.norm.Normalize(roomType)}
	if res.RoomType == "" {
		return res, nil
	}

	rates, ok := cache[res.RoomType]
	if !ok {
		var err error
		rates, err = r.repo.ListActiveByRoomType(ctx, res.RoomType)
		if err != nil {
			return res, fmt.Errorf("load rates for %s: %w", res.RoomType, err)
		}
		if cache != nil {
			cache[res.RoomType] = rates
		}
	}

	if best := SelectEffective(rates, day); best != nil {
		rate := best.DailyRate
		id := best.ID
		res.Rate = &rate
		res.RateID = &id
	}
	return res, nil
}

// Session returns a resolver that loads each room type's rates once. Use
// one per operation so a multi-day bucket run costs one query per room type.
func (r *Resolver) Session() *Session {
	return &Session{r: r, cache: make(map[string][]*BedRate)}
}

// Session is a per-operation caching view of a Resolver. Not safe for
// concurrent use.
type Session struct {
	r     *Resolver
	cache map[string][]*BedRate
}

func (s *Session) Resolve(ctx context.Context, roomType string, day civil.Date) (Resolution, error) {
	return s.r.resolve(ctx, roomType, day, s.cache)
}
