package tariff

import (
	"context"

	"github.com/google/uuid"
)

// ListFilter narrows a tariff master listing.
type ListFilter struct {
	RoomType   string
	ActiveOnly bool
}

type Repository interface {
	Create(ctx context.Context, r *BedRate) error
	GetByID(ctx context.Context, id uuid.UUID) (*BedRate, error)
	Update(ctx context.Context, r *BedRate) error
	// ListActiveByRoomType returns every active row for a normalized room type.
	ListActiveByRoomType(ctx context.Context, roomType string) ([]*BedRate, error)
	List(ctx context.Context, f ListFilter, limit, offset int) ([]*BedRate, int, error)
}
