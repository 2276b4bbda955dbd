package ports

import (
	"context"

	"github.com/layer-3/vaultgate/core"
)

// UserRepository persists users keyed by their lower-cased address
type UserRepository interface {
	// FindOrCreate returns the user for address, creating it on first sight
	FindOrCreate(ctx context.Context, address string) (core.User, bool, error)
	GetByAddress(ctx context.Context, address string) (core.User, error)
}
