package storage

import (
	"context"

	"promoengine/internal/domain"
)

// Repository persists conversion outcomes. Successful conversions double as
// a cache so repeated requests for the same product skip the marketplace
// round-trip; fallbacks are kept purely as an audit trail.
type Repository interface {
	// SaveConversion stores the outcome of a conversion attempt. The
	// combination of marketplace and original URL is the key; last write wins.
	SaveConversion(ctx context.Context, conv domain.Conversion) error

	// GetConversion returns the stored outcome for a marketplace/URL pair,
	// or nil when nothing (unexpired) is recorded.
	GetConversion(ctx context.Context, marketplace, originalURL string) (*domain.Conversion, error)

	// Close gracefully shuts down the repository.
	Close() error
}
