package scraper

import (
	"context"

	"promoengine/internal/credential"
)

// Session drives a headless browser against Mercado Livre pages on behalf of
// a stored affiliate session. Implementations create a fresh browser per
// call, so concurrent use is safe.
type Session interface {
	// CSRFToken loads a marketplace page with the given session cookies and
	// extracts the csrf-token meta tag the affiliate API requires.
	CSRFToken(ctx context.Context, cookies []credential.Cookie) (string, error)

	// ResolveProductLink opens an affiliate share page (short /sec/ links,
	// /social/ profiles) and returns the underlying product URL.
	ResolveProductLink(ctx context.Context, affiliateURL string) (string, error)
}
