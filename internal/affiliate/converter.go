package affiliate

import "context"

// Converter translates a marketplace product URL into its affiliate-tracked
// form. One implementation exists per supported marketplace.
type Converter interface {
	// Marketplace returns the normalized marketplace key this converter
	// serves (e.g. "amazon", "mercadolivre").
	Marketplace() string

	// Validate reports whether the URL belongs to the marketplace and
	// carries an extractable product identifier. Syntactic only: it must
	// never touch the network.
	Validate(url string) bool

	// Convert performs the transformation. On failure it returns a
	// *ConversionError; no other error type may escape.
	Convert(ctx context.Context, url string) (string, error)
}
