package domain

import "time"

// Status reports whether a conversion produced an affiliate link or fell
// back to the original URL.
type Status string

const (
	StatusSuccess  Status = "success"
	StatusFallback Status = "fallback"
)

// Source identifies which URL ended up in the result.
type Source string

const (
	SourceConverted Source = "converted"
	SourceOriginal  Source = "original"
)

// ConversionResult is what callers receive for every conversion request.
// Link is always a usable URL: the affiliate link on success, the caller's
// original URL on fallback. It is never empty and never an error message.
type ConversionResult struct {
	Link        string `json:"link"`
	Marketplace string `json:"marketplace"`
	Status      Status `json:"status"`
	Source      Source `json:"source"`
}

// Conversion is the persisted record of a conversion attempt.
type Conversion struct {
	// OriginalURL is the URL the caller submitted.
	OriginalURL string `json:"original_url"`

	// Link is the URL returned to the caller (converted or original).
	Link string `json:"link"`

	// Marketplace is the normalized marketplace key the request resolved to.
	Marketplace string `json:"marketplace"`

	Status Status `json:"status"`

	// Error holds the failure kind on fallback, empty on success.
	Error string `json:"error,omitempty"`

	// Timestamp indicates when the conversion was attempted.
	Timestamp time.Time `json:"timestamp"`
}
