package affiliate

import (
	"errors"
	"fmt"
	"time"
)

// ErrorKind classifies why a conversion failed.
type ErrorKind int

const (
	// KindInvalidLink means the URL does not belong to the converter's
	// marketplace or carries no extractable product identifier. Not retryable.
	KindInvalidLink ErrorKind = iota

	// KindCredential means the session is missing, expired or rejected by
	// the marketplace. Requires out-of-band regeneration.
	KindCredential

	// KindRateLimit means the marketplace throttled the request. Transient;
	// callers may retry later, the converter never retries on its own.
	KindRateLimit

	// KindUpstream means the marketplace returned an unexpected response
	// shape. Logged prominently for operator attention.
	KindUpstream

	// KindCredentialNotFound means no session artifact is configured for the
	// marketplace at all. Surfaced at load time, not at request time.
	KindCredentialNotFound
)

// String returns the metric/log label for the kind.
func (k ErrorKind) String() string {
	switch k {
	case KindInvalidLink:
		return "invalid_link"
	case KindCredential:
		return "credential"
	case KindRateLimit:
		return "rate_limit"
	case KindUpstream:
		return "upstream"
	case KindCredentialNotFound:
		return "credential_not_found"
	default:
		return "unknown"
	}
}

// ConversionError is the only error type converters are allowed to return.
// All marketplace-specific failure paths funnel into it.
type ConversionError struct {
	Kind        ErrorKind
	Marketplace string
	Message     string

	// RetryAfter carries the upstream's throttling hint, zero when unknown.
	RetryAfter time.Duration

	Err error
}

func (e *ConversionError) Error() string {
	msg := fmt.Sprintf("%s: %s conversion failed: %s", e.Marketplace, e.Kind, e.Message)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *ConversionError) Unwrap() error {
	return e.Err
}

// Retryable reports whether the caller may retry after a backoff.
func (e *ConversionError) Retryable() bool {
	return e.Kind == KindRateLimit
}

func newError(kind ErrorKind, marketplace, message string) *ConversionError {
	return &ConversionError{Kind: kind, Marketplace: marketplace, Message: message}
}

func wrapError(kind ErrorKind, marketplace, message string, err error) *ConversionError {
	return &ConversionError{Kind: kind, Marketplace: marketplace, Message: message, Err: err}
}

// errorKindLabel maps any error to the label used in logs and metrics.
func errorKindLabel(err error) string {
	var convErr *ConversionError
	if errors.As(err, &convErr) {
		return convErr.Kind.String()
	}
	return "unknown"
}
