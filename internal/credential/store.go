package credential

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
)

// ErrNotFound is returned by Load when no session artifact exists at the
// given path. Converters treat this as recoverable: they stay constructible
// and surface the error on first use.
var ErrNotFound = errors.New("credential file not found")

// maxAge is the staleness heuristic for session artifacts that carry no
// explicit expiry. Marketplace sessions last roughly a month; the
// marketplace's own rejection stays authoritative.
const maxAge = 30 * 24 * time.Hour

// Cookie mirrors one browser-exported cookie record in the session file.
type Cookie struct {
	Name     string  `json:"name"`
	Value    string  `json:"value"`
	Domain   string  `json:"domain,omitempty"`
	Path     string  `json:"path,omitempty"`
	Expires  float64 `json:"expires,omitempty"`
	HTTPOnly bool    `json:"httpOnly,omitempty"`
	Secure   bool    `json:"secure,omitempty"`
}

// Credential is a persisted browser session for one marketplace. It is
// generated by an out-of-band login tool, loaded once, and never mutated.
type Credential struct {
	Marketplace string   `json:"marketplace"`
	GeneratedAt string   `json:"generated_at"`
	ExpiresAt   string   `json:"expires_at,omitempty"`
	Account     string   `json:"account,omitempty"`
	Cookies     []Cookie `json:"cookies"`
}

// Get returns the named cookie.
func (c *Credential) Get(name string) (Cookie, bool) {
	for _, ck := range c.Cookies {
		if ck.Name == name {
			return ck, true
		}
	}
	return Cookie{}, false
}

// Has reports whether every named cookie is present.
func (c *Credential) Has(names ...string) bool {
	for _, name := range names {
		if _, ok := c.Get(name); !ok {
			return false
		}
	}
	return true
}

// CookieHeader renders the cookies as a Cookie request header value.
func (c *Credential) CookieHeader() string {
	pairs := make([]string, 0, len(c.Cookies))
	for _, ck := range c.Cookies {
		pairs = append(pairs, ck.Name+"="+ck.Value)
	}
	return strings.Join(pairs, "; ")
}

// Store reads session artifacts from disk. It never writes; artifact
// generation is an operator concern.
type Store struct {
	log logrus.FieldLogger
}

// NewStore creates a credential store.
func NewStore(logger logrus.FieldLogger) *Store {
	return &Store{log: logger.WithField("component", "credential_store")}
}

// Load reads and parses the session artifact at path. A missing file yields
// ErrNotFound; a present but unreadable or malformed file is a hard error.
func (s *Store) Load(path string) (*Credential, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			s.log.WithField("path", path).Warn("Session file not found")
			return nil, fmt.Errorf("%w: %s", ErrNotFound, path)
		}
		return nil, fmt.Errorf("failed to read credential file %s: %w", path, err)
	}

	var cred Credential
	if err := json.Unmarshal(data, &cred); err != nil {
		return nil, fmt.Errorf("failed to parse credential file %s: %w", path, err)
	}
	if len(cred.Cookies) == 0 {
		return nil, fmt.Errorf("credential file %s contains no cookies", path)
	}

	s.log.WithFields(logrus.Fields{
		"path":        path,
		"marketplace": cred.Marketplace,
		"cookies":     len(cred.Cookies),
	}).Info("Session credential loaded")

	return &cred, nil
}

// IsExpired applies the staleness heuristic: an explicit expires_at in the
// past, a generation timestamp older than maxAge, or any individually
// expired cookie. Best effort only; a fresh-looking credential can still be
// rejected upstream.
func (s *Store) IsExpired(cred *Credential) bool {
	now := time.Now()

	if exp, ok := parseTimestamp(cred.ExpiresAt); ok && now.After(exp) {
		return true
	}
	if gen, ok := parseTimestamp(cred.GeneratedAt); ok && now.Sub(gen) > maxAge {
		return true
	}
	for _, ck := range cred.Cookies {
		if ck.Expires > 0 && now.After(time.Unix(int64(ck.Expires), 0)) {
			s.log.WithField("cookie", ck.Name).Warn("Cookie past its expiry")
			return true
		}
	}
	return false
}

// parseTimestamp accepts both RFC 3339 and the naive ISO form the session
// generation tool emits (no zone, assumed UTC).
func parseTimestamp(s string) (time.Time, bool) {
	if s == "" {
		return time.Time{}, false
	}
	for _, layout := range []string{time.RFC3339Nano, time.RFC3339, "2006-01-02T15:04:05.999999", "2006-01-02T15:04:05"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}
