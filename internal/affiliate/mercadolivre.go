package affiliate

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"promoengine/internal/credential"
	"promoengine/internal/scraper"
)

const (
	mlEndpoint = "https://www.mercadolivre.com.br/affiliate-program/api/v2/stripe/user/links"
	mlOrigin   = "https://produto.mercadolivre.com.br"

	mlUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"
)

var mlDomains = []*regexp.Regexp{
	regexp.MustCompile(`produto\.mercadolivre\.com\.br`),
	regexp.MustCompile(`mercadolivre\.com\.br`),
	regexp.MustCompile(`mercadolivre\.com`),
	regexp.MustCompile(`mercadolibre\.com`),
}

// mlProductPattern matches both MLB-3967173105 and MLB3967173105 forms.
var mlProductPattern = regexp.MustCompile(`MLB-?(\d+)`)

// mlCriticalCookies must all be present for the affiliate API to accept the
// session.
var mlCriticalCookies = []string{"ssid", "nsa_rotok", "_csrf"}

// MercadoLivreConverter generates short affiliate links through the
// marketplace's link-generation API using a persisted browser session.
//
// The converter is constructible without a session file on disk; credential
// problems surface on first Convert, so marketplaces that need no session
// keep working when this one is misconfigured.
type MercadoLivreConverter struct {
	store      *credential.Store
	cookiePath string
	tag        string
	session    scraper.Session
	client     *http.Client
	endpoint   string
	log        logrus.FieldLogger

	// mu guards the lazily loaded credential and cached CSRF token. The
	// credential itself is immutable once loaded.
	mu   sync.Mutex
	cred *credential.Credential
	csrf string
}

// NewMercadoLivreConverter builds the converter. session may be nil; the
// CSRF token then falls back to the _csrf cookie value and already-wrapped
// affiliate links cannot be resolved.
func NewMercadoLivreConverter(store *credential.Store, cookiePath, tag string, session scraper.Session, logger logrus.FieldLogger) *MercadoLivreConverter {
	return &MercadoLivreConverter{
		store:      store,
		cookiePath: cookiePath,
		tag:        tag,
		session:    session,
		client:     &http.Client{Timeout: 30 * time.Second},
		endpoint:   mlEndpoint,
		log:        logger.WithField("component", "mercadolivre_converter"),
	}
}

func (c *MercadoLivreConverter) Marketplace() string {
	return "mercadolivre"
}

// Validate reports whether the URL belongs to Mercado Livre and either
// carries an MLB product code or is an affiliate wrapper that can be
// unwrapped into one.
func (c *MercadoLivreConverter) Validate(link string) bool {
	if !c.isMercadoLivreLink(link) {
		return false
	}
	return mlProductPattern.MatchString(link) || isAffiliateWrapper(link)
}

// Convert turns a product URL into a short affiliate link via the
// marketplace API.
func (c *MercadoLivreConverter) Convert(ctx context.Context, link string) (string, error) {
	if !c.isMercadoLivreLink(link) {
		return "", newError(KindInvalidLink, c.Marketplace(), fmt.Sprintf("not a Mercado Livre URL: %s", link))
	}

	// Inputs that are already affiliate links are unwrapped to the real
	// product URL first, otherwise the API would wrap a wrapper.
	if isAffiliateWrapper(link) {
		resolved, err := c.resolveWrapper(ctx, link)
		if err != nil {
			return "", err
		}
		link = resolved
	}

	if !mlProductPattern.MatchString(link) {
		return "", newError(KindInvalidLink, c.Marketplace(), fmt.Sprintf("no MLB product code found in %s", link))
	}

	cred, err := c.credential()
	if err != nil {
		return "", err
	}
	csrf, err := c.csrfToken(ctx, cred)
	if err != nil {
		return "", err
	}

	return c.requestShortLink(ctx, link, cred, csrf)
}

// resolveWrapper follows /sec/ short links and /social/ profile links to the
// underlying product page through the browser session.
func (c *MercadoLivreConverter) resolveWrapper(ctx context.Context, link string) (string, error) {
	if c.session == nil {
		return "", newError(KindUpstream, c.Marketplace(), "affiliate wrapper link received but no browser session is configured")
	}
	c.log.WithField("url", link).Info("Unwrapping affiliate link to product URL")
	resolved, err := c.session.ResolveProductLink(ctx, link)
	if err != nil {
		return "", wrapError(KindUpstream, c.Marketplace(), "failed to resolve affiliate wrapper", err)
	}
	return resolved, nil
}

// credential loads and checks the session artifact once, then reuses it for
// the converter's lifetime.
func (c *MercadoLivreConverter) credential() (*credential.Credential, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.cred == nil {
		cred, err := c.store.Load(c.cookiePath)
		if err != nil {
			return nil, wrapError(KindCredential, c.Marketplace(), "session unavailable; regenerate the session file", err)
		}
		c.cred = cred
	}

	if !c.cred.Has(mlCriticalCookies...) {
		return nil, newError(KindCredential, c.Marketplace(),
			fmt.Sprintf("session is missing critical cookies (%s)", strings.Join(mlCriticalCookies, ", ")))
	}
	if c.store.IsExpired(c.cred) {
		return nil, newError(KindCredential, c.Marketplace(), "session credential is stale; regenerate the session file")
	}
	if rotok, ok := c.cred.Get("nsa_rotok"); ok && jwtExpired(rotok.Value) {
		return nil, newError(KindCredential, c.Marketplace(), "session token expired; regenerate the session file")
	}
	return c.cred, nil
}

// csrfToken returns the cached token, extracting it through the browser
// session on first use. Without a browser session the _csrf cookie value is
// used directly.
func (c *MercadoLivreConverter) csrfToken(ctx context.Context, cred *credential.Credential) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.csrf != "" {
		return c.csrf, nil
	}

	if c.session != nil {
		token, err := c.session.CSRFToken(ctx, cred.Cookies)
		if err != nil {
			return "", wrapError(KindUpstream, c.Marketplace(), "failed to extract csrf token", err)
		}
		c.csrf = token
		return token, nil
	}

	if ck, ok := cred.Get("_csrf"); ok && ck.Value != "" {
		c.csrf = ck.Value
		return ck.Value, nil
	}
	return "", newError(KindCredential, c.Marketplace(), "no csrf token available in session")
}

// requestShortLink calls the affiliate link-generation API and classifies
// the response. Only documented signals are mapped: 429 means throttling,
// 401/403 mean the session was rejected. Everything else unexpected is an
// upstream failure.
func (c *MercadoLivreConverter) requestShortLink(ctx context.Context, link string, cred *credential.Credential, csrf string) (string, error) {
	payload, err := json.Marshal(map[string]string{
		"url": link,
		"tag": c.tag,
	})
	if err != nil {
		return "", wrapError(KindUpstream, c.Marketplace(), "failed to encode request payload", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(payload))
	if err != nil {
		return "", wrapError(KindUpstream, c.Marketplace(), "failed to build request", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json, text/plain, */*")
	req.Header.Set("x-csrf-token", csrf)
	req.Header.Set("Origin", mlOrigin)
	req.Header.Set("Referer", mlOrigin+"/")
	req.Header.Set("User-Agent", mlUserAgent)
	req.Header.Set("Cookie", cred.CookieHeader())

	resp, err := c.client.Do(req)
	if err != nil {
		return "", wrapError(KindUpstream, c.Marketplace(), "affiliate API request failed", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", wrapError(KindUpstream, c.Marketplace(), "failed to read affiliate API response", err)
	}

	switch resp.StatusCode {
	case http.StatusOK:
		// fall through to body parsing
	case http.StatusTooManyRequests:
		convErr := newError(KindRateLimit, c.Marketplace(), "affiliate API throttled the request")
		if secs, err := strconv.Atoi(resp.Header.Get("Retry-After")); err == nil && secs > 0 {
			convErr.RetryAfter = time.Duration(secs) * time.Second
		}
		return "", convErr
	case http.StatusUnauthorized, http.StatusForbidden:
		return "", newError(KindCredential, c.Marketplace(),
			fmt.Sprintf("affiliate API rejected the session (status %d); regenerate the session file", resp.StatusCode))
	case http.StatusNotFound:
		return "", newError(KindUpstream, c.Marketplace(), fmt.Sprintf("product not found: %s", link))
	default:
		return "", newError(KindUpstream, c.Marketplace(),
			fmt.Sprintf("affiliate API returned status %d: %s", resp.StatusCode, truncate(string(body), 200)))
	}

	var parsed struct {
		ShortURL string `json:"short_url"`
	}
	if err := json.Unmarshal(body, &parsed); err != nil {
		return "", wrapError(KindUpstream, c.Marketplace(), "affiliate API returned malformed JSON", err)
	}
	if parsed.ShortURL == "" {
		return "", newError(KindUpstream, c.Marketplace(), "affiliate API response has no short_url")
	}
	if u, err := url.Parse(parsed.ShortURL); err != nil || u.Scheme == "" || u.Host == "" {
		return "", newError(KindUpstream, c.Marketplace(), fmt.Sprintf("affiliate API returned an invalid short_url: %q", parsed.ShortURL))
	}

	c.log.WithFields(logrus.Fields{
		"original": link,
		"link":     parsed.ShortURL,
	}).Debug("Mercado Livre link converted")
	return parsed.ShortURL, nil
}

func (c *MercadoLivreConverter) isMercadoLivreLink(link string) bool {
	for _, pattern := range mlDomains {
		if pattern.MatchString(link) {
			return true
		}
	}
	return false
}

// ProductID extracts the canonical MLB code from a Mercado Livre URL,
// tolerating both hyphenated and bare forms. The rightmost match wins.
func ProductID(link string) string {
	matches := mlProductPattern.FindAllStringSubmatch(link, -1)
	if len(matches) == 0 {
		return ""
	}
	return "MLB" + matches[len(matches)-1][1]
}

// isAffiliateWrapper detects links that already point at the affiliate
// program rather than a product page.
func isAffiliateWrapper(link string) bool {
	return strings.Contains(link, "/social/") ||
		strings.Contains(link, "/sec/") ||
		strings.Contains(link, "matt_tool=")
}

// jwtExpired decodes the exp claim of the session token without verifying
// the signature. An undecodable token counts as expired.
func jwtExpired(token string) bool {
	parts := strings.Split(token, ".")
	if len(parts) < 2 {
		return true
	}
	payload, err := base64.RawURLEncoding.DecodeString(strings.TrimRight(parts[1], "="))
	if err != nil {
		return true
	}
	var claims struct {
		Exp int64 `json:"exp"`
	}
	if err := json.Unmarshal(payload, &claims); err != nil {
		return true
	}
	return claims.Exp != 0 && time.Now().Unix() >= claims.Exp
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
