package affiliate

import (
	"context"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"promoengine/internal/domain"
	"promoengine/internal/storage"
)

// marketplaceAliases maps display names to registry keys. Keys are already
// case-folded before lookup.
var marketplaceAliases = map[string]string{
	"mercado livre": "mercadolivre",
	"mercado libre": "mercadolivre",
	"amazon.com.br": "amazon",
	"amazon brasil": "amazon",
}

// domainMarketplaces maps known hosts to marketplace keys, used when a
// caller has only a URL and no marketplace hint. Order matters: more
// specific domains come first.
var domainMarketplaces = []struct {
	domain      string
	marketplace string
}{
	{"produto.mercadolivre.com.br", "mercadolivre"},
	{"mercadolivre.com.br", "mercadolivre"},
	{"mercadolivre.com", "mercadolivre"},
	{"mercadolibre.com", "mercadolivre"},
	{"amazon.com.br", "amazon"},
	{"amazon.com", "amazon"},
	{"amzn.to", "amazon"},
	{"shopee.com.br", "shopee"},
}

// NormalizeMarketplace case-folds a marketplace name and resolves display
// aliases to registry keys ("Mercado Livre" -> "mercadolivre").
func NormalizeMarketplace(name string) string {
	key := strings.ToLower(strings.TrimSpace(name))
	if alias, ok := marketplaceAliases[key]; ok {
		return alias
	}
	return key
}

// Manager owns the converter registry and the fallback policy. Its Convert
// method is total: whatever goes wrong, the caller gets a usable link back.
type Manager struct {
	converters map[string]Converter
	repo       storage.Repository
	metrics    *Metrics
	log        logrus.FieldLogger
}

// NewManager creates an empty registry. repo and metrics may be nil; the
// manager then skips caching and instrumentation respectively.
func NewManager(logger logrus.FieldLogger, repo storage.Repository, metrics *Metrics) *Manager {
	return &Manager{
		converters: make(map[string]Converter),
		repo:       repo,
		metrics:    metrics,
		log:        logger.WithField("component", "affiliate_manager"),
	}
}

// Register stores a converter under the normalized marketplace key,
// silently overwriting any previous registration. Registration happens at
// startup only; the map is read-only afterwards.
func (m *Manager) Register(marketplace string, conv Converter) {
	key := NormalizeMarketplace(marketplace)
	m.converters[key] = conv
	m.log.WithField("marketplace", key).Info("Registered affiliate converter")
}

// Registered returns the sorted marketplace keys with converters.
func (m *Manager) Registered() []string {
	keys := make([]string, 0, len(m.converters))
	for key := range m.converters {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}

// DetectMarketplace infers the marketplace key from a URL's host, or
// returns "" when the host is not recognized.
func (m *Manager) DetectMarketplace(rawURL string) string {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	host := strings.ToLower(parsed.Hostname())
	host = strings.TrimPrefix(host, "www.")
	for _, entry := range domainMarketplaces {
		if host == entry.domain || strings.HasSuffix(host, "."+entry.domain) {
			return entry.marketplace
		}
	}
	return ""
}

// Convert dispatches the URL to the marketplace's converter. It never
// returns an error: any failure is logged, counted, and downgraded to a
// fallback result carrying the original URL. A story post must never fail
// because its affiliate link could not be converted.
func (m *Manager) Convert(ctx context.Context, rawURL, marketplace string) domain.ConversionResult {
	key := NormalizeMarketplace(marketplace)
	log := m.log.WithFields(logrus.Fields{
		"marketplace": key,
		"url":         rawURL,
	})

	conv, ok := m.converters[key]
	if !ok {
		// Not an error: the marketplace simply isn't configured for
		// affiliate conversion.
		log.Info("No converter registered, returning original link")
		m.metrics.IncConversion(key, string(domain.StatusFallback))
		m.record(ctx, rawURL, rawURL, key, domain.StatusFallback, "marketplace_not_registered")
		return fallbackResult(rawURL, key)
	}

	if cached := m.cachedLink(ctx, key, rawURL); cached != "" {
		log.WithField("link", cached).Debug("Serving conversion from cache")
		m.metrics.IncConversion(key, string(domain.StatusSuccess))
		return successResult(cached, key)
	}

	start := time.Now()
	converted, err := conv.Convert(ctx, rawURL)
	m.metrics.ObserveDuration(time.Since(start))

	if err != nil || converted == "" {
		kind := errorKindLabel(err)
		entry := log.WithError(err).WithField("kind", kind)
		if kind == KindUpstream.String() {
			// Upstream shape changes need operator attention.
			entry.Error("Conversion failed, returning original link")
		} else {
			entry.Warn("Conversion failed, returning original link")
		}
		m.metrics.IncConversion(key, string(domain.StatusFallback))
		m.metrics.IncError(key, kind)
		m.record(ctx, rawURL, rawURL, key, domain.StatusFallback, kind)
		return fallbackResult(rawURL, key)
	}

	log.WithField("link", converted).Info("Conversion successful")
	m.metrics.IncConversion(key, string(domain.StatusSuccess))
	m.record(ctx, rawURL, converted, key, domain.StatusSuccess, "")
	return successResult(converted, key)
}

// cachedLink returns a previously converted link for the URL, or "". Only
// successful outcomes are served from cache.
func (m *Manager) cachedLink(ctx context.Context, marketplace, rawURL string) string {
	if m.repo == nil {
		return ""
	}
	cached, err := m.repo.GetConversion(ctx, marketplace, rawURL)
	if err != nil {
		m.log.WithError(err).Warn("Conversion cache lookup failed")
		return ""
	}
	if cached == nil || cached.Status != domain.StatusSuccess {
		return ""
	}
	return cached.Link
}

// record persists the outcome. Storage failures are logged and swallowed;
// persistence is never allowed to affect the result.
func (m *Manager) record(ctx context.Context, originalURL, link, marketplace string, status domain.Status, errKind string) {
	if m.repo == nil {
		return
	}
	conv := domain.Conversion{
		OriginalURL: originalURL,
		Link:        link,
		Marketplace: marketplace,
		Status:      status,
		Error:       errKind,
		Timestamp:   time.Now(),
	}
	if err := m.repo.SaveConversion(ctx, conv); err != nil {
		m.log.WithError(err).Warn("Failed to record conversion")
	}
}

func successResult(link, marketplace string) domain.ConversionResult {
	return domain.ConversionResult{
		Link:        link,
		Marketplace: marketplace,
		Status:      domain.StatusSuccess,
		Source:      domain.SourceConverted,
	}
}

func fallbackResult(link, marketplace string) domain.ConversionResult {
	return domain.ConversionResult{
		Link:        link,
		Marketplace: marketplace,
		Status:      domain.StatusFallback,
		Source:      domain.SourceOriginal,
	}
}
