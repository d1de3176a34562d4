package affiliate

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"

	"github.com/jarcoal/httpmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"promoengine/internal/credential"
	"promoengine/internal/domain"
)

// stubConverter lets tests script converter behavior and count calls.
type stubConverter struct {
	marketplace string
	link        string
	err         error
	calls       int
}

func (s *stubConverter) Marketplace() string { return s.marketplace }

func (s *stubConverter) Validate(string) bool { return true }

func (s *stubConverter) Convert(context.Context, string) (string, error) {
	s.calls++
	if s.err != nil {
		return "", s.err
	}
	return s.link, nil
}

// memoryRepository is an in-memory storage.Repository for manager tests.
type memoryRepository struct {
	mu    sync.Mutex
	items map[string]domain.Conversion
}

func newMemoryRepository() *memoryRepository {
	return &memoryRepository{items: make(map[string]domain.Conversion)}
}

func (r *memoryRepository) SaveConversion(_ context.Context, conv domain.Conversion) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.items[conv.Marketplace+"|"+conv.OriginalURL] = conv
	return nil
}

func (r *memoryRepository) GetConversion(_ context.Context, marketplace, originalURL string) (*domain.Conversion, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	conv, ok := r.items[marketplace+"|"+originalURL]
	if !ok {
		return nil, nil
	}
	return &conv, nil
}

func (r *memoryRepository) Close() error { return nil }

func TestManagerConvertSuccess(t *testing.T) {
	m := NewManager(testLogger(), nil, nil)
	stub := &stubConverter{marketplace: "amazon", link: "https://amazon.com.br/dp/B09T4YK6QK?tag=promozone-20"}
	m.Register("amazon", stub)

	result := m.Convert(context.Background(), "https://www.amazon.com.br/dp/B09T4YK6QK", "amazon")
	assert.Equal(t, domain.StatusSuccess, result.Status)
	assert.Equal(t, domain.SourceConverted, result.Source)
	assert.Equal(t, stub.link, result.Link)
	assert.Equal(t, "amazon", result.Marketplace)
}

func TestManagerConvertUnregisteredMarketplaceFallsBack(t *testing.T) {
	m := NewManager(testLogger(), nil, nil)

	url := "https://shopee.com.br/product-i.123.456"
	result := m.Convert(context.Background(), url, "shopee")

	assert.Equal(t, domain.StatusFallback, result.Status)
	assert.Equal(t, domain.SourceOriginal, result.Source)
	assert.Equal(t, url, result.Link, "Fallback must return the caller's URL untouched")
}

func TestManagerConvertSwallowsConverterErrors(t *testing.T) {
	m := NewManager(testLogger(), nil, NewMetrics())
	stub := &stubConverter{
		marketplace: "mercadolivre",
		err:         newError(KindRateLimit, "mercadolivre", "throttled"),
	}
	m.Register("mercadolivre", stub)

	url := "https://produto.mercadolivre.com.br/MLB-4558937712-produto"
	result := m.Convert(context.Background(), url, "mercadolivre")

	assert.Equal(t, domain.StatusFallback, result.Status)
	assert.Equal(t, url, result.Link)
	assert.Equal(t, 1, stub.calls)
}

func TestManagerConvertSwallowsUnstructuredErrors(t *testing.T) {
	m := NewManager(testLogger(), nil, nil)
	m.Register("amazon", &stubConverter{marketplace: "amazon", err: errors.New("boom")})

	result := m.Convert(context.Background(), "https://amazon.com.br/dp/B09T4YK6QK", "amazon")
	assert.Equal(t, domain.StatusFallback, result.Status)
}

func TestManagerNormalizesMarketplaceNames(t *testing.T) {
	m := NewManager(testLogger(), nil, nil)
	stub := &stubConverter{marketplace: "mercadolivre", link: "https://mercadolivre.com/sec/Ab12Cd"}
	m.Register("mercadolivre", stub)

	for _, name := range []string{"Mercado Livre", "MERCADOLIVRE", " mercadolivre ", "mercado libre"} {
		result := m.Convert(context.Background(), "https://produto.mercadolivre.com.br/MLB-1-x", name)
		assert.Equal(t, domain.StatusSuccess, result.Status, "name %q should resolve", name)
		assert.Equal(t, "mercadolivre", result.Marketplace)
	}
}

func TestManagerRegisterLastWins(t *testing.T) {
	m := NewManager(testLogger(), nil, nil)
	first := &stubConverter{marketplace: "amazon", link: "https://first"}
	second := &stubConverter{marketplace: "amazon", link: "https://second"}
	m.Register("amazon", first)
	m.Register("Amazon", second)

	result := m.Convert(context.Background(), "https://amazon.com.br/dp/B09T4YK6QK", "amazon")
	assert.Equal(t, "https://second", result.Link)
	assert.Zero(t, first.calls)
	assert.Equal(t, []string{"amazon"}, m.Registered())
}

func TestManagerDetectMarketplace(t *testing.T) {
	m := NewManager(testLogger(), nil, nil)

	tests := []struct {
		url  string
		want string
	}{
		{url: "https://www.amazon.com.br/dp/B09T4YK6QK", want: "amazon"},
		{url: "https://amzn.to/abc", want: "amazon"},
		{url: "https://produto.mercadolivre.com.br/MLB-4558937712-produto", want: "mercadolivre"},
		{url: "https://www.mercadolibre.com/p/MLB1", want: "mercadolivre"},
		{url: "https://shopee.com.br/product-i.123.456", want: "shopee"},
		{url: "https://example.com/whatever", want: ""},
		{url: "://broken", want: ""},
	}
	for _, tt := range tests {
		t.Run(tt.url, func(t *testing.T) {
			assert.Equal(t, tt.want, m.DetectMarketplace(tt.url))
		})
	}
}

func TestManagerServesCachedSuccess(t *testing.T) {
	repo := newMemoryRepository()
	m := NewManager(testLogger(), repo, nil)
	stub := &stubConverter{marketplace: "amazon", link: "https://amazon.com.br/dp/B09T4YK6QK?tag=promozone-20"}
	m.Register("amazon", stub)

	url := "https://www.amazon.com.br/dp/B09T4YK6QK"
	ctx := context.Background()

	first := m.Convert(ctx, url, "amazon")
	require.Equal(t, domain.StatusSuccess, first.Status)
	require.Equal(t, 1, stub.calls)

	second := m.Convert(ctx, url, "amazon")
	assert.Equal(t, first.Link, second.Link)
	assert.Equal(t, 1, stub.calls, "Second conversion must be served from cache")
}

func TestManagerDoesNotCacheFallbacks(t *testing.T) {
	repo := newMemoryRepository()
	m := NewManager(testLogger(), repo, nil)
	stub := &stubConverter{marketplace: "amazon", err: newError(KindUpstream, "amazon", "bad shape")}
	m.Register("amazon", stub)

	url := "https://www.amazon.com.br/dp/B09T4YK6QK"
	ctx := context.Background()

	m.Convert(ctx, url, "amazon")
	m.Convert(ctx, url, "amazon")
	assert.Equal(t, 2, stub.calls, "Fallback outcomes must not short-circuit later attempts")

	// The audit record of the fallback is still kept.
	recorded, err := repo.GetConversion(ctx, "amazon", url)
	require.NoError(t, err)
	require.NotNil(t, recorded)
	assert.Equal(t, domain.StatusFallback, recorded.Status)
	assert.Equal(t, "upstream", recorded.Error)
}

// End-to-end check: a Mercado Livre URL with no session file on disk falls
// back to the original link without raising.
func TestManagerMercadoLivreWithoutSessionFallsBack(t *testing.T) {
	m := NewManager(testLogger(), nil, NewMetrics())

	store := credential.NewStore(testLogger())
	missing := filepath.Join(t.TempDir(), "ml_cookies.json")
	conv := NewMercadoLivreConverter(store, missing, "promozonestories", nil, testLogger())
	conv.client.Transport = httpmock.NewMockTransport()
	m.Register(conv.Marketplace(), conv)

	url := "https://produto.mercadolivre.com.br/MLB-4558937712-produto"
	result := m.Convert(context.Background(), url, "mercadolivre")

	assert.Equal(t, domain.StatusFallback, result.Status)
	assert.Equal(t, url, result.Link)
}
