package credential

import (
	"encoding/json"
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testStore() *Store {
	log := logrus.New()
	log.SetOutput(io.Discard)
	return NewStore(log)
}

func writeCredential(t *testing.T, cred Credential) string {
	t.Helper()
	data, err := json.Marshal(cred)
	require.NoError(t, err)
	path := filepath.Join(t.TempDir(), "session.json")
	require.NoError(t, os.WriteFile(path, data, 0o600))
	return path
}

func TestStoreLoad(t *testing.T) {
	path := writeCredential(t, Credential{
		Marketplace: "mercadolivre",
		GeneratedAt: time.Now().UTC().Format(time.RFC3339),
		Account:     "promozone",
		Cookies: []Cookie{
			{Name: "ssid", Value: "abc", Domain: ".mercadolivre.com.br"},
			{Name: "_csrf", Value: "token"},
		},
	})

	cred, err := testStore().Load(path)
	require.NoError(t, err)
	assert.Equal(t, "mercadolivre", cred.Marketplace)
	assert.Equal(t, "promozone", cred.Account)
	assert.Len(t, cred.Cookies, 2)

	ck, ok := cred.Get("ssid")
	require.True(t, ok)
	assert.Equal(t, "abc", ck.Value)

	assert.True(t, cred.Has("ssid", "_csrf"))
	assert.False(t, cred.Has("ssid", "nsa_rotok"))
	assert.Equal(t, "ssid=abc; _csrf=token", cred.CookieHeader())
}

func TestStoreLoadMissingFile(t *testing.T) {
	_, err := testStore().Load(filepath.Join(t.TempDir(), "absent.json"))
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestStoreLoadMalformedFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "session.json")
	require.NoError(t, os.WriteFile(path, []byte("{truncated"), 0o600))

	_, err := testStore().Load(path)
	require.Error(t, err)
	assert.False(t, errors.Is(err, ErrNotFound), "A present but corrupt file is not a not-found condition")
}

func TestStoreLoadRejectsEmptyCookieList(t *testing.T) {
	path := writeCredential(t, Credential{Marketplace: "mercadolivre"})
	_, err := testStore().Load(path)
	assert.Error(t, err)
}

func TestStoreIsExpired(t *testing.T) {
	store := testStore()
	now := time.Now().UTC()
	cookie := []Cookie{{Name: "ssid", Value: "x"}}

	tests := []struct {
		name string
		cred Credential
		want bool
	}{
		{
			name: "fresh credential",
			cred: Credential{GeneratedAt: now.Format(time.RFC3339), Cookies: cookie},
			want: false,
		},
		{
			name: "explicit expiry in the past",
			cred: Credential{
				GeneratedAt: now.Format(time.RFC3339),
				ExpiresAt:   now.Add(-time.Hour).Format(time.RFC3339),
				Cookies:     cookie,
			},
			want: true,
		},
		{
			name: "explicit expiry in the future",
			cred: Credential{
				GeneratedAt: now.Format(time.RFC3339),
				ExpiresAt:   now.Add(time.Hour).Format(time.RFC3339),
				Cookies:     cookie,
			},
			want: false,
		},
		{
			name: "older than thirty days",
			cred: Credential{GeneratedAt: now.Add(-31 * 24 * time.Hour).Format(time.RFC3339), Cookies: cookie},
			want: true,
		},
		{
			name: "naive timestamp from the session tool",
			cred: Credential{GeneratedAt: now.Add(-31 * 24 * time.Hour).Format("2006-01-02T15:04:05.999999"), Cookies: cookie},
			want: true,
		},
		{
			name: "individually expired cookie",
			cred: Credential{
				GeneratedAt: now.Format(time.RFC3339),
				Cookies:     []Cookie{{Name: "ssid", Value: "x", Expires: float64(now.Add(-time.Hour).Unix())}},
			},
			want: true,
		},
		{
			name: "session cookie with zero expiry",
			cred: Credential{
				GeneratedAt: now.Format(time.RFC3339),
				Cookies:     []Cookie{{Name: "ssid", Value: "x", Expires: 0}},
			},
			want: false,
		},
		{
			name: "no timestamps at all",
			cred: Credential{Cookies: cookie},
			want: false,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cred := tt.cred
			assert.Equal(t, tt.want, store.IsExpired(&cred))
		})
	}
}
