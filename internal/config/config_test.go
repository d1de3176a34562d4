package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func baseConfig() Config {
	cfg := Config{TelegramBotToken: "token"}
	cfg.applyDefaults()
	return cfg
}

func TestValidateRequiresBotToken(t *testing.T) {
	cfg := baseConfig()
	cfg.TelegramBotToken = ""
	assert.Error(t, cfg.Validate())
}

func TestValidateAmazonTagGrammar(t *testing.T) {
	tests := []struct {
		name    string
		enabled bool
		tag     string
		wantErr bool
	}{
		{name: "disabled ignores tag", enabled: false, tag: "", wantErr: false},
		{name: "enabled with valid tag", enabled: true, tag: "promozone.stories-20", wantErr: false},
		{name: "enabled with empty tag", enabled: true, tag: "", wantErr: true},
		{name: "enabled with malformed tag", enabled: true, tag: "promozonestories", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := baseConfig()
			cfg.AmazonEnabled = tt.enabled
			cfg.AmazonAssociateTag = tt.tag

			err := cfg.Validate()
			if tt.wantErr {
				assert.Error(t, err, "Process must refuse to start on a malformed tag")
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestApplyDefaults(t *testing.T) {
	cfg := Config{TelegramBotToken: "token"}
	cfg.applyDefaults()

	assert.Equal(t, "./badger_data", cfg.BadgerDBPath)
	assert.Equal(t, "./sessions", cfg.SessionsPath)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, "promozonestories", cfg.MercadoLivreTag)
	assert.Contains(t, cfg.MercadoLivreCookieFile, "ml_cookies.json")
}
