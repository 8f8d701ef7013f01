package config

import (
	"testing"
	"time"

	"github.com/spf13/viper"
)

func TestLoadDefaults(t *testing.T) {
	viper.Reset()

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}

	if cfg.Exchange.BaseURL != "https://api.binance.com" {
		t.Fatalf("base url = %s", cfg.Exchange.BaseURL)
	}
	if cfg.Exchange.WSUrl != "wss://stream.binance.com:9443/ws" {
		t.Fatalf("ws url = %s", cfg.Exchange.WSUrl)
	}
	if cfg.Engine.ReconcileInterval != 5*time.Second {
		t.Fatalf("reconcile interval = %s, want 5s", cfg.Engine.ReconcileInterval)
	}
	if cfg.Engine.BalanceWaitInterval != 60*time.Second {
		t.Fatalf("balance wait interval = %s, want 60s", cfg.Engine.BalanceWaitInterval)
	}
	if cfg.Engine.QuoteAsset != "USDT" {
		t.Fatalf("quote asset = %s, want USDT", cfg.Engine.QuoteAsset)
	}
	if cfg.HTTP.Addr != ":8080" {
		t.Fatalf("http addr = %s, want :8080", cfg.HTTP.Addr)
	}
	if cfg.Store.Path != "dcafleet.db" {
		t.Fatalf("store path = %s", cfg.Store.Path)
	}
	if cfg.Runtime.Log.Level != "info" || cfg.Runtime.Log.Format != "text" {
		t.Fatalf("log defaults = %s/%s", cfg.Runtime.Log.Level, cfg.Runtime.Log.Format)
	}
}

func TestSecretsSubstituteFromEnv(t *testing.T) {
	viper.Reset()
	t.Setenv("DCAFLEET_TEST_API_KEY", "key-from-env")
	t.Setenv("DCAFLEET_TEST_SECRET", "secret-from-env")
	viper.Set("exchange.api_key", "${DCAFLEET_TEST_API_KEY}")
	viper.Set("exchange.secret", "prefix-${DCAFLEET_TEST_SECRET}")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}

	if cfg.Exchange.ApiKey != "key-from-env" {
		t.Fatalf("api key = %q", cfg.Exchange.ApiKey)
	}
	if cfg.Exchange.Secret != "prefix-secret-from-env" {
		t.Fatalf("secret = %q", cfg.Exchange.Secret)
	}
}
