package config

import (
	"os"
	"regexp"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Exchange ExchangeConfig
	Engine   EngineConfig
	HTTP     HTTPConfig
	Store    StoreConfig
	Runtime  RuntimeConfig
}

type ExchangeConfig struct {
	BaseURL string
	WSUrl   string
	ApiKey  string
	Secret  string
}

type EngineConfig struct {
	ReconcileInterval   time.Duration
	BalanceWaitInterval time.Duration
	QuoteAsset          string
}

type HTTPConfig struct {
	Addr string
}

type StoreConfig struct {
	Path string
}

type RuntimeConfig struct {
	Log LogConfig
}

type LogConfig struct {
	Level      string
	Format     string
	File       string
	MaxSize    int
	MaxBackups int
	MaxAge     int
	Compress   bool
}

func Load() (*Config, error) {
	cfg := &Config{}
	viper.AddConfigPath("configs")
	viper.SetConfigName("config")

	viper.SetDefault("exchange.base_url", "https://api.binance.com")
	viper.SetDefault("exchange.ws_url", "wss://stream.binance.com:9443/ws")
	viper.SetDefault("engine.reconcile_interval", "5s")
	viper.SetDefault("engine.balance_wait_interval", "60s")
	viper.SetDefault("engine.quote_asset", "USDT")
	viper.SetDefault("http.addr", ":8080")
	viper.SetDefault("store.path", "dcafleet.db")
	viper.SetDefault("runtime.log.level", "info")
	viper.SetDefault("runtime.log.format", "text")

	viper.ReadInConfig()

	cfg.Exchange = ExchangeConfig{
		BaseURL: viper.GetString("exchange.base_url"),
		WSUrl:   viper.GetString("exchange.ws_url"),
		ApiKey:  envSub("exchange.api_key"),
		Secret:  envSub("exchange.secret"),
	}

	cfg.Engine = EngineConfig{
		ReconcileInterval:   viper.GetDuration("engine.reconcile_interval"),
		BalanceWaitInterval: viper.GetDuration("engine.balance_wait_interval"),
		QuoteAsset:          viper.GetString("engine.quote_asset"),
	}

	cfg.HTTP = HTTPConfig{
		Addr: viper.GetString("http.addr"),
	}

	cfg.Store = StoreConfig{
		Path: viper.GetString("store.path"),
	}

	cfg.Runtime = RuntimeConfig{
		Log: LogConfig{
			Level:      viper.GetString("runtime.log.level"),
			Format:     viper.GetString("runtime.log.format"),
			File:       viper.GetString("runtime.log.file"),
			MaxSize:    viper.GetInt("runtime.log.max_size"),
			MaxBackups: viper.GetInt("runtime.log.max_backups"),
			MaxAge:     viper.GetInt("runtime.log.max_age"),
			Compress:   viper.GetBool("runtime.log.compress"),
		},
	}

	return cfg, nil
}

func envSub(key string) string {
	val := viper.GetString(key)
	if val == "" {
		return ""
	}

	re := regexp.MustCompile(`\$\{(\w+)\}`)
	return re.ReplaceAllStringFunc(val, func(match string) string {
		envKey := strings.TrimSuffix(strings.TrimPrefix(match, "${"), "}")
		return os.Getenv(envKey)
	})
}
