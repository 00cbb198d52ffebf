package config

import (
	"fmt"

	"github.com/spf13/viper"
)

// Config is the process-wide sidecar configuration, resolved from the
// CHEVAL_* environment. Per-request provider configuration arrives in the
// request body and never lives here.
type Config struct {
	Port            int
	HMACSecret      string
	HMACSecretPrev  string
	HMACSkewSeconds float64
	NonceCacheSize  int
	NonceRedisURL   string
	LedgerPath      string
	RunDir          string
	PricingPath     string
	LogLevel        string
	LogFormat       string
	AllowedOrigins  []string
}

func Load() (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix("CHEVAL")
	v.AutomaticEnv()

	v.SetDefault("port", 3001)
	v.SetDefault("hmac_skew_seconds", 30.0)
	v.SetDefault("nonce_cache_size", 10000)
	v.SetDefault("ledger_path", "data/hounfour/cost-ledger.jsonl")
	v.SetDefault("run_dir", ".run")
	v.SetDefault("log_level", "info")
	v.SetDefault("log_format", "json")
	v.SetDefault("allowed_origins", []string{"http://127.0.0.1", "http://localhost"})

	for _, key := range []string{
		"port", "hmac_secret", "hmac_secret_prev", "hmac_skew_seconds",
		"nonce_cache_size", "nonce_redis_url", "ledger_path", "run_dir",
		"pricing_path", "log_level", "log_format", "allowed_origins",
	} {
		if err := v.BindEnv(key); err != nil {
			return nil, fmt.Errorf("bind env %s: %w", key, err)
		}
	}

	cfg := &Config{
		Port:            v.GetInt("port"),
		HMACSecret:      v.GetString("hmac_secret"),
		HMACSecretPrev:  v.GetString("hmac_secret_prev"),
		HMACSkewSeconds: v.GetFloat64("hmac_skew_seconds"),
		NonceCacheSize:  v.GetInt("nonce_cache_size"),
		NonceRedisURL:   v.GetString("nonce_redis_url"),
		LedgerPath:      v.GetString("ledger_path"),
		RunDir:          v.GetString("run_dir"),
		PricingPath:     v.GetString("pricing_path"),
		LogLevel:        v.GetString("log_level"),
		LogFormat:       v.GetString("log_format"),
		AllowedOrigins:  v.GetStringSlice("allowed_origins"),
	}

	if cfg.Port <= 0 || cfg.Port > 65535 {
		return nil, fmt.Errorf("invalid CHEVAL_PORT: %d", cfg.Port)
	}
	if cfg.HMACSkewSeconds <= 0 {
		return nil, fmt.Errorf("invalid CHEVAL_HMAC_SKEW_SECONDS: %v", cfg.HMACSkewSeconds)
	}
	if cfg.NonceCacheSize <= 0 {
		return nil, fmt.Errorf("invalid CHEVAL_NONCE_CACHE_SIZE: %d", cfg.NonceCacheSize)
	}

	return cfg, nil
}
