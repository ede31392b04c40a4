package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const (
	envPrefix = "FOLIO"

	defaultHTTPAddress        = "0.0.0.0:8080"
	defaultDatabasePath       = "folio.db"
	defaultLogLevel           = "info"
	defaultTokenTTLMinutes    = 720
	defaultAutosaveDebounceMS = 2000
	defaultHeartbeatSeconds   = 30
)

// AppConfig captures runtime configuration for the API server.
type AppConfig struct {
	HTTPAddress       string
	SigningSecret     string
	ProviderClientID  string
	ProviderJWKSURL   string
	ProviderIssuers   []string
	DatabasePath      string
	LogLevel          string
	TokenTTL          time.Duration
	AutosaveDebounce  time.Duration
	HeartbeatInterval time.Duration
}

// NewViper returns a viper instance with defaults and env bindings configured.
func NewViper() *viper.Viper {
	configViper := viper.New()
	ApplyDefaults(configViper)
	return configViper
}

// ApplyDefaults configures defaults and env bindings on the provided viper instance.
func ApplyDefaults(configViper *viper.Viper) {
	configViper.SetEnvPrefix(envPrefix)
	configViper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	configViper.AutomaticEnv()

	configViper.SetDefault("http.address", defaultHTTPAddress)
	configViper.SetDefault("database.path", defaultDatabasePath)
	configViper.SetDefault("log.level", defaultLogLevel)
	configViper.SetDefault("token.ttl_minutes", defaultTokenTTLMinutes)
	configViper.SetDefault("collab.autosave_debounce_ms", defaultAutosaveDebounceMS)
	configViper.SetDefault("collab.heartbeat_interval_s", defaultHeartbeatSeconds)
}

// Load parses runtime configuration from viper.
func Load(configViper *viper.Viper) (AppConfig, error) {
	cfg := AppConfig{
		HTTPAddress:       configViper.GetString("http.address"),
		SigningSecret:     configViper.GetString("auth.signing_secret"),
		ProviderClientID:  configViper.GetString("provider.client_id"),
		ProviderJWKSURL:   configViper.GetString("provider.jwks_url"),
		ProviderIssuers:   configViper.GetStringSlice("provider.issuers"),
		DatabasePath:      configViper.GetString("database.path"),
		LogLevel:          configViper.GetString("log.level"),
		TokenTTL:          time.Duration(configViper.GetInt("token.ttl_minutes")) * time.Minute,
		AutosaveDebounce:  time.Duration(configViper.GetInt("collab.autosave_debounce_ms")) * time.Millisecond,
		HeartbeatInterval: time.Duration(configViper.GetInt("collab.heartbeat_interval_s")) * time.Second,
	}

	if err := cfg.validate(); err != nil {
		return AppConfig{}, err
	}
	return cfg, nil
}

func (c AppConfig) validate() error {
	if strings.TrimSpace(c.SigningSecret) == "" {
		return fmt.Errorf("auth.signing_secret is required")
	}
	if strings.TrimSpace(c.DatabasePath) == "" {
		return fmt.Errorf("database.path is required")
	}
	if c.AutosaveDebounce <= 0 {
		return fmt.Errorf("collab.autosave_debounce_ms must be positive")
	}
	if c.HeartbeatInterval <= 0 {
		return fmt.Errorf("collab.heartbeat_interval_s must be positive")
	}
	return nil
}
