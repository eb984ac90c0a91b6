package authctl

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	validation "github.com/go-ozzo/ozzo-validation"
	"github.com/go-ozzo/ozzo-validation/is"
	"gopkg.in/yaml.v3"
)

// Providers.
const (
	ProviderMock   = "mock"
	ProviderBarTab = "bartab"
	ProviderOAuth2 = "oauth2"
)

// Store drivers.
const (
	StoreMemory   = "memory"
	StoreFile     = "file"
	StoreSQLite   = "sqlite"
	StoreRedis    = "redis"
	StorePostgres = "postgres"
)

type Config struct {
	BaseURL  string `yaml:"base_url"` // Service base URL (default: http://localhost:8080)
	Provider string `yaml:"provider"` // mock, bartab, oauth2 (default: mock)

	ClientID     string   `yaml:"client_id"`     // bartab, oauth2
	ClientSecret string   `yaml:"client_secret"` // Optional: confidential clients only
	RedirectURI  string   `yaml:"redirect_uri"`  // bartab (default: authsdk.DefaultRedirectURI)
	Scopes       []string `yaml:"scopes"`

	TokenURL    string `yaml:"token_url"`    // oauth2: defaults to BaseURL + /oauth2/token
	UserInfoURL string `yaml:"userinfo_url"` // oauth2: defaults to BaseURL + /userinfo
	RevokeURL   string `yaml:"revoke_url"`   // oauth2: optional

	Store       string `yaml:"store"`        // memory, file, sqlite, redis, postgres (default: file)
	StoreDSN    string `yaml:"store_dsn"`    // Path for file/sqlite, URL for redis/postgres
	StorePrefix string `yaml:"store_prefix"` // Key prefix (redis) or table (postgres)

	Timeout     time.Duration `yaml:"timeout"`      // Per-request timeout (default: 10s)
	MetricsFile string        `yaml:"metrics_file"` // Optional: Prometheus textfile written on exit

	Env       string `yaml:"env"`        // dev, staging, prod (default: dev)
	LogLevel  string `yaml:"log_level"`  // debug, info, warn, error (default: warn)
	LogFormat string `yaml:"log_format"` // json, text (default: text)
}

// LoadConfig reads the environment and overlays the YAML file at path, if
// any. AUTHCTL_CONFIG names the file when path is empty. A missing file is
// only an error when it was named explicitly.
func LoadConfig(path string) (Config, error) {
	cfg := Config{
		BaseURL:      getEnvOrDefault("AUTHCTL_BASE_URL", "http://localhost:8080"),
		Provider:     getEnvOrDefault("AUTHCTL_PROVIDER", ProviderMock),
		ClientID:     os.Getenv("AUTHCTL_CLIENT_ID"),
		ClientSecret: os.Getenv("AUTHCTL_CLIENT_SECRET"),
		RedirectURI:  os.Getenv("AUTHCTL_REDIRECT_URI"),
		Scopes:       getEnvListOrDefault("AUTHCTL_SCOPES", nil),
		TokenURL:     os.Getenv("AUTHCTL_TOKEN_URL"),
		UserInfoURL:  os.Getenv("AUTHCTL_USERINFO_URL"),
		RevokeURL:    os.Getenv("AUTHCTL_REVOKE_URL"),
		Store:        getEnvOrDefault("AUTHCTL_STORE", StoreFile),
		StoreDSN:     os.Getenv("AUTHCTL_STORE_DSN"),
		StorePrefix:  os.Getenv("AUTHCTL_STORE_PREFIX"),
		Timeout:      getEnvDurationOrDefault("AUTHCTL_TIMEOUT", 10*time.Second),
		MetricsFile:  os.Getenv("AUTHCTL_METRICS_FILE"),
		Env:          getEnvOrDefault("ENV", "dev"),
		LogLevel:     getEnvOrDefault("LOG_LEVEL", "warn"),
		LogFormat:    getEnvOrDefault("LOG_FORMAT", "text"),
	}

	explicit := path != ""
	if !explicit {
		path = os.Getenv("AUTHCTL_CONFIG")
		explicit = path != ""
	}
	if path == "" {
		path = filepath.Join(defaultConfigDir(), "config.yaml")
	}

	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("error loading config from %s: %w", path, err)
		}
	case errors.Is(err, os.ErrNotExist) && !explicit:
	default:
		return Config{}, fmt.Errorf("error loading config from %s: %w", path, err)
	}

	if cfg.StoreDSN == "" {
		switch cfg.Store {
		case StoreFile:
			cfg.StoreDSN = filepath.Join(defaultConfigDir(), "session.json")
		case StoreSQLite:
			cfg.StoreDSN = filepath.Join(defaultConfigDir(), "session.db")
		}
	}

	return cfg, nil
}

// Validate checks the combination of provider and store settings.
func (c Config) Validate() error {
	return validation.ValidateStruct(&c,
		validation.Field(&c.BaseURL, validation.Required, is.URL),
		validation.Field(&c.Provider, validation.Required, validation.In(ProviderMock, ProviderBarTab, ProviderOAuth2)),
		validation.Field(&c.ClientID, requiredIf(c.Provider != ProviderMock)),
		validation.Field(&c.RedirectURI, is.URL),
		validation.Field(&c.TokenURL, is.URL),
		validation.Field(&c.UserInfoURL, is.URL),
		validation.Field(&c.RevokeURL, is.URL),
		validation.Field(&c.Store, validation.Required, validation.In(StoreMemory, StoreFile, StoreSQLite, StoreRedis, StorePostgres)),
		validation.Field(&c.StoreDSN, requiredIf(c.Store != StoreMemory)),
		validation.Field(&c.Timeout, validation.Min(time.Duration(0))),
		validation.Field(&c.LogFormat, validation.In("json", "text")),
	)
}

func requiredIf(cond bool) validation.Rule {
	return validation.By(func(value interface{}) error {
		if s, _ := value.(string); cond && strings.TrimSpace(s) == "" {
			return errors.New("cannot be blank")
		}
		return nil
	})
}

func defaultConfigDir() string {
	if dir, err := os.UserConfigDir(); err == nil {
		return filepath.Join(dir, "authctl")
	}
	return ".authctl"
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvListOrDefault(key string, defaultValue []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return strings.FieldsFunc(value, func(r rune) bool { return r == ',' || r == ' ' })
}

func getEnvDurationOrDefault(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	if d, err := time.ParseDuration(value); err == nil {
		return d
	}
	// Bare integers are seconds.
	if secs, err := strconv.Atoi(value); err == nil {
		return time.Duration(secs) * time.Second
	}
	return defaultValue
}
