package config

import (
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"CatalogHarvester/internal/domain"
)

// ConfigPathEnv names the variable holding the YAML config path.
const ConfigPathEnv = "CATALOG_HARVESTER_CONFIG"

// DefaultEnvFiles are loaded, when present, before environment overrides.
var DefaultEnvFiles = []string{".env", ".env.local"}

// Config holds high-level settings required across the application.
type Config struct {
	Logging               LoggingConfig      `yaml:"logging"`
	Catalog               CatalogConfig      `yaml:"catalog"`
	Staging               StagingConfig      `yaml:"staging"`
	Database              DatabaseConfig     `yaml:"database"`
	HTTP                  HTTPConfig         `yaml:"http"`
	Server                ServerConfig       `yaml:"server"`
	Notifications         NotificationConfig `yaml:"notifications"`
	OrganizationOverrides string             `yaml:"organizationOverrides" env:"ORGANIZATION_OVERRIDES"`
	Extras                ExtrasConfig       `yaml:"extras"`
	Sources               []SourceConfig     `yaml:"sources" env:"-" validate:"dive"`
}

// LoggingConfig selects level and output format of the slog handler.
type LoggingConfig struct {
	Level  string `yaml:"level" env:"LOG_LEVEL"`
	Format string `yaml:"format" env:"LOG_FORMAT" validate:"omitempty,oneof=text json"`
}

// CatalogConfig points at the target catalog action API.
type CatalogConfig struct {
	URL    string `yaml:"url" env:"CATALOG_URL" validate:"required,url"`
	APIKey string `yaml:"apiKey" env:"CATALOG_API_KEY"`
}

// StagingConfig locates the SQLite work item queue.
type StagingConfig struct {
	Path string `yaml:"path" env:"STAGING_PATH" validate:"required"`
}

// DatabaseConfig describes the optional Postgres run journal.
type DatabaseConfig struct {
	DSN string `yaml:"dsn" env:"DATABASE_DSN"`
}

// HTTPConfig tunes the client used against upstream sources.
type HTTPConfig struct {
	Timeout           time.Duration `yaml:"timeout" env:"HTTP_TIMEOUT"`
	RequestsPerSecond float64       `yaml:"requestsPerSecond" env:"HTTP_REQUESTS_PER_SECOND" validate:"gte=0"`
	UserAgent         string        `yaml:"userAgent" env:"HTTP_USER_AGENT"`
}

// ServerConfig configures the trigger/health/metrics listener.
type ServerConfig struct {
	Addr   string `yaml:"addr" env:"SERVER_ADDR"`
	Secret string `yaml:"secret" env:"INTERNAL_SECRET"`
}

// NotificationConfig encapsulates outbound channels (Telegram, etc.).
type NotificationConfig struct {
	Telegram TelegramConfig `yaml:"telegram"`
}

// TelegramConfig wires all data required to send messages.
type TelegramConfig struct {
	BotToken string `yaml:"botToken" env:"TELEGRAM_BOT_TOKEN"`
	ChatID   string `yaml:"chatId" env:"TELEGRAM_CHAT_ID"`
	APIBase  string `yaml:"apiBase" env:"TELEGRAM_API_BASE"`
}

// Enabled reports whether both token and chat are set.
func (t TelegramConfig) Enabled() bool {
	return t.BotToken != "" && t.ChatID != ""
}

// ExtrasConfig overrides the baseline extras every record ends up with.
type ExtrasConfig struct {
	Baseline map[string]string `yaml:"baseline"`
}

// BaselineExtras returns the configured baseline in key order, or nil
// when none is configured.
func (e ExtrasConfig) BaselineExtras() domain.Extras {
	if len(e.Baseline) == 0 {
		return nil
	}
	keys := make([]string, 0, len(e.Baseline))
	for k := range e.Baseline {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make(domain.Extras, 0, len(keys))
	for _, k := range keys {
		out = out.Upsert(k, e.Baseline[k])
	}
	return out
}

// SourceConfig describes a single harvest source. Config holds the raw
// JSON configuration object of the source.
type SourceConfig struct {
	ID        string `yaml:"id" validate:"required"`
	Name      string `yaml:"name" validate:"required"`
	Title     string `yaml:"title"`
	URL       string `yaml:"url" validate:"required,url"`
	Type      string `yaml:"type" validate:"required"`
	Frequency string `yaml:"frequency" validate:"omitempty,oneof=MANUAL DAILY WEEKLY MONTHLY ALWAYS"`
	OwnerOrg  string `yaml:"ownerOrg"`
	Config    string `yaml:"config"`
}

// Source returns the source with the given name or id.
func (c Config) Source(ref string) (SourceConfig, bool) {
	for _, src := range c.Sources {
		if src.Name == ref || src.ID == ref {
			return src, true
		}
	}
	return SourceConfig{}, false
}

// LoadEnv loads the existing env files; variables already set win.
func LoadEnv(files ...string) (int, error) {
	existing := make([]string, 0, len(files))
	for _, file := range files {
		if _, err := os.Stat(file); err == nil {
			existing = append(existing, file)
		}
	}
	if len(existing) == 0 {
		return 0, nil
	}
	return len(existing), godotenv.Load(existing...)
}

// Load reads the YAML file at path (or at $CATALOG_HARVESTER_CONFIG when
// path is empty), merges it over the defaults and applies environment
// overrides. Without any path the defaults are used.
func Load(path string) (Config, error) {
	cfg := defaultConfig()

	if path == "" {
		path = os.Getenv(ConfigPathEnv)
	}
	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("config: read %s: %w", path, err)
		}
		var fileCfg Config
		if err := yaml.Unmarshal(raw, &fileCfg); err != nil {
			return Config{}, fmt.Errorf("config: parse %s: %w", path, err)
		}
		cfg = mergeConfig(cfg, fileCfg)
	}

	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("config: environment: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks required settings and source entries.
func (c Config) Validate() error {
	var errs domain.ConfigErrors
	if err := validator.New().Struct(c); err != nil {
		var fieldErrs validator.ValidationErrors
		if !errors.As(err, &fieldErrs) {
			return fmt.Errorf("config: %w", err)
		}
		for _, fe := range fieldErrs {
			msg := "failed " + fe.Tag()
			if fe.Param() != "" {
				msg += " " + fe.Param()
			}
			errs = append(errs, &domain.ConfigError{Field: strings.TrimPrefix(fe.Namespace(), "Config."), Message: msg})
		}
	}

	seen := map[string]struct{}{}
	for _, src := range c.Sources {
		for _, key := range []string{src.ID, src.Name} {
			if key == "" {
				continue
			}
			if _, dup := seen[key]; dup {
				errs = append(errs, &domain.ConfigError{Field: "sources", Message: fmt.Sprintf("duplicate source %q", key)})
			}
			seen[key] = struct{}{}
		}
	}

	if len(errs) > 0 {
		return errs
	}
	return nil
}

func mergeConfig(base, override Config) Config {
	if override.Logging.Level != "" {
		base.Logging.Level = override.Logging.Level
	}
	if override.Logging.Format != "" {
		base.Logging.Format = override.Logging.Format
	}

	if override.Catalog.URL != "" {
		base.Catalog.URL = override.Catalog.URL
	}
	if override.Catalog.APIKey != "" {
		base.Catalog.APIKey = override.Catalog.APIKey
	}

	if override.Staging.Path != "" {
		base.Staging.Path = override.Staging.Path
	}
	if override.Database.DSN != "" {
		base.Database = override.Database
	}

	if override.HTTP.Timeout > 0 {
		base.HTTP.Timeout = override.HTTP.Timeout
	}
	if override.HTTP.RequestsPerSecond > 0 {
		base.HTTP.RequestsPerSecond = override.HTTP.RequestsPerSecond
	}
	if override.HTTP.UserAgent != "" {
		base.HTTP.UserAgent = override.HTTP.UserAgent
	}

	if override.Server.Addr != "" {
		base.Server.Addr = override.Server.Addr
	}
	if override.Server.Secret != "" {
		base.Server.Secret = override.Server.Secret
	}

	if override.Notifications.Telegram.BotToken != "" {
		base.Notifications.Telegram.BotToken = override.Notifications.Telegram.BotToken
	}
	if override.Notifications.Telegram.ChatID != "" {
		base.Notifications.Telegram.ChatID = override.Notifications.Telegram.ChatID
	}
	if override.Notifications.Telegram.APIBase != "" {
		base.Notifications.Telegram.APIBase = override.Notifications.Telegram.APIBase
	}

	if override.OrganizationOverrides != "" {
		base.OrganizationOverrides = override.OrganizationOverrides
	}
	if len(override.Extras.Baseline) > 0 {
		base.Extras = override.Extras
	}
	if len(override.Sources) > 0 {
		base.Sources = override.Sources
	}

	return base
}

func defaultConfig() Config {
	return Config{
		Logging: LoggingConfig{Level: "info", Format: "text"},
		Catalog: CatalogConfig{URL: "http://localhost:5000"},
		Staging: StagingConfig{Path: "catalogharvester.db"},
		HTTP: HTTPConfig{
			Timeout:           60 * time.Second,
			RequestsPerSecond: 5,
			UserAgent:         "CatalogHarvester/1.0",
		},
		Server: ServerConfig{Addr: ":8080"},
	}
}
