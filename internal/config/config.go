package config

import (
	"fmt"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

func init() {
	// Load .env file if it exists (silent fail if not)
	_ = godotenv.Load()
}

// Config holds all application configuration loaded from environment variables.
type Config struct {
	Server     ServerConfig
	App        AppConfig
	Cache      CacheConfig
	Database   DatabaseConfig
	PlanDB     PlanDBConfig
	Stylist    StylistConfig
	Inference  InferenceConfig
	Moderation ModerationConfig
	Auth       AuthConfig
}

// AuthConfig holds session issuance settings. ServiceKey authenticates the
// main app backend when it requests session tokens for its users.
type AuthConfig struct {
	ServiceKey string `envconfig:"AUTH_SERVICE_KEY" default:""`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host            string        `envconfig:"SERVER_HOST" default:"0.0.0.0"`
	Port            int           `envconfig:"SERVER_PORT" default:"8080"`
	ReadTimeout     time.Duration `envconfig:"SERVER_READ_TIMEOUT" default:"15s"`
	WriteTimeout    time.Duration `envconfig:"SERVER_WRITE_TIMEOUT" default:"120s"`
	ShutdownTimeout time.Duration `envconfig:"SERVER_SHUTDOWN_TIMEOUT" default:"30s"`
}

// AppConfig holds application-level settings.
type AppConfig struct {
	Name        string `envconfig:"APP_NAME" default:"stylemate-api"`
	Environment string `envconfig:"APP_ENV" default:"development"`
	Debug       bool   `envconfig:"APP_DEBUG" default:"false"`
	Version     string `envconfig:"APP_VERSION" default:"1.0.0"`
}

// CacheConfig holds Redis settings.
type CacheConfig struct {
	RedisHost     string        `envconfig:"REDIS_HOST" default:"localhost"`
	RedisPort     int           `envconfig:"REDIS_PORT" default:"6379"`
	RedisPassword string        `envconfig:"REDIS_PASSWORD" default:""`
	RedisDB       int           `envconfig:"REDIS_DB" default:"0"`
	PlanTTL       time.Duration `envconfig:"PLAN_CACHE_TTL" default:"1m"`
}

// DatabaseConfig holds SQLite settings for stylist-owned data
// (threads, messages, quota counters, inference events, wardrobe).
type DatabaseConfig struct {
	Path string `envconfig:"DB_PATH" default:"./data/stylemate.db"`
}

// PlanDBConfig holds entitlement database settings. Plan data lives either in
// the local SQLite file (development) or the shared MySQL accounts database.
type PlanDBConfig struct {
	Type     string `envconfig:"PLAN_DB_TYPE" default:"sqlite"` // sqlite or mysql
	Host     string `envconfig:"PLAN_DB_HOST" default:"localhost"`
	Port     int    `envconfig:"PLAN_DB_PORT" default:"3306"`
	Name     string `envconfig:"PLAN_DB_NAME" default:"stylemate"`
	User     string `envconfig:"PLAN_DB_USER" default:"root"`
	Password string `envconfig:"PLAN_DB_PASS" default:""`
}

// StylistConfig holds admission and orchestration settings.
type StylistConfig struct {
	MaxInflightPerUser int           `envconfig:"STYLIST_MAX_INFLIGHT_PER_USER" default:"2"`
	ContextItemCap     int           `envconfig:"STYLIST_CONTEXT_ITEM_CAP" default:"50"`
	HistoryWindow      int           `envconfig:"STYLIST_HISTORY_WINDOW" default:"10"`
	PendingMaxAge      time.Duration `envconfig:"STYLIST_PENDING_MAX_AGE" default:"30m"`
	PaidPlans          []string      `envconfig:"STYLIST_PAID_PLANS" default:"plus,pro"`
	QuotaBackend       string        `envconfig:"STYLIST_QUOTA_BACKEND" default:"sqlite"` // sqlite, redis, or memory
}

// InferenceConfig holds inference provider settings.
type InferenceConfig struct {
	Provider        string        `envconfig:"INFERENCE_PROVIDER" default:"openai"`
	BaseURL         string        `envconfig:"INFERENCE_BASE_URL" default:"https://api.openai.com/v1"`
	APIKey          string        `envconfig:"INFERENCE_API_KEY" default:""`
	Model           string        `envconfig:"INFERENCE_MODEL" default:"gpt-4o-mini"`
	VisionModel     string        `envconfig:"INFERENCE_VISION_MODEL" default:"gpt-4o"`
	ModelAllowlist  []string      `envconfig:"INFERENCE_MODEL_ALLOWLIST" default:"gpt-4o-mini,gpt-4o"`
	Timeout         time.Duration `envconfig:"INFERENCE_TIMEOUT" default:"30s"`
	BreakerFailures int           `envconfig:"INFERENCE_BREAKER_FAILURES" default:"3"`
	BreakerCooldown time.Duration `envconfig:"INFERENCE_BREAKER_COOLDOWN" default:"30s"`
}

// ModerationConfig holds content-safety service settings.
type ModerationConfig struct {
	BaseURL string        `envconfig:"MODERATION_BASE_URL" default:""`
	APIKey  string        `envconfig:"MODERATION_API_KEY" default:""`
	Timeout time.Duration `envconfig:"MODERATION_TIMEOUT" default:"5s"`
}

// Address returns the server address in host:port format.
func (s *ServerConfig) Address() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// RedisAddress returns the Redis address in host:port format.
func (c *CacheConfig) RedisAddress() string {
	return fmt.Sprintf("%s:%d", c.RedisHost, c.RedisPort)
}

// DSN returns the MySQL data source name for the plan database.
func (p *PlanDBConfig) DSN() string {
	return fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?parseTime=true",
		p.User, p.Password, p.Host, p.Port, p.Name)
}

// IsDevelopment returns true if running in development mode.
func (a *AppConfig) IsDevelopment() bool {
	return a.Environment == "development"
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	var cfg Config

	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Validate checks configuration invariants that must fail fast at startup.
// An out-of-allowlist model is a deployment mistake, never a runtime fallback.
func (c *Config) Validate() error {
	if err := c.Inference.ValidateModels(); err != nil {
		return err
	}
	if c.Stylist.MaxInflightPerUser < 1 {
		return fmt.Errorf("config: STYLIST_MAX_INFLIGHT_PER_USER must be at least 1")
	}
	return nil
}

// ValidateModels verifies the configured models against the allowlist.
func (i *InferenceConfig) ValidateModels() error {
	for _, m := range []string{i.Model, i.VisionModel} {
		if !i.ModelAllowed(m) {
			return fmt.Errorf("config: model %q is not in INFERENCE_MODEL_ALLOWLIST", m)
		}
	}
	return nil
}

// ModelAllowed reports whether a model is on the allowlist.
func (i *InferenceConfig) ModelAllowed(model string) bool {
	for _, allowed := range i.ModelAllowlist {
		if allowed == model {
			return true
		}
	}
	return false
}

// MustLoad loads configuration or panics on error.
func MustLoad() *Config {
	cfg, err := Load()
	if err != nil {
		panic(err)
	}
	return cfg
}
