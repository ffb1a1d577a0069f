package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
	_ "time/tzdata"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config is centralized process configuration.
// Keep infra values here and pass typed config into builders.
type Config struct {
	ServiceName string `yaml:"service_name" validate:"required"`
	HTTPPort    string `yaml:"http_port" validate:"required,numeric"`
	// PostgresDSN accepts a postgres:// URL or a sqlite: prefixed path.
	PostgresDSN string `yaml:"postgres_dsn"`
	LogLevel    string `yaml:"log_level" validate:"oneof=debug info warn error"`

	TickInterval      time.Duration `yaml:"tick_interval" validate:"gte=1s"`
	ReferenceTimezone string        `yaml:"reference_timezone" validate:"required,timezone"`
	BudgetResetTime   string        `yaml:"budget_reset_time" validate:"required,datetime=15:04"`
	HTTPTimeout       time.Duration `yaml:"http_timeout" validate:"gte=1s"`

	Ads        AdsConfig        `yaml:"ads"`
	Listings   ListingsConfig   `yaml:"listings"`
	Catalog    CatalogConfig    `yaml:"catalog"`
	Classifier ClassifierConfig `yaml:"classifier"`

	EnableScheduler     bool `yaml:"enable_scheduler"`
	EnableBudgetReset   bool `yaml:"enable_budget_reset"`
	EnableManualTrigger bool `yaml:"enable_manual_trigger"`
}

type AdsConfig struct {
	BaseURL       string  `yaml:"base_url" validate:"omitempty,url"`
	ClientID      string  `yaml:"client_id"`
	AccessToken   string  `yaml:"access_token"`
	RatePerSecond float64 `yaml:"rate_per_second" validate:"gt=0"`
	ChunkSize     int     `yaml:"chunk_size" validate:"min=1,max=100"`
	MaxParallel   int     `yaml:"max_parallel" validate:"min=1,max=32"`
}

type ListingsConfig struct {
	BaseURL       string        `yaml:"base_url" validate:"omitempty,url"`
	AccessToken   string        `yaml:"access_token"`
	SellerID      string        `yaml:"seller_id"`
	MarketplaceID string        `yaml:"marketplace_id"`
	RatePerSecond float64       `yaml:"rate_per_second" validate:"gt=0"`
	SKUDelay      time.Duration `yaml:"sku_delay" validate:"gte=0"`
}

type CatalogConfig struct {
	BaseURL     string `yaml:"base_url" validate:"omitempty,url"`
	AccessToken string `yaml:"access_token"`
}

type ClassifierConfig struct {
	BaseURL    string        `yaml:"base_url" validate:"omitempty,url"`
	Model      string        `yaml:"model"`
	APIKeys    []string      `yaml:"api_keys"`
	BatchSize  int           `yaml:"batch_size" validate:"min=1,max=100"`
	BatchDelay time.Duration `yaml:"batch_delay" validate:"gte=0"`
}

// Load reads .env (when present), then the environment, then the optional
// YAML file named by AUTOMATION_CONFIG_FILE. Later sources win.
func Load() (Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return Config{}, fmt.Errorf("load .env: %w", err)
	}
	cfg := fromEnv()

	if path := strings.TrimSpace(os.Getenv("AUTOMATION_CONFIG_FILE")); path != "" {
		data, err := os.ReadFile(filepath.Clean(path))
		if err != nil {
			return Config{}, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config file: %w", err)
		}
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func fromEnv() Config {
	ratePerSecond := envFloat("ADS_API_RATE_PER_SECOND", 5)
	return Config{
		ServiceName: envString("SERVICE_NAME", "adpilot-automation"),
		HTTPPort:    envString("HTTP_PORT", "8080"),
		PostgresDSN: os.Getenv("POSTGRES_DSN"),
		LogLevel:    strings.ToLower(envString("LOG_LEVEL", "info")),

		TickInterval:      envDuration("TICK_INTERVAL", time.Minute),
		ReferenceTimezone: envString("REFERENCE_TIMEZONE", "America/Los_Angeles"),
		BudgetResetTime:   envString("BUDGET_RESET_TIME", "23:55"),
		HTTPTimeout:       envDuration("HTTP_TIMEOUT", 30*time.Second),

		Ads: AdsConfig{
			BaseURL:       os.Getenv("ADS_API_BASE_URL"),
			ClientID:      os.Getenv("ADS_API_CLIENT_ID"),
			AccessToken:   os.Getenv("ADS_ACCESS_TOKEN"),
			RatePerSecond: ratePerSecond,
			ChunkSize:     envInt("ADS_API_CHUNK_SIZE", 100),
			MaxParallel:   envInt("ADS_API_MAX_PARALLEL", 4),
		},
		Listings: ListingsConfig{
			BaseURL:       os.Getenv("LISTINGS_API_BASE_URL"),
			AccessToken:   os.Getenv("LISTINGS_ACCESS_TOKEN"),
			SellerID:      os.Getenv("LISTINGS_SELLER_ID"),
			MarketplaceID: os.Getenv("LISTINGS_MARKETPLACE_ID"),
			RatePerSecond: envFloat("LISTINGS_API_RATE_PER_SECOND", ratePerSecond),
			SKUDelay:      envDuration("PRICE_SKU_DELAY", 2*time.Second),
		},
		Catalog: CatalogConfig{
			BaseURL:     os.Getenv("CATALOG_API_BASE_URL"),
			AccessToken: envString("CATALOG_ACCESS_TOKEN", os.Getenv("LISTINGS_ACCESS_TOKEN")),
		},
		Classifier: ClassifierConfig{
			BaseURL:    os.Getenv("CLASSIFIER_BASE_URL"),
			Model:      os.Getenv("CLASSIFIER_MODEL"),
			APIKeys:    envList("CLASSIFIER_API_KEYS"),
			BatchSize:  envInt("CLASSIFIER_BATCH_SIZE", 20),
			BatchDelay: envDuration("CLASSIFIER_BATCH_DELAY", 2*time.Second),
		},

		EnableScheduler:     envBool("ENABLE_SCHEDULER", true),
		EnableBudgetReset:   envBool("ENABLE_BUDGET_RESET", true),
		EnableManualTrigger: envBool("ENABLE_MANUAL_TRIGGER", true),
	}
}

var validate = validator.New(validator.WithRequiredStructEnabled())

func (c Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		var invalid validator.ValidationErrors
		if errors.As(err, &invalid) {
			fields := make([]string, 0, len(invalid))
			for _, fe := range invalid {
				fields = append(fields, fmt.Sprintf("%s (%s)", fe.Namespace(), fe.Tag()))
			}
			return fmt.Errorf("invalid config: %s", strings.Join(fields, ", "))
		}
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}

// Location is the reference timezone every schedule and report date uses.
func (c Config) Location() (*time.Location, error) {
	return time.LoadLocation(c.ReferenceTimezone)
}

func envString(name, fallback string) string {
	if value := strings.TrimSpace(os.Getenv(name)); value != "" {
		return value
	}
	return fallback
}

func envInt(name string, fallback int) int {
	raw := strings.TrimSpace(os.Getenv(name))
	if raw == "" {
		return fallback
	}
	value, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return value
}

func envFloat(name string, fallback float64) float64 {
	raw := strings.TrimSpace(os.Getenv(name))
	if raw == "" {
		return fallback
	}
	value, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return fallback
	}
	return value
}

func envDuration(name string, fallback time.Duration) time.Duration {
	raw := strings.TrimSpace(os.Getenv(name))
	if raw == "" {
		return fallback
	}
	value, err := time.ParseDuration(raw)
	if err != nil {
		return fallback
	}
	return value
}

func envList(name string) []string {
	var out []string
	for _, value := range strings.Split(os.Getenv(name), ",") {
		value = strings.TrimSpace(value)
		if value != "" {
			out = append(out, value)
		}
	}
	return out
}

func envBool(name string, fallback bool) bool {
	raw := strings.TrimSpace(strings.ToLower(os.Getenv(name)))
	if raw == "" {
		return fallback
	}
	switch raw {
	case "1", "true", "t", "yes", "y", "on":
		return true
	case "0", "false", "f", "no", "n", "off":
		return false
	default:
		return fallback
	}
}
