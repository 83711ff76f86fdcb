package config

import (
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// AppConfig holds the global application configuration
var AppConfig *Config

// Config holds the application configuration
type Config struct {
	DatabaseURL         string
	DatabaseDriver      string
	StripeSecretKey     string
	StripeWebhookSecret string
	// Optional: enables the subscription record cache when set (redis://host:6379/0)
	RedisURL        string
	CacheTTLSeconds string
	// Stripe price references bound to the plan catalog
	PriceMonthlyBasic string
	PriceMonthlyPlus  string
	PriceYearlyBasic  string
	PriceYearlyPlus   string
	// Optional override of the one-month access window granted by a division purchase
	PurchaseAccessDays string
	// Optional: base URL for running remote HTTP integration tests (e.g., https://api.example.com)
	IntegrationBaseURL string
	// Server ports
	HTTPPort string
	GRPCPort string
}

// LoadConfig loads configuration from environment variables
func LoadConfig() (*Config, error) {
	config := &Config{}

	// Try to load .env file from current directory and parent directories
	currentDir, _ := os.Getwd()
	for currentDir != "/" {
		envPath := filepath.Join(currentDir, ".env")
		if _, err := os.Stat(envPath); err == nil {
			err = godotenv.Load(envPath)
			if err != nil {
				return nil, fmt.Errorf("failed to load .env file: %v", err)
			}
			break
		}
		currentDir = filepath.Dir(currentDir)
	}

	requiredVars := []struct {
		name     string
		envVar   string
		display  string
		required bool
	}{
		{"DatabaseURL", "DATABASE_URL", "Database URL", true},
		{"StripeSecretKey", "STRIPE_SECRET_KEY", "Stripe Secret Key", true},
		{"StripeWebhookSecret", "STRIPE_WEBHOOK_SECRET", "Stripe Webhook Secret", true},
		{"DatabaseDriver", "DATABASE_DRIVER", "Database Driver", false},
		{"RedisURL", "REDIS_URL", "Redis URL", false},
		{"CacheTTLSeconds", "CACHE_TTL_SECONDS", "Cache TTL Seconds", false},
		{"PriceMonthlyBasic", "STRIPE_PRICE_MONTHLY_BASIC", "Monthly Basic Price", false},
		{"PriceMonthlyPlus", "STRIPE_PRICE_MONTHLY_PLUS", "Monthly Plus Price", false},
		{"PriceYearlyBasic", "STRIPE_PRICE_YEARLY_BASIC", "Yearly Basic Price", false},
		{"PriceYearlyPlus", "STRIPE_PRICE_YEARLY_PLUS", "Yearly Plus Price", false},
		{"PurchaseAccessDays", "PURCHASE_ACCESS_DAYS", "Purchase Access Days", false},
		// Optional integration base URL for remote tests
		{"IntegrationBaseURL", "INTEGRATION_BASE_URL", "Integration Base URL", false},
		// Optional server ports
		{"HTTPPort", "PORT", "HTTP Port", false},
		{"GRPCPort", "GRPC_PORT", "gRPC Port", false},
	}

	for _, v := range requiredVars {
		value := os.Getenv(v.envVar)
		if v.required && value == "" {
			return nil, fmt.Errorf("missing required environment variable: %s", v.display)
		}
		configField := reflect.ValueOf(config).Elem().FieldByName(v.name)
		configField.SetString(value)
	}

	// Defaults
	if config.DatabaseDriver == "" {
		config.DatabaseDriver = DriverPostgres
	}
	if config.DatabaseDriver != DriverPostgres && config.DatabaseDriver != DriverSQLite {
		return nil, fmt.Errorf("unsupported DATABASE_DRIVER %q", config.DatabaseDriver)
	}
	if config.HTTPPort == "" {
		config.HTTPPort = "8080"
	}
	if config.GRPCPort == "" {
		config.GRPCPort = "50051"
	}
	if _, err := config.parsePositive(config.CacheTTLSeconds, "CACHE_TTL_SECONDS"); err != nil {
		return nil, err
	}
	if _, err := config.parsePositive(config.PurchaseAccessDays, "PURCHASE_ACCESS_DAYS"); err != nil {
		return nil, err
	}

	return config, nil
}

// CacheTTL returns the configured cache lifetime, DefaultCacheTTL when unset.
func (c *Config) CacheTTL() time.Duration {
	n, _ := c.parsePositive(c.CacheTTLSeconds, "CACHE_TTL_SECONDS")
	if n == 0 {
		return DefaultCacheTTL
	}
	return time.Duration(n) * time.Second
}

// PurchaseAccessWindow returns the override for purchase expiry in days, 0 when the
// default one-month window applies.
func (c *Config) PurchaseAccessWindow() int {
	n, _ := c.parsePositive(c.PurchaseAccessDays, "PURCHASE_ACCESS_DAYS")
	return n
}

func (c *Config) parsePositive(raw, name string) (int, error) {
	if raw == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("%s must be a positive integer, got %q", name, raw)
	}
	return n, nil
}
