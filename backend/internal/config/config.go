package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
)

const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"

	ProviderSimulated    = "simulated"
	ProviderAlphaVantage = "alphavantage"
)

// Config holds application configuration
type Config struct {
	Port int

	DBDriver    string
	DatabaseURL string // postgres
	SQLitePath  string

	StartingCash decimal.Decimal

	QuoteProvider      string
	AlphaVantageAPIKey string
	AlphaVantageURL    string
	QuoteTimeout       time.Duration
	QuoteCacheTTL      time.Duration
	QuoteRatePerMinute int
	QuoteRatePerDay    int
	SymbolsCSV         string
	SimulatedInterval  time.Duration

	JWTSecret string
	JWTTTL    time.Duration

	KafkaBrokers []string // empty disables the trade event stream
	KafkaTopic   string

	LogLevel  string
	LogPretty bool
}

// Load reads configuration from environment variables
func Load() (*Config, error) {
	// Load .env file if it exists
	_ = godotenv.Load()

	cfg := &Config{
		Port:               getEnvAsInt("PORT", 8080),
		DBDriver:           strings.ToLower(getEnv("DB_DRIVER", DriverSQLite)),
		DatabaseURL:        getEnv("DATABASE_URL", ""),
		SQLitePath:         getEnv("SQLITE_PATH", "data/papertrade.db"),
		StartingCash:       getEnvAsDecimal("STARTING_CASH", decimal.NewFromInt(10000)),
		QuoteProvider:      strings.ToLower(getEnv("QUOTE_PROVIDER", ProviderSimulated)),
		AlphaVantageAPIKey: getEnv("ALPHAVANTAGE_API_KEY", ""),
		AlphaVantageURL:    getEnv("ALPHAVANTAGE_URL", "https://www.alphavantage.co"),
		QuoteTimeout:       getEnvAsDuration("QUOTE_TIMEOUT", 5*time.Second),
		QuoteCacheTTL:      getEnvAsDuration("QUOTE_CACHE_TTL", 60*time.Second),
		QuoteRatePerMinute: getEnvAsInt("QUOTE_RATE_PER_MINUTE", 5),
		QuoteRatePerDay:    getEnvAsInt("QUOTE_RATE_PER_DAY", 500),
		SymbolsCSV:         getEnv("SYMBOLS_CSV", "data/symbols.csv"),
		SimulatedInterval:  getEnvAsDuration("SIMULATED_TICK", 2*time.Second),
		JWTSecret:          getEnv("JWT_SECRET", ""),
		JWTTTL:             getEnvAsDuration("JWT_TTL", 24*time.Hour),
		KafkaBrokers:       getEnvAsList("KAFKA_BROKERS"),
		KafkaTopic:         getEnv("KAFKA_TOPIC", "trade_executed"),
		LogLevel:           getEnv("LOG_LEVEL", "info"),
		LogPretty:          getEnvAsBool("LOG_PRETTY", false),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks if required configuration is present
func (c *Config) Validate() error {
	switch c.DBDriver {
	case DriverSQLite:
		if c.SQLitePath == "" {
			return fmt.Errorf("SQLITE_PATH is required when DB_DRIVER=%s", DriverSQLite)
		}
	case DriverPostgres:
		if c.DatabaseURL == "" {
			return fmt.Errorf("DATABASE_URL is required when DB_DRIVER=%s", DriverPostgres)
		}
	default:
		return fmt.Errorf("unsupported DB_DRIVER %q", c.DBDriver)
	}

	switch c.QuoteProvider {
	case ProviderSimulated:
		if c.SimulatedInterval <= 0 {
			return fmt.Errorf("SIMULATED_TICK must be positive")
		}
	case ProviderAlphaVantage:
		if c.AlphaVantageAPIKey == "" {
			return fmt.Errorf("ALPHAVANTAGE_API_KEY is required when QUOTE_PROVIDER=%s", ProviderAlphaVantage)
		}
	default:
		return fmt.Errorf("unsupported QUOTE_PROVIDER %q", c.QuoteProvider)
	}

	if !c.StartingCash.IsPositive() {
		return fmt.Errorf("STARTING_CASH must be positive")
	}
	if c.QuoteTimeout <= 0 {
		return fmt.Errorf("QUOTE_TIMEOUT must be positive")
	}
	if c.JWTSecret == "" {
		return fmt.Errorf("JWT_SECRET is required")
	}
	if len(c.KafkaBrokers) > 0 && c.KafkaTopic == "" {
		return fmt.Errorf("KAFKA_TOPIC is required when KAFKA_BROKERS is set")
	}
	return nil
}

// Addr is the listen address for the HTTP server.
func (c *Config) Addr() string {
	return fmt.Sprintf(":%d", c.Port)
}

// Helper functions
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolVal, err := strconv.ParseBool(value); err == nil {
			return boolVal
		}
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

func getEnvAsDecimal(key string, defaultValue decimal.Decimal) decimal.Decimal {
	if value := os.Getenv(key); value != "" {
		if d, err := decimal.NewFromString(value); err == nil {
			return d
		}
	}
	return defaultValue
}

func getEnvAsList(key string) []string {
	var out []string
	for _, item := range strings.Split(os.Getenv(key), ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}
