package config

import (
	"fmt"
	"net"
	"net/url"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"
	"time"
)

// Data sources accepted by DATA_SOURCE.
const (
	SourceCSV    = "csv"
	SourceSheets = "sheets"
	SourceSQLite = "sqlite"
)

type Config struct {
	// HTTP Server
	Port               string
	RateLimitPerMinute int

	// Dataset
	DataSource   string
	DatasetPath  string
	SQLiteDBPath string

	// Google Sheets
	GoogleSpreadsheetID string
	GoogleSheetRange    string

	// AMQP (empty URL disables query events)
	AMQPURL      string
	AMQPExchange string
	AMQPQueue    string

	// Dashboard
	Title             string
	Users             string
	TrustedProxies    []string
	DefaultCategories []string
	DefaultStartDate  string
	DefaultEndDate    string

	// Logging
	LogLevel  string
	LogFormat string

	// Worker
	EventFlushInterval time.Duration
}

func Load() *Config {
	return &Config{
		Port:               getEnv("PORT", "8081"),
		RateLimitPerMinute: getEnvInt("RATE_LIMIT_PER_MINUTE", 120),

		DataSource:   strings.ToLower(getEnv("DATA_SOURCE", SourceCSV)),
		DatasetPath:  getEnv("DATASET_PATH", "./data/CPI_21062023.csv"),
		SQLiteDBPath: getEnv("SQLITE_DB_PATH", "./data/cpi.db"),

		GoogleSpreadsheetID: getEnv("GOOGLE_SPREADSHEET_ID", ""),
		GoogleSheetRange:    getEnv("GOOGLE_SHEET_RANGE", "CPI!A:C"),

		AMQPURL:      getEnv("AMQP_URL", ""),
		AMQPExchange: getEnv("AMQP_EXCHANGE", "cpidash"),
		AMQPQueue:    getEnv("AMQP_QUEUE", "query_events"),

		Title:             getEnv("DASHBOARD_TITLE", "Consumer Price Index, Australia"),
		Users:             getEnv("DASHBOARD_USERS", ""),
		TrustedProxies:    splitList(os.Getenv("TRUSTED_PROXIES")),
		DefaultCategories: getEnvList("DEFAULT_CATEGORIES", []string{"Health"}),
		DefaultStartDate:  getEnv("DEFAULT_START_DATE", "2019-01-01"),
		DefaultEndDate:    getEnv("DEFAULT_END_DATE", ""),

		LogLevel:  strings.ToLower(getEnv("LOG_LEVEL", "info")),
		LogFormat: strings.ToLower(getEnv("LOG_FORMAT", "text")),

		EventFlushInterval: getEnvDuration("EVENT_FLUSH_INTERVAL", time.Minute),
	}
}

// Validate validates the configuration and returns an error if invalid
func (c *Config) Validate() error {
	var errors []string

	if port, err := strconv.Atoi(c.Port); err != nil {
		errors = append(errors, fmt.Sprintf("invalid port '%s': must be a number", c.Port))
	} else if port < 1 || port > 65535 {
		errors = append(errors, fmt.Sprintf("invalid port %d: must be between 1 and 65535", port))
	}

	if c.RateLimitPerMinute < 1 {
		errors = append(errors, fmt.Sprintf("invalid rate limit %d: must be at least 1 request per minute", c.RateLimitPerMinute))
	}

	validSources := []string{SourceCSV, SourceSheets, SourceSQLite}
	if !slices.Contains(validSources, c.DataSource) {
		errors = append(errors, fmt.Sprintf("invalid data source '%s': must be one of %v", c.DataSource, validSources))
	}

	switch c.DataSource {
	case SourceCSV:
		if c.DatasetPath == "" {
			errors = append(errors, "dataset path cannot be empty when using csv source")
		} else if _, err := os.Stat(c.DatasetPath); os.IsNotExist(err) {
			errors = append(errors, fmt.Sprintf("dataset file does not exist: %s", c.DatasetPath))
		}
	case SourceSQLite:
		if c.SQLiteDBPath == "" {
			errors = append(errors, "SQLite database path cannot be empty when using sqlite source")
		} else {
			dir := filepath.Dir(c.SQLiteDBPath)
			if dir != "." && dir != "" {
				if _, err := os.Stat(dir); os.IsNotExist(err) {
					if err := os.MkdirAll(dir, 0755); err != nil {
						errors = append(errors, fmt.Sprintf("cannot create SQLite database directory '%s': %v", dir, err))
					}
				}
			}
		}
	case SourceSheets:
		if c.GoogleSpreadsheetID == "" {
			errors = append(errors, "Google Spreadsheet ID is required when using sheets source")
		}
		if c.GoogleSheetRange == "" {
			errors = append(errors, "Google Sheet range is required when using sheets source")
		}
	}

	if c.AMQPURL != "" {
		if parsedURL, err := url.Parse(c.AMQPURL); err != nil {
			errors = append(errors, fmt.Sprintf("invalid AMQP URL '%s': %v", c.AMQPURL, err))
		} else if parsedURL.Scheme != "amqp" && parsedURL.Scheme != "amqps" {
			errors = append(errors, fmt.Sprintf("invalid AMQP URL scheme '%s': must be 'amqp' or 'amqps'", parsedURL.Scheme))
		}
		if c.AMQPExchange == "" {
			errors = append(errors, "AMQP exchange name cannot be empty when AMQP URL is provided")
		}
		if c.AMQPQueue == "" {
			errors = append(errors, "AMQP queue name cannot be empty when AMQP URL is provided")
		}
	}

	for _, pair := range splitList(c.Users) {
		user, secret, ok := strings.Cut(pair, ":")
		if !ok || user == "" || secret == "" {
			errors = append(errors, fmt.Sprintf("invalid dashboard user entry '%s': must be user:secret", redact(pair)))
		}
	}

	for _, cidr := range c.TrustedProxies {
		if _, _, err := net.ParseCIDR(cidr); err != nil {
			errors = append(errors, fmt.Sprintf("invalid trusted proxy '%s': must be a CIDR", cidr))
		}
	}

	for name, v := range map[string]string{"default start date": c.DefaultStartDate, "default end date": c.DefaultEndDate} {
		if v == "" && name == "default end date" {
			continue
		}
		if _, err := time.Parse("2006-01-02", v); err != nil {
			errors = append(errors, fmt.Sprintf("invalid %s '%s': must be YYYY-MM-DD", name, v))
		}
	}

	if !slices.Contains([]string{"debug", "info", "warn", "error"}, c.LogLevel) {
		errors = append(errors, fmt.Sprintf("invalid log level '%s': must be debug, info, warn or error", c.LogLevel))
	}
	if c.LogFormat != "text" && c.LogFormat != "json" {
		errors = append(errors, fmt.Sprintf("invalid log format '%s': must be text or json", c.LogFormat))
	}

	if c.EventFlushInterval < time.Second {
		errors = append(errors, fmt.Sprintf("invalid event flush interval %v: must be at least 1 second", c.EventFlushInterval))
	} else if c.EventFlushInterval > 24*time.Hour {
		errors = append(errors, fmt.Sprintf("invalid event flush interval %v: must be at most 24 hours", c.EventFlushInterval))
	}

	if len(errors) > 0 {
		slices.Sort(errors)
		return fmt.Errorf("configuration validation failed:\n- %s", strings.Join(errors, "\n- "))
	}

	return nil
}

// Credentials parses DASHBOARD_USERS into a user to secret map. Entries
// that fail Validate are skipped.
func (c *Config) Credentials() map[string]string {
	out := make(map[string]string)
	for _, pair := range splitList(c.Users) {
		user, secret, ok := strings.Cut(pair, ":")
		if ok && user != "" && secret != "" {
			out[user] = secret
		}
	}
	return out
}

func redact(pair string) string {
	if user, _, ok := strings.Cut(pair, ":"); ok {
		return user + ":***"
	}
	return pair
}

func splitList(s string) []string {
	return splitOn(s, ",")
}

func splitOn(s, sep string) []string {
	var out []string
	for _, part := range strings.Split(s, sep) {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvList splits on "|" since category names contain commas.
func getEnvList(key string, defaultValue []string) []string {
	if list := splitOn(os.Getenv(key), "|"); len(list) > 0 {
		return list
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
