// Package config loads service settings from the environment and the
// asset/network/fee policy document.
package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds process-level settings. Every field has an environment
// variable; cmd/server exposes them as flag defaults.
type Config struct {
	HTTPAddr    string
	MetricsAddr string

	PostgresDSN   string
	ClickhouseDSN string
	UseMemory     bool

	AdminAPIKey     string
	WatcherAPIKey   string
	ProcessorAPIKey string

	RateOracleURL string
	PayoutURL     string
	KYCURL        string

	WatcherWSURL string
	KafkaBrokers []string
	KafkaTopic   string
	KafkaGroup   string

	TelegramBotToken string
	TelegramChatID   int64

	PolicyFile       string
	DispatchInterval time.Duration

	RateLimitRPS   float64
	RateLimitBurst int
}

// LoadEnvFile loads .env into the process environment if it exists.
// Variables already set are not overridden.
func LoadEnvFile(filenames ...string) {
	_ = godotenv.Load(filenames...)
}

// Load reads Config from the environment.
func Load() *Config {
	return &Config{
		HTTPAddr:         getEnv("HTTP_ADDR", ":8080"),
		MetricsAddr:      getEnv("METRICS_ADDR", ":9090"),
		PostgresDSN:      getEnv("POSTGRES_DSN", ""),
		ClickhouseDSN:    getEnv("CLICKHOUSE_DSN", ""),
		UseMemory:        getEnvAsBool("USE_MEMORY", false),
		AdminAPIKey:      getEnv("ADMIN_API_KEY", ""),
		WatcherAPIKey:    getEnv("WATCHER_API_KEY", ""),
		ProcessorAPIKey:  getEnv("PROCESSOR_API_KEY", ""),
		RateOracleURL:    getEnv("RATE_ORACLE_URL", ""),
		PayoutURL:        getEnv("PAYOUT_URL", ""),
		KYCURL:           getEnv("KYC_URL", ""),
		WatcherWSURL:     getEnv("WATCHER_WS_URL", ""),
		KafkaBrokers:     getEnvAsList("KAFKA_BROKERS"),
		KafkaTopic:       getEnv("KAFKA_TOPIC", "chain-observations"),
		KafkaGroup:       getEnv("KAFKA_GROUP", "custody-ledger"),
		TelegramBotToken: getEnv("TELEGRAM_BOT_TOKEN", ""),
		TelegramChatID:   getEnvAsInt64("TELEGRAM_CHAT_ID", 0),
		PolicyFile:       getEnv("POLICY_FILE", ""),
		DispatchInterval: getEnvAsDuration("DISPATCH_INTERVAL", 30*time.Second),
		RateLimitRPS:     getEnvAsFloat("RATE_LIMIT_RPS", 10),
		RateLimitBurst:   getEnvAsInt("RATE_LIMIT_BURST", 20),
	}
}

func getEnv(key string, defaultVal string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return defaultVal
}

func getEnvAsInt(key string, defaultVal int) int {
	valueStr := getEnv(key, "")
	if value, err := strconv.Atoi(valueStr); err == nil {
		return value
	}
	return defaultVal
}

func getEnvAsInt64(key string, defaultVal int64) int64 {
	valueStr := getEnv(key, "")
	if value, err := strconv.ParseInt(valueStr, 10, 64); err == nil {
		return value
	}
	return defaultVal
}

func getEnvAsFloat(key string, defaultVal float64) float64 {
	valueStr := getEnv(key, "")
	if value, err := strconv.ParseFloat(valueStr, 64); err == nil {
		return value
	}
	return defaultVal
}

func getEnvAsBool(key string, defaultVal bool) bool {
	valueStr := getEnv(key, "")
	if value, err := strconv.ParseBool(valueStr); err == nil {
		return value
	}
	return defaultVal
}

func getEnvAsDuration(key string, defaultVal time.Duration) time.Duration {
	valueStr := getEnv(key, "")
	if value, err := time.ParseDuration(valueStr); err == nil {
		return value
	}
	return defaultVal
}

// getEnvAsList splits a comma-separated variable, dropping empty items.
func getEnvAsList(key string) []string {
	var out []string
	for _, item := range strings.Split(getEnv(key, ""), ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}
