package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds the application configuration
type Config struct {
	// Device
	DevicePort int
	Timeout    time.Duration
	Timezone   string

	// Scanner
	ScanConcurrency     int
	ScanPrimaryTimeout  time.Duration
	ScanAuxTimeout      time.Duration
	ScanIdentifyTimeout time.Duration

	// Application
	DBPath   string
	HTTPAddr string
	LogLevel string
}

// Load reads .env files (if present) and then the environment.
// Variables already set in the environment win over .env values.
func Load(files ...string) (*Config, error) {
	if len(files) == 0 {
		files = []string{".env"}
	}
	for _, f := range files {
		_ = godotenv.Load(f)
	}

	cfg := &Config{
		Timezone: getEnv("ZK_TIMEZONE", "Local"),
		DBPath:   getEnv("DB_PATH", "./zkattend.db"),
		HTTPAddr: getEnv("HTTP_ADDR", ":8080"),
		LogLevel: getEnv("LOG_LEVEL", "info"),
	}

	var err error
	if cfg.DevicePort, err = getInt("ZK_PORT", 4370); err != nil {
		return nil, err
	}
	if cfg.DevicePort <= 0 || cfg.DevicePort > 65535 {
		return nil, fmt.Errorf("ZK_PORT out of range: %d", cfg.DevicePort)
	}
	if cfg.Timeout, err = getDuration("ZK_TIMEOUT", 30*time.Second); err != nil {
		return nil, err
	}
	if cfg.ScanConcurrency, err = getInt("SCAN_CONCURRENCY", 100); err != nil {
		return nil, err
	}
	if cfg.ScanConcurrency <= 0 {
		return nil, fmt.Errorf("SCAN_CONCURRENCY must be positive, got %d", cfg.ScanConcurrency)
	}
	if cfg.ScanPrimaryTimeout, err = getDuration("SCAN_PRIMARY_TIMEOUT", 300*time.Millisecond); err != nil {
		return nil, err
	}
	if cfg.ScanAuxTimeout, err = getDuration("SCAN_AUX_TIMEOUT", 200*time.Millisecond); err != nil {
		return nil, err
	}
	if cfg.ScanIdentifyTimeout, err = getDuration("SCAN_IDENTIFY_TIMEOUT", 2*time.Second); err != nil {
		return nil, err
	}

	return cfg, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getInt(key string, defaultValue int) (int, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	n, err := strconv.Atoi(value)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return n, nil
}

func getDuration(key string, defaultValue time.Duration) (time.Duration, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	if d <= 0 {
		return 0, fmt.Errorf("%s must be positive, got %s", key, value)
	}
	return d, nil
}
