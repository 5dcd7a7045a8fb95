package config

import (
	"fmt"
	"log"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// AppConfig holds all runtime settings, read from the environment.
type AppConfig struct {
	// Upstream providers.
	AccuWeatherAPIKey  string
	AccuWeatherBaseURL string
	NWSBaseURL         string
	NWSUserAgent       string
	GoogleAPIKey       string

	// Outbound HTTP.
	HTTPTimeout   time.Duration
	ProviderRPS   float64
	ProviderBurst int

	// Stream scheduling.
	WeatherPollInterval time.Duration
	AlertPollInterval   time.Duration
	HeartbeatInterval   time.Duration

	// Registry limits.
	MaxConnections    int
	SweepInterval     time.Duration
	ConnectionTimeout time.Duration

	// Response cache lifetimes.
	CurrentTTL  time.Duration
	ForecastTTL time.Duration
	SearchTTL   time.Duration

	Port string
}

// Load reads configuration from environment with sensible defaults.
func Load() (*AppConfig, error) {
	if err := godotenv.Load(); err != nil {
		log.Printf("INFO: No .env file found or error loading it: %v", err)
	}

	cfg := &AppConfig{}

	cfg.AccuWeatherAPIKey = os.Getenv("ACCUWEATHER_API_KEY")
	cfg.AccuWeatherBaseURL = getenvDefault("ACCUWEATHER_BASE_URL", "http://dataservice.accuweather.com")
	cfg.NWSBaseURL = getenvDefault("NWS_BASE_URL", "https://api.weather.gov")
	cfg.NWSUserAgent = getenvDefault("NWS_USER_AGENT", "weather-stream (contact@climastream.io)")
	cfg.GoogleAPIKey = os.Getenv("GOOGLE_API_KEY")

	var err error
	if cfg.HTTPTimeout, err = getenvDuration("HTTP_TIMEOUT", "10s"); err != nil {
		return nil, err
	}
	cfg.ProviderRPS = getenvFloat("PROVIDER_RATE_LIMIT_RPS", 5)
	cfg.ProviderBurst = getenvInt("PROVIDER_RATE_LIMIT_BURST", 10)

	if cfg.WeatherPollInterval, err = getenvDuration("WEATHER_POLL_INTERVAL", "120s"); err != nil {
		return nil, err
	}
	if cfg.AlertPollInterval, err = getenvDuration("ALERT_POLL_INTERVAL", "60s"); err != nil {
		return nil, err
	}
	if cfg.HeartbeatInterval, err = getenvDuration("HEARTBEAT_INTERVAL", "30s"); err != nil {
		return nil, err
	}

	cfg.MaxConnections = getenvInt("MAX_CONNECTIONS", 100)
	if cfg.SweepInterval, err = getenvDuration("SWEEP_INTERVAL", "60s"); err != nil {
		return nil, err
	}
	if cfg.ConnectionTimeout, err = getenvDuration("CONNECTION_TIMEOUT", "300s"); err != nil {
		return nil, err
	}

	if cfg.CurrentTTL, err = getenvDuration("CACHE_TTL_CURRENT", "300s"); err != nil {
		return nil, err
	}
	if cfg.ForecastTTL, err = getenvDuration("CACHE_TTL_FORECAST", "300s"); err != nil {
		return nil, err
	}
	if cfg.SearchTTL, err = getenvDuration("CACHE_TTL_SEARCH", "1h"); err != nil {
		return nil, err
	}

	cfg.Port = getenvDefault("PORT", "8080")

	return cfg, nil
}

func getenvDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getenvInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		n, err := strconv.Atoi(v)
		if err == nil {
			return n
		}
	}
	return def
}

func getenvFloat(key string, def float64) float64 {
	if v := os.Getenv(key); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err == nil {
			return f
		}
	}
	return def
}

func getenvDuration(key, def string) (time.Duration, error) {
	v := getenvDefault(key, def)
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return d, nil
}
