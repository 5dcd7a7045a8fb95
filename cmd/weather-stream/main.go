package main

import (
	"context"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/joho/godotenv"

	"github.com/climastream/weather-stream/internal/alerts"
	httpapi "github.com/climastream/weather-stream/internal/api/http"
	"github.com/climastream/weather-stream/internal/cache"
	"github.com/climastream/weather-stream/internal/config"
	"github.com/climastream/weather-stream/internal/location"
	"github.com/climastream/weather-stream/internal/stream"
	"github.com/climastream/weather-stream/internal/weather"
	"github.com/climastream/weather-stream/internal/weather/providers"
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Printf("INFO: No .env file found or error loading it: %v", err)
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	// Shared HTTP client for outbound provider calls.
	httpClient := &http.Client{
		Timeout: cfg.HTTPTimeout,
	}

	// Primary provider (commercial plan, rate limited) and secondary alert
	// source (free, no key required).
	accuweather := providers.NewAccuWeatherProvider(httpClient, cfg.AccuWeatherAPIKey, cfg.AccuWeatherBaseURL)
	nws := providers.NewNWSProvider(httpClient, cfg.NWSBaseURL, cfg.NWSUserAgent)
	primary := providers.NewRateLimitedProvider(accuweather, cfg.ProviderRPS, cfg.ProviderBurst)

	// Shared response cache and the service front-ending it.
	responseCache := cache.New()
	service := weather.NewService(primary, responseCache, weather.TTLConfig{
		Current:  cfg.CurrentTTL,
		Forecast: cfg.ForecastTTL,
		Search:   cfg.SearchTTL,
	}, cfg.HTTPTimeout)

	coordinator := alerts.NewCoordinator(primary, nws, cfg.HTTPTimeout)
	resolver := location.NewResolver(service, cfg.GoogleAPIKey)

	// Connection registry with its stale-connection sweeper.
	registry := stream.NewRegistry(cfg.MaxConnections)
	sweeper := stream.NewSweeper(registry, responseCache, cfg.SweepInterval, cfg.ConnectionTimeout)
	if err := sweeper.Start(); err != nil {
		log.Fatalf("failed to start sweeper: %v", err)
	}
	defer sweeper.Stop()

	app := fiber.New(fiber.Config{
		AppName:               "weather-stream",
		DisableStartupMessage: true,
		ReadTimeout:           10 * time.Second,
		ErrorHandler: func(c *fiber.Ctx, err error) error {
			code := fiber.StatusInternalServerError
			if e, ok := err.(*fiber.Error); ok {
				code = e.Code
			}
			return c.Status(code).JSON(fiber.Map{
				"error":   true,
				"message": err.Error(),
			})
		},
	})

	app.Use(logger.New())
	app.Use(recover.New())

	app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"status":  "ok",
			"service": "weather-stream",
		})
	})

	httpapi.RegisterRoutes(app, httpapi.Deps{
		Service:     service,
		Coordinator: coordinator,
		Registry:    registry,
		Resolver:    resolver,
		Intervals: stream.Intervals{
			WeatherPoll: cfg.WeatherPollInterval,
			AlertPoll:   cfg.AlertPollInterval,
			Heartbeat:   cfg.HeartbeatInterval,
		},
		ResolveTimeout: cfg.HTTPTimeout,
	})

	go func() {
		if err := app.Listen(":" + cfg.Port); err != nil {
			log.Printf("fiber server stopped: %v", err)
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	<-ctx.Done()

	// Close every live stream before the listener goes away so clients see a
	// clean end-of-stream rather than a dropped socket.
	registry.CloseAll()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := app.ShutdownWithContext(shutdownCtx); err != nil {
		log.Printf("error during shutdown: %v", err)
	}
}
