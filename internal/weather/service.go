package weather

import (
	"context"
	"fmt"
	"time"

	"github.com/climastream/weather-stream/internal/cache"
)

// TTLConfig holds per-operation cache lifetimes. Alerts are deliberately
// absent: warning staleness is unacceptable, so alert fetches bypass the
// cache entirely.
type TTLConfig struct {
	Current  time.Duration
	Forecast time.Duration
	Search   time.Duration
}

// Service front-ends a Provider with the shared response cache. All stream
// sessions share one Service, so concurrent polls for the same location
// collapse into a single upstream call.
type Service struct {
	provider     Provider
	cache        *cache.Cache
	ttl          TTLConfig
	fetchTimeout time.Duration
}

// NewService creates a Service. fetchTimeout bounds every upstream call.
func NewService(provider Provider, responseCache *cache.Cache, ttl TTLConfig, fetchTimeout time.Duration) *Service {
	return &Service{
		provider:     provider,
		cache:        responseCache,
		ttl:          ttl,
		fetchTimeout: fetchTimeout,
	}
}

// CurrentWeather returns current conditions for a location key, cached.
func (s *Service) CurrentWeather(ctx context.Context, locationKey string) (CurrentConditions, error) {
	v, err := s.cache.GetOrFetch(ctx, "current:"+locationKey, s.ttl.Current, func(ctx context.Context) (any, error) {
		ctx, cancel := context.WithTimeout(ctx, s.fetchTimeout)
		defer cancel()
		return s.provider.GetCurrentWeather(ctx, locationKey)
	})
	if err != nil {
		return CurrentConditions{}, fmt.Errorf("current weather for %s: %w", locationKey, err)
	}
	cur, ok := v.(CurrentConditions)
	if !ok {
		return CurrentConditions{}, fmt.Errorf("unexpected cached type for current weather key %s", locationKey)
	}
	return cur, nil
}

// Forecast returns the multi-day forecast for a location key, cached.
func (s *Service) Forecast(ctx context.Context, locationKey string) ([]ForecastDay, error) {
	v, err := s.cache.GetOrFetch(ctx, "forecast:"+locationKey, s.ttl.Forecast, func(ctx context.Context) (any, error) {
		ctx, cancel := context.WithTimeout(ctx, s.fetchTimeout)
		defer cancel()
		return s.provider.GetForecast(ctx, locationKey)
	})
	if err != nil {
		return nil, fmt.Errorf("forecast for %s: %w", locationKey, err)
	}
	days, ok := v.([]ForecastDay)
	if !ok {
		return nil, fmt.Errorf("unexpected cached type for forecast key %s", locationKey)
	}
	return days, nil
}

// SearchLocations resolves a free-form query to candidate locations, cached.
func (s *Service) SearchLocations(ctx context.Context, query string) ([]Location, error) {
	v, err := s.cache.GetOrFetch(ctx, "search:"+query, s.ttl.Search, func(ctx context.Context) (any, error) {
		ctx, cancel := context.WithTimeout(ctx, s.fetchTimeout)
		defer cancel()
		return s.provider.SearchLocations(ctx, query)
	})
	if err != nil {
		return nil, fmt.Errorf("location search %q: %w", query, err)
	}
	locs, ok := v.([]Location)
	if !ok {
		return nil, fmt.Errorf("unexpected cached type for location search %q", query)
	}
	return locs, nil
}
