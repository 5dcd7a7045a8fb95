package providers

import (
	"context"
	"fmt"

	"golang.org/x/time/rate"

	"github.com/climastream/weather-stream/internal/weather"
)

// RateLimitedProvider wraps a weather.Provider with a token-bucket limiter so
// many concurrent sessions cannot exceed an upstream quota. Each call waits
// for a token or for context cancellation, whichever comes first.
type RateLimitedProvider struct {
	provider weather.Provider
	limiter  *rate.Limiter
	name     string
}

// NewRateLimitedProvider wraps provider, allowing rps requests per second
// with the given burst.
func NewRateLimitedProvider(provider weather.Provider, rps float64, burst int) *RateLimitedProvider {
	return &RateLimitedProvider{
		provider: provider,
		limiter:  rate.NewLimiter(rate.Limit(rps), burst),
		name:     provider.Name() + " [rate limited]",
	}
}

func (r *RateLimitedProvider) Name() string {
	return r.name
}

func (r *RateLimitedProvider) wait(ctx context.Context) error {
	if err := r.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limit wait canceled: %w", err)
	}
	return nil
}

func (r *RateLimitedProvider) SearchLocations(ctx context.Context, query string) ([]weather.Location, error) {
	if err := r.wait(ctx); err != nil {
		return nil, err
	}
	return r.provider.SearchLocations(ctx, query)
}

func (r *RateLimitedProvider) GetCurrentWeather(ctx context.Context, locationKey string) (weather.CurrentConditions, error) {
	if err := r.wait(ctx); err != nil {
		return weather.CurrentConditions{}, err
	}
	return r.provider.GetCurrentWeather(ctx, locationKey)
}

func (r *RateLimitedProvider) GetForecast(ctx context.Context, locationKey string) ([]weather.ForecastDay, error) {
	if err := r.wait(ctx); err != nil {
		return nil, err
	}
	return r.provider.GetForecast(ctx, locationKey)
}

func (r *RateLimitedProvider) GetAlerts(ctx context.Context, locationKey string) ([]weather.Alert, error) {
	if err := r.wait(ctx); err != nil {
		return nil, err
	}
	return r.provider.GetAlerts(ctx, locationKey)
}

var _ weather.Provider = (*RateLimitedProvider)(nil)
