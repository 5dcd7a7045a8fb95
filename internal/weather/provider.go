package weather

import (
	"context"
	"errors"
)

var (
	// ErrFeatureUnavailable is returned by a provider when an endpoint exists
	// but the configured plan or region does not grant access to it.
	ErrFeatureUnavailable = errors.New("feature unavailable for configured plan")

	// ErrLocationNotFound is returned when a location query matches nothing.
	ErrLocationNotFound = errors.New("location not found")
)

// Provider abstracts an upstream weather data source (e.g. AccuWeather, NWS).
type Provider interface {
	Name() string
	SearchLocations(ctx context.Context, query string) ([]Location, error)
	GetCurrentWeather(ctx context.Context, locationKey string) (CurrentConditions, error)
	GetForecast(ctx context.Context, locationKey string) ([]ForecastDay, error)
	GetAlerts(ctx context.Context, locationKey string) ([]Alert, error)
}
