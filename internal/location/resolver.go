package location

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"unicode"

	"github.com/kelvins/geocoder"

	"github.com/climastream/weather-stream/internal/weather"
)

// Resolver turns a stream path identifier into a weather.Location. Supported
// forms, tried in order:
//   - "lat,lon" coordinate pairs, passed through directly
//   - "city" or "city,country" names via Google geocoding, when a key is set
//   - anything else (ZIP codes included) via the provider's location search
type Resolver struct {
	search    Searcher
	googleKey string
}

// Searcher is the location-search capability the resolver needs; the weather
// service satisfies it.
type Searcher interface {
	SearchLocations(ctx context.Context, query string) ([]weather.Location, error)
}

// NewResolver creates a Resolver. googleKey may be empty, disabling the
// geocoding path.
func NewResolver(search Searcher, googleKey string) *Resolver {
	if googleKey != "" {
		geocoder.ApiKey = googleKey
	}
	return &Resolver{search: search, googleKey: googleKey}
}

// Resolve maps an identifier to a location. Failures wrap
// weather.ErrLocationNotFound when nothing matched.
func (r *Resolver) Resolve(ctx context.Context, identifier string) (weather.Location, error) {
	identifier = strings.TrimSpace(identifier)
	if identifier == "" {
		return weather.Location{}, fmt.Errorf("%w: empty identifier", weather.ErrLocationNotFound)
	}

	if lat, lon, ok := parseCoordinates(identifier); ok {
		key := fmt.Sprintf("%.4f,%.4f", lat, lon)
		return weather.Location{
			Key:       key,
			Name:      key,
			Latitude:  lat,
			Longitude: lon,
		}, nil
	}

	if r.googleKey != "" && hasLetters(identifier) {
		if loc, err := r.geocode(identifier); err == nil {
			return loc, nil
		}
		// Geocoding miss falls through to provider search.
	}

	locs, err := r.search.SearchLocations(ctx, identifier)
	if err != nil {
		return weather.Location{}, err
	}
	if len(locs) == 0 {
		return weather.Location{}, fmt.Errorf("%w: %q", weather.ErrLocationNotFound, identifier)
	}
	return locs[0], nil
}

func (r *Resolver) geocode(identifier string) (weather.Location, error) {
	address := geocoder.Address{City: identifier}
	if city, country, ok := strings.Cut(identifier, ","); ok {
		address = geocoder.Address{
			City:    strings.TrimSpace(city),
			Country: strings.TrimSpace(country),
		}
	}

	coords, err := geocoder.Geocoding(address)
	if err != nil {
		return weather.Location{}, fmt.Errorf("geocoding %q: %w", identifier, err)
	}

	key := fmt.Sprintf("%.4f,%.4f", coords.Latitude, coords.Longitude)
	return weather.Location{
		Key:       key,
		Name:      address.City,
		Country:   address.Country,
		Latitude:  coords.Latitude,
		Longitude: coords.Longitude,
	}, nil
}

// parseCoordinates accepts "lat,lon" with both parts numeric and in range.
func parseCoordinates(s string) (float64, float64, bool) {
	first, second, ok := strings.Cut(s, ",")
	if !ok {
		return 0, 0, false
	}
	lat, err := strconv.ParseFloat(strings.TrimSpace(first), 64)
	if err != nil {
		return 0, 0, false
	}
	lon, err := strconv.ParseFloat(strings.TrimSpace(second), 64)
	if err != nil {
		return 0, 0, false
	}
	if lat < -90 || lat > 90 || lon < -180 || lon > 180 {
		return 0, 0, false
	}
	return lat, lon, true
}

func hasLetters(s string) bool {
	for _, r := range s {
		if unicode.IsLetter(r) {
			return true
		}
	}
	return false
}
