package alerts

import (
	"context"
	"errors"
	"log"
	"strings"
	"time"

	"github.com/climastream/weather-stream/internal/weather"
)

// Source is an upstream alert provider. The coordinator never depends on a
// concrete client, only on this capability.
type Source interface {
	Name() string
	GetAlerts(ctx context.Context, locationKey string) ([]weather.Alert, error)
}

// ResolvedSource names the path that produced an alert result.
type ResolvedSource string

const (
	SourcePrimary   ResolvedSource = "primary"
	SourceSecondary ResolvedSource = "secondary"
	SourceNone      ResolvedSource = "none"
)

// Resolution describes how one alert fetch was satisfied. It is created fresh
// per fetch and never persisted.
type Resolution struct {
	Source             ResolvedSource
	FallbackAttempted  bool
	PrimaryUnavailable bool
	PrimaryErr         error
	SecondaryErr       error
}

// Coordinator tries the primary alert source and falls back to the secondary
// on failure or unavailability. The two-step attempt is observable through the
// returned Resolution so callers can distinguish "no alerts active" from
// "alerts could not be determined".
type Coordinator struct {
	primary      Source
	secondary    Source
	fetchTimeout time.Duration
}

// NewCoordinator creates a Coordinator. secondary may be nil, in which case a
// primary failure resolves to SourceNone immediately.
func NewCoordinator(primary, secondary Source, fetchTimeout time.Duration) *Coordinator {
	return &Coordinator{
		primary:      primary,
		secondary:    secondary,
		fetchTimeout: fetchTimeout,
	}
}

// FetchAlerts fetches alerts for a location, applying filter to the result.
// The returned list is never nil.
func (c *Coordinator) FetchAlerts(ctx context.Context, locationKey string, filter Filter) ([]weather.Alert, Resolution) {
	list, err := c.fetch(ctx, c.primary, locationKey)
	if err == nil {
		return filter.Apply(list), Resolution{Source: SourcePrimary}
	}

	res := Resolution{
		FallbackAttempted:  true,
		PrimaryUnavailable: errors.Is(err, weather.ErrFeatureUnavailable),
		PrimaryErr:         err,
	}
	log.Printf("alerts: primary source %s failed for %s: %v", c.primary.Name(), locationKey, err)

	if c.secondary == nil {
		res.Source = SourceNone
		return []weather.Alert{}, res
	}

	list, err = c.fetch(ctx, c.secondary, locationKey)
	if err != nil {
		log.Printf("alerts: secondary source %s failed for %s: %v", c.secondary.Name(), locationKey, err)
		res.Source = SourceNone
		res.SecondaryErr = err
		return []weather.Alert{}, res
	}

	res.Source = SourceSecondary
	return filter.Apply(list), res
}

func (c *Coordinator) fetch(ctx context.Context, src Source, locationKey string) ([]weather.Alert, error) {
	if c.fetchTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.fetchTimeout)
		defer cancel()
	}
	return src.GetAlerts(ctx, locationKey)
}

// Filter is a set of lowercase alert categories. A nil Filter admits all.
type Filter map[string]struct{}

// NewFilter parses a comma-separated category list. "all", "", or a list
// containing "all" produce the admit-everything filter.
func NewFilter(csv string) Filter {
	csv = strings.TrimSpace(csv)
	if csv == "" || strings.EqualFold(csv, "all") {
		return nil
	}

	f := make(Filter)
	for _, tok := range strings.Split(csv, ",") {
		tok = strings.ToLower(strings.TrimSpace(tok))
		if tok == "" {
			continue
		}
		if tok == "all" {
			return nil
		}
		f[tok] = struct{}{}
	}
	if len(f) == 0 {
		return nil
	}
	return f
}

// Allows reports whether an alert of the given category passes the filter.
func (f Filter) Allows(category string) bool {
	if f == nil {
		return true
	}
	_, ok := f[strings.ToLower(category)]
	return ok
}

// Apply returns the alerts passing the filter. The result is never nil.
func (f Filter) Apply(list []weather.Alert) []weather.Alert {
	filtered := make([]weather.Alert, 0, len(list))
	for _, a := range list {
		if f.Allows(a.Category) {
			filtered = append(filtered, a)
		}
	}
	return filtered
}
