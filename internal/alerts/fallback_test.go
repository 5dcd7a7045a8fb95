package alerts

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/climastream/weather-stream/internal/weather"
)

type stubSource struct {
	name   string
	alerts []weather.Alert
	err    error
	calls  int
}

func (s *stubSource) Name() string { return s.name }

func (s *stubSource) GetAlerts(ctx context.Context, locationKey string) ([]weather.Alert, error) {
	s.calls++
	return s.alerts, s.err
}

func mkAlert(id, category string) weather.Alert {
	return weather.Alert{ID: id, Title: id, Category: category, StartTime: time.Now()}
}

func TestPrimarySuccessSkipsSecondary(t *testing.T) {
	primary := &stubSource{name: "primary", alerts: []weather.Alert{mkAlert("a1", "flood")}}
	secondary := &stubSource{name: "secondary"}
	coord := NewCoordinator(primary, secondary, time.Second)

	list, res := coord.FetchAlerts(context.Background(), "40.75,-73.99", nil)

	assert.Equal(t, SourcePrimary, res.Source)
	assert.False(t, res.FallbackAttempted)
	assert.Len(t, list, 1)
	assert.Equal(t, 0, secondary.calls)
}

func TestPrimarySuccessWithEmptyListIsStillPrimary(t *testing.T) {
	primary := &stubSource{name: "primary", alerts: []weather.Alert{}}
	secondary := &stubSource{name: "secondary", alerts: []weather.Alert{mkAlert("a1", "wind")}}
	coord := NewCoordinator(primary, secondary, time.Second)

	list, res := coord.FetchAlerts(context.Background(), "40.75,-73.99", nil)

	assert.Equal(t, SourcePrimary, res.Source)
	assert.Empty(t, list)
	assert.NotNil(t, list)
	assert.Equal(t, 0, secondary.calls)
}

func TestUnavailablePrimaryFallsBack(t *testing.T) {
	primary := &stubSource{name: "primary", err: weather.ErrFeatureUnavailable}
	secondary := &stubSource{name: "secondary", alerts: []weather.Alert{mkAlert("a1", "heat")}}
	coord := NewCoordinator(primary, secondary, time.Second)

	list, res := coord.FetchAlerts(context.Background(), "40.75,-73.99", nil)

	assert.Equal(t, SourceSecondary, res.Source)
	assert.True(t, res.FallbackAttempted)
	assert.True(t, res.PrimaryUnavailable)
	require.Len(t, list, 1)
	assert.Equal(t, "a1", list[0].ID)
}

func TestTransientPrimaryErrorFallsBack(t *testing.T) {
	primary := &stubSource{name: "primary", err: errors.New("timeout")}
	secondary := &stubSource{name: "secondary", alerts: []weather.Alert{mkAlert("a1", "heat")}}
	coord := NewCoordinator(primary, secondary, time.Second)

	_, res := coord.FetchAlerts(context.Background(), "40.75,-73.99", nil)

	assert.Equal(t, SourceSecondary, res.Source)
	assert.True(t, res.FallbackAttempted)
	assert.False(t, res.PrimaryUnavailable)
}

func TestBothSourcesFailingResolvesToNone(t *testing.T) {
	primary := &stubSource{name: "primary", err: errors.New("down")}
	secondary := &stubSource{name: "secondary", err: errors.New("also down")}
	coord := NewCoordinator(primary, secondary, time.Second)

	list, res := coord.FetchAlerts(context.Background(), "40.75,-73.99", nil)

	assert.Equal(t, SourceNone, res.Source)
	assert.True(t, res.FallbackAttempted)
	assert.NotNil(t, list)
	assert.Empty(t, list)
}

func TestNoSecondaryConfigured(t *testing.T) {
	primary := &stubSource{name: "primary", err: errors.New("down")}
	coord := NewCoordinator(primary, nil, time.Second)

	list, res := coord.FetchAlerts(context.Background(), "40.75,-73.99", nil)

	assert.Equal(t, SourceNone, res.Source)
	assert.True(t, res.FallbackAttempted)
	assert.Empty(t, list)
}

func TestFilterParsing(t *testing.T) {
	assert.Nil(t, NewFilter("all"))
	assert.Nil(t, NewFilter(""))
	assert.Nil(t, NewFilter("flood,all"))

	f := NewFilter("Flood, WIND")
	assert.True(t, f.Allows("flood"))
	assert.True(t, f.Allows("Wind"))
	assert.False(t, f.Allows("heat"))
}

func TestFilterApplied(t *testing.T) {
	primary := &stubSource{name: "primary", alerts: []weather.Alert{
		mkAlert("a1", "flood"),
		mkAlert("a2", "heat"),
	}}
	coord := NewCoordinator(primary, nil, time.Second)

	list, res := coord.FetchAlerts(context.Background(), "40.75,-73.99", NewFilter("flood"))

	assert.Equal(t, SourcePrimary, res.Source)
	require.Len(t, list, 1)
	assert.Equal(t, "a1", list[0].ID)
}
