package stream

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/climastream/weather-stream/internal/weather"
)

// fakeProvider is a scriptable weather.Provider for session tests.
type fakeProvider struct {
	mu         sync.Mutex
	currentErr error
	forecast   []weather.ForecastDay
}

func (f *fakeProvider) Name() string { return "fake" }

func (f *fakeProvider) SearchLocations(ctx context.Context, query string) ([]weather.Location, error) {
	return []weather.Location{{Key: "40.75,-73.99", Name: "New York"}}, nil
}

func (f *fakeProvider) GetCurrentWeather(ctx context.Context, locationKey string) (weather.CurrentConditions, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.currentErr != nil {
		return weather.CurrentConditions{}, f.currentErr
	}
	return weather.CurrentConditions{
		Temperature:     21.5,
		TemperatureUnit: "C",
		WeatherText:     "Partly cloudy",
		LocalTime:       time.Now(),
	}, nil
}

func (f *fakeProvider) GetForecast(ctx context.Context, locationKey string) ([]weather.ForecastDay, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.forecast != nil {
		return f.forecast, nil
	}
	return []weather.ForecastDay{{
		Date:           time.Date(2026, 8, 30, 0, 0, 0, 0, time.UTC),
		MinTemperature: 15,
		MaxTemperature: 24,
		DayText:        "Sunny",
	}}, nil
}

func (f *fakeProvider) GetAlerts(ctx context.Context, locationKey string) ([]weather.Alert, error) {
	return nil, nil
}

// fakeAlertSource is a scriptable alerts.Source.
type fakeAlertSource struct {
	mu     sync.Mutex
	alerts []weather.Alert
	err    error
}

func (f *fakeAlertSource) Name() string { return "fake-alerts" }

func (f *fakeAlertSource) GetAlerts(ctx context.Context, locationKey string) ([]weather.Alert, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.alerts, f.err
}

// slowAlertSource stalls every fetch for a fixed delay.
type slowAlertSource struct {
	delay time.Duration
}

func (f *slowAlertSource) Name() string { return "slow-alerts" }

func (f *slowAlertSource) GetAlerts(ctx context.Context, locationKey string) ([]weather.Alert, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-time.After(f.delay):
	}
	return nil, nil
}

func nextEvent(t *testing.T, ch <-chan Event) Event {
	t.Helper()
	select {
	case ev, ok := <-ch:
		require.True(t, ok, "event channel closed unexpectedly")
		return ev
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for event")
		return nil
	}
}

func TestSessionEmitsImmediateWeatherThenForecast(t *testing.T) {
	reg := NewRegistry(10)
	s := newTestSession(reg, &fakeProvider{}, &fakeAlertSource{}, nil)
	require.NoError(t, reg.Register(s))

	go s.Run()
	defer s.Close()

	first := nextEvent(t, s.Events())
	wu, ok := first.(WeatherUpdate)
	require.True(t, ok, "first event must be a weather_update, got %T", first)
	assert.Equal(t, "40.75,-73.99", wu.LocationKey)
	assert.Equal(t, 21.5, wu.Weather.Temperature)

	second := nextEvent(t, s.Events())
	fu, ok := second.(ForecastUpdate)
	require.True(t, ok, "second event must be a forecast_update, got %T", second)
	assert.Len(t, fu.Forecast, 1)

	assert.Equal(t, StatusStreaming, s.Connection().Status())
}

func TestSessionInitialAlertCheckOnPrimary(t *testing.T) {
	reg := NewRegistry(10)
	primary := &fakeAlertSource{alerts: []weather.Alert{{ID: "a1", Category: "flood", StartTime: time.Now()}}}
	s := newTestSession(reg, &fakeProvider{}, primary, nil)
	require.NoError(t, reg.Register(s))

	go s.Run()
	defer s.Close()

	nextEvent(t, s.Events()) // weather_update
	nextEvent(t, s.Events()) // forecast_update

	ev := nextEvent(t, s.Events())
	wa, ok := ev.(WeatherAlert)
	require.True(t, ok, "expected weather_alert, got %T", ev)
	assert.Equal(t, 1, wa.Count)

	ev = nextEvent(t, s.Events())
	st, ok := ev.(AlertStatus)
	require.True(t, ok, "expected alert_status, got %T", ev)
	assert.Equal(t, AlertStatusSuccess, st.Status)
}

func TestSessionFallbackEmitsObservableTwoStep(t *testing.T) {
	reg := NewRegistry(10)
	primary := &fakeAlertSource{err: weather.ErrFeatureUnavailable}
	secondary := &fakeAlertSource{alerts: []weather.Alert{{ID: "nws-1", Category: "wind", StartTime: time.Now()}}}
	s := newTestSession(reg, &fakeProvider{}, primary, secondary)
	require.NoError(t, reg.Register(s))

	go s.Run()
	defer s.Close()

	nextEvent(t, s.Events()) // weather_update
	nextEvent(t, s.Events()) // forecast_update

	ev := nextEvent(t, s.Events())
	st, ok := ev.(AlertStatus)
	require.True(t, ok, "expected alert_status, got %T", ev)
	assert.Equal(t, AlertStatusFallbackAttempted, st.Status)

	ev = nextEvent(t, s.Events())
	st, ok = ev.(AlertStatus)
	require.True(t, ok, "expected alert_status, got %T", ev)
	assert.Equal(t, AlertStatusSuccessFallback, st.Status)

	ev = nextEvent(t, s.Events())
	wa, ok := ev.(WeatherAlert)
	require.True(t, ok, "expected weather_alert, got %T", ev)
	require.Len(t, wa.Alerts, 1)
	assert.Equal(t, "nws-1", wa.Alerts[0].ID)
}

func TestSessionHeartbeatCarriesActiveCount(t *testing.T) {
	reg := NewRegistry(10)
	s := newTestSession(reg, &fakeProvider{}, &fakeAlertSource{}, nil)
	require.NoError(t, reg.Register(s))

	go s.Run()
	defer s.Close()

	deadline := time.After(2 * time.Second)
	for {
		select {
		case ev := <-s.Events():
			if hb, ok := ev.(Heartbeat); ok {
				assert.GreaterOrEqual(t, hb.ActiveConnections, 1)
				assert.Equal(t, s.Connection().ID, hb.ConnectionID)
				return
			}
		case <-deadline:
			t.Fatal("no heartbeat within deadline")
		}
	}
}

func TestSessionHeartbeatsFlowDuringSlowAlertPoll(t *testing.T) {
	reg := NewRegistry(10)
	s := newTestSession(reg, &fakeProvider{}, &slowAlertSource{delay: 300 * time.Millisecond}, nil)
	require.NoError(t, reg.Register(s))

	go s.Run()
	defer s.Close()

	// Every alert poll stalls for 15x the heartbeat interval. Liveness
	// signaling must not wait for the poll to complete.
	beats := 0
	deadline := time.After(700 * time.Millisecond)
loop:
	for {
		select {
		case ev := <-s.Events():
			if _, ok := ev.(Heartbeat); ok {
				beats++
			}
		case <-deadline:
			break loop
		}
	}
	assert.GreaterOrEqual(t, beats, 10, "heartbeats must keep ticking while an alert poll is in flight")
}

func TestSessionSurvivesTransientWeatherFailure(t *testing.T) {
	reg := NewRegistry(10)
	p := &fakeProvider{currentErr: errors.New("upstream 503")}
	s := newTestSession(reg, p, &fakeAlertSource{}, nil)
	require.NoError(t, reg.Register(s))

	go s.Run()
	defer s.Close()

	ev := nextEvent(t, s.Events())
	_, ok := ev.(StreamError)
	require.True(t, ok, "expected error event, got %T", ev)

	// Heartbeats keep flowing regardless of the poll failure.
	deadline := time.After(2 * time.Second)
	for {
		select {
		case ev := <-s.Events():
			if _, ok := ev.(Heartbeat); ok {
				return
			}
		case <-deadline:
			t.Fatal("no heartbeat after weather failure")
		}
	}
}

func TestSessionCloseEndsStreamAndUnregisters(t *testing.T) {
	reg := NewRegistry(10)
	s := newTestSession(reg, &fakeProvider{}, &fakeAlertSource{}, nil)
	require.NoError(t, reg.Register(s))

	done := make(chan struct{})
	go func() {
		s.Run()
		close(done)
	}()

	nextEvent(t, s.Events()) // weather_update
	s.Close()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("session did not stop after Close")
	}

	// Drain: the channel must be closed, and nothing emits after Closing.
	for range s.Events() {
	}

	assert.Equal(t, StatusClosed, s.Connection().Status())
	assert.Equal(t, 0, reg.ActiveCount())
}

func TestSessionForecastEmittedOnlyOnChange(t *testing.T) {
	reg := NewRegistry(10)
	p := &fakeProvider{}
	s := newTestSession(reg, p, &fakeAlertSource{}, nil)
	require.NoError(t, reg.Register(s))

	go s.Run()
	defer s.Close()

	nextEvent(t, s.Events()) // weather_update
	nextEvent(t, s.Events()) // forecast_update (first fetch counts as changed)

	// Watch subsequent polls: identical forecasts must not re-emit.
	forecastUpdates := 0
	deadline := time.After(400 * time.Millisecond)
loop:
	for {
		select {
		case ev := <-s.Events():
			if _, ok := ev.(ForecastUpdate); ok {
				forecastUpdates++
			}
		case <-deadline:
			break loop
		}
	}
	assert.Zero(t, forecastUpdates, "unchanged forecast must not be re-emitted")
}
