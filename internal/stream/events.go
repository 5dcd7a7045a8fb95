package stream

import (
	"time"

	"github.com/climastream/weather-stream/internal/weather"
)

// Event is one tagged variant emitted on a session's output channel. The
// streaming boundary serializes whatever the channel yields, so session logic
// stays decoupled from the wire format.
type Event interface {
	// EventName is the SSE event name the variant is written under.
	EventName() string
}

// WeatherUpdate carries a current-conditions snapshot.
type WeatherUpdate struct {
	LocationKey  string                    `json:"location_key"`
	LocationName string                    `json:"location_name"`
	Timestamp    time.Time                 `json:"timestamp"`
	Weather      weather.CurrentConditions `json:"weather"`
}

func (WeatherUpdate) EventName() string { return "weather_update" }

// ForecastUpdate carries the multi-day forecast, emitted when it changes.
type ForecastUpdate struct {
	LocationKey  string                `json:"location_key"`
	LocationName string                `json:"location_name"`
	Timestamp    time.Time             `json:"timestamp"`
	Forecast     []weather.ForecastDay `json:"forecast"`
}

func (ForecastUpdate) EventName() string { return "forecast_update" }

// WeatherAlert carries the full alert list from the latest poll, empty
// included.
type WeatherAlert struct {
	LocationKey  string          `json:"location_key"`
	LocationName string          `json:"location_name"`
	Timestamp    time.Time       `json:"timestamp"`
	Alerts       []weather.Alert `json:"alerts"`
	Count        int             `json:"count"`
}

func (WeatherAlert) EventName() string { return "weather_alert" }

// AlertStatusValue enumerates the resolution outcomes reported alongside
// alert polls.
type AlertStatusValue string

const (
	AlertStatusSuccess           AlertStatusValue = "success"
	AlertStatusSuccessFallback   AlertStatusValue = "success_fallback"
	AlertStatusFallbackAttempted AlertStatusValue = "fallback_attempted"
	AlertStatusUnavailable       AlertStatusValue = "unavailable"
	AlertStatusInfo              AlertStatusValue = "info"
)

// AlertStatus reports which source resolved an alert poll. It is metadata
// about the fetch path, distinct from the alert payload itself.
type AlertStatus struct {
	LocationKey  string           `json:"location_key"`
	LocationName string           `json:"location_name"`
	Timestamp    time.Time        `json:"timestamp"`
	Status       AlertStatusValue `json:"status"`
	Message      string           `json:"message"`
}

func (AlertStatus) EventName() string { return "alert_status" }

// Heartbeat signals connection liveness.
type Heartbeat struct {
	Timestamp         time.Time `json:"timestamp"`
	ConnectionID      string    `json:"connection_id"`
	ActiveConnections int       `json:"active_connections"`
}

func (Heartbeat) EventName() string { return "heartbeat" }

// StreamError reports a per-fetch failure that degraded one emission without
// closing the session.
type StreamError struct {
	Timestamp time.Time `json:"timestamp"`
	Error     string    `json:"error"`
}

func (StreamError) EventName() string { return "error" }
