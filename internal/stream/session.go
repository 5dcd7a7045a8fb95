package stream

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/climastream/weather-stream/internal/alerts"
	"github.com/climastream/weather-stream/internal/weather"
)

// Intervals holds the per-duty schedules of a session. Heartbeat is
// independent of the data polls so a slow provider never starves liveness
// signaling.
type Intervals struct {
	WeatherPoll time.Duration
	AlertPoll   time.Duration
	Heartbeat   time.Duration
}

// eventBuffer sizes the per-session channel; a slow consumer gets this much
// slack before emission blocks on it.
const eventBuffer = 64

// Session owns one client connection's lifecycle: the immediate first fetch,
// the weather/forecast poll, the alert poll, the heartbeat, and cancellation.
// Each duty runs on its own goroutine so a slow data poll never delays the
// heartbeat; every emission passes through the emit gate, so nothing emits
// once Closing begins.
type Session struct {
	conn      *Connection
	svc       *weather.Service
	coord     *alerts.Coordinator
	registry  *Registry
	intervals Intervals

	events chan Event
	ctx    context.Context
	cancel context.CancelFunc

	lastForecast  []byte
	firstAlertRun bool
}

// NewSession creates a session for an already-resolved connection. Run must be
// called to start it; Close tears it down.
func NewSession(parent context.Context, conn *Connection, svc *weather.Service, coord *alerts.Coordinator, registry *Registry, intervals Intervals) *Session {
	ctx, cancel := context.WithCancel(parent)
	return &Session{
		conn:          conn,
		svc:           svc,
		coord:         coord,
		registry:      registry,
		intervals:     intervals,
		events:        make(chan Event, eventBuffer),
		ctx:           ctx,
		cancel:        cancel,
		firstAlertRun: true,
	}
}

// Connection returns the registry record for this session.
func (s *Session) Connection() *Connection { return s.conn }

// Events returns the output channel. It is closed when the session ends.
func (s *Session) Events() <-chan Event { return s.events }

// Close cancels all session duties. It is idempotent and safe from any
// goroutine; the run loop observes the cancellation within one scheduling
// step.
func (s *Session) Close() {
	if s.conn.beginClosing() {
		log.Printf("session %s: closing", s.conn.ID)
	}
	s.cancel()
}

// Run executes the session duties until cancellation. The first weather fetch
// happens immediately so the client receives data without waiting a full poll
// period; an immediate alert check follows it. It always leaves the connection
// Closed and unregistered, and closes the event channel last, after every
// duty goroutine has stopped.
func (s *Session) Run() {
	defer func() {
		s.conn.beginClosing()
		s.cancel()
		s.conn.markClosed()
		s.registry.Unregister(s.conn.ID)
		close(s.events)
		log.Printf("session %s: closed", s.conn.ID)
	}()

	// The alert loop waits for this so the client's first events arrive in a
	// fixed order: weather, forecast, then alerts.
	firstWeatherDone := make(chan struct{})

	var wg sync.WaitGroup
	wg.Add(3)
	go func() {
		defer wg.Done()
		s.weatherLoop(firstWeatherDone)
	}()
	go func() {
		defer wg.Done()
		s.alertLoop(firstWeatherDone)
	}()
	go func() {
		defer wg.Done()
		s.heartbeatLoop()
	}()
	wg.Wait()
}

func (s *Session) weatherLoop(firstDone chan<- struct{}) {
	s.pollWeather()
	close(firstDone)

	ticker := time.NewTicker(s.intervals.WeatherPoll)
	defer ticker.Stop()
	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
			s.pollWeather()
		}
	}
}

func (s *Session) alertLoop(firstWeatherDone <-chan struct{}) {
	select {
	case <-s.ctx.Done():
		return
	case <-firstWeatherDone:
	}
	s.pollAlerts()

	ticker := time.NewTicker(s.intervals.AlertPoll)
	defer ticker.Stop()
	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
			s.pollAlerts()
		}
	}
}

// heartbeatLoop ticks on its own schedule, independent of the data polls, so
// liveness signaling keeps flowing while a provider call is in flight.
func (s *Session) heartbeatLoop() {
	ticker := time.NewTicker(s.intervals.Heartbeat)
	defer ticker.Stop()
	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
			s.emit(Heartbeat{
				Timestamp:         time.Now(),
				ConnectionID:      s.conn.ID,
				ActiveConnections: s.registry.ActiveCount(),
			})
		}
	}
}

// emit delivers an event unless the session has begun closing. A successful
// delivery counts as activity.
func (s *Session) emit(ev Event) bool {
	switch s.conn.Status() {
	case StatusClosing, StatusClosed:
		return false
	}

	select {
	case s.events <- ev:
		s.conn.Touch(time.Now())
		return true
	case <-s.ctx.Done():
		return false
	}
}

// pollWeather fetches current conditions and the forecast through the shared
// cache. A transient failure degrades this emission only: the session stays
// open and retries on the next tick.
func (s *Session) pollWeather() {
	now := time.Now()

	current, err := s.svc.CurrentWeather(s.ctx, s.conn.LocationKey)
	if err != nil {
		if s.ctx.Err() == nil {
			s.emit(StreamError{Timestamp: now, Error: err.Error()})
		}
		return
	}

	s.emit(WeatherUpdate{
		LocationKey:  s.conn.LocationKey,
		LocationName: s.conn.LocationName,
		Timestamp:    now,
		Weather:      current,
	})
	s.conn.markStreaming()

	forecast, err := s.svc.Forecast(s.ctx, s.conn.LocationKey)
	if err != nil {
		if s.ctx.Err() == nil {
			s.emit(StreamError{Timestamp: time.Now(), Error: err.Error()})
		}
		return
	}

	if fp, changed := s.forecastChanged(forecast); changed {
		s.emit(ForecastUpdate{
			LocationKey:  s.conn.LocationKey,
			LocationName: s.conn.LocationName,
			Timestamp:    time.Now(),
			Forecast:     forecast,
		})
		s.lastForecast = fp
	}
}

// forecastChanged reports whether the forecast differs from the last emitted
// one. The first fetch always counts as changed.
func (s *Session) forecastChanged(forecast []weather.ForecastDay) ([]byte, bool) {
	fp, err := json.Marshal(forecast)
	if err != nil {
		return nil, false
	}
	return fp, !bytes.Equal(fp, s.lastForecast)
}

// pollAlerts runs the fallback coordinator and emits the alert payload with
// its companion status events. The resolution path is reported explicitly so
// clients can tell "no alerts active" from "alerts could not be determined".
func (s *Session) pollAlerts() {
	list, res := s.coord.FetchAlerts(s.ctx, s.conn.LocationKey, s.conn.AlertFilter)
	if s.ctx.Err() != nil {
		return
	}
	now := time.Now()
	initial := s.firstAlertRun
	s.firstAlertRun = false

	switch res.Source {
	case alerts.SourcePrimary:
		s.emitAlerts(now, list)
		s.emitAlertStatus(now, AlertStatusSuccess,
			fmt.Sprintf("retrieved %d weather alerts from primary source", len(list)))

	case alerts.SourceSecondary:
		s.emitAlertStatus(now, AlertStatusFallbackAttempted,
			"primary alert source unavailable, trying fallback source")
		s.emitAlertStatus(now, AlertStatusSuccessFallback,
			fmt.Sprintf("retrieved %d weather alerts from fallback source", len(list)))
		s.emitAlerts(now, list)

	case alerts.SourceNone:
		s.emitAlerts(now, list)
		if initial {
			s.emitAlertStatus(now, AlertStatusInfo,
				"no weather alerts available for this location")
		} else {
			s.emitAlertStatus(now, AlertStatusUnavailable,
				"weather alerts could not be determined from any source")
		}
	}
}

func (s *Session) emitAlerts(now time.Time, list []weather.Alert) {
	s.emit(WeatherAlert{
		LocationKey:  s.conn.LocationKey,
		LocationName: s.conn.LocationName,
		Timestamp:    now,
		Alerts:       list,
		Count:        len(list),
	})
}

func (s *Session) emitAlertStatus(now time.Time, status AlertStatusValue, message string) {
	s.emit(AlertStatus{
		LocationKey:  s.conn.LocationKey,
		LocationName: s.conn.LocationName,
		Timestamp:    now,
		Status:       status,
		Message:      message,
	})
}
