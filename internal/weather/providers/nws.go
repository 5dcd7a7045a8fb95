package providers

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/climastream/weather-stream/internal/weather"
)

// NWSProvider implements weather.Provider against the National Weather
// Service API. It needs no API key, which makes it the natural fallback
// source for alerts when the primary plan is restricted.
type NWSProvider struct {
	name      string
	baseURL   string
	userAgent string
	rc        *resilientClient

	// Grid metadata per "lat,lon" key, to avoid repeated point lookups.
	gridMu    sync.Mutex
	gridCache map[string]nwsGridPoint
}

type nwsGridPoint struct {
	ForecastURL string
	StationsURL string
	City        string
	State       string
}

// NewNWSProvider creates the provider. The NWS API requires an identifying
// User-Agent on every request.
func NewNWSProvider(client *http.Client, baseURL, userAgent string) *NWSProvider {
	if baseURL == "" {
		baseURL = "https://api.weather.gov"
	}
	if userAgent == "" {
		userAgent = "weather-stream (contact@climastream.io)"
	}
	return &NWSProvider{
		name:      "nws",
		baseURL:   baseURL,
		userAgent: userAgent,
		rc:        newResilientClient(client, "nws"),
		gridCache: make(map[string]nwsGridPoint),
	}
}

func (p *NWSProvider) Name() string {
	return p.name
}

func (p *NWSProvider) get(ctx context.Context, u string) (*http.Response, error) {
	return p.rc.do(ctx, func() (*http.Request, error) {
		req, err := http.NewRequest(http.MethodGet, u, nil)
		if err != nil {
			return nil, err
		}
		req.Header.Set("User-Agent", p.userAgent)
		req.Header.Set("Accept", "application/geo+json")
		return req, nil
	})
}

// parseLatLon splits a "lat,lon" location key.
func parseLatLon(locationKey string) (float64, float64, error) {
	parts := strings.Split(locationKey, ",")
	if len(parts) != 2 {
		return 0, 0, fmt.Errorf("%w: key %q is not lat,lon", weather.ErrLocationNotFound, locationKey)
	}
	lat, err := strconv.ParseFloat(strings.TrimSpace(parts[0]), 64)
	if err != nil {
		return 0, 0, fmt.Errorf("%w: bad latitude in %q", weather.ErrLocationNotFound, locationKey)
	}
	lon, err := strconv.ParseFloat(strings.TrimSpace(parts[1]), 64)
	if err != nil {
		return 0, 0, fmt.Errorf("%w: bad longitude in %q", weather.ErrLocationNotFound, locationKey)
	}
	return lat, lon, nil
}

// gridPoint resolves and memoizes NWS grid metadata for a location key.
func (p *NWSProvider) gridPoint(ctx context.Context, locationKey string) (nwsGridPoint, error) {
	p.gridMu.Lock()
	if gp, ok := p.gridCache[locationKey]; ok {
		p.gridMu.Unlock()
		return gp, nil
	}
	p.gridMu.Unlock()

	lat, lon, err := parseLatLon(locationKey)
	if err != nil {
		return nwsGridPoint{}, err
	}

	resp, err := p.get(ctx, fmt.Sprintf("%s/points/%.4f,%.4f", p.baseURL, lat, lon))
	if err != nil {
		return nwsGridPoint{}, err
	}
	defer resp.Body.Close()

	var payload struct {
		Properties struct {
			Forecast            string `json:"forecast"`
			ObservationStations string `json:"observationStations"`
			RelativeLocation    struct {
				Properties struct {
					City  string `json:"city"`
					State string `json:"state"`
				} `json:"properties"`
			} `json:"relativeLocation"`
		} `json:"properties"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nwsGridPoint{}, err
	}

	gp := nwsGridPoint{
		ForecastURL: payload.Properties.Forecast,
		StationsURL: payload.Properties.ObservationStations,
		City:        payload.Properties.RelativeLocation.Properties.City,
		State:       payload.Properties.RelativeLocation.Properties.State,
	}

	p.gridMu.Lock()
	p.gridCache[locationKey] = gp
	p.gridMu.Unlock()
	return gp, nil
}

// SearchLocations resolves "lat,lon" queries through the points endpoint. NWS
// has no free-text geocoder, so anything else reports not found.
func (p *NWSProvider) SearchLocations(ctx context.Context, query string) ([]weather.Location, error) {
	lat, lon, err := parseLatLon(query)
	if err != nil {
		return nil, err
	}

	key := fmt.Sprintf("%.4f,%.4f", lat, lon)
	gp, err := p.gridPoint(ctx, key)
	if err != nil {
		return nil, err
	}

	name := gp.City
	if name == "" {
		name = key
	}
	return []weather.Location{{
		Key:       key,
		Name:      name,
		Region:    gp.State,
		Country:   "US",
		Latitude:  lat,
		Longitude: lon,
	}}, nil
}

// GetCurrentWeather reads the latest observation from the nearest station.
func (p *NWSProvider) GetCurrentWeather(ctx context.Context, locationKey string) (weather.CurrentConditions, error) {
	gp, err := p.gridPoint(ctx, locationKey)
	if err != nil {
		return weather.CurrentConditions{}, err
	}

	stationResp, err := p.get(ctx, gp.StationsURL)
	if err != nil {
		return weather.CurrentConditions{}, err
	}
	defer stationResp.Body.Close()

	var stations struct {
		Features []struct {
			Properties struct {
				StationIdentifier string `json:"stationIdentifier"`
			} `json:"properties"`
		} `json:"features"`
	}
	if err := json.NewDecoder(stationResp.Body).Decode(&stations); err != nil {
		return weather.CurrentConditions{}, err
	}
	if len(stations.Features) == 0 {
		return weather.CurrentConditions{}, fmt.Errorf("no observation stations for %s", locationKey)
	}
	stationID := stations.Features[0].Properties.StationIdentifier

	obsResp, err := p.get(ctx, fmt.Sprintf("%s/stations/%s/observations/latest", p.baseURL, stationID))
	if err != nil {
		return weather.CurrentConditions{}, err
	}
	defer obsResp.Body.Close()

	var obs struct {
		Properties struct {
			Timestamp       string     `json:"timestamp"`
			TextDescription string     `json:"textDescription"`
			Temperature     nwsMeasure `json:"temperature"`
			WindSpeed       nwsMeasure `json:"windSpeed"`
			WindDirection   nwsMeasure `json:"windDirection"`
			Humidity        nwsMeasure `json:"relativeHumidity"`
			Pressure        nwsMeasure `json:"barometricPressure"`
			Visibility      nwsMeasure `json:"visibility"`
			PrecipLastHour  nwsMeasure `json:"precipitationLastHour"`
		} `json:"properties"`
	}
	if err := json.NewDecoder(obsResp.Body).Decode(&obs); err != nil {
		return weather.CurrentConditions{}, err
	}

	props := obs.Properties
	localTime, err := time.Parse(time.RFC3339, props.Timestamp)
	if err != nil {
		localTime = time.Now().UTC()
	}

	temp := props.Temperature.value()
	unit := "C"
	if containsAny(props.Temperature.UnitCode, "degF") {
		unit = "F"
	}

	return weather.CurrentConditions{
		Temperature:     temp,
		TemperatureUnit: unit,
		Humidity:        int(props.Humidity.value()),
		WindSpeed:       props.WindSpeed.value(),
		WindDirection:   compassDirection(props.WindDirection.value()),
		Pressure:        props.Pressure.value() / 100, // Pa -> hPa
		Visibility:      props.Visibility.value() / 1000,
		WeatherText:     props.TextDescription,
		Precipitation:   props.PrecipLastHour.value(),
		LocalTime:       localTime,
	}, nil
}

// nwsMeasure is the NWS quantitative value envelope; value may be null.
type nwsMeasure struct {
	Value    *float64 `json:"value"`
	UnitCode string   `json:"unitCode"`
}

func (m nwsMeasure) value() float64 {
	if m.Value == nil {
		return 0
	}
	return *m.Value
}

var compassPoints = []string{"N", "NNE", "NE", "ENE", "E", "ESE", "SE", "SSE", "S", "SSW", "SW", "WSW", "W", "WNW", "NW", "NNW"}

func compassDirection(degrees float64) string {
	if degrees < 0 {
		return ""
	}
	idx := int((degrees+11.25)/22.5) % len(compassPoints)
	return compassPoints[idx]
}

// GetForecast reads the gridpoint forecast, pairing day and night periods
// into per-day entries.
func (p *NWSProvider) GetForecast(ctx context.Context, locationKey string) ([]weather.ForecastDay, error) {
	gp, err := p.gridPoint(ctx, locationKey)
	if err != nil {
		return nil, err
	}

	resp, err := p.get(ctx, gp.ForecastURL)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var payload struct {
		Properties struct {
			Periods []struct {
				StartTime                  string  `json:"startTime"`
				IsDaytime                  bool    `json:"isDaytime"`
				Temperature                float64 `json:"temperature"`
				TemperatureUnit            string  `json:"temperatureUnit"`
				ShortForecast              string  `json:"shortForecast"`
				ProbabilityOfPrecipitation struct {
					Value *float64 `json:"value"`
				} `json:"probabilityOfPrecipitation"`
			} `json:"periods"`
		} `json:"properties"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, err
	}

	byDate := make(map[string]*weather.ForecastDay)
	var order []string

	for _, period := range payload.Properties.Periods {
		start, err := time.Parse(time.RFC3339, period.StartTime)
		if err != nil {
			continue
		}
		dateKey := start.Format("2006-01-02")

		day, ok := byDate[dateKey]
		if !ok {
			day = &weather.ForecastDay{
				Date:            time.Date(start.Year(), start.Month(), start.Day(), 0, 0, 0, 0, time.UTC),
				MinTemperature:  period.Temperature,
				MaxTemperature:  period.Temperature,
				TemperatureUnit: period.TemperatureUnit,
			}
			byDate[dateKey] = day
			order = append(order, dateKey)
		}

		if period.Temperature > day.MaxTemperature {
			day.MaxTemperature = period.Temperature
		}
		if period.Temperature < day.MinTemperature {
			day.MinTemperature = period.Temperature
		}

		precip := 0
		if period.ProbabilityOfPrecipitation.Value != nil {
			precip = int(*period.ProbabilityOfPrecipitation.Value)
		}

		if period.IsDaytime {
			day.DayText = period.ShortForecast
			day.DayPrecipProbability = precip
		} else {
			day.NightText = period.ShortForecast
			day.NightPrecipProbability = precip
		}
	}

	days := make([]weather.ForecastDay, 0, len(order))
	for _, dateKey := range order {
		days = append(days, *byDate[dateKey])
	}
	return days, nil
}

// GetAlerts reads active alerts for the point.
func (p *NWSProvider) GetAlerts(ctx context.Context, locationKey string) ([]weather.Alert, error) {
	lat, lon, err := parseLatLon(locationKey)
	if err != nil {
		return nil, err
	}

	resp, err := p.get(ctx, fmt.Sprintf("%s/alerts/active?point=%.4f,%.4f", p.baseURL, lat, lon))
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var payload struct {
		Features []struct {
			Properties struct {
				ID          string `json:"id"`
				Event       string `json:"event"`
				Description string `json:"description"`
				Severity    string `json:"severity"`
				Category    string `json:"category"`
				Onset       string `json:"onset"`
				Effective   string `json:"effective"`
				Ends        string `json:"ends"`
				Expires     string `json:"expires"`
				AreaDesc    string `json:"areaDesc"`
			} `json:"properties"`
		} `json:"features"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, err
	}

	list := make([]weather.Alert, 0, len(payload.Features))
	for _, feature := range payload.Features {
		props := feature.Properties

		start, err := time.Parse(time.RFC3339, props.Onset)
		if err != nil {
			if start, err = time.Parse(time.RFC3339, props.Effective); err != nil {
				start = time.Now().UTC()
			}
		}

		var end *time.Time
		if t, err := time.Parse(time.RFC3339, props.Ends); err == nil {
			end = &t
		} else if t, err := time.Parse(time.RFC3339, props.Expires); err == nil {
			end = &t
		}

		var areas []string
		for _, area := range strings.Split(props.AreaDesc, ";") {
			if area = strings.TrimSpace(area); area != "" {
				areas = append(areas, area)
			}
		}

		list = append(list, weather.Alert{
			ID:          props.ID,
			Title:       props.Event,
			Description: props.Description,
			Severity:    props.Severity,
			Category:    props.Category,
			StartTime:   start,
			EndTime:     end,
			Areas:       areas,
		})
	}
	return list, nil
}
