package providers

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/climastream/weather-stream/internal/weather"
)

// AccuWeatherProvider implements weather.Provider against the AccuWeather
// data service. Alert access depends on the API plan: restricted plans answer
// 401/403 on the alerts endpoint, which surfaces as
// weather.ErrFeatureUnavailable so the fallback coordinator can take over.
type AccuWeatherProvider struct {
	name    string
	apiKey  string
	baseURL string
	rc      *resilientClient

	// AccuWeather addresses resources by its own location keys; resolved
	// "lat,lon" keys are mapped once and remembered.
	keyMu    sync.Mutex
	keyCache map[string]string
}

// NewAccuWeatherProvider creates the provider. baseURL falls back to the
// public data service when empty.
func NewAccuWeatherProvider(client *http.Client, apiKey, baseURL string) *AccuWeatherProvider {
	if baseURL == "" {
		baseURL = "http://dataservice.accuweather.com"
	}
	return &AccuWeatherProvider{
		name:     "accuweather",
		apiKey:   apiKey,
		baseURL:  baseURL,
		rc:       newResilientClient(client, "accuweather"),
		keyCache: make(map[string]string),
	}
}

func (p *AccuWeatherProvider) Name() string {
	return p.name
}

type accuLocation struct {
	Key           string `json:"Key"`
	LocalizedName string `json:"LocalizedName"`
	Country       struct {
		LocalizedName string `json:"LocalizedName"`
	} `json:"Country"`
	AdministrativeArea struct {
		LocalizedName string `json:"LocalizedName"`
	} `json:"AdministrativeArea"`
	GeoPosition struct {
		Latitude  float64 `json:"Latitude"`
		Longitude float64 `json:"Longitude"`
	} `json:"GeoPosition"`
}

func (l accuLocation) toLocation() weather.Location {
	return weather.Location{
		Key:       fmt.Sprintf("%.4f,%.4f", l.GeoPosition.Latitude, l.GeoPosition.Longitude),
		Name:      l.LocalizedName,
		Region:    l.AdministrativeArea.LocalizedName,
		Country:   l.Country.LocalizedName,
		Latitude:  l.GeoPosition.Latitude,
		Longitude: l.GeoPosition.Longitude,
	}
}

// SearchLocations searches cities and postal codes by free-form text.
func (p *AccuWeatherProvider) SearchLocations(ctx context.Context, query string) ([]weather.Location, error) {
	if p.apiKey == "" {
		return nil, fmt.Errorf("accuweather api key is not configured")
	}

	resp, err := p.rc.do(ctx, func() (*http.Request, error) {
		values := url.Values{}
		values.Set("apikey", p.apiKey)
		values.Set("q", query)
		u := fmt.Sprintf("%s/locations/v1/search?%s", p.baseURL, values.Encode())
		return http.NewRequest(http.MethodGet, u, nil)
	})
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var payload []accuLocation
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, err
	}

	if len(payload) == 0 {
		return nil, weather.ErrLocationNotFound
	}

	locs := make([]weather.Location, 0, len(payload))
	for _, l := range payload {
		locs = append(locs, l.toLocation())
	}
	return locs, nil
}

// resolveKey maps a "lat,lon" location key to an AccuWeather location key via
// geoposition search, memoizing the result.
func (p *AccuWeatherProvider) resolveKey(ctx context.Context, locationKey string) (string, error) {
	p.keyMu.Lock()
	if key, ok := p.keyCache[locationKey]; ok {
		p.keyMu.Unlock()
		return key, nil
	}
	p.keyMu.Unlock()

	resp, err := p.rc.do(ctx, func() (*http.Request, error) {
		values := url.Values{}
		values.Set("apikey", p.apiKey)
		values.Set("q", locationKey)
		u := fmt.Sprintf("%s/locations/v1/cities/geoposition/search?%s", p.baseURL, values.Encode())
		return http.NewRequest(http.MethodGet, u, nil)
	})
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	var loc accuLocation
	if err := json.NewDecoder(resp.Body).Decode(&loc); err != nil {
		return "", err
	}
	if loc.Key == "" {
		return "", weather.ErrLocationNotFound
	}

	p.keyMu.Lock()
	p.keyCache[locationKey] = loc.Key
	p.keyMu.Unlock()
	return loc.Key, nil
}

// GetCurrentWeather fetches detailed current conditions.
func (p *AccuWeatherProvider) GetCurrentWeather(ctx context.Context, locationKey string) (weather.CurrentConditions, error) {
	if p.apiKey == "" {
		return weather.CurrentConditions{}, fmt.Errorf("accuweather api key is not configured")
	}

	accuKey, err := p.resolveKey(ctx, locationKey)
	if err != nil {
		return weather.CurrentConditions{}, err
	}

	resp, err := p.rc.do(ctx, func() (*http.Request, error) {
		values := url.Values{}
		values.Set("apikey", p.apiKey)
		values.Set("details", "true")
		u := fmt.Sprintf("%s/currentconditions/v1/%s?%s", p.baseURL, accuKey, values.Encode())
		return http.NewRequest(http.MethodGet, u, nil)
	})
	if err != nil {
		return weather.CurrentConditions{}, err
	}
	defer resp.Body.Close()

	var payload []struct {
		LocalObservationDateTime string `json:"LocalObservationDateTime"`
		WeatherText              string `json:"WeatherText"`
		RelativeHumidity         int    `json:"RelativeHumidity"`
		UVIndex                  int    `json:"UVIndex"`
		Temperature              struct {
			Metric struct {
				Value float64 `json:"Value"`
				Unit  string  `json:"Unit"`
			} `json:"Metric"`
		} `json:"Temperature"`
		Wind struct {
			Direction struct {
				English string `json:"English"`
			} `json:"Direction"`
			Speed struct {
				Metric struct {
					Value float64 `json:"Value"`
				} `json:"Metric"`
			} `json:"Speed"`
		} `json:"Wind"`
		Pressure struct {
			Metric struct {
				Value float64 `json:"Value"`
			} `json:"Metric"`
		} `json:"Pressure"`
		Visibility struct {
			Metric struct {
				Value float64 `json:"Value"`
			} `json:"Metric"`
		} `json:"Visibility"`
		PrecipitationSummary struct {
			Precipitation struct {
				Metric struct {
					Value float64 `json:"Value"`
				} `json:"Metric"`
			} `json:"Precipitation"`
		} `json:"PrecipitationSummary"`
	}

	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return weather.CurrentConditions{}, err
	}
	if len(payload) == 0 {
		return weather.CurrentConditions{}, fmt.Errorf("accuweather returned no current conditions for %s", locationKey)
	}

	obs := payload[0]
	localTime, err := time.Parse(time.RFC3339, obs.LocalObservationDateTime)
	if err != nil {
		localTime = time.Now().UTC()
	}

	return weather.CurrentConditions{
		Temperature:     obs.Temperature.Metric.Value,
		TemperatureUnit: obs.Temperature.Metric.Unit,
		Humidity:        obs.RelativeHumidity,
		WindSpeed:       obs.Wind.Speed.Metric.Value,
		WindDirection:   obs.Wind.Direction.English,
		Pressure:        obs.Pressure.Metric.Value,
		Visibility:      obs.Visibility.Metric.Value,
		UVIndex:         obs.UVIndex,
		WeatherText:     obs.WeatherText,
		Precipitation:   obs.PrecipitationSummary.Precipitation.Metric.Value,
		LocalTime:       localTime,
	}, nil
}

// GetForecast fetches the 5-day daily forecast in metric units.
func (p *AccuWeatherProvider) GetForecast(ctx context.Context, locationKey string) ([]weather.ForecastDay, error) {
	if p.apiKey == "" {
		return nil, fmt.Errorf("accuweather api key is not configured")
	}

	accuKey, err := p.resolveKey(ctx, locationKey)
	if err != nil {
		return nil, err
	}

	resp, err := p.rc.do(ctx, func() (*http.Request, error) {
		values := url.Values{}
		values.Set("apikey", p.apiKey)
		values.Set("metric", "true")
		u := fmt.Sprintf("%s/forecasts/v1/daily/5day/%s?%s", p.baseURL, accuKey, values.Encode())
		return http.NewRequest(http.MethodGet, u, nil)
	})
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var payload struct {
		DailyForecasts []struct {
			Date        string `json:"Date"`
			Temperature struct {
				Minimum struct {
					Value float64 `json:"Value"`
					Unit  string  `json:"Unit"`
				} `json:"Minimum"`
				Maximum struct {
					Value float64 `json:"Value"`
				} `json:"Maximum"`
			} `json:"Temperature"`
			Day struct {
				IconPhrase               string `json:"IconPhrase"`
				PrecipitationProbability int    `json:"PrecipitationProbability"`
			} `json:"Day"`
			Night struct {
				IconPhrase               string `json:"IconPhrase"`
				PrecipitationProbability int    `json:"PrecipitationProbability"`
			} `json:"Night"`
		} `json:"DailyForecasts"`
	}

	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, err
	}

	days := make([]weather.ForecastDay, 0, len(payload.DailyForecasts))
	for _, df := range payload.DailyForecasts {
		date, err := time.Parse(time.RFC3339, df.Date)
		if err != nil {
			continue
		}
		days = append(days, weather.ForecastDay{
			Date:                   date,
			MinTemperature:         df.Temperature.Minimum.Value,
			MaxTemperature:         df.Temperature.Maximum.Value,
			TemperatureUnit:        df.Temperature.Minimum.Unit,
			DayText:                df.Day.IconPhrase,
			DayPrecipProbability:   df.Day.PrecipitationProbability,
			NightText:              df.Night.IconPhrase,
			NightPrecipProbability: df.Night.PrecipitationProbability,
		})
	}
	return days, nil
}

// GetAlerts fetches active alerts. Plan-restricted responses map to
// weather.ErrFeatureUnavailable.
func (p *AccuWeatherProvider) GetAlerts(ctx context.Context, locationKey string) ([]weather.Alert, error) {
	if p.apiKey == "" {
		return nil, fmt.Errorf("%w: accuweather api key is not configured", weather.ErrFeatureUnavailable)
	}

	accuKey, err := p.resolveKey(ctx, locationKey)
	if err != nil {
		return nil, err
	}

	resp, err := p.rc.do(ctx, func() (*http.Request, error) {
		values := url.Values{}
		values.Set("apikey", p.apiKey)
		u := fmt.Sprintf("%s/alerts/v1/%s?%s", p.baseURL, accuKey, values.Encode())
		return http.NewRequest(http.MethodGet, u, nil)
	})
	if err != nil {
		if code := statusOf(err); code == http.StatusUnauthorized || code == http.StatusForbidden {
			return nil, fmt.Errorf("%w: alerts endpoint answered %d", weather.ErrFeatureUnavailable, code)
		}
		return nil, err
	}
	defer resp.Body.Close()

	var payload []struct {
		AlertID  json.Number `json:"AlertID"`
		Level    string      `json:"Level"`
		Category string      `json:"Category"`
		Headline struct {
			Text string `json:"Text"`
		} `json:"Headline"`
		Description struct {
			Text string `json:"Text"`
		} `json:"Description"`
		EffectiveDate string `json:"EffectiveDate"`
		ExpireDate    string `json:"ExpireDate"`
		Area          []struct {
			Name string `json:"Name"`
		} `json:"Area"`
	}

	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, err
	}

	list := make([]weather.Alert, 0, len(payload))
	for _, a := range payload {
		start, err := time.Parse(time.RFC3339, a.EffectiveDate)
		if err != nil {
			start = time.Now().UTC()
		}
		var end *time.Time
		if t, err := time.Parse(time.RFC3339, a.ExpireDate); err == nil {
			end = &t
		}
		areas := make([]string, 0, len(a.Area))
		for _, area := range a.Area {
			areas = append(areas, area.Name)
		}
		list = append(list, weather.Alert{
			ID:          a.AlertID.String(),
			Title:       a.Headline.Text,
			Description: a.Description.Text,
			Severity:    a.Level,
			Category:    a.Category,
			StartTime:   start,
			EndTime:     end,
			Areas:       areas,
		})
	}
	return list, nil
}
