package weather

import (
	"time"
)

// Location identifies a place weather data can be fetched for. Key is the
// provider-facing identifier, always in "lat,lon" form once resolved.
type Location struct {
	Key       string  `json:"key"`
	Name      string  `json:"name"`
	Region    string  `json:"region,omitempty"`
	Country   string  `json:"country,omitempty"`
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

// CurrentConditions is a normalized current-weather snapshot.
type CurrentConditions struct {
	Temperature     float64   `json:"temperature"`
	TemperatureUnit string    `json:"temperature_unit"`
	Humidity        int       `json:"humidity"`
	WindSpeed       float64   `json:"wind_speed"`
	WindDirection   string    `json:"wind_direction"`
	Pressure        float64   `json:"pressure"`
	Visibility      float64   `json:"visibility"`
	UVIndex         int       `json:"uv_index"`
	WeatherText     string    `json:"weather_text"`
	Precipitation   float64   `json:"precipitation"`
	LocalTime       time.Time `json:"local_time"`
}

// ForecastDay is one day of a multi-day forecast.
type ForecastDay struct {
	Date                   time.Time `json:"date"`
	MinTemperature         float64   `json:"min_temperature"`
	MaxTemperature         float64   `json:"max_temperature"`
	TemperatureUnit        string    `json:"temperature_unit"`
	DayText                string    `json:"day_text"`
	DayPrecipProbability   int       `json:"day_precipitation_probability"`
	NightText              string    `json:"night_text"`
	NightPrecipProbability int       `json:"night_precipitation_probability"`
}

// Alert is an active weather warning for a location.
type Alert struct {
	ID          string     `json:"id"`
	Title       string     `json:"title"`
	Description string     `json:"description"`
	Severity    string     `json:"severity"`
	Category    string     `json:"category"`
	StartTime   time.Time  `json:"start_time"`
	EndTime     *time.Time `json:"end_time,omitempty"`
	Areas       []string   `json:"areas"`
}
