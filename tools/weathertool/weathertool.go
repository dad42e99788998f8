// Package weathertool registers weather.get over the weatherapi.com
// forecast endpoint.
package weathertool

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/nevindra/relay"
)

const forecastURL = "https://api.weatherapi.com/v1/forecast.json"

// Options configures the weather tool.
type Options struct {
	Enabled   bool
	APIKeyEnv string // env var holding the weatherapi.com key
	Timeout   time.Duration
	Client    *http.Client // optional; a default client is used when nil
}

// Register adds weather.get to registry. The tool is registered even when
// disabled so routing stays stable; disabled calls fail with a config error.
func Register(registry *relay.ToolRegistry, opts Options) error {
	if opts.APIKeyEnv == "" {
		opts.APIKeyEnv = "RELAY_WEATHER_API_KEY"
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 10 * time.Second
	}
	client := opts.Client
	if client == nil {
		client = &http.Client{Timeout: opts.Timeout}
	}

	get := func(ctx context.Context, _ *relay.ToolCallContext, args map[string]any) (map[string]any, error) {
		if !opts.Enabled {
			return nil, &relay.ConfigError{Msg: "weather tool not configured: tools.weather.enabled=false"}
		}
		query := strings.TrimSpace(firstString(args, "location", "query"))
		if query == "" {
			return map[string]any{"status": "ignored", "reason": "missing_location"}, nil
		}
		apiKey := strings.TrimSpace(os.Getenv(opts.APIKeyEnv))
		if apiKey == "" {
			return nil, &relay.ConfigError{Msg: "weather tool not configured: missing " + opts.APIKeyEnv}
		}
		days := normalizeDays(args["days"])

		params := url.Values{}
		params.Set("key", apiKey)
		params.Set("q", query)
		params.Set("days", strconv.Itoa(days))
		params.Set("aqi", "no")
		params.Set("alerts", "no")

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, forecastURL+"?"+params.Encode(), nil)
		if err != nil {
			return nil, fmt.Errorf("create request: %w", err)
		}
		resp, err := client.Do(req)
		if err != nil {
			return nil, fmt.Errorf("weather request: %w", err)
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			raw, _ := io.ReadAll(resp.Body)
			return nil, &relay.ErrHTTP{Status: resp.StatusCode, Body: string(raw)}
		}

		var data forecastResponse
		if err := json.NewDecoder(resp.Body).Decode(&data); err != nil {
			return nil, fmt.Errorf("decode weather response: %w", err)
		}

		forecast := make([]map[string]any, 0, days)
		for i, d := range data.Forecast.ForecastDay {
			if i >= days {
				break
			}
			forecast = append(forecast, map[string]any{
				"date":           d.Date,
				"avg_temp_c":     d.Day.AvgTempC,
				"max_temp_c":     d.Day.MaxTempC,
				"min_temp_c":     d.Day.MinTempC,
				"condition":      d.Day.Condition.Text,
				"chance_of_rain": d.Day.DailyChanceOfRain,
			})
		}

		return map[string]any{
			"status": "ok",
			"source": "weatherapi",
			"location": map[string]any{
				"name":      data.Location.Name,
				"region":    data.Location.Region,
				"country":   data.Location.Country,
				"localtime": data.Location.Localtime,
			},
			"current": map[string]any{
				"temp_c":      data.Current.TempC,
				"feelslike_c": data.Current.FeelslikeC,
				"humidity":    data.Current.Humidity,
				"wind_kph":    data.Current.WindKph,
				"condition":   data.Current.Condition.Text,
			},
			"forecast": forecast,
		}, nil
	}

	return registry.Register(relay.ToolMetadata{
		Name:              "weather.get",
		Version:           "1.0",
		Risk:              relay.RiskLow,
		Tags:              []string{"weather", "forecast", "temperature", "rain"},
		RoutingSummary:    "Get weather and forecast for a location using configured weather provider.",
		InvocationSummary: "weather.get(location, days=1) returns current conditions and forecast.",
		FullSchema:        `{"type":"object","properties":{"location":{"type":"string","minLength":1},"days":{"type":"integer","minimum":1,"maximum":3},"query":{"type":"string"}},"required":["location"]}`,
		Examples:          []string{"weather.get(location='Bengaluru', days=1)"},
		Timeout:           opts.Timeout,
		Idempotent:        true,
	}, get)
}

type condition struct {
	Text string `json:"text"`
}

type forecastResponse struct {
	Location struct {
		Name      string `json:"name"`
		Region    string `json:"region"`
		Country   string `json:"country"`
		Localtime string `json:"localtime"`
	} `json:"location"`
	Current struct {
		TempC      float64   `json:"temp_c"`
		FeelslikeC float64   `json:"feelslike_c"`
		Humidity   int       `json:"humidity"`
		WindKph    float64   `json:"wind_kph"`
		Condition  condition `json:"condition"`
	} `json:"current"`
	Forecast struct {
		ForecastDay []struct {
			Date string `json:"date"`
			Day  struct {
				AvgTempC          float64   `json:"avgtemp_c"`
				MaxTempC          float64   `json:"maxtemp_c"`
				MinTempC          float64   `json:"mintemp_c"`
				DailyChanceOfRain int       `json:"daily_chance_of_rain"`
				Condition         condition `json:"condition"`
			} `json:"day"`
		} `json:"forecastday"`
	} `json:"forecast"`
}

func firstString(args map[string]any, keys ...string) string {
	for _, k := range keys {
		if s, ok := args[k].(string); ok && s != "" {
			return s
		}
	}
	return ""
}

func normalizeDays(v any) int {
	days := 1
	switch n := v.(type) {
	case int:
		days = n
	case int64:
		days = int(n)
	case float64:
		days = int(n)
	}
	if days < 1 {
		days = 1
	}
	if days > 3 {
		days = 3
	}
	return days
}
