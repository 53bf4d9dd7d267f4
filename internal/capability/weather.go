// Package capability ships the reference providers registered behind the
// dispatcher. Each provider implements the dispatch.Handler signature for
// exactly one tool; timeout policy is per provider (HTTP providers carry a
// 10 second client timeout), the dispatcher imposes none.
package capability

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/tidwall/gjson"
	"golang.org/x/sync/errgroup"

	"toolcall/internal/command"
	"toolcall/internal/logger"
)

// Weather answers get_weather_data through the Open-Meteo geocoding and
// forecast APIs.
type Weather struct {
	logger       logger.Logger
	client       *http.Client
	geocodeBase  string
	forecastBase string
}

func NewWeather() *Weather {
	return &Weather{
		logger:       logger.NoOp(),
		client:       &http.Client{Timeout: 10 * time.Second},
		geocodeBase:  "https://geocoding-api.open-meteo.com",
		forecastBase: "https://api.open-meteo.com",
	}
}

func (w *Weather) SetLogger(logger logger.Logger) *Weather {
	w.logger = logger
	return w
}

func (w *Weather) Handle(ctx context.Context, cmd command.Command) (string, error) {
	wc, ok := cmd.(command.Weather)
	if !ok {
		return "", fmt.Errorf("unexpected command type %T", cmd)
	}
	location := strings.TrimSpace(wc.Location)
	if location == "" {
		return "", fmt.Errorf("location not found: no location given")
	}
	place, err := w.geocode(ctx, location)
	if err != nil {
		return "", err
	}
	// current conditions and the daily forecast are independent requests
	var current, daily string
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		current, err = w.fetchCurrent(gctx, place)
		return err
	})
	g.Go(func() error {
		var err error
		daily, err = w.fetchDaily(gctx, place)
		return err
	})
	if err := g.Wait(); err != nil {
		return "", err
	}
	return fmt.Sprintf("Weather for %s:\n%s\n%s", place.label, current, daily), nil
}

type place struct {
	label     string
	latitude  float64
	longitude float64
}

func (w *Weather) geocode(ctx context.Context, location string) (place, error) {
	query := url.Values{"name": {location}, "count": {"1"}, "format": {"json"}}
	body, err := w.get(ctx, w.geocodeBase+"/v1/search?"+query.Encode())
	if err != nil {
		return place{}, err
	}
	result := gjson.GetBytes(body, "results.0")
	if !result.Exists() {
		return place{}, fmt.Errorf("location not found: %q", location)
	}
	label := result.Get("name").String()
	if country := result.Get("country").String(); country != "" {
		label += ", " + country
	}
	return place{
		label:     label,
		latitude:  result.Get("latitude").Float(),
		longitude: result.Get("longitude").Float(),
	}, nil
}

func (w *Weather) fetchCurrent(ctx context.Context, p place) (string, error) {
	query := url.Values{
		"latitude":  {fmt.Sprintf("%.4f", p.latitude)},
		"longitude": {fmt.Sprintf("%.4f", p.longitude)},
		"current":   {"temperature_2m,apparent_temperature,relative_humidity_2m,weather_code,wind_speed_10m"},
	}
	body, err := w.get(ctx, w.forecastBase+"/v1/forecast?"+query.Encode())
	if err != nil {
		return "", err
	}
	current := gjson.GetBytes(body, "current")
	return fmt.Sprintf("Now: %s, %.1f°C (feels like %.1f°C), humidity %d%%, wind %.1f km/h.",
		describeWeatherCode(int(current.Get("weather_code").Int())),
		current.Get("temperature_2m").Float(),
		current.Get("apparent_temperature").Float(),
		current.Get("relative_humidity_2m").Int(),
		current.Get("wind_speed_10m").Float(),
	), nil
}

func (w *Weather) fetchDaily(ctx context.Context, p place) (string, error) {
	query := url.Values{
		"latitude":      {fmt.Sprintf("%.4f", p.latitude)},
		"longitude":     {fmt.Sprintf("%.4f", p.longitude)},
		"daily":         {"temperature_2m_max,temperature_2m_min,weather_code"},
		"forecast_days": {"3"},
		"timezone":      {"auto"},
	}
	body, err := w.get(ctx, w.forecastBase+"/v1/forecast?"+query.Encode())
	if err != nil {
		return "", err
	}
	daily := gjson.GetBytes(body, "daily")
	days := daily.Get("time").Array()
	var sb strings.Builder
	sb.WriteString("Forecast:")
	for i, day := range days {
		sb.WriteString(fmt.Sprintf("\n- %s: %s, %.0f°C to %.0f°C",
			day.String(),
			describeWeatherCode(int(daily.Get(fmt.Sprintf("weather_code.%d", i)).Int())),
			daily.Get(fmt.Sprintf("temperature_2m_min.%d", i)).Float(),
			daily.Get(fmt.Sprintf("temperature_2m_max.%d", i)).Float(),
		))
	}
	return sb.String(), nil
}

func (w *Weather) get(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("error creating request: %w", err)
	}
	resp, err := w.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("weather service unreachable: %w", err)
	}
	defer resp.Body.Close() //nolint:errcheck
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("weather service returned status %d", resp.StatusCode)
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("error reading weather response: %w", err)
	}
	w.logger.Debug("weather response: %s", string(body))
	return body, nil
}

// describeWeatherCode maps WMO weather interpretation codes to words.
func describeWeatherCode(code int) string {
	switch {
	case code == 0:
		return "clear sky"
	case code <= 3:
		return "partly cloudy"
	case code <= 48:
		return "foggy"
	case code <= 57:
		return "drizzle"
	case code <= 67:
		return "rain"
	case code <= 77:
		return "snow"
	case code <= 82:
		return "rain showers"
	case code <= 86:
		return "snow showers"
	default:
		return "thunderstorm"
	}
}
