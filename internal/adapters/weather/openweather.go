package weather

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/taskmaster/taskpad/internal/domain/entities"
	"github.com/taskmaster/taskpad/internal/infrastructure/config"
)

const (
	maxErrorBody    = 512
	maxResponseBody = 64 << 10
)

// OpenWeatherClient looks up current conditions from the OpenWeatherMap
// "current weather" endpoint, metric units.
type OpenWeatherClient struct {
	apiURL string
	apiKey string
	client *http.Client
}

type openWeatherResponse struct {
	Main *struct {
		Temp *float64 `json:"temp"`
	} `json:"main"`
	Weather []struct {
		Main string `json:"main"`
		Icon string `json:"icon"`
	} `json:"weather"`
}

type openWeatherError struct {
	Code    interface{} `json:"cod"`
	Message string      `json:"message"`
}

// NewOpenWeatherClient creates a client from configuration
func NewOpenWeatherClient(cfg config.WeatherConfig) *OpenWeatherClient {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &OpenWeatherClient{
		apiURL: cfg.APIURL,
		apiKey: cfg.APIKey,
		client: &http.Client{Timeout: timeout},
	}
}

// Lookup fetches the weather for a free-text location
func (c *OpenWeatherClient) Lookup(ctx context.Context, location string) (*entities.Weather, error) {
	location = strings.TrimSpace(location)
	if location == "" {
		return nil, entities.ErrNoLocation
	}

	u, err := url.Parse(c.apiURL)
	if err != nil {
		return nil, fmt.Errorf("invalid weather api url: %w", err)
	}
	q := u.Query()
	q.Set("q", location)
	q.Set("units", "metric")
	if c.apiKey != "" {
		q.Set("appid", c.apiKey)
	}
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody+1))
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}
	if len(body) > maxResponseBody {
		return nil, fmt.Errorf("%w: response exceeds %d bytes", entities.ErrInvalidWeatherPayload, maxResponseBody)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		var apiErr openWeatherError
		if json.Unmarshal(body, &apiErr) == nil && apiErr.Message != "" {
			return nil, fmt.Errorf("weather api error (status %d): %s", resp.StatusCode, apiErr.Message)
		}
		if len(body) > maxErrorBody {
			body = body[:maxErrorBody]
		}
		return nil, fmt.Errorf("weather api error (status %d): %s", resp.StatusCode, string(body))
	}

	var result openWeatherResponse
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, fmt.Errorf("%w: %v", entities.ErrInvalidWeatherPayload, err)
	}
	if result.Main == nil || result.Main.Temp == nil || len(result.Weather) == 0 || result.Weather[0].Main == "" {
		return nil, entities.ErrInvalidWeatherPayload
	}

	return &entities.Weather{
		Temperature: *result.Main.Temp,
		Condition:   result.Weather[0].Main,
		IconHint:    result.Weather[0].Icon,
	}, nil
}
