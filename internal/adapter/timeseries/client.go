// Package timeseries loads sources from a remote time-series API that
// authenticates with OAuth2 client credentials and returns JSON of the form
// {"data":[{"parameter":..,"coordinates":[{"lat":..,"lon":..,"dates":[..]}]}]}.
package timeseries

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/sony/gobreaker"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"

	"github.com/couchcryptid/weather-exceedance-service/internal/domain"
)

const timeLayout = "2006-01-02T15:04:05Z"

// Config configures the API client.
type Config struct {
	BaseURL      string
	TokenURL     string
	ClientID     string
	ClientSecret string
	Timeout      time.Duration
	MaxElapsed   time.Duration // upper bound on retries for one fetch
}

// Client implements domain.SourceProvider for timeseries sources.
type Client struct {
	baseURL         string
	httpClient      *http.Client
	breaker         *gobreaker.CircuitBreaker
	maxElapsed      time.Duration
	initialInterval time.Duration
	logger          *slog.Logger
}

// NewClient creates an API client. Requests carry a bearer token obtained
// from cfg.TokenURL and refreshed on expiry.
func NewClient(cfg Config, logger *slog.Logger) *Client {
	base := &http.Client{Timeout: cfg.Timeout}
	cc := clientcredentials.Config{
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
		TokenURL:     cfg.TokenURL,
	}
	hc := cc.Client(context.WithValue(context.Background(), oauth2.HTTPClient, base))
	hc.Timeout = cfg.Timeout

	return &Client{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		httpClient: hc,
		breaker: gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:        "timeseries",
			MaxRequests: 1,
			Interval:    1 * time.Minute,
			Timeout:     30 * time.Second,
		}),
		maxElapsed:      cfg.MaxElapsed,
		initialInterval: 500 * time.Millisecond,
		logger:          logger,
	}
}

// RequestURL builds the query path for a descriptor:
// {base}/{start}--{end}:{step}/{params}/{lat,lon+lat,lon}/json.
func RequestURL(base string, src domain.SourceDescriptor) (string, error) {
	if len(src.Parameters) == 0 || len(src.Points) == 0 {
		return "", fmt.Errorf("%w: source %s needs parameters and points", domain.ErrConfiguration, src.Name)
	}
	if src.Start.IsZero() || src.End.IsZero() || src.End.Before(src.Start) {
		return "", fmt.Errorf("%w: source %s has an invalid period", domain.ErrConfiguration, src.Name)
	}
	step := src.Step
	if step == "" {
		step = "P1D"
	}
	points := make([]string, len(src.Points))
	for i, p := range src.Points {
		points[i] = fmt.Sprintf("%g,%g", p.Lat, p.Lon)
	}
	return fmt.Sprintf("%s/%s--%s:%s/%s/%s/json",
		strings.TrimRight(base, "/"),
		src.Start.UTC().Format(timeLayout),
		src.End.UTC().Format(timeLayout),
		step,
		strings.Join(src.Parameters, ","),
		strings.Join(points, "+"),
	), nil
}

// Fetch queries the API and normalizes the response. Transient failures are
// retried with exponential backoff; repeated failures open a circuit breaker
// that fails fast until the API recovers.
func (c *Client) Fetch(ctx context.Context, src domain.SourceDescriptor) (domain.Dataset, error) {
	u, err := RequestURL(c.baseURL, src)
	if err != nil {
		return domain.Dataset{}, err
	}

	body, err := c.getWithRetry(ctx, u)
	if err != nil {
		return domain.Dataset{}, fmt.Errorf("%w: %s: %w", domain.ErrSourceUnavailable, src.Name, err)
	}

	var resp domain.SeriesResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return domain.Dataset{}, fmt.Errorf("%w: %s: decode response: %w", domain.ErrSourceUnavailable, src.Name, err)
	}
	return domain.NormalizeSeries(src, resp)
}

func (c *Client) getWithRetry(ctx context.Context, u string) ([]byte, error) {
	var body []byte
	operation := func() error {
		res, err := c.breaker.Execute(func() (interface{}, error) {
			return c.get(ctx, u)
		})
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return backoff.Permanent(fmt.Errorf("circuit breaker open: %w", err))
		}
		if err != nil {
			return err
		}
		body = res.([]byte)
		return nil
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = c.initialInterval
	bo.MaxElapsedTime = c.maxElapsed
	notify := func(err error, wait time.Duration) {
		c.logger.Warn("timeseries request failed, retrying", "error", err, "backoff", wait)
	}
	if err := backoff.RetryNotify(operation, backoff.WithContext(bo, ctx), notify); err != nil {
		return nil, err
	}
	return body, nil
}

// get performs one request. Errors that retrying cannot fix are wrapped with
// backoff.Permanent.
func (c *Client) get(ctx context.Context, u string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, backoff.Permanent(fmt.Errorf("create request: %w", err))
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		var rerr *oauth2.RetrieveError
		if errors.As(err, &rerr) {
			return nil, backoff.Permanent(fmt.Errorf("token request: %w", err))
		}
		if ctx.Err() != nil {
			return nil, backoff.Permanent(ctx.Err())
		}
		return nil, fmt.Errorf("request: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		return nil, fmt.Errorf("status %d", resp.StatusCode)
	case resp.StatusCode != http.StatusOK:
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return nil, backoff.Permanent(fmt.Errorf("status %d: %s", resp.StatusCode, strings.TrimSpace(string(b))))
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}
	return body, nil
}
