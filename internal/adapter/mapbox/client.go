// Package mapbox resolves place names into coordinates through the Mapbox
// Geocoding API.
package mapbox

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/couchcryptid/weather-exceedance-service/internal/domain"
	"github.com/couchcryptid/weather-exceedance-service/internal/observability"
)

const (
	defaultBaseURL = "https://api.mapbox.com/geocoding/v5/mapbox.places"

	// candidates is how many features are requested per lookup.
	candidates = 3

	// minRelevance rejects fuzzy matches that only share a token with the
	// query; Mapbox still returns something for nearly any input.
	minRelevance = 0.3
)

// placeTypes restricts results to things a weather query can sensibly be
// centred on.
const placeTypes = "country,region,district,place,locality,neighborhood,poi"

// Client implements domain.Geocoder using the Mapbox forward geocoding
// endpoint.
type Client struct {
	token      string
	httpClient *http.Client
	baseURL    string
	metrics    *observability.Metrics
	logger     *slog.Logger
}

// NewClient creates a Mapbox geocoding client.
func NewClient(token string, timeout time.Duration, metrics *observability.Metrics, logger *slog.Logger) *Client {
	return &Client{
		token:      token,
		httpClient: &http.Client{Timeout: timeout},
		baseURL:    defaultBaseURL,
		metrics:    metrics,
		logger:     logger,
	}
}

// ForwardGeocode converts a free-text place name to coordinates. When no
// candidate is relevant enough the zero result is returned without error.
func (c *Client) ForwardGeocode(ctx context.Context, query string) (domain.GeocodingResult, error) {
	start := time.Now()
	features, err := c.search(ctx, query)
	c.metrics.GeocodeAPIDuration.Observe(time.Since(start).Seconds())
	if err != nil {
		c.metrics.GeocodeRequests.WithLabelValues("error").Inc()
		return domain.GeocodingResult{}, err
	}

	best, ok := bestFeature(features)
	if !ok {
		c.metrics.GeocodeRequests.WithLabelValues("empty").Inc()
		c.logger.Debug("no relevant mapbox feature", "query", query, "candidates", len(features))
		return domain.GeocodingResult{}, nil
	}
	c.metrics.GeocodeRequests.WithLabelValues("success").Inc()
	return best.result(), nil
}

func (c *Client) search(ctx context.Context, query string) ([]feature, error) {
	params := url.Values{
		"access_token": {c.token},
		"limit":        {fmt.Sprint(candidates)},
		"types":        {placeTypes},
	}
	endpoint := fmt.Sprintf("%s/%s.json?%s", c.baseURL, url.PathEscape(query), params.Encode())

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("mapbox request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return nil, fmt.Errorf("mapbox API error: status %d: %s", resp.StatusCode, body)
	}

	var fc featureCollection
	if err := json.NewDecoder(resp.Body).Decode(&fc); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	return fc.Features, nil
}

// bestFeature returns the most relevant feature with a usable centre.
// Mapbox orders by relevance already, but ties are kept in response order.
func bestFeature(features []feature) (feature, bool) {
	var best feature
	found := false
	for _, f := range features {
		if len(f.Center) != 2 || f.Relevance < minRelevance {
			continue
		}
		if !found || f.Relevance > best.Relevance {
			best, found = f, true
		}
	}
	return best, found
}

type featureCollection struct {
	Features []feature `json:"features"`
}

type feature struct {
	Center    []float64 `json:"center"` // [lon, lat]
	PlaceName string    `json:"place_name"`
	Text      string    `json:"text"`
	Relevance float64   `json:"relevance"`
}

func (f feature) result() domain.GeocodingResult {
	return domain.GeocodingResult{
		Lat:              f.Center[1],
		Lon:              f.Center[0],
		FormattedAddress: f.PlaceName,
		PlaceName:        f.Text,
		Confidence:       f.Relevance,
	}
}
