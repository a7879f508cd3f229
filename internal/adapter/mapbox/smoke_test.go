//go:build mapbox

package mapbox

import (
	"context"
	"io"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/couchcryptid/weather-exceedance-service/internal/domain"
	"github.com/couchcryptid/weather-exceedance-service/internal/observability"
)

// Live API checks. Run with:
//
//	MAPBOX_TOKEN=... go test -tags=mapbox ./internal/adapter/mapbox/ -count=1

func liveClient(t *testing.T) *Client {
	t.Helper()
	token := os.Getenv("MAPBOX_TOKEN")
	if token == "" {
		t.Skip("MAPBOX_TOKEN not set")
	}
	return NewClient(token, 10*time.Second, observability.NewMetricsForTesting(), slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func TestLive_ResolvesCity(t *testing.T) {
	c := liveClient(t)

	result, err := c.ForwardGeocode(context.Background(), "Zurich, Switzerland")
	require.NoError(t, err)
	assert.InDelta(t, 47.37, result.Lat, 0.2)
	assert.InDelta(t, 8.54, result.Lon, 0.2)
	assert.GreaterOrEqual(t, result.Confidence, minRelevance)
}

func TestLive_ResolvePlaceBuildsPointSelector(t *testing.T) {
	c := liveClient(t)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	sel, place, err := domain.ResolvePlace(context.Background(), "Lugano", domain.NoSelector(), c, logger)
	require.NoError(t, err)
	require.NotNil(t, place)
	assert.Equal(t, domain.SelectorPoint, sel.Kind)
	require.NoError(t, sel.Validate())
}

func TestLive_CachedGeocoderNormalizesQueries(t *testing.T) {
	cached := NewCachedGeocoder(liveClient(t), 10, observability.NewMetricsForTesting())

	r1, err := cached.ForwardGeocode(context.Background(), "Lima, Peru")
	require.NoError(t, err)
	r2, err := cached.ForwardGeocode(context.Background(), "lima,  peru")
	require.NoError(t, err)
	assert.Equal(t, r1, r2)
}
