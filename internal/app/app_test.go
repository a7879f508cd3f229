package app

import (
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/couchcryptid/weather-exceedance-service/internal/config"
	"github.com/couchcryptid/weather-exceedance-service/internal/domain"
	"github.com/couchcryptid/weather-exceedance-service/internal/observability"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestNewProviders(t *testing.T) {
	cfg := &config.Config{}
	providers := NewProviders(cfg, discardLogger())
	assert.Len(t, providers, 3)
	assert.NotContains(t, providers, domain.FormatTimeSeries)

	cfg.TimeseriesClientID = "id"
	cfg.TimeseriesClientSecret = "secret"
	providers = NewProviders(cfg, discardLogger())
	assert.Contains(t, providers, domain.FormatTimeSeries)
}

func TestNewGeocoder(t *testing.T) {
	metrics := observability.NewMetricsForTesting()

	assert.Nil(t, NewGeocoder(&config.Config{}, metrics, discardLogger()))
	assert.InDelta(t, 0, testutil.ToFloat64(metrics.GeocodeEnabled), 0)

	g := NewGeocoder(&config.Config{MapboxEnabled: true, MapboxToken: "tok", MapboxCacheSize: 10}, metrics, discardLogger())
	assert.NotNil(t, g)
	assert.InDelta(t, 1, testutil.ToFloat64(metrics.GeocodeEnabled), 0)
}

func TestNewPipeline(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "daily.csv"), []byte("date,tmax\n2024-07-18,31\n"), 0o600))
	path := filepath.Join(dir, "sources.yaml")
	require.NoError(t, os.WriteFile(path, []byte("sources:\n  - name: daily\n    format: csv\n    location: daily.csv\n"), 0o600))

	p, err := NewPipeline(&config.Config{SourcesFile: path}, nil, observability.NewMetricsForTesting(), discardLogger())
	require.NoError(t, err)

	vars, err := p.Variables(t.Context(), "daily")
	require.NoError(t, err)
	require.Len(t, vars, 1)
	assert.Equal(t, "tmax", vars[0].Name)

	_, err = NewPipeline(&config.Config{SourcesFile: filepath.Join(dir, "missing.yaml")}, nil, observability.NewMetricsForTesting(), discardLogger())
	assert.Error(t, err)
}
