// Package app wires configuration into the pipeline and its adapters. Both
// the service and the command-line tool build their pipeline here.
package app

import (
	"log/slog"
	"net/http"

	"github.com/couchcryptid/weather-exceedance-service/internal/adapter/fetch"
	"github.com/couchcryptid/weather-exceedance-service/internal/adapter/grid"
	"github.com/couchcryptid/weather-exceedance-service/internal/adapter/mapbox"
	"github.com/couchcryptid/weather-exceedance-service/internal/adapter/tabular"
	"github.com/couchcryptid/weather-exceedance-service/internal/adapter/timeseries"
	"github.com/couchcryptid/weather-exceedance-service/internal/catalog"
	"github.com/couchcryptid/weather-exceedance-service/internal/config"
	"github.com/couchcryptid/weather-exceedance-service/internal/domain"
	"github.com/couchcryptid/weather-exceedance-service/internal/observability"
	"github.com/couchcryptid/weather-exceedance-service/internal/pipeline"
)

// NewProviders returns one provider per source format. The timeseries
// provider is registered only when API credentials are configured.
func NewProviders(cfg *config.Config, logger *slog.Logger) pipeline.ProviderSet {
	opener := fetch.NewOpener(&http.Client{Timeout: cfg.SourceTimeout})
	tab := tabular.NewProvider(opener, logger)

	providers := pipeline.ProviderSet{
		domain.FormatCSV:      tab,
		domain.FormatXLSX:     tab,
		domain.FormatGridJSON: grid.NewProvider(opener, logger),
	}
	if cfg.TimeseriesEnabled() {
		providers[domain.FormatTimeSeries] = timeseries.NewClient(timeseries.Config{
			BaseURL:      cfg.TimeseriesBaseURL,
			TokenURL:     cfg.TimeseriesTokenURL,
			ClientID:     cfg.TimeseriesClientID,
			ClientSecret: cfg.TimeseriesClientSecret,
			Timeout:      cfg.SourceTimeout,
			MaxElapsed:   cfg.TimeseriesMaxElapsed,
		}, logger)
	} else {
		logger.Info("timeseries sources disabled", "reason", "no client credentials")
	}
	return providers
}

// NewGeocoder returns the cached Mapbox geocoder, or nil when geocoding is
// disabled.
func NewGeocoder(cfg *config.Config, metrics *observability.Metrics, logger *slog.Logger) domain.Geocoder {
	if !cfg.MapboxEnabled {
		metrics.GeocodeEnabled.Set(0)
		logger.Info("mapbox geocoding disabled")
		return nil
	}
	client := mapbox.NewClient(cfg.MapboxToken, cfg.MapboxTimeout, metrics, logger)
	metrics.GeocodeEnabled.Set(1)
	logger.Info("mapbox geocoding enabled", "cache_size", cfg.MapboxCacheSize, "timeout", cfg.MapboxTimeout)
	return mapbox.NewCachedGeocoder(client, cfg.MapboxCacheSize, metrics)
}

// NewPipeline loads the source catalog and builds a pipeline over it. A nil
// publisher disables report publication.
func NewPipeline(cfg *config.Config, publisher pipeline.Publisher, metrics *observability.Metrics, logger *slog.Logger) (*pipeline.Pipeline, error) {
	cat, err := catalog.Load(cfg.SourcesFile)
	if err != nil {
		return nil, err
	}
	logger.Info("source catalog loaded", "path", cfg.SourcesFile, "sources", cat.Len())

	return pipeline.New(cat, NewProviders(cfg, logger), pipeline.Options{
		SourceTimeout:   cfg.SourceTimeout,
		SourceCacheSize: cfg.SourceCacheSize,
		ViewCacheSize:   cfg.ViewCacheSize,
		Geocoder:        NewGeocoder(cfg, metrics, logger),
		Publisher:       publisher,
	}, logger, metrics), nil
}
