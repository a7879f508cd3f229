// Package grid loads gridded archives exported from xarray as JSON
// (Dataset.to_dict) and flattens them into canonical records.
package grid

import (
	"context"
	"log/slog"
	"slices"

	"github.com/couchcryptid/weather-exceedance-service/internal/adapter/fetch"
	"github.com/couchcryptid/weather-exceedance-service/internal/domain"
)

// Provider reads grid-json sources from a path or URL.
type Provider struct {
	opener *fetch.Opener
	logger *slog.Logger
}

// NewProvider creates a grid provider.
func NewProvider(opener *fetch.Opener, logger *slog.Logger) *Provider {
	return &Provider{opener: opener, logger: logger}
}

// Fetch reads, decodes and normalizes a gridded archive. When the descriptor
// has a Region the grid is reduced while flattening.
func (p *Provider) Fetch(ctx context.Context, src domain.SourceDescriptor) (domain.Dataset, error) {
	data, err := p.opener.ReadAll(ctx, src.Location)
	if err != nil {
		return domain.Dataset{}, err
	}

	g, dropped, err := Decode(src.Name, data)
	if err != nil {
		return domain.Dataset{}, err
	}
	ds, err := domain.NormalizeGrid(src, g)
	if err != nil {
		return domain.Dataset{}, err
	}
	ds.Dropped += dropped

	p.logger.Debug("grid decoded",
		"source", src.Name,
		"times", len(g.Times),
		"lats", len(g.Lats),
		"lons", len(g.Lons),
		"variables", len(g.Vars),
	)
	return ds, nil
}

func sortedKeys[V any](m map[string]V) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	slices.Sort(out)
	return out
}
