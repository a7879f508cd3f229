package pipeline

import (
	"context"
	"fmt"

	"github.com/couchcryptid/weather-exceedance-service/internal/domain"
)

// ProviderSet dispatches a source to the provider registered for its format.
type ProviderSet map[domain.Format]domain.SourceProvider

// Fetch implements domain.SourceProvider.
func (s ProviderSet) Fetch(ctx context.Context, src domain.SourceDescriptor) (domain.Dataset, error) {
	p, ok := s[src.Format]
	if !ok {
		return domain.Dataset{}, fmt.Errorf("%w: no provider for format %q (source %s)", domain.ErrConfiguration, src.Format, src.Name)
	}
	return p.Fetch(ctx, src)
}
