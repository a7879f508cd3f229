package domain

import "context"

// SourceProvider loads and normalizes one source. Implementations return
// errors wrapping ErrSourceUnavailable or ErrSchema.
type SourceProvider interface {
	Fetch(ctx context.Context, src SourceDescriptor) (Dataset, error)
}
