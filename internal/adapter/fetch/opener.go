// Package fetch opens source locations: local paths or http(s) URLs.
package fetch

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/couchcryptid/weather-exceedance-service/internal/domain"
)

// Opener reads source bytes from disk or over HTTP.
type Opener struct {
	httpClient *http.Client
}

// NewOpener creates an opener. A nil client gets a 60 second default.
func NewOpener(client *http.Client) *Opener {
	if client == nil {
		client = &http.Client{Timeout: 60 * time.Second}
	}
	return &Opener{httpClient: client}
}

// IsRemote reports whether location is an http(s) URL.
func IsRemote(location string) bool {
	l := strings.ToLower(location)
	return strings.HasPrefix(l, "http://") || strings.HasPrefix(l, "https://")
}

// Open returns a reader for the location. Every failure wraps
// domain.ErrSourceUnavailable. The caller closes the reader.
func (o *Opener) Open(ctx context.Context, location string) (io.ReadCloser, error) {
	if strings.TrimSpace(location) == "" {
		return nil, fmt.Errorf("%w: empty location", domain.ErrSourceUnavailable)
	}
	if !IsRemote(location) {
		f, err := os.Open(strings.TrimPrefix(location, "file://"))
		if err != nil {
			return nil, fmt.Errorf("%w: %w", domain.ErrSourceUnavailable, err)
		}
		return f, nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, location, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: create request: %w", domain.ErrSourceUnavailable, err)
	}
	resp, err := o.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: fetch %s: %w", domain.ErrSourceUnavailable, location, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		resp.Body.Close()
		return nil, fmt.Errorf("%w: fetch %s: status %d", domain.ErrSourceUnavailable, location, resp.StatusCode)
	}
	return resp.Body, nil
}

// ReadAll opens the location and reads it fully.
func (o *Opener) ReadAll(ctx context.Context, location string) ([]byte, error) {
	rc, err := o.Open(ctx, location)
	if err != nil {
		return nil, err
	}
	defer rc.Close()

	data, err := io.ReadAll(rc)
	if err != nil {
		return nil, fmt.Errorf("%w: read %s: %w", domain.ErrSourceUnavailable, location, err)
	}
	return data, nil
}
