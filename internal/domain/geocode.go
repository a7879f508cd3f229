package domain

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
)

// ResolvePlace turns a place name into a point selector. A blank place keeps
// the given selector. Lookup failures are source errors, never silent
// fallbacks to another location.
func ResolvePlace(ctx context.Context, place string, sel LocationSelector, geocoder Geocoder, logger *slog.Logger) (LocationSelector, *GeocodingResult, error) {
	place = strings.TrimSpace(place)
	if place == "" {
		return sel, nil, nil
	}
	if !sel.IsNone() {
		return LocationSelector{}, nil, fmt.Errorf("%w: place and location are mutually exclusive", ErrConfiguration)
	}
	if geocoder == nil {
		return LocationSelector{}, nil, fmt.Errorf("%w: place lookup is disabled", ErrConfiguration)
	}

	result, err := geocoder.ForwardGeocode(ctx, place)
	if err != nil {
		logger.Warn("forward geocoding failed", "place", place, "error", err)
		return LocationSelector{}, nil, unavailable("geocoder", err)
	}
	if result.Lat == 0 && result.Lon == 0 {
		return LocationSelector{}, nil, fmt.Errorf("%w: place %q not found", ErrConfiguration, place)
	}

	logger.Debug("place resolved",
		"place", place,
		"lat", result.Lat,
		"lon", result.Lon,
		"confidence", result.Confidence,
	)
	return PointSelector(result.Lat, result.Lon), &result, nil
}
