package domain

import (
	"fmt"
	"math"
	"strconv"
)

const earthRadiusKm = 6371.0

// coordEpsilon treats two distances as equal for tie-breaking.
const coordEpsilon = 1e-9

// SelectorKind discriminates LocationSelector variants.
type SelectorKind string

const (
	SelectorNone  SelectorKind = "none"
	SelectorPoint SelectorKind = "point"
	SelectorBox   SelectorKind = "bbox"
)

// BoundingBox is an inclusive latitude/longitude rectangle.
type BoundingBox struct {
	LatMin float64 `json:"lat_min"`
	LatMax float64 `json:"lat_max"`
	LonMin float64 `json:"lon_min"`
	LonMax float64 `json:"lon_max"`
}

// Contains reports whether g lies inside the box, edges included.
func (b BoundingBox) Contains(g Geo) bool {
	return g.Lat >= b.LatMin && g.Lat <= b.LatMax && g.Lon >= b.LonMin && g.Lon <= b.LonMax
}

// LocationSelector narrows a dataset spatially.
type LocationSelector struct {
	Kind  SelectorKind `json:"kind"`
	Point *Geo         `json:"point,omitempty"`
	Box   *BoundingBox `json:"bbox,omitempty"`
}

// NoSelector keeps every location.
func NoSelector() LocationSelector { return LocationSelector{Kind: SelectorNone} }

// PointSelector snaps to the nearest available location.
func PointSelector(lat, lon float64) LocationSelector {
	return LocationSelector{Kind: SelectorPoint, Point: &Geo{Lat: lat, Lon: lon}}
}

// BoxSelector keeps locations inside an inclusive rectangle.
func BoxSelector(latMin, latMax, lonMin, lonMax float64) LocationSelector {
	return LocationSelector{Kind: SelectorBox, Box: &BoundingBox{LatMin: latMin, LatMax: latMax, LonMin: lonMin, LonMax: lonMax}}
}

// IsNone reports whether the selector keeps everything. The zero value counts.
func (s LocationSelector) IsNone() bool {
	return s.Kind == SelectorNone || s.Kind == ""
}

// Validate checks coordinate ranges and box ordering.
func (s LocationSelector) Validate() error {
	switch s.Kind {
	case SelectorNone, "":
		return nil
	case SelectorPoint:
		if s.Point == nil {
			return fmt.Errorf("%w: point selector without coordinates", ErrConfiguration)
		}
		return validateGeo(*s.Point)
	case SelectorBox:
		if s.Box == nil {
			return fmt.Errorf("%w: bbox selector without bounds", ErrConfiguration)
		}
		b := *s.Box
		if err := validateGeo(Geo{Lat: b.LatMin, Lon: b.LonMin}); err != nil {
			return err
		}
		if err := validateGeo(Geo{Lat: b.LatMax, Lon: b.LonMax}); err != nil {
			return err
		}
		if b.LatMin > b.LatMax || b.LonMin > b.LonMax {
			return fmt.Errorf("%w: bbox minimum exceeds maximum", ErrConfiguration)
		}
		return nil
	default:
		return fmt.Errorf("%w: unknown selector kind %q", ErrConfiguration, s.Kind)
	}
}

func validateGeo(g Geo) error {
	if math.IsNaN(g.Lat) || g.Lat < -90 || g.Lat > 90 {
		return fmt.Errorf("%w: latitude %v out of range", ErrConfiguration, g.Lat)
	}
	if math.IsNaN(g.Lon) || g.Lon < -180 || g.Lon > 180 {
		return fmt.Errorf("%w: longitude %v out of range", ErrConfiguration, g.Lon)
	}
	return nil
}

// Key is a stable string form used in cache keys.
func (s LocationSelector) Key() string {
	f := func(v float64) string { return strconv.FormatFloat(v, 'f', 6, 64) }
	switch {
	case s.Kind == SelectorPoint && s.Point != nil:
		return "point:" + f(s.Point.Lat) + "," + f(s.Point.Lon)
	case s.Kind == SelectorBox && s.Box != nil:
		return "bbox:" + f(s.Box.LatMin) + "," + f(s.Box.LatMax) + "," + f(s.Box.LonMin) + "," + f(s.Box.LonMax)
	default:
		return "none"
	}
}

// Haversine returns the great-circle distance between two points in kilometres.
func Haversine(a, b Geo) float64 {
	lat1 := a.Lat * math.Pi / 180
	lat2 := b.Lat * math.Pi / 180
	dLat := (b.Lat - a.Lat) * math.Pi / 180
	dLon := (b.Lon - a.Lon) * math.Pi / 180

	h := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(lat1)*math.Cos(lat2)*math.Sin(dLon/2)*math.Sin(dLon/2)
	return 2 * earthRadiusKm * math.Asin(math.Min(1, math.Sqrt(h)))
}

// Nearest returns the candidate closest to target. Ties go to the lowest
// latitude, then the lowest longitude. Candidates with a non-finite
// coordinate are skipped. ok is false when no candidate remains.
func Nearest(target Geo, candidates []Geo) (best Geo, ok bool) {
	bestDist := math.Inf(1)
	for _, c := range candidates {
		if !finite(c.Lat) || !finite(c.Lon) {
			continue
		}
		d := Haversine(target, c)
		switch {
		case !ok || d < bestDist-coordEpsilon:
		case math.Abs(d-bestDist) <= coordEpsilon && lessGeo(c, best):
		default:
			continue
		}
		best, bestDist, ok = c, d, true
	}
	return best, ok
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}

func lessGeo(a, b Geo) bool {
	if a.Lat != b.Lat {
		return a.Lat < b.Lat
	}
	return a.Lon < b.Lon
}

// Select applies a selector to records and returns a new slice. Records
// without coordinates are kept unchanged. A point selector keeps only the
// records at the single nearest coordinate pair.
func Select(records []Record, sel LocationSelector) []Record {
	out := make([]Record, 0, len(records))
	switch sel.Kind {
	case SelectorPoint:
		if sel.Point == nil {
			return append(out, records...)
		}
		seen := make(map[Geo]struct{})
		var pairs []Geo
		for _, r := range records {
			if r.Geo == nil {
				continue
			}
			if _, dup := seen[*r.Geo]; !dup {
				seen[*r.Geo] = struct{}{}
				pairs = append(pairs, *r.Geo)
			}
		}
		nearest, found := Nearest(*sel.Point, pairs)
		for _, r := range records {
			if r.Geo == nil || (found && *r.Geo == nearest) {
				out = append(out, r)
			}
		}
	case SelectorBox:
		if sel.Box == nil {
			return append(out, records...)
		}
		for _, r := range records {
			if r.Geo == nil || sel.Box.Contains(*r.Geo) {
				out = append(out, r)
			}
		}
	default:
		out = append(out, records...)
	}
	return out
}
