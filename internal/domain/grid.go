package domain

import (
	"fmt"
	"math"
	"time"
)

// Grid is a decoded gridded archive with dimensions (time, lat, lon).
type Grid struct {
	Times []time.Time
	Lats  []float64
	Lons  []float64
	Vars  []GridVariable
}

// GridVariable holds one data variable. Values are row-major over
// (time, lat, lon); NaN marks a missing cell.
type GridVariable struct {
	Name   string
	Units  string
	Values []float64
}

func (g Grid) cells() int {
	return len(g.Times) * len(g.Lats) * len(g.Lons)
}

// NormalizeGrid flattens a grid into canonical records. When the descriptor
// carries a Region, a point keeps only the nearest grid cell and a box is
// reduced to the per-timestamp mean of the cells inside it (records without
// coordinates).
func NormalizeGrid(src SourceDescriptor, g Grid) (Dataset, error) {
	if len(g.Times) == 0 || len(g.Lats) == 0 || len(g.Lons) == 0 {
		return Dataset{}, &SchemaError{Source: src.Name, Reason: "grid needs time, latitude and longitude dimensions"}
	}
	var names []string
	attrs := make(map[string]Unit)
	for _, v := range g.Vars {
		if len(v.Values) != g.cells() {
			return Dataset{}, &SchemaError{
				Source: src.Name,
				Reason: fmt.Sprintf("variable %s has %d values, want %d", v.Name, len(v.Values), g.cells()),
			}
		}
		if src.wants(v.Name) {
			names = append(names, v.Name)
			attrs[v.Name] = ParseUnit(v.Units)
		}
	}
	if len(names) == 0 {
		return Dataset{}, &SchemaError{Source: src.Name, Reason: "no data variables", Columns: gridNames(g)}
	}

	region := NoSelector()
	if src.Region != nil {
		region = *src.Region
	}
	if err := region.Validate(); err != nil {
		return Dataset{}, err
	}
	var pointLat, pointLon int
	if region.Kind == SelectorPoint {
		pointLat, pointLon = nearestCell(g, *region.Point)
	}

	ds := Dataset{Source: src}
	nLat, nLon := len(g.Lats), len(g.Lons)
	for _, v := range g.Vars {
		if !src.wants(v.Name) {
			continue
		}
		for ti, ts := range g.Times {
			base := ti * nLat * nLon
			switch region.Kind {
			case SelectorPoint:
				li, oi := pointLat, pointLon
				val := v.Values[base+li*nLon+oi]
				if math.IsNaN(val) {
					continue
				}
				ds.Records = append(ds.Records, Record{
					Time: ts, Geo: &Geo{Lat: g.Lats[li], Lon: g.Lons[oi]}, Variable: v.Name, Value: val,
				})
			case SelectorBox:
				var sum float64
				var n int
				for li, lat := range g.Lats {
					for oi, lon := range g.Lons {
						val := v.Values[base+li*nLon+oi]
						if math.IsNaN(val) || !region.Box.Contains(Geo{Lat: lat, Lon: lon}) {
							continue
						}
						sum += val
						n++
					}
				}
				if n == 0 {
					continue
				}
				ds.Records = append(ds.Records, Record{Time: ts, Variable: v.Name, Value: sum / float64(n)})
			default:
				for li, lat := range g.Lats {
					for oi, lon := range g.Lons {
						val := v.Values[base+li*nLon+oi]
						if math.IsNaN(val) {
							continue
						}
						ds.Records = append(ds.Records, Record{
							Time: ts, Geo: &Geo{Lat: lat, Lon: lon}, Variable: v.Name, Value: val,
						})
					}
				}
			}
		}
	}
	ds.Units = collectUnits(names, src.Units, attrs)
	return ds, nil
}

// nearestCell returns the (lat, lon) indices of the grid cell closest to p.
func nearestCell(g Grid, p Geo) (int, int) {
	candidates := make([]Geo, 0, len(g.Lats)*len(g.Lons))
	for _, lat := range g.Lats {
		for _, lon := range g.Lons {
			candidates = append(candidates, Geo{Lat: lat, Lon: lon})
		}
	}
	best, _ := Nearest(p, candidates)
	li, oi := 0, 0
	for i, lat := range g.Lats {
		if lat == best.Lat {
			li = i
			break
		}
	}
	for i, lon := range g.Lons {
		if lon == best.Lon {
			oi = i
			break
		}
	}
	return li, oi
}

func gridNames(g Grid) []string {
	out := make([]string, 0, len(g.Vars))
	for _, v := range g.Vars {
		out = append(out, v.Name)
	}
	return out
}
