package grid

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/couchcryptid/weather-exceedance-service/internal/domain"
)

// archive mirrors xarray's Dataset.to_dict() layout.
type archive struct {
	Coords   map[string]variable `json:"coords"`
	DataVars map[string]variable `json:"data_vars"`
}

type variable struct {
	Dims  []string        `json:"dims"`
	Attrs map[string]any  `json:"attrs"`
	Data  json.RawMessage `json:"data"`
}

func (v variable) attr(name string) string {
	s, _ := v.Attrs[name].(string)
	return s
}

var (
	timeNames = []string{"time", "valid_time", "date"}
	latNames  = []string{"latitude", "lat"}
	lonNames  = []string{"longitude", "lon"}
)

func findCoord(coords map[string]variable, names []string) (string, variable, bool) {
	for _, n := range names {
		if v, ok := coords[n]; ok {
			return n, v, true
		}
	}
	return "", variable{}, false
}

// Decode parses an xarray JSON archive into a grid with dimensions ordered
// (time, lat, lon). Time slices whose timestamp cannot be decoded are
// dropped and counted.
func Decode(name string, data []byte) (domain.Grid, int, error) {
	var a archive
	if err := json.Unmarshal(data, &a); err != nil {
		return domain.Grid{}, 0, fmt.Errorf("%w: %s: decode grid json: %w", domain.ErrSourceUnavailable, name, err)
	}

	timeName, timeVar, okT := findCoord(a.Coords, timeNames)
	latName, latVar, okLat := findCoord(a.Coords, latNames)
	lonName, lonVar, okLon := findCoord(a.Coords, lonNames)
	if !okT || !okLat || !okLon {
		return domain.Grid{}, 0, &domain.SchemaError{Source: name, Reason: "grid needs time, latitude and longitude coordinates", Columns: sortedKeys(a.Coords)}
	}

	times, keep, err := decodeTimes(timeVar)
	if err != nil {
		return domain.Grid{}, 0, &domain.SchemaError{Source: name, Reason: err.Error()}
	}
	lats, err := decodeFloats(latVar.Data)
	if err != nil {
		return domain.Grid{}, 0, &domain.SchemaError{Source: name, Reason: "latitude: " + err.Error()}
	}
	lons, err := decodeFloats(lonVar.Data)
	if err != nil {
		return domain.Grid{}, 0, &domain.SchemaError{Source: name, Reason: "longitude: " + err.Error()}
	}
	if err := requireFinite(lats); err != nil {
		return domain.Grid{}, 0, &domain.SchemaError{Source: name, Reason: "latitude: " + err.Error()}
	}
	if err := requireFinite(lons); err != nil {
		return domain.Grid{}, 0, &domain.SchemaError{Source: name, Reason: "longitude: " + err.Error()}
	}

	sizes := map[string]int{timeName: len(keep), latName: len(lats), lonName: len(lons)}
	order := []string{timeName, latName, lonName}

	g := domain.Grid{Lats: lats, Lons: lons}
	for i, k := range keep {
		if k {
			g.Times = append(g.Times, times[i])
		}
	}

	for _, vn := range sortedKeys(a.DataVars) {
		v := a.DataVars[vn]
		if len(v.Dims) != 3 {
			continue
		}
		flat, err := decodeFloats(v.Data)
		if err != nil {
			return domain.Grid{}, 0, &domain.SchemaError{Source: name, Reason: vn + ": " + err.Error()}
		}
		values, err := reorder(flat, v.Dims, order, sizes, keep)
		if err != nil {
			return domain.Grid{}, 0, &domain.SchemaError{Source: name, Reason: vn + ": " + err.Error()}
		}
		g.Vars = append(g.Vars, domain.GridVariable{Name: vn, Units: v.attr("units"), Values: values})
	}

	dropped := 0
	for _, k := range keep {
		if !k {
			dropped++
		}
	}
	return g, dropped, nil
}

// reorder transposes a flat array laid out in dims order into (time, lat,
// lon) order, skipping time slices not kept.
func reorder(flat []float64, dims, order []string, sizes map[string]int, keep []bool) ([]float64, error) {
	pos := make(map[string]int, 3)
	for i, d := range dims {
		pos[d] = i
	}
	for _, d := range order {
		if _, ok := pos[d]; !ok {
			return nil, fmt.Errorf("dims %v do not match coordinates %v", dims, order)
		}
	}

	shape := make([]int, 3)
	for i, d := range dims {
		shape[i] = sizes[d]
	}
	if len(flat) != shape[0]*shape[1]*shape[2] {
		return nil, fmt.Errorf("has %d values, want %d", len(flat), shape[0]*shape[1]*shape[2])
	}
	strides := []int{shape[1] * shape[2], shape[2], 1}

	nT, nLat, nLon := sizes[order[0]], sizes[order[1]], sizes[order[2]]
	out := make([]float64, 0, nT*nLat*nLon)
	idx := make([]int, 3)
	for t := 0; t < nT; t++ {
		if !keep[t] {
			continue
		}
		for la := 0; la < nLat; la++ {
			for lo := 0; lo < nLon; lo++ {
				idx[pos[order[0]]] = t
				idx[pos[order[1]]] = la
				idx[pos[order[2]]] = lo
				out = append(out, flat[idx[0]*strides[0]+idx[1]*strides[1]+idx[2]*strides[2]])
			}
		}
	}
	return out, nil
}

// decodeFloats flattens nested JSON arrays of numbers; null becomes NaN.
func decodeFloats(raw json.RawMessage) ([]float64, error) {
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil, err
	}
	var out []float64
	var walk func(any) error
	walk = func(x any) error {
		switch t := x.(type) {
		case []any:
			for _, e := range t {
				if err := walk(e); err != nil {
					return err
				}
			}
		case float64:
			out = append(out, t)
		case nil:
			out = append(out, math.NaN())
		default:
			return fmt.Errorf("unexpected value %v", t)
		}
		return nil
	}
	if err := walk(v); err != nil {
		return nil, err
	}
	return out, nil
}

// requireFinite rejects missing coordinate values. Data variables may hold
// NaN; coordinates may not.
func requireFinite(vs []float64) error {
	for i, v := range vs {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return fmt.Errorf("value %d is missing or not finite", i)
		}
	}
	return nil
}

// decodeTimes accepts ISO strings or numbers with a CF "<unit> since <date>"
// units attribute.
func decodeTimes(v variable) ([]time.Time, []bool, error) {
	var raw []any
	if err := json.Unmarshal(v.Data, &raw); err != nil {
		return nil, nil, fmt.Errorf("time: %w", err)
	}

	var step time.Duration
	var epoch time.Time
	if units := v.attr("units"); units != "" && strings.Contains(units, " since ") {
		var err error
		step, epoch, err = parseCFUnits(units)
		if err != nil {
			return nil, nil, err
		}
	}

	times := make([]time.Time, len(raw))
	keep := make([]bool, len(raw))
	for i, x := range raw {
		switch t := x.(type) {
		case string:
			times[i], keep[i] = domain.ParseTimestamp(t)
		case float64:
			if step == 0 {
				return nil, nil, errors.New("numeric time without CF units attribute")
			}
			times[i] = epoch.Add(time.Duration(math.Round(t * float64(step))))
			keep[i] = true
		}
	}
	return times, keep, nil
}

var cfSteps = map[string]time.Duration{
	"seconds": time.Second, "second": time.Second, "s": time.Second,
	"minutes": time.Minute, "minute": time.Minute, "min": time.Minute,
	"hours": time.Hour, "hour": time.Hour, "h": time.Hour,
	"days": 24 * time.Hour, "day": 24 * time.Hour, "d": 24 * time.Hour,
}

func parseCFUnits(units string) (time.Duration, time.Time, error) {
	unit, ref, _ := strings.Cut(units, " since ")
	step, ok := cfSteps[strings.ToLower(strings.TrimSpace(unit))]
	if !ok {
		return 0, time.Time{}, fmt.Errorf("unsupported time unit %q", unit)
	}
	ref = strings.TrimSpace(ref)
	ref = strings.TrimSuffix(ref, " UTC")
	ref = strings.TrimSuffix(ref, ".0")
	epoch, ok := domain.ParseTimestamp(ref)
	if !ok {
		return 0, time.Time{}, fmt.Errorf("unsupported time reference %q", ref)
	}
	return step, epoch, nil
}
