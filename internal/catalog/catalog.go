// Package catalog loads the YAML source catalog: the named data sources a
// query can refer to.
package catalog

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/couchcryptid/weather-exceedance-service/internal/domain"
)

// Point is a coordinate pair in YAML form.
type Point struct {
	Lat float64 `yaml:"lat"`
	Lon float64 `yaml:"lon"`
}

// Region is a grid pre-aggregation selector: set Point or BBox, not both.
type Region struct {
	Point *Point `yaml:"point"`
	BBox  *struct {
		LatMin float64 `yaml:"lat_min"`
		LatMax float64 `yaml:"lat_max"`
		LonMin float64 `yaml:"lon_min"`
		LonMax float64 `yaml:"lon_max"`
	} `yaml:"bbox"`
}

// Entry is one source as written in the catalog file.
type Entry struct {
	Name       string            `yaml:"name"`
	Format     string            `yaml:"format"`
	Location   string            `yaml:"location"`
	Sheet      string            `yaml:"sheet"`
	Variable   string            `yaml:"variable"`
	Units      map[string]string `yaml:"units"`
	Region     *Region           `yaml:"region"`
	Parameters []string          `yaml:"parameters"`
	Points     []Point           `yaml:"points"`
	Start      string            `yaml:"start"`
	End        string            `yaml:"end"`
	Step       string            `yaml:"step"`
}

type file struct {
	Sources []Entry `yaml:"sources"`
}

// Catalog is an immutable, ordered set of source descriptors.
type Catalog struct {
	sources []domain.SourceDescriptor
	byName  map[string]int
}

// Load reads and validates a catalog file. Relative file locations resolve
// against the catalog's directory.
func Load(path string) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read catalog %s: %w", path, err)
	}
	return Parse(data, filepath.Dir(path))
}

// Parse decodes catalog YAML. baseDir resolves relative file locations; pass
// "" to keep them as written.
func Parse(data []byte, baseDir string) (*Catalog, error) {
	var f file
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("%w: parse catalog: %w", domain.ErrConfiguration, err)
	}
	if len(f.Sources) == 0 {
		return nil, fmt.Errorf("%w: catalog has no sources", domain.ErrConfiguration)
	}

	c := &Catalog{byName: make(map[string]int, len(f.Sources))}
	var errs []error
	for i, e := range f.Sources {
		src, err := e.descriptor(baseDir)
		if err != nil {
			errs = append(errs, fmt.Errorf("sources[%d] %q: %w", i, e.Name, err))
			continue
		}
		if _, dup := c.byName[src.Name]; dup {
			errs = append(errs, fmt.Errorf("sources[%d]: duplicate name %q", i, src.Name))
			continue
		}
		c.byName[src.Name] = len(c.sources)
		c.sources = append(c.sources, src)
	}
	if len(errs) > 0 {
		return nil, fmt.Errorf("%w: %w", domain.ErrConfiguration, errors.Join(errs...))
	}
	return c, nil
}

// New builds a catalog from descriptors that were validated elsewhere.
func New(sources ...domain.SourceDescriptor) *Catalog {
	c := &Catalog{byName: make(map[string]int, len(sources))}
	for _, s := range sources {
		c.byName[s.Name] = len(c.sources)
		c.sources = append(c.sources, s)
	}
	return c
}

// Get returns the named source.
func (c *Catalog) Get(name string) (domain.SourceDescriptor, bool) {
	i, ok := c.byName[name]
	if !ok {
		return domain.SourceDescriptor{}, false
	}
	return c.sources[i], true
}

// Default returns the first source in the file.
func (c *Catalog) Default() (domain.SourceDescriptor, bool) {
	if len(c.sources) == 0 {
		return domain.SourceDescriptor{}, false
	}
	return c.sources[0], true
}

// Sources returns every descriptor in file order.
func (c *Catalog) Sources() []domain.SourceDescriptor {
	out := make([]domain.SourceDescriptor, len(c.sources))
	copy(out, c.sources)
	return out
}

// Len returns the number of sources.
func (c *Catalog) Len() int { return len(c.sources) }

func (e Entry) descriptor(baseDir string) (domain.SourceDescriptor, error) {
	name := strings.TrimSpace(e.Name)
	if name == "" {
		return domain.SourceDescriptor{}, errors.New("name is required")
	}
	format, err := domain.ParseFormat(e.Format)
	if err != nil {
		return domain.SourceDescriptor{}, err
	}

	src := domain.SourceDescriptor{
		Name:     name,
		Format:   format,
		Location: e.Location,
		Sheet:    e.Sheet,
		Variable: e.Variable,
	}

	if len(e.Units) > 0 {
		src.Units = make(map[string]domain.Unit, len(e.Units))
		for v, u := range e.Units {
			unit := domain.ParseUnit(u)
			if unit == domain.UnitUnknown {
				return domain.SourceDescriptor{}, fmt.Errorf("unknown unit %q for %s", u, v)
			}
			src.Units[v] = unit
		}
	}

	if e.Region != nil {
		sel, err := e.Region.selector()
		if err != nil {
			return domain.SourceDescriptor{}, err
		}
		src.Region = &sel
	}

	if format == domain.FormatTimeSeries {
		return e.timeseries(src)
	}

	if strings.TrimSpace(e.Location) == "" {
		return domain.SourceDescriptor{}, errors.New("location is required")
	}
	src.Location = resolveLocation(baseDir, e.Location)
	return src, nil
}

func (e Entry) timeseries(src domain.SourceDescriptor) (domain.SourceDescriptor, error) {
	if len(e.Parameters) == 0 {
		return domain.SourceDescriptor{}, errors.New("parameters are required for timeseries sources")
	}
	if len(e.Points) == 0 {
		return domain.SourceDescriptor{}, errors.New("points are required for timeseries sources")
	}
	start, err := time.Parse(time.DateOnly, e.Start)
	if err != nil {
		return domain.SourceDescriptor{}, fmt.Errorf("start: %w", err)
	}
	end, err := time.Parse(time.DateOnly, e.End)
	if err != nil {
		return domain.SourceDescriptor{}, fmt.Errorf("end: %w", err)
	}
	if end.Before(start) {
		return domain.SourceDescriptor{}, errors.New("end is before start")
	}

	src.Parameters = e.Parameters
	for _, p := range e.Points {
		g := domain.Geo{Lat: p.Lat, Lon: p.Lon}
		if err := domain.PointSelector(g.Lat, g.Lon).Validate(); err != nil {
			return domain.SourceDescriptor{}, err
		}
		src.Points = append(src.Points, g)
	}
	src.Start, src.End = start, end
	src.Step = e.Step
	if src.Step == "" {
		src.Step = "P1D"
	}
	return src, nil
}

func (r Region) selector() (domain.LocationSelector, error) {
	var sel domain.LocationSelector
	switch {
	case r.Point != nil && r.BBox != nil:
		return sel, errors.New("region sets both point and bbox")
	case r.Point != nil:
		sel = domain.PointSelector(r.Point.Lat, r.Point.Lon)
	case r.BBox != nil:
		sel = domain.BoxSelector(r.BBox.LatMin, r.BBox.LatMax, r.BBox.LonMin, r.BBox.LonMax)
	default:
		return sel, errors.New("region needs point or bbox")
	}
	return sel, sel.Validate()
}

func resolveLocation(baseDir, loc string) string {
	if baseDir == "" || filepath.IsAbs(loc) || strings.Contains(loc, "://") {
		return loc
	}
	return filepath.Join(baseDir, loc)
}
