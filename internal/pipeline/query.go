package pipeline

import (
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/couchcryptid/weather-exceedance-service/internal/domain"
)

// ErrUnknownSource means a query named a source missing from the catalog.
var ErrUnknownSource = errors.New("unknown source")

// VariableQuery names one variable and, optionally, its own threshold. When
// Threshold is nil the query's condition supplies it.
type VariableQuery struct {
	Name      string      `json:"name"`
	Threshold *float64    `json:"threshold,omitempty"`
	Unit      domain.Unit `json:"unit,omitempty"`
}

// Query is everything one exceedance request needs. It replaces any notion
// of session state: two queries never share mutable data.
type Query struct {
	Source     string                  `json:"source"`
	Place      string                  `json:"place,omitempty"`
	Selector   domain.LocationSelector `json:"selector"`
	Season     domain.Season           `json:"season"`
	TargetDate time.Time               `json:"target_date"` // zero means today
	Condition  string                  `json:"condition,omitempty"`
	Variables  []VariableQuery         `json:"variables"`
}

// ExportQuery selects the records to export.
type ExportQuery struct {
	Source    string
	Place     string
	Selector  domain.LocationSelector
	Season    domain.Season
	Variables []string // empty means every variable
}

// normalize validates q and fills defaults. All configuration errors surface
// here, before any source is loaded.
func (q Query) normalize() (Query, *domain.Condition, error) {
	if len(q.Variables) == 0 {
		return q, nil, fmt.Errorf("%w: at least one variable is required", domain.ErrConfiguration)
	}

	var cond *domain.Condition
	if strings.TrimSpace(q.Condition) != "" {
		c, err := domain.LookupCondition(q.Condition)
		if err != nil {
			return q, nil, err
		}
		cond = &c
		q.Condition = c.Name
	}

	q.Variables = slices.Clone(q.Variables)
	seen := make(map[string]bool, len(q.Variables))
	for i, v := range q.Variables {
		v.Name = strings.TrimSpace(v.Name)
		if v.Name == "" {
			return q, nil, fmt.Errorf("%w: variables[%d]: name is required", domain.ErrConfiguration, i)
		}
		if seen[v.Name] {
			return q, nil, fmt.Errorf("%w: variable %q listed twice", domain.ErrConfiguration, v.Name)
		}
		seen[v.Name] = true
		if v.Threshold == nil && cond == nil {
			return q, nil, fmt.Errorf("%w: variable %q needs a threshold or a condition", domain.ErrConfiguration, v.Name)
		}
		if v.Unit != domain.UnitUnknown && domain.ParseUnit(string(v.Unit)) == domain.UnitUnknown {
			return q, nil, fmt.Errorf("%w: variable %q: unknown unit %q", domain.ErrConfiguration, v.Name, v.Unit)
		}
		v.Unit = domain.ParseUnit(string(v.Unit))
		q.Variables[i] = v
	}

	season, err := domain.ParseSeason(string(q.Season))
	if err != nil {
		return q, nil, err
	}
	q.Season = season

	if q.Selector.Kind == "" {
		q.Selector = domain.NoSelector()
	}
	if err := q.Selector.Validate(); err != nil {
		return q, nil, err
	}
	if q.TargetDate.IsZero() {
		q.TargetDate = domain.Now()
	}
	return q, cond, nil
}

func (q ExportQuery) normalize() (ExportQuery, error) {
	season, err := domain.ParseSeason(string(q.Season))
	if err != nil {
		return q, err
	}
	q.Season = season
	if q.Selector.Kind == "" {
		q.Selector = domain.NoSelector()
	}
	return q, q.Selector.Validate()
}
