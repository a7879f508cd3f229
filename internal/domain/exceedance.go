package domain

import (
	"fmt"
	"math"
	"slices"
	"strings"
	"time"
)

// Predicate decides whether a single value counts as an exceedance.
type Predicate func(v float64) bool

// Exceeds is the exceedance rule: strictly greater than the threshold.
func Exceeds(threshold float64) Predicate {
	return func(v float64) bool { return v > threshold }
}

// DailyValue is one collapsed observation: the mean across all selected
// points at a timestamp.
type DailyValue struct {
	Time  time.Time `json:"timestamp"`
	DOY   int       `json:"doy"`
	Value float64   `json:"value"`
}

// CollapseByTime averages the variable's values per timestamp, so several
// stations at one instant contribute a single value. Output is sorted by time.
func CollapseByTime(records []SeasonalRecord, variable string) []DailyValue {
	type acc struct {
		doy int
		sum float64
		n   int
	}
	groups := make(map[time.Time]*acc)
	for _, r := range records {
		if r.Variable != variable {
			continue
		}
		key := r.Time.UTC()
		a, ok := groups[key]
		if !ok {
			a = &acc{doy: r.DOY}
			groups[key] = a
		}
		a.sum += r.Value
		a.n++
	}

	out := make([]DailyValue, 0, len(groups))
	for ts, a := range groups {
		out = append(out, DailyValue{Time: ts, DOY: a.doy, Value: a.sum / float64(a.n)})
	}
	slices.SortFunc(out, func(a, b DailyValue) int { return a.Time.Compare(b.Time) })
	return out
}

// CurvePoint is the exceedance probability of one day of year.
type CurvePoint struct {
	DOY         int     `json:"doy"`
	Probability float64 `json:"probability"`
	Samples     int     `json:"samples"`
	Exceeding   int     `json:"exceeding"`
}

// ProbabilityCurve covers only days that have observations, ordered by DOY.
type ProbabilityCurve []CurvePoint

// At returns the point for a day of year.
func (c ProbabilityCurve) At(doy int) (CurvePoint, bool) {
	i, ok := slices.BinarySearchFunc(c, doy, func(p CurvePoint, d int) int { return p.DOY - d })
	if !ok {
		return CurvePoint{}, false
	}
	return c[i], true
}

// AggregateByDay groups values by day of year and computes, per day, the
// percentage of values satisfying pred.
func AggregateByDay(values []DailyValue, pred Predicate) ProbabilityCurve {
	counts := make(map[int]*CurvePoint)
	for _, v := range values {
		p, ok := counts[v.DOY]
		if !ok {
			p = &CurvePoint{DOY: v.DOY}
			counts[v.DOY] = p
		}
		p.Samples++
		if pred(v.Value) {
			p.Exceeding++
		}
	}

	curve := make(ProbabilityCurve, 0, len(counts))
	for _, p := range counts {
		p.Probability = percent(p.Exceeding, p.Samples)
		curve = append(curve, *p)
	}
	slices.SortFunc(curve, func(a, b CurvePoint) int { return a.DOY - b.DOY })
	return curve
}

func percent(n, total int) float64 {
	return float64(n) / float64(total) * 100
}

// DayProbability is the single-day result. NoData is set when the day had no
// observations; Probability is then meaningless and reported as zero.
type DayProbability struct {
	Variable    string  `json:"variable"`
	DOY         int     `json:"doy"`
	Probability float64 `json:"probability"`
	Samples     int     `json:"samples"`
	Exceeding   int     `json:"exceeding"`
	NoData      bool    `json:"no_data"`
}

// SingleDay computes the exceedance probability for one day of year. An
// empty day yields NoData together with ErrEmptyResult.
func SingleDay(variable string, values []DailyValue, doy int, pred Predicate) (DayProbability, error) {
	day := DayProbability{Variable: variable, DOY: doy}
	for _, v := range values {
		if v.DOY != doy {
			continue
		}
		day.Samples++
		if pred(v.Value) {
			day.Exceeding++
		}
	}
	if day.Samples == 0 {
		day.NoData = true
		return day, fmt.Errorf("%w: %s has no observations on day %d", ErrEmptyResult, variable, doy)
	}
	day.Probability = percent(day.Exceeding, day.Samples)
	return day, nil
}

// ThresholdQuery is one variable's exceedance question.
type ThresholdQuery struct {
	Variable   string    `json:"variable"`
	Threshold  float64   `json:"threshold"`
	Unit       Unit      `json:"unit,omitempty"`
	Season     Season    `json:"season"`
	TargetDate time.Time `json:"target_date"`
}

// Validate rejects queries that cannot be evaluated.
func (q ThresholdQuery) Validate() error {
	if strings.TrimSpace(q.Variable) == "" {
		return fmt.Errorf("%w: variable is required", ErrConfiguration)
	}
	if math.IsNaN(q.Threshold) || math.IsInf(q.Threshold, 0) {
		return fmt.Errorf("%w: threshold must be a finite number", ErrConfiguration)
	}
	if q.TargetDate.IsZero() {
		return fmt.Errorf("%w: target date is required", ErrConfiguration)
	}
	if _, err := ParseSeason(string(q.Season)); err != nil {
		return err
	}
	return nil
}

// Exceedance is the full engine output for one variable.
type Exceedance struct {
	Query           ThresholdQuery   `json:"query"`
	NativeThreshold float64          `json:"native_threshold"`
	NativeUnit      Unit             `json:"native_unit,omitempty"`
	Day             DayProbability   `json:"day"`
	Curve           ProbabilityCurve `json:"curve"`
	Histogram       []Bin            `json:"histogram,omitempty"`
	Series          []DailyValue     `json:"-"`
}

// Evaluate runs the temporal filter and the exceedance engine over records
// that have already been spatially selected. nativeUnit is the unit the
// variable's values are stored in. An empty target day is reported through
// Day.NoData and an error wrapping ErrEmptyResult; the curve is still filled.
func Evaluate(records []Record, q ThresholdQuery, nativeUnit Unit) (Exceedance, error) {
	if err := q.Validate(); err != nil {
		return Exceedance{}, err
	}
	native, err := ConvertThreshold(q.Threshold, q.Unit, nativeUnit)
	if err != nil {
		return Exceedance{}, err
	}

	seasonal := FilterSeason(records, q.Season)
	return EvaluateSeasonal(seasonal, q, native, nativeUnit)
}

// EvaluateSeasonal is Evaluate for records that are already season-filtered,
// with the threshold already in the native unit.
func EvaluateSeasonal(seasonal []SeasonalRecord, q ThresholdQuery, native float64, nativeUnit Unit) (Exceedance, error) {
	values := CollapseByTime(seasonal, q.Variable)
	pred := Exceeds(native)
	doy := q.TargetDate.YearDay()

	ex := Exceedance{
		Query:           q,
		NativeThreshold: native,
		NativeUnit:      nativeUnit,
		Curve:           AggregateByDay(values, pred),
		Series:          values,
	}
	day, err := SingleDay(q.Variable, values, doy, pred)
	ex.Day = day
	if err != nil {
		return ex, err
	}
	ex.Histogram = Histogram(dayValues(values, doy), DefaultHistogramBins)
	return ex, nil
}

func dayValues(values []DailyValue, doy int) []float64 {
	var out []float64
	for _, v := range values {
		if v.DOY == doy {
			out = append(out, v.Value)
		}
	}
	return out
}

// Compare builds one annual curve per variable using each variable's own
// threshold. Variables with no observations get an empty curve.
func Compare(records []SeasonalRecord, thresholds map[string]float64) map[string]ProbabilityCurve {
	out := make(map[string]ProbabilityCurve, len(thresholds))
	for variable, t := range thresholds {
		out[variable] = AggregateByDay(CollapseByTime(records, variable), Exceeds(t))
	}
	return out
}
