package domain

import (
	"fmt"
	"strings"
	"time"
)

// Season restricts records to a fixed set of calendar months.
type Season string

const (
	SeasonAllYear Season = "all_year"
	SeasonWinter  Season = "winter"
	SeasonSpring  Season = "spring"
	SeasonSummer  Season = "summer"
	SeasonAutumn  Season = "autumn"
)

var seasonMonths = map[Season][]time.Month{
	SeasonWinter: {time.December, time.January, time.February},
	SeasonSpring: {time.March, time.April, time.May},
	SeasonSummer: {time.June, time.July, time.August},
	SeasonAutumn: {time.September, time.October, time.November},
}

// ParseSeason accepts canonical names and display spellings such as
// "All year" or "Fall". An empty string means all year.
func ParseSeason(s string) (Season, error) {
	key := strings.ToLower(strings.TrimSpace(s))
	key = strings.NewReplacer(" ", "_", "-", "_").Replace(key)
	switch key {
	case "", "all_year", "all", "allyear", "year":
		return SeasonAllYear, nil
	case "winter":
		return SeasonWinter, nil
	case "spring":
		return SeasonSpring, nil
	case "summer":
		return SeasonSummer, nil
	case "autumn", "fall":
		return SeasonAutumn, nil
	default:
		return "", fmt.Errorf("%w: unknown season %q", ErrConfiguration, s)
	}
}

// Months returns the season's months; nil for all year.
func (s Season) Months() []time.Month {
	return seasonMonths[s]
}

// Contains reports whether month m falls in the season.
func (s Season) Contains(m time.Month) bool {
	if s == SeasonAllYear || s == "" {
		return true
	}
	for _, sm := range seasonMonths[s] {
		if sm == m {
			return true
		}
	}
	return false
}

// SeasonalRecord is a record that passed the temporal filter, with its
// day-of-year attached.
type SeasonalRecord struct {
	Record
	DOY int `json:"doy"`
}

// FilterSeason keeps records whose month is in the season and attaches the
// day of year. The input slice is never modified.
func FilterSeason(records []Record, s Season) []SeasonalRecord {
	out := make([]SeasonalRecord, 0, len(records))
	for _, r := range records {
		if !s.Contains(r.Time.Month()) {
			continue
		}
		out = append(out, SeasonalRecord{Record: r, DOY: r.DOY()})
	}
	return out
}
