package domain

import "time"

// Outcome classifies one variable's result within a report.
type Outcome string

const (
	OutcomeOK     Outcome = "ok"
	OutcomeNoData Outcome = "no_data"
	OutcomeError  Outcome = "error"
)

// VariableResult is the isolated result of one variable. Result is set for
// OutcomeOK and OutcomeNoData; Error is set otherwise.
type VariableResult struct {
	Variable string      `json:"variable"`
	Label    string      `json:"label"`
	Outcome  Outcome     `json:"outcome"`
	Error    string      `json:"error,omitempty"`
	Result   *Exceedance `json:"result,omitempty"`
}

// Report is the complete answer to one query.
type Report struct {
	ID          string                      `json:"id"`
	Source      string                      `json:"source"`
	Selector    LocationSelector            `json:"selector"`
	Place       *GeocodingResult            `json:"place,omitempty"`
	Season      Season                      `json:"season"`
	TargetDate  time.Time                   `json:"target_date"`
	Condition   string                      `json:"condition,omitempty"`
	Variables   []VariableResult            `json:"variables"`
	Comparison  map[string]ProbabilityCurve `json:"comparison,omitempty"`
	GeneratedAt time.Time                   `json:"generated_at"`
}

// Failed reports whether no variable produced a result.
func (r Report) Failed() bool {
	for _, v := range r.Variables {
		if v.Outcome != OutcomeError {
			return false
		}
	}
	return true
}
