package domain

import (
	"errors"
	"fmt"
	"strings"
)

// Error kinds. Wrap with fmt.Errorf("...: %w", Err...) and match with errors.Is.
var (
	// ErrSchema means no timestamp or variable columns could be resolved.
	ErrSchema = errors.New("schema error")
	// ErrSourceUnavailable covers network, auth, file and format failures.
	ErrSourceUnavailable = errors.New("source unavailable")
	// ErrEmptyResult marks a valid zero-record outcome after filtering.
	ErrEmptyResult = errors.New("no data")
	// ErrConfiguration is a bad query or setting caught before the pipeline runs.
	ErrConfiguration = errors.New("configuration error")
)

// SchemaError reports which columns were available when resolution failed.
type SchemaError struct {
	Source  string
	Reason  string
	Columns []string
}

func (e *SchemaError) Error() string {
	msg := fmt.Sprintf("schema error: %s", e.Reason)
	if e.Source != "" {
		msg = fmt.Sprintf("schema error in %s: %s", e.Source, e.Reason)
	}
	if len(e.Columns) > 0 {
		msg += fmt.Sprintf(" (columns: %s)", strings.Join(e.Columns, ", "))
	}
	return msg
}

// Unwrap lets errors.Is(err, ErrSchema) match.
func (e *SchemaError) Unwrap() error {
	return ErrSchema
}

func unavailable(source string, err error) error {
	return fmt.Errorf("%w: %s: %w", ErrSourceUnavailable, source, err)
}
