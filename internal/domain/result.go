package domain

import "fmt"

type Outcome int

const (
	OutcomeNotFound Outcome = iota
	OutcomeConflict
	OutcomeUpdated
)

func (o Outcome) String() string {
	switch o {
	case OutcomeNotFound:
		return "not_found"
	case OutcomeConflict:
		return "conflict"
	case OutcomeUpdated:
		return "updated"
	}
	return fmt.Sprintf("outcome(%d)", int(o))
}

// WriteResult is what a lifecycle write reports. Rows is only meaningful when Outcome is OutcomeUpdated.
type WriteResult struct {
	Outcome Outcome
	Rows    int
}

func NotFound() WriteResult { return WriteResult{Outcome: OutcomeNotFound} }

func Conflict() WriteResult { return WriteResult{Outcome: OutcomeConflict} }

func Updated(rows int) WriteResult { return WriteResult{Outcome: OutcomeUpdated, Rows: rows} }

// Err maps the result to the matching sentinel, or nil when the write went through.
func (r WriteResult) Err() error {
	switch r.Outcome {
	case OutcomeNotFound:
		return ErrNotFound
	case OutcomeConflict:
		return ErrVersionConflict
	}
	return nil
}
