// Package stats records guard decisions. Recording is best-effort: the
// interceptor logs recorder errors and never fails a call because of them.
//
// Operation and key cardinality is unbounded, so backends that persist
// per-key series should bound it with a TTL.
package stats

import (
	"context"
	"time"
)

// Outcome is the decision taken for one call.
type Outcome string

const (
	OutcomeAllowed  Outcome = "allowed"
	OutcomeRejected Outcome = "rejected"
	OutcomeHit      Outcome = "hit"
	OutcomeMiss     Outcome = "miss"
)

// Event is one guard decision.
type Event struct {
	Operation string
	Key       string
	Outcome   Outcome
	At        time.Time
}

// Recorder persists events.
type Recorder interface {
	Record(ctx context.Context, ev Event) error
}

// Nop discards every event.
type Nop struct{}

func (Nop) Record(context.Context, Event) error { return nil }
