package stats

import (
	"context"

	"github.com/puzpuzpuz/xsync/v3"
)

// Counts is a snapshot of the counters of one operation.
type Counts struct {
	Allowed  int64 `json:"allowed"`
	Rejected int64 `json:"rejected"`
	Hits     int64 `json:"hits"`
	Misses   int64 `json:"misses"`
}

type counters struct {
	allowed  *xsync.Counter
	rejected *xsync.Counter
	hits     *xsync.Counter
	misses   *xsync.Counter
}

func newCounters() *counters {
	return &counters{
		allowed:  xsync.NewCounter(),
		rejected: xsync.NewCounter(),
		hits:     xsync.NewCounter(),
		misses:   xsync.NewCounter(),
	}
}

func (c *counters) inc(o Outcome) {
	switch o {
	case OutcomeAllowed:
		c.allowed.Inc()
	case OutcomeRejected:
		c.rejected.Inc()
	case OutcomeHit:
		c.hits.Inc()
	case OutcomeMiss:
		c.misses.Inc()
	}
}

func (c *counters) counts() Counts {
	return Counts{
		Allowed:  c.allowed.Value(),
		Rejected: c.rejected.Value(),
		Hits:     c.hits.Value(),
		Misses:   c.misses.Value(),
	}
}

// Memory keeps per-operation counters in process. Nothing expires.
type Memory struct {
	total *counters
	byOp  *xsync.MapOf[string, *counters]
}

var _ Recorder = (*Memory)(nil)

func NewMemory() *Memory {
	return &Memory{
		total: newCounters(),
		byOp:  xsync.NewMapOf[string, *counters](),
	}
}

func (m *Memory) Record(_ context.Context, ev Event) error {
	m.total.inc(ev.Outcome)
	c, _ := m.byOp.LoadOrCompute(ev.Operation, newCounters)
	c.inc(ev.Outcome)
	return nil
}

// Total returns the counters across all operations.
func (m *Memory) Total() Counts {
	return m.total.counts()
}

// Snapshot returns the counters of every operation seen so far.
func (m *Memory) Snapshot() map[string]Counts {
	out := make(map[string]Counts, m.byOp.Size())
	m.byOp.Range(func(op string, c *counters) bool {
		out[op] = c.counts()
		return true
	})
	return out
}
