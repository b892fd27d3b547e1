package resultcache

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/puzpuzpuz/xsync/v3"

	"github.com/goliatone/go-call-guard/clock"
	"github.com/goliatone/go-call-guard/internal/janitor"
	"github.com/goliatone/go-call-guard/policy"
)

// State is the single-flight status of a key.
type State int

const (
	StateEmpty State = iota
	StateComputing
	StateReady
)

func (s State) String() string {
	switch s {
	case StateEmpty:
		return "EMPTY"
	case StateComputing:
		return "COMPUTING"
	case StateReady:
		return "READY"
	default:
		return "UNKNOWN"
	}
}

// flight is one in-progress computation. value and err are written before
// done is closed and only read after.
type flight struct {
	id    string
	done  chan struct{}
	value any
	err   error
}

type entry struct {
	mu        sync.Mutex
	value     any
	ready     bool
	expiresAt time.Time
	flight    *flight

	// removed marks an entry that was dropped from the map. Callers holding a
	// stale pointer must look the key up again.
	removed bool
}

// Option configures a Memory cache.
type Option func(*Memory)

// WithClock replaces the wall clock used for expiry.
func WithClock(c clock.Clock) Option {
	return func(m *Memory) {
		if c != nil {
			m.clock = c
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(m *Memory) {
		if l != nil {
			m.logger = l
		}
	}
}

// WithStaleOnError serves the previous value of a key, even expired, when its
// refresh fails. Callers then get the stale value instead of the error. A
// refresh cancelled by its own caller still reports the cancellation.
func WithStaleOnError() Option {
	return func(m *Memory) { m.staleOnError = true }
}

// Memory is the in-process single-flight cache.
//
// Entries are never swept proactively: an expired value is replaced on its
// next access. Use Purge or StartJanitor to bound memory for large key spaces.
type Memory struct {
	entries      *xsync.MapOf[string, *entry]
	clock        clock.Clock
	logger       *slog.Logger
	staleOnError bool
}

var (
	_ Cache             = (*Memory)(nil)
	_ PrefixInvalidator = (*Memory)(nil)
)

// NewMemory creates an empty cache.
func NewMemory(opts ...Option) *Memory {
	m := &Memory{
		entries: xsync.NewMapOf[string, *entry](),
		clock:   clock.System(),
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// GetOrCompute implements Cache.
//
// A fresh value is returned without calling compute. Otherwise exactly one
// caller runs compute while concurrent callers for the same key wait for its
// outcome and share it, errors included. A waiter whose own context ends
// stops waiting with ctx.Err() without affecting the computation.
// A policy with a zero TTL always calls compute and stores nothing.
func (m *Memory) GetOrCompute(ctx context.Context, key string, p policy.CachePolicy, compute ComputeFn) (any, error) {
	if compute == nil {
		return nil, ErrNilCompute
	}
	if !p.Enabled() {
		return compute(ctx)
	}

	e := m.lock(key)
	if e.ready && m.clock.Now().Before(e.expiresAt) {
		v := e.value
		e.mu.Unlock()
		m.logger.Debug("cache hit", "key", key)
		return v, nil
	}

	if f := e.flight; f != nil {
		e.mu.Unlock()
		m.logger.Debug("waiting on in-flight computation", "key", key, "flight", f.id)
		return wait(ctx, f)
	}

	f := &flight{id: uuid.NewString(), done: make(chan struct{})}
	e.flight = f
	e.mu.Unlock()

	return m.run(ctx, key, p, e, f, compute)
}

func wait(ctx context.Context, f *flight) (any, error) {
	select {
	case <-f.done:
		return f.value, f.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// lock returns the live entry for key with its mutex held.
func (m *Memory) lock(key string) *entry {
	for {
		e, _ := m.entries.LoadOrCompute(key, func() *entry { return &entry{} })
		e.mu.Lock()
		if !e.removed {
			return e
		}
		e.mu.Unlock()
	}
}

func (m *Memory) run(ctx context.Context, key string, p policy.CachePolicy, e *entry, f *flight, compute ComputeFn) (any, error) {
	m.logger.Debug("cache miss, computing", "key", key, "flight", f.id)

	completed := false
	defer func() {
		if !completed {
			m.logger.Error("computation panicked", "key", key, "flight", f.id)
			m.settle(ctx, key, p, e, f, nil, ErrComputePanicked, false)
		}
	}()

	v, err := compute(ctx)
	completed = true
	return m.settle(ctx, key, p, e, f, v, err, m.staleOnError)
}

// settle records the outcome of f on e and releases its waiters.
func (m *Memory) settle(ctx context.Context, key string, p policy.CachePolicy, e *entry, f *flight, v any, err error, allowStale bool) (any, error) {
	e.mu.Lock()
	e.flight = nil

	switch {
	case err != nil:
		cancelled := ctx.Err() != nil
		if allowStale && e.ready && !cancelled {
			f.value = e.value
			m.logger.Warn("computation failed, serving stale value",
				"key", key, "flight", f.id, "error", err)
			break
		}
		if !allowStale {
			e.ready = false
			e.value = nil
		}
		f.err = err
		m.logger.Warn("computation failed", "key", key, "flight", f.id, "error", err)

	case IsAbsent(v):
		f.value = v
		m.logger.Debug("computation returned no value, not caching", "key", key, "flight", f.id)

	default:
		e.value = v
		e.ready = true
		e.expiresAt = m.clock.Now().Add(p.TTL)
		f.value = v
	}

	e.mu.Unlock()
	close(f.done)
	return f.value, f.err
}

// Invalidate drops the cached value for key. A computation already in flight
// for key still stores its result when it completes.
func (m *Memory) Invalidate(_ context.Context, key string) error {
	e, ok := m.entries.Load(key)
	if !ok {
		return nil
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.removed {
		return nil
	}
	if e.flight != nil {
		e.ready = false
		e.value = nil
		return nil
	}
	e.removed = true
	m.entries.Delete(key)
	return nil
}

// InvalidatePrefix invalidates every key starting with prefix and reports how
// many keys were affected.
func (m *Memory) InvalidatePrefix(ctx context.Context, prefix string) (int, error) {
	var keys []string
	m.entries.Range(func(key string, _ *entry) bool {
		if strings.HasPrefix(key, prefix) {
			keys = append(keys, key)
		}
		return true
	})
	for _, key := range keys {
		if err := m.Invalidate(ctx, key); err != nil {
			return 0, err
		}
	}
	return len(keys), nil
}

// State reports the single-flight status of key. An expired value still
// reports StateReady until it is refreshed.
func (m *Memory) State(key string) State {
	e, ok := m.entries.Load(key)
	if !ok {
		return StateEmpty
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	switch {
	case e.removed:
		return StateEmpty
	case e.flight != nil:
		return StateComputing
	case e.ready:
		return StateReady
	default:
		return StateEmpty
	}
}

// Len reports how many keys hold an entry.
func (m *Memory) Len() int {
	return m.entries.Size()
}

// Purge removes entries that are idle and either empty or expired for at
// least grace. It returns the number of removed entries.
func (m *Memory) Purge(grace time.Duration) int {
	now := m.clock.Now()

	var candidates []string
	m.entries.Range(func(key string, _ *entry) bool {
		candidates = append(candidates, key)
		return true
	})

	removed := 0
	for _, key := range candidates {
		e, ok := m.entries.Load(key)
		if !ok {
			continue
		}
		e.mu.Lock()
		stale := !e.ready || now.Sub(e.expiresAt) >= grace
		if !e.removed && e.flight == nil && stale {
			e.removed = true
			m.entries.Delete(key)
			removed++
		}
		e.mu.Unlock()
	}
	return removed
}

// StartJanitor purges m every interval until ctx is done.
func (m *Memory) StartJanitor(ctx context.Context, every, grace time.Duration) {
	janitor.Run(ctx, every, func() int { return m.Purge(grace) }, m.logger, "resultcache")
}
