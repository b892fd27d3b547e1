package guard

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/goliatone/go-call-guard/clock"
	"github.com/goliatone/go-call-guard/keys"
	"github.com/goliatone/go-call-guard/policy"
	"github.com/goliatone/go-call-guard/resultcache"
	"github.com/goliatone/go-call-guard/stats"
)

var epoch = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func throttle(t *testing.T, requests, windowSeconds int, opts ...policy.ThrottleOption) *policy.ThrottlePolicy {
	t.Helper()
	p, err := policy.NewThrottlePolicy(requests, windowSeconds, opts...)
	if err != nil {
		t.Fatalf("unexpected policy error: %v", err)
	}
	return &p
}

func cachePolicy(t *testing.T, ttlSeconds int, opts ...policy.CacheOption) *policy.CachePolicy {
	t.Helper()
	p, err := policy.NewCachePolicy(ttlSeconds, opts...)
	if err != nil {
		t.Fatalf("unexpected policy error: %v", err)
	}
	return &p
}

type counter struct {
	calls atomic.Int32
	value any
	err   error
	delay time.Duration
}

func (c *counter) fn(context.Context) (any, error) {
	c.calls.Add(1)
	if c.delay > 0 {
		time.Sleep(c.delay)
	}
	return c.value, c.err
}

// countingCache records calls and computes through.
type countingCache struct {
	gets        atomic.Int32
	invalidated []string
}

func (c *countingCache) GetOrCompute(ctx context.Context, _ string, _ policy.CachePolicy, compute resultcache.ComputeFn) (any, error) {
	c.gets.Add(1)
	return compute(ctx)
}

func (c *countingCache) Invalidate(_ context.Context, key string) error {
	c.invalidated = append(c.invalidated, key)
	return nil
}

type failingRecorder struct{ calls atomic.Int32 }

func (r *failingRecorder) Record(context.Context, stats.Event) error {
	r.calls.Add(1)
	return errors.New("stats down")
}

func newInterceptor(clk clock.Clock, opts ...Option) *Interceptor {
	base := []Option{WithClock(clk), WithLogger(quietLogger())}
	return New(append(base, opts...)...)
}

func TestInterceptor_ThrottleRejectsAfterLimit(t *testing.T) {
	clk := clock.NewManual(epoch)
	g := newInterceptor(clk)
	op := Operation{ID: "facility.search", Throttle: throttle(t, 10, 60, policy.WithMessage("too many searches"))}
	ctx := keys.WithCaller(context.Background(), "alice")
	call := &counter{value: "ok"}

	for i := 1; i <= 10; i++ {
		if _, err := g.Invoke(ctx, op, call.fn); err != nil {
			t.Fatalf("call %d: unexpected error: %v", i, err)
		}
	}

	_, err := g.Invoke(ctx, op, call.fn)
	if !errors.Is(err, ErrRateLimited) {
		t.Fatalf("expected ErrRateLimited, got %v", err)
	}
	rle, ok := AsRateLimitExceeded(err)
	if !ok {
		t.Fatalf("expected *RateLimitExceeded, got %T", err)
	}
	if rle.Message != "too many searches" || rle.Limit != 10 || rle.Key != "facility.search:alice" {
		t.Errorf("unexpected rejection: %+v", rle)
	}
	if rle.RetryAfter != 60*time.Second {
		t.Errorf("expected RetryAfter 60s, got %v", rle.RetryAfter)
	}
	if call.calls.Load() != 10 {
		t.Errorf("expected 10 calls, got %d", call.calls.Load())
	}

	clk.Advance(60 * time.Second)
	if _, err := g.Invoke(ctx, op, call.fn); err != nil {
		t.Errorf("expected admission in new window, got %v", err)
	}
}

func TestInterceptor_PerCallerBudgets(t *testing.T) {
	g := newInterceptor(clock.NewManual(epoch))
	op := Operation{ID: "facility.search", Throttle: throttle(t, 1, 60)}
	call := &counter{value: "ok"}

	alice := keys.WithCaller(context.Background(), "alice")
	bob := keys.WithCaller(context.Background(), "bob")

	if _, err := g.Invoke(alice, op, call.fn); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := g.Invoke(bob, op, call.fn); err != nil {
		t.Fatalf("expected bob to have his own budget, got %v", err)
	}
	if _, err := g.Invoke(alice, op, call.fn); !errors.Is(err, ErrRateLimited) {
		t.Errorf("expected alice to be rejected, got %v", err)
	}
}

func TestInterceptor_GlobalBudgetIsShared(t *testing.T) {
	g := newInterceptor(clock.NewManual(epoch))
	op := Operation{ID: "report.export", Throttle: throttle(t, 1, 60, policy.WithPerCaller(false))}
	call := &counter{value: "ok"}

	if _, err := g.Invoke(keys.WithCaller(context.Background(), "alice"), op, call.fn); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := g.Invoke(keys.WithCaller(context.Background(), "bob"), op, call.fn); !errors.Is(err, ErrRateLimited) {
		t.Errorf("expected shared budget to be exhausted, got %v", err)
	}
}

func TestInterceptor_CacheHitWithinTTL(t *testing.T) {
	clk := clock.NewManual(epoch)
	g := newInterceptor(clk)
	op := Operation{ID: "facility.get", Cache: cachePolicy(t, 900, policy.WithNamespace("careFacility"))}
	call := &counter{value: "Alpha"}
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		v, err := g.Invoke(ctx, op, call.fn, 42)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if v != "Alpha" {
			t.Errorf("expected Alpha, got %v", v)
		}
		clk.Advance(100 * time.Second)
	}
	if call.calls.Load() != 1 {
		t.Errorf("expected 1 computation, got %d", call.calls.Load())
	}

	clk.Advance(time.Hour)
	_, _ = g.Invoke(ctx, op, call.fn, 42)
	if call.calls.Load() != 2 {
		t.Errorf("expected recomputation after expiry, got %d calls", call.calls.Load())
	}

	_, _ = g.Invoke(ctx, op, call.fn, 43)
	if call.calls.Load() != 3 {
		t.Errorf("expected distinct args to use distinct keys, got %d calls", call.calls.Load())
	}
}

func TestInterceptor_SingleFlightColdKey(t *testing.T) {
	g := newInterceptor(clock.System())
	op := Operation{ID: "facility.get", Cache: cachePolicy(t, 60)}
	call := &counter{value: "Beta", delay: 100 * time.Millisecond}

	var wg sync.WaitGroup
	results := make([]any, 50)
	errs := make([]error, 50)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = g.Invoke(context.Background(), op, call.fn, 7)
		}(i)
	}
	wg.Wait()

	if call.calls.Load() != 1 {
		t.Errorf("expected exactly 1 computation, got %d", call.calls.Load())
	}
	for i := range results {
		if errs[i] != nil || results[i] != "Beta" {
			t.Errorf("caller %d: got %v (err %v)", i, results[i], errs[i])
		}
	}
}

func TestInterceptor_RejectionSkipsCache(t *testing.T) {
	cache := &countingCache{}
	g := newInterceptor(clock.NewManual(epoch), WithCache(cache))
	op := Operation{
		ID:       "facility.get",
		Throttle: throttle(t, 1, 60),
		Cache:    cachePolicy(t, 60),
	}
	call := &counter{value: "v"}
	ctx := keys.WithCaller(context.Background(), "alice")

	if _, err := g.Invoke(ctx, op, call.fn); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := g.Invoke(ctx, op, call.fn); !errors.Is(err, ErrRateLimited) {
		t.Fatalf("expected rejection, got %v", err)
	}
	if cache.gets.Load() != 1 {
		t.Errorf("expected cache to be consulted once, got %d", cache.gets.Load())
	}
	if call.calls.Load() != 1 {
		t.Errorf("expected 1 call, got %d", call.calls.Load())
	}
}

func TestInterceptor_ErrorsPassThrough(t *testing.T) {
	g := newInterceptor(clock.NewManual(epoch))
	boom := errors.New("boom")
	op := Operation{ID: "facility.get", Cache: cachePolicy(t, 60)}
	call := &counter{err: boom}

	for i := 0; i < 2; i++ {
		if _, err := g.Invoke(context.Background(), op, call.fn); !errors.Is(err, boom) {
			t.Fatalf("expected boom, got %v", err)
		}
	}
	if call.calls.Load() != 2 {
		t.Errorf("expected errors not to be cached, got %d calls", call.calls.Load())
	}
}

func TestInterceptor_NoPolicies(t *testing.T) {
	g := newInterceptor(clock.NewManual(epoch))
	call := &counter{value: "v"}

	for i := 0; i < 3; i++ {
		if _, err := g.Invoke(context.Background(), Operation{ID: "plain"}, call.fn); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if call.calls.Load() != 3 {
		t.Errorf("expected 3 calls, got %d", call.calls.Load())
	}
}

func TestInterceptor_NilCall(t *testing.T) {
	g := newInterceptor(clock.NewManual(epoch))
	if _, err := g.Invoke(context.Background(), Operation{ID: "x"}, nil); !errors.Is(err, resultcache.ErrNilCompute) {
		t.Errorf("expected ErrNilCompute, got %v", err)
	}
	if _, err := g.Call(context.Background(), "unknown", nil); !errors.Is(err, resultcache.ErrNilCompute) {
		t.Errorf("expected ErrNilCompute, got %v", err)
	}
}

func TestInterceptor_CallUsesRegistry(t *testing.T) {
	reg := NewRegistry().MustRegister(Operation{ID: "facility.search", Throttle: throttle(t, 1, 60)})
	g := newInterceptor(clock.NewManual(epoch), WithRegistry(reg))
	call := &counter{value: "v"}
	ctx := keys.WithCaller(context.Background(), "alice")

	if _, err := g.Call(ctx, "facility.search", call.fn); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := g.Call(ctx, "facility.search", call.fn); !errors.Is(err, ErrRateLimited) {
		t.Errorf("expected rejection, got %v", err)
	}

	for i := 0; i < 3; i++ {
		if _, err := g.Call(ctx, "unknown", call.fn); err != nil {
			t.Fatalf("expected unknown operations to pass through, got %v", err)
		}
	}
	if call.calls.Load() != 4 {
		t.Errorf("expected 4 calls, got %d", call.calls.Load())
	}
}

func TestInterceptor_RecordsStats(t *testing.T) {
	rec := stats.NewMemory()
	g := newInterceptor(clock.NewManual(epoch), WithRecorder(rec))
	op := Operation{ID: "facility.get", Throttle: throttle(t, 2, 60), Cache: cachePolicy(t, 60)}
	call := &counter{value: "v"}
	ctx := keys.WithCaller(context.Background(), "alice")

	for i := 0; i < 3; i++ {
		_, _ = g.Invoke(ctx, op, call.fn)
	}

	want := stats.Counts{Allowed: 2, Rejected: 1, Hits: 1, Misses: 1}
	if got := rec.Snapshot()["facility.get"]; got != want {
		t.Errorf("expected %+v, got %+v", want, got)
	}
}

func TestInterceptor_RecorderFailureIsIgnored(t *testing.T) {
	rec := &failingRecorder{}
	g := newInterceptor(clock.NewManual(epoch), WithRecorder(rec))
	op := Operation{ID: "facility.search", Throttle: throttle(t, 5, 60)}
	call := &counter{value: "v"}

	v, err := g.Invoke(context.Background(), op, call.fn)
	if err != nil || v != "v" {
		t.Fatalf("expected recorder errors to be ignored, got %v (err %v)", v, err)
	}
	if rec.calls.Load() != 1 {
		t.Errorf("expected 1 record attempt, got %d", rec.calls.Load())
	}
}

func TestInterceptor_Invalidate(t *testing.T) {
	reg := NewRegistry().MustRegister(
		Operation{ID: "facility.get", Cache: cachePolicy(t, 60, policy.WithNamespace("careFacility"))},
		Operation{ID: "facility.list", Cache: cachePolicy(t, 60, policy.WithNamespace("careFacility"))},
	)
	g := newInterceptor(clock.NewManual(epoch), WithRegistry(reg))
	ctx := context.Background()
	get := &counter{value: "one"}
	list := &counter{value: "all"}

	_, _ = g.Call(ctx, "facility.get", get.fn, 1)
	if err := g.Invalidate(ctx, "facility.get", 1); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	_, _ = g.Call(ctx, "facility.get", get.fn, 1)
	if get.calls.Load() != 2 {
		t.Errorf("expected recomputation after Invalidate, got %d calls", get.calls.Load())
	}

	_, _ = g.Call(ctx, "facility.list", list.fn)
	n, err := g.InvalidateNamespace(ctx, "careFacility")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if n != 2 {
		t.Errorf("expected 2 invalidated keys, got %d", n)
	}
	_, _ = g.Call(ctx, "facility.list", list.fn)
	if list.calls.Load() != 2 {
		t.Errorf("expected recomputation after namespace invalidation, got %d calls", list.calls.Load())
	}

	if err := g.Invalidate(ctx, "unknown"); err != nil {
		t.Errorf("expected unknown operations to be ignored, got %v", err)
	}
}

func TestInterceptor_InvalidateNamespaceUnsupported(t *testing.T) {
	g := newInterceptor(clock.NewManual(epoch), WithCache(&countingCache{}))
	if _, err := g.InvalidateNamespace(context.Background(), "x"); !errors.Is(err, ErrPrefixInvalidationUnsupported) {
		t.Errorf("expected ErrPrefixInvalidationUnsupported, got %v", err)
	}
}

type facility struct{ Name string }

func TestInvoke_Typed(t *testing.T) {
	g := newInterceptor(clock.NewManual(epoch))
	op := Operation{ID: "facility.get", Cache: cachePolicy(t, 60)}

	f, err := Invoke(context.Background(), g, op, func(context.Context) (*facility, error) {
		return &facility{Name: "Alpha"}, nil
	}, 1)
	if err != nil || f == nil || f.Name != "Alpha" {
		t.Fatalf("unexpected result %+v (err %v)", f, err)
	}

	_, err = Invoke(context.Background(), g, op, func(context.Context) (string, error) {
		return "unused", nil
	}, 1)
	if !errors.Is(err, resultcache.ErrTypeMismatch) {
		t.Errorf("expected ErrTypeMismatch for a shared key, got %v", err)
	}

	missing, err := Invoke(context.Background(), g, op, func(context.Context) (*facility, error) {
		return nil, nil
	}, 2)
	if err != nil || missing != nil {
		t.Errorf("expected nil result, got %v (err %v)", missing, err)
	}
}

func TestCall_Typed(t *testing.T) {
	g := newInterceptor(clock.NewManual(epoch))
	n, err := Call(context.Background(), g, "unknown", func(context.Context) (int, error) { return 7, nil })
	if err != nil || n != 7 {
		t.Errorf("expected 7, got %d (err %v)", n, err)
	}
}
