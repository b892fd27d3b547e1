package stats

import (
	"context"
	"fmt"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
)

func TestNop_Record(t *testing.T) {
	if err := (Nop{}).Record(context.Background(), Event{Outcome: OutcomeHit}); err != nil {
		t.Errorf("expected nil, got %v", err)
	}
}

func TestMemory_Record(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	events := []Event{
		{Operation: "facility.search", Outcome: OutcomeAllowed},
		{Operation: "facility.search", Outcome: OutcomeAllowed},
		{Operation: "facility.search", Outcome: OutcomeRejected},
		{Operation: "facility.get", Outcome: OutcomeMiss},
		{Operation: "facility.get", Outcome: OutcomeHit},
		{Operation: "facility.get", Outcome: OutcomeHit},
	}
	for _, ev := range events {
		if err := m.Record(ctx, ev); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}

	want := Counts{Allowed: 2, Rejected: 1, Hits: 2, Misses: 1}
	if got := m.Total(); got != want {
		t.Errorf("Total() = %+v, want %+v", got, want)
	}

	snap := m.Snapshot()
	if got := snap["facility.search"]; got != (Counts{Allowed: 2, Rejected: 1}) {
		t.Errorf("unexpected search counts: %+v", got)
	}
	if got := snap["facility.get"]; got != (Counts{Hits: 2, Misses: 1}) {
		t.Errorf("unexpected get counts: %+v", got)
	}
}

func TestMemory_ConcurrentRecord(t *testing.T) {
	m := NewMemory()

	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_ = m.Record(context.Background(), Event{Operation: fmt.Sprintf("op-%d", i%4), Outcome: OutcomeAllowed})
		}(i)
	}
	wg.Wait()

	if got := m.Total().Allowed; got != 100 {
		t.Errorf("expected 100 allowed, got %d", got)
	}
	if n := len(m.Snapshot()); n != 4 {
		t.Errorf("expected 4 operations, got %d", n)
	}
}

// captureHook records pipelined commands instead of sending them.
type captureHook struct {
	mu   sync.Mutex
	cmds [][]any
}

func (h *captureHook) DialHook(next redis.DialHook) redis.DialHook {
	return func(ctx context.Context, network, addr string) (net.Conn, error) {
		return nil, fmt.Errorf("dial disabled in tests")
	}
}

func (h *captureHook) ProcessHook(next redis.ProcessHook) redis.ProcessHook {
	return func(ctx context.Context, cmd redis.Cmder) error { return nil }
}

func (h *captureHook) ProcessPipelineHook(next redis.ProcessPipelineHook) redis.ProcessPipelineHook {
	return func(ctx context.Context, cmds []redis.Cmder) error {
		h.mu.Lock()
		defer h.mu.Unlock()
		for _, cmd := range cmds {
			h.cmds = append(h.cmds, cmd.Args())
		}
		return nil
	}
}

func (h *captureHook) has(args ...any) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	want := fmt.Sprint(args...)
	for _, cmd := range h.cmds {
		if fmt.Sprint(cmd...) == want {
			return true
		}
	}
	return false
}

func TestRedis_Record(t *testing.T) {
	rdb := redis.NewClient(&redis.Options{Addr: "127.0.0.1:0"})
	defer rdb.Close()
	hook := &captureHook{}
	rdb.AddHook(hook)

	r := NewRedis(rdb, WithRedisPrefix("guard:"), WithRedisTTL(time.Hour), WithRedisTrackKeys(true))
	at := time.Date(2024, 3, 1, 10, 30, 0, 0, time.UTC)

	err := r.Record(context.Background(), Event{
		Operation: "facility.search",
		Key:       "facility.search:alice",
		Outcome:   OutcomeRejected,
		At:        at,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	expected := [][]any{
		{"hincrby", "guard:total", "rejected", int64(1)},
		{"hincrby", "guard:minute:202403011030", "rejected", int64(1)},
		{"expire", "guard:minute:202403011030", int64(3600)},
		{"hincrby", "guard:op", "facility.search:rejected", int64(1)},
		{"hincrby", "guard:key:facility.search:alice", "rejected", int64(1)},
	}
	for _, args := range expected {
		if !hook.has(args...) {
			t.Errorf("expected command %v, got %v", args, hook.cmds)
		}
	}
}

func TestRedis_NilClient(t *testing.T) {
	var r *Redis
	if err := r.Record(context.Background(), Event{}); err != nil {
		t.Errorf("expected nil, got %v", err)
	}
}
