// Package testsupport holds helpers shared by the package tests: fixture
// loading and counting call stubs.
package testsupport

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"gopkg.in/yaml.v3"
)

// FixturePath constructs a path to a fixture file relative to the testdata directory.
func FixturePath(filename string) string {
	return filepath.Join("testdata", filename)
}

// LoadFixture loads test data from a fixture file.
// The path is relative to the test package directory.
func LoadFixture(t testing.TB, path string) []byte {
	t.Helper()

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("failed to load fixture from %s: %v", path, err)
	}
	return data
}

// LoadFixtureYAML loads a YAML fixture and decodes it into dest.
func LoadFixtureYAML(t testing.TB, path string, dest any) {
	t.Helper()

	if err := yaml.Unmarshal(LoadFixture(t, path), dest); err != nil {
		t.Fatalf("failed to decode YAML fixture from %s: %v", path, err)
	}
}

// WriteTemp writes content to a file named name inside a per-test directory
// and returns its path. The directory is removed when the test ends.
func WriteTemp(t testing.TB, name string, content []byte) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, content, 0o644); err != nil {
		t.Fatalf("failed to write temp file %s: %v", path, err)
	}
	return path
}

// Counter is a stub operation that counts its invocations and returns a
// fixed value or error, optionally after a delay.
type Counter struct {
	Value any
	Err   error
	Delay time.Duration

	calls atomic.Int64
	mu    sync.Mutex
	ctxs  []context.Context
}

// Call has the signature of a guarded operation.
func (c *Counter) Call(ctx context.Context) (any, error) {
	c.calls.Add(1)
	c.mu.Lock()
	c.ctxs = append(c.ctxs, ctx)
	c.mu.Unlock()

	if c.Delay > 0 {
		select {
		case <-time.After(c.Delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return c.Value, c.Err
}

// Calls reports how many times Call ran.
func (c *Counter) Calls() int {
	return int(c.calls.Load())
}

// LastContext returns the context of the most recent call, or nil.
func (c *Counter) LastContext() context.Context {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.ctxs) == 0 {
		return nil
	}
	return c.ctxs[len(c.ctxs)-1]
}
