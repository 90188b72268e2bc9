package coro

import (
	"context"
	"testing"
	"time"
)

// newTestRuntime creates a runtime, closed on test cleanup.
func newTestRuntime(t *testing.T, opts ...Option) *Runtime {
	t.Helper()
	r, err := New(opts...)
	if err != nil {
		t.Fatalf("New() failed: %v", err)
	}
	t.Cleanup(func() { _ = r.Close() })
	return r
}

// runTest runs main to completion, failing the test on error or if it takes
// longer than 10 seconds.
func runTest(t *testing.T, r *Runtime, main func()) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := r.Run(ctx, main); err != nil {
		t.Fatalf("Run() failed: %v", err)
	}
}
