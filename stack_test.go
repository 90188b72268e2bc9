package coro

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPrepare(t *testing.T) {
	r := newTestRuntime(t)
	require.NoError(t, r.Prepare(8, 16<<10, 0))
	s := r.Stats()
	assert.Equal(t, 8, s.PoolCapacity)
	assert.Equal(t, 8, s.IdleStacks)

	// may be repeated, until the first spawn
	require.NoError(t, r.Prepare(4, 0, 0))
	assert.Equal(t, 4, r.Stats().IdleStacks)

	require.NoError(t, r.Go(func() {}))
	assert.ErrorIs(t, r.Prepare(4, 0, 0), ErrAlreadyStarted)
}

func TestPrepare_InvalidArgument(t *testing.T) {
	r := newTestRuntime(t)
	assert.ErrorIs(t, r.Prepare(-1, 0, 0), ErrInvalidArgument)
	assert.ErrorIs(t, r.Prepare(1, -1, 0), ErrInvalidArgument)
	assert.ErrorIs(t, r.Prepare(1, 1<<20, 1<<10), ErrInvalidArgument)

	_, err := New(WithStackPool(-1, 0, 0))
	assert.ErrorIs(t, err, ErrInvalidArgument)
}

func TestStackPool_LIFOReuse(t *testing.T) {
	r := newTestRuntime(t, WithStackPool(4, 0, 0))
	runTest(t, r, func() {
		main := r.running.stk
		var first *stack
		_ = r.Go(func() { first = r.running.stk })
		r.Yield()
		assert.NotNil(t, first)
		assert.NotSame(t, main, first)

		// the most recently released stack is reused first
		var second *stack
		_ = r.Go(func() { second = r.running.stk })
		r.Yield()
		assert.Same(t, first, second)
	})
}

// TestStackPool_SteadyState spawns more coroutines than the pool holds, in
// several rounds, checking overflow stacks are released rather than pooled.
func TestStackPool_SteadyState(t *testing.T) {
	const capacity = 4
	r := newTestRuntime(t, WithStackPool(capacity, 0, 0))
	runTest(t, r, func() {
		for round := 0; round < 5; round++ {
			done := NewChan[struct{}](r, 0)
			for i := 0; i < 10; i++ {
				_ = r.Go(func() { _ = done.Send(struct{}{}, NoDeadline) })
			}
			for i := 0; i < 10; i++ {
				_, _, _ = done.Recv(NoDeadline)
			}
			r.Yield()
			s := r.Stats()
			assert.Zero(t, s.UnpooledStacks)
			// main holds one pooled stack
			assert.Equal(t, capacity-1, s.IdleStacks)
		}
	})
	s := r.Stats()
	assert.Equal(t, capacity, s.IdleStacks)
	// 10 per round, less the 3 pooled stacks main left free
	assert.Equal(t, uint64(5*(10-(capacity-1))), s.UnpooledTotal)
}

func TestStackPool_LazyCreation(t *testing.T) {
	r := newTestRuntime(t)
	assert.Zero(t, r.Stats().IdleStacks)
	runTest(t, r, func() {
		_ = r.Go(func() {})
		_ = r.Go(func() {})
		r.Yield()
	})
	s := r.Stats()
	assert.Equal(t, defaultStackCount, s.PoolCapacity)
	assert.Equal(t, 3, s.IdleStacks)
	assert.Zero(t, s.UnpooledTotal)
}

func TestGrowStack(t *testing.T) {
	assert.NotPanics(t, func() { _ = growStack(64 << 10) })
}
