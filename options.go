// Copyright 2026 Joseph Cumines
//
// Permission to use, copy, modify, and distribute this software for any
// purpose with or without fee is hereby granted, provided that this copyright
// notice appears in all copies.

package coro

import (
	"github.com/joeycumines/logiface"
)

// runtimeOptions holds configuration options for Runtime creation.
type runtimeOptions struct {
	logger       *logiface.Logger[logiface.Event]
	randSeed     *[2]uint64
	stackCount   int
	stackSize    int
	maxStackSize int
	preparePool  bool
}

// --- Runtime Options ---

// Option configures a Runtime instance.
type Option interface {
	applyRuntime(*runtimeOptions) error
}

// optionImpl implements Option.
type optionImpl struct {
	applyRuntimeFunc func(*runtimeOptions) error
}

func (o *optionImpl) applyRuntime(opts *runtimeOptions) error {
	return o.applyRuntimeFunc(opts)
}

// WithStackPool preallocates a pool of count coroutine stacks, each grown to
// at least stackSize bytes. It is equivalent to calling [Runtime.Prepare]
// immediately after [New]. See Prepare for the meaning of maxStackSize.
func WithStackPool(count, stackSize, maxStackSize int) Option {
	return &optionImpl{func(opts *runtimeOptions) error {
		if count < 0 || stackSize < 0 || maxStackSize < 0 {
			return ErrInvalidArgument
		}
		opts.stackCount = count
		opts.stackSize = stackSize
		opts.maxStackSize = maxStackSize
		opts.preparePool = true
		return nil
	}}
}

// WithLogger configures structured logging for the runtime. A nil logger
// (the default) disables logging.
func WithLogger(logger *logiface.Logger[logiface.Event]) Option {
	return &optionImpl{func(opts *runtimeOptions) error {
		opts.logger = logger
		return nil
	}}
}

// WithRandSeed seeds the source used to break ties between ready select
// cases, making the choice sequence deterministic (useful for tests).
func WithRandSeed(seed1, seed2 uint64) Option {
	return &optionImpl{func(opts *runtimeOptions) error {
		opts.randSeed = &[2]uint64{seed1, seed2}
		return nil
	}}
}

// resolveOptions applies Option instances to runtimeOptions.
func resolveOptions(opts []Option) (*runtimeOptions, error) {
	cfg := &runtimeOptions{
		stackCount: defaultStackCount,
		stackSize:  defaultStackSize,
	}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt.applyRuntime(cfg); err != nil {
			return nil, err
		}
	}
	return cfg, nil
}
