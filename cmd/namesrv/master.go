package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"time"

	"github.com/joeycumines/go-coro"
	"github.com/joeycumines/logiface"
	"golang.org/x/sync/errgroup"
)

// runMaster binds the listening and stats sockets, starts the workers, and
// collects their stats, until ctx is cancelled or a worker fails.
func runMaster(ctx context.Context, cfg *Config, args []string, logger *logiface.Logger[logiface.Event]) error {
	r, err := coro.New(coro.WithLogger(logger))
	if err != nil {
		return err
	}
	defer r.Close()

	addr, err := coro.LocalAddr("", cfg.Port, coro.IPv4)
	if err != nil {
		return err
	}
	ln, err := r.TCPListen(addr, cfg.Backlog)
	if err != nil {
		return fmt.Errorf("can't open listening socket: %w", err)
	}

	statsAddr, err := coro.LocalAddr("", cfg.Port+1, coro.IPv4)
	if err != nil {
		return err
	}
	ss, err := r.UDPListen(statsAddr)
	if err != nil {
		_ = ln.Close()
		return fmt.Errorf("can't open stats socket: %w", err)
	}
	defer func() {
		// the collector is abandoned, still waiting on ss
		_ = r.Close()
		_ = ss.Close()
	}()

	fd, err := ln.Detach()
	if err != nil {
		return err
	}
	lnFile := os.NewFile(uintptr(fd), "listener")
	defer func() { _ = lnFile.Close() }()

	exe, err := os.Executable()
	if err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)

	for i := 0; i < cfg.Workers; i++ {
		cmd := exec.CommandContext(gctx, exe, append([]string{"-worker"}, args...)...)
		cmd.Stdout = os.Stdout
		cmd.Stderr = os.Stderr
		cmd.ExtraFiles = []*os.File{lnFile}
		if err := cmd.Start(); err != nil {
			return fmt.Errorf("starting worker: %w", err)
		}
		pid := cmd.Process.Pid
		logger.Debug().Int("pid", pid).Log("started worker")
		g.Go(func() error {
			err := cmd.Wait()
			if gctx.Err() != nil {
				return nil
			}
			if err == nil {
				err = errors.New("exited")
			}
			return fmt.Errorf("worker %d: %w", pid, err)
		})
	}

	logger.Info().
		Int("port", cfg.Port).
		Int("stats_port", cfg.Port+1).
		Int("workers", cfg.Workers).
		Log("serving")

	g.Go(func() error {
		return r.Run(gctx, func() { collect(r, ss, logger) })
	})

	return g.Wait()
}

// collect logs every stats record received from the workers.
func collect(r *coro.Runtime, ss *coro.UDPSocket, logger *logiface.Logger[logiface.Event]) {
	var buf [64]byte
	for {
		from, n, err := ss.Recv(buf[:], coro.NoDeadline)
		if err != nil {
			logger.Err().Err(err).Log("stats receive failed")
			r.Sleep(100 * time.Millisecond)
			continue
		}
		var stats childStats
		if err := stats.UnmarshalBinary(buf[:n]); err != nil {
			logger.Warning().
				Str("from", from.String()).
				Int("size", n).
				Limit().
				Log("malformed stats record")
			continue
		}
		logger.Info().
			Int64("process", int64(stats.PID)).
			Int64("connections", int64(stats.Connections)).
			Int64("active", int64(stats.Active)).
			Int64("failed", int64(stats.Failed)).
			Log("worker stats")
	}
}
