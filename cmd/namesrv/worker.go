package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/joeycumines/go-catrate"
	"github.com/joeycumines/go-coro"
	"github.com/joeycumines/logiface"
)

// listenerFD is the descriptor workers inherit the listening socket on.
const listenerFD = 3

var prompt = []byte("What's your name?\r\n")

// worker serves dialogues on a shared listener, within one runtime.
type worker struct {
	r         *coro.Runtime
	cfg       *Config
	logger    *logiface.Logger[logiface.Event]
	limiter   *catrate.Limiter
	events    *coro.Chan[connEvent]
	statsSock *coro.UDPSocket
	statsAddr coro.Addr
}

func newWorker(r *coro.Runtime, cfg *Config, logger *logiface.Logger[logiface.Event], statsAddr coro.Addr) (*worker, error) {
	local, err := coro.LocalAddr("", 0, coro.IPv4)
	if err != nil {
		return nil, err
	}
	if !statsAddr.Is4() {
		local, err = coro.LocalAddr("", 0, coro.IPv6)
		if err != nil {
			return nil, err
		}
	}
	sock, err := r.UDPListen(local)
	if err != nil {
		return nil, fmt.Errorf("can't open stats socket: %w", err)
	}
	w := &worker{
		r:         r,
		cfg:       cfg,
		logger:    logger,
		events:    coro.NewChan[connEvent](r, 100),
		statsSock: sock,
		statsAddr: statsAddr,
	}
	if cfg.Admission.Max > 0 {
		w.limiter = catrate.NewLimiter(map[time.Duration]int{cfg.Admission.Window: cfg.Admission.Max})
	}
	return w, nil
}

// runWorker serves the listener inherited from the master, until ctx is
// cancelled.
func runWorker(ctx context.Context, cfg *Config, logger *logiface.Logger[logiface.Event]) error {
	r, err := coro.New(coro.WithLogger(logger), coro.WithStackPool(cfg.Stacks, 0, 0))
	if err != nil {
		return err
	}
	defer r.Close()

	ln, err := r.TCPAttachListener(listenerFD)
	if err != nil {
		return fmt.Errorf("can't attach listening socket: %w", err)
	}

	statsAddr, err := coro.LocalAddr("127.0.0.1", cfg.Port+1, coro.IPv4)
	if err != nil {
		return err
	}
	w, err := newWorker(r, cfg, logger, statsAddr)
	if err != nil {
		return err
	}

	logger.Info().
		Int("pid", os.Getpid()).
		Int("port", ln.Port()).
		Log("worker started")

	return r.Run(ctx, func() {
		_ = r.Go(w.statistics)
		w.serve(ln)
	})
}

// serve accepts connections, spawning a dialogue for each, until the
// listener is closed.
func (w *worker) serve(ln *coro.TCPListener) {
	for {
		conn, err := ln.Accept(coro.NoDeadline)
		if err != nil {
			if errors.Is(err, coro.ErrClosed) {
				return
			}
			w.logger.Warning().
				Err(err).
				Limit().
				Log("accept failed")
			// back off, e.g. on descriptor exhaustion
			w.r.Sleep(10 * time.Millisecond)
			continue
		}

		if w.limiter != nil {
			if _, ok := w.limiter.Allow(conn.RemoteAddr().IP()); !ok {
				w.logger.Notice().
					Str("peer", conn.RemoteAddr().String()).
					Limit().
					Log("connection rate limited")
				_ = conn.Close()
				continue
			}
		}

		_ = w.r.Go(func() { w.dialogue(conn) })
	}
}

// dialogue runs the name protocol on conn, then closes it.
func (w *worker) dialogue(conn *coro.TCPConn) {
	defer func() { _ = conn.Close() }()

	w.report(connEstablished)
	if err := converse(conn, coro.DeadlineAfter(w.cfg.ConnTimeout)); err != nil {
		w.logger.Debug().
			Str("peer", conn.RemoteAddr().String()).
			Err(err).
			Log("dialogue failed")
		w.report(connFailed)
		return
	}
	w.report(connSucceeded)
}

// converse prompts for a name, terminated by CR, and greets it.
func converse(conn *coro.TCPConn, deadline int64) error {
	if _, err := conn.Send(prompt, deadline); err != nil {
		return err
	}
	if err := conn.Flush(deadline); err != nil {
		return err
	}

	var inbuf [256]byte
	n, err := conn.RecvUntil(inbuf[:], []byte{'\r'}, deadline)
	if err != nil {
		return err
	}

	reply := fmt.Appendf(nil, "Hello, %s!\r\n", inbuf[:n-1])
	if _, err := conn.Send(reply, deadline); err != nil {
		return err
	}
	return conn.Flush(deadline)
}

func (w *worker) report(ev connEvent) {
	if err := w.events.Send(ev, coro.NoDeadline); err != nil {
		w.logger.Err().Err(err).Log("failed to report connection event")
	}
}

// statistics aggregates connection events, reporting them to the master
// every StatsEvery connections, and periodically if they changed.
func (w *worker) statistics() {
	stats := childStats{PID: int32(os.Getpid())}
	var dirty bool
	deadline := w.nextStatsDeadline()
	for {
		ev, ok, err := w.events.Recv(deadline)
		switch {
		case errors.Is(err, coro.ErrTimeout):
			if dirty {
				w.sendStats(stats)
				dirty = false
			}
			deadline = w.nextStatsDeadline()
			continue
		case err != nil, !ok:
			return
		}

		stats.apply(ev)
		dirty = true
		if ev == connEstablished && stats.Connections%int32(w.cfg.StatsEvery) == 0 {
			w.sendStats(stats)
			dirty = false
		}
	}
}

func (w *worker) nextStatsDeadline() int64 {
	if w.cfg.StatsInterval <= 0 {
		return coro.NoDeadline
	}
	return coro.DeadlineAfter(w.cfg.StatsInterval)
}

func (w *worker) sendStats(stats childStats) {
	b, _ := stats.MarshalBinary()
	if err := w.statsSock.Send(w.statsAddr, b); err != nil {
		w.logger.Warning().
			Err(err).
			Limit().
			Log("failed to send stats")
	}
}
