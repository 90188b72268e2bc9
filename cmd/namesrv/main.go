// Command namesrv is a demo server for the coro runtime. It binds a TCP
// listener, then serves it from several worker processes, each running its
// own runtime. Each connection is asked for a name, and greeted by it.
// Workers report connection statistics to the master over UDP, on the port
// after the listening port.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/joeycumines/logiface"
	"github.com/joeycumines/stumpy"
)

func main() {
	os.Exit(run(os.Args[1:], os.Stderr))
}

func run(args []string, stderr io.Writer) int {
	cfg, isWorker, err := parseConfig(args)
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		_, _ = fmt.Fprintf(stderr, "namesrv: %v\n", err)
		return 2
	}

	level, _ := parseLevel(cfg.LogLevel)
	logger := newLogger(stderr, level)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if isWorker {
		err = runWorker(ctx, cfg, logger)
	} else {
		err = runMaster(ctx, cfg, args, logger)
	}
	if err != nil && !errors.Is(err, context.Canceled) {
		logger.Crit().
			Bool("worker", isWorker).
			Err(err).
			Log("namesrv failed")
		return 1
	}
	return 0
}

func newLogger(w io.Writer, level logiface.Level) *logiface.Logger[logiface.Event] {
	return stumpy.L.New(
		stumpy.L.WithStumpy(stumpy.WithWriter(w)),
		stumpy.L.WithLevel(level),
	).Logger()
}
