package main

import (
	"bytes"
	"context"
	"io"
	"os"
	"testing"
	"time"

	"github.com/joeycumines/go-coro"
	"github.com/joeycumines/logiface"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWorker_Dialogue(t *testing.T) {
	r, err := coro.New()
	require.NoError(t, err)
	defer r.Close()

	var logs bytes.Buffer
	logger := newLogger(&logs, logiface.LevelDebug)

	loopback, err := coro.LocalAddr("127.0.0.1", 0, coro.IPv4)
	require.NoError(t, err)
	ln, err := r.TCPListen(loopback, 10)
	require.NoError(t, err)
	collector, err := r.UDPListen(loopback)
	require.NoError(t, err)
	defer func() { _ = collector.Close() }()
	statsAddr, err := coro.LocalAddr("127.0.0.1", collector.Port(), coro.IPv4)
	require.NoError(t, err)
	serverAddr, err := coro.LocalAddr("127.0.0.1", ln.Port(), coro.IPv4)
	require.NoError(t, err)

	cfg := defaultConfig()
	cfg.StatsEvery = 1
	cfg.StatsInterval = 0
	w, err := newWorker(r, cfg, logger, statsAddr)
	require.NoError(t, err)

	var (
		greeting string
		stats    childStats
		statsErr error
	)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	err = r.Run(ctx, func() {
		_ = r.Go(w.statistics)
		_ = r.Go(func() { w.serve(ln) })

		deadline := coro.DeadlineAfter(5 * time.Second)
		conn, err := r.TCPConnect(serverAddr, deadline)
		if !assert.NoError(t, err) {
			return
		}
		defer func() { _ = conn.Close() }()

		buf := make([]byte, 256)
		n, err := conn.RecvUntil(buf, []byte("\r\n"), deadline)
		if !assert.NoError(t, err) {
			return
		}
		assert.Equal(t, string(prompt), string(buf[:n]))

		_, _ = conn.Send([]byte("Gopher\r"), deadline)
		if !assert.NoError(t, conn.Flush(deadline)) {
			return
		}
		n, err = conn.RecvUntil(buf, []byte("\r\n"), deadline)
		if !assert.NoError(t, err) {
			return
		}
		greeting = string(buf[:n])

		_, n, err = collector.Recv(buf, deadline)
		if !assert.NoError(t, err) {
			return
		}
		statsErr = stats.UnmarshalBinary(buf[:n])
	})
	require.NoError(t, err)

	assert.Equal(t, "Hello, Gopher!\r\n", greeting)
	assert.NotContains(t, logs.String(), "dialogue failed")
	require.NoError(t, statsErr)
	assert.Equal(t, int32(os.Getpid()), stats.PID)
	assert.Equal(t, int32(1), stats.Connections)
}

// TestWorker_DialogueTimeout checks a silent client is counted as failed.
func TestWorker_DialogueTimeout(t *testing.T) {
	r, err := coro.New()
	require.NoError(t, err)
	defer r.Close()

	loopback, err := coro.LocalAddr("127.0.0.1", 0, coro.IPv4)
	require.NoError(t, err)
	ln, err := r.TCPListen(loopback, 10)
	require.NoError(t, err)
	serverAddr, err := coro.LocalAddr("127.0.0.1", ln.Port(), coro.IPv4)
	require.NoError(t, err)
	collector, err := r.UDPListen(loopback)
	require.NoError(t, err)
	defer func() { _ = collector.Close() }()
	statsAddr, err := coro.LocalAddr("127.0.0.1", collector.Port(), coro.IPv4)
	require.NoError(t, err)

	cfg := defaultConfig()
	cfg.ConnTimeout = 20 * time.Millisecond
	cfg.StatsInterval = 0
	w, err := newWorker(r, cfg, nil, statsAddr)
	require.NoError(t, err)

	var stats childStats
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	err = r.Run(ctx, func() {
		_ = r.Go(func() { w.serve(ln) })
		conn, err := r.TCPConnect(serverAddr, coro.DeadlineAfter(5*time.Second))
		if !assert.NoError(t, err) {
			return
		}
		defer func() { _ = conn.Close() }()

		// never answer, and wait for the server to give up
		buf := make([]byte, 64)
		deadline := coro.DeadlineAfter(5 * time.Second)
		n, err := conn.RecvUntil(buf, []byte("\r\n"), deadline)
		assert.NoError(t, err)
		assert.Equal(t, string(prompt), string(buf[:n]))
		_, err = conn.Recv(buf, deadline)
		assert.ErrorIs(t, err, io.EOF)

		for {
			ev, ok, err := w.events.Recv(0)
			if err != nil || !ok {
				break
			}
			stats.apply(ev)
		}
	})
	require.NoError(t, err)
	assert.Equal(t, childStats{Connections: 1, Failed: 1}, stats)
}

func TestWorker_Admission(t *testing.T) {
	r, err := coro.New()
	require.NoError(t, err)
	defer r.Close()

	loopback, err := coro.LocalAddr("127.0.0.1", 0, coro.IPv4)
	require.NoError(t, err)
	ln, err := r.TCPListen(loopback, 10)
	require.NoError(t, err)
	serverAddr, err := coro.LocalAddr("127.0.0.1", ln.Port(), coro.IPv4)
	require.NoError(t, err)

	cfg := defaultConfig()
	cfg.Admission = AdmissionConfig{Window: time.Hour, Max: 1}
	w, err := newWorker(r, cfg, nil, serverAddr)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	err = r.Run(ctx, func() {
		_ = r.Go(func() { w.serve(ln) })
		deadline := coro.DeadlineAfter(5 * time.Second)
		buf := make([]byte, 256)

		first, err := r.TCPConnect(serverAddr, deadline)
		if !assert.NoError(t, err) {
			return
		}
		defer func() { _ = first.Close() }()
		n, err := first.RecvUntil(buf, []byte("\r\n"), deadline)
		assert.NoError(t, err)
		assert.Equal(t, string(prompt), string(buf[:n]))

		// the second connection from the same peer is closed unanswered
		second, err := r.TCPConnect(serverAddr, deadline)
		if !assert.NoError(t, err) {
			return
		}
		defer func() { _ = second.Close() }()
		_, err = second.RecvUntil(buf, []byte("\r\n"), deadline)
		assert.Error(t, err)
	})
	require.NoError(t, err)
}
