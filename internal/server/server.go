// Package server implements the multi-client socket server skeleton shared
// by the proxymap and verify daemons (spec §2 item 3, §4.6, §5).
//
// It generalizes the teacher's single-session stdio LSP server into N
// Unix-domain-socket connections multiplexed onto one serial dispatch loop:
// a reader goroutine per connection performs I/O only (parses request
// frames, pushes jobs onto an unbuffered channel, blocks until its reply
// has been written back), and exactly one dispatch goroutine drains that
// channel and calls into the caller's Handler. No two request handlers
// ever run concurrently inside one worker (spec §5 "no internal locking
// needed"), while connection I/O itself proceeds concurrently, supervised
// by an errgroup.Group the way codenerd's intelligence_gatherer fans out
// and joins goroutines.
package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/tliron/commonlog"
	"golang.org/x/sync/errgroup"

	"github.com/ikedas/postfixproxy/internal/attrproto"
)

// Handler answers one decoded request frame with a reply frame.
// internal/proxyd.Dispatcher and internal/verifyd.Engine both implement it.
type Handler interface {
	Handle(req attrproto.Request) *attrproto.Reply
}

// Config configures one worker's socket server run.
type Config struct {
	// SocketPath is the Unix-domain socket to bind and listen on. Any
	// stale file at this path is removed before binding.
	SocketPath string
	// Handler answers decoded requests. Required.
	Handler Handler
	// MaxRequests terminates the worker after this many requests have
	// been served across all connections; 0 disables the limit (spec
	// §4.6, "post-jail disables the max-requests ... shutdown if the
	// cache is in-memory-only").
	MaxRequests int
	// IdleTimeout terminates the worker after this much time has
	// elapsed since the last request; 0 disables the limit.
	IdleTimeout time.Duration
	// PreAccept runs before each Accept; returning true means a watched
	// resource changed underneath the worker and it should exit cleanly
	// for the supervisor to respawn it with fresh state (spec §4.6).
	PreAccept func() bool
	// PreJail and PostJail are invoked once at startup, standing in for
	// the privilege-drop lifecycle hooks named in spec §4.6 and SPEC_FULL
	// §3 (privilege drop itself is out of scope).
	PreJail  func() error
	PostJail func() error
	// Logger receives lifecycle events. Defaults to
	// commonlog.GetLogger("postfixproxy.server") if nil.
	Logger commonlog.Logger
}

// job pairs one decoded request with the connection it arrived on and a
// completion signal, the unit of work handed from a reader goroutine to
// the single dispatch goroutine (SPEC_FULL glossary, "Job").
type job struct {
	req    attrproto.Request
	conn   *attrproto.Conn
	connID string
	done   chan struct{}
}

// Run binds SocketPath and serves connections until a shutdown condition
// fires (max requests reached, idle timeout elapsed, or PreAccept
// requesting a restart), returning nil on a clean exit or the first fatal
// error encountered.
func Run(cfg Config) error {
	logger := cfg.Logger
	if logger == nil {
		logger = commonlog.GetLogger("postfixproxy.server")
	}

	if cfg.PreJail != nil {
		if err := cfg.PreJail(); err != nil {
			return fmt.Errorf("server: pre-jail init: %w", err)
		}
	}

	if err := os.RemoveAll(cfg.SocketPath); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("server: remove stale socket %s: %w", cfg.SocketPath, err)
	}
	ln, err := net.ListenUnix("unix", &net.UnixAddr{Name: cfg.SocketPath, Net: "unix"})
	if err != nil {
		return fmt.Errorf("server: listen on %s: %w", cfg.SocketPath, err)
	}
	defer ln.Close()

	if cfg.PostJail != nil {
		if err := cfg.PostJail(); err != nil {
			return fmt.Errorf("server: post-jail init: %w", err)
		}
	}

	logger.Infof("listening on %s", cfg.SocketPath)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var requestCount int64
	var lastActivity atomic.Int64
	lastActivity.Store(time.Now().UnixNano())

	jobs := make(chan job)
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		dispatchLoop(gctx, jobs, cfg.Handler, logger)
		return nil
	})

	if cfg.IdleTimeout > 0 {
		g.Go(func() error {
			idleMonitor(gctx, &lastActivity, cfg.IdleTimeout, cancel, logger)
			return nil
		})
	}

	// Closing the listener is what unblocks a pending AcceptUnix once
	// shutdown has been signaled through any of the above paths.
	go func() {
		<-gctx.Done()
		ln.Close()
	}()

	g.Go(func() error {
		return acceptLoop(gctx, ln, cfg, g, jobs, &requestCount, cfg.MaxRequests, &lastActivity, cancel, logger)
	})

	if err := g.Wait(); err != nil {
		if ctx.Err() != nil {
			// Shutdown was requested from within (idle timeout, max
			// requests, restart signal); a "use of closed network
			// connection" Accept error surfacing from that is
			// expected, not a failure.
			return nil
		}
		return err
	}
	return nil
}

func acceptLoop(
	ctx context.Context,
	ln *net.UnixListener,
	cfg Config,
	g *errgroup.Group,
	jobs chan job,
	requestCount *int64,
	maxRequests int,
	lastActivity *atomic.Int64,
	cancel context.CancelFunc,
	logger commonlog.Logger,
) error {
	for {
		if ctx.Err() != nil {
			return nil
		}
		if cfg.PreAccept != nil && cfg.PreAccept() {
			logger.Noticef("a watched table changed -- restarting")
			cancel()
			return nil
		}

		conn, err := ln.AcceptUnix()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("server: accept: %w", err)
		}

		connID := uuid.NewString()
		g.Go(func() error {
			serveConn(ctx, conn, connID, jobs, requestCount, maxRequests, lastActivity, cancel, logger)
			return nil
		})
	}
}

// serveConn is the per-connection reader: it decodes frames and hands each
// one to the dispatch goroutine as a job, blocking until the reply has been
// sent before reading the next frame, so request/reply ordering within one
// connection is preserved (spec §5 "Ordering").
func serveConn(
	ctx context.Context,
	uconn *net.UnixConn,
	connID string,
	jobs chan<- job,
	requestCount *int64,
	maxRequests int,
	lastActivity *atomic.Int64,
	cancel context.CancelFunc,
	logger commonlog.Logger,
) {
	conn := attrproto.NewConn(uconn)
	defer conn.Close()

	for {
		req, err := conn.Recv()
		if err != nil {
			if !errors.Is(err, io.EOF) {
				logger.Warningf("conn_id=%s framing error: %v", connID, err)
			}
			return
		}

		lastActivity.Store(time.Now().UnixNano())

		done := make(chan struct{})
		select {
		case jobs <- job{req: req, conn: conn, connID: connID, done: done}:
		case <-ctx.Done():
			return
		}

		select {
		case <-done:
		case <-ctx.Done():
			return
		}

		n := atomic.AddInt64(requestCount, 1)
		lastActivity.Store(time.Now().UnixNano())
		if maxRequests > 0 && n >= int64(maxRequests) {
			logger.Infof("conn_id=%s served %d requests -- exiting", connID, n)
			cancel()
			return
		}
	}
}

// dispatchLoop is the single serial dispatch goroutine: every job in the
// process, across every connection, is handled here one at a time.
func dispatchLoop(ctx context.Context, jobs <-chan job, h Handler, logger commonlog.Logger) {
	for {
		select {
		case j, ok := <-jobs:
			if !ok {
				return
			}
			reply := h.Handle(j.req)
			if err := j.conn.Send(reply); err != nil {
				logger.Warningf("conn_id=%s reply write error: %v", j.connID, err)
			}
			close(j.done)
		case <-ctx.Done():
			return
		}
	}
}

func idleMonitor(ctx context.Context, lastActivity *atomic.Int64, timeout time.Duration, cancel context.CancelFunc, logger commonlog.Logger) {
	interval := timeout / 4
	if interval < time.Millisecond {
		interval = time.Millisecond
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			idle := time.Since(time.Unix(0, lastActivity.Load()))
			if idle >= timeout {
				logger.Infof("idle for %s -- exiting", idle)
				cancel()
				return
			}
		}
	}
}
