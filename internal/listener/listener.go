// Package listener implements the Listener / Worker Pool (C8): a
// SO_REUSEADDR TCP listener that bounds concurrent request handling to a
// fixed worker count and dispatches each connection's request line to
// the plain-HTTP Dispatcher or the CONNECT handler.
package listener

import (
	"bufio"
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/EvgeniiDev/proxy-load-balancer-sub000/internal/httpconn"
)

// dispatcher is satisfied by *dispatcher.Dispatcher.
type dispatcher interface {
	Dispatch(w http.ResponseWriter, req *http.Request)
}

// connectHandler is satisfied by *connectproxy.Handler.
type connectHandler interface {
	Handle(ctx context.Context, clientConn net.Conn, req *http.Request)
}

// Listener accepts client connections and hands each one to a worker
// goroutine gated by a bounded semaphore.
type Listener struct {
	addr           string
	workerLimit    int
	dispatcher     dispatcher
	connectHandler connectHandler
	logger         *slog.Logger

	idleTimeout time.Duration
}

func New(addr string, workerLimit int, disp dispatcher, connect connectHandler, logger *slog.Logger) *Listener {
	return &Listener{
		addr:           addr,
		workerLimit:    workerLimit,
		dispatcher:     disp,
		connectHandler: connect,
		logger:         logger,
		idleTimeout:    60 * time.Second,
	}
}

// ListenAndServe binds addr with SO_REUSEADDR and serves connections until
// ctx is cancelled or the listener errors.
func (l *Listener) ListenAndServe(ctx context.Context) error {
	cfg := net.ListenConfig{Control: reuseAddrControl}
	ln, err := cfg.Listen(ctx, "tcp", l.addr)
	if err != nil {
		return err
	}
	return l.Serve(ctx, ln)
}

// Serve accepts connections off an already-bound listener until ctx is
// cancelled or the listener errors. Exposed separately from
// ListenAndServe so tests can supply their own net.Listener.
func (l *Listener) Serve(ctx context.Context, ln net.Listener) error {
	defer ln.Close()

	go func() {
		<-ctx.Done()
		ln.Close()
	}()

	sem := make(chan struct{}, l.workerLimit)

	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			if errors.Is(err, net.ErrClosed) {
				return nil
			}
			l.logger.Warn("accept failed", "error", err)
			continue
		}

		select {
		case sem <- struct{}{}:
		case <-ctx.Done():
			conn.Close()
			return nil
		}

		go func() {
			defer func() { <-sem }()
			l.serve(ctx, conn)
		}()
	}
}

// serve drives the request/response loop for one accepted connection. It
// recovers from any panic raised while handling a request so a single
// bad request can never take down the worker pool.
func (l *Listener) serve(ctx context.Context, conn net.Conn) {
	defer conn.Close()
	defer func() {
		if r := recover(); r != nil {
			l.logger.Error("worker recovered from panic", "panic", r)
		}
	}()

	reader := bufio.NewReader(conn)
	bw := bufio.NewWriter(conn)

	for {
		conn.SetReadDeadline(time.Now().Add(l.idleTimeout))
		req, err := http.ReadRequest(reader)
		if err != nil {
			return
		}
		conn.SetReadDeadline(time.Time{})

		if req.Method == http.MethodConnect {
			l.connectHandler.Handle(ctx, conn, req)
			return
		}

		w := httpconn.NewWriter(bw)
		l.dispatcher.Dispatch(w, req)
		bw.Flush()

		if !httpconn.KeepAlive(req) {
			return
		}
	}
}
