package proxy

import (
	"context"
	"errors"
	"fmt"
	"net"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/die-net/socksproxy/internal/dialer"
)

// SOCKS5Server accepts SOCKS5 clients and relays their CONNECT requests.
// Each accepted connection is handled by its own goroutine and shares no
// mutable state with the others.
type SOCKS5Server struct {
	ctx    context.Context
	cfg    Config
	dialer dialer.Dialer
	log    *zap.Logger
	pool   *BufferPool
}

// NewSOCKS5Server constructs a server with the given config. Canceling ctx
// tears down every active session; the caller closes the listener.
func NewSOCKS5Server(ctx context.Context, cfg Config) *SOCKS5Server {
	if ctx == nil {
		ctx = context.Background()
	}

	d := cfg.Dialer
	if d == nil {
		d = dialer.NewDirectDialer(dialer.Config{KeepAlive: cfg.KeepAlive})
	}

	log := cfg.Logger
	if log == nil {
		log = zap.NewNop()
	}

	return &SOCKS5Server{
		ctx:    ctx,
		cfg:    cfg,
		dialer: d,
		log:    log,
		pool:   NewBufferPool(relayBufferSize),
	}
}

const (
	minAcceptBackoff = 5 * time.Millisecond
	maxAcceptBackoff = time.Second
)

// Serve accepts connections on ln until it is closed. Temporary accept
// failures such as running out of file descriptors are logged and retried
// with backoff. It returns nil if the server's context is done, and the
// accept error for any other failure.
func (s *SOCKS5Server) Serve(ln net.Listener) error {
	var backoff time.Duration
	for {
		c, err := ln.Accept()
		if err != nil {
			if s.ctx.Err() != nil {
				return nil
			}
			if !isTemporaryAcceptError(err) {
				return fmt.Errorf("accept: %w", err)
			}

			backoff = min(max(2*backoff, minAcceptBackoff), maxAcceptBackoff)
			s.log.Warn("accept failed, retrying", zap.Duration("backoff", backoff), zap.Error(err))

			t := time.NewTimer(backoff)
			select {
			case <-t.C:
			case <-s.ctx.Done():
				t.Stop()
				return nil
			}
			continue
		}
		backoff = 0
		go s.handleConn(c)
	}
}

// isTemporaryAcceptError reports whether err is an accept failure the
// listener can recover from.
func isTemporaryAcceptError(err error) bool {
	if errors.Is(err, net.ErrClosed) {
		return false
	}
	for _, errno := range []syscall.Errno{syscall.EMFILE, syscall.ENFILE, syscall.ENOBUFS, syscall.ENOMEM, syscall.ECONNABORTED} {
		if errors.Is(err, errno) {
			return true
		}
	}
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}

func (s *SOCKS5Server) handleConn(conn net.Conn) {
	defer conn.Close()

	log := s.log.With(zap.Stringer("client", conn.RemoteAddr()))
	log.Info("new client")

	_ = newSession(s, conn, log).run(s.ctx)
}
