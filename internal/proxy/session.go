package proxy

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"go.uber.org/zap"

	"github.com/die-net/socksproxy/internal/dialer"
	"github.com/die-net/socksproxy/internal/socks5"
)

// State is the negotiation stage of a session.
type State int

const (
	StateGreeting State = iota
	StateAuth
	StateRequest
	StateRelay
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateGreeting:
		return "greeting"
	case StateAuth:
		return "auth"
	case StateRequest:
		return "request"
	case StateRelay:
		return "relay"
	case StateClosed:
		return "closed"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

var (
	errUnsupportedCommand = errors.New("unsupported command")
	errUnsupportedAddress = errors.New("unsupported address type")
)

// session is the per-connection state machine. Only the goroutine that
// runs it touches its fields.
type session struct {
	srv  *SOCKS5Server
	conn net.Conn
	log  *zap.Logger

	state         State
	authenticated bool
	target        string
	upstream      net.Conn
}

func newSession(srv *SOCKS5Server, conn net.Conn, log *zap.Logger) *session {
	return &session{srv: srv, conn: conn, log: log, state: StateGreeting}
}

// run drives the session from greeting to close. Every error return ends
// the session; the caller closes the client connection.
func (s *session) run(ctx context.Context) error {
	defer func() {
		if s.upstream != nil {
			_ = s.upstream.Close()
		}
		s.state = StateClosed
	}()

	if t := s.srv.cfg.NegotiationTimeout; t > 0 {
		_ = s.conn.SetDeadline(time.Now().Add(t))
	}

	for {
		var err error
		switch s.state {
		case StateGreeting:
			err = s.greeting()
		case StateAuth:
			err = s.authenticate()
		case StateRequest:
			err = s.request(ctx)
		case StateRelay:
			if err = s.relay(ctx); err == nil {
				s.state = StateClosed
			}
		default:
			return nil
		}
		if err != nil {
			msg := "session ended"
			if socks5.IsMalformed(err) {
				msg = "malformed frame"
			}
			s.log.Debug(msg, zap.Stringer("state", s.state), zap.Bool("authenticated", s.authenticated), zap.Error(err))
			return err
		}
	}
}

func (s *session) greeting() error {
	methods, err := socks5.ReadGreeting(s.conn)
	if err != nil {
		return err
	}

	method := socks5.SelectMethod(methods)
	if method == socks5.MethodNoAcceptable {
		s.log.Warn("no acceptable auth method", zap.Uint8s("methods", methods))
		_ = socks5.WriteNoAcceptableMethods(s.conn)
		return socks5.ErrNoAcceptableMethod
	}

	if err := socks5.WriteMethodReply(s.conn, method); err != nil {
		return fmt.Errorf("write method reply: %w", err)
	}
	s.state = StateAuth
	return nil
}

func (s *session) authenticate() error {
	user, pass, err := socks5.ReadUserPass(s.conn)
	if err != nil {
		return err
	}

	ok := s.srv.cfg.Credentials.Match(user, pass)
	if err := socks5.WriteUserPassReply(s.conn, ok); err != nil {
		return fmt.Errorf("write auth reply: %w", err)
	}
	if !ok {
		s.log.Warn("auth failed", zap.ByteString("username", user))
		return socks5.ErrAuthFailed
	}

	s.authenticated = true
	s.state = StateRequest
	return nil
}

func (s *session) request(ctx context.Context) error {
	req, err := socks5.ReadRequest(s.conn)
	if err != nil {
		return err
	}

	if req.Cmd != socks5.CmdConnect {
		s.log.Warn("unsupported command", zap.Uint8("cmd", req.Cmd))
		return s.reject(socks5.RepCommandNotSupported, errUnsupportedCommand)
	}
	if req.Atyp != socks5.ATYPIPv4 && req.Atyp != socks5.ATYPDomain {
		s.log.Warn("unsupported address type", zap.Uint8("atyp", req.Atyp))
		return s.reject(socks5.RepAddressNotSupported, errUnsupportedAddress)
	}

	// Negotiation is over; the relay is bounded only by the peers.
	if s.srv.cfg.NegotiationTimeout > 0 {
		_ = s.conn.SetDeadline(time.Time{})
	}

	s.target = req.Address()
	s.log.Info("connect", zap.String("target", s.target))

	up, err := s.srv.dialer.DialContext(ctx, "tcp", s.target)
	if err != nil {
		rep := replyForDialError(err)
		if rep == socks5.RepHostUnreachable {
			s.log.Warn("dns lookup failed", zap.String("host", req.Host), zap.Error(err))
		} else {
			s.log.Warn("remote connection error", zap.String("target", s.target), zap.Error(err))
		}
		return s.reject(rep, err)
	}
	s.upstream = up

	if err := socks5.WriteReply(s.conn, socks5.RepSuccess, up.LocalAddr()); err != nil {
		return fmt.Errorf("write reply: %w", err)
	}
	s.state = StateRelay
	return nil
}

func (s *session) relay(ctx context.Context) error {
	up, down, err := CopyBidirectional(ctx, s.conn, s.upstream, s.srv.pool)
	s.log.Info("tunnel closed",
		zap.String("target", s.target),
		zap.Int64("bytes_up", up),
		zap.Int64("bytes_down", down))
	return err
}

// reject writes a failure reply and returns err so the session ends.
func (s *session) reject(rep byte, err error) error {
	_ = socks5.WriteErrorReply(s.conn, rep)
	return err
}

// replyForDialError maps an outbound dial failure to a reply code.
func replyForDialError(err error) byte {
	var opErr *net.OpError
	switch {
	case dialer.IsResolveError(err):
		return socks5.RepHostUnreachable
	case errors.As(err, &opErr), errors.Is(err, context.DeadlineExceeded):
		return socks5.RepConnectionRefused
	default:
		return socks5.RepGeneralFailure
	}
}
