package proxy

import (
	"net"
	"time"

	"go.uber.org/zap"

	"github.com/die-net/socksproxy/internal/dialer"
	"github.com/die-net/socksproxy/internal/socks5"
)

type Config struct {
	// Credentials is the single username/password pair clients must present.
	Credentials socks5.Credentials

	// NegotiationTimeout bounds the greeting, auth and request stages.
	// Zero leaves negotiation unbounded.
	NegotiationTimeout time.Duration

	KeepAlive net.KeepAliveConfig

	// Dialer opens outbound connections. Nil means a direct dialer using
	// the system resolver.
	Dialer dialer.Dialer

	// Logger receives per-connection events. Nil discards them.
	Logger *zap.Logger
}
