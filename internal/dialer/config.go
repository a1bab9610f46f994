package dialer

import (
	"net"
	"time"

	"github.com/die-net/socksproxy/internal/resolver"
)

type Config struct {
	DialTimeout time.Duration
	KeepAlive   net.KeepAliveConfig

	// Resolver looks up domain-name destinations. Nil means the system
	// resolver.
	Resolver resolver.Resolver
}
