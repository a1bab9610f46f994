package dialer

import (
	"context"
	"errors"
	"fmt"
	"net"
)

// Dialer mirrors the net.Dialer interface.
type Dialer interface {
	DialContext(ctx context.Context, network, address string) (net.Conn, error)
}

// ResolveError reports a failed name lookup for a destination host.
type ResolveError struct {
	Host string
	Err  error
}

func (e *ResolveError) Error() string {
	return fmt.Sprintf("resolve %s: %v", e.Host, e.Err)
}

func (e *ResolveError) Unwrap() error {
	return e.Err
}

// IsResolveError reports whether err came from resolving the destination
// rather than connecting to it.
func IsResolveError(err error) bool {
	var re *ResolveError
	return errors.As(err, &re)
}
