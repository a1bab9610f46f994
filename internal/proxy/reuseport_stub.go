//go:build !linux && !darwin && !dragonfly && !freebsd && !netbsd && !openbsd

package proxy

import (
	"errors"
	"syscall"
)

// ReusePortSupported reports whether ListenTCP can set SO_REUSEPORT.
const ReusePortSupported = false

func reusePortControl(_, _ string, _ syscall.RawConn) error {
	return errors.New("SO_REUSEPORT not supported")
}
