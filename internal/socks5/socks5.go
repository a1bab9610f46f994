package socks5

import (
	"crypto/subtle"
	"errors"

	txsocks5 "github.com/txthinking/socks5"
)

const (
	// Version is the SOCKS protocol version byte.
	Version = txsocks5.Ver
	// UserPassVersion is the RFC 1929 subnegotiation version byte.
	UserPassVersion = txsocks5.UserPassVer

	MethodNone             = txsocks5.MethodNone
	MethodUsernamePassword = txsocks5.MethodUsernamePassword
	// MethodNoAcceptable tells the client none of its methods were accepted.
	MethodNoAcceptable byte = 0xff

	CmdConnect = txsocks5.CmdConnect
	CmdBind    = txsocks5.CmdBind
	CmdUDP     = txsocks5.CmdUDP

	ATYPIPv4   = txsocks5.ATYPIPv4
	ATYPDomain = txsocks5.ATYPDomain
	ATYPIPv6   = txsocks5.ATYPIPv6

	RepSuccess             = txsocks5.RepSuccess
	RepGeneralFailure      = txsocks5.RepServerFailure
	RepHostUnreachable     = txsocks5.RepHostUnreachable
	RepConnectionRefused   = txsocks5.RepConnectionRefused
	RepCommandNotSupported = txsocks5.RepCommandNotSupported
	RepAddressNotSupported = txsocks5.RepAddressNotSupported
)

var (
	// ErrVersion is returned when a frame carries the wrong SOCKS version.
	ErrVersion = errors.New("socks5: unsupported version")
	// ErrAuthVersion is returned when a subnegotiation frame carries the
	// wrong RFC 1929 version.
	ErrAuthVersion = errors.New("socks5: unsupported auth version")
	// ErrShortFrame is returned when the peer closes before a frame is
	// complete.
	ErrShortFrame = errors.New("socks5: short frame")
	// ErrNoAcceptableMethod is returned when the client does not offer
	// username/password authentication.
	ErrNoAcceptableMethod = errors.New("socks5: no acceptable auth method")
	// ErrAuthFailed is returned when the client's credentials do not match.
	ErrAuthFailed = errors.New("socks5: auth failed")
)

// IsMalformed reports whether err means the peer is not speaking SOCKS5, in
// which case no reply is sent.
func IsMalformed(err error) bool {
	return errors.Is(err, ErrVersion) || errors.Is(err, ErrAuthVersion) || errors.Is(err, ErrShortFrame)
}

// Credentials is the username/password pair clients must present.
type Credentials struct {
	Username string
	Password string
}

// Match reports whether user and pass equal the configured pair byte for
// byte.
func (c Credentials) Match(user, pass []byte) bool {
	u := subtle.ConstantTimeCompare(user, []byte(c.Username))
	p := subtle.ConstantTimeCompare(pass, []byte(c.Password))
	return u&p == 1
}
