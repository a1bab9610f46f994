package socks5

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"net"
	"strconv"

	txsocks5 "github.com/txthinking/socks5"
)

// minRequestLen is VER CMD RSV ATYP plus the shortest possible address and
// port (an empty domain name).
const minRequestLen = 7

// Request is a parsed client request. Host and Port are only set for a
// CONNECT to an IPv4 or domain-name destination.
type Request struct {
	Cmd  byte
	Atyp byte
	Host string
	Port uint16
}

// Address returns the destination as host:port.
func (r *Request) Address() string {
	return net.JoinHostPort(r.Host, strconv.Itoa(int(r.Port)))
}

// ReadGreeting reads the client's method-selection message and returns the
// offered methods. The version byte is checked before anything else is
// read.
func ReadGreeting(r io.Reader) ([]byte, error) {
	var hdr [2]byte
	if err := readFull(r, hdr[:1]); err != nil {
		return nil, fmt.Errorf("greeting: %w", err)
	}
	if hdr[0] != Version {
		return nil, fmt.Errorf("greeting version %d: %w", hdr[0], ErrVersion)
	}
	if err := readFull(r, hdr[1:]); err != nil {
		return nil, fmt.Errorf("greeting: %w", err)
	}

	methods := make([]byte, int(hdr[1]))
	if err := readFull(r, methods); err != nil {
		return nil, fmt.Errorf("greeting methods: %w", err)
	}
	return methods, nil
}

// SelectMethod picks username/password authentication if offered and
// MethodNoAcceptable otherwise. No other method is ever selected, even
// MethodNone.
func SelectMethod(methods []byte) byte {
	for _, m := range methods {
		if m == MethodUsernamePassword {
			return MethodUsernamePassword
		}
	}
	return MethodNoAcceptable
}

// WriteMethodReply writes the server's method-selection message.
func WriteMethodReply(w io.Writer, method byte) error {
	if _, err := txsocks5.NewNegotiationReply(method).WriteTo(w); err != nil {
		return fmt.Errorf("method reply: %w", err)
	}
	return nil
}

// ReadUserPass reads an RFC 1929 username/password request. Empty
// usernames and passwords are accepted here and left to the credential
// check.
func ReadUserPass(r io.Reader) (user, pass []byte, err error) {
	var hdr [2]byte
	if err := readFull(r, hdr[:]); err != nil {
		return nil, nil, fmt.Errorf("userpass: %w", err)
	}
	if hdr[0] != UserPassVersion {
		return nil, nil, fmt.Errorf("userpass version %d: %w", hdr[0], ErrAuthVersion)
	}

	user = make([]byte, int(hdr[1]))
	if err := readFull(r, user); err != nil {
		return nil, nil, fmt.Errorf("userpass username: %w", err)
	}

	var plen [1]byte
	if err := readFull(r, plen[:]); err != nil {
		return nil, nil, fmt.Errorf("userpass: %w", err)
	}
	pass = make([]byte, int(plen[0]))
	if err := readFull(r, pass); err != nil {
		return nil, nil, fmt.Errorf("userpass password: %w", err)
	}
	return user, pass, nil
}

// WriteUserPassReply writes the RFC 1929 status reply.
func WriteUserPassReply(w io.Writer, ok bool) error {
	status := txsocks5.UserPassStatusFailure
	if ok {
		status = txsocks5.UserPassStatusSuccess
	}
	if _, err := txsocks5.NewUserPassNegotiationReply(status).WriteTo(w); err != nil {
		return fmt.Errorf("userpass reply: %w", err)
	}
	return nil
}

// ReadRequest reads a client request.
//
// The first seven bytes are read together since no valid request is
// shorter. The rest of the frame is read for every address type whose
// length is known, whatever the command, so a negative reply is never
// followed by unread client bytes. Host and Port are only filled in for
// IPv4 and domain-name destinations; callers check Cmd and then Atyp.
func ReadRequest(r io.Reader) (*Request, error) {
	var b [minRequestLen]byte
	if err := readFull(r, b[:]); err != nil {
		return nil, fmt.Errorf("request: %w", err)
	}
	if b[0] != Version {
		return nil, fmt.Errorf("request version %d: %w", b[0], ErrVersion)
	}

	req := &Request{Cmd: b[1], Atyp: b[3]}

	switch req.Atyp {
	case ATYPIPv4:
		// b[4:7] holds the first three address bytes.
		rest := make([]byte, net.IPv4len+2-3)
		if err := readFull(r, rest); err != nil {
			return nil, fmt.Errorf("request ipv4 address: %w", err)
		}
		addr := append(b[4:7:7], rest...)
		req.Host = net.IP(addr[:net.IPv4len]).String()
		req.Port = binary.BigEndian.Uint16(addr[net.IPv4len:])
	case ATYPDomain:
		// b[4] is the name length and b[5:7] holds its first two bytes, or
		// the port if the name is empty.
		n := int(b[4])
		rest := make([]byte, n)
		if err := readFull(r, rest); err != nil {
			return nil, fmt.Errorf("request domain: %w", err)
		}
		name := append(b[5:7:7], rest...)
		req.Host = string(name[:n])
		req.Port = binary.BigEndian.Uint16(name[n:])
	case ATYPIPv6:
		// Unsupported, but consumed so the rejection is delivered cleanly.
		rest := make([]byte, net.IPv6len+2-3)
		if err := readFull(r, rest); err != nil {
			return nil, fmt.Errorf("request ipv6 address: %w", err)
		}
	}
	return req, nil
}

func readFull(r io.Reader, b []byte) error {
	if _, err := io.ReadFull(r, b); err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return ErrShortFrame
		}
		return err
	}
	return nil
}
