package socks5

import (
	"errors"
	"fmt"
	"net"

	txsocks5 "github.com/txthinking/socks5"
)

// ReplyError is returned by ClientConnect when the server answers with a
// non-success reply code.
type ReplyError struct {
	Rep byte
}

func (e *ReplyError) Error() string {
	return fmt.Sprintf("socks5: connect failed with reply %#02x", e.Rep)
}

// ClientDial negotiates with the server on conn and issues a CONNECT to
// address.
func ClientDial(conn net.Conn, creds Credentials, address string) (*txsocks5.Reply, error) {
	if err := ClientNegotiate(conn, creds); err != nil {
		return nil, err
	}
	return ClientConnect(conn, address)
}

// ClientNegotiate offers username/password authentication and, once the
// server selects it, sends creds.
func ClientNegotiate(conn net.Conn, creds Credentials) error {
	if _, err := txsocks5.NewNegotiationRequest([]byte{MethodUsernamePassword}).WriteTo(conn); err != nil {
		return fmt.Errorf("write negotiation: %w", err)
	}

	neg, err := txsocks5.NewNegotiationReplyFrom(conn)
	if err != nil {
		return fmt.Errorf("read negotiation: %w", err)
	}
	if neg.Method != MethodUsernamePassword {
		return fmt.Errorf("unsupported negotiation method: %d", neg.Method)
	}

	if _, err := txsocks5.NewUserPassNegotiationRequest([]byte(creds.Username), []byte(creds.Password)).WriteTo(conn); err != nil {
		return fmt.Errorf("write userpass: %w", err)
	}
	rep, err := txsocks5.NewUserPassNegotiationReplyFrom(conn)
	if err != nil {
		return fmt.Errorf("read userpass: %w", err)
	}
	if rep.Status != txsocks5.UserPassStatusSuccess {
		return ErrAuthFailed
	}
	return nil
}

// ClientConnect sends a CONNECT request for address and reads the reply.
func ClientConnect(conn net.Conn, address string) (*txsocks5.Reply, error) {
	atyp, dstAddr, dstPort, err := txsocks5.ParseAddress(address)
	if err != nil {
		return nil, fmt.Errorf("parse address: %w", err)
	}
	if atyp == ATYPDomain {
		dstAddr = dstAddr[1:]
	}

	if _, err := txsocks5.NewRequest(CmdConnect, atyp, dstAddr, dstPort).WriteTo(conn); err != nil {
		return nil, fmt.Errorf("write request: %w", err)
	}

	rep, err := txsocks5.NewReplyFrom(conn)
	if err != nil {
		return nil, fmt.Errorf("read reply: %w", err)
	}
	if rep.Rep != RepSuccess {
		return rep, &ReplyError{Rep: rep.Rep}
	}
	return rep, nil
}

// IsReply reports whether err is a ReplyError carrying rep.
func IsReply(err error, rep byte) bool {
	var re *ReplyError
	return errors.As(err, &re) && re.Rep == rep
}
