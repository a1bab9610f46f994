package socks5

import (
	"encoding/binary"
	"fmt"
	"io"
	"net"

	txsocks5 "github.com/txthinking/socks5"
)

// WriteReply writes a reply to a client request. The bound address is
// always encoded as IPv4: the IPv4 form of bindAddr if it has one, and
// 0.0.0.0:0 otherwise.
func WriteReply(w io.Writer, rep byte, bindAddr net.Addr) error {
	addr := []byte{0x00, 0x00, 0x00, 0x00}
	port := []byte{0x00, 0x00}

	if ta, ok := bindAddr.(*net.TCPAddr); ok {
		if ip4 := ta.IP.To4(); ip4 != nil {
			addr = ip4
		}
		binary.BigEndian.PutUint16(port, uint16(ta.Port))
	}

	if _, err := txsocks5.NewReply(rep, ATYPIPv4, addr, port).WriteTo(w); err != nil {
		return fmt.Errorf("reply %#02x: %w", rep, err)
	}
	return nil
}

// WriteErrorReply writes a negative reply with zeroed address fields.
func WriteErrorReply(w io.Writer, rep byte) error {
	return WriteReply(w, rep, nil)
}

// WriteNoAcceptableMethods tells the client none of its methods are
// supported.
func WriteNoAcceptableMethods(w io.Writer) error {
	return WriteMethodReply(w, MethodNoAcceptable)
}
