package proxy

import (
	"context"
	"encoding/binary"
	"errors"
	"io"
	"net"
	"net/netip"
	"os"
	"sync/atomic"
	"testing"
	"time"

	"github.com/die-net/socksproxy/internal/dialer"
	"github.com/die-net/socksproxy/internal/resolver"
	"github.com/die-net/socksproxy/internal/socks5"
)

var testCreds = socks5.Credentials{Username: "testuser", Password: "testpass"}

func testConfig() Config {
	return Config{
		Credentials: testCreds,
		Dialer:      dialer.NewDirectDialer(dialer.Config{DialTimeout: 2 * time.Second}),
	}
}

// startSOCKS5 serves cfg on a loopback port. The returned func cancels the
// server context, which tears down active sessions.
func startSOCKS5(t *testing.T, cfg Config) (string, context.CancelFunc) {
	t.Helper()

	ln, err := ListenTCP("tcp4", "127.0.0.1:0", net.KeepAliveConfig{Enable: false}, false)
	if err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	srv := NewSOCKS5Server(ctx, cfg)
	done := make(chan error, 1)
	go func() { done <- srv.Serve(ln) }()

	t.Cleanup(func() {
		cancel()
		_ = ln.Close()
		if err := <-done; err != nil {
			t.Errorf("serve: %v", err)
		}
	})

	return ln.Addr().String(), cancel
}

func dialRaw(t *testing.T, addr string) net.Conn {
	t.Helper()

	c, err := net.DialTimeout("tcp4", addr, 2*time.Second)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = c.Close() })
	_ = c.SetDeadline(time.Now().Add(5 * time.Second))
	return c
}

func writeFrame(t *testing.T, c net.Conn, frames ...[]byte) {
	t.Helper()

	var b []byte
	for _, f := range frames {
		b = append(b, f...)
	}
	if _, err := c.Write(b); err != nil {
		t.Fatal(err)
	}
}

func expectBytes(t *testing.T, c net.Conn, want []byte) {
	t.Helper()

	got := make([]byte, len(want))
	if _, err := io.ReadFull(c, got); err != nil {
		t.Fatalf("reading %x: %v", want, err)
	}
	if string(got) != string(want) {
		t.Fatalf("got %x want %x", got, want)
	}
}

// readUntilClose returns whatever the server sends before closing c.
func readUntilClose(t *testing.T, c net.Conn) []byte {
	t.Helper()

	_ = c.SetReadDeadline(time.Now().Add(2 * time.Second))
	var b []byte
	buf := make([]byte, 64)
	for {
		n, err := c.Read(buf)
		b = append(b, buf[:n]...)
		if err != nil {
			if errors.Is(err, os.ErrDeadlineExceeded) {
				t.Fatalf("connection still open, read %x", b)
			}
			return b
		}
	}
}

func userPassFrame(user, pass string) []byte {
	b := []byte{socks5.UserPassVersion, byte(len(user))}
	b = append(b, user...)
	b = append(b, byte(len(pass)))
	return append(b, pass...)
}

// connectFrame builds a CONNECT request for addr, using an IPv4 address
// when host is a literal and a domain name otherwise.
func connectFrame(t *testing.T, addr string) []byte {
	t.Helper()

	host, port, err := net.SplitHostPort(addr)
	if err != nil {
		t.Fatal(err)
	}
	p, err := net.LookupPort("tcp", port)
	if err != nil {
		t.Fatal(err)
	}

	b := []byte{socks5.Version, socks5.CmdConnect, 0x00}
	if ip, err := netip.ParseAddr(host); err == nil && ip.Is4() {
		a := ip.As4()
		b = append(b, socks5.ATYPIPv4)
		b = append(b, a[:]...)
	} else {
		b = append(b, socks5.ATYPDomain, byte(len(host)))
		b = append(b, host...)
	}
	return binary.BigEndian.AppendUint16(b, uint16(p))
}

// authenticate runs the greeting and auth stages with testCreds.
func authenticate(t *testing.T, c net.Conn) {
	t.Helper()

	writeFrame(t, c, []byte{socks5.Version, 1, socks5.MethodUsernamePassword})
	expectBytes(t, c, []byte{socks5.Version, socks5.MethodUsernamePassword})
	writeFrame(t, c, userPassFrame(testCreds.Username, testCreds.Password))
	expectBytes(t, c, []byte{socks5.UserPassVersion, 0x00})
}

// readReply reads a ten-byte IPv4 reply and returns its code and bound
// address.
func readReply(t *testing.T, c net.Conn) (byte, netip.AddrPort) {
	t.Helper()

	b := make([]byte, 10)
	if _, err := io.ReadFull(c, b); err != nil {
		t.Fatal(err)
	}
	if b[0] != socks5.Version || b[2] != 0x00 || b[3] != socks5.ATYPIPv4 {
		t.Fatalf("bad reply header %x", b)
	}
	ip := netip.AddrFrom4([4]byte(b[4:8]))
	return b[1], netip.AddrPortFrom(ip, binary.BigEndian.Uint16(b[8:]))
}

type staticResolver map[string]string

func (s staticResolver) LookupIPv4(_ context.Context, host string) (netip.Addr, error) {
	ip, ok := s[host]
	if !ok {
		return netip.Addr{}, resolver.ErrNotFound
	}
	return netip.MustParseAddr(ip), nil
}

// countingDialer records calls and fails with err when set.
type countingDialer struct {
	calls atomic.Int32
	err   error
	next  dialer.Dialer
}

func (d *countingDialer) DialContext(ctx context.Context, network, address string) (net.Conn, error) {
	d.calls.Add(1)
	if d.err != nil {
		return nil, d.err
	}
	return d.next.DialContext(ctx, network, address)
}
