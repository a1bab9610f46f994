package resolver

import (
	"context"
	"errors"
	"net"
	"net/netip"
	"sync/atomic"
	"testing"
	"time"

	"github.com/miekg/dns"
)

func TestSystemResolverLiteral(t *testing.T) {
	r := NewSystem()

	got, err := r.LookupIPv4(context.Background(), "10.20.30.40")
	if err != nil {
		t.Fatal(err)
	}
	if got != netip.MustParseAddr("10.20.30.40") {
		t.Fatalf("got %s", got)
	}

	for _, host := range []string{"", "::1"} {
		if _, err := r.LookupIPv4(context.Background(), host); !errors.Is(err, ErrNotFound) {
			t.Fatalf("%q: err=%v want ErrNotFound", host, err)
		}
	}
}

func startDNSServer(t *testing.T, handler dns.HandlerFunc) string {
	t.Helper()

	pc, err := net.ListenPacket("udp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}

	started := make(chan struct{})
	srv := &dns.Server{
		PacketConn:        pc,
		Handler:           handler,
		NotifyStartedFunc: func() { close(started) },
	}
	go func() { _ = srv.ActivateAndServe() }()
	<-started
	t.Cleanup(func() { _ = srv.Shutdown() })

	return pc.LocalAddr().String()
}

func zoneHandler(records map[string][]dns.RR) dns.HandlerFunc {
	return func(w dns.ResponseWriter, req *dns.Msg) {
		m := new(dns.Msg)
		m.SetReply(req)
		q := req.Question[0]
		rrs, ok := records[q.Name]
		if !ok || q.Qtype != dns.TypeA {
			m.Rcode = dns.RcodeNameError
		}
		m.Answer = append(m.Answer, rrs...)
		_ = w.WriteMsg(m)
	}
}

func aRecord(name, ip string) dns.RR {
	return &dns.A{
		Hdr: dns.RR_Header{Name: name, Rrtype: dns.TypeA, Class: dns.ClassINET, Ttl: 60},
		A:   net.ParseIP(ip),
	}
}

func TestDNSResolver(t *testing.T) {
	server := startDNSServer(t, zoneHandler(map[string][]dns.RR{
		"proxy.test.": {aRecord("proxy.test.", "192.0.2.10"), aRecord("proxy.test.", "192.0.2.11")},
		"alias.test.": {
			&dns.CNAME{Hdr: dns.RR_Header{Name: "alias.test.", Rrtype: dns.TypeCNAME, Class: dns.ClassINET, Ttl: 60}, Target: "proxy.test."},
			aRecord("proxy.test.", "192.0.2.10"),
		},
		"empty.test.": nil,
	}))

	r, err := NewDNS(server, 2*time.Second)
	if err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name    string
		host    string
		want    string
		wantErr bool
	}{
		{name: "first_answer", host: "proxy.test", want: "192.0.2.10"},
		{name: "fqdn", host: "proxy.test.", want: "192.0.2.10"},
		{name: "cname_then_a", host: "alias.test", want: "192.0.2.10"},
		{name: "literal", host: "198.51.100.7", want: "198.51.100.7"},
		{name: "nxdomain", host: "missing.test", wantErr: true},
		{name: "no_answers", host: "empty.test", wantErr: true},
		{name: "empty_name", host: "", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()

			got, err := r.LookupIPv4(ctx, tt.host)
			if tt.wantErr {
				if !errors.Is(err, ErrNotFound) {
					t.Fatalf("err=%v want ErrNotFound", err)
				}
				return
			}
			if err != nil {
				t.Fatal(err)
			}
			if got.String() != tt.want {
				t.Fatalf("got %s want %s", got, tt.want)
			}
		})
	}
}

func TestNewDNSDefaultPort(t *testing.T) {
	r, err := NewDNS("192.0.2.53", time.Second)
	if err != nil {
		t.Fatal(err)
	}
	if r.server != "192.0.2.53:53" {
		t.Fatalf("server=%q", r.server)
	}

	if _, err := NewDNS("", time.Second); err == nil {
		t.Fatal("expected error for empty server")
	}
}

type countingResolver struct {
	calls atomic.Int32
	addr  netip.Addr
	err   error
}

func (c *countingResolver) LookupIPv4(context.Context, string) (netip.Addr, error) {
	c.calls.Add(1)
	return c.addr, c.err
}

func TestCachingResolver(t *testing.T) {
	next := &countingResolver{addr: netip.MustParseAddr("192.0.2.1")}
	r := NewCache(next, 100*time.Millisecond)
	defer r.Close()

	ctx := context.Background()
	for range 3 {
		got, err := r.LookupIPv4(ctx, "cached.test")
		if err != nil {
			t.Fatal(err)
		}
		if got != next.addr {
			t.Fatalf("got %s", got)
		}
	}
	if n := next.calls.Load(); n != 1 {
		t.Fatalf("lookups=%d want 1", n)
	}

	time.Sleep(300 * time.Millisecond)
	if _, err := r.LookupIPv4(ctx, "cached.test"); err != nil {
		t.Fatal(err)
	}
	if n := next.calls.Load(); n != 2 {
		t.Fatalf("lookups=%d want 2 after expiry", n)
	}
}

func TestCachingResolverSkipsFailures(t *testing.T) {
	next := &countingResolver{err: ErrNotFound}
	r := NewCache(next, time.Minute)
	defer r.Close()

	for range 2 {
		if _, err := r.LookupIPv4(context.Background(), "missing.test"); !errors.Is(err, ErrNotFound) {
			t.Fatalf("err=%v", err)
		}
	}
	if n := next.calls.Load(); n != 2 {
		t.Fatalf("lookups=%d want 2", n)
	}
}
