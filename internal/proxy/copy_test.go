package proxy

import (
	"context"
	"io"
	"net"
	"testing"
	"time"

	"github.com/die-net/socksproxy/internal/testutil"
)

// tcpPair returns both ends of a loopback TCP connection.
func tcpPair(t *testing.T) (net.Conn, net.Conn) {
	t.Helper()

	ln, err := net.Listen("tcp4", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	defer ln.Close()

	accepted := make(chan net.Conn, 1)
	go func() {
		c, _ := ln.Accept()
		accepted <- c
	}()

	client, err := net.Dial("tcp4", ln.Addr().String())
	if err != nil {
		t.Fatal(err)
	}
	server := <-accepted
	if server == nil {
		t.Fatal("accept failed")
	}

	t.Cleanup(func() {
		_ = client.Close()
		_ = server.Close()
	})
	return client, server
}

type copyResult struct {
	sent, received int64
	err            error
}

func TestCopyBidirectional(t *testing.T) {
	tests := []struct {
		name string
		pool *BufferPool
	}{
		{name: "pooled", pool: NewBufferPool(relayBufferSize)},
		{name: "nil_pool", pool: nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clientPeer, left := tcpPair(t)
			right, upstreamPeer := tcpPair(t)

			done := make(chan copyResult, 1)
			go func() {
				var r copyResult
				r.sent, r.received, r.err = CopyBidirectional(context.Background(), left, right, tt.pool)
				done <- r
			}()

			testutil.AssertEcho(t, clientPeer, upstreamPeer, []byte("request"))
			testutil.AssertEcho(t, upstreamPeer, clientPeer, []byte("response!"))

			// A clean close on one side tears down the other.
			_ = clientPeer.Close()
			testutil.AssertClosed(t, upstreamPeer, 2*time.Second)

			select {
			case r := <-done:
				if r.err != nil {
					t.Fatal(r.err)
				}
				if r.sent != 7 || r.received != 9 {
					t.Fatalf("sent=%d received=%d", r.sent, r.received)
				}
			case <-time.After(2 * time.Second):
				t.Fatal("CopyBidirectional did not return")
			}
		})
	}
}

func TestCopyBidirectionalCancel(t *testing.T) {
	clientPeer, left := tcpPair(t)
	right, upstreamPeer := tcpPair(t)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		_, _, err := CopyBidirectional(ctx, left, right, NewBufferPool(relayBufferSize))
		done <- err
	}()

	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Fatal(err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("CopyBidirectional did not return after cancel")
	}
	testutil.AssertClosed(t, clientPeer, 2*time.Second)
	testutil.AssertClosed(t, upstreamPeer, 2*time.Second)
}

func TestBufferPoolCopy(t *testing.T) {
	p := NewBufferPool(4)
	r, w := io.Pipe()
	go func() {
		_, _ = w.Write([]byte("more than four bytes"))
		_ = w.Close()
	}()

	var got []byte
	sink := writerFunc(func(b []byte) (int, error) {
		got = append(got, b...)
		return len(b), nil
	})
	n, err := p.Copy(sink, r)
	if err != nil {
		t.Fatal(err)
	}
	if n != 20 || string(got) != "more than four bytes" {
		t.Fatalf("n=%d got %q", n, got)
	}
	if b := p.Get(); len(b) != 4 {
		t.Fatalf("pooled buffer len %d", len(b))
	}
}

type writerFunc func([]byte) (int, error)

func (f writerFunc) Write(b []byte) (int, error) { return f(b) }
