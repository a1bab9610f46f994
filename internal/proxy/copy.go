package proxy

import (
	"context"
	"errors"
	"net"
	"sync"

	"golang.org/x/sync/errgroup"
)

// CopyBidirectional relays bytes between left and right until either
// direction finishes, then closes both. Canceling ctx also closes both.
//
// It returns the bytes copied from left to right (sent) and from right to
// left (received). Errors caused by the teardown itself are not reported.
func CopyBidirectional(ctx context.Context, left, right net.Conn, pool *BufferPool) (sent, received int64, err error) {
	var closeOnce sync.Once
	closeBoth := func() {
		closeOnce.Do(func() {
			_ = left.Close()
			_ = right.Close()
		})
	}
	defer closeBoth()

	// If the context is canceled, close both sides to unblock Copy.
	stop := context.AfterFunc(ctx, closeBoth)
	defer stop()

	var g errgroup.Group

	g.Go(func() error {
		defer closeBoth()
		n, err := pool.Copy(right, left)
		sent = n
		return err
	})

	g.Go(func() error {
		defer closeBoth()
		n, err := pool.Copy(left, right)
		received = n
		return err
	})

	err = g.Wait()
	if errors.Is(err, net.ErrClosed) {
		err = nil
	}

	return sent, received, err
}
