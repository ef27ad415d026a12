package proxy

import (
	"context"
	"io"
	"net"
	"sync"

	"golang.org/x/sync/errgroup"
)

// CopyBidirectional copies client->target and target->client concurrently
// until both directions reach EOF. The first error in either direction, or
// cancellation of ctx, closes both connections and is returned. A direction
// that finishes cleanly does not half-close its peer.
func CopyBidirectional(ctx context.Context, client, target net.Conn, pool *bufferPool) error {
	if pool == nil {
		pool = newBufferPool(DefaultBufferSize)
	}

	g, gctx := errgroup.WithContext(ctx)

	var closeOnce sync.Once
	closeBoth := func() {
		closeOnce.Do(func() {
			_ = client.Close()
			_ = target.Close()
		})
	}
	defer closeBoth()

	// gctx is cancelled on the first error or when Wait returns.
	stop := context.AfterFunc(gctx, closeBoth)
	defer stop()

	copyHalf := func(dst io.Writer, src io.Reader) func() error {
		return func() error {
			buf := pool.Get()
			defer pool.Put(buf)
			_, err := io.CopyBuffer(dst, src, *buf)
			return err
		}
	}

	g.Go(copyHalf(target, client))
	g.Go(copyHalf(client, target))

	return g.Wait()
}
