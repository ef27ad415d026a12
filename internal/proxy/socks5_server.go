package proxy

import (
	"context"
	"fmt"
	"net"
	"runtime/debug"
	"sync"

	"github.com/rs/zerolog"

	"github.com/die-net/simple-proxy/internal/socks5"
)

// SOCKS5Server accepts SOCKS5 clients and serves each one in its own
// goroutine. A failing session is logged and closed; it never stops Serve or
// touches any other session.
type SOCKS5Server struct {
	ctx     context.Context
	cfg     Config
	log     zerolog.Logger
	buffers *bufferPool
	wg      sync.WaitGroup
}

// NewSOCKS5Server returns a server that dials targets with cfg.Dialer and
// logs to cfg.Logger. Cancelling ctx tears down every active relay.
func NewSOCKS5Server(ctx context.Context, cfg Config) *SOCKS5Server {
	if ctx == nil {
		ctx = context.Background()
	}
	return &SOCKS5Server{
		ctx:     ctx,
		cfg:     cfg,
		log:     cfg.Logger.With().Str("component", "socks5").Logger(),
		buffers: newBufferPool(cfg.BufferSize),
	}
}

// Serve accepts connections on ln until Accept fails, which is how closing
// ln stops it.
func (s *SOCKS5Server) Serve(ln net.Listener) error {
	for {
		c, err := ln.Accept()
		if err != nil {
			return fmt.Errorf("accept: %w", err)
		}
		s.wg.Go(func() {
			s.serveConn(c)
		})
	}
}

// Wait blocks until every session started by Serve has finished.
func (s *SOCKS5Server) Wait() {
	s.wg.Wait()
}

func (s *SOCKS5Server) serveConn(c net.Conn) {
	sess := newSession(s, c)

	defer func() {
		if r := recover(); r != nil {
			_ = c.Close()
			sess.log.Error().Interface("panic", r).Bytes("stack", debug.Stack()).Msg("session panicked")
		}
	}()

	if err := sess.run(s.ctx); err != nil {
		sess.log.Warn().
			Err(err).
			Stringer("kind", socks5.KindOf(err)).
			Stringer("state", sess.state).
			Msg("session failed")
		sess.setState(StateFailed)
		return
	}
	sess.setState(StateClosed)
}
