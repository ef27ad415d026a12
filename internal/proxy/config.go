package proxy

import (
	"time"

	"github.com/rs/zerolog"

	"github.com/die-net/simple-proxy/internal/dialer"
)

type Config struct {
	// NegotiationTimeout bounds the whole SOCKS5 handshake. Zero disables it.
	NegotiationTimeout time.Duration

	// FailureReplies sends an RFC 1928 failure reply before closing a
	// session that failed after method negotiation. When false, such
	// sessions are closed without a reply.
	FailureReplies bool

	// BufferSize is the relay copy buffer size. Zero uses DefaultBufferSize.
	BufferSize int

	Dialer dialer.Dialer

	Logger zerolog.Logger
}
