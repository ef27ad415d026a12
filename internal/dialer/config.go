package dialer

import (
	"net"
	"time"
)

type Config struct {
	// DialTimeout bounds DNS lookup plus TCP connect.
	DialTimeout time.Duration

	// NegotiationTimeout bounds the handshake with an upstream proxy.
	NegotiationTimeout time.Duration

	KeepAlive net.KeepAliveConfig

	// DNSServer, if set, is a host:port queried over UDP for A records
	// instead of using the system resolver.
	DNSServer string

	// DNSMaxTTL caps how long a resolved address is cached. Zero disables
	// caching.
	DNSMaxTTL time.Duration
}
