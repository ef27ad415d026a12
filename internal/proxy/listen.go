package proxy

import (
	"context"
	"fmt"
	"net"
	"syscall"

	proxyproto "github.com/pires/go-proxyproto"
)

// ListenOptions configures ListenTCP.
type ListenOptions struct {
	KeepAlive net.KeepAliveConfig

	// ReusePort sets SO_REUSEPORT so several processes can share addr.
	ReusePort bool

	// ProxyProtocol expects a PROXY protocol v1 or v2 header on every
	// accepted connection, and reports its source as the RemoteAddr.
	ProxyProtocol bool
}

// ListenTCP listens on the given network/address and returns a net.Listener
// that applies opts.KeepAlive to accepted TCP connections.
func ListenTCP(ctx context.Context, network, addr string, opts ListenOptions) (net.Listener, error) {
	lc := net.ListenConfig{}
	if opts.ReusePort {
		lc.Control = func(_, _ string, c syscall.RawConn) error {
			var ctrlErr error
			err := c.Control(func(fd uintptr) {
				ctrlErr = setReusePort(fd)
			})
			if err != nil {
				return err
			}
			return ctrlErr
		}
	}

	ln, err := lc.Listen(ctx, network, addr)
	if err != nil {
		return nil, fmt.Errorf("listen %s %s: %w", network, addr, err)
	}

	ln = &KeepAliveListener{Listener: ln, KeepAliveConfig: opts.KeepAlive}
	if opts.ProxyProtocol {
		ln = &proxyproto.Listener{Listener: ln}
	}
	return ln, nil
}

// KeepAliveListener wraps a net.Listener and applies KeepAliveConfig to any
// accepted *net.TCPConn.
type KeepAliveListener struct {
	net.Listener
	net.KeepAliveConfig
}

// Accept accepts the next connection and applies KeepAliveConfig if the
// connection is a *net.TCPConn.
func (l *KeepAliveListener) Accept() (net.Conn, error) {
	conn, err := l.Listener.Accept()
	if err != nil {
		return nil, err
	}

	ApplyKeepAlive(conn, l.KeepAliveConfig)

	return conn, nil
}

// ApplyKeepAlive sets ka on c if it is a *net.TCPConn.
func ApplyKeepAlive(c net.Conn, ka net.KeepAliveConfig) {
	if tc, ok := c.(*net.TCPConn); ok {
		_ = tc.SetKeepAliveConfig(ka)
	}
}
