package dialer

import (
	"context"
	"fmt"
	"net"
	"net/netip"
)

type directDialer struct {
	cfg      Config
	dialer   net.Dialer
	resolver *Resolver
}

// NewDirectDialer returns a Dialer that connects straight to the target. If
// cfg.DNSServer is set, domain names are resolved through it.
func NewDirectDialer(cfg Config) (Dialer, error) {
	d := &directDialer{
		cfg: cfg,
		dialer: net.Dialer{
			Timeout:         cfg.DialTimeout,
			KeepAliveConfig: cfg.KeepAlive,
		},
	}

	if cfg.DNSServer != "" {
		r, err := NewResolver(cfg.DNSServer, cfg.DialTimeout, cfg.DNSMaxTTL)
		if err != nil {
			return nil, err
		}
		d.resolver = r
	}

	return d, nil
}

func (d *directDialer) DialContext(ctx context.Context, network, address string) (net.Conn, error) {
	if d.resolver != nil {
		resolved, err := d.resolve(ctx, address)
		if err != nil {
			return nil, fmt.Errorf("dial %s %s: %w", network, address, err)
		}
		address = resolved
	}

	conn, err := d.dialer.DialContext(ctx, network, address)
	if err != nil {
		return nil, fmt.Errorf("dial %s %s: %w", network, address, err)
	}

	return conn, nil
}

// resolve replaces a domain name in address with its IPv4 address.
func (d *directDialer) resolve(ctx context.Context, address string) (string, error) {
	host, port, err := net.SplitHostPort(address)
	if err != nil {
		return "", err
	}
	if _, err := netip.ParseAddr(host); err == nil {
		return address, nil
	}

	if d.cfg.DialTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.cfg.DialTimeout)
		defer cancel()
	}

	ip, err := d.resolver.LookupIPv4(ctx, host)
	if err != nil {
		return "", err
	}
	return net.JoinHostPort(ip.String(), port), nil
}
