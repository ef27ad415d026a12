package dialer

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/netip"
	"strings"
	"time"

	"github.com/miekg/dns"
	"github.com/patrickmn/go-cache"
	"golang.org/x/net/idna"
	"golang.org/x/sync/singleflight"
)

// ErrNoAddress is returned when a DNS answer holds no A record.
var ErrNoAddress = errors.New("no A record")

// Resolver looks up IPv4 addresses by sending A queries to a single DNS
// server. Answers are cached for their TTL, capped at maxTTL, and concurrent
// lookups of the same name share one query.
type Resolver struct {
	server string
	client *dns.Client
	maxTTL time.Duration
	cache  *cache.Cache
	sf     singleflight.Group
}

// NewResolver returns a Resolver querying server, a host or host:port (port
// 53 if omitted). timeout bounds each exchange; a zero maxTTL disables the
// cache.
func NewResolver(server string, timeout, maxTTL time.Duration) (*Resolver, error) {
	if server == "" {
		return nil, errors.New("resolver: missing dns server")
	}
	if _, _, err := net.SplitHostPort(server); err != nil {
		server = net.JoinHostPort(server, "53")
	}

	r := &Resolver{
		server: server,
		client: &dns.Client{Net: "udp", Timeout: timeout},
		maxTTL: maxTTL,
	}
	if maxTTL > 0 {
		r.cache = cache.New(maxTTL, 2*maxTTL)
	}
	return r, nil
}

// LookupIPv4 returns the first IPv4 address for host.
func (r *Resolver) LookupIPv4(ctx context.Context, host string) (netip.Addr, error) {
	name := strings.ToLower(strings.TrimSuffix(host, "."))
	if !isASCII(name) {
		var err error
		if name, err = idna.Lookup.ToASCII(name); err != nil {
			return netip.Addr{}, fmt.Errorf("resolve %q: %w", host, err)
		}
	}
	name = dns.Fqdn(name)

	if r.cache != nil {
		if v, ok := r.cache.Get(name); ok {
			return v.(netip.Addr), nil
		}
	}

	// The shared query outlives any one caller; the client timeout bounds it.
	ch := r.sf.DoChan(name, func() (any, error) {
		return r.query(context.WithoutCancel(ctx), name)
	})
	select {
	case res := <-ch:
		if res.Err != nil {
			return netip.Addr{}, res.Err
		}
		return res.Val.(netip.Addr), nil
	case <-ctx.Done():
		return netip.Addr{}, fmt.Errorf("resolve %s: %w", name, ctx.Err())
	}
}

func (r *Resolver) query(ctx context.Context, name string) (netip.Addr, error) {
	m := new(dns.Msg)
	m.SetQuestion(name, dns.TypeA)
	m.RecursionDesired = true

	in, _, err := r.client.ExchangeContext(ctx, m, r.server)
	if err != nil {
		return netip.Addr{}, fmt.Errorf("resolve %s: %w", name, err)
	}
	if in.Rcode != dns.RcodeSuccess {
		return netip.Addr{}, fmt.Errorf("resolve %s: %s", name, dns.RcodeToString[in.Rcode])
	}

	for _, rr := range in.Answer {
		a, ok := rr.(*dns.A)
		if !ok {
			continue
		}
		addr, ok := netip.AddrFromSlice(a.A.To4())
		if !ok {
			continue
		}

		if r.cache != nil {
			ttl := min(time.Duration(a.Hdr.Ttl)*time.Second, r.maxTTL)
			if ttl > 0 {
				r.cache.Set(name, addr, ttl)
			}
		}
		return addr, nil
	}

	return netip.Addr{}, fmt.Errorf("resolve %s: %w", name, ErrNoAddress)
}

func isASCII(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] >= 0x80 {
			return false
		}
	}
	return true
}
