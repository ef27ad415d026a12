package dialer

import (
	"context"
	"errors"
	"net"
	"net/netip"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/miekg/dns"
)

// startDNSServer serves A records from records (FQDN -> IPv4) with the given
// TTL. "cname.test." answers with a CNAME only. It returns the server address
// and a query counter.
func startDNSServer(t *testing.T, records map[string]string, ttl uint32) (string, *atomic.Int32) {
	t.Helper()

	pc, err := net.ListenPacket("udp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}

	var queries atomic.Int32
	started := make(chan struct{})
	srv := &dns.Server{
		PacketConn:        pc,
		NotifyStartedFunc: func() { close(started) },
		Handler: dns.HandlerFunc(func(w dns.ResponseWriter, r *dns.Msg) {
			queries.Add(1)

			m := new(dns.Msg)
			m.SetReply(r)
			q := r.Question[0]

			switch ip, ok := records[q.Name]; {
			case q.Name == "cname.test.":
				m.Answer = append(m.Answer, &dns.CNAME{
					Hdr:    dns.RR_Header{Name: q.Name, Rrtype: dns.TypeCNAME, Class: dns.ClassINET, Ttl: ttl},
					Target: "elsewhere.test.",
				})
			case ok && q.Qtype == dns.TypeA:
				m.Answer = append(m.Answer, &dns.A{
					Hdr: dns.RR_Header{Name: q.Name, Rrtype: dns.TypeA, Class: dns.ClassINET, Ttl: ttl},
					A:   net.ParseIP(ip),
				})
			default:
				m.SetRcode(r, dns.RcodeNameError)
			}
			_ = w.WriteMsg(m)
		}),
	}

	go func() { _ = srv.ActivateAndServe() }()
	<-started
	t.Cleanup(func() { _ = srv.Shutdown() })

	return pc.LocalAddr().String(), &queries
}

func TestResolverLookupIPv4(t *testing.T) {
	records := map[string]string{
		"echo.test.":          "127.0.0.1",
		"xn--bcher-kva.test.": "127.0.0.2",
	}

	tests := []struct {
		name    string
		host    string
		want    string
		wantErr string
	}{
		{name: "a_record", host: "echo.test", want: "127.0.0.1"},
		{name: "case_and_trailing_dot", host: "Echo.Test.", want: "127.0.0.1"},
		{name: "idn", host: "bücher.test", want: "127.0.0.2"},
		{name: "nxdomain", host: "missing.test", wantErr: "NXDOMAIN"},
		{name: "cname_only", host: "cname.test", wantErr: ErrNoAddress.Error()},
	}

	addr, _ := startDNSServer(t, records, 60)
	r, err := NewResolver(addr, time.Second, time.Minute)
	if err != nil {
		t.Fatal(err)
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ip, err := r.LookupIPv4(context.Background(), tt.host)
			if tt.wantErr != "" {
				if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
					t.Fatalf("err=%v want %q", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatal(err)
			}
			if ip.String() != tt.want {
				t.Fatalf("got %s want %s", ip, tt.want)
			}
		})
	}
}

func TestResolverCache(t *testing.T) {
	tests := []struct {
		name        string
		ttl         uint32
		maxTTL      time.Duration
		wantQueries int32
	}{
		{name: "cached", ttl: 60, maxTTL: time.Minute, wantQueries: 1},
		{name: "cache_disabled", ttl: 60, maxTTL: 0, wantQueries: 2},
		{name: "zero_ttl_not_cached", ttl: 0, maxTTL: time.Minute, wantQueries: 2},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			addr, queries := startDNSServer(t, map[string]string{"echo.test.": "127.0.0.1"}, tt.ttl)
			r, err := NewResolver(addr, time.Second, tt.maxTTL)
			if err != nil {
				t.Fatal(err)
			}

			for range 2 {
				if _, err := r.LookupIPv4(context.Background(), "echo.test"); err != nil {
					t.Fatal(err)
				}
			}
			if got := queries.Load(); got != tt.wantQueries {
				t.Fatalf("queries=%d want %d", got, tt.wantQueries)
			}
		})
	}
}

func TestResolverDefaultPort(t *testing.T) {
	r, err := NewResolver("192.0.2.53", time.Second, 0)
	if err != nil {
		t.Fatal(err)
	}
	if r.server != "192.0.2.53:53" {
		t.Fatalf("server=%q", r.server)
	}

	if _, err := NewResolver("", time.Second, 0); err == nil {
		t.Fatal("expected error for empty server")
	}
}

func TestResolverContextCancel(t *testing.T) {
	// Nothing answers on this socket.
	pc, err := net.ListenPacket("udp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	defer pc.Close()

	r, err := NewResolver(pc.LocalAddr().String(), 5*time.Second, 0)
	if err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	start := time.Now()
	_, err = r.LookupIPv4(ctx, "echo.test")
	if err == nil {
		t.Fatal("expected error")
	}
	if time.Since(start) > 2*time.Second {
		t.Fatalf("lookup ignored context: took %s", time.Since(start))
	}
	var ne net.Error
	if !errors.As(err, &ne) && !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("unexpected error type: %v", err)
	}
}

func TestResolverSharedLookupSurvivesCancel(t *testing.T) {
	pc, err := net.ListenPacket("udp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}

	var queries atomic.Int32
	release := make(chan struct{})
	started := make(chan struct{})
	srv := &dns.Server{
		PacketConn:        pc,
		NotifyStartedFunc: func() { close(started) },
		Handler: dns.HandlerFunc(func(w dns.ResponseWriter, r *dns.Msg) {
			queries.Add(1)
			<-release

			m := new(dns.Msg)
			m.SetReply(r)
			m.Answer = append(m.Answer, &dns.A{
				Hdr: dns.RR_Header{Name: r.Question[0].Name, Rrtype: dns.TypeA, Class: dns.ClassINET, Ttl: 60},
				A:   net.ParseIP("192.0.2.7").To4(),
			})
			_ = w.WriteMsg(m)
		}),
	}
	go func() { _ = srv.ActivateAndServe() }()
	<-started

	var releaseOnce sync.Once
	unblock := func() { releaseOnce.Do(func() { close(release) }) }
	t.Cleanup(func() {
		unblock()
		_ = srv.Shutdown()
	})

	r, err := NewResolver(pc.LocalAddr().String(), 5*time.Second, time.Minute)
	if err != nil {
		t.Fatal(err)
	}

	firstCtx, cancelFirst := context.WithCancel(context.Background())
	firstErr := make(chan error, 1)
	go func() {
		_, err := r.LookupIPv4(firstCtx, "slow.test")
		firstErr <- err
	}()

	deadline := time.Now().Add(2 * time.Second)
	for queries.Load() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("query never reached the server")
		}
		time.Sleep(5 * time.Millisecond)
	}

	type result struct {
		addr netip.Addr
		err  error
	}
	second := make(chan result, 1)
	go func() {
		addr, err := r.LookupIPv4(context.Background(), "slow.test")
		second <- result{addr, err}
	}()

	// Give the second caller time to join the in-flight query.
	time.Sleep(50 * time.Millisecond)
	cancelFirst()

	select {
	case err := <-firstErr:
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("first lookup: got %v want context.Canceled", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("cancelled lookup did not return")
	}

	unblock()

	select {
	case res := <-second:
		if res.err != nil {
			t.Fatalf("second lookup: %v", res.err)
		}
		if res.addr != netip.MustParseAddr("192.0.2.7") {
			t.Fatalf("got %v", res.addr)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("second lookup did not return")
	}

	if n := queries.Load(); n != 1 {
		t.Fatalf("server saw %d queries, want 1", n)
	}
}
