package proxy

import (
	"bytes"
	"context"
	"net"
	"net/netip"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/die-net/simple-proxy/internal/dialer"
)

// syncBuffer collects log output written from session goroutines.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

// waitForLog polls until the log contains substr.
func (b *syncBuffer) waitForLog(t *testing.T, substr string) {
	t.Helper()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if strings.Contains(b.String(), substr) {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("log does not contain %q:\n%s", substr, b.String())
}

func testConfig(t *testing.T, logs *syncBuffer) Config {
	t.Helper()

	d, err := dialer.NewDirectDialer(dialer.Config{DialTimeout: 2 * time.Second})
	if err != nil {
		t.Fatal(err)
	}

	return Config{
		NegotiationTimeout: 2 * time.Second,
		Dialer:             d,
		Logger:             zerolog.New(logs).Level(zerolog.DebugLevel),
	}
}

// startSOCKS5Server serves cfg on a loopback listener until the test ends.
func startSOCKS5Server(t *testing.T, cfg Config) string {
	t.Helper()

	ctx, cancel := context.WithCancel(context.Background())

	ln, err := ListenTCP(ctx, "tcp", "127.0.0.1:0", ListenOptions{})
	if err != nil {
		t.Fatal(err)
	}

	srv := NewSOCKS5Server(ctx, cfg)
	go func() { _ = srv.Serve(ln) }()

	t.Cleanup(func() {
		cancel()
		_ = ln.Close()
		srv.Wait()
	})

	return ln.Addr().String()
}

func dialSOCKS5(t *testing.T, addr string) net.Conn {
	t.Helper()

	c, err := net.DialTimeout("tcp", addr, 2*time.Second)
	if err != nil {
		t.Fatal(err)
	}
	_ = c.SetDeadline(time.Now().Add(5 * time.Second))
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func connectRequestIPv4(t *testing.T, addr string) []byte {
	t.Helper()

	ap, err := netip.ParseAddrPort(addr)
	if err != nil {
		t.Fatal(err)
	}
	ip := ap.Addr().As4()
	port := ap.Port()
	return []byte{0x05, 0x01, 0x00, 0x01, ip[0], ip[1], ip[2], ip[3], byte(port >> 8), byte(port)}
}
