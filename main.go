package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	_ "net/http/pprof" //nolint:gosec // Intentionally exposed on debug port.
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/pflag"
	"golang.org/x/sync/errgroup"

	"github.com/die-net/simple-proxy/internal/config"
	"github.com/die-net/simple-proxy/internal/dialer"
	"github.com/die-net/simple-proxy/internal/logging"
	"github.com/die-net/simple-proxy/internal/proxy"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run() error {
	defaults := config.Default()
	defaults.Server.Upstream = defaultUpstream()
	def := defaults.Server

	var (
		configPath = pflag.StringP("config", "c", "", "Path to an INI config file with a [server] section. Flags given on the command line override it.")
		_          = pflag.String("listen", def.ListenAddr(), "SOCKS5 listen address")
		_          = pflag.String("upstream", def.Upstream, "Upstream forwarding target URL: direct:// | socks5://[user:pass@]host[:port]")

		_ = pflag.String("dns-server", def.DNSServer, "DNS server (host[:port]) for resolving target domains. Empty uses the system resolver.")
		_ = pflag.Duration("dns-max-ttl", def.DNSMaxTTL, "Upper bound on how long a DNS answer is cached")
		_ = pflag.Duration("dial-timeout", def.DialTimeout, "Timeout for outbound DNS lookup and TCP connect")
		_ = pflag.Duration("negotiation-timeout", def.NegotiationTimeout, "Timeout for the SOCKS5 handshake on each side")
		_ = pflag.String("tcp-keepalive", def.TCPKeepAlive, "TCP keepalive: on|off|keepidle:keepintvl:keepcnt")
		_ = pflag.Bool("reuse-port", def.ReusePort, "Set SO_REUSEPORT on the listener")
		_ = pflag.Bool("proxy-protocol", def.ProxyProtocol, "Expect a PROXY protocol header on accepted connections")
		_ = pflag.Bool("failure-replies", def.FailureReplies, "Send a SOCKS5 failure reply before closing a rejected or undialable request")
		_ = pflag.Int("buffer-size", def.BufferSize, "Relay buffer size in bytes, per direction")

		_ = pflag.String("log-level", def.LogLevel, "Log level: trace|debug|info|warn|error")
		_ = pflag.String("log-file", def.LogFile, "Also append JSON logs to this file")
		_ = pflag.String("log-format", def.LogFormat, "Log format on stdout: console|json")

		debugListen = pflag.String("debug-listen", "", "Debug HTTP listen address exposing /debug/pprof (e.g. 127.0.0.1:6060). Empty disables.")
		verbose     = pflag.Bool("verbose", false, "Shorthand for --log-level=debug")
	)

	pflag.CommandLine.SortFlags = false
	pflag.Parse()

	file := defaults
	if *configPath != "" {
		var err error
		if file, err = config.Load(*configPath, defaults); err != nil {
			return err
		}
	}
	srvCfg := file.Server
	if err := applyFlags(&srvCfg, pflag.CommandLine); err != nil {
		return err
	}
	if *verbose {
		srvCfg.LogLevel = zerolog.LevelDebugValue
	}
	if err := srvCfg.Validate(); err != nil {
		return err
	}

	logger, logCloser, err := logging.New(logging.Options{
		Level:  srvCfg.LogLevel,
		Format: srvCfg.LogFormat,
		File:   srvCfg.LogFile,
	})
	if err != nil {
		return err
	}
	defer logCloser.Close()

	ka, err := parseTCPKeepAlive(srvCfg.TCPKeepAlive)
	if err != nil {
		return fmt.Errorf("invalid --tcp-keepalive: %w", err)
	}

	cfg := proxy.Config{
		NegotiationTimeout: srvCfg.NegotiationTimeout,
		FailureReplies:     srvCfg.FailureReplies,
		BufferSize:         srvCfg.BufferSize,
		Logger:             logger,
	}

	dialCfg := dialer.Config{
		DialTimeout:        srvCfg.DialTimeout,
		NegotiationTimeout: cfg.NegotiationTimeout,
		KeepAlive:          ka,
		DNSServer:          srvCfg.DNSServer,
		DNSMaxTTL:          srvCfg.DNSMaxTTL,
	}

	cfg.Dialer, err = dialer.New(dialCfg, srvCfg.Upstream)
	if err != nil {
		return fmt.Errorf("invalid --upstream: %w", err)
	}

	g, ctx := errgroup.WithContext(context.Background())

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	if *debugListen != "" {
		debugSrv := &http.Server{Handler: http.DefaultServeMux} //nolint:gosec // Not concerned about timeouts on debug port.
		debugLn, err := proxy.ListenTCP(ctx, "tcp", *debugListen, proxy.ListenOptions{KeepAlive: ka})
		if err != nil {
			return fmt.Errorf("debug listen: %w", err)
		}
		context.AfterFunc(ctx, func() {
			_ = debugSrv.Close()
			_ = debugLn.Close()
		})

		g.Go(func() error {
			if err := debugSrv.Serve(debugLn); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("debug serve: %w", err)
			}
			return nil
		})
		logger.Info().Str("addr", *debugListen).Msg("debug listening")
	}

	listenAddr := srvCfg.ListenAddr()
	ln, err := proxy.ListenTCP(ctx, "tcp", listenAddr, proxy.ListenOptions{
		KeepAlive:     ka,
		ReusePort:     srvCfg.ReusePort,
		ProxyProtocol: srvCfg.ProxyProtocol,
	})
	if err != nil {
		return fmt.Errorf("socks5 listen: %w", err)
	}
	s5 := proxy.NewSOCKS5Server(ctx, cfg)
	context.AfterFunc(ctx, func() {
		_ = ln.Close()
	})

	g.Go(func() error {
		err := s5.Serve(ln)
		if ctx.Err() != nil && errors.Is(err, net.ErrClosed) {
			err = nil
		}
		s5.Wait()
		if err != nil {
			return fmt.Errorf("socks5 serve: %w", err)
		}
		return nil
	})

	logger.Info().
		Str("addr", listenAddr).
		Str("upstream", srvCfg.Upstream).
		Msg("socks5 proxy listening")

	err = g.Wait()

	logger.Info().Msg("shutting down")
	return err
}

// applyFlags copies every flag set on the command line into s.
func applyFlags(s *config.Server, fs *pflag.FlagSet) error {
	var err error
	fs.Visit(func(f *pflag.Flag) {
		if err != nil {
			return
		}
		switch f.Name {
		case "listen":
			err = s.SetListenAddr(f.Value.String())
		case "upstream":
			s.Upstream = f.Value.String()
		case "dns-server":
			s.DNSServer = f.Value.String()
		case "dns-max-ttl":
			s.DNSMaxTTL, err = fs.GetDuration(f.Name)
		case "dial-timeout":
			s.DialTimeout, err = fs.GetDuration(f.Name)
		case "negotiation-timeout":
			s.NegotiationTimeout, err = fs.GetDuration(f.Name)
		case "tcp-keepalive":
			s.TCPKeepAlive = f.Value.String()
		case "reuse-port":
			s.ReusePort, err = fs.GetBool(f.Name)
		case "proxy-protocol":
			s.ProxyProtocol, err = fs.GetBool(f.Name)
		case "failure-replies":
			s.FailureReplies, err = fs.GetBool(f.Name)
		case "buffer-size":
			s.BufferSize, err = fs.GetInt(f.Name)
		case "log-level":
			s.LogLevel = f.Value.String()
		case "log-file":
			s.LogFile = f.Value.String()
		case "log-format":
			s.LogFormat = f.Value.String()
		}
		if err != nil {
			err = fmt.Errorf("--%s: %w", f.Name, err)
		}
	})
	return err
}

func parseTCPKeepAlive(s string) (net.KeepAliveConfig, error) {
	s = strings.TrimSpace(strings.ToLower(s))
	if s == "" {
		return net.KeepAliveConfig{}, errors.New("empty")
	}
	if s == "on" {
		return net.KeepAliveConfig{Enable: true}, nil
	}
	if s == "off" {
		return net.KeepAliveConfig{Enable: false}, nil
	}

	parts := strings.Split(s, ":")
	if len(parts) != 3 {
		return net.KeepAliveConfig{}, errors.New("expected on|off|keepidle:keepintvl:keepcnt")
	}
	keepIdle, err := parsePositiveSeconds(parts[0])
	if err != nil {
		return net.KeepAliveConfig{}, fmt.Errorf("keepidle: %w", err)
	}
	keepIntvl, err := parsePositiveSeconds(parts[1])
	if err != nil {
		return net.KeepAliveConfig{}, fmt.Errorf("keepintvl: %w", err)
	}
	keepCnt, err := parsePositiveInt(parts[2])
	if err != nil {
		return net.KeepAliveConfig{}, fmt.Errorf("keepcnt: %w", err)
	}

	return net.KeepAliveConfig{
		Enable:   true,
		Idle:     keepIdle,
		Interval: keepIntvl,
		Count:    keepCnt,
	}, nil
}

func parsePositiveSeconds(s string) (time.Duration, error) {
	n, err := parsePositiveInt(s)
	if err != nil {
		return 0, err
	}
	return time.Duration(n) * time.Second, nil
}

func parsePositiveInt(s string) (int, error) {
	n, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil {
		return 0, err
	}
	if n <= 0 {
		return 0, errors.New("must be > 0")
	}
	return n, nil
}

func defaultUpstream() string {
	if p := os.Getenv("ALL_PROXY"); p != "" {
		return p
	}

	if p := os.Getenv("all_proxy"); p != "" {
		return p
	}

	return "direct://"
}
