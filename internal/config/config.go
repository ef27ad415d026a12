// Package config loads the proxy's INI configuration file.
//
// The file holds a single [server] section:
//
//	[server]
//	bind_address = 127.0.0.1
//	bind_port = 1080
//	log_level = info
//	upstream = direct://
//	negotiation_timeout = 10s
//
// Keys that are absent keep their defaults. Command-line flags are applied
// on top by the caller.
package config

import (
	"fmt"
	"net"
	"strconv"
	"time"

	"gopkg.in/ini.v1"
)

// Server holds the [server] section.
type Server struct {
	BindAddress string `ini:"bind_address"`
	BindPort    int    `ini:"bind_port"`

	LogLevel  string `ini:"log_level"`
	LogFile   string `ini:"log_file"`
	LogFormat string `ini:"log_format"`

	Upstream  string        `ini:"upstream"`
	DNSServer string        `ini:"dns_server"`
	DNSMaxTTL time.Duration `ini:"dns_max_ttl"`

	DialTimeout        time.Duration `ini:"dial_timeout"`
	NegotiationTimeout time.Duration `ini:"negotiation_timeout"`
	TCPKeepAlive       string        `ini:"tcp_keepalive"`

	ReusePort      bool `ini:"reuse_port"`
	ProxyProtocol  bool `ini:"proxy_protocol"`
	FailureReplies bool `ini:"failure_replies"`
	BufferSize     int  `ini:"buffer_size"`
}

// File is the whole configuration file.
type File struct {
	Server Server `ini:"server"`
}

// Default returns the configuration used when no file is given.
func Default() File {
	return File{
		Server: Server{
			BindAddress:        "127.0.0.1",
			BindPort:           1080,
			LogLevel:           "info",
			LogFormat:          "console",
			Upstream:           "direct://",
			DNSMaxTTL:          5 * time.Minute,
			DialTimeout:        10 * time.Second,
			NegotiationTimeout: 10 * time.Second,
			TCPKeepAlive:       "on",
			BufferSize:         32 * 1024,
		},
	}
}

// Load reads the INI file at path over base and validates the result.
func Load(path string, base File) (File, error) {
	f := base

	src, err := ini.Load(path)
	if err != nil {
		return File{}, fmt.Errorf("load config %s: %w", path, err)
	}
	if err := src.StrictMapTo(&f); err != nil {
		return File{}, fmt.Errorf("parse config %s: %w", path, err)
	}
	if err := f.Server.applyExplicit(src.Section("server")); err != nil {
		return File{}, fmt.Errorf("parse config %s: %w", path, err)
	}
	if err := f.Server.Validate(); err != nil {
		return File{}, fmt.Errorf("config %s: %w", path, err)
	}
	return f, nil
}

// applyExplicit copies keys that MapTo skips when their value is empty or a
// non-positive duration, so a value present in the file always wins.
func (s *Server) applyExplicit(sec *ini.Section) error {
	strs := map[string]*string{
		"bind_address":  &s.BindAddress,
		"log_level":     &s.LogLevel,
		"log_file":      &s.LogFile,
		"log_format":    &s.LogFormat,
		"upstream":      &s.Upstream,
		"dns_server":    &s.DNSServer,
		"tcp_keepalive": &s.TCPKeepAlive,
	}
	for name, dst := range strs {
		if sec.HasKey(name) {
			*dst = sec.Key(name).String()
		}
	}

	durs := map[string]*time.Duration{
		"dns_max_ttl":         &s.DNSMaxTTL,
		"dial_timeout":        &s.DialTimeout,
		"negotiation_timeout": &s.NegotiationTimeout,
	}
	for name, dst := range durs {
		if !sec.HasKey(name) {
			continue
		}
		d, err := sec.Key(name).Duration()
		if err != nil {
			return fmt.Errorf("%s: %w", name, err)
		}
		*dst = d
	}
	return nil
}

// Validate reports the first out-of-range value in s.
func (s Server) Validate() error {
	switch {
	case s.BindPort < 0 || s.BindPort > 65535:
		return fmt.Errorf("bind_port %d out of range", s.BindPort)
	case s.Upstream == "":
		return fmt.Errorf("upstream must not be empty")
	case s.DialTimeout <= 0:
		return fmt.Errorf("dial_timeout must be positive")
	case s.NegotiationTimeout <= 0:
		return fmt.Errorf("negotiation_timeout must be positive")
	case s.DNSMaxTTL < 0:
		return fmt.Errorf("dns_max_ttl must not be negative")
	case s.BufferSize <= 0:
		return fmt.Errorf("buffer_size must be positive")
	}
	return nil
}

// ListenAddr returns bind_address:bind_port.
func (s Server) ListenAddr() string {
	return net.JoinHostPort(s.BindAddress, strconv.Itoa(s.BindPort))
}

// SetListenAddr splits addr into BindAddress and BindPort.
func (s *Server) SetListenAddr(addr string) error {
	host, port, err := net.SplitHostPort(addr)
	if err != nil {
		return fmt.Errorf("listen address %q: %w", addr, err)
	}
	p, err := strconv.ParseUint(port, 10, 16)
	if err != nil {
		return fmt.Errorf("listen address %q: bad port", addr)
	}
	s.BindAddress = host
	s.BindPort = int(p)
	return nil
}
