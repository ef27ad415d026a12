// Package dialer provides the outbound dialers used by simple-proxy.
//
// Dialers implement a small interface (DialContext) and are used by the SOCKS5
// server to reach CONNECT targets either directly, optionally resolving names
// through a dedicated DNS server, or by chaining through an upstream SOCKS5
// proxy.
package dialer
