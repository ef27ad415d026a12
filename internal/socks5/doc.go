// Package socks5 implements the SOCKS5 handshake used by simple-proxy.
//
// The server side decodes method negotiation and CONNECT requests field by
// field with explicit bounds, so truncated input surfaces as a
// MalformedMessage error instead of a short slice. Every failure is an *Error
// carrying a Kind.
//
// Wire constants and reply encoding come from github.com/txthinking/socks5.
// The client side is used to chain through an upstream SOCKS5 server.
//
// Only the no-authentication method, the CONNECT command and IPv4/domain
// destinations are served.
package socks5
