// Package proxy implements the simple-proxy SOCKS5 listener and its
// per-connection sessions.
//
// It contains the accept loop, the session state machine (handshake, dial,
// reply, relay), and shared connection plumbing such as keepalive listeners
// and bidirectional copy.
package proxy
