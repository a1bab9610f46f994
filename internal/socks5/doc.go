// Package socks5 implements the SOCKS5 wire format used by the proxy.
//
// Frames are read one at a time with exact-length reads, so a caller never
// consumes bytes belonging to the next protocol stage. Replies and the
// client-side helpers are built on the protocol types in
// github.com/txthinking/socks5.
//
// Only what the proxy speaks is covered: username/password method
// negotiation (RFC 1929) and CONNECT requests for IPv4 and domain-name
// destinations (RFC 1928).
package socks5
