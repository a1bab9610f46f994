// Package dialer opens the outbound side of a tunnel.
//
// Domain-name destinations are resolved to a single IPv4 address with one
// forward lookup before connecting; lookup failures are reported as a
// *ResolveError so the proxy can answer "host unreachable".
package dialer
