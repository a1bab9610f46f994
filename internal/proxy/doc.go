// Package proxy implements the SOCKS5 server: the accept loop, the
// per-connection negotiation state machine and the bidirectional relay.
//
// It also holds the shared connection plumbing used by the server, such as
// keepalive listeners and pooled copy buffers.
package proxy
