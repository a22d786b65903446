// Package websocketfs implements a network-mounted POSIX filesystem carried
// over a WebSocket-transported, SFTPv3-derived wire protocol.
//
// The server side (pkg/sftpd, pkg/safefs) jails a local directory subtree
// behind the protocol and serves one session per accepted connection. The
// client side (pkg/sftpc, pkg/fsadapter) drives a kernel FUSE mount via
// github.com/hanwen/go-fuse/v2, translating kernel callbacks into protocol
// requests with TTL caching, write coalescing and bulk metadata prefetch.
//
// As with JDFS, the protocol is stateful: the server proxies filesystem
// operations on behalf of one client for the lifetime of one connection, and
// all server-side state is released when the connection drops. Unlike JDFS,
// transport is a WebSocket channel rather than raw TCP, so reconnection is
// the client adapter's responsibility rather than a fresh server process per
// attempt.
package websocketfs
