// Package slimweb is a small HTTP/1.1 client and server built directly
// on TCP and TLS connections. One connection serves one exchange; the
// client follows redirects, the server runs a goroutine per accepted
// connection. Chunked transfer-encoding and gzip content-encoding are
// handled in both directions, and all blocking I/O can be bounded by a
// single absolute deadline.
package slimweb
