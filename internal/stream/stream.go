// Package stream implements the layered byte transports shared by the
// slimweb client and server: a unified plain/TLS connection, deadline
// governed reads and writes, and the chunked and gzip body codecs.
//
// Layers compose linearly: Compressed owns Chunked owns Stream. A layer
// is never shared; callers tear the stack down (flush, drop) before the
// connection is used for another exchange.
package stream

import (
	"bufio"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"net"
)

var (
	// ErrTimeout reports that a deadline elapsed before an I/O call
	// could complete. Distinguishable from ordinary I/O failures.
	ErrTimeout = errors.New("slimweb: connection timed out")

	// ErrChunk reports a malformed chunk frame: a size line that does
	// not parse, or a chunk not followed by CRLF.
	ErrChunk = errors.New("slimweb: problem decoding body chunk")

	// ErrConnection reports a failure to resolve or reach a host.
	ErrConnection = errors.New("slimweb: connection failed")
)

type kind int

const (
	kindPlain kind = iota
	kindTLSClient
	kindTLSServer
)

// Stream unifies a plain TCP connection and a TLS-wrapped one behind a
// single buffered byte stream. Reads are buffered; writes go straight
// to the socket. Raw exposes the TCP connection so the deadline
// governor can refresh OS-level timeouts regardless of TLS.
type Stream struct {
	kind kind
	tcp  net.Conn
	tls  *tls.Conn
	br   *bufio.Reader
}

// Connect resolves hostport down to a single concrete address (first
// result wins) and dials it, bounded by the deadline when one is set.
func Connect(hostport string, d *Deadline) (net.Conn, error) {
	host, port, err := net.SplitHostPort(hostport)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrConnection, err)
	}
	addrs, err := net.LookupHost(host)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrConnection, err)
	}
	if len(addrs) == 0 {
		return nil, fmt.Errorf("%w: no ip address for %s", ErrConnection, host)
	}
	target := net.JoinHostPort(addrs[0], port)
	var conn net.Conn
	if d != nil {
		conn, err = net.DialTimeout("tcp", target, d.Remaining())
	} else {
		conn, err = net.Dial("tcp", target)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrConnection, err)
	}
	return conn, nil
}

// NewPlain wraps an open connection. The deadline, when present, is
// pushed down to the socket immediately so the very first read or
// write is already bounded.
func NewPlain(conn net.Conn, d *Deadline) (*Stream, error) {
	if err := d.Attach(conn); err != nil {
		return nil, err
	}
	return &Stream{kind: kindPlain, tcp: conn, br: bufio.NewReader(conn)}, nil
}

// NewTLSClient wraps conn in a client-side TLS session and performs
// the handshake, bounded by the deadline when one is set.
func NewTLSClient(conn net.Conn, cfg *tls.Config, d *Deadline) (*Stream, error) {
	if err := d.Attach(conn); err != nil {
		return nil, err
	}
	tc := tls.Client(conn, cfg)
	if err := tc.Handshake(); err != nil {
		return nil, err
	}
	return &Stream{kind: kindTLSClient, tcp: conn, tls: tc, br: bufio.NewReader(tc)}, nil
}

// NewTLSServer wraps an accepted connection in a server-side TLS
// session. The handshake happens lazily on first read.
func NewTLSServer(conn net.Conn, cfg *tls.Config, d *Deadline) (*Stream, error) {
	if err := d.Attach(conn); err != nil {
		return nil, err
	}
	tc := tls.Server(conn, cfg)
	return &Stream{kind: kindTLSServer, tcp: conn, tls: tc, br: bufio.NewReader(tc)}, nil
}

func (s *Stream) Read(p []byte) (int, error) {
	return s.br.Read(p)
}

// ReadExact fills p entirely or fails.
func (s *Stream) ReadExact(p []byte) error {
	if _, err := io.ReadFull(s.br, p); err != nil {
		return wrapIO(err)
	}
	return nil
}

func (s *Stream) Write(p []byte) (int, error) {
	switch s.kind {
	case kindPlain:
		return s.tcp.Write(p)
	default:
		return s.tls.Write(p)
	}
}

// Flush exists to satisfy the layer contract; writes are unbuffered at
// this level.
func (s *Stream) Flush() error { return nil }

// Raw returns the underlying TCP connection for OS timeout refresh.
func (s *Stream) Raw() net.Conn { return s.tcp }

func (s *Stream) Close() error {
	switch s.kind {
	case kindPlain:
		return s.tcp.Close()
	default:
		return s.tls.Close()
	}
}

// ReadLine reads one LF-terminated line of at most max bytes, dropping
// the terminator and a preceding CR. Hitting EOF mid-line or running
// past max is an error.
func (s *Stream) ReadLine(max int) ([]byte, error) {
	var line []byte
	for {
		b, err := s.br.ReadByte()
		if err != nil {
			return nil, wrapIO(err)
		}
		if b == '\n' {
			break
		}
		if b != '\r' {
			line = append(line, b)
		}
		if max > 0 && len(line) > max {
			return nil, io.ErrShortBuffer
		}
	}
	return line, nil
}
