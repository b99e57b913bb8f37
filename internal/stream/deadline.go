package stream

import (
	"errors"
	"fmt"
	"io"
	"net"
	"syscall"
	"time"
)

// refreshEvery bounds how often the OS socket timeout is re-armed.
const refreshEvery = 250 * time.Millisecond

// Deadline pairs an absolute expiry with the instant the socket
// timeout was last pushed down. A nil *Deadline means unbounded
// blocking I/O. Before each governed call, once refreshEvery has
// elapsed since the last refresh, the deadline first checks expiry
// (failing with ErrTimeout) and then re-arms the socket timeout.
type Deadline struct {
	line  time.Time
	reset time.Time
}

// NewDeadline anchors a deadline at now + d.
func NewDeadline(d time.Duration) *Deadline {
	now := time.Now()
	return &Deadline{line: now.Add(d), reset: now}
}

// Attach arms the socket timeout immediately so even the first call on
// a fresh connection is bounded.
func (d *Deadline) Attach(c net.Conn) error {
	if d == nil || c == nil {
		return nil
	}
	d.reset = time.Now()
	return c.SetDeadline(d.line)
}

// Remaining reports the time left until expiry.
func (d *Deadline) Remaining() time.Duration {
	if d == nil {
		return 0
	}
	return time.Until(d.line)
}

// Expiry returns the absolute expiry instant.
func (d *Deadline) Expiry() time.Time {
	if d == nil {
		return time.Time{}
	}
	return d.line
}

// BeforeRead enforces the refresh invariant ahead of a blocking read.
func (d *Deadline) BeforeRead(c net.Conn) error {
	return d.refresh(c, true)
}

// BeforeWrite enforces the refresh invariant ahead of a blocking write.
func (d *Deadline) BeforeWrite(c net.Conn) error {
	return d.refresh(c, false)
}

func (d *Deadline) refresh(c net.Conn, read bool) error {
	if d == nil || c == nil {
		return nil
	}
	if time.Since(d.reset) < refreshEvery {
		return nil
	}
	now := time.Now()
	if !d.line.After(now) {
		return ErrTimeout
	}
	var err error
	if read {
		err = c.SetReadDeadline(d.line)
	} else {
		err = c.SetWriteDeadline(d.line)
	}
	if err != nil {
		return err
	}
	d.reset = now
	return nil
}

// Layer is one link of the codec chain: a readable and writable byte
// transform that can reach the raw socket beneath it.
type Layer interface {
	io.ReadWriter
	Flush() error
	Raw() net.Conn
}

func writeUntil(l Layer, p []byte, d *Deadline) (int, error) {
	if err := d.BeforeWrite(l.Raw()); err != nil {
		return 0, err
	}
	n, err := l.Write(p)
	if err != nil {
		return n, wrapIO(err)
	}
	return n, nil
}

// WriteAllUntil pushes all of p through the layer under the deadline
// governor and flushes.
func WriteAllUntil(l Layer, p []byte, d *Deadline) error {
	for len(p) > 0 {
		n, err := writeUntil(l, p, d)
		if err != nil {
			return err
		}
		if n == 0 {
			return io.ErrUnexpectedEOF
		}
		p = p[n:]
	}
	if err := l.Flush(); err != nil {
		return wrapIO(err)
	}
	return nil
}

// ReadUntil performs one governed read. A graceful end of stream (EOF,
// connection reset, secure-transport close-notify) is absorbed rather
// than reported as an error; the caller sees it as a zero-byte read.
func ReadUntil(l Layer, p []byte, d *Deadline) (int, error) {
	if err := d.BeforeRead(l.Raw()); err != nil {
		return 0, err
	}
	n, err := l.Read(p)
	if err != nil {
		if isPeerClose(err) {
			return n, nil
		}
		return n, wrapIO(err)
	}
	return n, nil
}

// ReadToEndUntil drains the layer into a byte slice with reads of at
// most 1KB. A non-negative contentLength is an exact byte budget;
// otherwise reading stops at the first zero-byte read.
func ReadToEndUntil(l Layer, contentLength int, d *Deadline) ([]byte, error) {
	buf := make([]byte, 1024)
	var body []byte
	for {
		limit := len(buf)
		if contentLength >= 0 {
			if rest := contentLength - len(body); rest < limit {
				limit = rest
			}
			if limit == 0 {
				break
			}
		}
		n, err := ReadUntil(l, buf[:limit], d)
		if err != nil {
			return body, err
		}
		body = append(body, buf[:n]...)
		if contentLength >= 0 && len(body) == contentLength {
			break
		}
		if n == 0 {
			break
		}
	}
	return body, nil
}

func isPeerClose(err error) bool {
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		return true
	}
	if errors.Is(err, net.ErrClosed) || errors.Is(err, syscall.ECONNRESET) {
		return true
	}
	return false
}

func wrapIO(err error) error {
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return fmt.Errorf("%w: %v", ErrTimeout, err)
	}
	return err
}
