package stream

import (
	"fmt"
	"io"
	"net"
	"strconv"
	"strings"
)

// Chunk size lines carry at most this many bytes of hex digits plus
// extension text.
const maxChunkLine = 128

// Reads pull at most this much of a large chunk into memory at once.
const maxChunkBuf = 64 * 1024

type chunkedMode int

const (
	chunkNone chunkedMode = iota
	chunkRead
	chunkWrite
)

// Chunked applies HTTP/1.1 chunked transfer-encoding over a Stream, or
// passes bytes straight through when chunking is not negotiated. It
// exclusively borrows the Stream for the duration of one body.
type Chunked struct {
	mode chunkedMode
	s    *Stream

	// reader state
	buf       []byte
	consumed  int
	remaining int
	eof       bool

	// writer state
	wbuf []byte
	size int
}

// NewChunked selects the direction from the arguments the way the body
// owner does: a configured chunk size means this side writes the body,
// otherwise it reads. With chunked false the layer is a pass-through.
func NewChunked(s *Stream, chunkSize int, chunked bool) *Chunked {
	if !chunked {
		return &Chunked{mode: chunkNone, s: s}
	}
	if chunkSize > 0 {
		return &Chunked{mode: chunkWrite, s: s, size: chunkSize}
	}
	return &Chunked{mode: chunkRead, s: s}
}

func (c *Chunked) Read(p []byte) (int, error) {
	switch c.mode {
	case chunkNone:
		return c.s.Read(p)
	case chunkWrite:
		return 0, nil // never called
	}
	if c.consumed == len(c.buf) && !(c.remaining == 0 && c.eof) {
		if c.remaining == 0 {
			size, err := c.readChunkSize()
			if err != nil {
				return 0, err
			}
			if size == 0 {
				c.eof = true
			}
			c.remaining = size
		}
		n := c.remaining
		if n > maxChunkBuf {
			n = maxChunkBuf
		}
		c.buf = make([]byte, n)
		if err := c.s.ReadExact(c.buf); err != nil {
			return 0, err
		}
		c.consumed = 0
		c.remaining -= len(c.buf)
		if c.remaining == 0 {
			ok, err := c.readLineEnding()
			if err != nil {
				return 0, err
			}
			if !ok {
				// Declared size did not match the byte run.
				c.buf = nil
				c.eof = true
				return 0, ErrChunk
			}
		}
	}
	if c.consumed == len(c.buf) {
		return 0, io.EOF
	}
	n := copy(p, c.buf[c.consumed:])
	c.consumed += n
	return n, nil
}

func (c *Chunked) readChunkSize() (int, error) {
	line, err := c.s.ReadLine(maxChunkLine)
	if err != nil {
		return 0, err
	}
	if len(line) == 0 {
		return 0, io.ErrUnexpectedEOF
	}
	text := string(line)
	if i := strings.IndexByte(text, ';'); i >= 0 {
		text = text[:i]
	}
	size, err := strconv.ParseInt(strings.TrimSpace(text), 16, 64)
	if err != nil || size < 0 {
		return 0, ErrChunk
	}
	return int(size), nil
}

// readLineEnding consumes the CRLF that must terminate a chunk's byte
// run, tolerating a bare LF.
func (c *Chunked) readLineEnding() (bool, error) {
	var b [1]byte
	if err := c.s.ReadExact(b[:]); err != nil {
		return false, err
	}
	if b[0] == '\r' {
		if err := c.s.ReadExact(b[:]); err != nil {
			return false, err
		}
	}
	return b[0] == '\n', nil
}

func (c *Chunked) Write(p []byte) (int, error) {
	switch c.mode {
	case chunkNone:
		return c.s.Write(p)
	case chunkRead:
		return 0, nil // never called
	}
	c.wbuf = append(c.wbuf, p...)
	for len(c.wbuf) >= c.size {
		if err := c.writeFrame(c.wbuf[:c.size]); err != nil {
			return 0, err
		}
		rest := make([]byte, len(c.wbuf)-c.size)
		copy(rest, c.wbuf[c.size:])
		c.wbuf = rest
	}
	return len(p), nil
}

// Flush emits any buffered remainder as a final undersized frame. The
// terminating zero frame is the caller's to write, via End.
func (c *Chunked) Flush() error {
	if c.mode != chunkWrite || len(c.wbuf) == 0 {
		return c.s.Flush()
	}
	if err := c.writeFrame(c.wbuf); err != nil {
		return err
	}
	c.wbuf = c.wbuf[:0]
	return c.s.Flush()
}

// End writes the zero-size chunk that terminates a chunked body.
func (c *Chunked) End() error {
	if c.mode != chunkWrite {
		return nil
	}
	_, err := io.WriteString(c.s, "0\r\n\r\n")
	return err
}

func (c *Chunked) writeFrame(data []byte) error {
	if _, err := fmt.Fprintf(c.s, "%x\r\n", len(data)); err != nil {
		return err
	}
	if _, err := c.s.Write(data); err != nil {
		return err
	}
	_, err := io.WriteString(c.s, "\r\n")
	return err
}

// Raw reaches through to the socket for the deadline governor.
func (c *Chunked) Raw() net.Conn { return c.s.Raw() }

// EndChunked writes the terminating zero frame under the deadline
// governor.
func EndChunked(c *Chunked, d *Deadline) error {
	if err := d.BeforeWrite(c.Raw()); err != nil {
		return err
	}
	return c.End()
}
