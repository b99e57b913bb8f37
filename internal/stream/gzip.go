package stream

import (
	"bytes"
	"net"

	"github.com/klauspost/compress/gzip"
)

// Compressed sits atop a Chunked layer and inflates gzip bodies on the
// read side. Outgoing bodies are encoded up front with GzipEncode so
// their length is known before the head is written, which leaves the
// write side of this layer a pass-through.
type Compressed struct {
	c      *Chunked
	decode bool
	zr     *gzip.Reader
}

// NewCompressed wraps c. With decode false every call passes straight
// through.
func NewCompressed(c *Chunked, decode bool) *Compressed {
	return &Compressed{c: c, decode: decode}
}

func (g *Compressed) Read(p []byte) (int, error) {
	if !g.decode {
		return g.c.Read(p)
	}
	if g.zr == nil {
		zr, err := gzip.NewReader(g.c)
		if err != nil {
			return 0, err
		}
		// One member per body; without this the decoder would block
		// probing the transport for a second gzip stream.
		zr.Multistream(false)
		g.zr = zr
	}
	return g.zr.Read(p)
}

func (g *Compressed) Write(p []byte) (int, error) { return g.c.Write(p) }

func (g *Compressed) Flush() error { return g.c.Flush() }

func (g *Compressed) Raw() net.Conn { return g.c.Raw() }

// GzipEncode compresses a whole body at the given level.
func GzipEncode(p []byte, level int) ([]byte, error) {
	var buf bytes.Buffer
	zw, err := gzip.NewWriterLevel(&buf, level)
	if err != nil {
		return nil, err
	}
	if _, err := zw.Write(p); err != nil {
		return nil, err
	}
	if err := zw.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
