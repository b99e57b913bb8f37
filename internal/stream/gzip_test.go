package stream

import (
	"bytes"
	"testing"

	"github.com/klauspost/compress/gzip"
)

func TestGzipEncodeDecode(t *testing.T) {
	payload := bytes.Repeat([]byte("compress me "), 400)
	encoded, err := GzipEncode(payload, gzip.DefaultCompression)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if len(encoded) >= len(payload) {
		t.Fatalf("encoded %d bytes >= raw %d", len(encoded), len(payload))
	}

	s, _ := newTestStream(t, string(encoded))
	g := NewCompressed(NewChunked(s, 0, false), true)
	got, err := ReadToEndUntil(g, -1, nil)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !bytes.Equal(got, payload) {
		t.Fatalf("round trip mismatch: %d bytes vs %d", len(got), len(payload))
	}
}

func TestGzipOverChunked(t *testing.T) {
	payload := bytes.Repeat([]byte("chunk and zip "), 300)
	encoded, err := GzipEncode(payload, gzip.BestSpeed)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}

	ws, fc := newTestStream(t, "")
	w := NewChunked(ws, 128, true)
	if err := WriteAllUntil(w, encoded, nil); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := w.End(); err != nil {
		t.Fatalf("end: %v", err)
	}

	rs, _ := newTestStream(t, fc.w.String())
	g := NewCompressed(NewChunked(rs, 0, true), true)
	got, err := ReadToEndUntil(g, -1, nil)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !bytes.Equal(got, payload) {
		t.Fatalf("round trip mismatch: %d bytes vs %d", len(got), len(payload))
	}
}

func TestGzipPassthrough(t *testing.T) {
	s, fc := newTestStream(t, "plain in")
	g := NewCompressed(NewChunked(s, 0, false), false)
	buf := make([]byte, 8)
	n, err := g.Read(buf)
	if err != nil || string(buf[:n]) != "plain in" {
		t.Fatalf("read n=%d err=%v data=%q", n, err, string(buf[:n]))
	}
	if _, err := g.Write([]byte("plain out")); err != nil {
		t.Fatalf("write: %v", err)
	}
	if fc.w.String() != "plain out" {
		t.Fatalf("wire=%q", fc.w.String())
	}
}

func TestGzipBadHeader(t *testing.T) {
	s, _ := newTestStream(t, "this is not gzip at all")
	g := NewCompressed(NewChunked(s, 0, false), true)
	if _, err := g.Read(make([]byte, 16)); err == nil {
		t.Fatal("expected error on bad gzip header")
	}
}
