package slimweb

import (
	"strings"

	json "github.com/goccy/go-json"
)

type bodyKind int

const (
	bodyText bodyKind = iota
	bodyBytes
	bodyJSON
)

// Body carries a message payload along with how it was constructed, so
// a suitable Content-Type can be chosen when none is set.
type Body struct {
	kind bodyKind
	data []byte
}

// TextBody builds a body from a string.
func TextBody(s string) Body {
	return Body{kind: bodyText, data: []byte(s)}
}

// BytesBody builds a body from raw bytes.
func BytesBody(p []byte) Body {
	return Body{kind: bodyBytes, data: p}
}

// JSONBody marshals v eagerly so encoding failures surface at build
// time rather than mid-send.
func JSONBody(v any) (Body, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return Body{}, err
	}
	return Body{kind: bodyJSON, data: data}, nil
}

// Bytes returns the payload.
func (b Body) Bytes() []byte { return b.data }

// Len returns the payload size in bytes.
func (b Body) Len() int { return len(b.data) }

// Text returns the payload as a string with invalid UTF-8 replaced.
func (b Body) Text() string {
	return strings.ToValidUTF8(string(b.data), string('�'))
}

// JSON decodes the payload into v.
func (b Body) JSON(v any) error {
	return json.Unmarshal(b.data, v)
}

func (b Body) contentType() string {
	if b.kind == bodyJSON {
		return "application/json;charset=UTF-8"
	}
	return "text/plain;charset=UTF-8"
}
