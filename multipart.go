package slimweb

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"net/textproto"
	"path/filepath"
	"strings"
)

// Part is one section of a multipart body.
type Part struct {
	Name        string
	Filename    string
	ContentType string
	Data        []byte
}

// Multipart accumulates named parts and renders them as a
// multipart/form-data body.
type Multipart struct {
	boundary string
	parts    []Part
}

// NewMultipart starts an empty multipart body with a fresh boundary.
func NewMultipart() *Multipart {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	boundary := w.Boundary()
	w.Close()
	return &Multipart{boundary: boundary}
}

// Boundary returns the boundary string in use.
func (m *Multipart) Boundary() string { return m.boundary }

// Parts returns the accumulated parts in order.
func (m *Multipart) Parts() []Part { return m.parts }

// AddText appends a plain form field.
func (m *Multipart) AddText(name, value string) *Multipart {
	m.parts = append(m.parts, Part{Name: name, Data: []byte(value)})
	return m
}

// AddFile appends a file field. The content type is guessed from the
// filename extension.
func (m *Multipart) AddFile(name, filename string, data []byte) *Multipart {
	ct := mime.TypeByExtension(filepath.Ext(filename))
	if ct == "" {
		ct = "application/octet-stream"
	}
	m.parts = append(m.parts, Part{Name: name, Filename: filename, ContentType: ct, Data: data})
	return m
}

// Encode renders the parts to wire form and returns the body along
// with the Content-Type header value carrying the boundary.
func (m *Multipart) Encode() (Body, string, error) {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	if err := w.SetBoundary(m.boundary); err != nil {
		return Body{}, "", err
	}
	for _, p := range m.parts {
		h := make(textproto.MIMEHeader)
		if p.Filename != "" {
			h.Set("Content-Disposition",
				fmt.Sprintf(`form-data; name=%q; filename=%q`, p.Name, p.Filename))
		} else {
			h.Set("Content-Disposition", fmt.Sprintf(`form-data; name=%q`, p.Name))
		}
		if p.ContentType != "" {
			h.Set("Content-Type", p.ContentType)
		}
		fw, err := w.CreatePart(h)
		if err != nil {
			return Body{}, "", err
		}
		if _, err := fw.Write(p.Data); err != nil {
			return Body{}, "", err
		}
	}
	if err := w.Close(); err != nil {
		return Body{}, "", err
	}
	return BytesBody(buf.Bytes()), w.FormDataContentType(), nil
}

// ParseMultipart reads a multipart/form-data payload described by the
// given Content-Type value. A nil result with nil error means the
// content type is not multipart.
func ParseMultipart(contentType string, body []byte) (*Multipart, error) {
	mediatype, params, err := mime.ParseMediaType(contentType)
	if err != nil || !strings.HasPrefix(mediatype, "multipart/") {
		return nil, nil
	}
	boundary, ok := params["boundary"]
	if !ok {
		return nil, errors.New("slimweb: multipart content without boundary")
	}
	m := &Multipart{boundary: boundary}
	r := multipart.NewReader(bytes.NewReader(body), boundary)
	for {
		part, err := r.NextPart()
		if err == io.EOF {
			return m, nil
		}
		if err != nil {
			return nil, err
		}
		data, err := io.ReadAll(part)
		if err != nil {
			return nil, err
		}
		m.parts = append(m.parts, Part{
			Name:        part.FormName(),
			Filename:    part.FileName(),
			ContentType: part.Header.Get("Content-Type"),
			Data:        data,
		})
	}
}
