package slimweb

import (
	json "github.com/goccy/go-json"
)

// ServerRequest is one parsed inbound request: head, fully read body,
// and the decoded multipart form when the request carried one.
type ServerRequest struct {
	Info      GeneralInfo
	Body      []byte
	Multipart *Multipart
}

// Method returns the request method.
func (r *ServerRequest) Method() string { return r.Info.Status.Method }

// Resource returns the request target as sent.
func (r *ServerRequest) Resource() string { return r.Info.Status.Resource }

// Header returns the value for an exact header key.
func (r *ServerRequest) Header(key string) (string, bool) {
	return r.Info.Header(key)
}

// Text returns the body as a string.
func (r *ServerRequest) Text() string { return string(r.Body) }

// JSON decodes the body into v.
func (r *ServerRequest) JSON(v any) error {
	return json.Unmarshal(r.Body, v)
}
