package slimweb

import (
	json "github.com/goccy/go-json"
)

// ClientResponse is the final hop of an exchange: the parsed head plus
// the fully read, de-chunked and decompressed body.
type ClientResponse struct {
	Info GeneralInfo
	Body []byte
}

// Status returns the response code.
func (r *ClientResponse) Status() int { return r.Info.Status.Code }

// Header returns the value for an exact header key.
func (r *ClientResponse) Header(key string) (string, bool) {
	return r.Info.Header(key)
}

// Text returns the body as a string.
func (r *ClientResponse) Text() string { return string(r.Body) }

// JSON decodes the body into v.
func (r *ClientResponse) JSON(v any) error {
	return json.Unmarshal(r.Body, v)
}

// ServerResponse is built by handlers. The zero chunk size means a
// Content-Length body; compression only takes effect when the server
// has it enabled and the request accepts gzip.
type ServerResponse struct {
	code    int
	reason  string
	headers map[string]string
	body    *Body

	chunkSize        int
	compress         bool
	compressionLevel int
}

// NewServerResponse starts a response with the given status code. A
// code outside the known table fails with ErrStatusCode.
func NewServerResponse(code int) (*ServerResponse, error) {
	reason, ok := ReasonPhrase(code)
	if !ok {
		return nil, ErrStatusCode
	}
	return &ServerResponse{
		code:    code,
		reason:  reason,
		headers: make(map[string]string),
	}, nil
}

// SetHeader records a response header. Framing headers derived from
// the body win over values set here.
func (r *ServerResponse) SetHeader(key, value string) *ServerResponse {
	r.headers[key] = value
	return r
}

// SetBody attaches a payload. Content-Type follows the body variant
// unless set explicitly.
func (r *ServerResponse) SetBody(b Body) *ServerResponse {
	r.body = &b
	return r
}

// SetChunkSize switches the body to chunked transfer-encoding with
// frames of n bytes.
func (r *ServerResponse) SetChunkSize(n int) *ServerResponse {
	r.chunkSize = n
	return r
}

// SetCompressionLevel opts the body into gzip at the given level.
func (r *ServerResponse) SetCompressionLevel(level int) *ServerResponse {
	r.compress = true
	r.compressionLevel = level
	return r
}
