package slimweb

import (
	"crypto/tls"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/klauspost/compress/gzip"
	"golang.org/x/net/idna"

	"github.com/MirrorBytes/slimweb/internal/obs"
	"github.com/MirrorBytes/slimweb/internal/stream"
)

// DefaultMaxRedirects bounds a redirect chain unless overridden.
const DefaultMaxRedirects = 5

const defaultUserAgent = "slimweb"

// ClientRequest builds and sends one HTTP/1.1 request, following
// redirects. Construct it with the method helpers (Get, Post, ...),
// chain the setters, then call Send.
type ClientRequest struct {
	method  string
	rawURL  string
	headers map[string]string
	body    *Body

	timeout      time.Duration
	maxRedirects int
	chunkSize    int

	compression      bool
	checkTarget      bool
	compressionLevel int

	tlsEnabled bool
	tlsConfig  *tls.Config

	logger obs.Logger
	meter  obs.Meter
}

func newClientRequest(method, rawURL string) *ClientRequest {
	return &ClientRequest{
		method:           method,
		rawURL:           rawURL,
		headers:          make(map[string]string),
		maxRedirects:     DefaultMaxRedirects,
		compressionLevel: gzip.DefaultCompression,
	}
}

// Get starts a GET request for the given URL.
func Get(rawURL string) *ClientRequest { return newClientRequest("GET", rawURL) }

// Post starts a POST request for the given URL.
func Post(rawURL string) *ClientRequest { return newClientRequest("POST", rawURL) }

// Put starts a PUT request for the given URL.
func Put(rawURL string) *ClientRequest { return newClientRequest("PUT", rawURL) }

// Patch starts a PATCH request for the given URL.
func Patch(rawURL string) *ClientRequest { return newClientRequest("PATCH", rawURL) }

// Delete starts a DELETE request for the given URL.
func Delete(rawURL string) *ClientRequest { return newClientRequest("DELETE", rawURL) }

// Head starts a HEAD request for the given URL.
func Head(rawURL string) *ClientRequest { return newClientRequest("HEAD", rawURL) }

// Options starts an OPTIONS request for the given URL.
func Options(rawURL string) *ClientRequest { return newClientRequest("OPTIONS", rawURL) }

// Trace starts a TRACE request for the given URL.
func Trace(rawURL string) *ClientRequest { return newClientRequest("TRACE", rawURL) }

// Connect starts a CONNECT request for the given URL.
func Connect(rawURL string) *ClientRequest { return newClientRequest("CONNECT", rawURL) }

// SetHeader records a header to send. Setting a key twice keeps the
// later value.
func (c *ClientRequest) SetHeader(key, value string) *ClientRequest {
	c.headers[key] = value
	return c
}

// SetBody attaches a payload. Content-Type follows the body variant
// unless the caller set one.
func (c *ClientRequest) SetBody(b Body) *ClientRequest {
	c.body = &b
	return c
}

// SetDeadline bounds the whole send, redirect hops included, by one
// absolute expiry d from now.
func (c *ClientRequest) SetDeadline(d time.Duration) *ClientRequest {
	c.timeout = d
	return c
}

// SetMaxRedirects overrides the redirect chain limit.
func (c *ClientRequest) SetMaxRedirects(n int) *ClientRequest {
	c.maxRedirects = n
	return c
}

// SetChunkSize switches the outgoing body to chunked transfer-encoding
// with frames of n bytes.
func (c *ClientRequest) SetChunkSize(n int) *ClientRequest {
	c.chunkSize = n
	return c
}

// EnableCompression gzips the outgoing body and advertises gzip for
// the response.
func (c *ClientRequest) EnableCompression() *ClientRequest {
	c.compression = true
	return c
}

// CheckTargetEncodings sends an OPTIONS preflight and compresses the
// body only if the target advertises gzip support.
func (c *ClientRequest) CheckTargetEncodings() *ClientRequest {
	c.checkTarget = true
	return c
}

// SetCompressionLevel picks the gzip level used when compression is
// enabled.
func (c *ClientRequest) SetCompressionLevel(level int) *ClientRequest {
	c.compressionLevel = level
	return c
}

// EnableTLS allows https URLs. A nil config gets sensible defaults;
// the server name is filled in from the target host either way.
func (c *ClientRequest) EnableTLS(cfg *tls.Config) *ClientRequest {
	c.tlsEnabled = true
	c.tlsConfig = cfg
	return c
}

// SetLogger routes client diagnostics to l.
func (c *ClientRequest) SetLogger(l obs.Logger) *ClientRequest {
	c.logger = l
	return c
}

// SetMeter routes client measurements to m.
func (c *ClientRequest) SetMeter(m obs.Meter) *ClientRequest {
	c.meter = m
	return c
}

// target is a parsed request URL reduced to what the wire needs.
type target struct {
	https    bool
	user     string
	pass     string
	hasCreds bool
	host     string // host:port
	hostname string // no port, for SNI and Host-less lookups
	resource string
}

func parseTarget(rawURL string) (target, error) {
	if !strings.Contains(rawURL, "://") {
		rawURL = "http://" + rawURL
	}
	u, err := url.Parse(rawURL)
	if err != nil {
		return target{}, fmt.Errorf("%w: %v", ErrConnection, err)
	}
	t := target{https: u.Scheme == "https"}
	if u.User != nil {
		pass, hasPass := u.User.Password()
		if !hasPass {
			return target{}, ErrInvalidCredentials
		}
		t.user = u.User.Username()
		t.pass = pass
		t.hasCreds = true
	}
	hostname := u.Hostname()
	if hostname == "" {
		return target{}, fmt.Errorf("%w: empty host in %q", ErrConnection, rawURL)
	}
	ascii, err := idna.Lookup.ToASCII(hostname)
	if err != nil {
		return target{}, fmt.Errorf("%w: %v", ErrHostEncoding, err)
	}
	t.hostname = ascii
	port := u.Port()
	if port == "" {
		if t.https {
			port = "443"
		} else {
			port = "80"
		}
	}
	t.host = ascii + ":" + port
	t.resource = u.RequestURI()
	if t.resource == "" {
		t.resource = "/"
	}
	return t, nil
}

// Send performs the exchange, following up to maxRedirects redirects
// on fresh connections. All hops share one deadline.
func (c *ClientRequest) Send() (*ClientResponse, error) {
	t, err := parseTarget(c.rawURL)
	if err != nil {
		return nil, err
	}
	var d *stream.Deadline
	if c.timeout > 0 {
		d = stream.NewDeadline(c.timeout)
	}
	method := c.method
	body := c.body
	var visited []string
	for {
		resp, err := c.exchange(t, method, body, d)
		if err != nil {
			return nil, err
		}
		code := resp.Info.Status.Code
		if code < 300 || code > 308 {
			return resp, nil
		}
		loc, ok := resp.Info.Header("Location")
		if !ok {
			return nil, ErrNoLocation
		}
		if len(visited) == c.maxRedirects {
			return nil, ErrMaxRedirects
		}
		visited = append(visited, hopKey(t))
		next, err := resolveRedirect(t, loc)
		if err != nil {
			return nil, err
		}
		if method != "GET" && method != "HEAD" {
			method = "GET"
			body = nil
		}
		c.logf(obs.Info, "redirect %d -> %s", code, loc)
		c.metricCounter("slimweb_client_redirects_total", 1,
			obs.Label{Key: "status", Value: strconv.Itoa(code)})
		t = next
	}
}

func hopKey(t target) string {
	scheme := "http"
	if t.https {
		scheme = "https"
	}
	return scheme + "://" + t.host + t.resource
}

// resolveRedirect applies standard relative-reference resolution to a
// Location value against the hop it arrived on.
func resolveRedirect(from target, location string) (target, error) {
	scheme := "http"
	if from.https {
		scheme = "https"
	}
	base := &url.URL{Scheme: scheme, Host: from.host}
	if u, err := url.Parse(from.resource); err == nil {
		base.Path, base.RawQuery = u.Path, u.RawQuery
	}
	ref, err := url.Parse(location)
	if err != nil {
		return target{}, fmt.Errorf("%w: bad Location %q: %v", ErrConnection, location, err)
	}
	return parseTarget(base.ResolveReference(ref).String())
}

func (c *ClientRequest) exchange(t target, method string, body *Body, d *stream.Deadline) (*ClientResponse, error) {
	if t.https && !c.tlsEnabled {
		return nil, ErrTLSNotEnabled
	}
	start := time.Now()

	encode := c.compression && body != nil
	if encode && c.checkTarget {
		ok, err := c.targetAcceptsGzip(t, d)
		if err != nil {
			return nil, err
		}
		encode = ok
	}
	var payload []byte
	if body != nil {
		payload = body.Bytes()
	}
	if encode {
		p, err := stream.GzipEncode(payload, c.compressionLevel)
		if err != nil {
			return nil, err
		}
		payload = p
	}

	s, err := c.open(t, d)
	if err != nil {
		c.metricCounter("slimweb_client_requests_error", 1, obs.Label{Key: "stage", Value: "dial"})
		return nil, err
	}
	defer s.Close()

	head := c.genHead(t, method, body, payload, encode)
	if err := stream.WriteAllUntil(s, head, d); err != nil {
		c.metricCounter("slimweb_client_requests_error", 1, obs.Label{Key: "stage", Value: "write_head"})
		return nil, err
	}
	if len(payload) > 0 {
		ch := stream.NewChunked(s, c.chunkSize, c.chunkSize > 0)
		if err := stream.WriteAllUntil(ch, payload, d); err != nil {
			c.metricCounter("slimweb_client_requests_error", 1, obs.Label{Key: "stage", Value: "write_body"})
			return nil, err
		}
		if err := stream.EndChunked(ch, d); err != nil {
			return nil, err
		}
	}
	c.metricCounter("slimweb_client_requests_total", 1, obs.Label{Key: "method", Value: method})

	info, err := readHead(s, d)
	if err != nil {
		c.metricCounter("slimweb_client_requests_error", 1, obs.Label{Key: "stage", Value: "read_head"})
		return nil, err
	}
	if info.Status.Kind != StatusResponse {
		return nil, ErrNoStatusLine
	}
	// Interim responses carry no body; the real head follows.
	for info.Status.Code >= 100 && info.Status.Code < 200 {
		info, err = readHead(s, d)
		if err != nil {
			return nil, err
		}
	}

	var respBody []byte
	code := info.Status.Code
	if code <= 300 || code >= 308 {
		compressed, chunked := checkEncodings(info)
		cl := contentLength(info)
		if compressed {
			// The budget counts wire bytes, not inflated ones; the
			// gzip footer marks the end instead.
			cl = -1
		}
		ch := stream.NewChunked(s, 0, chunked)
		gz := stream.NewCompressed(ch, compressed)
		respBody, err = stream.ReadToEndUntil(gz, cl, d)
		if err != nil {
			c.metricCounter("slimweb_client_requests_error", 1, obs.Label{Key: "stage", Value: "read_body"})
			return nil, err
		}
		delete(info.Headers, "Transfer-Encoding")
	}

	c.metricCounter("slimweb_client_responses_total", 1,
		obs.Label{Key: "status", Value: strconv.Itoa(code)})
	c.metricHistogram("slimweb_client_roundtrip_duration_ms",
		float64(time.Since(start).Milliseconds()),
		obs.Label{Key: "method", Value: method})
	return &ClientResponse{Info: *info, Body: respBody}, nil
}

// targetAcceptsGzip preflights the target with OPTIONS and inspects
// its advertised Accept-Encoding.
func (c *ClientRequest) targetAcceptsGzip(t target, d *stream.Deadline) (bool, error) {
	s, err := c.open(t, d)
	if err != nil {
		return false, err
	}
	defer s.Close()
	info := &GeneralInfo{
		Status:  StatusInfo{Kind: StatusRequest, Method: "OPTIONS", Resource: t.resource},
		Headers: map[string]string{"Host": t.host, "User-Agent": defaultUserAgent},
	}
	if err := stream.WriteAllUntil(s, serializeHead(info), d); err != nil {
		return false, err
	}
	resp, err := readHead(s, d)
	if err != nil {
		return false, err
	}
	// Drain so the peer is not left mid-body.
	_, chunked := checkEncodings(resp)
	ch := stream.NewChunked(s, 0, chunked)
	if _, err := stream.ReadToEndUntil(ch, contentLength(resp), d); err != nil {
		return false, err
	}
	return acceptsGzip(resp), nil
}

func (c *ClientRequest) open(t target, d *stream.Deadline) (*stream.Stream, error) {
	conn, err := stream.Connect(t.host, d)
	if err != nil {
		return nil, err
	}
	if !t.https {
		return stream.NewPlain(conn, d)
	}
	cfg := c.tlsConfig
	if cfg == nil {
		cfg = &tls.Config{}
	} else {
		cfg = cfg.Clone()
	}
	if cfg.ServerName == "" {
		cfg.ServerName = t.hostname
	}
	s, err := stream.NewTLSClient(conn, cfg, d)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("%w: %v", ErrConnection, err)
	}
	return s, nil
}

// genHead assembles the request head. Caller headers win over the
// injected defaults; framing headers are derived from the payload and
// always authoritative.
func (c *ClientRequest) genHead(t target, method string, body *Body, payload []byte, encoded bool) []byte {
	headers := make(map[string]string, len(c.headers)+8)
	for k, v := range c.headers {
		headers[k] = v
	}
	headers["Host"] = t.host
	if _, ok := headers["User-Agent"]; !ok {
		headers["User-Agent"] = defaultUserAgent
	}
	if _, ok := headers["X-Request-ID"]; !ok {
		headers["X-Request-ID"] = uuid.NewString()
	}
	if _, ok := headers["traceparent"]; !ok {
		headers["traceparent"] = genTraceparent()
	}
	if t.hasCreds {
		if _, ok := headers["Authorization"]; !ok {
			cred := base64.StdEncoding.EncodeToString([]byte(t.user + ":" + t.pass))
			headers["Authorization"] = "Basic " + cred
		}
	}
	if body != nil {
		if _, ok := headers["Content-Type"]; !ok {
			headers["Content-Type"] = body.contentType()
		}
	}
	if c.compression {
		headers["Accept-Encoding"] = "gzip"
	}
	if encoded {
		headers["Content-Encoding"] = "gzip"
	}
	if len(payload) > 0 {
		if c.chunkSize > 0 {
			headers["Transfer-Encoding"] = "chunked"
			delete(headers, "Content-Length")
		} else {
			headers["Content-Length"] = strconv.Itoa(len(payload))
		}
	}
	info := &GeneralInfo{
		Status:  StatusInfo{Kind: StatusRequest, Method: method, Resource: t.resource},
		Headers: headers,
	}
	return serializeHead(info)
}

// genTraceparent emits a fresh W3C traceparent with random trace and
// span IDs.
func genTraceparent() string {
	tid := uuid.New()
	sid := uuid.New()
	return fmt.Sprintf("00-%s-%s-01",
		hex.EncodeToString(tid[:]),
		hex.EncodeToString(sid[:8]))
}

func (c *ClientRequest) logf(level obs.Level, format string, args ...interface{}) {
	lg := c.logger
	if lg == nil {
		lg = obs.NopLogger{}
	}
	lg.Logf(level, format, args...)
}

func (c *ClientRequest) metricCounter(name string, value float64, labels ...obs.Label) {
	if c.meter == nil {
		return
	}
	c.meter.Counter(name, value, labels...)
}

func (c *ClientRequest) metricHistogram(name string, value float64, labels ...obs.Label) {
	if c.meter == nil {
		return
	}
	c.meter.Histogram(name, value, labels...)
}
