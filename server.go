package slimweb

import (
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/MirrorBytes/slimweb/internal/obs"
	"github.com/MirrorBytes/slimweb/internal/stream"
)

// Handler produces a response for one parsed request.
type Handler func(*ServerRequest) (*ServerResponse, error)

// ExpectationCheck vets a request head that carries an Expect header.
// Returning 100 lets the body proceed; any other status is sent back
// with the optional message as its body and the body is never read.
type ExpectationCheck func(*GeneralInfo) (int, string)

type routeKey struct {
	method string
	route  string
}

// Server accepts connections and serves one exchange per connection,
// each on its own goroutine.
type Server struct {
	ln net.Listener

	mu       sync.Mutex
	handlers map[routeKey]Handler
	expects  []ExpectationCheck

	tlsConfig       *tls.Config
	compression     bool
	requestDeadline time.Duration

	logger obs.Logger
	meter  obs.Meter
}

// NewServer binds a listener on addr.
func NewServer(addr string) (*Server, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrConnection, err)
	}
	return &Server{
		ln:       ln,
		handlers: make(map[routeKey]Handler),
		logger:   obs.NopLogger{},
		meter:    obs.NopMeter{},
	}, nil
}

// Addr reports the bound listener address.
func (s *Server) Addr() string { return s.ln.Addr().String() }

// TLS loads a keypair and switches accepted connections to TLS.
func (s *Server) TLS(certFile, keyFile string) error {
	cert, err := tls.LoadX509KeyPair(certFile, keyFile)
	if err != nil {
		return err
	}
	s.tlsConfig = &tls.Config{Certificates: []tls.Certificate{cert}}
	return nil
}

// SetTLSConfig installs an already built TLS config.
func (s *Server) SetTLSConfig(cfg *tls.Config) *Server {
	s.tlsConfig = cfg
	return s
}

// AddHandler registers a handler for an exact method and route. The
// route matches the request path with any query string stripped.
func (s *Server) AddHandler(method, route string, h Handler) *Server {
	s.mu.Lock()
	s.handlers[routeKey{method: method, route: route}] = h
	s.mu.Unlock()
	return s
}

// AddExpectation appends a check run for requests carrying an Expect
// header. Checks run in order; the first non-100 verdict wins.
func (s *Server) AddExpectation(check ExpectationCheck) *Server {
	s.mu.Lock()
	s.expects = append(s.expects, check)
	s.mu.Unlock()
	return s
}

// EnableCompression allows gzip response bodies for handlers that set
// a compression level, when the request accepts gzip.
func (s *Server) EnableCompression() *Server {
	s.compression = true
	return s
}

// SetRequestDeadline bounds each connection's whole exchange.
func (s *Server) SetRequestDeadline(d time.Duration) *Server {
	s.requestDeadline = d
	return s
}

// SetLogger routes server diagnostics to l.
func (s *Server) SetLogger(l obs.Logger) *Server {
	if l == nil {
		l = obs.NopLogger{}
	}
	s.logger = l
	return s
}

// SetMeter routes server measurements to m.
func (s *Server) SetMeter(m obs.Meter) *Server {
	if m == nil {
		m = obs.NopMeter{}
	}
	s.meter = m
	return s
}

// Run accepts until the listener closes.
func (s *Server) Run() error {
	for {
		conn, err := s.ln.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return nil
			}
			return err
		}
		go s.serveConn(conn)
	}
}

// Close stops the accept loop.
func (s *Server) Close() error { return s.ln.Close() }

func (s *Server) serveConn(conn net.Conn) {
	var d *stream.Deadline
	if s.requestDeadline > 0 {
		d = stream.NewDeadline(s.requestDeadline)
	}
	var st *stream.Stream
	var err error
	if s.tlsConfig != nil {
		st, err = stream.NewTLSServer(conn, s.tlsConfig, d)
	} else {
		st, err = stream.NewPlain(conn, d)
	}
	if err != nil {
		conn.Close()
		s.logger.Logf(obs.Warn, "setup %s failed: %v", conn.RemoteAddr(), err)
		return
	}
	defer st.Close()

	info, err := readHead(st, d)
	if err != nil {
		s.logger.Logf(obs.Debug, "read head from %s failed: %v", conn.RemoteAddr(), err)
		s.meter.Counter("slimweb_server_requests_error", 1, obs.Label{Key: "stage", Value: "read_head"})
		return
	}
	if info.Status.Kind != StatusRequest {
		s.logger.Logf(obs.Debug, "%s sent a response head, dropping", conn.RemoteAddr())
		return
	}
	start := time.Now()
	s.meter.Counter("slimweb_server_requests_total", 1,
		obs.Label{Key: "method", Value: info.Status.Method})

	if _, ok := info.Header("Expect"); ok {
		code, msg := s.checkExpectations(info)
		if code != 100 {
			resp, err := NewServerResponse(code)
			if err != nil {
				resp, _ = NewServerResponse(417)
			}
			if msg != "" {
				resp.SetBody(TextBody(msg))
			}
			s.writeResponse(st, d, info, resp)
			return
		}
		cont := &GeneralInfo{
			Status:  StatusInfo{Kind: StatusResponse, Code: 100, Reason: "Continue"},
			Headers: map[string]string{},
		}
		if err := stream.WriteAllUntil(st, serializeHead(cont), d); err != nil {
			s.logger.Logf(obs.Warn, "write 100 Continue to %s failed: %v", conn.RemoteAddr(), err)
			return
		}
	}

	req, err := s.readRequest(st, d, info)
	if err != nil {
		s.logger.Logf(obs.Warn, "read body from %s failed: %v", conn.RemoteAddr(), err)
		s.meter.Counter("slimweb_server_requests_error", 1, obs.Label{Key: "stage", Value: "read_body"})
		return
	}

	resp := s.dispatch(req)
	s.writeResponse(st, d, info, resp)
	s.meter.Histogram("slimweb_server_request_duration_ms",
		float64(time.Since(start).Milliseconds()),
		obs.Label{Key: "method", Value: info.Status.Method})
}

func (s *Server) checkExpectations(info *GeneralInfo) (int, string) {
	s.mu.Lock()
	checks := make([]ExpectationCheck, len(s.expects))
	copy(checks, s.expects)
	s.mu.Unlock()
	for _, check := range checks {
		if code, msg := check(info); code != 100 {
			return code, msg
		}
	}
	return 100, ""
}

func (s *Server) readRequest(st *stream.Stream, d *stream.Deadline, info *GeneralInfo) (*ServerRequest, error) {
	compressed, chunked := checkEncodings(info)
	cl := contentLength(info)
	if compressed {
		cl = -1
	}
	var body []byte
	if chunked || cl > 0 || compressed {
		ch := stream.NewChunked(st, 0, chunked)
		gz := stream.NewCompressed(ch, compressed)
		var err error
		body, err = stream.ReadToEndUntil(gz, cl, d)
		if err != nil {
			return nil, err
		}
	}
	req := &ServerRequest{Info: *info, Body: body}
	if ct, ok := info.Header("Content-Type"); ok && len(body) > 0 {
		mp, err := ParseMultipart(ct, body)
		if err != nil {
			return nil, err
		}
		req.Multipart = mp
	}
	return req, nil
}

func (s *Server) dispatch(req *ServerRequest) *ServerResponse {
	method := req.Info.Status.Method
	route := req.Info.Status.Resource
	if i := strings.IndexByte(route, '?'); i >= 0 {
		route = route[:i]
	}
	s.mu.Lock()
	h, ok := s.handlers[routeKey{method: method, route: route}]
	s.mu.Unlock()
	if !ok {
		s.logger.Logf(obs.Warn, "no handler for %s %s", method, route)
		resp, _ := NewServerResponse(404)
		return resp
	}
	resp, err := h(req)
	if err != nil || resp == nil {
		s.logger.Logf(obs.Error, "handler %s %s failed: %v", method, route, err)
		resp, _ = NewServerResponse(500)
		return resp
	}
	return resp
}

func (s *Server) writeResponse(st *stream.Stream, d *stream.Deadline, req *GeneralInfo, resp *ServerResponse) {
	headers := make(map[string]string, len(resp.headers)+4)
	for k, v := range resp.headers {
		headers[k] = v
	}
	var payload []byte
	if resp.body != nil {
		payload = resp.body.Bytes()
		if _, ok := headers["Content-Type"]; !ok {
			headers["Content-Type"] = resp.body.contentType()
		}
	}
	if s.compression && resp.compress && len(payload) > 0 && acceptsGzip(req) {
		p, err := stream.GzipEncode(payload, resp.compressionLevel)
		if err != nil {
			s.logger.Logf(obs.Error, "compress response failed: %v", err)
		} else {
			payload = p
			headers["Content-Encoding"] = "gzip"
		}
	}
	if resp.chunkSize > 0 && len(payload) > 0 {
		headers["Transfer-Encoding"] = "chunked"
		delete(headers, "Content-Length")
	} else {
		headers["Content-Length"] = strconv.Itoa(len(payload))
	}
	info := &GeneralInfo{
		Status:  StatusInfo{Kind: StatusResponse, Code: resp.code, Reason: resp.reason},
		Headers: headers,
	}
	if err := stream.WriteAllUntil(st, serializeHead(info), d); err != nil {
		s.logger.Logf(obs.Warn, "write head failed: %v", err)
		return
	}
	if len(payload) > 0 {
		ch := stream.NewChunked(st, resp.chunkSize, resp.chunkSize > 0)
		if err := stream.WriteAllUntil(ch, payload, d); err != nil {
			s.logger.Logf(obs.Warn, "write body failed: %v", err)
			return
		}
		if err := stream.EndChunked(ch, d); err != nil {
			s.logger.Logf(obs.Warn, "write final chunk failed: %v", err)
			return
		}
	}
	s.meter.Counter("slimweb_server_responses_total", 1,
		obs.Label{Key: "status", Value: strconv.Itoa(resp.code)})
}
