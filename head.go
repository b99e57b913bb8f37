package slimweb

import (
	"fmt"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/MirrorBytes/slimweb/internal/stream"
)

// Head lines longer than this are rejected.
const maxHeadLine = 8 * 1024

// readHead consumes a message head from the stream, one line per
// governed read, stopping at the blank line. Malformed or non-UTF-8
// header lines are skipped; a bad start line fails the whole head.
func readHead(s *stream.Stream, d *stream.Deadline) (*GeneralInfo, error) {
	line, err := readHeadLine(s, d)
	if err != nil {
		return nil, err
	}
	status, err := parseStartLine(line)
	if err != nil {
		return nil, err
	}
	info := &GeneralInfo{Status: status, Headers: make(map[string]string)}
	for {
		line, err := readHeadLine(s, d)
		if err != nil {
			return nil, err
		}
		if len(line) == 0 {
			return info, nil
		}
		if !utf8.Valid(line) {
			continue
		}
		i := strings.IndexByte(string(line), ':')
		if i <= 0 {
			continue
		}
		key := string(line[:i])
		value := string(line[i+1:])
		value = strings.TrimPrefix(value, " ")
		value = strings.TrimRight(value, " \t")
		info.Headers[key] = value
	}
}

func readHeadLine(s *stream.Stream, d *stream.Deadline) ([]byte, error) {
	if err := d.BeforeRead(s.Raw()); err != nil {
		return nil, err
	}
	return s.ReadLine(maxHeadLine)
}

// parseStartLine decides between the two head shapes by whether the
// second token is numeric: a status line carries the code there, a
// request line carries the resource.
func parseStartLine(line []byte) (StatusInfo, error) {
	if !utf8.Valid(line) {
		return StatusInfo{}, ErrNoStatusLine
	}
	tokens := strings.Fields(string(line))
	if len(tokens) < 2 {
		return StatusInfo{}, ErrNoStatusLine
	}
	if code, err := strconv.Atoi(tokens[1]); err == nil {
		return StatusInfo{
			Kind:   StatusResponse,
			Code:   code,
			Reason: strings.Join(tokens[2:], " "),
		}, nil
	}
	return StatusInfo{
		Kind:     StatusRequest,
		Method:   tokens[0],
		Resource: tokens[1],
	}, nil
}

// serializeHead renders a head back to wire form, ending with the
// blank line.
func serializeHead(info *GeneralInfo) []byte {
	var b strings.Builder
	if info.Status.Kind == StatusResponse {
		fmt.Fprintf(&b, "HTTP/1.1 %d %s\r\n", info.Status.Code, info.Status.Reason)
	} else {
		fmt.Fprintf(&b, "%s %s HTTP/1.1\r\n", info.Status.Method, info.Status.Resource)
	}
	for key, value := range info.Headers {
		fmt.Fprintf(&b, "%s: %s\r\n", key, value)
	}
	b.WriteString("\r\n")
	return []byte(b.String())
}

// checkEncodings inspects the body-shaping headers of a head: whether
// the payload is gzip-compressed and whether it is chunk-framed.
func checkEncodings(info *GeneralInfo) (compressed, chunked bool) {
	if v, ok := info.Header("Content-Encoding"); ok {
		compressed = hasToken(v, "gzip")
	}
	if v, ok := info.Header("Transfer-Encoding"); ok {
		chunked = hasToken(v, "chunked")
	}
	return compressed, chunked
}

func acceptsGzip(info *GeneralInfo) bool {
	v, ok := info.Header("Accept-Encoding")
	return ok && hasToken(v, "gzip")
}

// hasToken matches one element of a comma-separated header value,
// ignoring case and surrounding space.
func hasToken(value, token string) bool {
	for _, part := range strings.Split(value, ",") {
		if strings.EqualFold(strings.TrimSpace(part), token) {
			return true
		}
	}
	return false
}

// contentLength reads the Content-Length header, returning -1 when it
// is absent or unparseable.
func contentLength(info *GeneralInfo) int {
	v, ok := info.Header("Content-Length")
	if !ok {
		return -1
	}
	n, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil || n < 0 {
		return -1
	}
	return n
}
