package slimweb

import (
	"errors"

	"github.com/MirrorBytes/slimweb/internal/stream"
)

// Transport-level failures surface from the stream package unchanged
// so callers can match them with errors.Is.
var (
	// ErrTimeout reports that a deadline expired before the operation
	// finished.
	ErrTimeout = stream.ErrTimeout

	// ErrChunk reports a malformed chunked body.
	ErrChunk = stream.ErrChunk

	// ErrConnection reports a transport that could not be established.
	ErrConnection = stream.ErrConnection
)

var (
	// ErrInvalidCredentials reports a URL with a user but no password.
	ErrInvalidCredentials = errors.New("slimweb: username given without password")

	// ErrHostEncoding reports a host name that could not be converted
	// to its ASCII form.
	ErrHostEncoding = errors.New("slimweb: host could not be encoded")

	// ErrTLSNotEnabled reports an https URL on a client without TLS.
	ErrTLSNotEnabled = errors.New("slimweb: https requested but TLS is not enabled")

	// ErrNoStatusLine reports a message head whose first line could
	// not be parsed.
	ErrNoStatusLine = errors.New("slimweb: missing or malformed start line")

	// ErrMaxRedirects reports a redirect chain longer than the limit.
	ErrMaxRedirects = errors.New("slimweb: too many redirects")

	// ErrNoLocation reports a redirect status without a Location
	// header.
	ErrNoLocation = errors.New("slimweb: redirect without Location header")

	// ErrStatusCode reports a status code outside the known table.
	ErrStatusCode = errors.New("slimweb: unknown status code")
)
