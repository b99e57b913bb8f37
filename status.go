package slimweb

// StatusKind distinguishes the two shapes a message head can take.
type StatusKind int

const (
	// StatusResponse marks a head starting with a status line.
	StatusResponse StatusKind = iota
	// StatusRequest marks a head starting with a request line.
	StatusRequest
)

// StatusInfo is the parsed first line of a message head. For a
// response Code and Reason are set; for a request Method and Resource
// are.
type StatusInfo struct {
	Kind     StatusKind
	Code     int
	Reason   string
	Method   string
	Resource string
}

// GeneralInfo is a message head: its start line plus the header map.
// Header keys keep the exact case they were sent with, and a repeated
// key keeps its last value.
type GeneralInfo struct {
	Status  StatusInfo
	Headers map[string]string
}

// Header returns the value for an exact key, if present.
func (g *GeneralInfo) Header(key string) (string, bool) {
	v, ok := g.Headers[key]
	return v, ok
}

// ReasonPhrase returns the canonical reason for a status code, or
// false for a code outside the table.
func ReasonPhrase(code int) (string, bool) {
	r, ok := reasonPhrases[code]
	return r, ok
}

var reasonPhrases = map[int]string{
	100: "Continue",
	101: "Switching Protocols",
	102: "Processing",
	103: "Early Hints",

	200: "OK",
	201: "Created",
	202: "Accepted",
	203: "Non-Authoritative Information",
	204: "No Content",
	205: "Reset Content",
	206: "Partial Content",
	207: "Multi-Status",
	208: "Already Reported",
	226: "IM Used",

	300: "Multiple Choices",
	301: "Moved Permanently",
	302: "Found",
	303: "See Other",
	304: "Not Modified",
	305: "Use Proxy",
	307: "Temporary Redirect",
	308: "Permanent Redirect",

	400: "Bad Request",
	401: "Unauthorized",
	402: "Payment Required",
	403: "Forbidden",
	404: "Not Found",
	405: "Method Not Allowed",
	406: "Not Acceptable",
	407: "Proxy Authentication Required",
	408: "Request Timeout",
	409: "Conflict",
	410: "Gone",
	411: "Length Required",
	412: "Precondition Failed",
	413: "Payload Too Large",
	414: "URI Too Long",
	415: "Unsupported Media Type",
	416: "Range Not Satisfiable",
	417: "Expectation Failed",
	418: "I'm a teapot",
	421: "Misdirected Request",
	422: "Unprocessable Entity",
	423: "Locked",
	424: "Failed Dependency",
	425: "Too Early",
	426: "Upgrade Required",
	428: "Precondition Required",
	429: "Too Many Requests",
	431: "Request Header Fields Too Large",
	451: "Unavailable For Legal Reasons",

	500: "Internal Server Error",
	501: "Not Implemented",
	502: "Bad Gateway",
	503: "Service Unavailable",
	504: "Gateway Timeout",
	505: "HTTP Version Not Supported",
	506: "Variant Also Negotiates",
	507: "Insufficient Storage",
	508: "Loop Detected",
	510: "Not Extended",
	511: "Network Authentication Required",
}
