package http

import (
	"net/textproto"
	"strings"

	"golang.org/x/net/http/httpguts"
)

// ParseState is the position of the request parser. Transitions only move forward.
type ParseState int

const (
	StateRequestLine ParseState = iota
	StateHeaders
	StateBody
	StateFinished
)

func (s ParseState) String() string {
	switch s {
	case StateRequestLine:
		return "request-line"
	case StateHeaders:
		return "headers"
	case StateBody:
		return "body"
	case StateFinished:
		return "finished"
	default:
		return "unknown"
	}
}

// UserVerifier checks or registers credentials submitted through the
// login and register forms. Implementations may block.
type UserVerifier interface {
	VerifyUser(username, password string, isLogin bool) bool
}

// Request is the parsed HTTP request of one connection. Parsing state
// survives across reads until the request is finished.
type Request struct {
	method  string
	path    string
	version string

	header map[string]string
	form   map[string]string
	body   []byte

	state         ParseState
	contentLength int // -1 when absent

	verifier UserVerifier
}

// NewRequest creates an empty request; v may be nil, in which case every
// credential check fails.
func NewRequest(v UserVerifier) *Request {
	r := &Request{
		header:   make(map[string]string),
		form:     make(map[string]string),
		verifier: v,
	}
	r.Init()
	return r
}

// Init resets the request for the next message on the connection.
func (r *Request) Init() {
	r.method = ""
	r.path = ""
	r.version = ""
	clear(r.header)
	clear(r.form)
	r.body = r.body[:0]
	r.state = StateRequestLine
	r.contentLength = -1
}

func (r *Request) Method() string    { return r.method }
func (r *Request) Path() string      { return r.path }
func (r *Request) Version() string   { return r.version }
func (r *Request) Body() []byte      { return r.body }
func (r *Request) State() ParseState { return r.state }

// Header returns the value of the named header; names are matched in
// canonical form.
func (r *Request) Header(name string) string {
	return r.header[textproto.CanonicalMIMEHeaderKey(name)]
}

// Form returns a decoded url-encoded form field.
func (r *Request) Form(key string) string {
	return r.form[key]
}

// IsKeepAlive reports whether the client asked for a persistent HTTP/1.1 connection.
func (r *Request) IsKeepAlive() bool {
	v, ok := r.header["Connection"]
	if !ok {
		return false
	}
	return r.version == "1.1" && httpguts.HeaderValuesContainsToken([]string{v}, "keep-alive")
}

func (r *Request) isForm() bool {
	ct := r.header["Content-Type"]
	if i := strings.IndexByte(ct, ';'); i >= 0 {
		ct = ct[:i]
	}
	return strings.EqualFold(strings.TrimSpace(ct), "application/x-www-form-urlencoded")
}
