package http

import (
	"bytes"
	"errors"
	"net/textproto"
	"net/url"
	"strconv"

	"golang.org/x/net/http/httpguts"

	"github.com/azhanglai/LaiWebServer/core/buffer"
)

const (
	// MaxLineSize bounds a request line or header line still waiting for CRLF.
	MaxLineSize = 8 << 10
	// MaxBodySize bounds a declared Content-Length.
	MaxBodySize = 1 << 20
)

var (
	ErrBadRequestLine   = errors.New("http: malformed request line")
	ErrLineTooLong      = errors.New("http: line too long")
	ErrBadContentLength = errors.New("http: invalid Content-Length")
	ErrBodyTooLarge     = errors.New("http: body too large")
)

var crlf = []byte("\r\n")

// Pages served by their bare route name.
var defaultHTML = map[string]struct{}{
	"/index":    {},
	"/register": {},
	"/login":    {},
	"/welcome":  {},
	"/video":    {},
	"/picture":  {},
}

// Form targets and whether they are a login (true) or a registration (false).
var defaultHTMLTag = map[string]bool{
	"/register.html": false,
	"/login.html":    true,
}

// Parse consumes as much of buf as forms the current request.
// It returns true once the request is complete, false with a nil error
// when more bytes are needed, and a non-nil error for malformed input.
// Bytes of an incomplete line stay in buf.
func (r *Request) Parse(buf *buffer.Buffer) (bool, error) {
	for r.state != StateFinished {
		if r.state == StateBody {
			ok, err := r.parseBody(buf)
			if err != nil || !ok {
				return false, err
			}
			continue
		}

		data := buf.Peek()
		end := bytes.Index(data, crlf)
		if end < 0 {
			if len(data) > MaxLineSize {
				return false, ErrLineTooLong
			}
			return false, nil
		}
		line := data[:end]

		switch r.state {
		case StateRequestLine:
			if err := r.parseRequestLine(line); err != nil {
				return false, err
			}
			r.parsePath()
			r.state = StateHeaders
		case StateHeaders:
			if !r.parseHeader(line) {
				if err := r.enterBody(); err != nil {
					return false, err
				}
			}
		}
		_ = buf.Retrieve(end + len(crlf))
	}
	return true, nil
}

// parseRequestLine splits "METHOD SP PATH SP HTTP/VERSION".
func (r *Request) parseRequestLine(line []byte) error {
	sp1 := bytes.IndexByte(line, ' ')
	if sp1 <= 0 {
		return ErrBadRequestLine
	}
	rest := line[sp1+1:]
	sp2 := bytes.IndexByte(rest, ' ')
	if sp2 <= 0 {
		return ErrBadRequestLine
	}
	proto := rest[sp2+1:]
	if !bytes.HasPrefix(proto, []byte("HTTP/")) || bytes.IndexByte(proto, ' ') >= 0 {
		return ErrBadRequestLine
	}
	version := proto[len("HTTP/"):]
	if len(version) == 0 {
		return ErrBadRequestLine
	}

	r.method = string(line[:sp1])
	r.path = string(rest[:sp2])
	r.version = string(version)
	return nil
}

func (r *Request) parsePath() {
	if r.path == "/" {
		r.path = "/index.html"
		return
	}
	if _, ok := defaultHTML[r.path]; ok {
		r.path += ".html"
	}
}

// parseHeader stores a "Name: value" line. It reports false for any line
// that is not a header, which ends the header block.
func (r *Request) parseHeader(line []byte) bool {
	colon := bytes.IndexByte(line, ':')
	if colon < 0 {
		return false
	}
	name := string(line[:colon])
	if !httpguts.ValidHeaderFieldName(name) {
		return false
	}
	value := line[colon+1:]
	if len(value) > 0 && value[0] == ' ' {
		value = value[1:]
	}
	r.header[textproto.CanonicalMIMEHeaderKey(name)] = string(value)
	return true
}

func (r *Request) enterBody() error {
	r.state = StateBody
	v, ok := r.header["Content-Length"]
	if !ok {
		return nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return ErrBadContentLength
	}
	if n > MaxBodySize {
		return ErrBodyTooLarge
	}
	r.contentLength = n
	return nil
}

// parseBody takes the body. With Content-Length it waits for the full
// length; without it, the rest of the current line (possibly empty) is the body.
func (r *Request) parseBody(buf *buffer.Buffer) (bool, error) {
	data := buf.Peek()
	if r.contentLength >= 0 {
		if len(data) < r.contentLength {
			return false, nil
		}
		r.body = append(r.body[:0], data[:r.contentLength]...)
		_ = buf.Retrieve(r.contentLength)
	} else if len(data) > 0 {
		end := bytes.Index(data, crlf)
		consumed := len(data)
		if end >= 0 {
			consumed = end + len(crlf)
		} else {
			end = len(data)
		}
		r.body = append(r.body[:0], data[:end]...)
		_ = buf.Retrieve(consumed)
	}

	r.parsePost()
	r.state = StateFinished
	return true, nil
}

// parsePost decodes a url-encoded form and resolves the login and
// register pages to /welcome.html or /error.html.
func (r *Request) parsePost() {
	if r.method != "POST" || !r.isForm() {
		return
	}
	r.parseForm()

	isLogin, ok := defaultHTMLTag[r.path]
	if !ok {
		return
	}
	if r.verifier != nil && r.verifier.VerifyUser(r.form["username"], r.form["password"], isLogin) {
		r.path = "/welcome.html"
	} else {
		r.path = "/error.html"
	}
}

// parseForm keeps the last value of a repeated key.
func (r *Request) parseForm() {
	if len(r.body) == 0 {
		return
	}
	values, _ := url.ParseQuery(string(r.body))
	for k, vs := range values {
		if len(vs) > 0 {
			r.form[k] = vs[len(vs)-1]
		}
	}
}
