package http

import (
	"os"
	"path"
	"path/filepath"
	"strconv"

	"github.com/azhanglai/LaiWebServer/core/buffer"
	"github.com/azhanglai/LaiWebServer/core/mapfile"
)

var codeStatus = map[int]string{
	200: "OK",
	400: "Bad Request",
	403: "Forbidden",
	404: "Not Found",
}

// Error pages served from the resource directory.
var codePath = map[int]string{
	400: "/400.html",
	403: "/403.html",
	404: "/404.html",
}

// Response renders the status line and headers into the connection's
// write buffer and maps the file body so it can be sent without copying.
type Response struct {
	code      int
	keepAlive bool
	path      string
	srcDir    string

	file *mapfile.File
}

// NewResponse creates an unset response.
func NewResponse() *Response {
	return &Response{code: -1}
}

// Init prepares the response for path under srcDir, releasing any file
// mapped by the previous response.
func (r *Response) Init(srcDir, p string, keepAlive bool, code int) {
	r.UnmapFile()
	r.code = code
	r.keepAlive = keepAlive
	r.path = p
	r.srcDir = srcDir
}

func (r *Response) Code() int       { return r.code }
func (r *Response) Path() string    { return r.path }
func (r *Response) KeepAlive() bool { return r.keepAlive }

// File returns the mapped body, or nil when there is none.
func (r *Response) File() []byte {
	if r.file == nil {
		return nil
	}
	return r.file.Bytes()
}

// FileLen returns the size of the mapped body.
func (r *Response) FileLen() int {
	if r.file == nil {
		return 0
	}
	return r.file.Len()
}

// UnmapFile releases the mapped body. It is safe to call repeatedly.
func (r *Response) UnmapFile() {
	if r.file != nil {
		_ = r.file.Close()
		r.file = nil
	}
}

// fullPath resolves the request path under srcDir; ".." never escapes it.
func (r *Response) fullPath() string {
	return filepath.Join(r.srcDir, path.Clean("/"+r.path))
}

// MakeResponse resolves the final status and writes the head into buf.
func (r *Response) MakeResponse(buf *buffer.Buffer) {
	if r.code == 200 || r.code == -1 {
		info, err := os.Stat(r.fullPath())
		switch {
		case err != nil || info.IsDir():
			r.code = 404
		case info.Mode().Perm()&0o004 == 0:
			r.code = 403
		default:
			r.code = 200
		}
	}
	r.errorHTML()
	r.addStateLine(buf)
	r.addHeader(buf)
	r.addContent(buf)
}

func (r *Response) errorHTML() {
	if p, ok := codePath[r.code]; ok {
		r.path = p
	}
}

func (r *Response) addStateLine(buf *buffer.Buffer) {
	status, ok := codeStatus[r.code]
	if !ok {
		r.code = 400
		status = codeStatus[400]
	}
	buf.AppendString("HTTP/1.1 " + strconv.Itoa(r.code) + " " + status + "\r\n")
}

func (r *Response) addHeader(buf *buffer.Buffer) {
	if r.keepAlive {
		buf.AppendString("Connection: keep-alive\r\n")
		buf.AppendString("Keep-Alive: max=6, timeout=120\r\n")
	} else {
		buf.AppendString("Connection: close\r\n")
	}
	buf.AppendString("Content-Type: " + ContentType(r.path) + "\r\n")
}

func (r *Response) addContent(buf *buffer.Buffer) {
	f, err := mapfile.Open(r.fullPath())
	if err != nil {
		r.ErrorContent(buf, "File NotFound!")
		return
	}
	r.file = f
	buf.AppendString("Content-Length: " + strconv.Itoa(f.Len()) + "\r\n\r\n")
}

// ErrorContent writes a generated HTML page as the body, for when no
// file can be mapped.
func (r *Response) ErrorContent(buf *buffer.Buffer, message string) {
	status, ok := codeStatus[r.code]
	if !ok {
		status = "Bad Request"
	}
	body := "<html><title>Error</title>" +
		"<body bgcolor=\"ffffff\">" +
		strconv.Itoa(r.code) + " : " + status + "\n" +
		"<p>" + message + "</p>" +
		"<hr><em>LaiWebServer</em></body></html>"

	buf.AppendString("Content-Length: " + strconv.Itoa(len(body)) + "\r\n\r\n")
	buf.AppendString(body)
}
