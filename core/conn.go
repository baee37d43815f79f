package core

import (
	"errors"
	"net/netip"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"golang.org/x/sys/unix"

	"github.com/azhanglai/LaiWebServer/core/buffer"
	"github.com/azhanglai/LaiWebServer/core/http"
	"github.com/azhanglai/LaiWebServer/core/observability"
)

// connContext is shared by every connection of one engine.
type connContext struct {
	srcDir   string
	edge     bool
	verifier http.UserVerifier
	users    *atomic.Int64
	monitor  *observability.Monitor
	log      logrus.FieldLogger
}

// Conn is one accepted client socket with its buffers and the request
// and response currently in flight.
//
// mu is held by a worker for the whole of a read, write or close task,
// including the re-arm, so at most one task touches a Conn at a time.
type Conn struct {
	mu sync.Mutex

	fd     int
	id     uuid.UUID
	addr   netip.AddrPort
	closed atomic.Bool

	readBuf  *buffer.Buffer
	writeBuf *buffer.Buffer
	// iov[0] is the unsent response head, iov[1] the unsent mapped body.
	iov [2][]byte

	request  *http.Request
	response *http.Response

	ctx *connContext
	log logrus.FieldLogger
}

func newConn(fd int, addr netip.AddrPort, cc *connContext) *Conn {
	c := &Conn{
		fd:       fd,
		id:       uuid.New(),
		addr:     addr,
		readBuf:  buffer.New(buffer.DefaultSize),
		writeBuf: buffer.New(buffer.DefaultSize),
		request:  http.NewRequest(cc.verifier),
		response: http.NewResponse(),
		ctx:      cc,
	}
	c.log = cc.log.WithFields(logrus.Fields{
		"conn": c.id.String(),
		"peer": addr.String(),
	})
	n := cc.users.Add(1)
	c.log.WithField("users", n).Debug("Client connected")
	return c
}

func (c *Conn) Fd() int              { return c.fd }
func (c *Conn) ID() uuid.UUID        { return c.id }
func (c *Conn) Addr() netip.AddrPort { return c.addr }
func (c *Conn) IsClosed() bool       { return c.closed.Load() }

// IsKeepAlive reports whether the last response asked to keep the connection.
func (c *Conn) IsKeepAlive() bool {
	return c.response.KeepAlive()
}

// ToWriteBytes returns the bytes of the current response not yet sent.
func (c *Conn) ToWriteBytes() int {
	return len(c.iov[0]) + len(c.iov[1])
}

// Read drains the socket into the read buffer: once in level-triggered
// mode, until EAGAIN in edge-triggered mode. An orderly shutdown by the
// peer is reported as io.EOF.
func (c *Conn) Read() (int, error) {
	total := 0
	for {
		n, err := c.readBuf.ReadFd(c.fd)
		total += n
		if err != nil {
			return total, err
		}
		if !c.ctx.edge {
			return total, nil
		}
	}
}

// Write gathers the response head and body into one writev per round.
// It loops while edge-triggered or while more than bigWrite bytes remain.
func (c *Conn) Write() (int, error) {
	total := 0
	for {
		n, err := c.writev()
		if n > 0 {
			c.advance(n)
			total += n
		}
		if err != nil {
			return total, err
		}
		remain := c.ToWriteBytes()
		if remain == 0 {
			return total, nil
		}
		if !c.ctx.edge && remain <= bigWrite {
			return total, nil
		}
	}
}

func (c *Conn) writev() (int, error) {
	segs := make([][]byte, 0, 2)
	for _, s := range c.iov {
		if len(s) > 0 {
			segs = append(segs, s)
		}
	}
	if len(segs) == 0 {
		return 0, nil
	}
	for {
		n, err := unix.Writev(c.fd, segs)
		if errors.Is(err, unix.EINTR) {
			continue
		}
		if n < 0 {
			n = 0
		}
		return n, err
	}
}

// advance drops n sent bytes from the front of the pending segments.
func (c *Conn) advance(n int) {
	head := len(c.iov[0])
	if n >= head {
		c.iov[1] = c.iov[1][n-head:]
		if head > 0 {
			c.writeBuf.RetrieveAll()
			c.iov[0] = nil
		}
		return
	}
	c.iov[0] = c.iov[0][n:]
	_ = c.writeBuf.Retrieve(n)
}

// Process parses what has been read and, once a request is complete or
// malformed, prepares the response. It returns false when there is
// nothing to send yet.
func (c *Conn) Process() bool {
	if c.request.State() == http.StateFinished {
		c.request.Init()
	}
	if c.readBuf.ReadableBytes() == 0 {
		return false
	}

	start := time.Now()
	done, err := c.request.Parse(c.readBuf)
	switch {
	case err != nil:
		c.log.WithError(err).Debug("Malformed request")
		c.response.Init(c.ctx.srcDir, c.request.Path(), false, 400)
		c.readBuf.RetrieveAll()
	case !done:
		return false
	default:
		c.response.Init(c.ctx.srcDir, c.request.Path(), c.request.IsKeepAlive(), 200)
	}

	c.response.MakeResponse(c.writeBuf)
	c.iov[0] = c.writeBuf.Peek()
	c.iov[1] = c.response.File()

	code := c.response.Code()
	method := c.request.Method()
	if method == "" {
		method = "-"
	}
	if err != nil {
		c.request.Init()
	}
	c.ctx.monitor.RecordRequest(routeMethod(method)+" "+strconv.Itoa(code), time.Since(start), code >= 400)
	c.log.WithFields(logrus.Fields{
		"method": method,
		"path":   c.response.Path(),
		"code":   code,
		"bytes":  c.ToWriteBytes(),
	}).Debug("Request processed")
	return true
}

// Close unmaps the response body and closes the socket. Only the first
// call has any effect.
func (c *Conn) Close() {
	if !c.closed.CompareAndSwap(false, true) {
		return
	}
	c.response.UnmapFile()
	c.iov = [2][]byte{}
	if err := unix.Close(c.fd); err != nil {
		c.log.WithError(err).Warn("⚠️  Close failed")
	}
	n := c.ctx.users.Add(-1)
	c.log.WithField("users", n).Debug("Client disconnected")
}

func sockaddrToAddrPort(sa unix.Sockaddr) netip.AddrPort {
	switch a := sa.(type) {
	case *unix.SockaddrInet4:
		return netip.AddrPortFrom(netip.AddrFrom4(a.Addr), uint16(a.Port))
	case *unix.SockaddrInet6:
		return netip.AddrPortFrom(netip.AddrFrom16(a.Addr), uint16(a.Port))
	}
	return netip.AddrPort{}
}

// routeMethod folds a client-supplied method into a fixed set of metric
// labels so the route table stays bounded.
func routeMethod(method string) string {
	switch method {
	case "GET", "POST", "HEAD", "-":
		return method
	default:
		return "OTHER"
	}
}
