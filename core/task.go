package core

import (
	"errors"

	"golang.org/x/sys/unix"

	"github.com/azhanglai/LaiWebServer/core/poller"
)

type taskKind uint8

const (
	taskRead taskKind = iota
	taskWrite
	taskClose
)

func (k taskKind) String() string {
	switch k {
	case taskRead:
		return "read"
	case taskWrite:
		return "write"
	default:
		return "close"
	}
}

// connTask is the unit of work handed to the worker pool.
type connTask struct {
	kind taskKind
	conn *Conn
	e    *Engine
}

func (t connTask) run() {
	c := t.conn
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.IsClosed() {
		return
	}
	switch t.kind {
	case taskRead:
		t.e.onRead(c)
	case taskWrite:
		t.e.onWrite(c)
	case taskClose:
		t.e.closeConn(c)
	}
}

// onRead, onWrite and onProcess run on a worker with c.mu held.

func (e *Engine) onRead(c *Conn) {
	_, err := c.Read()
	if err != nil && !errors.Is(err, unix.EAGAIN) {
		e.closeConn(c)
		return
	}
	e.onProcess(c)
}

func (e *Engine) onProcess(c *Conn) {
	ev := e.connEvent | poller.EventRead
	if c.Process() {
		ev = e.connEvent | poller.EventWrite
	}
	if err := e.poller.Modify(c.fd, ev); err != nil {
		c.log.WithError(err).Warn("⚠️  Re-arm failed")
		e.closeConn(c)
	}
}

func (e *Engine) onWrite(c *Conn) {
	_, err := c.Write()
	if c.ToWriteBytes() == 0 {
		if c.IsKeepAlive() {
			e.onProcess(c)
			return
		}
		e.closeConn(c)
		return
	}
	if err == nil || errors.Is(err, unix.EAGAIN) {
		if err := e.poller.Modify(c.fd, e.connEvent|poller.EventWrite); err != nil {
			c.log.WithError(err).Warn("⚠️  Re-arm failed")
			e.closeConn(c)
		}
		return
	}
	c.log.WithError(err).Debug("Write failed")
	e.closeConn(c)
}
