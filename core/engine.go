package core

import (
	"encoding/binary"
	"errors"
	"fmt"
	"net/netip"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sys/unix"

	"github.com/azhanglai/LaiWebServer/core/http"
	"github.com/azhanglai/LaiWebServer/core/observability"
	"github.com/azhanglai/LaiWebServer/core/poller"
	"github.com/azhanglai/LaiWebServer/core/pools"
	"github.com/azhanglai/LaiWebServer/core/timer"
)

// Options configures an Engine.
type Options struct {
	Port      int  // 0 picks an ephemeral port
	TrigMode  int  // TrigLevel..TrigBothEdge; anything else means both edge
	TimeoutMS int  // idle timeout; <= 0 disables it
	OptLinger bool // graceful close with SO_LINGER 1s
	ThreadNum int
	MaxConns  int
	SrcDir    string

	Verifier http.UserVerifier
	Monitor  *observability.Monitor
	Logger   logrus.FieldLogger
}

// Engine is the reactor: one goroutine waits on epoll, accepts clients,
// runs the idle timers and hands socket work to the worker pool.
type Engine struct {
	opts    Options
	timeout time.Duration
	log     logrus.FieldLogger

	poller  poller.Poller
	timer   *timer.HeapTimer
	pool    *pools.WorkerPool
	monitor *observability.Monitor

	listenFd    int
	wakeFd      int
	listenEvent poller.Event
	connEvent   poller.Event

	users   atomic.Int64
	connCtx *connContext

	mu    sync.Mutex
	conns map[int]*Conn

	closed      atomic.Bool
	serving     atomic.Bool
	started     time.Time
	done        chan struct{}
	cleanupOnce sync.Once
}

// NewEngine creates the poller, timer heap and worker pool. Nothing is
// bound until Listen.
func NewEngine(opts Options) (*Engine, error) {
	if opts.Port < 0 || opts.Port > 65535 || (opts.Port > 0 && opts.Port < 1024) {
		return nil, ErrInvalidPort
	}
	if opts.MaxConns <= 0 {
		opts.MaxConns = 65536
	}
	if opts.Logger == nil {
		opts.Logger = logrus.StandardLogger()
	}
	if opts.Monitor == nil {
		opts.Monitor = observability.NewMonitor()
	}
	if opts.SrcDir != "" {
		if abs, err := filepath.Abs(opts.SrcDir); err == nil {
			opts.SrcDir = abs
		}
	}

	p, err := poller.NewPoller(poller.DefaultMaxEvents)
	if err != nil {
		return nil, fmt.Errorf("failed to create poller: %w", err)
	}
	return newEngine(opts, p), nil
}

func newEngine(opts Options, p poller.Poller) *Engine {
	e := &Engine{
		opts:     opts,
		timeout:  time.Duration(opts.TimeoutMS) * time.Millisecond,
		log:      opts.Logger.WithField("component", "engine"),
		poller:   p,
		timer:    timer.New(),
		pool:     pools.NewWorkerPool(opts.ThreadNum),
		monitor:  opts.Monitor,
		listenFd: -1,
		wakeFd:   -1,
		conns:    make(map[int]*Conn, 1024),
		done:     make(chan struct{}),
	}
	e.initEventMode(opts.TrigMode)
	e.connCtx = &connContext{
		srcDir:   opts.SrcDir,
		edge:     e.connEvent&poller.EventEdge != 0,
		verifier: opts.Verifier,
		users:    &e.users,
		monitor:  e.monitor,
		log:      opts.Logger,
	}
	return e
}

func (e *Engine) initEventMode(trigMode int) {
	e.listenEvent = poller.EventPeerHangup
	e.connEvent = poller.EventOneShot | poller.EventPeerHangup
	switch trigMode {
	case TrigLevel:
	case TrigConnEdge:
		e.connEvent |= poller.EventEdge
	case TrigListenEdge:
		e.listenEvent |= poller.EventEdge
	default:
		e.listenEvent |= poller.EventEdge
		e.connEvent |= poller.EventEdge
	}
}

// Listen binds the listening socket on all IPv4 interfaces.
func (e *Engine) Listen() error {
	if e.closed.Load() {
		return ErrEngineClosed
	}

	fd, err := unix.Socket(unix.AF_INET, unix.SOCK_STREAM|unix.SOCK_CLOEXEC, 0)
	if err != nil {
		return fmt.Errorf("socket: %w", err)
	}
	fail := func(op string, err error) error {
		unix.Close(fd)
		return fmt.Errorf("%s: %w", op, err)
	}

	linger := unix.Linger{}
	if e.opts.OptLinger {
		linger = unix.Linger{Onoff: 1, Linger: 1}
	}
	if err := unix.SetsockoptLinger(fd, unix.SOL_SOCKET, unix.SO_LINGER, &linger); err != nil {
		return fail("set SO_LINGER", err)
	}
	if err := unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_REUSEADDR, 1); err != nil {
		return fail("set SO_REUSEADDR", err)
	}
	if err := unix.Bind(fd, &unix.SockaddrInet4{Port: e.opts.Port}); err != nil {
		return fail("bind", err)
	}
	if err := unix.Listen(fd, listenBacklog); err != nil {
		return fail("listen", err)
	}
	if err := unix.SetNonblock(fd, true); err != nil {
		return fail("set nonblock", err)
	}
	if err := e.poller.Add(fd, poller.EventRead|e.listenEvent); err != nil {
		return fail("register listener", err)
	}

	wfd, err := unix.Eventfd(0, unix.EFD_NONBLOCK|unix.EFD_CLOEXEC)
	if err != nil {
		e.poller.Remove(fd)
		return fail("eventfd", err)
	}
	if err := e.poller.Add(wfd, poller.EventRead); err != nil {
		unix.Close(wfd)
		e.poller.Remove(fd)
		return fail("register eventfd", err)
	}

	e.listenFd = fd
	e.wakeFd = wfd
	e.started = time.Now()
	e.log.WithFields(logrus.Fields{
		"addr":    e.Addr().String(),
		"trig":    e.opts.TrigMode,
		"workers": e.opts.ThreadNum,
		"timeout": e.timeout,
		"linger":  e.opts.OptLinger,
	}).Info("🚀 Server listening")
	return nil
}

// Addr returns the bound address, or the zero value before Listen.
func (e *Engine) Addr() netip.AddrPort {
	if e.listenFd < 0 {
		return netip.AddrPort{}
	}
	sa, err := unix.Getsockname(e.listenFd)
	if err != nil {
		return netip.AddrPort{}
	}
	return sockaddrToAddrPort(sa)
}

// Run listens and serves until Shutdown.
func (e *Engine) Run() error {
	if err := e.Listen(); err != nil {
		return err
	}
	return e.Serve()
}

// Serve runs the event loop on the calling goroutine until Shutdown.
// Everything the engine owns is released before it returns.
func (e *Engine) Serve() error {
	if e.listenFd < 0 {
		return ErrNotListening
	}
	e.serving.Store(true)
	defer e.cleanup()

	for !e.closed.Load() {
		timeout := -1
		if e.timeout > 0 {
			if d, ok := e.timer.NextTick(); ok {
				timeout = int((d + time.Millisecond - 1) / time.Millisecond)
			}
		}

		n, err := e.poller.Wait(timeout)
		if err != nil {
			if e.closed.Load() {
				return nil
			}
			e.log.WithError(err).Error("❌ Poller wait failed")
			return err
		}

		for i := 0; i < n; i++ {
			fd := e.poller.EventFd(i)
			ev := e.poller.Events(i)

			switch {
			case fd == e.listenFd:
				e.dealListen()
			case fd == e.wakeFd:
				e.drainWake()
			case ev&(poller.EventPeerHangup|poller.EventHangup|poller.EventError) != 0:
				if c := e.lookup(fd); c != nil {
					e.closeFromReactor(c)
				}
			case ev&poller.EventRead != 0:
				if c := e.lookup(fd); c != nil {
					e.extendTime(c)
					e.dispatch(taskRead, c)
				}
			case ev&poller.EventWrite != 0:
				if c := e.lookup(fd); c != nil {
					e.extendTime(c)
					e.dispatch(taskWrite, c)
				}
			default:
				e.log.WithFields(logrus.Fields{"fd": fd, "events": ev}).Warn("⚠️  Unexpected event")
			}
		}
	}
	return nil
}

// Shutdown stops the event loop and waits until the engine has released
// its sockets, timers and workers. Queued tasks are drained first.
func (e *Engine) Shutdown() {
	if !e.closed.CompareAndSwap(false, true) {
		return
	}
	if e.serving.Load() {
		e.wake()
		<-e.done
		return
	}
	e.cleanup()
}

func (e *Engine) cleanup() {
	e.cleanupOnce.Do(func() {
		e.closed.Store(true)
		if e.listenFd >= 0 {
			e.poller.Remove(e.listenFd)
			unix.Close(e.listenFd)
		}

		e.pool.Close()

		e.mu.Lock()
		conns := make([]*Conn, 0, len(e.conns))
		for _, c := range e.conns {
			conns = append(conns, c)
		}
		e.mu.Unlock()
		for _, c := range conns {
			c.mu.Lock()
			e.closeConn(c)
			c.mu.Unlock()
		}

		e.timer.Clear()
		e.poller.Close()
		if e.wakeFd >= 0 {
			unix.Close(e.wakeFd)
		}
		e.log.WithField("served", e.monitor.TotalRequests()).Info("🛑 Server stopped")
		close(e.done)
	})
}

func (e *Engine) wake() {
	var b [8]byte
	binary.NativeEndian.PutUint64(b[:], 1)
	if _, err := unix.Write(e.wakeFd, b[:]); err != nil && !errors.Is(err, unix.EAGAIN) {
		e.log.WithError(err).Warn("⚠️  Wakeup failed")
	}
}

func (e *Engine) drainWake() {
	var b [8]byte
	unix.Read(e.wakeFd, b[:])
}

// dealListen accepts pending clients; one per event when the listener
// is level-triggered.
func (e *Engine) dealListen() {
	edge := e.listenEvent&poller.EventEdge != 0
	for {
		fd, sa, err := unix.Accept4(e.listenFd, unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC)
		if err != nil {
			if !errors.Is(err, unix.EAGAIN) && !errors.Is(err, unix.EINTR) {
				e.log.WithError(err).Warn("⚠️  Accept failed")
			}
			return
		}

		if e.users.Load() >= int64(e.opts.MaxConns) {
			e.rejectBusy(fd, sa)
		} else {
			e.addClient(fd, sa)
		}
		if !edge {
			return
		}
	}
}

func (e *Engine) rejectBusy(fd int, sa unix.Sockaddr) {
	e.monitor.RecordReject()
	unix.Write(fd, []byte(busyMessage))
	unix.Close(fd)
	e.log.WithField("peer", sockaddrToAddrPort(sa).String()).Warn("⚠️  Clients full, connection refused")
}

func (e *Engine) addClient(fd int, sa unix.Sockaddr) {
	c := newConn(fd, sockaddrToAddrPort(sa), e.connCtx)

	e.mu.Lock()
	e.conns[fd] = c
	e.mu.Unlock()

	if e.timeout > 0 {
		e.timer.Add(fd, e.timeout, e.onExpire)
	}
	if err := e.poller.Add(fd, poller.EventRead|e.connEvent); err != nil {
		c.log.WithError(err).Warn("⚠️  Register client failed")
		c.mu.Lock()
		e.closeConn(c)
		c.mu.Unlock()
		return
	}
	e.monitor.RecordAccept()
}

func (e *Engine) lookup(fd int) *Conn {
	e.mu.Lock()
	c := e.conns[fd]
	e.mu.Unlock()
	return c
}

// onExpire runs on the reactor from the timer heap.
func (e *Engine) onExpire(fd int) {
	c := e.lookup(fd)
	if c == nil {
		return
	}
	e.monitor.RecordTimeout()
	c.log.Debug("Idle timeout")
	e.closeFromReactor(c)
}

// closeFromReactor closes c now if no worker holds it, otherwise queues
// the close behind the running task.
func (e *Engine) closeFromReactor(c *Conn) {
	if c.mu.TryLock() {
		e.closeConn(c)
		c.mu.Unlock()
		return
	}
	e.dispatch(taskClose, c)
}

// closeConn tears down c; the caller holds c.mu. Registrations are
// dropped before the descriptor is closed so a reused fd is never
// confused with c.
func (e *Engine) closeConn(c *Conn) {
	if c.IsClosed() {
		return
	}
	e.poller.Remove(c.fd)
	e.timer.Remove(c.fd)

	e.mu.Lock()
	if e.conns[c.fd] == c {
		delete(e.conns, c.fd)
	}
	e.mu.Unlock()

	c.Close()
	e.monitor.RecordClose()
}

func (e *Engine) extendTime(c *Conn) {
	if e.timeout > 0 {
		e.timer.Adjust(c.fd, e.timeout)
	}
}

func (e *Engine) dispatch(kind taskKind, c *Conn) {
	t := connTask{kind: kind, conn: c, e: e}
	if !e.pool.Submit(t.run) {
		c.log.WithField("task", kind.String()).Debug("Task dropped, pool closed")
	}
}

// UserCount returns the number of open client connections.
func (e *Engine) UserCount() int64 {
	return e.users.Load()
}
