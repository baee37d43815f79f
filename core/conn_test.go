package core

import (
	"bytes"
	"io"
	"net/netip"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus/hooks/test"
	"golang.org/x/sys/unix"

	"github.com/azhanglai/LaiWebServer/core/poller"
)

// recordingPoller records registrations instead of talking to epoll.
type recordingPoller struct {
	mu      sync.Mutex
	events  map[int]poller.Event
	removed []int
}

func newRecordingPoller() *recordingPoller {
	return &recordingPoller{events: make(map[int]poller.Event)}
}

func (p *recordingPoller) Add(fd int, ev poller.Event) error { return p.Modify(fd, ev) }
func (p *recordingPoller) Wait(int) (int, error)             { return 0, nil }
func (p *recordingPoller) EventFd(int) int                   { return -1 }
func (p *recordingPoller) Events(int) poller.Event           { return 0 }
func (p *recordingPoller) Close() error                      { return nil }

func (p *recordingPoller) Modify(fd int, ev poller.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events[fd] = ev
	return nil
}

func (p *recordingPoller) Remove(fd int) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.events, fd)
	p.removed = append(p.removed, fd)
	return nil
}

func (p *recordingPoller) event(fd int) poller.Event {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.events[fd]
}

func newTestEngine(t *testing.T, p poller.Poller, srcDir string, trigMode int) *Engine {
	t.Helper()
	logger, _ := test.NewNullLogger()
	e := newEngine(Options{SrcDir: srcDir, TrigMode: trigMode, ThreadNum: 1, MaxConns: 16, Logger: logger}, p)
	t.Cleanup(e.pool.Close)
	return e
}

// socketPair returns a server-side Conn and the nonblocking client end.
func socketPair(t *testing.T, e *Engine) (*Conn, int) {
	t.Helper()
	fds, err := unix.Socketpair(unix.AF_UNIX, unix.SOCK_STREAM|unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC, 0)
	if err != nil {
		t.Fatal(err)
	}
	c := newConn(fds[0], netip.AddrPort{}, e.connCtx)
	e.conns[c.fd] = c
	t.Cleanup(func() {
		c.Close()
		unix.Close(fds[1])
	})
	return c, fds[1]
}

func writeAll(t *testing.T, fd int, s string) {
	t.Helper()
	if _, err := unix.Write(fd, []byte(s)); err != nil {
		t.Fatal(err)
	}
}

// readAvailable reads until the peer would block.
func readAvailable(fd int) []byte {
	var out []byte
	buf := make([]byte, 64<<10)
	for {
		n, err := unix.Read(fd, buf)
		if n > 0 {
			out = append(out, buf[:n]...)
		}
		if err != nil || n <= 0 {
			return out
		}
	}
}

func resourceDir(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	files := map[string]string{
		"index.html":   "<html>index</html>",
		"404.html":     "<html>not found</html>",
		"400.html":     "<html>bad request</html>",
		"welcome.html": "<html>welcome</html>",
		"error.html":   "<html>error</html>",
		"login.html":   "<html>login</html>",
	}
	for name, content := range files {
		if err := os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	return dir
}

func TestConnCloseIsIdempotent(t *testing.T) {
	e := newTestEngine(t, newRecordingPoller(), t.TempDir(), TrigLevel)
	c, _ := socketPair(t, e)

	if e.UserCount() != 1 {
		t.Fatalf("Expected 1 user, got %d", e.UserCount())
	}
	c.Close()
	c.Close()
	if e.UserCount() != 0 {
		t.Errorf("Expected 0 users after double close, got %d", e.UserCount())
	}
	if !c.IsClosed() {
		t.Error("Expected conn closed")
	}
}

func TestConnReadProcessWrite(t *testing.T) {
	dir := resourceDir(t)
	e := newTestEngine(t, newRecordingPoller(), dir, TrigLevel)
	c, peer := socketPair(t, e)

	writeAll(t, peer, "GET / HTTP/1.1\r\nConnection: keep-alive\r\n\r\n")
	if n, err := c.Read(); n == 0 || err != nil {
		t.Fatalf("Read = %d, %v", n, err)
	}
	if !c.Process() {
		t.Fatal("Expected a response for a complete request")
	}
	if !c.IsKeepAlive() {
		t.Error("Expected keep-alive response")
	}
	if _, err := c.Write(); err != nil {
		t.Fatal(err)
	}
	if c.ToWriteBytes() != 0 {
		t.Fatalf("Expected everything written, %d left", c.ToWriteBytes())
	}

	got := string(readAvailable(peer))
	if !strings.HasPrefix(got, "HTTP/1.1 200 OK\r\n") || !strings.HasSuffix(got, "<html>index</html>") {
		t.Errorf("Unexpected response %q", got)
	}
}

func TestConnReadReportsEOF(t *testing.T) {
	e := newTestEngine(t, newRecordingPoller(), t.TempDir(), TrigBothEdge)
	c, peer := socketPair(t, e)

	writeAll(t, peer, "GET / HTTP/1.1\r\n")
	unix.Shutdown(peer, unix.SHUT_WR)

	n, err := c.Read()
	if n != len("GET / HTTP/1.1\r\n") || err != io.EOF {
		t.Errorf("Read = %d, %v; want all bytes then EOF", n, err)
	}
}

func TestConnProcessIncompleteAndMalformed(t *testing.T) {
	dir := resourceDir(t)
	e := newTestEngine(t, newRecordingPoller(), dir, TrigLevel)
	c, peer := socketPair(t, e)

	if c.Process() {
		t.Fatal("Process with an empty buffer returned true")
	}

	writeAll(t, peer, "GET /index HTTP/1.1\r\nHost:")
	c.Read()
	if c.Process() {
		t.Fatal("Process of an incomplete request returned true")
	}

	c2, peer2 := socketPair(t, e)
	writeAll(t, peer2, "garbage\r\n\r\n")
	c2.Read()
	if !c2.Process() {
		t.Fatal("Expected an error response")
	}
	if c2.IsKeepAlive() {
		t.Error("Error response must not keep the connection")
	}
	c2.Write()
	got := string(readAvailable(peer2))
	if !strings.HasPrefix(got, "HTTP/1.1 400 Bad Request\r\nConnection: close\r\n") ||
		!strings.HasSuffix(got, "<html>bad request</html>") {
		t.Errorf("Unexpected response %q", got)
	}
}

func TestConnWriteBackPressureRearms(t *testing.T) {
	dir := resourceDir(t)
	big := bytes.Repeat([]byte("0123456789abcdef"), 256<<10) // 4 MiB
	if err := os.WriteFile(filepath.Join(dir, "big.txt"), big, 0o644); err != nil {
		t.Fatal(err)
	}

	p := newRecordingPoller()
	e := newTestEngine(t, p, dir, TrigLevel)
	c, peer := socketPair(t, e)

	writeAll(t, peer, "GET /big.txt HTTP/1.1\r\n\r\n")
	c.mu.Lock()
	e.onRead(c)
	c.mu.Unlock()
	if p.event(c.fd)&poller.EventWrite == 0 {
		t.Fatalf("Expected writable interest after processing, got %v", p.event(c.fd))
	}

	c.mu.Lock()
	e.onWrite(c)
	c.mu.Unlock()
	if c.IsClosed() {
		t.Fatal("Connection closed with data still pending")
	}
	if c.ToWriteBytes() == 0 {
		t.Fatal("Expected the socket buffer to fill before 4 MiB were written")
	}
	if p.event(c.fd) != e.connEvent|poller.EventWrite {
		t.Errorf("Expected re-arm for writing, got %v", p.event(c.fd))
	}

	// Drain the peer while the engine keeps writing.
	var received []byte
	deadline := time.Now().Add(10 * time.Second)
	for !c.IsClosed() && time.Now().Before(deadline) {
		received = append(received, readAvailable(peer)...)
		c.mu.Lock()
		if !c.IsClosed() {
			e.onWrite(c)
		}
		c.mu.Unlock()
	}
	received = append(received, readAvailable(peer)...)

	if !c.IsClosed() {
		t.Fatal("Connection without keep-alive was not closed after the response")
	}
	i := bytes.Index(received, []byte("\r\n\r\n"))
	if i < 0 || !bytes.Equal(received[i+4:], big) {
		t.Errorf("Body mismatch: got %d bytes after the head", len(received)-i-4)
	}
	if e.UserCount() != 0 {
		t.Errorf("Expected 0 users, got %d", e.UserCount())
	}
	if _, ok := e.conns[c.fd]; ok {
		t.Error("Closed connection still in the table")
	}
}

func TestCloseFromReactorDefersToBusyWorker(t *testing.T) {
	p := newRecordingPoller()
	e := newTestEngine(t, p, t.TempDir(), TrigLevel)
	c, _ := socketPair(t, e)

	c.mu.Lock()
	e.closeFromReactor(c)
	if c.IsClosed() {
		c.mu.Unlock()
		t.Fatal("Reactor closed a connection held by a worker")
	}
	c.mu.Unlock()

	deadline := time.Now().Add(5 * time.Second)
	for !c.IsClosed() && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	if !c.IsClosed() {
		t.Fatal("Queued close task never ran")
	}
	if len(p.removed) != 1 || p.removed[0] != c.fd {
		t.Errorf("Expected one deregistration, got %v", p.removed)
	}
}
