package buffer

import (
	"bytes"
	"errors"
	"io"
	"os"
	"testing"

	"golang.org/x/sys/unix"
)

func checkInvariant(t *testing.T, b *Buffer) {
	t.Helper()
	total := b.ReadableBytes() + b.PrependableBytes() + b.WritableBytes()
	if total != b.Cap() {
		t.Fatalf("readable+prependable+writable = %d, cap = %d", total, b.Cap())
	}
}

func TestBufferAppendRetrieve(t *testing.T) {
	b := New(8)
	checkInvariant(t, b)

	b.AppendString("hello")
	checkInvariant(t, b)
	if got := b.ReadableBytes(); got != 5 {
		t.Fatalf("Expected 5 readable bytes, got %d", got)
	}

	if err := b.Retrieve(2); err != nil {
		t.Fatalf("Retrieve(2) failed: %v", err)
	}
	if got := string(b.Peek()); got != "llo" {
		t.Errorf("Expected llo, got %q", got)
	}
	if got := b.PrependableBytes(); got != 2 {
		t.Errorf("Expected 2 prependable bytes, got %d", got)
	}
	checkInvariant(t, b)

	if err := b.Retrieve(4); !errors.Is(err, ErrRetrieveOverflow) {
		t.Errorf("Expected ErrRetrieveOverflow, got %v", err)
	}
	if got := string(b.Peek()); got != "llo" {
		t.Errorf("Failed retrieve moved the cursor: %q", got)
	}
}

func TestBufferGrowthKeepsUnreadBytes(t *testing.T) {
	b := New(8)
	b.AppendString("abcdef")
	_ = b.Retrieve(4)

	// 2 writable + 4 prependable: sliding is enough, capacity stays.
	b.AppendString("ghij")
	if b.Cap() != 8 {
		t.Errorf("Expected slide without realloc, cap = %d", b.Cap())
	}
	if got := string(b.Peek()); got != "efghij" {
		t.Errorf("Expected efghij, got %q", got)
	}
	checkInvariant(t, b)

	// Not enough room anywhere: realloc to writePos + n + 1.
	b.AppendString("klmnopqrst")
	if got := string(b.Peek()); got != "efghijklmnopqrst" {
		t.Errorf("Expected efghijklmnopqrst, got %q", got)
	}
	if b.Cap() < 16 {
		t.Errorf("Expected growth, cap = %d", b.Cap())
	}
	checkInvariant(t, b)
}

func TestBufferInvariantUnderMixedOps(t *testing.T) {
	b := New(4)
	var model []byte
	chunks := []string{"a", "bcd", "efghijk", "", "lmnopqrstuvwxyz", "0123456789"}
	for i, c := range chunks {
		b.AppendString(c)
		model = append(model, c...)
		checkInvariant(t, b)

		n := (i * 3) % (b.ReadableBytes() + 1)
		if err := b.Retrieve(n); err != nil {
			t.Fatalf("Retrieve(%d) failed: %v", n, err)
		}
		model = model[n:]
		checkInvariant(t, b)

		if !bytes.Equal(b.Peek(), model) {
			t.Fatalf("step %d: buffer %q, model %q", i, b.Peek(), model)
		}
	}
}

func TestBufferRoundTrip(t *testing.T) {
	payload := bytes.Repeat([]byte("round-trip "), 300)
	b := New(0)
	b.Append(payload)

	got := make([]byte, len(payload))
	copy(got, b.Peek())
	if err := b.Retrieve(len(payload)); err != nil {
		t.Fatalf("Retrieve failed: %v", err)
	}
	if !bytes.Equal(got, payload) {
		t.Error("Round trip changed the payload")
	}
	if b.ReadableBytes() != 0 {
		t.Errorf("Expected empty buffer, got %d readable", b.ReadableBytes())
	}
}

func TestBufferRetrieveAll(t *testing.T) {
	b := New(16)
	b.AppendString("GET / HTTP/1.1")
	if s := b.RetrieveAllString(); s != "GET / HTTP/1.1" {
		t.Errorf("Expected request line, got %q", s)
	}
	if b.ReadableBytes() != 0 || b.PrependableBytes() != 0 {
		t.Error("Cursors not reset")
	}
	for _, c := range b.BeginWrite() {
		if c != 0 {
			t.Fatal("Storage not zeroed")
		}
	}
}

func TestBufferBeginWriteHasWritten(t *testing.T) {
	b := New(8)
	b.AppendString("ab")
	b.EnsureWritable(4)

	n := copy(b.BeginWrite(), "cdef")
	b.HasWritten(n)
	if got := string(b.Peek()); got != "abcdef" {
		t.Errorf("Expected abcdef, got %q", got)
	}
	checkInvariant(t, b)

	b.HasWritten(0)
	if b.ReadableBytes() != 6 {
		t.Errorf("HasWritten(0) moved the cursor: %d readable", b.ReadableBytes())
	}
}

func TestBufferReadFdOverflow(t *testing.T) {
	r, w, err := os.Pipe()
	if err != nil {
		t.Fatal(err)
	}
	defer r.Close()
	defer w.Close()

	payload := bytes.Repeat([]byte("0123456789"), 500)
	if _, err := w.Write(payload); err != nil {
		t.Fatal(err)
	}

	b := New(16)
	n, err := b.ReadFd(int(r.Fd()))
	if err != nil {
		t.Fatalf("ReadFd failed: %v", err)
	}
	if n != len(payload) {
		t.Fatalf("Expected %d bytes, got %d", len(payload), n)
	}
	if !bytes.Equal(b.Peek(), payload) {
		t.Error("Scatter read reordered bytes")
	}
	checkInvariant(t, b)
}

func TestBufferReadFdEOF(t *testing.T) {
	r, w, err := os.Pipe()
	if err != nil {
		t.Fatal(err)
	}
	defer r.Close()
	w.Close()

	b := New(16)
	if _, err := b.ReadFd(int(r.Fd())); !errors.Is(err, io.EOF) {
		t.Errorf("Expected io.EOF, got %v", err)
	}
}

func TestBufferReadFdAgain(t *testing.T) {
	fds, err := unix.Socketpair(unix.AF_UNIX, unix.SOCK_STREAM|unix.SOCK_NONBLOCK, 0)
	if err != nil {
		t.Fatal(err)
	}
	defer unix.Close(fds[0])
	defer unix.Close(fds[1])

	b := New(16)
	n, err := b.ReadFd(fds[0])
	if !errors.Is(err, unix.EAGAIN) {
		t.Errorf("Expected EAGAIN, got %v", err)
	}
	if n != 0 || b.ReadableBytes() != 0 {
		t.Errorf("Expected no data, got n=%d readable=%d", n, b.ReadableBytes())
	}
}

func TestBufferWriteFd(t *testing.T) {
	r, w, err := os.Pipe()
	if err != nil {
		t.Fatal(err)
	}
	defer r.Close()
	defer w.Close()

	b := New(4)
	b.AppendString("HTTP/1.1 200 OK\r\n")
	n, err := b.WriteFd(int(w.Fd()))
	if err != nil {
		t.Fatalf("WriteFd failed: %v", err)
	}
	if n != 17 || b.ReadableBytes() != 0 {
		t.Errorf("Expected all 17 bytes consumed, n=%d readable=%d", n, b.ReadableBytes())
	}

	got := make([]byte, 17)
	if _, err := io.ReadFull(r, got); err != nil {
		t.Fatal(err)
	}
	if string(got) != "HTTP/1.1 200 OK\r\n" {
		t.Errorf("Unexpected bytes on pipe: %q", got)
	}
}

func TestBufferWriteFdErrorKeepsCursors(t *testing.T) {
	b := New(4)
	b.AppendString("data")
	if _, err := b.WriteFd(-1); err == nil {
		t.Fatal("Expected error writing to invalid fd")
	}
	if b.ReadableBytes() != 4 {
		t.Errorf("Cursor moved on error: readable=%d", b.ReadableBytes())
	}
}

func BenchmarkBufferAppendRetrieve(b *testing.B) {
	buf := New(DefaultSize)
	line := []byte("Content-Type: text/html\r\n")
	b.ReportAllocs()
	for i := 0; i < b.N; i++ {
		buf.Append(line)
		_ = buf.Retrieve(len(line))
	}
}
