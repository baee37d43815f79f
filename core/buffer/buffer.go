// Package buffer implements the growable connection buffer.
//
// A Buffer keeps two cursors over one contiguous slice:
//
//	+-------------------+------------------+------------------+
//	| prependable bytes |  readable bytes  |  writable bytes  |
//	+-------------------+------------------+------------------+
//	0      <=      readPos      <=     writePos     <=     len(buf)
//
// Bytes before readPos have been consumed and may be reclaimed by sliding
// the readable region back to offset 0.
package buffer

import (
	"errors"
	"io"

	"golang.org/x/sys/unix"

	"github.com/azhanglai/LaiWebServer/core/pools"
)

// DefaultSize is the initial capacity of a connection buffer.
const DefaultSize = 1024

// ErrRetrieveOverflow is returned when more bytes are retrieved than are readable.
var ErrRetrieveOverflow = errors.New("buffer: retrieve beyond readable bytes")

// Buffer is a byte container with separate read and write cursors.
// It is not safe for concurrent use.
type Buffer struct {
	buf      []byte
	readPos  int
	writePos int
}

// New creates a buffer with the given initial capacity.
func New(size int) *Buffer {
	if size <= 0 {
		size = DefaultSize
	}
	return &Buffer{buf: make([]byte, size)}
}

// ReadableBytes returns the number of unread bytes.
func (b *Buffer) ReadableBytes() int {
	return b.writePos - b.readPos
}

// WritableBytes returns the free space after the write cursor.
func (b *Buffer) WritableBytes() int {
	return len(b.buf) - b.writePos
}

// PrependableBytes returns the number of consumed bytes before the read cursor.
func (b *Buffer) PrependableBytes() int {
	return b.readPos
}

// Cap returns the total capacity.
func (b *Buffer) Cap() int {
	return len(b.buf)
}

// Peek returns the unread region. The slice aliases the buffer and is
// valid until the next mutating call.
func (b *Buffer) Peek() []byte {
	return b.buf[b.readPos:b.writePos]
}

// Retrieve advances the read cursor by n bytes.
func (b *Buffer) Retrieve(n int) error {
	if n < 0 || n > b.ReadableBytes() {
		return ErrRetrieveOverflow
	}
	b.readPos += n
	return nil
}

// RetrieveAll resets both cursors and zeroes the storage.
func (b *Buffer) RetrieveAll() {
	clear(b.buf)
	b.readPos = 0
	b.writePos = 0
}

// RetrieveAllString returns the unread region as a string and resets the buffer.
func (b *Buffer) RetrieveAllString() string {
	s := string(b.Peek())
	b.RetrieveAll()
	return s
}

// BeginWrite returns the writable tail.
func (b *Buffer) BeginWrite() []byte {
	return b.buf[b.writePos:]
}

// HasWritten advances the write cursor after data was copied into BeginWrite.
func (b *Buffer) HasWritten(n int) {
	b.writePos += n
}

// EnsureWritable guarantees at least n writable bytes.
func (b *Buffer) EnsureWritable(n int) {
	if b.WritableBytes() < n {
		b.makeSpace(n)
	}
}

func (b *Buffer) makeSpace(n int) {
	if b.WritableBytes()+b.PrependableBytes() < n {
		grown := make([]byte, b.writePos+n+1)
		copy(grown, b.buf[:b.writePos])
		b.buf = grown
		return
	}
	readable := b.ReadableBytes()
	copy(b.buf, b.buf[b.readPos:b.writePos])
	b.readPos = 0
	b.writePos = readable
}

// Append copies p into the buffer, growing it when needed.
func (b *Buffer) Append(p []byte) {
	b.EnsureWritable(len(p))
	b.HasWritten(copy(b.BeginWrite(), p))
}

// AppendString copies s into the buffer.
func (b *Buffer) AppendString(s string) {
	b.EnsureWritable(len(s))
	b.HasWritten(copy(b.BeginWrite(), s))
}

// Write implements io.Writer. It never fails.
func (b *Buffer) Write(p []byte) (int, error) {
	b.Append(p)
	return len(p), nil
}

// ReadFd drains fd with a single readv into the writable tail and a pooled
// scratch area; overflow that landed in the scratch area is appended.
// An orderly shutdown by the peer is reported as io.EOF.
func (b *Buffer) ReadFd(fd int) (int, error) {
	scratch := pools.GetBytes(pools.ScratchSize)
	defer pools.PutBytes(scratch)

	writable := b.WritableBytes()
	n, err := unix.Readv(fd, [][]byte{b.buf[b.writePos:], scratch})
	if err != nil {
		return 0, err
	}
	if n == 0 {
		return 0, io.EOF
	}
	if n <= writable {
		b.writePos += n
	} else {
		b.writePos = len(b.buf)
		b.Append(scratch[:n-writable])
	}
	return n, nil
}

// WriteFd writes the unread region to fd with one write call and advances
// the read cursor by the amount accepted. Cursors are untouched on error.
func (b *Buffer) WriteFd(fd int) (int, error) {
	n, err := unix.Write(fd, b.Peek())
	if err != nil {
		return 0, err
	}
	b.readPos += n
	return n, nil
}
