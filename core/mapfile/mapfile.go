// Package mapfile provides read-only memory-mapped views of static files.
// A File is owned by exactly one response and must be closed by it.
package mapfile

import (
	"fmt"
	"os"

	"golang.org/x/sys/unix"
)

// File is a private read-only mapping of a regular file.
type File struct {
	data []byte
	size int64
}

// Open maps the file at path. Empty files yield a File with no mapping.
func Open(path string) (*File, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, err
	}
	if info.IsDir() {
		return nil, fmt.Errorf("mapfile: %s is a directory", path)
	}

	size := info.Size()
	if size == 0 {
		return &File{}, nil
	}

	data, err := unix.Mmap(int(f.Fd()), 0, int(size), unix.PROT_READ, unix.MAP_PRIVATE)
	if err != nil {
		return nil, fmt.Errorf("mapfile: mmap %s: %w", path, err)
	}
	return &File{data: data, size: size}, nil
}

// Bytes returns the mapped contents; nil after Close.
func (f *File) Bytes() []byte {
	return f.data
}

// Len returns the mapped length.
func (f *File) Len() int {
	return len(f.data)
}

// Close unmaps the file. It is safe to call more than once.
func (f *File) Close() error {
	if f.data == nil {
		return nil
	}
	err := unix.Munmap(f.data)
	f.data = nil
	return err
}
