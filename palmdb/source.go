// Package palmdb parses the PalmDB container framing used by PalmDOC and
// MOBI files: a fixed-size database header followed by a record index and
// the record payloads themselves.
package palmdb

import (
	"fmt"
	"io"
	"os"
)

// Source is a random-access, read-only view over an input file. Reads that
// would run past the end of the source fail rather than returning a short
// read.
type Source interface {
	// Len returns the total number of bytes in the source.
	Len() int64
	// ReadAt returns exactly count bytes starting at offset, or an error.
	ReadAt(offset int64, count int64) ([]byte, error)
}

// memSource is a Source backed by an in-memory byte slice.
type memSource struct {
	data []byte
}

// NewMemSource wraps an in-memory byte slice as a Source. Useful for tests
// and for callers that have already read a whole file into memory.
func NewMemSource(data []byte) Source {
	return &memSource{data: data}
}

func (m *memSource) Len() int64 { return int64(len(m.data)) }

func (m *memSource) ReadAt(offset int64, count int64) ([]byte, error) {
	if offset < 0 || count < 0 || offset+count > int64(len(m.data)) {
		return nil, fmt.Errorf("palmdb: read at %d len %d exceeds source length %d", offset, count, len(m.data))
	}
	out := make([]byte, count)
	copy(out, m.data[offset:offset+count])
	return out, nil
}

// fileSource is a Source backed by an os.File opened for reading.
type fileSource struct {
	f    *os.File
	size int64
}

// OpenFile opens path and returns a Source over its contents. The caller
// must call Close when done.
func OpenFile(path string) (*fileSource, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("palmdb: open %s: %w", path, err)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("palmdb: stat %s: %w", path, err)
	}
	return &fileSource{f: f, size: info.Size()}, nil
}

func (s *fileSource) Len() int64 { return s.size }

func (s *fileSource) ReadAt(offset int64, count int64) ([]byte, error) {
	if offset < 0 || count < 0 || offset+count > s.size {
		return nil, fmt.Errorf("palmdb: read at %d len %d exceeds file length %d", offset, count, s.size)
	}
	buf := make([]byte, count)
	n, err := s.f.ReadAt(buf, offset)
	if err != nil && err != io.EOF {
		return nil, fmt.Errorf("palmdb: read at %d: %w", offset, err)
	}
	if int64(n) != count {
		return nil, fmt.Errorf("palmdb: short read at %d: got %d of %d bytes", offset, n, count)
	}
	return buf, nil
}

// Close releases the underlying file handle.
func (s *fileSource) Close() error {
	return s.f.Close()
}
