// Package memory provides a bytes.Reader-backed backend.Storage, used
// by unit tests that construct synthetic images by hand instead of
// opening a real file.
package memory

import (
	"bytes"
	"io/fs"
	"os"
	"time"

	"github.com/nalbion/ext4ro/backend"
)

// Storage is an in-memory backend.Storage over a fixed byte slice.
type Storage struct {
	name string
	r    *bytes.Reader
	data []byte
}

// New wraps data as a backend.Storage. data is not copied; callers
// must not mutate it while the Storage is in use.
func New(name string, data []byte) *Storage {
	return &Storage{name: name, r: bytes.NewReader(data), data: data}
}

var _ backend.Storage = (*Storage)(nil)

func (s *Storage) Stat() (fs.FileInfo, error) {
	return fileInfo{name: s.name, size: int64(len(s.data))}, nil
}

func (s *Storage) Read(b []byte) (int, error) {
	return s.r.Read(b)
}

func (s *Storage) ReadAt(b []byte, off int64) (int, error) {
	return s.r.ReadAt(b, off)
}

func (s *Storage) Close() error {
	return nil
}

// Sys has nothing backing it for an in-memory image.
func (s *Storage) Sys() (*os.File, error) {
	return nil, backend.ErrNotSuitable
}

type fileInfo struct {
	name string
	size int64
}

func (fi fileInfo) Name() string       { return fi.name }
func (fi fileInfo) Size() int64        { return fi.size }
func (fi fileInfo) Mode() fs.FileMode  { return 0o444 }
func (fi fileInfo) ModTime() time.Time { return time.Time{} }
func (fi fileInfo) IsDir() bool        { return false }
func (fi fileInfo) Sys() any           { return nil }
