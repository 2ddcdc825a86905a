// Package file provides an *os.File-backed backend.Storage for real
// ext4 images and devices on disk.
package file

import (
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/nalbion/ext4ro/backend"
)

type rawBackend struct {
	storage fs.File
}

// New wraps an already-open file as a backend.Storage.
func New(f fs.File) backend.Storage {
	return rawBackend{storage: f}
}

// OpenFromPath opens a device or image file read-only.
// The provided device/file must exist at the time you call OpenFromPath().
func OpenFromPath(pathName string) (backend.Storage, error) {
	if pathName == "" {
		return nil, errors.New("must pass a device or file name")
	}
	if _, err := os.Stat(pathName); os.IsNotExist(err) {
		return nil, fmt.Errorf("provided device/file %s does not exist", pathName)
	}

	f, err := os.OpenFile(pathName, os.O_RDONLY, 0)
	if err != nil {
		return nil, fmt.Errorf("could not open device %s: %w", pathName, err)
	}

	return rawBackend{storage: f}, nil
}

// backend.Storage interface guard
var _ backend.Storage = (*rawBackend)(nil)

// Sys returns the underlying *os.File for ioctl-style calls.
func (f rawBackend) Sys() (*os.File, error) {
	if osFile, ok := f.storage.(*os.File); ok {
		return osFile, nil
	}
	return nil, backend.ErrNotSuitable
}

func (f rawBackend) Stat() (fs.FileInfo, error) {
	return f.storage.Stat()
}

func (f rawBackend) Read(b []byte) (int, error) {
	return f.storage.Read(b)
}

func (f rawBackend) Close() error {
	return f.storage.Close()
}

func (f rawBackend) ReadAt(p []byte, off int64) (int, error) {
	if readerAt, ok := f.storage.(interface {
		ReadAt([]byte, int64) (int, error)
	}); ok {
		return readerAt.ReadAt(p, off)
	}
	return -1, backend.ErrNotSuitable
}
