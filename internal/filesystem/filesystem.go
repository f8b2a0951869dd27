package filesystem

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// FileSystem is the storage the fetcher writes segments to
type FileSystem interface {
	OpenAt(path string, offset int64) (io.WriteCloser, error)
	Size(path string) (int64, error)
	DeleteFile(path string) error
	EnsureDirectory(path string) error
}

var _ FileSystem = (*OSFileSystem)(nil)

// OSFileSystem implements the FileSystem interface using OS file operations
type OSFileSystem struct{}

// NewOSFileSystem creates a new OS filesystem
func NewOSFileSystem() *OSFileSystem {
	return &OSFileSystem{}
}

// OpenAt opens path for writing positioned at offset. Bytes past offset are
// dropped, so a resumed fetch never keeps data it has not accounted for.
func (fs *OSFileSystem) OpenAt(path string, offset int64) (io.WriteCloser, error) {
	if offset < 0 {
		return nil, fmt.Errorf("negative offset %d for %s", offset, path)
	}

	if err := fs.EnsureDirectory(filepath.Dir(path)); err != nil {
		return nil, err
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, err
	}

	if err := f.Truncate(offset); err != nil {
		f.Close()
		return nil, err
	}

	if _, err := f.Seek(offset, io.SeekStart); err != nil {
		f.Close()
		return nil, err
	}

	return f, nil
}

// Size returns the size of path, 0 when it does not exist
func (fs *OSFileSystem) Size(path string) (int64, error) {
	info, err := os.Stat(path)
	if err == nil {
		return info.Size(), nil
	}
	if os.IsNotExist(err) {
		return 0, nil
	}
	return 0, err
}

// DeleteFile deletes a file
func (fs *OSFileSystem) DeleteFile(path string) error {
	return os.Remove(path)
}

// EnsureDirectory ensures a directory exists
func (fs *OSFileSystem) EnsureDirectory(path string) error {
	return os.MkdirAll(path, 0o755)
}
