// Package local provides an ocfl.WriteFS backed by a local directory.
package local

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/preservio/ocfl"
)

const (
	dirPerm  = 0755
	filePerm = 0644
)

// FS is an ocfl.WriteFS rooted at a directory on the local filesystem.
type FS struct {
	iofs fs.FS
	// os-specific path of the base directory
	path string
}

var (
	_ ocfl.WriteFS = (*FS)(nil)
	_ ocfl.CopyFS  = (*FS)(nil)
)

// NewFS returns an FS rooted at dir, creating it if necessary.
func NewFS(dir string) (*FS, error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("local backend: %w", err)
	}
	if err := os.MkdirAll(abs, dirPerm); err != nil {
		return nil, fmt.Errorf("local backend: %w", err)
	}
	return &FS{path: abs, iofs: os.DirFS(abs)}, nil
}

// Root returns the os-specific path of the backend's base directory.
func (fsys *FS) Root() string {
	return fsys.path
}

func (fsys *FS) OpenFile(ctx context.Context, name string) (fs.File, error) {
	if err := ctx.Err(); err != nil {
		return nil, &fs.PathError{Op: "openfile", Path: name, Err: err}
	}
	return fsys.iofs.Open(name)
}

func (fsys *FS) ReadDir(ctx context.Context, name string) ([]fs.DirEntry, error) {
	if err := ctx.Err(); err != nil {
		return nil, &fs.PathError{Op: "readdir", Path: name, Err: err}
	}
	return fs.ReadDir(fsys.iofs, name)
}

func (fsys *FS) Write(ctx context.Context, name string, src io.Reader) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, &fs.PathError{Op: "write", Path: name, Err: err}
	}
	if !fs.ValidPath(name) || name == "." {
		return 0, &fs.PathError{Op: "write", Path: name, Err: fs.ErrInvalid}
	}
	fullPath := filepath.Join(fsys.path, filepath.FromSlash(name))
	if err := os.MkdirAll(filepath.Dir(fullPath), dirPerm); err != nil {
		return 0, &fs.PathError{Op: "write", Path: name, Err: err}
	}
	dst, err := os.OpenFile(fullPath, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, filePerm)
	if err != nil {
		return 0, err
	}
	n, err := io.Copy(dst, src)
	if closeErr := dst.Close(); closeErr != nil {
		err = errors.Join(err, closeErr)
	}
	return n, err
}

func (fsys *FS) Remove(ctx context.Context, name string) error {
	if err := ctx.Err(); err != nil {
		return &fs.PathError{Op: "remove", Path: name, Err: err}
	}
	if !fs.ValidPath(name) || name == "." {
		return &fs.PathError{Op: "remove", Path: name, Err: fs.ErrInvalid}
	}
	return os.Remove(filepath.Join(fsys.path, filepath.FromSlash(name)))
}

func (fsys *FS) RemoveAll(ctx context.Context, name string) error {
	if err := ctx.Err(); err != nil {
		return &fs.PathError{Op: "remove_all", Path: name, Err: err}
	}
	if !fs.ValidPath(name) || name == "." {
		return &fs.PathError{Op: "remove_all", Path: name, Err: fs.ErrInvalid}
	}
	return os.RemoveAll(filepath.Join(fsys.path, filepath.FromSlash(name)))
}

func (fsys *FS) Copy(ctx context.Context, dst, src string) error {
	reader, err := fsys.OpenFile(ctx, src)
	if err != nil {
		return err
	}
	defer reader.Close()
	info, err := reader.Stat()
	if err != nil {
		return err
	}
	if !info.Mode().IsRegular() {
		return &fs.PathError{Op: "copy", Path: src, Err: errors.New("source is not a regular file")}
	}
	_, err = fsys.Write(ctx, dst, reader)
	return err
}
