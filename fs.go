package ocfl

import (
	"context"
	"errors"
	"io"
	"io/fs"
	"os"
	"path"
)

// FS is a minimal, read-only storage layer abstraction. It is similar to the
// standard library's io/fs.FS, except it uses contexts and OpenFile is not
// required to gracefully handle directories.
type FS interface {
	OpenFile(ctx context.Context, name string) (fs.File, error)
	ReadDir(ctx context.Context, name string) ([]fs.DirEntry, error)
}

// WriteFS is a storage layer abstraction that supports write operations.
type WriteFS interface {
	FS
	Write(ctx context.Context, name string, buffer io.Reader) (int64, error)
	Remove(ctx context.Context, name string) error
	RemoveAll(ctx context.Context, name string) error
}

// CopyFS is a WriteFS that can copy files without streaming bytes through
// the caller.
type CopyFS interface {
	WriteFS
	Copy(ctx context.Context, dst string, src string) error
}

// NewFS wraps an io/fs.FS as an ocfl.FS.
func NewFS(fsys fs.FS) FS {
	return &ioFS{FS: fsys}
}

// DirFS is shorthand for NewFS(os.DirFS(dir)).
func DirFS(dir string) FS {
	return NewFS(os.DirFS(dir))
}

type ioFS struct {
	fs.FS
}

func (fsys *ioFS) OpenFile(ctx context.Context, name string) (fs.File, error) {
	if err := ctx.Err(); err != nil {
		return nil, &fs.PathError{Op: "openfile", Path: name, Err: err}
	}
	return fsys.Open(name)
}

func (fsys *ioFS) ReadDir(ctx context.Context, name string) ([]fs.DirEntry, error) {
	if err := ctx.Err(); err != nil {
		return nil, &fs.PathError{Op: "readdir", Path: name, Err: err}
	}
	return fs.ReadDir(fsys.FS, name)
}

// ReadAll returns the contents of the file name in fsys.
func ReadAll(ctx context.Context, fsys FS, name string) ([]byte, error) {
	f, err := fsys.OpenFile(ctx, name)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return io.ReadAll(f)
}

// StatFile returns file information for name in fsys.
func StatFile(ctx context.Context, fsys FS, name string) (fs.FileInfo, error) {
	f, err := fsys.OpenFile(ctx, name)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return f.Stat()
}

// Copy copies src in srcFS to dst in dstFS. If srcFS and dstFS are the same
// CopyFS, the copy is done without streaming bytes through the caller.
func Copy(ctx context.Context, dstFS WriteFS, dst string, srcFS FS, src string) (err error) {
	if cpFS, ok := dstFS.(CopyFS); ok && dstFS == FS(srcFS) {
		return cpFS.Copy(ctx, dst, src)
	}
	var srcF fs.File
	srcF, err = srcFS.OpenFile(ctx, src)
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := srcF.Close(); closeErr != nil {
			err = errors.Join(err, closeErr)
		}
	}()
	_, err = dstFS.Write(ctx, dst, srcF)
	return err
}

// EachFile walks the directory root in fsys, calling walkFn for every regular
// file.
func EachFile(ctx context.Context, fsys FS, root string, walkFn fs.WalkDirFunc) error {
	entries, err := fsys.ReadDir(ctx, root)
	if err != nil {
		return err
	}
	for _, e := range entries {
		next := path.Join(root, e.Name())
		if e.Type().IsRegular() {
			if err := walkFn(next, e, nil); err != nil {
				return err
			}
		}
		if e.IsDir() {
			if err := EachFile(ctx, fsys, next, walkFn); err != nil {
				return err
			}
		}
	}
	return nil
}
