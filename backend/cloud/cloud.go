// Package cloud provides an ocfl.WriteFS over any gocloud.dev blob bucket.
package cloud

import (
	"context"
	"errors"
	"io"
	"io/fs"
	"log/slog"
	"path"
	"strings"
	"time"

	"github.com/preservio/ocfl"
	"github.com/preservio/ocfl/logging"
	"gocloud.dev/blob"
	"gocloud.dev/gcerrors"
)

// FS is a generic backend for cloud storage using a blob.Bucket.
type FS struct {
	*blob.Bucket
	logger *slog.Logger
}

var _ ocfl.WriteFS = (*FS)(nil)

type fsOption func(*FS)

// NewFS returns an FS over b.
func NewFS(b *blob.Bucket, opts ...fsOption) *FS {
	fsys := &FS{
		Bucket: b,
		logger: logging.DisabledLogger(),
	}
	for _, opt := range opts {
		opt(fsys)
	}
	return fsys
}

// WithLogger sets the backend's logger.
func WithLogger(l *slog.Logger) fsOption {
	return func(fsys *FS) { fsys.logger = l }
}

func (fsys *FS) OpenFile(ctx context.Context, name string) (fs.File, error) {
	fsys.logger.DebugContext(ctx, "open file", "name", name)
	if !fs.ValidPath(name) {
		return nil, &fs.PathError{Op: "openfile", Path: name, Err: fs.ErrInvalid}
	}
	reader, err := fsys.Bucket.NewReader(ctx, name, nil)
	if err != nil {
		return nil, &fs.PathError{Op: "openfile", Path: name, Err: mapErr(err)}
	}
	return &file{
		ReadCloser: reader,
		info: &fileInfo{
			name:    path.Base(name),
			size:    reader.Size(),
			modTime: reader.ModTime(),
		},
	}, nil
}

func (fsys *FS) ReadDir(ctx context.Context, name string) ([]fs.DirEntry, error) {
	fsys.logger.DebugContext(ctx, "read dir", "name", name)
	if !fs.ValidPath(name) {
		return nil, &fs.PathError{Op: "readdir", Path: name, Err: fs.ErrInvalid}
	}
	const pageSize = 1000
	opts := &blob.ListOptions{Delimiter: "/"}
	if name != "." {
		opts.Prefix = name + "/"
	}
	var (
		token   = blob.FirstPageToken
		results []fs.DirEntry
	)
	for {
		list, next, err := fsys.Bucket.ListPage(ctx, token, pageSize, opts)
		if err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return nil, &fs.PathError{Op: "readdir", Path: name, Err: mapErr(err)}
		}
		for _, item := range list {
			inf := &fileInfo{
				name:    path.Base(item.Key),
				size:    item.Size,
				modTime: item.ModTime,
			}
			if item.IsDir {
				inf.mode = fs.ModeDir
			}
			results = append(results, inf)
		}
		if len(next) == 0 {
			break
		}
		token = next
	}
	// an empty result means the directory doesn't exist, except for the
	// bucket root
	if len(results) == 0 && name != "." {
		return nil, &fs.PathError{Op: "readdir", Path: name, Err: fs.ErrNotExist}
	}
	return results, nil
}

func (fsys *FS) Write(ctx context.Context, name string, src io.Reader) (int64, error) {
	fsys.logger.DebugContext(ctx, "write file", "name", name)
	if !fs.ValidPath(name) || name == "." {
		return 0, &fs.PathError{Op: "write", Path: name, Err: fs.ErrInvalid}
	}
	writer, err := fsys.Bucket.NewWriter(ctx, name, nil)
	if err != nil {
		return 0, &fs.PathError{Op: "write", Path: name, Err: mapErr(err)}
	}
	n, err := io.Copy(writer, src)
	if closeErr := writer.Close(); closeErr != nil {
		err = errors.Join(err, closeErr)
	}
	return n, err
}

func (fsys *FS) Remove(ctx context.Context, name string) error {
	fsys.logger.DebugContext(ctx, "remove file", "name", name)
	if !fs.ValidPath(name) || name == "." {
		return &fs.PathError{Op: "remove", Path: name, Err: fs.ErrInvalid}
	}
	if err := fsys.Bucket.Delete(ctx, name); err != nil {
		return &fs.PathError{Op: "remove", Path: name, Err: mapErr(err)}
	}
	return nil
}

func (fsys *FS) RemoveAll(ctx context.Context, name string) error {
	fsys.logger.DebugContext(ctx, "remove all", "name", name)
	if !fs.ValidPath(name) || name == "." {
		return &fs.PathError{Op: "remove_all", Path: name, Err: fs.ErrInvalid}
	}
	iter := fsys.Bucket.List(&blob.ListOptions{Prefix: name + "/"})
	for {
		item, err := iter.Next(ctx)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return &fs.PathError{Op: "remove_all", Path: name, Err: mapErr(err)}
		}
		if err := fsys.Bucket.Delete(ctx, item.Key); err != nil {
			return &fs.PathError{Op: "remove_all", Path: item.Key, Err: mapErr(err)}
		}
	}
	return nil
}

// mapErr converts gocloud error codes to io/fs sentinel errors.
func mapErr(err error) error {
	if gcerrors.Code(err) == gcerrors.NotFound {
		return fs.ErrNotExist
	}
	return err
}

type file struct {
	io.ReadCloser
	info *fileInfo
}

var _ fs.File = (*file)(nil)

func (f *file) Stat() (fs.FileInfo, error) { return f.info, nil }

type fileInfo struct {
	name    string
	size    int64
	mode    fs.FileMode
	modTime time.Time
}

var _ fs.FileInfo = (*fileInfo)(nil)
var _ fs.DirEntry = (*fileInfo)(nil)

func (i *fileInfo) Name() string {
	return strings.TrimSuffix(i.name, "/")
}
func (i *fileInfo) Size() int64                { return i.size }
func (i *fileInfo) Mode() fs.FileMode          { return i.mode }
func (i *fileInfo) ModTime() time.Time         { return i.modTime }
func (i *fileInfo) IsDir() bool                { return i.mode.IsDir() }
func (i *fileInfo) Sys() any                   { return nil }
func (i *fileInfo) Type() fs.FileMode          { return i.mode.Type() }
func (i *fileInfo) Info() (fs.FileInfo, error) { return i, nil }
