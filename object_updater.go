package ocfl

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// ObjectUpdater is the mutation surface handed to UpdateObject's closure.
// Every mutating call delegates to the InventoryUpdater under the
// appropriate file lock; content is staged the way AddFileProcessor stages
// it. Methods may be called from multiple goroutines.
type ObjectUpdater struct {
	updater *InventoryUpdater
	proc    *AddFileProcessor
	readFn  func(ctx context.Context, logical string) (io.ReadCloser, error)
}

// AddPath stages the file or directory tree at sourcePath under the logical
// path destPath.
func (ou *ObjectUpdater) AddPath(ctx context.Context, sourcePath, destPath string, opts ...Option) error {
	_, err := ou.proc.ProcessPath(ctx, sourcePath, destPath, opts...)
	return err
}

// AddFileWithDigest stages the file at sourcePath under destPath using a
// caller-asserted digest, skipping hashing.
func (ou *ObjectUpdater) AddFileWithDigest(ctx context.Context, dig, sourcePath, destPath string, opts ...Option) error {
	_, err := ou.proc.ProcessFileWithDigest(ctx, dig, sourcePath, destPath, opts...)
	return err
}

// WriteFile streams bytes from r into the staging area as the logical path.
func (ou *ObjectUpdater) WriteFile(ctx context.Context, r io.Reader, logical string, opts ...Option) error {
	_, err := ou.proc.ProcessStream(ctx, r, logical, opts...)
	return err
}

// RemoveFile removes the logical path from the new version's state. Content
// staged for the path during this update is deleted.
func (ou *ObjectUpdater) RemoveFile(ctx context.Context, logical string) error {
	return ou.proc.locker.WithLock(ctx, logical, func() error {
		ou.deleteStaged(ou.updater.RemoveFile(logical))
		return nil
	})
}

// RenameFile rebinds the content at src to dst.
func (ou *ObjectUpdater) RenameFile(ctx context.Context, src, dst string, opts ...Option) error {
	return ou.proc.locker.WithLock(ctx, dst, func() error {
		replaced, err := ou.updater.RenameFile(src, dst, opts...)
		if err != nil {
			return err
		}
		ou.deleteStaged(replaced)
		return nil
	})
}

// ReinstateFile copies the binding of srcPath in version srcVer into the new
// version's state at dstPath.
func (ou *ObjectUpdater) ReinstateFile(ctx context.Context, srcVer VNum, srcPath, dstPath string, opts ...Option) error {
	return ou.proc.locker.WithLock(ctx, dstPath, func() error {
		replaced, err := ou.updater.ReinstateFile(srcVer, srcPath, dstPath, opts...)
		if err != nil {
			return err
		}
		ou.deleteStaged(replaced)
		return nil
	})
}

// ClearVersionState empties the new version's state. Content staged during
// this update is deleted.
func (ou *ObjectUpdater) ClearVersionState() {
	ou.deleteStaged(ou.updater.ClearState())
}

// ReadFile streams the content of logical as of the object's current head
// version. The returned reader must be closed.
func (ou *ObjectUpdater) ReadFile(ctx context.Context, logical string) (io.ReadCloser, error) {
	if ou.readFn == nil {
		return nil, fmt.Errorf("%w: object has no versions to read from", ErrNotFound)
	}
	return ou.readFn(ctx, logical)
}

// AddFileFixity records an alternate-algorithm digest for the content
// backing logical.
func (ou *ObjectUpdater) AddFileFixity(logical, alg, dig string) error {
	return ou.updater.AddFixity(logical, alg, dig)
}

func (ou *ObjectUpdater) deleteStaged(inner []string) {
	for _, rel := range inner {
		os.Remove(filepath.Join(ou.proc.contentDir, filepath.FromSlash(rel)))
		ou.proc.cleanup.Store(true)
	}
}
