package ocfl

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"sync/atomic"

	"github.com/preservio/ocfl/digest"
	"github.com/preservio/ocfl/logging"
)

// AddFileProcessor walks a source tree and feeds each regular file into an
// InventoryUpdater, computing its digest while moving or streaming it into
// the staging content directory. Files whose digest is already present in
// the object are not staged.
type AddFileProcessor struct {
	updater    *InventoryUpdater
	locker     *FileLocker
	contentDir string // absolute path of the staging content directory
	alg        digest.Algorithm
	logger     *slog.Logger
	cleanup    atomic.Bool
}

// NewAddFileProcessor returns a processor staging files under contentDir
// using the inventory's digest algorithm.
func NewAddFileProcessor(u *InventoryUpdater, locker *FileLocker, contentDir string, alg digest.Algorithm, logger *slog.Logger) *AddFileProcessor {
	if logger == nil {
		logger = logging.DisabledLogger()
	}
	return &AddFileProcessor{
		updater:    u,
		locker:     locker,
		contentDir: contentDir,
		alg:        alg,
		logger:     logger,
	}
}

// CleanupNeeded reports whether deduplication deleted staged files, possibly
// leaving empty directories behind.
func (p *AddFileProcessor) CleanupNeeded() bool {
	return p.cleanup.Load()
}

// ProcessPath stages the regular file or directory tree at source under the
// logical path prefix dest. It returns the logical→staged-path mapping for
// newly added files (deduplicated files are omitted).
func (p *AddFileProcessor) ProcessPath(ctx context.Context, source, dest string, opts ...Option) (map[string]string, error) {
	info, err := os.Stat(source)
	if err != nil {
		return nil, fmt.Errorf("reading source %s: %w", source, err)
	}
	results := map[string]string{}
	if info.Mode().IsRegular() {
		logical := dest
		if logical == "" {
			logical = filepath.Base(source)
		}
		if err := p.processFile(ctx, source, logical, results, opts); err != nil {
			return nil, err
		}
		return results, nil
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("%w: source is not a regular file or directory: %s", ErrInvalidInput, source)
	}
	walkFn := func(name string, d fs.DirEntry, err error) error {
		if err != nil {
			return fmt.Errorf("during source directory scan: %w", err)
		}
		if d.IsDir() {
			return nil
		}
		if d.Type()&fs.ModeSymlink != 0 {
			// follow symlinks to regular files
			target, err := os.Stat(name)
			if err != nil || !target.Mode().IsRegular() {
				return nil
			}
		} else if !d.Type().IsRegular() {
			return nil
		}
		rel, err := filepath.Rel(source, name)
		if err != nil {
			return err
		}
		logical := path.Join(dest, filepath.ToSlash(rel))
		return p.processFile(ctx, name, logical, results, opts)
	}
	if err := filepath.WalkDir(source, walkFn); err != nil {
		return nil, err
	}
	return results, nil
}

// ProcessFileWithDigest stages the regular file at source under the logical
// path dest using a caller-asserted digest, skipping hashing. Used by
// replication flows where the digest is already trusted.
func (p *AddFileProcessor) ProcessFileWithDigest(ctx context.Context, dig, source, dest string, opts ...Option) (map[string]string, error) {
	info, err := os.Stat(source)
	if err != nil {
		return nil, fmt.Errorf("reading source %s: %w", source, err)
	}
	if !info.Mode().IsRegular() {
		return nil, fmt.Errorf("%w: source is not a regular file: %s", ErrInvalidInput, source)
	}
	results := map[string]string{}
	opt := foldOptions(opts)
	err = p.locker.WithLock(ctx, dest, func() error {
		result, err := p.updater.AddFile(dig, dest, opts...)
		if err != nil {
			return err
		}
		p.dropStaged(result.Replaced, "")
		if !result.New {
			return nil
		}
		dst := p.stagePath(result.ContentRelPath)
		if opt.Has(MoveSource) {
			if err := moveFile(source, dst); err != nil {
				return fmt.Errorf("moving %s: %w", source, err)
			}
		} else if err := copyFile(source, dst); err != nil {
			return fmt.Errorf("copying %s: %w", source, err)
		}
		results[dest] = dst
		return nil
	})
	if err != nil {
		return nil, err
	}
	return results, nil
}

// ProcessStream stages bytes from r under the logical path. The stream is
// always written to staging first (to compute its digest) and removed again
// if it turns out to be a duplicate.
func (p *AddFileProcessor) ProcessStream(ctx context.Context, r io.Reader, logical string, opts ...Option) (*AddResult, error) {
	var result *AddResult
	err := p.locker.WithLock(ctx, logical, func() error {
		inner := p.updater.InnerContentPath(logical)
		dst := p.stagePath(inner)
		dig, err := writeDigesting(r, dst, p.alg)
		if err != nil {
			return err
		}
		result, err = p.updater.AddFile(dig, logical, opts...)
		if err != nil {
			os.Remove(dst)
			p.cleanup.Store(true)
			return err
		}
		p.dropStaged(result.Replaced, inner)
		if !result.New {
			p.logger.DebugContext(ctx, "discarding duplicate content", "logical_path", logical)
			os.Remove(dst)
			p.cleanup.Store(true)
			return nil
		}
		if result.ContentRelPath != inner {
			if err := moveFile(dst, p.stagePath(result.ContentRelPath)); err != nil {
				return err
			}
			p.cleanup.Store(true)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

func (p *AddFileProcessor) processFile(ctx context.Context, source, logical string, results map[string]string, opts []Option) error {
	opt := foldOptions(opts)
	return p.locker.WithLock(ctx, logical, func() error {
		if err := ctx.Err(); err != nil {
			return err
		}
		if opt.Has(MoveSource) {
			dig, err := digestFile(source, p.alg)
			if err != nil {
				return err
			}
			result, err := p.updater.AddFile(dig, logical, opts...)
			if err != nil {
				return err
			}
			p.dropStaged(result.Replaced, "")
			if !result.New {
				p.logger.DebugContext(ctx, "source has duplicate content", "logical_path", logical)
				return nil
			}
			dst := p.stagePath(result.ContentRelPath)
			if err := moveFile(source, dst); err != nil {
				return fmt.Errorf("moving %s: %w", source, err)
			}
			results[logical] = dst
			return nil
		}
		// copy mode: stream through a digesting sink into staging, then
		// reconcile with the updater
		inner := p.updater.InnerContentPath(logical)
		dst := p.stagePath(inner)
		src, err := os.Open(source)
		if err != nil {
			return fmt.Errorf("opening %s: %w", source, err)
		}
		defer src.Close()
		dig, err := writeDigesting(src, dst, p.alg)
		if err != nil {
			return fmt.Errorf("copying %s: %w", source, err)
		}
		result, err := p.updater.AddFile(dig, logical, opts...)
		if err != nil {
			os.Remove(dst)
			p.cleanup.Store(true)
			return err
		}
		p.dropStaged(result.Replaced, inner)
		if !result.New {
			p.logger.DebugContext(ctx, "discarding duplicate content", "logical_path", logical)
			os.Remove(dst)
			p.cleanup.Store(true)
			return nil
		}
		if result.ContentRelPath != inner {
			if err := moveFile(dst, p.stagePath(result.ContentRelPath)); err != nil {
				return err
			}
			p.cleanup.Store(true)
			dst = p.stagePath(result.ContentRelPath)
		}
		results[logical] = dst
		return nil
	})
}

func (p *AddFileProcessor) stagePath(inner string) string {
	return filepath.Join(p.contentDir, filepath.FromSlash(inner))
}

// dropStaged deletes staged files orphaned by an Overwrite rebind. A path
// equal to keep is left alone: it was just rewritten with the new content.
func (p *AddFileProcessor) dropStaged(inner []string, keep string) {
	for _, rel := range inner {
		if rel == keep {
			continue
		}
		os.Remove(p.stagePath(rel))
		p.cleanup.Store(true)
	}
}

func digestFile(name string, alg digest.Algorithm) (string, error) {
	f, err := os.Open(name)
	if err != nil {
		return "", err
	}
	defer f.Close()
	digester := alg.Digester()
	if _, err := io.Copy(digester, f); err != nil {
		return "", err
	}
	return digester.String(), nil
}

// writeDigesting copies r to the file dst, creating parent directories, and
// returns the digest of the copied bytes.
func writeDigesting(r io.Reader, dst string, alg digest.Algorithm) (dig string, err error) {
	if err := os.MkdirAll(filepath.Dir(dst), 0755); err != nil {
		return "", err
	}
	f, err := os.OpenFile(dst, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0644)
	if err != nil {
		return "", err
	}
	defer func() {
		if closeErr := f.Close(); closeErr != nil {
			err = errors.Join(err, closeErr)
		}
	}()
	digester := alg.Digester()
	if _, err := io.Copy(io.MultiWriter(f, digester), r); err != nil {
		return "", err
	}
	return digester.String(), nil
}

func moveFile(src, dst string) error {
	if err := os.MkdirAll(filepath.Dir(dst), 0755); err != nil {
		return err
	}
	if err := os.Rename(src, dst); err == nil {
		return nil
	}
	// rename can fail across filesystems; fall back to copy+remove
	if err := copyFile(src, dst); err != nil {
		return err
	}
	return os.Remove(src)
}

func copyFile(src, dst string) (err error) {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()
	if err := os.MkdirAll(filepath.Dir(dst), 0755); err != nil {
		return err
	}
	out, err := os.OpenFile(dst, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0644)
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := out.Close(); closeErr != nil {
			err = errors.Join(err, closeErr)
		}
	}()
	_, err = io.Copy(out, in)
	return err
}
