// Package store implements the repository Storage contract over any
// ocfl.WriteFS, so the same code serves local-disk, in-memory, and cloud
// backends.
package store

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"runtime"
	"strings"
	"sync"

	"github.com/carlmjohnson/workgroup"
	"github.com/preservio/ocfl"
	"github.com/preservio/ocfl/logging"
	"golang.org/x/sync/errgroup"
)

// LayoutFunc maps an object ID to its root path relative to the storage
// root.
type LayoutFunc func(objectID string) string

// FlatDirectLayout places each object in a directory named by its
// percent-encoded ID, directly under the storage root.
func FlatDirectLayout(objectID string) string {
	return url.PathEscape(objectID)
}

// Store implements ocfl.Storage over an ocfl.WriteFS.
type Store struct {
	fsys        ocfl.WriteFS
	rootPath    string
	layout      LayoutFunc
	logger      *slog.Logger
	concurrency int

	mu   sync.RWMutex
	invs map[string]*ocfl.Inventory // parsed root inventories by object ID
}

var _ ocfl.Storage = (*Store)(nil)

// Option configures a Store.
type Option func(*Store)

// WithLayout sets the object-ID→path layout. Defaults to FlatDirectLayout.
func WithLayout(layout LayoutFunc) Option {
	return func(s *Store) { s.layout = layout }
}

// WithLogger sets the store's logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Store) { s.logger = logger }
}

// WithConcurrency bounds concurrent file transfers and scans. Defaults to
// runtime.NumCPU().
func WithConcurrency(n int) Option {
	return func(s *Store) { s.concurrency = n }
}

// New returns a Store over the storage root at rootPath in fsys.
func New(fsys ocfl.WriteFS, rootPath string, opts ...Option) (*Store, error) {
	if fsys == nil {
		return nil, errors.New("store: backend file system is required")
	}
	if rootPath == "" {
		rootPath = "."
	}
	s := &Store{
		fsys:        fsys,
		rootPath:    rootPath,
		layout:      FlatDirectLayout,
		logger:      logging.DisabledLogger(),
		concurrency: runtime.NumCPU(),
		invs:        map[string]*ocfl.Inventory{},
	}
	for _, o := range opts {
		o(s)
	}
	return s, nil
}

// InitRoot writes the storage root NAMASTE declaration if it isn't present.
func (s *Store) InitRoot(ctx context.Context, spec ocfl.Spec) error {
	decl := ocfl.Namaste{Type: ocfl.NamasteTypeStore, Version: spec}
	name := path.Join(s.rootPath, decl.Name())
	if f, err := s.fsys.OpenFile(ctx, name); err == nil {
		f.Close()
		return nil
	}
	return ocfl.WriteDeclaration(ctx, s.fsys, s.rootPath, decl)
}

func (s *Store) ObjectRootPath(objectID string) string {
	return path.Join(s.rootPath, s.layout(objectID))
}

func (s *Store) LoadInventory(ctx context.Context, objectID string) (*ocfl.Inventory, error) {
	s.mu.RLock()
	inv := s.invs[objectID]
	s.mu.RUnlock()
	if inv != nil {
		return inv, nil
	}
	inv, err := s.readInventory(ctx, objectID)
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	s.invs[objectID] = inv
	s.mu.Unlock()
	return inv, nil
}

// readInventory reads the object's root inventory from the backend,
// bypassing the cache.
func (s *Store) readInventory(ctx context.Context, objectID string) (*ocfl.Inventory, error) {
	inv, err := ocfl.ReadObjectInventory(ctx, s.fsys, s.ObjectRootPath(objectID))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: object %s", ocfl.ErrNotFound, objectID)
		}
		return nil, err
	}
	if inv.ID != objectID {
		return nil, fmt.Errorf("inventory at %s has unexpected id %q", s.ObjectRootPath(objectID), inv.ID)
	}
	return inv, nil
}

func (s *Store) ContainsObject(ctx context.Context, objectID string) (bool, error) {
	_, err := s.LoadInventory(ctx, objectID)
	if errors.Is(err, ocfl.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func (s *Store) StoreNewVersion(ctx context.Context, inv *ocfl.Inventory, stagingDir string, upgraded bool) error {
	objRoot := s.ObjectRootPath(inv.ID)
	defer s.InvalidateCache(inv.ID)
	// authoritative head recheck under the caller's write lock
	cur, err := s.readInventory(ctx, inv.ID)
	switch {
	case errors.Is(err, ocfl.ErrNotFound):
		if !inv.Head.First() {
			return fmt.Errorf("%w: object %s does not exist, cannot install %s",
				ocfl.ErrObjectOutOfSync, inv.ID, inv.Head)
		}
		decl := ocfl.Namaste{Type: ocfl.NamasteTypeObject, Version: inv.Type.Spec}
		s.logger.DebugContext(ctx, "writing object declaration", "object_id", inv.ID, "name", decl.Name())
		if err := ocfl.WriteDeclaration(ctx, s.fsys, objRoot, decl); err != nil {
			return err
		}
	case err != nil:
		return err
	default:
		next, err := cur.Head.Next()
		if err != nil {
			return err
		}
		if next != inv.Head {
			return fmt.Errorf("%w: object %s is at %s, cannot install %s",
				ocfl.ErrObjectOutOfSync, inv.ID, cur.Head, inv.Head)
		}
		if upgraded && cur.Type.Spec.Cmp(inv.Type.Spec) != 0 {
			oldDecl := ocfl.Namaste{Type: ocfl.NamasteTypeObject, Version: cur.Type.Spec}
			newDecl := ocfl.Namaste{Type: ocfl.NamasteTypeObject, Version: inv.Type.Spec}
			s.logger.DebugContext(ctx, "replacing object declaration",
				"object_id", inv.ID, "old", oldDecl.Name(), "new", newDecl.Name())
			if err := s.fsys.Remove(ctx, path.Join(objRoot, oldDecl.Name())); err != nil {
				return err
			}
			if err := ocfl.WriteDeclaration(ctx, s.fsys, objRoot, newDecl); err != nil {
				return err
			}
		}
	}
	// transfer the staged version directory, then publish the root
	// inventory and sidecar
	versionDir := path.Join(objRoot, inv.Head.String())
	if err := s.transferLocal(ctx, stagingDir, versionDir); err != nil {
		return fmt.Errorf("transferring new object contents: %w", err)
	}
	s.logger.DebugContext(ctx, "publishing root inventory", "object_id", inv.ID, "head", inv.Head)
	for _, name := range []string{"inventory.json", inv.SidecarName()} {
		src := path.Join(versionDir, name)
		if err := ocfl.Copy(ctx, s.fsys, path.Join(objRoot, name), s.fsys, src); err != nil {
			return err
		}
	}
	return nil
}

// transferLocal copies all regular files below the local directory src into
// dstDir in the backend, concurrently.
func (s *Store) transferLocal(ctx context.Context, src, dstDir string) error {
	grp, ctx := errgroup.WithContext(ctx)
	grp.SetLimit(s.concurrency)
	err := filepath.WalkDir(src, func(name string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.Type().IsRegular() {
			return nil
		}
		rel, err := filepath.Rel(src, name)
		if err != nil {
			return err
		}
		dst := path.Join(dstDir, filepath.ToSlash(rel))
		grp.Go(func() (err error) {
			f, err := os.Open(name)
			if err != nil {
				return err
			}
			defer f.Close()
			_, err = s.fsys.Write(ctx, dst, f)
			return err
		})
		return nil
	})
	if err != nil {
		return err
	}
	return grp.Wait()
}

func (s *Store) RollbackToVersion(ctx context.Context, inv *ocfl.Inventory, v ocfl.VNum) error {
	objRoot := s.ObjectRootPath(inv.ID)
	defer s.InvalidateCache(inv.ID)
	target, err := ocfl.ReadInventory(ctx, s.fsys, path.Join(objRoot, v.String()))
	if err != nil {
		return fmt.Errorf("reading inventory of version %s: %w", v, err)
	}
	s.logger.DebugContext(ctx, "rolling back object", "object_id", inv.ID, "from", inv.Head, "to", v)
	for _, name := range []string{"inventory.json", target.SidecarName()} {
		src := path.Join(objRoot, v.String(), name)
		if err := ocfl.Copy(ctx, s.fsys, path.Join(objRoot, name), s.fsys, src); err != nil {
			return err
		}
	}
	// sidecar algorithm changes across versions leave a stale sidecar
	if target.SidecarName() != inv.SidecarName() {
		if err := s.fsys.Remove(ctx, path.Join(objRoot, inv.SidecarName())); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return err
		}
	}
	for _, vn := range inv.Head.Lineage() {
		if vn.Num() <= v.Num() {
			continue
		}
		if err := s.fsys.RemoveAll(ctx, path.Join(objRoot, vn.String())); err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) PurgeObject(ctx context.Context, objectID string) error {
	defer s.InvalidateCache(objectID)
	s.logger.DebugContext(ctx, "purging object", "object_id", objectID)
	return s.fsys.RemoveAll(ctx, s.ObjectRootPath(objectID))
}

func (s *Store) ReconstructObjectVersion(ctx context.Context, inv *ocfl.Inventory, v ocfl.VNum, outputDir string) error {
	ver := inv.Version(v)
	if ver == nil {
		return fmt.Errorf("%w: version %s of object %s", ocfl.ErrNotFound, v, inv.ID)
	}
	objRoot := s.ObjectRootPath(inv.ID)
	grp, ctx := errgroup.WithContext(ctx)
	grp.SetLimit(s.concurrency)
	for logical, dig := range ver.State.PathMap() {
		paths := inv.Manifest.PathsFor(dig)
		if len(paths) == 0 {
			return fmt.Errorf("missing manifest entry for: %s", dig)
		}
		src := path.Join(objRoot, paths[0])
		dst := filepath.Join(outputDir, filepath.FromSlash(logical))
		grp.Go(func() error {
			return s.copyOut(ctx, src, dst)
		})
	}
	return grp.Wait()
}

// copyOut copies a backend file to the local filesystem.
func (s *Store) copyOut(ctx context.Context, src, dst string) (err error) {
	f, err := s.fsys.OpenFile(ctx, src)
	if err != nil {
		return err
	}
	defer f.Close()
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
	_, err = io.Copy(out, f)
	return err
}

func (s *Store) ObjectStreams(ctx context.Context, inv *ocfl.Inventory, v ocfl.VNum) (map[string]ocfl.StreamOpener, error) {
	ver := inv.Version(v)
	if ver == nil {
		return nil, fmt.Errorf("%w: version %s of object %s", ocfl.ErrNotFound, v, inv.ID)
	}
	objRoot := s.ObjectRootPath(inv.ID)
	streams := make(map[string]ocfl.StreamOpener, ver.State.NumPaths())
	for logical, dig := range ver.State.PathMap() {
		paths := inv.Manifest.PathsFor(dig)
		if len(paths) == 0 {
			return nil, fmt.Errorf("missing manifest entry for: %s", dig)
		}
		name := path.Join(objRoot, paths[0])
		streams[logical] = func(ctx context.Context) (io.ReadCloser, error) {
			f, err := s.fsys.OpenFile(ctx, name)
			if err != nil {
				return nil, err
			}
			return f, nil
		}
	}
	return streams, nil
}

func (s *Store) ListObjectIDs(ctx context.Context, fn func(id string) error) error {
	var mu sync.Mutex
	readDirTask := func(dir string) ([]fs.DirEntry, error) {
		return s.fsys.ReadDir(ctx, dir)
	}
	manager := func(dir string, entries []fs.DirEntry, err error) ([]string, error) {
		if err != nil {
			if dir == s.rootPath && errors.Is(err, fs.ErrNotExist) {
				return nil, nil
			}
			return nil, err
		}
		if decl, err := ocfl.FindNamaste(entries); err == nil && decl.Type == ocfl.NamasteTypeObject {
			inv, err := ocfl.ReadInventory(ctx, s.fsys, dir)
			if err != nil {
				return nil, fmt.Errorf("reading object at %s: %w", dir, err)
			}
			mu.Lock()
			defer mu.Unlock()
			return nil, fn(inv.ID)
		}
		var subDirs []string
		for _, e := range entries {
			if e.IsDir() && e.Name() != ocfl.ExtensionsDir {
				subDirs = append(subDirs, path.Join(dir, e.Name()))
			}
		}
		return subDirs, nil
	}
	return workgroup.Do(s.concurrency, readDirTask, manager, s.rootPath)
}

func (s *Store) ExportObject(ctx context.Context, objectID string, outputDir string) error {
	objRoot := s.ObjectRootPath(objectID)
	return s.exportTree(ctx, objRoot, outputDir)
}

func (s *Store) ExportVersion(ctx context.Context, inv *ocfl.Inventory, v ocfl.VNum, outputDir string) error {
	if inv.Version(v) == nil {
		return fmt.Errorf("%w: version %s of object %s", ocfl.ErrNotFound, v, inv.ID)
	}
	versionDir := path.Join(s.ObjectRootPath(inv.ID), v.String())
	return s.exportTree(ctx, versionDir, outputDir)
}

// exportTree copies a backend directory tree to the local filesystem.
func (s *Store) exportTree(ctx context.Context, src, outputDir string) error {
	grp, ctx := errgroup.WithContext(ctx)
	grp.SetLimit(s.concurrency)
	walkFn := func(name string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel := strings.TrimPrefix(name, src+"/")
		dst := filepath.Join(outputDir, filepath.FromSlash(rel))
		grp.Go(func() error {
			return s.copyOut(ctx, name, dst)
		})
		return nil
	}
	if err := ocfl.EachFile(ctx, s.fsys, src, walkFn); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("%w: %s", ocfl.ErrNotFound, src)
		}
		return err
	}
	return grp.Wait()
}

func (s *Store) ImportObject(ctx context.Context, objectID string, stagingDir string) error {
	objRoot := s.ObjectRootPath(objectID)
	defer s.InvalidateCache(objectID)
	if _, err := s.fsys.ReadDir(ctx, objRoot); err == nil {
		return fmt.Errorf("%w: %s", ocfl.ErrObjectExists, objectID)
	}
	s.logger.DebugContext(ctx, "importing object", "object_id", objectID)
	return s.transferLocal(ctx, stagingDir, objRoot)
}

func (s *Store) ValidateObject(ctx context.Context, objectID string, contentFixity bool) (*ocfl.ValidationResult, error) {
	exists, err := s.ContainsObject(ctx, objectID)
	if err != nil {
		return nil, err
	}
	if !exists {
		return nil, fmt.Errorf("%w: object %s", ocfl.ErrNotFound, objectID)
	}
	validator := ocfl.StructuralValidator{Concurrency: s.concurrency}
	return validator.ValidateObjectRoot(ctx, s.fsys, s.ObjectRootPath(objectID), contentFixity)
}

func (s *Store) InvalidateCache(objectID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if objectID == "" {
		clear(s.invs)
		return
	}
	delete(s.invs, objectID)
}

func (s *Store) Close() error {
	if closer, ok := s.fsys.(io.Closer); ok {
		return closer.Close()
	}
	return nil
}
