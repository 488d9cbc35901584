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
	"runtime"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/preservio/ocfl/digest"
	"github.com/preservio/ocfl/logging"
	"golang.org/x/sync/errgroup"
)

// fixityError builds the typed error for a digest mismatch.
func fixityError(name, alg, got, expected string) error {
	return &digest.DigestError{Name: name, Alg: alg, Got: got, Expected: expected}
}

// Repository coordinates OCFL object mutations and queries over a Storage
// backend. A Repository is safe for concurrent use; callers supply all
// concurrency. Mutations stage content under the repository's work
// directory and hold the per-object write lock only across the final
// backend install step.
type Repository struct {
	storage    Storage
	validator  Validator
	config     Config
	workDir    string
	clock      func() time.Time
	logger     *slog.Logger
	locks      *objectLocks
	mapper     LogicalPathMapper
	constraint ContentPathConstraint

	fileLockTimeout time.Duration
	verifyStaging   bool
	closed          atomic.Bool
}

// RepositoryOption configures a Repository.
type RepositoryOption func(*Repository)

// WithConfig sets the repository defaults for new objects.
func WithConfig(cfg Config) RepositoryOption {
	return func(r *Repository) { r.config = cfg }
}

// WithWorkDir sets the directory under which staging directories are
// created. Defaults to the OS temp directory.
func WithWorkDir(dir string) RepositoryOption {
	return func(r *Repository) { r.workDir = dir }
}

// WithClock sets the time source used for version timestamps. Defaults to
// the UTC wall clock.
func WithClock(clock func() time.Time) RepositoryOption {
	return func(r *Repository) { r.clock = clock }
}

// WithLogger sets the repository's logger.
func WithLogger(logger *slog.Logger) RepositoryOption {
	return func(r *Repository) { r.logger = logger }
}

// WithValidator sets the validator used for import and export checks.
func WithValidator(v Validator) RepositoryOption {
	return func(r *Repository) { r.validator = v }
}

// WithLogicalPathMapper sets the logical→content path mapping.
func WithLogicalPathMapper(m LogicalPathMapper) RepositoryOption {
	return func(r *Repository) { r.mapper = m }
}

// WithContentPathConstraint sets the content path constraint check.
func WithContentPathConstraint(c ContentPathConstraint) RepositoryOption {
	return func(r *Repository) { r.constraint = c }
}

// WithFileLockTimeout sets how long staging waits for a per-logical-path
// lock. Zero means try-once.
func WithFileLockTimeout(d time.Duration) RepositoryOption {
	return func(r *Repository) { r.fileLockTimeout = d }
}

// WithoutStagingVerification disables the post-stage consistency scan of
// the staging directory against the new inventory.
func WithoutStagingVerification() RepositoryOption {
	return func(r *Repository) { r.verifyStaging = false }
}

// NewRepository returns a Repository over storage.
func NewRepository(storage Storage, opts ...RepositoryOption) (*Repository, error) {
	if storage == nil {
		return nil, fmt.Errorf("%w: storage is required", ErrInvalidInput)
	}
	r := &Repository{
		storage:         storage,
		validator:       StructuralValidator{},
		workDir:         os.TempDir(),
		clock:           func() time.Time { return time.Now().UTC() },
		logger:          logging.DisabledLogger(),
		locks:           newObjectLocks(),
		mapper:          DefaultPathMapper,
		constraint:      DefaultPathConstraint,
		fileLockTimeout: time.Minute,
		verifyStaging:   true,
	}
	for _, o := range opts {
		o(r)
	}
	r.config = r.config.withDefaults()
	if err := r.config.valid(); err != nil {
		return nil, err
	}
	return r, nil
}

// Close closes the repository and its storage backend. Close is idempotent;
// every operation on a closed repository fails with ErrRepoClosed.
func (r *Repository) Close() error {
	if !r.closed.CompareAndSwap(false, true) {
		return nil
	}
	return r.storage.Close()
}

func (r *Repository) ensureOpen() error {
	if r.closed.Load() {
		return ErrRepoClosed
	}
	return nil
}

// PutObject creates a new version of the object with the state of
// sourcePath: previous logical paths that aren't in sourcePath do not carry
// over (replace-all semantics). The object is created if it doesn't exist.
// It returns the new head's ObjectVersionID.
func (r *Repository) PutObject(ctx context.Context, id ObjectVersionID, sourcePath string, info VersionInfo, opts ...Option) (ObjectVersionID, error) {
	none := ObjectVersionID{}
	if err := r.ensureOpen(); err != nil {
		return none, err
	}
	if id.ID == "" || sourcePath == "" {
		return none, fmt.Errorf("%w: object id and source path are required", ErrInvalidInput)
	}
	inv, err := r.loadOrStub(ctx, id.ID)
	if err != nil {
		return none, err
	}
	if err := r.checkMutable(inv); err != nil {
		return none, err
	}
	if err := checkExpectedHead(id, inv); err != nil {
		return none, err
	}
	updater, err := NewBlankStateUpdater(inv, r.updaterOpts()...)
	if err != nil {
		return none, err
	}
	staging, err := r.newStaging(inv)
	if err != nil {
		return none, err
	}
	defer staging.remove()
	alg, err := inv.Alg()
	if err != nil {
		return none, err
	}
	proc := NewAddFileProcessor(updater, NewFileLocker(r.fileLockTimeout), staging.contentDir, alg, r.logger)
	if _, err := proc.ProcessPath(ctx, sourcePath, "", opts...); err != nil {
		return none, err
	}
	upgraded := updater.UpgradeInventory(r.config)
	newInv, err := updater.BuildNewInventory(r.clock(), info)
	if err != nil {
		return none, err
	}
	if err := r.writeNewVersion(ctx, newInv, staging, upgraded, proc.CleanupNeeded()); err != nil {
		return none, err
	}
	return ObjectVersionID{ID: id.ID, Version: newInv.Head}, nil
}

// UpdateObject creates a new version of the object by applying the updates
// recorded by fn on the ObjectUpdater it receives. The new version's state
// starts as a copy of the current head's state. The object is created if it
// doesn't exist. The closure runs outside the object's write lock.
func (r *Repository) UpdateObject(ctx context.Context, id ObjectVersionID, info VersionInfo, fn func(*ObjectUpdater) error) (ObjectVersionID, error) {
	none := ObjectVersionID{}
	if err := r.ensureOpen(); err != nil {
		return none, err
	}
	if id.ID == "" || fn == nil {
		return none, fmt.Errorf("%w: object id and update closure are required", ErrInvalidInput)
	}
	inv, err := r.loadOrStub(ctx, id.ID)
	if err != nil {
		return none, err
	}
	if err := r.checkMutable(inv); err != nil {
		return none, err
	}
	if err := checkExpectedHead(id, inv); err != nil {
		return none, err
	}
	updater, err := NewCopyStateUpdater(inv, Head, r.updaterOpts()...)
	if err != nil {
		return none, err
	}
	staging, err := r.newStaging(inv)
	if err != nil {
		return none, err
	}
	defer staging.remove()
	alg, err := inv.Alg()
	if err != nil {
		return none, err
	}
	proc := NewAddFileProcessor(updater, NewFileLocker(r.fileLockTimeout), staging.contentDir, alg, r.logger)
	ou := &ObjectUpdater{updater: updater, proc: proc}
	if !inv.Head.IsZero() {
		ou.readFn = r.headReadFunc(inv)
	}
	if err := fn(ou); err != nil {
		return none, err
	}
	upgraded := updater.UpgradeInventory(r.config)
	newInv, err := updater.BuildNewInventory(r.clock(), info)
	if err != nil {
		return none, err
	}
	if err := r.writeNewVersion(ctx, newInv, staging, upgraded, proc.CleanupNeeded()); err != nil {
		return none, err
	}
	return ObjectVersionID{ID: id.ID, Version: newInv.Head}, nil
}

// ReplicateVersionAsHead creates a new head version whose state is a copy of
// the state of the version named by id. No content is staged: every digest
// in the source state already has a manifest entry.
func (r *Repository) ReplicateVersionAsHead(ctx context.Context, id ObjectVersionID, info VersionInfo) (ObjectVersionID, error) {
	none := ObjectVersionID{}
	if err := r.ensureOpen(); err != nil {
		return none, err
	}
	if id.ID == "" {
		return none, fmt.Errorf("%w: object id is required", ErrInvalidInput)
	}
	inv, err := r.storage.LoadInventory(ctx, id.ID)
	if err != nil {
		return none, err
	}
	if err := r.checkMutable(inv); err != nil {
		return none, err
	}
	if inv.Version(id.Version) == nil {
		return none, fmt.Errorf("%w: version %s of object %s", ErrNotFound, id.Version, id.ID)
	}
	updater, err := NewCopyStateUpdater(inv, id.Version, r.updaterOpts()...)
	if err != nil {
		return none, err
	}
	staging, err := r.newStaging(inv)
	if err != nil {
		return none, err
	}
	defer staging.remove()
	newInv, err := updater.BuildNewInventory(r.clock(), info)
	if err != nil {
		return none, err
	}
	if err := r.writeNewVersion(ctx, newInv, staging, false, true); err != nil {
		return none, err
	}
	return ObjectVersionID{ID: id.ID, Version: newInv.Head}, nil
}

// RollbackToVersion rewinds the object to the version named by id, removing
// all later versions from storage. Rolling back to the current head is a
// no-op.
func (r *Repository) RollbackToVersion(ctx context.Context, id ObjectVersionID) error {
	if err := r.ensureOpen(); err != nil {
		return err
	}
	inv, err := r.storage.LoadInventory(ctx, id.ID)
	if err != nil {
		return err
	}
	v := id.Version
	if v.IsZero() {
		v = inv.Head
	}
	if inv.Version(v) == nil {
		return fmt.Errorf("%w: version %s of object %s", ErrNotFound, v, id.ID)
	}
	if v == inv.Head {
		return nil
	}
	r.logger.DebugContext(ctx, "rolling back object", "object_id", id.ID, "to_version", v)
	return r.locks.write(id.ID, func() error {
		return r.storage.RollbackToVersion(ctx, inv, v)
	})
}

// PurgeObject removes the object from storage entirely.
func (r *Repository) PurgeObject(ctx context.Context, objectID string) error {
	if err := r.ensureOpen(); err != nil {
		return err
	}
	return r.locks.write(objectID, func() error {
		return r.storage.PurgeObject(ctx, objectID)
	})
}

// ImportObject imports the complete, well-formed OCFL object at dir into the
// repository. The object is validated before import unless the NoValidation
// option is set. With MoveSource, dir is consumed.
func (r *Repository) ImportObject(ctx context.Context, dir string, opts ...Option) (string, error) {
	if err := r.ensureOpen(); err != nil {
		return "", err
	}
	opt := foldOptions(opts)
	srcFS := DirFS(dir)
	inv, err := ReadObjectInventory(ctx, srcFS, ".")
	if err != nil {
		return "", fmt.Errorf("reading object at %s: %w", dir, err)
	}
	if inv.HasMutableHead() {
		return "", fmt.Errorf("%w: cannot import an object with a mutable HEAD", ErrInvalidState)
	}
	if !opt.Has(NoValidation) {
		result, err := r.validator.ValidateObjectRoot(ctx, srcFS, ".", true)
		if err != nil {
			return "", err
		}
		if err := result.Err(); err != nil {
			return "", err
		}
	}
	exists, err := r.storage.ContainsObject(ctx, inv.ID)
	if err != nil {
		return "", err
	}
	if exists {
		return "", fmt.Errorf("%w: %s", ErrObjectExists, inv.ID)
	}
	staging, err := r.newStaging(inv)
	if err != nil {
		return "", err
	}
	defer staging.remove()
	target := filepath.Join(staging.dir, "object")
	if opt.Has(MoveSource) {
		err = moveTree(dir, target)
	} else {
		err = copyTree(dir, target)
	}
	if err != nil {
		return "", fmt.Errorf("staging object for import: %w", err)
	}
	r.logger.DebugContext(ctx, "importing object", "object_id", inv.ID)
	err = r.locks.write(inv.ID, func() error {
		return r.storage.ImportObject(ctx, inv.ID, target)
	})
	if err != nil {
		return "", err
	}
	return inv.ID, nil
}

// ImportVersion imports the single version directory at dir as the object's
// next version. The version's inventory head must be the successor of the
// object's current head (or v1 for a new object). Content files are checked
// against the manifest, with a full fixity pass unless NoValidation is set.
func (r *Repository) ImportVersion(ctx context.Context, dir string, opts ...Option) (ObjectVersionID, error) {
	none := ObjectVersionID{}
	if err := r.ensureOpen(); err != nil {
		return none, err
	}
	opt := foldOptions(opts)
	srcFS := DirFS(dir)
	inv, err := ReadInventory(ctx, srcFS, ".")
	if err != nil {
		return none, fmt.Errorf("reading version at %s: %w", dir, err)
	}
	if err := inv.Validate(); err != nil {
		return none, fmt.Errorf("version inventory at %s: %w", dir, err)
	}
	existing, err := r.storage.LoadInventory(ctx, inv.ID)
	switch {
	case errors.Is(err, ErrNotFound):
		if !inv.Head.First() {
			return none, fmt.Errorf("%w: object %s does not exist; version %s cannot be its first",
				ErrObjectOutOfSync, inv.ID, inv.Head)
		}
	case err != nil:
		return none, err
	default:
		if err := r.checkMutable(existing); err != nil {
			return none, err
		}
		next, err := existing.Head.Next()
		if err != nil {
			return none, err
		}
		if inv.Head != next {
			return none, fmt.Errorf("%w: version %s is not next for object %s at %s",
				ErrObjectOutOfSync, inv.Head, inv.ID, existing.Head)
		}
	}
	if err := r.checkVersionContent(ctx, srcFS, inv, !opt.Has(NoValidation)); err != nil {
		return none, err
	}
	staging, err := r.newStaging(inv)
	if err != nil {
		return none, err
	}
	defer staging.remove()
	target := filepath.Join(staging.dir, "version")
	if opt.Has(MoveSource) {
		err = moveTree(dir, target)
	} else {
		err = copyTree(dir, target)
	}
	if err != nil {
		return none, fmt.Errorf("staging version for import: %w", err)
	}
	r.logger.DebugContext(ctx, "importing version", "object_id", inv.ID, "head", inv.Head)
	err = r.locks.write(inv.ID, func() error {
		return r.storage.StoreNewVersion(ctx, inv, target, false)
	})
	if err != nil {
		return none, err
	}
	return ObjectVersionID{ID: inv.ID, Version: inv.Head}, nil
}

// ExportObject copies the object's entire directory tree to outputDir. The
// exported copy is validated unless NoValidation is set.
func (r *Repository) ExportObject(ctx context.Context, objectID, outputDir string, opts ...Option) error {
	if err := r.ensureOpen(); err != nil {
		return err
	}
	opt := foldOptions(opts)
	exists, err := r.storage.ContainsObject(ctx, objectID)
	if err != nil {
		return err
	}
	if !exists {
		return fmt.Errorf("%w: object %s", ErrNotFound, objectID)
	}
	err = r.locks.read(objectID, func() error {
		return r.storage.ExportObject(ctx, objectID, outputDir)
	})
	if err != nil {
		return err
	}
	if opt.Has(NoValidation) {
		return nil
	}
	result, err := r.validator.ValidateObjectRoot(ctx, DirFS(outputDir), ".", true)
	if err != nil {
		return err
	}
	return result.Err()
}

// ExportVersion copies the version directory named by id to outputDir. The
// exported content files are fixity-checked against the manifest unless
// NoValidation is set. It returns the resolved version number.
func (r *Repository) ExportVersion(ctx context.Context, id ObjectVersionID, outputDir string, opts ...Option) (VNum, error) {
	if err := r.ensureOpen(); err != nil {
		return Head, err
	}
	opt := foldOptions(opts)
	// always load the inventory so the response names the numeric version
	inv, err := r.storage.LoadInventory(ctx, id.ID)
	if err != nil {
		return Head, err
	}
	v := id.Version
	if v.IsZero() {
		v = inv.Head
	}
	if inv.Version(v) == nil {
		return Head, fmt.Errorf("%w: version %s of object %s", ErrNotFound, v, id.ID)
	}
	err = r.locks.read(id.ID, func() error {
		return r.storage.ExportVersion(ctx, inv, v, outputDir)
	})
	if err != nil {
		return Head, err
	}
	if !opt.Has(NoValidation) {
		if err := r.checkExportedVersionContent(ctx, DirFS(outputDir), inv, v); err != nil {
			return Head, err
		}
	}
	return v, nil
}

// GetObject reconstructs the logical state of the version named by id in
// outputDir on the local filesystem.
func (r *Repository) GetObject(ctx context.Context, id ObjectVersionID, outputDir string) error {
	if err := r.ensureOpen(); err != nil {
		return err
	}
	inv, err := r.storage.LoadInventory(ctx, id.ID)
	if err != nil {
		return err
	}
	v := id.Version
	if v.IsZero() {
		v = inv.Head
	}
	if inv.Version(v) == nil {
		return fmt.Errorf("%w: version %s of object %s", ErrNotFound, v, id.ID)
	}
	return r.locks.read(id.ID, func() error {
		return r.storage.ReconstructObjectVersion(ctx, inv, v, outputDir)
	})
}

// DescribeObject returns details of every version of the object.
func (r *Repository) DescribeObject(ctx context.Context, objectID string) (*ObjectDetails, error) {
	if err := r.ensureOpen(); err != nil {
		return nil, err
	}
	inv, err := r.storage.LoadInventory(ctx, objectID)
	if err != nil {
		return nil, err
	}
	return DescribeInventory(inv), nil
}

// DescribeVersion returns details of the version named by id.
func (r *Repository) DescribeVersion(ctx context.Context, id ObjectVersionID) (*VersionDetails, error) {
	if err := r.ensureOpen(); err != nil {
		return nil, err
	}
	inv, err := r.storage.LoadInventory(ctx, id.ID)
	if err != nil {
		return nil, err
	}
	details := DescribeVersion(inv, id.Version)
	if details == nil {
		return nil, fmt.Errorf("%w: version %s of object %s", ErrNotFound, id.Version, id.ID)
	}
	return details, nil
}

// FileChanges returns the change history of the logical path, oldest first.
func (r *Repository) FileChanges(ctx context.Context, objectID, logical string) ([]FileChange, error) {
	if err := r.ensureOpen(); err != nil {
		return nil, err
	}
	inv, err := r.storage.LoadInventory(ctx, objectID)
	if err != nil {
		return nil, err
	}
	return FileChangeHistory(inv, logical)
}

// ObjectStreams returns stream openers for every logical path in the
// version named by id.
func (r *Repository) ObjectStreams(ctx context.Context, id ObjectVersionID) (map[string]StreamOpener, error) {
	if err := r.ensureOpen(); err != nil {
		return nil, err
	}
	inv, err := r.storage.LoadInventory(ctx, id.ID)
	if err != nil {
		return nil, err
	}
	v := id.Version
	if v.IsZero() {
		v = inv.Head
	}
	if inv.Version(v) == nil {
		return nil, fmt.Errorf("%w: version %s of object %s", ErrNotFound, v, id.ID)
	}
	return r.storage.ObjectStreams(ctx, inv, v)
}

// ContainsObject reports whether the object exists in the repository.
func (r *Repository) ContainsObject(ctx context.Context, objectID string) (bool, error) {
	if err := r.ensureOpen(); err != nil {
		return false, err
	}
	return r.storage.ContainsObject(ctx, objectID)
}

// ListObjectIDs calls fn for every object in the repository.
func (r *Repository) ListObjectIDs(ctx context.Context, fn func(id string) error) error {
	if err := r.ensureOpen(); err != nil {
		return err
	}
	return r.storage.ListObjectIDs(ctx, fn)
}

// ValidateObject checks the object's structure and, if contentFixity is
// set, all content digests.
func (r *Repository) ValidateObject(ctx context.Context, objectID string, contentFixity bool) (*ValidationResult, error) {
	if err := r.ensureOpen(); err != nil {
		return nil, err
	}
	return r.storage.ValidateObject(ctx, objectID, contentFixity)
}

// InvalidateCache drops cached storage state for objectID (all objects if
// empty).
func (r *Repository) InvalidateCache(objectID string) {
	r.storage.InvalidateCache(objectID)
}

// loadOrStub loads the object's inventory or synthesizes a version-zero
// stub with the repository's configured defaults.
func (r *Repository) loadOrStub(ctx context.Context, objectID string) (*Inventory, error) {
	inv, err := r.storage.LoadInventory(ctx, objectID)
	if errors.Is(err, ErrNotFound) {
		cfg := r.config
		return NewStubInventory(objectID, cfg.OCFLVersion, cfg.DigestAlgorithm, cfg.ContentDirectory), nil
	}
	return inv, err
}

func (r *Repository) checkMutable(inv *Inventory) error {
	if inv.HasMutableHead() {
		return fmt.Errorf("%w: object %s has an active mutable HEAD", ErrInvalidState, inv.ID)
	}
	return nil
}

// checkExpectedHead enforces the caller's optimistic version expectation.
func checkExpectedHead(id ObjectVersionID, inv *Inventory) error {
	if id.Version.IsZero() {
		return nil
	}
	if id.Version != inv.Head {
		return fmt.Errorf("%w: object %s is at %s, expected %s",
			ErrObjectOutOfSync, id.ID, inv.Head, id.Version)
	}
	return nil
}

func (r *Repository) updaterOpts() []UpdaterOption {
	return []UpdaterOption{
		UpdaterPathMapper(r.mapper),
		UpdaterPathConstraint(r.constraint),
	}
}

// headReadFunc returns a function that streams logical paths from the
// object's current head version.
func (r *Repository) headReadFunc(inv *Inventory) func(ctx context.Context, logical string) (io.ReadCloser, error) {
	var once sync.Once
	var streams map[string]StreamOpener
	var streamsErr error
	return func(ctx context.Context, logical string) (io.ReadCloser, error) {
		once.Do(func() {
			streams, streamsErr = r.storage.ObjectStreams(ctx, inv, inv.Head)
		})
		if streamsErr != nil {
			return nil, streamsErr
		}
		opener, ok := streams[logical]
		if !ok {
			return nil, fmt.Errorf("%w: %q in object %s", ErrNotFound, logical, inv.ID)
		}
		return opener(ctx)
	}
}

// staging is a per-mutation scratch directory under the repository work
// dir, deleted on every exit path.
type staging struct {
	dir        string
	contentDir string
}

func (r *Repository) newStaging(inv *Inventory) (*staging, error) {
	dir := filepath.Join(r.workDir, "ocfl-"+uuid.NewString())
	contentDir := filepath.Join(dir, inv.ContentDir())
	if err := os.MkdirAll(contentDir, 0755); err != nil {
		return nil, fmt.Errorf("creating staging directory: %w", err)
	}
	return &staging{dir: dir, contentDir: contentDir}, nil
}

func (s *staging) remove() {
	os.RemoveAll(s.dir)
}

// writeNewVersion is the shared finisher for staged mutations: empty-dir
// sweep, content dir pruning, staging verification, inventory write, and
// the locked backend install.
func (r *Repository) writeNewVersion(ctx context.Context, inv *Inventory, stg *staging, upgraded, checkEmptyDirs bool) error {
	if checkEmptyDirs {
		if err := removeEmptyDirs(stg.contentDir); err != nil {
			return err
		}
	}
	// prune the content directory itself when the version adds no content
	if empty, err := isEmptyDir(stg.contentDir); err == nil && empty {
		if err := os.Remove(stg.contentDir); err != nil {
			return err
		}
	}
	if r.verifyStaging {
		if err := VerifyStagedVersion(inv, stg.contentDir); err != nil {
			return err
		}
	}
	if err := writeInventoryFiles(inv, stg.dir); err != nil {
		return err
	}
	r.logger.DebugContext(ctx, "storing new object version",
		"object_id", inv.ID, "head", inv.Head, "ocfl_spec", inv.Type.Spec)
	return r.locks.write(inv.ID, func() error {
		return r.storage.StoreNewVersion(ctx, inv, stg.dir, upgraded)
	})
}

// writeInventoryFiles marshals inv and writes inventory.json and its
// sidecar into the local directory dir.
func writeInventoryFiles(inv *Inventory, dir string) error {
	byt, dig, err := inv.Marshal()
	if err != nil {
		return err
	}
	if err := os.WriteFile(filepath.Join(dir, inventoryBase), byt, 0644); err != nil {
		return fmt.Errorf("writing inventory: %w", err)
	}
	side := filepath.Join(dir, inv.SidecarName())
	if err := os.WriteFile(side, []byte(SidecarContents(dig)), 0644); err != nil {
		return fmt.Errorf("writing inventory sidecar: %w", err)
	}
	return nil
}

// checkVersionContent verifies that every content file in a version
// directory is referenced by the version's manifest and, if fixity is set,
// that its digest matches.
func (r *Repository) checkVersionContent(ctx context.Context, fsys FS, inv *Inventory, fixity bool) error {
	alg, err := inv.Alg()
	if err != nil {
		return err
	}
	contentDir := inv.ContentDir()
	grp, ctx := errgroup.WithContext(ctx)
	grp.SetLimit(runtime.NumCPU())
	walkFn := func(name string, d fs.DirEntry, err error) error {
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) && name == contentDir {
				return nil
			}
			return err
		}
		contentPath := path.Join(inv.Head.String(), name)
		dig := inv.Manifest.DigestFor(contentPath)
		if dig == "" {
			return fmt.Errorf("%w: content file is not in the manifest: %s", ErrInvalidState, name)
		}
		if !fixity {
			return nil
		}
		grp.Go(func() error {
			f, err := fsys.OpenFile(ctx, name)
			if err != nil {
				return err
			}
			defer f.Close()
			digester := alg.Digester()
			if _, err := io.Copy(digester, f); err != nil {
				return err
			}
			if sum := digester.String(); !digestEq(sum, dig) {
				return fixityError(contentPath, alg.ID(), sum, dig)
			}
			return nil
		})
		return nil
	}
	if err := EachFile(ctx, fsys, contentDir, walkFn); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return grp.Wait()
}

// checkExportedVersionContent fixity-checks an exported version directory
// against the manifest entries for version v.
func (r *Repository) checkExportedVersionContent(ctx context.Context, fsys FS, inv *Inventory, v VNum) error {
	alg, err := inv.Alg()
	if err != nil {
		return err
	}
	prefix := v.String() + "/"
	grp, ctx := errgroup.WithContext(ctx)
	grp.SetLimit(runtime.NumCPU())
	for dig, paths := range inv.Manifest {
		for _, p := range paths {
			if !strings.HasPrefix(p, prefix) {
				continue
			}
			rel := strings.TrimPrefix(p, prefix)
			dig := dig
			grp.Go(func() error {
				f, err := fsys.OpenFile(ctx, rel)
				if err != nil {
					return err
				}
				defer f.Close()
				digester := alg.Digester()
				if _, err := io.Copy(digester, f); err != nil {
					return err
				}
				if sum := digester.String(); !digestEq(sum, dig) {
					return fixityError(rel, alg.ID(), sum, dig)
				}
				return nil
			})
		}
	}
	return grp.Wait()
}

// removeEmptyDirs removes empty directories below root, deepest first.
func removeEmptyDirs(root string) error {
	var dirs []string
	walkFn := func(name string, d fs.DirEntry, err error) error {
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) && name == root {
				return fs.SkipAll
			}
			return err
		}
		if d.IsDir() && name != root {
			dirs = append(dirs, name)
		}
		return nil
	}
	if err := filepath.WalkDir(root, walkFn); err != nil {
		return err
	}
	for i := len(dirs) - 1; i >= 0; i-- {
		if empty, err := isEmptyDir(dirs[i]); err == nil && empty {
			if err := os.Remove(dirs[i]); err != nil {
				return err
			}
		}
	}
	return nil
}

func isEmptyDir(dir string) (bool, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return false, err
	}
	return len(entries) == 0, nil
}

// moveTree renames src to dst, falling back to copy+remove across
// filesystems.
func moveTree(src, dst string) error {
	if err := os.MkdirAll(filepath.Dir(dst), 0755); err != nil {
		return err
	}
	if err := os.Rename(src, dst); err == nil {
		return nil
	}
	if err := copyTree(src, dst); err != nil {
		return err
	}
	return os.RemoveAll(src)
}

// copyTree copies the directory tree at src to dst.
func copyTree(src, dst string) error {
	return filepath.WalkDir(src, func(name string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(src, name)
		if err != nil {
			return err
		}
		target := filepath.Join(dst, rel)
		if d.IsDir() {
			return os.MkdirAll(target, 0755)
		}
		if !d.Type().IsRegular() {
			return nil
		}
		return copyFile(name, target)
	})
}
