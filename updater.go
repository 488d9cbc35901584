package ocfl

import (
	"fmt"
	"maps"
	"path"
	"sync"
	"time"
)

// InventoryUpdater is an in-memory mutator over an Inventory. It accumulates
// additions, removals, renames, and reinstatements for the next version and
// produces the finalized inventory with BuildNewInventory. All methods are
// safe for concurrent use by parallel adders within one mutation.
type InventoryUpdater struct {
	mu         sync.Mutex
	src        *Inventory
	nextHead   VNum
	spec       Spec
	state      PathMap              // working logical state: path → digest
	manifest   DigestMap            // working manifest (clone of source's)
	fixity     map[string]DigestMap // working fixity (clone of source's)
	added      map[string][]string  // digests introduced this version → inner content paths
	mapper     LogicalPathMapper
	constraint ContentPathConstraint
	upgraded   bool
}

// AddResult reports the outcome of a single addFile call.
type AddResult struct {
	// New indicates the digest was not previously in the object: a content
	// path was allocated and the caller must stage the file's bytes.
	New bool
	// ContentRelPath is the allocated path relative to the staging content
	// directory. Empty unless New.
	ContentRelPath string
	// ContentPath is the full manifest content path (vN/<contentDir>/...).
	// Empty unless New.
	ContentPath string
	// Replaced names staged content paths orphaned by an Overwrite rebind;
	// the caller must delete them from the staging area.
	Replaced []string
}

type updaterConfig struct {
	mapper     LogicalPathMapper
	constraint ContentPathConstraint
}

// UpdaterOption configures an InventoryUpdater.
type UpdaterOption func(*updaterConfig)

// UpdaterPathMapper sets the logical→content path mapper.
func UpdaterPathMapper(m LogicalPathMapper) UpdaterOption {
	return func(c *updaterConfig) { c.mapper = m }
}

// UpdaterPathConstraint sets the content path constraint check.
func UpdaterPathConstraint(c ContentPathConstraint) UpdaterOption {
	return func(cfg *updaterConfig) { cfg.constraint = c }
}

// NewBlankStateUpdater returns an updater whose working state starts empty
// (replace-all semantics).
func NewBlankStateUpdater(src *Inventory, opts ...UpdaterOption) (*InventoryUpdater, error) {
	return newUpdater(src, PathMap{}, opts)
}

// NewCopyStateUpdater returns an updater whose working state starts as a
// deep copy of version base's state. A zero base means the head version. For
// a version-zero stub inventory the state starts empty.
func NewCopyStateUpdater(src *Inventory, base VNum, opts ...UpdaterOption) (*InventoryUpdater, error) {
	state := PathMap{}
	if !src.Head.IsZero() {
		ver := src.Version(base)
		if ver == nil {
			return nil, fmt.Errorf("%w: version %s", ErrNotFound, base)
		}
		state = ver.State.PathMap()
	}
	return newUpdater(src, state, opts)
}

func newUpdater(src *Inventory, state PathMap, opts []UpdaterOption) (*InventoryUpdater, error) {
	cfg := updaterConfig{
		mapper:     DefaultPathMapper,
		constraint: DefaultPathConstraint,
	}
	for _, o := range opts {
		o(&cfg)
	}
	next := V(1)
	if !src.Head.IsZero() {
		var err error
		next, err = src.Head.Next()
		if err != nil {
			return nil, err
		}
	}
	fixity := make(map[string]DigestMap, len(src.Fixity))
	for alg, m := range src.Fixity {
		fixity[alg] = m.Clone()
	}
	return &InventoryUpdater{
		src:        src,
		nextHead:   next,
		spec:       src.Type.Spec,
		state:      state,
		manifest:   src.Manifest.Clone(),
		fixity:     fixity,
		added:      map[string][]string{},
		mapper:     cfg.mapper,
		constraint: cfg.constraint,
	}, nil
}

// NextHead returns the version number the updater is building.
func (u *InventoryUpdater) NextHead() VNum { return u.nextHead }

// ContentPrefix returns the manifest path prefix for content added in the
// new version.
func (u *InventoryUpdater) ContentPrefix() string {
	return path.Join(u.nextHead.String(), u.src.ContentDir())
}

// InnerContentPath returns the content path (relative to the content
// directory) that would be allocated for logical, before its digest is
// known.
func (u *InventoryUpdater) InnerContentPath(logical string) string {
	return u.mapper.ContentPath(logical, "")
}

// AddFile records logical with the given content digest in the working
// state. If the digest is already present in the object's manifest or was
// already added during this mutation, no content path is allocated and the
// result's New field is false.
func (u *InventoryUpdater) AddFile(dig, logical string, opts ...Option) (*AddResult, error) {
	opt := foldOptions(opts)
	if !validPath(logical) {
		return nil, fmt.Errorf("%w: illegal logical path %q", ErrInvalidInput, logical)
	}
	dig = normalizeDigest(dig)
	u.mu.Lock()
	defer u.mu.Unlock()
	var replaced []string
	if _, occupied := u.state[logical]; occupied {
		if !opt.Has(Overwrite) {
			return nil, fmt.Errorf("%w: %q", ErrPathExists, logical)
		}
		// rebinding may orphan content introduced by this mutation
		replaced = u.removeLocked(logical)
	}
	if u.manifest.HasDigest(dig) {
		u.state[logical] = dig
		return &AddResult{New: false, Replaced: replaced}, nil
	}
	inner := u.mapper.ContentPath(logical, dig)
	if err := u.constraint.Check(inner); err != nil {
		return nil, err
	}
	contentPath := path.Join(u.ContentPrefix(), inner)
	if u.manifest.DigestFor(contentPath) != "" {
		return nil, fmt.Errorf("%w: content path %q is already allocated to other content",
			ErrInvalidState, contentPath)
	}
	u.manifest[dig] = append(u.manifest[dig], contentPath)
	u.added[dig] = append(u.added[dig], inner)
	u.state[logical] = dig
	return &AddResult{New: true, ContentRelPath: inner, ContentPath: contentPath, Replaced: replaced}, nil
}

// RemoveFile removes logical from the working state. If the path's digest
// was introduced during this mutation and is now unreferenced, its manifest
// entry is dropped and the returned slice names the staged content paths
// (relative to the staging content directory) that must be deleted.
func (u *InventoryUpdater) RemoveFile(logical string) []string {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.removeLocked(logical)
}

func (u *InventoryUpdater) removeLocked(logical string) []string {
	dig, ok := u.state[logical]
	if !ok {
		return nil
	}
	delete(u.state, logical)
	for _, d := range u.state {
		if d == dig {
			return nil
		}
	}
	// digest is orphaned in the working state; drop it only if it was
	// introduced by this mutation
	staged, addedNow := u.added[dig]
	if !addedNow {
		return nil
	}
	delete(u.added, dig)
	delete(u.manifest, dig)
	for alg := range u.fixity {
		delete(u.fixity[alg], dig)
	}
	return staged
}

// RenameFile rebinds the digest at src to dst. It fails with ErrNotFound if
// src is absent and ErrPathExists if dst is occupied without Overwrite. The
// returned slice names staged content paths orphaned by an Overwrite rebind.
func (u *InventoryUpdater) RenameFile(src, dst string, opts ...Option) ([]string, error) {
	opt := foldOptions(opts)
	if !validPath(dst) {
		return nil, fmt.Errorf("%w: illegal logical path %q", ErrInvalidInput, dst)
	}
	u.mu.Lock()
	defer u.mu.Unlock()
	dig, ok := u.state[src]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrNotFound, src)
	}
	var replaced []string
	if _, occupied := u.state[dst]; occupied {
		if !opt.Has(Overwrite) {
			return nil, fmt.Errorf("%w: %q", ErrPathExists, dst)
		}
		replaced = u.removeLocked(dst)
	}
	delete(u.state, src)
	u.state[dst] = dig
	return replaced, nil
}

// ReinstateFile copies the digest binding for srcPath in historical version
// srcVer into the working state at dstPath. The returned slice names staged
// content paths orphaned by an Overwrite rebind.
func (u *InventoryUpdater) ReinstateFile(srcVer VNum, srcPath, dstPath string, opts ...Option) ([]string, error) {
	opt := foldOptions(opts)
	if !validPath(dstPath) {
		return nil, fmt.Errorf("%w: illegal logical path %q", ErrInvalidInput, dstPath)
	}
	ver := u.src.Version(srcVer)
	if ver == nil {
		return nil, fmt.Errorf("%w: version %s", ErrNotFound, srcVer)
	}
	dig := ver.State.DigestFor(srcPath)
	if dig == "" {
		return nil, fmt.Errorf("%w: %q in version %s", ErrNotFound, srcPath, srcVer)
	}
	u.mu.Lock()
	defer u.mu.Unlock()
	var replaced []string
	if _, occupied := u.state[dstPath]; occupied {
		if !opt.Has(Overwrite) {
			return nil, fmt.Errorf("%w: %q", ErrPathExists, dstPath)
		}
		replaced = u.removeLocked(dstPath)
	}
	u.state[dstPath] = normalizeDigest(dig)
	return replaced, nil
}

// ClearState empties the working state, returning staged content paths that
// must be deleted (content added this mutation that is now unreferenced).
func (u *InventoryUpdater) ClearState() []string {
	u.mu.Lock()
	defer u.mu.Unlock()
	var staged []string
	for logical := range maps.Clone(u.state) {
		staged = append(staged, u.removeLocked(logical)...)
	}
	return staged
}

// AddFixity records an alternate-algorithm digest for the content backing
// logical. It fails with ErrNotFound if logical is not in the working state.
func (u *InventoryUpdater) AddFixity(logical, alg, dig string) error {
	u.mu.Lock()
	defer u.mu.Unlock()
	contentDig, ok := u.state[logical]
	if !ok {
		return fmt.Errorf("%w: %q", ErrNotFound, logical)
	}
	paths := u.manifest.PathsFor(contentDig)
	if len(paths) == 0 {
		return fmt.Errorf("missing manifest entry for: %s", contentDig)
	}
	if u.fixity[alg] == nil {
		u.fixity[alg] = DigestMap{}
	}
	dig = normalizeDigest(dig)
	for _, p := range paths {
		if u.fixity[alg].DigestFor(p) == "" {
			u.fixity[alg][dig] = append(u.fixity[alg][dig], p)
		}
	}
	return nil
}

// UpgradeInventory upgrades the new inventory's OCFL version to the
// configured one if the configuration requests upgrades and the source
// inventory's version is lower. It returns whether an upgrade happened.
func (u *InventoryUpdater) UpgradeInventory(cfg Config) bool {
	cfg = cfg.withDefaults()
	if !cfg.UpgradeObjectsOnWrite {
		return false
	}
	u.mu.Lock()
	defer u.mu.Unlock()
	if u.spec.Cmp(cfg.OCFLVersion) >= 0 {
		return false
	}
	u.spec = cfg.OCFLVersion
	u.upgraded = true
	return true
}

// Upgraded reports whether UpgradeInventory changed the OCFL version.
func (u *InventoryUpdater) Upgraded() bool {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.upgraded
}

// BuildNewInventory appends a new version at head+1 carrying the working
// state and returns the finalized (not yet written) inventory. The source
// inventory's digest becomes the new inventory's previous digest.
func (u *InventoryUpdater) BuildNewInventory(created time.Time, info VersionInfo) (*Inventory, error) {
	u.mu.Lock()
	defer u.mu.Unlock()
	if info.User != nil && info.User.Address != "" && info.User.Name == "" {
		return nil, fmt.Errorf("%w: user address without a name", ErrInvalidInput)
	}
	versions := make(map[VNum]*Version, len(u.src.Versions)+1)
	for v, ver := range u.src.Versions {
		versions[v] = &Version{
			Created: ver.Created,
			State:   ver.State.Clone(),
			Message: ver.Message,
			User:    ver.User,
		}
	}
	versions[u.nextHead] = &Version{
		Created: created.Truncate(time.Second),
		State:   u.state.DigestMap(),
		Message: info.Message,
		User:    info.User,
	}
	fixity := make(map[string]DigestMap, len(u.fixity))
	for alg, m := range u.fixity {
		if len(m) > 0 {
			fixity[alg] = m.Clone()
		}
	}
	if len(fixity) == 0 {
		fixity = nil
	}
	newInv := &Inventory{
		ID:               u.src.ID,
		Type:             u.spec.AsInvType(),
		DigestAlgorithm:  u.src.DigestAlgorithm,
		Head:             u.nextHead,
		ContentDirectory: u.src.ContentDirectory,
		Fixity:           fixity,
		Manifest:         u.manifest.Clone(),
		Versions:         versions,
		prevDigest:       u.src.digest,
		objectRoot:       u.src.objectRoot,
	}
	if err := newInv.Validate(); err != nil {
		return nil, err
	}
	return newInv, nil
}
