package ocfl

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"path"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/preservio/ocfl/digest"
)

const (
	inventoryBase = "inventory.json"

	// ExtensionsDir is the name of the extensions directory in an object
	// root.
	ExtensionsDir = "extensions"

	// MutableHeadExt is the registered name of the mutable-HEAD extension.
	MutableHeadExt = "0004-mutable-head"

	defaultContentDir = "content"
)

var (
	ErrSidecarContents = errors.New("invalid inventory sidecar contents")
	ErrSidecarMismatch = errors.New("inventory digest doesn't match sidecar")

	sidecarRexp  = regexp.MustCompile(`^([a-fA-F0-9]+)\s+inventory\.json[\n]?$`)
	revisionRexp = regexp.MustCompile(`^r([1-9]\d*)$`)
)

// Inventory represents the contents of an OCFL v1.x inventory.json file.
// Field order matches the canonical serialization.
type Inventory struct {
	ID               string               `json:"id"`
	Type             InvType              `json:"type"`
	DigestAlgorithm  string               `json:"digestAlgorithm"`
	Head             VNum                 `json:"head"`
	ContentDirectory string               `json:"contentDirectory,omitempty"`
	Fixity           map[string]DigestMap `json:"fixity,omitempty"`
	Manifest         DigestMap            `json:"manifest"`
	Versions         map[VNum]*Version    `json:"versions"`

	// bookkeeping, not serialized
	digest      string // digest of the serialized inventory (sidecar value)
	prevDigest  string // digest of the inventory this one was derived from
	objectRoot  string // object root path in the storage backend
	mutableHead bool   // object has an uncommitted mutable HEAD
	revisionNum int    // current mutable-HEAD revision, if any
}

// Version represents object version state and metadata.
type Version struct {
	Created time.Time `json:"created"`
	State   DigestMap `json:"state"`
	Message string    `json:"message,omitempty"`
	User    *User     `json:"user,omitempty"`
}

// User represents a version's user entry.
type User struct {
	Name    string `json:"name"`
	Address string `json:"address,omitempty"`
}

// NewStubInventory returns an empty, version-zero inventory for an object
// that doesn't exist yet.
func NewStubInventory(id string, spec Spec, alg string, contentDir string) *Inventory {
	if contentDir == "" {
		contentDir = defaultContentDir
	}
	return &Inventory{
		ID:               id,
		Type:             spec.AsInvType(),
		DigestAlgorithm:  alg,
		ContentDirectory: contentDir,
		Manifest:         DigestMap{},
		Versions:         map[VNum]*Version{},
	}
}

// Alg resolves the inventory's digest algorithm.
func (inv *Inventory) Alg() (digest.Algorithm, error) {
	return digest.Get(inv.DigestAlgorithm)
}

// Digest returns the digest of the serialized inventory, as recorded by
// Marshal or ReadObjectInventory.
func (inv *Inventory) Digest() string { return inv.digest }

// PreviousDigest returns the digest of the inventory this one was built from.
func (inv *Inventory) PreviousDigest() string { return inv.prevDigest }

// ObjectRootPath returns the object's root path in the storage backend, if
// known.
func (inv *Inventory) ObjectRootPath() string { return inv.objectRoot }

// HasMutableHead reports whether the object has an uncommitted mutable HEAD.
func (inv *Inventory) HasMutableHead() bool { return inv.mutableHead }

// RevisionNum returns the current mutable-HEAD revision number (0 if none).
func (inv *Inventory) RevisionNum() int { return inv.revisionNum }

// ContentDir returns the effective content directory name.
func (inv *Inventory) ContentDir() string {
	if inv.ContentDirectory == "" {
		return defaultContentDir
	}
	return inv.ContentDirectory
}

// ContentPrefix returns the prefix under which new content paths for version
// v are placed, relative to the object root.
func (inv *Inventory) ContentPrefix(v VNum) string {
	if inv.mutableHead {
		rev := "r" + fmt.Sprint(inv.revisionNum)
		return path.Join(ExtensionsDir, MutableHeadExt, "head", inv.ContentDir(), rev)
	}
	return path.Join(v.String(), inv.ContentDir())
}

// VNums returns a sorted slice of version numbers in the inventory.
func (inv *Inventory) VNums() VNums {
	vnums := make(VNums, 0, len(inv.Versions))
	for v := range inv.Versions {
		vnums = append(vnums, v)
	}
	sort.Sort(vnums)
	return vnums
}

// Version returns the Version for v, or for the head version if v is the
// zero value. Nil is returned if the version doesn't exist.
func (inv *Inventory) Version(v VNum) *Version {
	if v.IsZero() {
		v = inv.Head
	}
	return inv.Versions[v]
}

// ContentPath returns the content path (relative to the object root) for the
// logical path in version v's state. If v is zero, the head version is used.
func (inv *Inventory) ContentPath(v VNum, logical string) (string, error) {
	ver := inv.Version(v)
	if ver == nil {
		return "", fmt.Errorf("%w: version %s", ErrNotFound, v)
	}
	dig := ver.State.DigestFor(logical)
	if dig == "" {
		return "", fmt.Errorf("%w: %s", ErrNotFound, logical)
	}
	paths := inv.Manifest.PathsFor(dig)
	if len(paths) == 0 {
		return "", fmt.Errorf("missing manifest entry for: %s", dig)
	}
	return paths[0], nil
}

// Validate checks the inventory's internal consistency: required fields,
// version contiguity, manifest/state closure, content path prefixes, and
// user entries.
func (inv *Inventory) Validate() error {
	if inv.ID == "" {
		return fmt.Errorf("%w: inventory has no id", ErrInvalidInput)
	}
	if _, err := digest.Get(inv.DigestAlgorithm); err != nil {
		return err
	}
	if err := inv.Head.Valid(); err != nil {
		return err
	}
	vnums := inv.VNums()
	if err := vnums.Valid(); err != nil {
		return err
	}
	if vnums.Head() != inv.Head {
		return fmt.Errorf("inventory head %s is not the highest version", inv.Head)
	}
	if err := inv.Manifest.Valid(); err != nil {
		return fmt.Errorf("in manifest: %w", err)
	}
	for p := range inv.Manifest.PathMap() {
		if !inv.validContentPath(p) {
			return fmt.Errorf("manifest content path outside any version: %q", p)
		}
	}
	for _, v := range vnums {
		ver := inv.Versions[v]
		if ver.Created.IsZero() {
			return fmt.Errorf("version %s has no created timestamp", v)
		}
		if ver.User != nil && ver.User.Address != "" && ver.User.Name == "" {
			return fmt.Errorf("version %s user has an address but no name", v)
		}
		if err := ver.State.Valid(); err != nil {
			return fmt.Errorf("in version %s state: %w", v, err)
		}
		for dig := range ver.State {
			if !inv.Manifest.HasDigest(dig) {
				return fmt.Errorf("digest in version %s state is missing from manifest: %s", v, dig)
			}
		}
	}
	return nil
}

// validContentPath reports whether p begins with a known version's content
// prefix or the mutable-HEAD content prefix.
func (inv *Inventory) validContentPath(p string) bool {
	if strings.HasPrefix(p, path.Join(ExtensionsDir, MutableHeadExt, "head", inv.ContentDir())+"/") {
		return true
	}
	first, _, ok := strings.Cut(p, "/")
	if !ok {
		return false
	}
	var v VNum
	if err := ParseVNum(first, &v); err != nil {
		return false
	}
	return v.num <= inv.Head.num
}

// Marshal serializes the inventory as canonical JSON and records the
// resulting digest on the inventory. The returned digest is the sidecar
// value.
func (inv *Inventory) Marshal() ([]byte, string, error) {
	alg, err := inv.Alg()
	if err != nil {
		return nil, "", err
	}
	byt, err := json.MarshalIndent(inv, "", " ")
	if err != nil {
		return nil, "", fmt.Errorf("encoding inventory: %w", err)
	}
	digester := alg.Digester()
	if _, err := digester.Write(byt); err != nil {
		return nil, "", err
	}
	inv.digest = digester.String()
	return byt, inv.digest, nil
}

// SidecarName returns the name of the inventory's sidecar file.
func (inv *Inventory) SidecarName() string {
	return inventoryBase + "." + inv.DigestAlgorithm
}

// SidecarContents returns the expected one-line contents of the sidecar file
// for the given inventory digest.
func SidecarContents(dig string) string {
	return dig + "  " + inventoryBase + "\n"
}

// WriteInventory serializes inv while computing its sidecar digest, then
// writes inventory.json and its sidecar to each dir in fsys. The inventory's
// digest field is updated.
func WriteInventory(ctx context.Context, fsys WriteFS, inv *Inventory, dirs ...string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	byt, dig, err := inv.Marshal()
	if err != nil {
		return err
	}
	for _, dir := range dirs {
		invFile := path.Join(dir, inventoryBase)
		if _, err := fsys.Write(ctx, invFile, bytes.NewReader(byt)); err != nil {
			return fmt.Errorf("writing inventory: %w", err)
		}
		sideFile := path.Join(dir, inv.SidecarName())
		if _, err := fsys.Write(ctx, sideFile, strings.NewReader(SidecarContents(dig))); err != nil {
			return fmt.Errorf("writing inventory sidecar: %w", err)
		}
	}
	return nil
}

// ReadSidecarDigest reads and parses the inventory sidecar file name in fsys.
func ReadSidecarDigest(ctx context.Context, fsys FS, name string) (string, error) {
	cont, err := ReadAll(ctx, fsys, name)
	if err != nil {
		return "", err
	}
	matches := sidecarRexp.FindSubmatch(cont)
	if len(matches) != 2 {
		return "", fmt.Errorf("reading %s: %w", name, ErrSidecarContents)
	}
	return string(matches[1]), nil
}

// ReadInventory reads, parses, and digest-checks the inventory in dir (an
// object root or version directory) of fsys. The sidecar algorithm is
// discovered from the parsed inventory.
func ReadInventory(ctx context.Context, fsys FS, dir string) (*Inventory, error) {
	byt, err := ReadAll(ctx, fsys, path.Join(dir, inventoryBase))
	if err != nil {
		return nil, err
	}
	var inv Inventory
	if err := json.Unmarshal(byt, &inv); err != nil {
		return nil, fmt.Errorf("decoding inventory: %w", err)
	}
	alg, err := inv.Alg()
	if err != nil {
		return nil, err
	}
	sideDig, err := ReadSidecarDigest(ctx, fsys, path.Join(dir, inv.SidecarName()))
	if err != nil {
		return nil, err
	}
	digester := alg.Digester()
	if _, err := digester.Write(byt); err != nil {
		return nil, err
	}
	sum := digester.String()
	if !strings.EqualFold(sum, sideDig) {
		return nil, fmt.Errorf("%w: %s", ErrSidecarMismatch, dir)
	}
	inv.digest = sum
	return &inv, nil
}

// ReadObjectInventory reads the root inventory for the object at objectRoot
// in fsys and annotates it with storage bookkeeping: the object root path
// and mutable-HEAD status discovered from the extensions directory.
func ReadObjectInventory(ctx context.Context, fsys FS, objectRoot string) (*Inventory, error) {
	inv, err := ReadInventory(ctx, fsys, objectRoot)
	if err != nil {
		return nil, err
	}
	inv.objectRoot = objectRoot
	headDir := path.Join(objectRoot, ExtensionsDir, MutableHeadExt, "head")
	entries, err := fsys.ReadDir(ctx, path.Join(headDir, inv.ContentDir()))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return inv, nil
		}
		return nil, err
	}
	inv.mutableHead = true
	for _, e := range entries {
		if m := revisionRexp.FindStringSubmatch(e.Name()); m != nil && e.IsDir() {
			var n int
			fmt.Sscanf(m[1], "%d", &n)
			if n > inv.revisionNum {
				inv.revisionNum = n
			}
		}
	}
	return inv, nil
}
