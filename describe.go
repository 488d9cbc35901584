package ocfl

import (
	"fmt"
	"time"

	"github.com/preservio/ocfl/digest"
)

// ObjectDetails summarizes an object and all of its versions.
type ObjectDetails struct {
	ID              string
	Head            VNum
	DigestAlgorithm string
	Versions        map[VNum]*VersionDetails
}

// HeadVersion returns the details of the object's head version.
func (od *ObjectDetails) HeadVersion() *VersionDetails {
	return od.Versions[od.Head]
}

// VersionDetails summarizes a single object version.
type VersionDetails struct {
	ObjectVersionID
	Created time.Time
	Message string
	User    *User
	Files   map[string]*FileDetails // keyed by logical path
}

// FileDetails describes a file within a version.
type FileDetails struct {
	// Path is the file's logical path.
	Path string
	// StorageRelativePath is the file's content path relative to the
	// object root.
	StorageRelativePath string
	// Fixity maps digest algorithms to values known for the file,
	// including the inventory's primary algorithm.
	Fixity digest.Set
}

// ChangeType distinguishes file change history entries.
type ChangeType int

const (
	// FileUpdated indicates the file was added or its content changed.
	FileUpdated ChangeType = iota
	// FileRemoved indicates the file was removed from the version state.
	FileRemoved
)

func (c ChangeType) String() string {
	if c == FileRemoved {
		return "remove"
	}
	return "update"
}

// FileChange is one entry in a file's change history.
type FileChange struct {
	Type ChangeType
	ObjectVersionID
	Path                string
	StorageRelativePath string
	Created             time.Time
	Message             string
	User                *User
	Fixity              digest.Set
}

// DescribeInventory maps an inventory to ObjectDetails.
func DescribeInventory(inv *Inventory) *ObjectDetails {
	details := &ObjectDetails{
		ID:              inv.ID,
		Head:            inv.Head,
		DigestAlgorithm: inv.DigestAlgorithm,
		Versions:        make(map[VNum]*VersionDetails, len(inv.Versions)),
	}
	for _, v := range inv.VNums() {
		details.Versions[v] = DescribeVersion(inv, v)
	}
	return details
}

// DescribeVersion maps one version of an inventory to VersionDetails. Nil is
// returned if the version doesn't exist.
func DescribeVersion(inv *Inventory, v VNum) *VersionDetails {
	if v.IsZero() {
		v = inv.Head
	}
	ver := inv.Version(v)
	if ver == nil {
		return nil
	}
	details := &VersionDetails{
		ObjectVersionID: ObjectVersionID{ID: inv.ID, Version: v},
		Created:         ver.Created,
		Message:         ver.Message,
		User:            ver.User,
		Files:           make(map[string]*FileDetails, ver.State.NumPaths()),
	}
	for logical, dig := range ver.State.PathMap() {
		details.Files[logical] = fileDetails(inv, logical, dig)
	}
	return details
}

func fileDetails(inv *Inventory, logical, dig string) *FileDetails {
	fd := &FileDetails{
		Path:   logical,
		Fixity: digest.Set{inv.DigestAlgorithm: dig},
	}
	paths := inv.Manifest.PathsFor(dig)
	if len(paths) > 0 {
		fd.StorageRelativePath = paths[0]
		for alg, fix := range inv.Fixity {
			if sum := fix.DigestFor(paths[0]); sum != "" {
				fd.Fixity[alg] = sum
			}
		}
	}
	return fd
}

// FileChangeHistory returns the change history for the logical path across
// all of inv's versions, oldest first. ErrNotFound is returned if the path
// never existed in the object.
func FileChangeHistory(inv *Inventory, logical string) ([]FileChange, error) {
	var changes []FileChange
	var lastDigest string
	for _, v := range inv.Head.Lineage() {
		ver := inv.Versions[v]
		if ver == nil {
			continue
		}
		dig := ver.State.DigestFor(logical)
		switch {
		case dig == "" && lastDigest != "":
			changes = append(changes, FileChange{
				Type:            FileRemoved,
				ObjectVersionID: ObjectVersionID{ID: inv.ID, Version: v},
				Path:            logical,
				Created:         ver.Created,
				Message:         ver.Message,
				User:            ver.User,
			})
		case dig != "" && dig != lastDigest:
			fd := fileDetails(inv, logical, dig)
			changes = append(changes, FileChange{
				Type:                FileUpdated,
				ObjectVersionID:     ObjectVersionID{ID: inv.ID, Version: v},
				Path:                logical,
				StorageRelativePath: fd.StorageRelativePath,
				Created:             ver.Created,
				Message:             ver.Message,
				User:                ver.User,
				Fixity:              fd.Fixity,
			})
		}
		lastDigest = dig
	}
	if len(changes) == 0 {
		return nil, fmt.Errorf("%w: %q has no history in object %s", ErrNotFound, logical, inv.ID)
	}
	return changes, nil
}
