package ocfl

import (
	"io/fs"
	"path"
	"path/filepath"
	"sort"
	"strings"
)

// VerifyStagedVersion scans the staging content directory against the new
// inventory's manifest and head state. Every staged file must have a
// manifest entry at its full content path whose digest is referenced by the
// head version's state, and every manifest entry under the new version's
// content prefix must have a staged file. Any discrepancy fails with a
// StagingMismatchError.
func VerifyStagedVersion(newInv *Inventory, stagingContentDir string) error {
	prefix := newInv.ContentPrefix(newInv.Head)
	state := newInv.Version(newInv.Head).State
	staged := map[string]struct{}{}
	var mismatch StagingMismatchError

	walkFn := func(name string, d fs.DirEntry, err error) error {
		if err != nil {
			// an absent staging content dir means no staged content
			if name == stagingContentDir {
				return fs.SkipAll
			}
			return err
		}
		if !d.Type().IsRegular() {
			return nil
		}
		rel, err := filepath.Rel(stagingContentDir, name)
		if err != nil {
			return err
		}
		contentPath := path.Join(prefix, filepath.ToSlash(rel))
		staged[contentPath] = struct{}{}
		dig := newInv.Manifest.DigestFor(contentPath)
		if dig == "" {
			mismatch.Extra = append(mismatch.Extra, contentPath)
			return nil
		}
		if len(state.PathsFor(dig)) == 0 {
			mismatch.Extra = append(mismatch.Extra, contentPath)
		}
		return nil
	}
	if err := filepath.WalkDir(stagingContentDir, walkFn); err != nil {
		return err
	}
	for _, contentPath := range newInv.Manifest.AllPaths() {
		if !strings.HasPrefix(contentPath, prefix+"/") {
			continue
		}
		if _, ok := staged[contentPath]; !ok {
			mismatch.Missing = append(mismatch.Missing, contentPath)
		}
	}
	if len(mismatch.Missing) > 0 || len(mismatch.Extra) > 0 {
		sort.Strings(mismatch.Missing)
		sort.Strings(mismatch.Extra)
		return &mismatch
	}
	return nil
}
