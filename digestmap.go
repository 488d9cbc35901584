package ocfl

import (
	"fmt"
	"maps"
	"slices"
	"sort"
	"strings"
)

// DigestMap maps digests to file paths. It is the representation used for
// inventory manifests, version states, and fixity blocks.
type DigestMap map[string][]string

// MapDigestConflictErr indicates the same digest appears more than once in a
// DigestMap (i.e., with different cases).
type MapDigestConflictErr struct {
	Digest string
}

func (d *MapDigestConflictErr) Error() string {
	return fmt.Sprintf("digest conflict for: %q", d.Digest)
}

// MapPathConflictErr indicates a path appears more than once in a DigestMap,
// or is used as both a file and a directory.
type MapPathConflictErr struct {
	Path string
}

func (p *MapPathConflictErr) Error() string {
	return fmt.Sprintf("path conflict for: %q", p.Path)
}

// MapPathInvalidErr indicates an invalid path in a DigestMap.
type MapPathInvalidErr struct {
	Path string
}

func (p *MapPathInvalidErr) Error() string {
	return fmt.Sprintf("invalid path: %q", p.Path)
}

// AllPaths returns a sorted slice of all path names in m.
func (m DigestMap) AllPaths() []string {
	pths := make([]string, 0, m.NumPaths())
	for _, paths := range m {
		pths = append(pths, paths...)
	}
	sort.Strings(pths)
	return pths
}

// NumPaths returns the number of paths in m.
func (m DigestMap) NumPaths() int {
	var n int
	for _, paths := range m {
		n += len(paths)
	}
	return n
}

// Clone returns a deep copy of m.
func (m DigestMap) Clone() DigestMap {
	newM := maps.Clone(m)
	for d, p := range newM {
		newM[d] = slices.Clone(p)
	}
	return newM
}

// HasDigest returns whether dig (case-insensitive) keys an entry in m.
func (m DigestMap) HasDigest(dig string) bool {
	return len(m.PathsFor(dig)) > 0
}

// PathsFor returns the paths associated with dig (case-insensitive).
func (m DigestMap) PathsFor(dig string) []string {
	if paths, ok := m[dig]; ok {
		return paths
	}
	norm := normalizeDigest(dig)
	for d, paths := range m {
		if normalizeDigest(d) == norm {
			return paths
		}
	}
	return nil
}

// DigestFor returns the digest for path p or an empty string if p is not
// present.
func (m DigestMap) DigestFor(p string) string {
	if p == "" {
		return ""
	}
	for d, pths := range m {
		if slices.Contains(pths, p) {
			return d
		}
	}
	return ""
}

// PathMap returns m as a PathMap (path → digest).
func (m DigestMap) PathMap() PathMap {
	pm := make(PathMap, m.NumPaths())
	for d, paths := range m {
		for _, p := range paths {
			pm[p] = d
		}
	}
	return pm
}

// Normalize returns a copy of m with all digests lowercased. An error is
// returned if m has a digest conflict.
func (m DigestMap) Normalize() (DigestMap, error) {
	norm := make(DigestMap, len(m))
	for d, paths := range m {
		nd := normalizeDigest(d)
		if _, exists := norm[nd]; exists {
			return nil, &MapDigestConflictErr{Digest: nd}
		}
		norm[nd] = slices.Clone(paths)
	}
	return norm, nil
}

// Eq returns true if m and other have the same normalized digests mapping to
// the same sets of paths.
func (m DigestMap) Eq(other DigestMap) bool {
	if len(m) != len(other) {
		return false
	}
	otherNorm, err := other.Normalize()
	if err != nil {
		return false
	}
	for dig, paths := range m {
		otherPaths := slices.Clone(otherNorm[normalizeDigest(dig)])
		if len(paths) != len(otherPaths) {
			return false
		}
		paths = slices.Clone(paths)
		sort.Strings(paths)
		sort.Strings(otherPaths)
		if slices.Compare(paths, otherPaths) != 0 {
			return false
		}
	}
	return true
}

// Valid returns a non-nil error if m includes an empty path list, an invalid
// path, a duplicate path, a file/directory path conflict, or a digest
// conflict.
func (m DigestMap) Valid() error {
	if _, err := m.Normalize(); err != nil {
		return err
	}
	files := make(map[string]struct{}, m.NumPaths())
	dirs := map[string]struct{}{}
	for d, paths := range m {
		if len(paths) == 0 {
			return fmt.Errorf("no paths for digest %q", d)
		}
		for _, p := range paths {
			if !validPath(p) {
				return &MapPathInvalidErr{Path: p}
			}
			if _, exists := files[p]; exists {
				return &MapPathConflictErr{Path: p}
			}
			files[p] = struct{}{}
			for parent := parentDir(p); parent != ""; parent = parentDir(parent) {
				dirs[parent] = struct{}{}
			}
		}
	}
	for p := range files {
		if _, isDir := dirs[p]; isDir {
			return &MapPathConflictErr{Path: p}
		}
	}
	return nil
}

// PathMap maps file paths to digests.
type PathMap map[string]string

// DigestMap returns pm as a DigestMap.
func (pm PathMap) DigestMap() DigestMap {
	dm := DigestMap{}
	for p, d := range pm {
		dm[d] = append(dm[d], p)
	}
	for _, paths := range dm {
		sort.Strings(paths)
	}
	return dm
}

// SortedPaths returns pm's paths in ascending order.
func (pm PathMap) SortedPaths() []string {
	paths := make([]string, 0, len(pm))
	for p := range pm {
		paths = append(paths, p)
	}
	sort.Strings(paths)
	return paths
}

// validPath returns whether p is a legal logical or content path: slash
// separated, relative, with no empty, '.', or '..' segments.
func validPath(p string) bool {
	if p == "" || p == "." || strings.HasPrefix(p, "/") || strings.HasSuffix(p, "/") {
		return false
	}
	for _, seg := range strings.Split(p, "/") {
		if seg == "" || seg == "." || seg == ".." {
			return false
		}
	}
	return true
}

func parentDir(p string) string {
	i := strings.LastIndex(p, "/")
	if i < 0 {
		return ""
	}
	return p[:i]
}

func normalizeDigest(d string) string {
	return strings.ToLower(d)
}
