// Package ocfl implements a storage engine for the Oxford Common File Layout
// (OCFL): versioned, content-addressed objects stored over a pluggable
// backend. The Repository type is the entry point for creating, updating,
// reading, validating, exporting, importing, and rolling back objects. The
// store package provides a Storage implementation over any WriteFS; the
// backend packages provide WriteFS implementations for local disk, memory,
// and cloud blob stores.
package ocfl

import (
	"fmt"
	"strings"

	"github.com/preservio/ocfl/digest"
)

// Option is a bit flag modifying the behavior of repository operations.
type Option uint8

const (
	// Overwrite allows an add or rename to replace an existing logical
	// path. The logical path is rebound; content paths recorded by earlier
	// versions are not removed. Content added earlier in the same mutation
	// that the rebind leaves unreferenced is dropped from the manifest and
	// the staging area.
	Overwrite Option = 1 << iota
	// MoveSource allows file processors to move source files into the
	// staging area instead of copying them.
	MoveSource
	// NoValidation skips post-operation validation on import and export.
	NoValidation
)

func foldOptions(opts []Option) Option {
	var o Option
	for _, opt := range opts {
		o |= opt
	}
	return o
}

// Has returns whether flag is set in o.
func (o Option) Has(flag Option) bool { return o&flag != 0 }

// Config holds repository-wide defaults for new objects.
type Config struct {
	// DigestAlgorithm is the content digest algorithm for new objects:
	// sha512 (default) or sha256.
	DigestAlgorithm string
	// ContentDirectory is the per-version content directory name for new
	// objects. Defaults to "content".
	ContentDirectory string
	// OCFLVersion is the OCFL spec version for new objects. Defaults to
	// 1.1.
	OCFLVersion Spec
	// UpgradeObjectsOnWrite upgrades existing objects to OCFLVersion when
	// they are next written.
	UpgradeObjectsOnWrite bool
}

func (c Config) withDefaults() Config {
	if c.DigestAlgorithm == "" {
		c.DigestAlgorithm = digest.SHA512.ID()
	}
	if c.ContentDirectory == "" {
		c.ContentDirectory = defaultContentDir
	}
	if c.OCFLVersion.Empty() {
		c.OCFLVersion = Spec1_1
	}
	return c
}

func (c Config) valid() error {
	switch c.DigestAlgorithm {
	case digest.SHA512.ID(), digest.SHA256.ID():
	default:
		return fmt.Errorf("%w: content digest algorithm must be sha512 or sha256, got %q",
			ErrInvalidInput, c.DigestAlgorithm)
	}
	if !validPath(c.ContentDirectory) || strings.Contains(c.ContentDirectory, "/") {
		return fmt.Errorf("%w: invalid content directory name %q", ErrInvalidInput, c.ContentDirectory)
	}
	return nil
}

// VersionInfo carries caller-supplied metadata for a new object version.
type VersionInfo struct {
	Message string
	User    *User
}

// ObjectVersionID identifies an object and, optionally, a version. A zero
// Version refers to the object's head.
type ObjectVersionID struct {
	ID      string
	Version VNum
}

// ObjectID returns an ObjectVersionID referring to id's head version.
func ObjectID(id string) ObjectVersionID {
	return ObjectVersionID{ID: id}
}

// ObjectVersion returns an ObjectVersionID referring to version num of id.
func ObjectVersion(id string, num int) ObjectVersionID {
	return ObjectVersionID{ID: id, Version: V(num)}
}

func (ov ObjectVersionID) String() string {
	if ov.Version.IsZero() {
		return ov.ID
	}
	return ov.ID + " " + ov.Version.String()
}

// LogicalPathMapper derives a content path (relative to a version's content
// directory) from a logical path and its digest.
type LogicalPathMapper interface {
	ContentPath(logical string, dig string) string
}

// LogicalPathMapperFunc adapts a function to the LogicalPathMapper
// interface.
type LogicalPathMapperFunc func(logical string, dig string) string

func (f LogicalPathMapperFunc) ContentPath(logical, dig string) string {
	return f(logical, dig)
}

// DefaultPathMapper maps logical paths to identical content paths.
var DefaultPathMapper LogicalPathMapper = LogicalPathMapperFunc(func(logical, _ string) string {
	return logical
})

// ContentPathConstraint checks a candidate content path (relative to the
// content directory) against backend path rules.
type ContentPathConstraint interface {
	Check(contentPath string) error
}

// ContentPathConstraintFunc adapts a function to the ContentPathConstraint
// interface.
type ContentPathConstraintFunc func(contentPath string) error

func (f ContentPathConstraintFunc) Check(p string) error { return f(p) }

// DefaultPathConstraint rejects paths with empty, '.', or '..' segments and
// backslashes.
var DefaultPathConstraint ContentPathConstraint = ContentPathConstraintFunc(func(p string) error {
	if !validPath(p) {
		return fmt.Errorf("%w: illegal content path %q", ErrInvalidInput, p)
	}
	if strings.Contains(p, `\`) {
		return fmt.Errorf("%w: content path contains backslash: %q", ErrInvalidInput, p)
	}
	return nil
})
