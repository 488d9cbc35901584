package ocfl

import (
	"context"
	"fmt"
	"io"
)

// StreamOpener opens a read stream for a single file.
type StreamOpener func(ctx context.Context) (io.ReadCloser, error)

// Storage is the backend contract the repository coordinator depends on.
// Implementations must be safe for concurrent use. Staging and output
// directories are local filesystem paths; everything else is backend
// territory.
type Storage interface {
	// LoadInventory returns the parsed, digest-checked root inventory for
	// objectID, or ErrNotFound if the object doesn't exist.
	LoadInventory(ctx context.Context, objectID string) (*Inventory, error)

	// ContainsObject reports whether objectID exists in the repository.
	ContainsObject(ctx context.Context, objectID string) (bool, error)

	// ObjectRootPath returns objectID's root path within the backend.
	ObjectRootPath(objectID string) string

	// StoreNewVersion atomically installs the staged version described by
	// inv. The staging directory holds the version's content directory and
	// inventory/sidecar pair. It fails with ErrObjectOutOfSync if the
	// object's head is not the version preceding inv's head. If upgraded
	// is true the object's OCFL declaration is replaced.
	StoreNewVersion(ctx context.Context, inv *Inventory, stagingDir string, upgraded bool) error

	// RollbackToVersion removes all versions above v and rewrites the root
	// inventory and sidecar to match v.
	RollbackToVersion(ctx context.Context, inv *Inventory, v VNum) error

	// PurgeObject removes the object entirely.
	PurgeObject(ctx context.Context, objectID string) error

	// ReconstructObjectVersion writes version v's logical state into
	// outputDir on the local filesystem.
	ReconstructObjectVersion(ctx context.Context, inv *Inventory, v VNum, outputDir string) error

	// ObjectStreams returns openers for every logical path in version v.
	ObjectStreams(ctx context.Context, inv *Inventory, v VNum) (map[string]StreamOpener, error)

	// ListObjectIDs calls fn for every object ID in the repository,
	// stopping at the first error.
	ListObjectIDs(ctx context.Context, fn func(id string) error) error

	// ExportObject copies the object's entire directory tree to outputDir.
	ExportObject(ctx context.Context, objectID string, outputDir string) error

	// ExportVersion copies version v's directory tree to outputDir.
	ExportVersion(ctx context.Context, inv *Inventory, v VNum, outputDir string) error

	// ImportObject installs a complete staged object tree for objectID.
	// It fails with ErrObjectExists if the object already exists.
	ImportObject(ctx context.Context, objectID string, stagingDir string) error

	// ValidateObject checks the object's structure and, if contentFixity
	// is set, digests all content files against the manifest.
	ValidateObject(ctx context.Context, objectID string, contentFixity bool) (*ValidationResult, error)

	// InvalidateCache drops any cached state for objectID; with an empty
	// id, all cached state is dropped.
	InvalidateCache(objectID string)

	// Close releases backend resources.
	Close() error
}

// Validator checks an OCFL object directory for conformance. The full spec
// validator is an external collaborator; StructuralValidator provides the
// structural and fixity checks the engine needs on import and export.
type Validator interface {
	ValidateObjectRoot(ctx context.Context, fsys FS, objPath string, contentFixity bool) (*ValidationResult, error)
}

// ValidationResult collects errors and warnings from a validation pass.
type ValidationResult struct {
	Errors   []string
	Warnings []string
}

// AddError records a fatal validation error.
func (r *ValidationResult) AddError(format string, args ...any) {
	r.Errors = append(r.Errors, fmt.Sprintf(format, args...))
}

// AddWarning records a non-fatal validation warning.
func (r *ValidationResult) AddWarning(format string, args ...any) {
	r.Warnings = append(r.Warnings, fmt.Sprintf(format, args...))
}

// HasErrors reports whether the result includes fatal errors.
func (r *ValidationResult) HasErrors() bool { return len(r.Errors) > 0 }

// Err returns a ValidationError wrapping r if it has fatal errors, nil
// otherwise.
func (r *ValidationResult) Err() error {
	if r.HasErrors() {
		return &ValidationError{Result: r}
	}
	return nil
}
