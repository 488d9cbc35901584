package ocfl

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrNotFound indicates a missing object, version, or logical path.
	ErrNotFound = errors.New("not found")

	// ErrObjectExists indicates an import target collides with an existing
	// object.
	ErrObjectExists = errors.New("object already exists")

	// ErrObjectOutOfSync indicates an optimistic head mismatch during an
	// update: the object changed since its inventory was loaded.
	ErrObjectOutOfSync = errors.New("object is out of sync: its current head is not the expected version")

	// ErrPathExists indicates a logical path collision without the
	// Overwrite option.
	ErrPathExists = errors.New("logical path already exists")

	// ErrInvalidState indicates an operation's object-state preconditions
	// do not hold (active mutable HEAD, staged content inconsistency, ...).
	ErrInvalidState = errors.New("invalid object state")

	// ErrRepoClosed is returned by every operation on a closed repository.
	ErrRepoClosed = fmt.Errorf("repository is closed: %w", ErrInvalidState)

	// ErrInvalidInput indicates a blank or malformed argument.
	ErrInvalidInput = errors.New("invalid input")

	// ErrLockTimeout indicates a file lock could not be acquired within the
	// configured duration.
	ErrLockTimeout = errors.New("timed out waiting for file lock")
)

// ValidationError indicates the validator reported fatal errors. It carries
// the full result set.
type ValidationError struct {
	Result *ValidationResult
}

func (e *ValidationError) Error() string {
	n := len(e.Result.Errors)
	if n == 0 {
		return "validation failed"
	}
	return fmt.Sprintf("validation failed with %d error(s): %s", n, e.Result.Errors[0])
}

// StagingMismatchError reports discrepancies between a staged version's
// content directory and the new inventory's manifest and state.
type StagingMismatchError struct {
	// Missing lists manifest content paths with no staged file.
	Missing []string
	// Extra lists staged files with no manifest entry, or whose digest is
	// not referenced by the new version's state.
	Extra []string
}

func (e *StagingMismatchError) Error() string {
	var b strings.Builder
	b.WriteString("staged version content is inconsistent with the new inventory")
	if len(e.Missing) > 0 {
		fmt.Fprintf(&b, "; missing: %s", strings.Join(e.Missing, ", "))
	}
	if len(e.Extra) > 0 {
		fmt.Fprintf(&b, "; unexpected: %s", strings.Join(e.Extra, ", "))
	}
	return b.String()
}

func (e *StagingMismatchError) Unwrap() error { return ErrInvalidState }
