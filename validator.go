package ocfl

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"path"
	"runtime"

	"github.com/preservio/ocfl/digest"
	"golang.org/x/sync/errgroup"
)

// StructuralValidator checks the structure of an OCFL object directory:
// NAMASTE declaration, inventory/sidecar agreement, internal inventory
// consistency, version directories, and (optionally) content fixity against
// the manifest. It does not implement the full OCFL conformance check; a
// complete checker can be plugged into the repository through the Validator
// interface.
type StructuralValidator struct {
	// Concurrency bounds the number of files digested at once during a
	// content fixity pass. Defaults to runtime.NumCPU().
	Concurrency int
}

var _ Validator = StructuralValidator{}

func (sv StructuralValidator) ValidateObjectRoot(ctx context.Context, fsys FS, objPath string, contentFixity bool) (*ValidationResult, error) {
	result := &ValidationResult{}
	entries, err := fsys.ReadDir(ctx, objPath)
	if err != nil {
		return nil, fmt.Errorf("reading object root: %w", err)
	}
	decl, err := FindNamaste(entries)
	if err != nil {
		result.AddError("object declaration: %s", err)
	} else {
		if decl.Type != NamasteTypeObject {
			result.AddError("not an object declaration: %s", decl.Name())
		}
		if err := ValidateNamaste(ctx, fsys, path.Join(objPath, decl.Name())); err != nil {
			result.AddError("object declaration: %s", err)
		}
	}
	inv, err := ReadInventory(ctx, fsys, objPath)
	if err != nil {
		result.AddError("root inventory: %s", err)
		return result, nil
	}
	if err := inv.Validate(); err != nil {
		result.AddError("root inventory: %s", err)
	}
	if err == nil && !decl.Version.Empty() && inv.Type.Spec.Cmp(decl.Version) != 0 {
		result.AddWarning("inventory type %s doesn't match object declaration %s", inv.Type.Spec, decl.Version)
	}
	dirs := map[string]bool{}
	for _, e := range entries {
		if e.IsDir() {
			dirs[e.Name()] = true
		}
	}
	for _, v := range inv.VNums() {
		if !dirs[v.String()] {
			result.AddError("missing version directory: %s", v)
		}
	}
	if contentFixity && !result.HasErrors() {
		if err := sv.checkFixity(ctx, fsys, objPath, inv, result); err != nil {
			return nil, err
		}
	}
	return result, nil
}

// checkFixity digests every manifest content file concurrently and records
// mismatches and missing files on result.
func (sv StructuralValidator) checkFixity(ctx context.Context, fsys FS, objPath string, inv *Inventory, result *ValidationResult) error {
	alg, err := inv.Alg()
	if err != nil {
		return err
	}
	conc := sv.Concurrency
	if conc < 1 {
		conc = runtime.NumCPU()
	}
	type mismatch struct{ msg string }
	grp, ctx := errgroup.WithContext(ctx)
	grp.SetLimit(conc)
	results := make(chan mismatch)
	done := make(chan struct{})
	go func() {
		defer close(done)
		for m := range results {
			result.AddError("%s", m.msg)
		}
	}()
	for dig, paths := range inv.Manifest {
		for _, p := range paths {
			dig, p := dig, p
			grp.Go(func() error {
				f, err := fsys.OpenFile(ctx, path.Join(objPath, p))
				if err != nil {
					if errors.Is(err, fs.ErrNotExist) {
						results <- mismatch{msg: fmt.Sprintf("missing content file: %s", p)}
						return nil
					}
					return err
				}
				defer f.Close()
				digester := alg.Digester()
				if _, err := io.Copy(digester, f); err != nil {
					return err
				}
				if sum := digester.String(); !digestEq(sum, dig) {
					derr := &digest.DigestError{Name: p, Alg: alg.ID(), Got: sum, Expected: dig}
					results <- mismatch{msg: derr.Error()}
				}
				return nil
			})
		}
	}
	err = grp.Wait()
	close(results)
	<-done
	return err
}

func digestEq(a, b string) bool {
	return normalizeDigest(a) == normalizeDigest(b)
}
