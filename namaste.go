package ocfl

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"path"
	"regexp"
	"strings"
)

const (
	NamasteTypeObject = "ocfl_object" // type string for OCFL object declarations
	NamasteTypeStore  = "ocfl"        // type string for OCFL storage root declarations
)

var (
	ErrNamasteNotExist = fmt.Errorf("missing NAMASTE declaration: %w", fs.ErrNotExist)
	ErrNamasteInvalid  = errors.New("invalid NAMASTE declaration contents")
	ErrNamasteMultiple = errors.New("multiple NAMASTE declarations found")
	namasteRE          = regexp.MustCompile(`^0=([a-z_]+)_([0-9]+\.[0-9]+)$`)
)

// Namaste represents a NAMASTE declaration file.
type Namaste struct {
	Type    string
	Version Spec
}

// FindNamaste returns the NAMASTE declaration from a fs.DirEntry slice. An
// error is returned if the number of declarations is not one.
func FindNamaste(items []fs.DirEntry) (Namaste, error) {
	var found []Namaste
	for _, e := range items {
		if !e.Type().IsRegular() {
			continue
		}
		if dec, err := ParseNamaste(e.Name()); err == nil {
			found = append(found, dec)
		}
	}
	switch len(found) {
	case 0:
		return Namaste{}, ErrNamasteNotExist
	case 1:
		return found[0], nil
	default:
		return Namaste{}, ErrNamasteMultiple
	}
}

// Name returns the filename for n (0=TYPE_VERSION), or an empty string if n
// is incomplete.
func (n Namaste) Name() string {
	if n.Type == "" || n.Version.Empty() {
		return ""
	}
	return "0=" + n.Type + "_" + n.Version.String()
}

// Body returns the expected file contents of the declaration.
func (n Namaste) Body() string {
	if n.Type == "" || n.Version.Empty() {
		return ""
	}
	return n.Type + "_" + n.Version.String() + "\n"
}

// ParseNamaste parses name as a NAMASTE declaration filename.
func ParseNamaste(name string) (n Namaste, err error) {
	m := namasteRE.FindStringSubmatch(name)
	if len(m) != 3 {
		return Namaste{}, ErrNamasteNotExist
	}
	n.Type = m[1]
	if err := ParseSpec(m[2], &n.Version); err != nil {
		return Namaste{}, err
	}
	return n, nil
}

// ValidateNamaste checks the contents of the declaration file name in fsys.
func ValidateNamaste(ctx context.Context, fsys FS, name string) error {
	d, err := ParseNamaste(path.Base(name))
	if err != nil {
		return err
	}
	decl, err := ReadAll(ctx, fsys, name)
	if err != nil {
		return fmt.Errorf("reading declaration: %w", err)
	}
	if string(decl) != d.Body() {
		return ErrNamasteInvalid
	}
	return nil
}

// WriteDeclaration writes d's declaration file in dir.
func WriteDeclaration(ctx context.Context, root WriteFS, dir string, d Namaste) error {
	if _, err := root.Write(ctx, path.Join(dir, d.Name()), strings.NewReader(d.Body())); err != nil {
		return fmt.Errorf("writing declaration: %w", err)
	}
	return nil
}
