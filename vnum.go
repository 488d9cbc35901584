package ocfl

import (
	"encoding"
	"errors"
	"fmt"
	"math"
	"sort"
	"strconv"
)

var (
	ErrVNumInvalid = errors.New(`invalid version number`)
	ErrVNumPadding = errors.New(`inconsistent version padding in version sequence`)
	ErrVNumMissing = errors.New(`missing version in version sequence`)
	ErrVerEmpty    = errors.New("no versions found")

	// Some functions in this package use the zero value VNum to indicate the
	// most recent, "head" version.
	Head = VNum{}
)

// VNum represents an OCFL object version number (e.g., "v1", "v02"). A VNum
// has a sequence number (1,2,3...) and a padding number, which defaults to
// zero. The padding is the maximum number of numeric digits the version
// number can include (a padding of 0 is no maximum).
type VNum struct {
	num     int // positive integers 1,2,3..
	padding int // should be zero, but can be 2,3,4
}

// V returns a new VNum. The first argument is a sequence number. An optional
// second argument sets the padding. Without arguments, V() returns the zero
// value.
func V(ns ...int) VNum {
	switch len(ns) {
	case 0:
		return VNum{}
	case 1:
		return VNum{num: ns[0]}
	default:
		return VNum{num: ns[0], padding: ns[1]}
	}
}

// ParseVNum parses v as a version number ("v3", "v004") and sets the value
// referenced by vn.
func ParseVNum(v string, vn *VNum) error {
	var n, p int
	var nonzero bool
	var err error
	if len(v) < 2 || v[0] != 'v' {
		return fmt.Errorf("%s: %w", v, ErrVNumInvalid)
	}
	if v[1] == '0' {
		p = len(v) - 1
	}
	for i := 1; i < len(v); i++ {
		if v[i] < '0' || v[i] > '9' {
			return fmt.Errorf("%s: %w", v, ErrVNumInvalid)
		}
		if v[i] != '0' {
			nonzero = true
		}
	}
	if !nonzero {
		return fmt.Errorf("%s: %w", v, ErrVNumInvalid)
	}
	if n, err = strconv.Atoi(v[1:]); err != nil {
		return fmt.Errorf("%s: %w", v, ErrVNumInvalid)
	}
	vn.num = n
	vn.padding = p
	return nil
}

// MustParseVNum parses str as a VNum and returns it. It panics if str cannot
// be parsed.
func MustParseVNum(str string) VNum {
	v := VNum{}
	if err := ParseVNum(str, &v); err != nil {
		panic(err)
	}
	return v
}

// Num returns v's sequence number.
func (v VNum) Num() int { return v.num }

// Padding returns v's padding number.
func (v VNum) Padding() int { return v.padding }

// IsZero returns whether v is the zero value.
func (v VNum) IsZero() bool { return v == Head }

// First returns true if v is version 1.
func (v VNum) First() bool { return v.num == 1 }

// Next returns the VNum after v with the same padding. A non-nil error is
// returned if padding > 0 and the next number would overflow it.
func (v VNum) Next() (VNum, error) {
	next := VNum{num: v.num + 1, padding: v.padding}
	if next.paddingOverflow() {
		return VNum{}, fmt.Errorf("next version: padding overflow: %w", ErrVNumInvalid)
	}
	return next, nil
}

// Prev returns the version before v, with the same padding. An error is
// returned if v is version 1.
func (v VNum) Prev() (VNum, error) {
	if v.num == 1 {
		return Head, errors.New("no previous version")
	}
	return VNum{num: v.num - 1, padding: v.padding}, nil
}

// String returns the string representation of v ("v3", "v004").
func (v VNum) String() string {
	format := fmt.Sprintf("v%%0%dd", v.padding)
	return fmt.Sprintf(format, v.num)
}

// Valid returns an error if v is invalid.
func (v VNum) Valid() error {
	if v.num <= 0 || v.paddingOverflow() {
		return fmt.Errorf("%w: num=%d, padding=%d", ErrVNumInvalid, v.num, v.padding)
	}
	return nil
}

// paddingOverflow indicates v.padding is too small for v.num.
func (v VNum) paddingOverflow() bool {
	return v.padding > 0 && v.num >= int(math.Pow10(v.padding-1))
}

// Lineage returns the full version sequence with v as the head.
func (v VNum) Lineage() VNums {
	if v.num == 0 {
		return VNums{}
	}
	nums := make(VNums, v.num)
	for i := 0; i < v.num; i++ {
		nums[i] = VNum{i + 1, v.padding}
	}
	return nums
}

var (
	_ encoding.TextUnmarshaler = (*VNum)(nil)
	_ encoding.TextMarshaler   = (*VNum)(nil)
)

func (v *VNum) UnmarshalText(text []byte) error {
	return ParseVNum(string(text), v)
}

func (v VNum) MarshalText() ([]byte, error) {
	if err := v.Valid(); err != nil {
		return nil, err
	}
	return []byte(v.String()), nil
}

// VNums is a slice of VNum elements.
type VNums []VNum

// Valid returns a non-nil error if vs is empty, is not a continuous sequence
// (1,2,3...), or has inconsistent padding or padding overflow.
func (vs VNums) Valid() error {
	if len(vs) == 0 {
		return ErrVerEmpty
	}
	if !sort.IsSorted(vs) {
		sort.Sort(vs)
	}
	padding := vs[0].padding
	for i := range vs {
		if vs[i].num != i+1 {
			return fmt.Errorf("%w: %s", ErrVNumMissing, V(i+1, padding))
		}
		if vs[i].padding != padding {
			return ErrVNumPadding
		}
	}
	return vs.Head().Valid()
}

// Head returns the last VNum in vs.
func (vs VNums) Head() VNum {
	if len(vs) > 0 {
		return vs[len(vs)-1]
	}
	return VNum{}
}

var _ sort.Interface = (*VNums)(nil)

func (vs VNums) Len() int           { return len(vs) }
func (vs VNums) Less(i, j int) bool { return vs[i].num < vs[j].num }
func (vs VNums) Swap(i, j int)      { vs[i], vs[j] = vs[j], vs[i] }
