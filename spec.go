package ocfl

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

const (
	invTypePrefix = "https://ocfl.io/"
	invTypeSuffix = "/spec/#inventory"
)

var ErrSpecInvalid = errors.New("invalid OCFL spec version")

// Well-known OCFL spec versions.
var (
	Spec1_0 = Spec{1, 0}
	Spec1_1 = Spec{1, 1}
)

// Spec represents an OCFL specification version number.
type Spec [2]int

func ParseSpec(v string, n *Spec) error {
	a, b, found := strings.Cut(v, `.`)
	if !found {
		return fmt.Errorf("%w: %s", ErrSpecInvalid, v)
	}
	if len(a) < 1 || a[0] == '0' || len(b) < 1 || (len(b) > 1 && b[0] == '0') {
		return fmt.Errorf("%w: %s", ErrSpecInvalid, v)
	}
	maj, err := strconv.Atoi(a)
	if err != nil {
		return fmt.Errorf("%w: %s", ErrSpecInvalid, v)
	}
	min, err := strconv.Atoi(b)
	if err != nil {
		return fmt.Errorf("%w: %s", ErrSpecInvalid, v)
	}
	n[0] = maj
	n[1] = min
	return nil
}

func MustParseSpec(v string) Spec {
	var n Spec
	if err := ParseSpec(v, &n); err != nil {
		panic(err)
	}
	return n
}

func (n Spec) String() string {
	return fmt.Sprintf("%d.%d", n[0], n[1])
}

func (n *Spec) UnmarshalText(text []byte) error {
	return ParseSpec(string(text), n)
}

func (n Spec) MarshalText() ([]byte, error) {
	return []byte(n.String()), nil
}

// Cmp compares v1 to v2: -1 if v1 is older, 0 if equal, 1 if newer.
func (v1 Spec) Cmp(v2 Spec) int {
	var diff int
	if v1[0] == v2[0] {
		diff = v1[1] - v2[1]
	} else {
		diff = v1[0] - v2[0]
	}
	switch {
	case diff > 0:
		return 1
	case diff < 0:
		return -1
	default:
		return 0
	}
}

func (n Spec) Empty() bool {
	return n == Spec{}
}

// AsInvType returns n as an InvType.
func (n Spec) AsInvType() InvType {
	return InvType{Spec: n}
}

// InvType represents an inventory type string,
// for example: https://ocfl.io/1.1/spec/#inventory
type InvType struct {
	Spec
}

func (inv InvType) String() string {
	return invTypePrefix + inv.Spec.String() + invTypeSuffix
}

func (inv *InvType) UnmarshalText(t []byte) error {
	cut := strings.TrimPrefix(string(t), invTypePrefix)
	cut = strings.TrimSuffix(cut, invTypeSuffix)
	return ParseSpec(cut, &inv.Spec)
}

func (inv InvType) MarshalText() ([]byte, error) {
	return []byte(inv.String()), nil
}
