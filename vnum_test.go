package ocfl_test

import (
	"errors"
	"testing"

	"github.com/preservio/ocfl"
)

func TestParseVNum(t *testing.T) {
	valid := map[string]ocfl.VNum{
		"v1":   ocfl.V(1),
		"v100": ocfl.V(100),
		"v02":  ocfl.V(2, 2),
		"v004": ocfl.V(4, 3),
	}
	for in, want := range valid {
		var got ocfl.VNum
		if err := ocfl.ParseVNum(in, &got); err != nil {
			t.Fatalf("%s: %v", in, err)
		}
		if got != want {
			t.Fatalf("%s: got %v, want %v", in, got, want)
		}
		if got.String() != in {
			t.Fatalf("%s: round trip gave %s", in, got.String())
		}
	}
	invalid := []string{"", "v", "1", "v0", "v00", "v-1", "vv1", "v1x"}
	for _, in := range invalid {
		var got ocfl.VNum
		if err := ocfl.ParseVNum(in, &got); !errors.Is(err, ocfl.ErrVNumInvalid) {
			t.Fatalf("%q: expected ErrVNumInvalid, got %v", in, err)
		}
	}
}

func TestVNumNext(t *testing.T) {
	next, err := ocfl.V(1).Next()
	if err != nil {
		t.Fatal(err)
	}
	if next != ocfl.V(2) {
		t.Fatalf("got %s", next)
	}
	// v99 with padding 3 is full
	if _, err := ocfl.V(99, 3).Next(); err == nil {
		t.Fatal("expected a padding overflow error")
	}
}

func TestVNumsValid(t *testing.T) {
	if err := (ocfl.VNums{ocfl.V(1), ocfl.V(2), ocfl.V(3)}).Valid(); err != nil {
		t.Fatal(err)
	}
	if err := (ocfl.VNums{}).Valid(); !errors.Is(err, ocfl.ErrVerEmpty) {
		t.Fatalf("expected ErrVerEmpty, got %v", err)
	}
	if err := (ocfl.VNums{ocfl.V(1), ocfl.V(3)}).Valid(); !errors.Is(err, ocfl.ErrVNumMissing) {
		t.Fatalf("expected ErrVNumMissing, got %v", err)
	}
	if err := (ocfl.VNums{ocfl.V(1, 2), ocfl.V(2)}).Valid(); !errors.Is(err, ocfl.ErrVNumPadding) {
		t.Fatalf("expected ErrVNumPadding, got %v", err)
	}
}

func TestVNumLineage(t *testing.T) {
	lineage := ocfl.V(3).Lineage()
	if len(lineage) != 3 || lineage.Head() != ocfl.V(3) {
		t.Fatalf("got %v", lineage)
	}
}
