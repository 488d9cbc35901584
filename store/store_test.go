package store_test

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/matryer/is"
	"github.com/preservio/ocfl"
	"github.com/preservio/ocfl/backend/memfs"
	"github.com/preservio/ocfl/store"
)

func TestFlatDirectLayout(t *testing.T) {
	is := is.New(t)
	is.Equal(store.FlatDirectLayout("obj-1"), "obj-1")
	// path separators never leak into the layout
	is.True(!strings.Contains(store.FlatDirectLayout("a/b:c"), "/"))
}

func TestObjectRootPath(t *testing.T) {
	is := is.New(t)
	s, err := store.New(memfs.New(), "root")
	is.NoErr(err)
	is.Equal(s.ObjectRootPath("obj-1"), "root/obj-1")

	custom, err := store.New(memfs.New(), "root", store.WithLayout(func(id string) string {
		return "objects/" + id
	}))
	is.NoErr(err)
	is.Equal(custom.ObjectRootPath("obj-1"), "root/objects/obj-1")
}

func TestInitRoot(t *testing.T) {
	is := is.New(t)
	ctx := context.Background()
	fsys := memfs.New()
	s, err := store.New(fsys, "root")
	is.NoErr(err)
	is.NoErr(s.InitRoot(ctx, ocfl.Spec1_1))
	is.NoErr(s.InitRoot(ctx, ocfl.Spec1_1)) // idempotent
	entries, err := fsys.ReadDir(ctx, "root")
	is.NoErr(err)
	decl, err := ocfl.FindNamaste(entries)
	is.NoErr(err)
	is.Equal(decl.Type, ocfl.NamasteTypeStore)
}

func TestLoadInventoryNotFound(t *testing.T) {
	is := is.New(t)
	ctx := context.Background()
	s, err := store.New(memfs.New(), "root")
	is.NoErr(err)
	_, err = s.LoadInventory(ctx, "no-such-object")
	is.True(errors.Is(err, ocfl.ErrNotFound))
	exists, err := s.ContainsObject(ctx, "no-such-object")
	is.NoErr(err)
	is.True(!exists)
}

func TestListObjectIDsEmptyRoot(t *testing.T) {
	is := is.New(t)
	ctx := context.Background()
	s, err := store.New(memfs.New(), "root")
	is.NoErr(err)
	err = s.ListObjectIDs(ctx, func(id string) error {
		t.Fatalf("unexpected object: %s", id)
		return nil
	})
	is.NoErr(err)
}
