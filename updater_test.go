package ocfl_test

import (
	"errors"
	"testing"
	"time"

	"github.com/matryer/is"
	"github.com/preservio/ocfl"
	"github.com/preservio/ocfl/digest"
)

func digOf(content string) string {
	d := digest.SHA512.Digester()
	d.Write([]byte(content))
	return d.String()
}

var testInfo = ocfl.VersionInfo{Message: "test", User: &ocfl.User{Name: "alice"}}

func nowUTC() time.Time { return time.Now().UTC() }

// testInventoryV1 builds an inventory with a.txt ("hello") and b/c.txt
// ("world") at v1.
func testInventoryV1(t *testing.T) *ocfl.Inventory {
	t.Helper()
	stub := ocfl.NewStubInventory("obj-1", ocfl.Spec1_1, "sha512", "content")
	u, err := ocfl.NewBlankStateUpdater(stub)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := u.AddFile(digOf("hello"), "a.txt"); err != nil {
		t.Fatal(err)
	}
	if _, err := u.AddFile(digOf("world"), "b/c.txt"); err != nil {
		t.Fatal(err)
	}
	inv, err := u.BuildNewInventory(time.Now(), ocfl.VersionInfo{Message: "init", User: &ocfl.User{Name: "alice"}})
	if err != nil {
		t.Fatal(err)
	}
	return inv
}

func TestAddFileAllocatesContentPath(t *testing.T) {
	is := is.New(t)
	inv := testInventoryV1(t)
	is.Equal(inv.Head, ocfl.V(1))
	paths := inv.Manifest.PathsFor(digOf("hello"))
	is.Equal(paths, []string{"v1/content/a.txt"})
	paths = inv.Manifest.PathsFor(digOf("world"))
	is.Equal(paths, []string{"v1/content/b/c.txt"})
}

func TestAddFileDedup(t *testing.T) {
	is := is.New(t)
	inv := testInventoryV1(t)
	u, err := ocfl.NewCopyStateUpdater(inv, ocfl.Head)
	is.NoErr(err)
	result, err := u.AddFile(digOf("hello"), "dup/a.txt")
	is.NoErr(err)
	is.True(!result.New) // digest already in the object
	next, err := u.BuildNewInventory(time.Now(), testInfo)
	is.NoErr(err)
	is.Equal(next.Head, ocfl.V(2))
	is.Equal(next.Manifest.NumPaths(), 2) // no new content paths
	state := next.Version(ocfl.V(2)).State
	is.Equal(state.DigestFor("dup/a.txt"), digOf("hello"))
	is.Equal(state.DigestFor("a.txt"), digOf("hello"))
}

func TestAddFileOverwrite(t *testing.T) {
	is := is.New(t)
	inv := testInventoryV1(t)
	u, err := ocfl.NewCopyStateUpdater(inv, ocfl.Head)
	is.NoErr(err)
	_, err = u.AddFile(digOf("other"), "a.txt")
	is.True(errors.Is(err, ocfl.ErrPathExists))
	result, err := u.AddFile(digOf("other"), "a.txt", ocfl.Overwrite)
	is.NoErr(err)
	is.True(result.New)
	is.Equal(result.ContentPath, "v2/content/a.txt")
	is.Equal(len(result.Replaced), 0) // old digest belongs to v1, nothing staged

	// overwriting content introduced this mutation orphans its staged file
	_, err = u.AddFile(digOf("fresh"), "n.txt")
	is.NoErr(err)
	result, err = u.AddFile(digOf("fresher"), "n.txt", ocfl.Overwrite)
	is.NoErr(err)
	is.Equal(result.Replaced, []string{"n.txt"})
	next, err := u.BuildNewInventory(nowUTC(), testInfo)
	is.NoErr(err)
	is.True(!next.Manifest.HasDigest(digOf("fresh")))
	is.True(next.Manifest.HasDigest(digOf("fresher")))
}

func TestRemoveFile(t *testing.T) {
	is := is.New(t)
	inv := testInventoryV1(t)
	u, err := ocfl.NewCopyStateUpdater(inv, ocfl.Head)
	is.NoErr(err)
	// removing a historical file keeps its manifest entry
	staged := u.RemoveFile("a.txt")
	is.Equal(len(staged), 0)
	// content added during this mutation is dropped when orphaned
	result, err := u.AddFile(digOf("fresh"), "n.txt")
	is.NoErr(err)
	is.True(result.New)
	staged = u.RemoveFile("n.txt")
	is.Equal(staged, []string{"n.txt"})
	next, err := u.BuildNewInventory(time.Now(), testInfo)
	is.NoErr(err)
	is.True(next.Manifest.HasDigest(digOf("hello"))) // still referenced by v1
	is.True(!next.Manifest.HasDigest(digOf("fresh")))
	is.Equal(next.Version(ocfl.Head).State.DigestFor("a.txt"), "")
}

func TestRemoveFileKeepsSharedDigest(t *testing.T) {
	is := is.New(t)
	inv := testInventoryV1(t)
	u, err := ocfl.NewCopyStateUpdater(inv, ocfl.Head)
	is.NoErr(err)
	_, err = u.AddFile(digOf("fresh"), "n1.txt")
	is.NoErr(err)
	_, err = u.AddFile(digOf("fresh"), "n2.txt")
	is.NoErr(err)
	// still referenced by n2.txt
	is.Equal(len(u.RemoveFile("n1.txt")), 0)
	is.Equal(u.RemoveFile("n2.txt"), []string{"n1.txt"})
}

func TestRenameFile(t *testing.T) {
	is := is.New(t)
	inv := testInventoryV1(t)
	u, err := ocfl.NewCopyStateUpdater(inv, ocfl.Head)
	is.NoErr(err)
	_, err = u.RenameFile("missing.txt", "x.txt")
	is.True(errors.Is(err, ocfl.ErrNotFound))
	_, err = u.RenameFile("a.txt", "b/c.txt")
	is.True(errors.Is(err, ocfl.ErrPathExists))
	_, err = u.RenameFile("a.txt", "z.txt")
	is.NoErr(err)
	next, err := u.BuildNewInventory(time.Now(), testInfo)
	is.NoErr(err)
	state := next.Version(ocfl.Head).State
	is.Equal(state.DigestFor("z.txt"), digOf("hello"))
	is.Equal(state.DigestFor("a.txt"), "")
}

func TestReinstateFile(t *testing.T) {
	is := is.New(t)
	inv := testInventoryV1(t)
	// v2 removes a.txt
	u, err := ocfl.NewCopyStateUpdater(inv, ocfl.Head)
	is.NoErr(err)
	u.RemoveFile("a.txt")
	v2, err := u.BuildNewInventory(time.Now(), testInfo)
	is.NoErr(err)
	// v3 reinstates it from v1
	u, err = ocfl.NewCopyStateUpdater(v2, ocfl.Head)
	is.NoErr(err)
	_, err = u.ReinstateFile(ocfl.V(1), "missing.txt", "a.txt")
	is.True(errors.Is(err, ocfl.ErrNotFound))
	_, err = u.ReinstateFile(ocfl.V(1), "a.txt", "a.txt")
	is.NoErr(err)
	v3, err := u.BuildNewInventory(time.Now(), testInfo)
	is.NoErr(err)
	is.Equal(v3.Version(ocfl.Head).State.DigestFor("a.txt"), digOf("hello"))
	// no new manifest entries; content path unchanged
	is.Equal(v3.Manifest.PathsFor(digOf("hello")), []string{"v1/content/a.txt"})
}

func TestClearState(t *testing.T) {
	is := is.New(t)
	inv := testInventoryV1(t)
	u, err := ocfl.NewCopyStateUpdater(inv, ocfl.Head)
	is.NoErr(err)
	_, err = u.AddFile(digOf("fresh"), "n.txt")
	is.NoErr(err)
	staged := u.ClearState()
	is.Equal(staged, []string{"n.txt"})
	next, err := u.BuildNewInventory(time.Now(), testInfo)
	is.NoErr(err)
	is.Equal(next.Version(ocfl.Head).State.NumPaths(), 0)
}

func TestUpgradeInventory(t *testing.T) {
	is := is.New(t)
	stub := ocfl.NewStubInventory("obj-1", ocfl.Spec1_0, "sha512", "content")
	u, err := ocfl.NewBlankStateUpdater(stub)
	is.NoErr(err)
	_, err = u.AddFile(digOf("hello"), "a.txt")
	is.NoErr(err)
	inv, err := u.BuildNewInventory(time.Now(), testInfo)
	is.NoErr(err)
	is.Equal(inv.Type.Spec, ocfl.Spec1_0)

	u, err = ocfl.NewCopyStateUpdater(inv, ocfl.Head)
	is.NoErr(err)
	cfg := ocfl.Config{OCFLVersion: ocfl.Spec1_1, UpgradeObjectsOnWrite: true}
	is.True(u.UpgradeInventory(cfg))
	is.True(!u.UpgradeInventory(cfg)) // already upgraded
	next, err := u.BuildNewInventory(time.Now(), testInfo)
	is.NoErr(err)
	is.Equal(next.Type.Spec, ocfl.Spec1_1)

	// no upgrade without the config flag
	u, err = ocfl.NewCopyStateUpdater(inv, ocfl.Head)
	is.NoErr(err)
	is.True(!u.UpgradeInventory(ocfl.Config{OCFLVersion: ocfl.Spec1_1}))
}

func TestAddFixity(t *testing.T) {
	is := is.New(t)
	inv := testInventoryV1(t)
	u, err := ocfl.NewCopyStateUpdater(inv, ocfl.Head)
	is.NoErr(err)
	md5sum := "5d41402abc4b2a76b9719d911017c592" // md5("hello")
	is.NoErr(u.AddFixity("a.txt", "md5", md5sum))
	is.True(errors.Is(u.AddFixity("missing.txt", "md5", md5sum), ocfl.ErrNotFound))
	next, err := u.BuildNewInventory(time.Now(), testInfo)
	is.NoErr(err)
	is.Equal(next.Fixity["md5"].PathsFor(md5sum), []string{"v1/content/a.txt"})
}

func TestBuildNewInventoryUserAddress(t *testing.T) {
	is := is.New(t)
	inv := testInventoryV1(t)
	u, err := ocfl.NewCopyStateUpdater(inv, ocfl.Head)
	is.NoErr(err)
	_, err = u.BuildNewInventory(time.Now(), ocfl.VersionInfo{
		User: &ocfl.User{Address: "mailto:alice@example.org"},
	})
	is.True(errors.Is(err, ocfl.ErrInvalidInput))
}
