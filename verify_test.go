package ocfl_test

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/matryer/is"
	"github.com/preservio/ocfl"
)

func stageFiles(t *testing.T, contentDir string, files map[string]string) {
	t.Helper()
	for name, content := range files {
		full := filepath.Join(contentDir, filepath.FromSlash(name))
		if err := os.MkdirAll(filepath.Dir(full), 0755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(full, []byte(content), 0644); err != nil {
			t.Fatal(err)
		}
	}
}

func TestVerifyStagedVersion(t *testing.T) {
	is := is.New(t)
	inv := testInventoryV1(t)
	contentDir := filepath.Join(t.TempDir(), "content")
	stageFiles(t, contentDir, map[string]string{
		"a.txt":   "hello",
		"b/c.txt": "world",
	})
	is.NoErr(ocfl.VerifyStagedVersion(inv, contentDir))
}

func TestVerifyStagedVersionMissing(t *testing.T) {
	is := is.New(t)
	inv := testInventoryV1(t)
	contentDir := filepath.Join(t.TempDir(), "content")
	stageFiles(t, contentDir, map[string]string{"a.txt": "hello"})
	err := ocfl.VerifyStagedVersion(inv, contentDir)
	var mismatch *ocfl.StagingMismatchError
	is.True(errors.As(err, &mismatch))
	is.Equal(mismatch.Missing, []string{"v1/content/b/c.txt"})
	is.True(errors.Is(err, ocfl.ErrInvalidState))
}

func TestVerifyStagedVersionExtra(t *testing.T) {
	is := is.New(t)
	inv := testInventoryV1(t)
	contentDir := filepath.Join(t.TempDir(), "content")
	stageFiles(t, contentDir, map[string]string{
		"a.txt":     "hello",
		"b/c.txt":   "world",
		"stray.txt": "stray",
	})
	err := ocfl.VerifyStagedVersion(inv, contentDir)
	var mismatch *ocfl.StagingMismatchError
	is.True(errors.As(err, &mismatch))
	is.Equal(mismatch.Extra, []string{"v1/content/stray.txt"})
}

func TestVerifyStagedVersionNoContent(t *testing.T) {
	// a version without new content has no staging content dir at all
	is := is.New(t)
	inv := testInventoryV1(t)
	u, err := ocfl.NewCopyStateUpdater(inv, ocfl.Head)
	is.NoErr(err)
	v2, err := u.BuildNewInventory(nowUTC(), testInfo)
	is.NoErr(err)
	is.NoErr(ocfl.VerifyStagedVersion(v2, filepath.Join(t.TempDir(), "content")))
}
