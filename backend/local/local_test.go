package local_test

import (
	"context"
	"errors"
	"io"
	"io/fs"
	"strings"
	"testing"

	"github.com/preservio/ocfl/backend/local"
)

func TestWriteOpenFile(t *testing.T) {
	ctx := context.Background()
	fsys, err := local.NewFS(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	if _, err := fsys.Write(ctx, "a/b/c.txt", strings.NewReader("content")); err != nil {
		t.Fatal(err)
	}
	f, err := fsys.OpenFile(ctx, "a/b/c.txt")
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	byt, err := io.ReadAll(f)
	if err != nil {
		t.Fatal(err)
	}
	if string(byt) != "content" {
		t.Fatalf("got %q", string(byt))
	}
}

func TestWriteInvalidPath(t *testing.T) {
	ctx := context.Background()
	fsys, err := local.NewFS(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	for _, name := range []string{".", "../escape", "/abs"} {
		if _, err := fsys.Write(ctx, name, strings.NewReader("x")); err == nil {
			t.Fatalf("expected an error writing to %q", name)
		}
	}
}

func TestCopyRemove(t *testing.T) {
	ctx := context.Background()
	fsys, err := local.NewFS(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	if _, err := fsys.Write(ctx, "src.txt", strings.NewReader("content")); err != nil {
		t.Fatal(err)
	}
	if err := fsys.Copy(ctx, "dst/copy.txt", "src.txt"); err != nil {
		t.Fatal(err)
	}
	if err := fsys.Remove(ctx, "src.txt"); err != nil {
		t.Fatal(err)
	}
	if _, err := fsys.OpenFile(ctx, "src.txt"); !errors.Is(err, fs.ErrNotExist) {
		t.Fatalf("expected ErrNotExist, got %v", err)
	}
	if err := fsys.RemoveAll(ctx, "dst"); err != nil {
		t.Fatal(err)
	}
	if _, err := fsys.ReadDir(ctx, "dst"); err == nil {
		t.Fatal("expected an error reading removed directory")
	}
}

func TestCanceledContext(t *testing.T) {
	fsys, err := local.NewFS(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := fsys.OpenFile(ctx, "x"); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}
