package digest_test

import (
	"errors"
	"strings"
	"testing"

	"github.com/preservio/ocfl/digest"
)

// sha256 and md5 of "hello world"
const (
	helloSHA256 = "b94d27b9934d3e08a52e52d7da7dabfac484efe37a5380ee9088f7ace2efcde9"
	helloMD5    = "5eb63bbbe01eeed093cb22bb8f5acdc3"
)

func TestGet(t *testing.T) {
	for _, id := range []string{"sha512", "sha256", "sha1", "md5", "blake2b-512"} {
		alg, err := digest.Get(id)
		if err != nil {
			t.Fatal(err)
		}
		if alg.ID() != id {
			t.Fatalf("got %s", alg.ID())
		}
	}
	// lookups are case-insensitive
	if _, err := digest.Get("SHA512"); err != nil {
		t.Fatal(err)
	}
	if _, err := digest.Get("nope"); !errors.Is(err, digest.ErrUnknownAlg) {
		t.Fatalf("expected ErrUnknownAlg, got %v", err)
	}
}

func TestDigester(t *testing.T) {
	d := digest.SHA256.Digester()
	if _, err := d.Write([]byte("hello world")); err != nil {
		t.Fatal(err)
	}
	if d.String() != helloSHA256 {
		t.Fatalf("got %s", d.String())
	}
}

func TestMultiDigester(t *testing.T) {
	md := digest.NewMultiDigester(digest.SHA256, digest.MD5)
	if _, err := md.Write([]byte("hello world")); err != nil {
		t.Fatal(err)
	}
	sums := md.Sums()
	if sums["sha256"] != helloSHA256 || sums["md5"] != helloMD5 {
		t.Fatalf("got %v", sums)
	}
	if md.Sum("sha256") != helloSHA256 {
		t.Fatalf("got %s", md.Sum("sha256"))
	}
}

func TestSetValidate(t *testing.T) {
	set := digest.Set{"sha256": helloSHA256, "md5": helloMD5}
	if err := set.Validate(strings.NewReader("hello world")); err != nil {
		t.Fatal(err)
	}
	err := set.Validate(strings.NewReader("tampered"))
	var derr *digest.DigestError
	if !errors.As(err, &derr) {
		t.Fatalf("expected DigestError, got %v", err)
	}
}

func TestSetAddConflict(t *testing.T) {
	set := digest.Set{"md5": helloMD5}
	if err := set.Add(digest.Set{"md5": strings.ToUpper(helloMD5), "sha256": helloSHA256}); err != nil {
		t.Fatal(err) // same value, different case: not a conflict
	}
	if err := set.Add(digest.Set{"md5": "ffff"}); err == nil {
		t.Fatal("expected a conflict error")
	}
}
