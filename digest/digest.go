// Package digest provides the digest algorithms used for OCFL content and
// inventory fixity.
package digest

import (
	"crypto/md5"
	"crypto/sha1"
	"crypto/sha256"
	"crypto/sha512"
	"encoding/hex"
	"errors"
	"fmt"
	"hash"
	"io"
	"strings"

	"golang.org/x/crypto/blake2b"
)

var ErrUnknownAlg = errors.New("unknown digest algorithm")

const (
	SHA512  = alg(`sha512`)      // built-in Algorithm for sha512
	SHA256  = alg(`sha256`)      // built-in Algorithm for sha256
	SHA1    = alg(`sha1`)        // built-in Algorithm for sha1
	MD5     = alg(`md5`)         // built-in Algorithm for md5
	BLAKE2B = alg(`blake2b-512`) // built-in Algorithm for blake2b-512
)

// Algorithm is implemented by digest algorithms.
type Algorithm interface {
	// ID returns the algorithm name as it appears in inventories (e.g.,
	// 'sha512').
	ID() string
	// Digester returns a new digester for generating a digest value.
	Digester() Digester
}

// Digester is an interface used for generating digest values.
type Digester interface {
	io.Writer
	// String returns the hex-encoded digest value for the bytes written to
	// the digester.
	String() string
}

// digester constructors for built-in algs
var builtin = map[alg]func() Digester{
	SHA512:  func() Digester { return &hashDigester{Hash: sha512.New()} },
	SHA256:  func() Digester { return &hashDigester{Hash: sha256.New()} },
	SHA1:    func() Digester { return &hashDigester{Hash: sha1.New()} },
	MD5:     func() Digester { return &hashDigester{Hash: md5.New()} },
	BLAKE2B: func() Digester { return &hashDigester{Hash: mustNewBlake2B()} },
}

// Get returns the built-in Algorithm with the given id, or ErrUnknownAlg.
func Get(id string) (Algorithm, error) {
	a := alg(strings.ToLower(id))
	if _, ok := builtin[a]; !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownAlg, id)
	}
	return a, nil
}

// alg is a built-in Algorithm
type alg string

func (a alg) ID() string { return string(a) }

func (a alg) Digester() Digester {
	newDigester := builtin[a]
	if newDigester == nil {
		panic(fmt.Sprintf("not a built-in algorithm: %s", string(a)))
	}
	return newDigester()
}

type hashDigester struct {
	hash.Hash
}

func (h *hashDigester) String() string { return hex.EncodeToString(h.Sum(nil)) }

func mustNewBlake2B() hash.Hash {
	h, err := blake2b.New512(nil)
	if err != nil {
		panic("creating new blake2b hash")
	}
	return h
}

// MultiDigester generates digests for multiple algorithms at the same time.
type MultiDigester struct {
	io.Writer
	digesters map[string]Digester
}

func NewMultiDigester(algs ...Algorithm) *MultiDigester {
	writers := make([]io.Writer, 0, len(algs))
	digesters := make(map[string]Digester, len(algs))
	for _, a := range algs {
		if _, exists := digesters[a.ID()]; exists {
			continue
		}
		d := a.Digester()
		digesters[a.ID()] = d
		writers = append(writers, d)
	}
	if len(writers) == 0 {
		return &MultiDigester{Writer: io.Discard}
	}
	return &MultiDigester{
		Writer:    io.MultiWriter(writers...),
		digesters: digesters,
	}
}

// Sum returns the digest value for a single algorithm.
func (md MultiDigester) Sum(algID string) string {
	if dig := md.digesters[algID]; dig != nil {
		return dig.String()
	}
	return ""
}

// Sums returns a Set with values for all of md's algorithms.
func (md MultiDigester) Sums() Set {
	set := make(Set, len(md.digesters))
	for algID, digester := range md.digesters {
		set[algID] = digester.String()
	}
	return set
}

// Set maps algorithm IDs to digest values.
type Set map[string]string

// Add merges s2 into s. An error is returned if s and s2 have conflicting
// values for the same algorithm.
func (s Set) Add(s2 Set) error {
	for algID, newDigest := range s2 {
		currDigest := s[algID]
		if currDigest == "" {
			s[algID] = newDigest
			continue
		}
		if strings.EqualFold(currDigest, newDigest) {
			continue
		}
		return &DigestError{Alg: algID, Got: newDigest, Expected: currDigest}
	}
	return nil
}

// ConflictsWith returns keys in s with values that do not match the
// corresponding key in other.
func (s Set) ConflictsWith(other Set) []string {
	var keys []string
	for algID, sv := range s {
		if ov, ok := other[algID]; ok && !strings.EqualFold(sv, ov) {
			keys = append(keys, algID)
		}
	}
	return keys
}

// Validate digests reader and returns an error if the result for any
// algorithm in s doesn't match the value in s.
func (s Set) Validate(reader io.Reader) error {
	algs := make([]Algorithm, 0, len(s))
	for algID := range s {
		a, err := Get(algID)
		if err != nil {
			return err
		}
		algs = append(algs, a)
	}
	digester := NewMultiDigester(algs...)
	if _, err := io.Copy(digester, reader); err != nil {
		return err
	}
	result := digester.Sums()
	for _, algID := range result.ConflictsWith(s) {
		return &DigestError{Alg: algID, Expected: s[algID], Got: result[algID]}
	}
	return nil
}

// DigestError is returned when content's digest conflicts with an expected
// value.
type DigestError struct {
	Name     string // content path
	Alg      string // digest algorithm
	Got      string // calculated digest
	Expected string // expected digest
}

func (e *DigestError) Error() string {
	if e.Name == "" {
		return fmt.Sprintf("unexpected %s value: %q, expected=%q", e.Alg, e.Got, e.Expected)
	}
	return fmt.Sprintf("unexpected %s for %q: %q, expected=%q", e.Alg, e.Name, e.Got, e.Expected)
}
