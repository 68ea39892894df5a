// Package hashing fingerprints captured images for change detection.
package hashing

import (
	"encoding/hex"
	"fmt"
	"os"

	"golang.org/x/crypto/blake2b"
)

// Digest is a BLAKE2b-256 content fingerprint.
type Digest [blake2b.Size256]byte

func (d Digest) String() string { return hex.EncodeToString(d[:]) }

// Bytes returns the digest of data.
func Bytes(data []byte) Digest {
	return Digest(blake2b.Sum256(data))
}

// File returns the digest of the file at path. A read failure returns an
// error; callers treat a missing digest as "changed".
func File(path string) (Digest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Digest{}, fmt.Errorf("hash %s: %w", path, err)
	}
	return Bytes(data), nil
}

// Maybe is a digest that may be absent because the file could not be read.
type Maybe struct {
	Digest Digest
	OK     bool
}

// FileMaybe wraps File, folding the error into Maybe.OK.
func FileMaybe(path string) (Maybe, error) {
	d, err := File(path)
	if err != nil {
		return Maybe{}, err
	}
	return Maybe{Digest: d, OK: true}, nil
}

// Equal reports whether a and b are both present and identical. An absent side
// is never the same as anything, including another absent side.
func Equal(a, b Maybe) bool {
	return a.OK && b.OK && a.Digest == b.Digest
}

func (m Maybe) String() string {
	if !m.OK {
		return "<unreadable>"
	}
	return m.Digest.String()
}
