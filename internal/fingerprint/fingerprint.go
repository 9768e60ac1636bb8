// Package fingerprint derives cache keys from canonical URLs.
package fingerprint

import (
	"crypto/sha256"
	"encoding/hex"
)

// Version tags the canonicalization scheme. Bumping it abandons every
// existing key; old entries age out by TTL.
const Version = "v1"

// Fingerprinter hashes canonical URLs under a fixed version tag.
type Fingerprinter struct {
	version string
}

// New returns a Fingerprinter for version. An empty version uses Version.
func New(version string) *Fingerprinter {
	if version == "" {
		version = Version
	}
	return &Fingerprinter{version: version}
}

// Of returns the hex SHA-256 of version + "\n" + canonicalURL.
func (f *Fingerprinter) Of(canonicalURL string) string {
	h := sha256.New()
	h.Write([]byte(f.version))
	h.Write([]byte{'\n'})
	h.Write([]byte(canonicalURL))
	return hex.EncodeToString(h.Sum(nil))
}

// Version reports the tag mixed into every digest.
func (f *Fingerprinter) Version() string {
	return f.version
}

// HashCredential returns the hex SHA-256 of a credential as stored in the
// hashed tenant directory.
func HashCredential(credential string) string {
	sum := sha256.Sum256([]byte(credential))
	return hex.EncodeToString(sum[:])
}
