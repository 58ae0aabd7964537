package graph

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// Domain prefixes for content fingerprints.
// The version suffix leaves room to change the encoding later.
const (
	DomainTemplate = "cozygen/template/v1"
	DomainCompiled = "cozygen/compiled/v1"
)

// hashWithDomain computes SHA256(domain + 0x00 + data).
func hashWithDomain(domain string, data []byte) string {
	h := sha256.New()
	h.Write([]byte(domain))
	h.Write([]byte{0x00})
	h.Write(data)
	return hex.EncodeToString(h.Sum(nil))
}

// Fingerprint returns the content hash of g under the given domain.
func Fingerprint(domain string, g *Graph) (string, error) {
	canonical, err := MarshalCanonical(g)
	if err != nil {
		return "", fmt.Errorf("fingerprint: %w", err)
	}
	return hashWithDomain(domain, canonical), nil
}

// MustFingerprint is like Fingerprint but panics on error.
// Use only in tests or when the graph is known to be finite.
func MustFingerprint(domain string, g *Graph) string {
	fp, err := Fingerprint(domain, g)
	if err != nil {
		panic(err)
	}
	return fp
}
