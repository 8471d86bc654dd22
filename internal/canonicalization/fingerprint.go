package canonicalization

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"strings"
)

const (
	// DefaultContentBound is the number of normalized content runes that
	// participate in the fingerprint. Bounding the content keeps hashing
	// cost constant and shields the hash from long trailing boilerplate
	// (footers, tracking parameters, "related articles" blocks). The value
	// is deliberate: changing it changes dedup outcomes for every record,
	// so it must stay fixed once data has been ingested.
	DefaultContentBound = 500

	// DefaultEntityIDHashPrefix is the number of fingerprint hex characters
	// used to derive a human-readable entity ID. 16 hex chars (64 bits) is
	// short enough to read in logs and long enough that accidental
	// collisions are not a practical concern at this corpus size.
	DefaultEntityIDHashPrefix = 16

	// entityIDPrefix namespaces entity IDs so they are recognizable in
	// logs and query results ("entity_3a7bd3e2360a3d29").
	entityIDPrefix = "entity_"

	// fingerprintSeparator keeps the title and content segments of the
	// hash input from bleeding into each other.
	fingerprintSeparator = "|"

	sha256HexLength = 64
)

// Sentinel errors for fingerprint operations.
var (
	// ErrInvalidContentHash is returned when a content hash is not a
	// 64-character lowercase hex string.
	ErrInvalidContentHash = errors.New("content hash must be a 64-character hex string")
)

// Fingerprinter computes content fingerprints and derives entity IDs.
//
// The zero value is not usable; construct with NewFingerprinter. ContentBound
// and EntityIDHashPrefix are configurable constants, not tuning knobs: they
// determine dedup outcomes and must be applied consistently across the whole
// corpus (see DefaultContentBound).
type Fingerprinter struct {
	// ContentBound is the maximum number of normalized content runes
	// included in the hash input.
	ContentBound int

	// EntityIDHashPrefix is the number of hash hex characters used when
	// deriving an entity ID.
	EntityIDHashPrefix int
}

// NewFingerprinter returns a Fingerprinter with the default bounds.
func NewFingerprinter() *Fingerprinter {
	return &Fingerprinter{
		ContentBound:       DefaultContentBound,
		EntityIDHashPrefix: DefaultEntityIDHashPrefix,
	}
}

// ContentHash computes the deterministic fingerprint of a record's semantic
// content.
//
// Formula: SHA256(normalize(title) + "|" + normalize(content)[:bound])
// where content falls back to description when absent. The result is a
// 64-character lowercase hex string.
//
// Properties:
//   - Stable: hashing the same payload twice yields the identical string,
//     which makes at-least-once raw delivery safe.
//   - Cross-source: two sources publishing the same title and body produce
//     the same hash regardless of casing or whitespace differences.
func (f *Fingerprinter) ContentHash(title, content, description string) string {
	if content == "" {
		content = description
	}

	normalizedTitle := NormalizeText(title)
	normalizedContent := TruncateRunes(NormalizeText(content), f.ContentBound)

	input := normalizedTitle + fingerprintSeparator + normalizedContent
	sum := sha256.Sum256([]byte(input))

	return hex.EncodeToString(sum[:])
}

// EntityID derives a canonical entity ID from a content hash.
//
// Formula: "entity_" + contentHash[:prefix]
//
// The derivation is deterministic so that re-running normalization on the
// same content produces the same candidate entity ID even without a prior
// lookup hit. Two concurrent normalizations of a brand-new hash therefore
// race toward the *same* ID, and the unique constraint on the entities table
// resolves the race instead of minting divergent identities.
func (f *Fingerprinter) EntityID(contentHash string) (string, error) {
	if len(contentHash) != sha256HexLength || !isLowerHex(contentHash) {
		return "", ErrInvalidContentHash
	}

	return entityIDPrefix + contentHash[:f.EntityIDHashPrefix], nil
}

func isLowerHex(s string) bool {
	for _, r := range s {
		if !strings.ContainsRune("0123456789abcdef", r) {
			return false
		}
	}

	return true
}
