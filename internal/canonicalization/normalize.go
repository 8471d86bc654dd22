// Package canonicalization provides text normalization and content
// fingerprinting for cross-source entity deduplication.
//
// Records describing the same real-world entity arrive from different sources
// with cosmetic differences: casing, padding, repeated whitespace. Without
// normalization these appear as distinct entities and the dedup rate drops to
// zero, so every field that participates in fingerprinting goes through
// NormalizeText first. Display fields keep their original casing; the
// normalized form exists only for hashing.
package canonicalization

import (
	"strings"
	"unicode"
)

// NormalizeText normalizes free text for fingerprint comparison.
//
// Rules:
//  1. Lowercase the whole string.
//  2. Collapse consecutive Unicode whitespace into a single space.
//  3. Trim leading and trailing whitespace.
//
// The transformation is deterministic, so two observations of the same
// content always normalize to the same string regardless of which source
// produced them or how often they are re-fetched.
//
// Examples:
//   - NormalizeText("  Go  Basics  ") → "go basics"
//   - NormalizeText("GO\tBASICS")     → "go basics"
//   - NormalizeText("")               → ""
func NormalizeText(text string) string {
	if text == "" {
		return ""
	}

	var (
		b         strings.Builder
		inSpace   bool
		wroteRune bool
	)

	b.Grow(len(text))

	for _, r := range strings.ToLower(text) {
		if unicode.IsSpace(r) {
			inSpace = true

			continue
		}

		// Emit a single separator for any run of whitespace, but never
		// at the start of the output.
		if inSpace && wroteRune {
			b.WriteByte(' ')
		}

		inSpace = false
		wroteRune = true

		b.WriteRune(r)
	}

	return b.String()
}

// TruncateRunes returns at most limit runes of s.
//
// Truncation operates on runes, not bytes, so multi-byte characters are never
// split in half. A split character would change the UTF-8 bytes fed to the
// fingerprint hash and break hash stability for non-ASCII content.
func TruncateRunes(s string, limit int) string {
	if limit <= 0 {
		return ""
	}

	runes := []rune(s)
	if len(runes) <= limit {
		return s
	}

	return string(runes[:limit])
}
