package normalize

import "strings"

// UserID returns a normalized form of a user identifier suitable for
// storage and comparisons. Identifiers are opaque and case-sensitive, so
// normalization only trims surrounding whitespace.
func UserID(id string) string {
	return strings.TrimSpace(id)
}

// Blank reports whether text contains nothing but whitespace. Blank text is
// rejected before any write; the original spacing of non-blank text is kept.
func Blank(text string) bool {
	return strings.TrimSpace(text) == ""
}
