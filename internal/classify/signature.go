package classify

import (
	"crypto/sha256"
	"encoding/hex"
	"regexp"
	"strings"
)

// SignatureHashLength is the hex prefix length kept from the normalized
// stderr hash. Signatures look like "transient:a1b2c3d4e5f6".
const SignatureHashLength = 12

// Volatile fragments stripped before hashing, so two captures of the same
// underlying failure normalize to the same signature.
var (
	// 2024-01-02T15:04:05.999Z / 2024-01-02 15:04:05+02:00
	timestampPattern = regexp.MustCompile(`\d{4}-\d{2}-\d{2}[T ]\d{2}:\d{2}:\d{2}(?:\.\d+)?(?:Z|[+-]\d{2}:?\d{2})?`)
	// bare clock times: 15:04:05
	clockPattern = regexp.MustCompile(`\b\d{2}:\d{2}:\d{2}\b`)
	uuidPattern  = regexp.MustCompile(`[0-9a-fA-F]{8}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{12}`)
	// absolute unix paths with at least two components
	pathPattern = regexp.MustCompile(`/[\w@%+=:,.~-]+(?:/[\w@%+=:,.~-]+)+`)
	// Authorization headers and api-key style values
	bearerPattern = regexp.MustCompile(`(?i)bearer\s+\S+`)
	apiKeyPattern = regexp.MustCompile(`\bsk-[A-Za-z0-9_-]{8,}\b`)
	// long opaque token runs
	tokenPattern      = regexp.MustCompile(`\b[A-Za-z0-9_-]{32,}\b`)
	whitespacePattern = regexp.MustCompile(`\s+`)
)

// Normalize strips timestamps, UUIDs, filesystem paths, and bearer-like
// tokens from stderr so the remaining text identifies the failure shape,
// not the occurrence.
//
// Examples:
//
//	"error at 2024-01-02T10:00:00Z in /tmp/task/out.md" -> "error at <ts> in <path>"
//	"session 9b2f... not found"                         -> "session <uuid> not found"
func Normalize(stderr string) string {
	s := stderr
	s = timestampPattern.ReplaceAllString(s, "<ts>")
	s = clockPattern.ReplaceAllString(s, "<ts>")
	s = uuidPattern.ReplaceAllString(s, "<uuid>")
	s = pathPattern.ReplaceAllString(s, "<path>")
	s = bearerPattern.ReplaceAllString(s, "bearer <token>")
	s = apiKeyPattern.ReplaceAllString(s, "<token>")
	s = tokenPattern.ReplaceAllString(s, "<token>")
	s = whitespacePattern.ReplaceAllString(s, " ")
	return strings.TrimSpace(s)
}

// Signature hashes the normalized stderr and prefixes it with the class:
// "<class>:<12-hex-chars>". Identical failures that differ only in
// volatile fragments produce identical signatures.
func Signature(class Class, stderr string) string {
	norm := Normalize(stderr)
	hash := sha256.Sum256([]byte(norm))
	return string(class) + ":" + hex.EncodeToString(hash[:])[:SignatureHashLength]
}
