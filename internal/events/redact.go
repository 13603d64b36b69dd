package events

import (
	"crypto/sha256"
	"encoding/hex"
	"regexp"
)

var (
	phonePattern = regexp.MustCompile(`\+?\d[\d\s().-]{7,}\d`)
	emailPattern = regexp.MustCompile(`[A-Za-z0-9._%+-]+@[A-Za-z0-9.-]+\.[A-Za-z]{2,}`)
)

// Redact masks phone numbers and email addresses before text is persisted.
// Redaction is one-way; HashText preserves a stable identity for the
// original input.
func Redact(text string) string {
	text = emailPattern.ReplaceAllString(text, "[EMAIL]")
	return phonePattern.ReplaceAllString(text, "[PHONE]")
}

// HashText returns the hex-encoded SHA-256 of the raw (unredacted) input.
func HashText(text string) string {
	sum := sha256.Sum256([]byte(text))
	return hex.EncodeToString(sum[:])
}
