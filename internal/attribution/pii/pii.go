// Package pii normalizes and hashes customer identifiers before they leave the service.
package pii

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// Hash returns the hex SHA-256 of the trimmed, lower-cased value, or nil when
// there is nothing to hash.
func Hash(value string) *string {
	normalized := strings.ToLower(strings.TrimSpace(value))
	if normalized == "" {
		return nil
	}
	sum := sha256.Sum256([]byte(normalized))
	digest := hex.EncodeToString(sum[:])
	return &digest
}

// SplitName splits a display name into its first token and the remaining tokens.
func SplitName(name string) (first, last string) {
	parts := strings.Fields(name)
	if len(parts) == 0 {
		return "", ""
	}
	return parts[0], strings.Join(parts[1:], " ")
}

// RedactEmail keeps the domain of an address so logs stay useful without the mailbox.
func RedactEmail(email string) string {
	email = strings.TrimSpace(email)
	if email == "" {
		return ""
	}
	at := strings.LastIndex(email, "@")
	if at <= 0 {
		return "***"
	}
	return "***" + email[at:]
}
