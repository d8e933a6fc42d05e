package kv

import (
	"fmt"
	"strings"
	"unicode"
)

// MaxKeyLength is the longest key accepted by every backend.
// It matches the memcached key limit.
const MaxKeyLength = 250

// ValidateKey checks if a key is valid.
//
// Rules:
// - Non-empty string
// - Maximum length of 250 characters
// - No control characters or whitespace
func ValidateKey(key string) error {
	if key == "" {
		return ErrInvalidKey
	}

	if len(key) > MaxKeyLength {
		return fmt.Errorf("%w: key too long (max %d characters)", ErrInvalidKey, MaxKeyLength)
	}

	for _, r := range key {
		if unicode.IsControl(r) || unicode.IsSpace(r) {
			return fmt.Errorf("%w: key contains control or space character", ErrInvalidKey)
		}
	}

	return nil
}

// KeyPattern builds keys from a fixed prefix and variable parts.
type KeyPattern struct {
	prefix    string
	separator string
}

// NewKeyPattern creates a new key pattern with the given prefix and separator.
func NewKeyPattern(prefix, separator string) *KeyPattern {
	if separator == "" {
		separator = ":"
	}
	return &KeyPattern{
		prefix:    prefix,
		separator: separator,
	}
}

// Build creates a key from the pattern and provided parts.
// Example: NewKeyPattern("transactions", "_").Build("a_b_com") -> "transactions_a_b_com"
func (kp *KeyPattern) Build(parts ...string) string {
	if len(parts) == 0 {
		return kp.prefix
	}
	return kp.prefix + kp.separator + strings.Join(parts, kp.separator)
}

// Prefix returns the fixed part of the pattern.
func (kp *KeyPattern) Prefix() string {
	return kp.prefix
}
