// Package roomcode generates and normalizes human-entry room codes.
package roomcode

import (
	"crypto/rand"
	"fmt"
	"io"
	"strings"
)

// Alphabet excludes glyphs easy to misread when spoken or typed: 0/O, 1/I/L.
const Alphabet = "ABCDEFGHJKMNPQRSTUVWXYZ23456789"

// Length is the fixed room code length.
const Length = 6

// Generate returns a random room code.
func Generate() (string, error) {
	b := make([]byte, Length)
	if _, err := io.ReadFull(rand.Reader, b); err != nil {
		return "", fmt.Errorf("failed to read random bytes: %w", err)
	}
	for i := range b {
		b[i] = Alphabet[int(b[i])%len(Alphabet)]
	}
	return string(b), nil
}

// Normalize uppercases and trims a user-entered code.
func Normalize(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

// Valid reports whether code is a well-formed room code after normalization.
func Valid(code string) bool {
	if len(code) != Length {
		return false
	}
	for _, r := range code {
		if !strings.ContainsRune(Alphabet, r) {
			return false
		}
	}
	return true
}
