package main

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
)

// tokenBytes is 256 bits, hex-encoded to 64 characters. That clears the
// 32-byte floor config.LoadConfig enforces on AUTH_JWT_SECRET.
const tokenBytes = 32

// GenerateSecureToken returns a random hex token from the OS entropy source.
func GenerateSecureToken() (string, error) {
	buf := make([]byte, tokenBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generating secure token: %w", err)
	}
	return hex.EncodeToString(buf), nil
}
