package utils

import (
	"fmt"

	"golang.org/x/crypto/bcrypt"
)

const (
	BcryptCost   = 12
	MinKeyLength = 12
)

// HashKey hashes a debug access key for storage in DEBUG_KEY_HASH.
func HashKey(key string) (string, error) {
	if len(key) < MinKeyLength {
		return "", fmt.Errorf("key must be at least %d characters long", MinKeyLength)
	}
	hashed, err := bcrypt.GenerateFromPassword([]byte(key), BcryptCost)
	if err != nil {
		return "", err
	}
	return string(hashed), nil
}

// CheckKey reports whether key matches hashedKey. An empty hash never matches.
func CheckKey(hashedKey string, key string) bool {
	if hashedKey == "" {
		return false
	}
	err := bcrypt.CompareHashAndPassword([]byte(hashedKey), []byte(key))
	return err == nil
}
