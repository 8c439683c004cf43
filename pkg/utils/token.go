package utils

import (
	"crypto/rand"
	"encoding/base64"
)

// GenerateURLToken returns a URL-safe random token built from n random bytes
// (roughly 4/3*n characters). Invitation and claim tokens use n=32, giving a
// 43-character unguessable bearer secret.
func GenerateURLToken(n int) (string, error) {
	if n <= 0 {
		n = 32
	}
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	// RawURLEncoding avoids '=' padding and the '+' '/' characters.
	return base64.RawURLEncoding.EncodeToString(b), nil
}
