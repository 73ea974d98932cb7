package codex

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"strings"
)

// PKCECodes holds a verifier and its derived S256 challenge.
type PKCECodes struct {
	CodeVerifier  string
	CodeChallenge string
}

const pkceAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789-._~"

// GeneratePKCECodes generates a PKCE code verifier and challenge pair
// following RFC 7636.
func GeneratePKCECodes() (*PKCECodes, error) {
	codeVerifier, err := generateCodeVerifier()
	if err != nil {
		return nil, fmt.Errorf("failed to generate code verifier: %w", err)
	}
	return &PKCECodes{
		CodeVerifier:  codeVerifier,
		CodeChallenge: generateCodeChallenge(codeVerifier),
	}, nil
}

// generateCodeVerifier produces a URL-safe random string restricted to the
// PKCE unreserved alphabet and capped at 128 characters.
func generateCodeVerifier() (string, error) {
	raw := make([]byte, 32)
	if _, err := rand.Read(raw); err != nil {
		return "", fmt.Errorf("failed to generate random bytes: %w", err)
	}
	encoded := base64.URLEncoding.WithPadding(base64.NoPadding).EncodeToString(raw)

	var b strings.Builder
	for _, r := range encoded {
		if strings.ContainsRune(pkceAlphabet, r) {
			b.WriteRune(r)
		}
	}
	verifier := b.String()
	if len(verifier) > 128 {
		verifier = verifier[:128]
	}
	return verifier, nil
}

// generateCodeChallenge hashes the verifier with SHA-256 and encodes it
// URL-safe without padding.
func generateCodeChallenge(codeVerifier string) string {
	hash := sha256.Sum256([]byte(codeVerifier))
	return base64.URLEncoding.WithPadding(base64.NoPadding).EncodeToString(hash[:])
}
