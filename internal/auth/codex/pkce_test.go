package codex

import (
	"crypto/sha256"
	"encoding/base64"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGeneratePKCECodes(t *testing.T) {
	codes, err := GeneratePKCECodes()
	require.NoError(t, err)

	assert.GreaterOrEqual(t, len(codes.CodeVerifier), 40)
	assert.LessOrEqual(t, len(codes.CodeVerifier), 128)
	for _, r := range codes.CodeVerifier {
		assert.True(t, strings.ContainsRune(pkceAlphabet, r), "verifier contains %q", r)
	}

	hash := sha256.Sum256([]byte(codes.CodeVerifier))
	want := base64.URLEncoding.WithPadding(base64.NoPadding).EncodeToString(hash[:])
	assert.Equal(t, want, codes.CodeChallenge)
}

func TestGeneratePKCECodesUnique(t *testing.T) {
	a, err := GeneratePKCECodes()
	require.NoError(t, err)
	b, err := GeneratePKCECodes()
	require.NoError(t, err)
	assert.NotEqual(t, a.CodeVerifier, b.CodeVerifier)
}
