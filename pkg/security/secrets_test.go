package security

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerateSecret(t *testing.T) {
	a, err := GenerateSecret()
	require.NoError(t, err)
	b, err := GenerateSecret()
	require.NoError(t, err)

	assert.Len(t, a, 64)
	assert.NotEqual(t, a, b, "secrets must be unique")
}

func TestVerifySecret(t *testing.T) {
	secret, err := GenerateSecret()
	require.NoError(t, err)

	assert.True(t, VerifySecret(secret, secret))
	assert.False(t, VerifySecret(secret, "wrong"))
	assert.False(t, VerifySecret(secret, secret+"x"))
	assert.False(t, VerifySecret("", ""), "empty stored secret never verifies")
}
