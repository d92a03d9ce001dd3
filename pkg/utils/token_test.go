package utils

import (
	"strings"
	"testing"
	"time"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIssueAndValidateJWT(t *testing.T) {
	t.Parallel()

	secret, err := GenerateJWTSecret()
	require.NoError(t, err)

	token, err := IssueJWT(secret, "ci", time.Hour)
	require.NoError(t, err)

	claims, err := ValidateJWT(token, secret)
	require.NoError(t, err)
	assert.Equal(t, "ci", claims.Subject)

	_, err = ValidateJWT(token, "other-secret")
	assert.Error(t, err)
}

func TestValidateJWT_NoExpiry(t *testing.T) {
	t.Parallel()

	token, err := IssueJWT("s3cret", "ci", -time.Hour)
	require.NoError(t, err)
	// a negative ttl means no expiry claim
	_, err = ValidateJWT(token, "s3cret")
	assert.NoError(t, err)

	_, err = ValidateJWT("", "s3cret")
	assert.Error(t, err)
}

func TestMaskSensitiveData(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "****", MaskSensitiveData("abc"))
	assert.Equal(t, "ab****yz", MaskSensitiveData("abcdefxyz"))
}

func TestAPIKeys(t *testing.T) {
	t.Parallel()

	key, hash, err := GenerateAPIKey()
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(key, "easm_"))
	assert.NotEqual(t, key, hash)

	other, err := HashAPIKey("easm_other")
	require.NoError(t, err)

	assert.True(t, CheckAPIKey(key, []string{other, hash}))
	assert.False(t, CheckAPIKey("easm_wrong", []string{other, hash}))
	assert.False(t, CheckAPIKey(key, nil))

	_, err = HashAPIKey("")
	assert.Error(t, err)
}
