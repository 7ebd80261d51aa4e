package settlement

import (
	"regexp"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerateReleaseCode(t *testing.T) {
	format := regexp.MustCompile(`^[A-Za-z0-9]{3}-[A-Za-z0-9]{7}-[A-Za-z0-9]{6}$`)

	seen := make(map[string]bool)
	for i := 0; i < 50; i++ {
		code, err := GenerateReleaseCode()
		require.NoError(t, err)
		assert.Regexp(t, format, code)
		seen[code] = true
	}
	assert.Len(t, seen, 50)
}

func TestReleaseCodeHash(t *testing.T) {
	hash, err := hashReleaseCode("hKk-I1gWf4P-7rzGMt")
	require.NoError(t, err)

	assert.NotEqual(t, "hKk-I1gWf4P-7rzGMt", hash)
	assert.True(t, releaseCodeMatches(hash, "hKk-I1gWf4P-7rzGMt"))
	assert.False(t, releaseCodeMatches(hash, "hKk-I1gWf4P-7rzGMx"))
	assert.False(t, releaseCodeMatches("", "hKk-I1gWf4P-7rzGMt"))
}
