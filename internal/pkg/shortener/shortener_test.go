package shortener

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerateSecureSlugLength(t *testing.T) {
	for _, length := range []int{1, 8, 12, 32} {
		slug, err := GenerateSecureSlug(length)
		require.NoError(t, err)
		assert.Len(t, slug, length)
		for _, r := range slug {
			assert.True(t, strings.ContainsRune(alphabet, r), "slug %q contains character outside alphabet", slug)
		}
	}
}

func TestGenerateSecureSlugInvalidLength(t *testing.T) {
	_, err := GenerateSecureSlug(0)
	assert.Error(t, err)

	_, err = GenerateSecureSlug(-3)
	assert.Error(t, err)
}

func TestGenerateSecureSlugUnique(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 100; i++ {
		slug, err := GenerateSecureSlug(12)
		require.NoError(t, err)
		assert.False(t, seen[slug], "duplicate slug generated: %q", slug)
		seen[slug] = true
	}
}
