package utils

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestGetGravatarURL(t *testing.T) {
	// Hash from the Gravatar documentation example address.
	got := GetGravatarURL(" MyEmailAddress@example.com ", 200)
	assert.Equal(t, "https://www.gravatar.com/avatar/0bc83cb571cd1c50ba6f3e8a78ef1346?s=200&d=mp", got)
}

func TestGetGravatarURLDefaultSize(t *testing.T) {
	got := GetGravatarURL("user@example.com", 0)
	assert.Contains(t, got, "s=200")
}
