package hashing

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestContentHash(t *testing.T) {
	got := ContentHash("Content for Paper A")
	assert.Len(t, got, 64)
	assert.Regexp(t, "^[0-9a-f]{64}$", got)
}

func TestContentHashDeterministic(t *testing.T) {
	assert.Equal(t, ContentHash("same input"), ContentHash("same input"))
}

func TestContentHashDistinguishesInputs(t *testing.T) {
	assert.NotEqual(t, ContentHash("a"), ContentHash("b"))
}
