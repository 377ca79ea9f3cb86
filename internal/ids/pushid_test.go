package ids

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewLength(t *testing.T) {
	id := New()
	assert.Len(t, id, 20)
}

func TestNewAlphabet(t *testing.T) {
	id := New()
	for _, c := range id {
		assert.Contains(t, pushChars, string(c))
	}
}

func TestNewMonotonic(t *testing.T) {
	g := NewGenerator()
	var ids []string
	for i := 0; i < 1000; i++ {
		ids = append(ids, g.New())
	}
	for i := 1; i < len(ids); i++ {
		require.Less(t, ids[i-1], ids[i], "ids must be strictly increasing")
	}
}

func TestNewDistinct(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 500; i++ {
		id := New()
		require.False(t, seen[id], "duplicate id generated: %s", id)
		seen[id] = true
	}
}

func TestIncrementWithCarry(t *testing.T) {
	suffix := [randomChars]byte{}
	for i := range suffix {
		suffix[i] = pushChars[0]
	}
	incrementWithCarry(&suffix)
	assert.Equal(t, byte(pushChars[1]), suffix[randomChars-1])
	for i := 0; i < randomChars-1; i++ {
		assert.Equal(t, byte(pushChars[0]), suffix[i])
	}
}
