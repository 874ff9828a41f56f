package evaluation

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTrimToRect(t *testing.T) {
	assert.Equal(t, "", trimToRect("", 2, 3))
	assert.Equal(t, "ab\ncd", trimToRect("ab\ncd", 2, 3))
	assert.Equal(t, "abc[...]\nd", trimToRect("abcdef\nd", 2, 3))
	assert.Equal(t, "a\nb\n[...]", trimToRect("a\nb\nc\nd", 2, 3))
	assert.Equal(t, "a\nb\n[...]", trimToRect("a\nb\nc", 2, 1))
	assert.Equal(t, "abc[...]\n[...]", trimToRect("abcdef\nx", 1, 3))
	assert.Equal(t, "āču[...]", trimToRect("āčuž", 1, 3))

	long := strings.Repeat("x\n", 100)
	assert.Len(t, strings.Split(trimText(long), "\n"), 41)
}
