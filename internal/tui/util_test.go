package tui

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestWrapLine(t *testing.T) {
	assert.Equal(t, []string{"one two", "three"}, wrapLine("one two three", 8))
	assert.Equal(t, []string{"one two three"}, wrapLine("one two three", 0))
	assert.Equal(t, []string{""}, wrapLine("", 10))
	// words longer than the width break at rune boundaries
	assert.Equal(t, []string{"abcde", "fghij", "k"}, wrapLine("abcdefghijk", 5))
}

func TestWrapWithPrefix(t *testing.T) {
	assert.Equal(t, "> one two\n> three", wrapWithPrefix("one two three", "> ", 10))
	assert.Equal(t, "> a\n> b", wrapWithPrefix("a\nb", "> ", 10))
}
