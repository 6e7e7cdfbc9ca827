package search

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTokenizeDropsSingleRuneTokensAndStopWords(t *testing.T) {
	tokens := Tokenize("a 的 is")
	assert.Equal(t, []string{"is"}, tokens)
}

func TestTokenizeSplitsLatinWordsOnPunctuationAndLowercases(t *testing.T) {
	tokens := Tokenize("Hello, World! Foo-Bar")
	assert.ElementsMatch(t, []string{"hello", "world", "foo", "bar"}, tokens)
}

func TestTokenizeExpandsCJKRunIntoBigrams(t *testing.T) {
	tokens := Tokenize("知识库")
	assert.Contains(t, tokens, "知识库")
	assert.Contains(t, tokens, "知识")
	assert.Contains(t, tokens, "识库")
}

func TestTokenizeDedupesAndSortsByLengthDescending(t *testing.T) {
	tokens := Tokenize("search search engine")
	assert.Equal(t, []string{"search", "engine"}, tokens)
}

func TestTokenizeEmptyQueryYieldsNoTokens(t *testing.T) {
	assert.Empty(t, Tokenize(""))
	assert.Empty(t, Tokenize("   "))
}
