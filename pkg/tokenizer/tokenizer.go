package tokenizer

import (
	"strings"
)

// CountTokens provides a rough token count estimate (about 4/3 tokens per word).
func CountTokens(text string) int {
	words := strings.Fields(text)
	if len(words) == 0 {
		return 0
	}
	return max(len(words)*4/3, 1)
}

// Words splits text on whitespace while keeping the trailing separator attached
// to each word, so concatenating the result restores the text exactly.
func Words(text string) []string {
	var words []string
	start := 0
	inSpace := false
	for i, r := range text {
		space := r == ' ' || r == '\n' || r == '\t' || r == '\r'
		if inSpace && !space {
			words = append(words, text[start:i])
			start = i
		}
		inSpace = space
	}
	if start < len(text) {
		words = append(words, text[start:])
	}
	return words
}
