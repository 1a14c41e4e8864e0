package entity

import (
	"strings"
	"unicode"
)

// toSnake converts a reflected type name to the snake_case schema name.
// Any rune that is not a letter or digit separates words, so pointer and
// generic type names never leak key separators into schema names.
func toSnake(s string) string {
	runes := []rune(s)
	var words []string
	var word []rune

	flush := func() {
		if len(word) > 0 {
			words = append(words, strings.ToLower(string(word)))
			word = word[:0]
		}
	}

	for i, r := range runes {
		if !unicode.IsLetter(r) && !unicode.IsDigit(r) {
			flush()
			continue
		}
		if len(word) > 0 && startsWord(word[len(word)-1], r, runes[i+1:]) {
			flush()
		}
		word = append(word, r)
	}
	flush()

	return strings.Join(words, "_")
}

func startsWord(prev, r rune, rest []rune) bool {
	switch {
	case unicode.IsDigit(r):
		return !unicode.IsDigit(prev)
	case unicode.IsUpper(r):
		if unicode.IsLower(prev) || unicode.IsDigit(prev) {
			return true
		}
		// the last capital of an acronym opens the next word: HTTPServer
		return unicode.IsUpper(prev) && len(rest) > 0 && unicode.IsLower(rest[0])
	}
	return false
}
