package turn

import (
	"iter"
	"strings"
	"unicode"
	"unicode/utf8"
)

// Sentences yields the trimmed sentences of text in order. A sentence ends at
// '.', '!' or '?' when whitespace follows; text without such a boundary is a
// single sentence. Empty fragments are skipped.
func Sentences(text string) iter.Seq[string] {
	return func(yield func(string) bool) {
		start := 0
		for i := 0; i < len(text); i++ {
			switch text[i] {
			case '.', '!', '?':
			default:
				continue
			}
			next, _ := utf8.DecodeRuneInString(text[i+1:])
			if next == utf8.RuneError || !unicode.IsSpace(next) {
				continue
			}
			if s := strings.TrimSpace(text[start : i+1]); s != "" {
				if !yield(s) {
					return
				}
			}
			start = i + 1
		}
		if s := strings.TrimSpace(text[start:]); s != "" {
			yield(s)
		}
	}
}
