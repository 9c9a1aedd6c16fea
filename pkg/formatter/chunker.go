package formatter

import (
	"strings"
	"unicode/utf8"
)

// split points, most preferred first
var separators = []string{"\n\n", "\n", " "}

// Chunk splits text into pieces of at most max runes. It cuts after the last
// paragraph break that fits, then the last line break, then the last space,
// and only cuts mid-word when a window holds none of those. Separators stay
// at the end of the preceding piece, so joining the pieces gives back text.
func Chunk(text string, max int) []string {
	if text == "" {
		return nil
	}
	if max <= 0 || utf8.RuneCountInString(text) <= max {
		return []string{text}
	}

	var chunks []string
	rest := text
	for utf8.RuneCountInString(rest) > max {
		window := rest[:byteOffset(rest, max)]

		cut := len(window)
		for _, sep := range separators {
			if i := strings.LastIndex(window, sep); i >= 0 {
				cut = i + len(sep)
				break
			}
		}

		chunks = append(chunks, rest[:cut])
		rest = rest[cut:]
	}
	if rest != "" {
		chunks = append(chunks, rest)
	}
	return chunks
}

// byteOffset returns the byte index just past the first n runes of s
func byteOffset(s string, n int) int {
	i := 0
	for n > 0 && i < len(s) {
		_, size := utf8.DecodeRuneInString(s[i:])
		i += size
		n--
	}
	return i
}
