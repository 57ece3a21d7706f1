package extract

import (
	"strings"
	"unicode/utf8"
)

// plainText returns content as a string, replacing invalid UTF-8 sequences.
func plainText(content []byte) string {
	if utf8.Valid(content) {
		return string(content)
	}
	return strings.ToValidUTF8(string(content), "�")
}
