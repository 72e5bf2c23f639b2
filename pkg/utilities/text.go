package utilities

import (
	"strings"
	"unicode/utf8"
)

// StorableText reports whether s fits a Postgres text column: valid UTF-8
// without NUL bytes.
func StorableText(s string) bool {
	return utf8.ValidString(s) && !strings.ContainsRune(s, 0)
}

// SanitizeText drops NUL bytes and replaces invalid UTF-8 with U+FFFD.
func SanitizeText(s string) string {
	return strings.ToValidUTF8(strings.ReplaceAll(s, "\x00", ""), "\uFFFD")
}
