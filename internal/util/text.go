package util

import (
	"strings"
	"unicode/utf8"
)

// SanitizePostgresText drops NUL bytes and invalid UTF-8, both of which
// Postgres rejects in text and jsonb values. Clean input is returned as is.
func SanitizePostgresText(value string) string {
	if utf8.ValidString(value) && strings.IndexByte(value, 0) < 0 {
		return value
	}
	return strings.ReplaceAll(strings.ToValidUTF8(value, ""), "\x00", "")
}
