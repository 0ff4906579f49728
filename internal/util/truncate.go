// Package util holds small string helpers for log and error text.
package util

import (
	"fmt"
	"strings"
	"unicode/utf8"
)

// DefaultLogMaxLen bounds provider response bodies quoted in errors and logs.
const DefaultLogMaxLen = 512

// TruncateLog collapses whitespace in s and cuts it to at most maxLen
// bytes on a rune boundary, noting the original size.
func TruncateLog(s string, maxLen int) string {
	s = strings.Join(strings.Fields(s), " ")
	if len(s) <= maxLen {
		return s
	}
	cut := maxLen
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut] + fmt.Sprintf("... [truncated, %d bytes total]", len(s))
}

// TruncateBytes is TruncateLog over b with DefaultLogMaxLen.
func TruncateBytes(b []byte) string {
	return TruncateLog(string(b), DefaultLogMaxLen)
}
