package util

import (
	"strings"
	"testing"
)

func TestTruncateLog(t *testing.T) {
	tests := []struct {
		name   string
		input  string
		maxLen int
		want   string
	}{
		{"short", "short log", 64, "short log"},
		{"exact limit", "12345678901234567890", 20, "12345678901234567890"},
		{"long", "1234567890abcdefghij", 10, "1234567890... [truncated, 20 bytes total]"},
		{"empty", "", 10, ""},
		{"collapses whitespace", "<html>\n  <body>\tBad Gateway</body>\n</html>", 64, "<html> <body> Bad Gateway</body> </html>"},
		{"keeps runes whole", "ééé", 3, "é... [truncated, 6 bytes total]"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := TruncateLog(tc.input, tc.maxLen); got != tc.want {
				t.Fatalf("TruncateLog(%q, %d) = %q, want %q", tc.input, tc.maxLen, got, tc.want)
			}
		})
	}
}

func TestTruncateBytes_UsesDefault(t *testing.T) {
	input := []byte(strings.Repeat("x", 2000))
	got := TruncateBytes(input)
	if !strings.HasPrefix(got, strings.Repeat("x", DefaultLogMaxLen)+"...") {
		t.Fatalf("TruncateBytes did not keep the first %d bytes: %q", DefaultLogMaxLen, got[:40])
	}
	if !strings.Contains(got, "2000 bytes total") {
		t.Fatalf("TruncateBytes lost the original size: %q", got[len(got)-40:])
	}
}
