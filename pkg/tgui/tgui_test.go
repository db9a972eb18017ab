package tgui

import (
	"strings"
	"testing"
	"unicode/utf8"
)

func TestTruncRunes(t *testing.T) {
	t.Parallel()
	cases := []struct {
		in   string
		n    int
		want string
	}{
		{"hello", 10, "hello"},
		{"hello", 5, "hello"},
		{"hello", 4, "hel…"},
		{"привет", 3, "пр…"},
		{"abc", 1, "…"},
		{"abc", 0, ""},
		{"", 3, ""},
	}
	for _, tc := range cases {
		if got := TruncRunes(tc.in, tc.n); got != tc.want {
			t.Errorf("TruncRunes(%q, %d) = %q, want %q", tc.in, tc.n, got, tc.want)
		}
	}
}

func TestCaptionFitsLimit(t *testing.T) {
	t.Parallel()
	long := strings.Repeat("🎵", MaxCaptionRunes+50)
	got := Caption(long)
	if n := utf8.RuneCountInString(got); n != MaxCaptionRunes {
		t.Fatalf("caption has %d runes, want %d", n, MaxCaptionRunes)
	}
	if !strings.HasSuffix(got, "…") {
		t.Fatalf("truncated caption must end with an ellipsis")
	}
}
