package service

import (
	"testing"
	"unicode/utf8"
)

func TestTruncateKeepsRuneBoundaries(t *testing.T) {
	cases := []struct {
		value string
		max   int
		want  string
	}{
		{"declined", 20, "declined"},
		{"declined", 4, "decl"},
		{"支付意图已失效", 4, "支付意图"},
		{"refund €120", 8, "refund €"},
	}
	for _, tc := range cases {
		got := truncate(tc.value, tc.max)
		if got != tc.want {
			t.Fatalf("truncate(%q, %d) want %q got %q", tc.value, tc.max, tc.want, got)
		}
		if !utf8.ValidString(got) {
			t.Fatalf("truncate(%q, %d) produced invalid utf-8", tc.value, tc.max)
		}
	}
}
