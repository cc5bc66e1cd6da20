package util

import (
	"slices"
	"testing"
)

func TestIsNanoid(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want bool
	}{
		{"Valid21Chars", "sGvgBXbBcVCjBIKCLS2Os", true},
		{"TooShort", "abc123", false},
		{"TooLong", "sGvgBXbBcVCjBIKCLS2OsX", false},
		{"WithSpace", "sGvgBXbBcVCjBIKCL 2Os", false},
		{"WithComma", "sGvgBXbBcVCjBIKCL,2Os", false},
		{"Empty", "", false},
		{"AllDashes", "---------------------", true},
		{"MixedValid", "Aa0_-Bb1_-Cc2_-Dd3_-E", true},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got := isNanoid(tc.in)
			if got != tc.want {
				t.Fatalf("isNanoid(%q) = %v, want %v", tc.in, got, tc.want)
			}
		})
	}
}

func TestNewRequestID(t *testing.T) {
	a, b := NewRequestID(), NewRequestID()
	if !IsRequestID(a) || !IsRequestID(b) {
		t.Fatalf("invalid request ids %q, %q", a, b)
	}
	if a == b {
		t.Fatalf("request ids collide: %q", a)
	}
}

func TestNormalizeCitations(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"AlreadyOK", "WH_002 is critical [1].", "WH_002 is critical [1]."},
		{"BoldSingle", "Bold: **[2]**", "Bold: [2]"},
		{"BoldDouble", "Bold: **[[2]]**", "Bold: [2]"},
		{"DoubleBracket", "Double: [[1]]", "Double: [1]"},
		{"OutOfRangeDropped", "Unknown source [7].", "Unknown source."},
		{"ZeroDropped", "Zero [0] here", "Zero here"},
		{"DedupWhitespace", "Dupes: [1] [1] then text", "Dupes: [1] then text"},
		{"DedupTight", "Tight: [1][1] next", "Tight: [1] next"},
		{"NoDedupAcrossLines", "A [1]\n[1] B", "A [1]\n[1] B"},
		{"NoDedupAcrossComma", "[1], [1] next", "[1], [1] next"},
		{"DistinctKept", "Both [1] [2].", "Both [1] [2]."},
		{"LinkUntouched", "See [docs](http://example.com) [1]", "See [docs](http://example.com) [1]"},
		{"Mixed", "Mix **[1]** [[1]] and [3] [9].", "Mix [1] and [3]."},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got := NormalizeCitations(tc.in, 3)
			if got != tc.want {
				t.Fatalf("NormalizeCitations(%q)\nwant: %q\ngot:  %q", tc.in, tc.want, got)
			}
			twice := NormalizeCitations(got, 3)
			if twice != got {
				t.Fatalf("NormalizeCitations not idempotent for %q:\nfirst:  %q\nsecond: %q", tc.in, got, twice)
			}
		})
	}
}

func TestCitedNumbers(t *testing.T) {
	got := CitedNumbers("First [2], then [1] and again [2].")
	if !slices.Equal(got, []int{2, 1}) {
		t.Fatalf("CitedNumbers = %v, want [2 1]", got)
	}
	if got := CitedNumbers("no citations"); len(got) != 0 {
		t.Fatalf("CitedNumbers = %v, want none", got)
	}
}
