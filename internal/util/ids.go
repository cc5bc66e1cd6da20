package util

import (
	"regexp"
	"strconv"
	"strings"
	"unicode"

	gonanoid "github.com/matoous/go-nanoid/v2"
)

const requestIDLength = 21

var (
	reBoldDouble = regexp.MustCompile(`\*\*\s*\[\[(\d+)\]\]\s*\*\*`)
	reBoldSingle = regexp.MustCompile(`\*\*\s*\[(\d+)\]\s*\*\*`)
	reDouble     = regexp.MustCompile(`\[\[(\d+)\]\]`)
	reCitation   = regexp.MustCompile(`\[(\d+)\]`)
	reLeadingGap = regexp.MustCompile(`[\t ]*\[(\d+)\]`)
)

// NewRequestID returns a random nanoid used to correlate logs and traces of
// one question.
func NewRequestID() string {
	id, err := gonanoid.New(requestIDLength)
	if err != nil {
		return ""
	}
	return id
}

// IsRequestID reports whether s looks like an id from NewRequestID.
func IsRequestID(s string) bool {
	return isNanoid(s)
}

func isNanoid(s string) bool {
	if len(s) != requestIDLength {
		return false
	}
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9', c == '_', c == '-':
		default:
			return false
		}
	}
	return true
}

// NormalizeCitations rewrites record citations of a model answer to the
// plain "[n]" form, drops citations outside 1..records together with the
// blanks in front of them and collapses repeated citations of the same
// record.
func NormalizeCitations(s string, records int) string {
	s = reBoldDouble.ReplaceAllString(s, "[$1]")
	s = reBoldSingle.ReplaceAllString(s, "[$1]")
	s = reDouble.ReplaceAllString(s, "[$1]")

	s = reLeadingGap.ReplaceAllStringFunc(s, func(m string) string {
		open := strings.IndexByte(m, '[')
		n, err := strconv.Atoi(m[open+1 : len(m)-1])
		if err != nil || n < 1 || n > records {
			return ""
		}
		return m
	})
	return dedupeAdjacentCitations(s)
}

// CitedNumbers returns the distinct record numbers cited in s in order of
// first appearance.
func CitedNumbers(s string) []int {
	var out []int
	seen := make(map[int]struct{})
	for _, m := range reCitation.FindAllStringSubmatch(s, -1) {
		n, err := strconv.Atoi(m[1])
		if err != nil {
			continue
		}
		if _, ok := seen[n]; ok {
			continue
		}
		seen[n] = struct{}{}
		out = append(out, n)
	}
	return out
}

func dedupeAdjacentCitations(s string) string {
	matches := reCitation.FindAllStringSubmatchIndex(s, -1)
	if len(matches) == 0 {
		return s
	}

	var b strings.Builder
	b.Grow(len(s))
	cursor := 0

	for mi := 0; mi < len(matches); mi++ {
		m := matches[mi]
		start, end := m[0], m[1]
		num := s[m[2]:m[3]]

		b.WriteString(s[cursor:start])

		dupEnd := end
		next := mi + 1
		for next < len(matches) {
			sep := s[dupEnd:matches[next][0]]
			if !onlyWhitespace(sep) || containsLineBreak(sep) {
				break
			}
			if s[matches[next][2]:matches[next][3]] != num {
				break
			}
			dupEnd = matches[next][1]
			next++
		}

		b.WriteString(s[start:end])
		cursor = dupEnd
		mi = next - 1
	}

	if cursor < len(s) {
		b.WriteString(s[cursor:])
	}
	return b.String()
}

func onlyWhitespace(s string) bool {
	for _, r := range s {
		if !unicode.IsSpace(r) {
			return false
		}
	}
	return true
}

func containsLineBreak(s string) bool {
	for i := 0; i < len(s); i++ {
		switch s[i] {
		case '\n', '\r':
			return true
		}
	}
	return false
}
