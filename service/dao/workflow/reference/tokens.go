package reference

import (
	"github.com/viant/parsly"
	"github.com/viant/parsly/matcher"
)

// Token codes
const (
	segmentCode = iota
	slashCode
	atCode
	versionCode
)

// Token definitions
var (
	segmentToken = parsly.NewToken(segmentCode, "Segment", newSegmentMatcher())
	slashToken   = parsly.NewToken(slashCode, "/", matcher.NewByte('/'))
	atToken      = parsly.NewToken(atCode, "@", matcher.NewByte('@'))
	versionToken = parsly.NewToken(versionCode, "Version", newVersionMatcher())
)

func newSegmentMatcher() parsly.Matcher {
	return &segmentMatcher{}
}

func newVersionMatcher() parsly.Matcher {
	return &versionMatcher{}
}

// segmentMatcher matches one action path segment such as cache or
// rust-toolchain. Segments start with a letter or underscore.
type segmentMatcher struct{}

func (m *segmentMatcher) Match(cursor *parsly.Cursor) int {
	input := cursor.Input
	pos := cursor.Pos
	size := cursor.InputSize

	if pos >= size {
		return 0
	}

	if !isLetter(input[pos]) && input[pos] != '_' {
		return 0
	}

	matched := 1
	for i := pos + 1; i < size; i++ {
		if isLetter(input[i]) || isDigit(input[i]) || input[i] == '_' || input[i] == '-' || input[i] == '.' {
			matched++
			continue
		}
		break
	}

	return matched
}

// versionMatcher matches the version qualifier after '@', e.g. v1 or 1.81.0.
type versionMatcher struct{}

func (m *versionMatcher) Match(cursor *parsly.Cursor) int {
	input := cursor.Input
	pos := cursor.Pos
	size := cursor.InputSize

	if pos >= size {
		return 0
	}

	matched := 0
	for i := pos; i < size; i++ {
		if isLetter(input[i]) || isDigit(input[i]) || input[i] == '.' || input[i] == '-' || input[i] == '_' {
			matched++
			continue
		}
		break
	}

	return matched
}

// Helper functions
func isLetter(c byte) bool {
	return (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')
}

func isDigit(c byte) bool {
	return c >= '0' && c <= '9'
}
