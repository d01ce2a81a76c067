// Package reference parses the uses: values of workflow steps.
//
// A reference selects an action by slash separated path with an optional
// version qualifier: name[/method][@version]. Whether the trailing segment
// names a method or belongs to the service path is decided against the
// action registry at dispatch time, not here.
package reference

import (
	"strings"

	"github.com/viant/parsly"
)

// Reference is a parsed uses: value.
type Reference struct {
	// Name is the full action path as written, e.g. cache/restore
	Name string

	// Version is the optional @version qualifier, e.g. nightly or 1.81.0
	Version string
}

// Split returns the service prefix and trailing method of a multi-segment
// name. ok is false for single segment names, which address a service
// directly.
func (r *Reference) Split() (service, method string, ok bool) {
	index := strings.LastIndex(r.Name, "/")
	if index < 0 {
		return "", "", false
	}
	return r.Name[:index], r.Name[index+1:], true
}

// String re-renders the reference in its source notation.
func (r *Reference) String() string {
	if r.Version == "" {
		return r.Name
	}
	return r.Name + "@" + r.Version
}

// Parse parses an action reference in the format: name[/method][@version]
func Parse(input []byte) (*Reference, error) {
	cursor := parsly.NewCursor("", input, 0)
	ref := &Reference{}

	matched := cursor.MatchOne(segmentToken)
	if matched.Code != segmentToken.Code {
		return nil, cursor.NewError(segmentToken)
	}
	segments := []string{matched.Text(cursor)}

	for cursor.Pos < cursor.InputSize {
		matched = cursor.MatchAny(slashToken, atToken)
		switch matched.Code {
		case slashToken.Code:
			matched = cursor.MatchOne(segmentToken)
			if matched.Code != segmentToken.Code {
				return nil, cursor.NewError(segmentToken)
			}
			segments = append(segments, matched.Text(cursor))
		case atToken.Code:
			matched = cursor.MatchOne(versionToken)
			if matched.Code != versionToken.Code {
				return nil, cursor.NewError(versionToken)
			}
			ref.Version = matched.Text(cursor)
			if cursor.Pos < cursor.InputSize {
				return nil, cursor.NewError(versionToken)
			}
		default:
			return nil, cursor.NewError(slashToken, atToken)
		}
	}

	ref.Name = strings.Join(segments, "/")
	return ref, nil
}
