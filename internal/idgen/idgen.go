package idgen

import (
	"strings"

	"github.com/google/uuid"
)

// NewFunc returns a new globally unique identifier as string. It is a
// variable so tests can stub it with deterministic values.
var NewFunc = func() string { return uuid.New().String() }

func New() string { return NewFunc() }

// Short returns the leading segment of an identifier, used when rendering
// run ids in logs and CLI output.
func Short(id string) string {
	if idx := strings.Index(id, "-"); idx > 0 {
		return id[:idx]
	}
	return id
}
