package reference

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParse(t *testing.T) {
	testCases := []struct {
		description string
		input       string
		expected    *Reference
		shouldError bool
	}{
		{
			description: "bare action name",
			input:       "checkout",
			expected:    &Reference{Name: "checkout"},
		},
		{
			description: "action with method",
			input:       "cache/restore",
			expected:    &Reference{Name: "cache/restore"},
		},
		{
			description: "namespaced action with method",
			input:       "system/secret/reveal",
			expected:    &Reference{Name: "system/secret/reveal"},
		},
		{
			description: "action with version",
			input:       "toolchain@nightly",
			expected:    &Reference{Name: "toolchain", Version: "nightly"},
		},
		{
			description: "action with method and version",
			input:       "toolchain/install@1.81.0",
			expected:    &Reference{Name: "toolchain/install", Version: "1.81.0"},
		},
		{
			description: "kebab case segments",
			input:       "rust-toolchain@stable",
			expected:    &Reference{Name: "rust-toolchain", Version: "stable"},
		},
		{
			description: "invalid - empty input",
			input:       "",
			shouldError: true,
		},
		{
			description: "invalid - leading slash",
			input:       "/checkout",
			shouldError: true,
		},
		{
			description: "invalid - trailing slash",
			input:       "cache/",
			shouldError: true,
		},
		{
			description: "invalid - empty version",
			input:       "toolchain@",
			shouldError: true,
		},
		{
			description: "invalid - version before method",
			input:       "toolchain@nightly/install",
			shouldError: true,
		},
		{
			description: "invalid - segment starts with digit",
			input:       "1checkout",
			shouldError: true,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.description, func(t *testing.T) {
			result, err := Parse([]byte(tc.input))

			if tc.shouldError {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
				assert.EqualValues(t, tc.expected, result)
			}
		})
	}
}

func TestReferenceSplit(t *testing.T) {
	ref := &Reference{Name: "cache/restore"}
	service, method, ok := ref.Split()
	assert.True(t, ok)
	assert.Equal(t, "cache", service)
	assert.Equal(t, "restore", method)

	ref = &Reference{Name: "checkout"}
	_, _, ok = ref.Split()
	assert.False(t, ok)
}

func TestReferenceString(t *testing.T) {
	assert.Equal(t, "toolchain@nightly", (&Reference{Name: "toolchain", Version: "nightly"}).String())
	assert.Equal(t, "checkout", (&Reference{Name: "checkout"}).String())
}
