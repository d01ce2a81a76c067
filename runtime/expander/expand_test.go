package expander

import (
	"reflect"
	"testing"

	"github.com/modal-labs/conveyor/runtime/evaluator"
)

func TestExpand(t *testing.T) {
	type testCase struct {
		name   string
		value  string
		from   map[string]interface{}
		expect interface{}
	}

	tests := []testCase{
		{
			name:   "whole string token",
			value:  "${{ branch }}",
			from:   map[string]interface{}{"branch": "main"},
			expect: "main",
		},
		{
			name:   "whole string token keeps type",
			value:  "${{ attempt }}",
			from:   map[string]interface{}{"attempt": 3},
			expect: 3,
		},
		{
			name:   "text with embedded token",
			value:  "deploy-${{ branch }}!",
			from:   map[string]interface{}{"branch": "main"},
			expect: "deploy-main!",
		},
		{
			name:   "multiple tokens in text",
			value:  "${{ name }}-${{ event.branch }}",
			from:   map[string]interface{}{"name": "ci", "event": map[string]interface{}{"branch": "main"}},
			expect: "ci-main",
		},
		{
			name:  "nested object property",
			value: "${{ steps.build.outputs.exitCode }}",
			from: map[string]interface{}{
				"steps": map[string]interface{}{
					"build": map[string]interface{}{
						"outputs": map[string]interface{}{"exitCode": 0},
					},
				},
			},
			expect: 0,
		},
		{
			name:  "string map navigation",
			value: "${{ env.CARGO_TERM_COLOR }}",
			from: map[string]interface{}{
				"env": map[string]string{"CARGO_TERM_COLOR": "always"},
			},
			expect: "always",
		},
		{
			name:  "array element",
			value: "${{ needs[0] }}",
			from: map[string]interface{}{
				"needs": []interface{}{"build", "lint"},
			},
			expect: "build",
		},
		{
			name:   "expression",
			value:  "${{ attempt + 1 }}",
			from:   map[string]interface{}{"attempt": 1},
			expect: 2,
		},
		{
			name:   "condition expression",
			value:  "${{ event.branch == 'main' }}",
			from:   map[string]interface{}{"event": map[string]interface{}{"branch": "main"}},
			expect: true,
		},
		{
			name:   "unknown path expands to nil",
			value:  "${{ event.tag }}",
			from:   map[string]interface{}{"event": map[string]interface{}{"branch": "main"}},
			expect: nil,
		},
		{
			name:   "unknown path in text expands to empty",
			value:  "tag:${{ event.tag }}",
			from:   map[string]interface{}{"event": map[string]interface{}{"branch": "main"}},
			expect: "tag:",
		},
		{
			name:   "plain text untouched",
			value:  "cargo build --all-targets",
			from:   map[string]interface{}{},
			expect: "cargo build --all-targets",
		},
		{
			name:   "unterminated token untouched",
			value:  "${{ branch",
			from:   map[string]interface{}{"branch": "main"},
			expect: "${{ branch",
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			actual, err := Expand(tc.value, tc.from)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if !reflect.DeepEqual(tc.expect, actual) {
				t.Errorf("expected %v, got %v", tc.expect, actual)
			}
		})
	}
}

func TestExpandNested(t *testing.T) {
	from := map[string]interface{}{
		"env":   map[string]string{"HOME": "/home/ci"},
		"event": map[string]interface{}{"branch": "main"},
	}
	value := map[string]interface{}{
		"key":   "cargo-${{ event.branch }}",
		"paths": []interface{}{"${{ env.HOME }}/.cargo/registry", "target"},
		"with": map[string]interface{}{
			"depth": "${{ 1 }}",
		},
	}
	expanded, err := Expand(value, from)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	expect := map[string]interface{}{
		"key":   "cargo-main",
		"paths": []interface{}{"/home/ci/.cargo/registry", "target"},
		"with": map[string]interface{}{
			"depth": 1,
		},
	}
	if !reflect.DeepEqual(expect, expanded) {
		t.Errorf("expected %v, got %v", expect, expanded)
	}
}

func TestExpandWithFuncs(t *testing.T) {
	funcs := evaluator.Funcs{
		"hashFiles": func(args ...interface{}) (interface{}, error) {
			return "9f86d08", nil
		},
	}
	got, err := ExpandWith("cargo-${{ hashFiles('**/Cargo.lock') }}", map[string]interface{}{}, funcs)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != "cargo-9f86d08" {
		t.Errorf("expected cargo-9f86d08, got %v", got)
	}
}
