package expander

import (
	"fmt"
	"reflect"
	"strconv"
	"strings"

	"github.com/modal-labs/conveyor/runtime/evaluator"
	"github.com/viant/structology/visitor"
)

const (
	exprOpen  = "${{"
	exprClose = "}}"
)

// expand interpolates ${{ expression }} tokens in a string using values from
// the provided state. When the whole string is a single token the evaluated
// value is returned typed (ints, bools, maps) instead of its string form so
// that action inputs keep their natural types.
func expand(value string, from map[string]interface{}, funcs evaluator.Funcs) interface{} {
	if value == "" {
		return value
	}

	// Fast-path: the WHOLE string is a single expression token. We keep the
	// detection conservative; mixed literals such as "v${{ version }}-linux"
	// fall through to the text interpolation loop below.
	if strings.HasPrefix(value, exprOpen) && strings.HasSuffix(value, exprClose) {
		if end := findMatchingClosingBrace(value); end == len(value)-1 {
			expr := value[len(exprOpen) : len(value)-len(exprClose)]
			return evaluator.EvaluateWith(expr, from, funcs)
		}
	}

	// Handle tokens embedded in text
	result := value
	for {
		start := strings.Index(result, exprOpen)
		if start == -1 {
			break
		}
		end := findMatchingClosingBrace(result[start:])
		if end == -1 {
			break
		}
		end = start + end + 1

		expr := result[start+len(exprOpen) : end-len(exprClose)]
		replacement := evaluator.EvaluateWith(expr, from, funcs)
		result = result[:start] + stringifyValue(replacement) + result[end:]
	}
	return result
}

// findMatchingClosingBrace returns the index of the final byte of the "}}"
// closing an expression starting with "${{". It accounts for nested braces
// inside the expression body.
func findMatchingClosingBrace(s string) int {
	if !strings.HasPrefix(s, exprOpen) {
		return -1
	}

	depth := 0
	for i := 1; i < len(s); i++ {
		switch s[i] {
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				// the token must close with a double brace
				if s[i-1] == '}' {
					return i
				}
				return -1
			}
		}
	}
	return -1
}

// stringifyValue converts a value to its string representation for interpolation
func stringifyValue(val interface{}) string {
	if val == nil {
		return ""
	}

	v := reflect.ValueOf(val)
	switch v.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return strconv.FormatInt(v.Int(), 10)
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return strconv.FormatUint(v.Uint(), 10)
	case reflect.Float32, reflect.Float64:
		return strconv.FormatFloat(v.Float(), 'f', -1, 64)
	case reflect.Bool:
		return strconv.FormatBool(v.Bool())
	case reflect.String:
		return v.String()
	default:
		return fmt.Sprintf("%v", val)
	}
}

// HasExpr checks whether a string contains an expression token.
func HasExpr(value string) bool {
	return strings.Contains(value, exprOpen)
}

// Expand recursively traverses maps and slices, expanding any string that
// contains ${{ ... }} tokens against the given state.
func Expand(value interface{}, from map[string]interface{}) (interface{}, error) {
	return ExpandWith(value, from, nil)
}

// ExpandWith is Expand with extra expression functions, e.g. hashFiles.
func ExpandWith(value interface{}, from map[string]interface{}, funcs evaluator.Funcs) (interface{}, error) {
	var err error
	switch actual := value.(type) {
	case map[string]interface{}:
		expandedMap := make(map[string]interface{})
		visit := visitor.MapVisitorOf[string, interface{}](actual)
		err = visit(func(key string, element interface{}) (bool, error) {
			var expandedKey = key
			if HasExpr(key) {
				expanded := expand(key, from, funcs)
				if str, ok := expanded.(string); ok {
					expandedKey = str
				} else {
					// Skip this entry if the key doesn't expand to a string
					return true, nil
				}
			}

			if text, ok := element.(string); ok && HasExpr(text) {
				element = expand(text, from, funcs)
			} else {
				// Recursively expand nested structures
				element, err = ExpandWith(element, from, funcs)
				if err != nil {
					return false, err
				}
			}

			expandedMap[expandedKey] = element
			return true, nil
		})
		return expandedMap, err

	case map[string]string:
		expandedMap := make(map[string]string, len(actual))
		visit := visitor.MapVisitorOf[string, string](actual)
		err = visit(func(key string, element string) (bool, error) {
			if HasExpr(element) {
				element = stringifyValue(expand(element, from, funcs))
			}
			expandedMap[key] = element
			return true, nil
		})
		return expandedMap, err

	case []interface{}:
		expandedSlice := make([]interface{}, len(actual))
		for i, item := range actual {
			if text, ok := item.(string); ok && HasExpr(text) {
				item = expand(text, from, funcs)
			} else {
				// Recursively expand nested items
				item, err = ExpandWith(item, from, funcs)
				if err != nil {
					return nil, err
				}
			}
			expandedSlice[i] = item
		}
		return expandedSlice, nil

	case []string:
		expandedSlice := make([]string, len(actual))
		for i, item := range actual {
			if HasExpr(item) {
				expandedSlice[i] = stringifyValue(expand(item, from, funcs))
				continue
			}
			expandedSlice[i] = item
		}
		return expandedSlice, nil

	case string:
		if HasExpr(actual) {
			return expand(actual, from, funcs), nil
		}
		return actual, nil

	default:
		// For other types, return as is
		return actual, nil
	}
}

// ExpandText expands tokens in a plain string and returns the result as text.
func ExpandText(text string, from map[string]interface{}, funcs evaluator.Funcs) string {
	if !HasExpr(text) {
		return text
	}
	return stringifyValue(expand(text, from, funcs))
}
