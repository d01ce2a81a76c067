package evaluator

import (
	"fmt"
	"go/ast"
	"go/parser"
	"go/token"
	"math"
	"reflect"
	"regexp"
	"strconv"
	"strings"
)

// Funcs maps function names callable from workflow expressions, such as
// success() or hashFiles('**/Cargo.lock'), to their implementations. A
// function returning an error makes the enclosing expression evaluate to nil.
type Funcs map[string]func(args ...interface{}) (interface{}, error)

// builtins are available to every expression unless shadowed by caller
// supplied functions.
var builtins = Funcs{
	"contains":   fnContains,
	"startsWith": fnStartsWith,
	"endsWith":   fnEndsWith,
}

var singleQuoted = regexp.MustCompile(`'([^']*)'`)

// Evaluate evaluates an expression string with variables from the context.
func Evaluate(expr string, variables map[string]interface{}) interface{} {
	return EvaluateWith(expr, variables, nil)
}

// EvaluateWith evaluates an expression with additional functions. Single
// quoted literals are accepted alongside double quoted ones. Expressions that
// do not parse are treated as plain state paths, e.g. "event.branch".
func EvaluateWith(expr string, variables map[string]interface{}, funcs Funcs) interface{} {
	expr = strings.TrimSpace(expr)
	if expr == "" {
		return nil
	}
	processed := singleQuoted.ReplaceAllString(expr, `"$1"`)
	node, err := parser.ParseExpr(processed)
	if err != nil {
		return expandExpression(expr, variables)
	}
	ctx := &evalContext{from: variables, funcs: funcs}
	return ctx.eval(node)
}

// Bool coerces an evaluation result into a condition outcome. Nil, false,
// empty or "false" strings and numeric zero are false; anything else is true.
func Bool(value interface{}) bool {
	switch actual := value.(type) {
	case nil:
		return false
	case bool:
		return actual
	case string:
		return actual != "" && !strings.EqualFold(actual, "false")
	}
	if isIntType(value) {
		return toInt(value) != 0
	}
	if isFloatType(value) {
		return toFloat64(value) != 0
	}
	return true
}

type evalContext struct {
	from  map[string]interface{}
	funcs Funcs
}

// eval evaluates an AST expression against the context state
func (c *evalContext) eval(node ast.Expr) interface{} {
	switch n := node.(type) {
	case *ast.BasicLit:
		// Handle literals (numbers, strings, and character literals)
		switch n.Kind {
		case token.INT:
			val, _ := strconv.Atoi(n.Value)
			return val
		case token.FLOAT:
			val, _ := strconv.ParseFloat(n.Value, 64)
			return val
		case token.STRING, token.CHAR:
			// Remove surrounding quotes or apostrophes
			return strings.Trim(n.Value, "\"'")
		}

	case *ast.Ident:
		switch n.Name {
		case "true":
			return true
		case "false":
			return false
		case "nil", "null":
			return nil
		}
		return expandExpression(n.Name, c.from)

	case *ast.SelectorExpr:
		// Selector chains resolve as dotted state paths, e.g. env.HOME
		if path, ok := selectorPath(n); ok {
			return expandExpression(path, c.from)
		}
		return getProperty(c.eval(n.X), n.Sel.Name)

	case *ast.IndexExpr:
		container := c.eval(n.X)
		index := c.eval(n.Index)
		if key, ok := index.(string); ok {
			return getProperty(container, key)
		}
		return getArrayElement(container, toInt(index))

	case *ast.CallExpr:
		return c.call(n)

	case *ast.BinaryExpr:
		// Logical operators short-circuit on truthiness
		switch n.Op {
		case token.LAND:
			if !Bool(c.eval(n.X)) {
				return false
			}
			return Bool(c.eval(n.Y))
		case token.LOR:
			if Bool(c.eval(n.X)) {
				return true
			}
			return Bool(c.eval(n.Y))
		}

		// Handle binary operations (+, -, *, /, etc.)
		x := c.eval(n.X)
		y := c.eval(n.Y)

		// Convert values to appropriate types for operation
		xVal, yVal := convertToCompatibleTypes(x, y)

		switch n.Op {
		case token.ADD:
			return performAddition(xVal, yVal)
		case token.SUB:
			return performSubtraction(xVal, yVal)
		case token.MUL:
			return performMultiplication(xVal, yVal)
		case token.QUO:
			return performDivision(xVal, yVal)
		case token.REM:
			return performModulo(xVal, yVal)
		case token.EQL:
			return reflect.DeepEqual(xVal, yVal)
		case token.NEQ:
			return !reflect.DeepEqual(xVal, yVal)
		case token.LSS:
			return compareValues(xVal, yVal) < 0
		case token.GTR:
			return compareValues(xVal, yVal) > 0
		case token.LEQ:
			return compareValues(xVal, yVal) <= 0
		case token.GEQ:
			return compareValues(xVal, yVal) >= 0
		}

	case *ast.ParenExpr:
		// Handle parenthesized expressions
		return c.eval(n.X)

	case *ast.UnaryExpr:
		// Handle unary operations (-, !, etc.)
		operand := c.eval(n.X)

		switch n.Op {
		case token.SUB:
			// Negate the numeric value
			switch v := operand.(type) {
			case int:
				return -v
			case float64:
				return -v
			}
		case token.NOT:
			return !Bool(operand)
		}
	}

	return nil
}

func (c *evalContext) call(n *ast.CallExpr) interface{} {
	name, ok := callName(n.Fun)
	if !ok {
		return nil
	}
	fn, ok := c.funcs[name]
	if !ok {
		fn, ok = builtins[name]
	}
	if !ok {
		return nil
	}
	args := make([]interface{}, 0, len(n.Args))
	for _, arg := range n.Args {
		args = append(args, c.eval(arg))
	}
	out, err := fn(args...)
	if err != nil {
		return nil
	}
	return out
}

func callName(fun ast.Expr) (string, bool) {
	switch actual := fun.(type) {
	case *ast.Ident:
		return actual.Name, true
	case *ast.SelectorExpr:
		return selectorPath(actual)
	}
	return "", false
}

// selectorPath flattens a selector chain of plain identifiers into a dotted
// path. It fails when the chain contains calls or indexing.
func selectorPath(sel *ast.SelectorExpr) (string, bool) {
	switch x := sel.X.(type) {
	case *ast.Ident:
		return x.Name + "." + sel.Sel.Name, true
	case *ast.SelectorExpr:
		if prefix, ok := selectorPath(x); ok {
			return prefix + "." + sel.Sel.Name, true
		}
	}
	return "", false
}

func fnContains(args ...interface{}) (interface{}, error) {
	if len(args) != 2 {
		return nil, fmt.Errorf("contains expects 2 arguments, got %d", len(args))
	}
	haystack := reflect.ValueOf(args[0])
	if haystack.Kind() == reflect.Slice || haystack.Kind() == reflect.Array {
		for i := 0; i < haystack.Len(); i++ {
			if reflect.DeepEqual(haystack.Index(i).Interface(), args[1]) {
				return true, nil
			}
		}
		return false, nil
	}
	return strings.Contains(stringifyValue(args[0]), stringifyValue(args[1])), nil
}

func fnStartsWith(args ...interface{}) (interface{}, error) {
	if len(args) != 2 {
		return nil, fmt.Errorf("startsWith expects 2 arguments, got %d", len(args))
	}
	return strings.HasPrefix(stringifyValue(args[0]), stringifyValue(args[1])), nil
}

func fnEndsWith(args ...interface{}) (interface{}, error) {
	if len(args) != 2 {
		return nil, fmt.Errorf("endsWith expects 2 arguments, got %d", len(args))
	}
	return strings.HasSuffix(stringifyValue(args[0]), stringifyValue(args[1])), nil
}

// expandExpression handles dot notation to navigate through objects
// For example: "event.branch" will navigate through nested structures
func expandExpression(expr string, from map[string]interface{}) interface{} {
	// Check if this is an array access path
	if strings.Contains(expr, "[") && strings.Contains(expr, "]") {
		return handleNestedExpression(expr, from)
	}

	// Handle simple dot notation without array access
	parts := strings.Split(expr, ".")
	var current interface{}
	var ok bool

	// First part must be in the 'from' map
	if current, ok = from[parts[0]]; !ok {
		return nil
	}

	// Navigate through the nested properties
	for i := 1; i < len(parts); i++ {
		switch c := current.(type) {
		case map[string]interface{}:
			if current, ok = c[parts[i]]; !ok {
				return nil
			}
		case map[string]string:
			if current, ok = c[parts[i]]; !ok {
				return nil
			}
		default:
			if mv, ok := getMapValue(current, parts[i]); ok {
				current = mv
				continue
			}
			// Try to use reflection for structs and other types
			current = getProperty(current, parts[i])
			if current == nil {
				return nil
			}
		}
	}

	return current
}

// handleNestedExpression handles complex expressions with array indexing
func handleNestedExpression(expr string, from map[string]interface{}) interface{} {
	// Get the root object name (before first dot or bracket)
	var rootName string
	firstDot := strings.Index(expr, ".")
	firstBracket := strings.Index(expr, "[")

	if firstDot < 0 && firstBracket < 0 {
		// No dots or brackets - simple variable
		return from[expr]
	} else if firstDot < 0 || (firstBracket >= 0 && firstBracket < firstDot) {
		// Bracket appears first
		rootName = expr[:firstBracket]
	} else {
		// Dot appears first
		rootName = expr[:firstDot]
	}

	// Get the root object
	rootObj, exists := from[rootName]
	if !exists {
		return nil
	}

	// Remove the root name from the expression
	pathExpr := expr[len(rootName):]

	// Process the path
	return processPath(rootObj, pathExpr)
}

// processPath evaluates a path expression like ".jobs[1].name" or "[0].state"
func processPath(obj interface{}, path string) interface{} {
	if path == "" {
		return obj
	}

	// Initialize with the current object
	current := obj

	// Parse the path segment by segment
	i := 0
	for i < len(path) {
		// Skip leading dots
		if path[i] == '.' {
			i++
			continue
		}

		// Handle array access
		if path[i] == '[' {
			// Find the closing bracket
			closeBracket := strings.Index(path[i:], "]")
			if closeBracket < 0 {
				return nil // Malformed path
			}
			closeBracket += i

			// Extract the index
			indexStr := path[i+1 : closeBracket]
			index := 0
			for _, ch := range indexStr {
				if ch < '0' || ch > '9' {
					return nil // Not a numeric index
				}
				index = index*10 + int(ch-'0')
			}

			// Access the array element
			current = getArrayElement(current, index)
			if current == nil {
				return nil // Element not found
			}

			// Move past the closing bracket
			i = closeBracket + 1
		} else {
			// Handle property access
			nextDot := strings.Index(path[i:], ".")
			nextBracket := strings.Index(path[i:], "[")

			var propEnd int
			if nextDot < 0 && nextBracket < 0 {
				// No more segments
				propEnd = len(path)
			} else if nextDot < 0 {
				// Next segment is a bracket
				propEnd = i + nextBracket
			} else if nextBracket < 0 {
				// Next segment is a dot
				propEnd = i + nextDot
			} else {
				// Both exist, take the nearest
				propEnd = i + min(nextDot, nextBracket)
			}

			// Extract property name
			propName := path[i:propEnd]

			// Access the property
			switch c := current.(type) {
			case map[string]interface{}:
				var ok bool
				if current, ok = c[propName]; !ok {
					return nil
				}
			case map[string]string:
				var ok bool
				if current, ok = c[propName]; !ok {
					return nil
				}
			default:
				if mv, ok := getMapValue(current, propName); ok {
					current = mv
				} else {
					current = getProperty(current, propName)
					if current == nil {
						return nil
					}
				}
			}

			// Move past this property
			i = propEnd
		}
	}

	return current
}

// convertToCompatibleTypes converts x and y to compatible numeric types
func convertToCompatibleTypes(x, y interface{}) (interface{}, interface{}) {
	// If both are integers, keep them as integers
	if isIntType(x) && isIntType(y) {
		return toInt(x), toInt(y)
	}

	// If either is float, convert both to float
	if isFloatType(x) || isFloatType(y) {
		return toFloat64(x), toFloat64(y)
	}

	// Otherwise just return the original values
	return x, y
}

// isIntType checks if the value is an integer type
func isIntType(v interface{}) bool {
	switch v.(type) {
	case int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64:
		return true
	}
	return false
}

// isFloatType checks if the value is a float type
func isFloatType(v interface{}) bool {
	switch v.(type) {
	case float32, float64:
		return true
	}
	return false
}

// toInt converts a value to int
func toInt(v interface{}) int {
	switch val := v.(type) {
	case int:
		return val
	case int8:
		return int(val)
	case int16:
		return int(val)
	case int32:
		return int(val)
	case int64:
		return int(val)
	case uint:
		return int(val)
	case uint8:
		return int(val)
	case uint16:
		return int(val)
	case uint32:
		return int(val)
	case uint64:
		return int(val)
	case float32:
		return int(val)
	case float64:
		return int(val)
	case string:
		i, _ := strconv.Atoi(val)
		return i
	}
	return 0
}

// toFloat64 converts a value to float64
func toFloat64(v interface{}) float64 {
	switch val := v.(type) {
	case int:
		return float64(val)
	case int8:
		return float64(val)
	case int16:
		return float64(val)
	case int32:
		return float64(val)
	case int64:
		return float64(val)
	case uint:
		return float64(val)
	case uint8:
		return float64(val)
	case uint16:
		return float64(val)
	case uint32:
		return float64(val)
	case uint64:
		return float64(val)
	case float32:
		return float64(val)
	case float64:
		return val
	case string:
		f, _ := strconv.ParseFloat(val, 64)
		return f
	}
	return 0
}

// performAddition performs addition on two values
func performAddition(x, y interface{}) interface{} {
	// Handle string concatenation
	if strX, okX := x.(string); okX {
		if strY, okY := y.(string); okY {
			return strX + strY
		}
		return strX + stringifyValue(y)
	}
	if strY, okY := y.(string); okY {
		return stringifyValue(x) + strY
	}

	// Handle numeric addition
	if isIntType(x) && isIntType(y) {
		return toInt(x) + toInt(y)
	}
	return toFloat64(x) + toFloat64(y)
}

// performSubtraction performs subtraction
func performSubtraction(x, y interface{}) interface{} {
	if isIntType(x) && isIntType(y) {
		return toInt(x) - toInt(y)
	}
	return toFloat64(x) - toFloat64(y)
}

// performMultiplication performs multiplication
func performMultiplication(x, y interface{}) interface{} {
	if isIntType(x) && isIntType(y) {
		return toInt(x) * toInt(y)
	}
	return toFloat64(x) * toFloat64(y)
}

// performDivision performs division
func performDivision(x, y interface{}) interface{} {
	// Check for division by zero
	if toFloat64(y) == 0 {
		return math.Inf(1) // Positive infinity
	}

	// Always return float for division to avoid truncation
	return toFloat64(x) / toFloat64(y)
}

// performModulo performs modulo operation
func performModulo(x, y interface{}) interface{} {
	if isIntType(x) && isIntType(y) && toInt(y) != 0 {
		return toInt(x) % toInt(y)
	}
	yFloat := toFloat64(y)
	if yFloat == 0 {
		return math.NaN() // Not a Number
	}
	return math.Mod(toFloat64(x), yFloat)
}

// compareValues compares two values and returns:
// -1 if x < y
// 0 if x == y
// 1 if x > y
func compareValues(x, y interface{}) int {
	if isIntType(x) && isIntType(y) {
		xInt, yInt := toInt(x), toInt(y)
		if xInt < yInt {
			return -1
		} else if xInt > yInt {
			return 1
		}
		return 0
	}

	xFloat, yFloat := toFloat64(x), toFloat64(y)
	if xFloat < yFloat {
		return -1
	} else if xFloat > yFloat {
		return 1
	}
	return 0
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

// getProperty uses reflection to get a property from a struct or map
func getProperty(obj interface{}, prop string) interface{} {
	if obj == nil {
		return nil
	}

	// Handle maps
	if mapObj, ok := obj.(map[string]interface{}); ok {
		if val, exists := mapObj[prop]; exists {
			return val
		}
		return nil
	}
	// Generic map via reflection
	if v, ok := getMapValue(obj, prop); ok {
		return v
	}

	// Use reflection for structs
	val := reflect.ValueOf(obj)
	if val.Kind() == reflect.Ptr {
		if val.IsNil() {
			return nil
		}
		val = val.Elem()
	}

	if val.Kind() != reflect.Struct {
		return nil
	}

	// Try to get the field (supports exported fields only)
	field := val.FieldByName(prop)
	if !field.IsValid() {
		// Try case-insensitive match
		typ := val.Type()
		for i := 0; i < typ.NumField(); i++ {
			if strings.EqualFold(typ.Field(i).Name, prop) {
				field = val.Field(i)
				break
			}
		}
		if !field.IsValid() {
			return nil
		}
	}

	if !field.CanInterface() {
		return nil // Unexported field
	}

	return field.Interface()
}

// getMapValue attempts to read a value from any map with string keys via reflection.
// Returns (value, true) when obj is a map[string]T and key exists.
func getMapValue(obj interface{}, key string) (interface{}, bool) {
	val := reflect.ValueOf(obj)
	if val.Kind() == reflect.Ptr {
		if val.IsNil() {
			return nil, false
		}
		val = val.Elem()
	}
	if val.Kind() != reflect.Map {
		return nil, false
	}
	// key must be string
	if val.Type().Key().Kind() != reflect.String {
		return nil, false
	}
	k := reflect.ValueOf(key)
	v := val.MapIndex(k)
	if !v.IsValid() {
		return nil, false
	}
	if !v.CanInterface() {
		return nil, false
	}
	return v.Interface(), true
}

// getArrayElement extracts an element from an array or slice using reflection
func getArrayElement(obj interface{}, index int) interface{} {
	if obj == nil {
		return nil
	}

	switch arr := obj.(type) {
	case []interface{}:
		if index >= 0 && index < len(arr) {
			return arr[index]
		}
	case []string:
		if index >= 0 && index < len(arr) {
			return arr[index]
		}
	case []int:
		if index >= 0 && index < len(arr) {
			return arr[index]
		}
	default:
		// Use reflection for other array types
		val := reflect.ValueOf(obj)
		if val.Kind() == reflect.Ptr {
			if val.IsNil() {
				return nil
			}
			val = val.Elem()
		}

		if val.Kind() != reflect.Array && val.Kind() != reflect.Slice {
			return nil
		}

		if index < 0 || index >= val.Len() {
			return nil // Index out of bounds
		}

		elementVal := val.Index(index)
		if !elementVal.CanInterface() {
			return nil
		}

		return elementVal.Interface()
	}

	return nil
}

// min returns the minimum of two integers
func min(a, b int) int {
	if a < b {
		return a
	}
	return b
}
