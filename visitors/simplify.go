package visitors

import (
	"errors"
	"math"
	"strconv"
	"strings"
	"unicode/utf16"

	"github.com/t14raptor/go-fast/ast"
)

// undefinedValue marks the JS undefined value during evaluation.
type undefinedValue struct{}

// SimplifyBinaryExpressions replaces every binary expression whose operands
// are statically known with the literal it evaluates to. It returns the number
// of folded expressions.
func SimplifyBinaryExpressions(p *ast.Program) int {
	f := &binaryFolder{}
	f.V = f
	p.VisitWith(f)
	return f.matches
}

type binaryFolder struct {
	ast.NoopVisitor
	matches int
}

func (v *binaryFolder) VisitExpression(n *ast.Expression) {
	n.VisitChildrenWith(v)

	if _, ok := n.Expr.(*ast.BinaryExpression); !ok {
		return
	}
	val, confident := evaluate(n)
	if !confident {
		return
	}
	n.Expr = valueToNode(val)
	v.matches++
}

// evaluate is a conservative constant evaluator. The second result is false
// whenever the value depends on anything but literals.
func evaluate(e *ast.Expression) (any, bool) {
	if e == nil || e.Expr == nil {
		return nil, false
	}

	switch x := e.Expr.(type) {
	case *ast.NumberLiteral:
		return x.Value, true
	case *ast.StringLiteral:
		return x.Value, true
	case *ast.BooleanLiteral:
		return x.Value, true
	case *ast.Identifier:
		if x.Name == "undefined" {
			return undefinedValue{}, true
		}
		return nil, false
	case *ast.ArrayLiteral:
		elems := make([]any, 0, len(x.Value))
		for i := range x.Value {
			el, ok := evaluate(&x.Value[i])
			if !ok {
				return nil, false
			}
			elems = append(elems, el)
		}
		return elems, true
	case *ast.UnaryExpression:
		operand, ok := evaluate(x.Operand)
		if !ok {
			return nil, false
		}
		return foldUnary(x.Operator.String(), operand)
	case *ast.BinaryExpression:
		left, ok := evaluate(x.Left)
		if !ok {
			return nil, false
		}
		right, ok := evaluate(x.Right)
		if !ok {
			return nil, false
		}
		val, ok := foldBinary(x.Operator.String(), left, right)
		if !ok {
			return nil, false
		}
		if f, isNum := val.(float64); isNum && (math.IsNaN(f) || math.IsInf(f, 0)) {
			return nil, false
		}
		return val, true
	}
	return nil, false
}

func foldUnary(op string, v any) (any, bool) {
	switch op {
	case "!":
		return !toBoolean(v), true
	case "-":
		return -toNumber(v), true
	case "+":
		return toNumber(v), true
	case "~":
		return float64(^toInt32(v)), true
	case "typeof":
		return typeOf(v), true
	case "void":
		return undefinedValue{}, true
	}
	return nil, false
}

func foldBinary(op string, l, r any) (any, bool) {
	switch op {
	case "+":
		lp, rp := toPrimitive(l), toPrimitive(r)
		_, ls := lp.(string)
		_, rs := rp.(string)
		if ls || rs {
			return toString(lp) + toString(rp), true
		}
		return toNumber(lp) + toNumber(rp), true
	case "-":
		return toNumber(l) - toNumber(r), true
	case "*":
		return toNumber(l) * toNumber(r), true
	case "/":
		return toNumber(l) / toNumber(r), true
	case "%":
		return math.Mod(toNumber(l), toNumber(r)), true
	case "**":
		return math.Pow(toNumber(l), toNumber(r)), true
	case "&":
		return float64(toInt32(l) & toInt32(r)), true
	case "|":
		return float64(toInt32(l) | toInt32(r)), true
	case "^":
		return float64(toInt32(l) ^ toInt32(r)), true
	case "<<":
		return float64(toInt32(l) << (toUint32(r) & 31)), true
	case ">>":
		return float64(toInt32(l) >> (toUint32(r) & 31)), true
	case ">>>":
		return float64(toUint32(l) >> (toUint32(r) & 31)), true
	case "===":
		return strictEquals(l, r), true
	case "!==":
		return !strictEquals(l, r), true
	case "==":
		return looseEquals(l, r)
	case "!=":
		eq, ok := looseEquals(l, r)
		if !ok {
			return nil, false
		}
		return !eq.(bool), true
	case "<", ">", "<=", ">=":
		return compare(op, toPrimitive(l), toPrimitive(r))
	}
	return nil, false
}

func compare(op string, l, r any) (any, bool) {
	ls, lok := l.(string)
	rs, rok := r.(string)
	if lok && rok {
		c := compareUTF16(ls, rs)
		switch op {
		case "<":
			return c < 0, true
		case ">":
			return c > 0, true
		case "<=":
			return c <= 0, true
		default:
			return c >= 0, true
		}
	}

	a, b := toNumber(l), toNumber(r)
	if math.IsNaN(a) || math.IsNaN(b) {
		return false, true
	}
	switch op {
	case "<":
		return a < b, true
	case ">":
		return a > b, true
	case "<=":
		return a <= b, true
	default:
		return a >= b, true
	}
}

func compareUTF16(a, b string) int {
	ua, ub := utf16.Encode([]rune(a)), utf16.Encode([]rune(b))
	for i := 0; i < len(ua) && i < len(ub); i++ {
		if ua[i] != ub[i] {
			if ua[i] < ub[i] {
				return -1
			}
			return 1
		}
	}
	return len(ua) - len(ub)
}

func strictEquals(l, r any) bool {
	switch a := l.(type) {
	case float64:
		b, ok := r.(float64)
		return ok && a == b
	case string:
		b, ok := r.(string)
		return ok && a == b
	case bool:
		b, ok := r.(bool)
		return ok && a == b
	case undefinedValue:
		_, ok := r.(undefinedValue)
		return ok
	}
	// arrays are compared by identity, and two literals are never the same object
	return false
}

func looseEquals(l, r any) (any, bool) {
	_, la := l.([]any)
	_, ra := r.([]any)
	if la && ra {
		return false, true
	}
	_, lu := l.(undefinedValue)
	_, ru := r.(undefinedValue)
	if lu || ru {
		return lu && ru, true
	}
	if la {
		l = toPrimitive(l)
	}
	if ra {
		r = toPrimitive(r)
	}

	switch l.(type) {
	case string:
		if rs, ok := r.(string); ok {
			return l.(string) == rs, true
		}
	case bool:
		if rb, ok := r.(bool); ok {
			return l.(bool) == rb, true
		}
	}
	return toNumber(l) == toNumber(r), true
}

func toPrimitive(v any) any {
	if arr, ok := v.([]any); ok {
		return toString(arr)
	}
	return v
}

func toBoolean(v any) bool {
	switch x := v.(type) {
	case bool:
		return x
	case float64:
		return x != 0 && !math.IsNaN(x)
	case string:
		return x != ""
	case undefinedValue:
		return false
	}
	return true
}

func toNumber(v any) float64 {
	switch x := v.(type) {
	case float64:
		return x
	case bool:
		if x {
			return 1
		}
		return 0
	case string:
		return stringToNumber(x)
	case []any:
		return stringToNumber(toString(x))
	}
	return math.NaN()
}

func stringToNumber(s string) float64 {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0
	}
	if len(s) > 2 && s[0] == '0' {
		switch s[1] {
		case 'x', 'X':
			return parseRadix(s[2:], 16)
		case 'o', 'O':
			return parseRadix(s[2:], 8)
		case 'b', 'B':
			return parseRadix(s[2:], 2)
		}
	}
	switch s {
	case "Infinity", "+Infinity":
		return math.Inf(1)
	case "-Infinity":
		return math.Inf(-1)
	}
	if strings.Trim(s, "0123456789+-.eE") != "" {
		return math.NaN()
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		// out of range exponents saturate to 0 or Infinity, as in JS
		if errors.Is(err, strconv.ErrRange) {
			return f
		}
		return math.NaN()
	}
	return f
}

// parseRadix reads unsigned digits of base without overflowing, so long hex
// strings keep their approximate magnitude.
func parseRadix(digits string, base int) float64 {
	if digits == "" {
		return math.NaN()
	}
	var f float64
	for _, r := range digits {
		d, err := strconv.ParseUint(string(r), base, 8)
		if err != nil {
			return math.NaN()
		}
		f = f*float64(base) + float64(d)
	}
	return f
}

func toInt32(v any) int32 {
	return int32(toUint32(v))
}

func toUint32(v any) uint32 {
	f := toNumber(v)
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0
	}
	f = math.Trunc(f)
	m := math.Mod(f, 4294967296)
	if m < 0 {
		m += 4294967296
	}
	return uint32(m)
}

func toString(v any) string {
	switch x := v.(type) {
	case string:
		return x
	case float64:
		return numberToString(x)
	case bool:
		return strconv.FormatBool(x)
	case undefinedValue:
		return "undefined"
	case []any:
		parts := make([]string, len(x))
		for i, el := range x {
			if _, ok := el.(undefinedValue); ok {
				continue
			}
			parts[i] = toString(el)
		}
		return strings.Join(parts, ",")
	}
	return ""
}

// numberToString follows Number.prototype.toString for finite values.
func numberToString(f float64) string {
	switch {
	case math.IsNaN(f):
		return "NaN"
	case math.IsInf(f, 1):
		return "Infinity"
	case math.IsInf(f, -1):
		return "-Infinity"
	case f == 0:
		return "0"
	}
	abs := math.Abs(f)
	if abs >= 1e21 || abs < 1e-6 {
		s := strconv.FormatFloat(f, 'e', -1, 64)
		// Go pads the exponent to two digits, JS does not
		mant, exp, _ := strings.Cut(s, "e")
		sign := exp[:1]
		exp = strings.TrimLeft(exp[1:], "0")
		return mant + "e" + sign + exp
	}
	return strconv.FormatFloat(f, 'f', -1, 64)
}

func typeOf(v any) string {
	switch v.(type) {
	case float64:
		return "number"
	case string:
		return "string"
	case bool:
		return "boolean"
	case undefinedValue:
		return "undefined"
	}
	return "object"
}

// valueToNode converts an evaluated value back to a literal.
func valueToNode(v any) ast.Expr {
	switch x := v.(type) {
	case float64:
		return &ast.NumberLiteral{Value: x}
	case string:
		return &ast.StringLiteral{Value: x}
	case bool:
		return &ast.BooleanLiteral{Value: x}
	case []any:
		elems := make([]ast.Expression, len(x))
		for i, el := range x {
			elems[i] = ast.Expression{Expr: valueToNode(el)}
		}
		return &ast.ArrayLiteral{Value: elems}
	}
	return &ast.Identifier{Name: "undefined"}
}
