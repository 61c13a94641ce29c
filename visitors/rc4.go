package visitors

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/t14raptor/go-fast/ast"
	"github.com/t14raptor/go-fast/generator"
	"github.com/t14raptor/go-fast/parser"
	"go.uber.org/zap"

	"github.com/glizzykingdreko/Incapsula-utmvc-Deobfuscator/sandbox"
)

var ErrTripleMismatch = errors.New("decryption arrays, shufflers and encoders do not line up")

// initializedMarker is the cache flag every RC4 encoder sets on itself:
// encoder["initialized"] = !![].
const initializedMarker = "initialized"

// DecryptionArray is a top-level var whose initializer is an array of string literals.
type DecryptionArray struct {
	Index    int
	Name     string
	Literals []string
}

// Shuffle is the rotation applied to a decryption array by a call(array, n) statement.
type Shuffle struct {
	Index  int
	Array  string
	Amount float64
}

// Encoder is the function that decrypts entries of a decryption array. Array
// is the first decryption array its body refers to, empty if none was seen.
type Encoder struct {
	Index int
	Name  string
	Array string
}

// Triple is one decryption array bound to its shuffle and encoder.
type Triple struct {
	Array   DecryptionArray
	Shuffle Shuffle
	Encoder Encoder
}

// DeobfuscateStringTables resolves every encoder call that can be evaluated to
// a string literal. The sandbox built for the tables is left in ctx, which the
// virtualization stage later clones. It returns the number of replaced call sites.
func DeobfuscateStringTables(p *ast.Program, ctx *sandbox.Context, logger *zap.Logger) (int, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	snapshot := generator.Generate(p)
	arrays := FindDecryptionArrays(p)
	shuffles := FindShufflers(p, arrays)
	encoders := FindEncoders(p, arrays)

	triples, err := BindTriples(arrays, shuffles, encoders)
	if err != nil {
		// put the recognized declarations back
		if restored, perr := parser.ParseFile(snapshot); perr == nil {
			*p = *restored
		}
		return 0, err
	}
	if len(triples) == 0 {
		return 0, nil
	}

	if err := BuildSandbox(ctx, triples); err != nil {
		return 0, err
	}

	r := &rc4Resolver{
		ctx:      ctx,
		logger:   logger,
		encoders: make(map[string]struct{}, len(triples)),
		cases:    make(map[*ast.Statement][]ast.Statement),
	}
	for _, t := range triples {
		r.encoders[t.Encoder.Name] = struct{}{}
	}
	r.V = r
	p.VisitWith(r)

	if r.failures > 0 {
		logger.Info("unresolved encoder calls", zap.Int("count", r.failures))
	}
	return r.matches, nil
}

// FindDecryptionArrays captures and removes top-level string arrays.
func FindDecryptionArrays(p *ast.Program) []DecryptionArray {
	var arrays []DecryptionArray
	body := p.Body[:0]
	for _, stmt := range p.Body {
		if arr, ok := decryptionArray(&stmt); ok {
			arr.Index = len(arrays)
			arrays = append(arrays, arr)
			continue
		}
		body = append(body, stmt)
	}
	p.Body = body
	return arrays
}

func decryptionArray(stmt *ast.Statement) (DecryptionArray, bool) {
	decl, ok := stmt.Stmt.(*ast.VariableDeclaration)
	if !ok || len(decl.List) != 1 || decl.List[0].Initializer == nil {
		return DecryptionArray{}, false
	}
	name, ok := declaratorName(&decl.List[0])
	if !ok {
		return DecryptionArray{}, false
	}
	lit, ok := decl.List[0].Initializer.Expr.(*ast.ArrayLiteral)
	if !ok || len(lit.Value) == 0 {
		return DecryptionArray{}, false
	}

	literals := make([]string, 0, len(lit.Value))
	for i := range lit.Value {
		str, ok := lit.Value[i].Expr.(*ast.StringLiteral)
		if !ok {
			return DecryptionArray{}, false
		}
		literals = append(literals, str.Value)
	}
	return DecryptionArray{Name: name, Literals: literals}, true
}

// FindShufflers captures and removes top-level call(array, n) statements that
// reference one of arrays.
func FindShufflers(p *ast.Program, arrays []DecryptionArray) []Shuffle {
	known := make(map[string]struct{}, len(arrays))
	for _, a := range arrays {
		known[a.Name] = struct{}{}
	}

	var shuffles []Shuffle
	body := p.Body[:0]
	for _, stmt := range p.Body {
		if s, ok := shuffleCall(&stmt, known); ok {
			s.Index = len(shuffles)
			shuffles = append(shuffles, s)
			continue
		}
		body = append(body, stmt)
	}
	p.Body = body
	return shuffles
}

func shuffleCall(stmt *ast.Statement, known map[string]struct{}) (Shuffle, bool) {
	es, ok := stmt.Stmt.(*ast.ExpressionStatement)
	if !ok || es.Expression == nil {
		return Shuffle{}, false
	}
	call, ok := es.Expression.Expr.(*ast.CallExpression)
	if !ok || len(call.ArgumentList) != 2 {
		return Shuffle{}, false
	}
	name, ok := identName(&call.ArgumentList[0])
	if !ok {
		return Shuffle{}, false
	}
	if _, ok := known[name]; !ok {
		return Shuffle{}, false
	}
	num, ok := call.ArgumentList[1].Expr.(*ast.NumberLiteral)
	if !ok {
		return Shuffle{}, false
	}
	return Shuffle{Array: name, Amount: num.Value}, true
}

// FindEncoders captures and removes every named function binding whose own
// body sets the initialized marker.
func FindEncoders(p *ast.Program, arrays []DecryptionArray) []Encoder {
	known := make(map[string]struct{}, len(arrays))
	for _, a := range arrays {
		known[a.Name] = struct{}{}
	}

	var encoders []Encoder
	rewriteStatementLists(p, func(list []ast.Statement) []ast.Statement {
		out := list[:0]
		for _, stmt := range list {
			name, fn := namedFunction(&stmt)
			if fn == nil || fn.Body == nil || !setsInitializedMarker(fn.Body) {
				out = append(out, stmt)
				continue
			}
			encoders = append(encoders, Encoder{
				Index: len(encoders),
				Name:  name,
				Array: firstReference(fn.Body, known),
			})
		}
		return out
	})
	return encoders
}

// namedFunction returns the binding name and literal of function name(){} and
// var name = function(){}.
func namedFunction(stmt *ast.Statement) (string, *ast.FunctionLiteral) {
	switch s := stmt.Stmt.(type) {
	case *ast.FunctionDeclaration:
		if s.Function != nil && s.Function.Name != nil {
			return s.Function.Name.Name, s.Function
		}
	case *ast.VariableDeclaration:
		if len(s.List) != 1 || s.List[0].Initializer == nil {
			return "", nil
		}
		fn, ok := s.List[0].Initializer.Expr.(*ast.FunctionLiteral)
		if !ok {
			return "", nil
		}
		if name, ok := declaratorName(&s.List[0]); ok {
			return name, fn
		}
	}
	return "", nil
}

// markerFinder looks for x["initialized"] = !![] without entering nested
// function literals, so the marker is attributed to its nearest enclosing function.
type markerFinder struct {
	ast.NoopVisitor
	found bool
}

func setsInitializedMarker(body *ast.BlockStatement) bool {
	f := &markerFinder{}
	f.V = f
	body.VisitWith(f)
	return f.found
}

func (v *markerFinder) VisitExpression(n *ast.Expression) {
	if v.found {
		return
	}
	if _, ok := n.Expr.(*ast.FunctionLiteral); ok {
		return
	}
	n.VisitChildrenWith(v)

	assign, ok := n.Expr.(*ast.AssignExpression)
	if !ok || assign.Operator.String() != "=" {
		return
	}
	member, ok := assign.Left.Expr.(*ast.MemberExpression)
	if !ok {
		return
	}
	if name, ok := memberPropName(member.Property); ok && name == initializedMarker && isTrueSentinel(assign.Right) {
		v.found = true
	}
}

type referenceFinder struct {
	ast.NoopVisitor
	known map[string]struct{}
	first string
}

func firstReference(body *ast.BlockStatement, known map[string]struct{}) string {
	f := &referenceFinder{known: known}
	f.V = f
	body.VisitWith(f)
	return f.first
}

func (v *referenceFinder) VisitExpression(n *ast.Expression) {
	if v.first != "" {
		return
	}
	if name, ok := identName(n); ok {
		if _, ok := v.known[name]; ok {
			v.first = name
			return
		}
	}
	n.VisitChildrenWith(v)
}

// BindTriples pairs arrays, shuffles and encoders by discovery order and
// checks that the pairing is consistent.
func BindTriples(arrays []DecryptionArray, shuffles []Shuffle, encoders []Encoder) ([]Triple, error) {
	if len(arrays) != len(shuffles) || len(arrays) != len(encoders) {
		return nil, fmt.Errorf("%w: %d arrays, %d shuffles, %d encoders",
			ErrTripleMismatch, len(arrays), len(shuffles), len(encoders))
	}

	triples := make([]Triple, len(arrays))
	for i := range arrays {
		if shuffles[i].Array != arrays[i].Name {
			return nil, fmt.Errorf("%w: shuffle %d rotates %s, expected %s",
				ErrTripleMismatch, i, shuffles[i].Array, arrays[i].Name)
		}
		if encoders[i].Array != "" && encoders[i].Array != arrays[i].Name {
			return nil, fmt.Errorf("%w: encoder %s reads %s, expected %s",
				ErrTripleMismatch, encoders[i].Name, encoders[i].Array, arrays[i].Name)
		}
		triples[i] = Triple{Array: arrays[i], Shuffle: shuffles[i], Encoder: encoders[i]}
	}
	return triples, nil
}

// BuildSandbox commits every triple to ctx in order: the array, the wrapper
// that decrypts from it, then the rotation.
func BuildSandbox(ctx *sandbox.Context, triples []Triple) error {
	for _, t := range triples {
		code, err := sandboxCode(t)
		if err != nil {
			return err
		}
		if _, err := ctx.Run(code); err != nil {
			return fmt.Errorf("define encoder %s: %w", t.Encoder.Name, err)
		}
	}
	return nil
}

func sandboxCode(t Triple) (string, error) {
	literals, err := json.Marshal(t.Array.Literals)
	if err != nil {
		return "", err
	}

	var b strings.Builder
	fmt.Fprintf(&b, "var %s = %s;\n", t.Array.Name, literals)
	fmt.Fprintf(&b, "var %s = function (index, key) { return rc4Decrypt(%s[index - 0x0], key); };\n",
		t.Encoder.Name, t.Array.Name)
	fmt.Fprintf(&b, "shuffleArray(%s, %s);\n", t.Array.Name, strconv.FormatFloat(t.Shuffle.Amount, 'f', -1, 64))
	return b.String(), nil
}

type rc4Resolver struct {
	ast.NoopVisitor
	ctx      *sandbox.Context
	logger   *zap.Logger
	encoders map[string]struct{}

	// stmts is the chain of statements enclosing the node being visited;
	// cases maps each statement of a switch arm to the arm's statement list.
	stmts []*ast.Statement
	cases map[*ast.Statement][]ast.Statement

	matches  int
	failures int
}

func (v *rc4Resolver) VisitStatement(n *ast.Statement) {
	if sw, ok := n.Stmt.(*ast.SwitchStatement); ok {
		for i := range sw.Body {
			for j := range sw.Body[i].Consequent {
				v.cases[&sw.Body[i].Consequent[j]] = sw.Body[i].Consequent
			}
		}
	}

	v.stmts = append(v.stmts, n)
	n.VisitChildrenWith(v)
	v.stmts = v.stmts[:len(v.stmts)-1]

	if _, ok := n.Stmt.(*ast.VariableDeclaration); ok {
		// Helper values used by later encoder calls; most declarations
		// reference locals and fail here, which is expected.
		if _, err := v.ctx.Run(generateStatement(n)); err != nil {
			v.logger.Debug("declaration not evaluated", zap.Error(err))
		}
	}
}

func (v *rc4Resolver) VisitExpression(n *ast.Expression) {
	n.VisitChildrenWith(v)

	call, ok := n.Expr.(*ast.CallExpression)
	if !ok {
		return
	}
	name, ok := identName(call.Callee)
	if !ok {
		return
	}
	if _, ok := v.encoders[name]; !ok {
		return
	}

	code := generateExpression(n)
	val, err := v.ctx.EvalString(code)
	if err != nil {
		val, err = v.resolveInCase(code, err)
	}
	if err != nil {
		v.failures++
		v.logger.Debug("encoder call not resolved", zap.String("call", code), zap.Error(err))
		return
	}

	n.Expr = &ast.StringLiteral{Value: val}
	v.matches++
}

// resolveInCase retries a failed evaluation inside a clone of the primary
// context after replaying the enclosing switch arm up to its last two statements.
func (v *rc4Resolver) resolveInCase(code string, cause error) (string, error) {
	if len(v.stmts) == 0 {
		return "", cause
	}
	arm, ok := v.cases[v.stmts[len(v.stmts)-1]]
	if !ok {
		return "", cause
	}

	derived := v.ctx.Clone()
	if prefix := len(arm) - 2; prefix > 0 {
		if _, err := derived.Run(generateStatements(arm[:prefix])); err != nil {
			v.logger.Debug("switch arm replay failed", zap.Error(err))
		}
	}
	return derived.EvalString(code)
}
