package visitors

import (
	"errors"
	"fmt"

	"github.com/t14raptor/go-fast/ast"
	"github.com/t14raptor/go-fast/parser"
	"go.uber.org/zap"

	"github.com/glizzykingdreko/Incapsula-utmvc-Deobfuscator/sandbox"
)

const (
	RoutineName   = "utmvcEncryption"
	CookieParam   = "cookie"
	CookieTag     = "___utmvc"
	charSumHelper = "charCodeAtArray"
)

var (
	ErrNoEncryptionRoutine = errors.New("encryption routine not found")
	ErrRoutineShape        = errors.New("encryption routine has an unexpected shape")
)

const charSumSource = `function charCodeAtArray(str) {
	var sum = 0;
	for (var i = 0; i < str["length"]; i++) {
		sum += str["charCodeAt"](i);
	}
	return sum;
}
`

// VirtualizeEncryption finds the function that computes the ___utmvc cookie,
// rewrites a copy of it into utmvcEncryption(input, cookie) and defines it in
// a clone of ctx. p itself is not modified.
func VirtualizeEncryption(p *ast.Program, ctx *sandbox.Context, logger *zap.Logger) (*sandbox.Context, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	f := &routineFinder{}
	f.V = f
	p.VisitWith(f)
	if f.found == nil {
		return nil, ErrNoEncryptionRoutine
	}
	logger.Info("virtualizing encryption function", zap.String("name", f.found.Function.Name.Name))

	copied, err := parser.ParseFile(generateStatement(&ast.Statement{Stmt: f.found}))
	if err != nil {
		return nil, fmt.Errorf("reparse routine: %w", err)
	}
	if len(copied.Body) != 1 {
		return nil, ErrRoutineShape
	}
	decl, ok := copied.Body[0].Stmt.(*ast.FunctionDeclaration)
	if !ok || !isEncryptionRoutine(decl) {
		return nil, ErrRoutineShape
	}

	if err := rewriteRoutine(decl.Function, logger); err != nil {
		return nil, err
	}

	code := charSumSource + generateStatement(&copied.Body[0])
	derived := ctx.Clone()
	if _, err := derived.Run(code); err != nil {
		return nil, fmt.Errorf("define %s: %w", RoutineName, err)
	}
	return derived, nil
}

type routineFinder struct {
	ast.NoopVisitor
	found *ast.FunctionDeclaration
}

func (v *routineFinder) VisitStatement(n *ast.Statement) {
	if v.found != nil {
		return
	}
	if decl, ok := n.Stmt.(*ast.FunctionDeclaration); ok && isEncryptionRoutine(decl) {
		v.found = decl
		return
	}
	n.VisitChildrenWith(v)
}

// isEncryptionRoutine matches function f(x) { ...; set("___utmvc", value); }.
func isEncryptionRoutine(decl *ast.FunctionDeclaration) bool {
	fn := decl.Function
	if fn == nil || fn.Name == nil || fn.Body == nil || len(fn.Body.List) == 0 {
		return false
	}
	if len(fn.ParameterList.List) != 1 {
		return false
	}
	call, ok := trailingCall(fn)
	if !ok || len(call.ArgumentList) == 0 {
		return false
	}
	tag, ok := call.ArgumentList[0].Expr.(*ast.StringLiteral)
	return ok && tag.Value == CookieTag
}

func trailingCall(fn *ast.FunctionLiteral) (*ast.CallExpression, bool) {
	last, ok := fn.Body.List[len(fn.Body.List)-1].Stmt.(*ast.ExpressionStatement)
	if !ok || last.Expression == nil {
		return nil, false
	}
	call, ok := last.Expression.Expr.(*ast.CallExpression)
	return call, ok
}

// rewriteRoutine turns the matched function into a standalone routine.
func rewriteRoutine(fn *ast.FunctionLiteral, logger *zap.Logger) error {
	call, _ := trailingCall(fn)
	if len(call.ArgumentList) < 2 {
		return fmt.Errorf("%w: trailing call has no value argument", ErrRoutineShape)
	}
	result, ok := identName(&call.ArgumentList[1])
	if !ok {
		return fmt.Errorf("%w: trailing call value is not an identifier", ErrRoutineShape)
	}

	fn.Name.Name = RoutineName

	// the cookie read becomes a parameter
	if !replaceCookieRead(fn) {
		return fmt.Errorf("%w: no variable initialized by a call", ErrRoutineShape)
	}
	fn.ParameterList.List = append(fn.ParameterList.List, ast.VariableDeclarator{
		Target: &ast.BindingTarget{Target: &ast.Identifier{Name: CookieParam}},
	})

	fn.Body.List = dropNoiseCalls(fn.Body.List)

	if !redirectLoopCall(fn.Body.List) {
		return fmt.Errorf("%w: no loop accumulating a call result", ErrRoutineShape)
	}
	if !unwrapLeadingCall(fn.Body.List) {
		logger.Debug("no wrapped call to unwrap in first assignment")
	}
	if !plainArrayConstructor(fn.Body.List) {
		logger.Debug("no namespaced Array constructor found")
	}

	fn.Body.List[len(fn.Body.List)-1] = ast.Statement{Stmt: &ast.ReturnStatement{
		Argument: &ast.Expression{Expr: &ast.Identifier{Name: result}},
	}}
	return nil
}

// replaceCookieRead swaps the initializer of the first var x = call() for the cookie parameter.
func replaceCookieRead(fn *ast.FunctionLiteral) bool {
	for i := range fn.Body.List {
		decl, ok := fn.Body.List[i].Stmt.(*ast.VariableDeclaration)
		if !ok || len(decl.List) == 0 || decl.List[0].Initializer == nil {
			continue
		}
		if _, ok := decl.List[0].Initializer.Expr.(*ast.CallExpression); !ok {
			continue
		}
		decl.List[0].Initializer = &ast.Expression{Expr: &ast.Identifier{Name: CookieParam}}
		return true
	}
	return false
}

// dropNoiseCalls removes statements of the form f(); whose callee is a plain identifier.
func dropNoiseCalls(list []ast.Statement) []ast.Statement {
	out := list[:0]
	for _, stmt := range list {
		if es, ok := stmt.Stmt.(*ast.ExpressionStatement); ok && es.Expression != nil {
			if call, ok := es.Expression.Expr.(*ast.CallExpression); ok && len(call.ArgumentList) == 0 {
				if _, plain := call.Callee.Expr.(*ast.Identifier); plain {
					continue
				}
			}
		}
		out = append(out, stmt)
	}
	return out
}

// redirectLoopCall points the call in the first statement of the first for
// loop (acc = f(x)) at the char code summing helper.
func redirectLoopCall(list []ast.Statement) bool {
	for i := range list {
		loop, ok := list[i].Stmt.(*ast.ForStatement)
		if !ok {
			continue
		}
		if loop.Body == nil {
			return false
		}
		block, ok := loop.Body.Stmt.(*ast.BlockStatement)
		if !ok || len(block.List) == 0 {
			return false
		}
		es, ok := block.List[0].Stmt.(*ast.ExpressionStatement)
		if !ok || es.Expression == nil {
			return false
		}
		assign, ok := es.Expression.Expr.(*ast.AssignExpression)
		if !ok {
			return false
		}
		call, ok := assign.Right.Expr.(*ast.CallExpression)
		if !ok {
			return false
		}
		call.Callee = &ast.Expression{Expr: &ast.Identifier{Name: charSumHelper}}
		return true
	}
	return false
}

// unwrapLeadingCall finds the first top-level x = g(a + b + ...) and replaces
// the leftmost call of its first argument with that call's argument.
func unwrapLeadingCall(list []ast.Statement) bool {
	for i := range list {
		es, ok := list[i].Stmt.(*ast.ExpressionStatement)
		if !ok || es.Expression == nil {
			continue
		}
		assign, ok := es.Expression.Expr.(*ast.AssignExpression)
		if !ok {
			continue
		}
		call, ok := assign.Right.Expr.(*ast.CallExpression)
		if !ok {
			continue
		}
		if len(call.ArgumentList) == 0 {
			return false
		}

		target := &call.ArgumentList[0]
		for {
			bin, ok := target.Expr.(*ast.BinaryExpression)
			if !ok {
				break
			}
			target = bin.Left
		}
		inner, ok := target.Expr.(*ast.CallExpression)
		if !ok || target == &call.ArgumentList[0] {
			return false
		}
		switch len(inner.ArgumentList) {
		case 0:
			return false
		case 1:
			target.Expr = inner.ArgumentList[0].Expr
		default:
			target.Expr = &ast.SequenceExpression{Sequence: inner.ArgumentList}
		}
		return true
	}
	return false
}

// plainArrayConstructor rewrites var x = new ns["Array"](n) to new Array(n).
func plainArrayConstructor(list []ast.Statement) bool {
	for i := range list {
		decl, ok := list[i].Stmt.(*ast.VariableDeclaration)
		if !ok || len(decl.List) != 1 || decl.List[0].Initializer == nil {
			continue
		}
		ne, ok := decl.List[0].Initializer.Expr.(*ast.NewExpression)
		if !ok {
			continue
		}
		member, ok := ne.Callee.Expr.(*ast.MemberExpression)
		if !ok {
			continue
		}
		if name, ok := memberPropName(member.Property); !ok || name != "Array" {
			continue
		}
		ne.Callee = &ast.Expression{Expr: &ast.Identifier{Name: "Array"}}
		return true
	}
	return false
}
