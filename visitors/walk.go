package visitors

import (
	"strings"

	"github.com/t14raptor/go-fast/ast"
	"github.com/t14raptor/go-fast/generator"
)

// listRewriter hands every statement list of the tree to fn, innermost lists
// first, and stores whatever fn returns in place of the list. A list is only
// replaced after its children have been visited.
type listRewriter struct {
	ast.NoopVisitor
	fn func([]ast.Statement) []ast.Statement
}

func rewriteStatementLists(p *ast.Program, fn func([]ast.Statement) []ast.Statement) {
	r := &listRewriter{fn: fn}
	r.V = r
	p.VisitWith(r)
	p.Body = fn(p.Body)
}

func (v *listRewriter) VisitStatement(n *ast.Statement) {
	n.VisitChildrenWith(v)

	switch s := n.Stmt.(type) {
	case *ast.BlockStatement:
		s.List = v.fn(s.List)
	case *ast.SwitchStatement:
		for i := range s.Body {
			s.Body[i].Consequent = v.fn(s.Body[i].Consequent)
		}
	case *ast.FunctionDeclaration:
		if s.Function != nil && s.Function.Body != nil {
			s.Function.Body.List = v.fn(s.Function.Body.List)
		}
	case *ast.TryStatement:
		if s.Body != nil {
			s.Body.List = v.fn(s.Body.List)
		}
		if s.Catch != nil && s.Catch.Body != nil {
			s.Catch.Body.List = v.fn(s.Catch.Body.List)
		}
		if s.Finally != nil {
			s.Finally.List = v.fn(s.Finally.List)
		}
	}
}

func (v *listRewriter) VisitExpression(n *ast.Expression) {
	n.VisitChildrenWith(v)

	if fn, ok := n.Expr.(*ast.FunctionLiteral); ok && fn.Body != nil {
		fn.Body.List = v.fn(fn.Body.List)
	}
}

// generateStatement prints a single statement.
func generateStatement(s *ast.Statement) string {
	return strings.TrimSpace(generator.Generate(&ast.Program{Body: []ast.Statement{*s}}))
}

// generateStatements prints a statement list, one statement per line.
func generateStatements(list []ast.Statement) string {
	return strings.TrimSpace(generator.Generate(&ast.Program{Body: list}))
}

// generateExpression prints e as an expression statement.
func generateExpression(e *ast.Expression) string {
	return generateStatement(&ast.Statement{Stmt: &ast.ExpressionStatement{Expression: e}})
}

func identName(e *ast.Expression) (string, bool) {
	if e == nil || e.Expr == nil {
		return "", false
	}
	id, ok := e.Expr.(*ast.Identifier)
	if !ok {
		return "", false
	}
	return id.Name, true
}

func declaratorName(d *ast.VariableDeclarator) (string, bool) {
	if d == nil || d.Target == nil || d.Target.Target == nil {
		return "", false
	}
	id, ok := d.Target.Target.(*ast.Identifier)
	if !ok {
		return "", false
	}
	return id.Name, true
}

// paramNames lists the parameter identifiers of fn; the second result is false
// when a parameter is a pattern.
func paramNames(fn *ast.FunctionLiteral) ([]string, bool) {
	names := make([]string, 0, len(fn.ParameterList.List))
	for i := range fn.ParameterList.List {
		name, ok := declaratorName(&fn.ParameterList.List[i])
		if !ok {
			return nil, false
		}
		names = append(names, name)
	}
	return names, true
}

func isTrueSentinel(e *ast.Expression) bool {
	if e == nil || e.Expr == nil {
		return false
	}
	switch x := e.Expr.(type) {
	case *ast.BooleanLiteral:
		return x.Value
	case *ast.UnaryExpression:
		if x.Operator.String() != "!" || x.Operand == nil {
			return false
		}
		inner, ok := x.Operand.Expr.(*ast.UnaryExpression)
		if !ok || inner.Operator.String() != "!" || inner.Operand == nil {
			return false
		}
		arr, ok := inner.Operand.Expr.(*ast.ArrayLiteral)
		return ok && len(arr.Value) == 0
	}
	return false
}

func memberPropName(mp *ast.MemberProperty) (string, bool) {
	if mp == nil || mp.Prop == nil {
		return "", false
	}
	switch p := mp.Prop.(type) {
	case *ast.Identifier:
		return p.Name, true
	case *ast.ComputedProperty:
		if p.Expr == nil {
			return "", false
		}
		if key, ok := p.Expr.Expr.(*ast.StringLiteral); ok {
			return key.Value, true
		}
		return "", false
	default:
		return "", false
	}
}
