package visitors

import (
	"github.com/t14raptor/go-fast/ast"
)

// NormalizeStringLiterals drops the recorded source form of every string
// literal whose decoded value differs from it ('\x61\x62' becomes 'ab'), so
// the generator prints the plain value. It returns the number of rewritten literals.
func NormalizeStringLiterals(p *ast.Program) int {
	n := &literalNormalizer{}
	n.V = n
	p.VisitWith(n)
	return n.matches
}

type literalNormalizer struct {
	ast.NoopVisitor
	matches int
}

func (v *literalNormalizer) VisitExpression(n *ast.Expression) {
	n.VisitChildrenWith(v)

	lit, ok := n.Expr.(*ast.StringLiteral)
	if !ok || lit.Raw == nil {
		return
	}
	raw := *lit.Raw
	if len(raw) >= 2 && (raw[0] == '"' || raw[0] == '\'') && raw[len(raw)-1] == raw[0] {
		raw = raw[1 : len(raw)-1]
	}
	if raw == lit.Value {
		return
	}
	n.Expr = &ast.StringLiteral{Value: lit.Value}
	v.matches++
}
