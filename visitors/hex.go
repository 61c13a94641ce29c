package visitors

import (
	"encoding/hex"
	"errors"
	"fmt"

	"github.com/t14raptor/go-fast/ast"
	"github.com/t14raptor/go-fast/parser"

	"github.com/glizzykingdreko/Incapsula-utmvc-Deobfuscator/utils"
)

var ErrNoHexPayload = errors.New("no hex encoded payload found")

// ExtractHexPayload parses the wrapper script and returns the program hidden
// in its hex string, e.g. var z = ""; var b = "7661722061..."; eval(...).
// The payload is the first declaration in source order whose first
// initializer is not the empty string, and the wrapper must call eval.
func ExtractHexPayload(src string) (*ast.Program, error) {
	wrapper, err := parser.ParseFile(src)
	if err != nil {
		return nil, fmt.Errorf("parse wrapper: %w", err)
	}

	f := &hexPayloadFinder{}
	f.V = f
	wrapper.VisitWith(f)
	if !f.done || f.payload == nil || !f.evals {
		return nil, ErrNoHexPayload
	}

	prog, err := parser.ParseFile(utils.BinaryString(f.payload))
	if err != nil {
		return nil, fmt.Errorf("parse extracted payload: %w", err)
	}
	return prog, nil
}

// hexPayloadFinder visits statements in source order. It stops looking for
// the payload at the first declaration that is not initialized to "", but
// keeps scanning for an eval call.
type hexPayloadFinder struct {
	ast.NoopVisitor
	done    bool
	payload []byte
	evals   bool
}

func (v *hexPayloadFinder) VisitStatement(n *ast.Statement) {
	if decl, ok := n.Stmt.(*ast.VariableDeclaration); ok && !v.done {
		v.candidate(decl)
	}
	n.VisitChildrenWith(v)
}

func (v *hexPayloadFinder) VisitExpression(n *ast.Expression) {
	if v.evals {
		return
	}
	if call, ok := n.Expr.(*ast.CallExpression); ok {
		if name, ok := identName(call.Callee); ok && name == "eval" {
			v.evals = true
			return
		}
	}
	n.VisitChildrenWith(v)
}

func (v *hexPayloadFinder) candidate(decl *ast.VariableDeclaration) {
	if len(decl.List) == 0 {
		return
	}
	init := decl.List[0].Initializer
	if init != nil {
		if str, ok := init.Expr.(*ast.StringLiteral); ok && str.Value == "" {
			return
		}
	}
	v.done = true

	if init == nil {
		return
	}
	str, ok := init.Expr.(*ast.StringLiteral)
	if !ok {
		return
	}
	decoded, err := hex.DecodeString(str.Value)
	if err != nil {
		return
	}
	v.payload = decoded
}
