package visitors

import (
	"crypto/rc4"
	"encoding/base64"
	"strings"
	"testing"

	"github.com/t14raptor/go-fast/ast"
	"github.com/t14raptor/go-fast/generator"
	"github.com/t14raptor/go-fast/parser"
)

func parse(t *testing.T, src string) *ast.Program {
	t.Helper()
	p, err := parser.ParseFile(src)
	if err != nil {
		t.Fatalf("parse %q: %v", src, err)
	}
	return p
}

// rawStripper drops the source form of string literals so both sides of a
// comparison are printed from their values.
type rawStripper struct {
	ast.NoopVisitor
}

func (v *rawStripper) VisitExpression(n *ast.Expression) {
	n.VisitChildrenWith(v)
	if lit, ok := n.Expr.(*ast.StringLiteral); ok {
		lit.Raw = nil
	}
}

func render(p *ast.Program) string {
	s := &rawStripper{}
	s.V = s
	p.VisitWith(s)
	return strings.TrimSpace(generator.Generate(p))
}

func assertProgram(t *testing.T, got *ast.Program, want string) {
	t.Helper()
	g, w := render(got), render(parse(t, want))
	if g != w {
		t.Errorf("program mismatch\n--- got\n%s\n--- want\n%s", g, w)
	}
}

// encryptASCII produces the encoder payload of an ASCII plaintext.
func encryptASCII(t *testing.T, plain, key string) string {
	t.Helper()
	c, err := rc4.NewCipher([]byte(key))
	if err != nil {
		t.Fatalf("rc4: %v", err)
	}
	stream := make([]byte, len(plain))
	c.XORKeyStream(stream, []byte(plain))

	var sb strings.Builder
	for _, b := range stream {
		sb.WriteRune(rune(b))
	}
	return base64.StdEncoding.EncodeToString([]byte(sb.String()))
}
