package visitors

import (
	"strconv"
	"strings"

	"github.com/t14raptor/go-fast/ast"
)

// ReorderSwitchCases flattens dispatch loops of the form
//
//	var order = "2|0|1"["split"]("|"), i = 0;
//	while (!![]) { switch (order[i++]) { case "0": ...; continue; ... } break; }
//
// into the arm bodies in order. It returns the number of rewritten loops.
func ReorderSwitchCases(p *ast.Program) int {
	matches := 0
	rewriteStatementLists(p, func(list []ast.Statement) []ast.Statement {
		out := make([]ast.Statement, 0, len(list))
		for i := 0; i < len(list); i++ {
			if i+1 < len(list) {
				if flat, ok := flattenDispatch(&list[i], &list[i+1]); ok {
					out = append(out, flat...)
					matches++
					i++
					continue
				}
			}
			out = append(out, list[i])
		}
		return out
	})
	return matches
}

// flattenDispatch returns the reordered statements for an order declaration
// followed by its dispatch loop.
func flattenDispatch(orderStmt, loopStmt *ast.Statement) ([]ast.Statement, bool) {
	loop, ok := loopStmt.Stmt.(*ast.WhileStatement)
	if !ok || !isTrueSentinel(loop.Test) {
		return nil, false
	}
	order, ok := dispatchOrder(orderStmt)
	if !ok {
		return nil, false
	}
	sw, ok := dispatchSwitch(loop)
	if !ok {
		return nil, false
	}

	arms, ok := dispatchArms(sw)
	if !ok {
		return nil, false
	}

	var flat []ast.Statement
	for _, idx := range order {
		arm, ok := arms[idx]
		if !ok {
			return nil, false
		}
		flat = append(flat, arm...)
	}
	return flat, true
}

// dispatchOrder parses the "a|b|c" string of var order = "a|b|c"["split"]("|").
func dispatchOrder(stmt *ast.Statement) ([]int, bool) {
	decl, ok := stmt.Stmt.(*ast.VariableDeclaration)
	if !ok || len(decl.List) == 0 || decl.List[0].Initializer == nil {
		return nil, false
	}
	call, ok := decl.List[0].Initializer.Expr.(*ast.CallExpression)
	if !ok {
		return nil, false
	}
	member, ok := call.Callee.Expr.(*ast.MemberExpression)
	if !ok {
		return nil, false
	}
	if name, ok := memberPropName(member.Property); !ok || name != "split" {
		return nil, false
	}
	str, ok := member.Object.Expr.(*ast.StringLiteral)
	if !ok {
		return nil, false
	}

	parts := strings.Split(str.Value, "|")
	order := make([]int, 0, len(parts))
	for _, part := range parts {
		n, err := strconv.Atoi(part)
		if err != nil {
			return nil, false
		}
		order = append(order, n)
	}
	return order, true
}

func dispatchSwitch(loop *ast.WhileStatement) (*ast.SwitchStatement, bool) {
	if loop.Body == nil {
		return nil, false
	}
	block, ok := loop.Body.Stmt.(*ast.BlockStatement)
	if !ok || len(block.List) == 0 {
		return nil, false
	}
	sw, ok := block.List[0].Stmt.(*ast.SwitchStatement)
	return sw, ok
}

// dispatchArms maps each arm's dispatch value to its statements without the
// trailing continue. Arms are keyed by their case test when every case has a
// literal test, by position otherwise.
func dispatchArms(sw *ast.SwitchStatement) (map[int][]ast.Statement, bool) {
	if len(sw.Body) == 0 {
		return nil, false
	}

	arms := make(map[int][]ast.Statement, len(sw.Body))
	byTest := true
	for i := range sw.Body {
		if _, ok := caseValue(sw.Body[i].Test); !ok {
			byTest = false
			break
		}
	}

	for i := range sw.Body {
		cons := sw.Body[i].Consequent
		if len(cons) == 0 {
			return nil, false
		}
		key := i
		if byTest {
			key, _ = caseValue(sw.Body[i].Test)
		}
		if _, dup := arms[key]; dup {
			return nil, false
		}
		arms[key] = cons[:len(cons)-1]
	}
	return arms, true
}

func caseValue(test *ast.Expression) (int, bool) {
	if test == nil || test.Expr == nil {
		return 0, false
	}
	switch t := test.Expr.(type) {
	case *ast.StringLiteral:
		n, err := strconv.Atoi(t.Value)
		return n, err == nil
	case *ast.NumberLiteral:
		if t.Value != float64(int(t.Value)) {
			return 0, false
		}
		return int(t.Value), true
	}
	return 0, false
}
