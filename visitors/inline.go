package visitors

import (
	"errors"
	"fmt"
	"unicode/utf8"

	"github.com/iancoleman/orderedmap"
	"github.com/t14raptor/go-fast/ast"
	"go.uber.org/zap"
)

const (
	DefaultInlineKeyLength = 3
	MaxInlineDepth         = 64
)

var (
	ErrCyclicTable     = errors.New("inline table expansion revisits an entry")
	ErrUnsupportedCall = errors.New("inline table entry is not a single-return function")
)

// InlineTable is an object literal of fixed-length string keys, captured with
// its entries in declaration order (key -> *ast.Expression).
type InlineTable struct {
	Name    string
	Entries *orderedmap.OrderedMap
}

func (t *InlineTable) entry(key string) (*ast.Expression, bool) {
	v, ok := t.Entries.Get(key)
	if !ok {
		return nil, false
	}
	e, ok := v.(*ast.Expression)
	return e, ok
}

// InlineFunctionTables expands every table["key"](args) call into the body of
// the stored function with its parameters bound to args, and substitutes
// literal entries at table["key"] accesses. It returns the number of expanded call sites.
func InlineFunctionTables(p *ast.Program, keyLen int, logger *zap.Logger) int {
	if logger == nil {
		logger = zap.NewNop()
	}
	if keyLen <= 0 {
		keyLen = DefaultInlineKeyLength
	}

	tables := ExtractInlineTables(p, keyLen)
	if len(tables) == 0 {
		return 0
	}

	x := &inlineExpander{
		tables: tables,
		chain:  make(map[string]struct{}),
		logger: logger,
	}
	x.V = x
	p.VisitWith(x)
	return x.matches
}

// ExtractInlineTables captures and removes the declarators of inline tables.
func ExtractInlineTables(p *ast.Program, keyLen int) map[string]*InlineTable {
	tables := make(map[string]*InlineTable)
	rewriteStatementLists(p, func(list []ast.Statement) []ast.Statement {
		out := list[:0]
		for _, stmt := range list {
			decl, ok := stmt.Stmt.(*ast.VariableDeclaration)
			if !ok {
				out = append(out, stmt)
				continue
			}
			kept := decl.List[:0]
			for i := range decl.List {
				if t, ok := inlineTable(&decl.List[i], keyLen); ok {
					tables[t.Name] = t
					continue
				}
				kept = append(kept, decl.List[i])
			}
			decl.List = kept
			if len(decl.List) > 0 {
				out = append(out, stmt)
			}
		}
		return out
	})
	return tables
}

func inlineTable(d *ast.VariableDeclarator, keyLen int) (*InlineTable, bool) {
	name, ok := declaratorName(d)
	if !ok || d.Initializer == nil {
		return nil, false
	}
	obj, ok := d.Initializer.Expr.(*ast.ObjectLiteral)
	if !ok || len(obj.Value) == 0 {
		return nil, false
	}

	entries := orderedmap.New()
	for _, prop := range obj.Value {
		keyed, ok := prop.Prop.(*ast.PropertyKeyed)
		if !ok || keyed.Key == nil || keyed.Value == nil {
			return nil, false
		}
		key, ok := keyed.Key.Expr.(*ast.StringLiteral)
		if !ok || utf8.RuneCountInString(key.Value) != keyLen {
			return nil, false
		}
		entries.Set(key.Value, keyed.Value.Clone())
	}
	return &InlineTable{Name: name, Entries: entries}, true
}

type inlineExpander struct {
	ast.NoopVisitor
	tables map[string]*InlineTable
	logger *zap.Logger

	// chain holds the table.key entries currently being expanded; nestedErr
	// is the first failure below the entry on top of it.
	chain     map[string]struct{}
	nestedErr error
	matches   int

	// targets are expressions written to, which keep their member form.
	targets map[*ast.Expression]struct{}
}

func (v *inlineExpander) VisitExpression(n *ast.Expression) {
	switch e := n.Expr.(type) {
	case *ast.AssignExpression:
		v.markTarget(e.Left)
	case *ast.UnaryExpression:
		if op := e.Operator.String(); op == "++" || op == "--" {
			v.markTarget(e.Operand)
		}
	}
	n.VisitChildrenWith(v)

	switch e := n.Expr.(type) {
	case *ast.CallExpression:
		table, key, ok := v.lookup(e.Callee)
		if !ok {
			return
		}
		expanded, err := v.expand(table, key, e.ArgumentList)
		if err != nil {
			if len(v.chain) > 0 {
				if v.nestedErr == nil {
					v.nestedErr = err
				}
				return
			}
			v.logger.Debug("inline call not expanded",
				zap.String("table", table.Name), zap.String("key", key), zap.Error(err))
			return
		}
		n.Expr = expanded.Expr
		if len(v.chain) == 0 {
			v.matches++
		}
	case *ast.MemberExpression:
		if _, written := v.targets[n]; written {
			return
		}
		table, key, ok := v.lookup(n)
		if !ok {
			return
		}
		entry, _ := table.entry(key)
		if _, isFn := entry.Expr.(*ast.FunctionLiteral); isFn {
			return
		}
		n.Expr = entry.Clone().Expr
	}
}

func (v *inlineExpander) markTarget(e *ast.Expression) {
	if e == nil {
		return
	}
	if v.targets == nil {
		v.targets = make(map[*ast.Expression]struct{})
	}
	v.targets[e] = struct{}{}
}

// lookup resolves table["key"] to a captured table entry.
func (v *inlineExpander) lookup(e *ast.Expression) (*InlineTable, string, bool) {
	if e == nil {
		return nil, "", false
	}
	member, ok := e.Expr.(*ast.MemberExpression)
	if !ok {
		return nil, "", false
	}
	name, ok := identName(member.Object)
	if !ok {
		return nil, "", false
	}
	table, ok := v.tables[name]
	if !ok {
		return nil, "", false
	}
	key, ok := memberPropName(member.Property)
	if !ok {
		return nil, "", false
	}
	if _, ok := table.entry(key); !ok {
		return nil, "", false
	}
	return table, key, true
}

// expand returns the return expression of table[key] with nested table
// calls expanded and parameters replaced by args.
func (v *inlineExpander) expand(table *InlineTable, key string, args []ast.Expression) (*ast.Expression, error) {
	id := table.Name + "." + key
	if _, seen := v.chain[id]; seen {
		return nil, fmt.Errorf("%w: %s", ErrCyclicTable, id)
	}
	if len(v.chain) >= MaxInlineDepth {
		return nil, fmt.Errorf("%w: depth %d at %s", ErrCyclicTable, len(v.chain), id)
	}

	entry, _ := table.entry(key)
	tmpl := entry.Clone()
	fn, ok := tmpl.Expr.(*ast.FunctionLiteral)
	if !ok || fn.Body == nil || len(fn.Body.List) == 0 {
		return nil, ErrUnsupportedCall
	}
	ret, ok := fn.Body.List[len(fn.Body.List)-1].Stmt.(*ast.ReturnStatement)
	if !ok || ret.Argument == nil {
		return nil, ErrUnsupportedCall
	}
	params, ok := paramNames(fn)
	if !ok {
		return nil, ErrUnsupportedCall
	}

	outer := v.nestedErr
	v.nestedErr = nil
	v.chain[id] = struct{}{}
	fn.Body.VisitWith(v)
	delete(v.chain, id)
	nested := v.nestedErr
	v.nestedErr = outer
	if nested != nil {
		return nil, fmt.Errorf("expand %s: %w", id, nested)
	}

	bindings := make(map[string]*ast.Expression, len(params))
	for i, name := range params {
		if i < len(args) {
			bindings[name] = &args[i]
		} else {
			bindings[name] = &ast.Expression{Expr: &ast.Identifier{Name: "undefined"}}
		}
	}

	s := &paramSubstituter{bindings: bindings}
	s.V = s
	s.VisitExpression(ret.Argument)
	return ret.Argument, nil
}

// paramSubstituter replaces parameter identifiers with copies of the bound
// argument. Replacements are not revisited.
type paramSubstituter struct {
	ast.NoopVisitor
	bindings map[string]*ast.Expression
}

func (v *paramSubstituter) VisitExpression(n *ast.Expression) {
	n.VisitChildrenWith(v)

	name, ok := identName(n)
	if !ok {
		return
	}
	if arg, ok := v.bindings[name]; ok {
		n.Expr = arg.Clone().Expr
	}
}
