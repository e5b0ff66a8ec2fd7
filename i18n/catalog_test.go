package i18n

import (
	"fmt"
	"go/ast"
	"go/parser"
	"go/token"
	"strconv"
)

// message is one translatable string found in Go source.
type message struct {
	ID     string
	Plural string
	// Locations are "file:line" references.
	Locations []string
}

// keywords maps the wrapper functions to the 1-based positions of their
// msgid and plural arguments.
var keywords = map[string][2]int{
	"T": {1, 0},
	"N": {1, 2},
}

// scanSource parses the given Go files and returns every T() and N() call
// whose arguments are string literals, deduplicated by msgid in order of
// first appearance.
func scanSource(files ...string) ([]message, error) {
	fset := token.NewFileSet()
	byID := make(map[string]*message)
	var order []string

	for _, path := range files {
		f, err := parser.ParseFile(fset, path, nil, 0)
		if err != nil {
			return nil, err
		}
		ast.Inspect(f, func(n ast.Node) bool {
			call, ok := n.(*ast.CallExpr)
			if !ok {
				return true
			}
			var name string
			switch fn := call.Fun.(type) {
			case *ast.Ident:
				name = fn.Name
			case *ast.SelectorExpr:
				if pkg, ok := fn.X.(*ast.Ident); !ok || pkg.Name != "i18n" {
					return true
				}
				name = fn.Sel.Name
			default:
				return true
			}
			kw, ok := keywords[name]
			if !ok {
				return true
			}

			id := stringArgAt(call, kw[0])
			if id == "" {
				return true
			}
			var plural string
			if kw[1] > 0 {
				if plural = stringArgAt(call, kw[1]); plural == "" {
					return true
				}
			}

			loc := fmt.Sprintf("%s:%d", path, fset.Position(call.Lparen).Line)
			if m, ok := byID[id]; ok {
				m.Locations = append(m.Locations, loc)
				if m.Plural == "" {
					m.Plural = plural
				}
				return true
			}
			byID[id] = &message{ID: id, Plural: plural, Locations: []string{loc}}
			order = append(order, id)
			return true
		})
	}

	msgs := make([]message, 0, len(order))
	for _, id := range order {
		msgs = append(msgs, *byID[id])
	}
	return msgs, nil
}

// stringArgAt returns the string literal at 1-based position pos, or ""
// when the argument is missing or not a constant string.
func stringArgAt(call *ast.CallExpr, pos int) string {
	idx := pos - 1
	if idx < 0 || idx >= len(call.Args) {
		return ""
	}
	return stringFromExpr(call.Args[idx])
}

// stringFromExpr handles literals and "a" + "b" concatenation.
func stringFromExpr(expr ast.Expr) string {
	switch e := expr.(type) {
	case *ast.BasicLit:
		if e.Kind == token.STRING {
			s, err := strconv.Unquote(e.Value)
			if err != nil {
				return ""
			}
			return s
		}
	case *ast.BinaryExpr:
		if e.Op == token.ADD {
			left, right := stringFromExpr(e.X), stringFromExpr(e.Y)
			if left != "" && right != "" {
				return left + right
			}
		}
	}
	return ""
}

// untranslated returns the messages the loaded catalog has no entry for.
func untranslated(msgs []message) []message {
	var out []message
	for _, m := range msgs {
		if m.Plural != "" {
			if N(m.ID, m.Plural, 1) == m.ID {
				out = append(out, m)
			}
			continue
		}
		if T(m.ID) == m.ID {
			out = append(out, m)
		}
	}
	return out
}
