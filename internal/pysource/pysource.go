// Package pysource inspects Python source with tree-sitter.
package pysource

import (
	"context"
	"fmt"
	"strings"

	sitter "github.com/smacker/go-tree-sitter"
	"github.com/smacker/go-tree-sitter/python"

	"github.com/starford/scenecorpus/internal/normalize"
)

// Class is a class definition found anywhere in a module.
type Class struct {
	Name  string
	Bases []string
	// StartLine and EndLine are 1-based and inclusive.
	StartLine int
	EndLine   int
	// SelfCalls holds method names invoked as self.<name>(...) inside the class.
	SelfCalls []string
}

// Lines returns the number of physical lines the class spans.
func (c Class) Lines() int {
	return c.EndLine - c.StartLine + 1
}

// Module is the result of inspecting one source file.
type Module struct {
	Classes []Class
	// SyntaxError is set when tree-sitter produced ERROR or MISSING nodes,
	// when the source uses Python 2 only syntax, or when a dedent does not
	// return to an enclosing indentation level.
	SyntaxError bool
	// ErrorLine is the 1-based line of the first error, when known.
	ErrorLine int

	// literals holds the byte spans of string literals and comments.
	literals []span
}

type span struct{ start, end int }

// InLiteral reports whether the byte offset off lies inside a string literal
// or a comment.
func (m *Module) InLiteral(off int) bool {
	for _, sp := range m.literals {
		if off >= sp.start && off < sp.end {
			return true
		}
	}
	return false
}

// Inspect parses src and collects class definitions.
//
// The tree-sitter grammar still accepts some Python 2 statements and does not
// check dedent columns, so both are checked here to match what CPython 3
// refuses to compile.
func Inspect(ctx context.Context, src string) (*Module, error) {
	parser := sitter.NewParser()
	defer parser.Close()
	parser.SetLanguage(python.GetLanguage())

	data := []byte(src)
	tree, err := parser.ParseCtx(ctx, nil, data)
	if err != nil {
		return nil, fmt.Errorf("pysource: parse: %w", err)
	}
	defer tree.Close()

	root := tree.RootNode()
	m := &Module{SyntaxError: root.HasError()}
	if m.SyntaxError {
		m.ErrorLine = firstErrorLine(root)
	}
	legacyLine := 0
	walk(root, func(n *sitter.Node) {
		switch n.Type() {
		case "class_definition":
			m.Classes = append(m.Classes, classOf(n, data))
		case "string", "comment":
			m.literals = append(m.literals, span{int(n.StartByte()), int(n.EndByte())})
		}
		if legacyLine == 0 && legacy(n, data) {
			legacyLine = int(n.StartPoint().Row) + 1
		}
	})
	if !m.SyntaxError && legacyLine > 0 {
		m.SyntaxError, m.ErrorLine = true, legacyLine
	}
	if !m.SyntaxError {
		if line := normalize.BadDedent(src); line > 0 {
			m.SyntaxError, m.ErrorLine = true, line
		}
	}
	return m, nil
}

// legacy reports whether n is Python 2 only syntax: print and exec
// statements, the <> operator and backtick repr. print(...) and exec(...)
// stay valid calls.
func legacy(n *sitter.Node, src []byte) bool {
	switch n.Type() {
	case "print_statement", "exec_statement":
		kw := strings.TrimSuffix(n.Type(), "_statement")
		rest := strings.TrimSpace(strings.TrimPrefix(n.Content(src), kw))
		return !strings.HasPrefix(rest, "(")
	case "<>", "`":
		return !n.IsNamed()
	}
	return false
}

func classOf(n *sitter.Node, src []byte) Class {
	c := Class{
		StartLine: int(n.StartPoint().Row) + 1,
		EndLine:   int(n.EndPoint().Row) + 1,
	}
	if name := n.ChildByFieldName("name"); name != nil {
		c.Name = name.Content(src)
	}
	if args := n.ChildByFieldName("superclasses"); args != nil {
		for i := 0; i < int(args.NamedChildCount()); i++ {
			if base := baseName(args.NamedChild(i), src); base != "" {
				c.Bases = append(c.Bases, base)
			}
		}
	}
	if body := n.ChildByFieldName("body"); body != nil {
		seen := map[string]bool{}
		walk(body, func(k *sitter.Node) {
			if k.Type() != "call" {
				return
			}
			name, ok := selfMethod(k.ChildByFieldName("function"), src)
			if ok && !seen[name] {
				seen[name] = true
				c.SelfCalls = append(c.SelfCalls, name)
			}
		})
	}
	return c
}

// baseName returns the trailing identifier of a superclass expression, so
// manim.Scene yields Scene. Keyword arguments such as metaclass= are skipped.
func baseName(n *sitter.Node, src []byte) string {
	switch n.Type() {
	case "identifier":
		return n.Content(src)
	case "attribute":
		if attr := n.ChildByFieldName("attribute"); attr != nil {
			return attr.Content(src)
		}
	}
	return ""
}

func selfMethod(fn *sitter.Node, src []byte) (string, bool) {
	if fn == nil || fn.Type() != "attribute" {
		return "", false
	}
	obj := fn.ChildByFieldName("object")
	attr := fn.ChildByFieldName("attribute")
	if obj == nil || attr == nil || obj.Type() != "identifier" || obj.Content(src) != "self" {
		return "", false
	}
	return attr.Content(src), true
}

func firstErrorLine(root *sitter.Node) int {
	line := 0
	walk(root, func(n *sitter.Node) {
		if line == 0 && (n.IsError() || n.IsMissing()) {
			line = int(n.StartPoint().Row) + 1
		}
	})
	return line
}

func walk(n *sitter.Node, fn func(*sitter.Node)) {
	fn(n)
	for i := 0; i < int(n.ChildCount()); i++ {
		walk(n.Child(i), fn)
	}
}
