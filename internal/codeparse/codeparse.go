// Package codeparse wraps tree-sitter for the Python and Java sources the
// analysis tools inspect.
package codeparse

import (
	"context"
	"fmt"
	"strings"

	sitter "github.com/smacker/go-tree-sitter"
	"github.com/smacker/go-tree-sitter/java"
	"github.com/smacker/go-tree-sitter/python"

	"devguard/internal/utils"
)

// Kinds of declarations reported by Declarations
const (
	KindFunction    = "function"
	KindClass       = "class"
	KindConstructor = "constructor"
)

// Import is one import statement
type Import struct {
	Module   string // dotted path as written
	Relative bool   // python "from . import x"
	Static   bool   // java "import static"
	Wildcard bool   // java "import a.b.*"
	Line     int
}

// Declaration is a function/method or class definition
type Declaration struct {
	Kind       string
	Name       string
	Line       int
	EndLine    int
	Params     int
	Documented bool
	Public     bool
	Method     bool
}

// Comment is a source comment with its line
type Comment struct {
	Text string
	Line int
}

// File is a parsed source file. Close releases the tree.
type File struct {
	Language string
	Source   []byte
	tree     *sitter.Tree
}

// Parse parses src according to the language implied by path. A new parser is
// created per call since tree-sitter parsers are not safe for concurrent use.
func Parse(ctx context.Context, path string, src []byte) (*File, error) {
	lang := utils.Language(path)
	parser := sitter.NewParser()
	defer parser.Close()

	switch lang {
	case utils.LangPython:
		parser.SetLanguage(python.GetLanguage())
	case utils.LangJava:
		parser.SetLanguage(java.GetLanguage())
	default:
		return nil, fmt.Errorf("no parser for %s", path)
	}

	tree, err := parser.ParseCtx(ctx, nil, src)
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	return &File{Language: lang, Source: src, tree: tree}, nil
}

// Close releases the syntax tree
func (f *File) Close() {
	if f.tree != nil {
		f.tree.Close()
		f.tree = nil
	}
}

// Root returns the root node
func (f *File) Root() *sitter.Node {
	return f.tree.RootNode()
}

func (f *File) text(n *sitter.Node) string {
	return n.Content(f.Source)
}

func line(n *sitter.Node) int {
	return int(n.StartPoint().Row) + 1
}

// walk visits every named node depth first; returning false skips children
func walk(n *sitter.Node, visit func(*sitter.Node) bool) {
	if n == nil || !visit(n) {
		return
	}
	for i := 0; i < int(n.NamedChildCount()); i++ {
		walk(n.NamedChild(i), visit)
	}
}

// Imports returns the file's import statements in source order
func (f *File) Imports() []Import {
	var out []Import
	walk(f.Root(), func(n *sitter.Node) bool {
		switch n.Type() {
		case "import_statement":
			for i := 0; i < int(n.NamedChildCount()); i++ {
				c := n.NamedChild(i)
				switch c.Type() {
				case "dotted_name":
					out = append(out, Import{Module: f.text(c), Line: line(n)})
				case "aliased_import":
					if name := c.ChildByFieldName("name"); name != nil {
						out = append(out, Import{Module: f.text(name), Line: line(n)})
					}
				}
			}
			return false
		case "import_from_statement":
			mod := n.ChildByFieldName("module_name")
			if mod == nil {
				return false
			}
			imp := Import{Module: f.text(mod), Line: line(n)}
			if mod.Type() == "relative_import" {
				imp.Relative = true
				imp.Module = strings.TrimLeft(imp.Module, ".")
			}
			out = append(out, imp)
			return false
		case "import_declaration":
			imp := Import{Line: line(n)}
			for i := 0; i < int(n.ChildCount()); i++ {
				c := n.Child(i)
				switch c.Type() {
				case "static":
					imp.Static = true
				case "asterisk":
					imp.Wildcard = true
				case "scoped_identifier", "identifier":
					imp.Module = f.text(c)
				}
			}
			if imp.Module != "" {
				out = append(out, imp)
			}
			return false
		}
		return true
	})
	return out
}

// Declarations returns functions, methods and classes in source order
func (f *File) Declarations() []Declaration {
	var out []Declaration
	if f.Language == utils.LangPython {
		f.pythonDecls(f.Root(), false, &out)
	} else {
		f.javaDecls(f.Root(), &out)
	}
	return out
}

func (f *File) pythonDecls(n *sitter.Node, inClass bool, out *[]Declaration) {
	for i := 0; i < int(n.NamedChildCount()); i++ {
		child := n.NamedChild(i)
		switch child.Type() {
		case "decorated_definition":
			if def := child.ChildByFieldName("definition"); def != nil {
				f.pythonDecl(def, inClass, out)
			}
		case "function_definition", "class_definition":
			f.pythonDecl(child, inClass, out)
		default:
			f.pythonDecls(child, inClass, out)
		}
	}
}

func (f *File) pythonDecl(n *sitter.Node, inClass bool, out *[]Declaration) {
	nameNode := n.ChildByFieldName("name")
	if nameNode == nil {
		return
	}
	name := f.text(nameNode)
	body := n.ChildByFieldName("body")
	d := Declaration{
		Name:       name,
		Line:       line(n),
		EndLine:    int(n.EndPoint().Row) + 1,
		Documented: pythonDocstring(body),
		Public:     !strings.HasPrefix(name, "_"),
	}

	if n.Type() == "class_definition" {
		d.Kind = KindClass
		*out = append(*out, d)
		if body != nil {
			f.pythonDecls(body, true, out)
		}
		return
	}

	d.Kind = KindFunction
	d.Method = inClass
	if params := n.ChildByFieldName("parameters"); params != nil {
		for i := 0; i < int(params.NamedChildCount()); i++ {
			p := params.NamedChild(i)
			name := f.text(p)
			if t := p.Type(); t == "identifier" || t == "typed_parameter" || t == "default_parameter" || t == "typed_default_parameter" {
				if inClass && i == 0 && (strings.HasPrefix(name, "self") || strings.HasPrefix(name, "cls")) {
					continue
				}
				d.Params++
			}
		}
	}
	*out = append(*out, d)
	// nested functions are checked as well
	if body != nil {
		f.pythonDecls(body, false, out)
	}
}

func pythonDocstring(body *sitter.Node) bool {
	if body == nil || body.NamedChildCount() == 0 {
		return false
	}
	first := body.NamedChild(0)
	if first.Type() != "expression_statement" || first.NamedChildCount() == 0 {
		return false
	}
	return first.NamedChild(0).Type() == "string"
}

func (f *File) javaDecls(root *sitter.Node, out *[]Declaration) {
	walk(root, func(n *sitter.Node) bool {
		switch n.Type() {
		case "class_declaration", "interface_declaration", "enum_declaration":
			if name := n.ChildByFieldName("name"); name != nil {
				*out = append(*out, Declaration{
					Kind:       KindClass,
					Name:       f.text(name),
					Line:       line(n),
					EndLine:    int(n.EndPoint().Row) + 1,
					Documented: f.javadoc(n),
					Public:     f.javaPublic(n),
				})
			}
		case "method_declaration", "constructor_declaration":
			name := n.ChildByFieldName("name")
			if name == nil {
				return true
			}
			d := Declaration{
				Kind:       KindFunction,
				Name:       f.text(name),
				Line:       line(n),
				EndLine:    int(n.EndPoint().Row) + 1,
				Documented: f.javadoc(n),
				Public:     f.javaPublic(n),
				Method:     true,
			}
			if n.Type() == "constructor_declaration" {
				d.Kind = KindConstructor
			}
			if params := n.ChildByFieldName("parameters"); params != nil {
				for i := 0; i < int(params.NamedChildCount()); i++ {
					if t := params.NamedChild(i).Type(); t == "formal_parameter" || t == "spread_parameter" {
						d.Params++
					}
				}
			}
			*out = append(*out, d)
		}
		return true
	})
}

func (f *File) javaPublic(n *sitter.Node) bool {
	for i := 0; i < int(n.NamedChildCount()); i++ {
		c := n.NamedChild(i)
		if c.Type() == "modifiers" {
			return strings.Contains(f.text(c), "public")
		}
	}
	return false
}

// javadoc reports whether the previous sibling is a /** block comment, looking
// through annotations parsed as part of the modifiers.
func (f *File) javadoc(n *sitter.Node) bool {
	prev := n.PrevNamedSibling()
	return prev != nil && prev.Type() == "block_comment" && strings.HasPrefix(f.text(prev), "/**")
}

// Comments returns every comment node
func (f *File) Comments() []Comment {
	var out []Comment
	walk(f.Root(), func(n *sitter.Node) bool {
		switch n.Type() {
		case "comment", "line_comment", "block_comment":
			out = append(out, Comment{Text: f.text(n), Line: line(n)})
		}
		return true
	})
	return out
}

// Find returns nodes of the given types in source order
func (f *File) Find(types ...string) []*sitter.Node {
	want := make(map[string]bool, len(types))
	for _, t := range types {
		want[t] = true
	}
	var out []*sitter.Node
	walk(f.Root(), func(n *sitter.Node) bool {
		if want[n.Type()] {
			out = append(out, n)
		}
		return true
	})
	return out
}

// Text returns the source text of n
func (f *File) Text(n *sitter.Node) string {
	return f.text(n)
}

// Line returns the 1-based start line of n
func Line(n *sitter.Node) int {
	return line(n)
}
