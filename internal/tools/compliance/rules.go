package compliance

import (
	"bytes"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"regexp"

	sitter "github.com/smacker/go-tree-sitter"

	"devguard/internal/codeparse"
	"devguard/internal/utils"
)

// Rule ids
const (
	RuleFunctionName  = "G001"
	RuleClassName     = "G002"
	RuleDocstring     = "G003"
	RuleFunctionLen   = "G004"
	RuleParamCount    = "G005"
	RuleBareExcept    = "G006"
	RulePrint         = "G007"
	RuleTodoTicket    = "G008"
	RuleXMLWellFormed = "G009"
)

var (
	snakeCase  = regexp.MustCompile(`^_{0,2}[a-z][a-z0-9_]*$`)
	dunder     = regexp.MustCompile(`^__[a-z0-9_]+__$`)
	camelCase  = regexp.MustCompile(`^[a-z][a-zA-Z0-9]*$`)
	pascalCase = regexp.MustCompile(`^_?[A-Z][a-zA-Z0-9]*$`)
	todoWord   = regexp.MustCompile(`\b(TODO|FIXME)\b`)
)

// Violation is one broken guideline
type Violation struct {
	ID      string `json:"id"`
	File    string `json:"file"`
	Line    int    `json:"line"`
	Message string `json:"message"`
}

type fileResult struct {
	violations []Violation
	functions  int
}

// checkSource applies the declaration, statement and comment rules to a parsed file
func (c *Checker) checkSource(path string, f *codeparse.File) fileResult {
	var res fileResult
	g := c.Guidelines
	add := func(id string, line int, format string, args ...interface{}) {
		if g.enabled(id) {
			res.violations = append(res.violations, Violation{ID: id, File: path, Line: line, Message: fmt.Sprintf(format, args...)})
		}
	}

	python := f.Language == utils.LangPython
	for _, d := range f.Declarations() {
		switch d.Kind {
		case codeparse.KindClass:
			if !pascalCase.MatchString(d.Name) {
				add(RuleClassName, d.Line, "Class name '%s' should be PascalCase", d.Name)
			}
		case codeparse.KindFunction, codeparse.KindConstructor:
			res.functions++
			if d.Kind == codeparse.KindFunction {
				if python && !snakeCase.MatchString(d.Name) && !dunder.MatchString(d.Name) {
					add(RuleFunctionName, d.Line, "Function name '%s' should be snake_case", d.Name)
				}
				if !python && !camelCase.MatchString(d.Name) {
					add(RuleFunctionName, d.Line, "Method name '%s' should be camelCase", d.Name)
				}
				if d.Public && !d.Documented && !dunder.MatchString(d.Name) {
					if python {
						add(RuleDocstring, d.Line, "Public function '%s' is missing a docstring", d.Name)
					} else {
						add(RuleDocstring, d.Line, "Public method '%s' is missing a Javadoc comment", d.Name)
					}
				}
			}
			if n := d.EndLine - d.Line + 1; n > g.MaxFunctionLines {
				add(RuleFunctionLen, d.Line, "Function '%s' is %d lines long (max %d)", d.Name, n, g.MaxFunctionLines)
			}
			if d.Params > g.MaxParameters {
				add(RuleParamCount, d.Line, "Function '%s' takes %d parameters (max %d)", d.Name, d.Params, g.MaxParameters)
			}
		}
	}

	if python {
		for _, n := range f.Find("except_clause") {
			if bareExcept(n) {
				add(RuleBareExcept, codeparse.Line(n), "Bare 'except:' clause; catch a specific exception")
			}
		}
	} else {
		for _, n := range f.Find("catch_clause") {
			if body := n.ChildByFieldName("body"); body != nil && body.NamedChildCount() == 0 {
				add(RuleBareExcept, codeparse.Line(n), "Empty catch block swallows the exception")
			}
		}
	}

	if !g.printAllowed(filepath.Base(path)) && !hasEntryPoint(f) {
		if python {
			for _, n := range f.Find("call") {
				if fn := n.ChildByFieldName("function"); fn != nil && f.Text(fn) == "print" {
					add(RulePrint, codeparse.Line(n), "Use logging instead of print()")
				}
			}
		} else {
			for _, n := range f.Find("method_invocation") {
				obj := n.ChildByFieldName("object")
				if obj != nil && (f.Text(obj) == "System.out" || f.Text(obj) == "System.err") {
					add(RulePrint, codeparse.Line(n), "Use a logger instead of %s", f.Text(obj))
				}
			}
		}
	}

	for _, cm := range f.Comments() {
		if todoWord.MatchString(cm.Text) && !g.ticketRe.MatchString(cm.Text) {
			add(RuleTodoTicket, cm.Line, "%s comment must reference a ticket, e.g. TODO(DEV-123)", todoWord.FindString(cm.Text))
		}
	}
	return res
}

// bareExcept reports an except clause with nothing between "except" and ":"
func bareExcept(n *sitter.Node) bool {
	for i := 0; i < int(n.NamedChildCount()); i++ {
		if t := n.NamedChild(i).Type(); t != "block" && t != "comment" {
			return false
		}
	}
	return true
}

// hasEntryPoint reports scripts: a python __main__ guard or a java main method
func hasEntryPoint(f *codeparse.File) bool {
	if f.Language == utils.LangPython {
		return bytes.Contains(f.Source, []byte(`__name__ == "__main__"`)) ||
			bytes.Contains(f.Source, []byte(`__name__ == '__main__'`))
	}
	for _, d := range f.Declarations() {
		if d.Kind == codeparse.KindFunction && d.Name == "main" {
			return true
		}
	}
	return false
}

// checkXML only verifies the document is well formed
func (c *Checker) checkXML(path string, data []byte) fileResult {
	var res fileResult
	if !c.Guidelines.enabled(RuleXMLWellFormed) {
		return res
	}
	dec := xml.NewDecoder(bytes.NewReader(data))
	for {
		_, err := dec.Token()
		if errors.Is(err, io.EOF) {
			return res
		}
		if err != nil {
			line, msg := 0, err.Error()
			var syn *xml.SyntaxError
			if errors.As(err, &syn) {
				line, msg = syn.Line, syn.Msg
			}
			res.violations = append(res.violations, Violation{
				ID:      RuleXMLWellFormed,
				File:    path,
				Line:    line,
				Message: "XML is not well-formed: " + msg,
			})
			return res
		}
	}
}
