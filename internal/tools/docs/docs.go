// Package docs asks an LLM for documentation stubs for a source file.
package docs

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"devguard/internal/inference"
)

// DefaultTokenBudget bounds the source sent to the model
const DefaultTokenBudget = 6000

const systemPrompt = `You are a senior engineer writing documentation for existing code.
Return the documentation stubs only: one doc comment per public module, class and function,
each preceded by the signature it documents. Describe parameters, return values and raised
errors. Do not rewrite or explain the code itself.`

// style names the doc comment convention per language
var style = map[string]string{
	"python":     "PEP 257 docstrings in Google style",
	"java":       "Javadoc comments with @param, @return and @throws tags",
	"javascript": "JSDoc comments",
	"typescript": "TSDoc comments",
	"go":         "Go doc comments starting with the identifier name",
	"xml":        "XML comments describing each top-level element",
}

var extLanguage = map[string]string{
	".py":   "python",
	".java": "java",
	".js":   "javascript",
	".jsx":  "javascript",
	".ts":   "typescript",
	".tsx":  "typescript",
	".go":   "go",
	".xml":  "xml",
}

// ErrUnknownLanguage is returned when no language is given and the extension is unknown
var ErrUnknownLanguage = errors.New("cannot infer the language; pass it explicitly")

// Result is the generated documentation for one file
type Result struct {
	File          string `json:"file"`
	Language      string `json:"language"`
	Truncated     bool   `json:"truncated"`
	Documentation string `json:"documentation_stubs"`
}

// Generator writes documentation stubs
type Generator struct {
	LLM         inference.TextGenerator
	TokenBudget int
	Model       string
}

// New creates a generator with the default token budget
func New(llm inference.TextGenerator) *Generator {
	return &Generator{LLM: llm, TokenBudget: DefaultTokenBudget}
}

// DetectLanguage infers the language from the file extension
func DetectLanguage(path string) string {
	return extLanguage[strings.ToLower(filepath.Ext(path))]
}

// Generate documents the file at path. An empty lang is inferred from the extension.
func (g *Generator) Generate(ctx context.Context, path, lang string) (*Result, error) {
	if g.LLM == nil {
		return nil, inference.ErrNoProvider
	}
	lang = strings.ToLower(strings.TrimSpace(lang))
	if lang == "" {
		lang = DetectLanguage(path)
	}
	if lang == "" {
		return nil, fmt.Errorf("%w: %s", ErrUnknownLanguage, filepath.Base(path))
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("error reading file %s: %w", path, err)
	}
	code := string(data)
	if strings.TrimSpace(code) == "" {
		return nil, fmt.Errorf("file %s is empty", path)
	}
	truncated := inference.TruncateToTokens(code, g.Model, g.TokenBudget)

	conv, ok := style[lang]
	if !ok {
		conv = "the idiomatic documentation comment style of " + lang
	}
	prompt := fmt.Sprintf("Language: %s\nUse %s.\nFile: %s\n\n```%s\n%s\n```",
		lang, conv, filepath.Base(path), lang, truncated)

	out, err := g.LLM.GenerateText(ctx, systemPrompt, prompt)
	if err != nil {
		return nil, fmt.Errorf("documentation generation failed: %w", err)
	}
	out = strings.TrimSpace(out)
	if out == "" {
		return nil, errors.New("no documentation generated")
	}
	return &Result{
		File:          path,
		Language:      lang,
		Truncated:     truncated != code,
		Documentation: out,
	}, nil
}
