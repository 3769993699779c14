// Package router maps free-text requests to a registered tool and pulls the
// target filename out of the request.
package router

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"sort"
	"strings"

	"devguard/internal/inference"
	"devguard/internal/registry"
)

// ErrNoRoute is returned when neither keywords nor an LLM can pick a tool
var ErrNoRoute = errors.New("no tool matches the request and no LLM is configured")

const systemPrompt = "You are an AI assistant that selects the best tool for a given developer task."

var (
	pathTokenRe = regexp.MustCompile(`\b[\w./\\-]*\.(py|java|xml)\b`)
	spaceRe     = regexp.MustCompile(`\s+`)
	wordRe      = regexp.MustCompile(`[a-z0-9]+`)

	// checked in priority order
	filenamePatterns = []*regexp.Regexp{
		regexp.MustCompile(`([\w\-/\\.]+\.py)\b`),
		regexp.MustCompile(`([\w\-/\\.]+\.java)\b`),
		regexp.MustCompile(`([\w\-/\\.]+\.xml)\b`),
	}
)

// CleanPrompt strips path-like tokens for supported files and collapses whitespace
func CleanPrompt(prompt string) string {
	cleaned := pathTokenRe.ReplaceAllString(prompt, "")
	return strings.TrimSpace(spaceRe.ReplaceAllString(cleaned, " "))
}

// ExtractFilename returns the first .py path, else .java, else .xml, else ""
func ExtractFilename(text string) string {
	for _, re := range filenamePatterns {
		if m := re.FindStringSubmatch(text); m != nil {
			return m[1]
		}
	}
	return ""
}

// Router picks a tool id for a request
type Router struct {
	registry *registry.Registry
	llm      inference.TextGenerator
}

// New creates a router. llm may be nil, in which case only keywords are used.
func New(reg *registry.Registry, llm inference.TextGenerator) *Router {
	return &Router{registry: reg, llm: llm}
}

// Decision explains how a request was routed
type Decision struct {
	ToolID string `json:"tool_id"`
	Known  bool   `json:"known"`
	Via    string `json:"via"` // "keyword" or "llm"
}

// Route returns the tool id for prompt. The LLM's reply is returned verbatim
// (trimmed) when it doesn't name a registered tool, with Known=false.
func (r *Router) Route(ctx context.Context, prompt string) (Decision, error) {
	cleaned := CleanPrompt(prompt)

	if id, ok := r.keywordMatch(cleaned); ok {
		return Decision{ToolID: id, Known: true, Via: "keyword"}, nil
	}

	if r.llm == nil {
		return Decision{}, ErrNoRoute
	}
	if svc, ok := r.llm.(*inference.Service); ok && !svc.Available() {
		return Decision{}, ErrNoRoute
	}

	reply, err := r.llm.GenerateText(ctx, systemPrompt, r.userPrompt(cleaned))
	if err != nil {
		return Decision{}, fmt.Errorf("routing request: %w", err)
	}

	id := normalizeReply(reply)
	if tool, ok := r.registry.Lookup(id); ok {
		return Decision{ToolID: tool.Name, Known: true, Via: "llm"}, nil
	}
	return Decision{ToolID: id, Known: false, Via: "llm"}, nil
}

type toolSummary struct {
	Name        string `json:"name"`
	Description string `json:"description"`
}

func (r *Router) userPrompt(cleaned string) string {
	var tools []toolSummary
	for _, t := range r.registry.List() {
		tools = append(tools, toolSummary{Name: t.Name, Description: t.Description})
	}
	listing, _ := json.MarshalIndent(tools, "", "  ")

	return fmt.Sprintf(`User request: %s

Available tools:
%s

Which tool should be used? Reply with only the tool's name exactly as listed.`, cleaned, listing)
}

func normalizeReply(reply string) string {
	s := strings.TrimSpace(reply)
	s = strings.Trim(s, "`\"' \n\t.")
	if i := strings.IndexAny(s, "\n "); i > 0 {
		s = s[:i]
	}
	return strings.Trim(s, "`\"'.,:")
}

// keywordMatch scores tools by keyword hits and returns the unique winner
func (r *Router) keywordMatch(cleaned string) (string, bool) {
	lower := strings.ToLower(cleaned)
	words := make(map[string]bool)
	for _, w := range wordRe.FindAllString(lower, -1) {
		words[w] = true
	}

	type scored struct {
		id    string
		score int
	}
	var scores []scored
	for _, t := range r.registry.List() {
		score := 0
		if strings.Contains(lower, strings.ToLower(t.Name)) || strings.Contains(lower, strings.ToLower(t.DisplayName)) {
			score += 3
		}
		for _, kw := range t.Keywords {
			kw = strings.ToLower(kw)
			if strings.Contains(kw, " ") {
				if strings.Contains(lower, kw) {
					score += 2
				}
			} else if words[kw] {
				score++
			}
		}
		if score > 0 {
			scores = append(scores, scored{t.Name, score})
		}
	}
	if len(scores) == 0 {
		return "", false
	}

	sort.SliceStable(scores, func(i, j int) bool { return scores[i].score > scores[j].score })
	if len(scores) > 1 && scores[0].score == scores[1].score {
		return "", false
	}
	return scores[0].id, true
}
