// Package compliance checks Python, Java and XML sources against the internal
// coding guidelines.
package compliance

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"devguard/internal/codeparse"
	"devguard/internal/utils"
)

// Output formats
const (
	FormatJSON     = "json"
	FormatSummary  = "summary"
	FormatMarkdown = "markdown"
)

const allPassed = "All checks passed. No violations found."

// Checker applies the guidelines
type Checker struct {
	Guidelines *Guidelines
}

// NewChecker creates a checker; nil guidelines use the defaults
func NewChecker(g *Guidelines) *Checker {
	if g == nil {
		g = DefaultGuidelines()
	}
	return &Checker{Guidelines: g}
}

// Report is the outcome of one check
type Report struct {
	Files      []string    `json:"files"`
	Functions  int         `json:"functions_checked"`
	Violations []Violation `json:"violations"`
}

// Check gathers .py, .java and .xml files under path and applies every rule.
// Within a file, violations with the same (id, message, line) are reported once.
func (c *Checker) Check(ctx context.Context, path string) (*Report, error) {
	files, err := utils.GatherFiles(path, utils.SupportedExtensions...)
	if err != nil {
		return nil, fmt.Errorf("failed to gather files: %w", err)
	}
	if len(files) == 0 {
		return nil, fmt.Errorf("%w: no supported files found at %s", utils.ErrUnsupportedFile, path)
	}

	report := &Report{Files: files, Violations: []Violation{}}
	for _, file := range files {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		res, err := c.checkFile(ctx, file)
		if err != nil {
			return nil, err
		}
		report.Functions += res.functions
		report.Violations = append(report.Violations, dedupe(res.violations)...)
	}
	return report, nil
}

// checkFile applies the rules to a single file
func (c *Checker) checkFile(ctx context.Context, path string) (fileResult, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return fileResult{}, err
	}
	if utils.Language(path) == utils.LangXML {
		return c.checkXML(path, data), nil
	}
	f, err := codeparse.Parse(ctx, path, data)
	if err != nil {
		return fileResult{}, err
	}
	defer f.Close()

	res := c.checkSource(path, f)
	sort.SliceStable(res.violations, func(i, j int) bool { return res.violations[i].Line < res.violations[j].Line })
	return res, nil
}

func dedupe(vs []Violation) []Violation {
	type key struct {
		id, msg string
		line    int
	}
	seen := make(map[key]bool)
	out := make([]Violation, 0, len(vs))
	for _, v := range vs {
		k := key{v.ID, v.Message, v.Line}
		if seen[k] {
			continue
		}
		seen[k] = true
		out = append(out, v)
	}
	return out
}

// JSON renders the violations list
func (r *Report) JSON() string {
	data, _ := json.MarshalIndent(r.Violations, "", "  ")
	return string(data)
}

// Summary renders one "- ID (Line N): message" line per violation, grouped
// under a file header when more than one file was checked
func (r *Report) Summary() string {
	if len(r.Violations) == 0 {
		return allPassed
	}
	var sb strings.Builder
	current := ""
	for _, v := range r.Violations {
		if len(r.Files) > 1 && v.File != current {
			if current != "" {
				sb.WriteString("\n")
			}
			current = v.File
			fmt.Fprintf(&sb, "%s:\n", v.File)
		}
		fmt.Fprintf(&sb, "- %s (Line %d): %s\n", v.ID, v.Line, v.Message)
	}
	return strings.TrimRight(sb.String(), "\n")
}

// Markdown renders the full report with counts and a violations table
func (r *Report) Markdown() string {
	var sb strings.Builder
	sb.WriteString("# Internal Guidelines Compliance Report\n\n")
	fmt.Fprintf(&sb, "**Files checked:** %d\n\n", len(r.Files))
	fmt.Fprintf(&sb, "**Functions checked:** %d\n\n", r.Functions)
	fmt.Fprintf(&sb, "**Violations found:** %d\n\n", len(r.Violations))

	if len(r.Violations) == 0 {
		sb.WriteString("✅ " + allPassed + "\n")
		return sb.String()
	}

	sb.WriteString("| File | Line | Violation |\n")
	sb.WriteString("|------|------|-----------|\n")
	for _, v := range r.Violations {
		fmt.Fprintf(&sb, "| %s | %d | %s: %s |\n", v.File, v.Line, v.ID, strings.ReplaceAll(v.Message, "|", `\|`))
	}
	return sb.String()
}

// Render returns the report in the requested format, defaulting to summary
func (r *Report) Render(format string) string {
	switch format {
	case FormatJSON:
		return r.JSON()
	case FormatMarkdown:
		return r.Markdown()
	default:
		return r.Summary()
	}
}

// SaveReport writes rendered output under dir as compliance_report_<ts>.json,
// .md or _summary.txt and returns the path
func SaveReport(dir, format, content string, now time.Time) (string, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", err
	}
	name := "compliance_report_" + now.Format("20060102_150405")
	switch format {
	case FormatJSON:
		name += ".json"
	case FormatMarkdown:
		name += ".md"
	default:
		name += "_summary.txt"
	}
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		return "", err
	}
	return path, nil
}
