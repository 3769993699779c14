// Package codereview runs every file tool over each supported file under a
// path and collects the results in one report.
package codereview

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"devguard/internal/tools/compliance"
	"devguard/internal/tools/license"
	"devguard/internal/utils"
)

// Output formats
const (
	FormatText     = "text"
	FormatJSON     = "json"
	FormatMarkdown = "markdown"
)

// FileReview holds the results of every check for one file. Check failures
// are kept as text so one broken file never sinks the review.
type FileReview struct {
	File            string                 `json:"file"`
	Licenses        []license.Entry        `json:"licenses"`
	LicenseError    string                 `json:"license_error,omitempty"`
	Functions       int                    `json:"functions_checked"`
	Violations      []compliance.Violation `json:"compliance"`
	ComplianceError string                 `json:"compliance_error,omitempty"`
}

// Review is the outcome of a code review
type Review struct {
	Path      string       `json:"path"`
	Files     []FileReview `json:"files"`
	CreatedAt time.Time    `json:"created_at"`
}

// Reviewer runs the license and compliance checkers per file
type Reviewer struct {
	Licenses    *license.Checker
	Compliance  *compliance.Checker
	Concurrency int
}

// New creates a reviewer; nil checkers get defaults
func New(lc *license.Checker, cc *compliance.Checker) *Reviewer {
	if lc == nil {
		lc = license.NewChecker()
	}
	if cc == nil {
		cc = compliance.NewChecker(nil)
	}
	return &Reviewer{Licenses: lc, Compliance: cc, Concurrency: 4}
}

// Review checks every supported file under path. Files come back in path order.
func (r *Reviewer) Review(ctx context.Context, path string) (*Review, error) {
	files, err := utils.GatherFiles(path, utils.SupportedExtensions...)
	if err != nil {
		return nil, fmt.Errorf("failed to gather files: %w", err)
	}
	if len(files) == 0 {
		return nil, fmt.Errorf("%w: no supported files found at %s", utils.ErrUnsupportedFile, path)
	}

	reviews := make([]FileReview, len(files))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(max(r.Concurrency, 1))
	for i, file := range files {
		g.Go(func() error {
			log.Printf("📂 Analyzing: %s", file)
			reviews[i] = r.reviewFile(gctx, file)
			return gctx.Err()
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return &Review{Path: path, Files: reviews, CreatedAt: time.Now()}, nil
}

func (r *Reviewer) reviewFile(ctx context.Context, file string) FileReview {
	fr := FileReview{File: file, Licenses: []license.Entry{}, Violations: []compliance.Violation{}}

	entries, err := r.Licenses.Check(ctx, file)
	switch {
	case errors.Is(err, license.ErrUnsupported):
		// plain XML files carry no dependencies
	case err != nil:
		fr.LicenseError = err.Error()
	default:
		fr.Licenses = entries
	}

	report, err := r.Compliance.Check(ctx, file)
	if err != nil {
		fr.ComplianceError = err.Error()
	} else {
		fr.Functions = report.Functions
		fr.Violations = report.Violations
	}
	return fr
}

// Counts returns the number of license entries, violations and failed checks
func (rv *Review) Counts() (licenses, violations, failures int) {
	for _, f := range rv.Files {
		licenses += len(f.Licenses)
		violations += len(f.Violations)
		if f.LicenseError != "" {
			failures++
		}
		if f.ComplianceError != "" {
			failures++
		}
	}
	return licenses, violations, failures
}

// JSON renders the review as indented JSON
func (rv *Review) JSON() string {
	data, _ := json.MarshalIndent(rv, "", "  ")
	return string(data)
}

// Markdown renders one section per file
func (rv *Review) Markdown() string {
	licenses, violations, failures := rv.Counts()

	var sb strings.Builder
	sb.WriteString("# Code Review Report\n\n")
	fmt.Fprintf(&sb, "**Path:** `%s`\n\n", rv.Path)
	fmt.Fprintf(&sb, "**Files reviewed:** %d | **Dependencies:** %d | **Violations:** %d | **Failed checks:** %d\n",
		len(rv.Files), licenses, violations, failures)

	for _, f := range rv.Files {
		fmt.Fprintf(&sb, "\n## %s\n\n", f.File)

		sb.WriteString("### Licenses\n\n")
		switch {
		case f.LicenseError != "":
			fmt.Fprintf(&sb, "❌ License check error: %s\n\n", f.LicenseError)
		case len(f.Licenses) == 0:
			sb.WriteString("No third-party dependencies.\n\n")
		default:
			sb.WriteString("| Package | Version | License | Rating |\n|---|---|---|---|\n")
			for _, e := range f.Licenses {
				fmt.Fprintf(&sb, "| %s | %s | %s | %s |\n", e.Name, e.Version, e.License, e.Rating)
			}
			sb.WriteString("\n")
		}

		sb.WriteString("### Compliance\n\n")
		switch {
		case f.ComplianceError != "":
			fmt.Fprintf(&sb, "❌ Compliance check error: %s\n", f.ComplianceError)
		case len(f.Violations) == 0:
			sb.WriteString("✅ No violations.\n")
		default:
			for _, v := range f.Violations {
				fmt.Fprintf(&sb, "- %s (Line %d): %s\n", v.ID, v.Line, v.Message)
			}
		}
	}
	return sb.String()
}

// Text renders a compact plain-text summary
func (rv *Review) Text() string {
	licenses, violations, failures := rv.Counts()

	var sb strings.Builder
	sb.WriteString("🧾 Code Review Summary\n")
	fmt.Fprintf(&sb, "Files: %d, dependencies: %d, violations: %d, failed checks: %d\n",
		len(rv.Files), licenses, violations, failures)
	for _, f := range rv.Files {
		fmt.Fprintf(&sb, "\n📂 %s\n", f.File)
		if f.LicenseError != "" {
			fmt.Fprintf(&sb, "  ❌ License check error: %s\n", f.LicenseError)
		}
		for _, e := range f.Licenses {
			fmt.Fprintf(&sb, "  %s %s (%s) %s\n", e.Name, e.Version, e.License, e.Rating)
		}
		if f.ComplianceError != "" {
			fmt.Fprintf(&sb, "  ❌ Compliance check error: %s\n", f.ComplianceError)
		}
		for _, v := range f.Violations {
			fmt.Fprintf(&sb, "  - %s (Line %d): %s\n", v.ID, v.Line, v.Message)
		}
	}
	return strings.TrimRight(sb.String(), "\n")
}

// Render returns the review in the requested format, defaulting to text
func (rv *Review) Render(format string) string {
	switch format {
	case FormatJSON:
		return rv.JSON()
	case FormatMarkdown:
		return rv.Markdown()
	default:
		return rv.Text()
	}
}

// Save writes the rendered review to dir/code_review_<ts>.json or .md. Text
// output is not saved and returns an empty path.
func (rv *Review) Save(dir, format string) (string, error) {
	var ext string
	switch format {
	case FormatJSON:
		ext = ".json"
	case FormatMarkdown:
		ext = ".md"
	default:
		return "", nil
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", err
	}
	path := filepath.Join(dir, "code_review_"+rv.CreatedAt.Format("20060102_150405")+ext)
	if err := os.WriteFile(path, []byte(rv.Render(format)), 0644); err != nil {
		return "", fmt.Errorf("failed to save review: %w", err)
	}
	return path, nil
}
