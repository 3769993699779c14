package sustainability

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"os/exec"
	"strings"
	"time"
)

// PMD exit codes
const (
	exitNoViolations = 0
	exitViolations   = 4
)

// Runner invokes the PMD CLI
type Runner struct {
	Path    string
	Ruleset string
	Timeout time.Duration
	Weights map[string]int
}

// NewRunner creates a runner; empty values fall back to "pmd" and the
// bestpractices ruleset
func NewRunner(path, ruleset string, weights map[string]int) *Runner {
	if path == "" {
		path = "pmd"
	}
	if ruleset == "" {
		ruleset = "category/java/bestpractices.xml"
	}
	if weights == nil {
		weights = Weights()
	}
	return &Runner{Path: path, Ruleset: ruleset, Timeout: 5 * time.Minute, Weights: weights}
}

// Run executes PMD on target and scores its report. The temporary report is
// always removed. Exit code 4 means violations were found and is not an error.
func (r *Runner) Run(ctx context.Context, target string) (*Score, error) {
	if _, err := os.Stat(target); err != nil {
		return nil, fmt.Errorf("target not found: %s", target)
	}

	tmp, err := os.CreateTemp("", "pmd-report-*.xml")
	if err != nil {
		return nil, fmt.Errorf("failed to create report file: %w", err)
	}
	reportPath := tmp.Name()
	tmp.Close()
	defer os.Remove(reportPath)

	if r.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.Timeout)
		defer cancel()
	}

	cmd := exec.CommandContext(ctx, r.Path, "check",
		"-d", target,
		"-R", r.Ruleset,
		"-f", "xml",
		"-r", reportPath,
		"--no-cache",
	)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	log.Printf("🌿 Running PMD on %s with %s", target, r.Ruleset)
	err = cmd.Run()
	code := exitNoViolations
	if err != nil {
		var exitErr *exec.ExitError
		if !errors.As(err, &exitErr) {
			return nil, fmt.Errorf("failed to run PMD (%s): %w", r.Path, err)
		}
		code = exitErr.ExitCode()
	}
	if code != exitNoViolations && code != exitViolations {
		return nil, fmt.Errorf("PMD exited with code %d: %s", code, strings.TrimSpace(stderr.String()))
	}

	return ScoreReport(reportPath, r.Weights)
}
