package compliance

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const badPython = `import logging


class data_loader:
    pass


def LoadData(a, b, c, d, e, f):
    # TODO clean this up
    try:
        print(a)
    except:
        pass


def _private():
    # TODO(DEV-42) handled
    return 1


def documented():
    """Has a docstring."""
    try:
        return 1
    except ValueError:
        return 2
`

const badJava = `package demo;

public class Widget {
    public void Run_It() {
        try {
            System.out.println("x");
        } catch (Exception e) {
        }
    }

    /** Documented. */
    public int size() { return 0; }
}
`

func write(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func ids(vs []Violation) []string {
	var out []string
	for _, v := range vs {
		out = append(out, v.ID)
	}
	return out
}

func TestCheck_Python(t *testing.T) {
	path := write(t, t.TempDir(), "loader.py", badPython)

	report, err := NewChecker(nil).Check(context.Background(), path)
	require.NoError(t, err)

	assert.Equal(t, []string{path}, report.Files)
	assert.Equal(t, 3, report.Functions)
	assert.Equal(t, []string{
		RuleClassName,    // data_loader
		RuleFunctionName, // LoadData
		RuleDocstring,
		RuleParamCount,
		RuleTodoTicket,
		RulePrint,
		RuleBareExcept,
	}, ids(report.Violations))

	assert.Equal(t, 4, report.Violations[0].Line)
	assert.Equal(t, 8, report.Violations[1].Line)
	assert.Contains(t, report.Violations[3].Message, "6 parameters (max 5)")
}

func TestCheck_Java(t *testing.T) {
	path := write(t, t.TempDir(), "Widget.java", badJava)

	report, err := NewChecker(nil).Check(context.Background(), path)
	require.NoError(t, err)

	assert.Equal(t, 2, report.Functions)
	assert.ElementsMatch(t, []string{RuleFunctionName, RuleDocstring, RulePrint, RuleBareExcept}, ids(report.Violations))
}

func TestCheck_XML(t *testing.T) {
	dir := t.TempDir()
	write(t, dir, "ok.xml", "<a><b/></a>")
	bad := write(t, dir, "bad.xml", "<a>\n<b>\n</a>")

	report, err := NewChecker(nil).Check(context.Background(), dir)
	require.NoError(t, err)
	require.Len(t, report.Violations, 1)
	assert.Equal(t, RuleXMLWellFormed, report.Violations[0].ID)
	assert.Equal(t, bad, report.Violations[0].File)
	assert.Equal(t, 3, report.Violations[0].Line)
}

func TestCheck_GuidelineOverrides(t *testing.T) {
	dir := t.TempDir()
	path := write(t, dir, "loader.py", badPython)
	yml := write(t, dir, "guidelines.yaml", "max_parameters: 10\ndisabled_rules: [G002, G007]\nticket_pattern: 'X-[0-9]+'\n")

	g, err := LoadGuidelines(yml)
	require.NoError(t, err)
	assert.Equal(t, 50, g.MaxFunctionLines, "unset values keep their defaults")

	report, err := NewChecker(g).Check(context.Background(), path)
	require.NoError(t, err)
	got := ids(report.Violations)
	assert.NotContains(t, got, RuleClassName)
	assert.NotContains(t, got, RulePrint)
	assert.NotContains(t, got, RuleParamCount)
	// DEV-42 no longer matches the ticket pattern
	assert.Equal(t, 2, strings.Count(strings.Join(got, ","), RuleTodoTicket))
}

func TestLoadGuidelines_Invalid(t *testing.T) {
	dir := t.TempDir()
	_, err := LoadGuidelines(write(t, dir, "g.yaml", "max_function_lines: 0\n"))
	assert.Error(t, err)
	_, err = LoadGuidelines(write(t, dir, "h.yaml", "ticket_pattern: '('\n"))
	assert.Error(t, err)
	_, err = LoadGuidelines(filepath.Join(dir, "missing.yaml"))
	assert.Error(t, err)
}

func TestCheck_NoFiles(t *testing.T) {
	_, err := NewChecker(nil).Check(context.Background(), t.TempDir())
	assert.Error(t, err)
}

func TestReportRendering(t *testing.T) {
	empty := &Report{Files: []string{"a.py"}, Functions: 2, Violations: []Violation{}}
	assert.Equal(t, allPassed, empty.Summary())
	assert.Contains(t, empty.Markdown(), "**Functions checked:** 2")
	assert.Contains(t, empty.Markdown(), allPassed)
	assert.Equal(t, "[]", empty.JSON())

	r := &Report{
		Files:     []string{"a.py"},
		Functions: 1,
		Violations: []Violation{
			{ID: "G001", File: "a.py", Line: 3, Message: "Function name 'X' should be snake_case"},
		},
	}
	assert.Equal(t, "- G001 (Line 3): Function name 'X' should be snake_case", r.Render(FormatSummary))
	md := r.Render(FormatMarkdown)
	assert.Contains(t, md, "# Internal Guidelines Compliance Report")
	assert.Contains(t, md, "| File | Line | Violation |")
	assert.Contains(t, md, "| a.py | 3 | G001: Function name 'X' should be snake_case |")

	var decoded []Violation
	require.NoError(t, json.Unmarshal([]byte(r.Render(FormatJSON)), &decoded))
	assert.Equal(t, r.Violations, decoded)

	multi := &Report{Files: []string{"a.py", "b.py"}, Violations: []Violation{
		{ID: "G001", File: "a.py", Line: 1, Message: "m"},
		{ID: "G002", File: "b.py", Line: 2, Message: "n"},
	}}
	assert.Equal(t, "a.py:\n- G001 (Line 1): m\n\nb.py:\n- G002 (Line 2): n", multi.Summary())
}

func TestDedupe(t *testing.T) {
	vs := []Violation{
		{ID: "G001", Line: 1, Message: "m"},
		{ID: "G001", Line: 1, Message: "m"},
		{ID: "G001", Line: 2, Message: "m"},
	}
	assert.Len(t, dedupe(vs), 2)
}

func TestSaveReport(t *testing.T) {
	dir := t.TempDir()
	now := time.Date(2024, 5, 1, 13, 4, 5, 0, time.UTC)

	testCases := []struct {
		format string
		want   string
	}{
		{FormatJSON, "compliance_report_20240501_130405.json"},
		{FormatMarkdown, "compliance_report_20240501_130405.md"},
		{FormatSummary, "compliance_report_20240501_130405_summary.txt"},
	}
	for _, tc := range testCases {
		path, err := SaveReport(dir, tc.format, "body", now)
		require.NoError(t, err)
		assert.Equal(t, filepath.Join(dir, tc.want), path)
		data, err := os.ReadFile(path)
		require.NoError(t, err)
		assert.Equal(t, "body", string(data))
	}
}
