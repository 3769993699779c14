package toolkit

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"devguard/internal/config"
	"devguard/internal/registry"
	"devguard/internal/tools/codereview"
	"devguard/internal/tools/docs"
	"devguard/internal/tools/license"
	"devguard/internal/tools/research"
	"devguard/internal/tools/sustainability"
)

type cannedLLM struct{ reply string }

func (c cannedLLM) GenerateText(context.Context, string, string) (string, error) {
	return c.reply, nil
}

type noSearch struct{}

func (noSearch) Search(context.Context, string, int) ([]research.Source, error) { return nil, nil }

func testConfig() *config.Config {
	return &config.Config{
		Router: config.RouterConfig{Provider: "openai", Model: "gpt-3.5-turbo", TokenBudget: 1000},
		PMD:    config.PMDConfig{Path: "pmd", Ruleset: "category/java/bestpractices.xml"},
	}
}

func newToolkit(t *testing.T) (*Toolkit, *registry.Registry) {
	t.Helper()
	tk, err := New(testConfig())
	require.NoError(t, err)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/pypi/requests/json" {
			w.Write([]byte(`{"info": {"version": "2.32.3", "license": "Apache-2.0"}}`))
			return
		}
		http.NotFound(w, r)
	}))
	t.Cleanup(srv.Close)
	tk.Licenses.PyPIURL = srv.URL + "/pypi"

	reg, err := tk.Registry("")
	require.NoError(t, err)
	return tk, reg
}

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestNew_WithoutLLM(t *testing.T) {
	tk, reg := newToolkit(t)
	assert.Nil(t, tk.Researcher)
	assert.Nil(t, tk.Docs)
	assert.Equal(t, 6, reg.Len(), "every tool binds even when its backend is unavailable")

	_, err := reg.Run(context.Background(), ToolResearch, "", registry.Options{Topic: "go"})
	assert.ErrorIs(t, err, ErrLLMUnavailable)
	_, err = reg.Run(context.Background(), ToolDocs, "a.py", registry.Options{})
	assert.ErrorIs(t, err, ErrLLMUnavailable)
}

func TestNew_BadOverrides(t *testing.T) {
	cfg := testConfig()
	cfg.GuidelinesFile = filepath.Join(t.TempDir(), "missing.yaml")
	_, err := New(cfg)
	assert.ErrorContains(t, err, "guidelines")

	cfg = testConfig()
	cfg.SustainabilityWeightsFile = writeFile(t, t.TempDir(), "w.yaml", "CloseResource: -3\n")
	_, err = New(cfg)
	assert.ErrorContains(t, err, "weights")
}

func TestCheckLicenses(t *testing.T) {
	_, reg := newToolkit(t)
	dir := t.TempDir()
	src := writeFile(t, dir, "app.py", "import os\nimport requests\n")
	out := filepath.Join(dir, "licenses.xlsx")

	res, err := reg.Run(context.Background(), ToolLicense, src, registry.Options{Export: out})
	require.NoError(t, err)
	assert.Equal(t, registry.FormatTable, res.Format)
	assert.Equal(t, license.Columns, res.Columns)
	require.Len(t, res.Rows, 1)
	assert.Equal(t, "requests", res.Rows[0]["Package"])
	assert.Contains(t, res.Text, "requests")
	assert.Equal(t, src, res.File)

	f, err := excelize.OpenFile(out)
	require.NoError(t, err)
	defer f.Close()
	rows, err := f.GetRows(license.SheetName)
	require.NoError(t, err)
	assert.Len(t, rows, 2)
}

func TestCheckCompliance(t *testing.T) {
	_, reg := newToolkit(t)
	src := writeFile(t, t.TempDir(), "bad.py", "def BadName():\n    pass\n")

	res, err := reg.Run(context.Background(), ToolCompliance, src, registry.Options{})
	require.NoError(t, err)
	assert.Equal(t, registry.FormatMarkdown, res.Format)
	assert.Contains(t, res.Text, "# Internal Guidelines Compliance Report")

	res, err = reg.Run(context.Background(), ToolCompliance, src, registry.Options{Format: "json"})
	require.NoError(t, err)
	assert.Equal(t, registry.FormatJSON, res.Format)
	assert.Contains(t, res.Text, `"id": "G001"`)

	res, err = reg.Run(context.Background(), ToolCompliance, src, registry.Options{Format: "summary"})
	require.NoError(t, err)
	assert.Equal(t, registry.FormatText, res.Format)
	assert.True(t, strings.HasPrefix(res.Text, "- G001 (Line 1)"))
}

func TestCheckSustainability_ExistingReport(t *testing.T) {
	_, reg := newToolkit(t)
	report := writeFile(t, t.TempDir(), "pmd.xml",
		`<pmd><file name="A.java"><violation rule="CloseResource"/></file></pmd>`)

	res, err := reg.Run(context.Background(), ToolSustainability, report, registry.Options{})
	require.NoError(t, err)
	score, ok := res.Data.(*sustainability.Score)
	require.True(t, ok)
	assert.Equal(t, 9, score.Total)
	assert.Contains(t, res.Text, "File Hotspots")

	res, err = reg.Run(context.Background(), ToolSustainability, report, registry.Options{Format: "summary"})
	require.NoError(t, err)
	assert.NotContains(t, res.Text, "File Hotspots")
}

func TestCheckSustainability_BrokenReport(t *testing.T) {
	_, reg := newToolkit(t)
	report := writeFile(t, t.TempDir(), "pmd.xml", `<pmd><file name="A.java">`)

	_, err := reg.Run(context.Background(), ToolSustainability, report, registry.Options{})
	assert.ErrorContains(t, err, "error parsing PMD report")
}

func TestCodeReview(t *testing.T) {
	_, reg := newToolkit(t)
	dir := t.TempDir()
	writeFile(t, dir, "app.py", "import requests\n")

	res, err := reg.Run(context.Background(), ToolCodeReview, dir, registry.Options{})
	require.NoError(t, err)
	assert.Equal(t, registry.FormatMarkdown, res.Format)
	assert.Contains(t, res.Text, "# Code Review Report")
	review, ok := res.Data.(*codereview.Review)
	require.True(t, ok)
	assert.Len(t, review.Files, 1)
}

func TestLLMTools(t *testing.T) {
	tk, reg := newToolkit(t)
	plan := `{"title":"Green Java","sections":[{"name":"Introduction","description":"x","research":false}]}`
	tk.Researcher = research.New(cannedLLM{reply: plan}, nil, noSearch{}, research.Config{})
	tk.Docs = docs.New(cannedLLM{reply: `"""Module docs."""`})

	res, err := reg.Run(context.Background(), ToolResearch, "", registry.Options{Topic: "green java"})
	require.NoError(t, err)
	assert.Equal(t, registry.FormatMarkdown, res.Format)
	assert.Empty(t, res.File, "topic tools carry no file")
	assert.True(t, strings.HasPrefix(res.Text, "# Green Java"))

	src := writeFile(t, t.TempDir(), "mod.py", "def f():\n    return 1\n")
	res, err = reg.Run(context.Background(), ToolDocs, src, registry.Options{})
	require.NoError(t, err)
	assert.Equal(t, "```python\n\"\"\"Module docs.\"\"\"\n```", res.Text)
}
