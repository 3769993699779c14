// Package toolkit builds the tool implementations from configuration and
// exposes them as registry handlers keyed by the function names used in the
// tool metadata.
package toolkit

import (
	"context"
	"errors"
	"fmt"
	"log"
	"path/filepath"
	"strings"

	"devguard/internal/config"
	"devguard/internal/inference"
	"devguard/internal/registry"
	"devguard/internal/tools/codereview"
	"devguard/internal/tools/compliance"
	"devguard/internal/tools/docs"
	"devguard/internal/tools/license"
	"devguard/internal/tools/research"
	"devguard/internal/tools/sustainability"
)

// Function names referenced by tool metadata
const (
	FuncCheckLicenses       = "check_licenses"
	FuncCheckCompliance     = "check_compliance"
	FuncCheckSustainability = "check_sustainability"
	FuncCodeReview          = "code_review"
	FuncRunResearch         = "run_research"
	FuncCreateDocumentation = "create_documentation"
)

// Tool ids of the built-in tools
const (
	ToolLicense        = "library_license_checker"
	ToolCompliance     = "internal_guideline_compliance_checker"
	ToolSustainability = "sustainability_checker"
	ToolCodeReview     = "code_review"
	ToolResearch       = "deep_research"
	ToolDocs           = "documentation_generator"
)

// ErrLLMUnavailable is returned by tools that need a model when none is configured
var ErrLLMUnavailable = errors.New("this tool needs an LLM provider; set an API key for one")

// Toolkit holds one instance of every tool
type Toolkit struct {
	Licenses       *license.Checker
	Compliance     *compliance.Checker
	Sustainability *sustainability.Runner
	Reviewer       *codereview.Reviewer
	Researcher     *research.Researcher
	Docs           *docs.Generator
}

// New builds the toolkit. Research and docs stay unavailable when no model
// can be configured; the file tools always work.
func New(cfg *config.Config) (*Toolkit, error) {
	guidelines := compliance.DefaultGuidelines()
	if cfg.GuidelinesFile != "" {
		g, err := compliance.LoadGuidelines(cfg.GuidelinesFile)
		if err != nil {
			return nil, fmt.Errorf("failed to load guidelines: %w", err)
		}
		guidelines = g
	}

	weights := sustainability.Weights()
	if cfg.SustainabilityWeightsFile != "" {
		w, err := sustainability.LoadWeights(cfg.SustainabilityWeightsFile)
		if err != nil {
			return nil, fmt.Errorf("failed to load sustainability weights: %w", err)
		}
		weights = w
	}

	tk := &Toolkit{
		Licenses:       license.NewChecker(),
		Compliance:     compliance.NewChecker(guidelines),
		Sustainability: sustainability.NewRunner(cfg.PMD.Path, cfg.PMD.Ruleset, weights),
	}
	tk.Reviewer = codereview.New(tk.Licenses, tk.Compliance)

	planner := serviceFor(cfg, cfg.Research.PlannerProvider, cfg.Research.PlannerModel)
	writer := serviceFor(cfg, cfg.Research.WriterProvider, cfg.Research.WriterModel)
	if planner != nil {
		tk.Researcher = research.New(planner, writer, research.NewSearcher(cfg.Research.SearchAPI, cfg.Research.TavilyAPIKey), research.Config{
			NumberOfQueries: cfg.Research.NumberOfQueries,
			MaxSearchDepth:  cfg.Research.MaxSearchDepth,
			MaxConcurrency:  cfg.Research.MaxConcurrency,
			ReportStructure: cfg.Research.ReportStructure,
		})
		tk.Docs = docs.New(planner)
		tk.Docs.TokenBudget = cfg.Router.TokenBudget
	} else {
		log.Printf("⚠️  No LLM provider configured: deep research and documentation are unavailable")
	}
	return tk, nil
}

// serviceFor returns nil rather than an empty service so callers can test
// for availability
func serviceFor(cfg *config.Config, provider, model string) inference.TextGenerator {
	if provider == "" {
		provider = cfg.Router.Provider
	}
	if model == "" {
		if creds, ok := cfg.Credentials(provider); ok {
			model = creds.Model
		}
	}
	svc, err := inference.NewServiceFromConfig(cfg, provider, model)
	if err != nil || !svc.Available() {
		return nil
	}
	return svc
}

// Handlers returns the handler table for registry.Bind
func (tk *Toolkit) Handlers() map[string]registry.Handler {
	return map[string]registry.Handler{
		FuncCheckLicenses:       tk.checkLicenses,
		FuncCheckCompliance:     tk.checkCompliance,
		FuncCheckSustainability: tk.checkSustainability,
		FuncCodeReview:          tk.codeReview,
		FuncRunResearch:         tk.runResearch,
		FuncCreateDocumentation: tk.createDocumentation,
	}
}

// Registry loads the tool metadata from dir and binds it to the toolkit
func (tk *Toolkit) Registry(dir string) (*registry.Registry, error) {
	metadata, err := registry.LoadMetadata(dir)
	if err != nil {
		return nil, err
	}
	reg := registry.Bind(metadata, tk.Handlers())
	log.Printf("✅ Registered %d tools", reg.Len())
	return reg, nil
}

func (tk *Toolkit) checkLicenses(ctx context.Context, path string, opts registry.Options) (*registry.Result, error) {
	entries, err := tk.Licenses.Check(ctx, path)
	if err != nil {
		return nil, err
	}
	rows := license.Rows(entries)
	if opts.Export != "" {
		if err := license.Export(rows, opts.Export); err != nil {
			return nil, err
		}
		log.Printf("📊 License report exported to %s", opts.Export)
	}
	return &registry.Result{
		Format:  registry.FormatTable,
		Text:    license.FormatReport(entries),
		Data:    entries,
		Columns: license.Columns,
		Rows:    rows,
	}, nil
}

func (tk *Toolkit) checkCompliance(ctx context.Context, path string, opts registry.Options) (*registry.Result, error) {
	report, err := tk.Compliance.Check(ctx, path)
	if err != nil {
		return nil, err
	}
	format := opts.Format
	if format == "" {
		format = compliance.FormatMarkdown
	}
	return &registry.Result{
		Format: resultFormat(format),
		Text:   report.Render(format),
		Data:   report,
	}, nil
}

// checkSustainability scores an existing PMD report when given one and runs
// PMD otherwise
func (tk *Toolkit) checkSustainability(ctx context.Context, path string, opts registry.Options) (*registry.Result, error) {
	var (
		score *sustainability.Score
		err   error
	)
	if strings.EqualFold(filepath.Ext(path), ".xml") {
		score, err = sustainability.ScoreReport(path, tk.Sustainability.Weights)
	} else {
		score, err = tk.Sustainability.Run(ctx, path)
	}
	if err != nil {
		return nil, err
	}
	return &registry.Result{
		Format: registry.FormatText,
		Text:   score.Format(opts.Format != compliance.FormatSummary),
		Data:   score,
	}, nil
}

func (tk *Toolkit) codeReview(ctx context.Context, path string, opts registry.Options) (*registry.Result, error) {
	review, err := tk.Reviewer.Review(ctx, path)
	if err != nil {
		return nil, err
	}
	format := opts.Format
	if format == "" {
		format = codereview.FormatMarkdown
	}
	return &registry.Result{
		Format: resultFormat(format),
		Text:   review.Render(format),
		Data:   review,
	}, nil
}

func (tk *Toolkit) runResearch(ctx context.Context, path string, opts registry.Options) (*registry.Result, error) {
	if tk.Researcher == nil {
		return nil, ErrLLMUnavailable
	}
	topic := opts.Topic
	if topic == "" {
		topic = path
	}
	report, err := tk.Researcher.Run(ctx, topic)
	if err != nil {
		return nil, err
	}
	return &registry.Result{
		Format: registry.FormatMarkdown,
		Text:   report.Markdown,
		Data:   report,
	}, nil
}

func (tk *Toolkit) createDocumentation(ctx context.Context, path string, opts registry.Options) (*registry.Result, error) {
	if tk.Docs == nil {
		return nil, ErrLLMUnavailable
	}
	res, err := tk.Docs.Generate(ctx, path, opts.Language)
	if err != nil {
		return nil, err
	}
	return &registry.Result{
		Format: registry.FormatMarkdown,
		Text:   "```" + res.Language + "\n" + res.Documentation + "\n```",
		Data:   res,
	}, nil
}

func resultFormat(format string) string {
	switch format {
	case compliance.FormatJSON:
		return registry.FormatJSON
	case compliance.FormatMarkdown:
		return registry.FormatMarkdown
	default:
		return registry.FormatText
	}
}
