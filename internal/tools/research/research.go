// Package research turns a topic into a sourced markdown report: a planner
// outlines sections, researchers search the web for each section
// concurrently, and a writer drafts the text.
package research

import (
	"context"
	"fmt"
	"log"
	"strings"

	"golang.org/x/sync/errgroup"

	"devguard/internal/inference"
)

const plannerSystem = `You are scoping research for a concise technical report aimed at software developers.
Plan sections that can each be researched independently. Introduction and conclusion sections
never need research; main body sections do.`

const querySystem = `You are a researcher assigned to one section of a technical report.
Write focused web search queries of 3 to 6 terms that will find authoritative sources for the section.`

const sectionSystem = `You are a technical writer completing one section of a report.
Use only the provided sources. Write at most 200 words of Markdown.
Start with "## <section name>" on its own line and end with a "### Sources" subheading
followed by a numbered list of the URLs you used.`

const framingSystem = `You are a technical writer finishing a report from completed sections.
For an introduction: start with "# <report title>" followed by one short paragraph that previews the sections.
For a conclusion: start with "## Conclusion", summarise key takeaways and include at most one list or table.
Do not add sources.`

// PlannedSection is one section of the planner's outline
type PlannedSection struct {
	Name        string `json:"name" jsonschema:"required,description=Section title"`
	Description string `json:"description" jsonschema:"required,description=What the section covers and how to research it"`
	Research    bool   `json:"research" jsonschema:"description=Whether web research is needed"`
}

// Plan is the planner's outline
type Plan struct {
	Title    string           `json:"title" jsonschema:"required,description=Report title"`
	Sections []PlannedSection `json:"sections" jsonschema:"required,minItems=1"`
}

// Section is a planned section with its outcome
type Section struct {
	PlannedSection
	Content string   `json:"content,omitempty"`
	Sources []Source `json:"sources,omitempty"`
	Error   string   `json:"error,omitempty"`
}

type queryList struct {
	Queries []string `json:"queries" jsonschema:"required,minItems=1"`
}

// Report is the finished research report
type Report struct {
	Topic    string    `json:"topic"`
	Title    string    `json:"title"`
	Sections []Section `json:"sections"`
	Markdown string    `json:"markdown"`
}

// Config tunes the pipeline
type Config struct {
	NumberOfQueries int
	MaxSearchDepth  int
	MaxConcurrency  int
	ResultsPerQuery int
	ReportStructure string
}

// Researcher runs the plan, research and write pipeline
type Researcher struct {
	Planner inference.TextGenerator
	Writer  inference.TextGenerator
	Search  Searcher
	Config  Config
}

// New creates a researcher. A nil writer reuses the planner.
func New(planner, writer inference.TextGenerator, search Searcher, cfg Config) *Researcher {
	if writer == nil {
		writer = planner
	}
	if cfg.NumberOfQueries <= 0 {
		cfg.NumberOfQueries = 1
	}
	if cfg.MaxSearchDepth <= 0 {
		cfg.MaxSearchDepth = 1
	}
	if cfg.MaxConcurrency <= 0 {
		cfg.MaxConcurrency = 3
	}
	if cfg.ResultsPerQuery <= 0 {
		cfg.ResultsPerQuery = 5
	}
	return &Researcher{Planner: planner, Writer: writer, Search: search, Config: cfg}
}

// Run plans, researches and writes a report on topic. A failing section
// records its error and does not abort the report.
func (r *Researcher) Run(ctx context.Context, topic string) (*Report, error) {
	topic = strings.TrimSpace(topic)
	if topic == "" {
		return nil, fmt.Errorf("research topic is empty")
	}

	plan, err := r.plan(ctx, topic)
	if err != nil {
		return nil, fmt.Errorf("planning report: %w", err)
	}
	log.Printf("🔎 Planned %d sections for %q", len(plan.Sections), plan.Title)

	sections := make([]Section, len(plan.Sections))
	for i, ps := range plan.Sections {
		sections[i] = Section{PlannedSection: ps}
	}
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.Config.MaxConcurrency)
	for i := range sections {
		if !sections[i].Research {
			continue
		}
		g.Go(func() error {
			r.researchSection(gctx, topic, &sections[i])
			return nil
		})
	}
	_ = g.Wait()
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	completed := completedSections(sections)
	for i := range sections {
		if sections[i].Research {
			continue
		}
		content, err := r.writeFraming(ctx, topic, plan.Title, sections[i], completed)
		if err != nil {
			sections[i].Error = err.Error()
			continue
		}
		sections[i].Content = content
	}

	report := &Report{Topic: topic, Title: plan.Title, Sections: sections}
	report.Markdown = render(plan.Title, sections)
	return report, nil
}

func (r *Researcher) plan(ctx context.Context, topic string) (*Plan, error) {
	prompt := fmt.Sprintf(`Topic: %s

Report structure to follow:
%s

Return the report title and its sections in order.`, topic, r.Config.ReportStructure)

	var plan Plan
	if err := inference.GenerateJSON(ctx, r.Planner, plannerSystem, prompt, &plan); err != nil {
		return nil, err
	}
	if len(plan.Sections) == 0 {
		return nil, fmt.Errorf("planner returned no sections")
	}
	if strings.TrimSpace(plan.Title) == "" {
		plan.Title = topic
	}
	return &plan, nil
}

func (r *Researcher) researchSection(ctx context.Context, topic string, s *Section) {
	var ql queryList
	prompt := fmt.Sprintf("Topic: %s\nSection: %s\nDescription: %s\n\nReturn %d search queries.",
		topic, s.Name, s.Description, r.Config.NumberOfQueries)
	if err := inference.GenerateJSON(ctx, r.Writer, querySystem, prompt, &ql); err != nil {
		s.Error = fmt.Sprintf("generating queries: %v", err)
		return
	}
	if len(ql.Queries) > r.Config.NumberOfQueries {
		ql.Queries = ql.Queries[:r.Config.NumberOfQueries]
	}

	seen := make(map[string]bool)
	var searchErrs []string
	for _, q := range ql.Queries {
		results, err := r.searchWithFallback(ctx, q)
		if err != nil {
			searchErrs = append(searchErrs, err.Error())
			continue
		}
		for _, src := range results {
			if src.URL == "" || seen[src.URL] {
				continue
			}
			seen[src.URL] = true
			s.Sources = append(s.Sources, src)
		}
	}
	if len(s.Sources) == 0 && len(searchErrs) > 0 {
		s.Error = "search failed: " + strings.Join(searchErrs, "; ")
		return
	}

	content, err := r.Writer.GenerateText(ctx, sectionSystem, sectionPrompt(topic, s))
	if err != nil {
		s.Error = fmt.Sprintf("writing section: %v", err)
		return
	}
	s.Content = strings.TrimSpace(content)
}

// searchWithFallback retries with a shorter query when nothing is found, up
// to MaxSearchDepth attempts
func (r *Researcher) searchWithFallback(ctx context.Context, query string) ([]Source, error) {
	var lastErr error
	for depth := 0; depth < r.Config.MaxSearchDepth; depth++ {
		results, err := r.Search.Search(ctx, query, r.Config.ResultsPerQuery)
		if err == nil && len(results) > 0 {
			return results, nil
		}
		lastErr = err
		words := strings.Fields(query)
		if len(words) <= 2 {
			break
		}
		query = strings.Join(words[:max(2, len(words)/2)], " ")
	}
	return nil, lastErr
}

func sectionPrompt(topic string, s *Section) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Report topic: %s\nSection name: %s\nSection description: %s\n\nSources:\n", topic, s.Name, s.Description)
	if len(s.Sources) == 0 {
		sb.WriteString("(no sources found; write from general knowledge and say so)\n")
	}
	for i, src := range s.Sources {
		fmt.Fprintf(&sb, "%d. %s (%s)\n   %s\n", i+1, src.Title, src.URL, src.Content)
	}
	return sb.String()
}

func completedSections(sections []Section) string {
	var parts []string
	for _, s := range sections {
		if s.Research && s.Content != "" {
			parts = append(parts, s.Content)
		}
	}
	return strings.Join(parts, "\n\n")
}

func (r *Researcher) writeFraming(ctx context.Context, topic, title string, s Section, completed string) (string, error) {
	prompt := fmt.Sprintf("Report title: %s\nTopic: %s\nSection to write: %s\nDescription: %s\n\nCompleted sections:\n%s",
		title, topic, s.Name, s.Description, completed)
	out, err := r.Writer.GenerateText(ctx, framingSystem, prompt)
	if err != nil {
		return "", fmt.Errorf("writing %s: %w", s.Name, err)
	}
	return strings.TrimSpace(out), nil
}

// render lays sections out in plan order under the report title. The title
// is not repeated when the introduction already starts with it.
func render(title string, sections []Section) string {
	var sb strings.Builder
	if len(sections) == 0 || !strings.HasPrefix(sections[0].Content, "# ") {
		fmt.Fprintf(&sb, "# %s\n\n", title)
	}
	for _, s := range sections {
		switch {
		case s.Content != "":
			sb.WriteString(s.Content)
		case s.Error != "":
			fmt.Fprintf(&sb, "## %s\n\n_Section could not be completed: %s_", s.Name, s.Error)
		default:
			continue
		}
		sb.WriteString("\n\n")
	}
	return strings.TrimRight(sb.String(), "\n") + "\n"
}
