package sustainability

import (
	"encoding/xml"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// PMDNamespace is the namespace of PMD 6/7 XML reports
const PMDNamespace = "http://pmd.sourceforge.net/report/2.0.0"

// Struct tags without a namespace match elements in any namespace, so this
// decodes reports with or without the PMD default namespace.
type pmdReport struct {
	XMLName xml.Name  `xml:"pmd"`
	Files   []pmdFile `xml:"file"`
}

type pmdFile struct {
	Name       string         `xml:"name,attr"`
	Violations []pmdViolation `xml:"violation"`
}

type pmdViolation struct {
	Rule      string `xml:"rule,attr"`
	RuleSet   string `xml:"ruleset,attr"`
	BeginLine int    `xml:"beginline,attr"`
	Message   string `xml:",chardata"`
}

// RuleScore aggregates one rule
type RuleScore struct {
	Rule  string `json:"rule"`
	Count int    `json:"count"`
	Score int    `json:"score"`
}

// FileScore is the score of one file
type FileScore struct {
	File  string `json:"file"`
	Score int    `json:"score"`
}

// Score is the outcome of scoring a PMD report
type Score struct {
	Total int                   `json:"total"`
	Rules map[string]*RuleScore `json:"rules"`
	// only files with a score above zero
	Files map[string]int `json:"files"`
}

// ParseReport scores a PMD XML report read from r
func ParseReport(r io.Reader, weights map[string]int) (*Score, error) {
	var report pmdReport
	if err := xml.NewDecoder(r).Decode(&report); err != nil {
		return nil, fmt.Errorf("error parsing PMD report: %w", err)
	}

	score := &Score{Rules: make(map[string]*RuleScore), Files: make(map[string]int)}
	for _, f := range report.Files {
		name := f.Name
		if name == "" {
			name = "UnknownFile"
		}
		fileScore := 0
		for _, v := range f.Violations {
			points, ok := weights[v.Rule]
			if !ok {
				continue
			}
			score.Total += points
			fileScore += points
			rs := score.Rules[v.Rule]
			if rs == nil {
				rs = &RuleScore{Rule: v.Rule}
				score.Rules[v.Rule] = rs
			}
			rs.Count++
			rs.Score += points
		}
		if fileScore > 0 {
			score.Files[name] += fileScore
		}
	}
	return score, nil
}

// ScoreReport scores an existing PMD XML report file
func ScoreReport(path string, weights map[string]int) (*Score, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("file not found at %s: %w", path, err)
	}
	defer f.Close()
	return ParseReport(f, weights)
}

// SortedRules returns rules by score, highest first, ties by name
func (s *Score) SortedRules() []RuleScore {
	out := make([]RuleScore, 0, len(s.Rules))
	for _, r := range s.Rules {
		out = append(out, *r)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		return out[i].Rule < out[j].Rule
	})
	return out
}

// Hotspots returns files by score, highest first, ties by name
func (s *Score) Hotspots() []FileScore {
	out := make([]FileScore, 0, len(s.Files))
	for f, sc := range s.Files {
		out = append(out, FileScore{File: f, Score: sc})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		return out[i].File < out[j].File
	})
	return out
}

// Format renders the score. Verbose adds the per-rule and per-file breakdown.
func (s *Score) Format(verbose bool) string {
	var sb strings.Builder
	sb.WriteString("--- 🌿 PMD Sustainability & Resource Efficiency Analysis 🌿 ---\n\n")
	fmt.Fprintf(&sb, "🌍 Total Potential Eco-Impact Score: %d points\n", s.Total)
	if s.Total == 0 && len(s.Rules) == 0 {
		sb.WriteString("Excellent! No relevant rule violations found based on the current configuration. Keep up the green coding! 👍\n")
	}

	if verbose {
		if rules := s.SortedRules(); len(rules) > 0 {
			sb.WriteString("\n💡 Rule-Based Sustainability Insights (Violations contributing to score):\n")
			for _, r := range rules {
				fmt.Fprintf(&sb, "  - Rule: %-40s | Occurrences: %-4d | Impact Points: %d\n", r.Rule, r.Count, r.Score)
			}
		}
		if files := s.Hotspots(); len(files) > 0 {
			sb.WriteString("\n💻 File Hotspots (Files with highest Potential Eco-Impact Score):\n")
			for _, f := range files {
				fmt.Fprintf(&sb, "  - File: %-70s | Impact Points: %d\n", shortPath(f.File), f.Score)
			}
		}
	}

	sb.WriteString("\n🌱 Our Planet, Our Code:\n")
	sb.WriteString("This score is a heuristic. It helps identify code patterns that *may* lead to\n")
	sb.WriteString("higher energy and resource consumption. Lower scores suggest more resource-efficient code.\n")
	sb.WriteString("Tune the rule weights (SUSTAINABILITY_WEIGHTS_FILE) to reflect your project's goals.\n")
	sb.WriteString("More efficient code is greener code! ♻️\n")
	return sb.String()
}

// shortPath prefers a path relative to the working directory when shorter
func shortPath(p string) string {
	wd, err := os.Getwd()
	if err != nil {
		return p
	}
	rel, err := filepath.Rel(wd, p)
	if err != nil || len(rel) >= len(p) {
		return p
	}
	return rel
}
