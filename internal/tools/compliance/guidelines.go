package compliance

import (
	_ "embed"
	"fmt"
	"os"
	"regexp"

	"gopkg.in/yaml.v3"
)

//go:embed guidelines.yaml
var defaultGuidelines []byte

// Guidelines are the tunable thresholds behind the rules
type Guidelines struct {
	MaxFunctionLines  int      `yaml:"max_function_lines" json:"max_function_lines"`
	MaxParameters     int      `yaml:"max_parameters" json:"max_parameters"`
	TicketPattern     string   `yaml:"ticket_pattern" json:"ticket_pattern"`
	PrintAllowedFiles []string `yaml:"print_allowed_files" json:"print_allowed_files"`
	DisabledRules     []string `yaml:"disabled_rules" json:"disabled_rules"`

	ticketRe *regexp.Regexp
}

// DefaultGuidelines returns the built-in guidelines
func DefaultGuidelines() *Guidelines {
	g, err := parseGuidelines(defaultGuidelines, nil)
	if err != nil {
		panic(fmt.Sprintf("embedded guidelines: %v", err))
	}
	return g
}

// LoadGuidelines reads a YAML file over the defaults. An empty path returns
// the defaults.
func LoadGuidelines(path string) (*Guidelines, error) {
	if path == "" {
		return DefaultGuidelines(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read guidelines: %w", err)
	}
	return parseGuidelines(data, DefaultGuidelines())
}

func parseGuidelines(data []byte, base *Guidelines) (*Guidelines, error) {
	g := &Guidelines{}
	if base != nil {
		*g = *base
	}
	if err := yaml.Unmarshal(data, g); err != nil {
		return nil, fmt.Errorf("invalid guidelines: %w", err)
	}
	if g.MaxFunctionLines <= 0 || g.MaxParameters <= 0 {
		return nil, fmt.Errorf("invalid guidelines: limits must be positive")
	}
	re, err := regexp.Compile(`(?:TODO|FIXME)\(` + g.TicketPattern + `\)`)
	if err != nil {
		return nil, fmt.Errorf("invalid ticket_pattern: %w", err)
	}
	g.ticketRe = re
	return g, nil
}

func (g *Guidelines) enabled(rule string) bool {
	for _, r := range g.DisabledRules {
		if r == rule {
			return false
		}
	}
	return true
}

func (g *Guidelines) printAllowed(base string) bool {
	for _, f := range g.PrintAllowedFiles {
		if f == base {
			return true
		}
	}
	return false
}
