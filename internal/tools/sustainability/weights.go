// Package sustainability runs PMD over Java sources and turns its findings
// into a potential eco-impact score.
package sustainability

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// DefaultWeights are the eco-impact points per PMD rule. Rules not listed score 0.
var DefaultWeights = map[string]int{
	// performance
	"AvoidInstantiatingObjectsInLoops":       10,
	"UseStringBufferForStringAppendsInLoops": 8,
	"AppendCharacterWithChar":                5,
	"AvoidBranchingStatementAsLastInLoop":    3,
	"OptimizeStartsWith":                     4,
	"AvoidFileStream":                        3,
	"UseConcurrentHashMap":                   2,

	// complexity
	"CyclomaticComplexity":   7,
	"NPathComplexity":        7,
	"CognitiveComplexity":    8,
	"ExcessiveMethodLength":  5,
	"ExcessiveParameterList": 4,
	"TooManyMethods":         3,

	// bad practices
	"SimplifyBooleanExpressions":       2,
	"AvoidDeeplyNestedIfStmts":         4,
	"EmptyCatchBlock":                  3,
	"FinalizeDoesNotCallSuperFinalize": 2,
	"CloseResource":                    9,

	// unused code
	"UnusedLocalVariable":   1,
	"UnusedPrivateMethod":   2,
	"UnusedFormalParameter": 1,
	"UnusedPrivateField":    1,
}

// Weights returns a copy of the defaults
func Weights() map[string]int {
	out := make(map[string]int, len(DefaultWeights))
	for k, v := range DefaultWeights {
		out[k] = v
	}
	return out
}

// LoadWeights merges a YAML map of rule: points over the defaults. A rule set
// to 0 no longer contributes. An empty path returns the defaults.
func LoadWeights(path string) (map[string]int, error) {
	weights := Weights()
	if path == "" {
		return weights, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read weights: %w", err)
	}
	var overrides map[string]int
	if err := yaml.Unmarshal(data, &overrides); err != nil {
		return nil, fmt.Errorf("invalid weights file: %w", err)
	}
	for rule, points := range overrides {
		if points < 0 {
			return nil, fmt.Errorf("invalid weight for %s: %d", rule, points)
		}
		weights[rule] = points
	}
	return weights, nil
}
