package inference

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/invopop/jsonschema"
)

// SchemaFor reflects the JSON schema of v
func SchemaFor(v interface{}) (string, error) {
	reflector := jsonschema.Reflector{
		DoNotReference: true,
		ExpandedStruct: true,
	}
	schema := reflector.Reflect(v)
	data, err := json.MarshalIndent(schema, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to marshal schema: %w", err)
	}
	return string(data), nil
}

// GenerateJSON asks gen for a JSON object shaped like out and decodes it
func GenerateJSON(ctx context.Context, gen TextGenerator, system, prompt string, out interface{}) error {
	schema, err := SchemaFor(out)
	if err != nil {
		return err
	}

	full := prompt + "\n\nRespond only with a single JSON object that validates against this JSON schema, with no prose:\n" + schema
	text, err := gen.GenerateText(ctx, system, full)
	if err != nil {
		return err
	}

	obj, err := ExtractJSON(text)
	if err != nil {
		return err
	}
	if err := json.Unmarshal([]byte(obj), out); err != nil {
		return fmt.Errorf("model returned invalid JSON: %w", err)
	}
	return nil
}

// ExtractJSON pulls the outermost JSON object out of a model reply, tolerating
// code fences and surrounding prose.
func ExtractJSON(text string) (string, error) {
	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start < 0 || end <= start {
		return "", fmt.Errorf("no JSON object in model reply")
	}
	return text[start : end+1], nil
}
