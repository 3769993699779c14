package inference

import (
	"context"
	"fmt"

	gollm "github.com/guiperry/gollm_cerebras"
	gollmconfig "github.com/guiperry/gollm_cerebras/config"
	"github.com/guiperry/gollm_cerebras/llm"
)

// LLMAdapter wraps a gollm instance (openai, groq, anthropic, cerebras)
type LLMAdapter struct {
	LLM          llm.LLM
	ProviderName string
}

// NewLLMAdapter creates the gollm instance for an attempt
func NewLLMAdapter(c AttemptConfig) (*LLMAdapter, error) {
	opts := []gollmconfig.ConfigOption{
		gollmconfig.SetProvider(c.ProviderName),
		gollmconfig.SetAPIKey(c.APIKey),
		gollmconfig.SetModel(c.ModelName),
		gollmconfig.SetMaxTokens(c.MaxTokens),
		gollmconfig.SetTemperature(0),
	}

	instance, err := gollm.NewLLM(opts...)
	if err != nil {
		return nil, err
	}
	initialized, ok := instance.(llm.LLM)
	if !ok {
		return nil, fmt.Errorf("instance for %s is not an llm.LLM", c.ModelName)
	}
	return &LLMAdapter{LLM: initialized, ProviderName: c.ProviderName}, nil
}

// GenerateText implements TextGenerator. gollm takes a single prompt so the
// system instructions are prepended.
func (a *LLMAdapter) GenerateText(ctx context.Context, system, prompt string) (string, error) {
	return a.LLM.Generate(ctx, llm.NewPrompt(joinSystem(system, prompt)))
}

func joinSystem(system, prompt string) string {
	if system == "" {
		return prompt
	}
	return system + "\n\n" + prompt
}
