package inference

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	ollama "github.com/ollama/ollama/api"
)

// OllamaGenerator runs prompts against a local Ollama server
type OllamaGenerator struct {
	client *ollama.Client
	model  string
}

// NewOllamaGenerator connects to host, or to OLLAMA_HOST when host is empty
func NewOllamaGenerator(host, model string) (*OllamaGenerator, error) {
	var client *ollama.Client
	if host == "" {
		c, err := ollama.ClientFromEnvironment()
		if err != nil {
			return nil, fmt.Errorf("could not create ollama client: %w", err)
		}
		client = c
	} else {
		if !strings.Contains(host, "://") {
			host = "http://" + host
		}
		u, err := url.Parse(host)
		if err != nil {
			return nil, fmt.Errorf("invalid ollama host %q: %w", host, err)
		}
		client = ollama.NewClient(u, http.DefaultClient)
	}
	return &OllamaGenerator{client: client, model: strings.TrimPrefix(model, "ollama:")}, nil
}

// GenerateText implements TextGenerator
func (o *OllamaGenerator) GenerateText(ctx context.Context, system, prompt string) (string, error) {
	var messages []ollama.Message
	if system != "" {
		messages = append(messages, ollama.Message{Role: "system", Content: system})
	}
	messages = append(messages, ollama.Message{Role: "user", Content: prompt})

	numCtx := EstimateTokens(system+prompt, o.model) + 1000
	if numCtx < 4096 {
		numCtx = 4096
	}

	req := &ollama.ChatRequest{
		Model:    o.model,
		Messages: messages,
		Options: map[string]interface{}{
			"temperature": 0,
			"num_ctx":     numCtx,
		},
	}

	var sb strings.Builder
	err := o.client.Chat(ctx, req, func(res ollama.ChatResponse) error {
		sb.WriteString(res.Message.Content)
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("ollama chat failed: %w", err)
	}
	return sb.String(), nil
}
