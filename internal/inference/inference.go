// Package inference wraps the hosted and local LLM providers behind one
// TextGenerator with ordered fallbacks.
package inference

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"

	"devguard/internal/config"
)

// TextGenerator produces a completion for a system + user prompt pair
type TextGenerator interface {
	GenerateText(ctx context.Context, system, prompt string) (string, error)
}

// ErrNoProvider is returned when no attempt could be configured
var ErrNoProvider = errors.New("no LLM provider configured")

// AttemptConfig defines one provider/model to try
type AttemptConfig struct {
	ProviderName string
	ModelName    string
	APIKey       string
	Endpoint     string
	MaxTokens    int
}

// Attempt holds an initialized generator and its config
type Attempt struct {
	Generator TextGenerator
	Config    AttemptConfig
}

// Service tries its attempts in order until one succeeds
type Service struct {
	mu          sync.RWMutex
	attempts    []Attempt
	tokenBudget int
}

// NewService wraps already-built attempts
func NewService(tokenBudget int, attempts ...Attempt) *Service {
	return &Service{attempts: attempts, tokenBudget: tokenBudget}
}

// NewServiceFromConfig builds the primary attempt for provider/model plus the
// router fallbacks. Attempts whose credentials are missing are skipped.
func NewServiceFromConfig(cfg *config.Config, provider, model string) (*Service, error) {
	specs := []string{provider + ":" + model}
	specs = append(specs, cfg.Router.Fallbacks...)

	svc := &Service{tokenBudget: cfg.Router.TokenBudget}
	for _, spec := range specs {
		name, modelName, _ := strings.Cut(spec, ":")
		name = strings.ToLower(strings.TrimSpace(name))
		creds, ok := cfg.Credentials(name)
		if !ok {
			log.Printf("[WARN] Inference: unknown provider %q, skipping", name)
			continue
		}
		if modelName == "" {
			modelName = creds.Model
		}
		if name != "ollama" && creds.APIKey == "" {
			log.Printf("[WARN] Inference: no API key for %s, skipping model %s", name, modelName)
			continue
		}
		if name == "ollama" && creds.Endpoint == "" {
			continue
		}

		attemptConf := AttemptConfig{
			ProviderName: name,
			ModelName:    modelName,
			APIKey:       creds.APIKey,
			Endpoint:     creds.Endpoint,
			MaxTokens:    cfg.Router.MaxTokens,
		}
		gen, err := newGenerator(attemptConf)
		if err != nil {
			log.Printf("[ERROR] Inference: failed to create %s/%s: %v", name, modelName, err)
			continue
		}
		svc.attempts = append(svc.attempts, Attempt{Generator: gen, Config: attemptConf})
		log.Printf("✅ Inference: configured %s/%s", name, modelName)
	}

	if len(svc.attempts) == 0 {
		return svc, ErrNoProvider
	}
	return svc, nil
}

func newGenerator(c AttemptConfig) (TextGenerator, error) {
	switch c.ProviderName {
	case "gemini":
		return NewGeminiGenerator(c.APIKey, c.ModelName, c.MaxTokens), nil
	case "ollama":
		return NewOllamaGenerator(c.Endpoint, c.ModelName)
	default:
		return NewLLMAdapter(c)
	}
}

// Available reports whether at least one attempt is configured
func (s *Service) Available() bool {
	if s == nil {
		return false
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.attempts) > 0
}

// Models lists the configured attempts as provider/model
func (s *Service) Models() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, 0, len(s.attempts))
	for _, a := range s.attempts {
		out = append(out, a.Config.ProviderName+"/"+a.Config.ModelName)
	}
	return out
}

// GenerateText truncates the prompt to the token budget and walks the
// attempts until one answers. All failures are joined.
func (s *Service) GenerateText(ctx context.Context, system, prompt string) (string, error) {
	s.mu.RLock()
	attempts := append([]Attempt(nil), s.attempts...)
	budget := s.tokenBudget
	s.mu.RUnlock()

	if len(attempts) == 0 {
		return "", ErrNoProvider
	}

	var errs []error
	for _, a := range attempts {
		p := prompt
		if budget > 0 {
			p = TruncateToTokens(prompt, a.Config.ModelName, budget)
		}
		out, err := a.Generator.GenerateText(ctx, system, p)
		if err == nil {
			return out, nil
		}
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		log.Printf("⚠️  Inference: %s/%s failed: %v", a.Config.ProviderName, a.Config.ModelName, err)
		errs = append(errs, fmt.Errorf("%s/%s: %w", a.Config.ProviderName, a.Config.ModelName, err))
	}
	return "", errors.Join(errs...)
}
