package inference

import (
	"log"
	"strings"
	"sync"

	"github.com/pkoukk/tiktoken-go"
)

// modelToEncoding maps model name fragments to tiktoken encodings. Every
// hosted model we route to is close enough to cl100k_base for budgeting.
var modelToEncoding = map[string]string{
	"gpt-4":    "cl100k_base",
	"gpt-3.5":  "cl100k_base",
	"cerebras": "cl100k_base",
	"gemini":   "cl100k_base",
	"claude":   "cl100k_base",
	"llama":    "cl100k_base",
	"mistral":  "cl100k_base",
	"groq":     "cl100k_base",
}

var (
	encMu    sync.Mutex
	encCache = map[string]*tiktoken.Tiktoken{}
	encFail  = map[string]bool{}
)

func encodingName(model string) string {
	lower := strings.ToLower(model)
	if name, ok := tiktoken.MODEL_TO_ENCODING[lower]; ok {
		return name
	}
	for prefix, name := range modelToEncoding {
		if strings.Contains(lower, prefix) {
			return name
		}
	}
	return "cl100k_base"
}

// getEncodingForModel returns a cached encoder, or nil when it can't be loaded
func getEncodingForModel(model string) *tiktoken.Tiktoken {
	name := encodingName(model)

	encMu.Lock()
	defer encMu.Unlock()
	if enc, ok := encCache[name]; ok {
		return enc
	}
	if encFail[name] {
		return nil
	}
	enc, err := tiktoken.GetEncoding(name)
	if err != nil {
		log.Printf("⚠️  Token encoder %s unavailable (%v), using character estimate", name, err)
		encFail[name] = true
		return nil
	}
	encCache[name] = enc
	return enc
}

// EstimateTokens counts tokens, falling back to ~4 chars per token
func EstimateTokens(content, model string) int {
	if enc := getEncodingForModel(model); enc != nil {
		return len(enc.Encode(content, nil, nil))
	}
	return len(content)/4 + 1
}

// TruncateToTokens cuts content down to at most budget tokens and marks the cut
func TruncateToTokens(content, model string, budget int) string {
	if budget <= 0 || content == "" {
		return content
	}

	const marker = "\n...[truncated]"
	if enc := getEncodingForModel(model); enc != nil {
		tokens := enc.Encode(content, nil, nil)
		if len(tokens) <= budget {
			return content
		}
		return enc.Decode(tokens[:budget]) + marker
	}

	maxChars := budget * 4
	if len(content) <= maxChars {
		return content
	}
	cut := maxChars
	// avoid splitting a UTF-8 sequence
	for cut > 0 && !utf8Start(content[cut]) {
		cut--
	}
	return content[:cut] + marker
}

func utf8Start(b byte) bool {
	return b&0xC0 != 0x80
}
