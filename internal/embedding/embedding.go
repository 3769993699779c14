// Package embedding turns report text into vectors for the report store.
package embedding

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"hash/fnv"
	"io"
	"log"
	"math"
	"net/http"
	"strings"
	"time"
	"unicode"

	"github.com/philippgille/chromem-go"
)

// Dimensions is the size of locally generated embeddings
const Dimensions = 256

// Config represents embedding configuration
type Config struct {
	APIKey   string
	Endpoint string
	Model    string
}

// Manager generates embeddings, calling the external service when one is
// configured and falling back to local embeddings when it fails
type Manager struct {
	config     Config
	httpClient *http.Client
}

// NewManager creates a new embedding manager
func NewManager(config Config) *Manager {
	return &Manager{
		config:     config,
		httpClient: &http.Client{Timeout: 10 * time.Second},
	}
}

// Func returns a chromem-compatible embedding function
func (m *Manager) Func() chromem.EmbeddingFunc {
	return func(ctx context.Context, text string) ([]float32, error) {
		if m.config.Endpoint == "" {
			return Local(text), nil
		}
		embeddings, err := m.external(ctx, []string{text})
		if err != nil || len(embeddings) == 0 || len(embeddings[0]) == 0 {
			log.Printf("⚠️  External embedding service failed (%v), falling back to local embeddings", err)
			return Local(text), nil
		}
		return embeddings[0], nil
	}
}

// external calls the embedding endpoint with {"texts": [...]}
func (m *Manager) external(ctx context.Context, texts []string) ([][]float32, error) {
	reqBody := map[string]interface{}{"texts": texts}
	if m.config.Model != "" {
		reqBody["model"] = m.config.Model
	}
	jsonData, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal embedding request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, m.config.Endpoint, bytes.NewBuffer(jsonData))
	if err != nil {
		return nil, fmt.Errorf("failed to create embedding request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if m.config.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+m.config.APIKey)
	}

	resp, err := m.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to call embedding service: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read embedding response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("embedding service returned status %d: %s", resp.StatusCode, string(body))
	}

	var response struct {
		Success    bool        `json:"success"`
		Embeddings [][]float32 `json:"embeddings"`
		Error      string      `json:"error,omitempty"`
	}
	if err := json.Unmarshal(body, &response); err != nil {
		return nil, fmt.Errorf("failed to parse embedding response: %w", err)
	}
	if !response.Success {
		return nil, fmt.Errorf("embedding service error: %s", response.Error)
	}
	return response.Embeddings, nil
}

// Local builds a deterministic, normalized bag-of-words embedding. Each
// lower-cased word is hashed into one of Dimensions buckets.
func Local(text string) []float32 {
	vec := make([]float32, Dimensions)
	words := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '_'
	})
	for _, w := range words {
		h := fnv.New32a()
		h.Write([]byte(w))
		vec[h.Sum32()%Dimensions]++
	}
	if len(words) == 0 {
		// chromem rejects zero vectors
		vec[0] = 1
	}

	var norm float64
	for _, v := range vec {
		norm += float64(v) * float64(v)
	}
	norm = math.Sqrt(norm)
	for i := range vec {
		vec[i] = float32(float64(vec[i]) / norm)
	}
	return vec
}

// Similarity calculates cosine similarity between two embeddings
func Similarity(a, b []float32) float64 {
	if len(a) != len(b) {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}
