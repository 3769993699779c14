package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"
)

// Config represents the main application configuration
type Config struct {
	AllowedFileDir            string              `json:"allowed_file_dir"`
	ToolMetadataDir           string              `json:"tool_metadata_dir"`
	DataDir                   string              `json:"data_dir"`
	ReportsDir                string              `json:"reports_dir"`
	ServerPort                int                 `json:"server_port"`
	LogFile                   string              `json:"log_file"`
	GuidelinesFile            string              `json:"guidelines_file"`
	SustainabilityWeightsFile string              `json:"sustainability_weights_file"`
	Router                    RouterConfig        `json:"router"`
	AIProviders               AIProviderConfig    `json:"ai_providers"`
	Research                  ResearchConfig      `json:"research"`
	PMD                       PMDConfig           `json:"pmd"`
	Watcher                   WatcherConfig       `json:"watcher"`
	Kafka                     KafkaConfig         `json:"kafka"`
	Auth                      AuthConfig          `json:"auth"`
	Embedding                 ProviderCredentials `json:"embedding"`
}

// RouterConfig selects the model used to classify chat requests
type RouterConfig struct {
	Provider    string   `json:"provider"`
	Model       string   `json:"model"`
	Fallbacks   []string `json:"fallbacks"` // "provider:model" pairs
	MaxTokens   int      `json:"max_tokens"`
	TokenBudget int      `json:"token_budget"`
}

// AIProviderConfig defines the configuration for AI providers
type AIProviderConfig struct {
	OpenAI    ProviderCredentials `json:"openai"`
	Groq      ProviderCredentials `json:"groq"`
	Anthropic ProviderCredentials `json:"anthropic"`
	Cerebras  ProviderCredentials `json:"cerebras"`
	Gemini    ProviderCredentials `json:"gemini"`
	Ollama    ProviderCredentials `json:"ollama"`
}

// ProviderCredentials represents credentials for an AI provider
type ProviderCredentials struct {
	APIKey   string `json:"api_key"`
	Endpoint string `json:"endpoint"`
	Model    string `json:"model"`
}

// ResearchConfig configures the deep research pipeline
type ResearchConfig struct {
	SearchAPI       string `json:"search_api"`
	TavilyAPIKey    string `json:"tavily_api_key"`
	NumberOfQueries int    `json:"number_of_queries"`
	MaxSearchDepth  int    `json:"max_search_depth"`
	MaxConcurrency  int    `json:"max_concurrency"`
	PlannerProvider string `json:"planner_provider"`
	PlannerModel    string `json:"planner_model"`
	WriterProvider  string `json:"writer_provider"`
	WriterModel     string `json:"writer_model"`
	ReportStructure string `json:"report_structure"`
}

// PMDConfig locates the PMD binary and its default ruleset
type PMDConfig struct {
	Path    string `json:"path"`
	Ruleset string `json:"ruleset"`
}

// WatcherConfig controls the background file watcher
type WatcherConfig struct {
	Enable    bool          `json:"enable"`
	Debounce  time.Duration `json:"debounce"`
	QueueSize int           `json:"queue_size"`
	Tools     []string      `json:"tools"`
}

// KafkaConfig controls the optional event stream
type KafkaConfig struct {
	Enable   bool     `json:"enable"`
	Brokers  []string `json:"brokers"`
	Topic    string   `json:"topic"`
	ClientID string   `json:"client_id"`
}

// AuthConfig controls API bearer auth and the chat session cookie
type AuthConfig struct {
	Enable        bool          `json:"enable"`
	JWTSecret     string        `json:"jwt_secret"`
	SessionSecret string        `json:"session_secret"`
	TokenTTL      time.Duration `json:"token_ttl"`
}

// DefaultReportStructure is the outline handed to the research planner
const DefaultReportStructure = `Use this structure to create a report on the user-provided topic:

1. Introduction (no research needed)
   - Brief overview of the topic area

2. Main Body Sections:
   - Each section should focus on a sub-topic of the user-provided topic

3. Conclusion
   - Aim for 1 structural element (either a list or table) that distills the main body sections
   - Provide a concise summary of the report`

// Load loads configuration from environment variables
func Load() *Config {
	return &Config{
		AllowedFileDir:            getEnv("ALLOWED_FILE_DIR", "."),
		ToolMetadataDir:           getEnv("TOOL_METADATA_DIR", ""),
		DataDir:                   getEnv("DATA_DIR", DefaultDataDir()),
		ReportsDir:                getEnv("REPORTS_DIR", "reports"),
		ServerPort:                getEnvInt("SERVER_PORT", 8501),
		LogFile:                   getEnv("LOG_FILE", ""),
		GuidelinesFile:            getEnv("GUIDELINES_FILE", ""),
		SustainabilityWeightsFile: getEnv("SUSTAINABILITY_WEIGHTS_FILE", ""),
		Router: RouterConfig{
			Provider:    getEnv("ROUTER_PROVIDER", "openai"),
			Model:       getEnv("ROUTER_MODEL", "gpt-3.5-turbo"),
			Fallbacks:   getEnvList("ROUTER_FALLBACKS", nil),
			MaxTokens:   getEnvInt("ROUTER_MAX_TOKENS", 1024),
			TokenBudget: getEnvInt("TOKEN_BUDGET", 6000),
		},
		AIProviders: AIProviderConfig{
			OpenAI: ProviderCredentials{
				APIKey:   getEnv("OPENAI_API_KEY", ""),
				Endpoint: getEnv("OPENAI_ENDPOINT", "https://api.openai.com/v1"),
				Model:    getEnv("OPENAI_MODEL", "gpt-3.5-turbo"),
			},
			Groq: ProviderCredentials{
				APIKey: getEnv("GROQ_API_KEY", ""),
				Model:  getEnv("GROQ_MODEL", "llama-3.3-70b-versatile"),
			},
			Anthropic: ProviderCredentials{
				APIKey: getEnv("ANTHROPIC_API_KEY", ""),
				Model:  getEnv("ANTHROPIC_MODEL", "claude-3-5-sonnet-latest"),
			},
			Cerebras: ProviderCredentials{
				APIKey: getEnv("CEREBRAS_API_KEY", ""),
				Model:  getEnv("CEREBRAS_MODEL", "llama3.3-70b"),
			},
			Gemini: ProviderCredentials{
				APIKey: getEnv("GEMINI_API_KEY", ""),
				Model:  getEnv("GEMINI_MODEL", "gemini-1.5-flash"),
			},
			Ollama: ProviderCredentials{
				Endpoint: getEnv("OLLAMA_HOST", ""),
				Model:    getEnv("OLLAMA_MODEL", "llama3.1"),
			},
		},
		Research: ResearchConfig{
			SearchAPI:       getEnv("SEARCH_API", "duckduckgo"),
			TavilyAPIKey:    getEnv("TAVILY_API_KEY", ""),
			NumberOfQueries: getEnvInt("NUMBER_OF_QUERIES", 1),
			MaxSearchDepth:  getEnvInt("MAX_SEARCH_DEPTH", 2),
			MaxConcurrency:  getEnvInt("RESEARCH_MAX_CONCURRENCY", 3),
			PlannerProvider: getEnv("PLANNER_PROVIDER", ""),
			PlannerModel:    getEnv("PLANNER_MODEL", ""),
			WriterProvider:  getEnv("WRITER_PROVIDER", ""),
			WriterModel:     getEnv("WRITER_MODEL", ""),
			ReportStructure: getEnv("REPORT_STRUCTURE", DefaultReportStructure),
		},
		PMD: PMDConfig{
			Path:    getEnv("PMD_PATH", "pmd"),
			Ruleset: getEnv("PMD_RULESET", "category/java/bestpractices.xml"),
		},
		Watcher: WatcherConfig{
			Enable:    getEnvBool("WATCH_ENABLE", true),
			Debounce:  time.Duration(getEnvInt("WATCH_DEBOUNCE_MS", 500)) * time.Millisecond,
			QueueSize: getEnvInt("WATCH_QUEUE_SIZE", 100),
			Tools:     getEnvList("WATCH_TOOLS", []string{"library_license_checker", "internal_guideline_compliance_checker"}),
		},
		Kafka: KafkaConfig{
			Enable:   getEnvBool("KAFKA_ENABLE", false),
			Brokers:  getEnvList("KAFKA_BROKERS", []string{"localhost:9092"}),
			Topic:    getEnv("KAFKA_TOPIC", "devguard-events"),
			ClientID: getEnv("KAFKA_CLIENT_ID", "devguard"),
		},
		Auth: AuthConfig{
			Enable:        getEnvBool("AUTH_ENABLE", false),
			JWTSecret:     getEnv("JWT_SECRET", "change-me-jwt-secret"),
			SessionSecret: getEnv("SESSION_SECRET", "change-me-session-secret"),
			TokenTTL:      time.Duration(getEnvInt("TOKEN_TTL_HOURS", 24)) * time.Hour,
		},
		Embedding: ProviderCredentials{
			APIKey:   getEnv("EMBEDDING_API_KEY", ""),
			Endpoint: getEnv("EMBEDDING_ENDPOINT", ""),
		},
	}
}

// DefaultDataDir returns ~/.devguard, or .devguard when no home directory is known
func DefaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil || home == "" {
		return ".devguard"
	}
	return filepath.Join(home, ".devguard")
}

// Credentials returns the credentials block for a provider name
func (c *Config) Credentials(provider string) (ProviderCredentials, bool) {
	switch strings.ToLower(provider) {
	case "openai":
		return c.AIProviders.OpenAI, true
	case "groq":
		return c.AIProviders.Groq, true
	case "anthropic":
		return c.AIProviders.Anthropic, true
	case "cerebras":
		return c.AIProviders.Cerebras, true
	case "gemini":
		return c.AIProviders.Gemini, true
	case "ollama":
		return c.AIProviders.Ollama, true
	}
	return ProviderCredentials{}, false
}

// Masked replaces secrets in Redacted copies
const Masked = "********"

// SettingsFileName is where dashboard edits are persisted inside DataDir
const SettingsFileName = "settings.json"

// Redacted returns a copy safe to show in the dashboard
func (c *Config) Redacted() *Config {
	cp := *c
	mask := func(s string) string {
		if s == "" {
			return ""
		}
		return Masked
	}
	cp.AIProviders.OpenAI.APIKey = mask(c.AIProviders.OpenAI.APIKey)
	cp.AIProviders.Groq.APIKey = mask(c.AIProviders.Groq.APIKey)
	cp.AIProviders.Anthropic.APIKey = mask(c.AIProviders.Anthropic.APIKey)
	cp.AIProviders.Cerebras.APIKey = mask(c.AIProviders.Cerebras.APIKey)
	cp.AIProviders.Gemini.APIKey = mask(c.AIProviders.Gemini.APIKey)
	cp.Research.TavilyAPIKey = mask(c.Research.TavilyAPIKey)
	cp.Embedding.APIKey = mask(c.Embedding.APIKey)
	cp.Auth.JWTSecret = mask(c.Auth.JWTSecret)
	cp.Auth.SessionSecret = mask(c.Auth.SessionSecret)
	return &cp
}

// RestoreMasked copies secrets from prev into c wherever c still holds the
// Masked placeholder, so a redacted settings round trip keeps the real keys
func (c *Config) RestoreMasked(prev *Config) {
	restore := func(dst *string, src string) {
		if *dst == Masked {
			*dst = src
		}
	}
	restore(&c.AIProviders.OpenAI.APIKey, prev.AIProviders.OpenAI.APIKey)
	restore(&c.AIProviders.Groq.APIKey, prev.AIProviders.Groq.APIKey)
	restore(&c.AIProviders.Anthropic.APIKey, prev.AIProviders.Anthropic.APIKey)
	restore(&c.AIProviders.Cerebras.APIKey, prev.AIProviders.Cerebras.APIKey)
	restore(&c.AIProviders.Gemini.APIKey, prev.AIProviders.Gemini.APIKey)
	restore(&c.Research.TavilyAPIKey, prev.Research.TavilyAPIKey)
	restore(&c.Embedding.APIKey, prev.Embedding.APIKey)
	restore(&c.Auth.JWTSecret, prev.Auth.JWTSecret)
	restore(&c.Auth.SessionSecret, prev.Auth.SessionSecret)
}

// getEnv retrieves environment variable with fallback
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvBool retrieves boolean environment variable with fallback
func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

// getEnvInt retrieves integer environment variable with fallback
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

// getEnvList splits a comma separated variable, dropping blanks
func getEnvList(key string, defaultValue []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// SettingsValidator defines the interface for validating settings
type SettingsValidator interface {
	Validate(settings *Config) error
}

// SettingsChangeListener defines the interface for listening to settings changes
type SettingsChangeListener interface {
	OnSettingsChanged(oldSettings, newSettings *Config)
}

// SettingsManager manages application settings with validation and persistence
type SettingsManager struct {
	settings   *Config
	validators []SettingsValidator
	listeners  []SettingsChangeListener
	mutex      sync.RWMutex
}

// DefaultSettingsValidator provides default validation for settings
type DefaultSettingsValidator struct{}

var knownProviders = map[string]bool{
	"openai":    true,
	"groq":      true,
	"anthropic": true,
	"cerebras":  true,
	"gemini":    true,
	"ollama":    true,
}

var knownSearchAPIs = map[string]bool{
	"duckduckgo": true,
	"pubmed":     true,
	"tavily":     true,
}

// Validate validates the configuration settings
func (v *DefaultSettingsValidator) Validate(settings *Config) error {
	if settings.AllowedFileDir == "" {
		return fmt.Errorf("allowed_file_dir is required")
	}
	if info, err := os.Stat(settings.AllowedFileDir); err != nil || !info.IsDir() {
		return fmt.Errorf("allowed_file_dir %q is not a directory", settings.AllowedFileDir)
	}

	if settings.ServerPort < 1 || settings.ServerPort > 65535 {
		return fmt.Errorf("server_port must be between 1 and 65535")
	}

	if !knownProviders[strings.ToLower(settings.Router.Provider)] {
		return fmt.Errorf("invalid router provider: %s", settings.Router.Provider)
	}
	for _, fb := range settings.Router.Fallbacks {
		provider, _, _ := strings.Cut(fb, ":")
		if !knownProviders[strings.ToLower(provider)] {
			return fmt.Errorf("invalid router fallback provider: %s", provider)
		}
	}

	if !knownSearchAPIs[strings.ToLower(settings.Research.SearchAPI)] {
		return fmt.Errorf("invalid search_api: %s", settings.Research.SearchAPI)
	}
	if settings.Research.NumberOfQueries < 1 || settings.Research.NumberOfQueries > 10 {
		return fmt.Errorf("number_of_queries must be between 1 and 10")
	}
	if settings.Research.MaxConcurrency < 1 {
		return fmt.Errorf("research max_concurrency must be positive")
	}

	if settings.Watcher.Debounce < 50*time.Millisecond {
		return fmt.Errorf("watcher debounce must be at least 50ms")
	}
	if settings.Watcher.QueueSize < 1 {
		return fmt.Errorf("watcher queue_size must be positive")
	}

	if settings.Auth.Enable && len(settings.Auth.JWTSecret) < 16 {
		return fmt.Errorf("jwt_secret must be at least 16 characters when auth is enabled")
	}

	return nil
}

// NewSettingsManager creates a new settings manager seeded with initial
func NewSettingsManager(initial *Config) *SettingsManager {
	if initial == nil {
		initial = getDefaultSettings()
	}
	return &SettingsManager{
		settings:   initial,
		validators: []SettingsValidator{&DefaultSettingsValidator{}},
		listeners:  make([]SettingsChangeListener, 0),
	}
}

// GetDefaultSettings returns default configuration settings
func (sm *SettingsManager) GetDefaultSettings() *Config {
	return getDefaultSettings()
}

// getDefaultSettings returns default configuration settings
func getDefaultSettings() *Config {
	return &Config{
		AllowedFileDir: ".",
		DataDir:        DefaultDataDir(),
		ReportsDir:     "reports",
		ServerPort:     8501,
		Router: RouterConfig{
			Provider:    "openai",
			Model:       "gpt-3.5-turbo",
			MaxTokens:   1024,
			TokenBudget: 6000,
		},
		Research: ResearchConfig{
			SearchAPI:       "duckduckgo",
			NumberOfQueries: 1,
			MaxSearchDepth:  2,
			MaxConcurrency:  3,
			ReportStructure: DefaultReportStructure,
		},
		PMD: PMDConfig{
			Path:    "pmd",
			Ruleset: "category/java/bestpractices.xml",
		},
		Watcher: WatcherConfig{
			Enable:    true,
			Debounce:  500 * time.Millisecond,
			QueueSize: 100,
			Tools:     []string{"library_license_checker", "internal_guideline_compliance_checker"},
		},
		Kafka: KafkaConfig{
			Brokers:  []string{"localhost:9092"},
			Topic:    "devguard-events",
			ClientID: "devguard",
		},
		Auth: AuthConfig{
			TokenTTL: 24 * time.Hour,
		},
	}
}

// GetSettings returns a copy of the current settings
func (sm *SettingsManager) GetSettings() *Config {
	sm.mutex.RLock()
	defer sm.mutex.RUnlock()

	// Deep copy through JSON so callers can't mutate slices we hold
	settingsCopy, _ := json.Marshal(sm.settings)
	var copy Config
	json.Unmarshal(settingsCopy, &copy)

	return &copy
}

// UpdateSettings updates the settings after validation
func (sm *SettingsManager) UpdateSettings(newSettings *Config) error {
	sm.mutex.Lock()

	for _, validator := range sm.validators {
		if err := validator.Validate(newSettings); err != nil {
			sm.mutex.Unlock()
			return fmt.Errorf("validation failed: %w", err)
		}
	}

	oldSettings := sm.settings
	sm.settings = newSettings
	listeners := append([]SettingsChangeListener(nil), sm.listeners...)
	sm.mutex.Unlock()

	for _, listener := range listeners {
		listener.OnSettingsChanged(oldSettings, newSettings)
	}

	return nil
}

// AddValidator adds a settings validator
func (sm *SettingsManager) AddValidator(validator SettingsValidator) {
	sm.mutex.Lock()
	defer sm.mutex.Unlock()
	sm.validators = append(sm.validators, validator)
}

// AddChangeListener adds a settings change listener
func (sm *SettingsManager) AddChangeListener(listener SettingsChangeListener) {
	sm.mutex.Lock()
	defer sm.mutex.Unlock()
	sm.listeners = append(sm.listeners, listener)
}

// SaveToFile saves the current settings to a file
func (sm *SettingsManager) SaveToFile(filename string) error {
	sm.mutex.RLock()
	defer sm.mutex.RUnlock()

	data, err := json.MarshalIndent(sm.settings, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal settings: %w", err)
	}

	if err := os.WriteFile(filename, data, 0600); err != nil {
		return fmt.Errorf("failed to write settings file: %w", err)
	}

	return nil
}

// LoadFromFile loads settings from a file
func (sm *SettingsManager) LoadFromFile(filename string) error {
	data, err := os.ReadFile(filename)
	if err != nil {
		return fmt.Errorf("failed to read settings file: %w", err)
	}

	var newSettings Config
	if err := json.Unmarshal(data, &newSettings); err != nil {
		return fmt.Errorf("failed to parse settings file: %w", err)
	}

	return sm.UpdateSettings(&newSettings)
}
