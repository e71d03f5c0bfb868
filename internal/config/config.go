// Package config loads the flat YAML configuration file, applies
// environment overrides and validates everything before any item is
// processed. Load is the only place in the module allowed to log.Fatalf.
package config

import (
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"labelqa/internal/taxonomy"
)

const defaultAnthropicModel = "claude-sonnet-4-5-20250929"
const defaultOpenAIModel = "gpt-4o-mini"
const defaultGeminiModel = "gemini-2.0-flash"
const defaultOllamaModel = "llama3.1"
const defaultOllamaBaseURL = "http://localhost:11434"

type Config struct {
	DBPath       string `yaml:"db_path"`
	KeywordsPath string `yaml:"keywords_path"`
	Timezone     string `yaml:"timezone"`

	LLMProvider     string `yaml:"llm_provider"`
	LLMModel        string `yaml:"llm_model"`
	LLMBaseURL      string `yaml:"llm_base_url"`
	LLMMaxRetries   int    `yaml:"llm_max_retries"`
	CacheTTLHours   int    `yaml:"cache_ttl_hours"`
	AnthropicAPIKey string `yaml:"anthropic_api_key"`
	OpenAIAPIKey    string `yaml:"openai_api_key"`
	GeminiAPIKey    string `yaml:"gemini_api_key"`

	ValidationRuns        int       `yaml:"validation_runs"`
	ConsensusThreshold    float64   `yaml:"consensus_threshold"`
	Temperatures          []float64 `yaml:"temperatures"`
	RuleBoost             float64   `yaml:"rule_boost"`
	MinConfidence         float64   `yaml:"min_confidence"`
	HighConfidence        float64   `yaml:"high_confidence"`
	StrictMode            bool      `yaml:"strict_mode"`
	ValidationConcurrency int       `yaml:"validation_concurrency"`
	EnsembleProviders     []string  `yaml:"ensemble_providers"`

	MinSemanticSimilarity float64 `yaml:"min_semantic_similarity"`
	MaxSemanticSimilarity float64 `yaml:"max_semantic_similarity"`
	MinEditDistance       int     `yaml:"min_edit_distance"`
	MaxEditRatio          float64 `yaml:"max_edit_ratio"`
	GateStrict            bool    `yaml:"gate_strict"`

	DuplicateThreshold float64 `yaml:"duplicate_threshold"`

	AugmentVariants     int `yaml:"augment_variants"`
	AugmentConcurrency  int `yaml:"augment_concurrency"`
	AugmentRateLimitMS  int `yaml:"augment_rate_limit_ms"`
	AugmentMaxPerDomain int `yaml:"augment_max_per_domain"`

	FeedbackWindowDays  int `yaml:"feedback_window_days"`
	FeedbackMaxExamples int `yaml:"feedback_max_examples"`

	SweepSchedule   string `yaml:"sweep_schedule"`
	SweepWindowDays int    `yaml:"sweep_window_days"`

	Location *time.Location `yaml:"-"` // computed from Timezone, not from YAML
}

// defaults are seeded before the YAML file is read so that explicit zero
// values survive: cache_ttl_hours 0 disables caching and strict_mode false
// relaxes the validator, neither may be clobbered after load.
func defaults() Config {
	return Config{
		DBPath:   "./labelqa.db",
		Timezone: "Local",

		LLMProvider:   "anthropic",
		LLMMaxRetries: 2,
		CacheTTLHours: 24,

		ValidationRuns:        3,
		ConsensusThreshold:    0.67,
		Temperatures:          []float64{0.3, 0.7, 1.0},
		RuleBoost:             0.1,
		MinConfidence:         0.5,
		HighConfidence:        0.8,
		StrictMode:            true,
		ValidationConcurrency: 3,

		MinSemanticSimilarity: 0.3,
		MaxSemanticSimilarity: 0.95,
		MinEditDistance:       3,
		MaxEditRatio:          0.8,

		DuplicateThreshold: 0.95,

		AugmentVariants:     3,
		AugmentConcurrency:  8,
		AugmentRateLimitMS:  100,
		AugmentMaxPerDomain: 30,

		FeedbackWindowDays:  30,
		FeedbackMaxExamples: 3,

		SweepWindowDays: 7,
	}
}

func Load() Config {
	cfg := defaults()

	// Load from config.yaml if it exists
	configPath := "config.yaml"
	if envPath := os.Getenv("CONFIG_PATH"); envPath != "" {
		configPath = envPath
	}
	if data, err := os.ReadFile(configPath); err == nil {
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			log.Fatalf("Error parsing %s: %v", configPath, err)
		}
		log.Printf("Loaded config from %s", configPath)
	}

	// Env vars override YAML values
	envOverride(&cfg.DBPath, "DB_PATH")
	envOverride(&cfg.KeywordsPath, "KEYWORDS_PATH")
	envOverride(&cfg.Timezone, "TIMEZONE")
	envOverride(&cfg.LLMProvider, "LLM_PROVIDER")
	envOverride(&cfg.LLMModel, "LLM_MODEL")
	envOverride(&cfg.LLMBaseURL, "LLM_BASE_URL")
	envOverrideInt(&cfg.LLMMaxRetries, "LLM_MAX_RETRIES")
	envOverrideInt(&cfg.CacheTTLHours, "CACHE_TTL_HOURS")
	envOverride(&cfg.AnthropicAPIKey, "ANTHROPIC_API_KEY")
	envOverride(&cfg.OpenAIAPIKey, "OPENAI_API_KEY")
	envOverride(&cfg.GeminiAPIKey, "GEMINI_API_KEY")
	envOverrideInt(&cfg.ValidationRuns, "VALIDATION_RUNS")
	envOverrideFloat(&cfg.ConsensusThreshold, "CONSENSUS_THRESHOLD")
	envOverrideFloat(&cfg.RuleBoost, "RULE_BOOST")
	envOverrideFloat(&cfg.MinConfidence, "MIN_CONFIDENCE")
	envOverrideFloat(&cfg.HighConfidence, "HIGH_CONFIDENCE")
	envOverrideBool(&cfg.StrictMode, "STRICT_MODE")
	envOverrideInt(&cfg.ValidationConcurrency, "VALIDATION_CONCURRENCY")
	envOverrideFloat(&cfg.MinSemanticSimilarity, "MIN_SEMANTIC_SIMILARITY")
	envOverrideFloat(&cfg.MaxSemanticSimilarity, "MAX_SEMANTIC_SIMILARITY")
	envOverrideInt(&cfg.MinEditDistance, "MIN_EDIT_DISTANCE")
	envOverrideFloat(&cfg.MaxEditRatio, "MAX_EDIT_RATIO")
	envOverrideBool(&cfg.GateStrict, "GATE_STRICT")
	envOverrideFloat(&cfg.DuplicateThreshold, "DUPLICATE_THRESHOLD")
	envOverrideInt(&cfg.AugmentVariants, "AUGMENT_VARIANTS")
	envOverrideInt(&cfg.AugmentConcurrency, "AUGMENT_CONCURRENCY")
	envOverrideInt(&cfg.AugmentRateLimitMS, "AUGMENT_RATE_LIMIT_MS")
	envOverrideInt(&cfg.AugmentMaxPerDomain, "AUGMENT_MAX_PER_DOMAIN")
	envOverrideInt(&cfg.FeedbackWindowDays, "FEEDBACK_WINDOW_DAYS")
	envOverrideInt(&cfg.FeedbackMaxExamples, "FEEDBACK_MAX_EXAMPLES")
	envOverride(&cfg.SweepSchedule, "SWEEP_SCHEDULE")
	envOverrideInt(&cfg.SweepWindowDays, "SWEEP_WINDOW_DAYS")

	if vals := os.Getenv("TEMPERATURES"); vals != "" {
		cfg.Temperatures = nil
		for _, raw := range strings.Split(vals, ",") {
			raw = strings.TrimSpace(raw)
			if raw == "" {
				continue
			}
			parsed, err := strconv.ParseFloat(raw, 64)
			if err != nil {
				log.Fatalf("invalid TEMPERATURES '%s': %v", vals, err)
			}
			cfg.Temperatures = append(cfg.Temperatures, parsed)
		}
	}
	if names := os.Getenv("ENSEMBLE_PROVIDERS"); names != "" {
		cfg.EnsembleProviders = nil
		for _, name := range strings.Split(names, ",") {
			name = strings.TrimSpace(name)
			if name != "" {
				cfg.EnsembleProviders = append(cfg.EnsembleProviders, name)
			}
		}
	}

	cfg.LLMProvider = strings.ToLower(strings.TrimSpace(cfg.LLMProvider))
	requireProviderKey(cfg, cfg.LLMProvider)
	for i, provider := range cfg.EnsembleProviders {
		provider = strings.ToLower(strings.TrimSpace(provider))
		cfg.EnsembleProviders[i] = provider
		requireProviderKey(cfg, provider)
	}
	if cfg.LLMBaseURL == "" && usesProvider(cfg, "ollama") {
		cfg.LLMBaseURL = defaultOllamaBaseURL
	}

	if strings.EqualFold(cfg.Timezone, "Local") {
		cfg.Location = time.Local
	} else {
		loc, err := time.LoadLocation(cfg.Timezone)
		if err != nil {
			log.Fatalf("invalid timezone '%s': %v", cfg.Timezone, err)
		}
		cfg.Location = loc
	}

	if cfg.LLMMaxRetries < 0 {
		log.Fatalf("invalid llm_max_retries '%d': must be >= 0", cfg.LLMMaxRetries)
	}
	if cfg.CacheTTLHours < 0 {
		log.Fatalf("invalid cache_ttl_hours '%d': must be >= 0 (0 disables caching)", cfg.CacheTTLHours)
	}
	if cfg.ValidationRuns < 2 || cfg.ValidationRuns > 5 {
		log.Fatalf("invalid validation_runs '%d': must be between 2 and 5", cfg.ValidationRuns)
	}
	if cfg.ConsensusThreshold < 0.5 || cfg.ConsensusThreshold > 1.0 {
		log.Fatalf("invalid consensus_threshold '%f': must be between 0.5 and 1.0", cfg.ConsensusThreshold)
	}
	if len(cfg.Temperatures) == 0 {
		log.Fatalf("temperatures must list at least one value")
	}
	for _, temp := range cfg.Temperatures {
		if temp < 0 || temp > 2 {
			log.Fatalf("invalid temperature '%f': must be between 0 and 2", temp)
		}
	}
	if cfg.RuleBoost < 0 || cfg.RuleBoost > 1 {
		log.Fatalf("invalid rule_boost '%f': must be between 0 and 1", cfg.RuleBoost)
	}
	if cfg.MinConfidence < 0 || cfg.MinConfidence > 1 {
		log.Fatalf("invalid min_confidence '%f': must be between 0 and 1", cfg.MinConfidence)
	}
	if cfg.HighConfidence < cfg.MinConfidence || cfg.HighConfidence > 1 {
		log.Fatalf("invalid high_confidence '%f': must be between min_confidence and 1", cfg.HighConfidence)
	}
	if cfg.ValidationConcurrency < 1 {
		log.Fatalf("invalid validation_concurrency '%d': must be >= 1", cfg.ValidationConcurrency)
	}
	if cfg.MinSemanticSimilarity < 0 || cfg.MinSemanticSimilarity > 1 {
		log.Fatalf("invalid min_semantic_similarity '%f': must be between 0 and 1", cfg.MinSemanticSimilarity)
	}
	if cfg.MaxSemanticSimilarity <= cfg.MinSemanticSimilarity || cfg.MaxSemanticSimilarity > 1 {
		log.Fatalf("invalid max_semantic_similarity '%f': must be between min_semantic_similarity and 1", cfg.MaxSemanticSimilarity)
	}
	if cfg.MinEditDistance < 0 {
		log.Fatalf("invalid min_edit_distance '%d': must be >= 0", cfg.MinEditDistance)
	}
	if cfg.MaxEditRatio <= 0 || cfg.MaxEditRatio > 1 {
		log.Fatalf("invalid max_edit_ratio '%f': must be between 0 and 1", cfg.MaxEditRatio)
	}
	if cfg.DuplicateThreshold < 0 || cfg.DuplicateThreshold > 1 {
		log.Fatalf("invalid duplicate_threshold '%f': must be between 0 and 1", cfg.DuplicateThreshold)
	}
	if cfg.AugmentVariants < 1 || cfg.AugmentVariants > 10 {
		log.Fatalf("invalid augment_variants '%d': must be between 1 and 10", cfg.AugmentVariants)
	}
	if cfg.AugmentConcurrency < 1 || cfg.AugmentConcurrency > 50 {
		log.Fatalf("invalid augment_concurrency '%d': must be between 1 and 50", cfg.AugmentConcurrency)
	}
	if cfg.AugmentRateLimitMS < 0 {
		log.Fatalf("invalid augment_rate_limit_ms '%d': must be >= 0", cfg.AugmentRateLimitMS)
	}
	if cfg.AugmentMaxPerDomain < 1 {
		log.Fatalf("invalid augment_max_per_domain '%d': must be >= 1", cfg.AugmentMaxPerDomain)
	}
	if cfg.FeedbackWindowDays < 1 {
		log.Fatalf("invalid feedback_window_days '%d': must be >= 1", cfg.FeedbackWindowDays)
	}
	if cfg.FeedbackMaxExamples < 0 {
		log.Fatalf("invalid feedback_max_examples '%d': must be >= 0", cfg.FeedbackMaxExamples)
	}
	if cfg.SweepWindowDays < 1 {
		log.Fatalf("invalid sweep_window_days '%d': must be >= 1", cfg.SweepWindowDays)
	}
	if cfg.KeywordsPath != "" {
		if _, err := taxonomy.LoadKeywords(cfg.KeywordsPath); err != nil {
			log.Fatalf("invalid keywords_path '%s': %v", cfg.KeywordsPath, err)
		}
	}

	return cfg
}

func requireProviderKey(cfg Config, provider string) {
	switch provider {
	case "anthropic":
		if cfg.AnthropicAPIKey == "" {
			log.Fatalf("anthropic_api_key is required for provider 'anthropic'")
		}
	case "openai":
		if cfg.OpenAIAPIKey == "" {
			log.Fatalf("openai_api_key is required for provider 'openai'")
		}
	case "gemini":
		if cfg.GeminiAPIKey == "" {
			log.Fatalf("gemini_api_key is required for provider 'gemini'")
		}
	case "ollama":
		// Local endpoint, no key.
	default:
		log.Fatalf("llm provider must be 'anthropic', 'openai', 'gemini' or 'ollama', got '%s'", provider)
	}
}

func usesProvider(cfg Config, provider string) bool {
	if cfg.LLMProvider == provider {
		return true
	}
	for _, p := range cfg.EnsembleProviders {
		if p == provider {
			return true
		}
	}
	return false
}

func envOverride(field *string, envKey string) {
	if val := os.Getenv(envKey); val != "" {
		*field = val
	}
}

func envOverrideInt(field *int, envKey string) {
	if val := os.Getenv(envKey); val != "" {
		parsed, err := strconv.Atoi(val)
		if err != nil {
			log.Fatalf("invalid %s '%s': %v", envKey, val, err)
		}
		*field = parsed
	}
}

func envOverrideFloat(field *float64, envKey string) {
	if val := os.Getenv(envKey); val != "" {
		parsed, err := strconv.ParseFloat(val, 64)
		if err != nil {
			log.Fatalf("invalid %s '%s': %v", envKey, val, err)
		}
		*field = parsed
	}
}

func envOverrideBool(field *bool, envKey string) {
	if val := os.Getenv(envKey); val != "" {
		*field = strings.EqualFold(val, "true") || val == "1"
	}
}

// Providers returns the primary provider followed by any ensemble
// providers, in configuration order. Each entry gets its own classifier
// in the consensus round.
func (c Config) Providers() []string {
	out := []string{c.LLMProvider}
	return append(out, c.EnsembleProviders...)
}

// ModelFor returns the model for a provider: the configured llm_model for
// the primary provider, the provider default otherwise.
func (c Config) ModelFor(provider string) string {
	if provider == c.LLMProvider && c.LLMModel != "" {
		return c.LLMModel
	}
	switch provider {
	case "openai":
		return defaultOpenAIModel
	case "gemini":
		return defaultGeminiModel
	case "ollama":
		return defaultOllamaModel
	default:
		return defaultAnthropicModel
	}
}

// APIKeyFor returns the credential for a provider. Ollama endpoints are
// local and carry no key.
func (c Config) APIKeyFor(provider string) string {
	switch provider {
	case "openai":
		return c.OpenAIAPIKey
	case "gemini":
		return c.GeminiAPIKey
	case "ollama":
		return ""
	default:
		return c.AnthropicAPIKey
	}
}

// Keywords returns the active keyword table: the built-in lists merged
// with the keywords_path override file when one is configured.
func (c Config) Keywords() map[string][]string {
	if c.KeywordsPath == "" {
		return taxonomy.Keywords()
	}
	kw, err := taxonomy.LoadKeywords(c.KeywordsPath)
	if err != nil {
		log.Fatalf("invalid keywords_path '%s': %v", c.KeywordsPath, err)
	}
	return kw
}

func (c Config) CacheTTL() time.Duration {
	return time.Duration(c.CacheTTLHours) * time.Hour
}

func (c Config) AugmentRateLimit() time.Duration {
	return time.Duration(c.AugmentRateLimitMS) * time.Millisecond
}
