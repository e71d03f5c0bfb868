package config

import (
	"os"
	"path/filepath"
	"reflect"
	"testing"
	"time"
)

// configEnvKeys lists every variable Load consults. Tests blank them all
// so values inherited from the host environment cannot leak in.
var configEnvKeys = []string{
	"CONFIG_PATH", "DB_PATH", "KEYWORDS_PATH", "TIMEZONE",
	"LLM_PROVIDER", "LLM_MODEL", "LLM_BASE_URL", "LLM_MAX_RETRIES",
	"CACHE_TTL_HOURS", "ANTHROPIC_API_KEY", "OPENAI_API_KEY", "GEMINI_API_KEY",
	"VALIDATION_RUNS", "CONSENSUS_THRESHOLD", "TEMPERATURES", "RULE_BOOST",
	"MIN_CONFIDENCE", "HIGH_CONFIDENCE", "STRICT_MODE", "VALIDATION_CONCURRENCY",
	"ENSEMBLE_PROVIDERS", "MIN_SEMANTIC_SIMILARITY", "MAX_SEMANTIC_SIMILARITY",
	"MIN_EDIT_DISTANCE", "MAX_EDIT_RATIO", "GATE_STRICT", "DUPLICATE_THRESHOLD",
	"AUGMENT_VARIANTS", "AUGMENT_CONCURRENCY", "AUGMENT_RATE_LIMIT_MS",
	"AUGMENT_MAX_PER_DOMAIN", "FEEDBACK_WINDOW_DAYS", "FEEDBACK_MAX_EXAMPLES",
	"SWEEP_SCHEDULE", "SWEEP_WINDOW_DAYS",
}

func loadWith(t *testing.T, yaml string, env map[string]string) Config {
	t.Helper()
	for _, key := range configEnvKeys {
		t.Setenv(key, "")
	}
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(yaml), 0644); err != nil {
		t.Fatalf("write config file: %v", err)
	}
	t.Setenv("CONFIG_PATH", path)
	for key, val := range env {
		t.Setenv(key, val)
	}
	return Load()
}

func TestLoad_Defaults(t *testing.T) {
	cfg := loadWith(t, "anthropic_api_key: test-key\n", nil)

	if cfg.DBPath != "./labelqa.db" {
		t.Errorf("DBPath = %q, want ./labelqa.db", cfg.DBPath)
	}
	if cfg.LLMProvider != "anthropic" || cfg.LLMMaxRetries != 2 || cfg.CacheTTLHours != 24 {
		t.Errorf("llm defaults = (%q, %d, %d)", cfg.LLMProvider, cfg.LLMMaxRetries, cfg.CacheTTLHours)
	}
	if cfg.ValidationRuns != 3 || cfg.ConsensusThreshold != 0.67 || cfg.ValidationConcurrency != 3 {
		t.Errorf("validation defaults = (%d, %f, %d)", cfg.ValidationRuns, cfg.ConsensusThreshold, cfg.ValidationConcurrency)
	}
	if want := []float64{0.3, 0.7, 1.0}; !reflect.DeepEqual(cfg.Temperatures, want) {
		t.Errorf("Temperatures = %v, want %v", cfg.Temperatures, want)
	}
	if !cfg.StrictMode || cfg.GateStrict {
		t.Errorf("mode defaults = (strict=%v, gate_strict=%v), want (true, false)", cfg.StrictMode, cfg.GateStrict)
	}
	if cfg.RuleBoost != 0.1 || cfg.MinConfidence != 0.5 || cfg.HighConfidence != 0.8 {
		t.Errorf("confidence defaults = (%f, %f, %f)", cfg.RuleBoost, cfg.MinConfidence, cfg.HighConfidence)
	}
	if cfg.MinSemanticSimilarity != 0.3 || cfg.MaxSemanticSimilarity != 0.95 || cfg.MinEditDistance != 3 || cfg.MaxEditRatio != 0.8 {
		t.Errorf("similarity defaults = (%f, %f, %d, %f)", cfg.MinSemanticSimilarity, cfg.MaxSemanticSimilarity, cfg.MinEditDistance, cfg.MaxEditRatio)
	}
	if cfg.DuplicateThreshold != 0.95 {
		t.Errorf("DuplicateThreshold = %f, want 0.95", cfg.DuplicateThreshold)
	}
	if cfg.AugmentVariants != 3 || cfg.AugmentConcurrency != 8 || cfg.AugmentRateLimitMS != 100 || cfg.AugmentMaxPerDomain != 30 {
		t.Errorf("augment defaults = (%d, %d, %d, %d)", cfg.AugmentVariants, cfg.AugmentConcurrency, cfg.AugmentRateLimitMS, cfg.AugmentMaxPerDomain)
	}
	if cfg.FeedbackWindowDays != 30 || cfg.FeedbackMaxExamples != 3 || cfg.SweepWindowDays != 7 {
		t.Errorf("window defaults = (%d, %d, %d)", cfg.FeedbackWindowDays, cfg.FeedbackMaxExamples, cfg.SweepWindowDays)
	}
	if cfg.SweepSchedule != "" {
		t.Errorf("SweepSchedule = %q, want empty", cfg.SweepSchedule)
	}
	if cfg.Location != time.Local {
		t.Errorf("Location = %v, want time.Local", cfg.Location)
	}
}

func TestLoad_YAMLValues(t *testing.T) {
	cfg := loadWith(t, `
anthropic_api_key: test-key
db_path: /tmp/qa.db
validation_runs: 5
consensus_threshold: 0.8
temperatures: [0.2, 0.9]
strict_mode: false
gate_strict: true
cache_ttl_hours: 0
sweep_schedule: "0 3 * * *"
timezone: UTC
`, nil)

	if cfg.DBPath != "/tmp/qa.db" || cfg.ValidationRuns != 5 || cfg.ConsensusThreshold != 0.8 {
		t.Errorf("yaml values not applied: (%q, %d, %f)", cfg.DBPath, cfg.ValidationRuns, cfg.ConsensusThreshold)
	}
	if want := []float64{0.2, 0.9}; !reflect.DeepEqual(cfg.Temperatures, want) {
		t.Errorf("Temperatures = %v, want %v", cfg.Temperatures, want)
	}
	// Explicit zeros must survive the defaults.
	if cfg.StrictMode {
		t.Error("strict_mode: false was clobbered by the default")
	}
	if cfg.CacheTTLHours != 0 {
		t.Errorf("cache_ttl_hours: 0 was clobbered, got %d", cfg.CacheTTLHours)
	}
	if !cfg.GateStrict {
		t.Error("gate_strict: true not applied")
	}
	if cfg.SweepSchedule != "0 3 * * *" {
		t.Errorf("SweepSchedule = %q", cfg.SweepSchedule)
	}
	if cfg.Location != time.UTC {
		t.Errorf("Location = %v, want UTC", cfg.Location)
	}
}

func TestLoad_EnvOverridesYAML(t *testing.T) {
	cfg := loadWith(t, `
anthropic_api_key: yaml-key
openai_api_key: openai-key
validation_runs: 4
min_confidence: 0.4
`, map[string]string{
		"ANTHROPIC_API_KEY":  "env-key",
		"VALIDATION_RUNS":    "2",
		"MIN_CONFIDENCE":     "0.6",
		"STRICT_MODE":        "false",
		"TEMPERATURES":       "0.1, 0.5,1.5",
		"ENSEMBLE_PROVIDERS": "openai",
	})

	if cfg.AnthropicAPIKey != "env-key" {
		t.Errorf("AnthropicAPIKey = %q, want env-key", cfg.AnthropicAPIKey)
	}
	if cfg.ValidationRuns != 2 || cfg.MinConfidence != 0.6 {
		t.Errorf("env overrides not applied: (%d, %f)", cfg.ValidationRuns, cfg.MinConfidence)
	}
	if cfg.StrictMode {
		t.Error("STRICT_MODE=false not applied")
	}
	if want := []float64{0.1, 0.5, 1.5}; !reflect.DeepEqual(cfg.Temperatures, want) {
		t.Errorf("Temperatures = %v, want %v", cfg.Temperatures, want)
	}
	if want := []string{"openai"}; !reflect.DeepEqual(cfg.EnsembleProviders, want) {
		t.Errorf("EnsembleProviders = %v, want %v", cfg.EnsembleProviders, want)
	}
	if want := []string{"anthropic", "openai"}; !reflect.DeepEqual(cfg.Providers(), want) {
		t.Errorf("Providers() = %v, want %v", cfg.Providers(), want)
	}
}

func TestLoad_NormalizesProviderSpelling(t *testing.T) {
	cfg := loadWith(t, "llm_provider: \" Anthropic \"\nanthropic_api_key: test-key\n", nil)
	if cfg.LLMProvider != "anthropic" {
		t.Errorf("LLMProvider = %q, want anthropic", cfg.LLMProvider)
	}
}

func TestLoad_OllamaDefaultsBaseURL(t *testing.T) {
	cfg := loadWith(t, "llm_provider: ollama\n", nil)
	if cfg.LLMBaseURL != "http://localhost:11434" {
		t.Errorf("LLMBaseURL = %q, want the local ollama default", cfg.LLMBaseURL)
	}
	if got := cfg.ModelFor("ollama"); got != "llama3.1" {
		t.Errorf("ModelFor(ollama) = %q", got)
	}
	if got := cfg.APIKeyFor("ollama"); got != "" {
		t.Errorf("APIKeyFor(ollama) = %q, want empty", got)
	}
}

func TestLoad_KeywordsPath(t *testing.T) {
	dir := t.TempDir()
	kwPath := filepath.Join(dir, "keywords.yaml")
	override := "domains:\n  - id: house\n    keywords:\n      - счетчик\n"
	if err := os.WriteFile(kwPath, []byte(override), 0644); err != nil {
		t.Fatalf("write keywords: %v", err)
	}
	cfg := loadWith(t, "anthropic_api_key: test-key\nkeywords_path: "+kwPath+"\n", nil)

	kw := cfg.Keywords()
	if got := kw["house"]; len(got) != 1 || got[0] != "счетчик" {
		t.Errorf("house list = %v, want the override", got)
	}
	// Domains absent from the file keep their built-ins.
	if len(kw["payments"]) == 0 {
		t.Error("payments lost its built-in keywords")
	}
}

func TestKeywords_BuiltinWithoutPath(t *testing.T) {
	var cfg Config
	kw := cfg.Keywords()
	if len(kw["house"]) == 0 || len(kw["payments"]) == 0 {
		t.Errorf("built-in table missing domains: %v", kw)
	}
}

func TestModelFor(t *testing.T) {
	cfg := Config{LLMProvider: "openai", LLMModel: "gpt-4.1"}
	if got := cfg.ModelFor("openai"); got != "gpt-4.1" {
		t.Errorf("primary provider model = %q, want the configured one", got)
	}
	if got := cfg.ModelFor("anthropic"); got != "claude-sonnet-4-5-20250929" {
		t.Errorf("ModelFor(anthropic) = %q", got)
	}
	if got := cfg.ModelFor("gemini"); got != "gemini-2.0-flash" {
		t.Errorf("ModelFor(gemini) = %q", got)
	}
}

func TestAPIKeyFor(t *testing.T) {
	cfg := Config{AnthropicAPIKey: "a", OpenAIAPIKey: "o", GeminiAPIKey: "g"}
	if cfg.APIKeyFor("anthropic") != "a" || cfg.APIKeyFor("openai") != "o" || cfg.APIKeyFor("gemini") != "g" {
		t.Error("APIKeyFor routed to the wrong credential")
	}
}

func TestDurationHelpers(t *testing.T) {
	cfg := Config{CacheTTLHours: 24, AugmentRateLimitMS: 100}
	if cfg.CacheTTL() != 24*time.Hour {
		t.Errorf("CacheTTL = %v", cfg.CacheTTL())
	}
	if cfg.AugmentRateLimit() != 100*time.Millisecond {
		t.Errorf("AugmentRateLimit = %v", cfg.AugmentRateLimit())
	}
}
