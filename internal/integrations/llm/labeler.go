package llm

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"labelqa/internal/consensus"
	"labelqa/internal/taxonomy"
)

// retryBackoff is the base delay between classification attempts;
// attempt n waits n times this.
const retryBackoff = 300 * time.Millisecond

// CacheStore persists raw classification responses keyed by request
// fingerprint. Implemented by storage/sqlite.
type CacheStore interface {
	GetCachedResponse(key string) (string, time.Time, bool, error)
	PutCachedResponse(key, response, model string) error
}

// LabelerConfig tunes a Labeler. A nil Cache disables caching; nil
// FewShot/Warnings leave the prompt static.
type LabelerConfig struct {
	Provider      string
	Model         string
	MaxRetries    int
	CacheTTL      time.Duration
	LowConfidence float64
	Cache         CacheStore
	FewShot       func() string
	Warnings      func() string
}

// LabelerStats counts labeler activity across calls.
type LabelerStats struct {
	TotalProcessed int   `json:"total_processed"`
	CacheHits      int   `json:"cache_hits"`
	LLMCalls       int   `json:"llm_calls"`
	Errors         int   `json:"errors"`
	LowConfidence  int   `json:"low_confidence_count"`
	Usage          Usage `json:"usage"`
}

// Labeler classifies one text per call against the domain taxonomy.
// It satisfies the consensus voting contract: a failure after retries
// is returned as an error so the caller records an abstention instead
// of a fabricated oos vote. Safe for concurrent use.
type Labeler struct {
	client   Client
	cache    CacheStore
	provider string
	model    string
	retries  int
	ttl      time.Duration
	lowConf  float64
	fewshot  func() string
	warnings func() string

	now func() time.Time

	mu    sync.Mutex
	stats LabelerStats
}

func NewLabeler(client Client, cfg LabelerConfig) (*Labeler, error) {
	if client == nil {
		return nil, fmt.Errorf("labeler config: client is required")
	}
	if cfg.Model == "" {
		return nil, fmt.Errorf("labeler config: model is required")
	}
	if cfg.MaxRetries < 0 {
		return nil, fmt.Errorf("labeler config: max retries %d is negative", cfg.MaxRetries)
	}
	if cfg.LowConfidence == 0 {
		cfg.LowConfidence = 0.5
	}
	if cfg.LowConfidence < 0 || cfg.LowConfidence > 1 {
		return nil, fmt.Errorf("labeler config: low-confidence threshold %.2f outside [0, 1]", cfg.LowConfidence)
	}
	return &Labeler{
		client:   client,
		cache:    cfg.Cache,
		provider: cfg.Provider,
		model:    cfg.Model,
		retries:  cfg.MaxRetries,
		ttl:      cfg.CacheTTL,
		lowConf:  cfg.LowConfidence,
		fewshot:  cfg.FewShot,
		warnings: cfg.Warnings,
		now:      time.Now,
	}, nil
}

// Classify labels one text at the given sampling temperature. Stop
// phrases short-circuit to oos without an API call.
func (l *Labeler) Classify(ctx context.Context, text string, temperature float64) (consensus.Classification, error) {
	if taxonomy.IsStopPhrase(text) {
		l.mu.Lock()
		l.stats.TotalProcessed++
		l.mu.Unlock()
		return consensus.Classification{
			Domain:     taxonomy.OOS,
			Confidence: 0.95,
			Candidates: []consensus.Candidate{{Domain: taxonomy.OOS, Confidence: 0.95}},
		}, nil
	}

	system := l.systemPrompt()
	key := cacheKey(text, l.model, temperature, system)

	if l.cache != nil {
		if cls, ok := l.cachedResult(key); ok {
			l.mu.Lock()
			l.stats.TotalProcessed++
			l.stats.CacheHits++
			l.mu.Unlock()
			return cls, nil
		}
	}

	user := fmt.Sprintf("Классифицируй следующий текст:\n%q", text)

	var lastErr error
	for attempt := 0; attempt <= l.retries; attempt++ {
		if attempt > 0 {
			if err := sleepCtx(ctx, time.Duration(attempt)*retryBackoff); err != nil {
				lastErr = err
				break
			}
		}

		raw, usage, err := l.client.Generate(ctx, system, user, temperature)
		l.mu.Lock()
		l.stats.Usage.Add(usage)
		l.mu.Unlock()
		if err != nil {
			lastErr = err
			log.Printf("llm classify attempt=%d/%d temp=%.1f err=%v", attempt+1, l.retries+1, temperature, err)
			continue
		}

		cls, err := l.parseClassification(raw)
		if err != nil {
			lastErr = err
			log.Printf("llm classify parse attempt=%d/%d err=%v", attempt+1, l.retries+1, err)
			continue
		}

		l.mu.Lock()
		l.stats.TotalProcessed++
		l.stats.LLMCalls++
		if cls.Confidence < l.lowConf {
			l.stats.LowConfidence++
		}
		l.mu.Unlock()

		if l.cache != nil {
			l.storeResult(key, cls)
		}
		log.Printf("llm classify provider=%s model=%s temp=%.1f domain=%s conf=%.2f", l.provider, l.model, temperature, cls.Domain, cls.Confidence)
		return cls, nil
	}

	l.mu.Lock()
	l.stats.TotalProcessed++
	l.stats.Errors++
	l.mu.Unlock()
	return consensus.Classification{}, fmt.Errorf("classify %.50q: %w", text, lastErr)
}

// Stats returns a copy of the counters so far.
func (l *Labeler) Stats() LabelerStats {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.stats
}

func (l *Labeler) systemPrompt() string {
	var b strings.Builder
	b.WriteString("Ты классифицируешь обращения жителей к городскому ассистенту по доменам услуг.\n")
	b.WriteString("Выбирай ровно один домен из списка. Если запрос не подходит ни под один, выбирай oos.\n\n")
	b.WriteString("ДОСТУПНЫЕ ДОМЕНЫ:\n")
	for _, domain := range taxonomy.Canon() {
		fmt.Fprintf(&b, "- %s: %s\n", domain, taxonomy.Describe(domain))
	}
	if l.fewshot != nil {
		if examples := l.fewshot(); examples != "" {
			b.WriteString("\nПРИМЕРЫ КЛАССИФИКАЦИИ:\n")
			b.WriteString(examples)
			b.WriteString("\n")
		}
	}
	if l.warnings != nil {
		if w := l.warnings(); w != "" {
			b.WriteString("\n")
			b.WriteString(w)
			b.WriteString("\n")
		}
	}
	b.WriteString("\nRespond with JSON only (no markdown):\n")
	b.WriteString(`{"domain": "house", "confidence": 0.85, "candidates": [{"domain": "house", "confidence": 0.85}, {"domain": "payments", "confidence": 0.10}], "reasoning": "короткое объяснение"}`)
	return b.String()
}

// labelResponse accepts the aliases models answer with despite the
// prompt naming only domain/confidence.
type labelResponse struct {
	Domain     string                `json:"domain"`
	DomainID   string                `json:"domain_id"`
	Label      string                `json:"label"`
	Confidence float64               `json:"confidence"`
	Score      float64               `json:"score"`
	Reasoning  string                `json:"reasoning"`
	Candidates []consensus.Candidate `json:"candidates"`
}

func (l *Labeler) parseClassification(raw string) (consensus.Classification, error) {
	resp, err := ParseJSON[labelResponse](raw)
	if err != nil {
		return consensus.Classification{}, err
	}

	domain := resp.Domain
	if domain == "" {
		domain = resp.DomainID
	}
	if domain == "" {
		domain = resp.Label
	}
	if domain == "" {
		return consensus.Classification{}, fmt.Errorf("response carries no domain")
	}
	domain = taxonomy.Validate(domain)

	confidence := resp.Confidence
	if confidence == 0 {
		confidence = resp.Score
	}
	if confidence == 0 {
		confidence = 0.5
	}
	confidence = clamp01(confidence)

	candidates := make([]consensus.Candidate, 0, len(resp.Candidates))
	for _, c := range resp.Candidates {
		candidates = append(candidates, consensus.Candidate{
			Domain:     taxonomy.Validate(c.Domain),
			Confidence: clamp01(c.Confidence),
		})
	}
	if len(candidates) == 0 {
		candidates = []consensus.Candidate{{Domain: domain, Confidence: confidence}}
	}

	// A confident non-oos candidate beats a hedged oos answer.
	best := candidates[0]
	for _, c := range candidates[1:] {
		if c.Confidence > best.Confidence {
			best = c
		}
	}
	if best.Confidence >= l.lowConf && best.Domain != taxonomy.OOS {
		domain, confidence = best.Domain, best.Confidence
	}

	return consensus.Classification{Domain: domain, Confidence: confidence, Candidates: candidates}, nil
}

func (l *Labeler) cachedResult(key string) (consensus.Classification, bool) {
	raw, createdAt, ok, err := l.cache.GetCachedResponse(key)
	if err != nil {
		log.Printf("llm cache read failed key=%s err=%v", key, err)
		return consensus.Classification{}, false
	}
	if !ok {
		return consensus.Classification{}, false
	}
	if l.ttl > 0 && l.now().Sub(createdAt) > l.ttl {
		return consensus.Classification{}, false
	}
	var cls consensus.Classification
	if err := json.Unmarshal([]byte(raw), &cls); err != nil {
		log.Printf("llm cache entry unreadable key=%s err=%v", key, err)
		return consensus.Classification{}, false
	}
	cls.Domain = taxonomy.Validate(cls.Domain)
	return cls, true
}

func (l *Labeler) storeResult(key string, cls consensus.Classification) {
	payload, err := json.Marshal(cls)
	if err != nil {
		return
	}
	if err := l.cache.PutCachedResponse(key, string(payload), l.model); err != nil {
		log.Printf("llm cache write failed key=%s err=%v", key, err)
	}
}

// cacheKey fingerprints one classification request. Temperature is part
// of the key: votes at different temperatures must never share a cached
// answer.
func cacheKey(text, model string, temperature float64, system string) string {
	fp := md5.Sum([]byte(system))
	fingerprint := hex.EncodeToString(fp[:])[:8]
	sum := md5.Sum([]byte(fmt.Sprintf("%s|%s|%.2f|%s", text, model, temperature, fingerprint)))
	return hex.EncodeToString(sum[:])
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
