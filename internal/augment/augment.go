// Package augment generates paraphrase variants of labeled samples and
// filters them through the similarity gate before they may join the
// corpus.
package augment

import (
	"context"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"labelqa/internal/integrations/llm"
	"labelqa/internal/quality"
	"labelqa/internal/similarity"
	"labelqa/internal/taxonomy"
)

// systemPrompt instructs the model to paraphrase without drifting the
// meaning or domain.
const systemPrompt = `Ты генерируешь синтетические данные для обучения NLP-моделей.

Твоя задача: перефразировать тексты, сохраняя их смысл и домен.

Правила:
1. Сохраняй семантику и намерение исходного текста
2. Используй разные стилистики: формальную, разговорную, краткую, развернутую
3. Меняй структуру предложений, но не смысл
4. Используй синонимы и вариации формулировок
5. НЕ добавляй информацию, которой нет в оригинале
6. НЕ меняй домен и тему текста

Пример:
Оригинал: "передать показания счетчика"
Варианты:
- "подать данные со счётчика"
- "отправить показания прибора учета"
- "передать цифры с водомера"

Respond with JSON only (no markdown):
["вариант 1", "вариант 2", "вариант 3"]`

// Seed is one labeled source sample for paraphrase generation.
type Seed struct {
	Text   string `json:"text"`
	Domain string `json:"domain"`
}

// Sample is one generated variant that survived the gate (or was kept
// flagged in non-strict mode; Report tells which).
type Sample struct {
	Text   string            `json:"text"`
	Domain string            `json:"domain"`
	Source string            `json:"source"`
	Seed   string            `json:"seed"`
	Report similarity.Report `json:"report"`
}

// Stats counts augmenter activity across calls.
type Stats struct {
	Processed int `json:"total_processed"`
	Generated int `json:"total_generated"`
	Accepted  int `json:"accepted"`
	Rejected  int `json:"rejected"`
	Errors    int `json:"errors"`
}

// Config tunes an Augmenter.
type Config struct {
	Variants      int
	Concurrency   int
	RateLimit     time.Duration
	MaxPerDomain  int
	Temperature   float64
	HardNegatives bool
}

// Augmenter fans paraphrase requests out to the LLM and gates every
// variant against its seed. Safe for concurrent use.
type Augmenter struct {
	client llm.Client
	gate   *quality.Gate
	cfg    Config

	mu    sync.Mutex
	stats Stats
}

func New(client llm.Client, gate *quality.Gate, cfg Config) (*Augmenter, error) {
	if client == nil {
		return nil, fmt.Errorf("augmenter config: client is required")
	}
	if gate == nil {
		return nil, fmt.Errorf("augmenter config: gate is required")
	}
	if cfg.Variants == 0 {
		cfg.Variants = 3
	}
	if cfg.Variants < 1 || cfg.Variants > 10 {
		return nil, fmt.Errorf("augmenter config: variants %d outside [1, 10]", cfg.Variants)
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 8
	}
	if cfg.MaxPerDomain <= 0 {
		cfg.MaxPerDomain = 30
	}
	if cfg.RateLimit < 0 {
		return nil, fmt.Errorf("augmenter config: rate limit is negative")
	}
	if cfg.Temperature == 0 {
		cfg.Temperature = 1.0
	}
	return &Augmenter{client: client, gate: gate, cfg: cfg}, nil
}

// AugmentOne asks the model for paraphrases of one text. Blank variants
// are dropped; gate filtering is the batch caller's job.
func (a *Augmenter) AugmentOne(ctx context.Context, text, domain string) ([]string, error) {
	raw, _, err := a.client.Generate(ctx, systemPrompt, a.userPrompt(text, domain), a.cfg.Temperature)
	if err != nil {
		a.mu.Lock()
		a.stats.Processed++
		a.stats.Errors++
		a.mu.Unlock()
		log.Printf("augment failed text=%.50q err=%v", text, err)
		return nil, fmt.Errorf("augment %.50q: %w", text, err)
	}

	variants, err := llm.ParseJSON[[]string](raw)
	if err != nil {
		a.mu.Lock()
		a.stats.Processed++
		a.stats.Errors++
		a.mu.Unlock()
		log.Printf("augment parse failed text=%.50q err=%v", text, err)
		return nil, fmt.Errorf("augment %.50q: %w", text, err)
	}

	var cleaned []string
	for _, v := range variants {
		if v = strings.TrimSpace(v); v != "" {
			cleaned = append(cleaned, v)
		}
	}

	a.mu.Lock()
	a.stats.Processed++
	a.stats.Generated += len(cleaned)
	a.mu.Unlock()
	return cleaned, nil
}

func (a *Augmenter) userPrompt(text, domain string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Домен: %s\n", domain)
	fmt.Fprintf(&b, "Исходный текст: %q\n\n", text)
	fmt.Fprintf(&b, "Сгенерируй %d различных перефразировки этого текста.\n", a.cfg.Variants)
	if a.cfg.HardNegatives {
		b.WriteString("Также добавь 1 пограничный вариант, который можно спутать с другим доменом.\n")
	}
	b.WriteString("\nВерни JSON-массив строк.")
	return b.String()
}

// AugmentBatch generates variants for the seeds, capped per domain in
// seed order, and gates each variant against its seed with all seed
// texts as the similarity reference. Per-seed failures are counted and
// skipped; only context cancellation surfaces as an error.
func (a *Augmenter) AugmentBatch(ctx context.Context, seeds []Seed) ([]Sample, error) {
	counts := make(map[string]int)
	var tasks []Seed
	for _, s := range seeds {
		text := strings.TrimSpace(s.Text)
		if text == "" {
			continue
		}
		domain := taxonomy.Validate(s.Domain)
		if counts[domain] >= a.cfg.MaxPerDomain {
			continue
		}
		counts[domain]++
		tasks = append(tasks, Seed{Text: text, Domain: domain})
	}
	if len(tasks) == 0 {
		return nil, nil
	}
	log.Printf("augment batch seeds=%d domains=%d tasks=%d variants_per=%d", len(seeds), len(counts), len(tasks), a.cfg.Variants)

	type taskResult struct {
		variants []string
		err      error
	}
	results := make([]taskResult, len(tasks))
	sem := make(chan struct{}, a.cfg.Concurrency)
	var wg sync.WaitGroup
	for i, seed := range tasks {
		wg.Add(1)
		go func(idx int, seed Seed) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()

			variants, err := a.AugmentOne(ctx, seed.Text, seed.Domain)
			results[idx] = taskResult{variants: variants, err: err}
			if a.cfg.RateLimit > 0 {
				time.Sleep(a.cfg.RateLimit)
			}
		}(i, seed)
	}
	wg.Wait()

	reference := make([]string, len(tasks))
	for i, t := range tasks {
		reference[i] = t.Text
	}

	var out []Sample
	for i, res := range results {
		if res.err != nil {
			continue
		}
		seed := tasks[i]
		for _, variant := range res.variants {
			report, keep := a.gate.Check(seed.Text, variant, reference)
			a.mu.Lock()
			if keep {
				a.stats.Accepted++
			} else {
				a.stats.Rejected++
			}
			a.mu.Unlock()
			if !keep {
				continue
			}
			out = append(out, Sample{
				Text:   variant,
				Domain: seed.Domain,
				Source: "synthetic",
				Seed:   seed.Text,
				Report: report,
			})
		}
	}

	st := a.Stats()
	log.Printf("augment batch done generated=%d accepted=%d rejected=%d errors=%d", st.Generated, st.Accepted, st.Rejected, st.Errors)
	return out, ctx.Err()
}

// Stats returns a copy of the counters so far.
func (a *Augmenter) Stats() Stats {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.stats
}
