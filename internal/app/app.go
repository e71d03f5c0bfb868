// Package app wires configuration, storage, the provider classifiers
// and the validation pipeline together behind the CLI subcommands.
package app

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"labelqa/internal/augment"
	"labelqa/internal/calibration"
	"labelqa/internal/config"
	"labelqa/internal/consensus"
	"labelqa/internal/feedback"
	"labelqa/internal/httpx"
	"labelqa/internal/integrations/llm"
	"labelqa/internal/quality"
	"labelqa/internal/similarity"
	"labelqa/internal/storage/sqlite"
	"labelqa/internal/sweep"
	"labelqa/internal/taxonomy"
)

// trendWeeks is how far back the stats subcommand reports weekly volume.
const trendWeeks = 12

// initialVoteConfidence stands in for items that carry a prior label but
// no confidence of their own.
const initialVoteConfidence = 0.5

// App owns the wired pipeline components for one CLI invocation.
type App struct {
	cfg        config.Config
	store      *sqlite.Store
	calibrator *calibration.Calibrator
	learner    *feedback.Learner
	validator  *consensus.Validator
	gate       *quality.Gate
	sweeper    *sweep.Sweeper

	// primary generates paraphrases; classifiers vote in consensus
	// rounds, one per configured provider.
	primary     llm.Client
	labelers    []*llm.Labeler
	classifiers []consensus.Classifier
}

// New builds the full pipeline from cfg. Construction touches no
// network; provider clients dial on first call.
func New(ctx context.Context, cfg config.Config) (*App, error) {
	store, err := sqlite.Open(cfg.DBPath)
	if err != nil {
		return nil, fmt.Errorf("open database %s: %w", cfg.DBPath, err)
	}

	validator, err := consensus.New(consensus.Config{
		Runs:           cfg.ValidationRuns,
		Threshold:      cfg.ConsensusThreshold,
		Temperatures:   cfg.Temperatures,
		Keywords:       cfg.Keywords(),
		RuleBoost:      cfg.RuleBoost,
		MinConfidence:  cfg.MinConfidence,
		HighConfidence: cfg.HighConfidence,
		StrictMode:     cfg.StrictMode,
		Concurrency:    cfg.ValidationConcurrency,
	})
	if err != nil {
		store.Close()
		return nil, err
	}

	gate, err := quality.NewGate(similarity.Thresholds{
		MinSemantic:     cfg.MinSemanticSimilarity,
		MaxSemantic:     cfg.MaxSemanticSimilarity,
		MinEditDistance: cfg.MinEditDistance,
		MaxEditRatio:    cfg.MaxEditRatio,
	}, cfg.GateStrict)
	if err != nil {
		store.Close()
		return nil, err
	}

	sweeper, err := sweep.New(store, sweep.Config{
		Schedule:           cfg.SweepSchedule,
		WindowDays:         cfg.SweepWindowDays,
		Location:           cfg.Location,
		DuplicateThreshold: cfg.DuplicateThreshold,
		CacheTTL:           cfg.CacheTTL(),
	})
	if err != nil {
		store.Close()
		return nil, err
	}

	learner := feedback.NewLearner(store, cfg.FeedbackWindowDays, cfg.FeedbackMaxExamples)

	a := &App{
		cfg:        cfg,
		store:      store,
		calibrator: calibration.New(store),
		learner:    learner,
		validator:  validator,
		gate:       gate,
		sweeper:    sweeper,
	}

	var cache llm.CacheStore
	if cfg.CacheTTLHours > 0 {
		cache = store
	}
	fewshot := func() string {
		block, err := learner.FewShot()
		if err != nil {
			log.Printf("few-shot load failed err=%v", err)
			return ""
		}
		return block
	}
	warnings := func() string {
		block, err := learner.PromptWarnings()
		if err != nil {
			log.Printf("prompt warnings load failed err=%v", err)
			return ""
		}
		return block
	}

	for _, provider := range cfg.Providers() {
		model := cfg.ModelFor(provider)
		client, err := llm.New(ctx, llm.Options{
			Provider:   provider,
			APIKey:     cfg.APIKeyFor(provider),
			Model:      model,
			BaseURL:    cfg.LLMBaseURL,
			HTTPClient: httpx.Shared,
		})
		if err != nil {
			store.Close()
			return nil, fmt.Errorf("init %s client: %w", provider, err)
		}
		labeler, err := llm.NewLabeler(client, llm.LabelerConfig{
			Provider:      provider,
			Model:         model,
			MaxRetries:    cfg.LLMMaxRetries,
			CacheTTL:      cfg.CacheTTL(),
			LowConfidence: cfg.MinConfidence,
			Cache:         cache,
			FewShot:       fewshot,
			Warnings:      warnings,
		})
		if err != nil {
			store.Close()
			return nil, fmt.Errorf("init %s labeler: %w", provider, err)
		}
		if a.primary == nil {
			a.primary = client
		}
		a.labelers = append(a.labelers, labeler)
		a.classifiers = append(a.classifiers, labeler)
	}

	return a, nil
}

func (a *App) Close() error {
	return a.store.Close()
}

// Item is one input row for the validate subcommand. Domain and
// Confidence are optional; a present Domain becomes an initial vote.
type Item struct {
	Text       string   `json:"text"`
	Domain     string   `json:"domain,omitempty"`
	Confidence *float64 `json:"confidence,omitempty"`
}

// Outcome is one validated item: the consensus result plus the batch
// run ID and the calibrated confidence.
type Outcome struct {
	consensus.Outcome
	RunID                string  `json:"run_id"`
	CalibratedConfidence float64 `json:"calibrated_confidence"`
}

// ValidateFile runs consensus validation over every item in the input
// file, writes one outcome per line and persists the batch under a
// fresh run ID.
func (a *App) ValidateFile(ctx context.Context, inPath, outPath string) error {
	items, err := readJSONL[Item](inPath)
	if err != nil {
		return err
	}
	if len(items) == 0 {
		return fmt.Errorf("no items in %s", inPath)
	}

	runID := uuid.New().String()
	log.Printf("validate start run=%s items=%d classifiers=%d", runID, len(items), len(a.classifiers))

	outcomes := a.validateItems(ctx, runID, items)
	if err := ctx.Err(); err != nil {
		return err
	}
	a.persistOutcomes(outcomes, "")

	if err := writeJSONL(outPath, outcomes); err != nil {
		return err
	}

	valid := 0
	for _, o := range outcomes {
		if o.IsValid {
			valid++
		}
	}
	st := a.validator.Stats()
	log.Printf("validate done run=%s items=%d valid=%d consensus_failed=%d rule_matched=%d rule_mismatched=%d",
		runID, len(outcomes), valid, st.ConsensusFailed, st.RuleMatched, st.RuleMismatched)
	a.logLabelerStats()
	return nil
}

// validateItems fans the batch out across workers bounded by the
// configured validation concurrency. Results keep input order.
func (a *App) validateItems(ctx context.Context, runID string, items []Item) []Outcome {
	outcomes := make([]Outcome, len(items))
	sem := make(chan struct{}, a.cfg.ValidationConcurrency)
	var wg sync.WaitGroup
	for i, item := range items {
		wg.Add(1)
		go func(idx int, item Item) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()
			outcomes[idx] = a.validateOne(ctx, runID, item)
		}(i, item)
	}
	wg.Wait()
	return outcomes
}

func (a *App) validateOne(ctx context.Context, runID string, item Item) Outcome {
	var oc consensus.Outcome
	if strings.TrimSpace(item.Domain) != "" {
		conf := initialVoteConfidence
		if item.Confidence != nil {
			conf = *item.Confidence
		}
		oc = a.validator.ValidateWithInitial(ctx, item.Text, item.Domain, conf, a.classifiers...)
	} else {
		oc = a.validator.Validate(ctx, item.Text, a.classifiers...)
	}
	return Outcome{
		Outcome:              oc,
		RunID:                runID,
		CalibratedConfidence: a.calibrator.Calibrate(oc.FinalDomain, oc.FinalConfidence),
	}
}

// persistOutcomes stores the batch in validation history. A storage
// failure is logged; the in-memory outcomes stay authoritative.
func (a *App) persistOutcomes(outcomes []Outcome, source string) {
	records := make([]sqlite.ValidationRecord, 0, len(outcomes))
	for _, o := range outcomes {
		records = append(records, sqlite.ValidationRecord{
			RunID:             o.RunID,
			Text:              o.Text,
			FinalDomain:       o.FinalDomain,
			FinalConfidence:   o.FinalConfidence,
			ConsensusRatio:    o.ConsensusRatio,
			ConsensusAchieved: o.ConsensusAchieved,
			RuleMatch:         o.RuleMatch,
			RuleDomain:        o.RuleDomain,
			IsValid:           o.IsValid,
			Issues:            marshalJSON(o.Issues),
			Votes:             marshalJSON(o.Votes),
			Source:            source,
			LLMProvider:       a.cfg.LLMProvider,
			LLMModel:          a.cfg.ModelFor(a.cfg.LLMProvider),
		})
	}
	if err := a.store.InsertValidations(records); err != nil {
		log.Printf("validation history insert failed count=%d err=%v", len(records), err)
	}
}

func (a *App) logLabelerStats() {
	providers := a.cfg.Providers()
	for i, l := range a.labelers {
		st := l.Stats()
		log.Printf("labeler %s stats calls=%d cache_hits=%d errors=%d low_confidence=%d tokens=%d",
			providers[i], st.LLMCalls, st.CacheHits, st.Errors, st.LowConfidence, st.Usage.TotalTokens())
	}
}

func marshalJSON(v any) string {
	raw, err := json.Marshal(v)
	if err != nil {
		return ""
	}
	return string(raw)
}

// Pair is one input row for the gate subcommand.
type Pair struct {
	Original  string `json:"original"`
	Candidate string `json:"candidate"`
}

// PairReport is one gated pair with its similarity report and verdict.
type PairReport struct {
	Original  string            `json:"original"`
	Candidate string            `json:"candidate"`
	Report    similarity.Report `json:"report"`
	Accepted  bool              `json:"accepted"`
}

// GateFile checks every (original, candidate) pair against the
// similarity gate. The optional reference corpus widens the vector
// space the semantic score is computed in.
func (a *App) GateFile(inPath, refPath, outPath string) error {
	pairs, err := readJSONL[Pair](inPath)
	if err != nil {
		return err
	}
	if len(pairs) == 0 {
		return fmt.Errorf("no pairs in %s", inPath)
	}

	var reference []string
	if refPath != "" {
		refs, err := readJSONL[Item](refPath)
		if err != nil {
			return err
		}
		reference = make([]string, 0, len(refs))
		for _, r := range refs {
			reference = append(reference, r.Text)
		}
	}

	reports := make([]PairReport, 0, len(pairs))
	accepted := 0
	for _, p := range pairs {
		report, keep := a.gate.Check(p.Original, p.Candidate, reference)
		if keep {
			accepted++
		}
		reports = append(reports, PairReport{
			Original:  p.Original,
			Candidate: p.Candidate,
			Report:    report,
			Accepted:  keep,
		})
	}
	if err := writeJSONL(outPath, reports); err != nil {
		return err
	}
	log.Printf("gate done pairs=%d accepted=%d rejected=%d reference=%d",
		len(pairs), accepted, len(pairs)-accepted, len(reference))
	return nil
}

// AugmentResult is one generated sample, with its consensus outcome
// when revalidation ran.
type AugmentResult struct {
	augment.Sample
	Validation *Outcome `json:"validation,omitempty"`
}

// AugmentFile generates gated paraphrases for every seed. With
// revalidate set, surviving samples go through a consensus round, take
// its final domain and land in validation history as synthetic items.
func (a *App) AugmentFile(ctx context.Context, inPath, outPath string, revalidate, hardNegatives bool) error {
	seeds, err := readJSONL[augment.Seed](inPath)
	if err != nil {
		return err
	}
	if len(seeds) == 0 {
		return fmt.Errorf("no seeds in %s", inPath)
	}

	aug, err := augment.New(a.primary, a.gate, augment.Config{
		Variants:      a.cfg.AugmentVariants,
		Concurrency:   a.cfg.AugmentConcurrency,
		RateLimit:     a.cfg.AugmentRateLimit(),
		MaxPerDomain:  a.cfg.AugmentMaxPerDomain,
		HardNegatives: hardNegatives,
	})
	if err != nil {
		return err
	}

	samples, err := aug.AugmentBatch(ctx, seeds)
	if err != nil {
		return err
	}

	results := make([]AugmentResult, 0, len(samples))
	if revalidate && len(samples) > 0 {
		items := make([]Item, len(samples))
		for i, s := range samples {
			items[i] = Item{Text: s.Text, Domain: s.Domain}
		}
		runID := uuid.New().String()
		outcomes := a.validateItems(ctx, runID, items)
		if err := ctx.Err(); err != nil {
			return err
		}
		a.persistOutcomes(outcomes, "synthetic")
		for i, s := range samples {
			s.Domain = outcomes[i].FinalDomain
			results = append(results, AugmentResult{Sample: s, Validation: &outcomes[i]})
		}
	} else {
		for _, s := range samples {
			results = append(results, AugmentResult{Sample: s})
		}
	}

	if err := writeJSONL(outPath, results); err != nil {
		return err
	}
	st := aug.Stats()
	log.Printf("augment done seeds=%d generated=%d accepted=%d rejected=%d errors=%d",
		len(seeds), st.Generated, st.Accepted, st.Rejected, st.Errors)
	return nil
}

// AuditFile scores a labeled corpus file and persists the report.
// Window zero marks an ad-hoc audit rather than a scheduled window.
func (a *App) AuditFile(inPath string) (quality.CorpusReport, error) {
	items, err := readJSONL[quality.Item](inPath)
	if err != nil {
		return quality.CorpusReport{}, err
	}
	report := quality.ScoreCorpus(items, a.cfg.DuplicateThreshold)

	payload, err := json.Marshal(report)
	if err != nil {
		return report, fmt.Errorf("encode audit report: %w", err)
	}
	if err := a.store.InsertAuditReport(0, report.TotalItems, report.QualityScore, string(payload)); err != nil {
		log.Printf("audit report insert failed err=%v", err)
	}
	return report, nil
}

// Sweep blocks on the scheduled audit loop until ctx is cancelled.
func (a *App) Sweep(ctx context.Context) {
	a.sweeper.Run(ctx)
}

// RecordFeedback stores one review decision and folds it into the
// calibration table.
func (a *App) RecordFeedback(text, predicted, corrected string, confidence float64) error {
	if err := a.learner.Record(text, predicted, corrected, confidence); err != nil {
		return err
	}
	domain := taxonomy.Validate(predicted)
	a.calibrator.Update(domain, confidence, domain == taxonomy.Validate(corrected))
	return nil
}

// HistoryStats is the confidence and domain breakdown of the stored
// validation history.
type HistoryStats struct {
	TotalValidated    int            `json:"total_validated"`
	TotalValid        int            `json:"total_valid"`
	TotalFeedback     int            `json:"total_feedback"`
	AvgConfidence     float64        `json:"avg_confidence"`
	ConfidenceBuckets map[string]int `json:"confidence_buckets"`
	DomainCounts      map[string]int `json:"domain_counts"`
}

// WeekStats is one week of validation and feedback volume.
type WeekStats struct {
	WeekStart     string  `json:"week_start"`
	Validated     int     `json:"validated"`
	Feedback      int     `json:"feedback"`
	AvgConfidence float64 `json:"avg_confidence"`
}

// StatsReport aggregates everything the stats subcommand prints.
type StatsReport struct {
	GeneratedAt time.Time         `json:"generated_at"`
	History     HistoryStats      `json:"history"`
	WeeklyTrend []WeekStats       `json:"weekly_trend,omitempty"`
	Feedback    feedback.Stats    `json:"feedback"`
	Calibration calibration.Table `json:"calibration"`
}

// Stats collects all-time history statistics, the recent weekly trend,
// feedback metrics and the calibration table.
func (a *App) Stats() (StatsReport, error) {
	st, err := a.store.GetValidationStats(time.Time{})
	if err != nil {
		return StatsReport{}, fmt.Errorf("load validation stats: %w", err)
	}
	now := time.Now().In(a.cfg.Location)
	trend, err := a.store.GetWeeklyTrend(now.AddDate(0, 0, -7*trendWeeks))
	if err != nil {
		return StatsReport{}, fmt.Errorf("load weekly trend: %w", err)
	}
	fb, err := a.learner.Stats()
	if err != nil {
		return StatsReport{}, fmt.Errorf("load feedback stats: %w", err)
	}

	report := StatsReport{
		GeneratedAt: now,
		History: HistoryStats{
			TotalValidated: st.TotalValidated,
			TotalValid:     st.TotalValid,
			TotalFeedback:  st.TotalFeedback,
			AvgConfidence:  st.AvgConfidence,
			ConfidenceBuckets: map[string]int{
				"<0.5":    st.BucketBelow50,
				"0.5-0.7": st.Bucket50to70,
				"0.7-0.9": st.Bucket70to90,
				">=0.9":   st.Bucket90Plus,
			},
			DomainCounts: st.DomainCounts,
		},
		Feedback:    fb,
		Calibration: a.calibrator.Snapshot(),
	}
	for _, t := range trend {
		report.WeeklyTrend = append(report.WeeklyTrend, WeekStats{
			WeekStart:     t.WeekStart,
			Validated:     t.Validated,
			Feedback:      t.Feedback,
			AvgConfidence: t.AvgConfidence,
		})
	}
	return report, nil
}
