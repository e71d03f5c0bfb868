// Package consensus validates classifier labels by repeated voting
// across temperatures and models, cross-checked against the keyword
// heuristic.
package consensus

import (
	"context"
	"fmt"
	"log"
	"math"
	"sync"

	"labelqa/internal/rules"
	"labelqa/internal/taxonomy"
)

// Candidate is one ranked alternative from a classifier call.
type Candidate struct {
	Domain     string  `json:"domain"`
	Confidence float64 `json:"confidence"`
}

// Classification is the result of a single classifier invocation.
type Classification struct {
	Domain     string      `json:"domain"`
	Confidence float64     `json:"confidence"`
	Candidates []Candidate `json:"candidates,omitempty"`
}

// Classifier labels one text at a given sampling temperature. Any error
// counts as an abstention in the vote, never as a fatal failure.
type Classifier interface {
	Classify(ctx context.Context, text string, temperature float64) (Classification, error)
}

// Vote is one successful classifier invocation in a consensus round.
type Vote struct {
	Domain     string  `json:"domain"`
	Confidence float64 `json:"confidence"`
	RunLabel   string  `json:"run_label"`
}

// Outcome is the full result of validating one text. Rejection is data:
// IsValid=false plus issues, never an error.
type Outcome struct {
	Text              string         `json:"text"`
	FinalDomain       string         `json:"final_domain"`
	FinalConfidence   float64        `json:"final_confidence"`
	VoteTally         map[string]int `json:"vote_tally"`
	ConsensusRatio    float64        `json:"consensus_ratio"`
	ConsensusAchieved bool           `json:"consensus_achieved"`
	RuleMatch         bool           `json:"rule_match"`
	RuleDomain        string         `json:"rule_domain,omitempty"`
	IsValid           bool           `json:"is_valid"`
	Issues            []string       `json:"issues,omitempty"`
	Votes             []Vote         `json:"votes"`
}

// Stats counts validator decisions across calls.
type Stats struct {
	TotalValidated    int `json:"total_validated"`
	ConsensusAchieved int `json:"consensus_achieved"`
	ConsensusFailed   int `json:"consensus_failed"`
	RuleMatched       int `json:"rule_matched"`
	RuleMismatched    int `json:"rule_mismatched"`
	HighConfidence    int `json:"high_confidence"`
	LowConfidence     int `json:"low_confidence"`
	Rejected          int `json:"rejected"`
}

// Config tunes a Validator. Keywords is the rule table for the keyword
// heuristic; leave it empty to disable rule checks. Temperatures are
// cycled across runs, so fewer temperatures than runs repeat from the
// start and extra ones go unused.
type Config struct {
	Runs           int
	Threshold      float64
	Temperatures   []float64
	Keywords       map[string][]string
	RuleBoost      float64
	MinConfidence  float64
	HighConfidence float64
	StrictMode     bool
	Concurrency    int
}

// Validator runs consensus rounds. Safe for concurrent use; per-round
// votes carry no shared state and the stats record is locked.
type Validator struct {
	cfg Config

	mu    sync.Mutex
	stats Stats
}

// New validates the configuration once so per-text calls cannot fail.
func New(cfg Config) (*Validator, error) {
	if cfg.Runs < 2 || cfg.Runs > 5 {
		return nil, fmt.Errorf("consensus runs %d outside [2,5]", cfg.Runs)
	}
	if cfg.Threshold < 0.5 || cfg.Threshold > 1.0 {
		return nil, fmt.Errorf("consensus threshold %.2f outside [0.5,1.0]", cfg.Threshold)
	}
	if len(cfg.Temperatures) == 0 {
		return nil, fmt.Errorf("at least one temperature required")
	}
	for _, t := range cfg.Temperatures {
		if t < 0 || t > 2 {
			return nil, fmt.Errorf("temperature %.2f outside [0,2]", t)
		}
	}
	if cfg.RuleBoost < 0 || cfg.RuleBoost > 1 {
		return nil, fmt.Errorf("rule boost %.2f outside [0,1]", cfg.RuleBoost)
	}
	if cfg.MinConfidence < 0 || cfg.MinConfidence > 1 {
		return nil, fmt.Errorf("min confidence %.2f outside [0,1]", cfg.MinConfidence)
	}
	if cfg.HighConfidence < 0 || cfg.HighConfidence > 1 {
		return nil, fmt.Errorf("high confidence %.2f outside [0,1]", cfg.HighConfidence)
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 1
	}
	return &Validator{cfg: cfg}, nil
}

// Validate runs the consensus round for text. A single classifier is
// invoked Runs times at cycled temperatures; passing several classifiers
// spreads the same runs round-robin across them (ensemble voting).
func (v *Validator) Validate(ctx context.Context, text string, clfs ...Classifier) Outcome {
	return v.run(ctx, text, nil, clfs)
}

// ValidateWithInitial includes a previously computed classification as
// an extra vote ahead of the repeated runs, so existing labels are
// re-validated without discarding the original signal.
func (v *Validator) ValidateWithInitial(ctx context.Context, text, domain string, confidence float64, clfs ...Classifier) Outcome {
	initial := &Vote{Domain: taxonomy.Validate(domain), Confidence: confidence, RunLabel: "initial"}
	return v.run(ctx, text, initial, clfs)
}

type runResult struct {
	cls Classification
	err error
}

func (v *Validator) run(ctx context.Context, text string, initial *Vote, clfs []Classifier) Outcome {
	votes := make([]Vote, 0, v.cfg.Runs+1)
	if initial != nil {
		votes = append(votes, *initial)
	}

	if len(clfs) > 0 {
		results := make([]runResult, v.cfg.Runs)
		sem := make(chan struct{}, v.cfg.Concurrency)
		var wg sync.WaitGroup
		for i := 0; i < v.cfg.Runs; i++ {
			wg.Add(1)
			go func(idx int) {
				defer wg.Done()
				sem <- struct{}{}
				defer func() { <-sem }()
				temp := v.cfg.Temperatures[idx%len(v.cfg.Temperatures)]
				clf := clfs[idx%len(clfs)]
				cls, err := clf.Classify(ctx, text, temp)
				results[idx] = runResult{cls: cls, err: err}
			}(i)
		}
		wg.Wait()

		// Collect in run order so tie-breaks stay deterministic.
		for i, r := range results {
			if r.err != nil {
				log.Printf("consensus run abstained run=%d temp=%.1f err=%v", i+1, v.cfg.Temperatures[i%len(v.cfg.Temperatures)], r.err)
				continue
			}
			votes = append(votes, Vote{
				Domain:     taxonomy.Validate(r.cls.Domain),
				Confidence: r.cls.Confidence,
				RunLabel:   fmt.Sprintf("run-%d", i+1),
			})
		}
	}

	tally := make(map[string]int, len(votes))
	var order []string
	for _, vt := range votes {
		if tally[vt.Domain] == 0 {
			order = append(order, vt.Domain)
		}
		tally[vt.Domain]++
	}

	// Majority with first-encountered tie-break.
	majority := taxonomy.OOS
	majorityCount := 0
	for _, d := range order {
		if tally[d] > majorityCount {
			majority = d
			majorityCount = tally[d]
		}
	}

	total := len(votes)
	ratio := 0.0
	if total > 0 {
		ratio = float64(majorityCount) / float64(total)
	}
	achieved := total > 0 && ratio >= v.cfg.Threshold

	ruleDomain, ruleHit := rules.Match(text, v.cfg.Keywords)
	ruleMatch := ruleHit && ruleDomain == majority

	var conf float64
	for _, vt := range votes {
		conf += vt.Confidence
	}
	if total > 0 {
		conf /= float64(total)
	}
	if ruleMatch && v.cfg.RuleBoost > 0 {
		conf = math.Min(1.0, conf+v.cfg.RuleBoost)
	}

	var issues []string
	isValid := true
	var consensusFailed, lowConf, highConf bool

	if total == 0 {
		issues = append(issues, "no successful classifier votes")
		if v.cfg.StrictMode {
			isValid = false
		}
		consensusFailed = true
	} else if !achieved {
		issues = append(issues, fmt.Sprintf("consensus not reached: %d/%d (%.1f%% < %.1f%%)",
			majorityCount, total, ratio*100, v.cfg.Threshold*100))
		if v.cfg.StrictMode {
			isValid = false
		}
		consensusFailed = true
	}

	if conf < v.cfg.MinConfidence {
		issues = append(issues, fmt.Sprintf("low confidence: %.2f < %.2f", conf, v.cfg.MinConfidence))
		if v.cfg.StrictMode {
			isValid = false
		}
		lowConf = true
	} else if conf >= v.cfg.HighConfidence {
		highConf = true
	}

	if ruleHit && ruleDomain != majority {
		issues = append(issues, fmt.Sprintf("rule conflict: classifier=%s rules=%s", majority, ruleDomain))
		if v.cfg.StrictMode {
			log.Printf("rule override text=%.50q %s -> %s", text, majority, ruleDomain)
			majority = ruleDomain
		}
	}

	v.mu.Lock()
	v.stats.TotalValidated++
	if consensusFailed {
		v.stats.ConsensusFailed++
	} else {
		v.stats.ConsensusAchieved++
	}
	if ruleMatch {
		v.stats.RuleMatched++
	} else if ruleHit {
		v.stats.RuleMismatched++
	}
	if lowConf {
		v.stats.LowConfidence++
	} else if highConf {
		v.stats.HighConfidence++
	}
	if !isValid {
		v.stats.Rejected++
	}
	v.mu.Unlock()

	return Outcome{
		Text:              text,
		FinalDomain:       majority,
		FinalConfidence:   conf,
		VoteTally:         tally,
		ConsensusRatio:    ratio,
		ConsensusAchieved: achieved,
		RuleMatch:         ruleMatch,
		RuleDomain:        ruleDomain,
		IsValid:           isValid,
		Issues:            issues,
		Votes:             votes,
	}
}

// Stats returns a copy of the decision counters.
func (v *Validator) Stats() Stats {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.stats
}
