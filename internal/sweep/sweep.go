// Package sweep runs the periodic corpus audit: score recent validation
// history, persist the report and prune the stale response cache.
package sweep

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/robfig/cron/v3"

	"labelqa/internal/quality"
	"labelqa/internal/storage/sqlite"
)

// maxAuditRecords bounds one audit window load.
const maxAuditRecords = 10000

// Store is the persistence surface the sweeper needs; implemented by
// storage/sqlite.
type Store interface {
	RecentValidations(since time.Time, limit int) ([]sqlite.ValidationRecord, error)
	InsertAuditReport(windowDays, totalItems int, score float64, reportJSON string) error
	PruneCache(cutoff time.Time) (int64, error)
}

// Config tunes a Sweeper. An empty Schedule disables the loop; RunOnce
// still works. CacheTTL of zero disables cache pruning.
type Config struct {
	Schedule           string
	WindowDays         int
	Location           *time.Location
	DuplicateThreshold float64
	CacheTTL           time.Duration
}

type Sweeper struct {
	store Store
	cfg   Config
}

func New(store Store, cfg Config) (*Sweeper, error) {
	if store == nil {
		return nil, fmt.Errorf("sweeper config: store is required")
	}
	if cfg.WindowDays <= 0 {
		cfg.WindowDays = 7
	}
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	if cfg.DuplicateThreshold == 0 {
		cfg.DuplicateThreshold = quality.DefaultDuplicateThreshold
	}
	if cfg.DuplicateThreshold < 0 || cfg.DuplicateThreshold > 1 {
		return nil, fmt.Errorf("sweeper config: duplicate threshold %.2f outside [0, 1]", cfg.DuplicateThreshold)
	}
	if cfg.CacheTTL < 0 {
		return nil, fmt.Errorf("sweeper config: cache ttl is negative")
	}
	return &Sweeper{store: store, cfg: cfg}, nil
}

// RunOnce audits the validation history inside the window ending at
// now, stores the report and prunes expired cache rows.
func (s *Sweeper) RunOnce(now time.Time) (quality.CorpusReport, error) {
	since := now.AddDate(0, 0, -s.cfg.WindowDays)
	records, err := s.store.RecentValidations(since, maxAuditRecords)
	if err != nil {
		return quality.CorpusReport{}, fmt.Errorf("audit: load validations: %w", err)
	}

	items := make([]quality.Item, 0, len(records))
	for _, r := range records {
		conf := r.FinalConfidence
		items = append(items, quality.Item{Text: r.Text, Domain: r.FinalDomain, Confidence: &conf})
	}

	report := quality.ScoreCorpus(items, s.cfg.DuplicateThreshold)

	payload, err := json.Marshal(report)
	if err != nil {
		return report, fmt.Errorf("audit: encode report: %w", err)
	}
	if err := s.store.InsertAuditReport(s.cfg.WindowDays, report.TotalItems, report.QualityScore, string(payload)); err != nil {
		return report, fmt.Errorf("audit: store report: %w", err)
	}

	if s.cfg.CacheTTL > 0 {
		pruned, err := s.store.PruneCache(now.Add(-s.cfg.CacheTTL))
		if err != nil {
			log.Printf("audit cache prune failed err=%v", err)
		} else if pruned > 0 {
			log.Printf("audit pruned %d stale cache entries", pruned)
		}
	}

	log.Printf("audit complete: %s", FormatAuditSummary(report, s.cfg.WindowDays))
	return report, nil
}

// Run loops on the cron schedule until the context is cancelled. The
// schedule is a standard 5-field cron expression (minute hour
// day-of-month month day-of-week). Examples: "0 3 * * *" (daily 3am),
// "0 3 * * 1" (Mondays 3am). Call in its own goroutine.
func (s *Sweeper) Run(ctx context.Context) {
	schedule := strings.TrimSpace(s.cfg.Schedule)
	if schedule == "" {
		log.Println("Scheduled audit disabled (sweep_schedule not set)")
		return
	}

	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)
	sched, err := parser.Parse(schedule)
	if err != nil {
		log.Printf("Invalid sweep_schedule '%s': %v, scheduled audit disabled", schedule, err)
		return
	}
	log.Printf("Scheduled audit enabled (cron: %s, window: %dd)", schedule, s.cfg.WindowDays)

	for {
		now := time.Now().In(s.cfg.Location)
		next := sched.Next(now)
		wait := next.Sub(now)
		log.Printf("Next audit at %s (in %s)", next.Format("Mon Jan 2 15:04"), wait.Round(time.Minute))

		select {
		case <-ctx.Done():
			log.Println("Scheduled audit stopped")
			return
		case <-time.After(wait):
		}

		if _, err := s.RunOnce(time.Now().In(s.cfg.Location)); err != nil {
			log.Printf("Scheduled audit error: %v", err)
		}
	}
}

// FormatAuditSummary returns a one-line human-readable report summary.
func FormatAuditSummary(report quality.CorpusReport, windowDays int) string {
	if report.TotalItems == 0 {
		return fmt.Sprintf("No validated samples in the last %d days", windowDays)
	}
	msg := fmt.Sprintf("Scored %d samples from the last %d days: quality %.2f, %d duplicate pairs (%.1f%%), balance CV %.2f",
		report.TotalItems, windowDays, report.QualityScore, report.DuplicatesFound, report.DuplicateRate*100, report.DomainBalanceCV)
	if len(report.Issues) > 0 {
		msg += fmt.Sprintf("\nIssues:\n%s", strings.Join(report.Issues, "\n"))
	}
	return msg
}
