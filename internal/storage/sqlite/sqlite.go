// Package sqlite persists validation history, calibration buckets,
// reviewer feedback, the classifier response cache and corpus audit
// reports in a single SQLite database.
package sqlite

import (
	"database/sql"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"labelqa/internal/calibration"
	"labelqa/internal/feedback"
)

// Store wraps the database handle. One Store per process; the driver
// serializes writes.
type Store struct {
	db *sql.DB
}

func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, err
	}

	schema := `
	CREATE TABLE IF NOT EXISTS validation_history (
		id                 INTEGER PRIMARY KEY AUTOINCREMENT,
		run_id             TEXT NOT NULL DEFAULT '',
		text               TEXT NOT NULL,
		final_domain       TEXT NOT NULL,
		final_confidence   REAL NOT NULL,
		consensus_ratio    REAL NOT NULL DEFAULT 0,
		consensus_achieved INTEGER NOT NULL DEFAULT 0,
		rule_match         INTEGER NOT NULL DEFAULT 0,
		rule_domain        TEXT DEFAULT '',
		is_valid           INTEGER NOT NULL DEFAULT 1,
		issues             TEXT DEFAULT '',
		votes              TEXT DEFAULT '',
		llm_provider       TEXT DEFAULT '',
		llm_model          TEXT DEFAULT '',
		validated_at       DATETIME DEFAULT CURRENT_TIMESTAMP
	);
	CREATE INDEX IF NOT EXISTS idx_vh_date ON validation_history(validated_at);
	CREATE INDEX IF NOT EXISTS idx_vh_domain ON validation_history(final_domain);

	CREATE TABLE IF NOT EXISTS calibration_buckets (
		domain       TEXT NOT NULL,
		bucket       TEXT NOT NULL,
		observations INTEGER NOT NULL DEFAULT 0,
		accuracy     REAL NOT NULL DEFAULT 0,
		updated_at   DATETIME DEFAULT CURRENT_TIMESTAMP,
		PRIMARY KEY (domain, bucket)
	);

	CREATE TABLE IF NOT EXISTS feedback_entries (
		id         INTEGER PRIMARY KEY AUTOINCREMENT,
		text       TEXT NOT NULL,
		predicted  TEXT NOT NULL,
		corrected  TEXT NOT NULL,
		confidence REAL NOT NULL DEFAULT 0,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);
	CREATE INDEX IF NOT EXISTS idx_fb_date ON feedback_entries(created_at);
	CREATE INDEX IF NOT EXISTS idx_fb_corrected ON feedback_entries(corrected);

	CREATE TABLE IF NOT EXISTS llm_cache (
		cache_key  TEXT PRIMARY KEY,
		response   TEXT NOT NULL,
		model      TEXT DEFAULT '',
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);

	CREATE TABLE IF NOT EXISTS audit_reports (
		id            INTEGER PRIMARY KEY AUTOINCREMENT,
		window_days   INTEGER NOT NULL DEFAULT 0,
		total_items   INTEGER NOT NULL DEFAULT 0,
		quality_score REAL NOT NULL DEFAULT 0,
		report        TEXT NOT NULL,
		created_at    DATETIME DEFAULT CURRENT_TIMESTAMP
	);
	CREATE INDEX IF NOT EXISTS idx_ar_date ON audit_reports(created_at);
	`
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, err
	}

	// Migration: add source column if missing.
	var colCount int
	_ = db.QueryRow(`SELECT COUNT(*) FROM pragma_table_info('validation_history') WHERE name = 'source'`).Scan(&colCount)
	if colCount == 0 {
		_, _ = db.Exec(`ALTER TABLE validation_history ADD COLUMN source TEXT DEFAULT ''`)
	}

	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// --- Validation History ---

type ValidationRecord struct {
	ID                int64
	RunID             string
	Text              string
	FinalDomain       string
	FinalConfidence   float64
	ConsensusRatio    float64
	ConsensusAchieved bool
	RuleMatch         bool
	RuleDomain        string
	IsValid           bool
	Issues            string
	Votes             string
	Source            string
	LLMProvider       string
	LLMModel          string
	ValidatedAt       time.Time
}

func (s *Store) InsertValidations(records []ValidationRecord) error {
	if len(records) == 0 {
		return nil
	}
	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	stmt, err := tx.Prepare(
		`INSERT INTO validation_history
		 (run_id, text, final_domain, final_confidence, consensus_ratio, consensus_achieved,
		  rule_match, rule_domain, is_valid, issues, votes, source, llm_provider, llm_model)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
	)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, r := range records {
		if _, err := stmt.Exec(
			r.RunID, r.Text, r.FinalDomain, r.FinalConfidence, r.ConsensusRatio,
			r.ConsensusAchieved, r.RuleMatch, r.RuleDomain, r.IsValid,
			r.Issues, r.Votes, r.Source, r.LLMProvider, r.LLMModel,
		); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func (s *Store) RecentValidations(since time.Time, limit int) ([]ValidationRecord, error) {
	rows, err := s.db.Query(
		`SELECT id, run_id, text, final_domain, final_confidence, consensus_ratio,
		        consensus_achieved, rule_match, rule_domain, is_valid, issues, votes,
		        source, llm_provider, llm_model, validated_at
		 FROM validation_history
		 WHERE validated_at >= ?
		 ORDER BY validated_at DESC, id DESC
		 LIMIT ?`,
		since, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []ValidationRecord
	for rows.Next() {
		var r ValidationRecord
		if err := rows.Scan(
			&r.ID, &r.RunID, &r.Text, &r.FinalDomain, &r.FinalConfidence,
			&r.ConsensusRatio, &r.ConsensusAchieved, &r.RuleMatch, &r.RuleDomain,
			&r.IsValid, &r.Issues, &r.Votes, &r.Source, &r.LLMProvider,
			&r.LLMModel, &r.ValidatedAt,
		); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

type ValidationStats struct {
	TotalValidated int
	TotalValid     int
	TotalFeedback  int
	AvgConfidence  float64
	BucketBelow50  int
	Bucket50to70   int
	Bucket70to90   int
	Bucket90Plus   int
	DomainCounts   map[string]int
}

func (s *Store) GetValidationStats(since time.Time) (ValidationStats, error) {
	var st ValidationStats
	err := s.db.QueryRow(
		`SELECT COUNT(*),
		        COALESCE(SUM(CASE WHEN is_valid THEN 1 ELSE 0 END), 0),
		        COALESCE(AVG(final_confidence), 0),
		        COALESCE(SUM(CASE WHEN final_confidence < 0.50 THEN 1 ELSE 0 END), 0),
		        COALESCE(SUM(CASE WHEN final_confidence >= 0.50 AND final_confidence < 0.70 THEN 1 ELSE 0 END), 0),
		        COALESCE(SUM(CASE WHEN final_confidence >= 0.70 AND final_confidence < 0.90 THEN 1 ELSE 0 END), 0),
		        COALESCE(SUM(CASE WHEN final_confidence >= 0.90 THEN 1 ELSE 0 END), 0)
		 FROM validation_history WHERE validated_at >= ?`,
		since,
	).Scan(&st.TotalValidated, &st.TotalValid, &st.AvgConfidence,
		&st.BucketBelow50, &st.Bucket50to70, &st.Bucket70to90, &st.Bucket90Plus)
	if err != nil {
		return st, err
	}

	if err := s.db.QueryRow(
		`SELECT COUNT(*) FROM feedback_entries WHERE created_at >= ?`,
		since,
	).Scan(&st.TotalFeedback); err != nil {
		return st, err
	}

	rows, err := s.db.Query(
		`SELECT final_domain, COUNT(*) FROM validation_history
		 WHERE validated_at >= ?
		 GROUP BY final_domain`,
		since,
	)
	if err != nil {
		return st, err
	}
	defer rows.Close()

	st.DomainCounts = make(map[string]int)
	for rows.Next() {
		var domain string
		var cnt int
		if err := rows.Scan(&domain, &cnt); err != nil {
			return st, err
		}
		st.DomainCounts[domain] = cnt
	}
	return st, rows.Err()
}

type WeeklyTrend struct {
	WeekStart     string
	Validated     int
	Feedback      int
	AvgConfidence float64
}

func (s *Store) GetWeeklyTrend(since time.Time) ([]WeeklyTrend, error) {
	rows, err := s.db.Query(
		`SELECT
		    strftime('%Y-%m-%d', validated_at, 'weekday 0', '-6 days') as week_start,
		    COUNT(*) as validated,
		    COALESCE(AVG(final_confidence), 0) as avg_confidence
		 FROM validation_history
		 WHERE validated_at >= ?
		 GROUP BY week_start
		 ORDER BY week_start DESC`,
		since,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var trends []WeeklyTrend
	for rows.Next() {
		var t WeeklyTrend
		if err := rows.Scan(&t.WeekStart, &t.Validated, &t.AvgConfidence); err != nil {
			return nil, err
		}
		trends = append(trends, t)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	// Load feedback counts per week.
	fbRows, err := s.db.Query(
		`SELECT
		    strftime('%Y-%m-%d', created_at, 'weekday 0', '-6 days') as week_start,
		    COUNT(*) as feedback
		 FROM feedback_entries
		 WHERE created_at >= ?
		 GROUP BY week_start`,
		since,
	)
	if err != nil {
		return trends, nil // non-fatal
	}
	defer fbRows.Close()

	fbMap := make(map[string]int)
	for fbRows.Next() {
		var ws string
		var cnt int
		if err := fbRows.Scan(&ws, &cnt); err != nil {
			continue
		}
		fbMap[ws] = cnt
	}
	for i := range trends {
		if cnt, ok := fbMap[trends[i].WeekStart]; ok {
			trends[i].Feedback = cnt
		}
	}
	return trends, nil
}

// --- Calibration ---

// LoadCalibration reads the full bucket table. Implements
// calibration.Store.
func (s *Store) LoadCalibration() (calibration.Table, error) {
	rows, err := s.db.Query(`SELECT domain, bucket, observations, accuracy FROM calibration_buckets`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	table := make(calibration.Table)
	for rows.Next() {
		var domain, bucket string
		var b calibration.Bucket
		if err := rows.Scan(&domain, &bucket, &b.Observations, &b.Accuracy); err != nil {
			return nil, err
		}
		if table[domain] == nil {
			table[domain] = make(map[string]calibration.Bucket)
		}
		table[domain][bucket] = b
	}
	return table, rows.Err()
}

// SaveCalibration rewrites the full bucket table so the persisted form
// always round-trips the in-memory one.
func (s *Store) SaveCalibration(table calibration.Table) error {
	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`DELETE FROM calibration_buckets`); err != nil {
		return err
	}

	stmt, err := tx.Prepare(
		`INSERT INTO calibration_buckets (domain, bucket, observations, accuracy)
		 VALUES (?, ?, ?, ?)`,
	)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for domain, buckets := range table {
		for bucket, b := range buckets {
			if _, err := stmt.Exec(domain, bucket, b.Observations, b.Accuracy); err != nil {
				return err
			}
		}
	}
	return tx.Commit()
}

// --- Feedback ---

// InsertFeedback stores one reviewer correction. Implements
// feedback.Store.
func (s *Store) InsertFeedback(e feedback.Entry) error {
	_, err := s.db.Exec(
		`INSERT INTO feedback_entries (text, predicted, corrected, confidence)
		 VALUES (?, ?, ?, ?)`,
		e.Text, e.Predicted, e.Corrected, e.Confidence,
	)
	return err
}

func (s *Store) RecentFeedback(since time.Time, limit int) ([]feedback.Entry, error) {
	rows, err := s.db.Query(
		`SELECT id, text, predicted, corrected, confidence, created_at
		 FROM feedback_entries
		 WHERE created_at >= ?
		 ORDER BY created_at DESC, id DESC
		 LIMIT ?`,
		since, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []feedback.Entry
	for rows.Next() {
		var e feedback.Entry
		if err := rows.Scan(&e.ID, &e.Text, &e.Predicted, &e.Corrected, &e.Confidence, &e.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// --- LLM Cache ---

// GetCachedResponse returns the cached raw response for key. The bool
// reports a hit; staleness is the caller's call from createdAt.
func (s *Store) GetCachedResponse(key string) (string, time.Time, bool, error) {
	var response string
	var createdAt time.Time
	err := s.db.QueryRow(
		`SELECT response, created_at FROM llm_cache WHERE cache_key = ?`,
		key,
	).Scan(&response, &createdAt)
	if err == sql.ErrNoRows {
		return "", time.Time{}, false, nil
	}
	if err != nil {
		return "", time.Time{}, false, err
	}
	return response, createdAt, true, nil
}

func (s *Store) PutCachedResponse(key, response, model string) error {
	_, err := s.db.Exec(
		`INSERT OR REPLACE INTO llm_cache (cache_key, response, model, created_at)
		 VALUES (?, ?, ?, CURRENT_TIMESTAMP)`,
		key, response, model,
	)
	return err
}

// PruneCache drops cache rows created before cutoff and returns how
// many were removed.
func (s *Store) PruneCache(cutoff time.Time) (int64, error) {
	res, err := s.db.Exec(`DELETE FROM llm_cache WHERE created_at < ?`, cutoff)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// --- Audit Reports ---

type AuditRecord struct {
	ID           int64
	WindowDays   int
	TotalItems   int
	QualityScore float64
	Report       string
	CreatedAt    time.Time
}

func (s *Store) InsertAuditReport(windowDays, totalItems int, score float64, reportJSON string) error {
	_, err := s.db.Exec(
		`INSERT INTO audit_reports (window_days, total_items, quality_score, report)
		 VALUES (?, ?, ?, ?)`,
		windowDays, totalItems, score, reportJSON,
	)
	return err
}

func (s *Store) RecentAuditReports(limit int) ([]AuditRecord, error) {
	rows, err := s.db.Query(
		`SELECT id, window_days, total_items, quality_score, report, created_at
		 FROM audit_reports
		 ORDER BY created_at DESC, id DESC
		 LIMIT ?`,
		limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []AuditRecord
	for rows.Next() {
		var r AuditRecord
		if err := rows.Scan(&r.ID, &r.WindowDays, &r.TotalItems, &r.QualityScore, &r.Report, &r.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}
