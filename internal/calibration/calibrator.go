// Package calibration remaps raw classifier confidence to the empirical
// accuracy observed for that domain and confidence bucket.
package calibration

import (
	"fmt"
	"log"
	"sync"
)

// Bucket accumulates review outcomes for one confidence interval as a
// running count and mean, so every update reweights correctly without
// keeping the full observation list.
type Bucket struct {
	Observations int     `json:"observations"`
	Accuracy     float64 `json:"accuracy"`
}

// Table maps domain -> bucket key (e.g. "0.7-0.8") -> accumulated bucket.
type Table map[string]map[string]Bucket

// Clone returns a deep copy so callers can hand the table to a store
// without racing later updates.
func (t Table) Clone() Table {
	out := make(Table, len(t))
	for domain, buckets := range t {
		cp := make(map[string]Bucket, len(buckets))
		for key, b := range buckets {
			cp[key] = b
		}
		out[domain] = cp
	}
	return out
}

// Store persists the calibration table. Load returns an empty table when
// nothing has been persisted yet.
type Store interface {
	LoadCalibration() (Table, error)
	SaveCalibration(Table) error
}

// Calibrator owns the in-memory calibration table. The table is
// authoritative; persistence is best-effort and retried on the next
// update after a failure.
type Calibrator struct {
	mu    sync.Mutex
	table Table
	store Store
}

// New loads the persisted table from store. A load failure is logged and
// the calibrator starts empty; it never fails construction.
func New(store Store) *Calibrator {
	c := &Calibrator{table: make(Table), store: store}
	if store == nil {
		return c
	}
	table, err := store.LoadCalibration()
	if err != nil {
		log.Printf("calibration load failed, starting empty err=%v", err)
		return c
	}
	if table != nil {
		c.table = table
	}
	log.Printf("calibration loaded domains=%d", len(c.table))
	return c
}

// BucketKey returns the 0.1-wide interval key containing conf, e.g.
// BucketKey(0.82) = "0.8-0.9". Values at or above 1.0 land in "0.9-1.0"
// so a perfect score keys the same bucket it later reads.
func BucketKey(conf float64) string {
	idx := int(conf * 10)
	if idx > 9 {
		idx = 9
	}
	if idx < 0 {
		idx = 0
	}
	return fmt.Sprintf("%.1f-%.1f", float64(idx)/10, float64(idx+1)/10)
}

// Calibrate returns the empirical accuracy recorded for the bucket
// containing raw, or raw unchanged when no observations exist yet.
func (c *Calibrator) Calibrate(domain string, raw float64) float64 {
	c.mu.Lock()
	defer c.mu.Unlock()

	buckets, ok := c.table[domain]
	if !ok {
		return raw
	}
	b, ok := buckets[BucketKey(raw)]
	if !ok || b.Observations == 0 {
		return raw
	}
	return b.Accuracy
}

// Update folds one review outcome into the bucket for predicted and
// persists the table. Persistence failures are logged; the in-memory
// table keeps the update either way.
func (c *Calibrator) Update(domain string, predicted float64, correct bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	buckets, ok := c.table[domain]
	if !ok {
		buckets = make(map[string]Bucket)
		c.table[domain] = buckets
	}

	key := BucketKey(predicted)
	b := buckets[key]
	outcome := 0.0
	if correct {
		outcome = 1.0
	}
	b.Observations++
	b.Accuracy += (outcome - b.Accuracy) / float64(b.Observations)
	buckets[key] = b

	if c.store == nil {
		return
	}
	if err := c.store.SaveCalibration(c.table.Clone()); err != nil {
		log.Printf("calibration save failed, in-memory table stays authoritative err=%v", err)
	}
}

// Snapshot returns a copy of the current table for reporting.
func (c *Calibrator) Snapshot() Table {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.table.Clone()
}
