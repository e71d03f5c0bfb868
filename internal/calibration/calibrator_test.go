package calibration

import (
	"errors"
	"testing"
)

// memStore is an in-memory Store recording save calls.
type memStore struct {
	table   Table
	loadErr error
	saveErr error
	saves   int
}

func (m *memStore) LoadCalibration() (Table, error) {
	if m.loadErr != nil {
		return nil, m.loadErr
	}
	return m.table, nil
}

func (m *memStore) SaveCalibration(t Table) error {
	m.saves++
	if m.saveErr != nil {
		return m.saveErr
	}
	m.table = t
	return nil
}

func TestBucketKey(t *testing.T) {
	tests := []struct {
		conf float64
		want string
	}{
		{0.82, "0.8-0.9"},
		{0.7, "0.7-0.8"},
		{0.0, "0.0-0.1"},
		{0.09, "0.0-0.1"},
		{1.0, "0.9-1.0"},
		{0.999, "0.9-1.0"},
	}
	for _, tt := range tests {
		if got := BucketKey(tt.conf); got != tt.want {
			t.Errorf("BucketKey(%f) = %q, want %q", tt.conf, got, tt.want)
		}
	}
}

func TestCalibrate_ColdStart(t *testing.T) {
	c := New(&memStore{})
	if got := c.Calibrate("house", 0.82); got != 0.82 {
		t.Fatalf("expected identity on empty table, got %f", got)
	}
}

func TestUpdate_RunningMean(t *testing.T) {
	store := &memStore{}
	c := New(store)

	// Three outcomes in the same bucket: correct, correct, wrong.
	c.Update("house", 0.85, true)
	c.Update("house", 0.82, true)
	c.Update("house", 0.87, false)

	got := c.Calibrate("house", 0.81)
	want := 2.0 / 3.0
	if got < want-1e-9 || got > want+1e-9 {
		t.Fatalf("expected empirical accuracy %f, got %f", want, got)
	}
	if store.saves != 3 {
		t.Fatalf("expected a save per update, got %d", store.saves)
	}

	// Other buckets and domains stay untouched.
	if got := c.Calibrate("house", 0.45); got != 0.45 {
		t.Fatalf("expected identity for unobserved bucket, got %f", got)
	}
	if got := c.Calibrate("payments", 0.85); got != 0.85 {
		t.Fatalf("expected identity for unobserved domain, got %f", got)
	}
}

func TestUpdate_PerfectConfidenceRoundTrips(t *testing.T) {
	c := New(&memStore{})
	c.Update("okc", 1.0, false)
	if got := c.Calibrate("okc", 1.0); got != 0.0 {
		t.Fatalf("expected outcome recorded at conf=1.0 to be readable, got %f", got)
	}
}

func TestUpdate_SaveFailureKeepsMemoryAuthoritative(t *testing.T) {
	store := &memStore{saveErr: errors.New("disk full")}
	c := New(store)

	c.Update("house", 0.75, true)
	if got := c.Calibrate("house", 0.75); got != 1.0 {
		t.Fatalf("expected in-memory table to hold update despite save failure, got %f", got)
	}
}

func TestNew_LoadFailureStartsEmpty(t *testing.T) {
	store := &memStore{loadErr: errors.New("corrupt")}
	c := New(store)
	if got := c.Calibrate("house", 0.6); got != 0.6 {
		t.Fatalf("expected empty table after failed load, got %f", got)
	}
}

func TestNew_LoadsPersistedTable(t *testing.T) {
	store := &memStore{table: Table{
		"payments": {"0.7-0.8": {Observations: 10, Accuracy: 0.55}},
	}}
	c := New(store)
	if got := c.Calibrate("payments", 0.73); got != 0.55 {
		t.Fatalf("expected persisted accuracy 0.55, got %f", got)
	}
}

func TestSnapshot_IsolatedFromLaterUpdates(t *testing.T) {
	c := New(&memStore{})
	c.Update("house", 0.75, true)
	snap := c.Snapshot()
	c.Update("house", 0.75, false)

	b := snap["house"]["0.7-0.8"]
	if b.Observations != 1 || b.Accuracy != 1.0 {
		t.Fatalf("expected snapshot to be frozen, got %+v", b)
	}
}
