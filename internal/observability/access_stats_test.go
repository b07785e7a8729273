package observability

import (
	"sync"
	"testing"
	"time"
)

func TestRecordConcurrent(t *testing.T) {
	a := NewAccessStats(time.Hour)
	var wg sync.WaitGroup
	numGoroutines := 10
	recordsPerGoroutine := 100

	for i := 0; i < numGoroutines; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < recordsPerGoroutine; j++ {
				a.Record("a.parquet", "query")
				a.Record("b.csv", "schema")
			}
		}()
	}
	wg.Wait()

	top := a.Top(10)
	if len(top) != 2 {
		t.Fatalf("expected 2 datasets, got %d", len(top))
	}
	want := int64(numGoroutines * recordsPerGoroutine)
	for _, s := range top {
		if s.Frequency != want {
			t.Errorf("expected frequency %d for %s, got %d", want, s.DatasetID, s.Frequency)
		}
	}
}

func TestTopOrderingAndCopy(t *testing.T) {
	a := NewAccessStats(time.Hour)
	for i := 0; i < 3; i++ {
		a.Record("low", "query")
	}
	for i := 0; i < 7; i++ {
		a.Record("high", "query")
	}
	a.Record("high", "preview")

	top := a.Top(1)
	if len(top) != 1 || top[0].DatasetID != "high" {
		t.Fatalf("unexpected top %+v", top)
	}
	if top[0].Operations["query"] != 7 || top[0].Operations["preview"] != 1 {
		t.Errorf("unexpected operations %v", top[0].Operations)
	}

	top[0].Operations["query"] = 0
	if a.Top(1)[0].Operations["query"] != 7 {
		t.Error("Top must return copies")
	}
	if len(a.Top(0)) != 0 {
		t.Error("Top(0) should be empty")
	}
}

func TestPrune(t *testing.T) {
	now := time.Unix(1700000000, 0)
	a := NewAccessStats(time.Hour)
	a.now = func() time.Time { return now }

	a.Record("old", "query")
	now = now.Add(50 * time.Minute)
	a.Record("fresh", "query")
	now = now.Add(20 * time.Minute)

	if removed := a.Prune(); removed != 1 {
		t.Errorf("expected 1 pruned entry, got %d", removed)
	}
	if a.Len() != 1 || a.Top(1)[0].DatasetID != "fresh" {
		t.Errorf("unexpected remaining stats %+v", a.Top(5))
	}
}
