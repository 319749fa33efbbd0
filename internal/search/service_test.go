package search

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"eurobansync/api/internal/logger"
)

type fakeEngine struct {
	mu      sync.Mutex
	healthy bool
	err     error
	results []Result
	indexed []DocumentRecord
	queries []Query
}

func (f *fakeEngine) Healthy() bool { return f.healthy }

func (f *fakeEngine) Search(q Query) ([]Result, int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.queries = append(f.queries, q)
	if f.err != nil {
		return nil, 0, f.err
	}
	return f.results, len(f.results), nil
}

func (f *fakeEngine) IndexDocuments(documents []DocumentRecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.indexed = append(f.indexed, documents...)
	return nil
}

func (f *fakeEngine) indexedCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.indexed)
}

type fakeFallback struct {
	results []Result
	records []DocumentRecord
	err     error
	calls   int
	actor   string
}

func (f *fakeFallback) Search(ctx context.Context, q Query) ([]Result, int, error) {
	f.calls++
	f.actor = q.Actor
	if f.err != nil {
		return nil, 0, f.err
	}
	return f.results, len(f.results), nil
}

func (f *fakeFallback) LoadAllRecords(ctx context.Context, actor string) ([]DocumentRecord, error) {
	f.actor = actor
	return f.records, nil
}

func TestSearchUsesHealthyEngine(t *testing.T) {
	engine := &fakeEngine{healthy: true, results: []Result{{ID: "doc-1", Title: "Balance"}}}
	fallback := &fakeFallback{}
	svc := NewService(logger.Nop(), engine, fallback, "system")

	resp := svc.Search(context.Background(), Query{Text: "balance", Status: "approved"})
	if resp.Engine != "meilisearch" || resp.Total != 1 || resp.Results[0].ID != "doc-1" {
		t.Fatalf("unexpected response: %+v", resp)
	}
	if fallback.calls != 0 {
		t.Fatalf("fallback called %d times, want 0", fallback.calls)
	}
	if engine.queries[0].Status != "approved" {
		t.Fatalf("status filter not forwarded: %+v", engine.queries[0])
	}
}

func TestSearchFallsBack(t *testing.T) {
	tests := []struct {
		name   string
		engine Engine
	}{
		{name: "no engine", engine: nil},
		{name: "unhealthy engine", engine: &fakeEngine{healthy: false}},
		{name: "engine error", engine: &fakeEngine{healthy: true, err: errors.New("boom")}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fallback := &fakeFallback{results: []Result{{ID: "doc-2"}}}
			svc := NewService(logger.Nop(), tt.engine, fallback, "system")
			resp := svc.Search(context.Background(), Query{Text: "acme", Actor: "user-1"})
			if resp.Engine != "postgres" || resp.Total != 1 {
				t.Fatalf("unexpected response: %+v", resp)
			}
			if fallback.actor != "user-1" {
				t.Fatalf("fallback actor = %q, want user-1", fallback.actor)
			}
		})
	}
}

func TestSearchFallbackErrorReturnsEmpty(t *testing.T) {
	svc := NewService(logger.Nop(), nil, &fakeFallback{err: errors.New("db down")}, "system")
	resp := svc.Search(context.Background(), Query{Text: "x"})
	if resp.Results == nil || len(resp.Results) != 0 || resp.Total != 0 {
		t.Fatalf("unexpected response: %+v", resp)
	}
}

func TestIndexDocumentAndReindex(t *testing.T) {
	engine := &fakeEngine{healthy: true}
	fallback := &fakeFallback{records: []DocumentRecord{{ID: "a"}, {ID: "b"}}}
	svc := NewService(logger.Nop(), engine, fallback, "system")

	svc.IndexDocument(DocumentRecord{ID: "c"})
	deadline := time.Now().Add(2 * time.Second)
	for engine.indexedCount() < 1 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if engine.indexedCount() != 1 {
		t.Fatalf("indexed = %d, want 1", engine.indexedCount())
	}

	svc.ReindexAllFromPG(context.Background())
	if engine.indexedCount() != 3 {
		t.Fatalf("indexed = %d, want 3", engine.indexedCount())
	}
	if fallback.actor != "system" {
		t.Fatalf("reindex actor = %q, want system", fallback.actor)
	}
}

func TestMeiliFilters(t *testing.T) {
	got := meiliFilters(Query{Status: "approved", DocumentType: "Balance General"})
	want := []string{`status = "approved"`, `documentType = "Balance General"`}
	if len(got) != len(want) {
		t.Fatalf("filters = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("filters[%d] = %q, want %q", i, got[i], want[i])
		}
	}
}

func TestQueryLimitBounds(t *testing.T) {
	if (Query{}).limit() != 20 || (Query{Limit: 500}).limit() != 20 || (Query{Limit: 5}).limit() != 5 {
		t.Fatal("unexpected limit normalisation")
	}
	if (Query{Offset: -3}).offset() != 0 {
		t.Fatal("negative offset should clamp to 0")
	}
}
