package search

import (
	"context"

	"eurobansync/api/internal/logger"
)

// Engine is the primary index; Meili satisfies it.
type Engine interface {
	Healthy() bool
	Search(q Query) ([]Result, int, error)
	IndexDocuments(documents []DocumentRecord) error
}

// Fallback is the always-available searcher; PgFTS satisfies it.
type Fallback interface {
	Search(ctx context.Context, q Query) ([]Result, int, error)
	LoadAllRecords(ctx context.Context, actor string) ([]DocumentRecord, error)
}

// Service is the facade that tries Meilisearch first and falls back to PG FTS.
type Service struct {
	log     *logger.Logger
	engine  Engine
	pgfts   Fallback
	reindex string
}

// NewService creates a search service. engine may be nil when Meilisearch is
// not configured. reindexActor is the actor used to read every document for
// a full reindex.
func NewService(log *logger.Logger, engine Engine, pgfts Fallback, reindexActor string) *Service {
	return &Service{log: log.With("component", "search"), engine: engine, pgfts: pgfts, reindex: reindexActor}
}

// Search tries the engine when healthy, otherwise falls back to PG FTS.
func (s *Service) Search(ctx context.Context, q Query) Response {
	if s.engine != nil && s.engine.Healthy() {
		results, total, err := s.engine.Search(q)
		if err == nil {
			return Response{Results: nonNil(results), Total: total, Query: q.Text, Engine: "meilisearch"}
		}
		s.log.Warn("meilisearch error, falling back to pgfts", "error", err)
	}

	results, total, err := s.pgfts.Search(ctx, q)
	if err != nil {
		s.log.Error("pgfts search failed", "error", err)
		return Response{Results: []Result{}, Total: 0, Query: q.Text, Engine: "postgres"}
	}
	return Response{Results: nonNil(results), Total: total, Query: q.Text, Engine: "postgres"}
}

// IndexDocument indexes a document (fire-and-forget).
func (s *Service) IndexDocument(doc DocumentRecord) {
	if s.engine == nil || !s.engine.Healthy() {
		return
	}
	go func() {
		if err := s.engine.IndexDocuments([]DocumentRecord{doc}); err != nil {
			s.log.Warn("index document failed", "document_id", doc.ID, "error", err)
		}
	}()
}

// ReindexAllFromPG pushes every document from Postgres into the engine.
func (s *Service) ReindexAllFromPG(ctx context.Context) {
	if s.engine == nil || !s.engine.Healthy() || s.pgfts == nil {
		return
	}
	documents, err := s.pgfts.LoadAllRecords(ctx, s.reindex)
	if err != nil {
		s.log.Warn("reindex load failed", "error", err)
		return
	}
	if err := s.engine.IndexDocuments(documents); err != nil {
		s.log.Warn("reindex documents failed", "error", err)
		return
	}
	s.log.Info("search index rebuilt", "documents", len(documents))
}

func nonNil(r []Result) []Result {
	if r == nil {
		return []Result{}
	}
	return r
}
