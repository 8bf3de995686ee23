package search

import (
	"context"
	"log"
)

// Service is the facade that tries Meilisearch first and falls back to PG FTS.
type Service struct {
	meili *Meili
	pgfts *PgFTS
}

// NewService creates a search service. meili may be nil if Meilisearch is not configured.
func NewService(meili *Meili, pgfts *PgFTS) *Service {
	return &Service{meili: meili, pgfts: pgfts}
}

// Search tries Meilisearch if healthy, otherwise falls back to PG FTS.
func (s *Service) Search(q Query) Response {
	if s.meili != nil && s.meili.Healthy() {
		results, total, err := s.meili.Search(q)
		if err == nil {
			return Response{Results: nonNil(results), Total: total, Query: q.Text}
		}
		log.Printf("search: meilisearch error, falling back to pgfts: %v", err)
	}

	results, total, err := s.pgfts.Search(q)
	if err != nil {
		log.Printf("search: pgfts error: %v", err)
		return Response{Results: []Result{}, Total: 0, Query: q.Text}
	}
	return Response{Results: nonNil(results), Total: total, Query: q.Text}
}

func nonNil(results []Result) []Result {
	if results == nil {
		return []Result{}
	}
	return results
}

// ReindexProject pushes every variant record of a project into Meilisearch.
// Keyword edits arrive debounced, so one call covers a burst of writes.
func (s *Service) ReindexProject(ctx context.Context, projectID string) {
	if s.meili == nil || !s.meili.Healthy() {
		return
	}
	records, err := s.pgfts.LoadProjectRecords(ctx, projectID)
	if err != nil {
		log.Printf("search: reindex project %s: %v", projectID, err)
		return
	}
	if err := s.meili.IndexVariants(records); err != nil {
		log.Printf("search: reindex project %s: %v", projectID, err)
	}
}
