package search

import (
	"context"
	"database/sql"
	"fmt"
	"log"
)

// Service is the facade that tries Meilisearch first and falls back to
// the Postgres searcher.
type Service struct {
	meili    *Meili
	fallback *PgFallback
}

// NewService creates a search service. meili may be nil when Meilisearch
// is not configured.
func NewService(meili *Meili, fallback *PgFallback) *Service {
	return &Service{meili: meili, fallback: fallback}
}

// Search tries Meilisearch if healthy, otherwise uses the fallback.
func (s *Service) Search(q Query) Response {
	if s.meili != nil && s.meili.Healthy() {
		results, total, err := s.meili.Search(q)
		if err == nil {
			return Response{Results: nonNil(results), Total: total, Query: q.Text}
		}
		log.Printf("search: meilisearch error, falling back: %v", err)
	}

	results, total, err := s.fallback.Search(q)
	if err != nil {
		log.Printf("search: fallback error: %v", err)
		return Response{Results: []Result{}, Total: 0, Query: q.Text}
	}
	return Response{Results: nonNil(results), Total: total, Query: q.Text}
}

// IndexChapter pushes one chapter into Meilisearch, fire-and-forget.
func (s *Service) IndexChapter(rec ChapterRecord) {
	if s.meili == nil || !s.meili.Healthy() {
		return
	}
	go func() {
		if err := s.meili.IndexChapter(rec); err != nil {
			log.Printf("search: index chapter %s: %v", rec.ID, err)
		}
	}()
}

// IndexChapters bulk-indexes chapters, fire-and-forget.
func (s *Service) IndexChapters(recs []ChapterRecord) {
	if s.meili == nil || !s.meili.Healthy() || len(recs) == 0 {
		return
	}
	go func() {
		if err := s.meili.IndexChapters(recs); err != nil {
			log.Printf("search: index chapters: %v", err)
		}
	}()
}

// DeleteProject removes a project's chapters from the index,
// fire-and-forget.
func (s *Service) DeleteProject(projectID string) {
	if s.meili == nil || !s.meili.Healthy() {
		return
	}
	go func() {
		if err := s.meili.DeleteProject(projectID); err != nil {
			log.Printf("search: delete project %s: %v", projectID, err)
		}
	}()
}

// ReindexAllFromPG loads every chapter from Postgres and pushes the set
// into Meilisearch. Called at startup when Meilisearch is healthy.
func (s *Service) ReindexAllFromPG(ctx context.Context, db *sql.DB) {
	if s.meili == nil || !s.meili.Healthy() {
		return
	}
	recs, err := loadAllChapters(ctx, db)
	if err != nil {
		log.Printf("search: reindex load failed: %v", err)
		return
	}
	if len(recs) == 0 {
		return
	}
	if err := s.meili.IndexChapters(recs); err != nil {
		log.Printf("search: reindex: %v", err)
	}
}

func loadAllChapters(ctx context.Context, db *sql.DB) ([]ChapterRecord, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT id, project_id, chapter_index, title, COALESCE(translated_title, ''),
			original_text, COALESCE(translated_text, '')
		FROM chapters
	`)
	if err != nil {
		return nil, fmt.Errorf("load chapters: %w", err)
	}
	defer rows.Close()

	recs := make([]ChapterRecord, 0)
	for rows.Next() {
		var r ChapterRecord
		if err := rows.Scan(&r.ID, &r.ProjectID, &r.ChapterIndex, &r.Title, &r.TranslatedTitle,
			&r.OriginalText, &r.TranslatedText); err != nil {
			return nil, fmt.Errorf("scan chapter: %w", err)
		}
		recs = append(recs, r)
	}
	return recs, rows.Err()
}

func nonNil(r []Result) []Result {
	if r == nil {
		return []Result{}
	}
	return r
}
