package store

import (
	"context"
	"fmt"

	"github.com/eveshi/bitranslator/internal/util"
)

// ── Highlights ──────────────────────────────────────────────────────────

func (s *PostgresStore) ListHighlights(ctx context.Context, chapterID string) ([]Highlight, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, chapter_id, text, COALESCE(note, ''), imported, created_at
		FROM highlights WHERE chapter_id = $1 ORDER BY created_at
	`, chapterID)
	if err != nil {
		return nil, fmt.Errorf("list highlights: %w", err)
	}
	defer rows.Close()

	highlights := make([]Highlight, 0)
	for rows.Next() {
		var h Highlight
		if err := rows.Scan(&h.ID, &h.ChapterID, &h.Text, &h.Note, &h.Imported, &h.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan highlight: %w", err)
		}
		highlights = append(highlights, h)
	}
	return highlights, rows.Err()
}

// ReplaceHighlights swaps the chapter's full highlight set. The UI sends
// the complete list on every save, so replacement is the natural write.
func (s *PostgresStore) ReplaceHighlights(ctx context.Context, chapterID string, highlights []Highlight) ([]Highlight, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin replace highlights: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM highlights WHERE chapter_id = $1`, chapterID); err != nil {
		return nil, fmt.Errorf("clear highlights: %w", err)
	}

	out := make([]Highlight, 0, len(highlights))
	for _, h := range highlights {
		if h.ID == "" {
			h.ID = util.NewID("hl")
		}
		h.ChapterID = chapterID
		err := tx.QueryRowContext(ctx, `
			INSERT INTO highlights (id, chapter_id, text, note, imported)
			VALUES ($1, $2, $3, $4, $5)
			RETURNING created_at
		`, h.ID, chapterID, h.Text, h.Note, h.Imported).Scan(&h.CreatedAt)
		if err != nil {
			return nil, fmt.Errorf("insert highlight: %w", err)
		}
		out = append(out, h)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit replace highlights: %w", err)
	}
	return out, nil
}

// ── Annotations ─────────────────────────────────────────────────────────

func (s *PostgresStore) ListAnnotations(ctx context.Context, chapterID string) ([]Annotation, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, chapter_id, source_text, target_text, COALESCE(note, ''), created_at
		FROM annotations WHERE chapter_id = $1 ORDER BY created_at
	`, chapterID)
	if err != nil {
		return nil, fmt.Errorf("list annotations: %w", err)
	}
	defer rows.Close()

	annotations := make([]Annotation, 0)
	for rows.Next() {
		var a Annotation
		if err := rows.Scan(&a.ID, &a.ChapterID, &a.SourceText, &a.TargetText, &a.Note, &a.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan annotation: %w", err)
		}
		annotations = append(annotations, a)
	}
	return annotations, rows.Err()
}

// ReplaceAnnotations swaps the machine-derived annotation set after a
// translation run settles.
func (s *PostgresStore) ReplaceAnnotations(ctx context.Context, chapterID string, annotations []Annotation) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin replace annotations: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM annotations WHERE chapter_id = $1`, chapterID); err != nil {
		return fmt.Errorf("clear annotations: %w", err)
	}
	for _, a := range annotations {
		if a.ID == "" {
			a.ID = util.NewID("an")
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO annotations (id, chapter_id, source_text, target_text, note)
			VALUES ($1, $2, $3, $4, $5)
		`, a.ID, chapterID, a.SourceText, a.TargetText, a.Note); err != nil {
			return fmt.Errorf("insert annotation: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit replace annotations: %w", err)
	}
	return nil
}
