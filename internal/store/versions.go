package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/eveshi/bitranslator/internal/util"
)

// ErrVersionNotFound is returned when a referenced version number does
// not exist for the given chapter or project.
var ErrVersionNotFound = errors.New("version not found")

// ── Translation versions ────────────────────────────────────────────────

// RecordTranslation appends a new immutable translation version for the
// chapter and moves the chapter's live text to it. The version number is
// allocated inside the insert itself, so concurrent writers serialize on
// the chapter's history without an application-side counter.
func (s *PostgresStore) RecordTranslation(ctx context.Context, chapterID, content, feedback string, strategyVersion *int) (TranslationVersion, error) {
	return s.appendTranslation(ctx, chapterID, content, feedback, strategyVersion, nil)
}

// RestoreTranslation copies the content of an existing version into a
// fresh one and moves the live pointer there. The source version is
// untouched; restoring a missing version changes nothing.
func (s *PostgresStore) RestoreTranslation(ctx context.Context, chapterID string, version int) (TranslationVersion, error) {
	src, err := s.GetTranslationVersion(ctx, chapterID, version)
	if err != nil {
		return TranslationVersion{}, err
	}
	return s.appendTranslation(ctx, chapterID, src.Content, src.Feedback, src.StrategyVersion, &src.Version)
}

func (s *PostgresStore) appendTranslation(ctx context.Context, chapterID, content, feedback string, strategyVersion, restoredFrom *int) (TranslationVersion, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return TranslationVersion{}, fmt.Errorf("begin record translation: %w", err)
	}
	defer tx.Rollback()

	v := TranslationVersion{
		ID:              util.NewID("tv"),
		ChapterID:       chapterID,
		Content:         content,
		Feedback:        feedback,
		StrategyVersion: strategyVersion,
		RestoredFrom:    restoredFrom,
	}
	err = tx.QueryRowContext(ctx, `
		INSERT INTO translation_versions (id, chapter_id, version, content, feedback, strategy_version, restored_from)
		SELECT $1, $2, COALESCE(MAX(version), 0) + 1, $3, $4, $5, $6
		FROM translation_versions WHERE chapter_id = $2
		RETURNING version, created_at
	`, v.ID, chapterID, content, feedback, strategyVersion, restoredFrom).Scan(&v.Version, &v.CreatedAt)
	if err != nil {
		return TranslationVersion{}, fmt.Errorf("insert translation version: %w", err)
	}

	res, err := tx.ExecContext(ctx, `
		UPDATE chapters SET translated_text = $2, status = 'translated', updated_at = NOW() WHERE id = $1
	`, chapterID, content)
	if err != nil {
		return TranslationVersion{}, fmt.Errorf("move live translation: %w", err)
	}
	if err := requireRow(res); err != nil {
		return TranslationVersion{}, fmt.Errorf("move live translation: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return TranslationVersion{}, fmt.Errorf("commit record translation: %w", err)
	}
	return v, nil
}

const translationVersionColumns = `
	id, chapter_id, version, content, COALESCE(feedback, ''), strategy_version, restored_from, created_at`

func scanTranslationVersion(row interface{ Scan(...any) error }) (TranslationVersion, error) {
	var v TranslationVersion
	err := row.Scan(&v.ID, &v.ChapterID, &v.Version, &v.Content, &v.Feedback,
		&v.StrategyVersion, &v.RestoredFrom, &v.CreatedAt)
	return v, err
}

// ListTranslationVersions returns the chapter's full history, oldest
// first.
func (s *PostgresStore) ListTranslationVersions(ctx context.Context, chapterID string) ([]TranslationVersion, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+translationVersionColumns+` FROM translation_versions WHERE chapter_id = $1 ORDER BY version`, chapterID)
	if err != nil {
		return nil, fmt.Errorf("list translation versions: %w", err)
	}
	defer rows.Close()

	versions := make([]TranslationVersion, 0)
	for rows.Next() {
		v, err := scanTranslationVersion(rows)
		if err != nil {
			return nil, fmt.Errorf("scan translation version: %w", err)
		}
		versions = append(versions, v)
	}
	return versions, rows.Err()
}

func (s *PostgresStore) GetTranslationVersion(ctx context.Context, chapterID string, version int) (TranslationVersion, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+translationVersionColumns+` FROM translation_versions WHERE chapter_id = $1 AND version = $2`,
		chapterID, version)
	v, err := scanTranslationVersion(row)
	if errors.Is(err, sql.ErrNoRows) {
		return TranslationVersion{}, ErrVersionNotFound
	}
	if err != nil {
		return TranslationVersion{}, fmt.Errorf("get translation version: %w", err)
	}
	return v, nil
}

// ── Strategy versions ───────────────────────────────────────────────────

// RecordStrategy appends a new strategy version for the project and
// makes it current. Versions are only recorded when a generation
// completes, never when one starts.
func (s *PostgresStore) RecordStrategy(ctx context.Context, projectID string, content json.RawMessage, feedback string) (StrategyVersion, error) {
	return s.appendStrategy(ctx, projectID, content, feedback)
}

// RestoreStrategy copies an existing strategy version into a fresh one
// and makes it current.
func (s *PostgresStore) RestoreStrategy(ctx context.Context, projectID string, version int) (StrategyVersion, error) {
	src, err := s.GetStrategyVersion(ctx, projectID, version)
	if err != nil {
		return StrategyVersion{}, err
	}
	return s.appendStrategy(ctx, projectID, src.Content, src.Feedback)
}

func (s *PostgresStore) appendStrategy(ctx context.Context, projectID string, content json.RawMessage, feedback string) (StrategyVersion, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return StrategyVersion{}, fmt.Errorf("begin record strategy: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`UPDATE strategy_versions SET is_current = FALSE WHERE project_id = $1 AND is_current`, projectID); err != nil {
		return StrategyVersion{}, fmt.Errorf("clear current strategy: %w", err)
	}

	v := StrategyVersion{
		ID:        util.NewID("sv"),
		ProjectID: projectID,
		Content:   content,
		Feedback:  feedback,
		Current:   true,
	}
	err = tx.QueryRowContext(ctx, `
		INSERT INTO strategy_versions (id, project_id, version, content, feedback, is_current)
		SELECT $1, $2, COALESCE(MAX(version), 0) + 1, $3, $4, TRUE
		FROM strategy_versions WHERE project_id = $2
		RETURNING version, created_at
	`, v.ID, projectID, []byte(content), feedback).Scan(&v.Version, &v.CreatedAt)
	if err != nil {
		return StrategyVersion{}, fmt.Errorf("insert strategy version: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return StrategyVersion{}, fmt.Errorf("commit record strategy: %w", err)
	}
	return v, nil
}

const strategyVersionColumns = `
	id, project_id, version, content, COALESCE(feedback, ''), is_current, created_at`

func scanStrategyVersion(row interface{ Scan(...any) error }) (StrategyVersion, error) {
	var v StrategyVersion
	var content []byte
	err := row.Scan(&v.ID, &v.ProjectID, &v.Version, &content, &v.Feedback, &v.Current, &v.CreatedAt)
	v.Content = json.RawMessage(content)
	return v, err
}

func (s *PostgresStore) ListStrategyVersions(ctx context.Context, projectID string) ([]StrategyVersion, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+strategyVersionColumns+` FROM strategy_versions WHERE project_id = $1 ORDER BY version`, projectID)
	if err != nil {
		return nil, fmt.Errorf("list strategy versions: %w", err)
	}
	defer rows.Close()

	versions := make([]StrategyVersion, 0)
	for rows.Next() {
		v, err := scanStrategyVersion(rows)
		if err != nil {
			return nil, fmt.Errorf("scan strategy version: %w", err)
		}
		versions = append(versions, v)
	}
	return versions, rows.Err()
}

func (s *PostgresStore) GetStrategyVersion(ctx context.Context, projectID string, version int) (StrategyVersion, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+strategyVersionColumns+` FROM strategy_versions WHERE project_id = $1 AND version = $2`,
		projectID, version)
	v, err := scanStrategyVersion(row)
	if errors.Is(err, sql.ErrNoRows) {
		return StrategyVersion{}, ErrVersionNotFound
	}
	if err != nil {
		return StrategyVersion{}, fmt.Errorf("get strategy version: %w", err)
	}
	return v, nil
}

// CurrentStrategyVersion returns the project's current strategy, or
// ErrVersionNotFound when none has been recorded yet.
func (s *PostgresStore) CurrentStrategyVersion(ctx context.Context, projectID string) (StrategyVersion, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+strategyVersionColumns+` FROM strategy_versions WHERE project_id = $1 AND is_current`, projectID)
	v, err := scanStrategyVersion(row)
	if errors.Is(err, sql.ErrNoRows) {
		return StrategyVersion{}, ErrVersionNotFound
	}
	if err != nil {
		return StrategyVersion{}, fmt.Errorf("current strategy version: %w", err)
	}
	return v, nil
}
