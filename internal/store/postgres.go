package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/eveshi/bitranslator/internal/util"
)

type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) DB() *sql.DB {
	return s.db
}

// ── Projects ────────────────────────────────────────────────────────────

func (s *PostgresStore) CreateProject(ctx context.Context, p Project) (Project, error) {
	if p.ID == "" {
		p.ID = util.NewID("prj")
	}
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO projects (id, name, source_language, target_language, phase, sample_chapter_index, original_object_key)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING created_at, updated_at
	`, p.ID, p.Name, p.SourceLanguage, p.TargetLanguage, p.Phase, p.SampleChapterIndex, p.OriginalObjectKey).
		Scan(&p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return Project{}, fmt.Errorf("insert project: %w", err)
	}
	return p, nil
}

const projectColumns = `
	p.id, p.name, p.source_language, p.target_language, p.phase,
	COALESCE(p.last_safe_phase, ''), COALESCE(p.error_message, ''), p.sample_chapter_index,
	COALESCE(p.numbering_mode, ''), p.name_map,
	COALESCE(p.original_object_key, ''), p.created_at, p.updated_at,
	(SELECT COUNT(*) FROM chapters c WHERE c.project_id = p.id),
	(SELECT COUNT(*) FROM chapters c WHERE c.project_id = p.id AND c.status = 'translated')`

func scanProject(row interface{ Scan(...any) error }) (Project, error) {
	var p Project
	var nameMap []byte
	err := row.Scan(&p.ID, &p.Name, &p.SourceLanguage, &p.TargetLanguage, &p.Phase,
		&p.LastSafePhase, &p.ErrorMessage, &p.SampleChapterIndex, &p.NumberingMode, &nameMap,
		&p.OriginalObjectKey, &p.CreatedAt, &p.UpdatedAt,
		&p.ChapterCount, &p.TranslatedCount)
	if err != nil {
		return Project{}, err
	}
	if len(nameMap) > 0 {
		p.NameMap = json.RawMessage(nameMap)
	}
	return p, nil
}

func (s *PostgresStore) GetProject(ctx context.Context, id string) (Project, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+projectColumns+` FROM projects p WHERE p.id = $1`, id)
	p, err := scanProject(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Project{}, err
	}
	if err != nil {
		return Project{}, fmt.Errorf("get project: %w", err)
	}
	return p, nil
}

func (s *PostgresStore) ListProjects(ctx context.Context) ([]Project, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+projectColumns+` FROM projects p ORDER BY p.created_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("list projects: %w", err)
	}
	defer rows.Close()

	projects := make([]Project, 0)
	for rows.Next() {
		p, err := scanProject(rows)
		if err != nil {
			return nil, fmt.Errorf("scan project: %w", err)
		}
		projects = append(projects, p)
	}
	return projects, rows.Err()
}

// UpdateProjectPhase moves the project to the given phase and records or
// clears the error message alongside it. Review and terminal phases are
// remembered as last_safe_phase so an error can later recover to them.
func (s *PostgresStore) UpdateProjectPhase(ctx context.Context, id, phase, errorMessage string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE projects SET
			phase = $2,
			error_message = NULLIF($3, ''),
			last_safe_phase = CASE
				WHEN $2 IN ('analyzed', 'strategy_generated', 'sample_ready', 'stopped', 'completed')
				THEN $2 ELSE last_safe_phase END,
			updated_at = NOW()
		WHERE id = $1
	`, id, phase, errorMessage)
	if err != nil {
		return fmt.Errorf("update project phase: %w", err)
	}
	return requireRow(res)
}

func (s *PostgresStore) UpdateProjectSettings(ctx context.Context, id string, name, sourceLang, targetLang *string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE projects SET
			name = COALESCE($2, name),
			source_language = COALESCE($3, source_language),
			target_language = COALESCE($4, target_language),
			updated_at = NOW()
		WHERE id = $1
	`, id, name, sourceLang, targetLang)
	if err != nil {
		return fmt.Errorf("update project settings: %w", err)
	}
	return requireRow(res)
}

func (s *PostgresStore) SetSampleChapterIndex(ctx context.Context, id string, index int) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE projects SET sample_chapter_index = $2, updated_at = NOW() WHERE id = $1
	`, id, index)
	if err != nil {
		return fmt.Errorf("set sample chapter: %w", err)
	}
	return requireRow(res)
}

// SetNumberingMode persists the detected numbering mode. The mode is
// written once and never silently re-guessed; passing force re-detects.
func (s *PostgresStore) SetNumberingMode(ctx context.Context, id, mode string, force bool) error {
	query := `UPDATE projects SET numbering_mode = $2, updated_at = NOW() WHERE id = $1 AND (numbering_mode IS NULL OR numbering_mode = '')`
	if force {
		query = `UPDATE projects SET numbering_mode = $2, updated_at = NOW() WHERE id = $1`
	}
	if _, err := s.db.ExecContext(ctx, query, id, mode); err != nil {
		return fmt.Errorf("set numbering mode: %w", err)
	}
	return nil
}

func (s *PostgresStore) SetNameMap(ctx context.Context, id string, nameMap json.RawMessage) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE projects SET name_map = $2, updated_at = NOW() WHERE id = $1
	`, id, []byte(nameMap))
	if err != nil {
		return fmt.Errorf("set name map: %w", err)
	}
	return requireRow(res)
}

// DeleteProject removes the project and, through FK cascades, its
// chapters, versions, highlights and annotations.
func (s *PostgresStore) DeleteProject(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM projects WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete project: %w", err)
	}
	return requireRow(res)
}

// ── Chapters ────────────────────────────────────────────────────────────

// InsertChapters writes the parsed chapter set in one transaction so a
// half-created project never becomes visible.
func (s *PostgresStore) InsertChapters(ctx context.Context, projectID string, chapters []Chapter) ([]Chapter, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin insert chapters: %w", err)
	}
	defer tx.Rollback()

	out := make([]Chapter, 0, len(chapters))
	for _, c := range chapters {
		if c.ID == "" {
			c.ID = util.NewID("ch")
		}
		c.ProjectID = projectID
		if c.ChapterType == "" {
			c.ChapterType = ChapterBody
		}
		if c.Status == "" {
			c.Status = "pending"
		}
		err := tx.QueryRowContext(ctx, `
			INSERT INTO chapters (id, project_id, chapter_index, title, chapter_type, original_text, status)
			VALUES ($1, $2, $3, $4, $5, $6, $7)
			RETURNING updated_at
		`, c.ID, projectID, c.ChapterIndex, c.Title, c.ChapterType, c.OriginalText, c.Status).Scan(&c.UpdatedAt)
		if err != nil {
			return nil, fmt.Errorf("insert chapter %d: %w", c.ChapterIndex, err)
		}
		out = append(out, c)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit insert chapters: %w", err)
	}
	return out, nil
}

const chapterColumns = `
	id, project_id, chapter_index, title, COALESCE(translated_title, ''),
	chapter_type, body_number, original_text, COALESCE(translated_text, ''),
	status, updated_at`

func scanChapter(row interface{ Scan(...any) error }) (Chapter, error) {
	var c Chapter
	err := row.Scan(&c.ID, &c.ProjectID, &c.ChapterIndex, &c.Title, &c.TranslatedTitle,
		&c.ChapterType, &c.BodyNumber, &c.OriginalText, &c.TranslatedText,
		&c.Status, &c.UpdatedAt)
	return c, err
}

func (s *PostgresStore) GetChapter(ctx context.Context, id string) (Chapter, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+chapterColumns+` FROM chapters WHERE id = $1`, id)
	c, err := scanChapter(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Chapter{}, err
	}
	if err != nil {
		return Chapter{}, fmt.Errorf("get chapter: %w", err)
	}
	return c, nil
}

func (s *PostgresStore) ListChapters(ctx context.Context, projectID string) ([]Chapter, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+chapterColumns+` FROM chapters WHERE project_id = $1 ORDER BY chapter_index`, projectID)
	if err != nil {
		return nil, fmt.Errorf("list chapters: %w", err)
	}
	defer rows.Close()

	chapters := make([]Chapter, 0)
	for rows.Next() {
		c, err := scanChapter(rows)
		if err != nil {
			return nil, fmt.Errorf("scan chapter: %w", err)
		}
		chapters = append(chapters, c)
	}
	return chapters, rows.Err()
}

func (s *PostgresStore) UpdateChapterStatus(ctx context.Context, id, status string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE chapters SET status = $2, updated_at = NOW() WHERE id = $1
	`, id, status)
	if err != nil {
		return fmt.Errorf("update chapter status: %w", err)
	}
	return requireRow(res)
}

func (s *PostgresStore) UpdateChapterTitles(ctx context.Context, id string, title, translatedTitle *string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE chapters SET
			title = COALESCE($2, title),
			translated_title = COALESCE($3, translated_title),
			updated_at = NOW()
		WHERE id = $1
	`, id, title, translatedTitle)
	if err != nil {
		return fmt.Errorf("update chapter titles: %w", err)
	}
	return requireRow(res)
}

func (s *PostgresStore) UpdateChapterType(ctx context.Context, id, chapterType string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE chapters SET chapter_type = $2, updated_at = NOW() WHERE id = $1
	`, id, chapterType)
	if err != nil {
		return fmt.Errorf("update chapter type: %w", err)
	}
	return requireRow(res)
}

// SetBodyNumbers rewrites body_number for every listed chapter in one
// transaction; chapters absent from the map get NULL.
func (s *PostgresStore) SetBodyNumbers(ctx context.Context, projectID string, numbers map[string]int) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin renumber: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`UPDATE chapters SET body_number = NULL, updated_at = NOW() WHERE project_id = $1`, projectID); err != nil {
		return fmt.Errorf("clear body numbers: %w", err)
	}
	for id, n := range numbers {
		if _, err := tx.ExecContext(ctx,
			`UPDATE chapters SET body_number = $2 WHERE id = $1 AND project_id = $3`, id, n, projectID); err != nil {
			return fmt.Errorf("set body number: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit renumber: %w", err)
	}
	return nil
}

func requireRow(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return sql.ErrNoRows
	}
	return nil
}
