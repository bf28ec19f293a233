package search

import (
	"context"
	"database/sql"
	"fmt"
	"html"
	"strings"
	"unicode/utf8"
)

// PgFallback implements Searcher with plain ILIKE matching against the
// chapters table. Substring matching works across languages, including
// CJK text that word-based tsvector search would mishandle.
type PgFallback struct {
	db *sql.DB
}

func NewPgFallback(db *sql.DB) *PgFallback {
	return &PgFallback{db: db}
}

// Healthy always returns true: if Postgres is down the whole service is
// down and search availability is moot.
func (p *PgFallback) Healthy() bool {
	return true
}

func (p *PgFallback) Search(q Query) ([]Result, int, error) {
	text := strings.TrimSpace(q.Text)
	if text == "" {
		return nil, 0, nil
	}

	limit := q.Limit
	if limit <= 0 {
		limit = 20
	}
	offset := q.Offset
	if offset < 0 {
		offset = 0
	}

	pattern := "%" + escapeLike(text) + "%"
	args := []any{pattern}
	where := ""
	if q.ProjectID != "" {
		where = " AND project_id = $2"
		args = append(args, q.ProjectID)
	}

	fieldExprs := map[Field]string{
		FieldTranslation: "COALESCE(translated_text, '') || ' ' || COALESCE(translated_title, '')",
		FieldOriginal:    "original_text || ' ' || title",
	}
	var subQueries []string
	for _, f := range []Field{FieldTranslation, FieldOriginal} {
		if q.Field != "" && q.Field != f {
			continue
		}
		subQueries = append(subQueries, fmt.Sprintf(`
			SELECT id, project_id, chapter_index, title, '%s'::text AS field, %s AS haystack
			FROM chapters
			WHERE %s ILIKE $1%s`, f, fieldExprs[f], fieldExprs[f], where))
	}
	if len(subQueries) == 0 {
		return nil, 0, nil
	}
	union := strings.Join(subQueries, " UNION ALL ")

	ctx := context.Background()
	var total int
	if err := p.db.QueryRowContext(ctx, fmt.Sprintf("SELECT count(*) FROM (%s) sub", union), args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("fallback search count: %w", err)
	}

	rows, err := p.db.QueryContext(ctx, fmt.Sprintf(`
		SELECT id, project_id, chapter_index, title, field, haystack
		FROM (%s) sub
		ORDER BY chapter_index, field
		LIMIT %d OFFSET %d`, union, limit, offset), args...)
	if err != nil {
		return nil, 0, fmt.Errorf("fallback search: %w", err)
	}
	defer rows.Close()

	var results []Result
	for rows.Next() {
		var r Result
		var field, haystack string
		if err := rows.Scan(&r.ChapterID, &r.ProjectID, &r.ChapterIndex, &r.Title, &field, &haystack); err != nil {
			return nil, 0, fmt.Errorf("fallback search scan: %w", err)
		}
		r.Field = Field(field)
		r.Snippet = snippet(haystack, text)
		results = append(results, r)
	}
	return results, total, rows.Err()
}

func escapeLike(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(s)
}

// snippet extracts a window around the first case-insensitive occurrence
// of the needle, with the needle wrapped in <mark>.
func snippet(haystack, needle string) string {
	const window = 60

	idx := strings.Index(strings.ToLower(haystack), strings.ToLower(needle))
	if idx < 0 {
		if utf8.RuneCountInString(haystack) > 2*window {
			return html.EscapeString(string([]rune(haystack)[:2*window])) + "…"
		}
		return html.EscapeString(haystack)
	}

	start := idx
	for start > 0 && idx-start < window {
		start--
	}
	for start > 0 && !utf8.RuneStart(haystack[start]) {
		start--
	}
	end := idx + len(needle)
	stop := end + window
	for end < len(haystack) && end < stop {
		end++
	}
	for end < len(haystack) && !utf8.RuneStart(haystack[end]) {
		end++
	}

	out := html.EscapeString(haystack[start:idx]) +
		"<mark>" + html.EscapeString(haystack[idx:idx+len(needle)]) + "</mark>" +
		html.EscapeString(haystack[idx+len(needle):end])
	if start > 0 {
		out = "…" + out
	}
	if end < len(haystack) {
		out += "…"
	}
	return out
}
