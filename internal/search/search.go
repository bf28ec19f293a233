// Package search provides full-text search over chapter text, backed by
// Meilisearch with a Postgres fallback.
package search

// Field identifies which side of a chapter a hit came from.
type Field string

const (
	FieldOriginal    Field = "original"
	FieldTranslation Field = "translation"
)

// Result is a single search hit.
type Result struct {
	ChapterID    string `json:"chapter_id"`
	ProjectID    string `json:"project_id"`
	ChapterIndex int    `json:"chapter_index"`
	Title        string `json:"title"`
	Field        Field  `json:"field"`
	Snippet      string `json:"snippet"`
}

// Query describes a search request. An empty Field searches both sides.
type Query struct {
	Text      string
	ProjectID string
	Field     Field
	Limit     int
	Offset    int
}

// Response is the envelope returned by the search endpoint.
type Response struct {
	Results []Result `json:"results"`
	Total   int      `json:"total"`
	Query   string   `json:"query"`
}

// Searcher can execute a full-text search.
type Searcher interface {
	Search(q Query) ([]Result, int, error)
	Healthy() bool
}

// ChapterRecord is the data we index for a chapter.
type ChapterRecord struct {
	ID              string `json:"id"`
	ProjectID       string `json:"projectId"`
	ChapterIndex    int    `json:"chapterIndex"`
	Title           string `json:"title"`
	TranslatedTitle string `json:"translatedTitle"`
	OriginalText    string `json:"originalText"`
	TranslatedText  string `json:"translatedText"`
}
