package store

import (
	"encoding/json"
	"time"
)

// Chapter classification. Body numbering skips everything but body
// chapters; per_part numbering restarts after each part divider.
const (
	ChapterFrontMatter = "front_matter"
	ChapterPartDivider = "part_divider"
	ChapterBody        = "body"
	ChapterBackMatter  = "back_matter"
)

const (
	NumberingContinuous = "continuous"
	NumberingPerPart    = "per_part"
)

type Project struct {
	ID                 string          `json:"id"`
	Name               string          `json:"name"`
	SourceLanguage     string          `json:"source_language"`
	TargetLanguage     string          `json:"target_language"`
	Phase              string          `json:"phase"`
	LastSafePhase      string          `json:"last_safe_phase,omitempty"`
	ErrorMessage       string          `json:"error_message,omitempty"`
	SampleChapterIndex int             `json:"sample_chapter_index"`
	NumberingMode      string          `json:"numbering_mode,omitempty"`
	NameMap            json.RawMessage `json:"name_map,omitempty"`
	OriginalObjectKey  string          `json:"original_object_key,omitempty"`
	CreatedAt          time.Time       `json:"created_at"`
	UpdatedAt          time.Time       `json:"updated_at"`

	// Derived on read.
	ChapterCount    int `json:"chapter_count"`
	TranslatedCount int `json:"translated_count"`
}

type Chapter struct {
	ID              string    `json:"id"`
	ProjectID       string    `json:"project_id"`
	ChapterIndex    int       `json:"chapter_index"`
	Title           string    `json:"title"`
	TranslatedTitle string    `json:"translated_title,omitempty"`
	ChapterType     string    `json:"chapter_type"`
	BodyNumber      *int      `json:"body_number,omitempty"`
	OriginalText    string    `json:"original_text,omitempty"`
	TranslatedText  string    `json:"translated_text,omitempty"`
	Status          string    `json:"status"`
	UpdatedAt       time.Time `json:"updated_at"`
}

// TranslationVersion is one immutable entry in a chapter's translation
// history. Version numbers are dense per chapter, starting at 1.
type TranslationVersion struct {
	ID              string    `json:"id"`
	ChapterID       string    `json:"chapter_id"`
	Version         int       `json:"version"`
	Content         string    `json:"content"`
	Feedback        string    `json:"feedback,omitempty"`
	StrategyVersion *int      `json:"strategy_version,omitempty"`
	RestoredFrom    *int      `json:"restored_from,omitempty"`
	CreatedAt       time.Time `json:"created_at"`
}

// StrategyVersion is one immutable strategy document per project.
// At most one version per project is current at a time.
type StrategyVersion struct {
	ID        string          `json:"id"`
	ProjectID string          `json:"project_id"`
	Version   int             `json:"version"`
	Content   json.RawMessage `json:"content"`
	Feedback  string          `json:"feedback,omitempty"`
	Current   bool            `json:"current"`
	CreatedAt time.Time       `json:"created_at"`
}

// Highlight is user-owned and keyed to literal translated text; it
// survives retranslation even when the text no longer occurs. Imported
// marks highlights brought in from an external reader rather than made
// in the app.
type Highlight struct {
	ID        string    `json:"id"`
	ChapterID string    `json:"chapter_id"`
	Text      string    `json:"text"`
	Note      string    `json:"note,omitempty"`
	Imported  bool      `json:"imported,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// Annotation pairs a source-text expression with its rendered
// translation. The set is machine-derived and replaced wholesale after
// each translation run.
type Annotation struct {
	ID         string    `json:"id"`
	ChapterID  string    `json:"chapter_id"`
	SourceText string    `json:"source_text"`
	TargetText string    `json:"target_text"`
	Note       string    `json:"note,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
}
