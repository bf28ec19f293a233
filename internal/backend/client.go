// Package backend is the HTTP client for the translation Job Backend.
// Every call is a thin request/response wrapper; lifecycle decisions
// belong to the caller.
package backend

import (
	"context"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"
)

// Status is the backend's view of one project.
type Status struct {
	ID                 string `json:"id"`
	Status             string `json:"status"`
	ChapterCount       int    `json:"chapter_count"`
	TranslatedCount    int    `json:"translated_count"`
	SampleChapterIndex int    `json:"sample_chapter_index"`
	ErrorMessage       string `json:"error_message"`
}

// Progress is the per-tick translation progress snapshot. ChunkDone and
// ChunkTotal describe the chapter currently being translated; both are
// zero between chapters.
type Progress struct {
	ProjectID          string `json:"project_id"`
	Status             string `json:"status"`
	TotalChapters      int    `json:"total_chapters"`
	TranslatedChapters int    `json:"translated_chapters"`
	CurrentChapter     string `json:"current_chapter"`
	ChunkDone          int    `json:"chunk_done"`
	ChunkTotal         int    `json:"chunk_total"`
}

// Analysis mirrors the backend's book analysis document.
type Analysis struct {
	ProjectID     string           `json:"project_id"`
	Genre         string           `json:"genre"`
	Themes        []string         `json:"themes"`
	Characters    []map[string]any `json:"characters"`
	WritingStyle  string           `json:"writing_style"`
	Setting       string           `json:"setting"`
	KeyTerms      []map[string]any `json:"key_terms"`
	CulturalNotes string           `json:"cultural_notes"`
}

// Strategy mirrors the backend's translation strategy document.
type Strategy struct {
	ProjectID             string           `json:"project_id"`
	OverallApproach       string           `json:"overall_approach"`
	ToneAndStyle          string           `json:"tone_and_style"`
	CharacterNames        []map[string]any `json:"character_names"`
	Glossary              []map[string]any `json:"glossary"`
	CulturalAdaptation    string           `json:"cultural_adaptation"`
	SpecialConsiderations string           `json:"special_considerations"`
	CustomInstructions    string           `json:"custom_instructions"`
}

// ChapterResult is one translated chapter as the backend stores it.
type ChapterResult struct {
	ID              string           `json:"id"`
	ChapterIndex    int              `json:"chapter_index"`
	Status          string           `json:"status"`
	TranslatedTitle string           `json:"translated_title"`
	TranslatedText  string           `json:"translated_text"`
	Annotations     []ChapterGlossed `json:"annotations"`
}

// ChapterGlossed is one source/translation expression pair emitted by
// the translator alongside the chapter text.
type ChapterGlossed struct {
	Src  string `json:"src"`
	Tgt  string `json:"tgt"`
	Note string `json:"note"`
}

// NameEntry is one detected proper name with its translation variants.
type NameEntry struct {
	Name        string         `json:"name"`
	Occurrences int            `json:"occurrences"`
	Variants    map[string]int `json:"variants"`
}

type Client struct {
	baseURL string
	http    *resty.Client
}

func New(baseURL string) *Client {
	c := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(30 * time.Second)
	return &Client{baseURL: baseURL, http: c}
}

// RegisterProject tells the backend about a freshly created project so
// the long-running jobs have chapters to work on.
func (c *Client) RegisterProject(ctx context.Context, projectID string, payload any) error {
	return c.post(ctx, "/projects/"+projectID+"/register", payload)
}

func (c *Client) DeleteProject(ctx context.Context, projectID string) error {
	r, err := c.http.R().SetContext(ctx).Delete("/projects/" + projectID)
	if err != nil {
		return fmt.Errorf("backend delete project: %w", err)
	}
	if r.IsError() {
		return fmt.Errorf("backend delete project: %s; body: %s", r.Status(), r.String())
	}
	return nil
}

func (c *Client) Analyze(ctx context.Context, projectID string) error {
	return c.post(ctx, "/projects/"+projectID+"/analyze", nil)
}

func (c *Client) RefineAnalysis(ctx context.Context, projectID, feedback string) error {
	return c.post(ctx, "/projects/"+projectID+"/analysis/refine", map[string]string{"feedback": feedback})
}

func (c *Client) GetAnalysis(ctx context.Context, projectID string) (Analysis, error) {
	var out Analysis
	if err := c.get(ctx, "/projects/"+projectID+"/analysis", &out); err != nil {
		return Analysis{}, err
	}
	return out, nil
}

func (c *Client) GenerateStrategy(ctx context.Context, projectID string) error {
	return c.post(ctx, "/projects/"+projectID+"/strategy/generate", nil)
}

func (c *Client) RefineStrategy(ctx context.Context, projectID, feedback string) error {
	return c.post(ctx, "/projects/"+projectID+"/strategy/refine", map[string]string{"feedback": feedback})
}

func (c *Client) GetStrategy(ctx context.Context, projectID string) (Strategy, error) {
	var out Strategy
	if err := c.get(ctx, "/projects/"+projectID+"/strategy", &out); err != nil {
		return Strategy{}, err
	}
	return out, nil
}

// UpdateStrategy pushes edited strategy fields ahead of the next
// generation or translation run.
func (c *Client) UpdateStrategy(ctx context.Context, projectID string, fields map[string]any) error {
	r, err := c.http.R().SetContext(ctx).SetBody(fields).Put("/projects/" + projectID + "/strategy")
	if err != nil {
		return fmt.Errorf("backend update strategy: %w", err)
	}
	if r.IsError() {
		return fmt.Errorf("backend update strategy: %s; body: %s", r.Status(), r.String())
	}
	return nil
}

// TranslateSample starts a sample-excerpt translation. chapterIndex < 0
// lets the backend pick its default sample chapter.
func (c *Client) TranslateSample(ctx context.Context, projectID string, chapterIndex int) error {
	body := map[string]any{}
	if chapterIndex >= 0 {
		body["chapter_index"] = chapterIndex
	}
	return c.post(ctx, "/projects/"+projectID+"/translate/sample", body)
}

// TranslateAll starts full translation over the inclusive 0-based range
// [start, end]; end = -1 means through the last chapter.
func (c *Client) TranslateAll(ctx context.Context, projectID string, start, end int) error {
	return c.post(ctx, "/projects/"+projectID+"/translate/all", map[string]int{
		"start_chapter": start,
		"end_chapter":   end,
	})
}

func (c *Client) StopTranslation(ctx context.Context, projectID string) error {
	return c.post(ctx, "/projects/"+projectID+"/translate/stop", nil)
}

// RetranslateChapter redoes one chapter, optionally steering the run
// with reader feedback and per-run strategy field overrides.
func (c *Client) RetranslateChapter(ctx context.Context, projectID, chapterID, feedback string, overrides map[string]any) error {
	body := map[string]any{}
	if feedback != "" {
		body["feedback"] = feedback
	}
	if len(overrides) > 0 {
		body["strategy_overrides"] = overrides
	}
	return c.post(ctx, "/projects/"+projectID+"/chapters/"+chapterID+"/retranslate", body)
}

func (c *Client) TranslateTitles(ctx context.Context, projectID string) error {
	return c.post(ctx, "/projects/"+projectID+"/chapters/translate-titles", nil)
}

func (c *Client) RescanNames(ctx context.Context, projectID string) error {
	return c.post(ctx, "/projects/"+projectID+"/rescan-names", nil)
}

func (c *Client) NameMap(ctx context.Context, projectID string) ([]NameEntry, error) {
	var out struct {
		Names []NameEntry `json:"names"`
	}
	if err := c.get(ctx, "/projects/"+projectID+"/name-map", &out); err != nil {
		return nil, err
	}
	return out.Names, nil
}

func (c *Client) ProjectStatus(ctx context.Context, projectID string) (Status, error) {
	var out Status
	if err := c.get(ctx, "/projects/"+projectID, &out); err != nil {
		return Status{}, err
	}
	return out, nil
}

func (c *Client) GetProgress(ctx context.Context, projectID string) (Progress, error) {
	var out Progress
	if err := c.get(ctx, "/projects/"+projectID+"/progress", &out); err != nil {
		return Progress{}, err
	}
	return out, nil
}

// Chapter fetches one translated chapter's current text from the backend.
func (c *Client) Chapter(ctx context.Context, projectID, chapterID string) (ChapterResult, error) {
	var out ChapterResult
	if err := c.get(ctx, "/projects/"+projectID+"/chapters/"+chapterID, &out); err != nil {
		return ChapterResult{}, err
	}
	return out, nil
}

// Chapters fetches every chapter's backend state, used when a run settles
// and the translated text needs to be pulled into the document store.
func (c *Client) Chapters(ctx context.Context, projectID string) ([]ChapterResult, error) {
	var out struct {
		Chapters []ChapterResult `json:"chapters"`
	}
	if err := c.get(ctx, "/projects/"+projectID+"/chapters", &out); err != nil {
		return nil, err
	}
	return out.Chapters, nil
}

func (c *Client) get(ctx context.Context, path string, result any) error {
	r, err := c.http.R().SetContext(ctx).SetResult(result).Get(path)
	if err != nil {
		return fmt.Errorf("backend GET %s: %w", path, err)
	}
	if r.IsError() {
		return fmt.Errorf("backend GET %s: %s; body: %s", path, r.Status(), r.String())
	}
	return nil
}

func (c *Client) post(ctx context.Context, path string, body any) error {
	req := c.http.R().SetContext(ctx)
	if body != nil {
		req.SetBody(body)
	}
	r, err := req.Post(path)
	if err != nil {
		return fmt.Errorf("backend POST %s: %w", path, err)
	}
	if r.IsError() {
		return fmt.Errorf("backend POST %s: %s; body: %s", path, r.Status(), r.String())
	}
	return nil
}
