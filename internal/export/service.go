package export

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/eveshi/bitranslator/internal/render"
	"github.com/eveshi/bitranslator/internal/store"
)

// DataStore is the slice of the document store the exporter reads from.
type DataStore interface {
	GetProject(ctx context.Context, id string) (store.Project, error)
	GetChapter(ctx context.Context, id string) (store.Chapter, error)
	ListChapters(ctx context.Context, projectID string) ([]store.Chapter, error)
	ListAnnotations(ctx context.Context, chapterID string) ([]store.Annotation, error)
	ListHighlights(ctx context.Context, chapterID string) ([]store.Highlight, error)
	ListTranslationVersions(ctx context.Context, chapterID string) ([]store.TranslationVersion, error)
	ListStrategyVersions(ctx context.Context, projectID string) ([]store.StrategyVersion, error)
}

// Service renders chapters and projects into downloadable artifacts.
type Service struct {
	store DataStore
}

func NewService(store DataStore) *Service {
	return &Service{store: store}
}

// ChapterPDF renders one chapter's translation, marks included, into a
// print-ready PDF.
func (s *Service) ChapterPDF(ctx context.Context, chapterID string) (*Result, error) {
	ch, err := s.store.GetChapter(ctx, chapterID)
	if err != nil {
		return nil, fmt.Errorf("get chapter: %w", err)
	}
	if ch.TranslatedText == "" {
		return nil, ErrNothingToExport
	}
	project, err := s.store.GetProject(ctx, ch.ProjectID)
	if err != nil {
		return nil, fmt.Errorf("get project: %w", err)
	}
	annotations, err := s.store.ListAnnotations(ctx, chapterID)
	if err != nil {
		return nil, fmt.Errorf("list annotations: %w", err)
	}
	highlights, err := s.store.ListHighlights(ctx, chapterID)
	if err != nil {
		return nil, fmt.Errorf("list highlights: %w", err)
	}

	rendered := render.Compose(ch, annotations, highlights)
	html, err := RenderChapterHTML(TemplateData{
		ProjectName:     project.Name,
		Title:           ch.Title,
		TranslatedTitle: ch.TranslatedTitle,
		BodyNumber:      ch.BodyNumber,
		Segments:        rendered.Segments,
	})
	if err != nil {
		return nil, fmt.Errorf("render template: %w", err)
	}

	title := ch.TranslatedTitle
	if title == "" {
		title = ch.Title
	}
	return renderPDF(html, title)
}

// Bundle is the whole-project JSON export: everything needed to rebuild
// the document set elsewhere.
type Bundle struct {
	Project          store.Project              `json:"project"`
	Chapters         []store.Chapter            `json:"chapters"`
	Translations     map[string][]store.TranslationVersion `json:"translations"`
	StrategyVersions []store.StrategyVersion    `json:"strategy_versions"`
	Annotations      map[string][]store.Annotation `json:"annotations"`
	Highlights       map[string][]store.Highlight  `json:"highlights"`
}

// ProjectBundle serializes the full project, chapters, version histories
// and marks into one JSON document.
func (s *Service) ProjectBundle(ctx context.Context, projectID string) (*Result, error) {
	project, err := s.store.GetProject(ctx, projectID)
	if err != nil {
		return nil, fmt.Errorf("get project: %w", err)
	}
	chapters, err := s.store.ListChapters(ctx, projectID)
	if err != nil {
		return nil, fmt.Errorf("list chapters: %w", err)
	}
	strategies, err := s.store.ListStrategyVersions(ctx, projectID)
	if err != nil {
		return nil, fmt.Errorf("list strategy versions: %w", err)
	}

	bundle := Bundle{
		Project:          project,
		Chapters:         chapters,
		Translations:     make(map[string][]store.TranslationVersion),
		StrategyVersions: strategies,
		Annotations:      make(map[string][]store.Annotation),
		Highlights:       make(map[string][]store.Highlight),
	}
	for _, ch := range chapters {
		versions, err := s.store.ListTranslationVersions(ctx, ch.ID)
		if err != nil {
			return nil, fmt.Errorf("list translation versions: %w", err)
		}
		if len(versions) > 0 {
			bundle.Translations[ch.ID] = versions
		}
		annotations, err := s.store.ListAnnotations(ctx, ch.ID)
		if err != nil {
			return nil, fmt.Errorf("list annotations: %w", err)
		}
		if len(annotations) > 0 {
			bundle.Annotations[ch.ID] = annotations
		}
		highlights, err := s.store.ListHighlights(ctx, ch.ID)
		if err != nil {
			return nil, fmt.Errorf("list highlights: %w", err)
		}
		if len(highlights) > 0 {
			bundle.Highlights[ch.ID] = highlights
		}
	}

	data, err := json.MarshalIndent(bundle, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("marshal bundle: %w", err)
	}
	return &Result{
		Data:     data,
		Filename: sanitizeFilename(project.Name) + ".json",
		MimeType: "application/json",
	}, nil
}
