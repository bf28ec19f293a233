package app

import (
	"context"
	"log"

	"github.com/eveshi/bitranslator/internal/export"
)

// ExportChapterPDF renders one chapter to PDF. A copy lands in object
// storage for later retrieval; the download itself never depends on it.
func (s *Service) ExportChapterPDF(ctx context.Context, chapterID string) (*export.Result, error) {
	ch, err := s.store.GetChapter(ctx, chapterID)
	if err != nil {
		return nil, err
	}
	result, err := s.exporter.ChapterPDF(ctx, chapterID)
	if err != nil {
		return nil, err
	}
	s.archiveExport(ctx, ch.ProjectID, result)
	return result, nil
}

// ExportBundle builds the portable JSON bundle for a whole project.
func (s *Service) ExportBundle(ctx context.Context, projectID string) (*export.Result, error) {
	if _, err := s.store.GetProject(ctx, projectID); err != nil {
		return nil, err
	}
	result, err := s.exporter.ProjectBundle(ctx, projectID)
	if err != nil {
		return nil, err
	}
	s.archiveExport(ctx, projectID, result)
	return result, nil
}

func (s *Service) archiveExport(ctx context.Context, projectID string, result *export.Result) {
	if s.blobs == nil {
		return
	}
	if _, err := s.blobs.PutExport(ctx, projectID, result.Filename, result.MimeType, result.Data); err != nil {
		log.Printf("app: archive export %s: %v", projectID, err)
	}
}
