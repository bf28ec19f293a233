package export

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/eveshi/bitranslator/internal/segment"
	"github.com/eveshi/bitranslator/internal/store"
)

type fakeStore struct {
	projects     map[string]store.Project
	chapters     map[string]store.Chapter
	byProject    map[string][]store.Chapter
	annotations  map[string][]store.Annotation
	highlights   map[string][]store.Highlight
	translations map[string][]store.TranslationVersion
	strategies   map[string][]store.StrategyVersion
}

func (f *fakeStore) GetProject(ctx context.Context, id string) (store.Project, error) {
	p, ok := f.projects[id]
	if !ok {
		return store.Project{}, errors.New("not found")
	}
	return p, nil
}

func (f *fakeStore) GetChapter(ctx context.Context, id string) (store.Chapter, error) {
	c, ok := f.chapters[id]
	if !ok {
		return store.Chapter{}, errors.New("not found")
	}
	return c, nil
}

func (f *fakeStore) ListChapters(ctx context.Context, projectID string) ([]store.Chapter, error) {
	return f.byProject[projectID], nil
}

func (f *fakeStore) ListAnnotations(ctx context.Context, chapterID string) ([]store.Annotation, error) {
	return f.annotations[chapterID], nil
}

func (f *fakeStore) ListHighlights(ctx context.Context, chapterID string) ([]store.Highlight, error) {
	return f.highlights[chapterID], nil
}

func (f *fakeStore) ListTranslationVersions(ctx context.Context, chapterID string) ([]store.TranslationVersion, error) {
	return f.translations[chapterID], nil
}

func (f *fakeStore) ListStrategyVersions(ctx context.Context, projectID string) ([]store.StrategyVersion, error) {
	return f.strategies[projectID], nil
}

func TestChapterPDFRequiresTranslation(t *testing.T) {
	s := NewService(&fakeStore{
		chapters: map[string]store.Chapter{"ch_1": {ID: "ch_1", ProjectID: "prj_1"}},
		projects: map[string]store.Project{"prj_1": {ID: "prj_1"}},
	})
	_, err := s.ChapterPDF(context.Background(), "ch_1")
	if !errors.Is(err, ErrNothingToExport) {
		t.Fatalf("err = %v, want ErrNothingToExport", err)
	}
}

func TestRenderChapterHTML(t *testing.T) {
	n := 3
	html, err := RenderChapterHTML(TemplateData{
		ProjectName:     "Novel",
		Title:           "黑暗森林",
		TranslatedTitle: "The Dark Forest",
		BodyNumber:      &n,
		Segments: []segment.Segment{
			{Type: segment.TypeParagraph, HTML: `He entered the <mark data-kind="highlight" data-idx="0">dark forest</mark>.`},
			{Type: segment.TypeSeparator, HTML: "* * *"},
			{Type: segment.TypeHeading, HTML: "II"},
		},
	})
	if err != nil {
		t.Fatal(err)
	}
	for _, want := range []string{
		"3. The Dark Forest",
		"黑暗森林",
		`<mark data-kind="highlight"`,
		`class="separator"`,
		`<h2 class="heading">II</h2>`,
	} {
		if !strings.Contains(html, want) {
			t.Errorf("rendered HTML missing %q", want)
		}
	}
}

func TestProjectBundle(t *testing.T) {
	f := &fakeStore{
		projects: map[string]store.Project{"prj_1": {ID: "prj_1", Name: "My Novel"}},
		byProject: map[string][]store.Chapter{"prj_1": {
			{ID: "ch_1", ProjectID: "prj_1", ChapterIndex: 0, Title: "One"},
			{ID: "ch_2", ProjectID: "prj_1", ChapterIndex: 1, Title: "Two"},
		}},
		translations: map[string][]store.TranslationVersion{
			"ch_1": {{ID: "tv_1", ChapterID: "ch_1", Version: 1, Content: "text"}},
		},
		highlights: map[string][]store.Highlight{
			"ch_2": {{ID: "hl_1", ChapterID: "ch_2", Text: "phrase"}},
		},
		strategies: map[string][]store.StrategyVersion{
			"prj_1": {{ID: "sv_1", ProjectID: "prj_1", Version: 1, Content: json.RawMessage(`{}`), Current: true}},
		},
	}
	res, err := NewService(f).ProjectBundle(context.Background(), "prj_1")
	if err != nil {
		t.Fatal(err)
	}
	if res.MimeType != "application/json" {
		t.Errorf("mime = %s", res.MimeType)
	}
	if res.Filename != "My-Novel.json" {
		t.Errorf("filename = %s", res.Filename)
	}

	var bundle Bundle
	if err := json.Unmarshal(res.Data, &bundle); err != nil {
		t.Fatal(err)
	}
	if len(bundle.Chapters) != 2 {
		t.Errorf("chapters = %d, want 2", len(bundle.Chapters))
	}
	if len(bundle.Translations["ch_1"]) != 1 {
		t.Errorf("ch_1 translations = %d, want 1", len(bundle.Translations["ch_1"]))
	}
	if _, ok := bundle.Translations["ch_2"]; ok {
		t.Error("empty history should be omitted")
	}
	if len(bundle.StrategyVersions) != 1 {
		t.Errorf("strategy versions = %d, want 1", len(bundle.StrategyVersions))
	}
}

func TestSanitizeFilename(t *testing.T) {
	tests := []struct{ in, want string }{
		{"My Novel", "My-Novel"},
		{"第三章", "chapter"},
		{"a/b\\c", "abc"},
	}
	for _, tc := range tests {
		if got := sanitizeFilename(tc.in); got != tc.want {
			t.Errorf("sanitizeFilename(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}
