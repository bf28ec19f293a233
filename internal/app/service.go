// Package app wires the document store, the Job Backend client, the
// poller and the renderers into the HTTP-facing project controller.
package app

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log"
	"sync"

	"github.com/eveshi/bitranslator/internal/backend"
	"github.com/eveshi/bitranslator/internal/export"
	"github.com/eveshi/bitranslator/internal/jobsync"
	"github.com/eveshi/bitranslator/internal/pipeline"
	"github.com/eveshi/bitranslator/internal/render"
	"github.com/eveshi/bitranslator/internal/search"
	"github.com/eveshi/bitranslator/internal/store"
)

// dataStore is the slice of the Postgres store the service consumes.
type dataStore interface {
	CreateProject(ctx context.Context, p store.Project) (store.Project, error)
	GetProject(ctx context.Context, id string) (store.Project, error)
	ListProjects(ctx context.Context) ([]store.Project, error)
	UpdateProjectPhase(ctx context.Context, id, phase, errorMessage string) error
	UpdateProjectSettings(ctx context.Context, id string, name, sourceLang, targetLang *string) error
	SetSampleChapterIndex(ctx context.Context, id string, index int) error
	SetNumberingMode(ctx context.Context, id, mode string, force bool) error
	SetNameMap(ctx context.Context, id string, nameMap json.RawMessage) error
	DeleteProject(ctx context.Context, id string) error

	InsertChapters(ctx context.Context, projectID string, chapters []store.Chapter) ([]store.Chapter, error)
	GetChapter(ctx context.Context, id string) (store.Chapter, error)
	ListChapters(ctx context.Context, projectID string) ([]store.Chapter, error)
	UpdateChapterStatus(ctx context.Context, id, status string) error
	UpdateChapterTitles(ctx context.Context, id string, title, translatedTitle *string) error
	SetBodyNumbers(ctx context.Context, projectID string, numbers map[string]int) error

	RecordTranslation(ctx context.Context, chapterID, content, feedback string, strategyVersion *int) (store.TranslationVersion, error)
	RestoreTranslation(ctx context.Context, chapterID string, version int) (store.TranslationVersion, error)
	ListTranslationVersions(ctx context.Context, chapterID string) ([]store.TranslationVersion, error)
	RecordStrategy(ctx context.Context, projectID string, content json.RawMessage, feedback string) (store.StrategyVersion, error)
	RestoreStrategy(ctx context.Context, projectID string, version int) (store.StrategyVersion, error)
	ListStrategyVersions(ctx context.Context, projectID string) ([]store.StrategyVersion, error)
	CurrentStrategyVersion(ctx context.Context, projectID string) (store.StrategyVersion, error)

	ListHighlights(ctx context.Context, chapterID string) ([]store.Highlight, error)
	ReplaceHighlights(ctx context.Context, chapterID string, highlights []store.Highlight) ([]store.Highlight, error)
	ListAnnotations(ctx context.Context, chapterID string) ([]store.Annotation, error)
	ReplaceAnnotations(ctx context.Context, chapterID string, annotations []store.Annotation) error
}

// jobBackend is the slice of the Job Backend client the service consumes.
type jobBackend interface {
	RegisterProject(ctx context.Context, projectID string, payload any) error
	DeleteProject(ctx context.Context, projectID string) error
	Analyze(ctx context.Context, projectID string) error
	RefineAnalysis(ctx context.Context, projectID, feedback string) error
	GetAnalysis(ctx context.Context, projectID string) (backend.Analysis, error)
	GenerateStrategy(ctx context.Context, projectID string) error
	RefineStrategy(ctx context.Context, projectID, feedback string) error
	GetStrategy(ctx context.Context, projectID string) (backend.Strategy, error)
	UpdateStrategy(ctx context.Context, projectID string, fields map[string]any) error
	TranslateSample(ctx context.Context, projectID string, chapterIndex int) error
	TranslateAll(ctx context.Context, projectID string, start, end int) error
	StopTranslation(ctx context.Context, projectID string) error
	RetranslateChapter(ctx context.Context, projectID, chapterID, feedback string, overrides map[string]any) error
	TranslateTitles(ctx context.Context, projectID string) error
	RescanNames(ctx context.Context, projectID string) error
	NameMap(ctx context.Context, projectID string) ([]backend.NameEntry, error)
	Chapters(ctx context.Context, projectID string) ([]backend.ChapterResult, error)
}

// renderCache is the redis-backed render cache.
type renderCache interface {
	Get(ctx context.Context, chapterID, fingerprint string) (render.RenderedChapter, bool, error)
	Put(ctx context.Context, chapterID, fingerprint string, rendered render.RenderedChapter) error
	Invalidate(ctx context.Context, chapterIDs ...string) error
	Ping(ctx context.Context) error
}

// searchIndex is the search facade.
type searchIndex interface {
	Search(q search.Query) search.Response
	IndexChapter(rec search.ChapterRecord)
	IndexChapters(recs []search.ChapterRecord)
	DeleteProject(projectID string)
}

// artifactStore keeps binary artifacts in object storage.
type artifactStore interface {
	PutOriginalEPUB(ctx context.Context, projectID string, data []byte) (string, error)
	PutExport(ctx context.Context, projectID, filename, mimeType string, data []byte) (string, error)
	DeleteProject(ctx context.Context, projectID string) error
}

// exporter builds downloadable artifacts.
type exporter interface {
	ChapterPDF(ctx context.Context, chapterID string) (*export.Result, error)
	ProjectBundle(ctx context.Context, projectID string) (*export.Result, error)
}

// poller drives background synchronization with the Job Backend.
type poller interface {
	Start(ctx context.Context, projectID string)
	Stop()
	Active() (string, bool)
}

type Service struct {
	store    dataStore
	backend  jobBackend
	machine  pipeline.Machine
	cache    renderCache
	search   searchIndex
	blobs    artifactStore
	exporter exporter
	poller   poller
	db       *sql.DB

	mu       sync.Mutex
	progress map[string]jobsync.Snapshot
	ranges   map[string][2]int
	feedback map[string]string
}

func NewService(st dataStore, jb jobBackend, cache renderCache, idx searchIndex, blobs artifactStore, exp exporter, db *sql.DB) *Service {
	return &Service{
		store:    st,
		backend:  jb,
		cache:    cache,
		search:   idx,
		blobs:    blobs,
		exporter: exp,
		db:       db,
		progress: make(map[string]jobsync.Snapshot),
		ranges:   make(map[string][2]int),
		feedback: make(map[string]string),
	}
}

// SetPoller attaches the poll loop after construction; the poller needs
// the service as its handler, so the two are wired in a second step.
func (s *Service) SetPoller(p poller) {
	s.poller = p
}

func (s *Service) Ping(ctx context.Context) error {
	if s.db == nil {
		return nil
	}
	return s.db.PingContext(ctx)
}

func (s *Service) PingCache(ctx context.Context) error {
	if s.cache == nil {
		return nil
	}
	return s.cache.Ping(ctx)
}

// ── Projects ────────────────────────────────────────────────────────────

// ChapterPayload is one parsed chapter handed over at project creation.
type ChapterPayload struct {
	Title       string `json:"title"`
	ChapterType string `json:"chapter_type"`
	Text        string `json:"text"`
}

type CreateProjectRequest struct {
	Name           string           `json:"name"`
	SourceLanguage string           `json:"source_language"`
	TargetLanguage string           `json:"target_language"`
	Chapters       []ChapterPayload `json:"chapters"`
	// OriginalEPUB is the raw uploaded book, stored as an artifact.
	OriginalEPUB []byte `json:"original_epub,omitempty"`
}

type ProjectView struct {
	store.Project
	HasTranslatedChapters bool `json:"has_translated_chapters"`
	CanNavigateForward    bool `json:"can_navigate_forward"`
}

func (s *Service) CreateProject(ctx context.Context, req CreateProjectRequest) (ProjectView, error) {
	if req.Name == "" {
		return ProjectView{}, errValidation("name is required")
	}
	if len(req.Chapters) == 0 {
		return ProjectView{}, errValidation("at least one chapter is required")
	}

	project := store.Project{
		Name:           req.Name,
		SourceLanguage: defaultString(req.SourceLanguage, "auto"),
		TargetLanguage: defaultString(req.TargetLanguage, "en"),
		Phase:          string(pipeline.PhaseUploaded),
	}
	project, err := s.store.CreateProject(ctx, project)
	if err != nil {
		return ProjectView{}, err
	}

	chapters := make([]store.Chapter, 0, len(req.Chapters))
	for i, c := range req.Chapters {
		chapters = append(chapters, store.Chapter{
			ChapterIndex: i,
			Title:        c.Title,
			ChapterType:  defaultString(c.ChapterType, store.ChapterBody),
			OriginalText: c.Text,
		})
	}
	inserted, err := s.store.InsertChapters(ctx, project.ID, chapters)
	if err != nil {
		return ProjectView{}, err
	}

	if len(req.OriginalEPUB) > 0 && s.blobs != nil {
		if _, err := s.blobs.PutOriginalEPUB(ctx, project.ID, req.OriginalEPUB); err != nil {
			log.Printf("app: store original epub for %s: %v", project.ID, err)
		}
	}

	if err := s.backend.RegisterProject(ctx, project.ID, registrationPayload(project, inserted)); err != nil {
		return ProjectView{}, errBackend(err)
	}

	s.indexChapters(project.ID, inserted)
	project.ChapterCount = len(inserted)
	return s.projectView(project, inserted), nil
}

func registrationPayload(p store.Project, chapters []store.Chapter) map[string]any {
	payload := make([]map[string]any, 0, len(chapters))
	for _, c := range chapters {
		payload = append(payload, map[string]any{
			"id":            c.ID,
			"chapter_index": c.ChapterIndex,
			"title":         c.Title,
			"chapter_type":  c.ChapterType,
			"text":          c.OriginalText,
		})
	}
	return map[string]any{
		"name":            p.Name,
		"source_language": p.SourceLanguage,
		"target_language": p.TargetLanguage,
		"chapters":        payload,
	}
}

func (s *Service) ListProjects(ctx context.Context) ([]ProjectView, error) {
	projects, err := s.store.ListProjects(ctx)
	if err != nil {
		return nil, err
	}
	views := make([]ProjectView, 0, len(projects))
	for _, p := range projects {
		views = append(views, s.projectView(p, nil))
	}
	return views, nil
}

func (s *Service) GetProject(ctx context.Context, id string) (ProjectView, error) {
	project, err := s.store.GetProject(ctx, id)
	if err != nil {
		return ProjectView{}, err
	}
	return s.projectView(project, nil), nil
}

func (s *Service) projectView(p store.Project, chapters []store.Chapter) ProjectView {
	hasTranslated := p.TranslatedCount > 0
	for _, c := range chapters {
		if c.Status == "translated" {
			hasTranslated = true
		}
	}
	phase, err := pipeline.Parse(p.Phase)
	if err != nil {
		phase = pipeline.PhaseError
	}
	return ProjectView{
		Project:               p,
		HasTranslatedChapters: hasTranslated,
		CanNavigateForward:    s.machine.CanNavigateForward(phase, hasTranslated),
	}
}

func (s *Service) UpdateProjectSettings(ctx context.Context, id string, name, sourceLang, targetLang *string) (ProjectView, error) {
	if name != nil && *name == "" {
		return ProjectView{}, errValidation("name must not be empty")
	}
	if err := s.store.UpdateProjectSettings(ctx, id, name, sourceLang, targetLang); err != nil {
		return ProjectView{}, err
	}
	return s.GetProject(ctx, id)
}

func (s *Service) DeleteProject(ctx context.Context, id string) error {
	if _, err := s.store.GetProject(ctx, id); err != nil {
		return err
	}
	if s.poller != nil {
		if active, ok := s.poller.Active(); ok && active == id {
			s.poller.Stop()
		}
	}
	if err := s.store.DeleteProject(ctx, id); err != nil {
		return err
	}
	if err := s.backend.DeleteProject(ctx, id); err != nil {
		log.Printf("app: backend delete %s: %v", id, err)
	}
	if s.search != nil {
		s.search.DeleteProject(id)
	}
	if s.blobs != nil {
		if err := s.blobs.DeleteProject(ctx, id); err != nil {
			log.Printf("app: artifact delete %s: %v", id, err)
		}
	}
	s.mu.Lock()
	delete(s.progress, id)
	delete(s.ranges, id)
	delete(s.feedback, id)
	s.mu.Unlock()
	return nil
}

// ── Chapters ────────────────────────────────────────────────────────────

// ChapterSummary is the list view: metadata without chapter text.
type ChapterSummary struct {
	ID              string `json:"id"`
	ChapterIndex    int    `json:"chapter_index"`
	Title           string `json:"title"`
	TranslatedTitle string `json:"translated_title,omitempty"`
	ChapterType     string `json:"chapter_type"`
	BodyNumber      *int   `json:"body_number,omitempty"`
	Status          string `json:"status"`
	HasTranslation  bool   `json:"has_translation"`
}

func (s *Service) ListChapters(ctx context.Context, projectID string) ([]ChapterSummary, error) {
	if _, err := s.store.GetProject(ctx, projectID); err != nil {
		return nil, err
	}
	chapters, err := s.store.ListChapters(ctx, projectID)
	if err != nil {
		return nil, err
	}
	out := make([]ChapterSummary, 0, len(chapters))
	for _, c := range chapters {
		out = append(out, ChapterSummary{
			ID:              c.ID,
			ChapterIndex:    c.ChapterIndex,
			Title:           c.Title,
			TranslatedTitle: c.TranslatedTitle,
			ChapterType:     c.ChapterType,
			BodyNumber:      c.BodyNumber,
			Status:          c.Status,
			HasTranslation:  c.TranslatedText != "",
		})
	}
	return out, nil
}

func (s *Service) GetChapter(ctx context.Context, id string) (store.Chapter, error) {
	return s.store.GetChapter(ctx, id)
}

// RenderedChapter returns the cached reading view, composing and caching
// it on a miss.
func (s *Service) RenderedChapter(ctx context.Context, chapterID string) (render.RenderedChapter, error) {
	ch, err := s.store.GetChapter(ctx, chapterID)
	if err != nil {
		return render.RenderedChapter{}, err
	}
	annotations, err := s.store.ListAnnotations(ctx, chapterID)
	if err != nil {
		return render.RenderedChapter{}, err
	}
	highlights, err := s.store.ListHighlights(ctx, chapterID)
	if err != nil {
		return render.RenderedChapter{}, err
	}

	fingerprint := render.Fingerprint(ch, annotations, highlights)
	if s.cache != nil {
		if cached, ok, err := s.cache.Get(ctx, chapterID, fingerprint); err == nil && ok {
			return cached, nil
		} else if err != nil {
			log.Printf("app: render cache get %s: %v", chapterID, err)
		}
	}

	rendered := render.Compose(ch, annotations, highlights)
	if s.cache != nil {
		if err := s.cache.Put(ctx, chapterID, fingerprint, rendered); err != nil {
			log.Printf("app: render cache put %s: %v", chapterID, err)
		}
	}
	return rendered, nil
}

// ── Highlights and annotations ──────────────────────────────────────────

func (s *Service) ListHighlights(ctx context.Context, chapterID string) ([]store.Highlight, error) {
	if _, err := s.store.GetChapter(ctx, chapterID); err != nil {
		return nil, err
	}
	return s.store.ListHighlights(ctx, chapterID)
}

func (s *Service) PutHighlights(ctx context.Context, chapterID string, highlights []store.Highlight) ([]store.Highlight, error) {
	if _, err := s.store.GetChapter(ctx, chapterID); err != nil {
		return nil, err
	}
	for _, h := range highlights {
		if h.Text == "" {
			return nil, errValidation("highlight text must not be empty")
		}
	}
	saved, err := s.store.ReplaceHighlights(ctx, chapterID, highlights)
	if err != nil {
		return nil, err
	}
	s.invalidateRender(ctx, chapterID)
	return saved, nil
}

func (s *Service) ListAnnotations(ctx context.Context, chapterID string) ([]store.Annotation, error) {
	if _, err := s.store.GetChapter(ctx, chapterID); err != nil {
		return nil, err
	}
	return s.store.ListAnnotations(ctx, chapterID)
}

// ── Versions ────────────────────────────────────────────────────────────

func (s *Service) ListChapterVersions(ctx context.Context, chapterID string) ([]store.TranslationVersion, error) {
	if _, err := s.store.GetChapter(ctx, chapterID); err != nil {
		return nil, err
	}
	return s.store.ListTranslationVersions(ctx, chapterID)
}

func (s *Service) RestoreChapterVersion(ctx context.Context, chapterID string, version int) (store.TranslationVersion, error) {
	restored, err := s.store.RestoreTranslation(ctx, chapterID, version)
	if err != nil {
		return store.TranslationVersion{}, err
	}
	s.invalidateRender(ctx, chapterID)
	s.reindexChapter(ctx, chapterID)
	return restored, nil
}

func (s *Service) ListStrategyVersions(ctx context.Context, projectID string) ([]store.StrategyVersion, error) {
	if _, err := s.store.GetProject(ctx, projectID); err != nil {
		return nil, err
	}
	return s.store.ListStrategyVersions(ctx, projectID)
}

// RestoreStrategyVersion makes an old strategy current again, both here
// and on the backend, so the next generation or translation run uses it.
func (s *Service) RestoreStrategyVersion(ctx context.Context, projectID string, version int) (store.StrategyVersion, error) {
	if _, err := s.store.GetProject(ctx, projectID); err != nil {
		return store.StrategyVersion{}, err
	}
	restored, err := s.store.RestoreStrategy(ctx, projectID, version)
	if err != nil {
		return store.StrategyVersion{}, err
	}
	var fields map[string]any
	if err := json.Unmarshal(restored.Content, &fields); err == nil && len(fields) > 0 {
		if err := s.backend.UpdateStrategy(ctx, projectID, fields); err != nil {
			log.Printf("app: push restored strategy %s v%d: %v", projectID, version, err)
		}
	}
	return restored, nil
}

// ── Internal helpers ────────────────────────────────────────────────────

func (s *Service) invalidateRender(ctx context.Context, chapterIDs ...string) {
	if s.cache == nil || len(chapterIDs) == 0 {
		return
	}
	if err := s.cache.Invalidate(ctx, chapterIDs...); err != nil {
		log.Printf("app: render cache invalidate: %v", err)
	}
}

func (s *Service) reindexChapter(ctx context.Context, chapterID string) {
	if s.search == nil {
		return
	}
	ch, err := s.store.GetChapter(ctx, chapterID)
	if err != nil {
		return
	}
	s.search.IndexChapter(chapterRecord(ch))
}

func (s *Service) indexChapters(projectID string, chapters []store.Chapter) {
	if s.search == nil {
		return
	}
	recs := make([]search.ChapterRecord, 0, len(chapters))
	for _, c := range chapters {
		recs = append(recs, chapterRecord(c))
	}
	s.search.IndexChapters(recs)
}

func chapterRecord(c store.Chapter) search.ChapterRecord {
	return search.ChapterRecord{
		ID:              c.ID,
		ProjectID:       c.ProjectID,
		ChapterIndex:    c.ChapterIndex,
		Title:           c.Title,
		TranslatedTitle: c.TranslatedTitle,
		OriginalText:    c.OriginalText,
		TranslatedText:  c.TranslatedText,
	}
}

func (s *Service) Search(q search.Query) search.Response {
	if s.search == nil {
		return search.Response{Results: []search.Result{}, Query: q.Text}
	}
	return s.search.Search(q)
}

func defaultString(v, fallback string) string {
	if v == "" {
		return fallback
	}
	return v
}

func (s *Service) parsePhase(p store.Project) (pipeline.Phase, error) {
	phase, err := pipeline.Parse(p.Phase)
	if err != nil {
		return "", fmt.Errorf("project %s has unknown phase %q: %w", p.ID, p.Phase, err)
	}
	return phase, nil
}

// transition validates and persists a phase change, translating an
// illegal move into the INVALID_PHASE domain error.
func (s *Service) transition(ctx context.Context, project store.Project, to pipeline.Phase, attempted string) error {
	from, err := s.parsePhase(project)
	if err != nil {
		return err
	}
	if err := s.machine.Transition(from, to); err != nil {
		return errInvalidPhase(string(from), attempted)
	}
	return s.store.UpdateProjectPhase(ctx, project.ID, string(to), "")
}
