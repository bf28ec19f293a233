package app

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"testing"

	"github.com/eveshi/bitranslator/internal/backend"
	"github.com/eveshi/bitranslator/internal/store"
)

// fakeStore implements dataStore with overridable function fields; the
// zero value answers every call with empty results.
type fakeStore struct {
	createProjectFn          func(ctx context.Context, p store.Project) (store.Project, error)
	getProjectFn             func(ctx context.Context, id string) (store.Project, error)
	listProjectsFn           func(ctx context.Context) ([]store.Project, error)
	updateProjectPhaseFn     func(ctx context.Context, id, phase, errorMessage string) error
	updateProjectSettingsFn  func(ctx context.Context, id string, name, sourceLang, targetLang *string) error
	setSampleChapterIndexFn  func(ctx context.Context, id string, index int) error
	setNumberingModeFn       func(ctx context.Context, id, mode string, force bool) error
	setNameMapFn             func(ctx context.Context, id string, nameMap json.RawMessage) error
	deleteProjectFn          func(ctx context.Context, id string) error
	insertChaptersFn         func(ctx context.Context, projectID string, chapters []store.Chapter) ([]store.Chapter, error)
	getChapterFn             func(ctx context.Context, id string) (store.Chapter, error)
	listChaptersFn           func(ctx context.Context, projectID string) ([]store.Chapter, error)
	updateChapterStatusFn    func(ctx context.Context, id, status string) error
	updateChapterTitlesFn    func(ctx context.Context, id string, title, translatedTitle *string) error
	setBodyNumbersFn         func(ctx context.Context, projectID string, numbers map[string]int) error
	recordTranslationFn      func(ctx context.Context, chapterID, content, feedback string, strategyVersion *int) (store.TranslationVersion, error)
	restoreTranslationFn     func(ctx context.Context, chapterID string, version int) (store.TranslationVersion, error)
	listTranslationVersion   func(ctx context.Context, chapterID string) ([]store.TranslationVersion, error)
	recordStrategyFn         func(ctx context.Context, projectID string, content json.RawMessage, feedback string) (store.StrategyVersion, error)
	restoreStrategyFn        func(ctx context.Context, projectID string, version int) (store.StrategyVersion, error)
	listStrategyVersionsFn   func(ctx context.Context, projectID string) ([]store.StrategyVersion, error)
	currentStrategyVersionFn func(ctx context.Context, projectID string) (store.StrategyVersion, error)
	listHighlightsFn         func(ctx context.Context, chapterID string) ([]store.Highlight, error)
	replaceHighlightsFn      func(ctx context.Context, chapterID string, highlights []store.Highlight) ([]store.Highlight, error)
	listAnnotationsFn        func(ctx context.Context, chapterID string) ([]store.Annotation, error)
	replaceAnnotationsFn     func(ctx context.Context, chapterID string, annotations []store.Annotation) error
}

func (f *fakeStore) CreateProject(ctx context.Context, p store.Project) (store.Project, error) {
	if f.createProjectFn != nil {
		return f.createProjectFn(ctx, p)
	}
	p.ID = "prj_test"
	return p, nil
}

func (f *fakeStore) GetProject(ctx context.Context, id string) (store.Project, error) {
	if f.getProjectFn != nil {
		return f.getProjectFn(ctx, id)
	}
	return store.Project{}, sql.ErrNoRows
}

func (f *fakeStore) ListProjects(ctx context.Context) ([]store.Project, error) {
	if f.listProjectsFn != nil {
		return f.listProjectsFn(ctx)
	}
	return nil, nil
}

func (f *fakeStore) UpdateProjectPhase(ctx context.Context, id, phase, errorMessage string) error {
	if f.updateProjectPhaseFn != nil {
		return f.updateProjectPhaseFn(ctx, id, phase, errorMessage)
	}
	return nil
}

func (f *fakeStore) UpdateProjectSettings(ctx context.Context, id string, name, sourceLang, targetLang *string) error {
	if f.updateProjectSettingsFn != nil {
		return f.updateProjectSettingsFn(ctx, id, name, sourceLang, targetLang)
	}
	return nil
}

func (f *fakeStore) SetSampleChapterIndex(ctx context.Context, id string, index int) error {
	if f.setSampleChapterIndexFn != nil {
		return f.setSampleChapterIndexFn(ctx, id, index)
	}
	return nil
}

func (f *fakeStore) SetNumberingMode(ctx context.Context, id, mode string, force bool) error {
	if f.setNumberingModeFn != nil {
		return f.setNumberingModeFn(ctx, id, mode, force)
	}
	return nil
}

func (f *fakeStore) SetNameMap(ctx context.Context, id string, nameMap json.RawMessage) error {
	if f.setNameMapFn != nil {
		return f.setNameMapFn(ctx, id, nameMap)
	}
	return nil
}

func (f *fakeStore) DeleteProject(ctx context.Context, id string) error {
	if f.deleteProjectFn != nil {
		return f.deleteProjectFn(ctx, id)
	}
	return nil
}

func (f *fakeStore) InsertChapters(ctx context.Context, projectID string, chapters []store.Chapter) ([]store.Chapter, error) {
	if f.insertChaptersFn != nil {
		return f.insertChaptersFn(ctx, projectID, chapters)
	}
	out := make([]store.Chapter, len(chapters))
	copy(out, chapters)
	for i := range out {
		out[i].ID = "ch_" + string(rune('a'+i))
		out[i].ProjectID = projectID
		out[i].Status = "pending"
	}
	return out, nil
}

func (f *fakeStore) GetChapter(ctx context.Context, id string) (store.Chapter, error) {
	if f.getChapterFn != nil {
		return f.getChapterFn(ctx, id)
	}
	return store.Chapter{}, sql.ErrNoRows
}

func (f *fakeStore) ListChapters(ctx context.Context, projectID string) ([]store.Chapter, error) {
	if f.listChaptersFn != nil {
		return f.listChaptersFn(ctx, projectID)
	}
	return nil, nil
}

func (f *fakeStore) UpdateChapterStatus(ctx context.Context, id, status string) error {
	if f.updateChapterStatusFn != nil {
		return f.updateChapterStatusFn(ctx, id, status)
	}
	return nil
}

func (f *fakeStore) UpdateChapterTitles(ctx context.Context, id string, title, translatedTitle *string) error {
	if f.updateChapterTitlesFn != nil {
		return f.updateChapterTitlesFn(ctx, id, title, translatedTitle)
	}
	return nil
}

func (f *fakeStore) SetBodyNumbers(ctx context.Context, projectID string, numbers map[string]int) error {
	if f.setBodyNumbersFn != nil {
		return f.setBodyNumbersFn(ctx, projectID, numbers)
	}
	return nil
}

func (f *fakeStore) RecordTranslation(ctx context.Context, chapterID, content, feedback string, strategyVersion *int) (store.TranslationVersion, error) {
	if f.recordTranslationFn != nil {
		return f.recordTranslationFn(ctx, chapterID, content, feedback, strategyVersion)
	}
	return store.TranslationVersion{ChapterID: chapterID, Version: 1, Content: content}, nil
}

func (f *fakeStore) RestoreTranslation(ctx context.Context, chapterID string, version int) (store.TranslationVersion, error) {
	if f.restoreTranslationFn != nil {
		return f.restoreTranslationFn(ctx, chapterID, version)
	}
	return store.TranslationVersion{}, store.ErrVersionNotFound
}

func (f *fakeStore) ListTranslationVersions(ctx context.Context, chapterID string) ([]store.TranslationVersion, error) {
	if f.listTranslationVersion != nil {
		return f.listTranslationVersion(ctx, chapterID)
	}
	return nil, nil
}

func (f *fakeStore) RecordStrategy(ctx context.Context, projectID string, content json.RawMessage, feedback string) (store.StrategyVersion, error) {
	if f.recordStrategyFn != nil {
		return f.recordStrategyFn(ctx, projectID, content, feedback)
	}
	return store.StrategyVersion{ProjectID: projectID, Version: 1, Content: content, Current: true}, nil
}

func (f *fakeStore) RestoreStrategy(ctx context.Context, projectID string, version int) (store.StrategyVersion, error) {
	if f.restoreStrategyFn != nil {
		return f.restoreStrategyFn(ctx, projectID, version)
	}
	return store.StrategyVersion{}, store.ErrVersionNotFound
}

func (f *fakeStore) ListStrategyVersions(ctx context.Context, projectID string) ([]store.StrategyVersion, error) {
	if f.listStrategyVersionsFn != nil {
		return f.listStrategyVersionsFn(ctx, projectID)
	}
	return nil, nil
}

func (f *fakeStore) CurrentStrategyVersion(ctx context.Context, projectID string) (store.StrategyVersion, error) {
	if f.currentStrategyVersionFn != nil {
		return f.currentStrategyVersionFn(ctx, projectID)
	}
	return store.StrategyVersion{}, store.ErrVersionNotFound
}

func (f *fakeStore) ListHighlights(ctx context.Context, chapterID string) ([]store.Highlight, error) {
	if f.listHighlightsFn != nil {
		return f.listHighlightsFn(ctx, chapterID)
	}
	return nil, nil
}

func (f *fakeStore) ReplaceHighlights(ctx context.Context, chapterID string, highlights []store.Highlight) ([]store.Highlight, error) {
	if f.replaceHighlightsFn != nil {
		return f.replaceHighlightsFn(ctx, chapterID, highlights)
	}
	return highlights, nil
}

func (f *fakeStore) ListAnnotations(ctx context.Context, chapterID string) ([]store.Annotation, error) {
	if f.listAnnotationsFn != nil {
		return f.listAnnotationsFn(ctx, chapterID)
	}
	return nil, nil
}

func (f *fakeStore) ReplaceAnnotations(ctx context.Context, chapterID string, annotations []store.Annotation) error {
	if f.replaceAnnotationsFn != nil {
		return f.replaceAnnotationsFn(ctx, chapterID, annotations)
	}
	return nil
}

// fakeBackend records calls and answers with canned values.
type fakeBackend struct {
	calls []string

	analyzeErr      error
	translateAllErr error
	strategy        backend.Strategy
	chapters        []backend.ChapterResult
	nameEntries     []backend.NameEntry

	translateAllRanges  [][2]int
	retranslateFeedback string
	retranslateOverride map[string]any
}

func (f *fakeBackend) record(name string) { f.calls = append(f.calls, name) }

func (f *fakeBackend) RegisterProject(ctx context.Context, projectID string, payload any) error {
	f.record("register")
	return nil
}

func (f *fakeBackend) DeleteProject(ctx context.Context, projectID string) error {
	f.record("delete")
	return nil
}

func (f *fakeBackend) Analyze(ctx context.Context, projectID string) error {
	f.record("analyze")
	return f.analyzeErr
}

func (f *fakeBackend) RefineAnalysis(ctx context.Context, projectID, feedback string) error {
	f.record("refine_analysis")
	return nil
}

func (f *fakeBackend) GetAnalysis(ctx context.Context, projectID string) (backend.Analysis, error) {
	f.record("get_analysis")
	return backend.Analysis{}, nil
}

func (f *fakeBackend) GenerateStrategy(ctx context.Context, projectID string) error {
	f.record("generate_strategy")
	return nil
}

func (f *fakeBackend) RefineStrategy(ctx context.Context, projectID, feedback string) error {
	f.record("refine_strategy")
	return nil
}

func (f *fakeBackend) GetStrategy(ctx context.Context, projectID string) (backend.Strategy, error) {
	f.record("get_strategy")
	return f.strategy, nil
}

func (f *fakeBackend) UpdateStrategy(ctx context.Context, projectID string, fields map[string]any) error {
	f.record("update_strategy")
	return nil
}

func (f *fakeBackend) TranslateSample(ctx context.Context, projectID string, chapterIndex int) error {
	f.record("translate_sample")
	return nil
}

func (f *fakeBackend) TranslateAll(ctx context.Context, projectID string, start, end int) error {
	f.record("translate_all")
	f.translateAllRanges = append(f.translateAllRanges, [2]int{start, end})
	return f.translateAllErr
}

func (f *fakeBackend) StopTranslation(ctx context.Context, projectID string) error {
	f.record("stop")
	return nil
}

func (f *fakeBackend) RetranslateChapter(ctx context.Context, projectID, chapterID, feedback string, overrides map[string]any) error {
	f.record("retranslate")
	f.retranslateFeedback = feedback
	f.retranslateOverride = overrides
	return nil
}

func (f *fakeBackend) TranslateTitles(ctx context.Context, projectID string) error {
	f.record("translate_titles")
	return nil
}

func (f *fakeBackend) RescanNames(ctx context.Context, projectID string) error {
	f.record("rescan_names")
	return nil
}

func (f *fakeBackend) NameMap(ctx context.Context, projectID string) ([]backend.NameEntry, error) {
	f.record("name_map")
	return f.nameEntries, nil
}

func (f *fakeBackend) Chapters(ctx context.Context, projectID string) ([]backend.ChapterResult, error) {
	f.record("chapters")
	return f.chapters, nil
}

func (f *fakeBackend) called(name string) bool {
	for _, c := range f.calls {
		if c == name {
			return true
		}
	}
	return false
}

func newTestService(st *fakeStore, jb *fakeBackend) *Service {
	return NewService(st, jb, nil, nil, nil, nil, nil)
}

func projectInPhase(id, phase string, chapterCount int) store.Project {
	return store.Project{
		ID:           id,
		Name:         "Test Book",
		Phase:        phase,
		ChapterCount: chapterCount,
	}
}

func TestCreateProjectRegistersWithBackend(t *testing.T) {
	st := &fakeStore{}
	jb := &fakeBackend{}
	svc := newTestService(st, jb)

	view, err := svc.CreateProject(context.Background(), CreateProjectRequest{
		Name: "Test Book",
		Chapters: []ChapterPayload{
			{Title: "One", Text: "first"},
			{Title: "Two", Text: "second"},
		},
	})
	if err != nil {
		t.Fatalf("CreateProject: %v", err)
	}
	if view.Phase != "uploaded" {
		t.Fatalf("phase = %q, want uploaded", view.Phase)
	}
	if !jb.called("register") {
		t.Fatal("backend registration not called")
	}
	if view.ChapterCount != 2 {
		t.Fatalf("chapter count = %d, want 2", view.ChapterCount)
	}
}

func TestCreateProjectRejectsEmpty(t *testing.T) {
	svc := newTestService(&fakeStore{}, &fakeBackend{})

	if _, err := svc.CreateProject(context.Background(), CreateProjectRequest{Name: "x"}); err == nil {
		t.Fatal("expected validation error for zero chapters")
	}
	_, err := svc.CreateProject(context.Background(), CreateProjectRequest{
		Chapters: []ChapterPayload{{Text: "a"}},
	})
	var domainErr *DomainError
	if !asDomainError(err, &domainErr) || domainErr.Code != "VALIDATION_ERROR" {
		t.Fatalf("expected VALIDATION_ERROR, got %v", err)
	}
}

func TestStartAnalysisGatedByPhase(t *testing.T) {
	st := &fakeStore{
		getProjectFn: func(ctx context.Context, id string) (store.Project, error) {
			return projectInPhase(id, "translating", 3), nil
		},
	}
	jb := &fakeBackend{}
	svc := newTestService(st, jb)

	err := svc.StartAnalysis(context.Background(), "prj_1")
	var domainErr *DomainError
	if !asDomainError(err, &domainErr) || domainErr.Code != "INVALID_PHASE" {
		t.Fatalf("expected INVALID_PHASE, got %v", err)
	}
	if jb.called("analyze") {
		t.Fatal("backend must not be called for an illegal transition")
	}
}

func TestStartAnalysisRevertsPhaseOnBackendFailure(t *testing.T) {
	var phases []string
	st := &fakeStore{
		getProjectFn: func(ctx context.Context, id string) (store.Project, error) {
			return projectInPhase(id, "uploaded", 3), nil
		},
		updateProjectPhaseFn: func(ctx context.Context, id, phase, errorMessage string) error {
			phases = append(phases, phase)
			return nil
		},
	}
	jb := &fakeBackend{analyzeErr: context.DeadlineExceeded}
	svc := newTestService(st, jb)

	err := svc.StartAnalysis(context.Background(), "prj_1")
	var domainErr *DomainError
	if !asDomainError(err, &domainErr) || domainErr.Code != "BACKEND_UNAVAILABLE" {
		t.Fatalf("expected BACKEND_UNAVAILABLE, got %v", err)
	}
	if len(phases) != 2 || phases[0] != "analyzing" || phases[1] != "uploaded" {
		t.Fatalf("phase writes = %v, want [analyzing uploaded]", phases)
	}
}

func TestTranslateAllRejectsInvertedRange(t *testing.T) {
	st := &fakeStore{
		getProjectFn: func(ctx context.Context, id string) (store.Project, error) {
			return projectInPhase(id, "sample_ready", 10), nil
		},
	}
	jb := &fakeBackend{}
	svc := newTestService(st, jb)

	err := svc.TranslateAll(context.Background(), "prj_1", 5, 2)
	var domainErr *DomainError
	if !asDomainError(err, &domainErr) || domainErr.Code != "VALIDATION_ERROR" {
		t.Fatalf("expected VALIDATION_ERROR, got %v", err)
	}
	if jb.called("translate_all") {
		t.Fatal("inverted range must be rejected before the backend call")
	}
}

func TestTranslateAllOpenEndedRange(t *testing.T) {
	st := &fakeStore{
		getProjectFn: func(ctx context.Context, id string) (store.Project, error) {
			return projectInPhase(id, "sample_ready", 10), nil
		},
	}
	jb := &fakeBackend{}
	svc := newTestService(st, jb)

	if err := svc.TranslateAll(context.Background(), "prj_1", 2, -1); err != nil {
		t.Fatalf("TranslateAll: %v", err)
	}
	if got := jb.translateAllRanges[0]; got != [2]int{2, -1} {
		t.Fatalf("range = %v, want [2 -1]", got)
	}
}

func TestContinueTranslationResumesRemainingRange(t *testing.T) {
	chapters := make([]store.Chapter, 12)
	for i := range chapters {
		chapters[i] = store.Chapter{
			ID:           "ch_" + string(rune('a'+i)),
			ChapterIndex: i,
			Status:       "pending",
		}
		// The run over [2,10] translated chapters 2..5 before the stop.
		if i >= 2 && i <= 5 {
			chapters[i].Status = "translated"
		}
	}
	st := &fakeStore{
		getProjectFn: func(ctx context.Context, id string) (store.Project, error) {
			return projectInPhase(id, "stopped", 12), nil
		},
		listChaptersFn: func(ctx context.Context, projectID string) ([]store.Chapter, error) {
			return chapters, nil
		},
	}
	jb := &fakeBackend{}
	svc := newTestService(st, jb)
	svc.mu.Lock()
	svc.ranges["prj_1"] = [2]int{2, 10}
	svc.mu.Unlock()

	if err := svc.ContinueTranslation(context.Background(), "prj_1"); err != nil {
		t.Fatalf("ContinueTranslation: %v", err)
	}
	if got := jb.translateAllRanges[0]; got != [2]int{6, 10} {
		t.Fatalf("resumed range = %v, want [6 10]", got)
	}
}

func TestContinueTranslationNothingLeft(t *testing.T) {
	st := &fakeStore{
		getProjectFn: func(ctx context.Context, id string) (store.Project, error) {
			return projectInPhase(id, "completed", 2), nil
		},
		listChaptersFn: func(ctx context.Context, projectID string) ([]store.Chapter, error) {
			return []store.Chapter{
				{ID: "ch_a", ChapterIndex: 0, Status: "translated"},
				{ID: "ch_b", ChapterIndex: 1, Status: "translated"},
			}, nil
		},
	}
	jb := &fakeBackend{}
	svc := newTestService(st, jb)

	err := svc.ContinueTranslation(context.Background(), "prj_1")
	var domainErr *DomainError
	if !asDomainError(err, &domainErr) || domainErr.Code != "VALIDATION_ERROR" {
		t.Fatalf("expected VALIDATION_ERROR, got %v", err)
	}
	if jb.called("translate_all") {
		t.Fatal("no backend call when nothing remains")
	}
}

func TestStopTranslationOnlyWhileTranslating(t *testing.T) {
	st := &fakeStore{
		getProjectFn: func(ctx context.Context, id string) (store.Project, error) {
			return projectInPhase(id, "analyzed", 3), nil
		},
	}
	jb := &fakeBackend{}
	svc := newTestService(st, jb)

	err := svc.StopTranslation(context.Background(), "prj_1")
	var domainErr *DomainError
	if !asDomainError(err, &domainErr) || domainErr.Code != "INVALID_PHASE" {
		t.Fatalf("expected INVALID_PHASE, got %v", err)
	}
}

func TestRecoverReturnsToLastSafePhase(t *testing.T) {
	var gotPhase, gotMessage string
	st := &fakeStore{
		getProjectFn: func(ctx context.Context, id string) (store.Project, error) {
			p := projectInPhase(id, "error", 3)
			p.LastSafePhase = "sample_ready"
			p.ErrorMessage = "model quota exhausted"
			return p, nil
		},
		updateProjectPhaseFn: func(ctx context.Context, id, phase, errorMessage string) error {
			gotPhase, gotMessage = phase, errorMessage
			return nil
		},
	}
	svc := newTestService(st, &fakeBackend{})

	if _, err := svc.Recover(context.Background(), "prj_1"); err != nil {
		t.Fatalf("Recover: %v", err)
	}
	if gotPhase != "sample_ready" {
		t.Fatalf("recovered to %q, want sample_ready", gotPhase)
	}
	if gotMessage != "" {
		t.Fatalf("error message = %q, want cleared", gotMessage)
	}
}

func TestRecoverFloorsAtAnalyzed(t *testing.T) {
	var gotPhase string
	st := &fakeStore{
		getProjectFn: func(ctx context.Context, id string) (store.Project, error) {
			return projectInPhase(id, "error", 3), nil
		},
		updateProjectPhaseFn: func(ctx context.Context, id, phase, errorMessage string) error {
			gotPhase = phase
			return nil
		},
	}
	svc := newTestService(st, &fakeBackend{})

	if _, err := svc.Recover(context.Background(), "prj_1"); err != nil {
		t.Fatalf("Recover: %v", err)
	}
	if gotPhase != "analyzed" {
		t.Fatalf("recovered to %q, want the analyzed floor", gotPhase)
	}
}

func TestRecoverOnlyFromError(t *testing.T) {
	st := &fakeStore{
		getProjectFn: func(ctx context.Context, id string) (store.Project, error) {
			return projectInPhase(id, "translating", 3), nil
		},
	}
	svc := newTestService(st, &fakeBackend{})

	_, err := svc.Recover(context.Background(), "prj_1")
	var domainErr *DomainError
	if !asDomainError(err, &domainErr) || domainErr.Code != "INVALID_PHASE" {
		t.Fatalf("expected INVALID_PHASE, got %v", err)
	}
}

func TestRetranslateForwardsFeedbackToBackend(t *testing.T) {
	st := &fakeStore{
		getProjectFn: func(ctx context.Context, id string) (store.Project, error) {
			return projectInPhase(id, "completed", 3), nil
		},
		getChapterFn: func(ctx context.Context, id string) (store.Chapter, error) {
			return store.Chapter{ID: id, ProjectID: "prj_1", ChapterIndex: 1}, nil
		},
	}
	jb := &fakeBackend{}
	svc := newTestService(st, jb)

	overrides := map[string]any{"tone_and_style": "drier"}
	err := svc.RetranslateChapter(context.Background(), "prj_1", "ch_b", "less literal", overrides)
	if err != nil {
		t.Fatalf("RetranslateChapter: %v", err)
	}
	if !jb.called("retranslate") {
		t.Fatal("backend retranslate was never called")
	}
	if jb.retranslateFeedback != "less literal" {
		t.Fatalf("backend feedback = %q, want the caller's", jb.retranslateFeedback)
	}
	if jb.retranslateOverride["tone_and_style"] != "drier" {
		t.Fatalf("backend overrides = %v, want tone_and_style=drier", jb.retranslateOverride)
	}
}

func TestSettleRecordsStrategyVersion(t *testing.T) {
	var recorded []string
	st := &fakeStore{
		getProjectFn: func(ctx context.Context, id string) (store.Project, error) {
			return projectInPhase(id, "generating_strategy", 3), nil
		},
		recordStrategyFn: func(ctx context.Context, projectID string, content json.RawMessage, feedback string) (store.StrategyVersion, error) {
			recorded = append(recorded, feedback)
			return store.StrategyVersion{ProjectID: projectID, Version: 1, Content: content, Current: true}, nil
		},
	}
	jb := &fakeBackend{strategy: backend.Strategy{ToneAndStyle: "literary"}}
	svc := newTestService(st, jb)
	svc.setFeedback("prj_1", "more formal")

	svc.OnPhaseSettled(context.Background(), "prj_1", backend.Status{Status: "strategy_generated"})

	if len(recorded) != 1 {
		t.Fatalf("strategy versions recorded = %d, want 1", len(recorded))
	}
	if recorded[0] != "more formal" {
		t.Fatalf("feedback = %q, want the pending refine feedback", recorded[0])
	}
}

func TestSettleRecordsTranslationsWithStrategyLink(t *testing.T) {
	type recordedVersion struct {
		chapterID string
		strategy  *int
	}
	var versions []recordedVersion
	st := &fakeStore{
		getProjectFn: func(ctx context.Context, id string) (store.Project, error) {
			return projectInPhase(id, "translating", 2), nil
		},
		listChaptersFn: func(ctx context.Context, projectID string) ([]store.Chapter, error) {
			return []store.Chapter{
				{ID: "ch_a", ChapterIndex: 0, Status: "pending"},
				{ID: "ch_b", ChapterIndex: 1, Status: "translated", TranslatedText: "already done"},
			}, nil
		},
		currentStrategyVersionFn: func(ctx context.Context, projectID string) (store.StrategyVersion, error) {
			return store.StrategyVersion{ProjectID: projectID, Version: 4, Current: true}, nil
		},
		recordTranslationFn: func(ctx context.Context, chapterID, content, feedback string, strategyVersion *int) (store.TranslationVersion, error) {
			versions = append(versions, recordedVersion{chapterID: chapterID, strategy: strategyVersion})
			return store.TranslationVersion{ChapterID: chapterID, Version: 1, Content: content}, nil
		},
	}
	jb := &fakeBackend{chapters: []backend.ChapterResult{
		{ChapterIndex: 0, Status: "translated", TranslatedText: "fresh translation"},
		{ChapterIndex: 1, Status: "translated", TranslatedText: "already done"},
	}}
	svc := newTestService(st, jb)

	svc.OnPhaseSettled(context.Background(), "prj_1", backend.Status{Status: "completed"})

	if len(versions) != 1 {
		t.Fatalf("versions recorded = %d, want 1 (unchanged text must not fork a version)", len(versions))
	}
	if versions[0].chapterID != "ch_a" {
		t.Fatalf("version recorded for %q, want ch_a", versions[0].chapterID)
	}
	if versions[0].strategy == nil || *versions[0].strategy != 4 {
		t.Fatalf("strategy link = %v, want 4", versions[0].strategy)
	}
}

func TestSettlePersistsErrorMessage(t *testing.T) {
	var gotPhase, gotMessage string
	st := &fakeStore{
		updateProjectPhaseFn: func(ctx context.Context, id, phase, errorMessage string) error {
			gotPhase, gotMessage = phase, errorMessage
			return nil
		},
	}
	svc := newTestService(st, &fakeBackend{})

	svc.OnPhaseSettled(context.Background(), "prj_1", backend.Status{
		Status:       "error",
		ErrorMessage: "model quota exhausted",
	})

	if gotPhase != "error" || gotMessage != "model quota exhausted" {
		t.Fatalf("persisted (%q, %q), want (error, model quota exhausted)", gotPhase, gotMessage)
	}
}

func renumberFixture(chapters []store.Chapter, gotMode *string, gotNumbers *map[string]int) *fakeStore {
	return &fakeStore{
		getProjectFn: func(ctx context.Context, id string) (store.Project, error) {
			return projectInPhase(id, "analyzed", len(chapters)), nil
		},
		listChaptersFn: func(ctx context.Context, projectID string) ([]store.Chapter, error) {
			return chapters, nil
		},
		setNumberingModeFn: func(ctx context.Context, id, mode string, force bool) error {
			*gotMode = mode
			return nil
		},
		setBodyNumbersFn: func(ctx context.Context, projectID string, numbers map[string]int) error {
			*gotNumbers = numbers
			return nil
		},
	}
}

func TestRenumberDetectsPerPartFromRestartingTitles(t *testing.T) {
	chapters := []store.Chapter{
		{ID: "fm", ChapterIndex: 0, Title: "Foreword", ChapterType: store.ChapterFrontMatter},
		{ID: "p1", ChapterIndex: 1, Title: "Part I", ChapterType: store.ChapterPartDivider},
		{ID: "c1", ChapterIndex: 2, Title: "Chapter 1: Landfall", ChapterType: store.ChapterBody},
		{ID: "c2", ChapterIndex: 3, Title: "Chapter 2: The Crossing", ChapterType: store.ChapterBody},
		{ID: "p2", ChapterIndex: 4, Title: "Part II", ChapterType: store.ChapterPartDivider},
		{ID: "c3", ChapterIndex: 5, Title: "Chapter 1: Ashes", ChapterType: store.ChapterBody},
		{ID: "bm", ChapterIndex: 6, Title: "Afterword", ChapterType: store.ChapterBackMatter},
	}
	var gotMode string
	var gotNumbers map[string]int
	svc := newTestService(renumberFixture(chapters, &gotMode, &gotNumbers), &fakeBackend{})

	if _, err := svc.Renumber(context.Background(), "prj_1", "", false); err != nil {
		t.Fatalf("Renumber: %v", err)
	}
	if gotMode != store.NumberingPerPart {
		t.Fatalf("detected mode = %q, want per_part", gotMode)
	}
	want := map[string]int{"p1": 1, "c1": 1, "c2": 2, "p2": 2, "c3": 1}
	for id, n := range want {
		if gotNumbers[id] != n {
			t.Fatalf("number for %s = %d, want %d (all: %v)", id, gotNumbers[id], n, gotNumbers)
		}
	}
	if _, numbered := gotNumbers["fm"]; numbered {
		t.Fatal("front matter must stay unnumbered")
	}
}

func TestRenumberKeepsContinuousAcrossParts(t *testing.T) {
	// Parts alone do not imply per_part numbering; the chapter numbers
	// in the titles run straight through.
	chapters := []store.Chapter{
		{ID: "p1", ChapterIndex: 0, Title: "Part I", ChapterType: store.ChapterPartDivider},
		{ID: "c1", ChapterIndex: 1, Title: "Chapter 1", ChapterType: store.ChapterBody},
		{ID: "c2", ChapterIndex: 2, Title: "Chapter 2", ChapterType: store.ChapterBody},
		{ID: "p2", ChapterIndex: 3, Title: "Part II", ChapterType: store.ChapterPartDivider},
		{ID: "c3", ChapterIndex: 4, Title: "Chapter 3", ChapterType: store.ChapterBody},
	}
	var gotMode string
	var gotNumbers map[string]int
	svc := newTestService(renumberFixture(chapters, &gotMode, &gotNumbers), &fakeBackend{})

	if _, err := svc.Renumber(context.Background(), "prj_1", "", false); err != nil {
		t.Fatalf("Renumber: %v", err)
	}
	if gotMode != store.NumberingContinuous {
		t.Fatalf("detected mode = %q, want continuous", gotMode)
	}
	want := map[string]int{"p1": 1, "c1": 1, "c2": 2, "p2": 2, "c3": 3}
	for id, n := range want {
		if gotNumbers[id] != n {
			t.Fatalf("number for %s = %d, want %d (all: %v)", id, gotNumbers[id], n, gotNumbers)
		}
	}
}

func TestRenumberUntitledChaptersStayContinuous(t *testing.T) {
	chapters := []store.Chapter{
		{ID: "p1", ChapterIndex: 0, ChapterType: store.ChapterPartDivider},
		{ID: "c1", ChapterIndex: 1, ChapterType: store.ChapterBody},
		{ID: "p2", ChapterIndex: 2, ChapterType: store.ChapterPartDivider},
		{ID: "c2", ChapterIndex: 3, ChapterType: store.ChapterBody},
	}
	if mode := detectNumberingMode(chapters); mode != store.NumberingContinuous {
		t.Fatalf("detected mode = %q, want continuous when no titles carry numbers", mode)
	}
	numbers := bodyNumbers(chapters, store.NumberingContinuous)
	if numbers["c1"] != 1 || numbers["c2"] != 2 {
		t.Fatalf("continuous numbering = %v, want c1=1 c2=2", numbers)
	}
	if numbers["p1"] != 1 || numbers["p2"] != 2 {
		t.Fatalf("part numbering = %v, want p1=1 p2=2", numbers)
	}
}

func TestBodyNumbersFollowTitleOrdinals(t *testing.T) {
	chapters := []store.Chapter{
		{ID: "p1", Title: "第一部", ChapterType: store.ChapterPartDivider},
		{ID: "c1", Title: "第十一章 回声", ChapterType: store.ChapterBody},
		{ID: "c2", ChapterType: store.ChapterBody},
	}
	numbers := bodyNumbers(chapters, store.NumberingPerPart)
	if numbers["p1"] != 1 {
		t.Fatalf("part number = %d, want 1", numbers["p1"])
	}
	if numbers["c1"] != 11 {
		t.Fatalf("titled chapter = %d, want the title's 11", numbers["c1"])
	}
	if numbers["c2"] != 12 {
		t.Fatalf("untitled follower = %d, want 12", numbers["c2"])
	}
}

func TestProgressFallsBackToStoredCounts(t *testing.T) {
	st := &fakeStore{
		getProjectFn: func(ctx context.Context, id string) (store.Project, error) {
			p := projectInPhase(id, "stopped", 10)
			p.TranslatedCount = 4
			return p, nil
		},
	}
	svc := newTestService(st, &fakeBackend{})

	view, err := svc.Progress(context.Background(), "prj_1")
	if err != nil {
		t.Fatalf("Progress: %v", err)
	}
	if view.Fraction != 0.4 {
		t.Fatalf("fraction = %v, want 0.4", view.Fraction)
	}
	if view.Phase != "stopped" {
		t.Fatalf("phase = %q, want stopped", view.Phase)
	}
}

func asDomainError(err error, target **DomainError) bool {
	return errors.As(err, target)
}

func TestRestoreChapterVersionReindexes(t *testing.T) {
	var restoredVersion int
	st := &fakeStore{
		restoreTranslationFn: func(ctx context.Context, chapterID string, version int) (store.TranslationVersion, error) {
			restoredVersion = version
			return store.TranslationVersion{ChapterID: chapterID, Version: 5, Content: "old text", RestoredFrom: &version}, nil
		},
	}
	svc := newTestService(st, &fakeBackend{})

	v, err := svc.RestoreChapterVersion(context.Background(), "ch_a", 2)
	if err != nil {
		t.Fatalf("RestoreChapterVersion: %v", err)
	}
	if restoredVersion != 2 {
		t.Fatalf("restored source = %d, want 2", restoredVersion)
	}
	if v.Version != 5 || v.RestoredFrom == nil || *v.RestoredFrom != 2 {
		t.Fatalf("restore must append a new version pointing at its source, got %+v", v)
	}
}

func TestRemainingRangeBoundaries(t *testing.T) {
	chapters := []store.Chapter{
		{ChapterIndex: 0, Status: "translated"},
		{ChapterIndex: 1, Status: "translated"},
		{ChapterIndex: 2, Status: "pending"},
	}
	if start, end := remainingRange(chapters, 0, -1); start != 2 || end != 2 {
		t.Fatalf("open-ended remaining = [%d %d], want [2 2]", start, end)
	}
	if start, _ := remainingRange(chapters, 0, 1); start != -1 {
		t.Fatalf("fully-translated window should report done, got start=%d", start)
	}
}
