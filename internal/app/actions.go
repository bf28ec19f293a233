package app

import (
	"context"
	"encoding/json"
	"log"

	"github.com/eveshi/bitranslator/internal/backend"
	"github.com/eveshi/bitranslator/internal/jobsync"
	"github.com/eveshi/bitranslator/internal/pipeline"
	"github.com/eveshi/bitranslator/internal/store"
)

// ── Pipeline actions ────────────────────────────────────────────────────

func (s *Service) StartAnalysis(ctx context.Context, projectID string) error {
	project, err := s.store.GetProject(ctx, projectID)
	if err != nil {
		return err
	}
	if err := s.transition(ctx, project, pipeline.PhaseAnalyzing, "start analysis"); err != nil {
		return err
	}
	if err := s.backend.Analyze(ctx, projectID); err != nil {
		s.revertPhase(ctx, project)
		return errBackend(err)
	}
	s.startPolling(projectID)
	return nil
}

func (s *Service) RefineAnalysis(ctx context.Context, projectID, feedback string) error {
	if feedback == "" {
		return errValidation("feedback is required")
	}
	project, err := s.store.GetProject(ctx, projectID)
	if err != nil {
		return err
	}
	if err := s.transition(ctx, project, pipeline.PhaseAnalyzing, "refine analysis"); err != nil {
		return err
	}
	if err := s.backend.RefineAnalysis(ctx, projectID, feedback); err != nil {
		s.revertPhase(ctx, project)
		return errBackend(err)
	}
	s.startPolling(projectID)
	return nil
}

func (s *Service) GetAnalysis(ctx context.Context, projectID string) (backend.Analysis, error) {
	if _, err := s.store.GetProject(ctx, projectID); err != nil {
		return backend.Analysis{}, err
	}
	analysis, err := s.backend.GetAnalysis(ctx, projectID)
	if err != nil {
		return backend.Analysis{}, errBackend(err)
	}
	return analysis, nil
}

func (s *Service) GenerateStrategy(ctx context.Context, projectID string) error {
	project, err := s.store.GetProject(ctx, projectID)
	if err != nil {
		return err
	}
	if err := s.transition(ctx, project, pipeline.PhaseGeneratingStrategy, "generate strategy"); err != nil {
		return err
	}
	if err := s.backend.GenerateStrategy(ctx, projectID); err != nil {
		s.revertPhase(ctx, project)
		return errBackend(err)
	}
	s.setFeedback(projectID, "")
	s.startPolling(projectID)
	return nil
}

func (s *Service) RefineStrategy(ctx context.Context, projectID, feedback string) error {
	if feedback == "" {
		return errValidation("feedback is required")
	}
	project, err := s.store.GetProject(ctx, projectID)
	if err != nil {
		return err
	}
	if err := s.transition(ctx, project, pipeline.PhaseGeneratingStrategy, "refine strategy"); err != nil {
		return err
	}
	if err := s.backend.RefineStrategy(ctx, projectID, feedback); err != nil {
		s.revertPhase(ctx, project)
		return errBackend(err)
	}
	s.setFeedback(projectID, feedback)
	s.startPolling(projectID)
	return nil
}

func (s *Service) GetStrategy(ctx context.Context, projectID string) (backend.Strategy, error) {
	if _, err := s.store.GetProject(ctx, projectID); err != nil {
		return backend.Strategy{}, err
	}
	strategy, err := s.backend.GetStrategy(ctx, projectID)
	if err != nil {
		return backend.Strategy{}, errBackend(err)
	}
	return strategy, nil
}

// UpdateStrategy pushes manual edits straight to the backend. No version
// is recorded here; versions capture completed generations only.
func (s *Service) UpdateStrategy(ctx context.Context, projectID string, fields map[string]any) error {
	if len(fields) == 0 {
		return errValidation("no strategy fields to update")
	}
	if _, err := s.store.GetProject(ctx, projectID); err != nil {
		return err
	}
	if err := s.backend.UpdateStrategy(ctx, projectID, fields); err != nil {
		return errBackend(err)
	}
	return nil
}

// TranslateSample starts a sample-excerpt run. chapterIndex < 0 keeps
// the project's stored sample chapter.
func (s *Service) TranslateSample(ctx context.Context, projectID string, chapterIndex int) error {
	project, err := s.store.GetProject(ctx, projectID)
	if err != nil {
		return err
	}
	if chapterIndex >= 0 && chapterIndex >= project.ChapterCount {
		return errValidation("sample chapter index out of range")
	}
	if err := s.transition(ctx, project, pipeline.PhaseTranslatingSample, "translate sample"); err != nil {
		return err
	}
	if err := s.backend.TranslateSample(ctx, projectID, chapterIndex); err != nil {
		s.revertPhase(ctx, project)
		return errBackend(err)
	}
	if chapterIndex >= 0 {
		if err := s.store.SetSampleChapterIndex(ctx, projectID, chapterIndex); err != nil {
			log.Printf("app: set sample chapter %s: %v", projectID, err)
		}
	}
	s.startPolling(projectID)
	return nil
}

// TranslateAll starts a full run over the inclusive 0-based range
// [start, end]; end = -1 means through the last chapter. The range is
// validated here so an inverted request never reaches the backend.
func (s *Service) TranslateAll(ctx context.Context, projectID string, start, end int) error {
	project, err := s.store.GetProject(ctx, projectID)
	if err != nil {
		return err
	}
	if start < 0 {
		return errValidation("start_chapter must be >= 0")
	}
	if end != -1 && end < start {
		return errValidation("end_chapter must be >= start_chapter")
	}
	if start >= project.ChapterCount {
		return errValidation("start_chapter out of range")
	}
	if err := s.transition(ctx, project, pipeline.PhaseTranslating, "start translation"); err != nil {
		return err
	}
	if err := s.backend.TranslateAll(ctx, projectID, start, end); err != nil {
		s.revertPhase(ctx, project)
		return errBackend(err)
	}
	s.mu.Lock()
	s.ranges[projectID] = [2]int{start, end}
	delete(s.progress, projectID)
	s.mu.Unlock()
	s.startPolling(projectID)
	return nil
}

// ContinueTranslation resumes a stopped or completed run over exactly
// the chapters of the previous range that are still untranslated.
func (s *Service) ContinueTranslation(ctx context.Context, projectID string) error {
	project, err := s.store.GetProject(ctx, projectID)
	if err != nil {
		return err
	}
	phase, err := s.parsePhase(project)
	if err != nil {
		return err
	}
	if !s.machine.Resumable(phase) {
		return errInvalidPhase(string(phase), "continue translation")
	}

	chapters, err := s.store.ListChapters(ctx, projectID)
	if err != nil {
		return err
	}
	s.mu.Lock()
	prev, ok := s.ranges[projectID]
	s.mu.Unlock()
	if !ok {
		prev = [2]int{0, -1}
	}
	start, end := remainingRange(chapters, prev[0], prev[1])
	if start == -1 {
		return errValidation("nothing left to translate in the previous range")
	}
	return s.TranslateAll(ctx, projectID, start, end)
}

// remainingRange returns the first untranslated chapter index within
// [start, end] and the original end, or (-1, -1) when the range is done.
func remainingRange(chapters []store.Chapter, start, end int) (int, int) {
	if end == -1 && len(chapters) > 0 {
		end = chapters[len(chapters)-1].ChapterIndex
	}
	for _, c := range chapters {
		if c.ChapterIndex < start || c.ChapterIndex > end {
			continue
		}
		if c.Status != "translated" {
			return c.ChapterIndex, end
		}
	}
	return -1, -1
}

func (s *Service) StopTranslation(ctx context.Context, projectID string) error {
	project, err := s.store.GetProject(ctx, projectID)
	if err != nil {
		return err
	}
	phase, err := s.parsePhase(project)
	if err != nil {
		return err
	}
	if !s.machine.Pausable(phase) {
		return errInvalidPhase(string(phase), "stop translation")
	}
	if err := s.backend.StopTranslation(ctx, projectID); err != nil {
		return errBackend(err)
	}
	// The backend finishes its current chunk before stopping; the poll
	// loop observes the settled phase and records what was translated.
	return nil
}

// Recover moves an errored project back to the last phase it safely
// reached and clears the error message. Analyzed is the floor: a project
// that never got past analysis re-enters the review queue there.
func (s *Service) Recover(ctx context.Context, projectID string) (ProjectView, error) {
	project, err := s.store.GetProject(ctx, projectID)
	if err != nil {
		return ProjectView{}, err
	}
	phase, err := s.parsePhase(project)
	if err != nil {
		return ProjectView{}, err
	}
	if phase != pipeline.PhaseError {
		return ProjectView{}, errInvalidPhase(string(phase), "recover")
	}
	// An unparseable or empty last_safe_phase falls through to the floor.
	lastSafe, _ := pipeline.Parse(project.LastSafePhase)
	target := s.machine.RecoveryTarget(lastSafe)
	if err := s.store.UpdateProjectPhase(ctx, projectID, string(target), ""); err != nil {
		return ProjectView{}, err
	}
	return s.GetProject(ctx, projectID)
}

func (s *Service) RetranslateChapter(ctx context.Context, projectID, chapterID, feedback string, overrides map[string]any) error {
	project, err := s.store.GetProject(ctx, projectID)
	if err != nil {
		return err
	}
	ch, err := s.store.GetChapter(ctx, chapterID)
	if err != nil {
		return err
	}
	if ch.ProjectID != projectID {
		return errValidation("chapter does not belong to this project")
	}
	if err := s.transition(ctx, project, pipeline.PhaseTranslating, "retranslate chapter"); err != nil {
		return err
	}
	if err := s.backend.RetranslateChapter(ctx, projectID, chapterID, feedback, overrides); err != nil {
		s.revertPhase(ctx, project)
		return errBackend(err)
	}
	s.mu.Lock()
	s.ranges[projectID] = [2]int{ch.ChapterIndex, ch.ChapterIndex}
	s.mu.Unlock()
	// Kept locally too so the version recorded at settle carries it.
	s.setFeedback(projectID, feedback)
	s.startPolling(projectID)
	return nil
}

func (s *Service) TranslateTitles(ctx context.Context, projectID string) error {
	if _, err := s.store.GetProject(ctx, projectID); err != nil {
		return err
	}
	if err := s.backend.TranslateTitles(ctx, projectID); err != nil {
		return errBackend(err)
	}
	// Title translation is quick and does not change the pipeline phase;
	// pull the results in directly.
	return s.pullChapterResults(ctx, projectID, false)
}

// ── Progress ────────────────────────────────────────────────────────────

type ProgressView struct {
	ProjectID          string  `json:"project_id"`
	Phase              string  `json:"phase"`
	Fraction           float64 `json:"fraction"`
	TotalChapters      int     `json:"total_chapters"`
	TranslatedChapters int     `json:"translated_chapters"`
	CurrentChapter     string  `json:"current_chapter,omitempty"`
	ChunkDone          int     `json:"chunk_done,omitempty"`
	ChunkTotal         int     `json:"chunk_total,omitempty"`
	ErrorMessage       string  `json:"error_message,omitempty"`
}

func (s *Service) Progress(ctx context.Context, projectID string) (ProgressView, error) {
	project, err := s.store.GetProject(ctx, projectID)
	if err != nil {
		return ProgressView{}, err
	}
	view := ProgressView{
		ProjectID:          projectID,
		Phase:              project.Phase,
		TotalChapters:      project.ChapterCount,
		TranslatedChapters: project.TranslatedCount,
		ErrorMessage:       project.ErrorMessage,
	}
	s.mu.Lock()
	snap, ok := s.progress[projectID]
	s.mu.Unlock()
	if ok {
		view.Fraction = snap.Fraction
		view.CurrentChapter = snap.CurrentChapter
		view.ChunkDone = snap.ChunkDone
		view.ChunkTotal = snap.ChunkTotal
		if snap.TotalChapters > 0 {
			view.TotalChapters = snap.TotalChapters
			view.TranslatedChapters = snap.TranslatedChapters
		}
	} else if project.ChapterCount > 0 {
		view.Fraction = float64(project.TranslatedCount) / float64(project.ChapterCount)
	}
	return view, nil
}

// ── Poll handoff (jobsync.Handler) ──────────────────────────────────────

func (s *Service) OnProgress(ctx context.Context, projectID string, snap jobsync.Snapshot) {
	s.mu.Lock()
	s.progress[projectID] = snap
	s.mu.Unlock()
}

// OnPhaseSettled runs once when a backend job finishes. It persists the
// new phase and performs the phase-entry work: pulling results, recording
// versions, refreshing caches and indexes.
func (s *Service) OnPhaseSettled(ctx context.Context, projectID string, status backend.Status) {
	phase, err := pipeline.Parse(status.Status)
	if err != nil {
		log.Printf("app: settle %s: %v", projectID, err)
		return
	}

	if err := s.store.UpdateProjectPhase(ctx, projectID, string(phase), status.ErrorMessage); err != nil {
		log.Printf("app: settle %s: persist phase: %v", projectID, err)
		return
	}

	switch phase {
	case pipeline.PhaseAnalyzed:
		// Warm the analysis so the first read after settling is instant
		// and a half-written document surfaces here, not in the UI.
		if _, err := s.backend.GetAnalysis(ctx, projectID); err != nil {
			log.Printf("app: refresh analysis %s: %v", projectID, err)
		}
	case pipeline.PhaseStrategyGenerated:
		s.recordGeneratedStrategy(ctx, projectID)
	case pipeline.PhaseSampleReady, pipeline.PhaseStopped, pipeline.PhaseCompleted:
		if err := s.pullChapterResults(ctx, projectID, true); err != nil {
			log.Printf("app: settle %s: pull results: %v", projectID, err)
		}
	case pipeline.PhaseError:
		log.Printf("app: project %s failed: %s", projectID, status.ErrorMessage)
	}
}

// recordGeneratedStrategy fetches the freshly generated strategy and
// appends it to the version history. This is the only place strategy
// versions are created from generation output.
func (s *Service) recordGeneratedStrategy(ctx context.Context, projectID string) {
	strategy, err := s.backend.GetStrategy(ctx, projectID)
	if err != nil {
		log.Printf("app: fetch strategy %s: %v", projectID, err)
		return
	}
	content, err := json.Marshal(strategy)
	if err != nil {
		log.Printf("app: encode strategy %s: %v", projectID, err)
		return
	}
	s.mu.Lock()
	feedback := s.feedback[projectID]
	delete(s.feedback, projectID)
	s.mu.Unlock()
	if _, err := s.store.RecordStrategy(ctx, projectID, content, feedback); err != nil {
		log.Printf("app: record strategy %s: %v", projectID, err)
	}
}

// pullChapterResults syncs backend chapter state into the store. With
// recordVersions set, any chapter whose backend text differs from the
// live text gets a new translation version linked to the current
// strategy.
func (s *Service) pullChapterResults(ctx context.Context, projectID string, recordVersions bool) error {
	results, err := s.backend.Chapters(ctx, projectID)
	if err != nil {
		return errBackend(err)
	}
	local, err := s.store.ListChapters(ctx, projectID)
	if err != nil {
		return err
	}
	byIndex := make(map[int]store.Chapter, len(local))
	for _, c := range local {
		byIndex[c.ChapterIndex] = c
	}

	var strategyVersion *int
	var feedback string
	if recordVersions {
		if current, err := s.store.CurrentStrategyVersion(ctx, projectID); err == nil {
			v := current.Version
			strategyVersion = &v
		}
		s.mu.Lock()
		feedback = s.feedback[projectID]
		delete(s.feedback, projectID)
		s.mu.Unlock()
	}

	var touched []string
	for _, r := range results {
		ch, ok := byIndex[r.ChapterIndex]
		if !ok {
			continue
		}
		if r.TranslatedTitle != "" && r.TranslatedTitle != ch.TranslatedTitle {
			if err := s.store.UpdateChapterTitles(ctx, ch.ID, nil, &r.TranslatedTitle); err != nil {
				log.Printf("app: update title %s: %v", ch.ID, err)
			}
			touched = append(touched, ch.ID)
		}

		switch {
		case recordVersions && r.Status == "translated" && r.TranslatedText != "" && r.TranslatedText != ch.TranslatedText:
			if _, err := s.store.RecordTranslation(ctx, ch.ID, r.TranslatedText, feedback, strategyVersion); err != nil {
				log.Printf("app: record translation %s: %v", ch.ID, err)
				continue
			}
			if len(r.Annotations) > 0 {
				annotations := make([]store.Annotation, 0, len(r.Annotations))
				for _, a := range r.Annotations {
					annotations = append(annotations, store.Annotation{
						ChapterID:  ch.ID,
						SourceText: a.Src,
						TargetText: a.Tgt,
						Note:       a.Note,
					})
				}
				if err := s.store.ReplaceAnnotations(ctx, ch.ID, annotations); err != nil {
					log.Printf("app: replace annotations %s: %v", ch.ID, err)
				}
			}
			touched = append(touched, ch.ID)
			s.reindexChapter(ctx, ch.ID)
		case r.Status != "" && r.Status != ch.Status && !(r.Status == "translated" && ch.Status == "translated"):
			// Status regressions are mirrored honestly, e.g. a sample
			// excerpt reset to pending by a full run.
			if err := s.store.UpdateChapterStatus(ctx, ch.ID, r.Status); err != nil {
				log.Printf("app: update status %s: %v", ch.ID, err)
			}
		}
	}
	s.invalidateRender(ctx, touched...)
	return nil
}

// ── Polling plumbing ────────────────────────────────────────────────────

func (s *Service) startPolling(projectID string) {
	if s.poller == nil {
		return
	}
	s.poller.Start(context.Background(), projectID)
}

func (s *Service) setFeedback(projectID, feedback string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if feedback == "" {
		delete(s.feedback, projectID)
		return
	}
	s.feedback[projectID] = feedback
}

// revertPhase restores the stored phase after a backend call fails, so a
// rejected action leaves the project where it was.
func (s *Service) revertPhase(ctx context.Context, project store.Project) {
	if err := s.store.UpdateProjectPhase(ctx, project.ID, project.Phase, project.ErrorMessage); err != nil {
		log.Printf("app: revert phase %s: %v", project.ID, err)
	}
}
